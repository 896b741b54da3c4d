// Package room tracks which live connections are subscribed to which board
// and fans board updates out to them.
package room

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/afom12/Taskflow/domain"
)

// Conn is a live connection that can be subscribed to board rooms.
type Conn interface {
	Identity() domain.Identity
	// Send queues a frame without blocking and reports whether it was accepted.
	Send(frame []byte) bool
}

// BoardLoader reads the authoritative board.
type BoardLoader interface {
	LoadBoard(ctx context.Context, boardID string) (domain.Board, error)
}

// Manager maps board ids to the connections joined to them.
type Manager struct {
	loader BoardLoader
	logger *log.Logger

	mu     sync.RWMutex
	rooms  map[string]map[Conn]struct{}
	joined map[Conn]map[string]struct{}
}

func NewManager(loader BoardLoader, logger *log.Logger) *Manager {
	return &Manager{
		loader: loader,
		logger: logger,
		rooms:  make(map[string]map[Conn]struct{}),
		joined: make(map[Conn]map[string]struct{}),
	}
}

// Join admits conn to the board room when its identity is the owner or a
// member of the board as currently stored. Membership is read fresh on every
// call. On error the connection is not registered.
func (m *Manager) Join(ctx context.Context, conn Conn, boardID string) error {
	board, err := m.loader.LoadBoard(ctx, boardID)
	if err != nil {
		return fmt.Errorf("join %s: %w", boardID, err)
	}
	ident := conn.Identity()
	if !board.HasAccess(ident.UserID) {
		m.logger.WithFields(log.Fields{"board": boardID, "user": ident.UserID}).Warn("join rejected: not a member")
		return fmt.Errorf("join %s: %w", boardID, domain.ErrForbidden)
	}

	m.mu.Lock()
	members, ok := m.rooms[boardID]
	if !ok {
		members = make(map[Conn]struct{})
		m.rooms[boardID] = members
	}
	members[conn] = struct{}{}
	boards, ok := m.joined[conn]
	if !ok {
		boards = make(map[string]struct{})
		m.joined[conn] = boards
	}
	boards[boardID] = struct{}{}
	m.mu.Unlock()

	m.logger.WithFields(log.Fields{"board": boardID, "user": ident.UserID}).Debug("joined board")
	return nil
}

// Leave removes conn from the board room. It is a no-op when conn is not joined.
func (m *Manager) Leave(conn Conn, boardID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(conn, boardID)
}

// LeaveAll removes conn from every room it joined.
func (m *Manager) LeaveAll(conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for boardID := range m.joined[conn] {
		m.removeLocked(conn, boardID)
	}
	delete(m.joined, conn)
}

func (m *Manager) removeLocked(conn Conn, boardID string) {
	if members, ok := m.rooms[boardID]; ok {
		delete(members, conn)
		if len(members) == 0 {
			delete(m.rooms, boardID)
		}
	}
	if boards, ok := m.joined[conn]; ok {
		delete(boards, boardID)
		if len(boards) == 0 {
			delete(m.joined, conn)
		}
	}
}

// Publish sends frame to every connection joined to boardID and returns the
// number of connections that accepted it.
func (m *Manager) Publish(boardID string, frame []byte) int {
	m.mu.RLock()
	targets := make([]Conn, 0, len(m.rooms[boardID]))
	for conn := range m.rooms[boardID] {
		targets = append(targets, conn)
	}
	m.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if conn.Send(frame) {
			delivered++
		}
	}
	return delivered
}

// Rooms returns the number of boards with at least one joined connection.
func (m *Manager) Rooms() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// Connections returns the number of connections joined to at least one board.
func (m *Manager) Connections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.joined)
}

// Members returns the number of connections joined to boardID.
func (m *Manager) Members(boardID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[boardID])
}

// IsJoined reports whether conn is joined to boardID.
func (m *Manager) IsJoined(conn Conn, boardID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[boardID][conn]
	return ok
}
