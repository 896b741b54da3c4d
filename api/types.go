package api

import (
	"context"
	"time"

	"github.com/afom12/Taskflow/domain"
	"github.com/afom12/Taskflow/room"
)

// Storage is the board store as seen by the REST handlers.
type Storage interface {
	LoadBoard(ctx context.Context, boardID string) (domain.Board, error)
	CreateBoard(ctx context.Context, board domain.Board) (domain.Board, error)
	ListBoards(ctx context.Context, userID string) ([]domain.Board, error)
	DeleteBoard(ctx context.Context, boardID string) error
}

// Authenticator turns an Authorization header into a verified identity.
type Authenticator interface {
	IdentityFromAuthHeader(string) (domain.Identity, error)
}

// Mutator applies board edits and publishes the results.
type Mutator interface {
	Replace(ctx context.Context, ident domain.Identity, req domain.BoardUpdate) (domain.BoardView, error)
	Move(ctx context.Context, ident domain.Identity, req domain.CardMove) (domain.BoardView, error)
	AddMember(ctx context.Context, ident domain.Identity, boardID, userID string) (domain.BoardView, error)
	Broadcast(ctx context.Context, boardID string) (domain.BoardView, error)
	View(ctx context.Context, board domain.Board) domain.BoardView
	PublishEvent(eventType string, board domain.Board, ident domain.Identity)
}

// Rooms tracks board subscriptions of live connections.
type Rooms interface {
	Join(ctx context.Context, conn room.Conn, boardID string) error
	Leave(conn room.Conn, boardID string)
	LeaveAll(conn room.Conn)
}

// Directory records display names of authenticated users.
type Directory interface {
	Remember(ctx context.Context, ident domain.Identity) error
}

// Deduper prevents processing of duplicate requests.
type Deduper interface {
	// Add records the request id and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when processing fails.
	Remove(ctx context.Context, userID, key string) error
}

// WSConfig tunes realtime connections.
type WSConfig struct {
	SendBuffer      int
	MaxMessageBytes int64
	RateLimit       float64
	RateBurst       int
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	MutationTimeout time.Duration
	OriginPatterns  []string
}

func (c *WSConfig) applyDefaults() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 1 << 20
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.MutationTimeout <= 0 {
		c.MutationTimeout = 10 * time.Second
	}
}
