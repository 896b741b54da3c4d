package storage

import (
	"context"
	"sync"
	"time"

	"github.com/afom12/Taskflow/domain"
)

// MemoryStore keeps boards in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	boards map[string]domain.Board
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{boards: make(map[string]domain.Board), now: func() time.Time { return time.Now().UTC() }}
}

func (s *MemoryStore) LoadBoard(_ context.Context, boardID string) (domain.Board, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.boards[boardID]
	if !ok {
		return domain.Board{}, domain.ErrBoardNotFound
	}
	return b.Clone(), nil
}

func (s *MemoryStore) ReplaceBoard(_ context.Context, board domain.Board) (domain.Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.boards[board.ID]
	if !ok {
		return domain.Board{}, domain.ErrBoardNotFound
	}
	if cur.Version != board.Version {
		return domain.Board{}, domain.ErrVersionConflict
	}
	next := board.Clone()
	next.CreatedAt = cur.CreatedAt
	next.Version = cur.Version + 1
	next.UpdatedAt = s.now()
	s.boards[board.ID] = next
	return next.Clone(), nil
}

func (s *MemoryStore) CreateBoard(_ context.Context, board domain.Board) (domain.Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.boards[board.ID]; ok {
		return domain.Board{}, ErrBoardExists
	}
	next := board.Clone()
	if next.Version == 0 {
		next.Version = 1
	}
	s.boards[board.ID] = next
	return next.Clone(), nil
}

func (s *MemoryStore) ListBoards(_ context.Context, userID string) ([]domain.Board, error) {
	s.mu.RLock()
	out := []domain.Board{}
	for _, b := range s.boards {
		if b.HasAccess(userID) {
			out = append(out, b.Clone())
		}
	}
	s.mu.RUnlock()
	sortByUpdated(out)
	return out, nil
}

func (s *MemoryStore) DeleteBoard(_ context.Context, boardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.boards[boardID]; !ok {
		return domain.ErrBoardNotFound
	}
	delete(s.boards, boardID)
	return nil
}
