package client

import (
	"sync"

	"github.com/afom12/Taskflow/domain"
)

// BoardState is the client's copy of one board. It is a cache: every
// broadcast from the server overwrites it.
type BoardState struct {
	mu      sync.RWMutex
	view    domain.BoardView
	loaded  bool
	updates chan struct{}
}

func NewBoardState() *BoardState {
	return &BoardState{updates: make(chan struct{}, 1)}
}

// Board returns a copy of the current board and whether one is loaded.
func (s *BoardState) Board() (domain.BoardView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	view := s.view
	view.Board = s.view.Board.Clone()
	view.Members = append([]domain.Member(nil), s.view.Members...)
	return view, s.loaded
}

// Reconcile replaces the local board wholesale with the authoritative one.
func (s *BoardState) Reconcile(view domain.BoardView) {
	s.mu.Lock()
	s.view = view
	s.view.Board = view.Board.Clone()
	s.loaded = true
	s.mu.Unlock()
	s.notify()
}

// applyLocal overwrites only the board content, keeping the resolved names.
func (s *BoardState) applyLocal(board domain.Board) {
	s.mu.Lock()
	s.view.Board = board.Clone()
	s.loaded = true
	s.mu.Unlock()
	s.notify()
}

// Updates signals after every change. Signals coalesce.
func (s *BoardState) Updates() <-chan struct{} { return s.updates }

func (s *BoardState) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}
