// Package storage holds the board store backends and the user directory.
package storage

import (
	"context"
	"errors"
	"sort"

	"github.com/afom12/Taskflow/domain"
)

// BoardStore persists boards as whole documents. ReplaceBoard succeeds only
// when board.Version equals the stored version; the stored version is then
// incremented and the saved board returned.
type BoardStore interface {
	LoadBoard(ctx context.Context, boardID string) (domain.Board, error)
	ReplaceBoard(ctx context.Context, board domain.Board) (domain.Board, error)
	CreateBoard(ctx context.Context, board domain.Board) (domain.Board, error)
	ListBoards(ctx context.Context, userID string) ([]domain.Board, error)
	DeleteBoard(ctx context.Context, boardID string) error
}

// ErrBoardExists is returned by CreateBoard when the id is taken.
var ErrBoardExists = errors.New("board already exists")

// wrap turns driver failures into persistence errors and leaves domain errors alone.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrBoardNotFound) || errors.Is(err, domain.ErrVersionConflict) || errors.Is(err, ErrBoardExists) {
		return err
	}
	var perr *domain.PersistenceError
	if errors.As(err, &perr) {
		return err
	}
	return &domain.PersistenceError{Op: op, Err: err}
}

// sortByUpdated orders boards newest first.
func sortByUpdated(boards []domain.Board) {
	sort.SliceStable(boards, func(i, j int) bool {
		return boards[i].UpdatedAt.After(boards[j].UpdatedAt)
	})
}
