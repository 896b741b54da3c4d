package client

import (
	"context"
	"errors"
	"net/http"

	"github.com/afom12/Taskflow/domain"
)

// ErrNoBoard is returned when an edit is attempted before a board is loaded.
var ErrNoBoard = errors.New("no board loaded")

// Editor routes each edit through exactly one path. With a live session the
// request is sent and the local board waits for the broadcast. Without one
// the edit is applied locally first and written through the REST API.
// Every write carries the version the edit was built from, so an edit made
// on an outdated board is rejected instead of overwriting newer changes.
// A failed fallback write is not rolled back; the next broadcast or reload
// corrects the board.
type Editor struct {
	State *BoardState
	Live  *Session
	REST  *RESTClient
}

// Load fetches the board through REST and replaces the local copy.
func (e *Editor) Load(ctx context.Context, boardID string) error {
	view, err := e.REST.GetBoard(ctx, boardID)
	if err != nil {
		return err
	}
	e.State.Reconcile(view)
	return nil
}

// Drop handles a completed drag gesture. Gestures that are not moves are ignored.
func (e *Editor) Drop(ctx context.Context, activeID, overID string) error {
	view, ok := e.State.Board()
	if !ok {
		return ErrNoBoard
	}
	mv, ok := ResolveDrop(view.Board, activeID, overID)
	if !ok {
		return nil
	}
	if e.Live.Connected() {
		return e.Live.SendMove(ctx, mv)
	}

	next, err := ApplyMove(view.Board, mv)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil
		}
		return err
	}
	return e.writeThrough(ctx, next)
}

// Replace submits new columns. Use the helpers in this package to build them.
func (e *Editor) Replace(ctx context.Context, columns []domain.Column) error {
	view, ok := e.State.Board()
	if !ok {
		return ErrNoBoard
	}
	if e.Live.Connected() {
		base := view.Version
		return e.Live.SendUpdate(ctx, domain.BoardUpdate{
			BoardID:     view.ID,
			Updates:     domain.BoardPatch{Columns: columns},
			BaseVersion: &base,
		})
	}
	next := view.Board.Clone()
	next.Columns = domain.CloneColumns(columns)
	return e.writeThrough(ctx, next)
}

// writeThrough applies next locally and saves it against the version it was
// built from. When someone else saved first the authoritative board is
// reloaded and the conflict returned.
func (e *Editor) writeThrough(ctx context.Context, next domain.Board) error {
	e.State.applyLocal(next)
	base := next.Version
	saved, err := e.REST.PutBoard(ctx, next.ID, domain.BoardPatch{Columns: next.Columns}, &base)
	if err != nil {
		var serr *StatusError
		if errors.As(err, &serr) && serr.Code == http.StatusConflict {
			if lerr := e.Load(ctx, next.ID); lerr != nil {
				return errors.Join(err, lerr)
			}
		}
		return err
	}
	e.State.Reconcile(saved)
	return nil
}
