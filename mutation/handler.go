// Package mutation applies board edits against the board store and hands the
// resulting authoritative board to the broadcaster.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/afom12/Taskflow/domain"
	"github.com/afom12/Taskflow/internal/metrics"
	"github.com/afom12/Taskflow/room"
)

const tracerName = "taskflow/mutation"

// Store is the part of the board store mutations need.
type Store interface {
	LoadBoard(ctx context.Context, boardID string) (domain.Board, error)
	ReplaceBoard(ctx context.Context, board domain.Board) (domain.Board, error)
}

// Directory resolves display names for board views.
type Directory interface {
	DisplayNames(ctx context.Context, userIDs []string) (map[string]string, error)
}

// EventPublisher receives completed mutations. Publish must not block for long.
type EventPublisher interface {
	Publish(ev domain.BoardEvent) bool
}

// Handler runs Replace and Move.
type Handler struct {
	store       Store
	directory   Directory
	broadcaster room.Broadcaster
	events      EventPublisher
	logger      *log.Logger
	metrics     *metrics.Realtime
	maxAttempts int
	now         func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

func WithEvents(p EventPublisher) Option { return func(h *Handler) { h.events = p } }

func WithMetrics(m *metrics.Realtime) Option { return func(h *Handler) { h.metrics = m } }

// WithMaxAttempts bounds how often a Move or member add is re-applied after a
// version conflict.
func WithMaxAttempts(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxAttempts = n
		}
	}
}

func NewHandler(store Store, directory Directory, broadcaster room.Broadcaster, logger *log.Logger, opts ...Option) *Handler {
	h := &Handler{
		store:       store,
		directory:   directory,
		broadcaster: broadcaster,
		logger:      logger,
		maxAttempts: 5,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// Replace overwrites the board's columns (and title/description when given)
// with the supplied ones. The write is checked against baseVersion when given,
// otherwise against the version read here. Any intervening change fails the
// call with ErrVersionConflict; the columns are never written over a newer
// document.
func (h *Handler) Replace(ctx context.Context, ident domain.Identity, req domain.BoardUpdate) (view domain.BoardView, err error) {
	ctx, span := tracer().Start(ctx, "mutation.replace", trace.WithAttributes(
		attribute.String("board.id", req.BoardID),
		attribute.String("user.id", ident.UserID),
	))
	defer func() { endSpan(span, err) }()

	board, err := h.load(ctx, req.BoardID)
	if err != nil {
		return domain.BoardView{}, err
	}
	if !board.HasAccess(ident.UserID) {
		return domain.BoardView{}, domain.ErrForbidden
	}
	if req.BaseVersion != nil && *req.BaseVersion != board.Version {
		h.metrics.Conflict("replace")
		return domain.BoardView{}, domain.ErrVersionConflict
	}

	next := board.Clone()
	next.Columns = domain.AssignIDs(domain.CloneColumns(req.Updates.Columns))
	if req.Updates.Title != nil {
		next.Title = *req.Updates.Title
	}
	if req.Updates.Description != nil {
		next.Description = *req.Updates.Description
	}

	saved, err := h.store.ReplaceBoard(ctx, next)
	if err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			h.metrics.Conflict("replace")
			h.logger.WithFields(log.Fields{"board": req.BoardID, "user": ident.UserID}).Debug("replace lost a race")
		}
		return domain.BoardView{}, err
	}

	h.publishEvent(domain.EventBoardReplaced, saved, ident)
	return h.Broadcast(ctx, saved.ID)
}

// Move relocates one card. Missing board, column or card aborts without a
// write or broadcast and returns a not-found error.
func (h *Handler) Move(ctx context.Context, ident domain.Identity, req domain.CardMove) (view domain.BoardView, err error) {
	ctx, span := tracer().Start(ctx, "mutation.move", trace.WithAttributes(
		attribute.String("board.id", req.BoardID),
		attribute.String("card.id", req.CardID),
		attribute.String("user.id", ident.UserID),
	))
	defer func() {
		if domain.IsNotFound(err) {
			span.SetAttributes(attribute.Bool("mutation.noop", true))
			span.End()
			return
		}
		endSpan(span, err)
	}()

	var saved domain.Board
	for attempt := 1; ; attempt++ {
		board, err := h.load(ctx, req.BoardID)
		if err != nil {
			return domain.BoardView{}, err
		}
		if !board.HasAccess(ident.UserID) {
			return domain.BoardView{}, domain.ErrForbidden
		}
		columns, err := domain.MoveCard(board.Columns, req.CardID, req.SourceColumnID, req.DestColumnID, req.NewPosition)
		if err != nil {
			h.logger.WithFields(log.Fields{"board": req.BoardID, "card": req.CardID}).WithError(err).Debug("move aborted")
			return domain.BoardView{}, err
		}
		board.Columns = columns

		saved, err = h.store.ReplaceBoard(ctx, board)
		if err == nil {
			span.SetAttributes(attribute.Int("mutation.attempts", attempt))
			break
		}
		if errors.Is(err, domain.ErrVersionConflict) {
			h.metrics.Conflict("move")
			if attempt < h.maxAttempts {
				h.logger.WithFields(log.Fields{"board": req.BoardID, "attempt": attempt}).Debug("move conflict, retrying")
				continue
			}
		}
		return domain.BoardView{}, err
	}

	h.publishEvent(domain.EventCardMoved, saved, ident)
	return h.Broadcast(ctx, saved.ID)
}

// AddMember grants userID access to the board. Only the owner may add
// members; adding an existing member or the owner changes nothing.
func (h *Handler) AddMember(ctx context.Context, ident domain.Identity, boardID, userID string) (view domain.BoardView, err error) {
	ctx, span := tracer().Start(ctx, "mutation.add_member", trace.WithAttributes(
		attribute.String("board.id", boardID),
		attribute.String("user.id", ident.UserID),
	))
	defer func() { endSpan(span, err) }()

	for attempt := 1; ; attempt++ {
		board, err := h.load(ctx, boardID)
		if err != nil {
			return domain.BoardView{}, err
		}
		if !board.IsOwner(ident.UserID) {
			return domain.BoardView{}, domain.ErrForbidden
		}
		if board.HasAccess(userID) {
			return h.View(ctx, board), nil
		}
		board.MemberIDs = append(board.MemberIDs, userID)
		saved, err := h.store.ReplaceBoard(ctx, board)
		if err == nil {
			h.publishEvent(domain.EventMemberAdded, saved, ident)
			return h.Broadcast(ctx, saved.ID)
		}
		if errors.Is(err, domain.ErrVersionConflict) {
			h.metrics.Conflict("add_member")
			if attempt < h.maxAttempts {
				continue
			}
		}
		return domain.BoardView{}, err
	}
}

// Broadcast re-reads the board, expands it and publishes it to the room.
// A failed publish is logged and does not fail the call.
func (h *Handler) Broadcast(ctx context.Context, boardID string) (domain.BoardView, error) {
	board, err := h.load(ctx, boardID)
	if err != nil {
		return domain.BoardView{}, err
	}
	view := h.View(ctx, board)
	if err := h.broadcaster.Publish(ctx, view); err != nil {
		h.logger.WithError(err).WithField("board", boardID).Error("broadcast failed")
	}
	return view, nil
}

// View expands owner and members into id/name pairs. Unknown names fall back to the id.
func (h *Handler) View(ctx context.Context, board domain.Board) domain.BoardView {
	ids := make([]string, 0, len(board.MemberIDs)+1)
	ids = append(ids, board.OwnerID)
	ids = append(ids, board.MemberIDs...)

	names := map[string]string{}
	if h.directory != nil {
		resolved, err := h.directory.DisplayNames(ctx, ids)
		if err != nil {
			h.logger.WithError(err).WithField("board", board.ID).Warn("resolve display names")
		} else {
			names = resolved
		}
	}
	member := func(id string) domain.Member {
		name := names[id]
		if name == "" {
			name = id
		}
		return domain.Member{ID: id, Name: name}
	}

	view := domain.BoardView{Board: board, Owner: member(board.OwnerID), Members: make([]domain.Member, 0, len(board.MemberIDs))}
	for _, id := range board.MemberIDs {
		view.Members = append(view.Members, member(id))
	}
	return view
}

// PublishEvent records a mutation performed outside Replace and Move.
func (h *Handler) PublishEvent(eventType string, board domain.Board, ident domain.Identity) {
	h.publishEvent(eventType, board, ident)
}

func (h *Handler) publishEvent(eventType string, board domain.Board, ident domain.Identity) {
	if h.events == nil {
		return
	}
	h.events.Publish(domain.BoardEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		BoardID:   board.ID,
		UserID:    ident.UserID,
		Version:   board.Version,
		Timestamp: h.now().UnixMilli(),
	})
}

func (h *Handler) load(ctx context.Context, boardID string) (domain.Board, error) {
	board, err := h.store.LoadBoard(ctx, boardID)
	if err == nil {
		return board, nil
	}
	var perr *domain.PersistenceError
	if errors.Is(err, domain.ErrBoardNotFound) || errors.As(err, &perr) {
		return domain.Board{}, err
	}
	return domain.Board{}, &domain.PersistenceError{Op: "load", Err: fmt.Errorf("board %s: %w", boardID, err)}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
