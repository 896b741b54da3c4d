package api

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/afom12/Taskflow/domain"
	"github.com/afom12/Taskflow/internal/metrics"
)

// dispatcher routes inbound realtime messages.
type dispatcher struct {
	rooms   Rooms
	mutator Mutator
	deduper Deduper
	logger  *log.Logger
	metrics *metrics.Realtime
	timeout time.Duration
}

func (d *dispatcher) dispatch(ctx context.Context, c *wsConn, frame []byte) {
	m, ctx := newMessageMetrics(ctx, d.logger, d.metrics, c.ident.UserID)
	var err error
	defer func() { m.Finish(err) }()

	decodeStart := time.Now()
	env, err := domain.DecodeEnvelope(frame)
	if err != nil {
		m.SetErrorStage("decode")
		m.SetOutcome(outcomeRejected)
		c.sendError(domain.UserMessage("Invalid message", err))
		return
	}
	m.SetType(env.Type)

	handleStart := time.Now()
	switch env.Type {
	case domain.TypeJoinBoard:
		var req domain.JoinBoard
		if err = domain.DecodeStrict(env.Data, &req); err != nil {
			break
		}
		m.ObserveDecode(time.Since(decodeStart))
		m.SetBoard(req.BoardID)
		if err = d.rooms.Join(ctx, c, req.BoardID); err != nil {
			m.SetErrorStage("join")
			break
		}
		ack, encErr := domain.EncodeMessage(domain.TypeJoinedBoard, domain.JoinedBoard{BoardID: req.BoardID})
		if encErr != nil {
			err = encErr
			break
		}
		c.Send(ack)

	case domain.TypeLeaveBoard:
		var req domain.LeaveBoard
		if err = domain.DecodeStrict(env.Data, &req); err != nil {
			break
		}
		m.ObserveDecode(time.Since(decodeStart))
		m.SetBoard(req.BoardID)
		d.rooms.Leave(c, req.BoardID)

	case domain.TypeBoardUpdate:
		var req domain.BoardUpdate
		if err = domain.DecodeStrict(env.Data, &req); err != nil {
			break
		}
		m.ObserveDecode(time.Since(decodeStart))
		m.SetBoard(req.BoardID)
		err = d.mutate(ctx, c, m, req.RequestID, func(mctx context.Context) error {
			_, err := d.mutator.Replace(mctx, c.ident, req)
			return err
		})

	case domain.TypeCardMoved:
		var req domain.CardMove
		if err = domain.DecodeStrict(env.Data, &req); err != nil {
			break
		}
		m.ObserveDecode(time.Since(decodeStart))
		m.SetBoard(req.BoardID)
		err = d.mutate(ctx, c, m, req.RequestID, func(mctx context.Context) error {
			_, err := d.mutator.Move(mctx, c.ident, req)
			return err
		})

	default:
		err = &domain.ValidationError{Field: "type", Reason: "unknown message type " + env.Type}
	}
	m.ObserveHandle(time.Since(handleStart))

	if err == nil {
		return
	}
	outcome, message := classify(env.Type, err)
	m.SetOutcome(outcome)
	if message != "" {
		c.sendError(message)
	}
}

// mutate runs fn on a context detached from the connection so a mutation that
// has started completes and is broadcast even if the sender disconnects.
func (d *dispatcher) mutate(ctx context.Context, c *wsConn, m *messageMetrics, requestID string, fn func(context.Context) error) error {
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	if requestID != "" && d.deduper != nil {
		added, err := d.deduper.Add(mctx, c.ident.UserID, requestID)
		switch {
		case err != nil:
			d.logger.WithError(err).WithField("request", requestID).Warn("dedupe unavailable, processing anyway")
		case !added:
			m.SetOutcome(outcomeIgnored)
			m.SetErrorStage("duplicate")
			return nil
		}
	}

	err := fn(mctx)
	if err != nil {
		m.SetErrorStage("mutation")
		if requestID != "" && d.deduper != nil {
			if rerr := d.deduper.Remove(mctx, c.ident.UserID, requestID); rerr != nil {
				d.logger.WithError(rerr).WithField("request", requestID).Error("dedupe rollback failed")
			}
		}
	}
	return err
}

// classify maps a failure to a message outcome and the text sent to the
// sender. An empty text means nothing is sent.
func classify(msgType string, err error) (string, string) {
	var verr *domain.ValidationError
	switch msgType {
	case domain.TypeCardMoved:
		if domain.IsNotFound(err) {
			return outcomeIgnored, ""
		}
		return outcomeFor(err), domain.UserMessage("Failed to move card", err)
	case domain.TypeBoardUpdate:
		return outcomeFor(err), domain.UserMessage("Failed to update board", err)
	case domain.TypeJoinBoard:
		return outcomeFor(err), domain.UserMessage("Failed to join board", err)
	case domain.TypeLeaveBoard:
		return outcomeRejected, domain.UserMessage("Failed to leave board", err)
	}
	if errors.As(err, &verr) {
		return outcomeRejected, domain.UserMessage("Invalid message", err)
	}
	return outcomeError, domain.UserMessage("Invalid message", err)
}

func outcomeFor(err error) string {
	var perr *domain.PersistenceError
	if errors.As(err, &perr) {
		return outcomeError
	}
	return outcomeRejected
}
