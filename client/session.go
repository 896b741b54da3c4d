package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	log "github.com/sirupsen/logrus"

	"github.com/afom12/Taskflow/domain"
)

// ErrNotConnected is returned when a live send is attempted without a connection.
var ErrNotConnected = errors.New("live connection not available")

// Session is a live connection to the realtime endpoint.
type Session struct {
	conn   *websocket.Conn
	state  *BoardState
	logger *log.Logger

	connected atomic.Bool
	joined    chan string
	errs      chan string
}

// Dial opens a live connection authenticated with token. Broadcasts received
// by Run are reconciled into state.
func Dial(ctx context.Context, url, token string, state *BoardState, logger *log.Logger) (*Session, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	s := &Session{
		conn:   conn,
		state:  state,
		logger: logger,
		joined: make(chan string, 8),
		errs:   make(chan string, 8),
	}
	s.connected.Store(true)
	return s, nil
}

// Connected reports whether the live channel is usable.
func (s *Session) Connected() bool {
	return s != nil && s.connected.Load()
}

// Joined delivers the board id of every acknowledged join.
func (s *Session) Joined() <-chan string { return s.joined }

// Errors delivers error messages the server sent for this connection's requests.
func (s *Session) Errors() <-chan string { return s.errs }

func (s *Session) Join(ctx context.Context, boardID string) error {
	return s.send(ctx, domain.TypeJoinBoard, domain.JoinBoard{BoardID: boardID})
}

func (s *Session) Leave(ctx context.Context, boardID string) error {
	return s.send(ctx, domain.TypeLeaveBoard, domain.LeaveBoard{BoardID: boardID})
}

func (s *Session) SendMove(ctx context.Context, mv domain.CardMove) error {
	return s.send(ctx, domain.TypeCardMoved, mv)
}

func (s *Session) SendUpdate(ctx context.Context, upd domain.BoardUpdate) error {
	return s.send(ctx, domain.TypeBoardUpdate, upd)
}

func (s *Session) send(ctx context.Context, msgType string, data any) error {
	if !s.Connected() {
		return ErrNotConnected
	}
	raw, err := sonic.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msgType, err)
	}
	if err := wsjson.Write(ctx, s.conn, domain.Envelope{Type: msgType, Data: raw}); err != nil {
		s.connected.Store(false)
		return fmt.Errorf("send %s: %w", msgType, err)
	}
	return nil
}

// Run reads frames until the connection ends or ctx is done.
func (s *Session) Run(ctx context.Context) error {
	defer s.connected.Store(false)
	for {
		var env domain.Envelope
		if err := wsjson.Read(ctx, s.conn, &env); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}
		switch env.Type {
		case domain.TypeBoardUpdated:
			var view domain.BoardView
			if err := sonic.Unmarshal(env.Data, &view); err != nil {
				s.logger.WithError(err).Warn("discarding malformed board update")
				continue
			}
			s.state.Reconcile(view)
		case domain.TypeJoinedBoard:
			var ack domain.JoinedBoard
			if err := sonic.Unmarshal(env.Data, &ack); err == nil {
				deliver(s.joined, ack.BoardID)
			}
		case domain.TypeError:
			var msg domain.ErrorMessage
			if err := sonic.Unmarshal(env.Data, &msg); err == nil {
				s.logger.WithField("message", msg.Message).Debug("server rejected request")
				deliver(s.errs, msg.Message)
			}
		default:
			s.logger.WithField("type", env.Type).Debug("ignoring unknown frame")
		}
	}
}

func (s *Session) Close() error {
	s.connected.Store(false)
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

func deliver(ch chan string, v string) {
	select {
	case ch <- v:
	default:
	}
}
