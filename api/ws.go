package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/afom12/Taskflow/domain"
	"github.com/afom12/Taskflow/internal/metrics"
)

// wsConn is one authenticated realtime connection. The identity is fixed at
// the handshake and never taken from message payloads.
type wsConn struct {
	id      string
	ident   domain.Identity
	ws      *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	logger  *log.Logger
	metrics *metrics.Realtime

	closeOnce sync.Once
	closed    chan struct{}
}

func newWSConn(ws *websocket.Conn, ident domain.Identity, cfg WSConfig, logger *log.Logger, m *metrics.Realtime) *wsConn {
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	return &wsConn{
		id:      uuid.NewString(),
		ident:   ident,
		ws:      ws,
		send:    make(chan []byte, cfg.SendBuffer),
		limiter: limiter,
		logger:  logger,
		metrics: m,
		closed:  make(chan struct{}),
	}
}

func (c *wsConn) Identity() domain.Identity { return c.ident }

// Send queues frame for the writer. A full queue means the peer is not
// keeping up; the connection is closed so the client resyncs on reconnect.
func (c *wsConn) Send(frame []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	case <-c.closed:
		return false
	default:
		c.metrics.SlowConsumer()
		c.logger.WithFields(log.Fields{"conn": c.id, "user": c.ident.UserID}).Warn("outbound queue full, closing slow consumer")
		go c.close(websocket.StatusPolicyViolation, "slow consumer")
		return false
	}
}

func (c *wsConn) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close(code, reason)
	})
}

func (c *wsConn) sendError(message string) {
	c.Send(domain.ErrorFrame(message))
}

func (c *wsConn) writeLoop(ctx context.Context, cfg WSConfig) {
	ping := time.NewTicker(cfg.PingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case frame := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, cfg.WriteTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				c.logger.WithError(err).WithField("conn", c.id).Debug("write failed")
				c.close(websocket.StatusInternalError, "write failed")
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, cfg.WriteTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				c.close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}

// readLoop handles inbound frames one at a time until the connection ends.
func (c *wsConn) readLoop(ctx context.Context, d *dispatcher) error {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			c.sendError("unsupported message type")
			continue
		}
		if c.limiter != nil && !c.limiter.Allow() {
			c.sendError("rate limit exceeded")
			continue
		}
		d.dispatch(ctx, c, data)
	}
}

func serveWebSocket(svc Services, d *dispatcher) echo.HandlerFunc {
	cfg := svc.WS
	return func(c echo.Context) error {
		ident, err := svc.Auth.IdentityFromAuthHeader(authHeaderFromRequest(c.Request()))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		if svc.Directory != nil {
			if err := svc.Directory.Remember(c.Request().Context(), ident); err != nil {
				svc.Logger.WithError(err).WithField("user", ident.UserID).Warn("remember display name")
			}
		}

		ws, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{OriginPatterns: cfg.OriginPatterns})
		if err != nil {
			svc.Logger.WithError(err).Debug("websocket accept failed")
			return nil
		}
		ws.SetReadLimit(cfg.MaxMessageBytes)
		svc.Metrics.ConnectionAccepted()

		conn := newWSConn(ws, ident, cfg, svc.Logger, svc.Metrics)
		logger := svc.Logger.WithFields(log.Fields{"conn": conn.id, "user": ident.UserID})
		logger.Debug("realtime connection opened")

		ctx, cancel := context.WithCancel(c.Request().Context())
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn.writeLoop(ctx, cfg)
		}()

		err = conn.readLoop(ctx, d)
		svc.Rooms.LeaveAll(conn)
		cancel()
		wg.Wait()

		status := websocket.CloseStatus(err)
		if status == -1 && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Debug("realtime connection dropped")
		}
		conn.close(websocket.StatusNormalClosure, "")
		logger.WithField("status", status).Debug("realtime connection closed")
		return nil
	}
}
