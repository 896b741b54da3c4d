package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/afom12/Taskflow/domain"
	"github.com/afom12/Taskflow/internal/metrics"
)

const maxBodySize = 1 << 20

// Services are the dependencies of the HTTP and realtime handlers.
type Services struct {
	Store     Storage
	Auth      Authenticator
	Rooms     Rooms
	Mutator   Mutator
	Directory Directory
	Deduper   Deduper
	Logger    *log.Logger
	Metrics   *metrics.Realtime
	WS        WSConfig
}

// Register wires up all routes on the provided Echo instance.
func Register(e *echo.Echo, svc Services) {
	svc.WS.applyDefaults()
	d := &dispatcher{
		rooms:   svc.Rooms,
		mutator: svc.Mutator,
		deduper: svc.Deduper,
		logger:  svc.Logger,
		metrics: svc.Metrics,
		timeout: svc.WS.MutationTimeout,
	}

	e.GET("/ws", serveWebSocket(svc, d))
	e.GET("/api/boards", listBoards(svc))
	e.POST("/api/boards", createBoard(svc))
	e.GET("/api/boards/:id", getBoard(svc))
	e.PUT("/api/boards/:id", putBoard(svc))
	e.DELETE("/api/boards/:id", deleteBoard(svc))
	e.POST("/api/boards/:id/members", addMember(svc))
	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

type createBoardRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Columns     []domain.Column `json:"columns,omitempty" validate:"omitempty,dive"`
}

type putBoardRequest struct {
	Title       *string         `json:"title,omitempty"`
	Description *string         `json:"description,omitempty"`
	Columns     []domain.Column `json:"columns"`
	BaseVersion *int64          `json:"baseVersion,omitempty"`
}

type addMemberRequest struct {
	UserID string `json:"userId" validate:"required"`
}

// authenticate verifies the caller and records the display name.
func authenticate(c echo.Context, svc Services) (domain.Identity, error) {
	ident, err := svc.Auth.IdentityFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return domain.Identity{}, err
	}
	if svc.Directory != nil {
		if err := svc.Directory.Remember(c.Request().Context(), ident); err != nil {
			svc.Logger.WithError(err).WithField("user", ident.UserID).Warn("remember display name")
		}
	}
	return ident, nil
}

func readBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodySize))
	if err != nil {
		return nil, &domain.ValidationError{Reason: "unreadable body"}
	}
	return body, nil
}

func decodeBody(c echo.Context, v any) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}
	return domain.DecodeStrict(body, v)
}

func errorStatus(err error) int {
	var verr *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrVersionConflict):
		return http.StatusConflict
	case errors.As(err, &verr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c echo.Context, svc Services, err error) error {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		svc.Logger.WithError(err).WithFields(log.Fields{"path": c.Path(), "method": c.Request().Method}).Error("request failed")
		return c.String(status, "internal error")
	}
	return c.String(status, err.Error())
}

func listBoards(svc Services) echo.HandlerFunc {
	return func(c echo.Context) error {
		ident, err := authenticate(c, svc)
		if err != nil {
			return respondError(c, svc, err)
		}
		boards, err := svc.Store.ListBoards(c.Request().Context(), ident.UserID)
		if err != nil {
			return respondError(c, svc, err)
		}
		views := make([]domain.BoardView, 0, len(boards))
		for _, b := range boards {
			views = append(views, svc.Mutator.View(c.Request().Context(), b))
		}
		return c.JSON(http.StatusOK, views)
	}
}

func createBoard(svc Services) echo.HandlerFunc {
	return func(c echo.Context) error {
		ident, err := authenticate(c, svc)
		if err != nil {
			return respondError(c, svc, err)
		}
		body, err := readBody(c)
		if err != nil {
			return respondError(c, svc, err)
		}
		var req createBoardRequest
		if len(body) > 0 {
			if err := domain.DecodeStrict(body, &req); err != nil {
				return respondError(c, svc, err)
			}
		}
		board := domain.NewBoard(uuid.NewString(), ident.UserID, req.Title, req.Description, time.Now().UTC())
		if req.Columns != nil {
			board.Columns = domain.AssignIDs(req.Columns)
		}
		created, err := svc.Store.CreateBoard(c.Request().Context(), board)
		if err != nil {
			return respondError(c, svc, err)
		}
		svc.Mutator.PublishEvent(domain.EventBoardCreated, created, ident)
		return c.JSON(http.StatusCreated, svc.Mutator.View(c.Request().Context(), created))
	}
}

func getBoard(svc Services) echo.HandlerFunc {
	return func(c echo.Context) error {
		ident, err := authenticate(c, svc)
		if err != nil {
			return respondError(c, svc, err)
		}
		board, err := svc.Store.LoadBoard(c.Request().Context(), c.Param("id"))
		if err != nil {
			return respondError(c, svc, err)
		}
		if !board.HasAccess(ident.UserID) {
			return respondError(c, svc, domain.ErrBoardNotFound)
		}
		return c.JSON(http.StatusOK, svc.Mutator.View(c.Request().Context(), board))
	}
}

// putBoard is the fallback path for clients without a live connection. It is
// a Replace and is broadcast to live rooms like one.
func putBoard(svc Services) echo.HandlerFunc {
	return func(c echo.Context) error {
		ident, err := authenticate(c, svc)
		if err != nil {
			return respondError(c, svc, err)
		}
		var req putBoardRequest
		if err := decodeBody(c, &req); err != nil {
			return respondError(c, svc, err)
		}
		update := domain.BoardUpdate{
			BoardID:     c.Param("id"),
			BaseVersion: req.BaseVersion,
			Updates:     domain.BoardPatch{Title: req.Title, Description: req.Description, Columns: req.Columns},
		}
		if err := domain.Validate(&update); err != nil {
			return respondError(c, svc, err)
		}
		view, err := svc.Mutator.Replace(c.Request().Context(), ident, update)
		if err != nil {
			return respondError(c, svc, err)
		}
		return c.JSON(http.StatusOK, view)
	}
}

func deleteBoard(svc Services) echo.HandlerFunc {
	return func(c echo.Context) error {
		ident, err := authenticate(c, svc)
		if err != nil {
			return respondError(c, svc, err)
		}
		ctx := c.Request().Context()
		board, err := svc.Store.LoadBoard(ctx, c.Param("id"))
		if err != nil {
			return respondError(c, svc, err)
		}
		if !board.HasAccess(ident.UserID) {
			return respondError(c, svc, domain.ErrBoardNotFound)
		}
		if !board.IsOwner(ident.UserID) {
			return respondError(c, svc, domain.ErrForbidden)
		}
		if err := svc.Store.DeleteBoard(ctx, board.ID); err != nil {
			return respondError(c, svc, err)
		}
		svc.Mutator.PublishEvent(domain.EventBoardDeleted, board, ident)
		return c.NoContent(http.StatusNoContent)
	}
}

func addMember(svc Services) echo.HandlerFunc {
	return func(c echo.Context) error {
		ident, err := authenticate(c, svc)
		if err != nil {
			return respondError(c, svc, err)
		}
		var req addMemberRequest
		if err := decodeBody(c, &req); err != nil {
			return respondError(c, svc, err)
		}
		view, err := svc.Mutator.AddMember(c.Request().Context(), ident, c.Param("id"), req.UserID)
		if err != nil {
			return respondError(c, svc, err)
		}
		return c.JSON(http.StatusOK, view)
	}
}
