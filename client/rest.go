package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/bytedance/sonic"

	"github.com/afom12/Taskflow/domain"
)

// StatusError is a non-2xx response from the board API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// RESTClient talks to the board REST API.
type RESTClient struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client
}

func NewRESTClient(baseURL, bearer string) *RESTClient {
	return &RESTClient{BaseURL: baseURL, Bearer: bearer, HTTP: &http.Client{}}
}

type putBoardBody struct {
	Title       *string         `json:"title,omitempty"`
	Description *string         `json:"description,omitempty"`
	Columns     []domain.Column `json:"columns"`
	BaseVersion *int64          `json:"baseVersion,omitempty"`
}

type createBoardBody struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

func (c *RESTClient) ListBoards(ctx context.Context) ([]domain.BoardView, error) {
	var out []domain.BoardView
	err := c.do(ctx, http.MethodGet, "/api/boards", nil, &out)
	return out, err
}

func (c *RESTClient) CreateBoard(ctx context.Context, title, description string) (domain.BoardView, error) {
	var out domain.BoardView
	err := c.do(ctx, http.MethodPost, "/api/boards", createBoardBody{Title: title, Description: description}, &out)
	return out, err
}

func (c *RESTClient) GetBoard(ctx context.Context, boardID string) (domain.BoardView, error) {
	var out domain.BoardView
	err := c.do(ctx, http.MethodGet, "/api/boards/"+boardID, nil, &out)
	return out, err
}

// PutBoard replaces the board's columns. baseVersion may be nil.
func (c *RESTClient) PutBoard(ctx context.Context, boardID string, patch domain.BoardPatch, baseVersion *int64) (domain.BoardView, error) {
	var out domain.BoardView
	body := putBoardBody{Title: patch.Title, Description: patch.Description, Columns: patch.Columns, BaseVersion: baseVersion}
	err := c.do(ctx, http.MethodPut, "/api/boards/"+boardID, body, &out)
	return out, err
}

func (c *RESTClient) AddMember(ctx context.Context, boardID, userID string) (domain.BoardView, error) {
	var out domain.BoardView
	err := c.do(ctx, http.MethodPost, "/api/boards/"+boardID+"/members", map[string]string{"userId": userID}, &out)
	return out, err
}

func (c *RESTClient) DeleteBoard(ctx context.Context, boardID string) error {
	return c.do(ctx, http.MethodDelete, "/api/boards/"+boardID, nil, nil)
}

func (c *RESTClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := sonic.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return sonic.Unmarshal(data, out)
}
