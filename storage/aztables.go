package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
	"unicode/utf16"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"github.com/afom12/Taskflow/domain"
)

const boardPartition = "board"

// TableStore keeps boards as entities in an Azure table. Replace is a
// conditional update on the entity ETag after checking the version column.
type TableStore struct {
	table *aztables.Client
}

type boardEntity struct {
	aztables.Entity
	OwnerID       string `json:"OwnerID"`
	Document      string `json:"Document"`
	Version       int64  `json:"Version,string"`
	VersionType   string `json:"Version@odata.type"`
	UpdatedAtUnix int64  `json:"UpdatedAtUnix,string"`
	UpdatedAtType string `json:"UpdatedAtUnix@odata.type"`
}

const edmInt64 = "Edm.Int64"

// maxDocumentUnits is the Azure Tables limit for one string property:
// 64 KiB, stored as UTF-16.
const maxDocumentUnits = 32 * 1024

// ErrDocumentTooLarge is returned when a board no longer fits in one table
// property.
var ErrDocumentTooLarge = errors.New("board document exceeds the table property limit")

// NewTableStore creates the table client from a storage connection string.
func NewTableStore(connStr, table string) (*TableStore, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &TableStore{table: svc.NewClient(table)}, nil
}

// EnsureTable creates the boards table if it does not exist.
func (s *TableStore) EnsureTable(ctx context.Context) error {
	_, err := s.table.CreateTable(ctx, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists) {
			return nil
		}
		return err
	}
	return nil
}

func (s *TableStore) get(ctx context.Context, boardID string) (domain.Board, azcore.ETag, error) {
	resp, err := s.table.GetEntity(ctx, boardPartition, boardID, nil)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return domain.Board{}, "", domain.ErrBoardNotFound
		}
		return domain.Board{}, "", err
	}
	var ent boardEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Board{}, "", err
	}
	b, err := entityBoard(ent)
	return b, resp.ETag, err
}

func (s *TableStore) LoadBoard(ctx context.Context, boardID string) (domain.Board, error) {
	b, _, err := s.get(ctx, boardID)
	return b, wrap("load", err)
}

func (s *TableStore) ReplaceBoard(ctx context.Context, board domain.Board) (domain.Board, error) {
	cur, etag, err := s.get(ctx, board.ID)
	if err != nil {
		return domain.Board{}, wrap("replace", err)
	}
	if cur.Version != board.Version {
		return domain.Board{}, domain.ErrVersionConflict
	}
	next := board.Clone()
	next.CreatedAt = cur.CreatedAt
	next.Version = cur.Version + 1
	next.UpdatedAt = time.Now().UTC()
	payload, err := boardPayload(next)
	if err != nil {
		return domain.Board{}, wrap("replace", err)
	}
	_, err = s.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
	if err != nil {
		switch statusCode(err) {
		case http.StatusPreconditionFailed:
			return domain.Board{}, domain.ErrVersionConflict
		case http.StatusNotFound:
			return domain.Board{}, domain.ErrBoardNotFound
		}
		return domain.Board{}, wrap("replace", err)
	}
	return next, nil
}

func (s *TableStore) CreateBoard(ctx context.Context, board domain.Board) (domain.Board, error) {
	next := board.Clone()
	if next.Version == 0 {
		next.Version = 1
	}
	payload, err := boardPayload(next)
	if err != nil {
		return domain.Board{}, wrap("create", err)
	}
	if _, err := s.table.AddEntity(ctx, payload, nil); err != nil {
		if statusCode(err) == http.StatusConflict {
			return domain.Board{}, ErrBoardExists
		}
		return domain.Board{}, wrap("create", err)
	}
	return next, nil
}

// ListBoards scans the board partition; membership lives inside the document.
func (s *TableStore) ListBoards(ctx context.Context, userID string) ([]domain.Board, error) {
	filter := "PartitionKey eq '" + boardPartition + "'"
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	out := []domain.Board{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, wrap("list", err)
		}
		for _, raw := range resp.Entities {
			var ent boardEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, wrap("list", err)
			}
			b, err := entityBoard(ent)
			if err != nil {
				return nil, wrap("list", err)
			}
			if b.HasAccess(userID) {
				out = append(out, b)
			}
		}
	}
	sortByUpdated(out)
	return out, nil
}

func (s *TableStore) DeleteBoard(ctx context.Context, boardID string) error {
	if _, err := s.table.DeleteEntity(ctx, boardPartition, boardID, nil); err != nil {
		if statusCode(err) == http.StatusNotFound {
			return domain.ErrBoardNotFound
		}
		return wrap("delete", err)
	}
	return nil
}

func boardPayload(b domain.Board) ([]byte, error) {
	doc, err := encodeBoard(b)
	if err != nil {
		return nil, err
	}
	if documentUnits(doc) > maxDocumentUnits {
		return nil, ErrDocumentTooLarge
	}
	return json.Marshal(boardEntity{
		Entity:        aztables.Entity{PartitionKey: boardPartition, RowKey: b.ID},
		OwnerID:       b.OwnerID,
		Document:      string(doc),
		Version:       b.Version,
		VersionType:   edmInt64,
		UpdatedAtUnix: b.UpdatedAt.UnixMilli(),
		UpdatedAtType: edmInt64,
	})
}

func documentUnits(doc []byte) int {
	n := 0
	for _, r := range string(doc) {
		n += utf16.RuneLen(r)
	}
	return n
}

func entityBoard(ent boardEntity) (domain.Board, error) {
	b, err := decodeBoard([]byte(ent.Document))
	if err != nil {
		return domain.Board{}, err
	}
	b.ID = ent.RowKey
	b.Version = ent.Version
	return b, nil
}

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

