package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/afom12/Taskflow/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS boards (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	version    BIGINT NOT NULL,
	document   JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS boards_owner_idx ON boards (owner_id);
CREATE INDEX IF NOT EXISTS boards_members_idx ON boards USING GIN ((document->'memberIds'));
`

// PostgresStore keeps each board as a JSONB document with its version in a column.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects through the pgx stdlib driver and verifies the connection.
func OpenPostgres(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the boards table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadBoard(ctx context.Context, boardID string) (domain.Board, error) {
	row := s.db.QueryRowContext(ctx, `SELECT version, document, created_at, updated_at FROM boards WHERE id=$1`, boardID)
	b, err := scanBoard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Board{}, domain.ErrBoardNotFound
	}
	return b, wrap("load", err)
}

func (s *PostgresStore) ReplaceBoard(ctx context.Context, board domain.Board) (domain.Board, error) {
	now := time.Now().UTC()
	next := board.Clone()
	next.Version = board.Version + 1
	next.UpdatedAt = now
	doc, err := encodeBoard(next)
	if err != nil {
		return domain.Board{}, wrap("replace", err)
	}

	var createdAt time.Time
	err = s.db.QueryRowContext(ctx, `
UPDATE boards SET document=$3, owner_id=$4, version=version+1, updated_at=$5
WHERE id=$1 AND version=$2
RETURNING created_at`, board.ID, board.Version, doc, board.OwnerID, now).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM boards WHERE id=$1)`, board.ID).Scan(&exists); err != nil {
			return domain.Board{}, wrap("replace", err)
		}
		if !exists {
			return domain.Board{}, domain.ErrBoardNotFound
		}
		return domain.Board{}, domain.ErrVersionConflict
	}
	if err != nil {
		return domain.Board{}, wrap("replace", err)
	}
	next.CreatedAt = createdAt
	return next, nil
}

func (s *PostgresStore) CreateBoard(ctx context.Context, board domain.Board) (domain.Board, error) {
	next := board.Clone()
	if next.Version == 0 {
		next.Version = 1
	}
	doc, err := encodeBoard(next)
	if err != nil {
		return domain.Board{}, wrap("create", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO boards (id, owner_id, version, document, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)`, next.ID, next.OwnerID, next.Version, doc, next.CreatedAt, next.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domain.Board{}, ErrBoardExists
	}
	if err != nil {
		return domain.Board{}, wrap("create", err)
	}
	return next, nil
}

func (s *PostgresStore) ListBoards(ctx context.Context, userID string) ([]domain.Board, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT version, document, created_at, updated_at FROM boards
WHERE owner_id=$1 OR jsonb_exists(document->'memberIds', $1)
ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, wrap("list", err)
	}
	defer rows.Close()

	out := []domain.Board{}
	for rows.Next() {
		b, err := scanBoard(rows)
		if err != nil {
			return nil, wrap("list", err)
		}
		out = append(out, b)
	}
	return out, wrap("list", rows.Err())
}

func (s *PostgresStore) DeleteBoard(ctx context.Context, boardID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM boards WHERE id=$1`, boardID)
	if err != nil {
		return wrap("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("delete", err)
	}
	if n == 0 {
		return domain.ErrBoardNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBoard(row rowScanner) (domain.Board, error) {
	var (
		version              int64
		doc                  []byte
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&version, &doc, &createdAt, &updatedAt); err != nil {
		return domain.Board{}, err
	}
	b, err := decodeBoard(doc)
	if err != nil {
		return domain.Board{}, err
	}
	b.Version = version
	b.CreatedAt = createdAt
	b.UpdatedAt = updatedAt
	return b, nil
}
