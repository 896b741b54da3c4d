package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/afom12/Taskflow/domain"
)

const badgerBoardPrefix = "b:"

// BadgerStore keeps boards in an embedded Badger database. Read-check-write
// runs inside one transaction, so concurrent replaces surface as conflicts.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the database at dir. An empty dir runs in memory.
func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func boardKey(id string) []byte {
	return []byte(badgerBoardPrefix + id)
}

func readBoard(txn *badger.Txn, id string) (domain.Board, error) {
	item, err := txn.Get(boardKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Board{}, domain.ErrBoardNotFound
	}
	if err != nil {
		return domain.Board{}, err
	}
	var b domain.Board
	err = item.Value(func(val []byte) error {
		var derr error
		b, derr = decodeBoard(val)
		return derr
	})
	return b, err
}

func writeBoard(txn *badger.Txn, b domain.Board) error {
	data, err := encodeBoard(b)
	if err != nil {
		return err
	}
	return txn.Set(boardKey(b.ID), data)
}

func (s *BadgerStore) LoadBoard(_ context.Context, boardID string) (domain.Board, error) {
	var b domain.Board
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		b, err = readBoard(txn, boardID)
		return err
	})
	return b, wrap("load", err)
}

func (s *BadgerStore) ReplaceBoard(_ context.Context, board domain.Board) (domain.Board, error) {
	var next domain.Board
	err := s.db.Update(func(txn *badger.Txn) error {
		cur, err := readBoard(txn, board.ID)
		if err != nil {
			return err
		}
		if cur.Version != board.Version {
			return domain.ErrVersionConflict
		}
		next = board.Clone()
		next.CreatedAt = cur.CreatedAt
		next.Version = cur.Version + 1
		next.UpdatedAt = time.Now().UTC()
		return writeBoard(txn, next)
	})
	if errors.Is(err, badger.ErrConflict) {
		return domain.Board{}, domain.ErrVersionConflict
	}
	if err != nil {
		return domain.Board{}, wrap("replace", err)
	}
	return next, nil
}

func (s *BadgerStore) CreateBoard(_ context.Context, board domain.Board) (domain.Board, error) {
	next := board.Clone()
	if next.Version == 0 {
		next.Version = 1
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(boardKey(next.ID)); err == nil {
			return ErrBoardExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return writeBoard(txn, next)
	})
	if err != nil {
		return domain.Board{}, wrap("create", err)
	}
	return next, nil
}

func (s *BadgerStore) ListBoards(ctx context.Context, userID string) ([]domain.Board, error) {
	out := []domain.Board{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerBoardPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				b, err := decodeBoard(val)
				if err != nil {
					return err
				}
				if b.HasAccess(userID) {
					out = append(out, b)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrap("list", err)
	}
	sortByUpdated(out)
	return out, nil
}

func (s *BadgerStore) DeleteBoard(_ context.Context, boardID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(boardKey(boardID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.ErrBoardNotFound
			}
			return err
		}
		return txn.Delete(boardKey(boardID))
	})
	return wrap("delete", err)
}
