package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/afom12/Taskflow/domain"
	"github.com/afom12/Taskflow/internal/consts"
)

// Directory resolves user ids to display names.
type Directory interface {
	Remember(ctx context.Context, ident domain.Identity) error
	DisplayNames(ctx context.Context, userIDs []string) (map[string]string, error)
}

// RedisDirectory stores display names in a single Redis hash.
type RedisDirectory struct {
	rc  *redis.Client
	key string
}

func NewRedisDirectory(rc *redis.Client) *RedisDirectory {
	return &RedisDirectory{rc: rc, key: consts.UserNamesKey}
}

func (d *RedisDirectory) Remember(ctx context.Context, ident domain.Identity) error {
	if ident.UserID == "" || ident.DisplayName == "" {
		return nil
	}
	if err := d.rc.HSet(ctx, d.key, ident.UserID, ident.DisplayName).Err(); err != nil {
		return fmt.Errorf("remember %s: %w", ident.UserID, err)
	}
	return nil
}

// DisplayNames returns the known names; unknown ids are absent from the map.
func (d *RedisDirectory) DisplayNames(ctx context.Context, userIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	vals, err := d.rc.HMGet(ctx, d.key, userIDs...).Result()
	if err != nil {
		return nil, fmt.Errorf("display names: %w", err)
	}
	for i, v := range vals {
		if name, ok := v.(string); ok && name != "" {
			out[userIDs[i]] = name
		}
	}
	return out, nil
}

// MemoryDirectory is the single-process directory.
type MemoryDirectory struct {
	mu    sync.RWMutex
	names map[string]string
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{names: make(map[string]string)}
}

func (d *MemoryDirectory) Remember(_ context.Context, ident domain.Identity) error {
	if ident.UserID == "" || ident.DisplayName == "" {
		return nil
	}
	d.mu.Lock()
	d.names[ident.UserID] = ident.DisplayName
	d.mu.Unlock()
	return nil
}

func (d *MemoryDirectory) DisplayNames(_ context.Context, userIDs []string) (map[string]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string, len(userIDs))
	for _, id := range userIDs {
		if name, ok := d.names[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}
