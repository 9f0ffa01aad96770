package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Cursor persists the highest sequence number every destination has
// accepted, so a restarted server resumes where it stopped.
type Cursor interface {
	Load(ctx context.Context) (int64, error)
	Save(ctx context.Context, seq int64) error
}

// MemoryCursor keeps the position in memory only.
type MemoryCursor struct {
	mu  sync.Mutex
	seq int64
}

func (c *MemoryCursor) Load(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq, nil
}

func (c *MemoryCursor) Save(_ context.Context, seq int64) error {
	c.mu.Lock()
	c.seq = seq
	c.mu.Unlock()
	return nil
}

// FileCursor stores the position as a decimal number in a file.
type FileCursor struct {
	path string
}

func NewFileCursor(path string) *FileCursor {
	return &FileCursor{path: path}
}

func (c *FileCursor) Load(context.Context) (int64, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}
	seq, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse cursor %s: %w", c.path, err)
	}
	return seq, nil
}

func (c *FileCursor) Save(_ context.Context, seq int64) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(seq, 10)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write cursor: %w", err)
	}
	return os.Rename(tmp, c.path)
}

// RedisCursor stores the position under a Redis key, shared by every
// server instance pointed at the same Redis.
type RedisCursor struct {
	rdb *redis.Client
	key string
}

// NewRedisCursor returns a cursor at key. An empty key picks
// "tracegate:export:cursor".
func NewRedisCursor(rdb *redis.Client, key string) *RedisCursor {
	if key == "" {
		key = "tracegate:export:cursor"
	}
	return &RedisCursor{rdb: rdb, key: key}
}

func (c *RedisCursor) Load(ctx context.Context) (int64, error) {
	seq, err := c.rdb.Get(ctx, c.key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get cursor: %w", err)
	}
	return seq, nil
}

func (c *RedisCursor) Save(ctx context.Context, seq int64) error {
	if err := c.rdb.Set(ctx, c.key, seq, 0).Err(); err != nil {
		return fmt.Errorf("redis set cursor: %w", err)
	}
	return nil
}
