// Package store provides the key-value persistence used by the queue and the session store.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("store: key not found")

// KV is a minimal byte-oriented key-value store.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Scan returns every key-value pair whose key starts with prefix, ordered by key.
	Scan(ctx context.Context, prefix string) ([]Entry, error)
	Close() error
}

// Entry is a single key-value pair returned by Scan.
type Entry struct {
	Key   string
	Value []byte
}

// Config selects and configures a backend.
type Config struct {
	Driver     string
	SQLitePath string
	RedisAddr  string
	RedisPass  string
	RedisDB    int
	Prefix     string
}

// Open builds the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (KV, error) {
	var (
		kv  KV
		err error
	)
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		kv = NewMemory()
	case "sqlite":
		kv, err = NewSQLite(ctx, cfg.SQLitePath)
	case "redis":
		kv, err = NewRedis(ctx, RedisOptions{Addr: cfg.RedisAddr, Password: cfg.RedisPass, DB: cfg.RedisDB})
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Prefix != "" {
		kv = WithPrefix(kv, cfg.Prefix)
	}
	return kv, nil
}

type prefixed struct {
	KV
	prefix string
}

// WithPrefix namespaces every key of kv under prefix.
func WithPrefix(kv KV, prefix string) KV {
	return &prefixed{KV: kv, prefix: prefix}
}

func (p *prefixed) Get(ctx context.Context, key string) ([]byte, error) {
	return p.KV.Get(ctx, p.prefix+key)
}

func (p *prefixed) Set(ctx context.Context, key string, value []byte) error {
	return p.KV.Set(ctx, p.prefix+key, value)
}

func (p *prefixed) Delete(ctx context.Context, key string) error {
	return p.KV.Delete(ctx, p.prefix+key)
}

func (p *prefixed) Scan(ctx context.Context, prefix string) ([]Entry, error) {
	entries, err := p.KV.Scan(ctx, p.prefix+prefix)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Key = strings.TrimPrefix(entries[i].Key, p.prefix)
	}
	return entries, nil
}
