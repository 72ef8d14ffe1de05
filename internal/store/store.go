// Package store persists orchestrator state as string values under string
// keys. Backends are SQLite (default), Postgres and in-memory.
package store

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/vose-cli/internal/config"
)

// KV is a durable key-value store.
type KV interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// Migrator is implemented by backends that need a schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Open creates the backend named by cfg.Driver and migrates it.
func Open(ctx context.Context, cfg config.StoreConfig) (KV, error) {
	var (
		kv  KV
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		kv, err = NewSQLite(cfg.Path)
	case "postgres":
		kv, err = NewPostgres(ctx, cfg.DatabaseURL)
	case "memory":
		kv = NewMemory()
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if m, ok := kv.(Migrator); ok {
		if err := m.Migrate(ctx); err != nil {
			_ = kv.Close()
			return nil, err
		}
	}
	return kv, nil
}

// GetJSON decodes the value under key into v. It reports false when the
// key is absent, leaving v untouched.
func GetJSON(ctx context.Context, kv KV, key string, v any) (bool, error) {
	raw, ok, err := kv.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, eris.Wrapf(err, "store: decode %s", key)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, kv KV, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "store: encode %s", key)
	}
	return kv.Set(ctx, key, string(raw))
}
