package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"linedesk/pkg/logger"
)

// Pebble is the default embedded backend.
type Pebble struct {
	db   *pebble.DB
	path string
}

// OpenPebble opens (or creates) a pebble database at path. The WAL stays on:
// the webhook acknowledges only after the write returned.
func OpenPebble(path string) (*Pebble, error) {
	opts := &pebble.Options{DisableWAL: false}
	db, err := pebble.Open(path, opts)
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	logger.Info("pebble_opened", "path", path)
	return &Pebble{db: db, path: path}, nil
}

func (p *Pebble) Get(_ context.Context, key string) ([]byte, error) {
	if p.db == nil {
		return nil, fmt.Errorf("pebble not opened")
	}
	v, closer, err := p.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			logger.Debug("get_key_missing", "key", key)
			return nil, ErrNotFound
		}
		logger.Error("get_key_failed", "key", key, "error", err)
		return nil, err
	}
	defer closer.Close()
	// value is only valid until closer.Close
	return append([]byte(nil), v...), nil
}

func (p *Pebble) Set(_ context.Context, key string, value []byte) error {
	if p.db == nil {
		return fmt.Errorf("pebble not opened")
	}
	if err := p.db.Set([]byte(key), value, pebble.Sync); err != nil {
		logger.Error("save_key_failed", "key", key, "error", err)
		return err
	}
	logger.Debug("save_key_ok", "key", key, "len", len(value))
	return nil
}

func (p *Pebble) Delete(_ context.Context, key string) error {
	if p.db == nil {
		return fmt.Errorf("pebble not opened")
	}
	if err := p.db.Delete([]byte(key), pebble.Sync); err != nil {
		logger.Error("delete_key_failed", "key", key, "error", err)
		return err
	}
	return nil
}

func (p *Pebble) ScanPrefix(ctx context.Context, prefix string) ([]Entry, error) {
	if p.db == nil {
		return nil, fmt.Errorf("pebble not opened")
	}
	pfx := []byte(prefix)
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: pfx})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make([]Entry, 0)
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, Entry{
			Key:   string(iter.Key()),
			Value: append([]byte(nil), iter.Value()...),
		})
	}
	return out, iter.Error()
}

func (p *Pebble) Ping(context.Context) error {
	if p.db == nil {
		return fmt.Errorf("pebble not opened")
	}
	return nil
}

// Close flushes memtables and closes the database.
func (p *Pebble) Close() error {
	if p.db == nil {
		return nil
	}
	if err := p.db.Flush(); err != nil {
		logger.Error("pebble_flush_failed", "path", p.path, "error", err)
	}
	err := p.db.Close()
	p.db = nil
	return err
}
