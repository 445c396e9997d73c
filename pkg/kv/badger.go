package kv

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"
)

// Badger is a Store implementation backed by BadgerDB v4.
//
// Writes capture the key's before image inside the update transaction so
// change events always carry a consistent before/after pair.
type Badger struct {
	db   *badger.DB
	opts *Options
	hub  *hub
}

// BadgerOptions configures the BadgerDB store.
type BadgerOptions struct {
	// Options is the common kv options (separator, etc.).
	Options *Options

	// Dir is the directory for BadgerDB data files.
	// Required unless InMemory is set.
	Dir string

	// InMemory runs BadgerDB in memory-only mode (no disk persistence).
	// Useful for testing with a real badger engine.
	InMemory bool

	// Logger receives badger's own log output. If nil, badger logs errors
	// and warnings through slog.Default.
	Logger badger.Logger
}

// NewBadger creates a new BadgerDB-backed Store.
func NewBadger(bopts BadgerOptions) (*Badger, error) {
	if !bopts.InMemory && bopts.Dir == "" {
		return nil, errors.New("kv: BadgerOptions.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(bopts.Dir)
	if bopts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	if bopts.Logger != nil {
		dbOpts = dbOpts.WithLogger(bopts.Logger)
	} else {
		dbOpts = dbOpts.WithLogger(slogLogger{slog.Default()})
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, err
	}
	return &Badger{db: db, opts: bopts.Options, hub: newHub()}, nil
}

func (b *Badger) Get(_ context.Context, key Key) ([]byte, error) {
	k := b.opts.encode(key)
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return val, err
}

func (b *Badger) Set(_ context.Context, key Key, value []byte) error {
	k := b.opts.encode(key)
	var before []byte
	err := b.db.Update(func(txn *badger.Txn) error {
		before = nil
		if item, err := txn.Get(k); err == nil {
			before, _ = item.ValueCopy(nil)
		}
		return txn.Set(k, value)
	})
	if err != nil {
		return err
	}
	b.hub.publish(key, k, before, value)
	return nil
}

func (b *Badger) Delete(_ context.Context, key Key) error {
	k := b.opts.encode(key)
	var before []byte
	err := b.db.Update(func(txn *badger.Txn) error {
		before = nil
		if item, err := txn.Get(k); err == nil {
			before, _ = item.ValueCopy(nil)
		}
		return txn.Delete(k)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if before != nil {
		b.hub.publish(key, k, before, nil)
	}
	return nil
}

func (b *Badger) List(_ context.Context, prefix Key) iter.Seq2[Entry, error] {
	p := b.opts.encode(prefix)
	// Append separator so "a:b" prefix doesn't match "a:bc".
	var prefixBytes []byte
	if len(p) > 0 {
		prefixBytes = append(p, b.opts.sep())
	}

	return func(yield func(Entry, error) bool) {
		err := b.db.View(func(txn *badger.Txn) error {
			iterOpts := badger.DefaultIteratorOptions
			iterOpts.Prefix = prefixBytes
			it := txn.NewIterator(iterOpts)
			defer it.Close()

			for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
				item := it.Item()
				keyCopy := item.KeyCopy(nil)

				val, err := item.ValueCopy(nil)
				if err != nil {
					if !yield(Entry{}, err) {
						return nil
					}
					continue
				}

				entry := Entry{
					Key:   b.opts.decode(keyCopy),
					Value: val,
				}
				if !yield(entry, nil) {
					return nil
				}
			}
			return nil
		})
		if err != nil {
			yield(Entry{}, err)
		}
	}
}

func (b *Badger) BatchSet(_ context.Context, entries []Entry) error {
	befores := make([][]byte, len(entries))
	err := b.db.Update(func(txn *badger.Txn) error {
		for i, e := range entries {
			k := b.opts.encode(e.Key)
			befores[i] = nil
			if item, err := txn.Get(k); err == nil {
				befores[i], _ = item.ValueCopy(nil)
			}
			if err := txn.Set(k, e.Value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i, e := range entries {
		b.hub.publish(e.Key, b.opts.encode(e.Key), befores[i], e.Value)
	}
	return nil
}

func (b *Badger) BatchDelete(_ context.Context, keys []Key) error {
	befores := make([][]byte, len(keys))
	err := b.db.Update(func(txn *badger.Txn) error {
		for i, key := range keys {
			k := b.opts.encode(key)
			befores[i] = nil
			if item, err := txn.Get(k); err == nil {
				befores[i], _ = item.ValueCopy(nil)
			}
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i, key := range keys {
		if befores[i] != nil {
			b.hub.publish(key, b.opts.encode(key), befores[i], nil)
		}
	}
	return nil
}

func (b *Badger) Watch(ctx context.Context, prefix Key) <-chan Change {
	return b.hub.watch(ctx, watchPrefix(b.opts, prefix))
}

func (b *Badger) Close() error {
	b.hub.shutdown()
	return b.db.Close()
}

// slogLogger adapts slog to badger's logger interface, suppressing debug
// and info level messages.
type slogLogger struct {
	log *slog.Logger
}

func (l slogLogger) Errorf(f string, v ...interface{}) {
	l.log.Error("badger", "msg", fmt.Sprintf(f, v...))
}

func (l slogLogger) Warningf(f string, v ...interface{}) {
	l.log.Warn("badger", "msg", fmt.Sprintf(f, v...))
}
func (l slogLogger) Infof(string, ...interface{})        {}
func (l slogLogger) Debugf(string, ...interface{})       {}
