package kv

import (
	"bytes"
	"context"
	"sync"
	"time"
)

// watchBuffer is the per-watcher channel capacity. A lagging watcher loses
// events rather than blocking writers.
const watchBuffer = 64

// hub fans change events out to registered watchers. It is embedded by
// both store implementations so change capture behaves identically across
// backends.
type hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscriber
	closed bool
}

type subscriber struct {
	prefix []byte // encoded prefix, with trailing separator unless empty
	ch     chan Change
}

func newHub() *hub {
	return &hub{subs: make(map[int]*subscriber)}
}

// watch registers a subscriber for the encoded prefix and removes it when
// ctx is canceled.
func (h *hub) watch(ctx context.Context, prefix []byte) <-chan Change {
	sub := &subscriber{prefix: prefix, ch: make(chan Change, watchBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = sub
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub.ch)
		}
		h.mu.Unlock()
	}()

	return sub.ch
}

// publish delivers one change event to all matching subscribers.
func (h *hub) publish(key Key, encoded, before, after []byte) {
	now := time.Now()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if len(sub.prefix) > 0 && !bytes.HasPrefix(encoded, sub.prefix) {
			continue
		}
		c := Change{Key: key, Before: before, After: after, At: now}
		select {
		case sub.ch <- c:
		default:
			// Watcher lagging; drop rather than block the writer.
		}
	}
}

// shutdown closes all subscriber channels.
func (h *hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// watchPrefix encodes a watch prefix, appending the separator so "a:b"
// does not match "a:bc". An empty prefix matches everything.
func watchPrefix(o *Options, prefix Key) []byte {
	p := o.encode(prefix)
	if len(p) > 0 {
		p = append(p, o.sep())
	}
	return p
}
