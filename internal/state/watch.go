package state

import (
	"context"

	"mathraid/internal/wire"
)

// tableStatus is the pseudo-table used for connection status changes.
const tableStatus = "__status"

// Change notifies a watcher that a table changed. It deliberately does
// not carry the row: cross-table delivery order is not guaranteed, so
// consumers must re-read the cache instead of acting on event payloads.
type Change struct {
	Table string
	Op    wire.RowOp
}

// watcherBuffer bounds each watcher's channel. When a watcher lags, the
// oldest pending notification is replaced by the newest; since changes
// are re-read hints, collapsing them loses nothing.
const watcherBuffer = 16

type watcher struct {
	ch     chan Change
	tables map[string]bool // empty means all tables
}

// Watch returns a stream of change notifications for the given tables
// (all tables when none are named, including connection status
// changes). The stream is deregistered and its channel closed when ctx
// ends; no handler is ever left behind across a reconnect.
func (s *Store) Watch(ctx context.Context, tables ...string) <-chan Change {
	w := &watcher{
		ch:     make(chan Change, watcherBuffer),
		tables: make(map[string]bool, len(tables)),
	}
	for _, t := range tables {
		w.tables[t] = true
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = w
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
		close(w.ch)
	}()

	return w.ch
}

func (s *Store) notify(c Change) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.watchers {
		if len(w.tables) > 0 && !w.tables[c.Table] {
			continue
		}
		select {
		case w.ch <- c:
		default:
			// Lagging watcher: drop the oldest hint, keep the newest.
			select {
			case <-w.ch:
			default:
			}
			select {
			case w.ch <- c:
			default:
			}
		}
	}
}
