/*
Package locking serialises work on the same stock items.

PURPOSE:
  Settlement, write-offs and invoices reload and rewrite whole stock
  items. Two of them touching the same item at once would race, so each
  takes a lock per stock item first. The optimistic version check in the
  store stays as a second line of defence.

IMPLEMENTATIONS:
  Local: In-process keyed locks; enough for a single server
  Redis: bsm/redislock; needed once several servers share a database

ORDERING:
  Callers pass keys sorted (inventory.LockKeys). Both lockers take them
  in the given order and release everything if one key cannot be taken.

SEE ALSO:
  - inventory/store.go: The Locker interface
  - jobcard/service.go: Settlement locking
*/
package locking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oneshot/workshop-ledger/inventory"
)

// =============================================================================
// LOCAL LOCKER
// =============================================================================

// Local is an in-process keyed lock. Waiting honours ctx and, when set,
// the Wait timeout.
type Local struct {
	Wait time.Duration

	mu    sync.Mutex
	slots map[string]chan struct{}
}

var _ inventory.Locker = (*Local)(nil)

func NewLocal(wait time.Duration) *Local {
	return &Local{Wait: wait, slots: make(map[string]chan struct{})}
}

func (l *Local) Lock(ctx context.Context, keys ...string) (func(), error) {
	if l.Wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.Wait)
		defer cancel()
	}

	held := make([]chan struct{}, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}

	for _, key := range keys {
		slot := l.slot(key)
		select {
		case slot <- struct{}{}:
			held = append(held, slot)
		case <-ctx.Done():
			release()
			return nil, fmt.Errorf("%w: %s: %v", inventory.ErrLockNotObtained, key, ctx.Err())
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *Local) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.slots == nil {
		l.slots = make(map[string]chan struct{})
	}
	s, ok := l.slots[key]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[key] = s
	}
	return s
}
