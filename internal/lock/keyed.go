// Package lock serializes check-then-act sequences per variant.
package lock

import (
	"slices"
	"sync"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
)

type entry struct {
	mu   sync.Mutex
	refs int
}

// Keyed hands out one mutex per variant key. Entries are dropped once nobody
// holds or waits for them, so the map only grows with in-flight keys.
type Keyed struct {
	mu      sync.Mutex
	entries map[domain.VariantKey]*entry
}

func NewKeyed() *Keyed {
	return &Keyed{entries: make(map[domain.VariantKey]*entry)}
}

// Lock acquires every key in a stable global order (product, size, color) and
// returns a func that releases them in reverse. Duplicate keys are locked once.
func (k *Keyed) Lock(keys ...domain.VariantKey) (unlock func()) {
	sorted := slices.Clone(keys)
	slices.SortFunc(sorted, func(a, b domain.VariantKey) int { return a.Compare(b) })
	sorted = slices.Compact(sorted)

	held := make([]*entry, 0, len(sorted))
	for _, key := range sorted {
		e := k.acquire(key)
		e.mu.Lock()
		held = append(held, e)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			k.release(sorted[i], held[i])
		}
	}
}

func (k *Keyed) acquire(key domain.VariantKey) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	e.refs++
	return e
}

func (k *Keyed) release(key domain.VariantKey, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}

// Len reports how many keys are currently held or awaited.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
