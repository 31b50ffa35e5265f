package reservation

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
)

// MemoryStore implements Store with in-memory storage
type MemoryStore struct {
	mu    sync.RWMutex
	holds map[domain.HoldKey]domain.Reservation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{holds: make(map[domain.HoldKey]domain.Reservation)}
}

func (s *MemoryStore) Upsert(_ context.Context, r domain.Reservation) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := r.Key()
	prev, existed := s.holds[key]
	s.holds[key] = r
	if !existed {
		return nil, nil
	}
	return &prev, nil
}

func (s *MemoryStore) Get(_ context.Context, key domain.HoldKey) (*domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.holds[key]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	return &r, nil
}

func (s *MemoryStore) FindByUser(_ context.Context, userID string, f Filter) ([]domain.Reservation, error) {
	return s.collect(func(r domain.Reservation) bool {
		return r.UserID == userID && f.match(r)
	}), nil
}

func (s *MemoryStore) FindByProduct(_ context.Context, productID string) ([]domain.Reservation, error) {
	return s.collect(func(r domain.Reservation) bool {
		return r.ProductID == productID
	}), nil
}

func (s *MemoryStore) Remove(_ context.Context, key domain.HoldKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.holds[key]; !ok {
		return false, nil
	}
	delete(s.holds, key)
	return true, nil
}

func (s *MemoryStore) MarkHidden(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for key, r := range s.holds {
		if r.UserID == userID && !r.Hidden {
			r.Hidden = true
			s.holds[key] = r
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) Expired(_ context.Context, now time.Time) ([]domain.Reservation, error) {
	return s.collect(func(r domain.Reservation) bool {
		return !r.IsValid(now)
	}), nil
}

func (s *MemoryStore) collect(match func(domain.Reservation) bool) []domain.Reservation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Reservation
	for _, r := range s.holds {
		if match(r) {
			out = append(out, r)
		}
	}
	sortHolds(out)
	return out
}
