package throttle

import (
	"context"
	"time"

	"github.com/stanstork/sensorhub/internal/keyed"
)

// MemoryStore keeps windows in process memory.
type MemoryStore struct {
	last *keyed.Map[time.Time]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{last: keyed.New[time.Time]()}
}

func (s *MemoryStore) Advance(_ context.Context, identity string, arrival time.Time, interval time.Duration) (time.Time, bool, error) {
	var (
		prev     time.Time
		admitted bool
	)
	s.last.Update(identity, func(cur time.Time, ok bool) (time.Time, bool) {
		if ok && arrival.Sub(cur) < interval {
			return cur, true
		}
		if ok {
			prev = cur
		}
		admitted = true
		return arrival, true
	})
	return prev, admitted, nil
}

func (s *MemoryStore) Restore(_ context.Context, identity string, arrival, prev time.Time, _ time.Duration) error {
	s.last.Update(identity, func(cur time.Time, ok bool) (time.Time, bool) {
		if !ok || !cur.Equal(arrival) {
			return cur, ok
		}
		if prev.IsZero() {
			return time.Time{}, false
		}
		return prev, true
	})
	return nil
}

// Forget drops windows older than before.
func (s *MemoryStore) Forget(before time.Time) int {
	return s.last.DeleteFunc(func(_ string, v time.Time) bool { return v.Before(before) })
}
