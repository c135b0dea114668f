// Package throttle decides whether a reading arrived late enough after the
// previously accepted one to be persisted.
package throttle

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Store holds the last accepted arrival per identity. Both methods must be
// atomic per identity.
type Store interface {
	// Advance sets the identity's last accepted arrival to arrival when no
	// value exists or arrival is at least interval past it. It returns the
	// replaced value (zero if none) and whether the advance happened.
	Advance(ctx context.Context, identity string, arrival time.Time, interval time.Duration) (prev time.Time, ok bool, err error)
	// Restore puts prev back if the stored value is still arrival. A zero
	// prev removes the entry. interval is the window the admission used.
	Restore(ctx context.Context, identity string, arrival, prev time.Time, interval time.Duration) error
}

// Admission records an accepted arrival so it can be released if the write
// it guarded fails.
type Admission struct {
	Identity string
	Arrival  time.Time
	interval time.Duration
	previous time.Time
}

type Controller struct {
	store           Store
	defaultInterval time.Duration
}

func NewController(store Store, defaultInterval time.Duration) *Controller {
	return &Controller{store: store, defaultInterval: defaultInterval}
}

// Admit reports whether arrival opens a new window for identity. Rejection
// is not an error. A non-positive interval uses the controller default.
func (c *Controller) Admit(ctx context.Context, identity string, arrival time.Time, interval time.Duration) (Admission, bool, error) {
	if interval <= 0 {
		interval = c.defaultInterval
	}
	prev, ok, err := c.store.Advance(ctx, identity, arrival, interval)
	if err != nil {
		return Admission{}, false, errors.Wrap(err, "throttle admit")
	}
	if !ok {
		return Admission{}, false, nil
	}
	return Admission{Identity: identity, Arrival: arrival, interval: interval, previous: prev}, true, nil
}

// Release rolls back an admission whose write did not happen. A later
// admission for the same identity is left untouched.
func (c *Controller) Release(ctx context.Context, a Admission) error {
	if a.Identity == "" {
		return nil
	}
	return errors.Wrap(c.store.Restore(ctx, a.Identity, a.Arrival, a.previous, a.interval), "throttle release")
}
