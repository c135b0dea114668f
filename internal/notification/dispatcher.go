package notification

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stanstork/sensorhub/internal/models"
)

// DoneFunc receives the outcome of a dispatched delivery.
type DoneFunc func(res DeliveryResult, err error)

type job struct {
	identity string
	notif    models.Notification
	done     DoneFunc
}

// Dispatcher runs deliveries off the caller's goroutine. A fixed pool of
// workers drains a bounded queue; work submitted while the queue is full is
// dropped.
type Dispatcher struct {
	svc     Service
	queue   chan job
	timeout time.Duration
	logger  zerolog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher starts workers goroutines sharing a queue of queueSize
// pending deliveries.
func NewDispatcher(svc Service, workers, queueSize int, timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	d := &Dispatcher{
		svc:     svc,
		queue:   make(chan job, queueSize),
		timeout: timeout,
		logger:  logger.With().Str("component", "dispatcher").Logger(),
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.work()
	}
	return d
}

// Submit queues a delivery and returns immediately. It reports false when
// the dispatcher is closed or the queue is full; done is not called then.
func (d *Dispatcher) Submit(identity string, notif models.Notification, done DoneFunc) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		d.logger.Warn().Str("identity", identity).Str("tag", notif.Tag).Msg("dispatcher closed, notification dropped")
		return false
	}
	select {
	case d.queue <- job{identity: identity, notif: notif, done: done}:
		return true
	default:
		d.logger.Warn().Str("identity", identity).Str("tag", notif.Tag).Int("queued", len(d.queue)).Msg("delivery queue full, notification dropped")
		return false
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for j := range d.queue {
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	res, err := d.svc.Deliver(ctx, j.identity, j.notif)
	switch {
	case err != nil:
		d.logger.Error().Err(err).Str("identity", j.identity).Str("tag", j.notif.Tag).Msg("delivery failed")
	case res.Skipped:
		d.logger.Debug().Str("identity", j.identity).Str("tag", j.notif.Tag).Str("reason", res.Reason).Msg("delivery skipped")
	}
	if j.done != nil {
		j.done(res, err)
	}
}

// Close stops accepting work, lets the workers drain the queue and waits for
// them or ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
