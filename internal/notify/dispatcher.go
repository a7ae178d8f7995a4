// Package notify periodically evaluates the event snapshot and delivers due
// notification triggers through a Sink.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sethvargo/go-retry"

	"countdown/internal/clock"
	"countdown/internal/engine"
	"countdown/internal/goerror"
	appLog "countdown/internal/log"
	"countdown/internal/model"
)

// DefaultSchedule is used when no cron expression is configured.
const DefaultSchedule = "@hourly"

// firedRetention is how long a fired key is remembered. Older keys can never
// be produced again because triggers are only computed for today.
const firedRetention = 2 * 24 * time.Hour

// Repository is the part of the store the dispatcher needs.
type Repository interface {
	List(ctx context.Context, activeOnly bool) ([]model.Event, error)
	RecordTrigger(ctx context.Context, tr model.Trigger) error
}

// Options configures a Dispatcher.
type Options struct {
	Repo     Repository
	Sink     Sink
	Clock    clock.Clocker
	Location *time.Location
	// Schedule decides when cycles run; defaults to DefaultSchedule.
	Schedule cron.Schedule
	// Retries is the number of extra delivery attempts within one cycle.
	Retries uint64
	// RetryDelay is the constant wait between attempts.
	RetryDelay time.Duration
}

// CycleResult counts what one cycle did.
type CycleResult struct {
	Due     int
	Sent    int
	Skipped int
	Failed  int
}

// Dispatcher runs evaluation cycles on a cron schedule.
type Dispatcher struct {
	repo       Repository
	sink       Sink
	clock      clock.Clocker
	retries    uint64
	retryDelay time.Duration

	// cycleMu serializes cycles (scheduled, -once and test runs).
	cycleMu sync.Mutex

	mu       sync.Mutex
	loc      *time.Location
	schedule cron.Schedule
	fired    map[model.TriggerKey]struct{}
	reload   chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
}

// ParseSchedule parses a standard 5-field cron expression or a descriptor
// such as "@hourly". An empty expression yields DefaultSchedule.
func ParseSchedule(expr string) (cron.Schedule, error) {
	if expr == "" {
		expr = DefaultSchedule
	}
	s, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse check_cron %q: %w", expr, err)
	}
	return s, nil
}

// New constructs a Dispatcher. Repo and Sink are required.
func New(opts Options) (*Dispatcher, error) {
	if opts.Repo == nil {
		return nil, errors.New("notify: repository is nil")
	}
	if opts.Sink == nil {
		return nil, errors.New("notify: sink is nil")
	}

	d := &Dispatcher{
		repo:       opts.Repo,
		sink:       opts.Sink,
		clock:      opts.Clock,
		loc:        opts.Location,
		retries:    opts.Retries,
		retryDelay: opts.RetryDelay,
		schedule:   opts.Schedule,
		fired:      make(map[model.TriggerKey]struct{}),
		reload:     make(chan struct{}, 1),
	}
	if d.clock == nil {
		d.clock = clock.New()
	}
	if d.loc == nil {
		d.loc = time.Local
	}
	if d.retryDelay <= 0 {
		d.retryDelay = time.Second
	}
	if d.schedule == nil {
		s, err := ParseSchedule(DefaultSchedule)
		if err != nil {
			return nil, err
		}
		d.schedule = s
	}
	return d, nil
}

// SetSchedule replaces the cadence. A running loop re-arms its timer.
func (d *Dispatcher) SetSchedule(s cron.Schedule) {
	if s == nil {
		return
	}
	d.mu.Lock()
	d.schedule = s
	d.mu.Unlock()

	select {
	case d.reload <- struct{}{}:
	default:
	}
}

// SetLocation changes the timezone "today" is computed in.
func (d *Dispatcher) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	d.mu.Lock()
	d.loc = loc
	d.mu.Unlock()
}

// RunCycle evaluates the current snapshot once and delivers every due trigger
// that has not fired yet. A store failure aborts the cycle and is returned;
// delivery failures are counted in the result and retried next cycle.
// Cancelling ctx stops the cycle before the next trigger or retry wait.
func (d *Dispatcher) RunCycle(ctx context.Context) (CycleResult, error) {
	d.cycleMu.Lock()
	defer d.cycleMu.Unlock()

	var res CycleResult

	now := d.clock.Now().In(d.location())
	d.prune(model.DateOf(now))

	events, err := d.repo.List(ctx, true)
	if err != nil {
		appLog.Error("dispatcher: failed to load events, cycle skipped", err)
		return res, err
	}

	for _, tr := range engine.DueTriggers(events, now) {
		if err := ctx.Err(); err != nil {
			appLog.Info("dispatcher: cycle interrupted", "due", res.Due, "sent", res.Sent)
			return res, err
		}
		res.Due++
		key := tr.Key()

		if d.hasFired(key) {
			res.Skipped++
			continue
		}

		title, message := Compose(tr)
		if err := d.deliver(ctx, title, message); err != nil {
			res.Failed++
			appLog.Error("dispatcher: notification not delivered", err,
				"event_id", tr.EventID, "kind", tr.Kind.String(), "date", key.Date)
			continue
		}

		d.markFired(key)
		res.Sent++
		appLog.Info("notification sent", "event_id", tr.EventID, "kind", tr.Kind.String(), "date", key.Date)

		if err := d.repo.RecordTrigger(context.WithoutCancel(ctx), tr); err != nil {
			appLog.Error("dispatcher: failed to record trigger", err, "event_id", tr.EventID, "kind", tr.Kind.String())
		}
	}

	appLog.Debug("dispatcher cycle done",
		"due", res.Due, "sent", res.Sent, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

// Start launches the background loop: one cycle immediately, then one per
// scheduled activation until ctx is cancelled or Stop is called. Calling
// Start on a running dispatcher does nothing.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	d.cancel = cancel
	d.done = done

	go func() {
		defer close(done)
		d.loop(ctx)
	}()
}

// Stop signals the loop and waits up to timeout for it to exit. Pending
// retries and undelivered triggers are abandoned; a notification already
// handed to the sink is allowed to finish.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return fmt.Errorf("notify: dispatcher did not stop within %s", timeout)
	}
}

func (d *Dispatcher) loop(ctx context.Context) {
	appLog.Info("dispatcher started")
	defer appLog.Info("dispatcher stopped")

	for {
		if ctx.Err() != nil {
			return
		}
		_, _ = d.RunCycle(ctx)

		if !d.waitNext(ctx) {
			return
		}
	}
}

// waitNext blocks until the next scheduled activation. It re-arms when the
// schedule is replaced and returns false once ctx is done.
func (d *Dispatcher) waitNext(ctx context.Context) bool {
	for {
		now := d.clock.Now()
		next := d.currentSchedule().Next(now.In(d.location()))
		appLog.Debug("next dispatcher cycle", "at", next.Format(time.RFC3339))

		timer := time.NewTimer(max(next.Sub(now), 0))
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-d.reload:
			timer.Stop()
		case <-timer.C:
			return true
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, title, message string) error {
	b := retry.WithMaxRetries(d.retries, retry.NewConstant(d.retryDelay))

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		// A send in progress is not tied to the loop's lifetime.
		if err := d.sink.Notify(context.WithoutCancel(ctx), title, message); err != nil {
			appLog.Warn("notification attempt failed", "title", title, "err", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return goerror.NewSink(err)
	}
	return nil
}

func (d *Dispatcher) currentSchedule() cron.Schedule {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.schedule
}

func (d *Dispatcher) location() *time.Location {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loc
}

func (d *Dispatcher) hasFired(k model.TriggerKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.fired[k]
	return ok
}

func (d *Dispatcher) markFired(k model.TriggerKey) {
	d.mu.Lock()
	d.fired[k] = struct{}{}
	d.mu.Unlock()
}

// prune forgets fired keys older than firedRetention relative to today.
func (d *Dispatcher) prune(today time.Time) {
	cutoff := today.Add(-firedRetention)

	d.mu.Lock()
	defer d.mu.Unlock()
	for k := range d.fired {
		day, err := model.ParseDate(k.Date)
		if err != nil || day.Before(cutoff) {
			delete(d.fired, k)
		}
	}
}

// Fired returns the number of remembered fired keys.
func (d *Dispatcher) Fired() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.fired)
}
