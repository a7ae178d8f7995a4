package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"countdown/internal/clock"
	"countdown/internal/goerror"
	"countdown/internal/model"
)

type fakeRepo struct {
	mu       sync.Mutex
	events   []model.Event
	listErr  error
	recorded []model.Trigger
	lists    int
}

func (r *fakeRepo) List(_ context.Context, activeOnly bool) ([]model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists++
	if r.listErr != nil {
		err := r.listErr
		r.listErr = nil
		return nil, err
	}
	out := make([]model.Event, 0, len(r.events))
	for _, e := range r.events {
		if activeOnly && !e.IsActive {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *fakeRepo) RecordTrigger(_ context.Context, tr model.Trigger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorded = append(r.recorded, tr)
	return nil
}

func (r *fakeRepo) listCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lists
}

type sent struct{ title, message string }

type fakeSink struct {
	mu       sync.Mutex
	failures int
	calls    int
	sent     []sent
}

func (s *fakeSink) Notify(_ context.Context, title, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return errors.New("notification daemon unavailable")
	}
	s.sent = append(s.sent, sent{title, message})
	return nil
}

func (s *fakeSink) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// everyTick schedules the next activation a fixed interval after t.
type everyTick time.Duration

func (e everyTick) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

func launch(t *testing.T) model.Event {
	t.Helper()
	d, err := model.ParseDate("2025-12-31")
	if err != nil {
		t.Fatal(err)
	}
	return model.Event{
		ID:                     "launch",
		Name:                   "Launch",
		EventDate:              d,
		IsActive:               true,
		NotificationEnabled:    true,
		NotificationDaysBefore: 7,
		Priority:               model.PriorityHigh,
	}
}

func newDispatcher(t *testing.T, repo Repository, sink Sink, now time.Time, retries uint64) *Dispatcher {
	t.Helper()
	d, err := New(Options{
		Repo:       repo,
		Sink:       sink,
		Clock:      clock.Fixed(now),
		Location:   time.UTC,
		Retries:    retries,
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestRunCycleSendsReminderOnce(t *testing.T) {
	repo := &fakeRepo{events: []model.Event{launch(t)}}
	sink := &fakeSink{}
	d := newDispatcher(t, repo, sink, time.Date(2025, 12, 24, 10, 0, 0, 0, time.UTC), 1)

	res, err := d.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Sent != 1 || res.Due != 1 {
		t.Fatalf("first cycle = %+v", res)
	}
	if got := sink.sent[0]; got.title != "Countdown Reminder: Launch" || got.message != "7 days remaining until Launch!" {
		t.Fatalf("unexpected notification %+v", got)
	}
	if len(repo.recorded) != 1 || repo.recorded[0].Kind != model.TriggerReminder {
		t.Fatalf("trigger not recorded: %+v", repo.recorded)
	}

	res, err = d.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Sent != 0 || res.Skipped != 1 || len(sink.sent) != 1 {
		t.Fatalf("same key fired twice: %+v, sent=%d", res, len(sink.sent))
	}
}

func TestRunCycleRetriesWithinCycle(t *testing.T) {
	repo := &fakeRepo{events: []model.Event{launch(t)}}
	sink := &fakeSink{failures: 1}
	d := newDispatcher(t, repo, sink, time.Date(2025, 12, 31, 8, 0, 0, 0, time.UTC), 1)

	res, err := d.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Sent != 1 || res.Failed != 0 || sink.calls != 2 {
		t.Fatalf("result = %+v, calls = %d", res, sink.calls)
	}
	if sink.sent[0].title != "Event Today!" || sink.sent[0].message != "Today is Launch!" {
		t.Fatalf("unexpected notification %+v", sink.sent[0])
	}
}

func TestRunCycleLeavesFailedTriggerForNextCycle(t *testing.T) {
	repo := &fakeRepo{events: []model.Event{launch(t)}}
	sink := &fakeSink{failures: 2}
	d := newDispatcher(t, repo, sink, time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC), 1)

	res, _ := d.RunCycle(context.Background())
	if res.Failed != 1 || res.Sent != 0 || len(repo.recorded) != 0 {
		t.Fatalf("first cycle = %+v, recorded = %d", res, len(repo.recorded))
	}
	if d.Fired() != 0 {
		t.Fatalf("failed trigger marked as fired")
	}

	res, _ = d.RunCycle(context.Background())
	if res.Sent != 1 {
		t.Fatalf("second cycle = %+v", res)
	}
	if sink.sent[0].title != "Event Completed" || sink.sent[0].message != "Launch was yesterday. Hope it went well!" {
		t.Fatalf("unexpected notification %+v", sink.sent[0])
	}
}

func TestRunCycleStoreErrorAbortsCycle(t *testing.T) {
	storeErr := goerror.NewStoreIO(errors.New("disk I/O error"))
	repo := &fakeRepo{events: []model.Event{launch(t)}, listErr: storeErr}
	sink := &fakeSink{}
	d := newDispatcher(t, repo, sink, time.Date(2025, 12, 24, 8, 0, 0, 0, time.UTC), 0)

	if _, err := d.RunCycle(context.Background()); !goerror.IsStoreIO(err) {
		t.Fatalf("expected store error, got %v", err)
	}
	if sink.calls != 0 {
		t.Fatalf("sink called during aborted cycle")
	}

	res, err := d.RunCycle(context.Background())
	if err != nil || res.Sent != 1 {
		t.Fatalf("recovery cycle = %+v, %v", res, err)
	}
}

func TestRunCyclePrunesOldKeys(t *testing.T) {
	ev := launch(t)
	ev.NotificationDaysBefore = 0
	repo := &fakeRepo{events: []model.Event{ev}}
	sink := &fakeSink{}

	d := newDispatcher(t, repo, sink, time.Date(2025, 12, 31, 8, 0, 0, 0, time.UTC), 0)
	if res, _ := d.RunCycle(context.Background()); res.Sent != 2 {
		t.Fatalf("expected reminder and due-today, got %+v", res)
	}
	if d.Fired() != 2 {
		t.Fatalf("fired = %d", d.Fired())
	}

	d.clock = clock.Fixed(time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC))
	if _, err := d.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if d.Fired() != 0 {
		t.Fatalf("old keys not pruned: %d", d.Fired())
	}
}

func TestStartRunsImmediatelyAndStops(t *testing.T) {
	repo := &fakeRepo{}
	d := newDispatcher(t, repo, &fakeSink{}, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), 0)
	d.SetSchedule(everyTick(time.Hour))

	d.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for repo.listCalls() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no cycle ran at start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := d.Stop(time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := d.Stop(time.Second); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestStopInterruptsRetryingCycle(t *testing.T) {
	var events []model.Event
	for i := range 8 {
		ev := launch(t)
		ev.ID = fmt.Sprintf("launch-%d", i)
		events = append(events, ev)
	}
	repo := &fakeRepo{events: events}
	sink := &fakeSink{failures: 1000}

	d, err := New(Options{
		Repo:       repo,
		Sink:       sink,
		Clock:      clock.Fixed(time.Date(2025, 12, 24, 10, 0, 0, 0, time.UTC)),
		Location:   time.UTC,
		Schedule:   everyTick(time.Hour),
		Retries:    1,
		RetryDelay: time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}

	d.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for sink.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no delivery attempted")
		}
		time.Sleep(5 * time.Millisecond)
	}

	start := time.Now()
	if err := d.Stop(500 * time.Millisecond); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("Stop took %s", elapsed)
	}
	if n := sink.callCount(); n >= 8 {
		t.Fatalf("cycle kept delivering after stop: %d attempts", n)
	}
}

func TestRunCycleCancelledContext(t *testing.T) {
	repo := &fakeRepo{events: []model.Event{launch(t)}}
	sink := &fakeSink{}
	d := newDispatcher(t, repo, sink, time.Date(2025, 12, 24, 10, 0, 0, 0, time.UTC), 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := d.RunCycle(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res.Sent != 0 || sink.callCount() != 0 || d.Fired() != 0 {
		t.Fatalf("cancelled cycle delivered: %+v, calls = %d", res, sink.callCount())
	}
}

func TestScheduleDrivesCycles(t *testing.T) {
	repo := &fakeRepo{}
	d := newDispatcher(t, repo, &fakeSink{}, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), 0)
	d.SetSchedule(everyTick(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	// A much shorter schedule installed while the loop waits takes effect
	// without waiting out the hour.
	d.SetSchedule(everyTick(5 * time.Millisecond))

	deadline := time.Now().Add(2 * time.Second)
	for repo.listCalls() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d cycles ran", repo.listCalls())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := d.Stop(time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestParseSchedule(t *testing.T) {
	if _, err := ParseSchedule(""); err != nil {
		t.Fatalf("empty expression: %v", err)
	}
	if _, err := ParseSchedule("*/15 * * * *"); err != nil {
		t.Fatalf("standard expression: %v", err)
	}
	if _, err := ParseSchedule("every now and then"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestNewRequiresRepoAndSink(t *testing.T) {
	if _, err := New(Options{Sink: &fakeSink{}}); err == nil {
		t.Fatal("expected error without repo")
	}
	if _, err := New(Options{Repo: &fakeRepo{}}); err == nil {
		t.Fatal("expected error without sink")
	}
}
