// Package engine computes display order and notification eligibility over a
// snapshot of events.
//
// Every function is pure: it takes the snapshot plus an explicit as-of time,
// never reads the clock and never mutates its input. The as-of time is reduced
// to its calendar date in its own location.
package engine

import (
	"cmp"
	"slices"
	"time"

	"github.com/samber/lo"

	"countdown/internal/model"
)

// Ranked is an event with its signed distance to the as-of date.
type Ranked struct {
	Event         model.Event
	DaysRemaining int
}

// State distinguishes the empty conditions a display has to render.
type State string

const (
	// StateNoEvents: there are no active events at all.
	StateNoEvents State = "no_events"
	// StateAllPassed: active events exist but every one of them is in the past.
	StateAllPassed State = "all_passed"
	// StateUpcoming: at least one active event is today or later.
	StateUpcoming State = "upcoming"
)

// Summary describes a snapshot as seen on one date.
type Summary struct {
	State    State
	Active   int
	Upcoming int
	Past     int
	Next     *Ranked
}

const secondsPerDay = 24 * 60 * 60

// DaysRemaining returns event_date - asOf in whole days; negative once passed.
// Both dates are UTC midnights, so the difference in seconds divides exactly.
// time.Duration would saturate for dates about 292 years apart.
func DaysRemaining(e model.Event, asOf time.Time) int {
	diff := model.DateOf(e.EventDate).Unix() - model.DateOf(asOf).Unix()
	return int(diff / secondsPerDay)
}

// Rank returns the active events due today or later, soonest first. Events
// on the same day are ordered by priority, highest first; name and id settle
// any remaining tie so the order is deterministic.
func Rank(events []model.Event, asOf time.Time) []Ranked {
	upcoming := lo.Filter(annotate(events, asOf), func(r Ranked, _ int) bool {
		return r.DaysRemaining >= 0
	})

	slices.SortStableFunc(upcoming, bySoonest)

	return upcoming
}

// Past returns the active events whose date has passed, most recently passed
// first.
func Past(events []model.Event, asOf time.Time) []Ranked {
	past := lo.Filter(annotate(events, asOf), func(r Ranked, _ int) bool {
		return r.DaysRemaining < 0
	})

	slices.SortStableFunc(past, func(a, b Ranked) int {
		return cmp.Or(
			cmp.Compare(b.DaysRemaining, a.DaysRemaining),
			cmp.Compare(b.Event.Priority, a.Event.Priority),
			cmp.Compare(a.Event.Name, b.Event.Name),
			cmp.Compare(a.Event.ID, b.Event.ID),
		)
	})

	return past
}

// NextUpcoming returns Rank(events, asOf)[0], or false when nothing is due
// today or later.
func NextUpcoming(events []model.Event, asOf time.Time) (Ranked, bool) {
	ranked := Rank(events, asOf)
	if len(ranked) == 0 {
		return Ranked{}, false
	}
	return ranked[0], true
}

// Summarize counts the active snapshot and picks the next event.
func Summarize(events []model.Event, asOf time.Time) Summary {
	ranked := Rank(events, asOf)
	active := lo.CountBy(events, func(e model.Event) bool { return e.IsActive })

	s := Summary{
		Active:   active,
		Upcoming: len(ranked),
		Past:     active - len(ranked),
	}

	switch {
	case active == 0:
		s.State = StateNoEvents
	case len(ranked) == 0:
		s.State = StateAllPassed
	default:
		s.State = StateUpcoming
		next := ranked[0]
		s.Next = &next
	}

	return s
}

// DueTriggers returns the notification triggers due on asOf.
//
// A reminder is due only when days_remaining equals notification_days_before
// exactly; a day on which no evaluation runs skips that reminder. due-today
// fires at 0 and passed at -1. Kinds that coincide are all returned.
func DueTriggers(events []model.Event, asOf time.Time) []model.Trigger {
	date := model.DateOf(asOf)
	annotated := annotate(events, asOf)

	slices.SortStableFunc(annotated, bySoonest)

	var out []model.Trigger
	for _, r := range annotated {
		if !r.Event.NotificationEnabled {
			continue
		}

		emit := func(kind model.TriggerKind) {
			out = append(out, model.Trigger{
				EventID:       r.Event.ID,
				EventName:     r.Event.Name,
				Kind:          kind,
				Date:          date,
				DaysRemaining: r.DaysRemaining,
			})
		}

		if r.DaysRemaining == r.Event.NotificationDaysBefore {
			emit(model.TriggerReminder)
		}
		if r.DaysRemaining == 0 {
			emit(model.TriggerDueToday)
		}
		if r.DaysRemaining == -1 {
			emit(model.TriggerPassed)
		}
	}

	return out
}

// bySoonest orders by days remaining, then priority (highest first), then
// name and id.
func bySoonest(a, b Ranked) int {
	return cmp.Or(
		cmp.Compare(a.DaysRemaining, b.DaysRemaining),
		cmp.Compare(b.Event.Priority, a.Event.Priority),
		cmp.Compare(a.Event.Name, b.Event.Name),
		cmp.Compare(a.Event.ID, b.Event.ID),
	)
}

// annotate copies the active events into Ranked values.
func annotate(events []model.Event, asOf time.Time) []Ranked {
	out := make([]Ranked, 0, len(events))
	for _, e := range events {
		if !e.IsActive {
			continue
		}
		out = append(out, Ranked{Event: e, DaysRemaining: DaysRemaining(e, asOf)})
	}
	return out
}
