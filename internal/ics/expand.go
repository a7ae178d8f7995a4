package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "countdown/internal/log"
	"countdown/internal/model"
)

// ErrNoOccurrence is returned when a recurring series yields no instance at all.
var ErrNoOccurrence = errors.New("recurrence has no occurrence")

// Resolved is a parsed event pinned to one calendar date.
type Resolved struct {
	Event ParsedEvent
	// Date is the occurrence's calendar date at midnight UTC.
	Date time.Time
}

// ResolveResult wraps the resolved events and the UIDs that were dropped.
type ResolveResult struct {
	Events  []Resolved
	Dropped []string
}

// Resolve pins every base event to a single date as of asOf:
//
//   - Non-recurring events keep their DTSTART date, past or not.
//   - Recurring events take the first occurrence on or after asOf's date,
//     honouring EXDATE and RECURRENCE-ID overrides. A finished series takes
//     its last occurrence.
//
// Override VEVENTs are folded into their base event and never returned on
// their own unless the base is missing.
func Resolve(events []ParsedEvent, asOf time.Time) ResolveResult {
	var result ResolveResult

	overridesByUID := make(map[string][]ParsedEvent)
	hasBase := make(map[string]bool)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			hasBase[ev.UID] = true
		}
	}

	for _, ev := range events {
		isOverride := ev.IsOverride && ev.Recurrence != nil
		if isOverride && hasBase[ev.UID] {
			continue
		}

		if ev.RawRRule == "" || isOverride {
			result.Events = append(result.Events, Resolved{Event: ev, Date: model.DateOf(ev.Start)})
			continue
		}

		date, err := NextOccurrence(ev, overridesByUID[ev.UID], asOf)
		if err != nil {
			appLog.Error("resolve: dropping recurring event", err, "uid", ev.UID, "rrule", ev.RawRRule)
			result.Dropped = append(result.Dropped, ev.UID)
			continue
		}
		result.Events = append(result.Events, Resolved{Event: ev, Date: date})
	}

	return result
}

// NextOccurrence returns the date of the first instance of a recurring event
// on or after asOf's calendar date, or of its last instance when the series
// has ended.
func NextOccurrence(ev ParsedEvent, overrides []ParsedEvent, asOf time.Time) (time.Time, error) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		return time.Time{}, err
	}

	// Ensure Dtstart is set to the event's DTSTART.
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		// Best effort: align EXDATE location with event's start.
		set.ExDate(alignExDate(ex, ev))
	}

	loc := ev.Start.Location()
	y, m, d := asOf.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, loc)

	occ := set.After(dayStart, true)
	if occ.IsZero() {
		occ = set.Before(dayStart, false)
	}
	if occ.IsZero() {
		return time.Time{}, ErrNoOccurrence
	}

	if o, ok := findOverrideForStart(overrides, occ); ok {
		occ = o.Start
	}
	return model.DateOf(occ), nil
}

// alignExDate moves an EXDATE onto the event's wall clock. Date-only
// exclusions of all-day events are re-read in the start's location so they
// compare equal to the generated instances.
func alignExDate(ex time.Time, ev ParsedEvent) time.Time {
	loc := ev.Start.Location()
	if ev.AllDay {
		y, m, d := ex.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
	return ex.In(loc)
}

// findOverrideForStart finds an override event whose RECURRENCE-ID matches
// the given instance start.
func findOverrideForStart(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence == nil {
			continue
		}
		rid := *ov.Recurrence
		if ov.AllDay || rid.Hour() == 0 && rid.Minute() == 0 && rid.Second() == 0 {
			if model.DateOf(rid).Equal(model.DateOf(start)) {
				return ov, true
			}
			continue
		}
		if rid.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}
