package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "countdown/internal/log"
)

// ParsedEvent is the normalized representation of a VEVENT.
type ParsedEvent struct {
	UID string

	Summary     string
	Description string

	Start  time.Time
	AllDay bool

	// Priority is the raw iCalendar PRIORITY (0 undefined, 1 highest .. 9 lowest).
	Priority int
	Color    string
	// AlarmDaysBefore is taken from the first VALARM with a whole-day
	// relative TRIGGER; -1 when the event has none.
	AlarmDaysBefore int

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID (if present)
	IsOverride bool       // true if this VEVENT overrides one recurring instance
}

// ParseICS parses a single ICS payload into a list of ParsedEvent.
//
//   - It relies on the underlying library's VTIMEZONE/TZID handling to
//     construct proper time.Time values (with Location set).
//   - It detects all-day events by inspecting the DTSTART value format.
//   - It records RRULE/EXDATE/RECURRENCE-ID; NextOccurrence resolves them.
//
// A VEVENT that cannot be read is logged and skipped; the returned count of
// skipped components lets callers report it.
func ParseICS(body []byte) ([]ParsedEvent, int, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, 0, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err)
		return nil, 0, err
	}

	events := make([]ParsedEvent, 0)
	skipped := 0

	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(comp)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Error("ics vevent parse failed", perr, "uid", ev.UID)
			skipped++
			continue
		}
		events = append(events, ev)
	}

	appLog.Info("ics parse completed", "event_count", len(events), "skipped", skipped)
	return events, skipped, nil
}

func parseVEvent(ve *ical.VEvent) (ParsedEvent, error) {
	out := ParsedEvent{AlarmDaysBefore: -1}

	// UID is optional for import; ids are re-assigned anyway.
	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.UID = p.Value
	}

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if strings.TrimSpace(out.Summary) == "" {
		return out, errors.New("missing SUMMARY")
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}

	dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStartProp == nil || dtStartProp.Value == "" {
		return out, errors.New("missing DTSTART")
	}

	// VALUE=DATE or no 'T' in the value -> all-day
	if vs, ok := dtStartProp.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		out.AllDay = true
	}
	if !strings.Contains(dtStartProp.Value, "T") {
		out.AllDay = true
	}

	var (
		start time.Time
		err   error
	)
	if out.AllDay {
		start, err = ve.GetAllDayStartAt()
	} else {
		start, err = ve.GetStartAt()
	}
	if err != nil {
		// Fall back to the basic forms so a missing VTIMEZONE does not lose the event.
		start, err = parseICSTime(dtStartProp.Value)
		if err != nil {
			return out, fmt.Errorf("DTSTART %q: %w", dtStartProp.Value, err)
		}
	}
	out.Start = start

	if p := ve.GetProperty(ical.ComponentPropertyPriority); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil && n >= 0 && n <= 9 {
			out.Priority = n
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertyColor); p != nil {
		out.Color = strings.TrimSpace(p.Value)
	}

	for _, alarm := range ve.Alarms() {
		p := alarm.GetProperty(ical.ComponentPropertyTrigger)
		if p == nil {
			continue
		}
		if days, ok := parseDayTrigger(p.Value); ok {
			out.AlarmDaysBefore = days
			break
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	// EXDATE (can appear multiple times, each possibly a list)
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if ridProp := ve.GetProperty(ical.ComponentPropertyRecurrenceId); ridProp != nil {
		if t, err := parseICSTime(ridProp.Value); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out, nil
}

// parseDayTrigger reads a relative TRIGGER of whole days before the start,
// e.g. "-P7D", "-P1W" or "PT0S" (at start).
func parseDayTrigger(v string) (int, bool) {
	v = strings.ToUpper(strings.TrimSpace(v))
	switch v {
	case "PT0S", "-PT0S", "P0D", "-P0D", "PT0M", "-PT0M":
		return 0, true
	}
	if !strings.HasPrefix(v, "-P") || strings.Contains(v, "T") {
		return 0, false
	}

	body := strings.TrimPrefix(v, "-P")
	mult := 0
	switch {
	case strings.HasSuffix(body, "D"):
		mult = 1
	case strings.HasSuffix(body, "W"):
		mult = 7
	default:
		return 0, false
	}

	n, err := strconv.Atoi(body[:len(body)-1])
	if err != nil || n < 0 {
		return 0, false
	}
	return n * mult, true
}

// parseICSTime parses a basic ICS date/date-time string into time.Time.
// Used for EXDATE/RECURRENCE-ID where parameter context is not applied.
func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}

	// Local date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, time.Local)
	}

	// Date-only (all-day), e.g., 20250101
	return time.ParseInLocation("20060102", v, time.Local)
}
