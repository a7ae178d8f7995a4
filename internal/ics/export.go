package ics

import (
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"countdown/internal/model"
)

// ProductID identifies calendars written by Export.
const ProductID = "-//countdown//Countdown Events//EN"

// Export writes events as an iCalendar document. Each event becomes an
// all-day VEVENT; events with notifications enabled carry a DISPLAY alarm
// notification_days_before days ahead.
func Export(w io.Writer, events []model.Event, now time.Time) error {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(ProductID)

	for _, e := range events {
		ve := cal.AddEvent(e.ID + "@countdown")
		ve.SetDtStampTime(now)
		if !e.CreatedAt.IsZero() {
			ve.SetCreatedTime(e.CreatedAt)
		}
		if !e.UpdatedAt.IsZero() {
			ve.SetModifiedAt(e.UpdatedAt)
		}

		ve.SetSummary(e.Name)
		if e.Description != "" {
			ve.SetDescription(e.Description)
		}
		ve.SetAllDayStartAt(e.EventDate)
		ve.SetAllDayEndAt(e.EventDate.AddDate(0, 0, 1))
		ve.SetPriority(PriorityToICal(e.Priority))
		if e.ThemeColor != "" {
			ve.SetColor(e.ThemeColor)
		}

		if e.NotificationEnabled {
			alarm := ve.AddAlarm()
			alarm.SetAction(ical.ActionDisplay)
			alarm.SetTrigger(fmt.Sprintf("-P%dD", e.NotificationDaysBefore))
			alarm.SetProperty(ical.ComponentPropertyDescription, e.Name)
		}
	}

	return cal.SerializeTo(w)
}

// PriorityToICal maps Low..Urgent onto the iCalendar 9 (lowest) .. 1
// (highest) scale.
func PriorityToICal(p model.Priority) int {
	switch p {
	case model.PriorityUrgent:
		return 1
	case model.PriorityCritical:
		return 3
	case model.PriorityHigh:
		return 5
	case model.PriorityMedium:
		return 7
	default:
		return 9
	}
}

// PriorityFromICal is the inverse of PriorityToICal. 0 (undefined) maps to 0
// so the store default applies.
func PriorityFromICal(n int) model.Priority {
	switch {
	case n <= 0 || n > 9:
		return 0
	case n <= 2:
		return model.PriorityUrgent
	case n <= 4:
		return model.PriorityCritical
	case n == 5:
		return model.PriorityHigh
	case n <= 7:
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}

// Input converts a resolved event into a creation payload.
func (r Resolved) Input() model.EventInput {
	in := model.EventInput{
		Name:        strings.TrimSpace(r.Event.Summary),
		Description: r.Event.Description,
		EventDate:   r.Date.Format(model.DateLayout),
		Priority:    PriorityFromICal(r.Event.Priority),
	}

	enabled := r.Event.AlarmDaysBefore >= 0
	in.NotificationEnabled = &enabled
	if enabled {
		days := r.Event.AlarmDaysBefore
		in.NotificationDaysBefore = &days
	}

	// Only hex colors are representable; CSS names are dropped.
	if strings.HasPrefix(r.Event.Color, "#") {
		in.ThemeColor = r.Event.Color
	}

	return in
}
