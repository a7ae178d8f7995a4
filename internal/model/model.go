package model

import (
	"strconv"
	"strings"
	"time"
)

// DateLayout is the wire and storage format of event dates.
const DateLayout = "2006-01-02"

// Defaults applied when an EventInput leaves a field unset.
const (
	DefaultThemeColor             = "#013220"
	DefaultNotificationDaysBefore = 1
	DefaultPriority               = PriorityLow
)

// Event is a user-defined deadline or occasion.
//
// EventDate holds a calendar date at midnight UTC; the time of day carries no
// meaning.
type Event struct {
	ID          string
	Name        string
	Description string
	EventDate   time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	IsActive               bool
	NotificationEnabled    bool
	NotificationDaysBefore int
	Priority               Priority
	ThemeColor             string
}

// DateString returns EventDate formatted as YYYY-MM-DD.
func (e Event) DateString() string {
	return e.EventDate.Format(DateLayout)
}

// EventInput is the payload for creating an event. Nil pointers take the
// package defaults.
type EventInput struct {
	Name                   string   `json:"name" validate:"notblank,max=200"`
	Description            string   `json:"description" validate:"max=2000"`
	EventDate              string   `json:"event_date" validate:"required,datetime=2006-01-02"`
	NotificationEnabled    *bool    `json:"notification_enabled"`
	NotificationDaysBefore *int     `json:"notification_days_before" validate:"omitempty,gte=0,lte=3650"`
	Priority               Priority `json:"priority" validate:"omitempty,gte=1,lte=5"`
	ThemeColor             string   `json:"theme_color" validate:"omitempty,hexcolor"`

	// Inactive stores the event soft-deleted. Only imports set it.
	Inactive bool `json:"-"`
}

// EventPatch lists the mutable fields of an event. Only non-nil fields are
// applied.
type EventPatch struct {
	Name                   *string   `json:"name" validate:"omitnil,notblank,max=200"`
	Description            *string   `json:"description" validate:"omitnil,max=2000"`
	EventDate              *string   `json:"event_date" validate:"omitnil,datetime=2006-01-02"`
	NotificationEnabled    *bool     `json:"notification_enabled"`
	NotificationDaysBefore *int      `json:"notification_days_before" validate:"omitnil,gte=0,lte=3650"`
	Priority               *Priority `json:"priority" validate:"omitnil,gte=1,lte=5"`
	ThemeColor             *string   `json:"theme_color" validate:"omitnil,hexcolor"`
	IsActive               *bool     `json:"is_active"`
}

// Empty reports whether the patch carries no field at all.
func (p EventPatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.EventDate == nil &&
		p.NotificationEnabled == nil && p.NotificationDaysBefore == nil &&
		p.Priority == nil && p.ThemeColor == nil && p.IsActive == nil
}

// ParseDate parses a YYYY-MM-DD string into midnight UTC.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(s))
}

// DateOf reduces t to its calendar date (in t's own location) at midnight UTC,
// so that two DateOf values differ by whole days.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Priority is the canonical integer ordinal 1 (Low) .. 5 (Urgent).
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityMedium   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
	PriorityUrgent   Priority = 5
)

// Priorities lists every valid priority, lowest first.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical, PriorityUrgent}

// Valid reports whether p is inside the closed 1..5 range.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityUrgent
}

// String returns the display name. Out-of-range values display as Low.
func (p Priority) String() string {
	switch p {
	case PriorityMedium:
		return "Medium"
	case PriorityHigh:
		return "High"
	case PriorityCritical:
		return "Critical"
	case PriorityUrgent:
		return "Urgent"
	default:
		return "Low"
	}
}

// ParsePriority accepts a display name ("high", "Urgent") or a digit string.
// It is the adapter for older files that stored priority as text.
func ParsePriority(s string) (Priority, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		p := Priority(n)
		return p, p.Valid()
	}
	for _, p := range Priorities {
		if strings.ToLower(p.String()) == s {
			return p, true
		}
	}
	return 0, false
}

// TriggerKind names a notification-worthy condition.
type TriggerKind string

const (
	TriggerReminder TriggerKind = "reminder"
	TriggerDueToday TriggerKind = "due-today"
	TriggerPassed   TriggerKind = "passed"
)

func (k TriggerKind) String() string {
	return string(k)
}

// Trigger is a notification condition computed for one event on one date.
type Trigger struct {
	EventID       string
	EventName     string
	Kind          TriggerKind
	Date          time.Time
	DaysRemaining int
}

// Key returns the dedup identity of the trigger.
func (t Trigger) Key() TriggerKey {
	return TriggerKey{EventID: t.EventID, Kind: t.Kind, Date: t.Date.Format(DateLayout)}
}

// TriggerKey identifies a trigger for at-most-once delivery per process run.
type TriggerKey struct {
	EventID string
	Kind    TriggerKind
	Date    string
}

// SentTrigger is a persisted record of a delivered trigger.
type SentTrigger struct {
	EventID string
	Kind    TriggerKind
	Date    string
	SentAt  time.Time
}
