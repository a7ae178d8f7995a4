// Package transfer moves events in and out of the store as JSON or
// iCalendar files.
//
// Import is per-entry: every record is validated on its own, valid entries
// are created with fresh ids and the rest are reported.
package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/samber/lo"

	"countdown/internal/goerror"
	"countdown/internal/ics"
	appLog "countdown/internal/log"
	"countdown/internal/model"
)

// Store is what an import writes to.
type Store interface {
	Create(ctx context.Context, in model.EventInput) (string, error)
}

// Record is one exported event.
type Record struct {
	ID                     string         `json:"id"`
	Name                   string         `json:"name"`
	Description            string         `json:"description"`
	EventDate              string         `json:"event_date"`
	CreatedAt              time.Time      `json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`
	IsActive               bool           `json:"is_active"`
	NotificationEnabled    bool           `json:"notification_enabled"`
	NotificationDaysBefore int            `json:"notification_days_before"`
	Priority               model.Priority `json:"priority"`
	ThemeColor             string         `json:"theme_color"`
}

// NewRecord converts an event to its export form.
func NewRecord(e model.Event) Record {
	return Record{
		ID:                     e.ID,
		Name:                   e.Name,
		Description:            e.Description,
		EventDate:              e.DateString(),
		CreatedAt:              e.CreatedAt,
		UpdatedAt:              e.UpdatedAt,
		IsActive:               e.IsActive,
		NotificationEnabled:    e.NotificationEnabled,
		NotificationDaysBefore: e.NotificationDaysBefore,
		Priority:               e.Priority,
		ThemeColor:             e.ThemeColor,
	}
}

// EntryError describes one rejected import entry.
type EntryError struct {
	Index  int               `json:"index"`
	Name   string            `json:"name,omitempty"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Result summarizes an import.
type Result struct {
	Imported int          `json:"imported"`
	Failed   int          `json:"failed"`
	IDs      []string     `json:"ids"`
	Errors   []EntryError `json:"errors"`
}

// ExportJSON writes events as an indented JSON array.
func ExportJSON(w io.Writer, events []model.Event) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(lo.Map(events, func(e model.Event, _ int) Record { return NewRecord(e) }))
}

// ExportICS writes the active events as an iCalendar document.
func ExportICS(w io.Writer, events []model.Event, now time.Time) error {
	active := lo.Filter(events, func(e model.Event, _ int) bool { return e.IsActive })
	return ics.Export(w, active, now)
}

// importRecord accepts the current export format plus the older shapes:
// target_date as an ISO date-time, priority as a name, and the single
// {"event": ..., "date": ...} object of the first release.
type importRecord struct {
	Name                   string          `json:"name"`
	LegacyName             string          `json:"event"`
	Description            string          `json:"description"`
	EventDate              string          `json:"event_date"`
	TargetDate             string          `json:"target_date"`
	LegacyDate             string          `json:"date"`
	IsActive               *bool           `json:"is_active"`
	NotificationEnabled    *bool           `json:"notification_enabled"`
	NotificationDaysBefore *int            `json:"notification_days_before"`
	Priority               json.RawMessage `json:"priority"`
	ThemeColor             string          `json:"theme_color"`
}

// ImportJSON reads a JSON array of records (or a single legacy object) and
// creates one event per valid entry. Only an undecodable document fails the
// whole import.
func ImportJSON(ctx context.Context, r io.Reader, st Store) (Result, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return Result{}, goerror.NewInvalidFormat(err)
	}

	var raws []json.RawMessage
	trimmed := bytes.TrimSpace(body)
	switch {
	case bytes.HasPrefix(trimmed, []byte("[")):
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return Result{}, goerror.NewInvalidFormat(err)
		}
	case bytes.HasPrefix(trimmed, []byte("{")):
		raws = []json.RawMessage{trimmed}
	default:
		return Result{}, goerror.NewInvalidFormat(errors.New("expected a JSON array of events"))
	}

	res := newResult()
	for i, raw := range raws {
		var rec importRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			res.fail(i, "", goerror.NewInvalidFormat(err))
			continue
		}

		in, err := rec.input()
		if err != nil {
			res.fail(i, in.Name, err)
			continue
		}

		active := rec.IsActive == nil || *rec.IsActive
		if err := res.create(ctx, st, i, in, active); err != nil {
			return res, err
		}
	}

	appLog.Info("json import finished", "imported", res.Imported, "failed", res.Failed)
	return res, nil
}

// ImportICS reads an iCalendar document. Recurring events are pinned to their
// next occurrence on or after asOf.
func ImportICS(ctx context.Context, r io.Reader, st Store, asOf time.Time) (Result, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return Result{}, goerror.NewInvalidFormat(err)
	}

	parsed, skipped, err := ics.ParseICS(body)
	if err != nil {
		return Result{}, goerror.NewInvalidFormat(err)
	}

	res := newResult()
	for i := range skipped {
		res.fail(i, "", goerror.NewInvalidFormat(errors.New("unreadable VEVENT")))
	}

	resolved := ics.Resolve(parsed, asOf)
	for _, uid := range resolved.Dropped {
		res.fail(len(res.Errors), uid, goerror.NewValidation(ics.ErrNoOccurrence, "event_date", "recurrence has no usable occurrence"))
	}

	base := skipped + len(resolved.Dropped)
	for i, ev := range resolved.Events {
		if err := res.create(ctx, st, base+i, ev.Input(), true); err != nil {
			return res, err
		}
	}

	appLog.Info("ics import finished", "imported", res.Imported, "failed", res.Failed)
	return res, nil
}

func newResult() Result {
	return Result{IDs: []string{}, Errors: []EntryError{}}
}

// create stores one entry. Validation failures are recorded on the result;
// any other error aborts the import and is returned.
func (res *Result) create(ctx context.Context, st Store, idx int, in model.EventInput, active bool) error {
	in.Inactive = !active
	id, err := st.Create(ctx, in)
	if goerror.IsValidation(err) {
		res.fail(idx, in.Name, err)
		return nil
	}
	if err != nil {
		return err
	}

	res.Imported++
	res.IDs = append(res.IDs, id)
	return nil
}

func (res *Result) fail(idx int, name string, err error) {
	entry := EntryError{Index: idx, Name: name, Error: err.Error()}
	var e *goerror.Error
	if errors.As(err, &e) {
		entry.Fields = e.Fields()
	}
	res.Failed++
	res.Errors = append(res.Errors, entry)
}

func (rec importRecord) input() (model.EventInput, error) {
	in := model.EventInput{
		Name:                   lo.CoalesceOrEmpty(rec.Name, rec.LegacyName),
		Description:            rec.Description,
		NotificationEnabled:    rec.NotificationEnabled,
		NotificationDaysBefore: rec.NotificationDaysBefore,
		ThemeColor:             rec.ThemeColor,
	}

	in.EventDate = normalizeDate(lo.CoalesceOrEmpty(rec.EventDate, rec.TargetDate, rec.LegacyDate))

	p, err := parsePriority(rec.Priority)
	if err != nil {
		return in, goerror.NewValidation(err, "priority", err.Error())
	}
	in.Priority = p

	return in, nil
}

// normalizeDate reduces an ISO date-time ("2025-12-31T00:00:00") to its
// date part; anything else is left for validation to judge.
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > len(model.DateLayout) && (s[len(model.DateLayout)] == 'T' || s[len(model.DateLayout)] == ' ') {
		return s[:len(model.DateLayout)]
	}
	return s
}

// parsePriority accepts the canonical integer or a legacy name. A missing
// priority yields 0 so the store default applies.
func parsePriority(raw json.RawMessage) (model.Priority, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, nil
	}

	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return model.Priority(n), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, errors.New("priority must be a number or a name")
	}
	p, ok := model.ParsePriority(s)
	if !ok {
		return 0, fmt.Errorf("unknown priority %q", s)
	}
	return p, nil
}
