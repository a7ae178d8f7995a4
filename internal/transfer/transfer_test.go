package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"countdown/internal/goerror"
	"countdown/internal/model"
	"countdown/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Options{Path: filepath.Join(t.TempDir(), "events.db")})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

type eventView struct {
	Name, Description, Date string
	Active, Notify          bool
	Days                    int
	Priority                model.Priority
	Color                   string
}

func snapshot(t *testing.T, s *store.Store) []eventView {
	t.Helper()
	events, err := s.List(context.Background(), false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		out = append(out, eventView{
			e.Name, e.Description, e.DateString(),
			e.IsActive, e.NotificationEnabled,
			e.NotificationDaysBefore, e.Priority, e.ThemeColor,
		})
	}
	return out
}

func TestJSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := openStore(t)

	inputs := []model.EventInput{
		{Name: "Launch", EventDate: "2025-12-31", Priority: model.PriorityHigh, NotificationDaysBefore: ptr(7)},
		{Name: "Quiet", Description: "no alerts", EventDate: "2026-01-05", NotificationEnabled: ptr(false), ThemeColor: "#123456"},
		{Name: "Gone", EventDate: "2025-03-01", Priority: model.PriorityUrgent},
	}
	var ids []string
	for _, in := range inputs {
		id, err := src.Create(ctx, in)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, id)
	}
	if err := src.SoftDelete(ctx, ids[2]); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	events, _ := src.List(ctx, false)
	var buf bytes.Buffer
	if err := ExportJSON(&buf, events); err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}

	dst := openStore(t)
	res, err := ImportJSON(ctx, &buf, dst)
	if err != nil {
		t.Fatalf("ImportJSON: %v", err)
	}
	if res.Imported != 3 || res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}
	for _, id := range res.IDs {
		for _, old := range ids {
			if id == old {
				t.Fatalf("import reused id %s", id)
			}
		}
	}

	want, got := snapshot(t, src), snapshot(t, dst)
	if len(want) != len(got) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if want[i] != got[i] {
			t.Errorf("event %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestImportJSONPartialFailure(t *testing.T) {
	dst := openStore(t)

	body := `[
		{"name": "Good", "event_date": "2025-10-01", "priority": "critical"},
		{"name": "Bad date", "event_date": "2025-13-40"},
		{"name": "", "event_date": "2025-10-02"},
		{"name": "Bad priority", "event_date": "2025-10-03", "priority": "whenever"},
		"not an object",
		{"name": "Legacy", "target_date": "2025-11-11T00:00:00", "priority": "medium"}
	]`

	res, err := ImportJSON(context.Background(), strings.NewReader(body), dst)
	if err != nil {
		t.Fatalf("ImportJSON: %v", err)
	}
	if res.Imported != 2 || res.Failed != 4 || len(res.Errors) != 4 {
		t.Fatalf("result = %+v", res)
	}

	wantIdx := []int{1, 2, 3, 4}
	for i, e := range res.Errors {
		if e.Index != wantIdx[i] {
			t.Errorf("error %d index = %d, want %d", i, e.Index, wantIdx[i])
		}
	}
	if res.Errors[0].Fields["event_date"] == "" {
		t.Errorf("bad date should be reported on event_date: %+v", res.Errors[0])
	}

	events, _ := dst.List(context.Background(), true)
	if len(events) != 2 {
		t.Fatalf("stored %d events", len(events))
	}
	byName := map[string]model.Event{}
	for _, e := range events {
		byName[e.Name] = e
	}
	if byName["Good"].Priority != model.PriorityCritical {
		t.Errorf("string priority not mapped: %+v", byName["Good"])
	}
	if byName["Legacy"].DateString() != "2025-11-11" || byName["Legacy"].Priority != model.PriorityMedium {
		t.Errorf("legacy record not mapped: %+v", byName["Legacy"])
	}
}

type flakyStore struct {
	inputs []model.EventInput
	failAt int
}

func (s *flakyStore) Create(_ context.Context, in model.EventInput) (string, error) {
	s.inputs = append(s.inputs, in)
	if len(s.inputs) == s.failAt {
		return "", goerror.NewStoreIO(errors.New("database is locked"))
	}
	return fmt.Sprintf("evt-%d", len(s.inputs)), nil
}

func TestImportJSONInactiveInOneWrite(t *testing.T) {
	st := &flakyStore{failAt: 3}
	body := `[
		{"name": "Archived", "event_date": "2025-01-01", "is_active": false},
		{"name": "Current", "event_date": "2025-02-01"},
		{"name": "Broken write", "event_date": "2025-03-01", "is_active": false}
	]`

	res, err := ImportJSON(context.Background(), strings.NewReader(body), st)
	if !goerror.IsStoreIO(err) {
		t.Fatalf("expected store error to abort the import, got %v", err)
	}
	if res.Imported != 2 || len(st.inputs) != 3 {
		t.Fatalf("result = %+v, writes = %d", res, len(st.inputs))
	}
	if !st.inputs[0].Inactive || st.inputs[1].Inactive || !st.inputs[2].Inactive {
		t.Fatalf("inactive flag not passed through: %+v", st.inputs)
	}
}

func TestImportJSONLegacySingleObject(t *testing.T) {
	dst := openStore(t)

	res, err := ImportJSON(context.Background(), strings.NewReader(`{"event": "Trip", "date": "2025-08-20"}`), dst)
	if err != nil || res.Imported != 1 {
		t.Fatalf("ImportJSON = %+v, %v", res, err)
	}
	events, _ := dst.List(context.Background(), true)
	if len(events) != 1 || events[0].Name != "Trip" || events[0].DateString() != "2025-08-20" {
		t.Fatalf("events = %+v", events)
	}
}

func TestImportJSONRejectsGarbage(t *testing.T) {
	for _, body := range []string{"", "nope", "[{"} {
		_, err := ImportJSON(context.Background(), strings.NewReader(body), openStore(t))
		if goerror.KindOf(err) != goerror.KindInvalidFormat {
			t.Errorf("body %q: expected invalid format, got %v", body, err)
		}
	}
}

func TestICSRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := openStore(t)

	for _, in := range []model.EventInput{
		{Name: "Launch", EventDate: "2025-12-31", Priority: model.PriorityHigh, NotificationDaysBefore: ptr(7)},
		{Name: "Quiet", EventDate: "2026-01-05", NotificationEnabled: ptr(false), Priority: model.PriorityMedium},
	} {
		if _, err := src.Create(ctx, in); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	hidden, _ := src.Create(ctx, model.EventInput{Name: "Hidden", EventDate: "2026-02-01"})
	_ = src.SoftDelete(ctx, hidden)

	events, _ := src.List(ctx, false)
	var buf bytes.Buffer
	if err := ExportICS(&buf, events, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("ExportICS: %v", err)
	}
	if strings.Contains(buf.String(), "Hidden") {
		t.Fatal("soft-deleted event exported to iCalendar")
	}

	dst := openStore(t)
	res, err := ImportICS(ctx, &buf, dst, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	if err != nil || res.Imported != 2 || res.Failed != 0 {
		t.Fatalf("ImportICS = %+v, %v", res, err)
	}

	active, _ := src.List(ctx, true)
	want := make([]eventView, 0, len(active))
	for _, e := range active {
		want = append(want, eventView{e.Name, e.Description, e.DateString(), e.IsActive, e.NotificationEnabled, 0, e.Priority, e.ThemeColor})
		if e.NotificationEnabled {
			want[len(want)-1].Days = e.NotificationDaysBefore
		}
	}
	got := snapshot(t, dst)
	for i := range got {
		if !got[i].Notify {
			// Without an alarm there is nothing to carry the lead time.
			got[i].Days = 0
		}
	}
	if len(got) != len(want) {
		t.Fatalf("got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if want[i] != got[i] {
			t.Errorf("event %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestImportResultJSONShape(t *testing.T) {
	res, err := ImportJSON(context.Background(), strings.NewReader(`[]`), openStore(t))
	if err != nil {
		t.Fatal(err)
	}
	b, _ := json.Marshal(res)
	if string(b) != `{"imported":0,"failed":0,"ids":[],"errors":[]}` {
		t.Fatalf("unexpected shape %s", b)
	}
}
