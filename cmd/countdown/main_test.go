package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"countdown/internal/config"
	appLog "countdown/internal/log"
	"countdown/internal/model"
	"countdown/internal/notify"
	"countdown/internal/store"
	"countdown/internal/theme"
	"countdown/internal/validator"
	"countdown/internal/web"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(store.Options{Path: filepath.Join(t.TempDir(), "countdown.db")})
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestIsICS(t *testing.T) {
	tests := map[string]bool{
		"events.ics":  true,
		"EVENTS.ICS":  true,
		"cal.ical":    true,
		"events.json": false,
		"events":      false,
	}
	for path, want := range tests {
		if got := isICS(path); got != want {
			t.Errorf("isICS(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestExportImportFile(t *testing.T) {
	ctx := context.Background()
	src := openStore(t)

	days := 3
	_, err := src.Create(ctx, model.EventInput{
		Name:                   "Launch",
		EventDate:              "2099-01-15",
		NotificationDaysBefore: &days,
		Priority:               model.PriorityHigh,
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"events.json", "events.ics"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			if err := exportFile(ctx, src, path, time.UTC); err != nil {
				t.Fatalf("exportFile() failed: %v", err)
			}

			dst := openStore(t)
			if err := importFile(ctx, dst, path, time.UTC); err != nil {
				t.Fatalf("importFile() failed: %v", err)
			}

			got, err := dst.List(ctx, true)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 1 {
				t.Fatalf("got %d events, want 1", len(got))
			}
			if got[0].Name != "Launch" || got[0].DateString() != "2099-01-15" {
				t.Errorf("imported %q on %s", got[0].Name, got[0].DateString())
			}
			if got[0].Priority != model.PriorityHigh {
				t.Errorf("priority = %v, want High", got[0].Priority)
			}
		})
	}
}

func TestImportFileRejectsEmptyResult(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`[{"name": "", "event_date": "nope"}]`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := importFile(context.Background(), openStore(t), path, time.UTC); err == nil {
		t.Fatal("expected an error when no entry could be imported")
	}
}

func TestApplyReload(t *testing.T) {
	st := openStore(t)

	d, err := notify.New(notify.Options{Repo: st, Sink: notify.NewLogSink()})
	if err != nil {
		t.Fatal(err)
	}
	srv, err := web.NewServer(web.Options{Store: st, Themes: theme.NewManager(st, validator.MustNew())})
	if err != nil {
		t.Fatal(err)
	}

	cur := config.DefaultConfig()
	next := config.DefaultConfig()
	next.CheckCron = "*/5 * * * *"
	next.Timezone = "Europe/Berlin"
	next.LogLevel = "debug"
	next.Listen = "0.0.0.0:9090"

	applyReload(cur, next, d, srv)
	t.Cleanup(func() { appLog.SetLevel(appLog.ParseLevel(config.DefaultLogLevel)) })

	if cur.CheckCron != next.CheckCron || cur.Timezone != next.Timezone || cur.LogLevel != next.LogLevel {
		t.Errorf("reloadable fields not applied: %+v", cur)
	}
	if cur.Listen != config.DefaultListen {
		t.Errorf("listen changed to %q, want restart-only", cur.Listen)
	}
}
