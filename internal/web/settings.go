package web

import (
	"bytes"
	"fmt"
	"net/http"

	"countdown/internal/goerror"
	appLog "countdown/internal/log"
	"countdown/internal/model"
	"countdown/internal/notify"
	"countdown/internal/theme"
	"countdown/internal/transfer"
)

// handleExportJSON downloads every stored event, inactive ones included.
func (s *Server) handleExportJSON(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.List(r.Context(), false)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// Encode first so a failure can still produce an error response.
	var buf bytes.Buffer
	if err := transfer.ExportJSON(&buf, events); err != nil {
		writeError(w, r, err)
		return
	}
	s.download(w, "application/json; charset=utf-8", "json", buf.Bytes())
}

// handleExportICS downloads the active events as an iCalendar file.
func (s *Server) handleExportICS(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.List(r.Context(), true)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := transfer.ExportICS(&buf, events, s.clock.Now()); err != nil {
		writeError(w, r, err)
		return
	}
	s.download(w, "text/calendar; charset=utf-8", "ics", buf.Bytes())
}

func (s *Server) download(w http.ResponseWriter, contentType, ext string, body []byte) {
	name := fmt.Sprintf("countdown-events-%s.%s", model.DateOf(s.today()).Format("20060102"), ext)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// handleImport creates events from an uploaded file.
//
// POST /api/import takes a JSON export as the body; ?format=ics takes an
// iCalendar file instead. Entries are imported one by one and the response
// lists the ones that were rejected.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var (
		res transfer.Result
		err error
	)
	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		res, err = transfer.ImportJSON(ctx, body, s.store)
	case "ics", "ical":
		res, err = transfer.ImportICS(ctx, body, s.store, s.today())
	default:
		err = goerror.NewValidation(nil, "format", fmt.Sprintf("unsupported import format %q", format))
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	appLog.Info("import finished", "imported", res.Imported, "failed", res.Failed)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListThemes(w http.ResponseWriter, r *http.Request) {
	list, err := s.themes.Available(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleSaveTheme(w http.ResponseWriter, r *http.Request) {
	var in theme.CustomInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	t, err := s.themes.SaveCustom(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleCurrentTheme(w http.ResponseWriter, r *http.Request) {
	t, err := s.themes.Current(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleSetTheme selects a theme: PUT /api/theme {"id": "dark"}.
func (s *Server) handleSetTheme(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.themes.Set(ctx, req.ID); err != nil {
		writeError(w, r, err)
		return
	}
	s.handleCurrentTheme(w, r)
}

func (s *Server) handlePriorities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, theme.Priorities())
}

// handleTestNotification sends the fixed test message through the sink.
func (s *Server) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	if err := notify.SendTest(r.Context(), s.sink); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sent":    true,
		"title":   notify.TestTitle,
		"message": notify.TestMessage,
	})
}
