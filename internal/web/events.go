package web

import (
	"net/http"
	"time"

	"github.com/samber/lo"

	"countdown/internal/engine"
	appLog "countdown/internal/log"
	"countdown/internal/model"
	"countdown/internal/theme"
	"countdown/internal/transfer"
)

// eventDTO is an event as the API shows it: the export record plus values
// derived for today.
type eventDTO struct {
	transfer.Record
	PriorityName  string `json:"priority_name"`
	DaysRemaining int    `json:"days_remaining"`
	StatusColor   string `json:"status_color"`
}

func newEventDTO(e model.Event, days int) eventDTO {
	return eventDTO{
		Record:        transfer.NewRecord(e),
		PriorityName:  e.Priority.String(),
		DaysRemaining: days,
		StatusColor:   theme.DaysRemainingColor(days, e.Priority),
	}
}

func rankedDTOs(rs []engine.Ranked) []eventDTO {
	return lo.Map(rs, func(r engine.Ranked, _ int) eventDTO {
		return newEventDTO(r.Event, r.DaysRemaining)
	})
}

type summaryResponse struct {
	State    engine.State `json:"state"`
	Active   int          `json:"active"`
	Upcoming int          `json:"upcoming"`
	Past     int          `json:"past"`
	Next     *eventDTO    `json:"next"`
	Today    string       `json:"today"`
}

type triggerDTO struct {
	Kind   model.TriggerKind `json:"kind"`
	Date   string            `json:"date"`
	SentAt time.Time         `json:"sent_at"`
}

// handleListEvents returns upcoming active events ranked soonest first.
//
// GET /api/events?all=1 returns every stored event (inactive and past
// included) in storage order instead.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := s.today()

	if isTrue(r.URL.Query().Get("all")) {
		events, err := s.store.List(ctx, false)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, lo.Map(events, func(e model.Event, _ int) eventDTO {
			return newEventDTO(e, engine.DaysRemaining(e, now))
		}))
		return
	}

	events, err := s.store.List(ctx, true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rankedDTOs(engine.Rank(events, now)))
}

func (s *Server) handlePastEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.List(r.Context(), true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rankedDTOs(engine.Past(events, s.today())))
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.List(r.Context(), true)
	if err != nil {
		writeError(w, r, err)
		return
	}

	now := s.today()
	sum := engine.Summarize(events, now)
	resp := summaryResponse{
		State:    sum.State,
		Active:   sum.Active,
		Upcoming: sum.Upcoming,
		Past:     sum.Past,
		Today:    model.DateOf(now).Format(model.DateLayout),
	}
	if sum.Next != nil {
		dto := newEventDTO(sum.Next.Event, sum.Next.DaysRemaining)
		resp.Next = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var in model.EventInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	id, err := s.store.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}

	appLog.Info("event created", "id", id, "date", in.EventDate)
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	e, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newEventDTO(e, engine.DaysRemaining(e, s.today())))
}

// handleUpdateEvent applies a partial update and returns the resulting event.
func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	var p model.EventPatch
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, r, err)
		return
	}

	changed, err := s.store.Update(ctx, id, p)
	if err != nil {
		writeError(w, r, err)
		return
	}

	e, err := s.store.Get(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if changed {
		appLog.Info("event updated", "id", id)
	}
	writeJSON(w, http.StatusOK, newEventDTO(e, engine.DaysRemaining(e, s.today())))
}

// handleDeleteEvent soft-deletes by default; ?hard=1 removes the event and
// its trigger log for good.
func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	var err error
	if isTrue(r.URL.Query().Get("hard")) {
		err = s.store.HardDelete(ctx, id)
	} else {
		err = s.store.SoftDelete(ctx, id)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestoreEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	if err := s.store.Restore(ctx, id); err != nil {
		writeError(w, r, err)
		return
	}
	e, err := s.store.Get(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newEventDTO(e, engine.DaysRemaining(e, s.today())))
}

func (s *Server) handleEventTriggers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	if _, err := s.store.Get(ctx, id); err != nil {
		writeError(w, r, err)
		return
	}
	sent, err := s.store.ListTriggers(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(sent, func(t model.SentTrigger, _ int) triggerDTO {
		return triggerDTO{Kind: t.Kind, Date: t.Date, SentAt: t.SentAt}
	}))
}

func isTrue(v string) bool {
	switch v {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
