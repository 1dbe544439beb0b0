package handlers

import (
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/conflict"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/suggest"
)

func daysView(days []availability.Day) []dayView {
	out := make([]dayView, 0, len(days))
	for _, d := range days {
		out = append(out, dayView{Date: d.Date.String(), Intervals: windowsOf(d.Intervals)})
	}
	return out
}

func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	providerID := strings.TrimSpace(r.URL.Query().Get("provider_id"))
	if providerID == "" {
		http.Error(w, "provider_id is required", http.StatusBadRequest)
		return
	}
	from, to, err := dateRange(r)
	if err != nil {
		http.Error(w, "date or from/to required (YYYY-MM-DD)", http.StatusBadRequest)
		return
	}

	days, err := h.engine.ResolveRange(r.Context(), providerID, from, to)
	if err != nil {
		h.writeError(w, r, err, "failed to resolve availability")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider_id": providerID,
		"days":        daysView(days),
	})
}

// FreeSlots serves a single date or a range. exclude_other_pending is honoured
// only for the provider viewing their own calendar.
func (h *Handler) FreeSlots(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	providerID := strings.TrimSpace(r.URL.Query().Get("provider_id"))
	if providerID == "" {
		http.Error(w, "provider_id is required", http.StatusBadRequest)
		return
	}
	from, to, err := dateRange(r)
	if err != nil {
		http.Error(w, "date or from/to required (YYYY-MM-DD)", http.StatusBadRequest)
		return
	}
	var opts conflict.Options
	if queryBool(r, "exclude_other_pending") {
		if providerIDFromHeader(r) != providerID {
			http.Error(w, "exclude_other_pending is only available to the provider", http.StatusForbidden)
			return
		}
		opts.ExcludeOtherPending = true
	}

	days, err := h.engine.FreeRange(r.Context(), providerID, from, to, opts)
	if err != nil {
		h.writeError(w, r, err, "failed to compute free slots")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider_id": providerID,
		"days":        daysView(days),
	})
}

type slotView struct {
	Date  string `json:"date"`
	Start string `json:"start"`
	End   string `json:"end"`
}

func (h *Handler) Suggestions(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	providerID := strings.TrimSpace(q.Get("provider_id"))
	if providerID == "" {
		http.Error(w, "provider_id is required", http.StatusBadRequest)
		return
	}
	from, to, err := dateRange(r)
	if err != nil {
		http.Error(w, "from and to are required (YYYY-MM-DD)", http.StatusBadRequest)
		return
	}
	duration, err := queryInt(r, "duration_minutes", 0)
	if err != nil || duration <= 0 {
		http.Error(w, "duration_minutes must be a positive integer", http.StatusBadRequest)
		return
	}
	limit, err := queryInt(r, "limit", 20)
	if err != nil || limit < 0 {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return
	}

	req := suggest.Request{From: from, To: to, Duration: duration, Limit: limit}
	if raw := strings.TrimSpace(q.Get("preferred_date")); raw != "" {
		pref, err := parseDate(raw)
		if err != nil {
			http.Error(w, "invalid preferred_date", http.StatusBadRequest)
			return
		}
		req.Preferred = &pref
	}

	slots, err := h.engine.Suggest(r.Context(), providerID, req)
	if err != nil {
		h.writeError(w, r, err, "failed to suggest slots")
		return
	}
	out := make([]slotView, 0, len(slots))
	for _, s := range slots {
		win := windowOf(s.Window)
		out = append(out, slotView{Date: s.Date.String(), Start: win.Start, End: win.End})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider_id": providerID,
		"slots":       out,
	})
}

func (h *Handler) SlotGrid(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	providerID := strings.TrimSpace(q.Get("provider_id"))
	if providerID == "" {
		http.Error(w, "provider_id is required", http.StatusBadRequest)
		return
	}
	date, err := parseDate(q.Get("date"))
	if err != nil {
		http.Error(w, "date is required (YYYY-MM-DD)", http.StatusBadRequest)
		return
	}
	duration, err := queryInt(r, "duration_minutes", 0)
	if err != nil || duration <= 0 {
		http.Error(w, "duration_minutes must be a positive integer", http.StatusBadRequest)
		return
	}
	step, err := queryInt(r, "step_minutes", 0)
	if err != nil || step < 0 {
		http.Error(w, "invalid step_minutes", http.StatusBadRequest)
		return
	}

	slots, err := h.engine.SlotGrid(r.Context(), providerID, date, duration, step)
	if err != nil {
		h.writeError(w, r, err, "failed to build slot grid")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider_id": providerID,
		"date":        date.String(),
		"slots":       windowsOf(slots),
	})
}
