package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/md-rashed-zaman/studiobook/libs/httpx"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/model"
)

// ProviderIDHeader carries the acting provider, injected by the gateway.
const ProviderIDHeader = "X-Provider-Id"

type Handler struct {
	engine *booking.Engine
	logger *slog.Logger
}

func New(engine *booking.Engine, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/availability", h.Availability)
	mux.HandleFunc("/api/v1/free-slots", h.FreeSlots)
	mux.HandleFunc("/api/v1/suggestions", h.Suggestions)
	mux.HandleFunc("/api/v1/slot-grid", h.SlotGrid)

	mux.HandleFunc("/api/v1/provider/settings", h.ProviderSettings)
	mux.HandleFunc("/api/v1/provider/business-hours", h.BusinessHours)
	mux.HandleFunc("/api/v1/provider/rules", h.Rules)
	mux.HandleFunc("/api/v1/provider/rules/deactivate", h.DeactivateRule)
	mux.HandleFunc("/api/v1/provider/exceptions", h.Exceptions)

	mux.HandleFunc("/api/v1/bookings", h.Bookings)
	mux.HandleFunc("/api/v1/bookings/respond", h.Respond)
	mux.HandleFunc("/api/v1/bookings/reschedule", h.Reschedule)
	mux.HandleFunc("/api/v1/bookings/cancel", h.Cancel)
	mux.HandleFunc("/api/v1/bookings/complete", h.Complete)
	mux.HandleFunc("/api/v1/bookings/messages", h.Messages)
}

func providerIDFromHeader(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(ProviderIDHeader))
}

// actorFromHeaders prefers the provider identity when both headers are set.
func actorFromHeaders(r *http.Request) (model.Actor, bool) {
	if id := providerIDFromHeader(r); id != "" {
		return model.ProviderActor(id), true
	}
	if id := strings.TrimSpace(r.Header.Get(httpx.UserIDHeader)); id != "" {
		return model.ClientActor(id), true
	}
	return model.Actor{}, false
}

func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps engine error kinds onto HTTP statuses. Unexpected errors
// are logged and reported with fallback only.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var te *model.TransitionError
	switch {
	case errors.As(err, &te):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":     err.Error(),
			"current":   string(te.From),
			"attempted": string(te.Attempted),
		})
	case errors.Is(err, model.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, model.ErrInvalidInterval), errors.Is(err, model.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, model.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, model.ErrTooLate), errors.Is(err, model.ErrNotDue):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "request timed out", http.StatusGatewayTimeout)
	default:
		h.logger.ErrorContext(r.Context(), fallback, "err", err, "path", r.URL.Path)
		http.Error(w, fallback, http.StatusInternalServerError)
	}
}

func parseDate(s string) (civil.Date, error) {
	return civil.ParseDate(strings.TrimSpace(s))
}

// dateRange reads either date or from/to from the query string.
func dateRange(r *http.Request) (civil.Date, civil.Date, error) {
	q := r.URL.Query()
	if raw := q.Get("date"); raw != "" {
		d, err := parseDate(raw)
		return d, d, err
	}
	from, err := parseDate(q.Get("from"))
	if err != nil {
		return civil.Date{}, civil.Date{}, err
	}
	to, err := parseDate(q.Get("to"))
	if err != nil {
		return civil.Date{}, civil.Date{}, err
	}
	return from, to, nil
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get(key)))
	return v
}

// parseStart accepts either start_minute or an "HH:MM" start_time.
func parseStart(minute *int, clock string) (int, error) {
	if strings.TrimSpace(clock) != "" {
		return interval.ParseClock(clock)
	}
	if minute == nil {
		return 0, errors.New("start_time or start_minute required")
	}
	return *minute, nil
}

// window is the wire form of an interval: "HH:MM" clock strings.
type window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (w window) interval() (interval.Interval, error) {
	return interval.ParseRange(w.Start, w.End)
}

func windowOf(iv interval.Interval) window {
	return window{Start: interval.FormatClock(iv.Start), End: interval.FormatClock(iv.End)}
}

func windowsOf(set []interval.Interval) []window {
	out := make([]window, 0, len(set))
	for _, iv := range set {
		out = append(out, windowOf(iv))
	}
	return out
}

type dayView struct {
	Date      string   `json:"date"`
	Intervals []window `json:"intervals"`
}

func weekdayOf(n int) (time.Weekday, bool) {
	if n < 0 || n > 6 {
		return 0, false
	}
	return time.Weekday(n), true
}
