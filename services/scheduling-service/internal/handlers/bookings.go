package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/studiobook/libs/httpx"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/model"
)

type bookingView struct {
	ID              string `json:"id"`
	ProviderID      string `json:"provider_id"`
	ClientID        string `json:"client_id"`
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	DurationMinutes int    `json:"duration_minutes"`
	Status          string `json:"status"`
	Note            string `json:"note,omitempty"`
	BufferBefore    int    `json:"buffer_before_minutes"`
	BufferAfter     int    `json:"buffer_after_minutes"`
	RescheduledFrom string `json:"rescheduled_from,omitempty"`
	RescheduledTo   string `json:"rescheduled_to,omitempty"`
	DeclineReason   string `json:"decline_reason,omitempty"`
	CancelReason    string `json:"cancel_reason,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

func viewBooking(b model.BookingRequest) bookingView {
	return bookingView{
		ID:              b.ID,
		ProviderID:      b.ProviderID,
		ClientID:        b.ClientID,
		Date:            b.Date.String(),
		StartTime:       interval.FormatClock(b.Start),
		EndTime:         interval.FormatClock(b.Start + b.Duration),
		DurationMinutes: b.Duration,
		Status:          string(b.Status),
		Note:            b.Note,
		BufferBefore:    b.BufferBefore,
		BufferAfter:     b.BufferAfter,
		RescheduledFrom: b.RescheduledFrom,
		RescheduledTo:   b.RescheduledTo,
		DeclineReason:   b.DeclineReason,
		CancelReason:    b.CancelReason,
		CreatedAt:       b.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       b.UpdatedAt.Format(time.RFC3339),
	}
}

// Bookings submits a request as the client in X-User-Id (POST), fetches one
// booking by ?id= or lists a provider's bookings in from/to (GET).
func (h *Handler) Bookings(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	if r.Method == http.MethodPost {
		h.submit(w, r)
		return
	}

	actor, ok := actorFromHeaders(r)
	if !ok {
		http.Error(w, "missing X-Provider-Id or X-User-Id", http.StatusBadRequest)
		return
	}
	if id := strings.TrimSpace(r.URL.Query().Get("id")); id != "" {
		b, err := h.engine.GetBooking(r.Context(), actor, id)
		if err != nil {
			h.writeError(w, r, err, "failed to load booking")
			return
		}
		writeJSON(w, http.StatusOK, viewBooking(b))
		return
	}

	if actor.Role != model.SenderProvider {
		http.Error(w, "listing bookings requires X-Provider-Id", http.StatusForbidden)
		return
	}
	from, to, err := dateRange(r)
	if err != nil {
		http.Error(w, "date or from/to required (YYYY-MM-DD)", http.StatusBadRequest)
		return
	}
	var status model.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		if status, err = model.ParseStatus(raw); err != nil {
			h.writeError(w, r, err, "invalid status")
			return
		}
	}
	list, err := h.engine.ListBookings(r.Context(), actor.ID, from, to, status)
	if err != nil {
		h.writeError(w, r, err, "failed to list bookings")
		return
	}
	out := make([]bookingView, 0, len(list))
	for _, b := range list {
		out = append(out, viewBooking(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimSpace(r.Header.Get(httpx.UserIDHeader))
	if clientID == "" {
		http.Error(w, "missing X-User-Id", http.StatusBadRequest)
		return
	}
	var req struct {
		ProviderID      string `json:"provider_id"`
		Date            string `json:"date"`
		StartTime       string `json:"start_time"`
		StartMinute     *int   `json:"start_minute"`
		DurationMinutes int    `json:"duration_minutes"`
		Note            string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	if req.ProviderID == "" {
		http.Error(w, "provider_id is required", http.StatusBadRequest)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		http.Error(w, "date is required (YYYY-MM-DD)", http.StatusBadRequest)
		return
	}
	start, err := parseStart(req.StartMinute, req.StartTime)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	b, err := h.engine.SubmitBookingRequest(r.Context(), booking.SubmitRequest{
		ProviderID: req.ProviderID,
		ClientID:   clientID,
		Date:       date,
		Start:      start,
		Duration:   req.DurationMinutes,
		Note:       req.Note,
	})
	if err != nil {
		h.writeError(w, r, err, "failed to submit booking request")
		return
	}
	writeJSON(w, http.StatusCreated, viewBooking(b))
}

func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	providerID := providerIDFromHeader(r)
	if providerID == "" {
		http.Error(w, "missing X-Provider-Id", http.StatusBadRequest)
		return
	}
	var req struct {
		BookingID string `json:"booking_id"`
		Decision  string `json:"decision"`
		Reason    string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	decision, err := booking.ParseDecision(req.Decision)
	if err != nil {
		h.writeError(w, r, err, "invalid decision")
		return
	}
	b, err := h.engine.RespondToBooking(r.Context(), model.ProviderActor(providerID), req.BookingID, decision, req.Reason)
	if err != nil {
		h.writeError(w, r, err, "failed to respond to booking")
		return
	}
	writeJSON(w, http.StatusOK, viewBooking(b))
}

func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	actor, ok := actorFromHeaders(r)
	if !ok {
		http.Error(w, "missing X-Provider-Id or X-User-Id", http.StatusBadRequest)
		return
	}
	var req struct {
		BookingID   string `json:"booking_id"`
		Date        string `json:"date"`
		StartTime   string `json:"start_time"`
		StartMinute *int   `json:"start_minute"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		http.Error(w, "date is required (YYYY-MM-DD)", http.StatusBadRequest)
		return
	}
	start, err := parseStart(req.StartMinute, req.StartTime)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	previous, next, err := h.engine.RescheduleBooking(r.Context(), actor, req.BookingID, date, start)
	if err != nil {
		h.writeError(w, r, err, "failed to reschedule booking")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"previous": viewBooking(previous),
		"booking":  viewBooking(next),
	})
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	actor, ok := actorFromHeaders(r)
	if !ok {
		http.Error(w, "missing X-Provider-Id or X-User-Id", http.StatusBadRequest)
		return
	}
	var req struct {
		BookingID string `json:"booking_id"`
		Reason    string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	b, err := h.engine.CancelBooking(r.Context(), actor, req.BookingID, req.Reason)
	if err != nil {
		h.writeError(w, r, err, "failed to cancel booking")
		return
	}
	writeJSON(w, http.StatusOK, viewBooking(b))
}

func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	providerID := providerIDFromHeader(r)
	if providerID == "" {
		http.Error(w, "missing X-Provider-Id", http.StatusBadRequest)
		return
	}
	var req struct {
		BookingID string `json:"booking_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	b, err := h.engine.CompleteBooking(r.Context(), model.ProviderActor(providerID), req.BookingID)
	if err != nil {
		h.writeError(w, r, err, "failed to complete booking")
		return
	}
	writeJSON(w, http.StatusOK, viewBooking(b))
}

// Messages lists (GET ?booking_id=) or appends to (POST) a booking's thread.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	actor, ok := actorFromHeaders(r)
	if !ok {
		http.Error(w, "missing X-Provider-Id or X-User-Id", http.StatusBadRequest)
		return
	}

	if r.Method == http.MethodGet {
		bookingID := strings.TrimSpace(r.URL.Query().Get("booking_id"))
		if bookingID == "" {
			http.Error(w, "booking_id is required", http.StatusBadRequest)
			return
		}
		msgs, err := h.engine.ListMessages(r.Context(), actor, bookingID)
		if err != nil {
			h.writeError(w, r, err, "failed to list messages")
			return
		}
		writeJSON(w, http.StatusOK, msgs)
		return
	}

	var req struct {
		BookingID string `json:"booking_id"`
		Body      string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	msg, err := h.engine.PostMessage(r.Context(), actor, req.BookingID, req.Body)
	if err != nil {
		h.writeError(w, r, err, "failed to post message")
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
