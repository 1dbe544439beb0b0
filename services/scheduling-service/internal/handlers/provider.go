package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/model"
)

func (h *Handler) ProviderSettings(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodPut) {
		return
	}
	providerID := providerIDFromHeader(r)
	if providerID == "" {
		http.Error(w, "missing X-Provider-Id", http.StatusBadRequest)
		return
	}

	if r.Method == http.MethodGet {
		p, stored, err := h.engine.GetProvider(r.Context(), providerID)
		if err != nil {
			h.writeError(w, r, err, "failed to load provider")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"provider": p, "configured": stored})
		return
	}

	var req struct {
		Timezone            string `json:"timezone"`
		BufferBeforeMinutes int    `json:"buffer_before_minutes"`
		BufferAfterMinutes  int    `json:"buffer_after_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	p, err := h.engine.UpsertProvider(r.Context(), model.Provider{
		ID:           providerID,
		Timezone:     req.Timezone,
		BufferBefore: req.BufferBeforeMinutes,
		BufferAfter:  req.BufferAfterMinutes,
	})
	if err != nil {
		h.writeError(w, r, err, "failed to update provider")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type businessHoursItem struct {
	Weekday int    `json:"weekday"`
	Open    string `json:"open,omitempty"`
	Close   string `json:"close,omitempty"`
}

// BusinessHours lists the weekly schedule or replaces the given weekdays. A
// weekday without open/close is closed.
func (h *Handler) BusinessHours(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodPut) {
		return
	}
	providerID := providerIDFromHeader(r)
	if providerID == "" {
		http.Error(w, "missing X-Provider-Id", http.StatusBadRequest)
		return
	}

	if r.Method == http.MethodPut {
		var req []businessHoursItem
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body (expected an array)", http.StatusBadRequest)
			return
		}
		hours := make([]model.BusinessHours, 0, len(req))
		for _, item := range req {
			wd, ok := weekdayOf(item.Weekday)
			if !ok {
				http.Error(w, "weekday must be between 0 and 6", http.StatusBadRequest)
				return
			}
			bh := model.BusinessHours{Weekday: wd}
			if item.Open != "" || item.Close != "" {
				win, err := window{Start: item.Open, End: item.Close}.interval()
				if err != nil {
					h.writeError(w, r, err, "invalid business hours")
					return
				}
				bh.Open, bh.Window = true, win
			}
			hours = append(hours, bh)
		}
		if _, err := h.engine.SetWeeklyHours(r.Context(), providerID, hours); err != nil {
			h.writeError(w, r, err, "failed to update business hours")
			return
		}
	}

	hours, err := h.engine.ListBusinessHours(r.Context(), providerID)
	if err != nil {
		h.writeError(w, r, err, "failed to list business hours")
		return
	}
	out := make([]businessHoursItem, 0, len(hours))
	for _, bh := range hours {
		item := businessHoursItem{Weekday: int(bh.Weekday)}
		if bh.Open {
			win := windowOf(bh.Window)
			item.Open, item.Close = win.Start, win.End
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}

type ruleRequest struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Kind           string   `json:"kind"`
	Weekdays       []int    `json:"weekdays"`
	Dates          []string `json:"dates"`
	MonthDays      []int    `json:"month_days"`
	Start          string   `json:"start"`
	End            string   `json:"end"`
	Action         string   `json:"action"`
	EffectiveFrom  string   `json:"effective_from"`
	EffectiveUntil string   `json:"effective_until"`
	Active         *bool    `json:"active"`
}

func (req ruleRequest) rule(providerID string) (model.RecurringRule, string) {
	rule := model.RecurringRule{
		ID:         strings.TrimSpace(req.ID),
		ProviderID: providerID,
		Name:       req.Name,
		Kind:       model.RuleKind(strings.ToLower(strings.TrimSpace(req.Kind))),
		MonthDays:  req.MonthDays,
		Action:     model.RuleAction(strings.ToLower(strings.TrimSpace(req.Action))),
		Active:     true,
	}
	if rule.Kind == "" {
		rule.Kind = model.RuleWeekdays
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}
	for _, n := range req.Weekdays {
		wd, ok := weekdayOf(n)
		if !ok {
			return rule, "weekdays must be between 0 and 6"
		}
		rule.Weekdays = append(rule.Weekdays, wd)
	}
	for _, raw := range req.Dates {
		d, err := parseDate(raw)
		if err != nil {
			return rule, "invalid date in dates"
		}
		rule.Dates = append(rule.Dates, d)
	}
	win, err := window{Start: req.Start, End: req.End}.interval()
	if err != nil {
		return rule, err.Error()
	}
	rule.Window = win
	from, err := parseDate(req.EffectiveFrom)
	if err != nil {
		return rule, "effective_from is required (YYYY-MM-DD)"
	}
	rule.EffectiveFrom = from
	if strings.TrimSpace(req.EffectiveUntil) != "" {
		until, err := parseDate(req.EffectiveUntil)
		if err != nil {
			return rule, "invalid effective_until"
		}
		rule.EffectiveUntil = &until
	}
	return rule, ""
}

type ruleView struct {
	ID             string   `json:"id"`
	Name           string   `json:"name,omitempty"`
	Kind           string   `json:"kind"`
	Weekdays       []int    `json:"weekdays,omitempty"`
	Dates          []string `json:"dates,omitempty"`
	MonthDays      []int    `json:"month_days,omitempty"`
	Start          string   `json:"start"`
	End            string   `json:"end"`
	Action         string   `json:"action"`
	EffectiveFrom  string   `json:"effective_from"`
	EffectiveUntil string   `json:"effective_until,omitempty"`
	Active         bool     `json:"active"`
	UpdatedAt      string   `json:"updated_at"`
}

func viewRule(rule model.RecurringRule) ruleView {
	win := windowOf(rule.Window)
	v := ruleView{
		ID:            rule.ID,
		Name:          rule.Name,
		Kind:          string(rule.Kind),
		MonthDays:     rule.MonthDays,
		Start:         win.Start,
		End:           win.End,
		Action:        string(rule.Action),
		EffectiveFrom: rule.EffectiveFrom.String(),
		Active:        rule.Active,
		UpdatedAt:     rule.UpdatedAt.Format(time.RFC3339),
	}
	for _, wd := range rule.Weekdays {
		v.Weekdays = append(v.Weekdays, int(wd))
	}
	for _, d := range rule.Dates {
		v.Dates = append(v.Dates, d.String())
	}
	if rule.EffectiveUntil != nil {
		v.EffectiveUntil = rule.EffectiveUntil.String()
	}
	return v
}

func (h *Handler) Rules(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	providerID := providerIDFromHeader(r)
	if providerID == "" {
		http.Error(w, "missing X-Provider-Id", http.StatusBadRequest)
		return
	}

	if r.Method == http.MethodGet {
		rules, err := h.engine.ListRules(r.Context(), providerID)
		if err != nil {
			h.writeError(w, r, err, "failed to list rules")
			return
		}
		out := make([]ruleView, 0, len(rules))
		for _, rule := range rules {
			out = append(out, viewRule(rule))
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	rule, problem := req.rule(providerID)
	if problem != "" {
		http.Error(w, problem, http.StatusBadRequest)
		return
	}
	res, err := h.engine.UpsertRecurringRule(r.Context(), rule)
	if err != nil {
		h.writeError(w, r, err, "failed to save rule")
		return
	}

	notices := make([]string, 0, len(res.Overlaps))
	for _, n := range res.Overlaps {
		notices = append(notices, n.Error())
	}
	code := http.StatusOK
	if rule.ID == "" {
		code = http.StatusCreated
	}
	writeJSON(w, code, map[string]any{
		"rule":     viewRule(res.Rule),
		"overlaps": res.Overlaps,
		"notices":  notices,
	})
}

func (h *Handler) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	providerID := providerIDFromHeader(r)
	if providerID == "" {
		http.Error(w, "missing X-Provider-Id", http.StatusBadRequest)
		return
	}
	ruleID := strings.TrimSpace(r.URL.Query().Get("id"))
	if ruleID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	rule, err := h.engine.DeactivateRecurringRule(r.Context(), providerID, ruleID)
	if err != nil {
		h.writeError(w, r, err, "failed to deactivate rule")
		return
	}
	writeJSON(w, http.StatusOK, viewRule(rule))
}

type exceptionView struct {
	ID        string   `json:"id"`
	Date      string   `json:"date"`
	FullDay   bool     `json:"full_day"`
	Intervals []window `json:"intervals"`
	Reason    string   `json:"reason,omitempty"`
}

func viewException(e model.Exception) exceptionView {
	return exceptionView{
		ID:        e.ID,
		Date:      e.Date.String(),
		FullDay:   e.FullDay,
		Intervals: windowsOf(e.Intervals),
		Reason:    e.Reason,
	}
}

// Exceptions lists overrides in from/to, sets one date (POST) or removes the
// override on ?date= (DELETE).
func (h *Handler) Exceptions(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodPost, http.MethodDelete) {
		return
	}
	providerID := providerIDFromHeader(r)
	if providerID == "" {
		http.Error(w, "missing X-Provider-Id", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		from, to, err := dateRange(r)
		if err != nil {
			http.Error(w, "date or from/to required (YYYY-MM-DD)", http.StatusBadRequest)
			return
		}
		list, err := h.engine.ListExceptions(r.Context(), providerID, from, to)
		if err != nil {
			h.writeError(w, r, err, "failed to list exceptions")
			return
		}
		out := make([]exceptionView, 0, len(list))
		for _, e := range list {
			out = append(out, viewException(e))
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodPost:
		var req struct {
			Date      string   `json:"date"`
			FullDay   bool     `json:"full_day"`
			Intervals []window `json:"intervals"`
			Reason    string   `json:"reason"`
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
		ex := model.Exception{ProviderID: providerID, Date: date, FullDay: req.FullDay, Reason: req.Reason}
		for _, win := range req.Intervals {
			iv, err := win.interval()
			if err != nil {
				h.writeError(w, r, err, "invalid interval")
				return
			}
			ex.Intervals = append(ex.Intervals, iv)
		}
		saved, err := h.engine.AddException(r.Context(), ex)
		if err != nil {
			h.writeError(w, r, err, "failed to save exception")
			return
		}
		writeJSON(w, http.StatusOK, viewException(saved))

	case http.MethodDelete:
		date, err := parseDate(r.URL.Query().Get("date"))
		if err != nil {
			http.Error(w, "date is required (YYYY-MM-DD)", http.StatusBadRequest)
			return
		}
		if err := h.engine.RemoveException(r.Context(), providerID, date); err != nil {
			h.writeError(w, r, err, "failed to remove exception")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
