package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/storage"
)

const artist = "artist-1"

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := func() time.Time { return time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC) }
	engine := booking.New(storage.NewMemory(), logger, booking.WithClock(now))

	mux := http.NewServeMux()
	New(engine, logger).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	hours := `[{"weekday":1,"open":"09:00","close":"17:00"},{"weekday":3,"open":"09:00","close":"17:00"}]`
	resp := do(t, srv, http.MethodPut, "/api/v1/provider/business-hours", hours, map[string]string{ProviderIDHeader: artist})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set business hours: %d", resp.StatusCode)
	}
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string, headers map[string]string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func client(id string) map[string]string { return map[string]string{"X-User-Id": id} }

var provider = map[string]string{ProviderIDHeader: artist}

func submitBooking(t *testing.T, srv *httptest.Server, clientID, start string) bookingView {
	t.Helper()
	body := `{"provider_id":"artist-1","date":"2030-01-07","start_time":"` + start + `","duration_minutes":60}`
	resp := do(t, srv, http.MethodPost, "/api/v1/bookings", body, client(clientID))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit: status %d", resp.StatusCode)
	}
	var b bookingView
	decode(t, resp, &b)
	return b
}

func TestFreeSlotsScenario(t *testing.T) {
	srv := newServer(t)
	b := submitBooking(t, srv, "client-1", "10:00")
	resp := do(t, srv, http.MethodPost, "/api/v1/bookings/respond", `{"booking_id":"`+b.ID+`","decision":"accept"}`, provider)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("accept: %d", resp.StatusCode)
	}

	resp = do(t, srv, http.MethodGet, "/api/v1/free-slots?provider_id=artist-1&date=2030-01-07", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("free slots: %d", resp.StatusCode)
	}
	var out struct {
		Days []dayView `json:"days"`
	}
	decode(t, resp, &out)
	if len(out.Days) != 1 {
		t.Fatalf("expected one day, got %d", len(out.Days))
	}
	want := []window{{"09:00", "10:00"}, {"11:00", "17:00"}}
	got := out.Days[0].Intervals
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("free = %v, want %v", got, want)
	}
}

func TestSecondAcceptReturnsConflict(t *testing.T) {
	srv := newServer(t)
	a := submitBooking(t, srv, "client-1", "14:00")
	b := submitBooking(t, srv, "client-2", "14:00")

	resp := do(t, srv, http.MethodPost, "/api/v1/bookings/respond", `{"booking_id":"`+a.ID+`","decision":"accept"}`, provider)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first accept: %d", resp.StatusCode)
	}
	resp = do(t, srv, http.MethodPost, "/api/v1/bookings/respond", `{"booking_id":"`+b.ID+`","decision":"accept"}`, provider)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second accept: expected 409, got %d", resp.StatusCode)
	}
}

func TestInvalidTransitionNamesStates(t *testing.T) {
	srv := newServer(t)
	b := submitBooking(t, srv, "client-1", "10:00")

	resp := do(t, srv, http.MethodPost, "/api/v1/bookings/cancel", `{"booking_id":"`+b.ID+`"}`, client("client-1"))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	var out map[string]string
	decode(t, resp, &out)
	if out["current"] != "pending" || out["attempted"] != "cancelled" {
		t.Fatalf("unexpected body: %v", out)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	srv := newServer(t)
	cases := []struct {
		name    string
		method  string
		path    string
		body    string
		headers map[string]string
		want    int
	}{
		{"unknown provider", http.MethodGet, "/api/v1/availability?provider_id=nobody&date=2030-01-07", "", nil, http.StatusNotFound},
		{"missing date", http.MethodGet, "/api/v1/availability?provider_id=artist-1", "", nil, http.StatusBadRequest},
		{"zero duration", http.MethodPost, "/api/v1/bookings", `{"provider_id":"artist-1","date":"2030-01-07","start_time":"10:00","duration_minutes":0}`, client("c"), http.StatusBadRequest},
		{"crosses midnight", http.MethodPost, "/api/v1/bookings", `{"provider_id":"artist-1","date":"2030-01-07","start_time":"23:30","duration_minutes":60}`, client("c"), http.StatusBadRequest},
		{"closed day", http.MethodPost, "/api/v1/bookings", `{"provider_id":"artist-1","date":"2030-01-08","start_time":"10:00","duration_minutes":60}`, client("c"), http.StatusConflict},
		{"past slot", http.MethodPost, "/api/v1/bookings", `{"provider_id":"artist-1","date":"2029-12-31","start_time":"10:00","duration_minutes":60}`, client("c"), http.StatusUnprocessableEntity},
		{"missing client", http.MethodPost, "/api/v1/bookings", `{}`, nil, http.StatusBadRequest},
		{"unknown booking", http.MethodPost, "/api/v1/bookings/cancel", `{"booking_id":"nope"}`, client("c"), http.StatusNotFound},
		{"wrong method", http.MethodDelete, "/api/v1/bookings", "", client("c"), http.StatusMethodNotAllowed},
		{"bad rule window", http.MethodPost, "/api/v1/provider/rules", `{"weekdays":[1],"start":"14:00","end":"10:00","effective_from":"2030-01-01"}`, provider, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := do(t, srv, tc.method, tc.path, tc.body, tc.headers)
			if resp.StatusCode != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.StatusCode)
			}
		})
	}
}

func TestRulesAndExceptionsShapeAvailability(t *testing.T) {
	srv := newServer(t)

	rule := `{"name":"late monday","weekdays":[1],"start":"18:00","end":"21:00","effective_from":"2030-01-01"}`
	resp := do(t, srv, http.MethodPost, "/api/v1/provider/rules", rule, provider)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create rule: %d", resp.StatusCode)
	}
	var saved struct {
		Rule ruleView `json:"rule"`
	}
	decode(t, resp, &saved)

	resp = do(t, srv, http.MethodPost, "/api/v1/provider/exceptions",
		`{"date":"2030-01-14","intervals":[{"start":"12:00","end":"13:00"}],"reason":"guest spot"}`, provider)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add exception: %d", resp.StatusCode)
	}

	resp = do(t, srv, http.MethodGet, "/api/v1/availability?provider_id=artist-1&from=2030-01-07&to=2030-01-14", "", nil)
	var out struct {
		Days []dayView `json:"days"`
	}
	decode(t, resp, &out)
	if len(out.Days) != 8 {
		t.Fatalf("expected 8 days, got %d", len(out.Days))
	}
	if got := out.Days[0].Intervals; len(got) != 2 || got[1] != (window{"18:00", "21:00"}) {
		t.Fatalf("expected hours plus rule on Monday, got %v", got)
	}
	if got := out.Days[7].Intervals; len(got) != 1 || got[0] != (window{"12:00", "13:00"}) {
		t.Fatalf("expected replacement exception, got %v", got)
	}

	resp = do(t, srv, http.MethodPost, "/api/v1/provider/rules/deactivate?id="+saved.Rule.ID, "", provider)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deactivate: %d", resp.StatusCode)
	}
	resp = do(t, srv, http.MethodDelete, "/api/v1/provider/exceptions?date=2030-01-14", "", provider)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("remove exception: %d", resp.StatusCode)
	}
	resp = do(t, srv, http.MethodGet, "/api/v1/availability?provider_id=artist-1&date=2030-01-14", "", nil)
	decode(t, resp, &out)
	if got := out.Days[0].Intervals; len(got) != 1 || got[0] != (window{"09:00", "17:00"}) {
		t.Fatalf("expected plain business hours, got %v", got)
	}
}

func TestSuggestionsPreferDate(t *testing.T) {
	srv := newServer(t)
	resp := do(t, srv, http.MethodGet,
		"/api/v1/suggestions?provider_id=artist-1&from=2030-01-07&to=2030-01-11&duration_minutes=30&preferred_date=2030-01-09", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("suggestions: %d", resp.StatusCode)
	}
	var out struct {
		Slots []slotView `json:"slots"`
	}
	decode(t, resp, &out)
	if len(out.Slots) != 2 || out.Slots[0].Date != "2030-01-09" || out.Slots[1].Date != "2030-01-07" {
		t.Fatalf("unexpected order: %+v", out.Slots)
	}
}

func TestMessagesThread(t *testing.T) {
	srv := newServer(t)
	b := submitBooking(t, srv, "client-1", "10:00")

	resp := do(t, srv, http.MethodPost, "/api/v1/bookings/messages", `{"booking_id":"`+b.ID+`","body":"reference photos attached"}`, client("client-1"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("post message: %d", resp.StatusCode)
	}
	resp = do(t, srv, http.MethodPost, "/api/v1/bookings/messages", `{"booking_id":"`+b.ID+`","body":"looks great"}`, provider)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("post reply: %d", resp.StatusCode)
	}
	resp = do(t, srv, http.MethodGet, "/api/v1/bookings/messages?booking_id="+b.ID, "", client("client-2"))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("stranger must not read the thread, got %d", resp.StatusCode)
	}

	resp = do(t, srv, http.MethodGet, "/api/v1/bookings/messages?booking_id="+b.ID, "", client("client-1"))
	var msgs []struct {
		Seq    int    `json:"seq"`
		Sender string `json:"sender"`
	}
	decode(t, resp, &msgs)
	if len(msgs) != 2 || msgs[0].Sender != "client" || msgs[1].Sender != "provider" || msgs[1].Seq != 2 {
		t.Fatalf("unexpected thread: %+v", msgs)
	}
}

func TestFreeSlotsExcludePendingIsProviderOnly(t *testing.T) {
	srv := newServer(t)
	submitBooking(t, srv, "client-1", "10:00")

	resp := do(t, srv, http.MethodGet, "/api/v1/free-slots?provider_id=artist-1&date=2030-01-07&exclude_other_pending=true", "", client("client-2"))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for client, got %d", resp.StatusCode)
	}
	resp = do(t, srv, http.MethodGet, "/api/v1/free-slots?provider_id=artist-1&date=2030-01-07&exclude_other_pending=true", "", provider)
	var out struct {
		Days []dayView `json:"days"`
	}
	decode(t, resp, &out)
	if got := out.Days[0].Intervals; len(got) != 1 || got[0] != (window{"09:00", "17:00"}) {
		t.Fatalf("expected raw capacity, got %v", got)
	}
}
