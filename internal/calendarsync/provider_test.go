package calendarsync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/agenda-platform/internal/observability/metrics"
)

func newTestProvider(t *testing.T, mux *http.ServeMux, opts ...ProviderOption) *GoogleProvider {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewGoogleProvider(time.Second, nil, append([]ProviderOption{WithBaseURL(srv.URL + "/")}, opts...)...)
}

func googleError(w http.ResponseWriter, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "message": http.StatusText(code)},
	})
}

func TestGoogleProvider_CreateEventWithMeetLink(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/calendars/team@example.com/events", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		assert.Equal(t, "1", r.URL.Query().Get("conferenceDataVersion"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Limpeza de pele - Maria", body["summary"])
		start := body["start"].(map[string]any)
		assert.Equal(t, "2025-03-03T10:00:00-03:00", start["dateTime"])
		assert.Equal(t, "America/Sao_Paulo", start["timeZone"])
		assert.NotNil(t, body["conferenceData"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "evt-1",
			"hangoutLink": "https://meet.google.com/abc-defg-hij",
		})
	})
	reg := prometheus.NewRegistry()
	p := newTestProvider(t, mux, WithProviderMetrics(metrics.NewCalendarMetrics(reg)))

	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	created, err := p.CreateEvent(context.Background(), &Token{AccessToken: "access-1", CalendarID: "team@example.com"}, Event{
		RequestID: "appt-1",
		Summary:   "Limpeza de pele - Maria",
		Start:     time.Date(2025, time.March, 3, 10, 0, 0, 0, loc),
		End:       time.Date(2025, time.March, 3, 11, 0, 0, 0, loc),
		TimeZone:  "America/Sao_Paulo",
		MeetLink:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, "evt-1", created.ID)
	assert.Equal(t, "https://meet.google.com/abc-defg-hij", created.MeetingLink)
	assert.Equal(t, 1, testutil.CollectAndCount(reg, "agenda_calendar_provider_latency_seconds"))
}

func TestGoogleProvider_DeleteMissingEventSucceeds(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/calendars/primary/events/gone", func(w http.ResponseWriter, r *http.Request) {
		googleError(w, http.StatusGone)
	})
	mux.HandleFunc("/calendars/primary/events/missing", func(w http.ResponseWriter, r *http.Request) {
		googleError(w, http.StatusNotFound)
	})
	mux.HandleFunc("/calendars/primary/events/evt-1", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	})
	p := newTestProvider(t, mux)
	tok := &Token{AccessToken: "access-1"}

	assert.NoError(t, p.DeleteEvent(context.Background(), tok, "evt-1"))
	assert.NoError(t, p.DeleteEvent(context.Background(), tok, "missing"))
	assert.NoError(t, p.DeleteEvent(context.Background(), tok, "gone"))
}

func TestGoogleProvider_ServerErrorIsRetryableProviderError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/calendars/primary/events", func(w http.ResponseWriter, r *http.Request) {
		googleError(w, http.StatusInternalServerError)
	})
	mux.HandleFunc("/calendars/primary/events/evt-1", func(w http.ResponseWriter, r *http.Request) {
		googleError(w, http.StatusForbidden)
	})
	p := newTestProvider(t, mux)
	tok := &Token{AccessToken: "access-1"}

	_, err := p.CreateEvent(context.Background(), tok, Event{RequestID: "appt-1", Start: time.Now(), End: time.Now().Add(time.Hour)})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusInternalServerError, pe.StatusCode)
	assert.True(t, pe.Retryable())

	err = p.DeleteEvent(context.Background(), tok, "evt-1")
	require.ErrorAs(t, err, &pe)
	assert.False(t, pe.Retryable())
}

func TestGoogleProvider_TimeoutIsRetryable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/calendars/primary/events", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	p := NewGoogleProvider(50*time.Millisecond, nil, WithBaseURL(srv.URL+"/"))

	_, err := p.CreateEvent(context.Background(), &Token{AccessToken: "a"}, Event{RequestID: "appt-1", Start: time.Now(), End: time.Now()})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.Timeout)
	assert.True(t, pe.Retryable())
}

func TestGoogleProvider_ListAndPrimaryCalendars(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/me/calendarList", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "writer", r.URL.Query().Get("minAccessRole"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{
			{"id": "owner@example.com", "summary": "Owner", "primary": true},
			{"id": "team@example.com", "summary": "Team"},
		}})
	})
	mux.HandleFunc("/users/me/calendarList/primary", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "owner@example.com", "summary": "Owner", "timeZone": "America/Sao_Paulo"})
	})
	p := newTestProvider(t, mux)
	tok := &Token{AccessToken: "a"}

	cals, err := p.ListCalendars(context.Background(), tok)
	require.NoError(t, err)
	require.Len(t, cals, 2)
	assert.True(t, cals[0].Primary)
	assert.Equal(t, "team@example.com", cals[1].ID)

	primary, err := p.PrimaryCalendar(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", primary.ID)
	assert.Equal(t, "America/Sao_Paulo", primary.TimeZone)
}
