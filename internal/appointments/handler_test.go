package appointments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/agenda-platform/internal/scheduling"
	"github.com/wolfman30/agenda-platform/internal/tenancy"
)

type stubHistory struct {
	items  []StatusChange
	counts map[scheduling.Status]int
	since  time.Time
}

func (h *stubHistory) List(_ context.Context, tenantID, appointmentID string) ([]StatusChange, error) {
	var out []StatusChange
	for _, c := range h.items {
		if c.TenantID == tenantID && c.AppointmentID == appointmentID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (h *stubHistory) CountByStatus(_ context.Context, _ string, statuses []scheduling.Status, since time.Time) (map[scheduling.Status]int, error) {
	h.since = since
	out := make(map[scheduling.Status]int, len(statuses))
	for _, st := range statuses {
		out[st] = h.counts[st]
	}
	return out, nil
}

func newTestRouter(svc *Service, history HistoryLister) http.Handler {
	h := NewHandler(svc, history, nil)
	r := chi.NewRouter()
	r.Mount("/v1/tenants", h.PublicRoutes())
	r.Route("/v1/staff", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				if tenant := req.Header.Get("X-Test-Tenant"); tenant != "" {
					req = req.WithContext(tenancy.WithTenantID(req.Context(), tenant))
				}
				next.ServeHTTP(w, req)
			})
		})
		r.Mount("/", h.StaffRoutes())
	})
	return r
}

func doRequest(t *testing.T, h http.Handler, method, target, body, tenant string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if tenant != "" {
		req.Header.Set("X-Test-Tenant", tenant)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_PublicAvailability(t *testing.T) {
	router := newTestRouter(newTestService(newFixtureStore()), nil)

	rec := doRequest(t, router, http.MethodGet, "/v1/tenants/tenant-1/availability?service_id=facial&date=2025-03-03", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Date  string   `json:"date"`
		Slots []string `json:"slots"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "2025-03-03", body.Date)
	assert.Equal(t, []string{"10:00", "10:30", "11:00", "11:30"}, body.Slots)
}

func TestHandler_PublicAvailabilityValidation(t *testing.T) {
	router := newTestRouter(newTestService(newFixtureStore()), nil)

	rec := doRequest(t, router, http.MethodGet, "/v1/tenants/tenant-1/availability?date=2025-03-03", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/v1/tenants/tenant-1/availability?service_id=facial&date=03/03/2025", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/v1/tenants/tenant-1/availability?service_id=nope&date=2025-03-03", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_BookThenSlotTaken(t *testing.T) {
	router := newTestRouter(newTestService(newFixtureStore()), nil)
	body := `{"service_id":"facial","client_name":"Maria","client_phone":"+5511988887777","date":"2025-03-03","time":"10:00"}`

	rec := doRequest(t, router, http.MethodPost, "/v1/tenants/tenant-1/appointments", body, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var appt scheduling.Appointment
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&appt))
	assert.Equal(t, scheduling.StatusPending, appt.Status)
	assert.Equal(t, "10:30", appt.End.String())

	rec = doRequest(t, router, http.MethodPost, "/v1/tenants/tenant-1/appointments", body, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "slot_unavailable")
}

func TestHandler_BookRejectsBadBody(t *testing.T) {
	router := newTestRouter(newTestService(newFixtureStore()), nil)

	rec := doRequest(t, router, http.MethodPost, "/v1/tenants/tenant-1/appointments", `{`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/v1/tenants/tenant-1/appointments",
		`{"service_id":"facial","client_phone":"+5511988887777","date":"2025-03-03","time":"10:00"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "client_name")
}

func TestHandler_StaffRoutesRequireTenant(t *testing.T) {
	store := newFixtureStore()
	seedAppointment(store, "appt-1", scheduling.StatusPending, "facial")
	router := newTestRouter(newTestService(store), &stubHistory{})

	for _, tc := range []struct{ method, target string }{
		{http.MethodGet, "/v1/staff/appointments/appt-1"},
		{http.MethodPost, "/v1/staff/appointments/appt-1/status"},
		{http.MethodGet, "/v1/staff/appointments/appt-1/history"},
		{http.MethodGet, "/v1/staff/appointments/stats"},
	} {
		rec := doRequest(t, router, tc.method, tc.target, `{}`, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, tc.target)
	}
}

func TestHandler_StaffStatusTransitions(t *testing.T) {
	store := newFixtureStore()
	seedAppointment(store, "appt-1", scheduling.StatusPending, "facial")
	router := newTestRouter(newTestService(store), nil)

	rec := doRequest(t, router, http.MethodPost, "/v1/staff/appointments/appt-1/status", `{"status":"confirmed"}`, "tenant-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"confirmed"`)

	rec = doRequest(t, router, http.MethodPost, "/v1/staff/appointments/appt-1/status", `{"status":"pending"}`, "tenant-1")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_transition")

	rec = doRequest(t, router, http.MethodPost, "/v1/staff/appointments/appt-1/status", `{"status":"archived"}`, "tenant-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Another tenant cannot see the appointment.
	rec = doRequest(t, router, http.MethodPost, "/v1/staff/appointments/appt-1/status", `{"status":"canceled"}`, "tenant-2")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_StaffCreateUsesContextTenant(t *testing.T) {
	store := newFixtureStore()
	router := newTestRouter(newTestService(store), nil)

	rec := doRequest(t, router, http.MethodPost, "/v1/staff/appointments",
		`{"service_id":"facial","client_name":"Maria","client_phone":"+5511988887777","date":"2025-03-03","time":"11:00"}`, "tenant-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var appt scheduling.Appointment
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&appt))
	assert.Equal(t, "tenant-1", appt.TenantID)
	assert.Equal(t, scheduling.StatusConfirmed, appt.Status)
}

func TestHandler_SyncWithoutCalendar(t *testing.T) {
	store := newFixtureStore()
	seedAppointment(store, "appt-1", scheduling.StatusConfirmed, "facial")
	router := newTestRouter(newTestService(store), nil)

	rec := doRequest(t, router, http.MethodPost, "/v1/staff/appointments/appt-1/sync", "", "tenant-1")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.Contains(t, rec.Body.String(), "calendar_disabled")
}

func TestHandler_SyncWithCalendar(t *testing.T) {
	store := newFixtureStore()
	seedAppointment(store, "appt-1", scheduling.StatusConfirmed, "facial")
	cal := &fakeCalendar{store: store}
	router := newTestRouter(newTestService(store, WithCalendarSync(cal)), nil)

	rec := doRequest(t, router, http.MethodPost, "/v1/staff/appointments/appt-1/sync", "", "tenant-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "evt-1")
}

func TestHandler_HistoryAndStats(t *testing.T) {
	store := newFixtureStore()
	seedAppointment(store, "appt-1", scheduling.StatusConfirmed, "facial")
	history := &stubHistory{
		items: []StatusChange{
			{ID: "h1", TenantID: "tenant-1", AppointmentID: "appt-1", To: scheduling.StatusPending, ChangedBy: "client"},
			{ID: "h2", TenantID: "tenant-1", AppointmentID: "appt-1", From: scheduling.StatusPending, To: scheduling.StatusConfirmed, ChangedBy: "staff:ana"},
			{ID: "h3", TenantID: "tenant-2", AppointmentID: "appt-1", To: scheduling.StatusPending},
		},
		counts: map[scheduling.Status]int{scheduling.StatusCanceled: 2},
	}
	router := newTestRouter(newTestService(store), history)

	rec := doRequest(t, router, http.MethodGet, "/v1/staff/appointments/appt-1/history", "", "tenant-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var items struct {
		Items []StatusChange `json:"items"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&items))
	require.Len(t, items.Items, 2)
	assert.Equal(t, "staff:ana", items.Items[1].ChangedBy)

	rec = doRequest(t, router, http.MethodGet, "/v1/staff/appointments/stats?since=2025-03-01", "", "tenant-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var stats struct {
		Counts map[string]int `json:"counts"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, 2, stats.Counts["canceled"])
	assert.Equal(t, 0, stats.Counts["completed"])
	assert.Equal(t, time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC), history.since)

	rec = doRequest(t, router, http.MethodGet, "/v1/staff/appointments/stats?since=yesterday", "", "tenant-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_HistoryDisabled(t *testing.T) {
	router := newTestRouter(newTestService(newFixtureStore()), nil)

	rec := doRequest(t, router, http.MethodGet, "/v1/staff/appointments/appt-1/history", "", "tenant-1")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}
