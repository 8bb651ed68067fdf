package appointments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/agenda-platform/internal/calendarsync"
	"github.com/wolfman30/agenda-platform/internal/scheduling"
	"github.com/wolfman30/agenda-platform/internal/tenancy"
	"github.com/wolfman30/agenda-platform/pkg/logging"
)

// HistoryLister reads status history.
type HistoryLister interface {
	List(ctx context.Context, tenantID, appointmentID string) ([]StatusChange, error)
	CountByStatus(ctx context.Context, tenantID string, statuses []scheduling.Status, since time.Time) (map[scheduling.Status]int, error)
}

// Handler exposes booking and staff appointment endpoints.
type Handler struct {
	svc     *Service
	history HistoryLister
	logger  *logging.Logger
}

func NewHandler(svc *Service, history HistoryLister, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, history: history, logger: logger}
}

// PublicRoutes serves the booking front end. Mounted under /v1/tenants.
func (h *Handler) PublicRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{tenantID}/availability", h.GetAvailability)
	r.Post("/{tenantID}/appointments", h.BookAppointment)
	return r
}

// StaffRoutes serves staff tooling. The tenant comes from the auth context.
func (h *Handler) StaffRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/appointments", h.CreateStaffAppointment)
	r.Get("/appointments/stats", h.GetStats)
	r.Get("/appointments/{appointmentID}", h.GetAppointment)
	r.Post("/appointments/{appointmentID}/status", h.UpdateStatus)
	r.Post("/appointments/{appointmentID}/sync", h.SyncAppointment)
	r.Post("/appointments/{appointmentID}/retry", h.RetrySideEffects)
	r.Get("/appointments/{appointmentID}/history", h.GetHistory)
	return r
}

// GetAvailability lists open start times.
// GET /v1/tenants/{tenantID}/availability?service_id=&date=YYYY-MM-DD
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	serviceID := strings.TrimSpace(r.URL.Query().Get("service_id"))
	if serviceID == "" {
		writeError(w, http.StatusBadRequest, "validation", "service_id is required")
		return
	}
	date, err := scheduling.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "date must be YYYY-MM-DD")
		return
	}

	slots, err := h.svc.Availability(r.Context(), tenantID, serviceID, date)
	if err != nil {
		h.writeDomainError(w, err, "tenant_id", tenantID)
		return
	}
	if slots == nil {
		slots = []scheduling.TimeOfDay{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":       date,
		"service_id": serviceID,
		"slots":      slots,
	})
}

// BookAppointment creates a client appointment.
// POST /v1/tenants/{tenantID}/appointments
func (h *Handler) BookAppointment(w http.ResponseWriter, r *http.Request) {
	var req scheduling.BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return
	}
	req.TenantID = chi.URLParam(r, "tenantID")

	appt, err := h.svc.Book(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, err, "tenant_id", req.TenantID)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

// CreateStaffAppointment creates an appointment for the authenticated tenant.
// POST /v1/staff/appointments
func (h *Handler) CreateStaffAppointment(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing tenant")
		return
	}
	var req scheduling.BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return
	}
	req.TenantID = tenantID

	appt, err := h.svc.CreateForStaff(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, err, "tenant_id", tenantID)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

// GetAppointment returns one appointment.
// GET /v1/staff/appointments/{appointmentID}
func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing tenant")
		return
	}
	appt, err := h.svc.Get(r.Context(), tenantID, chi.URLParam(r, "appointmentID"))
	if err != nil {
		h.writeDomainError(w, err, "tenant_id", tenantID)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

type statusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus applies a lifecycle transition.
// POST /v1/staff/appointments/{appointmentID}/status
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing tenant")
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return
	}
	to, err := scheduling.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	appointmentID := chi.URLParam(r, "appointmentID")
	appt, err := h.svc.Transition(r.Context(), tenantID, appointmentID, to)
	if err != nil {
		h.writeDomainError(w, err, "tenant_id", tenantID, "appointment_id", appointmentID)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// SyncAppointment mirrors the appointment into the external calendar now.
// POST /v1/staff/appointments/{appointmentID}/sync
func (h *Handler) SyncAppointment(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing tenant")
		return
	}
	appointmentID := chi.URLParam(r, "appointmentID")
	res, err := h.svc.Sync(r.Context(), tenantID, appointmentID)
	if err != nil {
		h.writeDomainError(w, err, "tenant_id", tenantID, "appointment_id", appointmentID)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RetrySideEffects re-runs idempotent post-transition work.
// POST /v1/staff/appointments/{appointmentID}/retry
func (h *Handler) RetrySideEffects(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing tenant")
		return
	}
	appointmentID := chi.URLParam(r, "appointmentID")
	appt, err := h.svc.RetrySideEffects(r.Context(), tenantID, appointmentID)
	if err != nil {
		h.writeDomainError(w, err, "tenant_id", tenantID, "appointment_id", appointmentID)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// GetHistory returns status history.
// GET /v1/staff/appointments/{appointmentID}/history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing tenant")
		return
	}
	if h.history == nil {
		writeError(w, http.StatusNotImplemented, "history_disabled", "status history is not configured")
		return
	}
	appointmentID := chi.URLParam(r, "appointmentID")
	items, err := h.history.List(r.Context(), tenantID, appointmentID)
	if err != nil {
		h.writeDomainError(w, err, "tenant_id", tenantID, "appointment_id", appointmentID)
		return
	}
	if items == nil {
		items = []StatusChange{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GetStats counts transitions into each status since a date (default: 30 days ago).
// GET /v1/staff/appointments/stats?since=YYYY-MM-DD
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing tenant")
		return
	}
	if h.history == nil {
		writeError(w, http.StatusNotImplemented, "history_disabled", "status history is not configured")
		return
	}
	since := time.Now().UTC().AddDate(0, 0, -30)
	if raw := r.URL.Query().Get("since"); raw != "" {
		d, err := scheduling.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation", "since must be YYYY-MM-DD")
			return
		}
		since = d.At(0, time.UTC)
	}
	counts, err := h.history.CountByStatus(r.Context(), tenantID, scheduling.AllStatuses(), since)
	if err != nil {
		h.writeDomainError(w, err, "tenant_id", tenantID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"since": since, "counts": counts})
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error, logArgs ...any) {
	var (
		validation *scheduling.ValidationError
		transition *scheduling.TransitionError
		provider   *calendarsync.ProviderError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, "validation", validation.Error())
	case errors.Is(err, scheduling.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", "the requested time is no longer available")
	case errors.As(err, &transition):
		writeError(w, http.StatusConflict, "invalid_transition", transition.Error())
	case errors.Is(err, scheduling.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "appointment or service not found")
	case errors.Is(err, calendarsync.ErrTokenRefreshFailed):
		writeError(w, http.StatusConflict, "reconnect_required", "calendar connection must be renewed")
	case errors.As(err, &provider):
		h.logger.Error("calendar provider error", append(logArgs, "error", err)...)
		writeError(w, http.StatusBadGateway, "provider_error", "calendar provider request failed")
	case errors.Is(err, ErrCalendarDisabled):
		writeError(w, http.StatusNotImplemented, "calendar_disabled", "calendar sync is not configured")
	default:
		h.logger.Error("appointments request failed", append(logArgs, "error", err)...)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
