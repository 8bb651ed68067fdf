package calendarsync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/oauth2"

	"github.com/wolfman30/agenda-platform/internal/tenancy"
	"github.com/wolfman30/agenda-platform/pkg/logging"
)

type authCoder interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// SyncLogLister reads recorded sync attempts.
type SyncLogLister interface {
	List(ctx context.Context, tenantID, appointmentID string) ([]LogEntry, error)
}

// HandlerConfig wires the connection endpoints.
type HandlerConfig struct {
	OAuth      authCoder
	State      *StateSigner
	Tokens     TokenStore
	Settings   SettingsStore
	Manager    tokenSource
	Provider   Provider
	SyncLog    SyncLogLister
	SuccessURL string
	Logger     *logging.Logger
}

// Handler serves calendar connection management.
type Handler struct {
	oauth      authCoder
	state      *StateSigner
	tokens     TokenStore
	settings   SettingsStore
	manager    tokenSource
	provider   Provider
	syncLog    SyncLogLister
	successURL string
	logger     *logging.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		oauth:      cfg.OAuth,
		state:      cfg.State,
		tokens:     cfg.Tokens,
		settings:   cfg.Settings,
		manager:    cfg.Manager,
		provider:   cfg.Provider,
		syncLog:    cfg.SyncLog,
		successURL: cfg.SuccessURL,
		logger:     logger,
	}
}

// Routes are mounted under /v1/staff/calendar behind staff auth.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/connect", h.Connect)
	r.Get("/status", h.Status)
	r.Get("/calendars", h.ListCalendars)
	r.Put("/selection", h.SelectCalendar)
	r.Delete("/", h.Disconnect)
	r.Get("/settings", h.GetSettings)
	r.Put("/settings", h.PutSettings)
	r.Get("/log/{appointmentID}", h.ListSyncLog)
	return r
}

// target resolves whose connection a request manages: the tenant-wide one,
// or the caller's own when ?staff=1.
func target(r *http.Request) (string, *string, int, string) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		return "", nil, http.StatusUnauthorized, "missing tenant"
	}
	if v := r.URL.Query().Get("staff"); v == "1" || v == "true" {
		staffID, ok := tenancy.StaffIDFromContext(r.Context())
		if !ok {
			return "", nil, http.StatusBadRequest, "staff connection requires a staff token"
		}
		return tenantID, &staffID, 0, ""
	}
	return tenantID, nil, 0, ""
}

// Connect redirects to the provider consent screen.
// GET /v1/staff/calendar/connect[?staff=1]
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	tenantID, staffID, code, msg := target(r)
	if code != 0 {
		writeError(w, code, "unauthorized", msg)
		return
	}
	if h.oauth == nil || h.state == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "calendar oauth is not configured")
		return
	}
	state, err := h.state.Sign(tenantID, staffID)
	if err != nil {
		h.logger.Error("failed to sign oauth state", "error", err, "tenant_id", tenantID)
		writeError(w, http.StatusInternalServerError, "internal", "could not start connection")
		return
	}
	consent := h.oauth.AuthCodeURL(state)
	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, map[string]string{"url": consent})
		return
	}
	http.Redirect(w, r, consent, http.StatusFound)
}

// Callback completes the OAuth round trip. It is public; trust comes from
// the signed state.
// GET /oauth/google/callback?code=&state=
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil || h.state == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "calendar oauth is not configured")
		return
	}
	if e := r.URL.Query().Get("error"); e != "" {
		writeError(w, http.StatusBadRequest, "consent_denied", e)
		return
	}
	st, err := h.state.Verify(r.URL.Query().Get("state"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_state", "state is invalid or expired")
		return
	}
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		writeError(w, http.StatusBadRequest, "validation", "code is required")
		return
	}

	ctx := r.Context()
	grant, err := h.oauth.Exchange(ctx, code)
	if err != nil {
		h.logger.Error("oauth code exchange failed", "error", err, "tenant_id", st.TenantID)
		writeError(w, http.StatusBadGateway, "provider_error", "code exchange failed")
		return
	}
	if grant.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "no_refresh_token", "provider did not grant offline access")
		return
	}
	tok := &Token{
		TenantID:     st.TenantID,
		StaffID:      st.StaffID,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		Expiry:       grant.Expiry,
	}
	if primary, err := h.provider.PrimaryCalendar(ctx, tok); err == nil {
		tok.CalendarID = primary.ID
		tok.AccountEmail = primary.ID
	} else {
		h.logger.Warn("primary calendar lookup failed", "error", err, "tenant_id", st.TenantID)
	}
	if err := h.tokens.Save(ctx, tok); err != nil {
		h.logger.Error("failed to save calendar token", "error", err, "tenant_id", st.TenantID)
		writeError(w, http.StatusInternalServerError, "internal", "could not save connection")
		return
	}
	h.logger.Info("calendar connected", "tenant_id", st.TenantID, "staff_id", staffKey(st.StaffID), "account", tok.AccountEmail)

	if h.successURL != "" {
		q := url.Values{"status": {"connected"}}
		sep := "?"
		if strings.Contains(h.successURL, "?") {
			sep = "&"
		}
		http.Redirect(w, r, h.successURL+sep+q.Encode(), http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

// Status lists the tenant's connections.
// GET /v1/staff/calendar/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing tenant")
		return
	}
	tokens, err := h.tokens.List(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("failed to list calendar tokens", "error", err, "tenant_id", tenantID)
		writeError(w, http.StatusInternalServerError, "internal", "could not load connections")
		return
	}
	settings, err := h.settings.GetSettings(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "could not load settings")
		return
	}
	if tokens == nil {
		tokens = []Token{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"settings":    settings,
		"connections": tokens,
	})
}

// ListCalendars lists writable calendars of a connection.
// GET /v1/staff/calendar/calendars[?staff=1]
func (h *Handler) ListCalendars(w http.ResponseWriter, r *http.Request) {
	tenantID, staffID, code, msg := target(r)
	if code != 0 {
		writeError(w, code, "unauthorized", msg)
		return
	}
	tok, err := h.manager.GetValidToken(r.Context(), tenantID, staffID)
	if err != nil {
		h.writeSyncError(w, err, tenantID)
		return
	}
	cals, err := h.provider.ListCalendars(r.Context(), tok)
	if err != nil {
		h.writeSyncError(w, err, tenantID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"calendars": cals, "selected": tok.Calendar()})
}

// SelectCalendar changes the target calendar for new events. Existing
// events stay where they are.
// PUT /v1/staff/calendar/selection[?staff=1]
func (h *Handler) SelectCalendar(w http.ResponseWriter, r *http.Request) {
	tenantID, staffID, code, msg := target(r)
	if code != 0 {
		writeError(w, code, "unauthorized", msg)
		return
	}
	var body struct {
		CalendarID string `json:"calendar_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.CalendarID) == "" {
		writeError(w, http.StatusBadRequest, "validation", "calendar_id is required")
		return
	}
	if err := h.tokens.SelectCalendar(r.Context(), tenantID, staffID, strings.TrimSpace(body.CalendarID)); err != nil {
		h.writeSyncError(w, err, tenantID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"calendar_id": strings.TrimSpace(body.CalendarID)})
}

// Disconnect removes a stored connection.
// DELETE /v1/staff/calendar[?staff=1]
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	tenantID, staffID, code, msg := target(r)
	if code != 0 {
		writeError(w, code, "unauthorized", msg)
		return
	}
	if err := h.tokens.Delete(r.Context(), tenantID, staffID); err != nil {
		h.writeSyncError(w, err, tenantID)
		return
	}
	h.logger.Info("calendar disconnected", "tenant_id", tenantID, "staff_id", staffKey(staffID))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing tenant")
		return
	}
	st, err := h.settings.GetSettings(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "could not load settings")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing tenant")
		return
	}
	var st Settings
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return
	}
	st.TenantID = tenantID
	if err := st.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	if err := h.settings.SaveSettings(r.Context(), st); err != nil {
		h.logger.Error("failed to save calendar settings", "error", err, "tenant_id", tenantID)
		writeError(w, http.StatusInternalServerError, "internal", "could not save settings")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ListSyncLog returns the recorded sync attempts for an appointment.
// GET /v1/staff/calendar/log/{appointmentID}
func (h *Handler) ListSyncLog(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing tenant")
		return
	}
	if h.syncLog == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "sync log is not configured")
		return
	}
	entries, err := h.syncLog.List(r.Context(), tenantID, chi.URLParam(r, "appointmentID"))
	if err != nil {
		h.logger.Error("failed to read sync log", "error", err, "tenant_id", tenantID)
		writeError(w, http.StatusInternalServerError, "internal", "could not read sync log")
		return
	}
	if entries == nil {
		entries = []LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) writeSyncError(w http.ResponseWriter, err error, tenantID string) {
	var perr *ProviderError
	switch {
	case errors.Is(err, ErrNotConnected):
		writeError(w, http.StatusNotFound, "not_connected", "calendar is not connected")
	case errors.Is(err, ErrTokenRefreshFailed):
		writeError(w, http.StatusConflict, "reconnect_required", "calendar connection must be renewed")
	case errors.As(err, &perr):
		h.logger.Warn("calendar provider error", "error", err, "tenant_id", tenantID)
		writeError(w, http.StatusBadGateway, "provider_error", perr.Error())
	default:
		h.logger.Error("calendar request failed", "error", err, "tenant_id", tenantID)
		writeError(w, http.StatusInternalServerError, "internal", "calendar request failed")
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
