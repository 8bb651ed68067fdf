package calendarsync

import (
	"fmt"
	"strings"
	"time"
)

// TokenStatus is the health of a stored connection.
type TokenStatus string

const (
	TokenConnected         TokenStatus = "connected"
	TokenReconnectRequired TokenStatus = "reconnect_required"
)

// Token is a stored OAuth connection. StaffID nil is the tenant-wide token.
type Token struct {
	TenantID     string      `json:"tenant_id"`
	StaffID      *string     `json:"staff_id,omitempty"`
	AccessToken  string      `json:"-"`
	RefreshToken string      `json:"-"`
	Expiry       time.Time   `json:"expiry"`
	CalendarID   string      `json:"calendar_id"`
	AccountEmail string      `json:"account_email"`
	Status       TokenStatus `json:"status"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Calendar returns the selected calendar, defaulting to the primary one.
func (t *Token) Calendar() string {
	if t.CalendarID == "" {
		return "primary"
	}
	return t.CalendarID
}

// staffKey flattens the optional staff id so the tenant-wide token has its own key.
func staffKey(staffID *string) string {
	if staffID == nil {
		return ""
	}
	return strings.TrimSpace(*staffID)
}

func tokenKey(tenantID string, staffID *string) string {
	return tenantID + "/" + staffKey(staffID)
}

// Mode selects how appointments are routed to calendars.
type Mode string

const (
	ModeCompany  Mode = "company"
	ModePerStaff Mode = "per_staff"
)

// Settings is the tenant's calendar configuration.
type Settings struct {
	TenantID         string `json:"tenant_id"`
	Mode             Mode   `json:"mode"`
	Timezone         string `json:"timezone"`
	GenerateMeetLink bool   `json:"generate_meet_link"`
}

// Validate checks the mode and timezone.
func (s Settings) Validate() error {
	if s.Mode != ModeCompany && s.Mode != ModePerStaff {
		return fmt.Errorf("calendarsync: unknown mode %q", s.Mode)
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return fmt.Errorf("calendarsync: invalid timezone %q: %w", s.Timezone, err)
	}
	return nil
}

// ResultStatus is the outcome of a sync call.
type ResultStatus string

const (
	ResultSynced        ResultStatus = "synced"
	ResultAlreadySynced ResultStatus = "already_synced"
	ResultSkipped       ResultStatus = "skipped"
	ResultFailed        ResultStatus = "failed"
)

// Skip reasons.
const (
	ReasonNoStaff           = "no staff assigned"
	ReasonNotConnected      = "not connected"
	ReasonReconnectRequired = "reconnect required"
	ReasonInactive          = "appointment not active"
)

// Result describes what SyncAppointment did.
type Result struct {
	Status      ResultStatus `json:"status"`
	Reason      string       `json:"reason,omitempty"`
	EventID     string       `json:"event_id,omitempty"`
	MeetingLink string       `json:"meeting_link,omitempty"`
}

// Event is the provider-neutral payload for a mirrored appointment.
type Event struct {
	RequestID   string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	TimeZone    string
	MeetLink    bool
}

// CreatedEvent is what the provider returns after creating an event.
type CreatedEvent struct {
	ID          string
	MeetingLink string
}

// CalendarInfo is one calendar of the connected account.
type CalendarInfo struct {
	ID       string `json:"id"`
	Summary  string `json:"summary"`
	Primary  bool   `json:"primary"`
	TimeZone string `json:"time_zone,omitempty"`
}
