// Package scheduling holds the booking domain types and the availability engine.
package scheduling

import (
	"strings"
	"time"
)

// DayHours is one weekday's opening window for a tenant.
// A missing row or IsOpen=false means the tenant is closed that day.
type DayHours struct {
	TenantID string       `json:"tenant_id"`
	Weekday  time.Weekday `json:"weekday"`
	IsOpen   bool         `json:"is_open"`
	Open     TimeOfDay    `json:"open_time"`
	Close    TimeOfDay    `json:"close_time"`
}

// Policy holds the per-tenant slot rules.
type Policy struct {
	SlotIntervalMinutes int `json:"slot_interval_minutes"`
	MinAdvanceHours     int `json:"min_advance_hours"`
	MaxCapacityPerSlot  int `json:"max_capacity_per_slot"`
}

const (
	DefaultSlotIntervalMinutes = 30
	DefaultMinAdvanceHours     = 2
	DefaultMaxCapacityPerSlot  = 1
)

// DefaultPolicy returns the policy applied to tenants that never configured one.
func DefaultPolicy() Policy {
	return Policy{
		SlotIntervalMinutes: DefaultSlotIntervalMinutes,
		MinAdvanceHours:     DefaultMinAdvanceHours,
		MaxCapacityPerSlot:  DefaultMaxCapacityPerSlot,
	}
}

// WithDefaults fills zero fields with the documented defaults.
func (p Policy) WithDefaults() Policy {
	if p.SlotIntervalMinutes == 0 {
		p.SlotIntervalMinutes = DefaultSlotIntervalMinutes
	}
	if p.MinAdvanceHours == 0 {
		p.MinAdvanceHours = DefaultMinAdvanceHours
	}
	if p.MaxCapacityPerSlot == 0 {
		p.MaxCapacityPerSlot = DefaultMaxCapacityPerSlot
	}
	return p
}

// Validate enforces that every field is a positive integer.
func (p Policy) Validate() error {
	if p.SlotIntervalMinutes <= 0 {
		return Invalid("slot_interval_minutes", "must be positive")
	}
	if p.MinAdvanceHours <= 0 {
		return Invalid("min_advance_hours", "must be positive")
	}
	if p.MaxCapacityPerSlot <= 0 {
		return Invalid("max_capacity_per_slot", "must be positive")
	}
	return nil
}

// Service is a bookable offering.
type Service struct {
	ID              string `json:"id"`
	TenantID        string `json:"tenant_id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	Active          bool   `json:"active"`
	// TracksSessions marks services sold as multi-visit packages.
	TracksSessions bool `json:"tracks_sessions"`
	// TotalSessions is the package size; nil means unlimited.
	TotalSessions *int `json:"total_sessions,omitempty"`
}

func (s Service) Validate() error {
	if s.DurationMinutes <= 0 {
		return Invalid("duration_minutes", "must be positive")
	}
	return nil
}

// Status is an appointment lifecycle state.
type Status string

const (
	StatusPending     Status = "pending"
	StatusConfirmed   Status = "confirmed"
	StatusCompleted   Status = "completed"
	StatusCanceled    Status = "canceled"
	StatusNoShow      Status = "no_show"
	StatusRescheduled Status = "rescheduled"
)

var allStatuses = []Status{
	StatusPending, StatusConfirmed, StatusCompleted,
	StatusCanceled, StatusNoShow, StatusRescheduled,
}

// AllStatuses lists every known status.
func AllStatuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// ParseStatus normalizes s and rejects unknown values.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", Invalid("status", "unknown status %q", s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	for _, known := range allStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// OccupiesCapacity reports whether an appointment in this status blocks its slot.
func (s Status) OccupiesCapacity() bool {
	switch s {
	case StatusCanceled, StatusRescheduled, StatusNoShow:
		return false
	default:
		return true
	}
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCanceled, StatusNoShow},
	StatusConfirmed: {StatusCompleted, StatusCanceled, StatusNoShow, StatusRescheduled},
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Appointment is a booked visit.
type Appointment struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	StaffID         *string   `json:"staff_id,omitempty"`
	ServiceID       string    `json:"service_id"`
	ClientName      string    `json:"client_name"`
	ClientPhone     string    `json:"client_phone"`
	Date            Date      `json:"date"`
	Start           TimeOfDay `json:"start_time"`
	End             TimeOfDay `json:"end_time"`
	Status          Status    `json:"status"`
	ExternalEventID *string   `json:"external_event_id,omitempty"`
	MeetingLink     *string   `json:"meeting_link,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// BookingRequest carries the fields a client or staff member supplies.
type BookingRequest struct {
	TenantID    string    `json:"-"`
	ServiceID   string    `json:"service_id"`
	StaffID     *string   `json:"staff_id,omitempty"`
	ClientName  string    `json:"client_name"`
	ClientPhone string    `json:"client_phone"`
	Date        Date      `json:"date"`
	Start       TimeOfDay `json:"time"`
	Notes       string    `json:"notes,omitempty"`
}

// Validate checks the request shape.
func (r BookingRequest) Validate() error {
	if strings.TrimSpace(r.TenantID) == "" {
		return Invalid("tenant_id", "is required")
	}
	if strings.TrimSpace(r.ServiceID) == "" {
		return Invalid("service_id", "is required")
	}
	if strings.TrimSpace(r.ClientName) == "" {
		return Invalid("client_name", "is required")
	}
	if strings.TrimSpace(r.ClientPhone) == "" {
		return Invalid("client_phone", "is required")
	}
	if r.Date.IsZero() {
		return Invalid("date", "is required")
	}
	if r.Start < 0 || r.Start >= EndOfDay {
		return Invalid("time", "out of range")
	}
	return nil
}

// NewAppointment builds an appointment for svc. End is derived from the
// service duration here and nowhere else.
func NewAppointment(id string, req BookingRequest, svc Service, status Status, now time.Time) (*Appointment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := svc.Validate(); err != nil {
		return nil, err
	}
	end := req.Start.Add(svc.DurationMinutes)
	if end > EndOfDay {
		return nil, Invalid("time", "appointment would end after midnight")
	}
	var staff *string
	if req.StaffID != nil && strings.TrimSpace(*req.StaffID) != "" {
		s := strings.TrimSpace(*req.StaffID)
		staff = &s
	}
	return &Appointment{
		ID:          id,
		TenantID:    req.TenantID,
		StaffID:     staff,
		ServiceID:   svc.ID,
		ClientName:  strings.TrimSpace(req.ClientName),
		ClientPhone: strings.TrimSpace(req.ClientPhone),
		Date:        req.Date,
		Start:       req.Start,
		End:         end,
		Status:      status,
		Notes:       req.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// HasExternalEvent reports whether the appointment is mirrored externally.
func (a *Appointment) HasExternalEvent() bool {
	return a.ExternalEventID != nil && *a.ExternalEventID != ""
}

// Overlaps reports whether the half-open intervals [s1,e1) and [s2,e2) intersect.
func Overlaps(s1, e1, s2, e2 TimeOfDay) bool {
	return s1 < e2 && s2 < e1
}

// Clock abstracts "now" so slot computation stays deterministic in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant.
type FixedClock time.Time

func (c FixedClock) Now() time.Time { return time.Time(c) }
