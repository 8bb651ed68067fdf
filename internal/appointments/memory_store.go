package appointments

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wolfman30/agenda-platform/internal/scheduling"
	"github.com/wolfman30/agenda-platform/internal/sessions"
)

// InMemoryStore implements Store in process. Transactions are serialized by
// a single mutex and applied to a copy that replaces the live data on commit.
type InMemoryStore struct {
	mu           sync.Mutex
	policies     map[string]scheduling.Policy
	hours        map[string]map[time.Weekday]scheduling.DayHours
	services     map[string]scheduling.Service
	appointments map[string]scheduling.Appointment
	sessions     *sessions.MemoryStore
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		policies:     make(map[string]scheduling.Policy),
		hours:        make(map[string]map[time.Weekday]scheduling.DayHours),
		services:     make(map[string]scheduling.Service),
		appointments: make(map[string]scheduling.Appointment),
		sessions:     sessions.NewMemoryStore(),
	}
}

// SetPolicy stores a tenant policy.
func (s *InMemoryStore) SetPolicy(tenantID string, p scheduling.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[tenantID] = p
}

// SetHours stores one weekday rule.
func (s *InMemoryStore) SetHours(h scheduling.DayHours) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hours[h.TenantID] == nil {
		s.hours[h.TenantID] = make(map[time.Weekday]scheduling.DayHours)
	}
	s.hours[h.TenantID][h.Weekday] = h
}

// PutService stores a service.
func (s *InMemoryStore) PutService(svc scheduling.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[svc.TenantID+"/"+svc.ID] = svc
}

// PutAppointment stores an appointment as-is, bypassing booking rules.
func (s *InMemoryStore) PutAppointment(appt scheduling.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appointments[appt.ID] = appt
}

// SessionStore exposes the backing session ledger data.
func (s *InMemoryStore) SessionStore() *sessions.MemoryStore {
	return s.sessions
}

func (s *InMemoryStore) Policy(_ context.Context, tenantID string) (scheduling.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policies[tenantID].WithDefaults(), nil
}

func (s *InMemoryStore) DayHours(_ context.Context, tenantID string, weekday time.Weekday) (*scheduling.DayHours, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dayHoursLocked(tenantID, weekday), nil
}

func (s *InMemoryStore) dayHoursLocked(tenantID string, weekday time.Weekday) *scheduling.DayHours {
	h, ok := s.hours[tenantID][weekday]
	if !ok {
		return nil
	}
	return &h
}

func (s *InMemoryStore) Service(_ context.Context, tenantID, serviceID string) (scheduling.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serviceLocked(tenantID, serviceID)
}

func (s *InMemoryStore) serviceLocked(tenantID, serviceID string) (scheduling.Service, error) {
	svc, ok := s.services[tenantID+"/"+serviceID]
	if !ok {
		return scheduling.Service{}, fmt.Errorf("appointments: service %s: %w", serviceID, scheduling.ErrNotFound)
	}
	return svc, nil
}

func (s *InMemoryStore) Get(_ context.Context, tenantID, appointmentID string) (*scheduling.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getFrom(s.appointments, tenantID, appointmentID)
}

func (s *InMemoryStore) AppointmentsOn(_ context.Context, tenantID string, date scheduling.Date) ([]scheduling.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appointmentsOn(s.appointments, tenantID, date), nil
}

func (s *InMemoryStore) SetExternalEvent(_ context.Context, tenantID, appointmentID, eventID string, meetingLink *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.appointments[appointmentID]
	if !ok || appt.TenantID != tenantID {
		return false, fmt.Errorf("appointments: appointment %s: %w", appointmentID, scheduling.ErrNotFound)
	}
	if appt.HasExternalEvent() || !appt.Status.OccupiesCapacity() {
		return false, nil
	}
	id := eventID
	appt.ExternalEventID = &id
	appt.MeetingLink = meetingLink
	appt.UpdatedAt = time.Now().UTC()
	s.appointments[appointmentID] = appt
	return true, nil
}

func (s *InMemoryStore) ClearExternalEvent(_ context.Context, tenantID, appointmentID, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.appointments[appointmentID]
	if !ok || appt.TenantID != tenantID {
		return fmt.Errorf("appointments: appointment %s: %w", appointmentID, scheduling.ErrNotFound)
	}
	if appt.ExternalEventID != nil && *appt.ExternalEventID == eventID {
		appt.ExternalEventID = nil
		appt.MeetingLink = nil
		appt.UpdatedAt = time.Now().UTC()
		s.appointments[appointmentID] = appt
	}
	return nil
}

func (s *InMemoryStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		store:        s,
		appointments: make(map[string]scheduling.Appointment, len(s.appointments)),
		sessions:     &stagedSessions{live: s.sessions},
	}
	for id, appt := range s.appointments {
		tx.appointments[id] = appt
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.appointments = tx.appointments
	return tx.sessions.commit(ctx)
}

type memoryTx struct {
	store        *InMemoryStore
	appointments map[string]scheduling.Appointment
	sessions     *stagedSessions
}

func (t *memoryTx) LockDay(context.Context, string, scheduling.Date) error {
	// The store mutex already serializes every transaction.
	return nil
}

func (t *memoryTx) AppointmentsOn(_ context.Context, tenantID string, date scheduling.Date) ([]scheduling.Appointment, error) {
	return appointmentsOn(t.appointments, tenantID, date), nil
}

func (t *memoryTx) Insert(_ context.Context, appt *scheduling.Appointment) error {
	if _, exists := t.appointments[appt.ID]; exists {
		return fmt.Errorf("appointments: duplicate id %s", appt.ID)
	}
	t.appointments[appt.ID] = *appt
	return nil
}

func (t *memoryTx) GetForUpdate(_ context.Context, tenantID, appointmentID string) (*scheduling.Appointment, error) {
	return getFrom(t.appointments, tenantID, appointmentID)
}

func (t *memoryTx) UpdateStatus(_ context.Context, tenantID, appointmentID string, status scheduling.Status, at time.Time) error {
	appt, ok := t.appointments[appointmentID]
	if !ok || appt.TenantID != tenantID {
		return fmt.Errorf("appointments: appointment %s: %w", appointmentID, scheduling.ErrNotFound)
	}
	appt.Status = status
	appt.UpdatedAt = at
	t.appointments[appointmentID] = appt
	return nil
}

func (t *memoryTx) Policy(_ context.Context, tenantID string) (scheduling.Policy, error) {
	return t.store.policies[tenantID].WithDefaults(), nil
}

func (t *memoryTx) DayHours(_ context.Context, tenantID string, weekday time.Weekday) (*scheduling.DayHours, error) {
	return t.store.dayHoursLocked(tenantID, weekday), nil
}

func (t *memoryTx) Service(_ context.Context, tenantID, serviceID string) (scheduling.Service, error) {
	return t.store.serviceLocked(tenantID, serviceID)
}

func (t *memoryTx) Sessions() sessions.Store {
	return t.sessions
}

// stagedSessions buffers ledger writes so a failed transaction leaves the
// live session data untouched.
type stagedSessions struct {
	live     *sessions.MemoryStore
	packages []sessions.Package
	entries  []sessions.Session
	statuses map[string]sessions.PackageStatus
}

func (s *stagedSessions) SessionByAppointment(ctx context.Context, appointmentID string) (*sessions.Session, error) {
	for _, e := range s.entries {
		if e.AppointmentID == appointmentID {
			cp := e
			return &cp, nil
		}
	}
	return s.live.SessionByAppointment(ctx, appointmentID)
}

func (s *stagedSessions) ActivePackage(ctx context.Context, tenantID, clientPhone, serviceID string) (*sessions.Package, error) {
	for _, p := range s.packages {
		if p.TenantID == tenantID && p.ClientPhone == clientPhone && p.ServiceID == serviceID && s.statusOf(p) == sessions.PackageActive {
			cp := p
			return &cp, nil
		}
	}
	p, err := s.live.ActivePackage(ctx, tenantID, clientPhone, serviceID)
	if err != nil || p == nil {
		return p, err
	}
	if s.statusOf(*p) != sessions.PackageActive {
		return nil, nil
	}
	return p, nil
}

func (s *stagedSessions) statusOf(p sessions.Package) sessions.PackageStatus {
	if st, ok := s.statuses[p.ID]; ok {
		return st
	}
	return p.Status
}

func (s *stagedSessions) CreatePackage(_ context.Context, pkg *sessions.Package) error {
	s.packages = append(s.packages, *pkg)
	return nil
}

func (s *stagedSessions) CountSessions(ctx context.Context, packageID string) (int, error) {
	n, err := s.live.CountSessions(ctx, packageID)
	if err != nil {
		return 0, err
	}
	for _, e := range s.entries {
		if e.PackageID == packageID {
			n++
		}
	}
	return n, nil
}

func (s *stagedSessions) InsertSession(_ context.Context, sess *sessions.Session) error {
	s.entries = append(s.entries, *sess)
	return nil
}

func (s *stagedSessions) SetPackageStatus(_ context.Context, packageID string, status sessions.PackageStatus) error {
	if s.statuses == nil {
		s.statuses = make(map[string]sessions.PackageStatus)
	}
	s.statuses[packageID] = status
	return nil
}

func (s *stagedSessions) commit(ctx context.Context) error {
	for i := range s.packages {
		if err := s.live.CreatePackage(ctx, &s.packages[i]); err != nil {
			return err
		}
	}
	for i := range s.entries {
		if err := s.live.InsertSession(ctx, &s.entries[i]); err != nil {
			return err
		}
	}
	for id, st := range s.statuses {
		if err := s.live.SetPackageStatus(ctx, id, st); err != nil {
			return err
		}
	}
	return nil
}

func getFrom(m map[string]scheduling.Appointment, tenantID, appointmentID string) (*scheduling.Appointment, error) {
	appt, ok := m[appointmentID]
	if !ok || appt.TenantID != tenantID {
		return nil, fmt.Errorf("appointments: appointment %s: %w", appointmentID, scheduling.ErrNotFound)
	}
	return &appt, nil
}

func appointmentsOn(m map[string]scheduling.Appointment, tenantID string, date scheduling.Date) []scheduling.Appointment {
	var out []scheduling.Appointment
	for _, appt := range m {
		if appt.TenantID == tenantID && appt.Date == date {
			out = append(out, appt)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].ID < out[j].ID
	})
	return out
}
