package sessions

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps packages and sessions in process. It backs the
// in-memory appointment store and tests.
type MemoryStore struct {
	mu       sync.Mutex
	packages map[string]*Package
	sessions map[string]*Session
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		packages: make(map[string]*Package),
		sessions: make(map[string]*Session),
	}
}

func (m *MemoryStore) SessionByAppointment(_ context.Context, appointmentID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.AppointmentID == appointmentID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ActivePackage(_ context.Context, tenantID, clientPhone, serviceID string) (*Package, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.packages {
		if p.TenantID == tenantID && p.ClientPhone == clientPhone && p.ServiceID == serviceID && p.Status == PackageActive {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) CreatePackage(_ context.Context, pkg *Package) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *pkg
	m.packages[pkg.ID] = &cp
	return nil
}

func (m *MemoryStore) CountSessions(_ context.Context, packageID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.PackageID == packageID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) InsertSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) SetPackageStatus(_ context.Context, packageID string, status PackageStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.packages[packageID]; ok {
		p.Status = status
	}
	return nil
}

// Packages returns every package for the client ordered by creation.
func (m *MemoryStore) Packages(tenantID, clientPhone string) []Package {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Package
	for _, p := range m.packages {
		if p.TenantID == tenantID && p.ClientPhone == clientPhone {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Sessions returns the sessions of a package ordered by number.
func (m *MemoryStore) Sessions(packageID string) []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.sessions {
		if s.PackageID == packageID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}
