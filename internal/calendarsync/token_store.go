package calendarsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// TokenStore persists calendar connections keyed by (tenant, staff|null).
type TokenStore interface {
	// Get returns nil, nil when the key has no token.
	Get(ctx context.Context, tenantID string, staffID *string) (*Token, error)
	List(ctx context.Context, tenantID string) ([]Token, error)
	// Save inserts or replaces the connection and marks it connected.
	Save(ctx context.Context, tok *Token) error
	// UpdateAccess stores refreshed credentials. An empty refresh token keeps the old one.
	UpdateAccess(ctx context.Context, tenantID string, staffID *string, accessToken, refreshToken string, expiry time.Time) error
	MarkReconnectRequired(ctx context.Context, tenantID string, staffID *string) error
	SelectCalendar(ctx context.Context, tenantID string, staffID *string, calendarID string) error
	Delete(ctx context.Context, tenantID string, staffID *string) error
}

// SettingsStore persists tenant calendar settings.
type SettingsStore interface {
	// GetSettings returns defaults when the tenant never saved settings.
	GetSettings(ctx context.Context, tenantID string) (Settings, error)
	SaveSettings(ctx context.Context, s Settings) error
}

type pgDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements TokenStore and SettingsStore with pgx.
type PostgresStore struct {
	db              pgDB
	defaultTimezone string
}

var (
	_ TokenStore    = (*PostgresStore)(nil)
	_ SettingsStore = (*PostgresStore)(nil)
)

func NewPostgresStore(db pgDB, defaultTimezone string) *PostgresStore {
	if db == nil {
		panic("calendarsync: pgx pool required")
	}
	if defaultTimezone == "" {
		defaultTimezone = "UTC"
	}
	return &PostgresStore{db: db, defaultTimezone: defaultTimezone}
}

const tokenColumns = `tenant_id, staff_id, access_token, refresh_token, expiry,
	COALESCE(calendar_id, ''), COALESCE(account_email, ''), status, updated_at`

func scanToken(row pgx.Row) (*Token, error) {
	var (
		tok    Token
		status string
	)
	if err := row.Scan(&tok.TenantID, &tok.StaffID, &tok.AccessToken, &tok.RefreshToken, &tok.Expiry,
		&tok.CalendarID, &tok.AccountEmail, &status, &tok.UpdatedAt); err != nil {
		return nil, err
	}
	tok.Status = TokenStatus(status)
	return &tok, nil
}

func (s *PostgresStore) Get(ctx context.Context, tenantID string, staffID *string) (*Token, error) {
	tok, err := scanToken(s.db.QueryRow(ctx, `SELECT `+tokenColumns+`
		FROM calendar_tokens
		WHERE tenant_id = $1 AND staff_key = $2
	`, tenantID, staffKey(staffID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("calendarsync: get token: %w", err)
	}
	return tok, nil
}

func (s *PostgresStore) List(ctx context.Context, tenantID string) ([]Token, error) {
	rows, err := s.db.Query(ctx, `SELECT `+tokenColumns+`
		FROM calendar_tokens
		WHERE tenant_id = $1
		ORDER BY staff_key
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("calendarsync: list tokens: %w", err)
	}
	defer rows.Close()

	var out []Token
	for rows.Next() {
		tok, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("calendarsync: scan token: %w", err)
		}
		out = append(out, *tok)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Save(ctx context.Context, tok *Token) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO calendar_tokens (
			tenant_id, staff_key, staff_id, access_token, refresh_token, expiry,
			calendar_id, account_email, status, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'connected', NOW())
		ON CONFLICT (tenant_id, staff_key) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), calendar_tokens.refresh_token),
			expiry = EXCLUDED.expiry,
			calendar_id = COALESCE(NULLIF(EXCLUDED.calendar_id, ''), calendar_tokens.calendar_id),
			account_email = EXCLUDED.account_email,
			status = 'connected',
			updated_at = NOW()
	`, tok.TenantID, staffKey(tok.StaffID), tok.StaffID, tok.AccessToken, tok.RefreshToken, tok.Expiry,
		tok.CalendarID, tok.AccountEmail)
	if err != nil {
		return fmt.Errorf("calendarsync: save token: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateAccess(ctx context.Context, tenantID string, staffID *string, accessToken, refreshToken string, expiry time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE calendar_tokens
		SET access_token = $3,
			refresh_token = COALESCE(NULLIF($4, ''), refresh_token),
			expiry = $5,
			updated_at = NOW()
		WHERE tenant_id = $1 AND staff_key = $2
	`, tenantID, staffKey(staffID), accessToken, refreshToken, expiry)
	if err != nil {
		return fmt.Errorf("calendarsync: update access token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotConnected
	}
	return nil
}

func (s *PostgresStore) MarkReconnectRequired(ctx context.Context, tenantID string, staffID *string) error {
	return s.execKeyed(ctx, "mark reconnect required", `
		UPDATE calendar_tokens SET status = 'reconnect_required', updated_at = NOW()
		WHERE tenant_id = $1 AND staff_key = $2
	`, tenantID, staffKey(staffID))
}

func (s *PostgresStore) SelectCalendar(ctx context.Context, tenantID string, staffID *string, calendarID string) error {
	return s.execKeyed(ctx, "select calendar", `
		UPDATE calendar_tokens SET calendar_id = $3, updated_at = NOW()
		WHERE tenant_id = $1 AND staff_key = $2
	`, tenantID, staffKey(staffID), calendarID)
}

func (s *PostgresStore) Delete(ctx context.Context, tenantID string, staffID *string) error {
	return s.execKeyed(ctx, "delete token", `
		DELETE FROM calendar_tokens WHERE tenant_id = $1 AND staff_key = $2
	`, tenantID, staffKey(staffID))
}

func (s *PostgresStore) execKeyed(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("calendarsync: %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotConnected
	}
	return nil
}

func (s *PostgresStore) GetSettings(ctx context.Context, tenantID string) (Settings, error) {
	st := Settings{TenantID: tenantID}
	var mode string
	err := s.db.QueryRow(ctx, `
		SELECT mode, timezone, generate_meet_link
		FROM calendar_settings
		WHERE tenant_id = $1
	`, tenantID).Scan(&mode, &st.Timezone, &st.GenerateMeetLink)
	if errors.Is(err, pgx.ErrNoRows) {
		return defaultSettings(tenantID, s.defaultTimezone), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("calendarsync: get settings: %w", err)
	}
	st.Mode = Mode(mode)
	if st.Timezone == "" {
		st.Timezone = s.defaultTimezone
	}
	return st, nil
}

func (s *PostgresStore) SaveSettings(ctx context.Context, st Settings) error {
	if err := st.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO calendar_settings (tenant_id, mode, timezone, generate_meet_link, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (tenant_id) DO UPDATE SET
			mode = EXCLUDED.mode,
			timezone = EXCLUDED.timezone,
			generate_meet_link = EXCLUDED.generate_meet_link,
			updated_at = NOW()
	`, st.TenantID, string(st.Mode), st.Timezone, st.GenerateMeetLink)
	if err != nil {
		return fmt.Errorf("calendarsync: save settings: %w", err)
	}
	return nil
}

func defaultSettings(tenantID, timezone string) Settings {
	return Settings{TenantID: tenantID, Mode: ModeCompany, Timezone: timezone}
}

// MemoryStore implements TokenStore and SettingsStore in process.
type MemoryStore struct {
	mu              sync.Mutex
	tokens          map[string]Token
	settings        map[string]Settings
	defaultTimezone string
}

var (
	_ TokenStore    = (*MemoryStore)(nil)
	_ SettingsStore = (*MemoryStore)(nil)
)

func NewMemoryStore(defaultTimezone string) *MemoryStore {
	if defaultTimezone == "" {
		defaultTimezone = "UTC"
	}
	return &MemoryStore{
		tokens:          make(map[string]Token),
		settings:        make(map[string]Settings),
		defaultTimezone: defaultTimezone,
	}
}

func (m *MemoryStore) Get(_ context.Context, tenantID string, staffID *string) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[tokenKey(tenantID, staffID)]
	if !ok {
		return nil, nil
	}
	return &tok, nil
}

func (m *MemoryStore) List(_ context.Context, tenantID string) ([]Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Token
	for _, tok := range m.tokens {
		if tok.TenantID == tenantID {
			out = append(out, tok)
		}
	}
	sort.Slice(out, func(i, j int) bool { return staffKey(out[i].StaffID) < staffKey(out[j].StaffID) })
	return out, nil
}

func (m *MemoryStore) Save(_ context.Context, tok *Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tokenKey(tok.TenantID, tok.StaffID)
	next := *tok
	if prev, ok := m.tokens[key]; ok {
		if next.RefreshToken == "" {
			next.RefreshToken = prev.RefreshToken
		}
		if next.CalendarID == "" {
			next.CalendarID = prev.CalendarID
		}
	}
	next.Status = TokenConnected
	next.UpdatedAt = time.Now().UTC()
	m.tokens[key] = next
	return nil
}

func (m *MemoryStore) UpdateAccess(_ context.Context, tenantID string, staffID *string, accessToken, refreshToken string, expiry time.Time) error {
	return m.update(tenantID, staffID, func(t *Token) {
		t.AccessToken = accessToken
		if refreshToken != "" {
			t.RefreshToken = refreshToken
		}
		t.Expiry = expiry
	})
}

func (m *MemoryStore) MarkReconnectRequired(_ context.Context, tenantID string, staffID *string) error {
	return m.update(tenantID, staffID, func(t *Token) { t.Status = TokenReconnectRequired })
}

func (m *MemoryStore) SelectCalendar(_ context.Context, tenantID string, staffID *string, calendarID string) error {
	return m.update(tenantID, staffID, func(t *Token) { t.CalendarID = calendarID })
}

func (m *MemoryStore) Delete(_ context.Context, tenantID string, staffID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tokenKey(tenantID, staffID)
	if _, ok := m.tokens[key]; !ok {
		return ErrNotConnected
	}
	delete(m.tokens, key)
	return nil
}

func (m *MemoryStore) update(tenantID string, staffID *string, fn func(*Token)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tokenKey(tenantID, staffID)
	tok, ok := m.tokens[key]
	if !ok {
		return ErrNotConnected
	}
	fn(&tok)
	tok.UpdatedAt = time.Now().UTC()
	m.tokens[key] = tok
	return nil
}

func (m *MemoryStore) GetSettings(_ context.Context, tenantID string) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.settings[tenantID]; ok {
		return st, nil
	}
	return defaultSettings(tenantID, m.defaultTimezone), nil
}

func (m *MemoryStore) SaveSettings(_ context.Context, st Settings) error {
	if err := st.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[st.TenantID] = st
	return nil
}
