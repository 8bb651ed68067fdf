package calendarsync

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"tenant_id", "staff_id", "access_token", "refresh_token", "expiry",
		"calendar_id", "account_email", "status", "updated_at",
	})
}

func TestPostgresStore_GetMissingReturnsNil(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM calendar_tokens").WithArgs("tenant-1", "").WillReturnError(pgx.ErrNoRows)

	tok, err := NewPostgresStore(mock, "UTC").Get(context.Background(), "tenant-1", nil)
	require.NoError(t, err)
	assert.Nil(t, tok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetStaffToken(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	staff := "ana"
	expiry := time.Date(2025, time.March, 3, 15, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM calendar_tokens").WithArgs("tenant-1", "ana").
		WillReturnRows(tokenRows().AddRow("tenant-1", &staff, "access", "refresh", expiry, "work@example.com", "ana@example.com", "connected", expiry))

	tok, err := NewPostgresStore(mock, "UTC").Get(context.Background(), "tenant-1", &staff)
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "ana", *tok.StaffID)
	assert.Equal(t, "work@example.com", tok.Calendar())
	assert.Equal(t, TokenConnected, tok.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveUpserts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expiry := time.Now().Add(time.Hour)
	tok := &Token{TenantID: "tenant-1", AccessToken: "a", RefreshToken: "r", Expiry: expiry, AccountEmail: "owner@example.com"}
	mock.ExpectExec("ON CONFLICT \\(tenant_id, staff_key\\) DO UPDATE").
		WithArgs("tenant-1", "", (*string)(nil), "a", "r", expiry, "", "owner@example.com").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewPostgresStore(mock, "UTC").Save(context.Background(), tok))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_KeyedUpdatesReportMissingConnection(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock, "UTC")
	mock.ExpectExec("UPDATE calendar_tokens SET calendar_id").WithArgs("tenant-1", "", "team@example.com").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("DELETE FROM calendar_tokens").WithArgs("tenant-1", "").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	assert.ErrorIs(t, store.SelectCalendar(context.Background(), "tenant-1", nil, "team@example.com"), ErrNotConnected)
	assert.NoError(t, store.Delete(context.Background(), "tenant-1", nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SettingsDefaultAndSave(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock, "America/Sao_Paulo")
	mock.ExpectQuery("FROM calendar_settings").WithArgs("tenant-1").WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO calendar_settings").
		WithArgs("tenant-1", "per_staff", "America/Sao_Paulo", true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	st, err := store.GetSettings(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, ModeCompany, st.Mode)
	assert.Equal(t, "America/Sao_Paulo", st.Timezone)

	st.Mode = ModePerStaff
	st.GenerateMeetLink = true
	require.NoError(t, store.SaveSettings(context.Background(), st))

	assert.Error(t, store.SaveSettings(context.Background(), Settings{TenantID: "tenant-1", Mode: "weekly", Timezone: "UTC"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryStore_SaveKeepsRefreshTokenAndCalendar(t *testing.T) {
	store := NewMemoryStore("")
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &Token{TenantID: "tenant-1", AccessToken: "a1", RefreshToken: "r1"}))
	require.NoError(t, store.SelectCalendar(ctx, "tenant-1", nil, "team@example.com"))
	require.NoError(t, store.MarkReconnectRequired(ctx, "tenant-1", nil))

	require.NoError(t, store.Save(ctx, &Token{TenantID: "tenant-1", AccessToken: "a2"}))
	tok, err := store.Get(ctx, "tenant-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "a2", tok.AccessToken)
	assert.Equal(t, "r1", tok.RefreshToken)
	assert.Equal(t, "team@example.com", tok.CalendarID)
	assert.Equal(t, TokenConnected, tok.Status)

	require.NoError(t, store.Delete(ctx, "tenant-1", nil))
	assert.ErrorIs(t, store.Delete(ctx, "tenant-1", nil), ErrNotConnected)
}
