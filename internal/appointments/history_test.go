package appointments

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/agenda-platform/internal/scheduling"
)

func TestSQLHistory_RecordCreationRowHasNullFrom(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2025, time.March, 3, 8, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO appointment_status_history").
		WithArgs(sqlmock.AnyArg(), "tenant-1", "appt-1", nil, "pending", "client", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO appointment_status_history").
		WithArgs("hist-2", "tenant-1", "appt-1", "pending", "confirmed", "staff:ana", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	h := NewSQLHistory(db)
	require.NoError(t, h.Record(context.Background(), StatusChange{
		TenantID: "tenant-1", AppointmentID: "appt-1", To: scheduling.StatusPending, ChangedBy: "client", ChangedAt: at,
	}))
	require.NoError(t, h.Record(context.Background(), StatusChange{
		ID: "hist-2", TenantID: "tenant-1", AppointmentID: "appt-1",
		From: scheduling.StatusPending, To: scheduling.StatusConfirmed, ChangedBy: "staff:ana", ChangedAt: at,
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLHistory_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2025, time.March, 3, 8, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "tenant_id", "appointment_id", "from_status", "to_status", "changed_by", "changed_at"}).
		AddRow("h1", "tenant-1", "appt-1", nil, "pending", "client", at).
		AddRow("h2", "tenant-1", "appt-1", "pending", "canceled", "staff:ana", at.Add(time.Hour))
	mock.ExpectQuery("FROM appointment_status_history").WithArgs("tenant-1", "appt-1").WillReturnRows(rows)

	items, err := NewSQLHistory(db).List(context.Background(), "tenant-1", "appt-1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, scheduling.Status(""), items[0].From)
	assert.Equal(t, scheduling.StatusCanceled, items[1].To)
	assert.Equal(t, "staff:ana", items[1].ChangedBy)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLHistory_CountByStatusZeroFills(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	since := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("to_status = ANY").
		WithArgs("tenant-1", sqlmock.AnyArg(), since).
		WillReturnRows(sqlmock.NewRows([]string{"to_status", "count"}).AddRow("canceled", 4))

	counts, err := NewSQLHistory(db).CountByStatus(context.Background(), "tenant-1",
		[]scheduling.Status{scheduling.StatusCanceled, scheduling.StatusNoShow}, since)
	require.NoError(t, err)
	assert.Equal(t, map[scheduling.Status]int{scheduling.StatusCanceled: 4, scheduling.StatusNoShow: 0}, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLHistory_NilDBIsNoop(t *testing.T) {
	var h *SQLHistory
	assert.NoError(t, h.Record(context.Background(), StatusChange{}))
}
