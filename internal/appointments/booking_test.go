package appointments

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/agenda-platform/internal/calendarsync"
	"github.com/wolfman30/agenda-platform/internal/observability/metrics"
	"github.com/wolfman30/agenda-platform/internal/scheduling"
	"github.com/wolfman30/agenda-platform/internal/tenancy"
)

func TestBook_CreatesPendingAndConsumesSlot(t *testing.T) {
	store := newFixtureStore()
	history := &fakeHistory{}
	svc := newTestService(store, WithHistory(history))
	ctx := context.Background()

	appt, err := svc.Book(ctx, bookingRequest("facial", "10:00"))
	require.NoError(t, err)
	assert.Equal(t, scheduling.StatusPending, appt.Status)
	assert.Equal(t, "10:30", appt.End.String())
	assert.NotEmpty(t, appt.ID)

	slots, err := svc.Availability(ctx, "tenant-1", "facial", monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"10:30", "11:00", "11:30"}, slotStrings(slots))

	_, err = svc.Book(ctx, bookingRequest("facial", "10:00"))
	assert.ErrorIs(t, err, scheduling.ErrSlotUnavailable)

	require.Len(t, history.changes, 1)
	assert.Equal(t, scheduling.Status(""), history.changes[0].From)
	assert.Equal(t, "client", history.changes[0].ChangedBy)
}

func TestBook_OverlappingLongServiceBlocksNeighbours(t *testing.T) {
	svc := newTestService(newFixtureStore())
	ctx := context.Background()

	_, err := svc.Book(ctx, bookingRequest("massage", "10:00"))
	require.NoError(t, err)

	_, err = svc.Book(ctx, bookingRequest("facial", "10:30"))
	assert.ErrorIs(t, err, scheduling.ErrSlotUnavailable)

	slots, err := svc.Availability(ctx, "tenant-1", "facial", monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"11:00", "11:30"}, slotStrings(slots))
}

func TestBook_ConcurrentRequestsForLastSeat(t *testing.T) {
	svc := newTestService(newFixtureStore())

	const callers = 8
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		mu      sync.Mutex
		created int
		refused int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Book(context.Background(), bookingRequest("facial", "11:00"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, scheduling.ErrSlotUnavailable):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, callers-1, refused)
}

func TestBook_CapacityAllowsParallelAppointments(t *testing.T) {
	store := newFixtureStore()
	store.SetPolicy("tenant-1", scheduling.Policy{SlotIntervalMinutes: 30, MinAdvanceHours: 2, MaxCapacityPerSlot: 2})
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.Book(ctx, bookingRequest("facial", "10:00"))
	require.NoError(t, err)
	slots, err := svc.Availability(ctx, "tenant-1", "facial", monday)
	require.NoError(t, err)
	assert.Contains(t, slotStrings(slots), "10:00")

	_, err = svc.Book(ctx, bookingRequest("facial", "10:00"))
	require.NoError(t, err)
	slots, err = svc.Availability(ctx, "tenant-1", "facial", monday)
	require.NoError(t, err)
	assert.NotContains(t, slotStrings(slots), "10:00")
}

func TestBook_Rejections(t *testing.T) {
	svc := newTestService(newFixtureStore())
	ctx := context.Background()

	cases := map[string]struct {
		req  scheduling.BookingRequest
		want error
	}{
		"unknown service":  {req: bookingRequest("unknown", "10:00"), want: scheduling.ErrValidation},
		"inactive service": {req: bookingRequest("retired", "10:00"), want: scheduling.ErrValidation},
		"inside notice":    {req: bookingRequest("facial", "09:30"), want: scheduling.ErrSlotUnavailable},
		"off grid":         {req: bookingRequest("facial", "10:15"), want: scheduling.ErrSlotUnavailable},
		"past close":       {req: bookingRequest("massage", "11:30"), want: scheduling.ErrSlotUnavailable},
		"missing name": {
			req: func() scheduling.BookingRequest {
				r := bookingRequest("facial", "10:00")
				r.ClientName = " "
				return r
			}(),
			want: scheduling.ErrValidation,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Book(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestBook_ClientBookingDoesNotNotify(t *testing.T) {
	notifier := &fakeNotifier{}
	svc := newTestService(newFixtureStore(), WithNotifier(notifier))

	_, err := svc.Book(context.Background(), bookingRequest("facial", "10:00"))
	require.NoError(t, err)
	assert.Empty(t, notifier.statuses())
}

func TestCreateForStaff_ConfirmedNotifiesAndSyncs(t *testing.T) {
	store := newFixtureStore()
	cal := &fakeCalendar{store: store}
	notifier := &fakeNotifier{}
	history := &fakeHistory{}
	svc := newTestService(store, WithCalendarSync(cal), WithNotifier(notifier), WithHistory(history))

	ctx := tenancy.WithStaffID(tenancy.WithTenantID(context.Background(), "tenant-1"), "ana")
	req := bookingRequest("facial", "10:00")
	req.StaffID = strPtr("ana")
	appt, err := svc.CreateForStaff(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, scheduling.StatusConfirmed, appt.Status)
	require.NotNil(t, appt.ExternalEventID)
	assert.Equal(t, "evt-1", *appt.ExternalEventID)
	assert.Equal(t, []string{"confirmed"}, notifier.statuses())
	assert.Equal(t, "Limpeza de pele", notifier.sent[0].ServiceName)
	assert.Equal(t, "ana", notifier.sent[0].StaffID)
	assert.Equal(t, "staff:ana", history.changes[0].ChangedBy)
}

func TestCreateForStaff_PendingOption(t *testing.T) {
	notifier := &fakeNotifier{}
	svc := newTestService(newFixtureStore(), WithStaffInitialStatus(scheduling.StatusPending), WithNotifier(notifier))

	appt, err := svc.CreateForStaff(context.Background(), bookingRequest("facial", "10:00"))
	require.NoError(t, err)
	assert.Equal(t, scheduling.StatusPending, appt.Status)
	assert.Empty(t, notifier.statuses())
}

func TestBook_SyncFailureKeepsBooking(t *testing.T) {
	store := newFixtureStore()
	cal := &fakeCalendar{store: store, syncErr: &calendarsync.ProviderError{Op: "insert event", StatusCode: 503}}
	reg := prometheus.NewRegistry()
	svc := newTestService(store, WithCalendarSync(cal), WithMetrics(metrics.NewSchedulingMetrics(reg)))

	appt, err := svc.Book(context.Background(), bookingRequest("facial", "10:00"))
	require.NoError(t, err)
	assert.False(t, appt.HasExternalEvent())
	assert.Equal(t, []string{appt.ID}, cal.syncs)

	stored, err := store.Get(context.Background(), "tenant-1", appt.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.StatusPending, stored.Status)
	assert.Equal(t, 1, testutil.CollectAndCount(reg, "agenda_scheduling_side_effects_total"))
}
