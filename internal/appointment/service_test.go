package appointment

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/appointment-booking-engine/internal/availability"
	"github.com/hackgods/appointment-booking-engine/internal/directory"
	"github.com/hackgods/appointment-booking-engine/internal/logging"
	redisclient "github.com/hackgods/appointment-booking-engine/internal/redis"
	"github.com/hackgods/appointment-booking-engine/internal/rules"
	"github.com/hackgods/appointment-booking-engine/internal/schedule"
)

type fakeDirectory struct {
	mu       sync.Mutex
	staff    map[uuid.UUID]schedule.StaffMember
	services map[uuid.UUID]directory.Service
	rules    rules.BusinessRules
}

func (f *fakeDirectory) GetStaff(_ context.Context, businessID, staffID uuid.UUID) (*schedule.StaffMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.staff[staffID]
	if !ok || s.BusinessID != businessID {
		return nil, directory.ErrStaffNotFound
	}
	return &s, nil
}

func (f *fakeDirectory) GetService(_ context.Context, businessID, serviceID uuid.UUID) (*directory.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.services[serviceID]
	if !ok || s.BusinessID != businessID {
		return nil, directory.ErrServiceNotFound
	}
	return &s, nil
}

func (f *fakeDirectory) GetBusinessRules(context.Context, uuid.UUID) (rules.BusinessRules, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rules, nil
}


type fixture struct {
	businessID uuid.UUID
	staffID    uuid.UUID
	otherStaff uuid.UUID
	serviceID  uuid.UUID
	proofSvcID uuid.UUID
	dir        *fakeDirectory
	store      *memStore
	now        time.Time
}

func newFixture() *fixture {
	f := &fixture{
		businessID: uuid.New(),
		staffID:    uuid.New(),
		otherStaff: uuid.New(),
		serviceID:  uuid.New(),
		proofSvcID: uuid.New(),
		store:      newMemStore(),
		now:        time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC),
	}
	staff := func(id uuid.UUID) schedule.StaffMember {
		s := schedule.StaffMember{
			ID:         id,
			BusinessID: f.businessID,
			IsActive:   true,
			WorkHours:  schedule.Hours{Start: schedule.NewClockTime(9, 0), End: schedule.NewClockTime(17, 0)},
		}
		for wd := time.Monday; wd <= time.Friday; wd++ {
			s.WorksOn[wd] = true
		}
		return s
	}
	f.dir = &fakeDirectory{
		staff: map[uuid.UUID]schedule.StaffMember{
			f.staffID:    staff(f.staffID),
			f.otherStaff: staff(f.otherStaff),
		},
		services: map[uuid.UUID]directory.Service{
			f.serviceID:  {ID: f.serviceID, BusinessID: f.businessID, DurationMinutes: 30, IsActive: true},
			f.proofSvcID: {ID: f.proofSvcID, BusinessID: f.businessID, DurationMinutes: 30, IsActive: true, RequiresPaymentProof: true},
		},
		rules: rules.BusinessRules{MaxAdvanceDays: 60, AllowSameDay: true, Location: time.UTC},
	}
	return f
}

func (f *fixture) service(locker redisclient.Locker) *Service {
	return NewService(f.store, f.dir, locker, Config{
		PendingTTL: 24 * time.Hour,
		Now:        func() time.Time { return f.now },
	}, nil, logging.NewWithWriter(io.Discard, "error"))
}

func monday(hour, minute int) time.Time {
	return time.Date(2024, 6, 10, hour, minute, 0, 0, time.UTC)
}

func (f *fixture) request(start time.Time) BookRequest {
	return BookRequest{
		BusinessID: f.businessID,
		StaffID:    f.staffID,
		ServiceID:  f.serviceID,
		StartTime:  start,
		EndTime:    start.Add(30 * time.Minute),
		Client:     ClientInfo{Name: "Jo Client", Email: "jo@example.com"},
	}
}

func (f *fixture) existing(start, end time.Time, status AppointmentStatus) Appointment {
	a := Appointment{
		ID:         uuid.New(),
		BusinessID: f.businessID,
		StaffID:    f.staffID,
		ServiceID:  f.serviceID,
		StartTime:  start,
		EndTime:    end,
		Status:     status,
		Client:     ClientInfo{Name: "Existing"},
	}
	f.store.add(a)
	return a
}

func TestBookConfirmsWhenNoProofRequired(t *testing.T) {
	f := newFixture()

	appt, err := f.service(nil).Book(context.Background(), f.request(monday(14, 0)))
	require.NoError(t, err)

	assert.Equal(t, StatusConfirmed, appt.Status)
	assert.Equal(t, PaymentNotRequired, appt.PaymentStatus)
	assert.Nil(t, appt.ExpiresAt)
	assert.Equal(t, 1, f.store.count(f.staffID))
	assert.Equal(t, []string{EventAppointmentBooked}, f.store.eventTypes())
}

func TestBookPendingWhenProofRequired(t *testing.T) {
	f := newFixture()
	req := f.request(monday(14, 0))
	req.ServiceID = f.proofSvcID

	appt, err := f.service(nil).Book(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, StatusPending, appt.Status)
	assert.Equal(t, PaymentAwaitingProof, appt.PaymentStatus)
	require.NotNil(t, appt.ExpiresAt)
	assert.Equal(t, f.now.Add(24*time.Hour), *appt.ExpiresAt)
}

func TestBookAutoConfirmOverridesProof(t *testing.T) {
	f := newFixture()
	f.dir.rules.AutoConfirm = true
	req := f.request(monday(14, 0))
	req.ServiceID = f.proofSvcID

	appt, err := f.service(nil).Book(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, appt.Status)
}

func TestBookOverlapRules(t *testing.T) {
	tests := []struct {
		name     string
		existing AppointmentStatus
		start    time.Time
		wantErr  error
	}{
		{name: "identical confirmed", existing: StatusConfirmed, start: monday(14, 0), wantErr: ErrSlotTaken},
		{name: "partial overlap", existing: StatusConfirmed, start: monday(13, 45), wantErr: ErrSlotTaken},
		{name: "pending occupies", existing: StatusPending, start: monday(14, 0), wantErr: ErrSlotTaken},
		{name: "completed occupies", existing: StatusCompleted, start: monday(14, 0), wantErr: ErrSlotTaken},
		{name: "cancelled frees", existing: StatusCancelled, start: monday(14, 0)},
		{name: "touching end", existing: StatusConfirmed, start: monday(14, 30)},
		{name: "touching start", existing: StatusConfirmed, start: monday(13, 30)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.existing(monday(14, 0), monday(14, 30), tt.existing)

			_, err := f.service(nil).Book(context.Background(), f.request(tt.start))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestBookRejectsTimeBlock(t *testing.T) {
	f := newFixture()
	f.store.blocks = append(f.store.blocks, memBlock{
		businessID: f.businessID,
		staffID:    f.staffID,
		iv:         availability.Interval{Start: monday(12, 0), End: monday(13, 0)},
	})

	_, err := f.service(nil).Book(context.Background(), f.request(monday(12, 30)))
	require.ErrorIs(t, err, ErrSlotTaken)
	assert.Zero(t, f.store.count(f.staffID))
}

func TestBookOtherStaffIndependent(t *testing.T) {
	f := newFixture()
	f.existing(monday(14, 0), monday(14, 30), StatusConfirmed)

	req := f.request(monday(14, 0))
	req.StaffID = f.otherStaff
	_, err := f.service(nil).Book(context.Background(), req)
	require.NoError(t, err)
}

func TestBookValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *fixture, r *BookRequest)
		wantErr error
	}{
		{name: "missing client name", mutate: func(_ *fixture, r *BookRequest) { r.Client.Name = "  " }, wantErr: ErrClientNameRequired},
		{name: "end before start", mutate: func(_ *fixture, r *BookRequest) { r.EndTime = r.StartTime }, wantErr: ErrInvalidTimeRange},
		{name: "duration mismatch", mutate: func(_ *fixture, r *BookRequest) { r.EndTime = r.StartTime.Add(45 * time.Minute) }, wantErr: ErrDurationMismatch},
		{name: "saturday", mutate: func(_ *fixture, r *BookRequest) {
			r.StartTime = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
			r.EndTime = r.StartTime.Add(30 * time.Minute)
		}, wantErr: ErrOutsideWorkingHours},
		{name: "spills past closing", mutate: func(_ *fixture, r *BookRequest) {
			r.StartTime = monday(16, 45)
			r.EndTime = monday(17, 15)
		}, wantErr: ErrOutsideWorkingHours},
		{name: "before opening", mutate: func(_ *fixture, r *BookRequest) {
			r.StartTime = monday(8, 30)
			r.EndTime = monday(9, 0)
		}, wantErr: ErrOutsideWorkingHours},
		{name: "start in past", mutate: func(f *fixture, r *BookRequest) { f.now = monday(15, 0) }, wantErr: ErrStartInPast},
		{name: "inside min advance", mutate: func(f *fixture, r *BookRequest) {
			f.now = monday(13, 0)
			f.dir.rules.MinAdvance = 2 * time.Hour
		}, wantErr: rules.ErrTooSoon},
		{name: "beyond horizon", mutate: func(f *fixture, r *BookRequest) { f.dir.rules.MaxAdvanceDays = 3 }, wantErr: rules.ErrTooFarAhead},
		{name: "same day disallowed", mutate: func(f *fixture, r *BookRequest) {
			f.now = monday(7, 0)
			f.dir.rules.AllowSameDay = false
		}, wantErr: rules.ErrSameDayDisallowed},
		{name: "start equals now", mutate: func(f *fixture, r *BookRequest) { f.now = monday(14, 0) }, wantErr: ErrStartInPast},
		{name: "quota exceeded", mutate: func(f *fixture, r *BookRequest) {
			f.dir.rules.MonthlyBookingLimit = 1
			f.store.add(Appointment{
				ID: uuid.New(), BusinessID: f.businessID, StaffID: f.otherStaff, ServiceID: f.serviceID,
				StartTime: monday(9, 0), EndTime: monday(9, 30), Status: StatusConfirmed,
			})
		}, wantErr: rules.ErrQuotaExceeded},
		{name: "unknown staff", mutate: func(_ *fixture, r *BookRequest) { r.StaffID = uuid.New() }, wantErr: directory.ErrStaffNotFound},
		{name: "other tenant", mutate: func(_ *fixture, r *BookRequest) { r.BusinessID = uuid.New() }, wantErr: directory.ErrStaffNotFound},
		{name: "inactive staff", mutate: func(f *fixture, r *BookRequest) {
			s := f.dir.staff[f.staffID]
			s.IsActive = false
			f.dir.staff[f.staffID] = s
		}, wantErr: ErrStaffInactive},
		{name: "inactive service", mutate: func(f *fixture, r *BookRequest) {
			s := f.dir.services[f.serviceID]
			s.IsActive = false
			f.dir.services[f.serviceID] = s
		}, wantErr: directory.ErrServiceNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			req := f.request(monday(14, 0))
			tt.mutate(f, &req)

			appt, err := f.service(nil).Book(context.Background(), req)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, appt)
			assert.Zero(t, f.store.count(f.staffID))
			assert.Empty(t, f.store.eventTypes())
		})
	}
}

func TestBookInvalidScheduleIsNotAClientError(t *testing.T) {
	f := newFixture()
	s := f.dir.staff[f.staffID]
	s.Overrides = map[time.Weekday]schedule.Hours{time.Monday: {Start: schedule.NewClockTime(12, 0), End: schedule.NewClockTime(11, 0)}}
	f.dir.staff[f.staffID] = s

	_, err := f.service(nil).Book(context.Background(), f.request(monday(14, 0)))
	var invalid *schedule.InvalidScheduleError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "error", Outcome(err))
}

func TestBookRollsBackOnPersistenceFailure(t *testing.T) {
	f := newFixture()
	boom := errors.New("disk full")
	f.store.failInsertEvent = boom

	_, err := f.service(nil).Book(context.Background(), f.request(monday(14, 0)))
	require.ErrorIs(t, err, boom)
	assert.Zero(t, f.store.count(f.staffID))
}

func TestBookCancelledContextLeavesNoState(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.service(nil).Book(ctx, f.request(monday(14, 0)))
	require.Error(t, err)
	assert.Zero(t, f.store.count(f.staffID))
}

func raceBookings(t *testing.T, svc *Service, req BookRequest, n int) (successes, conflicts int) {
	t.Helper()
	var wg sync.WaitGroup
	var mu sync.Mutex
	start := make(chan struct{})

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Book(context.Background(), req)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrSlotTaken):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()
	return successes, conflicts
}

func TestConcurrentBookingsExactlyOneWins(t *testing.T) {
	f := newFixture()

	successes, conflicts := raceBookings(t, f.service(nil), f.request(monday(14, 0)), 20)

	assert.Equal(t, 1, successes)
	assert.Equal(t, 19, conflicts)
	assert.Equal(t, 1, f.store.count(f.staffID))
}

func TestConcurrentBookingsWithRedisLock(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	f := newFixture()
	svc := f.service(redisclient.NewSlotLocker(client, 5*time.Second, nil))

	successes, conflicts := raceBookings(t, svc, f.request(monday(14, 0)), 10)

	assert.Equal(t, 1, successes)
	assert.Equal(t, 9, conflicts)
	assert.Equal(t, 1, f.store.count(f.staffID))
}

func TestConcurrentOverlappingRanges(t *testing.T) {
	f := newFixture()
	svc := f.service(nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, start := range []time.Time{monday(14, 0), monday(14, 15)} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Book(context.Background(), f.request(start))
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			require.ErrorIs(t, err, ErrSlotTaken)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, f.store.count(f.staffID))
}

func TestQuotaHoldsAcrossStaffUnderConcurrency(t *testing.T) {
	f := newFixture()
	f.dir.rules.MonthlyBookingLimit = 1
	svc := f.service(nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, staffID := range []uuid.UUID{f.staffID, f.otherStaff} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := f.request(monday(14, 0))
			req.StaffID = staffID
			_, errs[i] = svc.Book(context.Background(), req)
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			require.ErrorIs(t, err, rules.ErrQuotaExceeded)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, f.store.count(f.staffID)+f.store.count(f.otherStaff))
}

func TestBookWithoutRedisFallsBackToDatabase(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	defer client.Close()
	mr.Close()

	f := newFixture()
	svc := f.service(redisclient.NewSlotLocker(client, 5*time.Second, logging.NewWithWriter(io.Discard, "error")))

	appt, err := svc.Book(context.Background(), f.request(monday(14, 0)))
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, appt.Status)

	_, err = svc.Book(context.Background(), f.request(monday(14, 15)))
	require.ErrorIs(t, err, ErrSlotTaken)
	assert.Equal(t, 1, f.store.count(f.staffID))
}
