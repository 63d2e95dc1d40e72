package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-booking-engine/internal/availability"
	"github.com/hackgods/appointment-booking-engine/internal/outbox"
)

type memBlock struct {
	businessID uuid.UUID
	staffID    uuid.UUID
	iv         availability.Interval
}

// memStore is an in-memory Store. InTx holds one lock for the whole
// transaction and applies staged writes only on success.
type memStore struct {
	mu     sync.Mutex
	appts  map[uuid.UUID]Appointment
	blocks []memBlock
	events []outbox.Event

	failInsertEvent error
}

func newMemStore() *memStore {
	return &memStore{appts: make(map[uuid.UUID]Appointment)}
}

func (m *memStore) add(a Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appts[a.ID] = a
}

func (m *memStore) count(staffID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.appts {
		if a.StaffID == staffID && a.Status != StatusCancelled {
			n++
		}
	}
	return n
}

func (m *memStore) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, ev := range m.events {
		out = append(out, ev.EventType)
	}
	return out
}

func (m *memStore) ListBusyIntervals(_ context.Context, businessID, staffID uuid.UUID, from, to time.Time) ([]availability.Interval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []availability.Interval
	window := availability.Interval{Start: from, End: to}
	for _, a := range m.appts {
		if a.BusinessID == businessID && a.StaffID == staffID && a.Status != StatusCancelled && availability.Overlaps(a.Interval(), window) {
			out = append(out, a.Interval())
		}
	}
	return out, nil
}

func (m *memStore) GetAppointment(_ context.Context, businessID, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.BusinessID != businessID {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *memStore) ListAppointments(_ context.Context, businessID uuid.UUID, f ListFilter) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Appointment{}
	for _, a := range m.appts {
		if a.BusinessID != businessID {
			continue
		}
		if f.StaffID != nil && a.StaffID != *f.StaffID {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	if f.Offset >= len(out) {
		return []Appointment{}, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memStore) FindExpiredPending(_ context.Context, now time.Time, limit int) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appts {
		if a.Status == StatusPending && a.ExpiresAt != nil && a.ExpiresAt.Before(now) && len(out) < limit {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) InTx(ctx context.Context, fn func(tx TxStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{store: m, staged: make(map[uuid.UUID]Appointment)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for id, a := range tx.staged {
		m.appts[id] = a
	}
	m.events = append(m.events, tx.events...)
	return nil
}

type memTx struct {
	store  *memStore
	staged map[uuid.UUID]Appointment
	events []outbox.Event
}

func (t *memTx) view() map[uuid.UUID]Appointment {
	out := make(map[uuid.UUID]Appointment, len(t.store.appts)+len(t.staged))
	for id, a := range t.store.appts {
		out[id] = a
	}
	for id, a := range t.staged {
		out[id] = a
	}
	return out
}

func (t *memTx) ListConflicts(_ context.Context, businessID, staffID uuid.UUID, from, to time.Time, excludeID uuid.UUID) ([]availability.Interval, error) {
	window := availability.Interval{Start: from, End: to}
	var out []availability.Interval
	for id, a := range t.view() {
		if id == excludeID || a.BusinessID != businessID || a.StaffID != staffID || a.Status == StatusCancelled {
			continue
		}
		if availability.Overlaps(a.Interval(), window) {
			out = append(out, a.Interval())
		}
	}
	for _, b := range t.store.blocks {
		if b.businessID == businessID && b.staffID == staffID && availability.Overlaps(b.iv, window) {
			out = append(out, b.iv)
		}
	}
	return out, nil
}

// violatesExclusion mirrors the exclusion constraint on the appointments table.
func (t *memTx) violatesExclusion(a *Appointment) bool {
	if a.Status == StatusCancelled {
		return false
	}
	for id, other := range t.view() {
		if id != a.ID && other.StaffID == a.StaffID && other.Status != StatusCancelled && availability.Overlaps(other.Interval(), a.Interval()) {
			return true
		}
	}
	return false
}

func (t *memTx) InsertAppointment(_ context.Context, a *Appointment) error {
	if t.violatesExclusion(a) {
		return ErrSlotTaken
	}
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	t.staged[a.ID] = *a
	return nil
}

func (t *memTx) CountMonthlyBookings(_ context.Context, businessID uuid.UUID, from, to time.Time) (int, error) {
	n := 0
	for _, a := range t.view() {
		if a.BusinessID == businessID && a.Status != StatusCancelled && !a.StartTime.Before(from) && a.StartTime.Before(to) {
			n++
		}
	}
	return n, nil
}

func (t *memTx) GetAppointmentForUpdate(_ context.Context, businessID, id uuid.UUID) (*Appointment, error) {
	a, ok := t.view()[id]
	if !ok || a.BusinessID != businessID {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (t *memTx) UpdateAppointment(_ context.Context, a *Appointment) error {
	if _, ok := t.view()[a.ID]; !ok {
		return ErrAppointmentNotFound
	}
	if t.violatesExclusion(a) {
		return ErrSlotTaken
	}
	a.UpdatedAt = time.Now()
	t.staged[a.ID] = *a
	return nil
}

func (t *memTx) InsertEvent(_ context.Context, ev outbox.Event) error {
	if t.store.failInsertEvent != nil {
		return t.store.failInsertEvent
	}
	t.events = append(t.events, ev)
	return nil
}
