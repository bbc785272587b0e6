package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/alpescab/internal/dispatch/domain"
)

// record pairs a trip with the commit sequence numbers of its two mutations.
// closedSeq stays zero while the trip is open.
type record struct {
	trip       domain.Trip
	createdSeq uint64
	closedSeq  uint64
}

// Ledger is the append-mostly trip store. Every committed mutation bumps a
// monotone sequence; reads taken "at" a sequence S observe exactly the
// commits numbered <= S. A closed trip is immutable.
type Ledger struct {
	mu      sync.RWMutex
	seq     uint64
	records map[uuid.UUID]*record
	order   []uuid.UUID
	logger  *zap.Logger
}

// New constructs an empty ledger.
func New(logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{records: make(map[uuid.UUID]*record), logger: logger}
}

// Seq returns the latest committed sequence.
func (l *Ledger) Seq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}

// Open creates a trip with no end time. A trip must have at least one
// destination.
func (l *Ledger) Open(_ context.Context, spec domain.TripSpec) (domain.Trip, error) {
	if len(spec.DestinationIDs) == 0 {
		return domain.Trip{}, fmt.Errorf("%w: trip needs at least one destination", domain.ErrValidation)
	}

	trip := domain.Trip{
		ID:             uuid.New(),
		Kind:           spec.Kind,
		Fare:           spec.Fare,
		StartTime:      spec.StartTime,
		DriverID:       spec.DriverID,
		RiderID:        spec.RiderID,
		VehicleID:      spec.VehicleID,
		OriginID:       spec.OriginID,
		DestinationIDs: append([]uuid.UUID(nil), spec.DestinationIDs...),
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	l.records[trip.ID] = &record{trip: trip, createdSeq: l.seq}
	l.order = append(l.order, trip.ID)
	l.logger.Debug("trip opened",
		zap.String("trip_id", trip.ID.String()),
		zap.String("driver_id", trip.DriverID.String()),
		zap.Uint64("seq", l.seq))
	return trip, nil
}

// Close finalizes an open trip: end time, distance and whole-minute duration
// (floored) are set exactly once.
func (l *Ledger) Close(_ context.Context, id uuid.UUID, distanceKM float64, at time.Time) (domain.Trip, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[id]
	if !ok {
		return domain.Trip{}, fmt.Errorf("%w: trip %s", domain.ErrNotFound, id)
	}
	if rec.closedSeq != 0 {
		return domain.Trip{}, fmt.Errorf("%w: trip %s", domain.ErrAlreadyClosed, id)
	}

	end := at
	minutes := int64(end.Sub(rec.trip.StartTime) / time.Minute)
	rec.trip.EndTime = &end
	rec.trip.DistanceKM = &distanceKM
	rec.trip.DurationMinutes = &minutes
	l.seq++
	rec.closedSeq = l.seq
	l.logger.Debug("trip closed",
		zap.String("trip_id", id.String()),
		zap.Int64("duration_minutes", minutes),
		zap.Uint64("seq", l.seq))
	return copyTrip(rec.trip), nil
}

// TripByID returns the latest committed view of a trip.
func (l *Ledger) TripByID(_ context.Context, id uuid.UUID) (domain.Trip, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[id]
	if !ok {
		return domain.Trip{}, fmt.Errorf("%w: trip %s", domain.ErrNotFound, id)
	}
	return rec.viewAt(l.seq), nil
}

// RiderHistoryAt returns the rider's trips as they were visible at seq.
func (l *Ledger) RiderHistoryAt(_ context.Context, riderID uuid.UUID, seq uint64) ([]domain.Trip, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.Trip
	for _, id := range l.order {
		rec := l.records[id]
		if rec.trip.RiderID != riderID || rec.createdSeq > seq {
			continue
		}
		out = append(out, rec.viewAt(seq))
	}
	return out, nil
}

// OpenTripsFor returns the rider's currently open trips.
func (l *Ledger) OpenTripsFor(_ context.Context, riderID uuid.UUID) ([]domain.Trip, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.Trip
	for _, id := range l.order {
		rec := l.records[id]
		if rec.trip.RiderID != riderID || rec.closedSeq != 0 {
			continue
		}
		out = append(out, copyTrip(rec.trip))
	}
	return out, nil
}

// AllAt returns every trip visible at seq; reporting queries build on this.
func (l *Ledger) AllAt(_ context.Context, seq uint64) ([]domain.Trip, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.Trip
	for _, id := range l.order {
		rec := l.records[id]
		if rec.createdSeq > seq {
			continue
		}
		out = append(out, rec.viewAt(seq))
	}
	return out, nil
}

// viewAt renders the record as it looked at seq: a close committed after seq
// is not visible, so the trip presents as still open.
func (r *record) viewAt(seq uint64) domain.Trip {
	trip := copyTrip(r.trip)
	if r.closedSeq == 0 || r.closedSeq > seq {
		trip.EndTime = nil
		trip.DistanceKM = nil
		trip.DurationMinutes = nil
	}
	return trip
}

func copyTrip(t domain.Trip) domain.Trip {
	out := t
	out.DestinationIDs = append([]uuid.UUID(nil), t.DestinationIDs...)
	if t.EndTime != nil {
		end := *t.EndTime
		out.EndTime = &end
	}
	if t.DistanceKM != nil {
		d := *t.DistanceKM
		out.DistanceKM = &d
	}
	if t.DurationMinutes != nil {
		m := *t.DurationMinutes
		out.DurationMinutes = &m
	}
	return out
}
