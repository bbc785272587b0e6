package availability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/alpescab/internal/dispatch/domain"
)

type slotKey struct {
	vehicleID uuid.UUID
	day       time.Weekday
}

// slot groups windows that must be checked against each other. Each slot has
// its own mutex so two concurrent registrations for the same vehicle and day
// cannot both pass the overlap check, while unrelated slots stay independent.
type slot struct {
	mu      sync.Mutex
	windows []uuid.UUID
}

// Store holds per-vehicle weekly availability windows and enforces the
// half-open non-overlap invariant at write time.
type Store struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]domain.AvailabilityWindow
	slots   map[slotKey]*slot
	logger  *zap.Logger
}

// NewStore constructs an empty availability store.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		byID:   make(map[uuid.UUID]domain.AvailabilityWindow),
		slots:  make(map[slotKey]*slot),
		logger: logger,
	}
}

func (s *Store) slotFor(key slotKey) *slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[key]
	if !ok {
		sl = &slot{}
		s.slots[key] = sl
	}
	return sl
}

// Register persists a new window, or fails with an OverlapError naming every
// stored window of the same (vehicle, day) slot that collides with it. The
// store is untouched on failure.
func (s *Store) Register(_ context.Context, window domain.AvailabilityWindow) (domain.AvailabilityWindow, error) {
	if window.Start >= window.End {
		return domain.AvailabilityWindow{}, fmt.Errorf("%w: window start %s not before end %s",
			domain.ErrValidation, window.Start, window.End)
	}
	if window.ID == uuid.Nil {
		window.ID = uuid.New()
	}

	key := slotKey{vehicleID: window.VehicleID, day: window.Day}
	sl := s.slotFor(key)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if conflicts := s.conflictsLocked(sl, window, uuid.Nil); len(conflicts) > 0 {
		return domain.AvailabilityWindow{}, &domain.OverlapError{VehicleID: window.VehicleID, Conflicts: conflicts}
	}

	s.mu.Lock()
	s.byID[window.ID] = window
	s.mu.Unlock()
	sl.windows = append(sl.windows, window.ID)

	s.logger.Debug("availability window registered",
		zap.String("vehicle_id", window.VehicleID.String()),
		zap.Int("day", int(window.Day)),
		zap.String("start", window.Start.String()),
		zap.String("end", window.End.String()))
	return window, nil
}

// Modify rewrites the start and end of an existing window. The overlap check
// runs against the post-modification window and excludes the window itself.
func (s *Store) Modify(_ context.Context, id uuid.UUID, newStart, newEnd domain.ClockMinute) (domain.AvailabilityWindow, error) {
	if newStart >= newEnd {
		return domain.AvailabilityWindow{}, fmt.Errorf("%w: window start %s not before end %s",
			domain.ErrValidation, newStart, newEnd)
	}

	s.mu.RLock()
	current, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return domain.AvailabilityWindow{}, fmt.Errorf("%w: availability window %s", domain.ErrNotFound, id)
	}

	key := slotKey{vehicleID: current.VehicleID, day: current.Day}
	sl := s.slotFor(key)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	// Re-read under the slot lock; a concurrent Modify may have won the race.
	s.mu.RLock()
	current, ok = s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return domain.AvailabilityWindow{}, fmt.Errorf("%w: availability window %s", domain.ErrNotFound, id)
	}

	updated := current
	updated.Start = newStart
	updated.End = newEnd
	if conflicts := s.conflictsLocked(sl, updated, id); len(conflicts) > 0 {
		return domain.AvailabilityWindow{}, &domain.OverlapError{VehicleID: updated.VehicleID, Conflicts: conflicts}
	}

	s.mu.Lock()
	s.byID[id] = updated
	s.mu.Unlock()
	return updated, nil
}

// WindowsFor returns the stored windows for a vehicle on a given day.
func (s *Store) WindowsFor(_ context.Context, vehicleID uuid.UUID, day time.Weekday) []domain.AvailabilityWindow {
	sl := s.slotFor(slotKey{vehicleID: vehicleID, day: day})
	sl.mu.Lock()
	defer sl.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AvailabilityWindow, 0, len(sl.windows))
	for _, id := range sl.windows {
		if w, ok := s.byID[id]; ok {
			out = append(out, w)
		}
	}
	return out
}

// conflictsLocked scans the slot for overlaps with the candidate, skipping
// exclude (the window being modified). Caller holds the slot mutex.
func (s *Store) conflictsLocked(sl *slot, candidate domain.AvailabilityWindow, exclude uuid.UUID) []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var conflicts []uuid.UUID
	for _, id := range sl.windows {
		if id == exclude {
			continue
		}
		stored, ok := s.byID[id]
		if !ok {
			continue
		}
		if stored.Overlaps(candidate) {
			conflicts = append(conflicts, id)
		}
	}
	return conflicts
}
