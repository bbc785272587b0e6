package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/alpescab/internal/dispatch/domain"
)

type entry struct {
	state      domain.ReservationState
	vehicleIDs []uuid.UUID
	bound      uuid.UUID
}

// Pool is the authoritative record of each driver's reservation state. A
// single mutex serializes AcquireAny against Release so two concurrent
// acquisitions can never win the same driver; availability and ledger
// operations never take this lock.
type Pool struct {
	mu      sync.Mutex
	drivers map[uuid.UUID]*entry
	fence   Fence
	binder  domain.VehicleBinder
	ttl     time.Duration
	logger  *zap.Logger
}

// Option customizes pool construction.
type Option func(*Pool)

// WithFence installs a cross-instance reservation fence (Redis SETNX). The
// in-process mutex already serializes a single instance; the fence extends
// the exclusivity guarantee across replicas.
func WithFence(f Fence, ttl time.Duration) Option {
	return func(p *Pool) {
		p.fence = f
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// WithBinder replaces the driver-to-vehicle binding policy.
func WithBinder(b domain.VehicleBinder) Option {
	return func(p *Pool) {
		if b != nil {
			p.binder = b
		}
	}
}

// New constructs an empty pool. The default binder takes the driver's first
// registered vehicle.
func New(logger *zap.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		drivers: make(map[uuid.UUID]*entry),
		binder:  FirstVehicle,
		ttl:     30 * time.Second,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FirstVehicle is the default VehicleBinder.
func FirstVehicle(c domain.Candidate) uuid.UUID {
	if len(c.VehicleIDs) == 0 {
		return uuid.Nil
	}
	return c.VehicleIDs[0]
}

// IdentityRanker keeps the candidate set as-is.
var IdentityRanker = domain.RankerFunc(func(_ context.Context, _ domain.Point, candidates []domain.Candidate) []domain.Candidate {
	return candidates
})

// AddDriver registers a driver as AVAILABLE with its vehicles.
func (p *Pool) AddDriver(driverID uuid.UUID, vehicleIDs ...uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.drivers[driverID]; exists {
		return
	}
	p.drivers[driverID] = &entry{
		state:      domain.StateAvailable,
		vehicleIDs: append([]uuid.UUID(nil), vehicleIDs...),
	}
}

// AttachVehicle adds a vehicle to an already registered driver.
func (p *Pool) AttachVehicle(driverID, vehicleID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.drivers[driverID]
	if !ok {
		return fmt.Errorf("%w: driver %s", domain.ErrNotFound, driverID)
	}
	e.vehicleIDs = append(e.vehicleIDs, vehicleID)
	return nil
}

// AcquireAny scans AVAILABLE drivers, ranks them, and transitions exactly one
// winner to RESERVED with a vehicle bound. It fails fast with
// ErrNoDriverAvailable when the ranked set is empty; it never blocks waiting
// for a release.
func (p *Pool) AcquireAny(ctx context.Context, origin domain.Point, ranker domain.Ranker) (domain.Reservation, error) {
	if ranker == nil {
		ranker = IdentityRanker
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	candidates := make([]domain.Candidate, 0, len(p.drivers))
	for id, e := range p.drivers {
		if e.state != domain.StateAvailable || len(e.vehicleIDs) == 0 {
			continue
		}
		candidates = append(candidates, domain.Candidate{
			DriverID:   id,
			VehicleIDs: append([]uuid.UUID(nil), e.vehicleIDs...),
		})
	}
	// Map order is random; give the ranker a stable input.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].DriverID.String() < candidates[j].DriverID.String()
	})

	var lastErr error
	for _, c := range ranker.Rank(ctx, origin, candidates) {
		e, ok := p.drivers[c.DriverID]
		if !ok || e.state != domain.StateAvailable {
			continue
		}
		if p.fence != nil {
			won, err := p.fence.TryReserve(ctx, c.DriverID, p.ttl)
			if err != nil {
				lastErr = err
				continue
			}
			if !won {
				continue
			}
		}
		vehicleID := p.binder(c)
		if vehicleID == uuid.Nil {
			vehicleID = c.VehicleIDs[0]
		}
		e.state = domain.StateReserved
		e.bound = vehicleID
		p.logger.Debug("driver reserved",
			zap.String("driver_id", c.DriverID.String()),
			zap.String("vehicle_id", vehicleID.String()))
		return domain.Reservation{DriverID: c.DriverID, VehicleID: vehicleID}, nil
	}

	if lastErr != nil {
		return domain.Reservation{}, fmt.Errorf("reservation fence: %w", lastErr)
	}
	return domain.Reservation{}, domain.ErrNoDriverAvailable
}

// Release returns a RESERVED driver to the AVAILABLE pool. Releasing a driver
// that is not reserved fails with ErrAlreadyAvailable so a retried completion
// cannot free a driver twice.
func (p *Pool) Release(ctx context.Context, driverID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.drivers[driverID]
	if !ok {
		return fmt.Errorf("%w: driver %s", domain.ErrNotFound, driverID)
	}
	if e.state != domain.StateReserved {
		return fmt.Errorf("%w: driver %s", domain.ErrAlreadyAvailable, driverID)
	}
	if p.fence != nil {
		if err := p.fence.Release(ctx, driverID); err != nil {
			return fmt.Errorf("reservation fence: %w", err)
		}
	}
	e.state = domain.StateAvailable
	e.bound = uuid.Nil
	p.logger.Debug("driver released", zap.String("driver_id", driverID.String()))
	return nil
}

// StateOf reports a driver's current reservation state.
func (p *Pool) StateOf(driverID uuid.UUID) (domain.ReservationState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.drivers[driverID]
	if !ok {
		return "", false
	}
	return e.state, true
}

// BoundVehicle reports the vehicle backing a driver's reservation, if any.
func (p *Pool) BoundVehicle(driverID uuid.UUID) (uuid.UUID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.drivers[driverID]
	if !ok || e.state != domain.StateReserved {
		return uuid.Nil, false
	}
	return e.bound, true
}
