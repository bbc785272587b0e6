package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/alpescab/internal/dispatch/domain"
	"github.com/example/alpescab/internal/dispatch/ledger"
	"github.com/example/alpescab/internal/dispatch/pool"
	"github.com/example/alpescab/internal/dispatch/registry"
	"github.com/example/alpescab/internal/dispatch/service"
)

type stubPublisher struct {
	mu     sync.Mutex
	events []domain.DispatchEvent
}

func (s *stubPublisher) Publish(_ context.Context, event domain.DispatchEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *stubPublisher) all() []domain.DispatchEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.DispatchEvent(nil), s.events...)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fixture wires real collaborators around the service under test.
type fixture struct {
	reg    *registry.Memory
	pool   *pool.Pool
	ledger *ledger.Ledger
	events *stubPublisher
	clock  *fakeClock
	svc    *service.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		reg:    registry.NewMemory(),
		pool:   pool.New(nil),
		ledger: ledger.New(nil),
		events: &stubPublisher{},
		clock:  &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	f.svc = service.New(service.Deps{
		Registry: f.reg,
		Pool:     f.pool,
		Ledger:   f.ledger,
		Events:   f.events,
		Clock:    f.clock,
		Pause:    time.Millisecond,
	})
	return f
}

func (f *fixture) addRider(t *testing.T, withPayment bool) domain.Account {
	t.Helper()
	rider, err := f.reg.RegisterAccount(context.Background(), domain.Account{Kind: domain.KindRider, Name: "rider"})
	require.NoError(t, err)
	if withPayment {
		_, err = f.reg.RegisterPaymentMethod(context.Background(), domain.PaymentMethod{RiderID: rider.ID, Label: "card"})
		require.NoError(t, err)
	}
	return rider
}

func (f *fixture) addDriver(t *testing.T) (domain.Account, domain.Vehicle) {
	t.Helper()
	driver, err := f.reg.RegisterAccount(context.Background(), domain.Account{Kind: domain.KindDriver, Name: "driver"})
	require.NoError(t, err)
	vehicle, err := f.reg.RegisterVehicle(context.Background(), domain.Vehicle{
		DriverID: driver.ID,
		Plate:    "PLT" + driver.ID.String()[:5],
		Tier:     domain.TierStandard,
		Capacity: 4,
	})
	require.NoError(t, err)
	f.pool.AddDriver(driver.ID, vehicle.ID)
	return driver, vehicle
}

func (f *fixture) addPoint(t *testing.T) domain.Point {
	t.Helper()
	ctx := context.Background()
	city, err := f.reg.RegisterCity(ctx, domain.City{Name: "Bogota"})
	require.NoError(t, err)
	point, err := f.reg.RegisterPoint(ctx, domain.Point{CityID: city.ID, Label: "stop", Lat: 4.6, Lng: -74.08})
	require.NoError(t, err)
	return point
}

func (f *fixture) request(t *testing.T, riderID uuid.UUID, origin, dest domain.Point) (domain.Trip, error) {
	t.Helper()
	return f.svc.RequestTrip(context.Background(), service.RequestTripInput{
		RiderID:        riderID,
		Kind:           domain.KindStandard,
		OriginID:       origin.ID,
		DestinationIDs: []uuid.UUID{dest.ID},
		EstimatedFare:  21.0,
	})
}

func TestRequestTripReservesSingleDriver(t *testing.T) {
	f := newFixture(t)
	rider := f.addRider(t, true)
	driver, vehicle := f.addDriver(t)
	origin, dest := f.addPoint(t), f.addPoint(t)

	trip, err := f.request(t, rider.ID, origin, dest)
	require.NoError(t, err)
	require.Equal(t, driver.ID, trip.DriverID)
	require.Equal(t, vehicle.ID, trip.VehicleID)
	require.True(t, trip.Open())

	state, _ := f.pool.StateOf(driver.ID)
	require.Equal(t, domain.StateReserved, state)

	// Second rider, no other driver: conflict surfaces, nothing mutates.
	second := f.addRider(t, true)
	_, err = f.request(t, second.ID, origin, dest)
	require.ErrorIs(t, err, domain.ErrNoDriverAvailable)

	open, err := f.svc.OpenTrips(context.Background(), second.ID)
	require.NoError(t, err)
	require.Empty(t, open)

	events := f.events.all()
	require.Len(t, events, 1)
	require.Equal(t, domain.EventTripRequested, events[0].Type)
}

func TestRequestTripPreconditions(t *testing.T) {
	f := newFixture(t)
	f.addDriver(t)
	origin, dest := f.addPoint(t), f.addPoint(t)

	noPayment := f.addRider(t, false)
	_, err := f.request(t, noPayment.ID, origin, dest)
	require.ErrorIs(t, err, domain.ErrNoPaymentMethod)

	_, err = f.request(t, uuid.New(), origin, dest)
	require.ErrorIs(t, err, domain.ErrNotFound)

	rider := f.addRider(t, true)
	_, err = f.svc.RequestTrip(context.Background(), service.RequestTripInput{
		RiderID:  rider.ID,
		Kind:     domain.KindStandard,
		OriginID: origin.ID,
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	// Failed preconditions must not have consumed the driver.
	trip, err := f.request(t, rider.ID, origin, dest)
	require.NoError(t, err)
	require.True(t, trip.Open())
}

// failingLedger aborts every open so the compensation path runs.
type failingLedger struct {
	domain.TripLedger
}

func (f *failingLedger) Open(context.Context, domain.TripSpec) (domain.Trip, error) {
	return domain.Trip{}, errors.New("ledger unavailable")
}

func TestRequestTripCompensatesReservationOnOpenFailure(t *testing.T) {
	f := newFixture(t)
	rider := f.addRider(t, true)
	driver, _ := f.addDriver(t)
	origin, dest := f.addPoint(t), f.addPoint(t)

	svc := service.New(service.Deps{
		Registry: f.reg,
		Pool:     f.pool,
		Ledger:   &failingLedger{TripLedger: f.ledger},
		Events:   f.events,
		Clock:    f.clock,
		Pause:    time.Millisecond,
	})

	_, err := svc.RequestTrip(context.Background(), service.RequestTripInput{
		RiderID:        rider.ID,
		Kind:           domain.KindStandard,
		OriginID:       origin.ID,
		DestinationIDs: []uuid.UUID{dest.ID},
	})
	require.Error(t, err)

	// The reservation taken before the failed open must have been rolled back.
	state, _ := f.pool.StateOf(driver.ID)
	require.Equal(t, domain.StateAvailable, state)
	require.Empty(t, f.events.all())
}

func TestCompleteTripReleasesDriverAndComputesMetrics(t *testing.T) {
	f := newFixture(t)
	rider := f.addRider(t, true)
	driver, _ := f.addDriver(t)
	origin, dest := f.addPoint(t), f.addPoint(t)

	trip, err := f.request(t, rider.ID, origin, dest)
	require.NoError(t, err)

	f.clock.Advance(17 * time.Minute)
	closed, err := f.svc.CompleteTrip(context.Background(), trip.ID, 12.5)
	require.NoError(t, err)
	require.Equal(t, int64(17), *closed.DurationMinutes)
	require.Equal(t, 12.5, *closed.DistanceKM)
	require.Equal(t, trip.StartTime.Add(17*time.Minute), *closed.EndTime)

	state, _ := f.pool.StateOf(driver.ID)
	require.Equal(t, domain.StateAvailable, state)

	// Retried completion: one success, then AlreadyClosed, driver untouched.
	_, err = f.svc.CompleteTrip(context.Background(), trip.ID, 12.5)
	require.ErrorIs(t, err, domain.ErrAlreadyClosed)
	state, _ = f.pool.StateOf(driver.ID)
	require.Equal(t, domain.StateAvailable, state)

	_, err = f.svc.CompleteTrip(context.Background(), uuid.New(), 1)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConcurrentRequestsReserveExactlyK(t *testing.T) {
	f := newFixture(t)
	origin, dest := f.addPoint(t), f.addPoint(t)

	const drivers = 3
	const requests = 12
	driverIDs := make([]uuid.UUID, 0, drivers)
	for i := 0; i < drivers; i++ {
		driver, _ := f.addDriver(t)
		driverIDs = append(driverIDs, driver.ID)
	}
	riders := make([]domain.Account, requests)
	for i := range riders {
		riders[i] = f.addRider(t, true)
	}

	var wg sync.WaitGroup
	trips := make([]domain.Trip, requests)
	errs := make([]error, requests)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			trips[i], errs[i] = f.request(t, riders[i].ID, origin, dest)
		}(i)
	}
	wg.Wait()

	reserved := make(map[uuid.UUID]struct{})
	var failed int
	for i := range errs {
		if errs[i] != nil {
			require.ErrorIs(t, errs[i], domain.ErrNoDriverAvailable)
			failed++
			continue
		}
		_, dup := reserved[trips[i].DriverID]
		require.False(t, dup, "driver assigned to two open trips")
		reserved[trips[i].DriverID] = struct{}{}
	}
	require.Equal(t, requests-drivers, failed)
	require.Len(t, reserved, drivers)

	// Reservation state agrees with the ledger: every driver is RESERVED iff
	// an open trip references it.
	for _, driverID := range driverIDs {
		state, ok := f.pool.StateOf(driverID)
		require.True(t, ok)
		require.Equal(t, domain.StateReserved, state)
	}
}
