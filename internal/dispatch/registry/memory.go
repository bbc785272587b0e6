// Package registry holds the reference data the dispatch core consults but
// never mutates: accounts, vehicles, cities, geographic points, payment
// methods and reviews. Resolvers are read-only and fail with ErrNotFound.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/example/alpescab/internal/dispatch/domain"
)

// Memory is an in-memory registry suitable for tests and single-instance
// deployments.
type Memory struct {
	mu             sync.RWMutex
	accounts       map[uuid.UUID]domain.Account
	cities         map[uuid.UUID]domain.City
	points         map[uuid.UUID]domain.Point
	vehicles       map[uuid.UUID]domain.Vehicle
	vehiclesByDrv  map[uuid.UUID][]uuid.UUID
	plates         map[string]uuid.UUID
	payments       map[uuid.UUID][]domain.PaymentMethod
	reviewsByTrip  map[uuid.UUID]domain.Review
}

// NewMemory constructs an empty registry.
func NewMemory() *Memory {
	return &Memory{
		accounts:      make(map[uuid.UUID]domain.Account),
		cities:        make(map[uuid.UUID]domain.City),
		points:        make(map[uuid.UUID]domain.Point),
		vehicles:      make(map[uuid.UUID]domain.Vehicle),
		vehiclesByDrv: make(map[uuid.UUID][]uuid.UUID),
		plates:        make(map[string]uuid.UUID),
		payments:      make(map[uuid.UUID][]domain.PaymentMethod),
		reviewsByTrip: make(map[uuid.UUID]domain.Review),
	}
}

// RegisterCity stores a city.
func (m *Memory) RegisterCity(_ context.Context, city domain.City) (domain.City, error) {
	if city.Name == "" {
		return domain.City{}, fmt.Errorf("%w: city name required", domain.ErrValidation)
	}
	if city.ID == uuid.Nil {
		city.ID = uuid.New()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cities[city.ID] = city
	return city, nil
}

// RegisterPoint stores a geographic point; its city must exist.
func (m *Memory) RegisterPoint(_ context.Context, point domain.Point) (domain.Point, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cities[point.CityID]; !ok {
		return domain.Point{}, fmt.Errorf("%w: city %s", domain.ErrNotFound, point.CityID)
	}
	if point.ID == uuid.Nil {
		point.ID = uuid.New()
	}
	m.points[point.ID] = point
	return point, nil
}

// RegisterAccount stores a rider or driver. The kind is fixed at registration
// and checked once at lookup, never re-checked downstream.
func (m *Memory) RegisterAccount(_ context.Context, account domain.Account) (domain.Account, error) {
	if account.Kind != domain.KindRider && account.Kind != domain.KindDriver {
		return domain.Account{}, fmt.Errorf("%w: account kind %q", domain.ErrValidation, account.Kind)
	}
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.ID] = account
	return account, nil
}

// RegisterVehicle stores a vehicle for an existing driver. Plates are unique.
func (m *Memory) RegisterVehicle(_ context.Context, vehicle domain.Vehicle) (domain.Vehicle, error) {
	plate := strings.ToUpper(strings.TrimSpace(vehicle.Plate))
	if plate == "" {
		return domain.Vehicle{}, fmt.Errorf("%w: vehicle plate required", domain.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, ok := m.accounts[vehicle.DriverID]
	if !ok || owner.Kind != domain.KindDriver {
		return domain.Vehicle{}, fmt.Errorf("%w: driver %s", domain.ErrNotFound, vehicle.DriverID)
	}
	if _, taken := m.plates[plate]; taken {
		return domain.Vehicle{}, fmt.Errorf("%w: plate %s already registered", domain.ErrValidation, plate)
	}
	if vehicle.ID == uuid.Nil {
		vehicle.ID = uuid.New()
	}
	vehicle.Plate = plate
	m.vehicles[vehicle.ID] = vehicle
	m.vehiclesByDrv[vehicle.DriverID] = append(m.vehiclesByDrv[vehicle.DriverID], vehicle.ID)
	m.plates[plate] = vehicle.ID
	return vehicle, nil
}

// RegisterPaymentMethod stores a payment method for an existing rider.
func (m *Memory) RegisterPaymentMethod(_ context.Context, pm domain.PaymentMethod) (domain.PaymentMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rider, ok := m.accounts[pm.RiderID]
	if !ok || rider.Kind != domain.KindRider {
		return domain.PaymentMethod{}, fmt.Errorf("%w: rider %s", domain.ErrNotFound, pm.RiderID)
	}
	if pm.ID == uuid.Nil {
		pm.ID = uuid.New()
	}
	m.payments[pm.RiderID] = append(m.payments[pm.RiderID], pm)
	return pm, nil
}

// RegisterReview stores rider feedback: rating within [0,5], at most one
// review per trip.
func (m *Memory) RegisterReview(_ context.Context, review domain.Review) (domain.Review, error) {
	if review.Rating < 0 || review.Rating > 5 {
		return domain.Review{}, fmt.Errorf("%w: rating %d outside [0,5]", domain.ErrValidation, review.Rating)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.reviewsByTrip[review.TripID]; exists {
		return domain.Review{}, fmt.Errorf("%w: trip %s already reviewed", domain.ErrValidation, review.TripID)
	}
	if review.ID == uuid.Nil {
		review.ID = uuid.New()
	}
	m.reviewsByTrip[review.TripID] = review
	return review, nil
}

// ResolveRider returns the account iff it exists and is a rider.
func (m *Memory) ResolveRider(_ context.Context, id uuid.UUID) (domain.Account, error) {
	return m.resolveKind(id, domain.KindRider)
}

// ResolveDriver returns the account iff it exists and is a driver.
func (m *Memory) ResolveDriver(_ context.Context, id uuid.UUID) (domain.Account, error) {
	return m.resolveKind(id, domain.KindDriver)
}

func (m *Memory) resolveKind(id uuid.UUID, kind domain.AccountKind) (domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	account, ok := m.accounts[id]
	if !ok || account.Kind != kind {
		return domain.Account{}, fmt.Errorf("%w: %s %s", domain.ErrNotFound, strings.ToLower(string(kind)), id)
	}
	return account, nil
}

// ResolveVehicle returns a vehicle by id.
func (m *Memory) ResolveVehicle(_ context.Context, id uuid.UUID) (domain.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	vehicle, ok := m.vehicles[id]
	if !ok {
		return domain.Vehicle{}, fmt.Errorf("%w: vehicle %s", domain.ErrNotFound, id)
	}
	return vehicle, nil
}

// ResolvePoint returns a geographic point by id.
func (m *Memory) ResolvePoint(_ context.Context, id uuid.UUID) (domain.Point, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	point, ok := m.points[id]
	if !ok {
		return domain.Point{}, fmt.Errorf("%w: point %s", domain.ErrNotFound, id)
	}
	return point, nil
}

// ResolveCity returns a city by id.
func (m *Memory) ResolveCity(_ context.Context, id uuid.UUID) (domain.City, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	city, ok := m.cities[id]
	if !ok {
		return domain.City{}, fmt.Errorf("%w: city %s", domain.ErrNotFound, id)
	}
	return city, nil
}

// PaymentMethodsFor lists a rider's payment methods.
func (m *Memory) PaymentMethodsFor(_ context.Context, riderID uuid.UUID) []domain.PaymentMethod {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.PaymentMethod(nil), m.payments[riderID]...)
}

// VehiclesOf lists the vehicle ids registered to a driver.
func (m *Memory) VehiclesOf(_ context.Context, driverID uuid.UUID) []uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]uuid.UUID(nil), m.vehiclesByDrv[driverID]...)
}
