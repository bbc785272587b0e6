// Package service houses the dispatch and completion coordinators, the
// isolation harness and the reporting queries. The two coordinators are the
// only writers of driver reservation state and trip records; a shared commit
// gate makes each transaction's effects visible to readers all at once.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/alpescab/internal/dispatch/domain"
)

// Registry is the read-only reference-data surface the coordinators consult.
type Registry interface {
	ResolveRider(ctx context.Context, id uuid.UUID) (domain.Account, error)
	ResolveDriver(ctx context.Context, id uuid.UUID) (domain.Account, error)
	ResolveVehicle(ctx context.Context, id uuid.UUID) (domain.Vehicle, error)
	ResolvePoint(ctx context.Context, id uuid.UUID) (domain.Point, error)
	ResolveCity(ctx context.Context, id uuid.UUID) (domain.City, error)
	PaymentMethodsFor(ctx context.Context, riderID uuid.UUID) []domain.PaymentMethod
}

// Deps are the collaborators of a Service. Clock, Ranker, Logger and Pause
// have working defaults.
type Deps struct {
	Registry Registry
	Pool     domain.DriverPool
	Ledger   domain.TripLedger
	Events   domain.EventPublisher
	Clock    domain.Clock
	Ranker   domain.Ranker
	Logger   *zap.Logger
	// Pause is the deliberate wait between the two harness reads.
	Pause time.Duration
}

// Service coordinates the trip lifecycle transactions.
type Service struct {
	registry Registry
	pool     domain.DriverPool
	ledger   domain.TripLedger
	events   domain.EventPublisher
	clock    domain.Clock
	ranker   domain.Ranker
	logger   *zap.Logger
	tracer   trace.Tracer
	pause    time.Duration

	// gate serializes transaction commits against snapshot capture. Writers
	// hold it for the reserve+open and close+release pairs, so a reader that
	// captures a ledger sequence under RLock can never observe half of a
	// transaction.
	gate sync.RWMutex
}

// New constructs a Service.
func New(deps Deps) *Service {
	if deps.Clock == nil {
		deps.Clock = domain.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Pause <= 0 {
		deps.Pause = 30 * time.Second
	}
	return &Service{
		registry: deps.Registry,
		pool:     deps.Pool,
		ledger:   deps.Ledger,
		events:   deps.Events,
		clock:    deps.Clock,
		ranker:   deps.Ranker,
		logger:   deps.Logger,
		tracer:   otel.Tracer("dispatch.service"),
		pause:    deps.Pause,
	}
}

// RequestTripInput is the dispatch payload.
type RequestTripInput struct {
	RiderID        uuid.UUID
	Kind           domain.TripKind
	OriginID       uuid.UUID
	DestinationIDs []uuid.UUID
	EstimatedFare  float64
}

// RequestTrip runs the dispatch transaction: payment precondition, driver
// acquisition, ledger open. The three effects commit together; if the ledger
// open fails after a driver was reserved, the reservation is released before
// the error surfaces. Nothing is retried here; retry is the caller's call.
func (s *Service) RequestTrip(ctx context.Context, in RequestTripInput) (domain.Trip, error) {
	ctx, span := s.tracer.Start(ctx, "dispatch.request")
	defer span.End()
	timer := time.Now()

	rider, err := s.registry.ResolveRider(ctx, in.RiderID)
	if err != nil {
		return domain.Trip{}, s.requestFailed("rider", err)
	}
	if len(s.registry.PaymentMethodsFor(ctx, rider.ID)) == 0 {
		return domain.Trip{}, s.requestFailed("payment", fmt.Errorf("%w: rider %s", domain.ErrNoPaymentMethod, rider.ID))
	}
	origin, err := s.registry.ResolvePoint(ctx, in.OriginID)
	if err != nil {
		return domain.Trip{}, s.requestFailed("origin", err)
	}
	if len(in.DestinationIDs) == 0 {
		return domain.Trip{}, s.requestFailed("destinations", fmt.Errorf("%w: trip needs at least one destination", domain.ErrValidation))
	}
	for _, destID := range in.DestinationIDs {
		if _, err := s.registry.ResolvePoint(ctx, destID); err != nil {
			return domain.Trip{}, s.requestFailed("destinations", err)
		}
	}

	s.gate.Lock()
	reservation, err := s.pool.AcquireAny(ctx, origin, s.ranker)
	if err != nil {
		s.gate.Unlock()
		return domain.Trip{}, s.requestFailed("acquire", err)
	}

	trip, err := s.ledger.Open(ctx, domain.TripSpec{
		Kind:           in.Kind,
		Fare:           in.EstimatedFare,
		StartTime:      s.clock.Now(),
		DriverID:       reservation.DriverID,
		RiderID:        rider.ID,
		VehicleID:      reservation.VehicleID,
		OriginID:       origin.ID,
		DestinationIDs: in.DestinationIDs,
	})
	if err != nil {
		// Compensate: the reservation must not outlive the aborted dispatch.
		if relErr := s.pool.Release(ctx, reservation.DriverID); relErr != nil {
			s.logger.Error("compensating release failed",
				zap.String("driver_id", reservation.DriverID.String()),
				zap.Error(relErr))
		}
		s.gate.Unlock()
		return domain.Trip{}, s.requestFailed("open", err)
	}
	s.gate.Unlock()

	s.publish(ctx, domain.DispatchEvent{
		TripID: trip.ID,
		Type:   domain.EventTripRequested,
		Payload: map[string]any{
			"rider_id":  trip.RiderID.String(),
			"driver_id": trip.DriverID.String(),
			"kind":      string(trip.Kind),
		},
	})

	dispatchRequestsTotal.WithLabelValues("ok").Inc()
	dispatchRequestSeconds.WithLabelValues("ok").Observe(time.Since(timer).Seconds())
	s.logger.Info("trip dispatched",
		zap.String("trip_id", trip.ID.String()),
		zap.String("rider_id", trip.RiderID.String()),
		zap.String("driver_id", trip.DriverID.String()))
	return trip, nil
}

// CompleteTrip runs the completion transaction: close the ledger entry, then
// release the driver, both visible atomically. A retried completion fails at
// the already-closed check before touching the pool.
func (s *Service) CompleteTrip(ctx context.Context, tripID uuid.UUID, distanceKM float64) (domain.Trip, error) {
	ctx, span := s.tracer.Start(ctx, "dispatch.complete")
	defer span.End()

	s.gate.Lock()
	trip, err := s.ledger.Close(ctx, tripID, distanceKM, s.clock.Now())
	if err != nil {
		s.gate.Unlock()
		completionsTotal.WithLabelValues(failureLabel(err)).Inc()
		return domain.Trip{}, fmt.Errorf("complete trip: %w", err)
	}
	if err := s.pool.Release(ctx, trip.DriverID); err != nil {
		// The trip is closed but the driver did not release: surface it, the
		// state needs operator attention.
		s.gate.Unlock()
		completionsTotal.WithLabelValues("release_failed").Inc()
		s.logger.Error("driver release failed after close",
			zap.String("trip_id", tripID.String()),
			zap.String("driver_id", trip.DriverID.String()),
			zap.Error(err))
		return domain.Trip{}, fmt.Errorf("release driver: %w", err)
	}
	s.gate.Unlock()

	s.publish(ctx, domain.DispatchEvent{
		TripID: trip.ID,
		Type:   domain.EventTripCompleted,
		Payload: map[string]any{
			"driver_id":        trip.DriverID.String(),
			"distance_km":      distanceKM,
			"duration_minutes": *trip.DurationMinutes,
		},
	})

	completionsTotal.WithLabelValues("ok").Inc()
	s.logger.Info("trip completed",
		zap.String("trip_id", trip.ID.String()),
		zap.Int64("duration_minutes", *trip.DurationMinutes))
	return trip, nil
}

// OpenTrips returns the rider's currently open trips.
func (s *Service) OpenTrips(ctx context.Context, riderID uuid.UUID) ([]domain.Trip, error) {
	if _, err := s.registry.ResolveRider(ctx, riderID); err != nil {
		return nil, err
	}
	return s.ledger.OpenTripsFor(ctx, riderID)
}

// TripByID returns the latest committed view of a trip.
func (s *Service) TripByID(ctx context.Context, id uuid.UUID) (domain.Trip, error) {
	return s.ledger.TripByID(ctx, id)
}

// snapshotSeq captures a commit sequence with no transaction in flight.
func (s *Service) snapshotSeq() uint64 {
	s.gate.RLock()
	defer s.gate.RUnlock()
	return s.ledger.Seq()
}

func (s *Service) publish(ctx context.Context, event domain.DispatchEvent) {
	if s.events == nil {
		return
	}
	event.CreatedAt = s.clock.Now()
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("event publish failed", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

func (s *Service) requestFailed(stage string, err error) error {
	dispatchRequestsTotal.WithLabelValues(failureLabel(err)).Inc()
	s.logger.Warn("dispatch aborted", zap.String("stage", stage), zap.Error(err))
	return fmt.Errorf("request trip: %w", err)
}

func failureLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrNoDriverAvailable):
		return "no_driver"
	case errors.Is(err, domain.ErrNoPaymentMethod):
		return "no_payment"
	case errors.Is(err, domain.ErrAlreadyClosed):
		return "already_closed"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
