package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ClockMinute is a time of day expressed as minutes from midnight.
type ClockMinute int

// ParseClock parses "HH:MM" into a ClockMinute.
func ParseClock(s string) (ClockMinute, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("%w: clock %q", ErrValidation, s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: clock %q out of range", ErrValidation, s)
	}
	return ClockMinute(h*60 + m), nil
}

func (c ClockMinute) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// AvailabilityWindow is one weekly time slot a vehicle is offered for service.
// Windows are half-open: [Start, End), so touching endpoints do not overlap.
type AvailabilityWindow struct {
	ID        uuid.UUID    `json:"id"`
	VehicleID uuid.UUID    `json:"vehicle_id"`
	Day       time.Weekday `json:"day"`
	Start     ClockMinute  `json:"start"`
	End       ClockMinute  `json:"end"`
}

// Overlaps reports whether two windows collide under half-open semantics.
// The predicate is symmetric; callers are expected to have already matched
// vehicle and day.
func (w AvailabilityWindow) Overlaps(other AvailabilityWindow) bool {
	return w.Start < other.End && other.Start < w.End
}

// ReservationState is the binary dispatch state of a driver.
type ReservationState string

const (
	StateAvailable ReservationState = "AVAILABLE"
	StateReserved  ReservationState = "RESERVED"
)

// Reservation is the exclusive binding of a driver and one of its vehicles to
// an in-progress trip.
type Reservation struct {
	DriverID  uuid.UUID
	VehicleID uuid.UUID
}

// Candidate is an AVAILABLE driver offered to the ranking function during
// acquisition, along with the vehicles registered to it.
type Candidate struct {
	DriverID   uuid.UUID
	VehicleIDs []uuid.UUID
}

// Ranker orders and filters acquisition candidates. Implementations may drop
// candidates entirely (capacity, tier, proximity); the pool reserves the first
// survivor. Rank must not retain the slice.
type Ranker interface {
	Rank(ctx context.Context, origin Point, candidates []Candidate) []Candidate
}

// RankerFunc adapts a function to the Ranker interface.
type RankerFunc func(ctx context.Context, origin Point, candidates []Candidate) []Candidate

func (f RankerFunc) Rank(ctx context.Context, origin Point, candidates []Candidate) []Candidate {
	return f(ctx, origin, candidates)
}

// VehicleBinder picks which of a winning driver's vehicles backs the
// reservation. The default binder takes the driver's first registered vehicle;
// deployments can swap in tier- or schedule-aware policies.
type VehicleBinder func(Candidate) uuid.UUID

// TripKind is the service class requested by a rider.
type TripKind string

const (
	KindStandard TripKind = "STANDARD"
	KindComfort  TripKind = "COMFORT"
	KindLarge    TripKind = "LARGE"
)

// Trip is one ledger entry. EndTime, DistanceKM and DurationMinutes stay nil
// while the trip is open and are written exactly once on completion.
type Trip struct {
	ID              uuid.UUID   `json:"id"`
	Kind            TripKind    `json:"kind"`
	Fare            float64     `json:"fare"`
	StartTime       time.Time   `json:"start_time"`
	EndTime         *time.Time  `json:"end_time,omitempty"`
	DistanceKM      *float64    `json:"distance_km,omitempty"`
	DurationMinutes *int64      `json:"duration_minutes,omitempty"`
	DriverID        uuid.UUID   `json:"driver_id"`
	RiderID         uuid.UUID   `json:"rider_id"`
	VehicleID       uuid.UUID   `json:"vehicle_id"`
	OriginID        uuid.UUID   `json:"origin_id"`
	DestinationIDs  []uuid.UUID `json:"destination_ids"`
}

// Open reports whether the trip has not been completed yet.
func (t Trip) Open() bool { return t.EndTime == nil }

// TripSpec is the payload for opening a ledger entry.
type TripSpec struct {
	Kind           TripKind
	Fare           float64
	StartTime      time.Time
	DriverID       uuid.UUID
	RiderID        uuid.UUID
	VehicleID      uuid.UUID
	OriginID       uuid.UUID
	DestinationIDs []uuid.UUID
}

// AccountKind tags the rider/driver variant of an account. The original data
// model kept both in one user table and type-checked at every call site; here
// the kind is resolved once at lookup.
type AccountKind string

const (
	KindRider  AccountKind = "RIDER"
	KindDriver AccountKind = "DRIVER"
)

// Account is a registered rider or driver.
type Account struct {
	ID     uuid.UUID   `json:"id"`
	Kind   AccountKind `json:"kind"`
	Name   string      `json:"name"`
	Email  string      `json:"email"`
	Phone  string      `json:"phone"`
	CityID uuid.UUID   `json:"city_id"`
}

// City is a service area.
type City struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Point is a named geographic location inside a city.
type Point struct {
	ID     uuid.UUID `json:"id"`
	CityID uuid.UUID `json:"city_id"`
	Label  string    `json:"label"`
	Lat    float64   `json:"lat"`
	Lng    float64   `json:"lng"`
}

// VehicleTier is the assigned comfort level of a vehicle.
type VehicleTier string

const (
	TierStandard VehicleTier = "STANDARD"
	TierComfort  VehicleTier = "COMFORT"
	TierLarge    VehicleTier = "LARGE"
)

// Vehicle belongs to exactly one driver. Plates are unique fleet-wide.
type Vehicle struct {
	ID       uuid.UUID   `json:"id"`
	DriverID uuid.UUID   `json:"driver_id"`
	Plate    string      `json:"plate"`
	Model    string      `json:"model"`
	Capacity int         `json:"capacity"`
	Tier     VehicleTier `json:"tier"`
}

// PaymentMethod existence is the dispatch precondition; no gateway protocol
// is modeled.
type PaymentMethod struct {
	ID      uuid.UUID `json:"id"`
	RiderID uuid.UUID `json:"rider_id"`
	Label   string    `json:"label"`
}

// Review is rider feedback on a completed trip, at most one per trip.
type Review struct {
	ID      uuid.UUID `json:"id"`
	TripID  uuid.UUID `json:"trip_id"`
	Rating  int       `json:"rating"`
	Comment string    `json:"comment"`
}

// IsolationMode selects the read consistency contract of the history harness.
type IsolationMode string

const (
	IsolationStrict        IsolationMode = "STRICT"
	IsolationReadCommitted IsolationMode = "READ_COMMITTED"
)

// ParseIsolationMode maps a wire value to a mode, defaulting to strict.
func ParseIsolationMode(s string) IsolationMode {
	if IsolationMode(s) == IsolationReadCommitted {
		return IsolationReadCommitted
	}
	return IsolationStrict
}

// DispatchEventType names trip lifecycle events emitted by the coordinators.
type DispatchEventType string

const (
	EventTripRequested DispatchEventType = "TripRequested"
	EventTripCompleted DispatchEventType = "TripCompleted"
)

// DispatchEvent is a journal entry drained to the message bus.
type DispatchEvent struct {
	Seq       int64             `json:"seq"`
	TripID    uuid.UUID         `json:"trip_id"`
	Type      DispatchEventType `json:"type"`
	Payload   map[string]any    `json:"payload,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// DriverPool tracks reservation state for the fleet. AcquireAny and Release
// are serialized against each other so two concurrent acquisitions can never
// pick the same driver.
type DriverPool interface {
	// AcquireAny fails fast with ErrNoDriverAvailable when the ranked
	// candidate set is empty; it never blocks waiting for a release.
	AcquireAny(ctx context.Context, origin Point, ranker Ranker) (Reservation, error)
	Release(ctx context.Context, driverID uuid.UUID) error
}

// TripLedger stores trip records with commit-sequence visibility. Seq returns
// the latest committed sequence; reads at a sequence S observe exactly the
// commits numbered <= S.
type TripLedger interface {
	Open(ctx context.Context, spec TripSpec) (Trip, error)
	Close(ctx context.Context, id uuid.UUID, distanceKM float64, at time.Time) (Trip, error)
	TripByID(ctx context.Context, id uuid.UUID) (Trip, error)
	RiderHistoryAt(ctx context.Context, riderID uuid.UUID, seq uint64) ([]Trip, error)
	OpenTripsFor(ctx context.Context, riderID uuid.UUID) ([]Trip, error)
	AllAt(ctx context.Context, seq uint64) ([]Trip, error)
	Seq() uint64
}

// EventPublisher pushes a dispatch event to the bus.
type EventPublisher interface {
	Publish(ctx context.Context, event DispatchEvent) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
