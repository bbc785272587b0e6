package service

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/example/alpescab/internal/dispatch/domain"
)

// DriverStanding is one row of the top-drivers report.
type DriverStanding struct {
	DriverID       uuid.UUID `json:"driver_id"`
	Name           string    `json:"name"`
	CompletedTrips int       `json:"completed_trips"`
	TotalEarnings  float64   `json:"total_earnings"`
}

// EarningsLine groups a driver's completed trips by vehicle and service kind.
type EarningsLine struct {
	VehicleID uuid.UUID       `json:"vehicle_id"`
	Plate     string          `json:"plate"`
	Kind      domain.TripKind `json:"kind"`
	Trips     int             `json:"trips"`
	Total     float64         `json:"total"`
}

// UsageLine counts trips of one service kind originating in a city.
type UsageLine struct {
	Kind  domain.TripKind `json:"kind"`
	Trips int             `json:"trips"`
}

// TopDrivers ranks drivers by completed trip count, earnings breaking ties.
func (s *Service) TopDrivers(ctx context.Context, limit int) ([]DriverStanding, error) {
	if limit <= 0 {
		limit = 20
	}
	trips, err := s.ledger.AllAt(ctx, s.snapshotSeq())
	if err != nil {
		return nil, err
	}

	byDriver := make(map[uuid.UUID]*DriverStanding)
	for _, trip := range trips {
		if trip.Open() {
			continue
		}
		standing, ok := byDriver[trip.DriverID]
		if !ok {
			standing = &DriverStanding{DriverID: trip.DriverID}
			byDriver[trip.DriverID] = standing
		}
		standing.CompletedTrips++
		standing.TotalEarnings += trip.Fare
	}

	out := make([]DriverStanding, 0, len(byDriver))
	for _, standing := range byDriver {
		if account, err := s.registry.ResolveDriver(ctx, standing.DriverID); err == nil {
			standing.Name = account.Name
		}
		out = append(out, *standing)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CompletedTrips != out[j].CompletedTrips {
			return out[i].CompletedTrips > out[j].CompletedTrips
		}
		return out[i].TotalEarnings > out[j].TotalEarnings
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DriverEarnings breaks one driver's completed trips down by vehicle and kind.
func (s *Service) DriverEarnings(ctx context.Context, driverID uuid.UUID) ([]EarningsLine, error) {
	if _, err := s.registry.ResolveDriver(ctx, driverID); err != nil {
		return nil, err
	}
	trips, err := s.ledger.AllAt(ctx, s.snapshotSeq())
	if err != nil {
		return nil, err
	}

	type groupKey struct {
		vehicleID uuid.UUID
		kind      domain.TripKind
	}
	groups := make(map[groupKey]*EarningsLine)
	for _, trip := range trips {
		if trip.Open() || trip.DriverID != driverID {
			continue
		}
		key := groupKey{vehicleID: trip.VehicleID, kind: trip.Kind}
		line, ok := groups[key]
		if !ok {
			line = &EarningsLine{VehicleID: trip.VehicleID, Kind: trip.Kind}
			if vehicle, err := s.registry.ResolveVehicle(ctx, trip.VehicleID); err == nil {
				line.Plate = vehicle.Plate
			}
			groups[key] = line
		}
		line.Trips++
		line.Total += trip.Fare
	}

	out := make([]EarningsLine, 0, len(groups))
	for _, line := range groups {
		out = append(out, *line)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Total > out[j].Total })
	return out, nil
}

// CityUsage counts completed and in-flight trips per service kind whose
// origin lies in the city, within [from, to).
func (s *Service) CityUsage(ctx context.Context, cityID uuid.UUID, from, to time.Time) ([]UsageLine, error) {
	if _, err := s.registry.ResolveCity(ctx, cityID); err != nil {
		return nil, err
	}
	trips, err := s.ledger.AllAt(ctx, s.snapshotSeq())
	if err != nil {
		return nil, err
	}

	counts := make(map[domain.TripKind]int)
	for _, trip := range trips {
		if trip.StartTime.Before(from) || !trip.StartTime.Before(to) {
			continue
		}
		origin, err := s.registry.ResolvePoint(ctx, trip.OriginID)
		if err != nil || origin.CityID != cityID {
			continue
		}
		counts[trip.Kind]++
	}

	out := make([]UsageLine, 0, len(counts))
	for kind, n := range counts {
		out = append(out, UsageLine{Kind: kind, Trips: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Trips > out[j].Trips })
	return out, nil
}
