package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/alpescab/internal/dispatch/domain"
)

func TestTopDriversAndEarnings(t *testing.T) {
	f := newFixture(t)
	rider := f.addRider(t, true)
	busy, busyVehicle := f.addDriver(t)
	origin, dest := f.addPoint(t), f.addPoint(t)

	// Two completed trips for the busy driver.
	for i := 0; i < 2; i++ {
		trip, err := f.request(t, rider.ID, origin, dest)
		require.NoError(t, err)
		require.Equal(t, busy.ID, trip.DriverID)
		f.clock.Advance(10 * time.Minute)
		_, err = f.svc.CompleteTrip(context.Background(), trip.ID, 5)
		require.NoError(t, err)
	}

	// Add a second driver and dispatch two trips back to back: with the first
	// driver reserved by one of them, each driver carries exactly one.
	f.addDriver(t)
	third, err := f.request(t, rider.ID, origin, dest)
	require.NoError(t, err)
	fourth, err := f.request(t, rider.ID, origin, dest)
	require.NoError(t, err)
	require.NotEqual(t, third.DriverID, fourth.DriverID)
	f.clock.Advance(5 * time.Minute)
	for _, id := range []uuid.UUID{third.ID, fourth.ID} {
		_, err = f.svc.CompleteTrip(context.Background(), id, 2)
		require.NoError(t, err)
	}

	standings, err := f.svc.TopDrivers(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, standings, 2)
	require.Equal(t, busy.ID, standings[0].DriverID)
	require.Equal(t, 3, standings[0].CompletedTrips)
	require.Equal(t, 1, standings[1].CompletedTrips)

	lines, err := f.svc.DriverEarnings(context.Background(), busy.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Equal(t, busyVehicle.ID, lines[0].VehicleID)
	require.Equal(t, domain.KindStandard, lines[0].Kind)
	require.Equal(t, 3, lines[0].Trips)
	require.InDelta(t, 3*21.0, lines[0].Total, 0.001)

	_, err = f.svc.DriverEarnings(context.Background(), uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCityUsage(t *testing.T) {
	f := newFixture(t)
	rider := f.addRider(t, true)
	f.addDriver(t)
	origin, dest := f.addPoint(t), f.addPoint(t)

	trip, err := f.request(t, rider.ID, origin, dest)
	require.NoError(t, err)
	f.clock.Advance(8 * time.Minute)
	_, err = f.svc.CompleteTrip(context.Background(), trip.ID, 3)
	require.NoError(t, err)

	from := trip.StartTime.Add(-time.Hour)
	to := trip.StartTime.Add(time.Hour)

	usage, err := f.svc.CityUsage(context.Background(), origin.CityID, from, to)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	require.Equal(t, domain.KindStandard, usage[0].Kind)
	require.Equal(t, 1, usage[0].Trips)

	// Outside the window nothing counts.
	usage, err = f.svc.CityUsage(context.Background(), origin.CityID, to, to.Add(time.Hour))
	require.NoError(t, err)
	require.Empty(t, usage)

	_, err = f.svc.CityUsage(context.Background(), uuid.New(), from, to)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
