package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/alpescab/internal/dispatch/domain"
	"github.com/example/alpescab/internal/telemetry"
)

func TestProximityRankerOrdersByDistance(t *testing.T) {
	observer := telemetry.NewObserver()
	ctx := context.Background()

	near := uuid.New()
	far := uuid.New()
	silent := uuid.New()
	observer.Update(ctx, near, 4.61, -74.08, 20)
	observer.Update(ctx, far, 4.95, -74.40, 20)

	origin := domain.Point{Lat: 4.60, Lng: -74.08}
	candidates := []domain.Candidate{
		{DriverID: far, VehicleIDs: []uuid.UUID{uuid.New()}},
		{DriverID: silent, VehicleIDs: []uuid.UUID{uuid.New()}},
		{DriverID: near, VehicleIDs: []uuid.UUID{uuid.New()}},
	}

	ranker := telemetry.NewProximityRanker(observer, time.Minute)
	ranked := ranker.Rank(ctx, origin, candidates)

	require.Len(t, ranked, 3)
	require.Equal(t, near, ranked[0].DriverID)
	require.Equal(t, far, ranked[1].DriverID)
	// No snapshot ranks last but is not dropped.
	require.Equal(t, silent, ranked[2].DriverID)
}

func TestProximityRankerIgnoresStaleSnapshots(t *testing.T) {
	observer := telemetry.NewObserver()
	ctx := context.Background()

	stale := uuid.New()
	fresh := uuid.New()
	observer.Update(ctx, stale, 4.60, -74.08, 0)
	time.Sleep(20 * time.Millisecond)
	observer.Update(ctx, fresh, 4.90, -74.30, 0)

	origin := domain.Point{Lat: 4.60, Lng: -74.08}
	candidates := []domain.Candidate{
		{DriverID: stale, VehicleIDs: []uuid.UUID{uuid.New()}},
		{DriverID: fresh, VehicleIDs: []uuid.UUID{uuid.New()}},
	}

	// With a 10ms freshness bound the stale driver is unpositioned even
	// though it sits on the origin.
	ranker := telemetry.NewProximityRanker(observer, 10*time.Millisecond)
	ranked := ranker.Rank(ctx, origin, candidates)
	require.Equal(t, fresh, ranked[0].DriverID)
	require.Equal(t, stale, ranked[1].DriverID)
}
