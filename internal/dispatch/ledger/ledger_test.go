package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/alpescab/internal/dispatch/domain"
	"github.com/example/alpescab/internal/dispatch/ledger"
)

func spec(riderID uuid.UUID, start time.Time) domain.TripSpec {
	return domain.TripSpec{
		Kind:           domain.KindStandard,
		Fare:           18.5,
		StartTime:      start,
		DriverID:       uuid.New(),
		RiderID:        riderID,
		VehicleID:      uuid.New(),
		OriginID:       uuid.New(),
		DestinationIDs: []uuid.UUID{uuid.New()},
	}
}

func TestOpenRequiresDestination(t *testing.T) {
	l := ledger.New(nil)
	s := spec(uuid.New(), time.Now())
	s.DestinationIDs = nil
	_, err := l.Open(context.Background(), s)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestCloseComputesDuration(t *testing.T) {
	l := ledger.New(nil)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	trip, err := l.Open(ctx, spec(uuid.New(), start))
	require.NoError(t, err)
	require.True(t, trip.Open())

	end := start.Add(17*time.Minute + 30*time.Second)
	closed, err := l.Close(ctx, trip.ID, 12.5, end)
	require.NoError(t, err)
	require.Equal(t, end, *closed.EndTime)
	require.Equal(t, 12.5, *closed.DistanceKM)
	// Whole minutes, floored.
	require.Equal(t, int64(17), *closed.DurationMinutes)

	_, err = l.Close(ctx, trip.ID, 12.5, end)
	require.ErrorIs(t, err, domain.ErrAlreadyClosed)
	_, err = l.Close(ctx, uuid.New(), 1, end)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSnapshotVisibility(t *testing.T) {
	l := ledger.New(nil)
	ctx := context.Background()
	riderID := uuid.New()
	start := time.Now().UTC()

	before := l.Seq()

	trip, err := l.Open(ctx, spec(riderID, start))
	require.NoError(t, err)
	afterOpen := l.Seq()
	require.Greater(t, afterOpen, before)

	// Snapshot taken before the open never shows the trip.
	hist, err := l.RiderHistoryAt(ctx, riderID, before)
	require.NoError(t, err)
	require.Empty(t, hist)

	hist, err = l.RiderHistoryAt(ctx, riderID, afterOpen)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.True(t, hist[0].Open())

	_, err = l.Close(ctx, trip.ID, 3.2, start.Add(10*time.Minute))
	require.NoError(t, err)

	// At the pre-close snapshot the trip still reads as open.
	hist, err = l.RiderHistoryAt(ctx, riderID, afterOpen)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.True(t, hist[0].Open())

	hist, err = l.RiderHistoryAt(ctx, riderID, l.Seq())
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.False(t, hist[0].Open())
}

func TestOpenTripsFor(t *testing.T) {
	l := ledger.New(nil)
	ctx := context.Background()
	riderID := uuid.New()
	start := time.Now().UTC()

	first, err := l.Open(ctx, spec(riderID, start))
	require.NoError(t, err)
	_, err = l.Open(ctx, spec(riderID, start))
	require.NoError(t, err)
	_, err = l.Open(ctx, spec(uuid.New(), start))
	require.NoError(t, err)

	open, err := l.OpenTripsFor(ctx, riderID)
	require.NoError(t, err)
	require.Len(t, open, 2)

	_, err = l.Close(ctx, first.ID, 1, start.Add(time.Minute))
	require.NoError(t, err)

	open, err = l.OpenTripsFor(ctx, riderID)
	require.NoError(t, err)
	require.Len(t, open, 1)
}
