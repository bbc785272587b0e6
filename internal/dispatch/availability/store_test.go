package availability_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/alpescab/internal/dispatch/availability"
	"github.com/example/alpescab/internal/dispatch/domain"
)

func window(t *testing.T, vehicleID uuid.UUID, day time.Weekday, start, end string) domain.AvailabilityWindow {
	t.Helper()
	s, err := domain.ParseClock(start)
	require.NoError(t, err)
	e, err := domain.ParseClock(end)
	require.NoError(t, err)
	return domain.AvailabilityWindow{VehicleID: vehicleID, Day: day, Start: s, End: e}
}

func TestRegisterRejectsOverlapAcceptsTouching(t *testing.T) {
	store := availability.NewStore(nil)
	ctx := context.Background()
	vehicleID := uuid.New()

	first, err := store.Register(ctx, window(t, vehicleID, time.Monday, "08:00", "10:00"))
	require.NoError(t, err)

	_, err = store.Register(ctx, window(t, vehicleID, time.Monday, "09:00", "11:00"))
	require.ErrorIs(t, err, domain.ErrOverlap)
	var overlap *domain.OverlapError
	require.ErrorAs(t, err, &overlap)
	require.Equal(t, []uuid.UUID{first.ID}, overlap.Conflicts)

	// Touching boundary is not an overlap under half-open semantics.
	_, err = store.Register(ctx, window(t, vehicleID, time.Monday, "10:00", "11:00"))
	require.NoError(t, err)

	require.Len(t, store.WindowsFor(ctx, vehicleID, time.Monday), 2)
}

func TestRegisterIsolatesVehicleAndDay(t *testing.T) {
	store := availability.NewStore(nil)
	ctx := context.Background()
	vehicleID := uuid.New()

	_, err := store.Register(ctx, window(t, vehicleID, time.Monday, "08:00", "10:00"))
	require.NoError(t, err)

	// Same hours on another day and on another vehicle both succeed.
	_, err = store.Register(ctx, window(t, vehicleID, time.Tuesday, "08:00", "10:00"))
	require.NoError(t, err)
	_, err = store.Register(ctx, window(t, uuid.New(), time.Monday, "08:00", "10:00"))
	require.NoError(t, err)
}

func TestRegisterOverlapIsSymmetric(t *testing.T) {
	store := availability.NewStore(nil)
	ctx := context.Background()
	vehicleID := uuid.New()

	// Containment in either direction must be rejected.
	_, err := store.Register(ctx, window(t, vehicleID, time.Friday, "09:00", "17:00"))
	require.NoError(t, err)
	_, err = store.Register(ctx, window(t, vehicleID, time.Friday, "10:00", "11:00"))
	require.ErrorIs(t, err, domain.ErrOverlap)

	other := uuid.New()
	_, err = store.Register(ctx, window(t, other, time.Friday, "10:00", "11:00"))
	require.NoError(t, err)
	_, err = store.Register(ctx, window(t, other, time.Friday, "09:00", "17:00"))
	require.ErrorIs(t, err, domain.ErrOverlap)
}

func TestRegisterRejectsInvertedWindow(t *testing.T) {
	store := availability.NewStore(nil)
	_, err := store.Register(context.Background(), window(t, uuid.New(), time.Monday, "10:00", "10:00"))
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestModify(t *testing.T) {
	store := availability.NewStore(nil)
	ctx := context.Background()
	vehicleID := uuid.New()

	morning, err := store.Register(ctx, window(t, vehicleID, time.Monday, "08:00", "10:00"))
	require.NoError(t, err)
	_, err = store.Register(ctx, window(t, vehicleID, time.Monday, "12:00", "14:00"))
	require.NoError(t, err)

	// Growing the morning window into the afternoon one must fail and leave
	// the stored window untouched.
	start, _ := domain.ParseClock("08:00")
	end, _ := domain.ParseClock("13:00")
	_, err = store.Modify(ctx, morning.ID, start, end)
	require.ErrorIs(t, err, domain.ErrOverlap)
	require.Equal(t, morning, store.WindowsFor(ctx, vehicleID, time.Monday)[0])

	// A window never conflicts with itself: re-stating the same hours is fine,
	// and shifting within free space succeeds.
	updated, err := store.Modify(ctx, morning.ID, morning.Start, morning.End)
	require.NoError(t, err)
	require.Equal(t, morning, updated)

	end, _ = domain.ParseClock("11:30")
	updated, err = store.Modify(ctx, morning.ID, start, end)
	require.NoError(t, err)
	require.Equal(t, end, updated.End)

	_, err = store.Modify(ctx, uuid.New(), start, end)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConcurrentRegistrationsSameSlot(t *testing.T) {
	store := availability.NewStore(nil)
	ctx := context.Background()
	vehicleID := uuid.New()

	const attempts = 32
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.Register(ctx, window(t, vehicleID, time.Wednesday, "08:00", "09:00"))
		}(i)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, domain.ErrOverlap)
		}
	}
	require.Equal(t, 1, succeeded)
	require.Len(t, store.WindowsFor(ctx, vehicleID, time.Wednesday), 1)
}
