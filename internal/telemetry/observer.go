// Package telemetry ingests driver position reports over gRPC and turns them
// into the proximity ranking used during driver acquisition.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PositionSnapshot is the latest known position of a driver.
type PositionSnapshot struct {
	DriverID uuid.UUID
	Lat      float64
	Lng      float64
	SpeedKph float64
	Updated  time.Time
}

// Observer stores the latest position snapshot per driver.
type Observer struct {
	mu        sync.RWMutex
	snapshots map[uuid.UUID]PositionSnapshot
}

// NewObserver constructs an empty observer.
func NewObserver() *Observer {
	return &Observer{snapshots: make(map[uuid.UUID]PositionSnapshot)}
}

// Update stores a snapshot.
func (o *Observer) Update(_ context.Context, driverID uuid.UUID, lat, lng, speedKph float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.snapshots[driverID] = PositionSnapshot{
		DriverID: driverID,
		Lat:      lat,
		Lng:      lng,
		SpeedKph: speedKph,
		Updated:  time.Now().UTC(),
	}
}

// Snapshot returns the stored snapshot for a driver.
func (o *Observer) Snapshot(driverID uuid.UUID) (PositionSnapshot, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	snap, ok := o.snapshots[driverID]
	return snap, ok
}
