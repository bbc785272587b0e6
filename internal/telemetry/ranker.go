package telemetry

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/example/alpescab/internal/dispatch/domain"
)

const earthRadiusKM = 6371.0

// ProximityRanker orders acquisition candidates by distance between their
// last reported position and the trip origin. Drivers without a recent
// snapshot rank after those with one, in the pool's stable order, so a quiet
// telemetry feed degrades to first-available matching instead of starving
// dispatch.
type ProximityRanker struct {
	observer *Observer
	maxAge   time.Duration
}

// NewProximityRanker constructs the ranker. maxAge bounds how stale a
// snapshot may be before the driver is treated as unpositioned.
func NewProximityRanker(observer *Observer, maxAge time.Duration) *ProximityRanker {
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return &ProximityRanker{observer: observer, maxAge: maxAge}
}

// Rank satisfies domain.Ranker.
func (r *ProximityRanker) Rank(_ context.Context, origin domain.Point, candidates []domain.Candidate) []domain.Candidate {
	type scored struct {
		candidate domain.Candidate
		distance  float64
		known     bool
	}
	now := time.Now().UTC()
	all := make([]scored, len(candidates))
	for i, c := range candidates {
		all[i] = scored{candidate: c}
		snap, ok := r.observer.Snapshot(c.DriverID)
		if !ok || now.Sub(snap.Updated) > r.maxAge {
			continue
		}
		all[i].known = true
		all[i].distance = haversineKM(origin.Lat, origin.Lng, snap.Lat, snap.Lng)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].known != all[j].known {
			return all[i].known
		}
		return all[i].distance < all[j].distance
	})
	out := make([]domain.Candidate, len(all))
	for i, s := range all {
		out[i] = s.candidate
	}
	return out
}

func haversineKM(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
