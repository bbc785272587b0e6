package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/alpescab/internal/dispatch/domain"
)

// HistoryObservation is the result of the isolation harness: the same rider
// history read twice with a deliberate pause in between, under a declared
// consistency contract.
type HistoryObservation struct {
	Mode   domain.IsolationMode `json:"mode"`
	First  []domain.Trip        `json:"first"`
	Second []domain.Trip        `json:"second"`
	Paused time.Duration        `json:"paused_ns"`
}

// ObserveHistory reads the rider's trip history twice around the configured
// pause.
//
// Strict mode captures one commit sequence up front and evaluates both reads
// at it, so a dispatch that commits during the pause never appears in the
// second read. Read-committed mode re-captures the sequence for each read, so
// anything committed during the pause shows up; uncommitted effects are
// unreachable in either mode because mutations hit the ledger only inside a
// committed transaction.
func (s *Service) ObserveHistory(ctx context.Context, riderID uuid.UUID, mode domain.IsolationMode) (HistoryObservation, error) {
	ctx, span := s.tracer.Start(ctx, "dispatch.observe_history")
	defer span.End()

	if _, err := s.registry.ResolveRider(ctx, riderID); err != nil {
		return HistoryObservation{}, err
	}

	obs := HistoryObservation{Mode: mode, Paused: s.pause}

	seq := s.snapshotSeq()
	first, err := s.ledger.RiderHistoryAt(ctx, riderID, seq)
	if err != nil {
		return HistoryObservation{}, err
	}
	obs.First = first

	s.waitPause(ctx)

	if mode == domain.IsolationReadCommitted {
		seq = s.snapshotSeq()
	}
	second, err := s.ledger.RiderHistoryAt(ctx, riderID, seq)
	if err != nil {
		return HistoryObservation{}, err
	}
	obs.Second = second

	historyReadsTotal.WithLabelValues(string(mode)).Inc()
	s.logger.Debug("history observed",
		zap.String("rider_id", riderID.String()),
		zap.String("mode", string(mode)),
		zap.Int("first", len(first)),
		zap.Int("second", len(second)))
	return obs, nil
}

// waitPause waits out the configured pause. A cancelled context cuts the wait
// short but the caller still proceeds with the second read; the pause is a
// fixed delay, not a cancellation point.
func (s *Service) waitPause(ctx context.Context) {
	timer := time.NewTimer(s.pause)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
