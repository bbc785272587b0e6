package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Caller-visible failure taxonomy. Every error is scoped to the single
// requested operation; nothing is retried internally.
var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("invalid input")
	ErrOverlap           = errors.New("availability window overlap")
	ErrNoDriverAvailable = errors.New("no driver available")
	ErrNoPaymentMethod   = errors.New("rider has no registered payment method")
	ErrAlreadyClosed     = errors.New("trip already closed")
	ErrAlreadyAvailable  = errors.New("driver already available")
)

// OverlapError reports which stored windows collide with the candidate.
type OverlapError struct {
	VehicleID uuid.UUID
	Conflicts []uuid.UUID
}

func (e *OverlapError) Error() string {
	ids := make([]string, len(e.Conflicts))
	for i, id := range e.Conflicts {
		ids[i] = id.String()
	}
	return fmt.Sprintf("availability window overlap for vehicle %s with [%s]",
		e.VehicleID, strings.Join(ids, ", "))
}

// Is makes errors.Is(err, ErrOverlap) match.
func (e *OverlapError) Is(target error) bool { return target == ErrOverlap }
