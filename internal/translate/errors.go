package translate

import (
	"errors"
	"fmt"
)

// ErrNotConfigured means translation was attempted without a usable API
// key or model. Surfaced to the user as "configure the engine"; never
// retried automatically.
var ErrNotConfigured = errors.New("translation engine is not configured")

// ErrCancelled means the run's cancellation signal fired. Silent at the
// UI level; the batch simply halts at its current position.
var ErrCancelled = errors.New("translation cancelled")

// ProviderError carries an upstream failure status and message. Unit-level
// provider failures never abort the surrounding batch.
type ProviderError struct {
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("translation provider error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("translation provider error: %s", e.Message)
}
