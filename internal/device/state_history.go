package device

import (
	"context"
	"time"
)

// Transition is one derived state change for a device, such as a door
// opening or an appliance turning off.
type Transition struct {
	Class         Class     `json:"class"`
	IEEE          string    `json:"ieee"`
	State         string    `json:"state"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	At            time.Time `json:"at"`
}

// StateHistoryEntry represents a single recorded transition.
type StateHistoryEntry struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	Class         Class  `json:"class"`
	IEEE          string `json:"ieee"`
	State         string `json:"state"`
	CorrelationID string `json:"correlation_id,omitempty"`

	// RecordedAt is the time of the transition (UTC).
	RecordedAt time.Time `json:"recorded_at"`
}

// LatestState is the most recent transition per device, used to hydrate
// state actors when they start.
type LatestState struct {
	IEEE      string    `json:"ieee"`
	State     string    `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StateRepository stores derived device state.
//
// Implementations must be thread-safe and use UTC timestamps.
type StateRepository interface {
	// RecordTransition appends to history and upserts the latest state
	// atomically, so a restart never sees one without the other.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - t: Transition to persist
	//
	// Returns:
	//   - error: nil on success, otherwise the underlying persistence error
	RecordTransition(ctx context.Context, t Transition) error

	// LatestStates returns the latest state of every device of a class.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - class: Device class to load
	//
	// Returns:
	//   - map[string]LatestState: Keyed by ieee address (may be empty)
	//   - error: nil on success, otherwise the underlying query error
	LatestStates(ctx context.Context, class Class) (map[string]LatestState, error)

	// GetHistory returns recent transitions for a device.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - ieee: Device address
	//   - limit: Maximum entries to return (implementation may clamp bounds)
	//
	// Returns:
	//   - []StateHistoryEntry: Ordered newest-first history entries (may be empty)
	//   - error: nil on success, otherwise the underlying query error
	GetHistory(ctx context.Context, ieee string, limit int) ([]StateHistoryEntry, error)
}
