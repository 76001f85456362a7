package storage

import (
	"context"
	"errors"
	"time"

	"github.com/roman-kulish/emscan/internal/geometry"
)

// ErrRunNotFound is returned when the ledger has no run with the given ID.
var ErrRunNotFound = errors.New("run not found")

// Store is the run ledger: an index of scan runs, the positions they visited,
// the port pairs they measured and the faults they raised. Sweep values are
// not stored here; they live in the run's JSON output.
type Store interface {
	// CreateRun records the start of a run.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - run: Run to record. ID must be unique. FinishedAt and Outcome are ignored.
	//
	// Returns:
	//   - error: If storage fails or context is cancelled
	CreateRun(ctx context.Context, run *Run) error

	// FinishRun records how and when a run ended.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - runID: ID of the run
	//   - outcome: How the run ended, e.g. "completed" or "aborted"
	//   - at: Time the run ended
	//
	// Returns:
	//   - error: ErrRunNotFound if the run does not exist, or if storage fails
	FinishRun(ctx context.Context, runID, outcome string, at time.Time) error

	// Run retrieves a run by its ID.
	//
	// Returns:
	//   - run: Pointer to the run
	//   - error: ErrRunNotFound if the run does not exist, or if retrieval fails
	Run(ctx context.Context, id string) (*Run, error)

	// Runs returns all runs ordered by start time in ascending order.
	Runs(ctx context.Context) ([]*Run, error)

	// StorePosition records that a run arrived at a position. Recording the
	// same position index twice replaces the earlier record.
	StorePosition(ctx context.Context, runID string, index int, p geometry.Point, at time.Time) error

	// Positions returns the positions of a run ordered by index.
	Positions(ctx context.Context, runID string) ([]*Position, error)

	// StoreSweep records a measured port pair and returns its ID.
	StoreSweep(ctx context.Context, sweep *Sweep) (int64, error)

	// Sweeps returns the sweeps of a run ordered by time, optionally filtered.
	Sweeps(ctx context.Context, runID string, opts ...SweepOption) ([]*Sweep, error)

	// StoreFault records a fault and returns its ID.
	StoreFault(ctx context.Context, fault *Fault) (int64, error)

	// Faults returns the faults of a run in the order they were raised.
	Faults(ctx context.Context, runID string) ([]*Fault, error)

	// Close releases all database connections and resources.
	// After Close is called, the store instance cannot be reused.
	// It is safe to call Close multiple times.
	Close() error
}

// SweepOption filters the sweeps returned by Store.Sweeps.
type SweepOption func(*sweepFilter)

type sweepFilter struct {
	position  *int
	transmit  *int
	startTime *time.Time
	endTime   *time.Time
}

// WithPosition limits sweeps to a single position index.
func WithPosition(index int) SweepOption {
	return func(f *sweepFilter) {
		f.position = &index
	}
}

// WithTransmitPort limits sweeps to a single transmit port.
func WithTransmitPort(port int) SweepOption {
	return func(f *sweepFilter) {
		f.transmit = &port
	}
}

// WithTimeRange limits sweeps to those recorded within [start, end].
func WithTimeRange(start, end time.Time) SweepOption {
	return func(f *sweepFilter) {
		f.startTime = &start
		f.endTime = &end
	}
}
