package storage

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/roman-kulish/emscan/internal/scan"
)

const defaultRecordTimeout = 5 * time.Second

// RecorderWithLogger sets the logger used by the Recorder.
func RecorderWithLogger(logger *slog.Logger) func(*Recorder) {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// RecorderWithTimeout bounds every ledger write.
func RecorderWithTimeout(timeout time.Duration) func(*Recorder) {
	return func(r *Recorder) {
		r.timeout = timeout
	}
}

// Recorder writes scan events to a Store. Ledger failures are logged and
// never interrupt the run.
type Recorder struct {
	store   Store
	timeout time.Duration
	logger  *slog.Logger
}

// NewRecorder creates a Recorder writing to store.
func NewRecorder(store Store, options ...func(*Recorder)) *Recorder {
	r := Recorder{
		store:   store,
		timeout: defaultRecordTimeout,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&r)
	}

	return &r
}

// HandleEvent implements scan.Observer.
func (r *Recorder) HandleEvent(ev scan.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.record(ctx, ev); err != nil {
		r.logger.Error("recording scan event",
			slog.String("run", ev.RunID),
			slog.String("event", string(ev.Type)),
			slog.String("error", err.Error()))
	}
}

func (r *Recorder) record(ctx context.Context, ev scan.Event) error {
	switch ev.Type {
	case scan.EventRunStarted:
		info := ev.Run
		configData, err := toConfigData(info.Config)
		if err != nil {
			return err
		}
		return r.store.CreateRun(ctx, &Run{
			ID:            info.ID,
			Name:          info.Name,
			Root:          info.Root,
			VNAName:       info.VNAName,
			Description:   info.Description,
			Parameters:    info.Parameters,
			PortMin:       info.PortMin,
			PortMax:       info.PortMax,
			PositionCount: len(info.Positions),
			StartedAt:     info.Started,
			Config:        fromNullString(configData),
		})

	case scan.EventPositionStarted:
		return r.store.StorePosition(ctx, ev.RunID, ev.PositionIndex, ev.Position, ev.Time)

	case scan.EventSweep:
		_, err := r.store.StoreSweep(ctx, &Sweep{
			RunID:         ev.RunID,
			PositionIndex: ev.PositionIndex,
			Pair:          ev.Pair,
			Parameters:    ev.Parameters,
			Duration:      ev.SweepDuration,
			RecordedAt:    ev.Time,
		})
		return err

	case scan.EventFault:
		if ev.Fault == nil {
			return nil
		}
		_, err := r.store.StoreFault(ctx, &Fault{
			RunID:         ev.RunID,
			PositionIndex: ev.PositionIndex,
			Kind:          string(ev.Fault.Kind),
			Op:            ev.Fault.Op,
			Message:       ev.Fault.Err.Error(),
			RecordedAt:    ev.Time,
		})
		return err

	case scan.EventRunFinished:
		return r.store.FinishRun(ctx, ev.RunID, string(ev.Outcome), ev.Time)
	}

	return nil
}
