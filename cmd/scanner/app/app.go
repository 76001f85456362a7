package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roman-kulish/emscan/internal/instrument/pna"
	"github.com/roman-kulish/emscan/internal/instrument/testset"
	"github.com/roman-kulish/emscan/internal/metrics"
	"github.com/roman-kulish/emscan/internal/motion"
	"github.com/roman-kulish/emscan/internal/progress"
	"github.com/roman-kulish/emscan/internal/scan"
	"github.com/roman-kulish/emscan/internal/storage"
)

const shutdownTimeout = 5 * time.Second

// Run connects the instruments, performs one scan run as configured and
// releases the hardware. Cancelling ctx aborts the run after the hardware
// call in progress; the output written so far stays valid.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	analyzer, err := connectAnalyzer(ctx, &config.Analyzer, logger)
	if err != nil {
		return err
	}
	defer closeLogged(analyzer, "analyzer", logger)

	switches, err := connectSwitches(ctx, &config.Switches, logger)
	if err != nil {
		return err
	}
	defer closeLogged(switches, "switch matrix", logger)

	plan := config.Plan()

	var options []func(*scan.Orchestrator)
	options = append(options, scan.WithLogger(logger.With(slog.String("component", "scan"))))

	if config.Motion.Enabled {
		stage, err := connectStage(&config.Motion, plan.Motion, logger)
		if err != nil {
			return err
		}
		defer closeLogged(stage, "motion controller", logger)

		options = append(options, scan.WithStage(stage))
	}

	if config.Storage.Ledger != "" {
		store := storage.NewSqliteStore(config.Storage.Ledger)
		defer closeLogged(store, "run ledger", logger)

		options = append(options, scan.WithObserver(storage.NewRecorder(store,
			storage.RecorderWithLogger(logger.With(slog.String("component", "ledger"))))))
	}

	var orchestrator *scan.Orchestrator

	if config.Monitor.Listen != "" {
		collector, err := metrics.NewCollector(prometheus.NewRegistry())
		if err != nil {
			return fmt.Errorf("creating metrics collector: %w", err)
		}
		hub := progress.NewHub(
			progress.WithLogger(logger.With(slog.String("component", "progress"))),
			progress.WithAbort(func() { orchestrator.Abort() }))
		defer hub.Close()

		stop, err := startMonitor(config.Monitor.Listen, newMonitorMux(collector, hub), logger)
		if err != nil {
			return err
		}
		defer stop()

		options = append(options, scan.WithObserver(collector), scan.WithObserver(hub))
	}

	orchestrator = scan.New(analyzer, switches, options...)
	defer func() {
		_ = orchestrator.Close()
	}()

	err = orchestrator.Run(ctx, plan)

	var errs scan.ValidationErrors
	switch {
	case err == nil:
		return nil

	case errors.Is(err, scan.ErrAborted), errors.Is(err, context.Canceled):
		logger.Warn("scan aborted")
		return nil

	case errors.As(err, &errs):
		for _, e := range errs {
			logger.Error("invalid scan configuration", slog.String("field", e.Field), slog.String("reason", e.Message))
		}
		return errors.New("scan configuration rejected")

	default:
		return fmt.Errorf("scan failed: %w", err)
	}
}

func connectAnalyzer(ctx context.Context, config *AnalyzerConfig, logger *slog.Logger) (*pna.Analyzer, error) {
	options := []func(*pna.Analyzer){pna.WithLogger(logger.With(slog.String("component", "analyzer")))}
	if config.Timeout > 0 {
		options = append(options, pna.WithTimeout(config.Timeout.Duration()))
	}

	analyzer := pna.New(options...)
	if err := analyzer.Connect(ctx, config.Address); err != nil {
		return nil, fmt.Errorf("connecting analyzer: %w", err)
	}

	return analyzer, nil
}

func connectSwitches(ctx context.Context, config *SwitchConfig, logger *slog.Logger) (*testset.Switch, error) {
	options := []func(*testset.Switch){
		testset.WithPortRange(config.PortMin, config.PortMax),
		testset.WithLogger(logger.With(slog.String("component", "switches"))),
	}
	if config.Debounce > 0 {
		options = append(options, testset.WithDebounce(config.Debounce.Duration()))
	}

	switches := testset.New(options...)
	if err := switches.Connect(ctx, config.Address); err != nil {
		return nil, fmt.Errorf("connecting switch matrix: %w", err)
	}

	return switches, nil
}

func connectStage(config *MotionConfig, plan *scan.MotionPlan, logger *slog.Logger) (*motion.Controller, error) {
	options := []func(*motion.Controller){
		motion.WithDialer(motion.SerialDialer(config.BaudRate,
			motion.WithReplyTimeout(config.ReplyTimeout.Duration()))),
		motion.WithLogger(logger.With(slog.String("component", "motion"))),
	}
	if config.FeedRate > 0 {
		options = append(options, motion.WithFeedRate(config.FeedRate))
	}
	if config.PollInterval > 0 {
		options = append(options, motion.WithPollInterval(config.PollInterval.Duration()))
	}
	if config.MotionTimeout > 0 {
		options = append(options, motion.WithMotionTimeout(config.MotionTimeout.Duration()))
	}
	if config.ThreeAxis {
		options = append(options, motion.WithThreeAxis())
	}

	stage := motion.New(plan.Envelope(), options...)
	if err := stage.Connect(config.Port); err != nil {
		return nil, fmt.Errorf("connecting motion controller: %w", err)
	}
	if err := stage.Initialize(); err != nil {
		_ = stage.Close()
		return nil, fmt.Errorf("initializing motion controller: %w", err)
	}

	// The current position becomes the origin. Without it, the run is
	// rejected unless the origin is set by other means.
	if config.SetOrigin {
		if err := stage.SetOrigin(); err != nil {
			_ = stage.Close()
			return nil, fmt.Errorf("setting origin: %w", err)
		}
	}

	return stage, nil
}

func newMonitorMux(collector *metrics.Collector, hub *progress.Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.Handle("/progress", hub)
	mux.HandleFunc("/progress/last", func(w http.ResponseWriter, r *http.Request) {
		msg, ok := hub.Last()
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, msg)
	})

	return mux
}

func startMonitor(addr string, handler http.Handler, logger *slog.Logger) (stop func(), err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("starting monitor: %w", err)
	}

	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("monitor stopped", slog.String("error", err.Error()))
		}
	}()
	logger.Info("monitor listening", slog.String("address", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func closeLogged(c interface{ Close() error }, name string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error(fmt.Sprintf("closing %s", name), slog.String("error", err.Error()))
	}
}
