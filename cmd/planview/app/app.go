package app

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"

	"github.com/roman-kulish/emscan/internal/geometry"
	"github.com/roman-kulish/emscan/internal/instrument"
	"github.com/roman-kulish/emscan/internal/positions"
	"github.com/roman-kulish/emscan/internal/storage"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	plan, err := loadPlan(ctx, config, logger)
	if err != nil {
		return err
	}

	renderer := NewPlanRenderer(RenderConfig{
		Size:          config.Size,
		ColorTheme:    config.Theme,
		NoAnnotations: config.NoAnnotations,
	})

	logger.Info("rendering plan",
		slog.Group("image",
			slog.String("destination", config.OutputFile),
			slog.String("format", string(config.Format)),
			slog.String("theme", string(config.Theme)),
			slog.Int("size", config.Size),
		),
		slog.Int("positions", len(plan.Points)),
		slog.Float64("safeRadius", plan.Envelope.SafeRadius()),
		slog.Float64("pathLength", positions.PathLength(plan.Points)),
	)

	img, err := renderer.Render(plan)
	if err != nil {
		return fmt.Errorf("rendering plan: %w", err)
	}

	out, err := os.Create(config.OutputFile)
	if err != nil {
		return err
	}
	if err = encodeImage(out, img, config.Format); err != nil {
		_ = out.Close()
		return fmt.Errorf("encoding image: %w", err)
	}
	return out.Close()
}

func loadPlan(ctx context.Context, config *Config, logger *slog.Logger) (*PlanData, error) {
	motion := config.MotionPlan()
	plan := PlanData{Envelope: motion.Envelope()}

	if config.LedgerPath == "" {
		points, err := motion.Positions()
		if err != nil {
			return nil, fmt.Errorf("producing positions: %w", err)
		}
		plan.Points = points
		return &plan, nil
	}

	if _, err := os.Stat(config.LedgerPath); err != nil && os.IsNotExist(err) {
		return nil, fmt.Errorf("ledger file '%s' does not exist: %w", config.LedgerPath, err)
	}

	store := storage.NewSqliteStore(config.LedgerPath)
	defer store.Close()

	if err := readRun(ctx, store, config.RunID, &plan); err != nil {
		return nil, err
	}

	logger.Info("read run from the ledger",
		slog.String("runId", plan.RunID),
		slog.Int("positions", len(plan.Points)))

	return &plan, nil
}

// readRun fills the plan with the positions a recorded run visited.
func readRun(ctx context.Context, store storage.Store, runID string, plan *PlanData) error {
	run, err := store.Run(ctx, runID)
	if err != nil {
		return fmt.Errorf("reading run %s: %w", runID, err)
	}

	visited, err := store.Positions(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("reading positions of run %s: %w", run.ID, err)
	}

	plan.RunID = run.ID
	plan.Points = make([]geometry.Point, 0, len(visited))
	for _, p := range visited {
		plan.Points = append(plan.Points, p.Point)
	}

	if run.Config != nil {
		var settings instrument.Settings
		if err = json.Unmarshal([]byte(*run.Config), &settings); err != nil {
			return fmt.Errorf("decoding configuration of run %s: %w", run.ID, err)
		}
		plan.FreqStart, plan.FreqStop = settings.FreqStart, settings.FreqStop
	}
	return nil
}

func encodeImage(w io.Writer, img image.Image, format ImageFormat) error {
	switch format {
	case ImageJPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 98})
	default:
		return png.Encode(w, img)
	}
}
