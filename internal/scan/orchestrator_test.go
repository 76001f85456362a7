package scan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/emscan/internal/geometry"
	"github.com/roman-kulish/emscan/internal/instrument"
	"github.com/roman-kulish/emscan/internal/motion"
	"github.com/roman-kulish/emscan/internal/switching"
)

type fakeAnalyzer struct {
	settings    instrument.Settings
	initialized int
	fired       int

	// short makes the n-th sweep (1-based) return one value too few.
	short int
}

func (a *fakeAnalyzer) Name() string { return "FAKE,PNA,0,1" }

func (a *fakeAnalyzer) Initialize(s instrument.Settings) error {
	a.settings = s
	a.initialized++
	return nil
}

func (a *fakeAnalyzer) Fire() (map[string]string, error) {
	a.fired++

	n := 2 * a.settings.NumPoints
	if a.fired == a.short {
		n--
	}
	values := make([]string, n)
	for i := range values {
		values[i] = strconv.Itoa(a.fired*100 + i)
	}

	out := make(map[string]string)
	for _, p := range a.settings.Measured() {
		out[p] = strings.Join(values, ",")
	}
	return out, nil
}

func (a *fakeAnalyzer) SetParameter(p instrument.Parameter, v float64) error {
	return a.settings.Set(p, v)
}

func (a *fakeAnalyzer) ReadRanges() (instrument.Ranges, error) {
	return instrument.Ranges{
		instrument.ParamNumPoints:   {Min: 1, Max: 16001},
		instrument.ParamIFBandwidth: {Min: 1, Max: 40000},
		instrument.ParamFreqStart:   {Min: 1e7, Max: 4e10},
		instrument.ParamFreqStop:    {Min: 1e7, Max: 4e10},
		instrument.ParamPower:       {Min: -27, Max: 20},
	}, nil
}

type fakeSwitch struct {
	pairs []switching.Pair
	tran  int
}

func (s *fakeSwitch) Initialize() error { return nil }

func (s *fakeSwitch) SetTransmit(port int) error {
	s.tran = port
	return nil
}

func (s *fakeSwitch) SetReceive(port int) error {
	s.pairs = append(s.pairs, switching.Pair{Transmit: s.tran, Receive: port})
	return nil
}

type fakeStage struct {
	originSet bool
	envelope  geometry.Envelope
	points    []geometry.Point
	index     int
	pos       geometry.Point
	moves     []geometry.Point

	failAt int
}

func (s *fakeStage) OriginSet() bool                 { return s.originSet }
func (s *fakeStage) SetEnvelope(e geometry.Envelope) { s.envelope = e }
func (s *fakeStage) Position() geometry.Point        { return s.pos }
func (s *fakeStage) Index() int                      { return s.index }

func (s *fakeStage) Load(points []geometry.Point) {
	s.points = points
	s.index = -1
}

func (s *fakeStage) NextPosition() error {
	if s.index+1 >= len(s.points) {
		return motion.ErrNoMorePositions
	}
	s.index++
	if s.failAt > 0 && s.index == s.failAt {
		return &motion.OutOfBoundsError{Target: s.points[s.index], InFlight: true}
	}
	return s.MoveTo(s.points[s.index])
}

func (s *fakeStage) MoveTo(p geometry.Point) error {
	s.moves = append(s.moves, p)
	s.pos = p
	return nil
}

type recorder struct {
	events  []Event
	onEvent func(Event)
}

func (r *recorder) HandleEvent(ev Event) {
	r.events = append(r.events, ev)
	if r.onEvent != nil {
		r.onEvent(ev)
	}
}

func (r *recorder) count(t EventType) int {
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (r *recorder) last(t EventType) Event {
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == t {
			return r.events[i]
		}
	}
	return Event{}
}

func testPlan(t *testing.T) Plan {
	t.Helper()

	return Plan{
		Name:        "run",
		OutputDir:   t.TempDir(),
		Description: "test",
		Settings: instrument.Settings{
			NumPoints:   3,
			IFBandwidth: 5000,
			FreqStart:   3e9,
			FreqStop:    5e9,
			Power:       0,
			Measure:     []string{"S21", "S11"},
		},
		PortMin: 1,
		PortMax: 3,
	}
}

type archive struct {
	Meta map[string]any `json:"meta"`
	Freq []float64      `json:"freq"`
	Data map[string]struct {
		Real []float64 `json:"real"`
		Imag []float64 `json:"imag"`
	} `json:"data"`
}

func readArchive(t *testing.T, path string) archive {
	t.Helper()

	p, err := os.ReadFile(path)
	require.NoError(t, err)

	var a archive
	require.NoError(t, json.Unmarshal(p, &a), "invalid JSON in %s:\n%s", path, p)
	return a
}

func newTestOrchestrator(t *testing.T, a *fakeAnalyzer, sw *fakeSwitch, options ...func(*Orchestrator)) *Orchestrator {
	t.Helper()

	clock := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	options = append([]func(*Orchestrator){WithClock(func() time.Time { return clock })}, options...)

	o := New(a, sw, options...)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func TestRunWithoutMotion(t *testing.T) {
	a, sw, rec := &fakeAnalyzer{}, &fakeSwitch{}, &recorder{}
	o := newTestOrchestrator(t, a, sw, WithObserver(rec))
	plan := testPlan(t)

	require.NoError(t, o.Run(context.Background(), plan))
	assert.Equal(t, StateIdle, o.State())

	want := []switching.Pair{{1, 2}, {1, 3}, {2, 1}, {2, 3}, {3, 1}, {3, 2}}
	assert.Equal(t, want, sw.pairs)
	assert.Equal(t, 1, a.initialized)

	root := filepath.Join(plan.OutputDir, "run_0")
	for _, param := range []string{"S11", "S21"} {
		arc := readArchive(t, filepath.Join(root, "pos0", param+".json"))
		assert.Equal(t, []float64{3e9, 4e9, 5e9}, arc.Freq)
		assert.Equal(t, param, arc.Meta["s_parameter"])
		assert.Equal(t, "2024-05-06", arc.Meta["date"])
		require.Len(t, arc.Data, 6)

		first := arc.Data["t1r2"]
		assert.Equal(t, []float64{100, 102, 104}, first.Real)
		assert.Equal(t, []float64{101, 103, 105}, first.Imag)
	}

	_, err := os.Stat(filepath.Join(root, "meta.json"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "pos1"))
	assert.True(t, os.IsNotExist(err))

	assert.Equal(t, 1, rec.count(EventRunStarted))
	assert.Equal(t, 6, rec.count(EventSweep))
	assert.Equal(t, OutcomeCompleted, rec.last(EventRunFinished).Outcome)
	assert.Equal(t, 6, rec.last(EventSweep).PairsMeasured)
}

func TestTickStates(t *testing.T) {
	a, sw := &fakeAnalyzer{}, &fakeSwitch{}
	o := newTestOrchestrator(t, a, sw)
	plan := testPlan(t)
	plan.PortMax = 2

	ctx := context.Background()
	require.NoError(t, o.Start(ctx, plan))
	assert.Equal(t, StateScanning, o.State())
	assert.True(t, errors.Is(o.Start(ctx, plan), ErrBusy))

	steps := []State{
		StatePairFinished, // t1r2 measured
		StateScanning,
		StatePairFinished, // t2r1 measured
		StatePositionFinished,
		StateIdle,
	}
	for i, want := range steps {
		require.NoError(t, o.Tick(ctx), "tick %d", i)
		assert.Equal(t, want, o.State(), "tick %d", i)
	}

	require.NoError(t, o.Tick(ctx))
	assert.Equal(t, StateIdle, o.State())
}

func TestRunWithMotion(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "positions.csv")
	require.NoError(t, os.WriteFile(list, []byte("10,0\n0,10\n"), 0o644))

	a, sw, st, rec := &fakeAnalyzer{}, &fakeSwitch{}, &fakeStage{originSet: true}, &recorder{}
	o := newTestOrchestrator(t, a, sw, WithStage(st), WithObserver(rec))

	plan := testPlan(t)
	plan.PortMax = 2
	plan.Motion = &MotionPlan{
		Radius:   120,
		Padding:  20,
		Target:   geometry.Target{Shape: geometry.ShapeCircular, Radius: 20},
		Source:   SourceList,
		ListFile: list,
	}

	require.NoError(t, o.Run(context.Background(), plan))

	assert.Equal(t, []geometry.Point{geometry.Pt(10, 0), geometry.Pt(0, 10), geometry.Origin}, st.moves)
	assert.Equal(t, 80.0, st.envelope.SafeRadius())
	assert.Equal(t, 2, rec.count(EventPositionStarted))

	root := filepath.Join(plan.OutputDir, "run_0")
	arc0 := readArchive(t, filepath.Join(root, "pos0", "S21.json"))
	arc1 := readArchive(t, filepath.Join(root, "pos1", "S21.json"))
	assert.Equal(t, 10.0, arc0.Meta["posx"])
	assert.Equal(t, 10.0, arc1.Meta["posy"])
	assert.Len(t, arc0.Data, 2)
	assert.Len(t, arc1.Data, 2)
}

func TestRunMotionFault(t *testing.T) {
	a, sw, st := &fakeAnalyzer{}, &fakeSwitch{}, &fakeStage{originSet: true, failAt: 1}
	o := newTestOrchestrator(t, a, sw, WithStage(st))

	plan := testPlan(t)
	plan.PortMax = 2
	plan.Motion = &MotionPlan{
		Radius:  120,
		Padding: 20,
		Target:  geometry.Target{Shape: geometry.ShapeCircular, Radius: 20},
		Source:  SourceUniform,
		Count:   3,
		Seed:    1,
	}

	err := o.Run(context.Background(), plan)

	var f *Fault
	require.True(t, errors.As(err, &f))
	assert.Equal(t, KindOutOfBounds, f.Kind)
	assert.Equal(t, StateIdle, o.State())

	// The first position completed and remains valid.
	arc := readArchive(t, filepath.Join(plan.OutputDir, "run_0", "pos0", "S11.json"))
	assert.Len(t, arc.Data, 2)
}

func TestRunMissingDataAborts(t *testing.T) {
	a, sw, rec := &fakeAnalyzer{short: 3}, &fakeSwitch{}, &recorder{}
	o := newTestOrchestrator(t, a, sw, WithObserver(rec))
	plan := testPlan(t)

	err := o.Run(context.Background(), plan)

	var f *Fault
	require.True(t, errors.As(err, &f))
	assert.Equal(t, KindMissingData, f.Kind)
	assert.Equal(t, StateIdle, o.State())
	assert.Equal(t, 3, a.fired)

	arc := readArchive(t, filepath.Join(plan.OutputDir, "run_0", "pos0", "S21.json"))
	assert.Len(t, arc.Data, 2)

	assert.Equal(t, 1, rec.count(EventFault))
	assert.Equal(t, OutcomeFaulted, rec.last(EventRunFinished).Outcome)
}

func TestAbort(t *testing.T) {
	a, sw, rec := &fakeAnalyzer{}, &fakeSwitch{}, &recorder{}
	o := newTestOrchestrator(t, a, sw, WithObserver(rec))
	rec.onEvent = func(ev Event) {
		if ev.Type == EventSweep && ev.PairsMeasured == 2 {
			o.Abort()
		}
	}
	plan := testPlan(t)

	err := o.Run(context.Background(), plan)
	assert.True(t, errors.Is(err, ErrAborted))
	assert.Equal(t, 2, a.fired)
	assert.Equal(t, StateIdle, o.State())

	arc := readArchive(t, filepath.Join(plan.OutputDir, "run_0", "pos0", "S11.json"))
	assert.Len(t, arc.Data, 2)
	assert.Equal(t, OutcomeAborted, rec.last(EventRunFinished).Outcome)

	// The next run starts cleanly.
	a.fired = 0
	require.NoError(t, o.Run(context.Background(), plan))
	assert.Equal(t, 6, a.fired)
}

func TestCancelledContextAborts(t *testing.T) {
	a, sw := &fakeAnalyzer{}, &fakeSwitch{}
	o := newTestOrchestrator(t, a, sw)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, o.Start(ctx, testPlan(t)))
	require.NoError(t, o.Tick(ctx))
	cancel()

	require.NoError(t, o.Tick(ctx))
	assert.Equal(t, StateIdle, o.State())
	assert.Equal(t, 1, a.fired)
}

func TestStartValidation(t *testing.T) {
	a, sw := &fakeAnalyzer{}, &fakeSwitch{}
	st := &fakeStage{}
	o := newTestOrchestrator(t, a, sw, WithStage(st))

	plan := testPlan(t)
	plan.OutputDir = filepath.Join(plan.OutputDir, "missing")
	plan.Settings.FreqStart = 6e9
	plan.Settings.Power = 30
	plan.Settings.Measure = []string{"S33"}
	plan.Motion = &MotionPlan{
		Radius:   0.5,
		Padding:  20,
		Target:   geometry.Target{Shape: geometry.ShapeRectangular, Length: 10},
		Source:   SourceList,
		ListFile: "positions.txt",
	}

	err := o.Start(context.Background(), plan)

	var f *Fault
	require.True(t, errors.As(err, &f))
	assert.Equal(t, KindValidation, f.Kind)

	var errs ValidationErrors
	require.True(t, errors.As(err, &errs))
	for _, field := range []string{"power", "freq_start", "s_parameters", "output_dir", "origin", "radius", "target", "position_list"} {
		assert.True(t, errs.Has(field), "expected %s to be rejected in %v", field, errs)
	}
	assert.False(t, errs.Has("padding"))

	assert.Equal(t, StateIdle, o.State())
	assert.Zero(t, a.initialized)
	assert.Nil(t, st.points)
}

func TestStartRejectsUnreachablePositions(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "positions.csv")
	require.NoError(t, os.WriteFile(list, []byte("10,0\n90,0\n"), 0o644))

	a, sw := &fakeAnalyzer{}, &fakeSwitch{}
	o := newTestOrchestrator(t, a, sw, WithStage(&fakeStage{originSet: true}))

	plan := testPlan(t)
	plan.Motion = &MotionPlan{
		Radius:   120,
		Padding:  20,
		Target:   geometry.Target{Shape: geometry.ShapeCircular, Radius: 20},
		Source:   SourceList,
		ListFile: list,
	}

	var errs ValidationErrors
	require.True(t, errors.As(o.Start(context.Background(), plan), &errs))
	assert.True(t, errs.Has("positions"))
	assert.Zero(t, a.initialized)
}

func TestStartRejectsUnknownSParameters(t *testing.T) {
	a, sw := &fakeAnalyzer{}, &fakeSwitch{}
	o := newTestOrchestrator(t, a, sw)

	plan := testPlan(t)
	plan.Settings.Measure = []string{"S21", "s11", "S99"}

	var errs ValidationErrors
	require.True(t, errors.As(o.Start(context.Background(), plan), &errs))

	var messages []string
	for _, e := range errs {
		if e.Field == "s_parameters" {
			messages = append(messages, e.Message)
		}
	}
	require.Len(t, messages, 2, "%v", errs)
	assert.Contains(t, messages[0], "'s11'")
	assert.Contains(t, messages[1], "'S99'")
	assert.Zero(t, a.initialized)
}

func TestStartRejectsVolumePositionsOnPlanarStage(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "positions.csv")
	require.NoError(t, os.WriteFile(list, []byte("10,10,5\n"), 0o644))

	a, sw, st := &fakeAnalyzer{}, &fakeSwitch{}, &fakeStage{originSet: true}
	o := newTestOrchestrator(t, a, sw, WithStage(st))

	plan := testPlan(t)
	plan.Motion = &MotionPlan{
		Radius:    120,
		Padding:   20,
		Target:    geometry.Target{Shape: geometry.ShapeCircular, Radius: 20},
		Source:    SourceList,
		ListFile:  list,
		Dimension: 3,
	}

	var errs ValidationErrors
	require.True(t, errors.As(o.Start(context.Background(), plan), &errs))
	assert.True(t, errs.Has("dimension"))
	assert.Nil(t, st.points)

	plan.Motion.ThreeAxis = true
	require.NoError(t, o.Run(context.Background(), plan))
	assert.Equal(t, geometry.Point{X: 10, Y: 10, Z: 5}, st.moves[0])
}

func TestStartWarnsWhenFewerPositionsGenerated(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	a, sw, st := &fakeAnalyzer{}, &fakeSwitch{}, &fakeStage{originSet: true}
	o := newTestOrchestrator(t, a, sw, WithStage(st), WithLogger(logger))

	plan := testPlan(t)
	plan.PortMax = 2
	plan.Motion = &MotionPlan{
		Radius:  120,
		Padding: 20,
		Target:  geometry.Target{Shape: geometry.ShapeCircular, Radius: 20},
		Source:  SourceUniform,
		Count:   10,
		Seed:    3,

		// Wider than the safe area, so only the first point fits.
		MinSeparation: 500,
		MaxAttempts:   50,
	}

	require.NoError(t, o.Run(context.Background(), plan))
	assert.Len(t, st.points, 1)
	assert.Contains(t, logs.String(), "fewer positions generated than requested")
	assert.Contains(t, logs.String(), "requested=10")
	assert.Contains(t, logs.String(), "generated=1")
}

func TestStartMotionWithoutStage(t *testing.T) {
	o := newTestOrchestrator(t, &fakeAnalyzer{}, &fakeSwitch{})

	plan := testPlan(t)
	plan.Motion = &MotionPlan{Radius: 120, Padding: 20}

	var f *Fault
	require.True(t, errors.As(o.Start(context.Background(), plan), &f))
	assert.Equal(t, KindValidation, f.Kind)
}

func TestProgress(t *testing.T) {
	a, sw := &fakeAnalyzer{}, &fakeSwitch{}
	o := newTestOrchestrator(t, a, sw)

	assert.Equal(t, Progress{State: StateIdle}, o.Progress())

	ctx := context.Background()
	require.NoError(t, o.Start(ctx, testPlan(t)))
	for i := 0; i < 6; i++ { // three pairs measured and advanced
		require.NoError(t, o.Tick(ctx))
	}

	p := o.Progress()
	assert.NotEmpty(t, p.RunID)
	assert.Equal(t, StateScanning, p.State)
	assert.Equal(t, switching.Pair{Transmit: 2, Receive: 3}, p.Pair)
	assert.Equal(t, 3, p.PairsMeasured)
	assert.Equal(t, 6, p.PairsPerCycle)
	assert.Equal(t, []int{1}, p.PortsComplete)
	assert.Equal(t, 1, p.PositionCount)
}
