package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/roman-kulish/emscan/internal/geometry"
	"github.com/roman-kulish/emscan/internal/instrument"
	"github.com/roman-kulish/emscan/internal/output"
	"github.com/roman-kulish/emscan/internal/sweep"
	"github.com/roman-kulish/emscan/internal/switching"
)

const (
	StateIdle             State = "idle"
	StateScanning         State = "scanning"
	StatePairFinished     State = "pair_finished"
	StatePositionFinished State = "position_finished"
	StateAborting         State = "aborting"
)

// State is the orchestrator state.
type State string

func (s State) String() string {
	return string(s)
}

// Analyzer measures S-parameters.
type Analyzer interface {
	Name() string
	Initialize(s instrument.Settings) error
	Fire() (map[string]string, error)
	SetParameter(p instrument.Parameter, v float64) error
	ReadRanges() (instrument.Ranges, error)
}

// SwitchMatrix routes the analyzer to a transmit and a receive port.
type SwitchMatrix interface {
	Initialize() error
	SetTransmit(port int) error
	SetReceive(port int) error
}

// Stage positions the target.
type Stage interface {
	OriginSet() bool
	SetEnvelope(e geometry.Envelope)
	Load(points []geometry.Point)
	NextPosition() error
	MoveTo(p geometry.Point) error
	Position() geometry.Point
	Index() int
}

// WithStage enables positioning with stage.
func WithStage(stage Stage) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.stage = stage
	}
}

// WithObserver adds an observer of run events.
func WithObserver(observer Observer) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.observers = append(o.observers, observer)
	}
}

// WithWriter replaces the output writer.
func WithWriter(w *output.Writer) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.writer = w
	}
}

// WithLogger sets the logger used by the Orchestrator.
func WithLogger(logger *slog.Logger) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithClock replaces the time source used for timestamps.
func WithClock(now func() time.Time) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// Session is the state of the run in progress.
type Session struct {
	ID         string
	Plan       Plan
	Root       string
	VNAName    string
	Freqs      []float64
	Parameters []string
	Positions  []geometry.Point
	Position   int
	Started    time.Time
	Fault      *Fault

	seq     *switching.Sequencer
	aborted bool
}

// Progress is a point-in-time view of a run.
type Progress struct {
	RunID         string         `json:"run_id,omitempty"`
	State         State          `json:"state"`
	Position      int            `json:"position"`
	PositionCount int            `json:"position_count"`
	Pair          switching.Pair `json:"pair"`
	PairsMeasured int            `json:"pairs_measured"`
	PairsPerCycle int            `json:"pairs_per_cycle"`
	PortsComplete []int          `json:"ports_complete"`
	Fault         string         `json:"fault,omitempty"`
}

// Orchestrator sequences a scan: for every position, every port pair is
// switched in, measured and streamed to disk. It is driven by Tick, each call
// performing one bounded step, so that a caller can interleave other work.
// Blocking hardware calls run on a background worker.
type Orchestrator struct {
	analyzer  Analyzer
	switches  SwitchMatrix
	stage     Stage
	writer    *output.Writer
	observers []Observer

	worker *worker
	abort  atomic.Bool

	mu      sync.Mutex
	state   State
	session *Session

	now    func() time.Time
	logger *slog.Logger
}

// New creates an idle Orchestrator.
func New(analyzer Analyzer, switches SwitchMatrix, options ...func(*Orchestrator)) *Orchestrator {
	o := Orchestrator{
		analyzer: analyzer,
		switches: switches,
		state:    StateIdle,
		now:      time.Now,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&o)
	}

	if o.writer == nil {
		o.writer = output.NewWriter(output.WithLogger(o.logger))
	}
	o.worker = newWorker()

	return &o
}

// Close stops the background worker. The orchestrator must be idle.
func (o *Orchestrator) Close() error {
	if o.State() != StateIdle {
		return ErrBusy
	}
	o.worker.stop()
	return nil
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.state
}

// Progress returns a snapshot of the run in progress.
func (o *Orchestrator) Progress() Progress {
	o.mu.Lock()
	defer o.mu.Unlock()

	p := Progress{State: o.state}
	if s := o.session; s != nil {
		p.RunID = s.ID
		p.Position = s.Position
		p.PositionCount = len(s.Positions)
		p.Pair = s.seq.Current()
		p.PairsMeasured = s.seq.Measured()
		p.PairsPerCycle = s.seq.PairsPerCycle()
		p.PortsComplete = s.seq.PortsComplete()
		if s.Fault != nil {
			p.Fault = s.Fault.Error()
		}
	}
	return p
}

// Abort requests the run to stop at the next tick. A hardware call in
// progress completes first.
func (o *Orchestrator) Abort() {
	o.abort.Store(true)
}

// Run starts a run and ticks it to completion. It returns the fault that
// ended the run, ErrAborted when it was aborted on request, or nil.
func (o *Orchestrator) Run(ctx context.Context, plan Plan) error {
	if err := o.Start(ctx, plan); err != nil {
		return err
	}

	var fault error
	for o.State() != StateIdle {
		if err := o.Tick(ctx); err != nil && fault == nil {
			fault = err
		}
	}
	if fault != nil {
		return fault
	}

	o.mu.Lock()
	aborted := o.session != nil && o.session.aborted
	o.mu.Unlock()
	if aborted {
		return ErrAborted
	}

	return nil
}

// Start validates the plan, prepares the hardware and the output directory
// and enters the scanning state. A validation failure is returned as
// ValidationErrors and leaves the orchestrator idle and the hardware untouched.
func (o *Orchestrator) Start(ctx context.Context, plan Plan) (err error) {
	if o.State() != StateIdle {
		return ErrBusy
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	o.abort.Store(false)

	if plan.Motion != nil && o.stage == nil {
		return &Fault{Kind: KindValidation, Op: "start", Err: ValidationErrors{{Field: "motion", Message: "no motion controller configured"}}}
	}

	ranges, err := call(o.worker, o.analyzer.ReadRanges)
	if err != nil {
		return newFault("reading analyzer ranges", err)
	}

	originSet := o.stage != nil && o.stage.OriginSet()
	if errs := Validate(&plan, ranges, originSet); len(errs) > 0 {
		return &Fault{Kind: KindValidation, Op: "start", Err: errs}
	}

	points := []geometry.Point{geometry.Origin}
	if plan.Motion != nil {
		if points, err = plan.Motion.Positions(); err != nil {
			return &Fault{Kind: KindValidation, Op: "start", Err: ValidationErrors{{Field: "position_list", Message: err.Error()}}}
		}
		if len(points) == 0 {
			return &Fault{Kind: KindValidation, Op: "start", Err: ValidationErrors{{Field: "positions", Message: "no positions to visit"}}}
		}
		if m := plan.Motion; m.Source != SourceList && len(points) < m.Count {
			o.logger.Warn("fewer positions generated than requested",
				slog.Int("requested", m.Count),
				slog.Int("generated", len(points)),
				slog.Float64("min_separation", m.MinSeparation))
		}
		env := plan.Motion.Envelope()
		var unreachable ValidationErrors
		for i, p := range points {
			if !env.IsReachable(p) {
				unreachable.add("positions", "position %d %v is outside the safe radius %.3f", i, p, env.SafeRadius())
			}
			if p.Z != 0 && !plan.Motion.ThreeAxis {
				unreachable.add("positions", "position %d %v is off the Z=0 plane of a planar stage", i, p)
			}
		}
		if len(unreachable) > 0 {
			return &Fault{Kind: KindValidation, Op: "start", Err: unreachable}
		}
	}

	min, max := plan.portRange()
	seq, err := switching.New(min, max)
	if err != nil {
		return &Fault{Kind: KindValidation, Op: "start", Err: err}
	}

	s := Session{
		ID:         uuid.NewString(),
		Plan:       plan,
		Freqs:      sweep.FrequencyList(plan.Settings.FreqStart, plan.Settings.FreqStop, plan.Settings.NumPoints),
		Parameters: plan.Settings.Measured(),
		Positions:  points,
		Started:    o.now(),
		seq:        seq,
	}

	defer func() {
		if err != nil {
			_ = o.writer.CloseAll()
			o.publish(Event{Type: EventFault, RunID: s.ID, Fault: asFault(err)})
		}
	}()

	if err = do(o.worker, func() error { return o.analyzer.Initialize(plan.Settings) }); err != nil {
		return newFault("initializing analyzer", err)
	}
	s.VNAName = o.analyzer.Name()

	if err = do(o.worker, o.switches.Initialize); err != nil {
		return newFault("initializing switch matrix", err)
	}

	if plan.Motion != nil {
		o.stage.SetEnvelope(plan.Motion.Envelope())
		o.stage.Load(points)
		if err = do(o.worker, o.stage.NextPosition); err != nil {
			return newFault("moving to first position", err)
		}
	}

	if s.Root, err = o.writer.InitRoot(plan.OutputDir, plan.Name); err != nil {
		return &Fault{Kind: KindOutput, Op: "creating output root", Err: err}
	}

	meta := output.RunMeta{
		RunID:       s.ID,
		FreqStart:   plan.Settings.FreqStart,
		FreqStop:    plan.Settings.FreqStop,
		IFBandwidth: plan.Settings.IFBandwidth,
		NumPoints:   plan.Settings.NumPoints,
		Power:       plan.Settings.Power,
		Parameters:  s.Parameters,
		PortMin:     min,
		PortMax:     max,
		VNAName:     s.VNAName,
		Description: plan.Description,
	}
	if plan.Motion != nil {
		meta.Positions = points
	}
	meta.Stamp(s.Started)
	if err = o.writer.WriteRunMeta(meta); err != nil {
		return &Fault{Kind: KindOutput, Op: "writing run metadata", Err: err}
	}

	if err = o.openPosition(&s); err != nil {
		return err
	}

	o.mu.Lock()
	o.session = &s
	o.state = StateScanning
	o.mu.Unlock()

	o.logger.Info("scan started",
		slog.String("run", s.ID),
		slog.String("root", s.Root),
		slog.Int("positions", len(points)),
		slog.Int("pairs_per_position", seq.PairsPerCycle()),
		slog.String("freq_start", FormatHz(plan.Settings.FreqStart)),
		slog.String("freq_stop", FormatHz(plan.Settings.FreqStop)))

	o.publish(Event{Type: EventRunStarted, Run: o.runInfo(&s)})
	o.publishPosition(&s)

	return nil
}

// Tick performs one step of the run. It returns the fault raised during the
// step, if any; the run is then aborting and further ticks return it to idle.
func (o *Orchestrator) Tick(ctx context.Context) error {
	o.mu.Lock()
	state, s := o.state, o.session
	o.mu.Unlock()

	if state == StateIdle {
		return nil
	}
	if state != StateAborting && (o.abort.Load() || ctx.Err() != nil) {
		s.aborted = true
		o.setState(StateAborting)
		state = StateAborting
		o.logger.Warn("scan abort requested", slog.String("run", s.ID))
	}

	switch state {
	case StateScanning:
		return o.measurePair(s)
	case StatePairFinished:
		o.advancePair(s)
	case StatePositionFinished:
		return o.finishPosition(s)
	case StateAborting:
		o.finishAbort(s)
	}

	return nil
}

func (o *Orchestrator) measurePair(s *Session) error {
	pair := s.seq.Current()
	started := o.now()

	raw, err := call(o.worker, func() (map[string]string, error) {
		if err := o.switches.SetTransmit(pair.Transmit); err != nil {
			return nil, err
		}
		if err := o.switches.SetReceive(pair.Receive); err != nil {
			return nil, err
		}
		return o.analyzer.Fire()
	})
	if err != nil {
		return o.fail(s, newFault("measuring "+pair.Key(), err))
	}

	results := make(map[string]*sweep.Result, len(s.Parameters))
	for _, param := range s.Parameters {
		r, err := sweep.Convert(raw[param], s.Freqs)
		if err != nil {
			return o.fail(s, newFault(fmt.Sprintf("converting %s %s", param, pair.Key()), err))
		}
		results[param] = r
	}

	isLast := s.seq.IsLast(pair)
	for _, param := range s.Parameters {
		r := results[param]
		if err = o.writer.WriteSweep(param, pair.Transmit, pair.Receive, r.Real, r.Imag, isLast); err != nil {
			return o.fail(s, &Fault{Kind: KindOutput, Op: "writing " + param, Err: err})
		}
	}

	o.setState(StatePairFinished)
	o.publish(Event{
		Type:          EventSweep,
		RunID:         s.ID,
		PositionIndex: s.Position,
		PositionCount: len(s.Positions),
		Pair:          pair,
		Parameters:    s.Parameters,
		SweepDuration: o.now().Sub(started),
		PairsMeasured: s.seq.Measured() + 1,
		PairsPerCycle: s.seq.PairsPerCycle(),
		PortsComplete: s.seq.PortsComplete(),
	})

	return nil
}

func (o *Orchestrator) advancePair(s *Session) {
	o.mu.Lock()
	_, complete := s.seq.Advance()
	o.mu.Unlock()

	if complete {
		o.setState(StatePositionFinished)
		return
	}
	o.setState(StateScanning)
}

func (o *Orchestrator) finishPosition(s *Session) error {
	if err := o.writer.CloseAll(); err != nil {
		return o.fail(s, &Fault{Kind: KindOutput, Op: "closing position files", Err: err})
	}

	o.logger.Info("position complete",
		slog.String("run", s.ID),
		slog.Int("position", s.Position),
		slog.Int("of", len(s.Positions)))

	if s.Plan.Motion == nil || s.Position+1 >= len(s.Positions) {
		return o.finishRun(s)
	}

	if err := do(o.worker, o.stage.NextPosition); err != nil {
		return o.fail(s, newFault("moving to next position", err))
	}

	o.mu.Lock()
	s.Position++
	s.seq.Reset()
	o.mu.Unlock()

	if err := o.openPosition(s); err != nil {
		return o.fail(s, asFault(err))
	}

	o.setState(StateScanning)
	o.publishPosition(s)

	return nil
}

func (o *Orchestrator) finishRun(s *Session) error {
	if s.Plan.Motion != nil {
		if err := do(o.worker, func() error { return o.stage.MoveTo(geometry.Origin) }); err != nil {
			return o.fail(s, newFault("returning to origin", err))
		}
	}

	o.setState(StateIdle)
	o.logger.Info("scan complete", slog.String("run", s.ID), slog.String("root", s.Root))
	o.publish(Event{Type: EventRunFinished, RunID: s.ID, Run: o.runInfo(s), Outcome: OutcomeCompleted})

	return nil
}

func (o *Orchestrator) finishAbort(s *Session) {
	if err := o.writer.CloseAll(); err != nil {
		o.logger.Error("closing output files", slog.String("run", s.ID), slog.String("error", err.Error()))
	}

	o.mu.Lock()
	s.seq.Reset()
	o.mu.Unlock()

	outcome := OutcomeAborted
	if s.Fault != nil {
		outcome = OutcomeFaulted
	}

	o.setState(StateIdle)
	o.abort.Store(false)
	o.logger.Warn("scan stopped", slog.String("run", s.ID), slog.String("outcome", string(outcome)))
	o.publish(Event{Type: EventRunFinished, RunID: s.ID, Run: o.runInfo(s), Outcome: outcome, Fault: s.Fault})
}

// openPosition creates the position directory and opens one file per parameter.
func (o *Orchestrator) openPosition(s *Session) error {
	if _, err := o.writer.NewPositionDir(); err != nil {
		return &Fault{Kind: KindOutput, Op: "creating position directory", Err: err}
	}

	pos := s.Positions[s.Position]
	if s.Plan.Motion != nil {
		pos = o.stage.Position()
	}

	settings := output.Settings{
		FreqStart:   s.Plan.Settings.FreqStart,
		FreqStop:    s.Plan.Settings.FreqStop,
		IFBandwidth: s.Plan.Settings.IFBandwidth,
		NumPoints:   s.Plan.Settings.NumPoints,
		Power:       s.Plan.Settings.Power,
	}
	now := o.now()
	for _, param := range s.Parameters {
		meta := output.NewMeta(param, settings, s.VNAName, s.Plan.Description, pos, now)
		if err := o.writer.OpenParameter(param, meta, s.Freqs); err != nil {
			return &Fault{Kind: KindOutput, Op: "opening " + param, Err: err}
		}
	}

	return nil
}

// fail records the fault and moves the run to aborting.
func (o *Orchestrator) fail(s *Session, f *Fault) error {
	o.mu.Lock()
	s.Fault = f
	o.state = StateAborting
	o.mu.Unlock()

	o.logger.Error("scan fault",
		slog.String("run", s.ID),
		slog.String("kind", string(f.Kind)),
		slog.String("error", f.Error()))
	o.publish(Event{Type: EventFault, RunID: s.ID, PositionIndex: s.Position, Fault: f})

	return f
}

func (o *Orchestrator) setState(state State) {
	o.mu.Lock()
	o.state = state
	o.mu.Unlock()
}

func (o *Orchestrator) publishPosition(s *Session) {
	o.publish(Event{
		Type:          EventPositionStarted,
		RunID:         s.ID,
		PositionIndex: s.Position,
		PositionCount: len(s.Positions),
		Position:      s.Positions[s.Position],
		PairsPerCycle: s.seq.PairsPerCycle(),
	})
}

func (o *Orchestrator) publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = o.now()
	}
	ev.State = o.State()

	for _, observer := range o.observers {
		observer.HandleEvent(ev)
	}
}

func (o *Orchestrator) runInfo(s *Session) *RunInfo {
	min, max := s.Plan.portRange()
	return &RunInfo{
		ID:          s.ID,
		Name:        s.Plan.Name,
		Root:        s.Root,
		VNAName:     s.VNAName,
		Description: s.Plan.Description,
		Parameters:  s.Parameters,
		PortMin:     min,
		PortMax:     max,
		Positions:   s.Positions,
		Started:     s.Started,
		Config:      s.Plan.Settings,
	}
}

func asFault(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return newFault("start", err)
}
