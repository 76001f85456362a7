// Package pna drives a PNA series vector network analyzer, such as the
// E8363B, over SCPI.
package pna

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/roman-kulish/emscan/internal/instrument"
	"github.com/roman-kulish/emscan/internal/instrument/scpi"
)

// ErrNotConnected is returned by operations that need an open session.
var ErrNotConnected = errors.New("analyzer not connected")

// WithDialer replaces the SCPI socket dialer.
func WithDialer(dial instrument.DialFunc) func(*Analyzer) {
	return func(a *Analyzer) {
		a.dial = dial
	}
}

// WithLogger sets the logger used by the Analyzer.
func WithLogger(logger *slog.Logger) func(*Analyzer) {
	return func(a *Analyzer) {
		a.logger = logger
	}
}

// WithTimeout sets the per-exchange timeout of the default dialer.
func WithTimeout(d time.Duration) func(*Analyzer) {
	return func(a *Analyzer) {
		a.timeout = d
	}
}

// Analyzer is a single-channel S-parameter measurement session. Measurement
// parameters are defined with a "parameter_" prefixed name, one per
// S-parameter, so they can be selected individually after a sweep.
type Analyzer struct {
	dial    instrument.DialFunc
	t       instrument.Transport
	timeout time.Duration

	name        string
	settings    instrument.Settings
	initialized bool

	logger *slog.Logger
}

// New creates an Analyzer.
func New(options ...func(*Analyzer)) *Analyzer {
	a := Analyzer{
		timeout: scpi.DefaultTimeout,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&a)
	}

	if a.dial == nil {
		a.dial = func(ctx context.Context, resource string) (instrument.Transport, error) {
			return scpi.Dial(ctx, resource, scpi.WithTimeout(a.timeout), scpi.WithLogger(a.logger))
		}
	}

	return &a
}

// Connect opens a session with the analyzer and identifies it.
func (a *Analyzer) Connect(ctx context.Context, resource string) error {
	if a.t != nil {
		_ = a.t.Close()
		a.t = nil
	}

	t, err := a.dial(ctx, resource)
	if err != nil {
		return &instrument.ConnectionError{Resource: resource, Err: err}
	}

	name, err := t.Query("*IDN?")
	if err != nil {
		_ = t.Close()
		return &instrument.ConnectionError{Resource: resource, Err: fmt.Errorf("identifying analyzer: %w", err)}
	}

	a.t = t
	a.name = name
	a.initialized = false
	a.logger.Info("analyzer connected", slog.String("resource", resource), slog.String("idn", name))

	return nil
}

// Name returns the identification string reported by the analyzer.
func (a *Analyzer) Name() string {
	return a.name
}

// Settings returns the last applied or staged settings.
func (a *Analyzer) Settings() instrument.Settings {
	return a.settings
}

// Initialize presets the analyzer and applies s: display off, every
// S-parameter defined, manual single sweeps, linear frequency sweep.
func (a *Analyzer) Initialize(s instrument.Settings) error {
	if a.t == nil {
		return ErrNotConnected
	}

	name, err := a.query("*IDN?")
	if err != nil {
		return err
	}
	a.name = name

	cmds := []string{"SYSTEM:FPRESET", "DISPLAY:VISIBLE OFF"}
	for _, p := range instrument.SParameters {
		cmds = append(cmds, fmt.Sprintf("CALCULATE1:PARAMETER:DEFINE '%s', %s", measurementName(p), p))
	}
	cmds = append(cmds, triggerSetup...)
	cmds = append(cmds,
		"SENSE1:SWEEP:POINTS "+strconv.Itoa(s.NumPoints),
		"SENSE1:BANDWIDTH "+formatFloat(s.IFBandwidth),
		"SENSE1:FREQUENCY:START "+formatFloat(s.FreqStart),
		"SENSE1:FREQUENCY:STOP "+formatFloat(s.FreqStop),
		"SOURCE1:POWER1 "+formatFloat(s.Power)+"DBM",
	)

	if err = a.writeAll(cmds); err != nil {
		return err
	}

	a.settings = s
	a.initialized = true

	return nil
}

// SetParameter changes a single sweep setting. The value is applied to the
// instrument immediately when it has been initialized, and staged otherwise.
func (a *Analyzer) SetParameter(p instrument.Parameter, v float64) error {
	if err := a.settings.Set(p, v); err != nil {
		return err
	}
	if !a.initialized {
		return nil
	}

	var cmd string
	switch p {
	case instrument.ParamNumPoints:
		cmd = "SENSE1:SWEEP:POINTS " + strconv.Itoa(int(v))
	case instrument.ParamIFBandwidth:
		cmd = "SENSE1:BANDWIDTH " + formatFloat(v)
	case instrument.ParamFreqStart:
		cmd = "SENSE1:FREQUENCY:START " + formatFloat(v)
	case instrument.ParamFreqStop:
		cmd = "SENSE1:FREQUENCY:STOP " + formatFloat(v)
	case instrument.ParamPower:
		cmd = "SOURCE1:POWER1 " + formatFloat(v) + "DBM"
	}

	return a.write(cmd)
}

// Fire triggers one sweep, waits for it to complete and returns the raw
// formatted data of every measured S-parameter.
func (a *Analyzer) Fire() (map[string]string, error) {
	if a.t == nil {
		return nil, ErrNotConnected
	}

	if err := a.write("INIT:IMM"); err != nil {
		return nil, err
	}
	if _, err := a.query("*OPC?"); err != nil {
		return nil, err
	}

	out := make(map[string]string)
	for _, p := range a.settings.Measured() {
		if err := a.write(fmt.Sprintf("CALCULATE1:PARAMETER:SELECT '%s'", measurementName(p))); err != nil {
			return nil, err
		}
		data, err := a.query("CALCULATE:DATA? SDATA")
		if err != nil {
			return nil, err
		}
		out[p] = data
	}

	return out, nil
}

// ReadRanges presets the analyzer into the measurement configuration and
// queries the valid range of every sweep setting.
func (a *Analyzer) ReadRanges() (instrument.Ranges, error) {
	if a.t == nil {
		return nil, ErrNotConnected
	}

	setup := []string{
		"SYSTEM:FPRESET",
		fmt.Sprintf("CALCULATE1:PARAMETER:DEFINE '%s', S21", measurementName("S21")),
	}
	if err := a.writeAll(append(setup, triggerSetup...)); err != nil {
		return nil, err
	}
	a.initialized = false

	queries := map[instrument.Parameter]string{
		instrument.ParamNumPoints:   "SENSE1:SWEEP:POINTS?",
		instrument.ParamIFBandwidth: "SENSE1:BANDWIDTH?",
		instrument.ParamFreqStart:   "SENSE1:FREQUENCY:START?",
		instrument.ParamFreqStop:    "SENSE1:FREQUENCY:STOP?",
		instrument.ParamPower:       "SOURCE1:POWER1?",
	}

	ranges := make(instrument.Ranges, len(queries))
	for _, p := range instrument.Parameters {
		min, err := a.queryFloat(queries[p] + " MIN")
		if err != nil {
			return nil, err
		}
		max, err := a.queryFloat(queries[p] + " MAX")
		if err != nil {
			return nil, err
		}
		ranges[p] = instrument.Range{Min: min, Max: max}
	}

	return ranges, nil
}

// Close resets the analyzer and closes the session.
func (a *Analyzer) Close() error {
	if a.t == nil {
		return nil
	}

	rstErr := a.t.Write("*RST")
	closeErr := a.t.Close()
	a.t = nil
	a.initialized = false

	return errors.Join(rstErr, closeErr)
}

var triggerSetup = []string{
	"INITIATE:CONTINUOUS OFF",
	"TRIGGER:SOURCE MANUAL",
	"SENSE1:SWEEP:MODE HOLD",
	"SENSE1:AVERAGE OFF",
	"SENSE1:SWEEP:TYPE LINEAR",
}

func measurementName(sParam string) string {
	return "parameter_" + sParam
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (a *Analyzer) writeAll(cmds []string) error {
	for _, cmd := range cmds {
		if err := a.write(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (a *Analyzer) write(cmd string) error {
	if err := a.t.Write(cmd); err != nil {
		return &instrument.CommandError{Command: cmd, Err: err}
	}
	return nil
}

func (a *Analyzer) query(cmd string) (string, error) {
	reply, err := a.t.Query(cmd)
	if err != nil {
		return "", &instrument.CommandError{Command: cmd, Err: err}
	}
	return reply, nil
}

func (a *Analyzer) queryFloat(cmd string) (float64, error) {
	reply, err := a.query(cmd)
	if err != nil {
		return 0, err
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(reply), 64)
	if err != nil {
		return 0, &instrument.CommandError{Command: cmd, Err: fmt.Errorf("parsing reply '%s': %w", reply, err)}
	}
	return v, nil
}
