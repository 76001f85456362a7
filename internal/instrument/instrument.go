package instrument

import (
	"context"
	"fmt"
	"slices"
)

const (
	ParamNumPoints   Parameter = "num_points"
	ParamIFBandwidth Parameter = "ifbw"
	ParamFreqStart   Parameter = "freq_start"
	ParamFreqStop    Parameter = "freq_stop"
	ParamPower       Parameter = "power"
)

// SParameters lists the scattering parameters an analyzer can measure, in
// the order they are measured.
var SParameters = []string{"S11", "S12", "S21", "S22"}

// Parameter names an analyzer setting.
type Parameter string

func (p Parameter) String() string {
	return string(p)
}

// Parameters lists every analyzer setting checked against the instrument ranges.
var Parameters = []Parameter{ParamNumPoints, ParamIFBandwidth, ParamFreqStart, ParamFreqStop, ParamPower}

// Transport exchanges newline terminated commands with an instrument.
type Transport interface {
	Write(cmd string) error
	Query(cmd string) (string, error)
	Close() error
}

// DialFunc opens a Transport to the instrument at resource.
type DialFunc func(ctx context.Context, resource string) (Transport, error)

// Range is an inclusive interval of valid values reported by an instrument.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies within the range.
func (r Range) Contains(v float64) bool {
	return r.Min <= v && v <= r.Max
}

func (r Range) String() string {
	return fmt.Sprintf("[%g, %g]", r.Min, r.Max)
}

// Ranges maps each setting to its valid range.
type Ranges map[Parameter]Range

// Settings is the sweep configuration applied to an analyzer.
type Settings struct {
	NumPoints   int      `json:"num_points" yaml:"numPoints"`
	IFBandwidth float64  `json:"if_bandwidth" yaml:"ifBandwidth"`
	FreqStart   float64  `json:"freq_start" yaml:"freqStart"`
	FreqStop    float64  `json:"freq_stop" yaml:"freqStop"`
	Power       float64  `json:"power" yaml:"power"`
	Measure     []string `json:"s_parameters" yaml:"sParameters"`
}

// Value returns the setting named p.
func (s Settings) Value(p Parameter) float64 {
	switch p {
	case ParamNumPoints:
		return float64(s.NumPoints)
	case ParamIFBandwidth:
		return s.IFBandwidth
	case ParamFreqStart:
		return s.FreqStart
	case ParamFreqStop:
		return s.FreqStop
	case ParamPower:
		return s.Power
	}
	return 0
}

// Set updates the setting named p.
func (s *Settings) Set(p Parameter, v float64) error {
	switch p {
	case ParamNumPoints:
		s.NumPoints = int(v)
	case ParamIFBandwidth:
		s.IFBandwidth = v
	case ParamFreqStart:
		s.FreqStart = v
	case ParamFreqStop:
		s.FreqStop = v
	case ParamPower:
		s.Power = v
	default:
		return fmt.Errorf("unknown analyzer parameter '%s'", p)
	}
	return nil
}

// Measured returns the selected S-parameters in canonical order, ignoring
// unknown names and duplicates.
func (s Settings) Measured() []string {
	var out []string
	for _, p := range SParameters {
		if slices.Contains(s.Measure, p) {
			out = append(out, p)
		}
	}
	return out
}

// ConnectionError reports a failure to reach an instrument.
type ConnectionError struct {
	Resource string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to %s: %v", e.Resource, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// CommandError reports a command the instrument did not complete.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command '%s': %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
