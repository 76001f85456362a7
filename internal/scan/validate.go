package scan

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/emscan/internal/instrument"
)

// Validate checks a plan against the analyzer ranges and the motion state.
// Every failed rule is reported, not only the first.
func Validate(p *Plan, ranges instrument.Ranges, originSet bool) ValidationErrors {
	var errs ValidationErrors

	for _, param := range instrument.Parameters {
		r, ok := ranges[param]
		if !ok {
			errs.add(string(param), "analyzer did not report a valid range")
			continue
		}
		if v := p.Settings.Value(param); !r.Contains(v) {
			errs.add(string(param), "%s must be in range %s to %s",
				formatValue(param, v), formatValue(param, r.Min), formatValue(param, r.Max))
		}
	}

	if p.Settings.FreqStart >= p.Settings.FreqStop {
		errs.add("freq_start", "start frequency must be less than stop frequency")
	}
	for _, name := range p.Settings.Measure {
		if !slices.Contains(instrument.SParameters, name) {
			errs.add("s_parameters", "unknown S-parameter '%s', expected one of %s", name, strings.Join(instrument.SParameters, ", "))
		}
	}
	if len(p.Settings.Measured()) == 0 {
		errs.add("s_parameters", "select at least one of %s", strings.Join(instrument.SParameters, ", "))
	}

	if st, err := os.Stat(p.OutputDir); err != nil || !st.IsDir() {
		errs.add("output_dir", "'%s' is not a directory", p.OutputDir)
	}

	if min, max := p.portRange(); min < 1 || max <= min {
		errs.add("ports", "port range [%d, %d] needs at least two ports", min, max)
	}

	if p.Motion != nil {
		validateMotion(p.Motion, originSet, &errs)
	}

	return errs
}

func validateMotion(m *MotionPlan, originSet bool, errs *ValidationErrors) {
	if !originSet {
		errs.add("origin", "origin has not been set")
	}
	if !(m.Radius >= 1 && m.Radius < math.Inf(1)) {
		errs.add("radius", "working area radius %v must be at least 1", m.Radius)
	}
	if !(m.Padding >= 1 && m.Padding < math.Inf(1)) {
		errs.add("padding", "padding %v must be at least 1", m.Padding)
	}
	if err := m.Target.Validate(); err != nil {
		errs.add("target", "%v", err)
	} else if !m.Envelope().Valid() {
		errs.add("target", "target does not fit the working area")
	}

	switch m.Source {
	case SourceUniform, "":
		if m.Count < 0 || m.Count >= MaxUniformPositions {
			errs.add("positions", "number of positions %d must be in [0, %d)", m.Count, MaxUniformPositions)
		}

	case SourceList:
		if st, err := os.Stat(m.ListFile); err != nil || st.IsDir() {
			errs.add("position_list", "position list file '%s' was not found", m.ListFile)
		} else if !strings.EqualFold(filepath.Ext(m.ListFile), ".csv") {
			errs.add("position_list", "position list file must have a .csv extension")
		}
		if m.Dimension != 0 && m.Dimension != 2 && m.Dimension != 3 {
			errs.add("dimension", "position dimension %d must be 2 or 3", m.Dimension)
		} else if m.Dimension == 3 && !m.ThreeAxis {
			errs.add("dimension", "three dimensional positions need a stage with a Z axis")
		}

	default:
		errs.add("position_source", "unknown position source '%s'", m.Source)
	}
}

// FormatHz renders a frequency with an SI prefix, e.g. "3.00 GHz".
func FormatHz(hz float64) string {
	value, prefix := humanize.ComputeSI(hz)
	return fmt.Sprintf("%0.2f %sHz", value, prefix)
}

func formatValue(p instrument.Parameter, v float64) string {
	switch p {
	case instrument.ParamFreqStart, instrument.ParamFreqStop, instrument.ParamIFBandwidth:
		return FormatHz(v)
	case instrument.ParamPower:
		return fmt.Sprintf("%g dBm", v)
	default:
		return humanize.Commaf(v)
	}
}
