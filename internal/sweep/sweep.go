package sweep

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedSweep is returned when an analyzer reply contains a token that is not a number.
var ErrMalformedSweep = errors.New("malformed sweep data")

// MissingDataError is returned when the analyzer reply does not hold exactly
// two values (real and imaginary) per frequency point.
type MissingDataError struct {
	Actual   int
	Expected int
}

func (e *MissingDataError) Error() string {
	return fmt.Sprintf("missing sweep data: expected %d values, received %d", e.Expected, e.Actual)
}

// Result is one sweep split into its real and imaginary parts, index-aligned
// with the frequency list it was measured on.
type Result struct {
	Real []float64 `json:"real"`
	Imag []float64 `json:"imag"`
}

// Len returns the number of frequency points in the result.
func (r *Result) Len() int {
	return len(r.Real)
}

// Convert parses a comma separated interleaved real/imaginary reply, as
// returned by "CALCULATE:DATA? SDATA", and splits it per frequency.
func Convert(raw string, freqs []float64) (*Result, error) {
	values, err := ParseValues(raw)
	if err != nil {
		return nil, err
	}
	return ConvertValues(values, freqs)
}

// ConvertValues splits interleaved real/imaginary values per frequency.
func ConvertValues(values []float64, freqs []float64) (*Result, error) {
	if len(values) != 2*len(freqs) {
		return nil, &MissingDataError{Actual: len(values), Expected: 2 * len(freqs)}
	}

	r := Result{
		Real: make([]float64, len(freqs)),
		Imag: make([]float64, len(freqs)),
	}
	for i := range freqs {
		r.Real[i] = values[2*i]
		r.Imag[i] = values[2*i+1]
	}

	return &r, nil
}

// ParseValues parses a comma separated list of numbers. Surrounding
// whitespace, including the reply terminator, is ignored.
func ParseValues(raw string) ([]float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	tokens := strings.Split(raw, ",")
	values := make([]float64, len(tokens))
	for i, token := range tokens {
		v, err := strconv.ParseFloat(strings.TrimSpace(token), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: value %d: '%s'", ErrMalformedSweep, i, token)
		}
		values[i] = v
	}

	return values, nil
}

// Interleave is the inverse of ConvertValues.
func Interleave(r *Result) []float64 {
	values := make([]float64, 0, 2*r.Len())
	for i := range r.Real {
		values = append(values, r.Real[i], r.Imag[i])
	}
	return values
}

// FrequencyList returns n frequencies linearly spaced from start to stop
// inclusive. A single point sweep measures at start only.
func FrequencyList(start, stop float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{start}
	}

	freqs := make([]float64, n)
	step := (stop - start) / float64(n-1)
	for i := range freqs {
		freqs[i] = start + float64(i)*step
	}
	return freqs
}
