package positions

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/roman-kulish/emscan/internal/geometry"
)

// ErrMalformedList is returned when a position list cannot be split into whole points.
var ErrMalformedList = errors.New("malformed position list")

// LoadFromFile reads a position list file. See Parse for the format.
func LoadFromFile(path string, dimension int) (points []geometry.Point, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening position list: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing position list: %w", closeErr)
		}
	}()

	return Parse(f, dimension)
}

// Parse reads numeric tokens separated by commas and newlines, ignoring empty
// tokens, and groups them into points of the given dimension (2 or 3).
func Parse(r io.Reader, dimension int) ([]geometry.Point, error) {
	if dimension != 2 && dimension != 3 {
		return nil, fmt.Errorf("unsupported position dimension %d", dimension)
	}

	var values []float64
	scanner := bufio.NewScanner(r)
	for line := 1; scanner.Scan(); line++ {
		for _, token := range strings.Split(scanner.Text(), ",") {
			token = strings.TrimSpace(token)
			if token == "" {
				continue
			}
			v, err := strconv.ParseFloat(token, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: invalid number '%s'", ErrMalformedList, line, token)
			}
			values = append(values, v)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading position list: %w", err)
	}

	if len(values)%dimension != 0 {
		return nil, fmt.Errorf("%w: %d values do not form %d-dimensional points", ErrMalformedList, len(values), dimension)
	}

	points := make([]geometry.Point, 0, len(values)/dimension)
	for i := 0; i < len(values); i += dimension {
		p := geometry.Pt(values[i], values[i+1])
		if dimension == 3 {
			p.Z = values[i+2]
		}
		points = append(points, p)
	}

	return points, nil
}
