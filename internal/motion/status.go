package motion

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roman-kulish/emscan/internal/geometry"
)

const (
	StateIdle  = "Idle"
	StateRun   = "Run"
	StateHold  = "Hold"
	StateJog   = "Jog"
	StateAlarm = "Alarm"
)

// Status is the controller state and live work position.
type Status struct {
	State    string         `json:"state"`
	Position geometry.Point `json:"position"`
}

// Frame is a decoded real-time status report. GRBL 1.1 reports fields
// separated by '|' ("<Idle|MPos:1.000,2.000,0.000|FS:0,0|WCO:0.000,0.000,0.000>"),
// GRBL 0.9 separates everything with ',' ("<Idle,MPos:1.000,2.000,0.000,WPos:...>").
type Frame struct {
	State string

	MPos, WPos, WCO          geometry.Point
	HasMPos, HasWPos, HasWCO bool
}

// ParseFrame decodes a status report line.
func ParseFrame(line string) (Frame, error) {
	line = strings.TrimSpace(line)
	if len(line) < 2 || line[0] != '<' || line[len(line)-1] != '>' {
		return Frame{}, fmt.Errorf("not a status report: '%s'", line)
	}
	body := line[1 : len(line)-1]

	var f Frame
	var err error
	if strings.Contains(body, "|") {
		err = f.parseFields(body)
	} else {
		err = f.parseLegacy(body)
	}
	if err != nil {
		return Frame{}, fmt.Errorf("parsing status report '%s': %w", line, err)
	}
	if f.State == "" {
		return Frame{}, fmt.Errorf("status report '%s' has no state", line)
	}
	if !f.HasMPos && !f.HasWPos {
		return Frame{}, fmt.Errorf("status report '%s' has no position", line)
	}

	return f, nil
}

func (f *Frame) parseFields(body string) error {
	fields := strings.Split(body, "|")
	f.State, _, _ = strings.Cut(fields[0], ":") // drop sub-state, e.g. Hold:0

	for _, field := range fields[1:] {
		name, value, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}

		var dst *geometry.Point
		var has *bool
		switch name {
		case "MPos":
			dst, has = &f.MPos, &f.HasMPos
		case "WPos":
			dst, has = &f.WPos, &f.HasWPos
		case "WCO":
			dst, has = &f.WCO, &f.HasWCO
		default:
			continue
		}

		p, err := parseCoords(strings.Split(value, ","))
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst, *has = p, true
	}

	return nil
}

func (f *Frame) parseLegacy(body string) error {
	tokens := strings.Split(body, ",")
	f.State = tokens[0]

	for i := 1; i < len(tokens); i++ {
		name, value, ok := strings.Cut(tokens[i], ":")
		if !ok || (name != "MPos" && name != "WPos") {
			continue
		}

		coords := []string{value}
		for j := i + 1; j < len(tokens) && j < i+3 && !strings.Contains(tokens[j], ":"); j++ {
			coords = append(coords, tokens[j])
		}

		p, err := parseCoords(coords)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if name == "MPos" {
			f.MPos, f.HasMPos = p, true
		} else {
			f.WPos, f.HasWPos = p, true
		}
		i += len(coords) - 1
	}

	return nil
}

func parseCoords(values []string) (geometry.Point, error) {
	if len(values) < 2 {
		return geometry.Point{}, fmt.Errorf("expected at least 2 coordinates, got %d", len(values))
	}

	var c [3]float64
	for i := 0; i < len(values) && i < 3; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(values[i]), 64)
		if err != nil {
			return geometry.Point{}, err
		}
		c[i] = v
	}

	return geometry.Point{X: c[0], Y: c[1], Z: c[2]}, nil
}
