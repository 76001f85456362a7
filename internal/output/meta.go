package output

import (
	"time"

	"github.com/roman-kulish/emscan/internal/geometry"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)

// Settings are the analyzer settings shared by every file of a run.
type Settings struct {
	FreqStart   float64 `json:"freq_start"`
	FreqStop    float64 `json:"freq_stop"`
	IFBandwidth float64 `json:"if_bandwidth"`
	NumPoints   int     `json:"num_points"`
	Power       float64 `json:"power"`
}

// Meta is the header of a per-parameter sweep file.
type Meta struct {
	SParameter  string  `json:"s_parameter"`
	FreqStart   float64 `json:"freq_start"`
	FreqStop    float64 `json:"freq_stop"`
	IFBandwidth float64 `json:"if_bandwidth"`
	NumPoints   int     `json:"num_points"`
	Power       float64 `json:"power"`
	PosX        float64 `json:"posx"`
	PosY        float64 `json:"posy"`
	VNAName     string  `json:"vna_name"`
	Date        string  `json:"date"`
	Time        string  `json:"time"`
	Description string  `json:"description"`
}

// NewMeta builds the header for one parameter measured at pos.
func NewMeta(param string, s Settings, vnaName, description string, pos geometry.Point, now time.Time) Meta {
	return Meta{
		SParameter:  param,
		FreqStart:   s.FreqStart,
		FreqStop:    s.FreqStop,
		IFBandwidth: s.IFBandwidth,
		NumPoints:   s.NumPoints,
		Power:       s.Power,
		PosX:        pos.X,
		PosY:        pos.Y,
		VNAName:     vnaName,
		Date:        now.Format(dateLayout),
		Time:        now.Format(timeLayout),
		Description: description,
	}
}

// RunMeta is written once per run to meta.json in the root directory.
type RunMeta struct {
	RunID       string           `json:"run_id"`
	FreqStart   float64          `json:"freq_start"`
	FreqStop    float64          `json:"freq_stop"`
	IFBandwidth float64          `json:"if_bandwidth"`
	NumPoints   int              `json:"num_points"`
	Power       float64          `json:"power"`
	Parameters  []string         `json:"s_parameters"`
	PortMin     int              `json:"port_min"`
	PortMax     int              `json:"port_max"`
	Positions   []geometry.Point `json:"positions,omitempty"`
	VNAName     string           `json:"vna_name"`
	Date        string           `json:"date"`
	Time        string           `json:"time"`
	Description string           `json:"description"`
}

// Stamp sets the date and time fields from now.
func (m *RunMeta) Stamp(now time.Time) {
	m.Date = now.Format(dateLayout)
	m.Time = now.Format(timeLayout)
}
