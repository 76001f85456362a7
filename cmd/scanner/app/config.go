package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/emscan/internal/geometry"
	"github.com/roman-kulish/emscan/internal/instrument"
	"github.com/roman-kulish/emscan/internal/motion"
	"github.com/roman-kulish/emscan/internal/output"
	"github.com/roman-kulish/emscan/internal/positions"
	"github.com/roman-kulish/emscan/internal/scan"
	"github.com/roman-kulish/emscan/internal/switching"
)

// Config represents the main application configuration
type Config struct {
	Settings Settings       `yaml:"settings"`
	Analyzer AnalyzerConfig `yaml:"analyzer"`
	Switches SwitchConfig   `yaml:"switches"`
	Motion   MotionConfig   `yaml:"motion"`
	Output   OutputConfig   `yaml:"output"`
	Storage  StorageConfig  `yaml:"storage"`
	Monitor  MonitorConfig  `yaml:"monitor"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel"`
}

// AnalyzerConfig configures the vector network analyzer.
type AnalyzerConfig struct {
	Address  string              `yaml:"address"`
	Timeout  TimeDuration        `yaml:"timeout"`
	Settings instrument.Settings `yaml:"settings"`
}

// SwitchConfig configures the RF switch matrix.
type SwitchConfig struct {
	Address  string       `yaml:"address"`
	PortMin  int          `yaml:"portMin"`
	PortMax  int          `yaml:"portMax"`
	Debounce TimeDuration `yaml:"debounce"`
}

// MotionConfig configures the motion stage. When disabled the target is
// measured once, in place.
type MotionConfig struct {
	Enabled       bool            `yaml:"enabled"`
	Port          string          `yaml:"port"`
	BaudRate      int             `yaml:"baudRate"`
	FeedRate      float64         `yaml:"feedRate"`
	PollInterval  TimeDuration    `yaml:"pollInterval"`
	MotionTimeout TimeDuration    `yaml:"motionTimeout"`
	ReplyTimeout  TimeDuration    `yaml:"replyTimeout"`
	ThreeAxis     bool            `yaml:"threeAxis"`
	SetOrigin     bool            `yaml:"setOrigin"`
	Radius        float64         `yaml:"radius"`
	Padding       float64         `yaml:"padding"`
	Target        geometry.Target `yaml:"target"`
	Positions     PositionsConfig `yaml:"positions"`
}

// PositionsConfig selects the positions visited by a run.
type PositionsConfig struct {
	Source        scan.PositionSource `yaml:"source"`
	Count         int                 `yaml:"count"`
	ListFile      string              `yaml:"listFile"`
	Dimension     int                 `yaml:"dimension"`
	Order         positions.Order     `yaml:"order"`
	Seed          uint64              `yaml:"seed"`
	MinSeparation float64             `yaml:"minSeparation"`
	MaxAttempts   int                 `yaml:"maxAttempts"`
}

// OutputConfig represents output settings
type OutputConfig struct {
	Directory   string `yaml:"directory"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// StorageConfig represents the run ledger settings. The ledger is disabled
// when Ledger is empty.
type StorageConfig struct {
	Ledger string `yaml:"ledger"`
}

// MonitorConfig represents the HTTP monitor settings. The monitor serves
// /metrics and the /progress websocket; it is disabled when Listen is empty.
type MonitorConfig struct {
	Listen string `yaml:"listen"`
}

// LoadConfig reads the configuration file at path, applies environment
// overrides and defaults, and validates the result.
func LoadConfig(path string) (*Config, error) {
	p, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration file: %w", err)
	}

	var config Config
	if err = yaml.Unmarshal(p, &config); err != nil {
		return nil, fmt.Errorf("parsing configuration file: %w", err)
	}

	applyEnv(&config)
	config.setDefaults()

	if err = config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) setDefaults() {
	if c.Settings.LogLevel == "" {
		c.Settings.LogLevel = "info"
	}
	if c.Switches.PortMin == 0 {
		c.Switches.PortMin = switching.PortMin
	}
	if c.Switches.PortMax == 0 {
		c.Switches.PortMax = switching.PortMax
	}
	if c.Motion.Port == "" {
		c.Motion.Port = motion.AutoAddress
	}
	if c.Motion.BaudRate == 0 {
		c.Motion.BaudRate = motion.DefaultBaudRate
	}
	if c.Motion.Positions.Source == "" {
		c.Motion.Positions.Source = scan.SourceUniform
	}
	if c.Output.Name == "" {
		c.Output.Name = output.DefaultRootName
	}
	if c.Output.Directory == "" {
		c.Output.Directory = "."
	}
}

// Validate checks the structure of the configuration. Measurement settings
// are checked against the analyzer when a run starts.
func (c *Config) Validate() error {
	var errs []error

	if c.Analyzer.Address == "" {
		errs = append(errs, errors.New("analyzer.address is required"))
	}
	if c.Switches.Address == "" {
		errs = append(errs, errors.New("switches.address is required"))
	}
	if c.Switches.PortMin < 1 || c.Switches.PortMax <= c.Switches.PortMin {
		errs = append(errs, fmt.Errorf("switches: invalid port range [%d, %d]", c.Switches.PortMin, c.Switches.PortMax))
	}

	durations := []struct {
		name string
		d    TimeDuration
	}{
		{"analyzer.timeout", c.Analyzer.Timeout},
		{"switches.debounce", c.Switches.Debounce},
		{"motion.pollInterval", c.Motion.PollInterval},
		{"motion.motionTimeout", c.Motion.MotionTimeout},
		{"motion.replyTimeout", c.Motion.ReplyTimeout},
	}
	for _, d := range durations {
		if err := d.d.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.name, err))
		}
	}

	if c.Motion.Enabled {
		if c.Motion.FeedRate < 0 {
			errs = append(errs, fmt.Errorf("motion.feedRate must not be negative: %v", c.Motion.FeedRate))
		}
		switch c.Motion.Positions.Order {
		case "", positions.OrderNone, positions.OrderNearestNeighbor:
		default:
			errs = append(errs, fmt.Errorf("motion.positions.order: unknown order '%s'", c.Motion.Positions.Order))
		}
		switch c.Motion.Positions.Source {
		case scan.SourceUniform, scan.SourceList:
		default:
			errs = append(errs, fmt.Errorf("motion.positions.source: unknown source '%s'", c.Motion.Positions.Source))
		}
		if c.Motion.Positions.Dimension == 3 && !c.Motion.ThreeAxis {
			errs = append(errs, errors.New("motion.positions.dimension: 3 requires motion.threeAxis"))
		}
	}

	return errors.Join(errs...)
}

// Plan builds the run plan described by the configuration.
func (c *Config) Plan() scan.Plan {
	plan := scan.Plan{
		Name:        c.Output.Name,
		OutputDir:   c.Output.Directory,
		Description: c.Output.Description,
		Settings:    c.Analyzer.Settings,
		PortMin:     c.Switches.PortMin,
		PortMax:     c.Switches.PortMax,
	}

	if c.Motion.Enabled {
		p := c.Motion.Positions
		plan.Motion = &scan.MotionPlan{
			Radius:        c.Motion.Radius,
			Padding:       c.Motion.Padding,
			Target:        c.Motion.Target,
			Source:        p.Source,
			Count:         p.Count,
			Order:         p.Order,
			ListFile:      p.ListFile,
			Dimension:     p.Dimension,
			Seed:          p.Seed,
			MinSeparation: p.MinSeparation,
			MaxAttempts:   p.MaxAttempts,
			ThreeAxis:     c.Motion.ThreeAxis,
		}
	}

	return plan
}

// TimeDuration is a time.Duration written as a Go duration string, e.g. "30s".
type TimeDuration time.Duration

func (d TimeDuration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *TimeDuration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("app.TimeDuration: failed to parse: %s", err)
	}

	*d = TimeDuration(duration)
	return nil
}

func (d TimeDuration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d TimeDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d TimeDuration) Validate() error {
	if d < 0 {
		return fmt.Errorf("app.TimeDuration: must not be negative: %s", time.Duration(d))
	}
	return nil
}

func (d TimeDuration) String() string {
	return time.Duration(d).String()
}
