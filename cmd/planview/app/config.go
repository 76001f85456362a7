package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/roman-kulish/emscan/internal/geometry"
	"github.com/roman-kulish/emscan/internal/positions"
	"github.com/roman-kulish/emscan/internal/scan"
)

const (
	ImagePNG  ImageFormat = "png"
	ImageJPEG ImageFormat = "jpeg"

	defaultImageSize = 800
)

type ImageFormat string

var validImageFormats = map[ImageFormat]struct{}{
	ImagePNG:  {},
	ImageJPEG: {},
}

// Config describes the plan to render. Positions are either read from a
// recorded run in the ledger or produced as a scan would produce them.
type Config struct {
	Radius  float64
	Padding float64
	Target  geometry.Target

	Count     int
	Seed      uint64
	Order     positions.Order
	ListFile  string
	Dimension int

	LedgerPath string
	RunID      string

	OutputFile    string
	Format        ImageFormat
	Size          int
	Theme         ColorTheme
	NoAnnotations bool
}

func NewConfig() *Config {
	return &Config{
		Format: ImagePNG,
		Size:   defaultImageSize,
		Order:  positions.OrderNone,
	}
}

func NewConfigFromCLI() (*Config, error) {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	return ParseConfig(fs, os.Args[1:])
}

// ParseConfig parses the command line arguments into a validated Config.
func ParseConfig(fs *flag.FlagSet, args []string) (*Config, error) {
	c := NewConfig()

	var imageFormat, order, theme string
	var targetRadius, targetLength, targetWidth float64
	fs.Float64Var(&c.Radius, "radius", 0, "Working area radius in mm")
	fs.Float64Var(&c.Padding, "padding", 20, "Padding between the target and the chamber wall in mm")
	fs.Float64Var(&targetRadius, "target-radius", 0, "Radius of a circular target in mm")
	fs.Float64Var(&targetLength, "target-length", 0, "Length of a rectangular target in mm")
	fs.Float64Var(&targetWidth, "target-width", 0, "Width of a rectangular target in mm")
	fs.IntVar(&c.Count, "n", 32, "Number of uniformly generated positions")
	fs.Uint64Var(&c.Seed, "seed", 0, "Seed for position generation, 0 for random")
	fs.StringVar(&order, "order", string(positions.OrderNone), "Position order. [none, nearest_neighbour]")
	fs.StringVar(&c.ListFile, "list", "", "Position list file (.csv) instead of generated positions")
	fs.IntVar(&c.Dimension, "dim", 2, "Values per point in the position list. [2, 3]")
	fs.StringVar(&c.LedgerPath, "db", "", "Path to the run ledger database")
	fs.StringVar(&c.RunID, "run", "", "Run ID to render from the ledger")
	fs.StringVar(&c.OutputFile, "o", "", "Path to the output file, without extension")
	fs.StringVar(&imageFormat, "f", string(ImagePNG), "Output image format. [png, jpeg]")
	fs.IntVar(&c.Size, "size", defaultImageSize, "Width of the image in pixels")
	fs.StringVar(&theme, "theme", string(ClassicTheme), "Colour theme of the travel path. [classic, grayscale, jungle, thermal, marine]")
	fs.BoolVar(&c.NoAnnotations, "no-annotations", false, "Disable the information bar")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	imageFormat = strings.ToLower(imageFormat)
	c.Order = positions.Order(order)
	c.Theme = ColorTheme(theme)

	switch {
	case targetLength > 0 || targetWidth > 0:
		c.Target = geometry.Target{Shape: geometry.ShapeRectangular, Length: targetLength, Width: targetWidth}
	default:
		c.Target = geometry.Target{Shape: geometry.ShapeCircular, Radius: targetRadius}
	}

	var err error
	if c.Radius < 1 {
		err = errors.New("radius must be at least 1 mm")
	} else if c.OutputFile == "" {
		err = errors.New("output file is required")
	} else if _, ok := validImageFormats[ImageFormat(imageFormat)]; !ok {
		err = fmt.Errorf("invalid image format: %s", imageFormat)
	} else if (c.LedgerPath == "") != (c.RunID == "") {
		err = errors.New("db and run must be given together")
	} else if c.Order != positions.OrderNone && c.Order != positions.OrderNearestNeighbor {
		err = fmt.Errorf("invalid order: %s", order)
	} else if _, ok := validThemes[c.Theme]; !ok {
		err = fmt.Errorf("invalid theme: %s", theme)
	} else if c.Size < 200 {
		err = fmt.Errorf("image size %d is too small", c.Size)
	}

	if err != nil {
		fs.Usage()
		return nil, err
	}

	c.Format = ImageFormat(imageFormat)
	c.OutputFile = fmt.Sprintf("%s.%s", c.OutputFile, c.Format)
	return c, nil
}

// MotionPlan returns the plan positions are produced from when no run is
// read from the ledger.
func (c *Config) MotionPlan() *scan.MotionPlan {
	m := scan.MotionPlan{
		Radius:    c.Radius,
		Padding:   c.Padding,
		Target:    c.Target,
		Source:    scan.SourceUniform,
		Count:     c.Count,
		Order:     c.Order,
		Seed:      c.Seed,
		Dimension: c.Dimension,
	}
	if c.ListFile != "" {
		m.Source = scan.SourceList
		m.ListFile = c.ListFile
	}
	return &m
}
