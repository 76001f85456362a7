package app

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/vector"

	"github.com/roman-kulish/emscan/internal/geometry"
)

const (
	defaultMargin     = 24
	defaultInfoHeight = 90

	circleSegments = 128
	pointRadius    = 5.0
	originRadius   = 3.0
	pathWidth      = 1.5
	ringWidth      = 2.0
)

// PlanData is a position plan prepared for rendering.
type PlanData struct {
	Envelope geometry.Envelope
	Points   []geometry.Point

	// Run and band are shown in the information bar when known.
	RunID     string
	FreqStart float64
	FreqStop  float64
}

// RenderConfig holds the configuration of the plan renderer
type RenderConfig struct {
	Size          int // Width of the chamber view in pixels
	Margin        int
	InfoHeight    int // Height of the information bar
	ColorTheme    ColorTheme
	NoAnnotations bool
}

// PlanRenderer draws the chamber seen from above: the wall, the keep-out
// band, the target footprint at the origin, and the travel path through
// every position.
type PlanRenderer struct {
	config  RenderConfig
	palette func(float64) color.RGBA
}

func NewPlanRenderer(config RenderConfig) *PlanRenderer {
	if config.Size == 0 {
		config.Size = defaultImageSize
	}
	if config.Margin == 0 {
		config.Margin = defaultMargin
	}
	if config.InfoHeight == 0 {
		config.InfoHeight = defaultInfoHeight
	}
	if config.NoAnnotations {
		config.InfoHeight = 0
	}

	return &PlanRenderer{
		config:  config,
		palette: GetColorTheme(config.ColorTheme),
	}
}

// Render creates an image of the plan.
func (r *PlanRenderer) Render(plan *PlanData) (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, r.config.Size, r.config.Size+r.config.InfoHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, draw.Src)

	v := r.viewport(plan.Envelope)
	c := newCanvas(img)

	radius := float32(plan.Envelope.Radius * v.scale)
	safe := float32(math.Max(plan.Envelope.SafeRadius(), 0) * v.scale)

	c.ring(v.cx, v.cy, radius, safe, keepOutColor)
	c.ring(v.cx, v.cy, radius+ringWidth/2, radius-ringWidth/2, chamberColor)
	if safe > ringWidth {
		c.ring(v.cx, v.cy, safe+ringWidth/4, safe-ringWidth/4, safeRingColor)
	}
	if tr := float32(plan.Envelope.TargetRadius * v.scale); tr > 0 {
		c.ring(v.cx, v.cy, tr+ringWidth/4, tr-ringWidth/4, targetColor)
	}

	prevX, prevY := v.cx, v.cy
	for i, p := range plan.Points {
		x, y := v.project(p)
		c.line(prevX, prevY, x, y, pathWidth, r.pointColor(i, len(plan.Points)))
		prevX, prevY = x, y
	}

	c.disc(v.cx, v.cy, originRadius, originColor)
	for i, p := range plan.Points {
		x, y := v.project(p)
		col := r.pointColor(i, len(plan.Points))
		if !plan.Envelope.IsReachable(p) {
			col = unreachableColor
		}
		c.disc(x, y, pointRadius, col)
	}

	if r.config.NoAnnotations {
		return img, nil
	}

	ann, err := newAnnotator(annotatorConfig{Size: r.config.Size, InfoHeight: r.config.InfoHeight})
	if err != nil {
		return nil, err
	}
	defer ann.Close()

	if err = ann.annotate(img, plan); err != nil {
		return nil, err
	}
	return img, nil
}

// pointColor colours the i-th of n points by its position along the path.
func (r *PlanRenderer) pointColor(i, n int) color.RGBA {
	if n <= 1 {
		return r.palette(0)
	}
	return r.palette(float64(i) / float64(n-1))
}

type viewport struct {
	cx, cy float32
	scale  float64 // pixels per mm
}

func (r *PlanRenderer) viewport(e geometry.Envelope) viewport {
	half := float64(r.config.Size) / 2
	scale := 1.0
	if e.Radius > 0 {
		scale = (half - float64(r.config.Margin)) / e.Radius
	}
	return viewport{cx: float32(half), cy: float32(half), scale: scale}
}

// project maps a stage position to image coordinates, Y pointing up.
func (v viewport) project(p geometry.Point) (float32, float32) {
	return v.cx + float32(p.X*v.scale), v.cy - float32(p.Y*v.scale)
}

// canvas fills anti-aliased shapes into an image, one shape at a time.
type canvas struct {
	img *image.RGBA
	z   *vector.Rasterizer
}

func newCanvas(img *image.RGBA) *canvas {
	b := img.Bounds()
	return &canvas{img: img, z: vector.NewRasterizer(b.Dx(), b.Dy())}
}

func (c *canvas) fill(col color.Color) {
	b := c.img.Bounds()
	c.z.Draw(c.img, b, image.NewUniform(col), image.Point{})
	c.z.Reset(b.Dx(), b.Dy())
}

func (c *canvas) circle(cx, cy, r float32, reverse bool) {
	step := 2 * math.Pi / circleSegments
	if reverse {
		step = -step
	}

	c.z.MoveTo(cx+r, cy)
	for i := 1; i < circleSegments; i++ {
		a := float64(i) * step
		c.z.LineTo(cx+r*float32(math.Cos(a)), cy+r*float32(math.Sin(a)))
	}
	c.z.ClosePath()
}

func (c *canvas) disc(cx, cy, r float32, col color.Color) {
	c.circle(cx, cy, r, false)
	c.fill(col)
}

// ring fills the band between the outer and inner radius.
func (c *canvas) ring(cx, cy, outer, inner float32, col color.Color) {
	if outer <= 0 || inner >= outer {
		return
	}
	c.circle(cx, cy, outer, false)
	if inner > 0 {
		c.circle(cx, cy, inner, true)
	}
	c.fill(col)
}

func (c *canvas) line(x0, y0, x1, y1, width float32, col color.Color) {
	dx, dy := x1-x0, y1-y0
	length := float32(math.Hypot(float64(dx), float64(dy)))
	if length == 0 {
		return
	}

	nx, ny := -dy/length*width/2, dx/length*width/2
	c.z.MoveTo(x0+nx, y0+ny)
	c.z.LineTo(x1+nx, y1+ny)
	c.z.LineTo(x1-nx, y1-ny)
	c.z.LineTo(x0-nx, y0-ny)
	c.z.ClosePath()
	c.fill(col)
}
