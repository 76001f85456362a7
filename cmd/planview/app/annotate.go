package app

import (
	"fmt"
	"image"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"

	"github.com/roman-kulish/emscan/internal/positions"
	"github.com/roman-kulish/emscan/internal/scan"
)

const (
	dpi      = 96.0
	fontSize = 11.0

	lineSpacing = 1.4
)

type annotatorConfig struct {
	Size       int
	InfoHeight int
	FontSize   float64
}

type annotator struct {
	context  *freetype.Context
	config   annotatorConfig
	fontFace font.Face
}

func newAnnotator(config annotatorConfig) (*annotator, error) {
	if config.FontSize == 0 {
		config.FontSize = fontSize
	}

	parsedFont, err := freetype.ParseFont(gomono.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(config.FontSize)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.NewUniform(textColor))

	return &annotator{
		context: ctx,
		config:  config,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    config.FontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}, nil
}

func (a *annotator) Close() error {
	if a.fontFace != nil {
		return a.fontFace.Close()
	}
	return nil
}

func (a *annotator) annotate(img *image.RGBA, plan *PlanData) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	if err := a.drawInfoBar(plan); err != nil {
		return fmt.Errorf("drawing info bar: %w", err)
	}
	return nil
}

// infoLines returns the information bar text, one entry per line.
func infoLines(plan *PlanData) []string {
	e := plan.Envelope

	var reachable int
	for _, p := range plan.Points {
		if e.IsReachable(p) {
			reachable++
		}
	}

	lines := []string{
		fmt.Sprintf("Radius: %s mm; Padding: %s mm; Target: %s mm; Safe radius: %s mm",
			humanize.Ftoa(e.Radius), humanize.Ftoa(e.Padding),
			humanize.Ftoa(e.TargetRadius), humanize.Ftoa(e.SafeRadius())),
		fmt.Sprintf("Positions: %s (%s reachable); Path: %s mm",
			humanize.Comma(int64(len(plan.Points))), humanize.Comma(int64(reachable)),
			humanize.CommafWithDigits(positions.PathLength(plan.Points), 1)),
	}

	if plan.RunID != "" || plan.FreqStop > 0 {
		var line string
		if plan.RunID != "" {
			line = fmt.Sprintf("Run: %s", plan.RunID)
		}
		if plan.FreqStop > 0 {
			if line != "" {
				line += "; "
			}
			line += fmt.Sprintf("Band: %s - %s", scan.FormatHz(plan.FreqStart), scan.FormatHz(plan.FreqStop))
		}
		lines = append(lines, line)
	}

	return lines
}

func (a *annotator) drawInfoBar(plan *PlanData) error {
	metrics := a.fontFace.Metrics()
	fontHeight := (metrics.Ascent + metrics.Descent).Round()
	step := int(float64(fontHeight) * lineSpacing)

	y := a.config.Size + step
	for _, line := range infoLines(plan) {
		if _, err := a.context.DrawString(line, freetype.Pt(defaultMargin, y)); err != nil {
			return fmt.Errorf("drawing info text: %w", err)
		}
		y += step
	}
	return nil
}
