// Package annotate paints strokes and dictated text onto the overlay.
package annotate

import (
	"image"
	"image/color"
	"log/slog"
	"strings"

	"go.aimuz.me/slidemark/internal/types"
	"go.aimuz.me/slidemark/surface"
)

// Surface is the overlay the engine draws on. *surface.Raster implements it.
type Surface interface {
	Size() (int, int)
	SetComposite(op surface.Composite)
	Composite() surface.Composite
	SetShadow(s surface.Shadow)
	Shadow() surface.Shadow
	SetFontSize(px float64)
	StrokeLine(a, b types.Point, st surface.Stroke)
	ClearRect(r image.Rectangle)
	Clear()
	MeasureText(s string) float64
	StrokeText(s string, p types.Point, st surface.Stroke)
	FillText(s string, p types.Point, c color.NRGBA)
}

// Context selects a stroke style.
type Context struct {
	Modality types.Modality
	Mode     types.DrawMode
}

// Style is how a segment is painted.
type Style struct {
	Color     color.NRGBA
	Width     float64
	Composite surface.Composite
	Shadow    surface.Shadow
}

var (
	red        = color.NRGBA{R: 255, A: 255}
	eraseColor = color.NRGBA{A: 255}
	glow       = surface.Shadow{Color: color.NRGBA{R: 255, G: 255, A: 153}, Blur: 15}
)

var styles = map[Context]Style{
	{types.ModalityPointer, types.DrawPen}:       {Color: red, Width: 3},
	{types.ModalityPointer, types.DrawHighlight}: {Color: color.NRGBA{R: 255, G: 255, A: 26}, Width: 20},
	{types.ModalityPointer, types.DrawErase}:     {Color: eraseColor, Width: 30, Composite: surface.DestinationOut},
	{types.ModalityGesture, types.DrawPen}:       {Color: red, Width: 3},
	{types.ModalityGesture, types.DrawHighlight}: {Color: color.NRGBA{R: 255, G: 255, A: 77}, Width: 30, Shadow: glow},
	{types.ModalityGesture, types.DrawErase}:     {Color: eraseColor, Width: 40, Composite: surface.DestinationOut},
}

// LookupStyle returns the style for ctx and whether one is defined.
func LookupStyle(ctx Context) (Style, bool) {
	s, ok := styles[ctx]
	return s, ok
}

// Text layout for dictation.
const (
	textMargin     = 60
	textLeft       = 80
	textTop        = 80
	textLineHeight = 58
	textFontSize   = 42
	textRightPad   = 140
	textBottomPad  = 100
	ellipsis       = "..."
)

var (
	textFill    = color.NRGBA{R: 0xff, G: 0x33, B: 0x33, A: 0xff}
	textOutline = surface.Stroke{Color: color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}, Width: 3}
	textShadow  = surface.Shadow{Color: color.NRGBA{A: 179}, Blur: 8, OffsetX: 2, OffsetY: 2}
)

// Engine applies styles to an overlay surface. Calls must not overlap.
type Engine struct {
	surf Surface
}

// New creates an engine drawing on surf.
func New(surf Surface) *Engine {
	return &Engine{surf: surf}
}

// PaintSegment draws one segment from from to to in the style for ctx.
// It reports whether anything was painted. The surface's composite and
// shadow are back to source-over and none afterwards.
func (e *Engine) PaintSegment(from, to types.Point, ctx Context) bool {
	st, ok := LookupStyle(ctx)
	if !ok {
		slog.Debug("no stroke style", "modality", ctx.Modality, "mode", ctx.Mode)
		return false
	}

	defer e.restore()
	e.surf.SetComposite(st.Composite)
	e.surf.SetShadow(st.Shadow)
	e.surf.StrokeLine(from, to, surface.Stroke{Color: st.Color, Width: st.Width})
	return true
}

// RenderWrappedText replaces the text area of the overlay with text,
// wrapped to the surface width and cut off with an ellipsis when it runs
// past the bottom.
func (e *Engine) RenderWrappedText(text string) {
	w, h := e.surf.Size()
	e.surf.ClearRect(image.Rect(textMargin, textMargin, w-textMargin, h-textMargin))

	defer e.restore()
	e.surf.SetFontSize(textFontSize)
	e.surf.SetShadow(textShadow)

	y := float64(textTop)
	for _, line := range Wrap(text, float64(w-textRightPad), e.surf.MeasureText) {
		p := types.Point{X: textLeft, Y: y}
		if y > float64(h-textBottomPad) {
			e.surf.FillText(ellipsis, p, textFill)
			return
		}
		e.surf.StrokeText(line, p, textOutline)
		e.surf.FillText(line, p, textFill)
		y += textLineHeight
	}
}

// Clear wipes the overlay.
func (e *Engine) Clear() {
	e.surf.Clear()
}

func (e *Engine) restore() {
	e.surf.SetComposite(surface.SourceOver)
	e.surf.SetShadow(surface.Shadow{})
}

// Wrap greedily breaks text into lines no wider than maxWidth according to
// measure. A word wider than maxWidth gets a line of its own.
func Wrap(text string, maxWidth float64, measure func(string) float64) []string {
	var (
		lines []string
		line  string
	)
	for _, word := range strings.Fields(text) {
		if line == "" {
			line = word
			continue
		}
		candidate := line + " " + word
		if measure(candidate) > maxWidth {
			lines = append(lines, line)
			line = word
			continue
		}
		line = candidate
	}
	if line != "" {
		lines = append(lines, line)
	}
	return lines
}
