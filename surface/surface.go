// Package surface implements the raster layers a presentation is drawn on.
//
// A Raster behaves like a 2D canvas context: it carries a current composite
// operation, shadow and font size that apply to subsequent drawing calls.
// Strokes always use round caps and joins.
package surface

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	"go.aimuz.me/slidemark/internal/types"
)

// Composite selects how new paint combines with existing pixels.
type Composite int

const (
	// SourceOver paints over existing content.
	SourceOver Composite = iota
	// DestinationOut removes existing content where the new shape is drawn.
	DestinationOut
)

func (c Composite) String() string {
	if c == DestinationOut {
		return "destination-out"
	}
	return "source-over"
}

// Stroke is a line style.
type Stroke struct {
	Color color.NRGBA
	Width float64
}

// Shadow is drawn beneath source-over paint. A zero Shadow disables it.
type Shadow struct {
	Color   color.NRGBA
	Blur    float64
	OffsetX float64
	OffsetY float64
}

// IsZero reports whether the shadow draws nothing.
func (s Shadow) IsZero() bool {
	return s.Color.A == 0
}

// DefaultFontSize is the text size used until SetFontSize is called.
const DefaultFontSize = 42

// Raster is an RGBA drawing surface. It is safe for concurrent use, though
// the drawing state (composite, shadow, font size) is shared by all callers.
type Raster struct {
	mu        sync.Mutex
	img       *image.RGBA
	composite Composite
	shadow    Shadow

	font     *sfnt.Font
	fontSize float64
	faces    map[float64]font.Face
}

// New creates a transparent surface of the given size.
func New(width, height int) (*Raster, error) {
	f, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	return &Raster{
		img:      image.NewRGBA(image.Rect(0, 0, max(width, 0), max(height, 0))),
		font:     f,
		fontSize: DefaultFontSize,
		faces:    make(map[float64]font.Face),
	}, nil
}

// Size returns the surface dimensions in pixels.
func (r *Raster) Size() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.img.Bounds()
	return b.Dx(), b.Dy()
}

// Resize changes the surface dimensions. Like a canvas, resizing discards
// the existing content.
func (r *Raster) Resize(width, height int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.img = image.NewRGBA(image.Rect(0, 0, max(width, 0), max(height, 0)))
}

// Image returns a copy of the current pixels.
func (r *Raster) Image() *image.RGBA {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := image.NewRGBA(r.img.Bounds())
	copy(out.Pix, r.img.Pix)
	return out
}

// SetComposite sets the composite operation for later drawing.
func (r *Raster) SetComposite(op Composite) {
	r.mu.Lock()
	r.composite = op
	r.mu.Unlock()
}

// Composite returns the current composite operation.
func (r *Raster) Composite() Composite {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.composite
}

// SetShadow sets the shadow for later source-over drawing.
func (r *Raster) SetShadow(s Shadow) {
	r.mu.Lock()
	r.shadow = s
	r.mu.Unlock()
}

// Shadow returns the current shadow.
func (r *Raster) Shadow() Shadow {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shadow
}

// SetFontSize sets the text size in pixels.
func (r *Raster) SetFontSize(px float64) {
	r.mu.Lock()
	if px > 0 {
		r.fontSize = px
	}
	r.mu.Unlock()
}

// Clear makes the whole surface transparent.
func (r *Raster) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.img.Pix)
}

// ClearRect makes rect transparent. Parts outside the surface are ignored.
func (r *Raster) ClearRect(rect image.Rectangle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	draw.Draw(r.img, rect.Intersect(r.img.Bounds()), image.Transparent, image.Point{}, draw.Src)
}

// DrawImage replaces the surface content with src, resampled to fit when
// the sizes differ.
func (r *Raster) DrawImage(src image.Image) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dst := r.img.Bounds()
	sb := src.Bounds()
	if sb.Dx() == dst.Dx() && sb.Dy() == dst.Dy() {
		draw.Draw(r.img, dst, src, sb.Min, draw.Src)
		return
	}
	draw.CatmullRom.Scale(r.img, dst, src, sb, draw.Src, nil)
}

// StrokeLine draws a round-capped segment from a to b.
func (r *Raster) StrokeLine(a, b types.Point, st Stroke) {
	if st.Width <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	margin := r.shadowMargin()
	mask, origin := segmentMask(a, b, st.Width/2, margin)
	if mask == nil {
		return
	}
	r.paint(mask, origin, st.Color)
}

// MeasureText returns the advance width of s in pixels at the current font size.
func (r *Raster) MeasureText(s string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fixedToFloat(font.MeasureString(r.face(), s))
}

// FillText draws s with its top-left corner at p.
func (r *Raster) FillText(s string, p types.Point, c color.NRGBA) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mask, origin := r.textMask(s, p, 0)
	if mask == nil {
		return
	}
	r.paint(mask, origin, c)
}

// StrokeText outlines s with its top-left corner at p.
func (r *Raster) StrokeText(s string, p types.Point, st Stroke) {
	r.mu.Lock()
	defer r.mu.Unlock()

	radius := st.Width / 2
	mask, origin := r.textMask(s, p, int(math.Ceil(radius)))
	if mask == nil {
		return
	}
	r.paint(dilate(mask, radius), origin, st.Color)
}

// Close releases cached font faces.
func (r *Raster) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for size, f := range r.faces {
		_ = f.Close()
		delete(r.faces, size)
	}
	return nil
}

// face returns the face for the current size. Callers hold mu.
func (r *Raster) face() font.Face {
	if f, ok := r.faces[r.fontSize]; ok {
		return f
	}
	f, err := opentype.NewFace(r.font, &opentype.FaceOptions{
		Size:    r.fontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		// The embedded font is known good; fall back to a fixed face anyway.
		return fallbackFace()
	}
	r.faces[r.fontSize] = f
	return f
}

// textMask renders s into an alpha mask padded by pad pixels plus room for
// the current shadow. Callers hold mu.
func (r *Raster) textMask(s string, p types.Point, pad int) (*image.Alpha, image.Point) {
	if s == "" {
		return nil, image.Point{}
	}
	face := r.face()
	m := face.Metrics()
	pad += r.shadowMargin()

	width := fixedToFloat(font.MeasureString(face, s))
	height := fixedToFloat(m.Ascent + m.Descent)
	w := int(math.Ceil(width)) + 2*pad
	h := int(math.Ceil(height)) + 2*pad

	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	d := font.Drawer{
		Dst:  mask,
		Src:  image.Opaque,
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(pad), Y: fixed.I(pad) + m.Ascent},
	}
	d.DrawString(s)

	origin := image.Pt(int(math.Round(p.X))-pad, int(math.Round(p.Y))-pad)
	return mask, origin
}

// shadowMargin is the extra mask border needed for the current shadow.
func (r *Raster) shadowMargin() int {
	if r.shadow.IsZero() {
		return 0
	}
	return int(math.Ceil(r.shadow.Blur*1.5+math.Max(math.Abs(r.shadow.OffsetX), math.Abs(r.shadow.OffsetY)))) + 1
}

func fixedToFloat(v fixed.Int26_6) float64 {
	return float64(v) / 64
}
