package surface

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/vector"
	"seehuhn.de/go/geom/vec"

	"go.aimuz.me/slidemark/internal/types"
)

// flatness is the maximum distance, in pixels, between a cap arc and the
// polygon approximating it.
const flatness = 0.25

// segmentMask rasterises the outline of a round-capped segment of the given
// half-width. The mask is padded by margin pixels on every side; origin is
// the surface position of the mask's (0, 0).
func segmentMask(a, b types.Point, radius float64, margin int) (*image.Alpha, image.Point) {
	if radius <= 0 {
		return nil, image.Point{}
	}
	pad := radius + float64(margin) + 1
	minX := math.Floor(math.Min(a.X, b.X) - pad)
	minY := math.Floor(math.Min(a.Y, b.Y) - pad)
	maxX := math.Ceil(math.Max(a.X, b.X) + pad)
	maxY := math.Ceil(math.Max(a.Y, b.Y) + pad)
	w, h := int(maxX-minX), int(maxY-minY)
	if w <= 0 || h <= 0 {
		return nil, image.Point{}
	}

	off := vec.Vec2{X: minX, Y: minY}
	pa := vec.Vec2{X: a.X, Y: a.Y}.Sub(off)
	pb := vec.Vec2{X: b.X, Y: b.Y}.Sub(off)

	z := vector.NewRasterizer(w, h)
	outline := capsule(pa, pb, radius)
	z.MoveTo(float32(outline[0].X), float32(outline[0].Y))
	for _, p := range outline[1:] {
		z.LineTo(float32(p.X), float32(p.Y))
	}
	z.ClosePath()

	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	z.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})
	return mask, image.Pt(int(minX), int(minY))
}

// capsule returns the closed outline of the segment a-b widened by d on
// both sides: the +N side forward, the cap around b, the -N side backward
// and the cap around a. A zero-length segment yields a dot.
func capsule(a, b vec.Vec2, d float64) []vec.Vec2 {
	delta := b.Sub(a)
	length := delta.Length()
	if length < 1e-9 {
		return arc(nil, a, d, vec.Vec2{X: 1, Y: 0}, 2*math.Pi)
	}
	t := delta.Mul(1 / length)
	n := vec.Vec2{X: -t.Y, Y: t.X}

	pts := make([]vec.Vec2, 0, 64)
	pts = append(pts, a.Add(n.Mul(d)), b.Add(n.Mul(d)))
	pts = arc(pts, b, d, n, -math.Pi)
	pts = append(pts, a.Sub(n.Mul(d)))
	pts = arc(pts, a, d, n.Mul(-1), -math.Pi)
	return pts
}

// arc appends the points of a circular arc around center that starts in
// direction start and sweeps by sweep radians. The start point itself is
// expected to be on pts already, except for a full circle.
func arc(pts []vec.Vec2, center vec.Vec2, radius float64, start vec.Vec2, sweep float64) []vec.Vec2 {
	step := 2 * math.Acos(1-flatness/radius)
	if step <= 0 || math.IsNaN(step) {
		step = math.Pi / 4
	}
	n := max(int(math.Ceil(math.Abs(sweep)/step)), 2)
	dt := sweep / float64(n)

	first := 1
	if len(pts) == 0 {
		first = 0
	}
	for i := first; i <= n; i++ {
		s, c := math.Sincos(float64(i) * dt)
		dir := vec.Vec2{
			X: start.X*c - start.Y*s,
			Y: start.X*s + start.Y*c,
		}
		pts = append(pts, center.Add(dir.Mul(radius)))
	}
	return pts
}

// paint composites colour c through mask at origin using the current
// composite operation and shadow. Callers hold mu.
func (r *Raster) paint(mask *image.Alpha, origin image.Point, c color.NRGBA) {
	dr := mask.Bounds().Add(origin)

	if r.composite == DestinationOut {
		clip := dr.Intersect(r.img.Bounds())
		for y := clip.Min.Y; y < clip.Max.Y; y++ {
			for x := clip.Min.X; x < clip.Max.X; x++ {
				m := uint32(mask.AlphaAt(x-origin.X, y-origin.Y).A) * uint32(c.A) / 0xff
				if m == 0 {
					continue
				}
				keep := 0xff - m
				i := r.img.PixOffset(x, y)
				px := r.img.Pix[i : i+4 : i+4]
				for j := range px {
					px[j] = uint8(uint32(px[j]) * keep / 0xff)
				}
			}
		}
		return
	}

	if !r.shadow.IsZero() {
		r.paintShadow(mask, origin)
	}
	draw.DrawMask(r.img, dr, image.NewUniform(c), image.Point{}, mask, image.Point{}, draw.Over)
}

// paintShadow draws the blurred, offset mask in the shadow colour.
// A canvas shadow blur of B corresponds to a Gaussian with sigma B/2.
func (r *Raster) paintShadow(mask *image.Alpha, origin image.Point) {
	var sm image.Image = mask
	if sigma := r.shadow.Blur / 2; sigma > 0 {
		sm = imaging.Blur(mask, sigma)
	}
	offset := image.Pt(int(math.Round(r.shadow.OffsetX)), int(math.Round(r.shadow.OffsetY)))
	dr := mask.Bounds().Add(origin).Add(offset)
	draw.DrawMask(r.img, dr, image.NewUniform(r.shadow.Color), image.Point{}, sm, image.Point{}, draw.Over)
}

// dilate grows mask by radius pixels, turning a glyph mask into the area
// covered by an outline of width 2*radius.
func dilate(mask *image.Alpha, radius float64) *image.Alpha {
	if radius <= 0 {
		return mask
	}
	ri := int(math.Ceil(radius))
	type offset struct{ dx, dy int }
	var offsets []offset
	for dy := -ri; dy <= ri; dy++ {
		for dx := -ri; dx <= ri; dx++ {
			if float64(dx*dx+dy*dy) <= radius*radius+0.5 {
				offsets = append(offsets, offset{dx, dy})
			}
		}
	}

	b := mask.Bounds()
	out := image.NewAlpha(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			var best uint8
			for _, o := range offsets {
				sx, sy := x+o.dx, y+o.dy
				if sx < b.Min.X || sx >= b.Max.X || sy < b.Min.Y || sy >= b.Max.Y {
					continue
				}
				if a := mask.Pix[mask.PixOffset(sx, sy)]; a > best {
					best = a
				}
			}
			out.Pix[out.PixOffset(x, y)] = best
		}
	}
	return out
}

func fallbackFace() font.Face {
	return basicfont.Face7x13
}
