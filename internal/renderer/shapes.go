package renderer

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/vector"

	"github.com/ivlev/chat2video/internal/layout"
)

// kappa places cubic control points for a quarter circle.
const kappa = 0.5522847498

// pen builds a path in canvas coordinates over a rasterizer sized to the
// shape's bounding box.
type pen struct {
	z      *vector.Rasterizer
	origin image.Point
}

func newPen(bounds image.Rectangle) *pen {
	return &pen{z: vector.NewRasterizer(bounds.Dx(), bounds.Dy()), origin: bounds.Min}
}

func (p *pen) pt(x, y float64) (float32, float32) {
	return float32(x - float64(p.origin.X)), float32(y - float64(p.origin.Y))
}

func (p *pen) moveTo(x, y float64) { p.z.MoveTo(p.pt(x, y)) }
func (p *pen) lineTo(x, y float64) { p.z.LineTo(p.pt(x, y)) }

func (p *pen) cubeTo(x1, y1, x2, y2, x, y float64) {
	ax, ay := p.pt(x1, y1)
	bx, by := p.pt(x2, y2)
	cx, cy := p.pt(x, y)
	p.z.CubeTo(ax, ay, bx, by, cx, cy)
}

// fill composites c through the accumulated coverage. DrawMask clips to
// dst, so shapes may extend past a sub-image.
func (p *pen) fill(dst draw.Image, c color.Color) {
	size := p.z.Size()
	if size.X <= 0 || size.Y <= 0 {
		return
	}
	p.z.ClosePath()
	mask := image.NewAlpha(image.Rect(0, 0, size.X, size.Y))
	p.z.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})
	r := image.Rectangle{Min: p.origin, Max: p.origin.Add(size)}
	draw.DrawMask(dst, r, image.NewUniform(c), image.Point{}, mask, image.Point{}, draw.Over)
}

// Corner radii, clockwise from the top-left.
type radii [4]float64

func uniform(r float64) radii { return radii{r, r, r, r} }

func roundRectPath(p *pen, r layout.Rect, rad radii) {
	limit := math.Min(r.W, r.H) / 2
	for i := range rad {
		rad[i] = math.Max(0, math.Min(rad[i], limit))
	}
	tl, tr, br, bl := rad[0], rad[1], rad[2], rad[3]
	x0, y0, x1, y1 := r.X, r.Y, r.Right(), r.Bottom()

	p.moveTo(x0+tl, y0)
	p.lineTo(x1-tr, y0)
	p.cubeTo(x1-tr+kappa*tr, y0, x1, y0+tr-kappa*tr, x1, y0+tr)
	p.lineTo(x1, y1-br)
	p.cubeTo(x1, y1-br+kappa*br, x1-br+kappa*br, y1, x1-br, y1)
	p.lineTo(x0+bl, y1)
	p.cubeTo(x0+bl-kappa*bl, y1, x0, y1-bl+kappa*bl, x0, y1-bl)
	p.lineTo(x0, y0+tl)
	p.cubeTo(x0, y0+tl-kappa*tl, x0+tl-kappa*tl, y0, x0+tl, y0)
}

func fillRoundRect(dst draw.Image, r layout.Rect, rad radii, c color.Color) {
	p := newPen(r.Image())
	roundRectPath(p, r, rad)
	p.fill(dst, c)
}

func fillRect(dst draw.Image, r layout.Rect, c color.Color) {
	draw.Draw(dst, r.Image(), image.NewUniform(c), image.Point{}, draw.Over)
}

func fillCircle(dst draw.Image, cx, cy, radius float64, c color.Color) {
	fillRoundRect(dst, layout.Rect{X: cx - radius, Y: cy - radius, W: 2 * radius, H: 2 * radius}, uniform(radius), c)
}

func fillPolygon(dst draw.Image, pts [][2]float64, c color.Color) {
	if len(pts) < 3 {
		return
	}
	minX, minY := pts[0][0], pts[0][1]
	maxX, maxY := minX, minY
	for _, pt := range pts[1:] {
		minX, maxX = math.Min(minX, pt[0]), math.Max(maxX, pt[0])
		minY, maxY = math.Min(minY, pt[1]), math.Max(maxY, pt[1])
	}

	p := newPen(layout.Rect{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}.Image())
	p.moveTo(pts[0][0], pts[0][1])
	for _, pt := range pts[1:] {
		p.lineTo(pt[0], pt[1])
	}
	p.fill(dst, c)
}

// circleMask is an anti-aliased disc filling a size x size square.
func circleMask(size int) *image.Alpha {
	mask := image.NewAlpha(image.Rect(0, 0, size, size))
	s := float64(size)
	p := newPen(mask.Bounds())
	roundRectPath(p, layout.Rect{W: s, H: s}, uniform(s/2))
	p.z.ClosePath()
	p.z.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})
	return mask
}

// bubbleShape draws a chat bubble. The bottom corner on the author's side
// is squared off into a short tail.
func bubbleShape(dst draw.Image, r layout.Rect, radius, tail float64, isSender bool, c color.Color) {
	rad := uniform(radius)
	small := math.Min(radius, tail/2)
	if isSender {
		rad[2] = small
		fillPolygon(dst, [][2]float64{
			{r.Right() - tail, r.Bottom() - 2*tail},
			{r.Right() + tail*0.75, r.Bottom()},
			{r.Right() - 2*tail, r.Bottom()},
		}, c)
	} else {
		rad[3] = small
		fillPolygon(dst, [][2]float64{
			{r.X + tail, r.Bottom() - 2*tail},
			{r.X - tail*0.75, r.Bottom()},
			{r.X + 2*tail, r.Bottom()},
		}, c)
	}
	fillRoundRect(dst, r, rad, c)
}
