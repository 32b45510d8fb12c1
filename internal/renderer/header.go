package renderer

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/image/draw"

	"github.com/ivlev/chat2video/internal/layout"
	"github.com/ivlev/chat2video/internal/typeset"
)

const headerTime = "Today 9:41 AM"

func (r *Renderer) drawHeader(dst draw.Image) {
	if r.snap.IsGroup {
		r.drawGroupHeader(dst)
	} else {
		r.drawContactHeader(dst)
	}
}

func (r *Renderer) separator(dst draw.Image, y float64) {
	ph := r.M.Phone
	fillRect(dst, layout.Rect{X: ph.X, Y: y, W: ph.W, H: math.Max(1, r.M.P(0.5))}, r.pal.Separator)
}

// drawContactHeader: avatar, "Name ›", separator, service label and time.
func (r *Renderer) drawContactHeader(dst draw.Image) {
	m, ph := r.M, r.M.Phone
	cx := ph.X + ph.W/2
	size := m.P(40)
	avatar := layout.Rect{X: cx - size/2, Y: ph.Y + m.P(8), W: size, H: size}

	name := r.snap.Title
	if contact, ok := r.snap.MainContact(); ok {
		r.drawAvatar(dst, contact, avatar)
		name = displayName(contact)
	} else {
		fillCircle(dst, cx, avatar.Y+size/2, size/2, hex("#C7C7CC"))
	}

	// back chevron and video button share the avatar's center line
	rowY := avatar.Y + size/2
	typeset.DrawCentered(dst, r.ts.Face(m.P(38), typeset.Regular), "‹", ph.X+m.P(18), rowY-m.P(3), r.pal.Accent)
	r.drawVideoIcon(dst, ph.Right()-m.P(16), rowY)

	nameTop := avatar.Bottom() + m.P(2)
	typeset.DrawCentered(dst, r.ts.Face(m.SmallFontSize, typeset.Regular), name+" ›", cx, nameTop+m.P(8), r.pal.HeaderText)

	sepY := nameTop + m.P(20)
	r.separator(dst, sepY)

	small := r.ts.Face(m.P(11), typeset.Regular)
	typeset.DrawCentered(dst, small, "iMessage", cx, sepY+m.P(14), r.pal.Secondary)
	typeset.DrawCentered(dst, small, headerTime, cx, sepY+m.P(28), r.pal.Secondary)
}

// drawVideoIcon draws a camera glyph whose right edge is at right.
func (r *Renderer) drawVideoIcon(dst draw.Image, right, cy float64) {
	m := r.M
	body := layout.Rect{X: right - m.P(26), Y: cy - m.P(7), W: m.P(18), H: m.P(14)}
	fillRoundRect(dst, body, uniform(m.P(3)), r.pal.Accent)
	fillPolygon(dst, [][2]float64{
		{body.Right() + m.P(1), cy - m.P(2)},
		{right, cy - m.P(6)},
		{right, cy + m.P(6)},
		{body.Right() + m.P(1), cy + m.P(2)},
	}, r.pal.Accent)
}

// drawGroupHeader: up to three stacked avatars, the title and member count.
func (r *Renderer) drawGroupHeader(dst draw.Image) {
	m, ph := r.M, r.M.Phone
	cx := ph.X + ph.W/2

	members := r.snap.Receivers()
	if len(members) > 3 {
		members = members[:3]
	}

	size, overlap := m.P(36), m.P(12)
	total := float64(len(members))*size - float64(max(len(members)-1, 0))*overlap
	x := cx - total/2
	top := ph.Y + m.P(8)
	for _, p := range members {
		// a ring of background color separates overlapping avatars
		fillCircle(dst, x+size/2, top+size/2, size/2+m.P(1.5), r.pal.Background)
		r.drawAvatar(dst, p, layout.Rect{X: x, Y: top, W: size, H: size})
		x += size - overlap
	}

	title := strings.TrimSpace(r.snap.Title)
	if title == "" {
		names := make([]string, 0, len(members))
		for _, p := range r.snap.Receivers() {
			names = append(names, displayName(p))
		}
		title = strings.Join(names, ", ")
	}
	titleFace := r.ts.Face(m.P(14), typeset.Bold)
	title = ellipsize(titleFace, title, ph.W-m.P(40))
	typeset.DrawCentered(dst, titleFace, title, cx, top+size+m.P(14), r.pal.HeaderText)

	count := fmt.Sprintf("%d people", len(r.snap.Participants))
	typeset.DrawCentered(dst, r.ts.Face(m.P(11), typeset.Regular), count, cx, top+size+m.P(32), r.pal.Secondary)

	r.separator(dst, ph.Y+m.HeaderHeight-math.Max(1, m.P(0.5)))
}
