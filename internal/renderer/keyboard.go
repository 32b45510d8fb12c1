package renderer

import (
	"image/color"
	"math"
	"unicode/utf8"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"

	"github.com/ivlev/chat2video/internal/layout"
	"github.com/ivlev/chat2video/internal/typeset"
)

var keyRows = [3]string{"qwertyuiop", "asdfghjkl", "zxcvbnm"}

// drawKeyboard draws the input bar and the keyboard below it. The key for
// highlight (lower-cased; ' ' for the space bar) is shown pressed.
func (r *Renderer) drawKeyboard(dst draw.Image, draft string, highlight rune) {
	m, ph := r.M, r.M.Phone
	kbY := ph.Bottom() - m.KeyboardHeight

	r.drawInput(dst, draft, kbY)

	fillRect(dst, layout.Rect{X: ph.X, Y: kbY, W: ph.W, H: m.KeyboardHeight}, r.pal.KeyboardBackground)

	keyH, gap, rowGap, side := m.P(38), m.P(5), m.P(8), m.P(3)
	width := ph.W - 2*side
	keyFace := r.ts.Face(m.P(16), typeset.Regular)
	smallFace := r.ts.Face(m.P(11), typeset.Regular)

	y := kbY + m.P(8)

	// Буквы
	indent := [3]float64{0, m.P(16), 0}
	special := m.P(38)
	for row, keys := range keyRows {
		n := float64(utf8.RuneCountInString(keys))
		keyW := (width - (n-1)*gap - indent[row]) / n
		x := ph.X + side + indent[row]/2
		if row == 2 {
			keyW = (width - (n-1)*gap - 2*special - 2*gap) / n
			shift := layout.Rect{X: ph.X + side, Y: y, W: special, H: keyH}
			r.key(dst, shift, r.pal.SpecialKey)
			r.drawShift(dst, shift)
			x = shift.Right() + gap
		}
		for _, k := range keys {
			rect := layout.Rect{X: x, Y: y, W: keyW, H: keyH}
			r.letterKey(dst, rect, k, highlight == k, keyFace)
			x += keyW + gap
		}
		if row == 2 {
			back := layout.Rect{X: ph.Right() - side - special, Y: y, W: special, H: keyH}
			r.key(dst, back, r.pal.SpecialKey)
			r.drawBackspace(dst, back)
		}
		y += keyH + rowGap
	}

	// 123, эмодзи, пробел, ввод
	numW, emojiW, retW := m.P(38), m.P(36), m.P(60)
	spaceW := ph.W - numW - emojiW - retW - 3*gap - 2*side
	x := ph.X + side

	num := layout.Rect{X: x, Y: y, W: numW, H: keyH}
	r.key(dst, num, r.pal.SpecialKey)
	r.label(dst, num, "123", smallFace)
	x += numW + gap

	emoji := layout.Rect{X: x, Y: y, W: emojiW, H: keyH}
	r.key(dst, emoji, r.pal.SpecialKey)
	r.drawSmiley(dst, emoji)
	x += emojiW + gap

	space := layout.Rect{X: x, Y: y, W: spaceW, H: keyH}
	spaceColor := r.pal.Key
	if highlight == ' ' {
		spaceColor = r.pal.KeyHighlight
	}
	r.key(dst, space, spaceColor)
	r.label(dst, space, "space", smallFace)
	x += spaceW + gap

	ret := layout.Rect{X: x, Y: y, W: retW, H: keyH}
	r.key(dst, ret, r.pal.SpecialKey)
	r.label(dst, ret, "return", smallFace)
}

func (r *Renderer) drawInput(dst draw.Image, draft string, kbY float64) {
	m, ph := r.M, r.M.Phone
	h := m.P(32)
	field := layout.Rect{X: ph.X + m.P(8), Y: kbY - h - m.P(10), W: ph.W - m.P(54), H: h}

	border := math.Max(1, m.P(0.5))
	fillRoundRect(dst, field, uniform(m.P(16)), r.pal.InputBorder)
	inner := layout.Rect{X: field.X + border, Y: field.Y + border, W: field.W - 2*border, H: field.H - 2*border}
	fillRoundRect(dst, inner, uniform(m.P(16)-border), r.pal.Input)

	face := r.ts.Face(m.P(15), typeset.Regular)
	cy := field.Y + h/2
	if draft == "" {
		r.text(dst, face, "iMessage", field.X+m.P(12), cy, r.pal.Placeholder)
	} else {
		// Курсор всегда виден: отрезаем начало строки
		text := tailToWidth(face, draft+layout.Caret, field.W-m.P(24))
		r.text(dst, face, text, field.X+m.P(12), cy, r.pal.KeyText)
	}

	send := m.P(28)
	scx := ph.Right() - m.P(12) - send/2
	fillCircle(dst, scx, cy, send/2, r.pal.Accent)
	fillPolygon(dst, [][2]float64{
		{scx, cy - m.P(8)},
		{scx + m.P(6), cy - m.P(1)},
		{scx + m.P(2), cy - m.P(1)},
		{scx + m.P(2), cy + m.P(8)},
		{scx - m.P(2), cy + m.P(8)},
		{scx - m.P(2), cy - m.P(1)},
		{scx - m.P(6), cy - m.P(1)},
	}, white)
}

func (r *Renderer) key(dst draw.Image, rect layout.Rect, c color.RGBA) {
	fillRoundRect(dst, rect, uniform(r.M.P(5)), c)
}

func (r *Renderer) letterKey(dst draw.Image, rect layout.Rect, k rune, pressed bool, face font.Face) {
	c := r.pal.Key
	if pressed {
		c = r.pal.KeyHighlight
	}
	r.key(dst, rect, c)
	r.label(dst, rect, string(k), face)
}

func (r *Renderer) label(dst draw.Image, rect layout.Rect, s string, face font.Face) {
	typeset.DrawCentered(dst, face, s, rect.X+rect.W/2, rect.Y+rect.H/2, r.pal.KeyText)
}

// text draws s left-aligned and vertically centered on cy.
func (r *Renderer) text(dst draw.Image, face font.Face, s string, x, cy float64, c color.RGBA) {
	typeset.Draw(dst, face, s, x, cy+(typeset.Ascent(face)-typeset.Descent(face))/2, c)
}

func (r *Renderer) drawShift(dst draw.Image, key layout.Rect) {
	m := r.M
	cx, cy := key.X+key.W/2, key.Y+key.H/2
	fillPolygon(dst, [][2]float64{
		{cx, cy - m.P(8)},
		{cx + m.P(8), cy},
		{cx + m.P(3.5), cy},
		{cx + m.P(3.5), cy + m.P(7)},
		{cx - m.P(3.5), cy + m.P(7)},
		{cx - m.P(3.5), cy},
		{cx - m.P(8), cy},
	}, r.pal.KeyText)
}

func (r *Renderer) drawBackspace(dst draw.Image, key layout.Rect) {
	m := r.M
	cx, cy := key.X+key.W/2, key.Y+key.H/2
	fillPolygon(dst, [][2]float64{
		{cx - m.P(10), cy},
		{cx - m.P(4), cy - m.P(6)},
		{cx + m.P(9), cy - m.P(6)},
		{cx + m.P(9), cy + m.P(6)},
		{cx - m.P(4), cy + m.P(6)},
	}, r.pal.KeyText)
}

func (r *Renderer) drawSmiley(dst draw.Image, key layout.Rect) {
	m := r.M
	cx, cy := key.X+key.W/2, key.Y+key.H/2
	fillCircle(dst, cx, cy, m.P(8), r.pal.KeyText)
	fillCircle(dst, cx, cy, m.P(6.8), r.pal.SpecialKey)
	fillCircle(dst, cx-m.P(2.5), cy-m.P(2), m.P(1.1), r.pal.KeyText)
	fillCircle(dst, cx+m.P(2.5), cy-m.P(2), m.P(1.1), r.pal.KeyText)
	fillRoundRect(dst, layout.Rect{X: cx - m.P(3), Y: cy + m.P(2), W: m.P(6), H: m.P(1.5)}, uniform(m.P(0.75)), r.pal.KeyText)
}

// tailToWidth drops leading runes until s fits.
func tailToWidth(face font.Face, s string, width float64) string {
	for typeset.Measure(face, s) > width && utf8.RuneCountInString(s) > 1 {
		_, size := utf8.DecodeRuneInString(s)
		s = s[size:]
	}
	return s
}

// ellipsize shortens s with a trailing ellipsis until it fits.
func ellipsize(face font.Face, s string, width float64) string {
	if typeset.Measure(face, s) <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 1 {
		runes = runes[:len(runes)-1]
		if c := string(runes) + "…"; typeset.Measure(face, c) <= width {
			return c
		}
	}
	return string(runes)
}
