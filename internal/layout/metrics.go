package layout

import (
	"image"
	"math"
)

// ReferenceWidth is the phone width, in points, every dimension is expressed in.
const ReferenceWidth = 390.0

// PhoneAspect is width/height of the phone frame.
const PhoneAspect = 9.0 / 16.0

// Rect is an axis-aligned rectangle in canvas pixels.
type Rect struct {
	X, Y, W, H float64
}

func (r Rect) Right() float64  { return r.X + r.W }
func (r Rect) Bottom() float64 { return r.Y + r.H }

// Image rounds the rectangle outward to integer pixels.
func (r Rect) Image() image.Rectangle {
	return image.Rect(
		int(math.Floor(r.X)), int(math.Floor(r.Y)),
		int(math.Ceil(r.Right())), int(math.Ceil(r.Bottom())),
	)
}

// Metrics holds every layout dimension for one canvas, already scaled.
type Metrics struct {
	Width, Height float64
	Phone         Rect
	Scale         float64
	Group         bool
	Keyboard      bool

	FontSize      float64
	NameFontSize  float64
	SmallFontSize float64
	LineHeight    float64
	PadX, PadY    float64
	Spacing       float64
	NameBand      float64

	SidePadding    float64
	AvatarSize     float64
	AvatarMargin   float64
	Radius         float64
	Tail           float64
	MaxBubbleWidth float64

	HeaderHeight   float64
	KeyboardHeight float64
	InputBarHeight float64

	IndicatorWidth  float64
	IndicatorHeight float64

	ViewportTop    float64
	ViewportBottom float64
}

// NewMetrics fits the largest 9:16 phone frame into the canvas and scales
// the point constants to its width.
func NewMetrics(width, height int, group, keyboard bool) Metrics {
	w, h := float64(width), float64(height)

	phone := Rect{W: w, H: math.Floor(w / PhoneAspect)}
	if w/h > PhoneAspect {
		phone = Rect{W: math.Floor(h * PhoneAspect), H: h}
	}
	phone.X = math.Floor((w - phone.W) / 2)
	phone.Y = math.Floor((h - phone.H) / 2)

	s := phone.W / ReferenceWidth
	m := Metrics{
		Width:    w,
		Height:   h,
		Phone:    phone,
		Scale:    s,
		Group:    group,
		Keyboard: keyboard,

		FontSize:      17 * s,
		NameFontSize:  12 * s,
		SmallFontSize: 13 * s,
		LineHeight:    22 * s,
		PadX:          12 * s,
		PadY:          7 * s,
		Spacing:       8 * s,
		NameBand:      18 * s,

		SidePadding:    16 * s,
		AvatarSize:     28 * s,
		AvatarMargin:   6 * s,
		Radius:         18 * s,
		Tail:           8 * s,
		MaxBubbleWidth: phone.W * 0.75,

		HeaderHeight:   120 * s,
		KeyboardHeight: 216 * s,
		InputBarHeight: 52 * s,

		IndicatorWidth:  60 * s,
		IndicatorHeight: 36 * s,
	}
	if group {
		m.HeaderHeight = 100 * s
	}

	m.ViewportTop = phone.Y + m.HeaderHeight + 10*s
	if keyboard {
		m.ViewportBottom = phone.Bottom() - m.KeyboardHeight - m.InputBarHeight - 10*s
	} else {
		m.ViewportBottom = phone.Bottom() - 20*s
	}
	return m
}

// P converts points to pixels.
func (m Metrics) P(points float64) float64 { return points * m.Scale }

func (m Metrics) ViewportHeight() float64 { return m.ViewportBottom - m.ViewportTop }

// Viewport is the message area between the header and the bottom chrome.
func (m Metrics) Viewport() Rect {
	return Rect{X: m.Phone.X, Y: m.ViewportTop, W: m.Phone.W, H: m.ViewportHeight()}
}
