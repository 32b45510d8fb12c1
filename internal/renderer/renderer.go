// Package renderer rasterizes chat frames: phone chrome, bubbles, typing
// indicator and keyboard, laid out by package layout.
package renderer

import (
	"fmt"
	"image"
	"image/color"
	"strings"
	"unicode"

	"golang.org/x/image/draw"

	"github.com/ivlev/chat2video/internal/chat"
	"github.com/ivlev/chat2video/internal/config"
	"github.com/ivlev/chat2video/internal/layout"
	"github.com/ivlev/chat2video/internal/typeset"
)

var white = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// FrameState is everything that varies between frames.
type FrameState struct {
	// Entries [From, Visible) are shown as sent messages.
	From    int
	Visible int
	// Draft is the text in the input field, or the typing bubble when the
	// keyboard is hidden.
	Draft string
	// Indicator shows the typing dots for this participant.
	Indicator *chat.Participant
	DotPhase  int
	// Highlight is the key pressed on this frame, 0 for none.
	Highlight rune
}

// HighlightFor returns the key that was just pressed to produce draft.
func HighlightFor(draft string) rune {
	runes := []rune(draft)
	if len(runes) == 0 {
		return 0
	}
	return unicode.ToLower(runes[len(runes)-1])
}

// Renderer owns the canvases and caches of one export. It is not safe for
// concurrent use; parallel callers create one Renderer each.
type Renderer struct {
	Verbose bool

	snap     chat.Snapshot
	settings config.ExportSettings
	pal      Palette
	ss       int

	M      layout.Metrics
	layout *layout.Engine
	ts     *typeset.Typesetter

	canvas *image.RGBA
	out    *image.RGBA

	decoded map[string]image.Image
	avatars map[avatarKey]*image.RGBA
	masks   map[int]*image.Alpha
}

// New prepares a renderer for the preset size times supersample.
func New(snap chat.Snapshot, settings config.ExportSettings, supersample int) (*Renderer, error) {
	if !settings.Preset.Valid() {
		return nil, fmt.Errorf("invalid resolution preset %d", int(settings.Preset))
	}
	if supersample < 1 {
		supersample = 1
	}

	ts, err := typeset.New()
	if err != nil {
		return nil, fmt.Errorf("load fonts: %w", err)
	}

	w, h := settings.Preset.Size()
	m := layout.NewMetrics(w*supersample, h*supersample, snap.IsGroup, settings.ShowKeyboard)

	r := &Renderer{
		snap:     snap,
		settings: settings,
		pal:      PaletteFor(settings.Theme, settings.DarkMode),
		ss:       supersample,
		M:        m,
		layout:   layout.New(m, ts),
		ts:       ts,
		canvas:   image.NewRGBA(image.Rect(0, 0, w*supersample, h*supersample)),
		decoded:  make(map[string]image.Image),
		avatars:  make(map[avatarKey]*image.RGBA),
		masks:    make(map[int]*image.Alpha),
	}
	r.out = r.canvas
	if supersample > 1 {
		r.out = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	return r, nil
}

func (r *Renderer) Close() { r.ts.Close() }

// Layout is the bubble geometry for st.
func (r *Renderer) Layout(st FrameState) layout.Result {
	entries := r.snap.Entries
	from := max(0, min(st.From, len(entries)))
	return r.layout.Compute(entries[from:], layout.State{
		Visible:   st.Visible - from,
		Draft:     st.Draft,
		Indicator: st.Indicator,
	})
}

// Paginate splits the conversation into pages that each fit the viewport.
func (r *Renderer) Paginate() [][2]int { return r.layout.Paginate(r.snap.Entries) }

// Render draws one frame. The returned image is owned by the renderer and
// is overwritten by the next call.
func (r *Renderer) Render(st FrameState) (img *image.RGBA, err error) {
	defer func() {
		if p := recover(); p != nil {
			img, err = nil, fmt.Errorf("rasterize frame: %v", p)
		}
	}()

	res := r.Layout(st)
	c := r.canvas

	draw.Draw(c, c.Bounds(), image.Black, image.Point{}, draw.Src)
	fillRect(c, r.M.Phone, r.pal.Background)

	r.drawHeader(c)

	vp := c.SubImage(r.M.Viewport().Image()).(*image.RGBA)
	for _, b := range res.Bubbles {
		r.drawBubble(vp, b)
	}
	if res.Typing != nil {
		r.drawBubble(vp, *res.Typing)
	}
	if res.Indicator != nil {
		r.drawIndicator(vp, *res.Indicator, st.DotPhase)
	}

	if r.settings.ShowKeyboard {
		r.drawKeyboard(c, st.Draft, st.Highlight)
	}

	if r.ss == 1 {
		return c, nil
	}
	draw.CatmullRom.Scale(r.out, r.out.Bounds(), c, c.Bounds(), draw.Src, nil)
	return r.out, nil
}

func (r *Renderer) drawBubble(dst draw.Image, b layout.Bubble) {
	m := r.M
	fill, text := r.pal.ReceiverBubble, r.pal.ReceiverText
	if b.IsSender {
		fill, text = r.pal.SenderBubble, r.pal.SenderText
	}

	if b.ShowName {
		face := r.ts.Face(m.NameFontSize, typeset.Regular)
		typeset.DrawTop(dst, face, displayName(b.Participant), b.Rect.X+m.P(4), b.NameY+m.P(2), r.pal.Secondary)
	}
	if b.ShowAvatar {
		r.drawAvatar(dst, b.Participant, b.Avatar)
	}

	bubbleShape(dst, b.Rect, m.Radius, m.Tail, b.IsSender, fill)

	face := r.ts.Face(m.FontSize, typeset.Regular)
	for i, line := range b.Lines {
		cy := b.Rect.Y + m.PadY + (float64(i)+0.5)*m.LineHeight
		x := b.Rect.X + m.PadX
		typeset.Draw(dst, face, line, x, cy+(typeset.Ascent(face)-typeset.Descent(face))/2, text)
	}
}

func (r *Renderer) drawIndicator(dst draw.Image, b layout.Bubble, phase int) {
	m := r.M
	if b.ShowAvatar {
		r.drawAvatar(dst, b.Participant, b.Avatar)
	}
	bubbleShape(dst, b.Rect, m.Radius, m.Tail, false, r.pal.ReceiverBubble)

	radius := m.P(4)
	cy := b.Rect.Y + b.Rect.H/2
	for i := 0; i < 3; i++ {
		lift := dotLift(phase, i)
		cx := b.Rect.X + m.P(18) + float64(i)*m.P(12)
		c := lerpColor(r.pal.Dot, r.pal.ReceiverText, lift*0.35)
		fillCircle(dst, cx, cy-lift*m.P(3), radius, c)
	}
}

func displayName(p chat.Participant) string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	return "Unknown"
}
