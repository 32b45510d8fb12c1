// Package layout places chat bubbles inside the message viewport.
//
// Compute is a pure function of the visible entries, the typing state and
// the metrics: the newest content is always fully visible, older messages
// that no longer fit are dropped whole, never clipped.
package layout

import (
	"github.com/ivlev/chat2video/internal/chat"
	"github.com/ivlev/chat2video/internal/typeset"
)

// Caret is appended to in-progress text.
const Caret = "|"

// State is what the viewer sees at one instant.
type State struct {
	// Visible is the number of leading entries already sent.
	Visible int
	// Draft is the sender text being composed. With the keyboard hidden it is
	// shown as a pinned typing bubble.
	Draft string
	// Indicator, when set, shows the three-dot bubble for that participant.
	Indicator *chat.Participant
}

type Bubble struct {
	// Index of the entry, -1 for the typing and indicator bubbles.
	Index       int
	Participant chat.Participant
	IsSender    bool
	Rect        Rect
	Lines       []string

	ShowName bool
	NameY    float64

	ShowAvatar bool
	Avatar     Rect
}

type Result struct {
	Bubbles    []Bubble
	StartIndex int
	// Top is the y of the first drawn row, Height the height of the block.
	Top    float64
	Height float64

	Typing    *Bubble
	Indicator *Bubble
}

// Engine wraps text with one typesetter; like the typesetter it is meant
// for a single goroutine.
type Engine struct {
	M  Metrics
	ts *typeset.Typesetter
}

func New(m Metrics, ts *typeset.Typesetter) *Engine {
	return &Engine{M: m, ts: ts}
}

type measured struct {
	lines  []string
	width  float64
	height float64 // bubble only
	row    float64 // bubble + name band + spacing
}

func (e *Engine) measure(text string, isSender bool) measured {
	face := e.ts.Face(e.M.FontSize, typeset.Regular)
	lines := typeset.Wrap(face, text, e.M.MaxBubbleWidth-2*e.M.PadX)

	widest := 0.0
	for _, l := range lines {
		if w := typeset.Measure(face, l); w > widest {
			widest = w
		}
	}

	m := measured{
		lines:  lines,
		width:  widest + 2*e.M.PadX,
		height: float64(len(lines))*e.M.LineHeight + 2*e.M.PadY,
	}
	m.row = m.height + e.M.Spacing
	if e.M.Group && !isSender {
		m.row += e.M.NameBand
	}
	return m
}

// RowHeight is the vertical space one entry takes in the message list.
func (e *Engine) RowHeight(entry chat.Entry) float64 {
	return e.measure(entry.Message.Text, entry.IsSender()).row
}

func (e *Engine) indicatorRow() float64 {
	return e.M.IndicatorHeight + e.M.Spacing
}

func (e *Engine) Compute(entries []chat.Entry, st State) Result {
	n := st.Visible
	if n > len(entries) {
		n = len(entries)
	}
	if n < 0 {
		n = 0
	}

	rows := make([]measured, n)
	all := 0.0
	for i := 0; i < n; i++ {
		rows[i] = e.measure(entries[i].Message.Text, entries[i].IsSender())
		all += rows[i].row
	}

	var typing *measured
	if st.Draft != "" && !e.M.Keyboard {
		t := e.measure(st.Draft+Caret, true)
		typing = &t
	}

	pinned := 0.0
	if typing != nil {
		pinned += typing.row
	}
	if st.Indicator != nil {
		pinned += e.indicatorRow()
	}

	vh := e.M.ViewportHeight()
	res := Result{StartIndex: 0}

	// Отступ под последней строкой в блок не входит
	if block := e.block(all + pinned); block <= vh {
		res.Height = block
		res.Top = e.M.ViewportBottom - res.Height
	} else {
		total := pinned
		res.StartIndex = n
		for i := n - 1; i >= 0; i-- {
			// Самое новое сообщение оставляем, даже если оно не влезает
			if e.block(total+rows[i].row) > vh && res.StartIndex < n {
				break
			}
			total += rows[i].row
			res.StartIndex = i
		}
		res.Height = e.block(total)
		res.Top = e.M.ViewportTop
	}

	y := res.Top
	for i := res.StartIndex; i < n; i++ {
		b := e.place(i, entries[i].Participant, entries[i].IsSender(), rows[i], y)
		res.Bubbles = append(res.Bubbles, b)
		y += rows[i].row
	}
	if typing != nil {
		b := e.place(-1, chat.Participant{IsSender: true}, true, *typing, y)
		res.Typing = &b
		y += typing.row
	}
	if st.Indicator != nil {
		b := e.placeIndicator(*st.Indicator, y)
		res.Indicator = &b
	}
	return res
}

// block is the drawn height of rows summing to rows, without the gap after
// the last one.
func (e *Engine) block(rows float64) float64 {
	return max(0, rows-e.M.Spacing)
}

func (e *Engine) place(index int, p chat.Participant, isSender bool, m measured, y float64) Bubble {
	b := Bubble{Index: index, Participant: p, IsSender: isSender, Lines: m.lines}
	ph := e.M.Phone

	if e.M.Group && !isSender {
		b.ShowName = true
		b.NameY = y
		y += e.M.NameBand
	}

	b.Rect = Rect{Y: y, W: m.width, H: m.height}
	switch {
	case isSender:
		b.Rect.X = ph.Right() - e.M.SidePadding - m.width
	case e.M.Group:
		b.Rect.X = ph.X + e.M.SidePadding + e.M.AvatarSize + e.M.AvatarMargin
		b.ShowAvatar = true
		b.Avatar = Rect{X: ph.X + e.M.SidePadding, Y: b.Rect.Bottom() - e.M.AvatarSize, W: e.M.AvatarSize, H: e.M.AvatarSize}
	default:
		b.Rect.X = ph.X + e.M.SidePadding
	}
	return b
}

func (e *Engine) placeIndicator(p chat.Participant, y float64) Bubble {
	b := Bubble{Index: -1, Participant: p}
	ph := e.M.Phone
	b.Rect = Rect{X: ph.X + e.M.SidePadding, Y: y, W: e.M.IndicatorWidth, H: e.M.IndicatorHeight}
	if e.M.Group {
		b.Rect.X += e.M.AvatarSize + e.M.AvatarMargin
		b.ShowAvatar = true
		b.Avatar = Rect{X: ph.X + e.M.SidePadding, Y: b.Rect.Bottom() - e.M.AvatarSize, W: e.M.AvatarSize, H: e.M.AvatarSize}
	}
	return b
}

// Paginate splits entries into consecutive ranges [start, end) that each fit
// the viewport. A single entry taller than the viewport gets its own page.
func (e *Engine) Paginate(entries []chat.Entry) [][2]int {
	var pages [][2]int
	vh := e.M.ViewportHeight()
	start, used := 0, 0.0
	for i, entry := range entries {
		h := e.RowHeight(entry)
		if e.block(used+h) > vh && i > start {
			pages = append(pages, [2]int{start, i})
			start, used = i, 0
		}
		used += h
	}
	if start < len(entries) {
		pages = append(pages, [2]int{start, len(entries)})
	}
	return pages
}
