package timeline

import (
	"math"

	"github.com/ivlev/chat2video/internal/chat"
)

// Pacing constants. They were tuned by eye for readable videos; keep them
// unless a new pacing requirement replaces them.
const (
	SendConfirmPause = 1.0 / 3.0 // seconds the typed text rests in the input before sending
	TrailingPause    = 2.0       // seconds after the last message

	ReadingCharsPerSecond   = 25.0
	ReadingMin, ReadingMax  = 1.5, 3.0
	IndicatorCharsPerSecond = 20.0
	IndicatorMin            = 1.5
	IndicatorMax            = 2.5
)

type EventKind int

const (
	TypingIndicator EventKind = iota
	CharacterTyped
	MessageSettled
	Pause
)

func (k EventKind) String() string {
	switch k {
	case TypingIndicator:
		return "typing_indicator"
	case CharacterTyped:
		return "character_typed"
	case MessageSettled:
		return "message_settled"
	default:
		return "pause"
	}
}

func (k EventKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *EventKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "typing_indicator":
		*k = TypingIndicator
	case "character_typed":
		*k = CharacterTyped
	case "message_settled":
		*k = MessageSettled
	default:
		*k = Pause
	}
	return nil
}

// Event is one contiguous span of identical-looking frames.
//
// Visible is the number of leading snapshot entries shown as settled bubbles
// during the span. Draft is the text sitting in the sender's input (typing
// and send-confirm spans only). MessageIndex is the entry the span belongs
// to, -1 for the trailing pause.
type Event struct {
	Kind          EventKind `yaml:"kind"`
	Start         int       `yaml:"start"`
	Frames        int       `yaml:"frames"`
	MessageIndex  int       `yaml:"message"`
	ParticipantID string    `yaml:"participant,omitempty"`
	Draft         string    `yaml:"draft,omitempty"`
	Visible       int       `yaml:"visible"`
}

// End is the first frame after the span.
func (e Event) End() int { return e.Start + e.Frames }

// MessageTiming marks the instant a message becomes visible.
type MessageTiming struct {
	MessageID string  `yaml:"message_id"`
	Time      float64 `yaml:"time"`
	IsSender  bool    `yaml:"is_sender"`
}

type Timeline struct {
	FPS         int             `yaml:"fps"`
	TotalFrames int             `yaml:"total_frames"`
	Events      []Event         `yaml:"events"`
	Timings     []MessageTiming `yaml:"timings"`
}

// Duration in seconds.
func (t *Timeline) Duration() float64 {
	if t.FPS <= 0 {
		return 0
	}
	return float64(t.TotalFrames) / float64(t.FPS)
}

// EventAt finds the span containing frame. ok is false outside [0, TotalFrames).
func (t *Timeline) EventAt(frame int) (Event, bool) {
	lo, hi := 0, len(t.Events)
	for lo < hi {
		mid := (lo + hi) / 2
		switch e := t.Events[mid]; {
		case frame < e.Start:
			hi = mid
		case frame >= e.End():
			lo = mid + 1
		default:
			return e, true
		}
	}
	return Event{}, false
}

type Settings struct {
	FPS                 int
	CharDelay           float64
	ShowTypingIndicator bool
}

// FramesPerChar is max(1, round(charDelay*fps)).
func (s Settings) FramesPerChar() int {
	n := int(math.Round(s.CharDelay * float64(s.FPS)))
	if n < 1 {
		n = 1
	}
	return n
}

func (s Settings) frames(seconds float64) int {
	return int(math.Round(seconds * float64(s.FPS)))
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// ReadingPause is the dwell after a message appears, in seconds.
func ReadingPause(length int) float64 {
	return clamp(float64(length)/ReadingCharsPerSecond, ReadingMin, ReadingMax)
}

// IndicatorDuration is how long the typing dots run before a received message.
func IndicatorDuration(length int) float64 {
	return clamp(float64(length)/IndicatorCharsPerSecond, IndicatorMin, IndicatorMax)
}

// Build lays out every animation span for the entries in order.
func Build(entries []chat.Entry, s Settings) *Timeline {
	b := &builder{settings: s, tl: &Timeline{FPS: s.FPS}}

	for i, entry := range entries {
		text := []rune(entry.Message.Text)
		pid := entry.Participant.ID

		if entry.IsSender() {
			if len(text) > 0 {
				fpc := s.FramesPerChar()
				for n := 1; n <= len(text); n++ {
					b.add(Event{Kind: CharacterTyped, Frames: fpc, MessageIndex: i, ParticipantID: pid, Draft: string(text[:n]), Visible: i})
				}
				b.add(Event{Kind: Pause, Frames: s.frames(SendConfirmPause), MessageIndex: i, ParticipantID: pid, Draft: string(text), Visible: i})
			}
		} else if s.ShowTypingIndicator && len(text) > 0 {
			b.add(Event{Kind: TypingIndicator, Frames: s.frames(IndicatorDuration(len(text))), MessageIndex: i, ParticipantID: pid, Visible: i})
		}

		b.tl.Timings = append(b.tl.Timings, MessageTiming{
			MessageID: entry.Message.ID,
			Time:      float64(b.frame) / float64(s.FPS),
			IsSender:  entry.IsSender(),
		})

		b.add(Event{Kind: MessageSettled, Frames: s.frames(ReadingPause(len(text))), MessageIndex: i, ParticipantID: pid, Visible: i + 1})
	}

	b.add(Event{Kind: Pause, Frames: s.frames(TrailingPause), MessageIndex: -1, Visible: len(entries)})
	b.tl.TotalFrames = b.frame
	return b.tl
}

type builder struct {
	settings Settings
	tl       *Timeline
	frame    int
}

func (b *builder) add(e Event) {
	if e.Frames <= 0 {
		return
	}
	e.Start = b.frame
	b.frame += e.Frames
	b.tl.Events = append(b.tl.Events, e)
}
