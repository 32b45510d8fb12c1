package chat

import (
	"image/color"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Message is one scripted chat line. Text is empty for non-text messages.
type Message struct {
	ID            string
	Text          string
	ParticipantID string
	Order         int
}

// Avatar holds either encoded image bytes or an emoji glyph. Both may be empty.
type Avatar struct {
	Image []byte
	Emoji string
}

// Participant is a conversation member. Exactly one visual side: IsSender
// participants are drawn on the right.
type Participant struct {
	ID       string
	Name     string
	IsSender bool
	ColorHex string
	Avatar   Avatar
}

// Conversation is the mutable form handed over by the host application.
type Conversation struct {
	Title        string
	IsGroupChat  bool
	Messages     []Message
	Participants []Participant
}

var defaultAvatarColor = color.RGBA{R: 0x8E, G: 0x8E, B: 0x93, A: 0xFF}

// Color parses ColorHex (#RGB, #RRGGBB or #RRGGBBAA). Unparseable values
// resolve to the neutral gray used for placeholders.
func (p Participant) Color() color.RGBA {
	c, ok := ParseHexColor(p.ColorHex)
	if !ok {
		return defaultAvatarColor
	}
	return c
}

// Initial returns the upper-cased first letter of the name, or "?".
func (p Participant) Initial() string {
	r, _ := utf8.DecodeRuneInString(strings.TrimSpace(p.Name))
	if r == utf8.RuneError {
		return "?"
	}
	return string(unicode.ToUpper(r))
}

func ParseHexColor(s string) (color.RGBA, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	switch len(s) {
	case 3:
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	case 6, 8:
	default:
		return color.RGBA{}, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, false
	}
	if len(s) == 6 {
		return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xFF}, true
	}
	return color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, true
}
