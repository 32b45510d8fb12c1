package renderer

import (
	"image/color"

	"github.com/ivlev/chat2video/internal/chat"
	"github.com/ivlev/chat2video/internal/config"
)

// Palette is every color a frame uses.
type Palette struct {
	Background     color.RGBA
	SenderBubble   color.RGBA
	ReceiverBubble color.RGBA
	SenderText     color.RGBA
	ReceiverText   color.RGBA
	HeaderText     color.RGBA
	Secondary      color.RGBA
	Separator      color.RGBA
	Accent         color.RGBA
	Placeholder    color.RGBA
	Dot            color.RGBA

	KeyboardBackground color.RGBA
	Key                color.RGBA
	SpecialKey         color.RGBA
	KeyText            color.RGBA
	KeyHighlight       color.RGBA
	Input              color.RGBA
	InputBorder        color.RGBA
}

func hex(s string) color.RGBA {
	c, _ := chat.ParseHexColor(s)
	return c
}

var themes = map[config.Theme][5]string{
	// sender bubble, receiver bubble, background, sender text, receiver text
	config.ThemeIMessage:  {"#007AFF", "#E5E5EA", "#FFFFFF", "#FFFFFF", "#000000"},
	config.ThemeWhatsApp:  {"#DCF8C6", "#FFFFFF", "#ECE5DD", "#000000", "#000000"},
	config.ThemeMessenger: {"#0084FF", "#E4E6EB", "#FFFFFF", "#FFFFFF", "#000000"},
	config.ThemeDiscord:   {"#5865F2", "#2F3136", "#36393F", "#FFFFFF", "#DCDDDE"},
}

// PaletteFor resolves a theme. Dark mode forces a black background and the
// dark receiver bubble regardless of theme.
func PaletteFor(theme config.Theme, dark bool) Palette {
	t, ok := themes[theme]
	if !ok {
		t = themes[config.ThemeIMessage]
	}

	p := Palette{
		SenderBubble:   hex(t[0]),
		ReceiverBubble: hex(t[1]),
		Background:     hex(t[2]),
		SenderText:     hex(t[3]),
		ReceiverText:   hex(t[4]),
		HeaderText:     hex("#000000"),
		Secondary:      hex("#8E8E93"),
		Separator:      hex("#C6C6C8"),
		Accent:         hex("#007AFF"),
		Placeholder:    color.RGBA{R: 128, G: 128, B: 128, A: 255},
		Dot:            color.RGBA{R: 128, G: 128, B: 128, A: 255},

		KeyboardBackground: color.RGBA{R: 209, G: 213, B: 219, A: 255},
		Key:                color.RGBA{R: 255, G: 255, B: 255, A: 255},
		SpecialKey:         color.RGBA{R: 173, G: 176, B: 182, A: 255},
		KeyText:            color.RGBA{A: 255},
		KeyHighlight:       color.RGBA{R: 128, G: 128, B: 128, A: 255},
		Input:              color.RGBA{R: 255, G: 255, B: 255, A: 255},
		InputBorder:        color.RGBA{R: 200, G: 200, B: 200, A: 255},
	}
	if theme == config.ThemeDiscord {
		p.HeaderText = p.ReceiverText
	}

	if dark {
		p.Background = color.RGBA{A: 255}
		p.ReceiverBubble = hex("#3A3A3C")
		p.ReceiverText = color.RGBA{R: 255, G: 255, B: 255, A: 255}
		p.HeaderText = p.ReceiverText
		p.Dot = color.RGBA{R: 155, G: 155, B: 155, A: 255}

		p.KeyboardBackground = color.RGBA{R: 30, G: 30, B: 30, A: 255}
		p.Key = color.RGBA{R: 89, G: 89, B: 89, A: 255}
		p.SpecialKey = color.RGBA{R: 64, G: 64, B: 64, A: 255}
		p.KeyText = color.RGBA{R: 255, G: 255, B: 255, A: 255}
		p.Input = color.RGBA{R: 51, G: 51, B: 51, A: 255}
		p.InputBorder = color.RGBA{R: 100, G: 100, B: 100, A: 255}
	}
	return p
}
