package config

import "strings"

// Enumerations below decode leniently: an unknown value never fails the
// decoder and resolves to the documented default of its type.

// Preset is one of the three supported output resolutions. Default: 9:16.
type Preset int

const (
	PresetVertical  Preset = iota // 9:16, 1080x1920
	PresetSquare                  // 1:1, 1080x1080
	PresetLandscape               // 16:9, 1920x1080
)

func (p Preset) Size() (width, height int) {
	switch p {
	case PresetSquare:
		return 1080, 1080
	case PresetLandscape:
		return 1920, 1080
	default:
		return 1080, 1920
	}
}

func (p Preset) Valid() bool { return p >= PresetVertical && p <= PresetLandscape }

func (p Preset) String() string {
	switch p {
	case PresetSquare:
		return "1:1"
	case PresetLandscape:
		return "16:9"
	default:
		return "9:16"
	}
}

func ParsePreset(s string) (Preset, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "9:16", "tiktok", "vertical", "shorts":
		return PresetVertical, true
	case "1:1", "instagram", "square":
		return PresetSquare, true
	case "16:9", "youtube", "landscape":
		return PresetLandscape, true
	}
	return PresetVertical, false
}

func (p Preset) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Preset) UnmarshalText(b []byte) error {
	*p, _ = ParsePreset(string(b))
	return nil
}

// Speed is the typing speed tier. Default: normal.
type Speed int

const (
	SpeedNormal Speed = iota
	SpeedSlow
	SpeedFast
)

// CharDelay is the time in seconds spent on each typed character.
func (s Speed) CharDelay() float64 {
	switch s {
	case SpeedSlow:
		return 0.20
	case SpeedFast:
		return 0.06
	default:
		return 0.12
	}
}

func (s Speed) String() string {
	switch s {
	case SpeedSlow:
		return "slow"
	case SpeedFast:
		return "fast"
	default:
		return "normal"
	}
}

func ParseSpeed(s string) (Speed, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "slow":
		return SpeedSlow, true
	case "normal", "":
		return SpeedNormal, true
	case "fast":
		return SpeedFast, true
	}
	return SpeedNormal, false
}

func (s Speed) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Speed) UnmarshalText(b []byte) error {
	*s, _ = ParseSpeed(string(b))
	return nil
}

// Theme selects the bubble palette. Default: imessage.
type Theme int

const (
	ThemeIMessage Theme = iota
	ThemeWhatsApp
	ThemeMessenger
	ThemeDiscord
)

func (t Theme) String() string {
	switch t {
	case ThemeWhatsApp:
		return "whatsapp"
	case ThemeMessenger:
		return "messenger"
	case ThemeDiscord:
		return "discord"
	default:
		return "imessage"
	}
}

func ParseTheme(s string) (Theme, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "imessage", "":
		return ThemeIMessage, true
	case "whatsapp":
		return ThemeWhatsApp, true
	case "messenger":
		return ThemeMessenger, true
	case "discord":
		return ThemeDiscord, true
	}
	return ThemeIMessage, false
}

func (t Theme) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Theme) UnmarshalText(b []byte) error {
	*t, _ = ParseTheme(string(b))
	return nil
}

// ExportType picks between the animated video and the static composite
// images. Default: video.
type ExportType int

const (
	ExportVideo ExportType = iota
	ExportScreenshot
)

func (e ExportType) String() string {
	if e == ExportScreenshot {
		return "screenshot"
	}
	return "video"
}

func ParseExportType(s string) (ExportType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "video", "":
		return ExportVideo, true
	case "screenshot", "image", "png":
		return ExportScreenshot, true
	}
	return ExportVideo, false
}

func (e ExportType) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

func (e *ExportType) UnmarshalText(b []byte) error {
	*e, _ = ParseExportType(string(b))
	return nil
}
