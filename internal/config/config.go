package config

import (
	"fmt"
	"runtime"
)

const (
	DefaultFPS        = 30
	DefaultSampleRate = 44100
	DefaultYieldEvery = 3
)

// ExportSettings are the per-export toggles that travel with a conversation
// snapshot (CLI flags, script files and the render API all produce one).
type ExportSettings struct {
	Type                ExportType `yaml:"export_type" json:"export_type"`
	Preset              Preset     `yaml:"format" json:"format"`
	Speed               Speed      `yaml:"typing_speed" json:"typing_speed"`
	Theme               Theme      `yaml:"theme" json:"theme"`
	DarkMode            bool       `yaml:"dark_mode" json:"dark_mode"`
	ShowKeyboard        bool       `yaml:"show_keyboard" json:"show_keyboard"`
	ShowTypingIndicator bool       `yaml:"show_typing_indicator" json:"show_typing_indicator"`
	EnableSounds        bool       `yaml:"enable_sounds" json:"enable_sounds"`
}

func DefaultExportSettings() ExportSettings {
	return ExportSettings{
		Type:                ExportVideo,
		Preset:              PresetVertical,
		Speed:               SpeedNormal,
		Theme:               ThemeIMessage,
		ShowKeyboard:        true,
		ShowTypingIndicator: true,
		EnableSounds:        true,
	}
}

type Config struct {
	InputPath    string
	OutputVideo  string
	Settings     ExportSettings
	FPS          int
	SampleRate   int
	Supersample  int
	Workers      int
	YieldEvery   int
	VideoEncoder string
	Quality      int
	ShowStats    bool
	BuildVersion string
	TimelineDump string
	TempDir      string
	// Optional WAV files replacing the synthesized send/receive tones.
	SendSound    string
	ReceiveSound string
}

// Default returns a Config with every numeric knob populated. Callers override
// fields from flags or requests.
func Default() Config {
	return Config{
		Settings:     DefaultExportSettings(),
		FPS:          DefaultFPS,
		SampleRate:   DefaultSampleRate,
		Supersample:  1,
		Workers:      runtime.NumCPU(),
		YieldEvery:   DefaultYieldEvery,
		VideoEncoder: "libx264",
		Quality:      23,
	}
}

// Size is the output canvas for the selected preset.
func (c Config) Size() (width, height int) {
	return c.Settings.Preset.Size()
}

func (c Config) Validate() error {
	if c.OutputVideo == "" {
		return fmt.Errorf("output path is empty")
	}
	if c.FPS <= 0 || c.FPS > 120 {
		return fmt.Errorf("fps %d out of range (1..120)", c.FPS)
	}
	if c.SampleRate < 8000 {
		return fmt.Errorf("sample rate %d too low", c.SampleRate)
	}
	if c.Supersample < 1 || c.Supersample > 4 {
		return fmt.Errorf("supersample %d out of range (1..4)", c.Supersample)
	}
	if !c.Settings.Preset.Valid() {
		return fmt.Errorf("invalid resolution preset %d", int(c.Settings.Preset))
	}
	return nil
}
