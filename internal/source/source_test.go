package source

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/ivlev/chat2video/internal/config"
)

const yamlScript = `
conversation_title: Weekend
theme: whatsapp
settings:
  format: "16:9"
  typing_speed: fast
  show_keyboard: false
characters:
  - id: me
    name: Me
    is_me: true
    color_hex: "#007AFF"
  - id: bob
    name: Bob
    color_hex: "#34C759"
    avatar_emoji: "🐻"
messages:
  - id: m1
    text: Hi Bob
    character_id: me
  - text: Hey!
    character_id: bob
  - text: First, actually
    character_id: bob
    order: -1
`

func TestParseYAML(t *testing.T) {
	s, err := ParseYAML([]byte(yamlScript))
	if err != nil {
		t.Fatalf("ParseYAML failed: %v", err)
	}

	settings := s.ExportSettings()
	if settings.Theme != config.ThemeWhatsApp {
		t.Errorf("Theme = %v, want whatsapp", settings.Theme)
	}
	if settings.Preset != config.PresetLandscape || settings.Speed != config.SpeedFast {
		t.Errorf("Settings = %+v", settings)
	}
	if settings.ShowKeyboard {
		t.Error("show_keyboard: false was ignored")
	}
	if !settings.ShowTypingIndicator || !settings.EnableSounds {
		t.Error("Absent settings must keep their defaults")
	}

	snap, err := s.Snapshot("")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.Title != "Weekend" || snap.IsGroup {
		t.Errorf("Title=%q group=%v", snap.Title, snap.IsGroup)
	}
	if len(snap.Entries) != 3 {
		t.Fatalf("Entries = %d, want 3", len(snap.Entries))
	}
	if snap.Entries[0].Message.Text != "First, actually" {
		t.Errorf("Explicit order ignored: %q first", snap.Entries[0].Message.Text)
	}
	if snap.Entries[1].Message.ID != "m1" || !snap.Entries[1].IsSender() {
		t.Errorf("Entry 1 = %+v", snap.Entries[1])
	}
	if snap.Entries[2].Message.ID == "" {
		t.Error("Missing message id was not generated")
	}
	if snap.Entries[2].Participant.Avatar.Emoji != "🐻" {
		t.Errorf("Avatar emoji = %q", snap.Entries[2].Participant.Avatar.Emoji)
	}
}

func TestParseJSONDefaults(t *testing.T) {
	s, err := ParseJSON([]byte(`{"characters":[{"id":"a","name":"A","is_me":true}],"messages":[{"text":"x","character_id":"a"}],"settings":{"theme":"nonsense"}}`))
	if err != nil {
		t.Fatalf("ParseJSON failed: %v", err)
	}
	if s.Title != DefaultTitle {
		t.Errorf("Title = %q", s.Title)
	}
	if got := s.ExportSettings(); got.Theme != config.ThemeIMessage || got.Preset != config.PresetVertical {
		t.Errorf("Unknown values must decode to defaults: %+v", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing id", `{"characters":[{"name":"A"}]}`},
		{"duplicate id", `{"characters":[{"id":"a"},{"id":"a"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseJSON([]byte(tt.data)); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestRejectPathAvatars(t *testing.T) {
	inline, err := ParseJSON([]byte(`{"characters":[{"id":"a","avatar_emoji":"A","avatar_image_base64":"aGk="}]}`))
	if err != nil {
		t.Fatalf("ParseJSON failed: %v", err)
	}
	if err := inline.RejectPathAvatars(); err != nil {
		t.Errorf("inline avatars rejected: %v", err)
	}

	withPath, err := ParseJSON([]byte(`{"characters":[{"id":"a"},{"id":"b","avatar_path":"/etc/hostname"}]}`))
	if err != nil {
		t.Fatalf("ParseJSON failed: %v", err)
	}
	if err := withPath.RejectPathAvatars(); err == nil {
		t.Error("Expected error for avatar_path")
	}
}

func TestLoadResolvesAvatarPath(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bob.png"), []byte("png-bytes"), 0644); err != nil {
		t.Fatal(err)
	}
	script := `{"characters":[{"id":"bob","name":"Bob","avatar_path":"bob.png"}],"messages":[{"text":"hi","character_id":"bob"}]}`
	path := filepath.Join(dir, "chat.json")
	if err := os.WriteFile(path, []byte(script), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	conv, err := s.Conversation(dir)
	if err != nil {
		t.Fatalf("Conversation failed: %v", err)
	}
	if string(conv.Participants[0].Avatar.Image) != "png-bytes" {
		t.Errorf("Avatar bytes = %q", conv.Participants[0].Avatar.Image)
	}

	s.Characters[0].AvatarPath = "missing.png"
	if _, err := s.Conversation(dir); err == nil {
		t.Error("Expected error for missing avatar file")
	}
}

func TestUnknownCharacterIsAnonymousSender(t *testing.T) {
	s, err := ParseYAML([]byte("messages:\n  - text: who am I\n    character_id: ghost\n"))
	if err != nil {
		t.Fatalf("ParseYAML failed: %v", err)
	}
	snap, err := s.Snapshot("")
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Entries[0].IsSender() {
		t.Error("Unknown character must render as sender")
	}
}

func TestDecodeBase64Image(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G', 1, 2, 3}
	enc := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"plain", enc, false},
		{"data uri", "data:image/png;base64," + enc, false},
		{"wrapped", enc[:4] + "\n" + enc[4:], false},
		{"unpadded", base64.RawStdEncoding.EncodeToString(raw), false},
		{"garbage", "!!!not base64", true},
		{"bad uri", "data:image/png;base64", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeBase64Image(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if string(got) != string(raw) {
				t.Errorf("Decoded %v, want %v", got, raw)
			}
		})
	}
}

func TestInvalidBase64AvatarFallsBack(t *testing.T) {
	s := NewScript()
	s.Characters = []Character{{ID: "a", Name: "A", AvatarImageBase64: "%%%"}}
	conv, err := s.Conversation("")
	if err != nil {
		t.Fatalf("Conversation failed: %v", err)
	}
	if len(conv.Participants[0].Avatar.Image) != 0 {
		t.Error("Invalid avatar should be dropped")
	}
}
