// Package source loads conversation scripts. The format mirrors the render
// API request: characters, messages, a theme and export settings.
package source

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/ivlev/chat2video/internal/chat"
	"github.com/ivlev/chat2video/internal/config"
)

const DefaultTitle = "Chat"

type Character struct {
	ID                string `yaml:"id" json:"id"`
	Name              string `yaml:"name" json:"name"`
	IsMe              bool   `yaml:"is_me" json:"is_me"`
	ColorHex          string `yaml:"color_hex" json:"color_hex"`
	AvatarEmoji       string `yaml:"avatar_emoji,omitempty" json:"avatar_emoji,omitempty"`
	AvatarImageBase64 string `yaml:"avatar_image_base64,omitempty" json:"avatar_image_base64,omitempty"`
	// AvatarPath is resolved relative to the script file.
	AvatarPath string `yaml:"avatar_path,omitempty" json:"avatar_path,omitempty"`
}

type Message struct {
	ID          string `yaml:"id,omitempty" json:"id,omitempty"`
	Text        string `yaml:"text" json:"text"`
	CharacterID string `yaml:"character_id" json:"character_id"`
	// Order defaults to the position in the list.
	Order *int `yaml:"order,omitempty" json:"order,omitempty"`
}

// Script is one conversation plus the settings it should be exported with.
type Script struct {
	Title       string                `yaml:"conversation_title" json:"conversation_title"`
	IsGroupChat bool                  `yaml:"is_group_chat" json:"is_group_chat"`
	Theme       *config.Theme         `yaml:"theme,omitempty" json:"theme,omitempty"`
	Settings    config.ExportSettings `yaml:"settings" json:"settings"`
	Characters  []Character           `yaml:"characters" json:"characters"`
	Messages    []Message             `yaml:"messages" json:"messages"`
}

// NewScript returns a script holding only defaults. Decoders fill it in
// place so absent fields keep their default.
func NewScript() *Script {
	return &Script{Title: DefaultTitle, Settings: config.DefaultExportSettings()}
}

// Load reads a .yaml, .yml or .json script.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read script")
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return ParseJSON(data)
	}
	return ParseYAML(data)
}

func ParseYAML(data []byte) (*Script, error) {
	s := NewScript()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, errors.Wrap(err, "parse yaml script")
	}
	return s, s.Validate()
}

func ParseJSON(data []byte) (*Script, error) {
	s := NewScript()
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(s); err != nil {
		return nil, errors.Wrap(err, "parse json script")
	}
	return s, s.Validate()
}

// Validate checks character ids. Messages may point at unknown characters;
// those render as an anonymous sender.
func (s *Script) Validate() error {
	seen := make(map[string]bool, len(s.Characters))
	for i, c := range s.Characters {
		if strings.TrimSpace(c.ID) == "" {
			return errors.Errorf("character %d has no id", i+1)
		}
		if seen[c.ID] {
			return errors.Errorf("duplicate character id %q", c.ID)
		}
		seen[c.ID] = true
	}
	return nil
}

// ExportSettings applies the top-level theme over Settings.
func (s *Script) ExportSettings() config.ExportSettings {
	out := s.Settings
	if s.Theme != nil {
		out.Theme = *s.Theme
	}
	return out
}

// Conversation builds the chat model. baseDir resolves relative avatar
// paths; an empty baseDir means the working directory.
func (s *Script) Conversation(baseDir string) (chat.Conversation, error) {
	title := strings.TrimSpace(s.Title)
	if title == "" {
		title = DefaultTitle
	}
	conv := chat.Conversation{Title: title, IsGroupChat: s.IsGroupChat}

	for _, c := range s.Characters {
		avatar, err := c.avatar(baseDir)
		if err != nil {
			return chat.Conversation{}, err
		}
		conv.Participants = append(conv.Participants, chat.Participant{
			ID:       c.ID,
			Name:     c.Name,
			IsSender: c.IsMe,
			ColorHex: c.ColorHex,
			Avatar:   avatar,
		})
	}

	for i, m := range s.Messages {
		id := m.ID
		if id == "" {
			id = uuid.NewString()
		}
		order := i
		if m.Order != nil {
			order = *m.Order
		}
		conv.Messages = append(conv.Messages, chat.Message{
			ID:            id,
			Text:          m.Text,
			ParticipantID: m.CharacterID,
			Order:         order,
		})
	}
	return conv, nil
}

// RejectPathAvatars fails when any character loads its avatar from a file.
// Scripts from untrusted clients may only carry inline avatars.
func (s *Script) RejectPathAvatars() error {
	for _, c := range s.Characters {
		if c.AvatarPath != "" {
			return errors.Errorf("character %q: avatar_path is not accepted, use avatar_image_base64", c.ID)
		}
	}
	return nil
}

// Snapshot is Conversation followed by chat.NewSnapshot.
func (s *Script) Snapshot(baseDir string) (chat.Snapshot, error) {
	conv, err := s.Conversation(baseDir)
	if err != nil {
		return chat.Snapshot{}, err
	}
	return chat.NewSnapshot(conv), nil
}

func (c Character) avatar(baseDir string) (chat.Avatar, error) {
	a := chat.Avatar{Emoji: strings.TrimSpace(c.AvatarEmoji)}

	if c.AvatarPath != "" {
		path := c.AvatarPath
		if !filepath.IsAbs(path) && baseDir != "" {
			path = filepath.Join(baseDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return a, errors.Wrapf(err, "avatar of %q", c.ID)
		}
		a.Image = data
		return a, nil
	}

	if c.AvatarImageBase64 != "" {
		data, err := DecodeBase64Image(c.AvatarImageBase64)
		if err != nil {
			// Битый аватар: рисуем цветной круг
			log.Printf("[!] Аватар %q: %v", c.ID, err)
			return a, nil
		}
		a.Image = data
	}
	return a, nil
}

// DecodeBase64Image accepts raw base64 or a data: URI.
func DecodeBase64Image(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 {
			return nil, errors.New("malformed data URI")
		}
		s = s[i+1:]
	}
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, s)

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	}
	if err != nil {
		return nil, errors.Wrap(err, "decode base64 avatar")
	}
	return data, nil
}
