package timeline

import (
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ivlev/chat2video/internal/chat"
)

var (
	me   = chat.Participant{ID: "me", Name: "Me", IsSender: true}
	them = chat.Participant{ID: "them", Name: "Alex"}
)

func entry(id, text string, p chat.Participant) chat.Entry {
	return chat.Entry{Message: chat.Message{ID: id, Text: text, ParticipantID: p.ID}, Participant: p}
}

func normal() Settings {
	return Settings{FPS: 30, CharDelay: 0.12, ShowTypingIndicator: true}
}

func checkPartition(t *testing.T, tl *Timeline) {
	t.Helper()
	next := 0
	for i, e := range tl.Events {
		if e.Start != next {
			t.Fatalf("event %d starts at %d, expected %d", i, e.Start, next)
		}
		if e.Frames <= 0 {
			t.Fatalf("event %d has %d frames", i, e.Frames)
		}
		next = e.End()
	}
	if next != tl.TotalFrames {
		t.Fatalf("events end at %d, total is %d", next, tl.TotalFrames)
	}
}

func TestFramesPerChar(t *testing.T) {
	tests := []struct {
		delay float64
		fps   int
		want  int
	}{
		{0.12, 30, 4},
		{0.20, 30, 6},
		{0.06, 30, 2},
		{0.01, 30, 1},
		{0.0, 30, 1},
		{0.06, 60, 4},
	}
	for _, tt := range tests {
		s := Settings{FPS: tt.fps, CharDelay: tt.delay}
		if got := s.FramesPerChar(); got != tt.want {
			t.Errorf("FramesPerChar(%v @ %d) = %d, want %d", tt.delay, tt.fps, got, tt.want)
		}
	}
}

func TestZeroMessages(t *testing.T) {
	tl := Build(nil, normal())
	if tl.TotalFrames != 60 {
		t.Errorf("Expected only the trailing pause (60 frames), got %d", tl.TotalFrames)
	}
	if len(tl.Timings) != 0 {
		t.Errorf("Expected no timings, got %d", len(tl.Timings))
	}
	if len(tl.Events) != 1 || tl.Events[0].Kind != Pause || tl.Events[0].MessageIndex != -1 {
		t.Errorf("Unexpected events: %+v", tl.Events)
	}
	checkPartition(t, tl)
}

func TestSingleSenderMessage(t *testing.T) {
	s := normal()
	tl := Build([]chat.Entry{entry("m1", "Hi", me)}, s)

	fpc := s.FramesPerChar()
	want := 2*fpc + 10 + int(math.Round(1.5*30)) + 60
	if tl.TotalFrames != want {
		t.Fatalf("Expected %d frames, got %d", want, tl.TotalFrames)
	}
	checkPartition(t, tl)

	kinds := []EventKind{CharacterTyped, CharacterTyped, Pause, MessageSettled, Pause}
	if len(tl.Events) != len(kinds) {
		t.Fatalf("Expected %d events, got %d", len(kinds), len(tl.Events))
	}
	for i, k := range kinds {
		if tl.Events[i].Kind != k {
			t.Errorf("event %d: expected %s, got %s", i, k, tl.Events[i].Kind)
		}
	}
	if tl.Events[0].Draft != "H" || tl.Events[1].Draft != "Hi" || tl.Events[2].Draft != "Hi" {
		t.Errorf("Unexpected drafts: %q %q %q", tl.Events[0].Draft, tl.Events[1].Draft, tl.Events[2].Draft)
	}
	if tl.Events[2].Visible != 0 || tl.Events[3].Visible != 1 {
		t.Errorf("message must become visible only after the send pause")
	}

	wantTime := float64(2*fpc+10) / 30
	if len(tl.Timings) != 1 || math.Abs(tl.Timings[0].Time-wantTime) > 1e-9 || !tl.Timings[0].IsSender {
		t.Errorf("Unexpected timing: %+v (want time %.4f)", tl.Timings, wantTime)
	}
}

func TestReceiverIndicatorClamp(t *testing.T) {
	text := strings.Repeat("a", 100)
	if d := IndicatorDuration(100); d != 2.5 {
		t.Errorf("Expected indicator duration 2.5s, got %f", d)
	}

	tl := Build([]chat.Entry{entry("m1", text, them)}, normal())
	first := tl.Events[0]
	if first.Kind != TypingIndicator {
		t.Fatalf("Expected typing indicator first, got %s", first.Kind)
	}
	if first.Frames != 75 {
		t.Errorf("Expected 75 indicator frames, got %d", first.Frames)
	}
	if tl.Timings[0].Time != 2.5 || tl.Timings[0].IsSender {
		t.Errorf("Unexpected timing: %+v", tl.Timings[0])
	}
	checkPartition(t, tl)
}

func TestReceiverWithoutIndicator(t *testing.T) {
	s := normal()
	s.ShowTypingIndicator = false
	tl := Build([]chat.Entry{entry("m1", "hello there", them)}, s)
	if tl.Events[0].Kind != MessageSettled {
		t.Errorf("Expected settle first without indicator, got %s", tl.Events[0].Kind)
	}
	if tl.Timings[0].Time != 0 {
		t.Errorf("Expected timing at 0, got %f", tl.Timings[0].Time)
	}
}

func TestEmptyTextSettlesImmediately(t *testing.T) {
	tl := Build([]chat.Entry{entry("a", "", me), entry("b", "", them)}, normal())
	checkPartition(t, tl)
	for _, e := range tl.Events {
		if e.Kind == CharacterTyped || e.Kind == TypingIndicator {
			t.Errorf("Unexpected %s event for empty text", e.Kind)
		}
	}
	if tl.Timings[0].Time != 0 {
		t.Errorf("Expected first timing at 0, got %f", tl.Timings[0].Time)
	}
	if want := 45 + 45 + 60; tl.TotalFrames != want {
		t.Errorf("Expected %d frames, got %d", want, tl.TotalFrames)
	}
}

func TestTimingsStrictlyIncreasing(t *testing.T) {
	entries := []chat.Entry{
		entry("1", "hey", me),
		entry("2", "what's up", them),
		entry("3", "", them),
		entry("4", "not much, you?", me),
		entry("5", strings.Repeat("long message ", 20), them),
	}
	for _, indicator := range []bool{true, false} {
		s := normal()
		s.ShowTypingIndicator = indicator
		tl := Build(entries, s)
		checkPartition(t, tl)

		if len(tl.Timings) != len(entries) {
			t.Fatalf("Expected %d timings, got %d", len(entries), len(tl.Timings))
		}
		for i, tm := range tl.Timings {
			if tm.MessageID != entries[i].Message.ID {
				t.Errorf("timing %d is for %s, expected %s", i, tm.MessageID, entries[i].Message.ID)
			}
			if i > 0 && tm.Time <= tl.Timings[i-1].Time {
				t.Errorf("timing %d (%f) not after timing %d (%f)", i, tm.Time, i-1, tl.Timings[i-1].Time)
			}
		}
	}
}

func TestTotalFramesMonotonic(t *testing.T) {
	for _, p := range []chat.Participant{me, them} {
		prev := 0
		var entries []chat.Entry
		for n := 0; n < 8; n++ {
			tl := Build(entries, normal())
			if tl.TotalFrames < prev {
				t.Errorf("%s: frames dropped from %d to %d at %d messages", p.ID, prev, tl.TotalFrames, n)
			}
			prev = tl.TotalFrames
			entries = append(entries, entry("x", "abc", p))
		}

		prev = 0
		for l := 0; l < 120; l += 7 {
			tl := Build([]chat.Entry{entry("x", strings.Repeat("z", l), p)}, normal())
			if tl.TotalFrames < prev {
				t.Errorf("%s: frames dropped from %d to %d at length %d", p.ID, prev, tl.TotalFrames, l)
			}
			prev = tl.TotalFrames
		}
	}
}

func TestLengthCountsRunes(t *testing.T) {
	tl := Build([]chat.Entry{entry("m1", "привет", me)}, normal())
	typed := 0
	for _, e := range tl.Events {
		if e.Kind == CharacterTyped {
			typed++
		}
	}
	if typed != 6 {
		t.Errorf("Expected 6 typed characters, got %d", typed)
	}
	if last := tl.Events[typed-1].Draft; last != "привет" {
		t.Errorf("Expected full draft, got %q", last)
	}
}

func TestEventAt(t *testing.T) {
	tl := Build([]chat.Entry{entry("m1", "Hi", me), entry("m2", "yo", them)}, normal())
	for f := 0; f < tl.TotalFrames; f++ {
		e, ok := tl.EventAt(f)
		if !ok || f < e.Start || f >= e.End() {
			t.Fatalf("EventAt(%d) = %+v, %v", f, e, ok)
		}
	}
	if _, ok := tl.EventAt(tl.TotalFrames); ok {
		t.Error("EventAt past the end should fail")
	}
	if _, ok := tl.EventAt(-1); ok {
		t.Error("EventAt(-1) should fail")
	}
}

func TestWriteRead(t *testing.T) {
	tl := Build([]chat.Entry{entry("m1", "Hi", me), entry("m2", "hello", them)}, normal())
	path := filepath.Join(t.TempDir(), "timeline.yaml")

	if err := Write(tl, path); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got.TotalFrames != tl.TotalFrames || len(got.Events) != len(tl.Events) || len(got.Timings) != len(tl.Timings) {
		t.Errorf("Round trip mismatch: %d/%d events, %d/%d frames", len(got.Events), len(tl.Events), got.TotalFrames, tl.TotalFrames)
	}
	if got.Events[0].Kind != CharacterTyped {
		t.Errorf("Expected kind to survive round trip, got %s", got.Events[0].Kind)
	}
}
