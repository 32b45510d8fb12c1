package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ivlev/chat2video/internal/audio"
	"github.com/ivlev/chat2video/internal/chat"
	"github.com/ivlev/chat2video/internal/config"
	"github.com/ivlev/chat2video/internal/timeline"
	"github.com/ivlev/chat2video/internal/video"
)

type fakeEncoder struct {
	opts video.Options

	// busyEvery makes every n-th readiness poll report false.
	busyEvery int
	startErr  error
	writeErr  error
	finishErr error

	mu            sync.Mutex
	polls         int
	ready         bool
	frames        int
	unreadyWrites int
	finished      bool
	aborted       bool
}

func (f *fakeEncoder) Start(ctx context.Context) error { return f.startErr }

func (f *fakeEncoder) ReadyForMoreData() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	f.ready = f.busyEvery == 0 || f.polls%f.busyEvery != 0
	return f.ready
}

func (f *fakeEncoder) WriteFrame(img *image.RGBA) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		f.unreadyWrites++
	}
	f.ready = false
	if f.writeErr != nil {
		return f.writeErr
	}
	if b := img.Bounds(); b.Dx() != f.opts.Width || b.Dy() != f.opts.Height {
		return fmt.Errorf("frame %v, want %dx%d", b, f.opts.Width, f.opts.Height)
	}
	f.frames++
	return nil
}

func (f *fakeEncoder) Finish() error {
	f.finished = true
	if f.finishErr != nil {
		return f.finishErr
	}
	return os.WriteFile(f.opts.Output, []byte("video"), 0644)
}

func (f *fakeEncoder) Abort() {
	f.aborted = true
	os.Remove(f.opts.Output)
}

func conversation(texts ...string) chat.Snapshot {
	c := chat.Conversation{
		Title: "Alice",
		Participants: []chat.Participant{
			{ID: "me", Name: "Me", IsSender: true},
			{ID: "alice", Name: "Alice", ColorHex: "#FF9500"},
		},
	}
	for i, text := range texts {
		pid := "me"
		if i%2 == 1 {
			pid = "alice"
		}
		c.Messages = append(c.Messages, chat.Message{ID: fmt.Sprintf("m%d", i), Text: text, ParticipantID: pid, Order: i})
	}
	return chat.NewSnapshot(c)
}

type harness struct {
	project  *ExportProject
	encoder  *fakeEncoder
	progress []float64
	states   []State
	tempRoot string
}

func newHarness(t *testing.T, snap chat.Snapshot) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Settings.Preset = config.PresetSquare
	cfg.Settings.EnableSounds = false
	cfg.OutputVideo = filepath.Join(dir, "out", "chat.mp4")
	cfg.TempDir = t.TempDir()
	cfg.Workers = 2

	h := &harness{tempRoot: cfg.TempDir}
	h.encoder = &fakeEncoder{}
	p := NewExportProject(&cfg, snap)
	p.NewEncoder = func(o video.Options) video.FrameEncoder {
		h.encoder.opts = o
		return h.encoder
	}
	p.Mux = func(ctx context.Context, v, a, out string) error {
		return fmt.Errorf("mux not expected")
	}
	p.OnProgress = func(v float64) { h.progress = append(h.progress, v) }
	p.OnState = func(s State) { h.states = append(h.states, s) }
	h.project = p
	return h
}

func (h *harness) assertTempClean(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.tempRoot)
	if err != nil {
		t.Fatalf("read temp root: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Temporary files left behind: %d entries", len(entries))
	}
}

func (h *harness) assertMonotonic(t *testing.T) {
	t.Helper()
	prev := 0.0
	for _, v := range h.progress {
		if v < prev || v < 0 || v > 1 {
			t.Fatalf("Progress not monotonic in [0,1]: %v", h.progress)
		}
		prev = v
	}
}

func TestRunWritesVideo(t *testing.T) {
	h := newHarness(t, conversation("Hi", "Hello there"))
	out, err := h.project.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out != h.project.Config.OutputVideo {
		t.Errorf("Output = %q, want %q", out, h.project.Config.OutputVideo)
	}
	if data, err := os.ReadFile(out); err != nil || string(data) != "video" {
		t.Fatalf("Output not moved into place: %v", err)
	}

	tl := timeline.Build(h.project.Snapshot.Entries, timeline.Settings{
		FPS:                 h.project.Config.FPS,
		CharDelay:           config.SpeedNormal.CharDelay(),
		ShowTypingIndicator: true,
	})
	if h.encoder.frames != tl.TotalFrames {
		t.Errorf("Frames submitted = %d, want %d", h.encoder.frames, tl.TotalFrames)
	}
	if h.project.stats.unique >= h.encoder.frames {
		t.Errorf("Expected memoized frames, rendered %d of %d", h.project.stats.unique, h.encoder.frames)
	}
	if !h.encoder.finished || h.encoder.aborted {
		t.Errorf("finished=%v aborted=%v", h.encoder.finished, h.encoder.aborted)
	}

	h.assertMonotonic(t)
	if h.progress[0] != progressPrepared || h.progress[len(h.progress)-1] != 1 {
		t.Errorf("Progress endpoints: %v", h.progress)
	}
	want := []State{Preparing, RenderingFrames, Completed}
	if fmt.Sprint(h.states) != fmt.Sprint(want) {
		t.Errorf("States = %v, want %v", h.states, want)
	}
	if h.project.State() != Completed {
		t.Errorf("State() = %v", h.project.State())
	}
	h.assertTempClean(t)
}

func TestRunRespectsBackpressure(t *testing.T) {
	h := newHarness(t, conversation("Backpressure"))
	h.encoder.busyEvery = 3
	if _, err := h.project.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if h.encoder.unreadyWrites != 0 {
		t.Errorf("%d frames submitted while encoder was busy", h.encoder.unreadyWrites)
	}
	if h.encoder.polls <= h.encoder.frames {
		t.Errorf("Expected extra readiness polls, got %d for %d frames", h.encoder.polls, h.encoder.frames)
	}
}

func TestRunWithSoundsMuxes(t *testing.T) {
	h := newHarness(t, conversation("Hi", "Hey"))
	h.project.Config.Settings.EnableSounds = true

	var gotSamples, gotRate int
	h.project.Mux = func(ctx context.Context, v, a, out string) error {
		if _, err := os.Stat(v); err != nil {
			return fmt.Errorf("silent video missing: %w", err)
		}
		data, err := os.ReadFile(a)
		if err != nil {
			return err
		}
		samples, rate, err := audio.DecodeWAV(data)
		if err != nil {
			return err
		}
		gotSamples, gotRate = len(samples), rate
		return os.WriteFile(out, []byte("muxed"), 0644)
	}

	out, err := h.project.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if data, _ := os.ReadFile(out); string(data) != "muxed" {
		t.Errorf("Output is not the muxed file: %q", data)
	}

	wantSamples := audio.SampleCount(h.encoder.frames, h.project.Config.FPS, h.project.Config.SampleRate)
	if gotSamples != wantSamples || gotRate != h.project.Config.SampleRate {
		t.Errorf("Audio = %d samples @ %d, want %d @ %d", gotSamples, gotRate, wantSamples, h.project.Config.SampleRate)
	}

	want := []State{Preparing, RenderingFrames, Muxing, Completed}
	if fmt.Sprint(h.states) != fmt.Sprint(want) {
		t.Errorf("States = %v, want %v", h.states, want)
	}
	h.assertMonotonic(t)
	h.assertTempClean(t)
}

func TestRunFailures(t *testing.T) {
	tests := []struct {
		name    string
		snap    chat.Snapshot
		setup   func(h *harness)
		kind    string
		aborted bool
	}{
		{
			name: "empty conversation",
			snap: conversation(),
			kind: "configuration",
		},
		{
			name:  "invalid fps",
			snap:  conversation("Hi"),
			setup: func(h *harness) { h.project.Config.FPS = 0 },
			kind:  "configuration",
		},
		{
			name:  "encoder start",
			snap:  conversation("Hi"),
			setup: func(h *harness) { h.encoder.startErr = errors.New("no ffmpeg") },
			kind:  "encode",
		},
		{
			name:    "frame write",
			snap:    conversation("Hi"),
			setup:   func(h *harness) { h.encoder.writeErr = errors.New("broken pipe") },
			kind:    "encode",
			aborted: true,
		},
		{
			name:    "encoder finish",
			snap:    conversation("Hi"),
			setup:   func(h *harness) { h.encoder.finishErr = errors.New("moov atom") },
			kind:    "encode",
			aborted: true,
		},
		{
			name: "mux",
			snap: conversation("Hi"),
			setup: func(h *harness) {
				h.project.Config.Settings.EnableSounds = true
				h.project.Mux = func(ctx context.Context, v, a, out string) error {
					os.WriteFile(out, []byte("partial"), 0644)
					return errors.New("aac encoder missing")
				}
			},
			kind: "encode",
		},
		{
			name: "custom tone",
			snap: conversation("Hi"),
			setup: func(h *harness) {
				h.project.Config.Settings.EnableSounds = true
				h.project.Config.SendSound = filepath.Join(h.tempRoot, "missing.wav")
			},
			kind: "audio",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.snap)
			if tt.setup != nil {
				tt.setup(h)
			}
			_, err := h.project.Run(context.Background())
			if err == nil {
				t.Fatal("Expected error")
			}
			if got := Kind(err); got != tt.kind {
				t.Errorf("Kind = %q, want %q (%v)", got, tt.kind, err)
			}
			if !strings.HasPrefix(ExportError(err), "export failed: ") {
				t.Errorf("ExportError = %q", ExportError(err))
			}
			if h.project.State() != Failed {
				t.Errorf("State = %v, want failed", h.project.State())
			}
			if h.encoder.aborted != tt.aborted {
				t.Errorf("aborted = %v, want %v", h.encoder.aborted, tt.aborted)
			}
			if _, err := os.Stat(h.project.Config.OutputVideo); !os.IsNotExist(err) {
				t.Errorf("Output exists after failure")
			}
			h.assertTempClean(t)
		})
	}
}

func TestRunConfigurationErrorType(t *testing.T) {
	h := newHarness(t, conversation())
	_, err := h.project.Run(context.Background())
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("Expected *ConfigurationError, got %T", err)
	}
	if ce.Reason == "" {
		t.Error("Reason is empty")
	}
}

func TestRunCanceledAtYieldPoint(t *testing.T) {
	h := newHarness(t, conversation("A longer message to type out"))
	ctx, cancel := context.WithCancel(context.Background())
	yields := 0
	h.project.Yield = YieldPolicy{Every: 1, Yield: func() {
		yields++
		if yields == 5 {
			cancel()
		}
	}}

	_, err := h.project.Run(ctx)
	if !errors.Is(err, ErrCanceled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected cancellation, got %v", err)
	}
	if h.encoder.frames != 5 {
		t.Errorf("Frames after cancel = %d, want 5", h.encoder.frames)
	}
	if !h.encoder.aborted {
		t.Error("Encoder not aborted")
	}
	h.assertTempClean(t)
}

func TestYieldPolicy(t *testing.T) {
	yields := 0
	y := YieldPolicy{Every: 3, Yield: func() { yields++ }}
	ctx, cancel := context.WithCancel(context.Background())

	for i := 0; i < 9; i++ {
		if err := y.Tick(ctx); err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
	}
	if yields != 3 {
		t.Errorf("yields = %d, want 3", yields)
	}

	cancel()
	// Only yield points observe cancellation.
	if err := y.Tick(ctx); err != nil {
		t.Errorf("Tick between yield points returned %v", err)
	}
	if err := y.Tick(ctx); err != nil {
		t.Errorf("Tick between yield points returned %v", err)
	}
	if err := y.Tick(ctx); !errors.Is(err, ErrCanceled) {
		t.Errorf("Tick at yield point = %v, want ErrCanceled", err)
	}
}

func TestYieldPolicyZeroEvery(t *testing.T) {
	yields := 0
	y := YieldPolicy{Yield: func() { yields++ }}
	for i := 0; i < 4; i++ {
		y.Tick(context.Background())
	}
	if yields != 4 {
		t.Errorf("yields = %d, want 4", yields)
	}
}

func TestReportClampsAndKeepsOrder(t *testing.T) {
	var got []float64
	p := &ExportProject{OnProgress: func(v float64) { got = append(got, v) }}
	for _, v := range []float64{-1, 0.3, 0.2, 0.3, 1.7, 0.9} {
		p.report(v)
	}
	if fmt.Sprint(got) != fmt.Sprint([]float64{0.3, 1}) {
		t.Errorf("reported %v", got)
	}
	if p.Progress() != 1 {
		t.Errorf("Progress() = %v", p.Progress())
	}
}

func TestMessageProgress(t *testing.T) {
	tests := []struct {
		ev   timeline.Event
		want float64
	}{
		{timeline.Event{Kind: timeline.CharacterTyped, MessageIndex: 0}, 0.05},
		{timeline.Event{Kind: timeline.MessageSettled, MessageIndex: 0}, 0.425},
		{timeline.Event{Kind: timeline.TypingIndicator, MessageIndex: 1}, 0.425},
		{timeline.Event{Kind: timeline.MessageSettled, MessageIndex: 1}, 0.80},
		{timeline.Event{Kind: timeline.Pause, MessageIndex: -1}, 0.80},
	}
	for _, tt := range tests {
		got := messageProgress(tt.ev, 2)
		if d := got - tt.want; d > 1e-9 || d < -1e-9 {
			t.Errorf("messageProgress(%v #%d) = %v, want %v", tt.ev.Kind, tt.ev.MessageIndex, got, tt.want)
		}
	}
}

func TestRunImagesPaginates(t *testing.T) {
	var texts []string
	for i := 0; i < 40; i++ {
		texts = append(texts, fmt.Sprintf("Message number %d with a little bit of text", i))
	}
	h := newHarness(t, conversation(texts...))
	h.project.Config.Settings.Type = config.ExportScreenshot

	paths, err := h.project.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(paths) < 2 {
		t.Fatalf("Expected several pages, got %d", len(paths))
	}
	for i, path := range paths {
		if want := fmt.Sprintf("chat_%02d.png", i+1); filepath.Base(path) != want {
			t.Errorf("page %d = %q, want %q", i, filepath.Base(path), want)
		}
		f, err := os.Open(path)
		if err != nil {
			t.Fatalf("open page: %v", err)
		}
		cfg, err := png.DecodeConfig(f)
		f.Close()
		if err != nil {
			t.Fatalf("decode page %d: %v", i, err)
		}
		if cfg.Width != 1080 || cfg.Height != 1080 {
			t.Errorf("page %d is %dx%d", i, cfg.Width, cfg.Height)
		}
	}
	if h.encoder.frames != 0 {
		t.Error("Static export must not touch the video encoder")
	}
	h.assertMonotonic(t)
	h.assertTempClean(t)
}

func TestRunImagesSinglePage(t *testing.T) {
	h := newHarness(t, conversation("Hi", "Hello"))
	paths, err := h.project.RunImages(context.Background())
	if err != nil {
		t.Fatalf("RunImages failed: %v", err)
	}
	if len(paths) != 1 || filepath.Base(paths[0]) != "chat.png" {
		t.Errorf("paths = %v", paths)
	}
}

func TestRunImagesCanceled(t *testing.T) {
	h := newHarness(t, conversation("Hi"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.project.RunImages(ctx)
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("Expected ErrCanceled, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(h.project.Config.OutputVideo), "chat.png")); !os.IsNotExist(err) {
		t.Error("Page written despite cancellation")
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{renderErr("x", nil), "render"},
		{fmt.Errorf("wrapped: %w", audioErr("x", nil)), "audio"},
		{ioErr("x", errors.New("disk full")), "io"},
		{canceled(canceledCtx()), "canceled"},
		{errors.New("other"), "unknown"},
	}
	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestErrorMessages(t *testing.T) {
	err := ioErr("move output", errors.New("disk full"))
	if got := ExportError(err); got != "export failed: move output: disk full" {
		t.Errorf("ExportError = %q", got)
	}
	if got := ExportError(configErr("conversation has no messages", nil)); got != "export failed: conversation has no messages" {
		t.Errorf("ExportError = %q", got)
	}
	if ExportError(nil) != "" {
		t.Error("ExportError(nil) must be empty")
	}
}

func canceledCtx() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}
