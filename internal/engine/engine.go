package engine

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ivlev/chat2video/internal/audio"
	"github.com/ivlev/chat2video/internal/chat"
	"github.com/ivlev/chat2video/internal/config"
	"github.com/ivlev/chat2video/internal/renderer"
	"github.com/ivlev/chat2video/internal/system"
	"github.com/ivlev/chat2video/internal/timeline"
	"github.com/ivlev/chat2video/internal/video"
)

type State int

const (
	Idle State = iota
	Preparing
	RenderingFrames
	Muxing
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Preparing:
		return "preparing"
	case RenderingFrames:
		return "rendering_frames"
	case Muxing:
		return "muxing"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

// Terminal reports whether no further transitions follow.
func (s State) Terminal() bool { return s == Completed || s == Failed }

const (
	progressPrepared = 0.05
	progressFrames   = 0.80
	progressAudio    = 0.85
	progressMuxed    = 0.95

	maxBackoff = 20 * time.Millisecond
)

type EncoderFactory func(video.Options) video.FrameEncoder

type MuxFunc func(ctx context.Context, videoPath, audioPath, output string) error

// ExportProject is one export run. The snapshot is read-only; everything
// else (timeline, renderer, buffers, temp files) belongs to the run.
type ExportProject struct {
	Config   *config.Config
	Snapshot chat.Snapshot
	Yield    YieldPolicy
	Verbose  bool

	// OnProgress and OnState are called from the export goroutine (and from
	// page workers in RunImages).
	OnProgress func(float64)
	OnState    func(State)

	NewEncoder EncoderFactory
	Mux        MuxFunc

	mu       sync.Mutex
	emit     sync.Mutex
	state    State
	progress float64
	tempDir  string
	stats    runStats
}

type runStats struct {
	frames int
	unique int
	render time.Duration
	finish time.Duration
	mux    time.Duration
}

func NewExportProject(cfg *config.Config, snap chat.Snapshot) *ExportProject {
	return &ExportProject{
		Config:   cfg,
		Snapshot: snap,
		Yield:    YieldPolicy{Every: cfg.YieldEvery},
		NewEncoder: func(o video.Options) video.FrameEncoder {
			return video.NewFFmpegEncoder(o)
		},
		Mux: video.Mux,
	}
}

func (p *ExportProject) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *ExportProject) Progress() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress
}

func (p *ExportProject) setState(s State) {
	p.mu.Lock()
	p.state = s
	cb := p.OnState
	p.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// report clamps v to [0,1] and drops values that would move progress back.
// Callbacks are serialized so concurrent page workers deliver in order.
func (p *ExportProject) report(v float64) {
	v = min(1, max(0, v))
	p.emit.Lock()
	defer p.emit.Unlock()
	p.mu.Lock()
	if v <= p.progress {
		p.mu.Unlock()
		return
	}
	p.progress = v
	cb := p.OnProgress
	p.mu.Unlock()
	if cb != nil {
		cb(v)
	}
}

func (p *ExportProject) finish(err error) {
	if err != nil {
		p.setState(Failed)
		return
	}
	p.setState(Completed)
}

// Execute runs the export selected by Settings.Type and returns the
// artifacts it produced.
func (p *ExportProject) Execute(ctx context.Context) ([]string, error) {
	if p.Config.Settings.Type == config.ExportScreenshot {
		return p.RunImages(ctx)
	}
	out, err := p.Run(ctx)
	if err != nil {
		return nil, err
	}
	return []string{out}, nil
}

func (p *ExportProject) validate() error {
	if err := p.Config.Validate(); err != nil {
		return configErr("invalid settings", err)
	}
	if len(p.Snapshot.Entries) == 0 {
		return configErr("conversation has no messages", nil)
	}
	return nil
}

func (p *ExportProject) makeTempDir() error {
	dir, err := os.MkdirTemp(p.Config.TempDir, "chat2video_")
	if err != nil {
		return ioErr("create temp dir", err)
	}
	p.tempDir = dir
	return nil
}

func (p *ExportProject) outputExt() string {
	if ext := filepath.Ext(p.Config.OutputVideo); ext != "" {
		return ext
	}
	return ".mp4"
}

// Run renders the conversation to a video at Config.OutputVideo. The file
// appears only once the export has fully succeeded.
func (p *ExportProject) Run(ctx context.Context) (out string, err error) {
	start := time.Now()
	p.setState(Preparing)
	defer func() { p.finish(err) }()

	if err := p.validate(); err != nil {
		return "", err
	}
	if err := p.makeTempDir(); err != nil {
		return "", err
	}
	defer os.RemoveAll(p.tempDir)

	cfg := p.Config
	tl := timeline.Build(p.Snapshot.Entries, timeline.Settings{
		FPS:                 cfg.FPS,
		CharDelay:           cfg.Settings.Speed.CharDelay(),
		ShowTypingIndicator: cfg.Settings.ShowTypingIndicator,
	})
	if cfg.TimelineDump != "" {
		if err := timeline.Write(tl, cfg.TimelineDump); err != nil {
			return "", ioErr("write timeline dump", err)
		}
		fmt.Printf("[*] Таймлайн сохранён: %s\n", cfg.TimelineDump)
	}

	w, h := cfg.Size()
	fmt.Println("--- [PROJECT: CHAT EXPORT] ---")
	fmt.Printf("[*] Сообщений: %d | Кадров: %d (%.2fs)\n", len(p.Snapshot.Entries), tl.TotalFrames, tl.Duration())
	fmt.Printf("[*] Разрешение: %dx%d @ %d FPS | Тема: %s | Скорость: %s\n", w, h, cfg.FPS, cfg.Settings.Theme, cfg.Settings.Speed)
	fmt.Println("-----------------------------")
	p.report(progressPrepared)

	p.setState(RenderingFrames)
	silent := filepath.Join(p.tempDir, "video"+p.outputExt())
	if err := p.renderFrames(ctx, tl, silent); err != nil {
		return "", err
	}
	p.report(progressFrames)

	final := silent
	if cfg.Settings.EnableSounds {
		p.setState(Muxing)
		if final, err = p.muxAudio(ctx, tl, silent); err != nil {
			return "", err
		}
	}

	if dir := filepath.Dir(cfg.OutputVideo); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", ioErr("create output dir", err)
		}
	}
	if err := system.MoveFile(final, cfg.OutputVideo); err != nil {
		os.Remove(cfg.OutputVideo)
		return "", ioErr("move output", err)
	}
	p.report(1)

	if cfg.ShowStats {
		p.printStats(time.Since(start), tl.TotalFrames)
	}
	return cfg.OutputVideo, nil
}

type frameKey struct {
	visible   int
	draft     string
	indicator string
	typing    bool
	phase     int
	highlight rune
}

func keyOf(st renderer.FrameState) frameKey {
	k := frameKey{visible: st.Visible, draft: st.Draft, phase: st.DotPhase, highlight: st.Highlight}
	if st.Indicator != nil {
		k.typing = true
		k.indicator = st.Indicator.ID
	}
	return k
}

func (p *ExportProject) frameState(ev timeline.Event, n int) renderer.FrameState {
	st := renderer.FrameState{Visible: ev.Visible, Draft: ev.Draft}
	switch ev.Kind {
	case timeline.CharacterTyped:
		st.Highlight = renderer.HighlightFor(ev.Draft)
	case timeline.TypingIndicator:
		if ev.MessageIndex >= 0 && ev.MessageIndex < len(p.Snapshot.Entries) {
			pt := p.Snapshot.Entries[ev.MessageIndex].Participant
			st.Indicator = &pt
			st.DotPhase = renderer.DotPhaseAt(n, p.Config.FPS)
		}
	}
	return st
}

// messageProgress maps the event to [0.05, 0.80] by message index.
func messageProgress(ev timeline.Event, messages int) float64 {
	done := ev.MessageIndex
	switch {
	case ev.MessageIndex < 0:
		done = messages
	case ev.Kind == timeline.MessageSettled:
		done++
	}
	return progressPrepared + (progressFrames-progressPrepared)*float64(done)/float64(messages)
}

func (p *ExportProject) renderFrames(ctx context.Context, tl *timeline.Timeline, path string) error {
	cfg := p.Config
	r, err := renderer.New(p.Snapshot, cfg.Settings, cfg.Supersample)
	if err != nil {
		return renderErr("prepare renderer", err)
	}
	defer r.Close()
	r.Verbose = p.Verbose

	w, h := cfg.Size()
	enc := p.NewEncoder(video.Options{
		Width:   w,
		Height:  h,
		FPS:     cfg.FPS,
		Encoder: cfg.VideoEncoder,
		Quality: cfg.Quality,
		Output:  path,
	})
	if err := enc.Start(ctx); err != nil {
		return encodeErr("start video writer", err)
	}
	done := false
	defer func() {
		if !done {
			enc.Abort()
		}
	}()

	renderStart := time.Now()
	messages := len(p.Snapshot.Entries)
	var (
		frame *image.RGBA
		last  frameKey
	)
	for _, ev := range tl.Events {
		for n := 0; n < ev.Frames; n++ {
			st := p.frameState(ev, n)
			// Одинаковые соседние кадры не перерисовываем
			if key := keyOf(st); frame == nil || key != last {
				if frame, err = r.Render(st); err != nil {
					return renderErr(fmt.Sprintf("frame %d", ev.Start+n), err)
				}
				last = key
				p.stats.unique++
			}

			if err := p.waitReady(ctx, enc); err != nil {
				return err
			}
			if err := enc.WriteFrame(frame); err != nil {
				return encodeErr(fmt.Sprintf("write frame %d", ev.Start+n), err)
			}
			p.stats.frames++

			if err := p.Yield.Tick(ctx); err != nil {
				return err
			}
		}
		p.report(messageProgress(ev, messages))
		if p.Verbose && ev.Kind == timeline.MessageSettled {
			fmt.Printf("[>] Сообщение: %d/%d\n", ev.MessageIndex+1, messages)
		}
	}
	p.stats.render = time.Since(renderStart)

	finishStart := time.Now()
	if err := enc.Finish(); err != nil {
		return encodeErr("finish video", err)
	}
	done = true
	p.stats.finish = time.Since(finishStart)
	return nil
}

// waitReady polls the encoder with exponential backoff. There is no
// timeout; only ctx ends the wait.
func (p *ExportProject) waitReady(ctx context.Context, enc video.FrameEncoder) error {
	backoff := 500 * time.Microsecond
	for !enc.ReadyForMoreData() {
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return canceled(ctx)
		case <-t.C:
		}
		backoff = min(backoff*2, maxBackoff)
	}
	return nil
}

func (p *ExportProject) synthesizer() (*audio.Synthesizer, error) {
	cfg := p.Config
	synth := audio.NewSynthesizer(cfg.SampleRate)
	if cfg.SendSound != "" {
		tone, err := audio.LoadTone(cfg.SendSound, cfg.SampleRate)
		if err != nil {
			return nil, audioErr("load send sound", err)
		}
		synth.Send = tone
	}
	if cfg.ReceiveSound != "" {
		tone, err := audio.LoadTone(cfg.ReceiveSound, cfg.SampleRate)
		if err != nil {
			return nil, audioErr("load receive sound", err)
		}
		synth.Receive = tone
	}
	return synth, nil
}

func (p *ExportProject) muxAudio(ctx context.Context, tl *timeline.Timeline, silent string) (string, error) {
	muxStart := time.Now()
	cfg := p.Config

	synth, err := p.synthesizer()
	if err != nil {
		return "", err
	}
	samples := synth.Synthesize(tl.Timings, audio.SampleCount(tl.TotalFrames, tl.FPS, cfg.SampleRate))
	wav := filepath.Join(p.tempDir, "audio.wav")
	if err := audio.WriteWAV(wav, samples, cfg.SampleRate); err != nil {
		return "", audioErr("write audio track", err)
	}
	p.report(progressAudio)

	if ctx.Err() != nil {
		return "", canceled(ctx)
	}
	out := filepath.Join(p.tempDir, "final"+p.outputExt())
	if err := p.Mux(ctx, silent, wav, out); err != nil {
		if ctx.Err() != nil {
			return "", canceled(ctx)
		}
		return "", encodeErr("mux audio", err)
	}
	os.Remove(silent)
	p.report(progressMuxed)
	p.stats.mux = time.Since(muxStart)
	return out, nil
}

// RunImages renders the conversation as static pages, one PNG per
// viewport-sized slice of messages. A single page is written to the output
// path with a .png extension; several pages get a _NN suffix.
func (p *ExportProject) RunImages(ctx context.Context) (paths []string, err error) {
	start := time.Now()
	p.setState(Preparing)
	defer func() { p.finish(err) }()

	if err := p.validate(); err != nil {
		return nil, err
	}
	if err := p.makeTempDir(); err != nil {
		return nil, err
	}
	defer os.RemoveAll(p.tempDir)

	cfg := p.Config
	probe, err := renderer.New(p.Snapshot, cfg.Settings, cfg.Supersample)
	if err != nil {
		return nil, renderErr("prepare renderer", err)
	}
	pages := probe.Paginate()
	probe.Close()

	fmt.Printf("[*] Сообщений: %d | Страниц: %d\n", len(p.Snapshot.Entries), len(pages))
	p.report(progressPrepared)
	p.setState(RenderingFrames)

	renderStart := time.Now()
	rendered := make([]string, len(pages))
	var finished atomic.Int32

	jobs := make(chan int)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for i := range pages {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	workers := max(1, min(cfg.Workers, len(pages)))
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			// У каждого воркера свой рендерер: кэши и холсты не потокобезопасны
			r, err := renderer.New(p.Snapshot, cfg.Settings, cfg.Supersample)
			if err != nil {
				return renderErr("prepare renderer", err)
			}
			defer r.Close()
			r.Verbose = p.Verbose
			yield := YieldPolicy{Every: 1, Yield: p.Yield.Yield}

			for i := range jobs {
				if err := yield.Tick(gctx); err != nil {
					return err
				}
				img, err := r.Render(renderer.FrameState{From: pages[i][0], Visible: pages[i][1]})
				if err != nil {
					return renderErr(fmt.Sprintf("page %d", i+1), err)
				}
				path := filepath.Join(p.tempDir, fmt.Sprintf("page_%03d.png", i+1))
				if err := writePNG(path, img); err != nil {
					return ioErr(fmt.Sprintf("write page %d", i+1), err)
				}
				rendered[i] = path
				n := finished.Add(1)
				p.report(progressPrepared + (progressMuxed-progressPrepared)*float64(n)/float64(len(pages)))
				fmt.Printf("[>] Ready: %d/%d\n", n, len(pages))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, canceled(ctx)
	}
	p.stats.render = time.Since(renderStart)
	p.stats.frames = len(pages)
	p.stats.unique = len(pages)

	targets := pageTargets(cfg.OutputVideo, len(pages))
	if dir := filepath.Dir(cfg.OutputVideo); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, ioErr("create output dir", err)
		}
	}
	for i, src := range rendered {
		if err := system.MoveFile(src, targets[i]); err != nil {
			for _, moved := range targets[:i+1] {
				os.Remove(moved)
			}
			return nil, ioErr("move page", err)
		}
	}
	p.report(1)

	if cfg.ShowStats {
		p.printStats(time.Since(start), len(pages))
	}
	return targets, nil
}

func pageTargets(output string, pages int) []string {
	base := strings.TrimSuffix(output, filepath.Ext(output))
	if pages == 1 {
		return []string{base + ".png"}
	}
	out := make([]string, pages)
	for i := range out {
		out[i] = fmt.Sprintf("%s_%02d.png", base, i+1)
	}
	return out
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (p *ExportProject) printStats(total time.Duration, frames int) {
	cfg := p.Config
	s := p.stats
	fps := float64(frames) / total.Seconds()
	host := system.Snapshot(200 * time.Millisecond)

	report := fmt.Sprintf(
		"--- [PERFORMANCE REPORT] ---\n"+
			"Build: %s\n"+
			"Total Time: %.2fs\n"+
			"Rendering (CPU): %.2fs\n"+
			"Encoder Flush: %.2fs\n"+
			"Audio + Mux: %.2fs\n"+
			"Frames: %d (unique %d)\n"+
			"Effective FPS: %.2f\n"+
			"Host: %s\n"+
			"----------------------------\n",
		cfg.BuildVersion, total.Seconds(), s.render.Seconds(), s.finish.Seconds(), s.mux.Seconds(),
		s.frames, s.unique, fps, host,
	)
	fmt.Print(report)

	logEntry := fmt.Sprintf("[%s] Build: %s | Input: %s | Messages: %d | Frames: %d | Unique: %d | Total: %.2fs | Render: %.2fs | FPS: %.2f | CPU: %.1f%% | RSS: %d MB\n",
		time.Now().Format("2006-01-02 15:04:05"),
		cfg.BuildVersion,
		filepath.Base(cfg.InputPath),
		len(p.Snapshot.Entries),
		s.frames,
		s.unique,
		total.Seconds(),
		s.render.Seconds(),
		fps,
		host.CPUPercent,
		host.ProcessRSS,
	)

	f, err := os.OpenFile("benchmark.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		f.WriteString(logEntry)
		f.Close()
	} else {
		fmt.Printf("[!] Не удалось записать benchmark.log: %v\n", err)
	}
}
