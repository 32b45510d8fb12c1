package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ivlev/chat2video/internal/system"
)

// FrameEncoder consumes frames one at a time. Callers must wait for
// ReadyForMoreData before each WriteFrame.
type FrameEncoder interface {
	Start(ctx context.Context) error
	ReadyForMoreData() bool
	// WriteFrame copies img; the caller may reuse it immediately.
	WriteFrame(img *image.RGBA) error
	// Finish flushes pending frames and finalizes the file.
	Finish() error
	// Abort stops encoding and removes any partial output.
	Abort()
}

type Options struct {
	Width, Height int
	FPS           int
	Encoder       string
	Quality       int
	Output        string
}

// DefaultQueueDepth bounds frames buffered between the renderer and ffmpeg.
const DefaultQueueDepth = 8

// FFmpegEncoder pipes raw RGBA frames into ffmpeg's stdin.
type FFmpegEncoder struct {
	Options
	QueueDepth int
	Pool       *system.ImagePool

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer
	queue  chan *image.RGBA
	group  *errgroup.Group
	gctx   context.Context
	cancel context.CancelFunc
	once   sync.Once

	// stderr читаем только после cmd.Wait (см. wait)
	waitOnce sync.Once
	err      error
}

func NewFFmpegEncoder(opts Options) *FFmpegEncoder {
	return &FFmpegEncoder{Options: opts, QueueDepth: DefaultQueueDepth, Pool: system.Frames}
}

func (e *FFmpegEncoder) buildFFmpegArgs() []string {
	args := []string{
		"-y",
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pixel_format", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", e.Width, e.Height),
		"-framerate", fmt.Sprintf("%d", e.FPS),
		"-i", "-",
		"-an",
		"-pix_fmt", "yuv420p",
		"-c:v", e.Encoder,
	}
	args = append(args, QualityArgs(e.Encoder, e.Quality)...)
	args = append(args, "-movflags", "+faststart", e.Output)
	return args
}

// QualityArgs maps one quality number onto each encoder's rate control.
func QualityArgs(encoder string, quality int) []string {
	switch encoder {
	case "h264_videotoolbox":
		// Качество в зависимости от энкодера: VideoToolbox не знает -crf, Q*100 кбит/с
		return []string{"-b:v", fmt.Sprintf("%dk", quality*100)}
	case "h264_nvenc":
		return []string{"-cq", fmt.Sprintf("%d", quality)}
	default: // libx264
		return []string{"-crf", fmt.Sprintf("%d", quality), "-preset", "medium"}
	}
}

func (e *FFmpegEncoder) Start(ctx context.Context) error {
	if e.Width%2 != 0 || e.Height%2 != 0 {
		return fmt.Errorf("yuv420p needs even dimensions, got %dx%d", e.Width, e.Height)
	}
	depth := e.QueueDepth
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	if e.Pool == nil {
		e.Pool = system.Frames
	}

	ctx, e.cancel = context.WithCancel(ctx)
	e.cmd = exec.CommandContext(ctx, "ffmpeg", e.buildFFmpegArgs()...)
	e.cmd.Stderr = &e.stderr

	stdin, err := e.cmd.StdinPipe()
	if err != nil {
		e.cancel()
		return fmt.Errorf("stdin pipe error: %w", err)
	}
	if err := e.cmd.Start(); err != nil {
		e.cancel()
		return fmt.Errorf("ffmpeg start error: %w", err)
	}
	e.stdin = stdin
	e.queue = make(chan *image.RGBA, depth)
	e.group, e.gctx = errgroup.WithContext(ctx)

	e.group.Go(func() error {
		defer e.stdin.Close()
		for frame := range e.queue {
			_, err := e.stdin.Write(frame.Pix)
			e.Pool.Put(frame)
			if err != nil {
				return fmt.Errorf("write frame: %w", err)
			}
		}
		return nil
	})
	return nil
}

// ReadyForMoreData is false while the queue is full. Once the writer has
// failed it reports true so the next WriteFrame surfaces the error.
func (e *FFmpegEncoder) ReadyForMoreData() bool {
	if e.queue == nil {
		return false
	}
	if e.gctx.Err() != nil {
		return true
	}
	return len(e.queue) < cap(e.queue)
}

func (e *FFmpegEncoder) WriteFrame(img *image.RGBA) error {
	if e.queue == nil {
		return errors.New("encoder not started")
	}
	if b := img.Bounds(); b.Dx() != e.Width || b.Dy() != e.Height {
		return fmt.Errorf("frame %dx%d does not match %dx%d", b.Dx(), b.Dy(), e.Width, e.Height)
	}

	// Писатель упал: дожидаемся ffmpeg, чтобы вернуть его сообщение
	if e.gctx.Err() != nil {
		return e.stopped()
	}
	frame := e.Pool.CopyFrame(img)
	select {
	case e.queue <- frame:
		return nil
	case <-e.gctx.Done():
		e.Pool.Put(frame)
		return e.stopped()
	}
}

func (e *FFmpegEncoder) stopped() error {
	if err := e.wait(); err != nil {
		return err
	}
	return errors.New("ffmpeg: encoder stopped")
}

func (e *FFmpegEncoder) closeQueue() {
	e.once.Do(func() { close(e.queue) })
}

func (e *FFmpegEncoder) Finish() error {
	if e.queue == nil {
		return errors.New("encoder not started")
	}
	return e.wait()
}

// wait closes the queue and reaps the writer and the process once. Later
// calls return the first result.
func (e *FFmpegEncoder) wait() error {
	e.waitOnce.Do(func() {
		e.closeQueue()
		werr := e.group.Wait()
		err := e.cmd.Wait()
		e.cancel()
		switch {
		case werr != nil:
			e.err = e.failure(werr)
		case err != nil:
			e.err = e.failure(err)
		}
	})
	return e.err
}

func (e *FFmpegEncoder) Abort() {
	if e.queue == nil {
		return
	}
	e.cancel()
	e.wait()
	os.Remove(e.Output)
}

func (e *FFmpegEncoder) failure(err error) error {
	if msg := strings.TrimSpace(e.stderr.String()); msg != "" {
		return fmt.Errorf("ffmpeg: %w: %s", err, lastLine(msg))
	}
	return fmt.Errorf("ffmpeg: %w", err)
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Mux combines a silent video and a WAV track into output. The video stream
// is copied; audio is encoded to AAC and trimmed to the shorter input.
func Mux(ctx context.Context, videoPath, audioPath, output string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", "-y",
		"-hide_banner", "-loglevel", "error",
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v:0", "-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac", "-b:a", "192k",
		"-shortest",
		"-movflags", "+faststart",
		output,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg mux error: %v, output: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
