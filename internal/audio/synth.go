// Package audio synthesizes the send/receive tone track and writes it as WAV.
package audio

import (
	"math"

	"github.com/ivlev/chat2video/internal/timeline"
)

// SampleCount is round(totalFrames / fps * sampleRate).
func SampleCount(totalFrames, fps, sampleRate int) int {
	if fps <= 0 {
		return 0
	}
	return int(math.Round(float64(totalFrames) * float64(sampleRate) / float64(fps)))
}

func progress(i, n int) float64 {
	if n <= 1 {
		return 0
	}
	return float64(i) / float64(n-1)
}

// SendTone is a 150 ms upward chirp, 800 to 1400 Hz.
func SendTone(sampleRate int) []float64 {
	n := int(math.Round(SendDuration * float64(sampleRate)))
	out := make([]float64, n)
	phase := 0.0
	for i := range out {
		p := progress(i, n)
		env := math.Sin(math.Pi*p) * (1 - 0.5*p)
		out[i] = math.Sin(phase) * env * SendGain

		freq := SendStartHz + (SendEndHz-SendStartHz)*p
		phase += 2 * math.Pi * freq / float64(sampleRate)
	}
	return out
}

// ReceiveTone is a 200 ms two-partial ding with a fast attack and
// exponential decay.
func ReceiveTone(sampleRate int) []float64 {
	n := int(math.Round(ReceiveDuration * float64(sampleRate)))
	out := make([]float64, n)
	for i := range out {
		p := progress(i, n)
		t := float64(i) / float64(sampleRate)
		wave := math.Sin(2*math.Pi*ReceiveHz*t) + 0.5*math.Sin(2*math.Pi*ReceiveHz2*t)
		env := math.Exp(-5*p) * (1 - math.Exp(-50*p))
		out[i] = wave * env * ReceiveGain
	}
	return out
}

// Mix adds tone into buf starting at offset. Samples past the end of buf are
// dropped; nothing is clipped here.
func Mix(buf, tone []float64, offset int) {
	for i, s := range tone {
		j := offset + i
		if j < 0 {
			continue
		}
		if j >= len(buf) {
			return
		}
		buf[j] += s
	}
}

// Clip hard-limits every sample to [-1, 1].
func Clip(buf []float64) {
	for i, s := range buf {
		if s > 1 {
			buf[i] = 1
		} else if s < -1 {
			buf[i] = -1
		}
	}
}

// Synthesizer owns the two tones for one sample rate.
type Synthesizer struct {
	SampleRate int
	Send       []float64
	Receive    []float64
}

func NewSynthesizer(sampleRate int) *Synthesizer {
	return &Synthesizer{
		SampleRate: sampleRate,
		Send:       SendTone(sampleRate),
		Receive:    ReceiveTone(sampleRate),
	}
}

// Synthesize returns a buffer of totalSamples with one tone per timing,
// mixed additively and clipped.
func (s *Synthesizer) Synthesize(timings []timeline.MessageTiming, totalSamples int) []float64 {
	buf := make([]float64, totalSamples)
	for _, tm := range timings {
		tone := s.Receive
		if tm.IsSender {
			tone = s.Send
		}
		Mix(buf, tone, int(math.Round(tm.Time*float64(s.SampleRate))))
	}
	Clip(buf)
	return buf
}
