package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// ErrInvalidWAV reports a container this package cannot read.
type ErrInvalidWAV struct {
	Details string
}

func (e *ErrInvalidWAV) Error() string {
	return fmt.Sprintf("invalid wav: %s", e.Details)
}

// EncodeWAV serializes samples as 16-bit little-endian mono PCM.
// Samples are expected in [-1, 1]; anything outside is clamped.
func EncodeWAV(w io.Writer, samples []float64, sampleRate int) error {
	dataSize := len(samples) * bytesPerFrame
	buf := make([]byte, headerSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], fmtChunkBodySize)
	binary.LittleEndian.PutUint16(buf[20:22], formatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], channels)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*bytesPerFrame))
	binary.LittleEndian.PutUint16(buf[32:34], bytesPerFrame)
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	off := headerSize
	for _, s := range samples {
		s = math.Max(-1, math.Min(1, s))
		binary.LittleEndian.PutUint16(buf[off:], uint16(int16(math.Round(s*32767))))
		off += bytesPerFrame
	}

	_, err := w.Write(buf)
	return err
}

// WriteWAV encodes samples into path.
func WriteWAV(path string, samples []float64, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := EncodeWAV(f, samples, sampleRate); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// DecodeWAV reads 16-bit mono PCM. Chunks other than "fmt " and "data"
// (LIST, fact...) are skipped.
func DecodeWAV(data []byte) (samples []float64, sampleRate int, err error) {
	if len(data) < riffHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, &ErrInvalidWAV{Details: "missing RIFF/WAVE header"}
	}

	var fmtSeen bool
	offset := riffHeaderSize
	for offset+chunkHeaderSize <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + chunkHeaderSize
		if body+size > len(data) {
			return nil, 0, &ErrInvalidWAV{Details: fmt.Sprintf("chunk %q overruns file (%d > %d)", id, body+size, len(data))}
		}

		switch id {
		case "fmt ":
			if size < fmtChunkBodySize {
				return nil, 0, &ErrInvalidWAV{Details: "fmt chunk too short"}
			}
			format := binary.LittleEndian.Uint16(data[body:])
			ch := binary.LittleEndian.Uint16(data[body+2:])
			bits := binary.LittleEndian.Uint16(data[body+14:])
			if format != formatPCM || ch != channels || bits != bitsPerSample {
				return nil, 0, &ErrInvalidWAV{Details: fmt.Sprintf("unsupported format %d, %d ch, %d bit", format, ch, bits)}
			}
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			fmtSeen = true

		case "data":
			if !fmtSeen {
				return nil, 0, &ErrInvalidWAV{Details: "data chunk before fmt chunk"}
			}
			samples = make([]float64, size/bytesPerFrame)
			for i := range samples {
				v := int16(binary.LittleEndian.Uint16(data[body+i*bytesPerFrame:]))
				samples[i] = float64(v) / 32767
			}
			return samples, sampleRate, nil
		}

		offset = body + size
		if size%2 != 0 {
			offset++
		}
	}
	return nil, 0, &ErrInvalidWAV{Details: "no data chunk"}
}

// LoadTone reads a WAV file to use in place of a synthesized tone. The
// file must match sampleRate.
func LoadTone(path string, sampleRate int) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	samples, rate, err := DecodeWAV(data)
	if err != nil {
		return nil, err
	}
	if rate != sampleRate {
		return nil, &ErrInvalidWAV{Details: fmt.Sprintf("%s: sample rate %d, expected %d", path, rate, sampleRate)}
	}
	return samples, nil
}
