// Package typeset measures, wraps and draws text with the embedded Go fonts.
package typeset

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
)

type Style int

const (
	Regular Style = iota
	Bold
)

var parsedFonts = sync.OnceValues(func() ([2]*opentype.Font, error) {
	var out [2]*opentype.Font
	for i, src := range [][]byte{goregular.TTF, gobold.TTF} {
		f, err := opentype.Parse(src)
		if err != nil {
			return out, err
		}
		out[i] = f
	}
	return out, nil
})

type faceKey struct {
	size  fixed.Int26_6
	style Style
}

// Typesetter caches faces by size and style. Faces keep scratch buffers, so
// a Typesetter must not be shared between goroutines; create one per worker.
type Typesetter struct {
	fonts [2]*opentype.Font
	faces map[faceKey]font.Face
	buf   sfnt.Buffer
}

func New() (*Typesetter, error) {
	fonts, err := parsedFonts()
	if err != nil {
		return nil, err
	}
	return &Typesetter{fonts: fonts, faces: make(map[faceKey]font.Face)}, nil
}

// Face returns a face of size pixels. Sizes are quantized to 1/64 px.
func (t *Typesetter) Face(size float64, style Style) font.Face {
	key := faceKey{size: fixed.Int26_6(math.Round(size * 64)), style: style}
	if f, ok := t.faces[key]; ok {
		return f
	}

	f, err := opentype.NewFace(t.fonts[style], &opentype.FaceOptions{
		Size:    float64(key.size) / 64,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	if err != nil {
		// NewFace only fails on nonsensical options; keep rendering.
		return basicfont.Face7x13
	}
	t.faces[key] = f
	return f
}

// HasGlyphs reports whether every rune of s is covered by the regular font.
func (t *Typesetter) HasGlyphs(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		idx, err := t.fonts[Regular].GlyphIndex(&t.buf, r)
		if err != nil || idx == 0 {
			return false
		}
	}
	return true
}

func (t *Typesetter) Close() {
	for k, f := range t.faces {
		f.Close()
		delete(t.faces, k)
	}
}

// Measure returns the advance width of s in pixels.
func Measure(face font.Face, s string) float64 {
	return toFloat(font.MeasureString(face, s))
}

// Ascent is the distance from the top of a line to its baseline.
func Ascent(face font.Face) float64 {
	return toFloat(face.Metrics().Ascent)
}

func Descent(face font.Face) float64 {
	return toFloat(face.Metrics().Descent)
}

// Wrap breaks text into lines no wider than maxWidth. Words are packed
// greedily, explicit newlines start a new line and a word wider than
// maxWidth on its own is split between runes. The result always has at
// least one line.
func Wrap(face font.Face, text string, maxWidth float64) []string {
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		current := ""
		for _, word := range strings.Fields(para) {
			candidate := word
			if current != "" {
				candidate = current + " " + word
			}
			if Measure(face, candidate) <= maxWidth {
				current = candidate
				continue
			}
			if current != "" {
				lines = append(lines, current)
			}
			current = word
			for Measure(face, current) > maxWidth && utf8.RuneCountInString(current) > 1 {
				head, tail := splitToWidth(face, current, maxWidth)
				lines = append(lines, head)
				current = tail
			}
		}
		lines = append(lines, current)
	}

	// Пустые абзацы в конце только добавляют высоту
	for len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func splitToWidth(face font.Face, s string, maxWidth float64) (string, string) {
	runes := []rune(s)
	n := 1
	for n < len(runes) && Measure(face, string(runes[:n+1])) <= maxWidth {
		n++
	}
	return string(runes[:n]), string(runes[n:])
}

// Draw renders s with its baseline at y.
func Draw(dst draw.Image, face font.Face, s string, x, y float64, c color.Color) {
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: fromFloat(x), Y: fromFloat(y)},
	}
	d.DrawString(s)
}

// DrawTop renders s with the top of its line box at y.
func DrawTop(dst draw.Image, face font.Face, s string, x, y float64, c color.Color) {
	Draw(dst, face, s, x, y+Ascent(face), c)
}

// DrawCentered renders s centered on (cx, cy).
func DrawCentered(dst draw.Image, face font.Face, s string, cx, cy float64, c color.Color) {
	Draw(dst, face, s, cx-Measure(face, s)/2, cy+(Ascent(face)-Descent(face))/2, c)
}

func toFloat(v fixed.Int26_6) float64 { return float64(v) / 64 }

func fromFloat(v float64) fixed.Int26_6 { return fixed.Int26_6(math.Round(v * 64)) }
