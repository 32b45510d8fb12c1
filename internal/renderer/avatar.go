package renderer

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"math"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/ivlev/chat2video/internal/chat"
	"github.com/ivlev/chat2video/internal/layout"
	"github.com/ivlev/chat2video/internal/typeset"
)

type avatarKey struct {
	id   string
	size int
}

// decodedAvatar returns the participant's picture, or nil when it has none
// or the bytes cannot be decoded. Failures are reported once.
func (r *Renderer) decodedAvatar(p chat.Participant) image.Image {
	if len(p.Avatar.Image) == 0 {
		return nil
	}
	if img, ok := r.decoded[p.ID]; ok {
		return img
	}

	img, format, err := image.Decode(bytes.NewReader(p.Avatar.Image))
	if err != nil {
		log.Printf("[!] Аватар %q не декодирован (%v), рисуем круг", p.Name, err)
		img = nil
	} else if r.Verbose {
		log.Printf("[*] Аватар %q: %s %dx%d", p.Name, format, img.Bounds().Dx(), img.Bounds().Dy())
	}
	r.decoded[p.ID] = img
	return img
}

// scaledAvatar is the picture resized to size x size, cached per size.
func (r *Renderer) scaledAvatar(p chat.Participant, size int) *image.RGBA {
	key := avatarKey{p.ID, size}
	if img, ok := r.avatars[key]; ok {
		return img
	}

	src := r.decodedAvatar(p)
	if src == nil {
		r.avatars[key] = nil
		return nil
	}

	// center-crop to a square before scaling
	b := src.Bounds()
	side := min(b.Dx(), b.Dy())
	crop := image.Rect(0, 0, side, side).Add(b.Min).Add(image.Pt((b.Dx()-side)/2, (b.Dy()-side)/2))

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)
	r.avatars[key] = dst
	return dst
}

// drawAvatar paints a circular avatar into rect: the picture when there is
// one, otherwise a colored disc with the emoji or the initial.
func (r *Renderer) drawAvatar(dst draw.Image, p chat.Participant, rect layout.Rect) {
	size := int(math.Round(rect.W))
	if size <= 0 {
		return
	}
	bounds := image.Rect(0, 0, size, size).Add(image.Pt(int(math.Round(rect.X)), int(math.Round(rect.Y))))

	if img := r.scaledAvatar(p, size); img != nil {
		draw.DrawMask(dst, bounds, img, image.Point{}, r.mask(size), image.Point{}, draw.Over)
		return
	}

	cx, cy := rect.X+rect.W/2, rect.Y+rect.H/2
	fillCircle(dst, cx, cy, rect.W/2, p.Color())

	if p.Avatar.Emoji != "" && r.ts.HasGlyphs(p.Avatar.Emoji) {
		face := r.ts.Face(rect.W*0.55, typeset.Regular)
		typeset.DrawCentered(dst, face, p.Avatar.Emoji, cx, cy, white)
		return
	}
	face := r.ts.Face(rect.W*0.45, typeset.Bold)
	typeset.DrawCentered(dst, face, p.Initial(), cx, cy, white)
}

func (r *Renderer) mask(size int) *image.Alpha {
	if m, ok := r.masks[size]; ok {
		return m
	}
	m := circleMask(size)
	r.masks[size] = m
	return m
}
