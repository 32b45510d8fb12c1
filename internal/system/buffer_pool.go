package system

import (
	"image"
	"sync"
)

// ImagePool recycles *image.RGBA frames of a given size to keep the garbage
// collector out of the frame loop.
type ImagePool struct {
	mu    sync.RWMutex
	pools map[image.Point]*sync.Pool
}

func NewImagePool() *ImagePool {
	return &ImagePool{pools: make(map[image.Point]*sync.Pool)}
}

// Frames is shared by encoders so consecutive exports reuse buffers.
var Frames = NewImagePool()

func (p *ImagePool) pool(size image.Point) *sync.Pool {
	p.mu.RLock()
	pool, ok := p.pools[size]
	p.mu.RUnlock()
	if ok {
		return pool
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if pool, ok = p.pools[size]; !ok {
		pool = &sync.Pool{
			New: func() any {
				return image.NewRGBA(image.Rectangle{Max: size})
			},
		}
		p.pools[size] = pool
	}
	return pool
}

// Get may return a previously used frame; callers overwrite every pixel.
func (p *ImagePool) Get(size image.Point) *image.RGBA {
	return p.pool(size).Get().(*image.RGBA)
}

// Put ignores frames that are not zero-origin or not tightly packed.
func (p *ImagePool) Put(img *image.RGBA) {
	if img == nil || img.Rect.Min != (image.Point{}) || img.Stride != img.Rect.Dx()*4 {
		return
	}
	p.pool(img.Rect.Size()).Put(img)
}

// CopyFrame copies src into a pooled, tightly packed frame.
func (p *ImagePool) CopyFrame(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	dst := p.Get(b.Size())
	if src.Stride == b.Dx()*4 && len(src.Pix) >= len(dst.Pix) {
		copy(dst.Pix, src.Pix)
		return dst
	}
	for y := 0; y < b.Dy(); y++ {
		row := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):]
		copy(dst.Pix[y*dst.Stride:(y+1)*dst.Stride], row[:b.Dx()*4])
	}
	return dst
}
