package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// Frame is a single captured video frame in packed RGBA order. The producer
// that submits a frame keeps ownership of it and may reuse the backing pixel
// buffer as soon as the submit call returns; anything that outlives that call
// must work on a Clone.
type Frame struct {
	Width  int
	Height int
	Pix    []byte // 4*Width*Height bytes, row-major RGBA
}

// NewFrame allocates a zeroed frame of the given dimensions.
func NewFrame(width, height int) *Frame {
	return &Frame{
		Width:  width,
		Height: height,
		Pix:    make([]byte, 4*width*height),
	}
}

// Valid reports whether the frame dimensions and pixel buffer agree.
func (f *Frame) Valid() bool {
	return f != nil && f.Width > 0 && f.Height > 0 && len(f.Pix) == 4*f.Width*f.Height
}

// Clone returns a deep copy of the frame with its own pixel buffer.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	pix := make([]byte, len(f.Pix))
	copy(pix, f.Pix)
	return &Frame{Width: f.Width, Height: f.Height, Pix: pix}
}

// FitWithin scales (w, h) down to fit inside (maxW, maxH) preserving aspect
// ratio. Dimensions already within bounds are returned unchanged. The result
// is never smaller than 1x1.
func FitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 || maxW <= 0 || maxH <= 0 {
		return w, h
	}
	if w <= maxW && h <= maxH {
		return w, h
	}
	// Scale by the tighter axis.
	scaleW := float64(maxW) / float64(w)
	scaleH := float64(maxH) / float64(h)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}
	outW := int(float64(w) * scale)
	outH := int(float64(h) * scale)
	if outW < 1 {
		outW = 1
	}
	if outH < 1 {
		outH = 1
	}
	return outW, outH
}

// Downscale returns a copy of the frame resized to fit within (maxW, maxH)
// using nearest-neighbor sampling. A frame already within bounds is cloned
// unchanged so the caller always receives an independent buffer.
func Downscale(f *Frame, maxW, maxH int) *Frame {
	if !f.Valid() {
		return f.Clone()
	}
	outW, outH := FitWithin(f.Width, f.Height, maxW, maxH)
	if outW == f.Width && outH == f.Height {
		return f.Clone()
	}
	out := NewFrame(outW, outH)
	for y := 0; y < outH; y++ {
		srcY := y * f.Height / outH
		for x := 0; x < outW; x++ {
			srcX := x * f.Width / outW
			src := 4 * (srcY*f.Width + srcX)
			dst := 4 * (y*outW + x)
			copy(out.Pix[dst:dst+4], f.Pix[src:src+4])
		}
	}
	return out
}

// EncodeJPEG serializes the frame as JPEG with the given quality (1-100).
func (f *Frame) EncodeJPEG(quality int) ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("encode jpeg: invalid frame")
	}
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	copy(img.Pix, f.Pix)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
