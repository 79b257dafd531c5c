// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package snapshot draws a frame of the display as an image, the way the LED
// display shows it, with the unit printed on its right.
package snapshot

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"sync"

	"github.com/GermanBionicSystems/segtherm/sevenseg"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

// Opts represents the options available for the renderer.
type Opts struct {
	// Height of a digit in pixels. 0 means 80.
	Height int
	// Background, On and Off are the colors of the panel and of lit and unlit
	// segments. nil means black, red and dark red.
	Background, On, Off color.Color
}

// Renderer draws frames. It is safe for concurrent use.
type Renderer struct {
	h, w, t     float64
	bg, on, off color.Color

	mu   sync.Mutex
	face font.Face
}

// New returns a Renderer.
func New(opts *Opts) (*Renderer, error) {
	if opts == nil {
		opts = &Opts{}
	}
	h := opts.Height
	if h == 0 {
		h = 80
	}
	if h < 20 {
		return nil, fmt.Errorf("snapshot: height %d too small", h)
	}
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	r := &Renderer{
		h:    float64(h),
		w:    float64(h) / 2,
		t:    float64(h) / 10,
		bg:   opts.Background,
		on:   opts.On,
		off:  opts.Off,
		face: truetype.NewFace(f, &truetype.Options{Size: float64(h) / 3}),
	}
	if r.bg == nil {
		r.bg = color.Black
	}
	if r.on == nil {
		r.on = color.NRGBA{R: 255, G: 32, A: 255}
	}
	if r.off == nil {
		r.off = color.NRGBA{R: 48, A: 255}
	}
	return r, nil
}

// Bounds returns the size of the images drawn.
func (r *Renderer) Bounds() image.Rectangle {
	return image.Rect(0, 0, int(2*r.margin()+sevenseg.NumDigits*r.pitch()+r.h), int(r.h+2*r.margin()))
}

func (r *Renderer) margin() float64 {
	return 2 * r.t
}

// pitch is the distance between two digits.
func (r *Renderer) pitch() float64 {
	return r.w + 3*r.t
}

// segment returns the rectangle of segment seg of slot.
func (r *Renderer) segment(slot int, seg sevenseg.Pattern) (x, y, w, h float64) {
	x0 := r.margin() + float64(slot)*r.pitch()
	y0 := r.margin()
	t, half := r.t, r.h/2
	vert := half - 1.5*t
	switch seg {
	case sevenseg.SegA:
		return x0 + t, y0, r.w - 2*t, t
	case sevenseg.SegB:
		return x0 + r.w - t, y0 + t, t, vert
	case sevenseg.SegC:
		return x0 + r.w - t, y0 + half + t/2, t, vert
	case sevenseg.SegD:
		return x0 + t, y0 + r.h - t, r.w - 2*t, t
	case sevenseg.SegE:
		return x0, y0 + half + t/2, t, vert
	case sevenseg.SegF:
		return x0, y0 + t, t, vert
	case sevenseg.SegG:
		return x0 + t, y0 + half - t/2, r.w - 2*t, t
	default:
		// The point.
		return x0 + r.w + t/2, y0 + r.h - t, t, t
	}
}

// Draw returns an image of f followed by label, e.g. "°F".
func (r *Renderer) Draw(f sevenseg.Frame, label string) image.Image {
	b := r.Bounds()
	dc := gg.NewContext(b.Dx(), b.Dy())
	dc.SetColor(r.bg)
	dc.Clear()
	for slot, p := range f.Patterns() {
		for ix := 0; ix < sevenseg.NumSegments; ix++ {
			seg := sevenseg.Pattern(1 << ix)
			if p.Has(seg) {
				dc.SetColor(r.on)
			} else {
				dc.SetColor(r.off)
			}
			x, y, w, h := r.segment(slot, seg)
			if seg == sevenseg.SegDP {
				dc.DrawCircle(x+w/2, y+h/2, w/2)
			} else {
				dc.DrawRoundedRectangle(x, y, w, h, r.t/3)
			}
			dc.Fill()
		}
	}
	if label != "" {
		r.mu.Lock()
		dc.SetFontFace(r.face)
		dc.SetColor(r.on)
		dc.DrawStringAnchored(label, r.margin()+sevenseg.NumDigits*r.pitch()+r.h/2, r.margin(), 0.5, 1)
		r.mu.Unlock()
	}
	return dc.Image()
}

// EncodePNG draws f and label and writes them to w as a PNG.
func (r *Renderer) EncodePNG(w io.Writer, f sevenseg.Frame, label string) error {
	dc := gg.NewContextForImage(r.Draw(f, label))
	if err := dc.EncodePNG(w); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	return nil
}

// SavePNG draws f and label to the file path.
func (r *Renderer) SavePNG(path string, f sevenseg.Frame, label string) error {
	if err := gg.SavePNG(path, r.Draw(f, label)); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	return nil
}
