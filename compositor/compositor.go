// Package compositor draws one output frame from a snapshot of studio state.
//
// Drawing order: background, base video (fit and letterboxed, chroma keyed
// when a key is set), overlays in ascending z order, then the lower-third.
// During a transition the outgoing and incoming scenes are each drawn that
// way and then blended by the transition kind.
package compositor

import (
	"errors"
	"image"
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/draw"

	"onair/overlay"
	"onair/scene"
)

// Scene is everything drawn below the lower-third for one composition.
type Scene struct {
	Video    image.Image     // nil shows the background
	Overlays []overlay.Layer // enabled, ascending z
}

type Transition struct {
	Kind     scene.TransitionKind
	Progress float64 // already shaped by the curve
	To       Scene
}

// Frame is the complete input for one tick.
type Frame struct {
	Background color.RGBA
	Program    Scene
	Chroma     *overlay.Chroma
	Transition *Transition
	LowerThird *LowerThird
}

var DefaultBackground = color.RGBA{0x10, 0x10, 0x14, 0xff}

// Compositor holds scratch buffers between frames. It is not safe for
// concurrent use; the render loop owns one.
type Compositor struct {
	assets Assets
	from   *image.RGBA
	to     *image.RGBA
	vid    *image.RGBA
	tmp    *image.RGBA
}

func New(assets Assets) *Compositor {
	if assets == nil {
		assets = NewCache()
	}
	return &Compositor{assets: assets}
}

// Compose draws f into dst. Missing assets are skipped and reported in the
// returned error; the rest of the frame is still drawn.
func (c *Compositor) Compose(dst *image.RGBA, f Frame) error {
	b := dst.Bounds()
	bg := f.Background
	if bg.A == 0 {
		bg = DefaultBackground
	}

	var errs []error
	if f.Transition == nil || f.Transition.Kind == scene.Cut {
		errs = c.drawScene(dst, f.Program, f.Chroma, bg)
	} else {
		c.from = ensure(c.from, b)
		c.to = ensure(c.to, b)
		errs = c.drawScene(c.from, f.Program, f.Chroma, bg)
		errs = append(errs, c.drawScene(c.to, f.Transition.To, f.Chroma, bg)...)
		blend(dst, c.from, c.to, f.Transition.Kind, clamp01(f.Transition.Progress), bg)
	}
	if f.LowerThird != nil {
		c.tmp = ensure(c.tmp, b)
		drawLowerThird(dst, c.tmp, *f.LowerThird)
	}
	return errors.Join(errs...)
}

func (c *Compositor) drawScene(dst *image.RGBA, s Scene, key *overlay.Chroma, bg color.RGBA) []error {
	b := dst.Bounds()
	draw.Draw(dst, b, image.NewUniform(bg), image.Point{}, draw.Src)

	if s.Video != nil {
		r := fit(s.Video.Bounds().Size(), b)
		c.vid = grow(c.vid, r.Size())
		vid := c.vid.SubImage(image.Rectangle{Max: r.Size()}).(*image.RGBA)
		draw.ApproxBiLinear.Scale(vid, vid.Bounds(), s.Video, s.Video.Bounds(), draw.Src, nil)
		if key != nil {
			chromaKey(vid, key.Key(), key.Threshold, key.Smoothing)
		}
		draw.Draw(dst, r, vid, image.Point{}, draw.Over)
	}

	var errs []error
	for _, l := range s.Overlays {
		if err := c.drawLayer(dst, l); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (c *Compositor) drawLayer(dst *image.RGBA, l overlay.Layer) error {
	b := dst.Bounds()
	switch p := l.Payload.(type) {
	case overlay.Logo:
		img, err := c.assets.Image(p.Source)
		if err != nil {
			return err
		}
		sz := img.Bounds().Size()
		w := int(p.Scale * float64(b.Dx()))
		if w <= 0 || sz.X == 0 {
			return nil
		}
		h := w * sz.Y / sz.X
		at := p.Anchor.Place(b, w, h, p.Margin)
		drawScaled(dst, image.Rectangle{Min: at, Max: at.Add(image.Pt(w, h))}, img, p.Opacity)
	case overlay.Image:
		img, err := c.assets.Image(p.Source)
		if err != nil {
			return err
		}
		drawScaled(dst, p.Rect.Within(b), img, p.Opacity)
	}
	// chroma is applied to the video; the lower-third slot is drawn last
	return nil
}

func drawScaled(dst *image.RGBA, r image.Rectangle, src image.Image, opacity float64) {
	if r.Empty() || opacity <= 0 {
		return
	}
	var opts *draw.Options
	if opacity < 1 {
		opts = &draw.Options{SrcMask: image.NewUniform(color.Alpha{uint8(opacity * 255)})}
	}
	draw.ApproxBiLinear.Scale(dst, r, src, src.Bounds(), draw.Over, opts)
}

// fit returns the largest rectangle with the aspect ratio of src centred in
// bounds.
func fit(src image.Point, bounds image.Rectangle) image.Rectangle {
	if src.X <= 0 || src.Y <= 0 {
		return image.Rectangle{}
	}
	bw, bh := bounds.Dx(), bounds.Dy()
	w, h := bw, bw*src.Y/src.X
	if h > bh {
		w, h = bh*src.X/src.Y, bh
	}
	x := bounds.Min.X + (bw-w)/2
	y := bounds.Min.Y + (bh-h)/2
	return image.Rect(x, y, x+w, y+h)
}

// chromaKey makes pixels near key transparent in place. Alpha rises
// smoothly from 0 at threshold to 1 at threshold+smoothing, measured as RGB
// distance normalised to 0..1.
func chromaKey(img *image.RGBA, key colorful.Color, threshold, smoothing float64) {
	kr, kg, kb := key.R, key.G, key.B
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			px := row[x*4 : x*4+4]
			r, g, bl := float64(px[0])/255, float64(px[1])/255, float64(px[2])/255
			d := math.Sqrt(((r-kr)*(r-kr) + (g-kg)*(g-kg) + (bl-kb)*(bl-kb)) / 3)
			a := matte(d, threshold, smoothing)
			if a >= 1 {
				continue
			}
			// RGBA is premultiplied
			px[0] = uint8(float64(px[0]) * a)
			px[1] = uint8(float64(px[1]) * a)
			px[2] = uint8(float64(px[2]) * a)
			px[3] = uint8(float64(px[3]) * a)
		}
	}
}

func matte(d, threshold, smoothing float64) float64 {
	if d <= threshold {
		return 0
	}
	if smoothing <= 0 || d >= threshold+smoothing {
		return 1
	}
	t := (d - threshold) / smoothing
	return t * t * (3 - 2*t)
}

func blend(dst, from, to *image.RGBA, kind scene.TransitionKind, p float64, bg color.RGBA) {
	b := dst.Bounds()
	switch kind {
	case scene.Slide:
		draw.Draw(dst, b, image.NewUniform(bg), image.Point{}, draw.Src)
		off := int(math.Round(p * float64(b.Dx())))
		draw.Draw(dst, b.Add(image.Pt(-off, 0)), from, b.Min, draw.Src)
		draw.Draw(dst, b.Add(image.Pt(b.Dx()-off, 0)), to, b.Min, draw.Src)
	case scene.Zoom:
		draw.Draw(dst, b, from, b.Min, draw.Src)
		w, h := int(p*float64(b.Dx())), int(p*float64(b.Dy()))
		if w > 0 && h > 0 {
			x := b.Min.X + (b.Dx()-w)/2
			y := b.Min.Y + (b.Dy()-h)/2
			opts := &draw.Options{SrcMask: image.NewUniform(color.Alpha{uint8(p * 255)})}
			draw.ApproxBiLinear.Scale(dst, image.Rect(x, y, x+w, y+h), to, to.Bounds(), draw.Over, opts)
		}
	default: // fade
		draw.Draw(dst, b, from, b.Min, draw.Src)
		draw.DrawMask(dst, b, to, b.Min, image.NewUniform(color.Alpha{uint8(math.Round(p * 255))}), image.Point{}, draw.Over)
	}
}

// ensure returns img if it has exactly bounds r, or a new image.
func ensure(img *image.RGBA, r image.Rectangle) *image.RGBA {
	if img != nil && img.Bounds() == r {
		return img
	}
	return image.NewRGBA(r)
}

// grow returns img if it is at least size, or a new image.
func grow(img *image.RGBA, size image.Point) *image.RGBA {
	if img != nil && img.Bounds().Dx() >= size.X && img.Bounds().Dy() >= size.Y {
		return img
	}
	return image.NewRGBA(image.Rectangle{Max: size})
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
