package compositor

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"onair/lowerthird"
)

// LowerThird is what the compositor needs from the lower-third engine.
// Visibility is 0 (off screen) to 1 (fully in).
type LowerThird struct {
	Payload    lowerthird.Payload
	Visibility float64
	Accent     color.RGBA
}

var (
	ltBox         = color.RGBA{0x12, 0x16, 0x1e, 0xff}
	DefaultAccent = color.RGBA{0xe0, 0x3a, 0x3e, 0xff}
)

const (
	ltPad     = 10
	ltAccentW = 6
	ltLineGap = 6
)

// ltBounds lays out the fully visible box for the payload within b.
func ltBounds(b image.Rectangle, p lowerthird.Payload) image.Rectangle {
	face := basicfont.Face7x13
	textW := max(font.MeasureString(face, p.Name).Ceil(), font.MeasureString(face, p.Title).Ceil())
	lineH := face.Metrics().Height.Ceil()
	w := ltAccentW + 2*ltPad + textW
	h := 2*ltPad + lineH
	if p.Title != "" {
		h += lineH + ltLineGap
	}
	margin := b.Dy() / 20
	y := b.Max.Y - margin - h
	var x int
	switch p.Position {
	case lowerthird.BottomCenter:
		x = b.Min.X + (b.Dx()-w)/2
	case lowerthird.BottomRight:
		x = b.Max.X - margin - w
	default:
		x = b.Min.X + margin
	}
	return image.Rect(x, y, x+w, y+h)
}

// ltOffset is how far the box sits from its resting place for a slide.
// Left and right boxes slide in from their edge, centred boxes rise.
func ltOffset(b, box image.Rectangle, p lowerthird.Payload, v float64) image.Point {
	if p.Animation != lowerthird.Slide {
		return image.Point{}
	}
	hidden := 1 - v
	switch p.Position {
	case lowerthird.BottomCenter:
		return image.Pt(0, int(hidden*float64(b.Max.Y-box.Min.Y)))
	case lowerthird.BottomRight:
		return image.Pt(int(hidden*float64(b.Max.X-box.Min.X)), 0)
	}
	return image.Pt(-int(hidden*float64(box.Max.X-b.Min.X)), 0)
}

func drawLowerThird(dst, scratch *image.RGBA, lt LowerThird) {
	v := clamp01(lt.Visibility)
	if v <= 0 {
		return
	}
	b := dst.Bounds()
	p := lt.Payload
	box := ltBounds(b, p)
	accent := lt.Accent
	if accent.A == 0 {
		accent = DefaultAccent
	}

	// draw the box at its resting place in scratch, then move and fade it
	local := image.Rectangle{Max: box.Size()}
	card := scratch.SubImage(local).(*image.RGBA)
	draw.Draw(card, local, image.NewUniform(ltBox), image.Point{}, draw.Src)
	draw.Draw(card, image.Rect(0, 0, ltAccentW, local.Dy()), image.NewUniform(accent), image.Point{}, draw.Src)

	face := basicfont.Face7x13
	ascent := face.Metrics().Ascent.Ceil()
	lineH := face.Metrics().Height.Ceil()
	d := font.Drawer{Dst: card, Src: image.White, Face: face}
	d.Dot = fixed.P(ltAccentW+ltPad, ltPad+ascent)
	d.DrawString(p.Name)
	if p.Title != "" {
		d.Src = image.NewUniform(color.RGBA{0xc8, 0xcc, 0xd4, 0xff})
		d.Dot = fixed.P(ltAccentW+ltPad, ltPad+lineH+ltLineGap+ascent)
		d.DrawString(p.Title)
	}

	at := box.Add(ltOffset(b, box, p, v))
	alpha := uint8(0xff)
	if p.Animation == lowerthird.Fade {
		alpha = uint8(v * 0xff)
	}
	draw.DrawMask(dst, at, card, image.Point{}, image.NewUniform(color.Alpha{alpha}), image.Point{}, draw.Over)
}
