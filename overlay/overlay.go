// Package overlay stores the graphics layers drawn over the base video.
//
// Layers are kept sorted by ZIndex (ties broken by ID) after every change,
// so the compositor can draw Layers() front to back without sorting.
package overlay

import (
	"cmp"
	"errors"
	"fmt"
	"image"
	"image/color"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/lucasb-eyer/go-colorful"

	"onair/broadcast"
	"onair/clock"
	"onair/log"
	"onair/notice"
)

var (
	ErrNotFound    = errors.New("overlay: layer not found")
	ErrBadPayload  = errors.New("overlay: invalid payload")
	ErrMultiChroma = errors.New("overlay: only one chroma layer may be enabled")
)

type Kind string

const (
	KindLogo       Kind = "logo"
	KindImage      Kind = "image"
	KindChroma     Kind = "chroma"
	KindLowerThird Kind = "lower-third"
)

// Payload is one of Logo, Image, Chroma or LowerThirdSlot.
type Payload interface {
	Kind() Kind
	validate() error
}

type Anchor string

const (
	TopLeft     Anchor = "top-left"
	TopRight    Anchor = "top-right"
	BottomLeft  Anchor = "bottom-left"
	BottomRight Anchor = "bottom-right"
	Center      Anchor = "center"
)

func (a Anchor) valid() bool {
	switch a {
	case TopLeft, TopRight, BottomLeft, BottomRight, Center:
		return true
	}
	return false
}

// Place returns the top-left corner of a w×h box anchored inside bounds
// with the given margin.
func (a Anchor) Place(bounds image.Rectangle, w, h, margin int) image.Point {
	switch a {
	case TopLeft:
		return image.Pt(bounds.Min.X+margin, bounds.Min.Y+margin)
	case TopRight:
		return image.Pt(bounds.Max.X-margin-w, bounds.Min.Y+margin)
	case BottomLeft:
		return image.Pt(bounds.Min.X+margin, bounds.Max.Y-margin-h)
	case Center:
		return image.Pt(bounds.Min.X+(bounds.Dx()-w)/2, bounds.Min.Y+(bounds.Dy()-h)/2)
	}
	return image.Pt(bounds.Max.X-margin-w, bounds.Max.Y-margin-h)
}

type Logo struct {
	Source  string  `yaml:"source" json:"source"`
	Anchor  Anchor  `yaml:"anchor" json:"anchor"`
	Scale   float64 `yaml:"scale" json:"scale"` // fraction of output width
	Opacity float64 `yaml:"opacity" json:"opacity"`
	Margin  int     `yaml:"margin" json:"margin"`
}

func (Logo) Kind() Kind { return KindLogo }

func (l Logo) validate() error {
	if l.Source == "" {
		return fmt.Errorf("%w: logo needs a source", ErrBadPayload)
	}
	if !l.Anchor.valid() {
		return fmt.Errorf("%w: unknown anchor %q", ErrBadPayload, l.Anchor)
	}
	if l.Scale <= 0 || l.Scale > 1 {
		return fmt.Errorf("%w: logo scale %v outside (0,1]", ErrBadPayload, l.Scale)
	}
	return checkUnit("opacity", l.Opacity)
}

// Rect is a rectangle in output-relative units, 0..1 on both axes.
type Rect struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
	W float64 `yaml:"w" json:"w"`
	H float64 `yaml:"h" json:"h"`
}

// Within maps r onto bounds.
func (r Rect) Within(bounds image.Rectangle) image.Rectangle {
	dx, dy := float64(bounds.Dx()), float64(bounds.Dy())
	return image.Rect(
		bounds.Min.X+int(r.X*dx),
		bounds.Min.Y+int(r.Y*dy),
		bounds.Min.X+int((r.X+r.W)*dx),
		bounds.Min.Y+int((r.Y+r.H)*dy),
	)
}

type Image struct {
	Source  string  `yaml:"source" json:"source"`
	Rect    Rect    `yaml:"rect" json:"rect"`
	Opacity float64 `yaml:"opacity" json:"opacity"`
}

func (Image) Kind() Kind { return KindImage }

func (i Image) validate() error {
	if i.Source == "" {
		return fmt.Errorf("%w: image needs a source", ErrBadPayload)
	}
	if i.Rect.W <= 0 || i.Rect.H <= 0 {
		return fmt.Errorf("%w: empty image rect", ErrBadPayload)
	}
	return checkUnit("opacity", i.Opacity)
}

// Chroma keys out KeyColor from the base video. It is not drawn as a layer.
type Chroma struct {
	KeyColor  string  `yaml:"key_color" json:"key_color"`
	Threshold float64 `yaml:"threshold" json:"threshold"`
	Smoothing float64 `yaml:"smoothing" json:"smoothing"`
}

func (Chroma) Kind() Kind { return KindChroma }

func (c Chroma) validate() error {
	if _, err := colorful.Hex(c.KeyColor); err != nil {
		return fmt.Errorf("%w: key color %q", ErrBadPayload, c.KeyColor)
	}
	if err := checkUnit("threshold", c.Threshold); err != nil {
		return err
	}
	return checkUnit("smoothing", c.Smoothing)
}

// Key returns the parsed key color.
func (c Chroma) Key() colorful.Color {
	k, _ := colorful.Hex(c.KeyColor)
	return k
}

// LowerThirdSlot gates the lower-third: once any slot layer exists, the
// lower-third is drawn only while one of them is enabled. The lower-third is
// always drawn last, whatever the slot's ZIndex.
type LowerThirdSlot struct{}

func (LowerThirdSlot) Kind() Kind { return KindLowerThird }

func (LowerThirdSlot) validate() error { return nil }

func checkUnit(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%w: %s %v outside [0,1]", ErrBadPayload, name, v)
	}
	return nil
}

type Layer struct {
	ID      string  `json:"id"`
	Name    string  `json:"name,omitempty"`
	ZIndex  int     `json:"z_index"`
	Enabled bool    `json:"enabled"`
	Payload Payload `json:"payload"`
}

func (l Layer) Kind() Kind {
	if l.Payload == nil {
		return ""
	}
	return l.Payload.Kind()
}

// ParseColor parses "#rrggbb" into an opaque color.
func ParseColor(s string) (color.RGBA, error) {
	c, err := colorful.Hex(strings.TrimSpace(s))
	if err != nil {
		return color.RGBA{}, err
	}
	r, g, b := c.RGB255()
	return color.RGBA{r, g, b, 0xff}, nil
}

type State struct {
	Layers []Layer        `json:"layers"`
	Notice *notice.Notice `json:"notice,omitempty"`
}

// Engine owns the overlay layer set. Safe for concurrent use.
type Engine struct {
	clock clock.Clock
	hub   *broadcast.Hub[State]

	mu     sync.Mutex
	layers []Layer
}

func NewEngine(c clock.Clock) *Engine {
	if c == nil {
		c = clock.Real()
	}
	e := &Engine{clock: c, hub: broadcast.NewHub[State]()}
	e.mu.Lock()
	e.publishLocked(nil)
	e.mu.Unlock()
	return e
}

func (e *Engine) Subscribe() *broadcast.Subscription[State] {
	return e.hub.Subscribe()
}

// Set inserts or replaces a layer by ID and returns its ID.
func (e *Engine) Set(l Layer) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if l.Payload == nil {
		return "", e.failLocked("set", l.ID, fmt.Errorf("%w: missing payload", ErrBadPayload))
	}
	if err := l.Payload.validate(); err != nil {
		return "", e.failLocked("set", l.ID, err)
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Enabled && l.Kind() == KindChroma && e.otherChromaLocked(l.ID) {
		return "", e.failLocked("set", l.ID, ErrMultiChroma)
	}
	if i := e.indexLocked(l.ID); i >= 0 {
		e.layers[i] = l
	} else {
		e.layers = append(e.layers, l)
	}
	e.sortLocked()
	e.publishLocked(nil)
	return l.ID, nil
}

func (e *Engine) Remove(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.indexLocked(id)
	if i < 0 {
		return e.failLocked("remove", id, fmt.Errorf("%w: %s", ErrNotFound, id))
	}
	e.layers = slices.Delete(e.layers, i, i+1)
	e.publishLocked(nil)
	return nil
}

func (e *Engine) Toggle(id string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.indexLocked(id)
	if i < 0 {
		return e.failLocked("toggle", id, fmt.Errorf("%w: %s", ErrNotFound, id))
	}
	if e.layers[i].Enabled == enabled {
		return nil
	}
	if enabled && e.layers[i].Kind() == KindChroma && e.otherChromaLocked(id) {
		return e.failLocked("toggle", id, ErrMultiChroma)
	}
	e.layers[i].Enabled = enabled
	e.publishLocked(nil)
	return nil
}

// ShowOnly enables exactly the listed layers and disables the rest. Unknown
// ids are ignored. Chroma layers are left alone: keying belongs to the
// camera setup, not to the scene's graphics.
func (e *Engine) ShowOnly(ids []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	changed := false
	for i := range e.layers {
		if e.layers[i].Kind() == KindChroma {
			continue
		}
		if e.layers[i].Enabled != want[e.layers[i].ID] {
			e.layers[i].Enabled = want[e.layers[i].ID]
			changed = true
		}
	}
	if changed {
		e.publishLocked(nil)
	}
	return nil
}

// ReplaceAll swaps the whole layer set. Used by import.
func (e *Engine) ReplaceAll(layers []Layer) error {
	next := make([]Layer, 0, len(layers))
	seen := map[string]bool{}
	chroma := 0
	for _, l := range layers {
		if l.Payload == nil {
			return fmt.Errorf("%w: layer %q has no payload", ErrBadPayload, l.ID)
		}
		if err := l.Payload.validate(); err != nil {
			return fmt.Errorf("layer %q: %w", l.ID, err)
		}
		if l.ID == "" {
			l.ID = uuid.NewString()
		}
		if seen[l.ID] {
			return fmt.Errorf("%w: duplicate layer id %q", ErrBadPayload, l.ID)
		}
		seen[l.ID] = true
		if l.Enabled && l.Kind() == KindChroma {
			chroma++
		}
		next = append(next, l)
	}
	if chroma > 1 {
		return ErrMultiChroma
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.layers = next
	e.sortLocked()
	e.publishLocked(nil)
	return nil
}

// Layers returns the enabled drawable layers in ascending ZIndex. Chroma is
// excluded; see Chroma.
func (e *Engine) Layers() []Layer {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Layer, 0, len(e.layers))
	for _, l := range e.layers {
		if l.Enabled && l.Kind() != KindChroma {
			out = append(out, l)
		}
	}
	return out
}

func (e *Engine) AllLayers() []Layer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.layers)
}

// Chroma returns the enabled chroma key, if any.
func (e *Engine) Chroma() (Chroma, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, l := range e.layers {
		if c, ok := l.Payload.(Chroma); ok && l.Enabled {
			return c, true
		}
	}
	return Chroma{}, false
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{Layers: slices.Clone(e.layers)}
}

func (e *Engine) otherChromaLocked(id string) bool {
	for _, l := range e.layers {
		if l.ID != id && l.Enabled && l.Kind() == KindChroma {
			return true
		}
	}
	return false
}

func (e *Engine) sortLocked() {
	slices.SortStableFunc(e.layers, func(a, b Layer) int {
		if c := cmp.Compare(a.ZIndex, b.ZIndex); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func (e *Engine) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(e.layers, func(l Layer) bool { return l.ID == id })
}

func (e *Engine) failLocked(op, id string, err error) error {
	n := notice.New(notice.Validation, "overlay."+op, id, err, e.clock.Now())
	log.Warn(n.Error())
	e.publishLocked(n)
	return err
}

func (e *Engine) publishLocked(n *notice.Notice) {
	e.hub.Publish(State{Layers: slices.Clone(e.layers), Notice: n})
}
