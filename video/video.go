// Package video provides the inputs a composition can put on program as
// base video.
package video

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"onair/clock"
)

var (
	ErrNotFound  = errors.New("video: input not found")
	ErrDuplicate = errors.New("video: input id already registered")
)

// Input is a source of video frames. Frame may be called from the render
// loop on every tick and must not block; it returns nil until Ready.
type Input interface {
	Ready() bool
	Size() image.Point
	Frame() image.Image
}

// DecodeFile reads a png, jpeg, webp or bmp image.
func DecodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// Still shows one image forever.
type Still struct {
	img image.Image
}

func NewStill(img image.Image) *Still { return &Still{img: img} }

func LoadStill(path string) (*Still, error) {
	img, err := DecodeFile(path)
	if err != nil {
		return nil, err
	}
	return NewStill(img), nil
}

func (s *Still) Ready() bool        { return s.img != nil }
func (s *Still) Size() image.Point  { return s.img.Bounds().Size() }
func (s *Still) Frame() image.Image { return s.img }

// Feed is an input that something else pushes frames into, such as a camera
// pipeline. Only the latest frame is kept; a pushed image must not be
// modified afterwards.
type Feed struct {
	size   image.Point
	latest atomic.Pointer[image.Image]
	frames atomic.Uint64
}

func NewFeed(w, h int) *Feed { return &Feed{size: image.Pt(w, h)} }

func (f *Feed) Push(img image.Image) {
	f.latest.Store(&img)
	f.frames.Add(1)
}

func (f *Feed) Ready() bool       { return f.latest.Load() != nil }
func (f *Feed) Size() image.Point { return f.size }
func (f *Feed) Frames() uint64    { return f.frames.Load() }

func (f *Feed) Frame() image.Image {
	if p := f.latest.Load(); p != nil {
		return *p
	}
	return nil
}

var bars = []color.RGBA{
	{192, 192, 192, 255}, // gray
	{192, 192, 0, 255},   // yellow
	{0, 192, 192, 255},   // cyan
	{0, 192, 0, 255},     // green
	{192, 0, 192, 255},   // magenta
	{192, 0, 0, 255},     // red
	{0, 0, 192, 255},     // blue
}

// TestPattern renders colour bars with a white line sweeping across once a
// second, so a frozen output is obvious at a glance.
type TestPattern struct {
	clock clock.Clock
	w, h  int
	start time.Time
}

func NewTestPattern(c clock.Clock, w, h int) *TestPattern {
	if c == nil {
		c = clock.Real()
	}
	return &TestPattern{clock: c, w: w, h: h, start: c.Now()}
}

func (p *TestPattern) Ready() bool       { return true }
func (p *TestPattern) Size() image.Point { return image.Pt(p.w, p.h) }

func (p *TestPattern) Frame() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, p.w, p.h))
	barW := max(p.w/len(bars), 1)
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			img.SetRGBA(x, y, bars[min(x/barW, len(bars)-1)])
		}
	}
	elapsed := p.clock.Now().Sub(p.start) % time.Second
	sweep := int(float64(p.w) * float64(elapsed) / float64(time.Second))
	for y := 0; y < p.h; y++ {
		for x := sweep; x < min(sweep+max(p.w/100, 2), p.w); x++ {
			img.SetRGBA(x, y, color.RGBA{255, 255, 255, 255})
		}
	}
	return img
}

// Registry maps input ids to inputs. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	inputs map[string]Input
}

func NewRegistry() *Registry {
	return &Registry{inputs: map[string]Input{}}
}

func (r *Registry) Add(id string, in Input) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inputs[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	r.inputs[id] = in
	return nil
}

func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inputs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.inputs, id)
	return nil
}

// Get returns the input for id. An empty id is "no video" and returns false.
func (r *Registry) Get(id string) (Input, bool) {
	if id == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.inputs[id]
	return in, ok
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.inputs))
	for id := range r.inputs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
