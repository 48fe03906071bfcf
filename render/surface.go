package render

import (
	"context"
	"image"
	"sync"
	"time"
)

// Frame is one published program frame. Image must not be modified after
// it is published; readers share it.
type Frame struct {
	Seq       uint64
	At        time.Time
	Image     *image.RGBA
	ProgramID string
	// Transition is the in-flight transition progress, or -1.
	Transition float64
}

// Surface is the output the render loop draws into. It holds only the latest
// frame; a reader that falls behind skips frames instead of queueing them.
type Surface struct {
	mu      sync.Mutex
	size    image.Point
	mounted bool
	latest  *Frame
	seq     uint64
	wake    chan struct{}
}

// NewSurface returns a mounted surface of w×h pixels.
func NewSurface(w, h int) *Surface {
	return &Surface{size: image.Pt(w, h), mounted: true, wake: make(chan struct{})}
}

func (s *Surface) Size() image.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Resize changes the output dimensions. The next frame is drawn at the new
// size.
func (s *Surface) Resize(w, h int) {
	s.mu.Lock()
	s.size = image.Pt(w, h)
	s.mu.Unlock()
}

func (s *Surface) Mount() {
	s.mu.Lock()
	s.mounted = true
	s.mu.Unlock()
}

// Unmount stops the render loop from drawing until Mount. The last frame
// stays readable.
func (s *Surface) Unmount() {
	s.mu.Lock()
	s.mounted = false
	s.mu.Unlock()
}

func (s *Surface) Mounted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mounted && s.size.X > 0 && s.size.Y > 0
}

func (s *Surface) Latest() (*Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.latest != nil
}

// Seq returns the sequence number of the latest frame, 0 before the first.
func (s *Surface) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Next blocks until a frame newer than after is published or ctx is done.
func (s *Surface) Next(ctx context.Context, after uint64) (*Frame, error) {
	for {
		s.mu.Lock()
		if s.latest != nil && s.latest.Seq > after {
			f := s.latest
			s.mu.Unlock()
			return f, nil
		}
		wake := s.wake
		s.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Publish stores img as the latest frame and wakes every Next waiter. The
// caller must not modify img afterwards.
func (s *Surface) Publish(img *image.RGBA, at time.Time, program string, transition float64) *Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	f := &Frame{Seq: s.seq, At: at, Image: img, ProgramID: program, Transition: transition}
	s.latest = f
	close(s.wake)
	s.wake = make(chan struct{})
	return f
}
