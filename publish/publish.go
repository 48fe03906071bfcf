// Package publish is the egress boundary. A Publisher takes the program
// audio and video and forwards them to any number of destinations that are
// switched on and off independently.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"onair/broadcast"
	"onair/clock"
	"onair/log"
	"onair/render"
)

var (
	ErrUnknownDestination = errors.New("publish: unknown destination")
	ErrAlreadyAccepted    = errors.New("publish: streams already accepted")
	ErrClosed             = errors.New("publish: publisher closed")
)

type State string

const (
	Idle       State = "idle"
	Connecting State = "connecting"
	Live       State = "live"
	Failed     State = "failed"
)

type Status struct {
	Destination string    `json:"destination"`
	Name        string    `json:"name"`
	Enabled     bool      `json:"enabled"`
	State       State     `json:"state"`
	AudioBytes  uint64    `json:"audio_bytes"`
	Frames      uint64    `json:"frames"`
	Error       string    `json:"error,omitempty"`
	Since       time.Time `json:"since"`
}

type Publisher interface {
	// Accept hands over the continuous program streams. It is called once.
	Accept(audio io.Reader, video *render.Surface) error
	Enable(dest string) error
	Disable(dest string) error
	Statuses() []Status
}

// Sink receives the program for one destination.
type Sink interface {
	WriteAudio(pcm []byte) error
	WriteFrame(f *render.Frame) error
	Close() error
}

type Destination struct {
	ID   string
	Name string
	Open func() (Sink, error)
}

type dest struct {
	Destination
	status Status
	sink   Sink
}

// Local fans the program out to in-process sinks.
type Local struct {
	clock clock.Clock
	hub   *broadcast.Hub[[]Status]

	mu       sync.Mutex
	dests    map[string]*dest
	order    []string
	accepted bool
	closed   bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewLocal(c clock.Clock, dests ...Destination) *Local {
	if c == nil {
		c = clock.Real()
	}
	l := &Local{clock: c, hub: broadcast.NewHub[[]Status](), dests: map[string]*dest{}}
	now := c.Now()
	for _, d := range dests {
		l.dests[d.ID] = &dest{Destination: d, status: Status{Destination: d.ID, Name: d.Name, State: Idle, Since: now}}
		l.order = append(l.order, d.ID)
	}
	l.mu.Lock()
	l.publishLocked()
	l.mu.Unlock()
	return l
}

func (l *Local) Subscribe() *broadcast.Subscription[[]Status] {
	return l.hub.Subscribe()
}

func (l *Local) Accept(audio io.Reader, video *render.Surface) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if l.accepted {
		return ErrAlreadyAccepted
	}
	l.accepted = true
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	if audio != nil {
		l.wg.Add(1)
		go l.pumpAudio(ctx, audio)
	}
	if video != nil {
		l.wg.Add(1)
		go l.pumpVideo(ctx, video)
	}
	return nil
}

// Enable opens the destination's sink. A destination that failed is
// reopened.
func (l *Local) Enable(id string) error {
	l.mu.Lock()
	d, ok := l.dests[id]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownDestination, id)
	}
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if d.sink != nil || d.status.State == Connecting {
		l.mu.Unlock()
		return nil
	}
	d.status.Enabled = true
	l.setLocked(d, Connecting, nil)
	open := d.Open
	l.mu.Unlock()

	sink, err := open()

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.setLocked(d, Failed, err)
		return fmt.Errorf("publish: open %s: %w", id, err)
	}
	if !d.status.Enabled || l.closed {
		// disabled while opening
		sink.Close()
		return nil
	}
	d.sink = sink
	l.setLocked(d, Live, nil)
	log.Infof("publish: %s live", id)
	return nil
}

func (l *Local) Disable(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.dests[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDestination, id)
	}
	d.status.Enabled = false
	l.closeLocked(d)
	l.setLocked(d, Idle, nil)
	return nil
}

func (l *Local) Statuses() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statusesLocked()
}

// Close stops the pumps and closes every open sink.
func (l *Local) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	if l.cancel != nil {
		l.cancel()
	}
	l.mu.Unlock()
	l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	var errs []error
	for _, id := range l.order {
		d := l.dests[id]
		if d.sink != nil {
			errs = append(errs, d.sink.Close())
			d.sink = nil
			l.setLocked(d, Idle, nil)
		}
	}
	return errors.Join(errs...)
}

// 20ms of mono PCM16 at 48kHz, the mixer's read size.
const audioChunk = 1920

func (l *Local) pumpAudio(ctx context.Context, r io.Reader) {
	defer l.wg.Done()
	buf := make([]byte, audioChunk)
	for ctx.Err() == nil {
		n, err := r.Read(buf)
		if n > 0 {
			l.fan(func(s Sink, st *Status) error {
				st.AudioBytes += uint64(n)
				return s.WriteAudio(buf[:n])
			})
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warnf("publish: audio read: %v", err)
			}
			return
		}
	}
}

func (l *Local) pumpVideo(ctx context.Context, s *render.Surface) {
	defer l.wg.Done()
	var seq uint64
	for {
		f, err := s.Next(ctx, seq)
		if err != nil {
			return
		}
		seq = f.Seq
		l.fan(func(s Sink, st *Status) error {
			st.Frames++
			return s.WriteFrame(f)
		})
	}
}

// fan calls write for every live destination. A failing sink is closed and
// marked Failed; the others keep receiving.
func (l *Local) fan(write func(Sink, *Status) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range l.order {
		d := l.dests[id]
		if d.sink == nil {
			continue
		}
		if err := write(d.sink, &d.status); err != nil {
			log.DeviceError("publish", id, err)
			l.closeLocked(d)
			l.setLocked(d, Failed, err)
		}
	}
}

func (l *Local) closeLocked(d *dest) {
	if d.sink == nil {
		return
	}
	if err := d.sink.Close(); err != nil {
		log.Warnf("publish: close %s: %v", d.ID, err)
	}
	d.sink = nil
}

func (l *Local) setLocked(d *dest, s State, err error) {
	d.status.State = s
	d.status.Since = l.clock.Now()
	d.status.Error = ""
	if err != nil {
		d.status.Error = err.Error()
	}
	l.publishLocked()
}

func (l *Local) publishLocked() {
	l.hub.Publish(l.statusesLocked())
}

func (l *Local) statusesLocked() []Status {
	out := make([]Status, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.dests[id].status)
	}
	return out
}
