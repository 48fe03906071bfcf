// Package render runs the display-cadence loop that turns engine state into
// program frames.
package render

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"onair/broadcast"
	"onair/clock"
	"onair/compositor"
	"onair/log"
	"onair/lowerthird"
	"onair/notice"
	"onair/overlay"
	"onair/scene"
	"onair/video"
)

const DefaultFPS = 30

// Skip reasons reported to the observer.
const (
	SkipUnmounted = "unmounted"
	SkipNotReady  = "input_not_ready"
)

// Observer receives per-tick measurements. metrics.Registry implements it.
type Observer interface {
	ObserveFrame(d time.Duration)
	ObserveSkip(reason string)
	ObserveFault(loop string)
}

type Status struct {
	Frames  uint64         `json:"frames"`
	Skipped uint64         `json:"skipped"`
	Faults  uint64         `json:"faults"`
	LastSeq uint64         `json:"last_seq"`
	Notice  *notice.Notice `json:"notice,omitempty"`
}

type Config struct {
	Scenes     *scene.Engine
	Overlays   *overlay.Engine
	LowerThird *lowerthird.Engine
	Inputs     *video.Registry
	Surface    *Surface
	Assets     compositor.Assets
	Clock      clock.Clock
	FPS        int
	Observer   Observer
}

type Loop struct {
	cfg  Config
	comp *compositor.Compositor
	hub  *broadcast.Hub[Status]

	mu       sync.Mutex
	status   Status
	missing  map[string]bool // reported since the last program change
	program  string
	tickSum  time.Duration
	tickMax  time.Duration
	lastSkip string
}

func New(cfg Config) *Loop {
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Inputs == nil {
		cfg.Inputs = video.NewRegistry()
	}
	l := &Loop{
		cfg:     cfg,
		comp:    compositor.New(cfg.Assets),
		hub:     broadcast.NewHub[Status](),
		missing: map[string]bool{},
	}
	l.hub.Publish(Status{})
	return l
}

// Subscribe delivers loop status. A status is published on every fault and
// whenever the loop starts or stops skipping.
func (l *Loop) Subscribe() *broadcast.Subscription[Status] {
	return l.hub.Subscribe()
}

func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

func (l *Loop) Interval() time.Duration {
	return time.Second / time.Duration(l.cfg.FPS)
}

// Run ticks at the configured frame rate until ctx is done. Frames are drawn
// every interval whether or not anything changed.
func (l *Loop) Run(ctx context.Context) {
	t := time.NewTicker(l.Interval())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Tick(l.cfg.Clock.Now())
		}
	}
}

// Tick renders one frame at now. A panic inside the tick is recovered,
// logged and reported; the next tick runs normally. It returns the published
// frame, or nil when the tick was skipped or failed.
func (l *Loop) Tick(now time.Time) (f *Frame) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			l.fault(now, fmt.Errorf("render tick panic: %v", r))
			f = nil
		}
	}()

	sc := l.cfg.Scenes.Tick(now)
	l.mu.Lock()
	if sc.ActiveID != l.program {
		l.program = sc.ActiveID
		clear(l.missing)
	}
	l.mu.Unlock()
	var lt lowerthird.State
	if l.cfg.LowerThird != nil {
		lt = l.cfg.LowerThird.Tick(now)
	}
	var ov overlay.State
	if l.cfg.Overlays != nil {
		ov = l.cfg.Overlays.State()
	}

	if !l.cfg.Surface.Mounted() {
		l.skip(SkipUnmounted)
		return nil
	}
	program, ok := sc.Active()
	in, ready := l.input(program.Source, now)
	if ok && !ready {
		l.skip(SkipNotReady)
		return nil
	}

	frame := compositor.Frame{Program: compositor.Scene{Overlays: drawable(ov.Layers, nil)}}
	if in != nil {
		frame.Program.Video = in.Frame()
	}
	if key, ok := chroma(ov.Layers); ok {
		frame.Chroma = &key
	}
	progress := -1.0
	if sc.Transitioning {
		progress = sc.Transition.Progress
		frame.Transition = l.target(sc, ov, now)
	}
	if lt.Showing() && slotEnabled(ov.Layers) {
		frame.LowerThird = &compositor.LowerThird{Payload: *lt.Payload, Visibility: lt.Visibility()}
	}

	size := l.cfg.Surface.Size()
	dst := image.NewRGBA(image.Rectangle{Max: size})
	if err := l.comp.Compose(dst, frame); err != nil {
		l.report(notice.New(notice.Device, "render.asset", program.ID, err, now))
	}
	f = l.cfg.Surface.Publish(dst, now, sc.ActiveID, progress)
	l.done(f.Seq, time.Since(start))
	return f
}

// target builds the incoming scene of a transition. Its overlays are the
// target composition's set, or the current set when it has none.
func (l *Loop) target(sc scene.State, ov overlay.State, now time.Time) *compositor.Transition {
	tr := &compositor.Transition{Kind: sc.Transition.Kind, Progress: sc.Transition.Progress}
	to, ok := sc.Find(sc.Transition.To)
	if !ok {
		return tr
	}
	tr.To.Overlays = drawable(ov.Layers, to.Overlays)
	if in, _ := l.input(to.Source, now); in != nil && in.Ready() {
		tr.To.Video = in.Frame()
	}
	return tr
}

// input resolves a composition's video source. An empty id is background
// only and counts as ready. An unknown id is drawn as background and
// reported once per program change, or again after it was seen registered.
func (l *Loop) input(id string, now time.Time) (video.Input, bool) {
	if id == "" {
		return nil, true
	}
	in, ok := l.cfg.Inputs.Get(id)
	if !ok {
		l.mu.Lock()
		first := !l.missing[id]
		l.missing[id] = true
		l.mu.Unlock()
		if first {
			l.report(notice.New(notice.Validation, "render.input", id, video.ErrNotFound, now))
		}
		return nil, true
	}
	l.mu.Lock()
	delete(l.missing, id)
	l.mu.Unlock()
	if !in.Ready() {
		return nil, false
	}
	return in, true
}

// drawable filters layers to the enabled non-chroma ones. A non-nil only
// restricts the result to those ids regardless of their enabled flag.
func drawable(layers []overlay.Layer, only []string) []overlay.Layer {
	var want map[string]bool
	if only != nil {
		want = make(map[string]bool, len(only))
		for _, id := range only {
			want[id] = true
		}
	}
	out := make([]overlay.Layer, 0, len(layers))
	for _, l := range layers {
		if l.Kind() == overlay.KindChroma {
			continue
		}
		if want != nil && !want[l.ID] || want == nil && !l.Enabled {
			continue
		}
		out = append(out, l)
	}
	return out
}

func chroma(layers []overlay.Layer) (overlay.Chroma, bool) {
	for _, l := range layers {
		if c, ok := l.Payload.(overlay.Chroma); ok && l.Enabled {
			return c, true
		}
	}
	return overlay.Chroma{}, false
}

// slotEnabled reports whether the lower-third may be drawn. Without any
// lower-third slot layer it always may; with slots, one must be enabled.
func slotEnabled(layers []overlay.Layer) bool {
	seen := false
	for _, l := range layers {
		if l.Kind() != overlay.KindLowerThird {
			continue
		}
		if l.Enabled {
			return true
		}
		seen = true
	}
	return !seen
}

func (l *Loop) skip(reason string) {
	if l.cfg.Observer != nil {
		l.cfg.Observer.ObserveSkip(reason)
	}
	l.mu.Lock()
	l.status.Skipped++
	changed := l.lastSkip != reason
	l.lastSkip = reason
	st := l.status
	l.mu.Unlock()
	if changed {
		log.Infof("render: skipping frames (%s)", reason)
		l.hub.Publish(st)
	}
}

func (l *Loop) done(seq uint64, d time.Duration) {
	if l.cfg.Observer != nil {
		l.cfg.Observer.ObserveFrame(d)
	}
	l.mu.Lock()
	l.status.Frames++
	l.status.LastSeq = seq
	l.tickSum += d
	l.tickMax = max(l.tickMax, d)
	resumed := l.lastSkip != ""
	l.lastSkip = ""
	st := l.status
	l.mu.Unlock()
	if resumed {
		l.hub.Publish(st)
	}
}

func (l *Loop) fault(now time.Time, err error) {
	log.TickFault("render", err)
	if l.cfg.Observer != nil {
		l.cfg.Observer.ObserveFault("render")
	}
	l.mu.Lock()
	l.status.Faults++
	l.mu.Unlock()
	l.report(notice.New(notice.Fault, "render.tick", "", err, now))
}

func (l *Loop) report(n *notice.Notice) {
	l.mu.Lock()
	st := l.status
	l.mu.Unlock()
	st.Notice = n
	log.Warn(n.Error())
	l.hub.Publish(st)
}

// Stats summarises the loop for the session log.
func (l *Loop) Stats() log.LoopStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := log.LoopStats{
		Frames:      l.status.Frames,
		Skipped:     l.status.Skipped,
		Faults:      l.status.Faults,
		MaxTickMs:   float64(l.tickMax) / float64(time.Millisecond),
		Subscribers: l.hub.Len(),
	}
	if l.status.Frames > 0 {
		s.AvgTickMs = float64(l.tickSum) / float64(l.status.Frames) / float64(time.Millisecond)
	}
	return s
}
