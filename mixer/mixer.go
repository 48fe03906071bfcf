// Package mixer is the studio's audio graph: every captured source runs
// through its own gain and analysis tap into one master bus.
//
//	track → source gain → tap ─┐
//	track → source gain → tap ─┼→ master gain → Output
//	track → source gain → tap ─┘
//
// Source gain and the tap run on the capture goroutine as samples arrive, so
// meters keep moving whether or not anyone reads the output. The master bus
// is pulled by Output.Read.
package mixer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"onair/audio"
	"onair/broadcast"
	"onair/clock"
	"onair/log"
	"onair/notice"
)

var (
	ErrNoAudioTrack    = errors.New("mixer: stream has no audio track")
	ErrDuplicateSource = errors.New("mixer: source id already registered")
	ErrNotFound        = errors.New("mixer: source not found")
	ErrBadGain         = errors.New("mixer: gain must be between 0 and 4")
	ErrTrackEnded      = errors.New("mixer: capture track ended")
)

const (
	DefaultMeterInterval = 50 * time.Millisecond
	DefaultAnalyserSize  = 2048
	// MaxGain allows +12dB of make-up gain.
	MaxGain = 4.0
	// bufferDepth bounds how far a source may run ahead of the output reader.
	bufferDepth = audio.SampleRate / 2
)

type SourceKind string

const (
	Microphone SourceKind = "microphone"
	Screen     SourceKind = "screen"
	Camera     SourceKind = "camera"
	Media      SourceKind = "media"
)

type SourceConfig struct {
	ID     string
	Kind   SourceKind
	Label  string
	Stream *audio.Stream
}

// SourceInfo is the snapshot view of a registered source. Active is read
// from the hardware track at snapshot time.
type SourceInfo struct {
	ID     string     `json:"id"`
	Kind   SourceKind `json:"kind"`
	Label  string     `json:"label"`
	Gain   float64    `json:"gain"`
	Active bool       `json:"active"`
	Silent bool       `json:"silent"`
}

type State struct {
	Sources  []SourceInfo   `json:"sources"`
	Master   float64        `json:"master"`
	Metering bool           `json:"metering"`
	Notice   *notice.Notice `json:"notice,omitempty"`
}

// Observer receives loop timings. metrics.Registry implements it.
type Observer interface {
	ObserveMeterTick(d time.Duration, sources int)
}

type Option func(*Graph)

func WithClock(c clock.Clock) Option {
	return func(g *Graph) { g.clock = c }
}

func WithMeterInterval(d time.Duration) Option {
	return func(g *Graph) {
		if d > 0 {
			g.interval = d
		}
	}
}

func WithAnalyserSize(n int) Option {
	return func(g *Graph) {
		if n > 0 {
			g.analyser = n
		}
	}
}

// WithRealtimeOutput paces Output.Read to the sample clock. Disable it for
// offline rendering and tests.
func WithRealtimeOutput(v bool) Option {
	return func(g *Graph) { g.realtime = v }
}

func WithObserver(o Observer) Option {
	return func(g *Graph) { g.observer = o }
}

type source struct {
	id     string
	kind   SourceKind
	label  string
	stream *audio.Stream
	tracks []*audio.Track
	gain   *atomicFloat
	lanes  []*lane

	silence     *silenceMonitor
	endReported bool
}

// active mirrors the hardware: any live audio track means the source is live.
func (s *source) active() bool {
	for _, t := range s.tracks {
		if t.State() == audio.Live {
			return true
		}
	}
	return false
}

type meterLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Graph owns all audio sources and the master bus. Safe for concurrent use.
type Graph struct {
	clock    clock.Clock
	interval time.Duration
	analyser int
	realtime bool
	observer Observer

	hub    *broadcast.Hub[State]
	levels *broadcast.Hub[Levels]
	master *atomicFloat
	out    *Output

	mu      sync.Mutex
	sources map[string]*source
	order   []string
	meter   *meterLoop
	window  []float32
	scratch []float32
	closed  bool
}

func NewGraph(opts ...Option) *Graph {
	g := &Graph{
		clock:    clock.Real(),
		interval: DefaultMeterInterval,
		analyser: DefaultAnalyserSize,
		realtime: true,
		hub:      broadcast.NewHub[State](),
		levels:   broadcast.NewHub[Levels](),
		master:   newAtomicFloat(1),
		sources:  map[string]*source{},
	}
	for _, opt := range opts {
		opt(g)
	}
	g.window = make([]float32, g.analyser)
	g.scratch = make([]float32, g.analyser)
	g.out = newOutput(g)
	g.mu.Lock()
	g.publishLocked(nil)
	g.mu.Unlock()
	return g
}

func (g *Graph) Subscribe() *broadcast.Subscription[State] { return g.hub.Subscribe() }

// SubscribeLevels delivers one Levels per meter tick.
func (g *Graph) SubscribeLevels() *broadcast.Subscription[Levels] { return g.levels.Subscribe() }

// AddSource registers a captured stream. Disabled audio tracks are enabled.
// The first source starts the metering loop.
func (g *Graph) AddSource(cfg SourceConfig) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var tracks []*audio.Track
	if cfg.Stream != nil {
		tracks = cfg.Stream.AudioTracks()
	}
	if len(tracks) == 0 {
		return g.failLocked(notice.Validation, "add", cfg.ID, ErrNoAudioTrack)
	}
	if cfg.ID == "" {
		cfg.ID = cfg.Stream.ID
	}
	if _, ok := g.sources[cfg.ID]; ok {
		return g.failLocked(notice.Validation, "add", cfg.ID, fmt.Errorf("%w: %s", ErrDuplicateSource, cfg.ID))
	}
	if cfg.Kind == "" {
		cfg.Kind = Microphone
	}
	if cfg.Label == "" {
		cfg.Label = tracks[0].Label()
	}

	s := &source{
		id:      cfg.ID,
		kind:    cfg.Kind,
		label:   cfg.Label,
		stream:  cfg.Stream,
		tracks:  tracks,
		gain:    newAtomicFloat(1),
		silence: newSilenceMonitor(g.interval),
	}
	for _, t := range tracks {
		if !t.Enabled() {
			t.SetEnabled(true)
		}
		l := s.newLane(g.analyser)
		s.lanes = append(s.lanes, l)
		t.Attach(l.sink())
	}
	g.sources[s.id] = s
	g.order = append(g.order, s.id)
	log.SourceAdded(s.id, string(s.kind), s.label, len(tracks))

	if g.meter == nil && !g.closed {
		g.startMeterLocked()
	}
	g.publishLocked(nil)
	return nil
}

// lane is the chain of one track: gain, tap, buffer for the bus. Each lane
// has exactly one writer, its track's capture goroutine. Lanes of a source
// share the gain target and are summed on the bus.
type lane struct {
	gain  *gainNode
	tap   *tap
	queue *fifo
}

func (s *source) newLane(analyser int) *lane {
	gn := newGainNode(s.gain.Load())
	gn.target = s.gain
	return &lane{gain: gn, tap: newTap(analyser), queue: newFIFO(bufferDepth)}
}

// sink converts, scales, taps and buffers samples for the bus.
func (l *lane) sink() audio.Sink {
	var buf []float32
	return func(samples []int16) {
		if cap(buf) < len(samples) {
			buf = make([]float32, len(samples))
		}
		buf = buf[:len(samples)]
		for i, v := range samples {
			buf[i] = float32(v) / 32768
		}
		l.gain.process(buf)
		l.tap.write(buf)
		l.queue.push(buf)
	}
}

// window sums the most recent samples of every lane, aligned at the newest
// sample, and returns the summed part of dst. scratch must be as long as dst.
func (s *source) window(dst, scratch []float32) []float32 {
	if len(s.lanes) == 1 {
		return dst[:s.lanes[0].tap.window(dst)]
	}
	clear(dst)
	longest := 0
	for _, l := range s.lanes {
		k := l.tap.window(scratch)
		off := len(dst) - k
		for i, v := range scratch[:k] {
			dst[off+i] += v
		}
		longest = max(longest, k)
	}
	return dst[len(dst)-longest:]
}

func (s *source) resetTaps() {
	for _, l := range s.lanes {
		l.tap.reset()
	}
}

// popAdd sums the buffered samples of every lane into dst.
func (s *source) popAdd(dst []float32) {
	for _, l := range s.lanes {
		l.queue.popAdd(dst)
	}
}

// OpenDevice opens a capture device in the background and registers it as
// a source once it is running. The returned channel yields the outcome.
// Permission failures are reported as device notices.
func (g *Graph) OpenDevice(ctx context.Context, actx audio.Context, device *audio.DeviceInfo, id, label string) <-chan error {
	res := make(chan error, 1)
	go func() {
		stream, err := audio.Open(ctx, actx, device, audio.DefaultConfig())
		if err != nil {
			g.mu.Lock()
			g.failLocked(notice.Device, "open", id, err)
			g.mu.Unlock()
			log.DeviceError("open", id, err)
			res <- err
			return
		}
		if label == "" && device != nil {
			label = device.Name
		}
		if err := g.AddSource(SourceConfig{ID: id, Kind: Microphone, Label: label, Stream: stream}); err != nil {
			stream.Stop()
			res <- err
			return
		}
		res <- nil
	}()
	return res
}

// RemoveSource detaches and stops every track of the source before it leaves
// state. Removing the last source stops metering.
func (g *Graph) RemoveSource(id string) error {
	g.mu.Lock()
	s, ok := g.sources[id]
	if !ok {
		err := g.failLocked(notice.Validation, "remove", id, fmt.Errorf("%w: %s", ErrNotFound, id))
		g.mu.Unlock()
		return err
	}
	for _, t := range s.tracks {
		t.Detach()
		t.Stop()
	}
	if s.stream != nil {
		s.stream.Stop()
	}
	delete(g.sources, id)
	g.order = slices.DeleteFunc(g.order, func(v string) bool { return v == id })
	log.SourceRemoved(id)

	var stop *meterLoop
	if len(g.sources) == 0 {
		stop, g.meter = g.meter, nil
	}
	g.publishLocked(nil)
	g.publishLevelsLocked(g.clock.Now(), nil, false)
	g.mu.Unlock()

	if stop != nil {
		stop.cancel()
		<-stop.done
	}
	return nil
}

func (g *Graph) SetSourceGain(id string, linear float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sources[id]
	if !ok {
		return g.failLocked(notice.Validation, "gain", id, fmt.Errorf("%w: %s", ErrNotFound, id))
	}
	if linear < 0 || linear > MaxGain {
		return g.failLocked(notice.Validation, "gain", id, ErrBadGain)
	}
	s.gain.Store(linear)
	g.publishLocked(nil)
	return nil
}

func (g *Graph) SetMasterVolume(linear float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if linear < 0 || linear > MaxGain {
		return g.failLocked(notice.Validation, "master", "", ErrBadGain)
	}
	g.master.Store(linear)
	g.publishLocked(nil)
	return nil
}

// OutputStream returns the master bus. The same reader is returned on every
// call and stays valid while sources come and go.
func (g *Graph) OutputStream() *Output { return g.out }

func (g *Graph) Sources() []SourceInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sourcesLocked()
}

// Metering reports whether the metering loop is running.
func (g *Graph) Metering() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.meter != nil
}

func (g *Graph) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked(nil)
}

// Close removes every source and stops metering.
func (g *Graph) Close() {
	g.mu.Lock()
	g.closed = true
	ids := slices.Clone(g.order)
	g.mu.Unlock()
	for _, id := range ids {
		g.RemoveSource(id)
	}
}

func (g *Graph) sourcesLocked() []SourceInfo {
	out := make([]SourceInfo, 0, len(g.order))
	for _, id := range g.order {
		s := g.sources[id]
		out = append(out, SourceInfo{
			ID:     s.id,
			Kind:   s.kind,
			Label:  s.label,
			Gain:   s.gain.Load(),
			Active: s.active(),
			Silent: s.silence.Warned(),
		})
	}
	return out
}

func (g *Graph) stateLocked(n *notice.Notice) State {
	return State{
		Sources:  g.sourcesLocked(),
		Master:   g.master.Load(),
		Metering: g.meter != nil,
		Notice:   n,
	}
}

func (g *Graph) failLocked(kind notice.Kind, op, id string, err error) error {
	n := notice.New(kind, "audio."+op, id, err, g.clock.Now())
	log.Warn(n.Error())
	g.publishLocked(n)
	return err
}

func (g *Graph) publishLocked(n *notice.Notice) {
	g.hub.Publish(g.stateLocked(n))
}
