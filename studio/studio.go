// Package studio assembles the engines into one running broadcast core and
// keeps a combined snapshot of everything a host UI shows.
package studio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"onair/audio"
	"onair/broadcast"
	"onair/clock"
	"onair/compositor"
	"onair/hotkey"
	"onair/log"
	"onair/lowerthird"
	"onair/metrics"
	"onair/mixer"
	"onair/notice"
	"onair/overlay"
	"onair/project"
	"onair/publish"
	"onair/render"
	"onair/scene"
	"onair/trigger"
	"onair/video"
)

const statsInterval = time.Minute

var ErrRunning = errors.New("studio: already running")

type Options struct {
	Width  int
	Height int
	FPS    int
	Clock  clock.Clock

	Transition    scene.Transition
	TriggerTarget scene.Target
	MeterInterval time.Duration
	// RealtimeAudio paces the program mix to the sample clock. Script mode
	// and tests turn it off.
	RealtimeAudio bool

	Destinations []publish.Destination
	Assets       compositor.Assets
	Metrics      *metrics.Registry
}

// State is the combined broadcast state.
type State struct {
	Compositions  []scene.Composition     `json:"compositions"`
	ActiveID      string                  `json:"active_id"`
	PreviewID     string                  `json:"preview_id"`
	Transitioning bool                    `json:"transitioning"`
	Transition    scene.TransitionState   `json:"transition"`
	Settings      scene.Transition        `json:"settings"`
	TriggerTarget scene.Target            `json:"trigger_target"`
	AutoAdvance   *scene.AutoAdvanceState `json:"auto_advance,omitempty"`
	Overlays      []overlay.Layer         `json:"overlays"`
	LowerThird    lowerthird.State        `json:"lower_third"`
	Audio         mixer.State             `json:"audio"`
	Inputs        []string                `json:"inputs"`
	Publish       []publish.Status        `json:"publish"`
	Render        render.Status           `json:"render"`
	Notice        *notice.Notice          `json:"notice,omitempty"`
}

func (s State) Find(id string) (scene.Composition, bool) {
	for _, c := range s.Compositions {
		if c.ID == id {
			return c, true
		}
	}
	return scene.Composition{}, false
}

type Studio struct {
	Scenes     *scene.Engine
	Overlays   *overlay.Engine
	LowerThird *lowerthird.Engine
	Audio      *mixer.Graph
	Inputs     *video.Registry
	Surface    *render.Surface
	Render     *render.Loop
	Triggers   *trigger.Dispatcher
	Publisher  *publish.Local
	Metrics    *metrics.Registry

	clock clock.Clock
	hub   *broadcast.Hub[State]

	mu      sync.Mutex
	notice  *notice.Notice
	keys    []string
	running bool
}

func New(opts Options) *Studio {
	c := opts.Clock
	if c == nil {
		c = clock.Real()
	}
	if opts.Transition.Kind == "" {
		opts.Transition = scene.DefaultTransition
	}
	if opts.TriggerTarget == "" {
		opts.TriggerTarget = scene.TargetProgram
	}
	if opts.Assets == nil {
		opts.Assets = compositor.NewCache()
	}
	reg := opts.Metrics
	if reg == nil {
		reg = metrics.New()
	}

	s := &Studio{
		Overlays:   overlay.NewEngine(c),
		LowerThird: lowerthird.NewEngine(c),
		Inputs:     video.NewRegistry(),
		Surface:    render.NewSurface(opts.Width, opts.Height),
		Metrics:    reg,
		clock:      c,
		hub:        broadcast.NewHub[State](),
	}
	s.Scenes = scene.NewEngine(
		scene.WithClock(c),
		scene.WithOverlays(s.Overlays),
		scene.WithTransition(opts.Transition),
		scene.WithTriggerTarget(opts.TriggerTarget),
	)
	s.Audio = mixer.NewGraph(
		mixer.WithClock(c),
		mixer.WithMeterInterval(opts.MeterInterval),
		mixer.WithRealtimeOutput(opts.RealtimeAudio),
		mixer.WithObserver(reg),
	)
	s.Render = render.New(render.Config{
		Scenes:     s.Scenes,
		Overlays:   s.Overlays,
		LowerThird: s.LowerThird,
		Inputs:     s.Inputs,
		Surface:    s.Surface,
		Assets:     opts.Assets,
		Clock:      c,
		FPS:        opts.FPS,
		Observer:   reg,
	})
	s.Triggers = trigger.New(s.Scenes, c, reg)
	s.Publisher = publish.NewLocal(c, opts.Destinations...)
	s.hub.Publish(s.State())
	return s
}

// Subscribe delivers a combined snapshot whenever any engine publishes. The
// first value is taken now, so it is current even when Run is not running.
func (s *Studio) Subscribe() *broadcast.Subscription[State] {
	return s.hub.SubscribeWith(s.State())
}

func (s *Studio) State() State {
	sc := s.Scenes.State()
	st := State{
		Compositions:  sc.Compositions,
		ActiveID:      sc.ActiveID,
		PreviewID:     sc.PreviewID,
		Transitioning: sc.Transitioning,
		Transition:    sc.Transition,
		Settings:      sc.Settings,
		TriggerTarget: sc.Target,
		AutoAdvance:   sc.AutoAdvance,
		Overlays:      s.Overlays.AllLayers(),
		LowerThird:    s.LowerThird.State(),
		Audio:         s.Audio.State(),
		Inputs:        s.Inputs.IDs(),
		Publish:       s.Publisher.Statuses(),
		Render:        s.Render.Status(),
	}
	st.LowerThird.Notice = nil
	st.Audio.Notice = nil
	st.Render.Notice = nil
	s.mu.Lock()
	st.Notice = s.notice
	s.mu.Unlock()
	return st
}

// Notice returns the most recent notice reported by any engine.
func (s *Studio) Notice() *notice.Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notice
}

// Run starts the render loop, hands the program streams to the publisher
// and keeps the combined state current until ctx is done. It returns after
// every loop it started has stopped.
func (s *Studio) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrRunning
	}
	s.running = true
	s.mu.Unlock()

	size := s.Surface.Size()
	log.SessionStart(size.X, size.Y, int(time.Second/s.Render.Interval()), audio.SampleRate)

	if err := s.Publisher.Accept(s.Audio.OutputStream(), s.Surface); err != nil {
		return fmt.Errorf("studio: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.Render.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		s.watch(ctx)
	}()

	stats := time.NewTicker(statsInterval)
	defer stats.Stop()
	for done := false; !done; {
		select {
		case <-ctx.Done():
			done = true
		case <-stats.C:
			log.Stats(s.stats())
		}
	}
	wg.Wait()

	log.Stats(s.stats())
	log.SessionEnd(s.Render.Status().Frames, s.Scenes.ProgramChanges())
	return nil
}

// Close releases audio devices and destinations.
func (s *Studio) Close() error {
	s.Audio.Close()
	return s.Publisher.Close()
}

func (s *Studio) stats() log.LoopStats {
	st := s.Render.Stats()
	st.Sources = len(s.Audio.Sources())
	st.Subscribers = s.hub.Len()
	return st
}

// watch republishes the combined state on every engine snapshot and keeps
// the last notice any of them carried.
func (s *Studio) watch(ctx context.Context) {
	scenes := s.Scenes.Subscribe()
	overlays := s.Overlays.Subscribe()
	lt := s.LowerThird.Subscribe()
	mix := s.Audio.Subscribe()
	levels := s.Audio.SubscribeLevels()
	out := s.Publisher.Subscribe()
	loop := s.Render.Subscribe()
	defer func() {
		scenes.Close()
		overlays.Close()
		lt.Close()
		mix.Close()
		levels.Close()
		out.Close()
		loop.Close()
	}()

	for {
		var n *notice.Notice
		select {
		case <-ctx.Done():
			return
		case v := <-scenes.C():
			n = v.Notice
		case v := <-overlays.C():
			n = v.Notice
		case v := <-lt.C():
			n = v.Notice
		case v := <-mix.C():
			n = v.Notice
		case v := <-levels.C():
			if v.Notice == nil {
				continue
			}
			n = v.Notice
		case <-out.C():
		case v := <-loop.C():
			n = v.Notice
		}
		if n != nil {
			s.mu.Lock()
			s.notice = n
			s.mu.Unlock()
		}
		s.hub.Publish(s.State())
	}
}

// MetricsHandler serves the registry, syncing pulled values first.
func (s *Studio) MetricsHandler() http.Handler {
	return s.Metrics.Handler(func() {
		s.Metrics.SetProgramChanges(s.Scenes.ProgramChanges())
	})
}

// Take runs the global take action.
func (s *Studio) Take() error { return s.Scenes.TransitionPreviewToProgram() }

// Cut runs the global cut action.
func (s *Studio) Cut() error { return s.Scenes.CutToPreview() }

// BindAction binds key to a global action on the composition engine and adds
// it to the keys the hotkey listener watches.
func (s *Studio) BindAction(key string, a scene.Action) error {
	c, err := hotkey.Parse(key)
	if err != nil {
		return err
	}
	s.Scenes.BindKey(c.String(), a)
	s.mu.Lock()
	s.keys = append(s.keys, c.String())
	s.mu.Unlock()
	return nil
}

// ListenHotkeys registers the bound keys on l and dispatches presses until
// ctx is done.
func (s *Studio) ListenHotkeys(ctx context.Context, l hotkey.Listener) {
	s.mu.Lock()
	extra := append([]string(nil), s.keys...)
	s.mu.Unlock()
	go trigger.WatchBindings(ctx, s.Scenes.Subscribe(), l, extra...)
	s.Triggers.RunHotkeys(ctx, l)
	l.Unregister()
}

// AddInput registers a video input that compositions can name as Source.
func (s *Studio) AddInput(id string, in video.Input) error {
	if err := s.Inputs.Add(id, in); err != nil {
		return err
	}
	s.hub.Publish(s.State())
	return nil
}

func (s *Studio) RemoveInput(id string) error {
	if err := s.Inputs.Remove(id); err != nil {
		return err
	}
	s.hub.Publish(s.State())
	return nil
}

// OpenMicrophone opens device in the background and adds it to the mix.
func (s *Studio) OpenMicrophone(ctx context.Context, actx audio.Context, device *audio.DeviceInfo, id string) <-chan error {
	return s.Audio.OpenDevice(ctx, actx, device, id, "")
}

func (s *Studio) Export() project.Document {
	return project.Export(s.Scenes, s.Overlays)
}

func (s *Studio) Import(d project.Document) error {
	return project.Import(d, s.Scenes, s.Overlays)
}

// LoadProject imports the document at path.
func (s *Studio) LoadProject(path string) error {
	d, err := project.Load(path)
	if err != nil {
		return err
	}
	if err := s.Import(d); err != nil {
		return err
	}
	log.Infof("project loaded: %s (%d compositions)", path, len(d.Compositions))
	return nil
}

func (s *Studio) SaveProject(path string) error {
	return project.Save(path, s.Export())
}
