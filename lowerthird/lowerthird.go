// Package lowerthird drives the single on-screen name/title slot through its
// enter, hold and exit phases.
//
// There are no timers. Show and Hide store deadlines and Tick, called by the
// render loop with the frame time, moves between phases once a deadline has
// passed. Replacing or clearing a deadline is the only way to cancel, so a
// stale hide can never fire over newer content.
package lowerthird

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"onair/broadcast"
	"onair/clock"
	"onair/log"
	"onair/notice"
)

var ErrBadPayload = errors.New("lowerthird: invalid payload")

// DefaultAnimation is the enter and exit animation length.
const DefaultAnimation = 500 * time.Millisecond

type Position string

const (
	BottomLeft   Position = "bottom-left"
	BottomCenter Position = "bottom-center"
	BottomRight  Position = "bottom-right"
)

type Animation string

const (
	Slide Animation = "slide"
	Fade  Animation = "fade"
	None  Animation = "none"
)

type Payload struct {
	ID        string        `yaml:"id" json:"id"`
	Name      string        `yaml:"name" json:"name"`
	Title     string        `yaml:"title,omitempty" json:"title,omitempty"`
	Position  Position      `yaml:"position" json:"position"`
	Animation Animation     `yaml:"animation" json:"animation"`
	Duration  time.Duration `yaml:"duration" json:"duration"` // until the exit starts; 0 holds until Hide
	// AnimationDuration is derived by Show; any value set by the caller is
	// replaced.
	AnimationDuration time.Duration `yaml:"-" json:"animation_duration"`
}

// MarshalJSON writes both durations as strings such as "4s".
func (p Payload) MarshalJSON() ([]byte, error) {
	type plain Payload
	return json.Marshal(struct {
		plain
		Duration          string `json:"duration"`
		AnimationDuration string `json:"animation_duration"`
	}{plain(p), p.Duration.String(), p.AnimationDuration.String()})
}

// UnmarshalJSON accepts "4s" style strings or integer nanoseconds.
func (p *Payload) UnmarshalJSON(b []byte) error {
	type plain Payload
	v := struct {
		*plain
		Duration          json.RawMessage `json:"duration"`
		AnimationDuration json.RawMessage `json:"animation_duration"`
	}{plain: (*plain)(p)}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	var err error
	if p.Duration, err = decodeDuration(v.Duration, p.Duration); err != nil {
		return err
	}
	p.AnimationDuration, err = decodeDuration(v.AnimationDuration, p.AnimationDuration)
	return err
}

func decodeDuration(raw json.RawMessage, old time.Duration) (time.Duration, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return old, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n int64
		if json.Unmarshal(raw, &n) != nil {
			return 0, fmt.Errorf("%w: duration %s", ErrBadPayload, raw)
		}
		return time.Duration(n), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return d, nil
}

func (p *Payload) normalize() error {
	if p.Name == "" && p.Title == "" {
		return fmt.Errorf("%w: name or title required", ErrBadPayload)
	}
	switch p.Position {
	case "":
		p.Position = BottomLeft
	case BottomLeft, BottomCenter, BottomRight:
	default:
		return fmt.Errorf("%w: position %q", ErrBadPayload, p.Position)
	}
	switch p.Animation {
	case "":
		p.Animation = Slide
	case Slide, Fade, None:
	default:
		return fmt.Errorf("%w: animation %q", ErrBadPayload, p.Animation)
	}
	if p.Duration < 0 {
		return fmt.Errorf("%w: negative duration", ErrBadPayload)
	}
	p.AnimationDuration = animationFor(p.Animation, p.Duration)
	return nil
}

// animationFor caps each animation at a quarter of a timed show.
func animationFor(a Animation, total time.Duration) time.Duration {
	if a == None {
		return 0
	}
	d := DefaultAnimation
	if total > 0 && d > total/4 {
		d = total / 4
	}
	return d
}

type Phase string

const (
	Hidden   Phase = "hidden"
	Entering Phase = "entering"
	Holding  Phase = "holding"
	Exiting  Phase = "exiting"
)

type State struct {
	Phase    Phase          `json:"phase"`
	Payload  *Payload       `json:"payload,omitempty"`
	Progress float64        `json:"progress"`
	Notice   *notice.Notice `json:"notice,omitempty"`
}

func (s State) Showing() bool { return s.Phase != Hidden }

// Visibility maps phase and progress to 0..1: 0 fully off screen, 1 fully in.
func (s State) Visibility() float64 {
	switch s.Phase {
	case Entering:
		return s.Progress
	case Holding:
		return 1
	case Exiting:
		return 1 - s.Progress
	}
	return 0
}

type Engine struct {
	clock clock.Clock
	hub   *broadcast.Hub[State]

	mu         sync.Mutex
	phase      Phase
	payload    *Payload
	phaseStart time.Time
	progress   float64
	hideAt     time.Time // zero when no auto-hide is armed
}

func NewEngine(c clock.Clock) *Engine {
	if c == nil {
		c = clock.Real()
	}
	e := &Engine{clock: c, hub: broadcast.NewHub[State](), phase: Hidden}
	e.mu.Lock()
	e.publishLocked(nil)
	e.mu.Unlock()
	return e
}

func (e *Engine) Subscribe() *broadcast.Subscription[State] {
	return e.hub.Subscribe()
}

// Show replaces whatever is on screen and starts the enter animation. Any
// pending auto-hide or exit is dropped before the new one is armed.
func (e *Engine) Show(p Payload) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	if err := p.normalize(); err != nil {
		n := notice.New(notice.Validation, "lowerthird.show", p.ID, err, now)
		log.Warn(n.Error())
		e.publishLocked(n)
		return err
	}

	e.hideAt = time.Time{}
	e.payload = &p
	e.enterLocked(Entering, now)
	if p.AnimationDuration == 0 {
		e.enterLocked(Holding, now)
	}
	if p.Duration > 0 {
		e.hideAt = now.Add(p.Duration)
	}
	log.Infof("lower-third show %s %q", p.ID, p.Name)
	e.publishLocked(nil)
	return nil
}

// Hide starts the exit animation. It does nothing when hidden or already
// exiting.
func (e *Engine) Hide() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase == Hidden || e.phase == Exiting {
		return
	}
	e.exitLocked(e.clock.Now())
	e.publishLocked(nil)
}

// HideInstant clears the slot without an exit animation.
func (e *Engine) HideInstant() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase == Hidden {
		return
	}
	e.clearLocked()
	e.publishLocked(nil)
}

// Tick advances the animation to now. Several phases may be crossed in one
// call when ticks are sparse.
func (e *Engine) Tick(now time.Time) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	before := e.phase
	beforeProgress := e.progress
	for e.stepLocked(now) {
	}
	if e.phase != before || e.progress != beforeProgress {
		e.publishLocked(nil)
	}
	return e.snapshotLocked(nil)
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(nil)
}

// Pending reports whether an auto-hide deadline is armed.
func (e *Engine) Pending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.hideAt.IsZero()
}

// stepLocked performs at most one phase change and reports whether it did.
func (e *Engine) stepLocked(now time.Time) bool {
	if e.phase == Hidden {
		return false
	}
	anim := e.payload.AnimationDuration
	switch e.phase {
	case Entering:
		e.progress = progress(now, e.phaseStart, anim)
		if e.progress >= 1 {
			e.enterLocked(Holding, e.phaseStart.Add(anim))
			return true
		}
	case Holding:
		if !e.hideAt.IsZero() && !now.Before(e.hideAt) {
			e.exitLocked(e.hideAt)
			return true
		}
	case Exiting:
		e.progress = progress(now, e.phaseStart, anim)
		if e.progress >= 1 {
			e.clearLocked()
			return true
		}
	}
	return false
}

func (e *Engine) enterLocked(p Phase, at time.Time) {
	e.phase = p
	e.phaseStart = at
	e.progress = 0
	if p == Holding {
		e.progress = 1
	}
}

func (e *Engine) exitLocked(at time.Time) {
	e.hideAt = time.Time{}
	if e.payload.AnimationDuration == 0 {
		e.clearLocked()
		return
	}
	// leave from wherever the enter animation got to
	start := at
	if e.phase == Entering {
		done := time.Duration(e.progress * float64(e.payload.AnimationDuration))
		start = at.Add(-(e.payload.AnimationDuration - done))
	}
	e.phase = Exiting
	e.phaseStart = start
	e.progress = progress(at, start, e.payload.AnimationDuration)
}

func (e *Engine) clearLocked() {
	e.phase = Hidden
	e.payload = nil
	e.progress = 0
	e.hideAt = time.Time{}
}

func progress(now, start time.Time, d time.Duration) float64 {
	if d <= 0 {
		return 1
	}
	p := float64(now.Sub(start)) / float64(d)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

func (e *Engine) publishLocked(n *notice.Notice) {
	e.hub.Publish(e.snapshotLocked(n))
}

func (e *Engine) snapshotLocked(n *notice.Notice) State {
	s := State{Phase: e.phase, Progress: e.progress, Notice: n}
	if e.payload != nil {
		p := *e.payload
		s.Payload = &p
	}
	return s
}
