package scene

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"onair/broadcast"
	"onair/clock"
	"onair/log"
	"onair/notice"
)

// OverlayVisibility is implemented by the overlay engine. The composition
// engine calls it when a composition with an overlay set goes on program.
type OverlayVisibility interface {
	ShowOnly(ids []string) error
}

type Option func(*Engine)

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithOverlays(v OverlayVisibility) Option {
	return func(e *Engine) { e.overlays = v }
}

func WithTransition(t Transition) Option {
	return func(e *Engine) { e.settings = t }
}

func WithTriggerTarget(t Target) Option {
	return func(e *Engine) { e.target = t }
}

// Engine owns composition state. All methods are safe for concurrent use.
// A new engine is in the no-composition state until the first Add.
type Engine struct {
	clock    clock.Clock
	overlays OverlayVisibility
	hub      *broadcast.Hub[State]

	mu        sync.Mutex
	comps     []Composition
	activeID  string
	previewID string
	settings  Transition
	target    Target
	flight    *inflight
	auto      *autoDeadline
	actions   actionTable
	changes   int
}

type autoDeadline struct {
	compositionID string
	target        string
	deadline      time.Time
	total         time.Duration
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		clock:    clock.Real(),
		hub:      broadcast.NewHub[State](),
		settings: DefaultTransition,
		target:   TargetProgram,
		actions:  newActionTable(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.settings.Curve == "" {
		e.settings.Curve = Linear
	}
	e.mu.Lock()
	e.publishLocked(nil)
	e.mu.Unlock()
	return e
}

// Subscribe returns a receiver of full state snapshots, one per mutation.
func (e *Engine) Subscribe() *broadcast.Subscription[State] {
	return e.hub.Subscribe()
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(e.clock.Now(), nil)
}

// ProgramChanges returns how many times program changed since start.
func (e *Engine) ProgramChanges() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.changes
}

func (e *Engine) Add(c Composition) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if e.indexLocked(c.ID) >= 0 {
		return "", e.failLocked(notice.Validation, "add", c.ID, fmt.Errorf("%w: %s", ErrDuplicateID, c.ID))
	}
	if c.Name == "" {
		c.Name = fmt.Sprintf("Scene %d", len(e.comps)+1)
	}
	e.comps = append(e.comps, c.clone())
	if e.activeID == "" {
		e.commitLocked(c.ID, "add", e.clock.Now())
	}
	e.publishLocked(nil)
	return c.ID, nil
}

// Update applies fn to a copy of the composition and stores the result. The
// id cannot be changed. Unknown ids leave state untouched.
func (e *Engine) Update(id string, fn func(*Composition)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.indexLocked(id)
	if i < 0 {
		return e.failLocked(notice.Validation, "update", id, fmt.Errorf("%w: %s", ErrNotFound, id))
	}
	c := e.comps[i].clone()
	fn(&c)
	c.ID = id
	e.comps[i] = c.clone()

	if id == e.activeID {
		e.applyOverlaysLocked(c)
	}
	if e.auto != nil && e.auto.compositionID == id {
		// re-arm against the new settings, keeping the original start
		start := e.auto.deadline.Add(-e.auto.total)
		e.auto = nil
		e.armAutoLocked(c, start)
	}
	e.publishLocked(nil)
	return nil
}

// Delete removes a composition. Deleting the program composition promotes
// the previous one (or the next when it was first). The last composition
// cannot be deleted; use ReplaceAll to swap the whole set.
func (e *Engine) Delete(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.indexLocked(id)
	if i < 0 {
		return e.failLocked(notice.Validation, "delete", id, fmt.Errorf("%w: %s", ErrNotFound, id))
	}
	if len(e.comps) == 1 {
		return e.failLocked(notice.Precondition, "delete", id, ErrLastComposition)
	}

	e.comps = slices.Delete(e.comps, i, i+1)
	if e.previewID == id {
		e.previewID = ""
	}
	if e.flight != nil && (e.flight.to == id || e.flight.from == id) {
		e.flight = nil
	}
	if e.auto != nil && (e.auto.compositionID == id || e.auto.target == id) {
		e.auto = nil
	}
	if e.activeID == id {
		next := i - 1
		if next < 0 {
			next = 0
		}
		e.commitLocked(e.comps[next].ID, "delete", e.clock.Now())
	}
	e.publishLocked(nil)
	return nil
}

// Duplicate clones a composition under a new id, right after the original.
// Trigger bindings are not copied so they stay unambiguous.
func (e *Engine) Duplicate(id string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.indexLocked(id)
	if i < 0 {
		return "", e.failLocked(notice.Validation, "duplicate", id, fmt.Errorf("%w: %s", ErrNotFound, id))
	}
	c := e.comps[i].clone()
	c.ID = uuid.NewString()
	c.Name += " (copy)"
	c.Hotkey = ""
	c.MIDI = nil
	e.comps = slices.Insert(e.comps, i+1, c)
	e.publishLocked(nil)
	return c.ID, nil
}

// SetPreview stages a composition. An empty id clears preview.
func (e *Engine) SetPreview(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if id != "" && e.indexLocked(id) < 0 {
		return e.failLocked(notice.Validation, "preview", id, fmt.Errorf("%w: %s", ErrNotFound, id))
	}
	if e.previewID == id {
		return nil
	}
	e.previewID = id
	e.publishLocked(nil)
	return nil
}

// SwitchTo puts a composition on program, either immediately or through the
// configured transition.
func (e *Engine) SwitchTo(id string, instant bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.indexLocked(id) < 0 {
		return e.failLocked(notice.Validation, "switch", id, fmt.Errorf("%w: %s", ErrNotFound, id))
	}
	e.switchLocked(id, instant, "switch", e.clock.Now())
	e.publishLocked(nil)
	return nil
}

// CutToPreview promotes preview to program with no transition. It is a no-op
// when nothing is staged or preview is already on program.
func (e *Engine) CutToPreview() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.previewID == "" || (e.previewID == e.activeID && e.flight == nil) {
		return nil
	}
	e.flight = nil
	e.commitLocked(e.previewID, "cut", e.clock.Now())
	e.publishLocked(nil)
	return nil
}

// TransitionPreviewToProgram starts the configured transition toward the
// preview composition. A transition already in flight is replaced and
// progress restarts at 0 toward the new target.
func (e *Engine) TransitionPreviewToProgram() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.previewID == "" {
		return e.failLocked(notice.Validation, "transition", "", ErrNoPreview)
	}
	e.switchLocked(e.previewID, false, "take", e.clock.Now())
	e.publishLocked(nil)
	return nil
}

func (e *Engine) SetTransition(t Transition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t.Curve == "" {
		t.Curve = Linear
	}
	e.settings = t
	e.publishLocked(nil)
}

func (e *Engine) SetTriggerTarget(t Target) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.target = t
	e.publishLocked(nil)
}

// ReplaceAll swaps the whole composition set atomically. Used by import.
// activeID falls back to the first composition when unknown.
func (e *Engine) ReplaceAll(comps []Composition, activeID, previewID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(comps) == 0 {
		return e.failLocked(notice.Precondition, "replace", "", ErrLastComposition)
	}
	seen := make(map[string]bool, len(comps))
	next := make([]Composition, 0, len(comps))
	for _, c := range comps {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if seen[c.ID] {
			return e.failLocked(notice.Validation, "replace", c.ID, fmt.Errorf("%w: %s", ErrDuplicateID, c.ID))
		}
		seen[c.ID] = true
		next = append(next, c.clone())
	}
	if !seen[activeID] {
		activeID = next[0].ID
	}
	if !seen[previewID] {
		previewID = ""
	}

	e.comps = next
	e.flight = nil
	e.auto = nil
	e.previewID = previewID
	e.activeID = ""
	e.commitLocked(activeID, "import", e.clock.Now())
	e.publishLocked(nil)
	return nil
}

// AutoAdvance reports the pending auto-advance, if any.
func (e *Engine) AutoAdvance() (AutoAdvanceState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.auto == nil {
		return AutoAdvanceState{}, false
	}
	return e.auto.state(e.clock.Now()), true
}

func (e *Engine) CancelAutoAdvance() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.auto == nil {
		return
	}
	e.auto = nil
	e.publishLocked(nil)
}

// Tick advances the in-flight transition and the auto-advance deadline to
// now. It returns the resulting snapshot so the caller renders exactly the
// progress that was computed here.
func (e *Engine) Tick(now time.Time) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	changed := false
	if e.flight != nil {
		before := e.flight.progress
		done := e.flight.advance(now)
		if done {
			to, kind := e.flight.to, e.flight.kind
			e.flight = nil
			e.commitLocked(to, string(kind), now)
		}
		changed = done || e.flight.progress != before
	}
	if e.auto != nil && e.flight == nil && !now.Before(e.auto.deadline) {
		target := e.auto.target
		e.auto = nil
		if e.indexLocked(target) >= 0 {
			e.switchLocked(target, false, "auto", now)
		}
		changed = true
	}
	if changed {
		e.publishLocked(nil)
	}
	return e.snapshotLocked(now, nil)
}

func (e *Engine) switchLocked(id string, instant bool, via string, now time.Time) {
	if id == e.activeID && e.flight == nil {
		return
	}
	if instant || e.settings.instant() {
		e.flight = nil
		e.commitLocked(id, via, now)
		return
	}
	e.flight = &inflight{
		kind:     e.settings.Kind,
		curve:    e.settings.Curve,
		from:     e.activeID,
		to:       id,
		start:    now,
		duration: e.settings.Duration,
	}
	log.TransitionStart(string(e.settings.Kind), e.activeID, id, e.settings.Duration)
}

func (e *Engine) commitLocked(id, via string, now time.Time) {
	i := e.indexLocked(id)
	if i < 0 {
		return
	}
	c := e.comps[i]
	changed := e.activeID != id
	e.activeID = id
	e.auto = nil
	e.applyOverlaysLocked(c)
	e.armAutoLocked(c, now)
	if changed {
		e.changes++
		log.AsRun(c.ID, c.Name, via)
	}
}

func (e *Engine) applyOverlaysLocked(c Composition) {
	if e.overlays == nil || c.Overlays == nil {
		return
	}
	if err := e.overlays.ShowOnly(c.Overlays); err != nil {
		log.Warnf("composition %s overlay set: %v", c.ID, err)
	}
}

func (e *Engine) armAutoLocked(c Composition, start time.Time) {
	a := c.AutoAdvance
	if a == nil || a.After <= 0 || a.Target == "" || a.Target == c.ID {
		return
	}
	e.auto = &autoDeadline{
		compositionID: c.ID,
		target:        a.Target,
		deadline:      start.Add(a.After),
		total:         a.After,
	}
}

func (a *autoDeadline) state(now time.Time) AutoAdvanceState {
	remaining := a.deadline.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return AutoAdvanceState{
		CompositionID: a.compositionID,
		Target:        a.target,
		Remaining:     remaining,
		Total:         a.total,
	}
}

func (e *Engine) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(e.comps, func(c Composition) bool { return c.ID == id })
}

func (e *Engine) failLocked(kind notice.Kind, op, id string, err error) error {
	n := notice.New(kind, op, id, err, e.clock.Now())
	log.Warn(n.Error())
	e.publishLocked(n)
	return err
}

func (e *Engine) publishLocked(n *notice.Notice) {
	e.hub.Publish(e.snapshotLocked(e.clock.Now(), n))
}

func (e *Engine) snapshotLocked(now time.Time, n *notice.Notice) State {
	s := State{
		Compositions: make([]Composition, len(e.comps)),
		ActiveID:     e.activeID,
		PreviewID:    e.previewID,
		Settings:     e.settings,
		Target:       e.target,
		Notice:       n,
	}
	for i, c := range e.comps {
		s.Compositions[i] = c.clone()
	}
	if f := e.flight; f != nil {
		s.Transitioning = true
		s.Transition = TransitionState{
			Kind:     f.kind,
			From:     f.from,
			To:       f.to,
			Progress: f.progress,
			Duration: f.duration,
		}
	}
	if e.auto != nil {
		st := e.auto.state(now)
		s.AutoAdvance = &st
	}
	return s
}
