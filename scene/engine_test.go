package scene

import (
	"errors"
	"slices"
	"testing"
	"time"

	"onair/clock"
	"onair/notice"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type fakeOverlays struct {
	calls [][]string
}

func (f *fakeOverlays) ShowOnly(ids []string) error {
	f.calls = append(f.calls, slices.Clone(ids))
	return nil
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(t0)
	e := NewEngine(append([]Option{WithClock(clk)}, opts...)...)
	return e, clk
}

func mustAdd(t *testing.T, e *Engine, c Composition) string {
	t.Helper()
	id, err := e.Add(c)
	if err != nil {
		t.Fatalf("add %q: %v", c.Name, err)
	}
	return id
}

func assertOneActive(t *testing.T, s State) {
	t.Helper()
	if len(s.Compositions) == 0 {
		if s.ActiveID != "" {
			t.Fatalf("empty engine has active %q", s.ActiveID)
		}
		return
	}
	n := 0
	for _, c := range s.Compositions {
		if c.ID == s.ActiveID {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("active %q matches %d compositions, want 1", s.ActiveID, n)
	}
}

func TestNewEngineHasNoComposition(t *testing.T) {
	e, _ := newTestEngine(t)
	s := e.State()
	if s.ActiveID != "" || len(s.Compositions) != 0 {
		t.Fatalf("unexpected initial state: %+v", s)
	}
}

func TestScenarioAddAndInstantSwitch(t *testing.T) {
	e, _ := newTestEngine(t)
	mustAdd(t, e, Composition{ID: "Scene 1", Name: "Scene 1"})
	mustAdd(t, e, Composition{ID: "Scene 2", Name: "Scene 2"})

	s := e.State()
	if len(s.Compositions) != 2 {
		t.Fatalf("got %d compositions, want 2", len(s.Compositions))
	}
	if s.ActiveID != "Scene 1" {
		t.Fatalf("active = %q, want Scene 1", s.ActiveID)
	}

	if err := e.SwitchTo("Scene 2", true); err != nil {
		t.Fatal(err)
	}
	s = e.State()
	if s.ActiveID != "Scene 2" || s.Transitioning {
		t.Fatalf("active=%q transitioning=%v, want Scene 2/false", s.ActiveID, s.Transitioning)
	}
	assertOneActive(t, s)
}

func TestScenarioFadePreviewToProgram(t *testing.T) {
	e, clk := newTestEngine(t, WithTransition(Transition{Kind: Fade, Duration: 500 * time.Millisecond, Curve: Linear}))
	mustAdd(t, e, Composition{ID: "Scene 1"})
	mustAdd(t, e, Composition{ID: "Scene 2"})
	e.SwitchTo("Scene 2", true)

	if err := e.SetPreview("Scene 1"); err != nil {
		t.Fatal(err)
	}
	if e.State().PreviewID != "Scene 1" {
		t.Fatal("preview not set")
	}
	if err := e.TransitionPreviewToProgram(); err != nil {
		t.Fatal(err)
	}
	s := e.State()
	if !s.Transitioning || s.Transition.Progress != 0 {
		t.Fatalf("want transitioning at 0, got %+v", s.Transition)
	}
	if s.ActiveID != "Scene 2" {
		t.Fatal("active must not change before the transition completes")
	}

	last := 0.0
	for i := 0; i < 4; i++ {
		s = e.Tick(clk.Advance(100 * time.Millisecond))
		if !s.Transitioning {
			t.Fatalf("tick %d: transition ended early", i)
		}
		if s.Transition.Progress < last {
			t.Fatalf("progress went backwards: %v -> %v", last, s.Transition.Progress)
		}
		last = s.Transition.Progress
	}
	if last < 0.79 || last > 0.81 {
		t.Errorf("progress at 400ms = %v, want 0.8", last)
	}

	s = e.Tick(clk.Advance(100 * time.Millisecond))
	if s.Transitioning {
		t.Fatal("transition should be done at 500ms")
	}
	if s.ActiveID != "Scene 1" {
		t.Fatalf("active = %q, want Scene 1", s.ActiveID)
	}
	assertOneActive(t, s)
}

func TestTransitionReplacedRestartsAtZero(t *testing.T) {
	e, clk := newTestEngine(t, WithTransition(Transition{Kind: Slide, Duration: time.Second, Curve: Linear}))
	mustAdd(t, e, Composition{ID: "a"})
	mustAdd(t, e, Composition{ID: "b"})
	mustAdd(t, e, Composition{ID: "c"})

	e.SetPreview("b")
	e.TransitionPreviewToProgram()
	s := e.Tick(clk.Advance(600 * time.Millisecond))
	if s.Transition.Progress < 0.59 {
		t.Fatalf("progress = %v", s.Transition.Progress)
	}

	e.SetPreview("c")
	e.TransitionPreviewToProgram()
	s = e.State()
	if s.Transition.To != "c" || s.Transition.Progress != 0 {
		t.Fatalf("replacement should restart at 0 toward c, got %+v", s.Transition)
	}

	e.Tick(clk.Advance(time.Second))
	s = e.State()
	if s.ActiveID != "c" || s.Transitioning {
		t.Fatalf("want c active, got %q transitioning=%v", s.ActiveID, s.Transitioning)
	}
}

func TestProgressMonotonicWithClockJitter(t *testing.T) {
	e, clk := newTestEngine(t, WithTransition(Transition{Kind: Fade, Duration: time.Second, Curve: EaseInOut}))
	mustAdd(t, e, Composition{ID: "a"})
	mustAdd(t, e, Composition{ID: "b"})
	e.SwitchTo("b", false)

	s := e.Tick(clk.Advance(400 * time.Millisecond))
	p := s.Transition.Progress
	// a tick stamped earlier than the previous one must not move progress back
	s = e.Tick(t0.Add(100 * time.Millisecond))
	if s.Transition.Progress < p {
		t.Fatalf("progress decreased: %v -> %v", p, s.Transition.Progress)
	}
}

func TestCutTransitionCommitsImmediately(t *testing.T) {
	e, _ := newTestEngine(t, WithTransition(Transition{Kind: Cut}))
	mustAdd(t, e, Composition{ID: "a"})
	mustAdd(t, e, Composition{ID: "b"})
	e.SetPreview("b")
	e.TransitionPreviewToProgram()
	if s := e.State(); s.ActiveID != "b" || s.Transitioning {
		t.Fatalf("cut should commit at once, got %+v", s)
	}
}

func TestCutToPreview(t *testing.T) {
	e, _ := newTestEngine(t)
	mustAdd(t, e, Composition{ID: "a"})
	mustAdd(t, e, Composition{ID: "b"})

	// no preview: no-op
	if err := e.CutToPreview(); err != nil {
		t.Fatal(err)
	}
	if e.State().ActiveID != "a" {
		t.Fatal("cut without preview changed program")
	}

	e.SetPreview("b")
	e.CutToPreview()
	if s := e.State(); s.ActiveID != "b" || s.Transitioning {
		t.Fatalf("got %+v", s)
	}
	before := e.ProgramChanges()
	e.CutToPreview() // preview == active
	if e.ProgramChanges() != before {
		t.Fatal("cut with preview == active should be a no-op")
	}
}

func TestTransitionWithoutPreviewIsReported(t *testing.T) {
	e, _ := newTestEngine(t)
	mustAdd(t, e, Composition{ID: "a"})
	sub := e.Subscribe()
	defer sub.Close()
	<-sub.C()

	err := e.TransitionPreviewToProgram()
	if !errors.Is(err, ErrNoPreview) {
		t.Fatalf("err = %v, want ErrNoPreview", err)
	}
	s := <-sub.C()
	if s.Notice == nil || s.Notice.Kind != notice.Validation {
		t.Fatalf("expected validation notice, got %+v", s.Notice)
	}
}

func TestUnknownIDsRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	mustAdd(t, e, Composition{ID: "a"})
	before := e.State()

	checks := map[string]error{
		"update":    e.Update("zz", func(c *Composition) { c.Name = "x" }),
		"switch":    e.SwitchTo("zz", true),
		"preview":   e.SetPreview("zz"),
		"delete":    e.Delete("zz"),
		"duplicate": func() error { _, err := e.Duplicate("zz"); return err }(),
	}
	for op, err := range checks {
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("%s: err = %v, want ErrNotFound", op, err)
		}
	}
	after := e.State()
	if after.ActiveID != before.ActiveID || len(after.Compositions) != len(before.Compositions) || after.PreviewID != "" {
		t.Fatal("rejected calls must not change state")
	}
}

func TestUpdateCannotChangeID(t *testing.T) {
	e, _ := newTestEngine(t)
	mustAdd(t, e, Composition{ID: "a", Name: "A"})
	e.Update("a", func(c *Composition) {
		c.ID = "hijack"
		c.Name = "Renamed"
	})
	c, ok := e.State().Find("a")
	if !ok || c.Name != "Renamed" {
		t.Fatalf("got %+v ok=%v", c, ok)
	}
}

func TestDeleteActivePromotesPrevious(t *testing.T) {
	e, _ := newTestEngine(t)
	mustAdd(t, e, Composition{ID: "a"})
	mustAdd(t, e, Composition{ID: "b"})
	mustAdd(t, e, Composition{ID: "c"})
	e.SwitchTo("c", true)

	if err := e.Delete("c"); err != nil {
		t.Fatal(err)
	}
	if s := e.State(); s.ActiveID != "b" {
		t.Fatalf("active = %q, want b", s.ActiveID)
	}

	e.SwitchTo("a", true)
	e.Delete("a")
	if s := e.State(); s.ActiveID != "b" {
		t.Fatalf("deleting the first active should promote the next, got %q", s.ActiveID)
	}
	assertOneActive(t, e.State())
}

func TestDeleteLastCompositionRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	mustAdd(t, e, Composition{ID: "only"})
	sub := e.Subscribe()
	defer sub.Close()
	<-sub.C()

	err := e.Delete("only")
	if !errors.Is(err, ErrLastComposition) {
		t.Fatalf("err = %v, want ErrLastComposition", err)
	}
	s := <-sub.C()
	if s.Notice == nil || s.Notice.Kind != notice.Precondition {
		t.Fatalf("want precondition notice, got %+v", s.Notice)
	}
	if s.ActiveID != "only" {
		t.Fatal("rejected delete changed program")
	}
}

func TestDeleteCancelsTransitionAndPreview(t *testing.T) {
	e, clk := newTestEngine(t)
	mustAdd(t, e, Composition{ID: "a"})
	mustAdd(t, e, Composition{ID: "b"})
	e.SetPreview("b")
	e.TransitionPreviewToProgram()

	e.Delete("b")
	s := e.Tick(clk.Advance(time.Second))
	if s.Transitioning || s.PreviewID != "" || s.ActiveID != "a" {
		t.Fatalf("stale transition survived delete: %+v", s)
	}
}

func TestDuplicate(t *testing.T) {
	e, _ := newTestEngine(t)
	mustAdd(t, e, Composition{ID: "a", Name: "Intro", Hotkey: "F1", Overlays: []string{"logo"}})
	mustAdd(t, e, Composition{ID: "b"})

	id, err := e.Duplicate("a")
	if err != nil {
		t.Fatal(err)
	}
	s := e.State()
	if s.Compositions[1].ID != id {
		t.Fatal("duplicate should sit right after the original")
	}
	dup := s.Compositions[1]
	if dup.Name != "Intro (copy)" || dup.Hotkey != "" || !slices.Equal(dup.Overlays, []string{"logo"}) {
		t.Fatalf("unexpected duplicate: %+v", dup)
	}
	if s.ActiveID != "a" {
		t.Fatal("duplicate must not go on program")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	e, _ := newTestEngine(t)
	mustAdd(t, e, Composition{ID: "a", Overlays: []string{"x"}})
	s := e.State()
	s.Compositions[0].Overlays[0] = "mutated"
	s.Compositions[0].Name = "mutated"
	c, _ := e.State().Find("a")
	if c.Overlays[0] != "x" || c.Name == "mutated" {
		t.Fatal("snapshot shares memory with engine state")
	}
}

func TestOverlaySetAppliedOnCommit(t *testing.T) {
	ov := &fakeOverlays{}
	e, _ := newTestEngine(t, WithOverlays(ov))
	mustAdd(t, e, Composition{ID: "a", Overlays: []string{"logo"}})
	mustAdd(t, e, Composition{ID: "b"}) // nil set: leave overlays alone
	mustAdd(t, e, Composition{ID: "c", Overlays: []string{}})

	e.SwitchTo("b", true)
	e.SwitchTo("c", true)

	if len(ov.calls) != 2 {
		t.Fatalf("ShowOnly calls = %v", ov.calls)
	}
	if !slices.Equal(ov.calls[0], []string{"logo"}) || len(ov.calls[1]) != 0 {
		t.Fatalf("ShowOnly calls = %v", ov.calls)
	}
}

func TestAutoAdvance(t *testing.T) {
	e, clk := newTestEngine(t, WithTransition(Transition{Kind: Cut}))
	mustAdd(t, e, Composition{ID: "a"})
	mustAdd(t, e, Composition{ID: "intro", AutoAdvance: &AutoAdvance{Target: "a", After: 3 * time.Second}})
	e.SwitchTo("intro", true)

	st, ok := e.AutoAdvance()
	if !ok || st.Remaining != 3*time.Second || st.Total != 3*time.Second || st.CompositionID != "intro" {
		t.Fatalf("auto-advance = %+v ok=%v", st, ok)
	}

	e.Tick(clk.Advance(2 * time.Second))
	st, _ = e.AutoAdvance()
	if st.Remaining != time.Second {
		t.Fatalf("remaining = %v, want 1s", st.Remaining)
	}
	if e.State().ActiveID != "intro" {
		t.Fatal("advanced too early")
	}

	s := e.Tick(clk.Advance(time.Second))
	if s.ActiveID != "a" {
		t.Fatalf("active = %q, want a", s.ActiveID)
	}
	if _, ok := e.AutoAdvance(); ok {
		t.Fatal("auto-advance should be cleared after firing")
	}
}

func TestAutoAdvanceCancelAndRearm(t *testing.T) {
	e, clk := newTestEngine(t, WithTransition(Transition{Kind: Cut}))
	mustAdd(t, e, Composition{ID: "a"})
	mustAdd(t, e, Composition{ID: "b", AutoAdvance: &AutoAdvance{Target: "a", After: time.Second}})
	e.SwitchTo("b", true)

	e.CancelAutoAdvance()
	e.Tick(clk.Advance(2 * time.Second))
	if e.State().ActiveID != "b" {
		t.Fatal("canceled auto-advance fired")
	}

	// re-arm by going to air again; it must fire exactly once
	e.SwitchTo("a", true)
	e.SwitchTo("b", true)
	before := e.ProgramChanges()
	e.Tick(clk.Advance(time.Second))
	e.Tick(clk.Advance(time.Second))
	if got := e.ProgramChanges() - before; got != 1 {
		t.Fatalf("program changes after re-arm = %d, want 1", got)
	}
}

func TestDeleteCancelsAutoAdvance(t *testing.T) {
	e, clk := newTestEngine(t, WithTransition(Transition{Kind: Cut}))
	mustAdd(t, e, Composition{ID: "a"})
	mustAdd(t, e, Composition{ID: "b"})
	mustAdd(t, e, Composition{ID: "c", AutoAdvance: &AutoAdvance{Target: "b", After: time.Second}})
	e.SwitchTo("c", true)
	e.Delete("b")
	if _, ok := e.AutoAdvance(); ok {
		t.Fatal("auto-advance targeting a deleted composition must be canceled")
	}
	e.Tick(clk.Advance(2 * time.Second))
	if e.State().ActiveID != "c" {
		t.Fatal("unexpected program change")
	}
}

func TestReplaceAll(t *testing.T) {
	e, _ := newTestEngine(t)
	mustAdd(t, e, Composition{ID: "old"})

	err := e.ReplaceAll([]Composition{{ID: "x"}, {ID: "y"}}, "y", "x")
	if err != nil {
		t.Fatal(err)
	}
	s := e.State()
	if s.ActiveID != "y" || s.PreviewID != "x" || len(s.Compositions) != 2 {
		t.Fatalf("got %+v", s)
	}

	if err := e.ReplaceAll(nil, "", ""); !errors.Is(err, ErrLastComposition) {
		t.Fatalf("empty replace err = %v", err)
	}
	if err := e.ReplaceAll([]Composition{{ID: "d"}, {ID: "d"}}, "d", ""); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("duplicate replace err = %v", err)
	}
	if e.State().ActiveID != "y" {
		t.Fatal("failed replace changed state")
	}
}

func TestInvariantAcrossOperations(t *testing.T) {
	e, clk := newTestEngine(t)
	ids := []string{}
	for i := 0; i < 5; i++ {
		ids = append(ids, mustAdd(t, e, Composition{}))
		assertOneActive(t, e.State())
	}
	e.SetPreview(ids[3])
	e.TransitionPreviewToProgram()
	for _, id := range []string{ids[0], ids[3], ids[4], ids[1]} {
		e.Tick(clk.Advance(100 * time.Millisecond))
		e.Delete(id)
		assertOneActive(t, e.State())
	}
	e.Delete(ids[2]) // last one: rejected
	assertOneActive(t, e.State())
}
