package lowerthird

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"onair/clock"
)

var t0 = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

func jane() Payload {
	return Payload{ID: "lt-1", Name: "Jane Doe", Title: "Host", Position: BottomLeft, Animation: Slide, Duration: 5 * time.Second}
}

// drained reports whether a snapshot was waiting and consumes it.
func drained(sub interface{ C() <-chan State }) bool {
	select {
	case <-sub.C():
		return true
	default:
		return false
	}
}

func TestScenarioTimedShow(t *testing.T) {
	clk := clock.NewManual(t0)
	e := NewEngine(clk)

	if err := e.Show(jane()); err != nil {
		t.Fatal(err)
	}
	s := e.State()
	if !s.Showing() || s.Phase != Entering {
		t.Fatalf("phase = %s", s.Phase)
	}
	if s.Payload.AnimationDuration != DefaultAnimation {
		t.Fatalf("animation = %v", s.Payload.AnimationDuration)
	}

	s = e.Tick(clk.Advance(250 * time.Millisecond))
	if s.Phase != Entering || s.Progress != 0.5 || s.Visibility() != 0.5 {
		t.Fatalf("mid-enter state %+v", s)
	}
	s = e.Tick(clk.Advance(250 * time.Millisecond))
	if s.Phase != Holding || s.Visibility() != 1 {
		t.Fatalf("want holding, got %+v", s)
	}

	s = e.Tick(clk.Advance(4*time.Second + 400*time.Millisecond))
	if s.Phase != Holding {
		t.Fatalf("exit started early: %s", s.Phase)
	}
	s = e.Tick(clk.Advance(100 * time.Millisecond))
	if s.Phase != Exiting {
		t.Fatalf("want exiting at 5s, got %s", s.Phase)
	}
	s = e.Tick(clk.Advance(DefaultAnimation))
	if s.Phase != Hidden || s.Payload != nil {
		t.Fatalf("want hidden after exit, got %+v", s)
	}
}

func TestSparseTickCrossesPhases(t *testing.T) {
	clk := clock.NewManual(t0)
	e := NewEngine(clk)
	e.Show(jane())
	if s := e.Tick(clk.Advance(time.Minute)); s.Phase != Hidden {
		t.Fatalf("phase = %s, want hidden", s.Phase)
	}
}

func TestHideWhenHiddenIsNoop(t *testing.T) {
	e := NewEngine(clock.NewManual(t0))
	sub := e.Subscribe()
	defer sub.Close()
	drained(sub)

	e.Hide()
	if drained(sub) {
		t.Fatal("hide on hidden emitted a snapshot")
	}
	if e.Pending() {
		t.Fatal("hide on hidden armed a deadline")
	}
}

func TestHideWhileExitingIsNoop(t *testing.T) {
	clk := clock.NewManual(t0)
	e := NewEngine(clk)
	e.Show(Payload{Name: "x"})
	e.Tick(clk.Advance(time.Second))
	e.Hide()
	e.Tick(clk.Advance(100 * time.Millisecond))

	sub := e.Subscribe()
	defer sub.Close()
	drained(sub)
	before := e.State()
	e.Hide()
	if drained(sub) || e.State().Progress != before.Progress {
		t.Fatal("second hide restarted the exit")
	}
}

func TestManualHideAndHoldForever(t *testing.T) {
	clk := clock.NewManual(t0)
	e := NewEngine(clk)
	e.Show(Payload{Name: "Guest", Animation: Fade})
	if e.Pending() {
		t.Fatal("zero duration must not arm auto-hide")
	}
	if s := e.Tick(clk.Advance(time.Hour)); s.Phase != Holding {
		t.Fatalf("phase = %s", s.Phase)
	}
	e.Hide()
	if s := e.State(); s.Phase != Exiting || s.Visibility() != 1 {
		t.Fatalf("state after hide %+v", s)
	}
	if s := e.Tick(clk.Advance(DefaultAnimation)); s.Phase != Hidden {
		t.Fatalf("phase = %s", s.Phase)
	}
}

func TestHideDuringEnterKeepsPosition(t *testing.T) {
	clk := clock.NewManual(t0)
	e := NewEngine(clk)
	e.Show(Payload{Name: "x"})
	e.Tick(clk.Advance(100 * time.Millisecond)) // 20% in
	e.Hide()
	s := e.State()
	if s.Phase != Exiting {
		t.Fatalf("phase = %s", s.Phase)
	}
	if v := s.Visibility(); v < 0.19 || v > 0.21 {
		t.Fatalf("visibility jumped to %v", v)
	}
	if s := e.Tick(clk.Advance(100 * time.Millisecond)); s.Phase != Hidden {
		t.Fatalf("phase = %s, want hidden", s.Phase)
	}
}

func TestReshowCancelsPendingHide(t *testing.T) {
	clk := clock.NewManual(t0)
	e := NewEngine(clk)
	e.Show(jane())
	clk.Advance(4 * time.Second)

	second := jane()
	second.ID = "lt-2"
	second.Name = "John Roe"
	e.Show(second)

	// the first show's deadline (t0+5s) must not end the second one
	s := e.Tick(clk.Advance(2 * time.Second))
	if s.Phase != Holding || s.Payload.ID != "lt-2" {
		t.Fatalf("stale hide fired: %+v", s)
	}
	s = e.Tick(clk.Advance(3 * time.Second))
	if s.Phase != Exiting {
		t.Fatalf("phase = %s, want exiting at the second deadline", s.Phase)
	}
}

func TestHideInstant(t *testing.T) {
	e := NewEngine(clock.NewManual(t0))
	e.Show(jane())
	e.HideInstant()
	if s := e.State(); s.Phase != Hidden || e.Pending() {
		t.Fatalf("state %+v pending=%v", s, e.Pending())
	}
}

func TestAnimationNone(t *testing.T) {
	clk := clock.NewManual(t0)
	e := NewEngine(clk)
	p := jane()
	p.Animation = None
	e.Show(p)
	if s := e.State(); s.Phase != Holding || s.Payload.AnimationDuration != 0 {
		t.Fatalf("state %+v", s)
	}
	if s := e.Tick(clk.Advance(5 * time.Second)); s.Phase != Hidden {
		t.Fatalf("phase = %s", s.Phase)
	}
}

func TestAnimationCappedForShortShows(t *testing.T) {
	if got := animationFor(Slide, time.Second); got != 250*time.Millisecond {
		t.Fatalf("got %v", got)
	}
	if got := animationFor(Fade, 0); got != DefaultAnimation {
		t.Fatalf("got %v", got)
	}
}

func TestInvalidPayload(t *testing.T) {
	e := NewEngine(clock.NewManual(t0))
	for _, p := range []Payload{
		{},
		{Name: "x", Position: "top-left"},
		{Name: "x", Animation: "spin"},
		{Name: "x", Duration: -time.Second},
	} {
		if err := e.Show(p); !errors.Is(err, ErrBadPayload) {
			t.Errorf("%+v: err = %v", p, err)
		}
	}
	if e.State().Showing() {
		t.Fatal("invalid payload was shown")
	}
}

func TestPayloadJSONDurations(t *testing.T) {
	var p Payload
	if err := json.Unmarshal([]byte(`{"name": "Ada", "duration": "4s"}`), &p); err != nil {
		t.Fatal(err)
	}
	if p.Duration != 4*time.Second {
		t.Fatalf("duration = %v", p.Duration)
	}
	p.AnimationDuration = 500 * time.Millisecond
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"duration":"4s"`) || !strings.Contains(string(data), `"animation_duration":"500ms"`) {
		t.Fatalf("json = %s", data)
	}
	if err := json.Unmarshal([]byte(`{"name": "Ada", "duration": "later"}`), &p); !errors.Is(err, ErrBadPayload) {
		t.Fatalf("err = %v", err)
	}
}
