package scene

import (
	"testing"
	"time"
)

func TestCurvesFixEndpointsAndAreMonotonic(t *testing.T) {
	for _, c := range []Curve{Linear, EaseIn, EaseOut, EaseInOut} {
		if got := c.Apply(0); got != 0 {
			t.Errorf("%s(0) = %v", c, got)
		}
		if got := c.Apply(1); got < 0.9999 || got > 1 {
			t.Errorf("%s(1) = %v", c, got)
		}
		prev := -1.0
		for i := 0; i <= 100; i++ {
			v := c.Apply(float64(i) / 100)
			if v < prev {
				t.Fatalf("%s not monotonic at %d: %v < %v", c, i, v, prev)
			}
			prev = v
		}
	}
}

func TestCurveClampsInput(t *testing.T) {
	if Linear.Apply(-3) != 0 || Linear.Apply(7) != 1 {
		t.Fatal("curve input should be clamped to [0,1]")
	}
}

func TestParse(t *testing.T) {
	if k, err := ParseTransitionKind("zoom"); err != nil || k != Zoom {
		t.Fatalf("zoom: %v %v", k, err)
	}
	if _, err := ParseTransitionKind("wipe"); err == nil {
		t.Fatal("wipe should be rejected")
	}
	if c, err := ParseCurve(""); err != nil || c != Linear {
		t.Fatalf("empty curve: %v %v", c, err)
	}
	if _, err := ParseCurve("bounce"); err == nil {
		t.Fatal("bounce should be rejected")
	}
	if tg, err := ParseTarget("preview"); err != nil || tg != TargetPreview {
		t.Fatalf("preview target: %v %v", tg, err)
	}
}

func TestInflightAdvance(t *testing.T) {
	f := &inflight{curve: Linear, start: t0, duration: time.Second}
	if f.advance(t0.Add(250 * time.Millisecond)) {
		t.Fatal("done too early")
	}
	if f.progress != 0.25 {
		t.Fatalf("progress = %v", f.progress)
	}
	if !f.advance(t0.Add(2 * time.Second)) {
		t.Fatal("should be done past the duration")
	}
	if f.progress != 1 {
		t.Fatalf("progress = %v, want clamped 1", f.progress)
	}
}

func TestInstant(t *testing.T) {
	cases := []struct {
		tr   Transition
		want bool
	}{
		{Transition{Kind: Cut, Duration: time.Second}, true},
		{Transition{Kind: Fade}, true},
		{Transition{Kind: Fade, Duration: time.Millisecond}, false},
	}
	for _, tc := range cases {
		if got := tc.tr.instant(); got != tc.want {
			t.Errorf("%+v instant = %v, want %v", tc.tr, got, tc.want)
		}
	}
}
