package scene

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

type TransitionKind string

const (
	Cut   TransitionKind = "cut"
	Fade  TransitionKind = "fade"
	Slide TransitionKind = "slide"
	Zoom  TransitionKind = "zoom"
)

func ParseTransitionKind(s string) (TransitionKind, error) {
	switch k := TransitionKind(s); k {
	case Cut, Fade, Slide, Zoom:
		return k, nil
	}
	return "", fmt.Errorf("scene: unknown transition %q (use cut, fade, slide or zoom)", s)
}

type Curve string

const (
	Linear    Curve = "linear"
	EaseIn    Curve = "ease-in"
	EaseOut   Curve = "ease-out"
	EaseInOut Curve = "ease-in-out"
)

func ParseCurve(s string) (Curve, error) {
	switch c := Curve(s); c {
	case Linear, EaseIn, EaseOut, EaseInOut:
		return c, nil
	case "":
		return Linear, nil
	}
	return "", fmt.Errorf("scene: unknown curve %q", s)
}

// Apply maps linear time t in [0,1] onto the curve. Every curve is monotonic
// and fixes 0 and 1.
func (c Curve) Apply(t float64) float64 {
	t = clamp01(t)
	switch c {
	case EaseIn:
		return t * t
	case EaseOut:
		return 1 - (1-t)*(1-t)
	case EaseInOut:
		if t < 0.5 {
			return 4 * t * t * t
		}
		return 1 - math.Pow(-2*t+2, 3)/2
	}
	return t
}

// Transition is the configured program change style.
type Transition struct {
	Kind     TransitionKind `yaml:"kind" json:"kind"`
	Duration time.Duration  `yaml:"duration" json:"duration"`
	Curve    Curve          `yaml:"curve,omitempty" json:"curve,omitempty"`
}

// DefaultTransition is a 500ms ease-in-out fade.
var DefaultTransition = Transition{Kind: Fade, Duration: 500 * time.Millisecond, Curve: EaseInOut}

// MarshalJSON writes Duration as a string such as "500ms".
func (t Transition) MarshalJSON() ([]byte, error) {
	type plain Transition
	return json.Marshal(struct {
		plain
		Duration string `json:"duration"`
	}{plain(t), t.Duration.String()})
}

func (t *Transition) UnmarshalJSON(b []byte) error {
	type plain Transition
	v := struct {
		*plain
		Duration jsonDuration `json:"duration"`
	}{plain: (*plain)(t), Duration: jsonDuration(t.Duration)}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	t.Duration = time.Duration(v.Duration)
	return nil
}

func (t Transition) instant() bool {
	return t.Kind == Cut || t.Duration <= 0
}

type inflight struct {
	kind     TransitionKind
	curve    Curve
	from, to string
	start    time.Time
	duration time.Duration
	progress float64
}

// advance moves progress to now and reports whether the transition is done.
// Progress never decreases within one transition.
func (f *inflight) advance(now time.Time) bool {
	elapsed := now.Sub(f.start)
	if elapsed < 0 {
		elapsed = 0
	}
	t := float64(elapsed) / float64(f.duration)
	p := f.curve.Apply(t)
	if p > f.progress {
		f.progress = p
	}
	return t >= 1
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
