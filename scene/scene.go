// Package scene implements the composition engine: named scene presets, the
// program/preview distinction, timed transitions, trigger dispatch and
// auto-advance.
//
// All timing is deadline based. The engine never starts its own timers;
// Tick is called by the render loop with the frame's timestamp, so every
// layer drawn in one frame sees the same transition progress.
package scene

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"onair/notice"
)

var (
	ErrNotFound        = errors.New("scene: composition not found")
	ErrDuplicateID     = errors.New("scene: composition id already exists")
	ErrLastComposition = errors.New("scene: cannot delete the last composition")
	ErrNoPreview       = errors.New("scene: no preview composition")
)

type MIDIBinding struct {
	Note    int `yaml:"note" json:"note"`
	Channel int `yaml:"channel" json:"channel"` // 0-15, as on the wire
}

// AutoAdvance switches to Target once the owning composition has been on
// program for After.
type AutoAdvance struct {
	Target string        `yaml:"target" json:"target"`
	After  time.Duration `yaml:"after" json:"after"`
}

// MarshalJSON writes After as a duration string such as "5s".
func (a AutoAdvance) MarshalJSON() ([]byte, error) {
	type plain AutoAdvance
	return json.Marshal(struct {
		plain
		After string `json:"after"`
	}{plain(a), a.After.String()})
}

func (a *AutoAdvance) UnmarshalJSON(b []byte) error {
	type plain AutoAdvance
	v := struct {
		*plain
		After jsonDuration `json:"after"`
	}{plain: (*plain)(a), After: jsonDuration(a.After)}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	a.After = time.Duration(v.After)
	return nil
}

// jsonDuration decodes "400ms" style strings, and integer nanoseconds for
// documents written by hand.
type jsonDuration time.Duration

func (d *jsonDuration) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if json.Unmarshal(b, &n) != nil {
			return fmt.Errorf("scene: bad duration %s", b)
		}
		*d = jsonDuration(n)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("scene: bad duration: %w", err)
	}
	*d = jsonDuration(v)
	return nil
}

type Composition struct {
	ID     string       `yaml:"id" json:"id"`
	Name   string       `yaml:"name" json:"name"`
	Icon   string       `yaml:"icon,omitempty" json:"icon,omitempty"`
	Color  string       `yaml:"color,omitempty" json:"color,omitempty"`
	Hotkey string       `yaml:"hotkey,omitempty" json:"hotkey,omitempty"`
	MIDI   *MIDIBinding `yaml:"midi,omitempty" json:"midi,omitempty"`
	// Overlays is the set of overlay layer ids visible while this
	// composition is on program. nil leaves overlay visibility untouched.
	Overlays []string `yaml:"overlays,omitempty" json:"overlays"`
	// Source is the video input id shown as base video. Empty means
	// background only.
	Source      string       `yaml:"source,omitempty" json:"source,omitempty"`
	AutoAdvance *AutoAdvance `yaml:"auto_advance,omitempty" json:"auto_advance,omitempty"`
}

// MarshalYAML writes an empty overlay set as "overlays: []" so it survives
// a round trip; omitting it would turn "hide all" into "leave alone".
func (c Composition) MarshalYAML() (any, error) {
	type plain Composition
	var n yaml.Node
	if err := n.Encode(plain(c)); err != nil {
		return nil, err
	}
	if c.Overlays != nil && len(c.Overlays) == 0 {
		n.Content = append(n.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "overlays"},
			&yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Style: yaml.FlowStyle},
		)
	}
	return &n, nil
}

func (c Composition) clone() Composition {
	out := c
	if c.MIDI != nil {
		m := *c.MIDI
		out.MIDI = &m
	}
	if c.Overlays != nil {
		out.Overlays = slices.Clone(c.Overlays)
	}
	if c.AutoAdvance != nil {
		a := *c.AutoAdvance
		out.AutoAdvance = &a
	}
	return out
}

type TransitionState struct {
	Kind     TransitionKind `json:"kind"`
	From     string         `json:"from"`
	To       string         `json:"to"`
	Progress float64        `json:"progress"`
	Duration time.Duration  `json:"duration"`
}

type AutoAdvanceState struct {
	CompositionID string        `json:"composition_id"`
	Target        string        `json:"target"`
	Remaining     time.Duration `json:"remaining"`
	Total         time.Duration `json:"total"`
}

// State is the snapshot delivered to subscribers. It is a deep copy and safe
// to keep.
type State struct {
	Compositions  []Composition     `json:"compositions"`
	ActiveID      string            `json:"active_id"`
	PreviewID     string            `json:"preview_id"`
	Transitioning bool              `json:"transitioning"`
	Transition    TransitionState   `json:"transition"`
	Settings      Transition        `json:"settings"`
	Target        Target            `json:"trigger_target"`
	AutoAdvance   *AutoAdvanceState `json:"auto_advance,omitempty"`
	Notice        *notice.Notice    `json:"notice,omitempty"`
}

func (s State) Find(id string) (Composition, bool) {
	for _, c := range s.Compositions {
		if c.ID == id {
			return c, true
		}
	}
	return Composition{}, false
}

func (s State) Active() (Composition, bool) {
	return s.Find(s.ActiveID)
}
