// Package project exports and imports the studio's composition and overlay
// setup as a versioned YAML or JSON document.
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"onair/overlay"
	"onair/scene"
)

const Version = 1

var (
	ErrVersion = errors.New("project: unsupported document version")
	ErrInvalid = errors.New("project: invalid document")
)

type Document struct {
	Version       int                 `yaml:"version" json:"version"`
	Compositions  []scene.Composition `yaml:"compositions" json:"compositions"`
	Overlays      []overlay.Layer     `yaml:"overlays,omitempty" json:"overlays,omitempty"`
	ActiveID      string              `yaml:"active_id,omitempty" json:"active_id,omitempty"`
	PreviewID     string              `yaml:"preview_id,omitempty" json:"preview_id,omitempty"`
	Transition    scene.Transition    `yaml:"transition" json:"transition"`
	TriggerTarget scene.Target        `yaml:"trigger_target,omitempty" json:"trigger_target,omitempty"`
}

type Format string

const (
	YAML Format = "yaml"
	JSON Format = "json"
)

// FormatOf picks the format from a file extension, YAML by default.
func FormatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return JSON
	}
	return YAML
}

// Export captures the current setup.
func Export(scenes *scene.Engine, overlays *overlay.Engine) Document {
	s := scenes.State()
	return Document{
		Version:       Version,
		Compositions:  s.Compositions,
		Overlays:      overlays.AllLayers(),
		ActiveID:      s.ActiveID,
		PreviewID:     s.PreviewID,
		Transition:    s.Settings,
		TriggerTarget: s.Target,
	}
}

// Validate checks everything Import would reject, so a bad document leaves
// the engines untouched.
func (d Document) Validate() error {
	if d.Version != Version {
		return fmt.Errorf("%w: %d (want %d)", ErrVersion, d.Version, Version)
	}
	if len(d.Compositions) == 0 {
		return fmt.Errorf("%w: no compositions", ErrInvalid)
	}
	seen := map[string]bool{}
	for _, c := range d.Compositions {
		if c.ID == "" {
			continue
		}
		if seen[c.ID] {
			return fmt.Errorf("%w: duplicate composition id %q", ErrInvalid, c.ID)
		}
		seen[c.ID] = true
	}
	if _, err := scene.ParseTransitionKind(string(d.Transition.Kind)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := scene.ParseCurve(string(d.Transition.Curve)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if d.Transition.Duration < 0 {
		return fmt.Errorf("%w: negative transition duration", ErrInvalid)
	}
	if d.TriggerTarget != "" {
		if _, err := scene.ParseTarget(string(d.TriggerTarget)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	return nil
}

// Import replaces the setup with d. Overlays are replaced before
// compositions so the active composition's overlay set applies to the new
// layers.
func Import(d Document, scenes *scene.Engine, overlays *overlay.Engine) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if err := overlays.ReplaceAll(d.Overlays); err != nil {
		return err
	}
	t := d.Transition
	if t.Curve == "" {
		t.Curve = scene.Linear
	}
	scenes.SetTransition(t)
	target := d.TriggerTarget
	if target == "" {
		target = scene.TargetProgram
	}
	scenes.SetTriggerTarget(target)
	return scenes.ReplaceAll(d.Compositions, d.ActiveID, d.PreviewID)
}

func Marshal(d Document, f Format) ([]byte, error) {
	if f == JSON {
		return json.MarshalIndent(d, "", "  ")
	}
	return yaml.Marshal(d)
}

func Unmarshal(data []byte, f Format) (Document, error) {
	var d Document
	var err error
	if f == JSON {
		err = json.Unmarshal(data, &d)
	} else {
		err = yaml.Unmarshal(data, &d)
	}
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return d, d.Validate()
}

func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	return Unmarshal(data, FormatOf(path))
}

func Save(path string, d Document) error {
	data, err := Marshal(d, FormatOf(path))
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
