package scene

import (
	"fmt"

	"onair/hotkey"
)

// Target decides what a composition's own trigger binding does.
type Target string

const (
	TargetProgram Target = "program"
	TargetPreview Target = "preview"
)

func ParseTarget(s string) (Target, error) {
	switch t := Target(s); t {
	case TargetProgram, TargetPreview:
		return t, nil
	}
	return "", fmt.Errorf("scene: unknown trigger target %q (use program or preview)", s)
}

// Action is a global binding that is not tied to one composition.
type Action string

const (
	ActionTake Action = "take" // TransitionPreviewToProgram
	ActionCut  Action = "cut"  // CutToPreview
)

type noteKey struct{ note, channel int }

type actionTable struct {
	keys  map[string]Action
	notes map[noteKey]Action
}

func newActionTable() actionTable {
	return actionTable{keys: map[string]Action{}, notes: map[noteKey]Action{}}
}

// normalizeKey makes "Shift+Ctrl+1" and "ctrl+shift+1" the same binding.
func normalizeKey(k string) string {
	return hotkey.Normalize(k)
}

// BindKey maps a key id to a global action. An empty action removes it.
func (e *Engine) BindKey(key string, a Action) {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := normalizeKey(key)
	if a == "" {
		delete(e.actions.keys, k)
		return
	}
	e.actions.keys[k] = a
}

// BindNote maps a MIDI note on a channel to a global action.
func (e *Engine) BindNote(note, channel int, a Action) {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := noteKey{note, channel}
	if a == "" {
		delete(e.actions.notes, k)
		return
	}
	e.actions.notes[k] = a
}

// HandleHotkey dispatches a key trigger. It returns whether the key was bound.
func (e *Engine) HandleHotkey(key string) bool {
	k := normalizeKey(key)
	if k == "" {
		return false
	}
	e.mu.Lock()
	if a, ok := e.actions.keys[k]; ok {
		e.mu.Unlock()
		e.runAction(a)
		return true
	}
	id := ""
	for _, c := range e.comps {
		if c.Hotkey != "" && normalizeKey(c.Hotkey) == k {
			id = c.ID
			break
		}
	}
	target := e.target
	e.mu.Unlock()

	if id == "" {
		return false
	}
	e.dispatch(id, target)
	return true
}

// HandleMIDINote dispatches a note-on trigger. It returns whether the note
// was bound.
func (e *Engine) HandleMIDINote(note, channel int) bool {
	e.mu.Lock()
	if a, ok := e.actions.notes[noteKey{note, channel}]; ok {
		e.mu.Unlock()
		e.runAction(a)
		return true
	}
	id := ""
	for _, c := range e.comps {
		if c.MIDI != nil && c.MIDI.Note == note && c.MIDI.Channel == channel {
			id = c.ID
			break
		}
	}
	target := e.target
	e.mu.Unlock()

	if id == "" {
		return false
	}
	e.dispatch(id, target)
	return true
}

func (e *Engine) dispatch(id string, target Target) {
	if target == TargetPreview {
		e.SetPreview(id)
		return
	}
	e.SwitchTo(id, false)
}

func (e *Engine) runAction(a Action) {
	switch a {
	case ActionTake:
		e.TransitionPreviewToProgram()
	case ActionCut:
		e.CutToPreview()
	}
}
