// Package trigger feeds key and MIDI events from every input into the
// composition engine.
package trigger

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"onair/broadcast"
	"onair/clock"
	"onair/hotkey"
	"onair/log"
	"onair/midi"
	"onair/scene"
)

type Kind string

const (
	KindKey  Kind = "key"
	KindMIDI Kind = "midi"
)

// Event is one discrete trigger. Source names where it came from (hotkey,
// midi, http, tui, script) and is only used for logging.
type Event struct {
	Kind    Kind   `json:"kind"`
	Key     string `json:"key,omitempty"`
	Note    int    `json:"note,omitempty"`
	Channel int    `json:"channel,omitempty"`
	Source  string `json:"source"`
}

func Key(id, source string) Event {
	return Event{Kind: KindKey, Key: hotkey.Normalize(id), Source: source}
}

func Note(note, channel int, source string) Event {
	return Event{Kind: KindMIDI, Note: note, Channel: channel, Source: source}
}

// Handler is implemented by scene.Engine.
type Handler interface {
	HandleHotkey(key string) bool
	HandleMIDINote(note, channel int) bool
}

type Observer interface {
	ObserveTrigger(kind string, consumed bool)
}

// Record is the last dispatched event and whether anything was bound to it.
type Record struct {
	Event    Event     `json:"event"`
	Consumed bool      `json:"consumed"`
	At       time.Time `json:"at"`
}

type Dispatcher struct {
	h     Handler
	clock clock.Clock
	obs   Observer
	hub   *broadcast.Hub[Record]

	mu    sync.Mutex
	total int
}

func New(h Handler, c clock.Clock, obs Observer) *Dispatcher {
	if c == nil {
		c = clock.Real()
	}
	return &Dispatcher{h: h, clock: c, obs: obs, hub: broadcast.NewHub[Record]()}
}

// Subscribe delivers a Record per dispatched event.
func (d *Dispatcher) Subscribe() *broadcast.Subscription[Record] {
	return d.hub.Subscribe()
}

// Dispatch hands ev to the engine and reports whether it was consumed.
func (d *Dispatcher) Dispatch(ev Event) bool {
	var ok bool
	switch ev.Kind {
	case KindKey:
		ok = d.h.HandleHotkey(ev.Key)
	case KindMIDI:
		ok = d.h.HandleMIDINote(ev.Note, ev.Channel)
	}
	if d.obs != nil {
		d.obs.ObserveTrigger(string(ev.Kind), ok)
	}
	if !ok {
		log.Infof("trigger: unbound %s %s from %s", ev.Kind, describe(ev), ev.Source)
	}
	d.mu.Lock()
	d.total++
	d.mu.Unlock()
	d.hub.Publish(Record{Event: ev, Consumed: ok, At: d.clock.Now()})
	return ok
}

func (d *Dispatcher) Total() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.total
}

func describe(ev Event) string {
	if ev.Kind == KindMIDI {
		return fmt.Sprintf("note %d ch %d", ev.Note, ev.Channel)
	}
	return ev.Key
}

// RunHotkeys forwards presses from l until ctx is done.
func (d *Dispatcher) RunHotkeys(ctx context.Context, l hotkey.Listener) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-l.Presses():
			d.Dispatch(Key(id, "hotkey"))
		}
	}
}

// RunMIDI forwards note-ons read from r until it ends or ctx is done.
func (d *Dispatcher) RunMIDI(ctx context.Context, r io.Reader) error {
	return midi.Listen(ctx, r, func(ev midi.Event) {
		d.Dispatch(Note(ev.Note, ev.Channel, "midi"))
	})
}

// Bindings returns the sorted key ids bound by compositions plus extra.
// Ids that no listener can watch are logged and left out; they still work
// through Dispatch from other sources.
func Bindings(s scene.State, extra ...string) []string {
	keys := slices.Clone(extra)
	for _, c := range s.Compositions {
		if c.Hotkey != "" {
			keys = append(keys, c.Hotkey)
		}
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		c, err := hotkey.Parse(k)
		if err != nil {
			log.Warnf("trigger: %v", err)
			continue
		}
		ids = append(ids, c.String())
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// WatchBindings keeps l registered for exactly the keys the compositions
// bind, plus extra, re-registering whenever that set changes.
func WatchBindings(ctx context.Context, sub *broadcast.Subscription[scene.State], l hotkey.Listener, extra ...string) {
	defer sub.Close()
	var current []string
	registered := false
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-sub.C():
			ids := Bindings(s, extra...)
			if registered && slices.Equal(ids, current) {
				continue
			}
			if err := l.Register(ids); err != nil {
				log.Warnf("trigger: register hotkeys: %v", err)
				continue
			}
			current, registered = ids, true
		}
	}
}
