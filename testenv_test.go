package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"onair/clock"
	"onair/scene"
	"onair/studio"
	"onair/video"
)

func newScript(t *testing.T) (*script, *bytes.Buffer) {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := studio.New(studio.Options{
		Width:         32,
		Height:        18,
		FPS:           50,
		Clock:         clk,
		Transition:    scene.Transition{Kind: scene.Fade, Duration: 400 * time.Millisecond, Curve: scene.Linear},
		RealtimeAudio: true,
	})
	t.Cleanup(func() { s.Close() })
	if err := s.AddInput("testpattern", video.NewTestPattern(clk, 32, 18)); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	return &script{s: s, clk: clk, out: &out}, &out
}

func TestScriptTransition(t *testing.T) {
	sc, out := newScript(t)
	in := strings.Join([]string{
		"# two compositions, fade between them",
		"ADD a Wide",
		"ADD b Close",
		"SWITCH b",
		"ADVANCE 200",
		"STATE",
		"ADVANCE 200",
		"STATE",
		"QUIT",
		"CUT a",
	}, "\n")
	if err := sc.run(strings.NewReader(in)); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, want := range []string{
		"PROGRAM a\n",
		`STATE {"program":"a","preview":"","transition":0.5,`,
		"PROGRAM b\n",
		`STATE {"program":"b","preview":"","transition":-1,`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Count(got, "PROGRAM") != 2 {
		t.Errorf("commands after QUIT ran:\n%s", got)
	}
}

func TestScriptErrorsKeepGoing(t *testing.T) {
	sc, out := newScript(t)
	in := "ADD a\nPREVIEW missing\nBOGUS\nNOTE x\nSHOW |\nADD b\nPREVIEW b\nCUTPREVIEW\n"
	if err := sc.run(strings.NewReader(in)); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, want := range []string{
		"ERR PREVIEW: scene: composition not found",
		"ERR BOGUS: unknown command",
		"ERR NOTE:",
		"ERR SHOW:",
		"PROGRAM b\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestScriptTriggers(t *testing.T) {
	sc, out := newScript(t)
	sc.s.Scenes.Add(scene.Composition{ID: "a", Source: "testpattern"})
	sc.s.Scenes.Add(scene.Composition{ID: "b", Source: "testpattern", Hotkey: "ctrl+2", MIDI: &scene.MIDIBinding{Note: 60}})

	if err := sc.run(strings.NewReader("KEY ctrl+9\nNOTE 60 0\nADVANCE 400\n")); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	if !strings.Contains(got, "KEY ctrl+9 consumed=false") {
		t.Errorf("unbound key reported consumed:\n%s", got)
	}
	if !strings.Contains(got, "NOTE 60/0 consumed=true") || !strings.Contains(got, "PROGRAM b") {
		t.Errorf("note trigger did not switch program:\n%s", got)
	}
}
