package main

import (
	"image"
	"strings"
	"testing"

	"onair/render"
	"onair/scene"
	"onair/studio"
)

func TestRenderThumbSize(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 36))
	out := renderThumb(&render.Frame{Image: img})
	lines := strings.Split(out, "\n")
	if len(lines) != thumbHeight {
		t.Fatalf("rows = %d, want %d", len(lines), thumbHeight)
	}
	if n := strings.Count(lines[0], "▀"); n != thumbWidth {
		t.Errorf("cells = %d, want %d", n, thumbWidth)
	}
	if !strings.Contains(renderThumb(nil), "no signal") {
		t.Error("empty thumb should say no signal")
	}
}

func TestHandleKey(t *testing.T) {
	s := studio.New(studio.Options{
		Width:         16,
		Height:        9,
		FPS:           30,
		Transition:    scene.Transition{Kind: scene.Cut},
		RealtimeAudio: true,
	})
	defer s.Close()
	s.Scenes.Add(scene.Composition{ID: "a"})
	s.Scenes.Add(scene.Composition{ID: "b", Hotkey: "f2"})

	m := tuiModel{s: s, state: s.State()}
	if cmd := m.handleKey("2"); cmd != nil {
		t.Fatalf("preview key returned a command")
	}
	if got := s.State().PreviewID; got != "b" {
		t.Fatalf("preview = %q, want b", got)
	}
	m.handleKey("enter")
	if got := s.State().ActiveID; got != "b" {
		t.Errorf("active after take = %q, want b", got)
	}

	m.state = s.State()
	s.Scenes.SetPreview("")
	cmd := m.handleKey("t")
	if cmd == nil {
		t.Fatal("take without preview should report an error")
	}
	if msg, ok := cmd().(LogMsg); !ok || !strings.Contains(msg.Text, "no preview") {
		t.Errorf("msg = %#v", msg)
	}

	s.Scenes.SwitchTo("a", true)
	m.handleKey("f2")
	if got := s.State().ActiveID; got != "b" {
		t.Errorf("bound key did not switch: active = %q", got)
	}
}

func TestSwatch(t *testing.T) {
	if swatch("") != "" || swatch("not a color") != "" {
		t.Error("swatch should be empty without a valid color")
	}
	if !strings.Contains(swatch("#ff0000"), "■") {
		t.Error("swatch missing block")
	}
}
