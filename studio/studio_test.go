package studio

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"onair/audio"
	"onair/clock"
	"onair/lowerthird"
	"onair/notice"
	"onair/overlay"
	"onair/publish"
	"onair/scene"
	"onair/trigger"
	"onair/video"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newStudio(t *testing.T, dests ...publish.Destination) (*Studio, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(t0)
	s := New(Options{
		Width:         32,
		Height:        18,
		FPS:           60,
		Clock:         clk,
		Transition:    scene.Transition{Kind: scene.Fade, Duration: 500 * time.Millisecond, Curve: scene.Linear},
		RealtimeAudio: true,
		Destinations:  dests,
	})
	t.Cleanup(func() { s.Close() })
	return s, clk
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewIsEmpty(t *testing.T) {
	s, _ := newStudio(t)
	st := s.State()
	if len(st.Compositions) != 0 || st.ActiveID != "" {
		t.Errorf("new studio should have no compositions: %+v", st)
	}
	if st.Audio.Metering || len(st.Audio.Sources) != 0 {
		t.Errorf("new studio should not meter: %+v", st.Audio)
	}
	if st.LowerThird.Phase != lowerthird.Hidden {
		t.Errorf("lower third phase = %s", st.LowerThird.Phase)
	}
}

func TestSubscribeStartsCurrentWithoutRun(t *testing.T) {
	s, _ := newStudio(t)
	s.Scenes.Add(scene.Composition{ID: "a", Name: "Wide"})
	sub := s.Subscribe()
	defer sub.Close()
	select {
	case st := <-sub.C():
		if st.ActiveID != "a" || len(st.Compositions) != 1 {
			t.Fatalf("first snapshot is stale: active=%q compositions=%d", st.ActiveID, len(st.Compositions))
		}
	case <-time.After(time.Second):
		t.Fatal("no initial snapshot")
	}
}

func TestKeyTriggerDrivesTransitionThroughRender(t *testing.T) {
	s, clk := newStudio(t)
	if err := s.AddInput("cam", video.NewTestPattern(clk, 32, 18)); err != nil {
		t.Fatal(err)
	}
	s.Scenes.Add(scene.Composition{ID: "a", Name: "Wide", Source: "cam"})
	s.Scenes.Add(scene.Composition{ID: "b", Name: "Close", Source: "cam", Hotkey: "ctrl+2"})

	if !s.Triggers.Dispatch(trigger.Key("Ctrl+2", "test")) {
		t.Fatal("ctrl+2 should be consumed")
	}

	f := s.Render.Tick(clk.Advance(250 * time.Millisecond))
	if f == nil {
		t.Fatal("tick skipped")
	}
	if f.ProgramID != "a" || math.Abs(f.Transition-0.5) > 1e-9 {
		t.Errorf("mid transition frame: program %q progress %v", f.ProgramID, f.Transition)
	}

	f = s.Render.Tick(clk.Advance(250 * time.Millisecond))
	if f == nil || f.ProgramID != "b" || f.Transition != -1 {
		t.Errorf("after commit: %+v", f)
	}
	if got := s.State().ActiveID; got != "b" {
		t.Errorf("active = %q, want b", got)
	}
}

func TestCompositionOverlaySetAppliedOnProgram(t *testing.T) {
	s, _ := newStudio(t)
	s.Overlays.Set(overlay.Layer{ID: "logo", Enabled: true, Payload: overlay.Logo{Source: "logo.png", Anchor: overlay.TopRight, Scale: 0.1, Opacity: 1}})
	s.Overlays.Set(overlay.Layer{ID: "bug", Enabled: true, Payload: overlay.Logo{Source: "bug.png", Anchor: overlay.TopLeft, Scale: 0.1, Opacity: 1}})
	s.Scenes.Add(scene.Composition{ID: "a"})
	s.Scenes.Add(scene.Composition{ID: "b", Overlays: []string{"bug"}})

	if err := s.Scenes.SwitchTo("b", true); err != nil {
		t.Fatal(err)
	}
	var enabled []string
	for _, l := range s.State().Overlays {
		if l.Enabled {
			enabled = append(enabled, l.ID)
		}
	}
	if len(enabled) != 1 || enabled[0] != "bug" {
		t.Errorf("enabled = %v, want [bug]", enabled)
	}
}

func TestRunPublishesFramesAndNotices(t *testing.T) {
	s, _ := newStudio(t)
	s.Scenes.Add(scene.Composition{ID: "a"})
	sub := s.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, "a frame", func() bool { return s.Surface.Seq() > 0 })

	if err := s.Scenes.SwitchTo("missing", false); !errors.Is(err, scene.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	timeout := time.After(2 * time.Second)
	for got := false; !got; {
		select {
		case st := <-sub.C():
			if st.Notice != nil && errors.Is(st.Notice, scene.ErrNotFound) {
				if st.Notice.Kind != notice.Validation {
					t.Errorf("kind = %s", st.Notice.Kind)
				}
				got = true
			}
		case <-timeout:
			t.Fatal("notice never reached the combined state")
		}
	}

	if err := s.Run(ctx); !errors.Is(err, ErrRunning) {
		t.Errorf("second Run = %v, want ErrRunning", err)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestPublisherReceivesProgram(t *testing.T) {
	snap := t.TempDir() + "/program.png"
	s, _ := newStudio(t, publish.Snapshot("snap", snap, 0))
	s.Scenes.Add(scene.Composition{ID: "a"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	if err := s.Publisher.Enable("snap"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "snapshot frames", func() bool {
		for _, st := range s.Publisher.Statuses() {
			if st.Destination == "snap" && st.Frames > 0 {
				return true
			}
		}
		return false
	})
}

func TestOpenMicrophone(t *testing.T) {
	s, _ := newStudio(t)
	actx := audio.NewFakeContext(nil, false)

	if err := <-s.OpenMicrophone(context.Background(), actx, nil, "mic"); err != nil {
		t.Fatal(err)
	}
	st := s.State()
	if len(st.Audio.Sources) != 1 || st.Audio.Sources[0].ID != "mic" || !st.Audio.Metering {
		t.Errorf("audio state = %+v", st.Audio)
	}
	if err := s.Audio.RemoveSource("mic"); err != nil {
		t.Fatal(err)
	}
	if s.State().Audio.Metering {
		t.Error("metering should stop with the last source")
	}
}

func TestOpenMicrophoneDenied(t *testing.T) {
	s, _ := newStudio(t)
	actx := audio.NewFakeContext(nil, false)
	actx.Deny(true)

	err := <-s.OpenMicrophone(context.Background(), actx, nil, "mic")
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if n := len(s.State().Audio.Sources); n != 0 {
		t.Errorf("sources = %d, want 0", n)
	}
}

func TestBindAction(t *testing.T) {
	s, _ := newStudio(t)
	s.Scenes.Add(scene.Composition{ID: "a"})
	s.Scenes.Add(scene.Composition{ID: "b"})
	s.Scenes.SetPreview("b")

	if err := s.BindAction("ctrl+alt+x+y", scene.ActionCut); err == nil {
		t.Error("expected bad combo error")
	}
	if err := s.BindAction("Shift+Ctrl+C", scene.ActionCut); err != nil {
		t.Fatal(err)
	}
	if !s.Triggers.Dispatch(trigger.Key("ctrl+shift+c", "test")) {
		t.Fatal("bound action not consumed")
	}
	if got := s.State().ActiveID; got != "b" {
		t.Errorf("active = %q, want b", got)
	}
}

func TestProjectRoundTrip(t *testing.T) {
	s, _ := newStudio(t)
	s.Overlays.Set(overlay.Layer{ID: "logo", ZIndex: 2, Enabled: true, Payload: overlay.Logo{Source: "logo.png", Anchor: overlay.TopRight, Scale: 0.1, Opacity: 1}})
	s.Scenes.Add(scene.Composition{ID: "a", Name: "Wide", Hotkey: "ctrl+1"})
	s.Scenes.Add(scene.Composition{ID: "b", Name: "Close", Overlays: []string{}})
	s.Scenes.SetPreview("b")

	path := t.TempDir() + "/show.yaml"
	if err := s.SaveProject(path); err != nil {
		t.Fatal(err)
	}

	other, _ := newStudio(t)
	if err := other.LoadProject(path); err != nil {
		t.Fatal(err)
	}
	got := other.State()
	if len(got.Compositions) != 2 || got.ActiveID != "a" || got.PreviewID != "b" {
		t.Errorf("imported state = %+v", got)
	}
	if c, _ := got.Find("b"); c.Overlays == nil {
		t.Error("empty overlay set lost in round trip")
	}
	if len(got.Overlays) != 1 || got.Overlays[0].ID != "logo" {
		t.Errorf("overlays = %+v", got.Overlays)
	}
}

func TestMetricsHandlerSyncsProgramChanges(t *testing.T) {
	s, _ := newStudio(t)
	s.Scenes.Add(scene.Composition{ID: "a"})
	s.Scenes.Add(scene.Composition{ID: "b"})
	s.Scenes.SwitchTo("b", true)

	srv := httptest.NewServer(s.MetricsHandler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "onair_program_changes_total 2") {
		t.Errorf("scrape missing program changes:\n%s", body)
	}
}
