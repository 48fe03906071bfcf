package control

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"onair/clock"
	"onair/lowerthird"
	"onair/overlay"
	"onair/project"
	"onair/scene"
	"onair/studio"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	s   *studio.Studio
	clk *clock.Manual
	srv *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewManual(t0)
	s := studio.New(studio.Options{
		Width:         32,
		Height:        18,
		Clock:         clk,
		Transition:    scene.Transition{Kind: scene.Fade, Duration: time.Second, Curve: scene.Linear},
		RealtimeAudio: true,
	})
	srv := httptest.NewServer(Router(s))
	t.Cleanup(func() {
		srv.Close()
		s.Close()
	})
	s.Scenes.Add(scene.Composition{ID: "a", Name: "Wide", Hotkey: "ctrl+1"})
	s.Scenes.Add(scene.Composition{ID: "b", Name: "Close", MIDI: &scene.MIDIBinding{Note: 60, Channel: 0}})
	return &fixture{s: s, clk: clk, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func (f *fixture) expect(t *testing.T, method, path string, body any, want int) []byte {
	t.Helper()
	resp, data := f.do(t, method, path, body)
	if resp.StatusCode != want {
		t.Fatalf("%s %s = %d, want %d: %s", method, path, resp.StatusCode, want, data)
	}
	return data
}

func TestGetState(t *testing.T) {
	f := newFixture(t)
	var st studio.State
	if err := json.Unmarshal(f.expect(t, "GET", "/state", nil, http.StatusOK), &st); err != nil {
		t.Fatal(err)
	}
	if st.ActiveID != "a" || len(st.Compositions) != 2 {
		t.Errorf("state = %+v", st)
	}
}

func TestTriggers(t *testing.T) {
	f := newFixture(t)

	var res triggerResponse
	json.Unmarshal(f.expect(t, "POST", "/triggers/midi", midiRequest{Note: 60}, http.StatusOK), &res)
	if !res.Consumed {
		t.Error("note 60 should be consumed")
	}
	if st := f.s.Scenes.State(); st.Transition.To != "b" {
		t.Errorf("transition target = %q, want b", st.Transition.To)
	}

	json.Unmarshal(f.expect(t, "POST", "/triggers/key", keyRequest{Key: "ctrl+9"}, http.StatusOK), &res)
	if res.Consumed {
		t.Error("ctrl+9 is unbound")
	}
	f.expect(t, "POST", "/triggers/key", keyRequest{}, http.StatusBadRequest)
	f.expect(t, "POST", "/triggers/midi", midiRequest{Note: 200}, http.StatusBadRequest)
	f.expect(t, "POST", "/triggers/key", "{not json", http.StatusBadRequest)
}

func TestProgramAndPreview(t *testing.T) {
	f := newFixture(t)

	f.expect(t, "POST", "/program/b?instant=true", nil, http.StatusNoContent)
	if got := f.s.Scenes.State().ActiveID; got != "b" {
		t.Fatalf("active = %q, want b", got)
	}
	f.expect(t, "POST", "/program/nope", nil, http.StatusNotFound)

	f.expect(t, "POST", "/take", nil, http.StatusConflict)
	f.expect(t, "POST", "/preview/a", nil, http.StatusNoContent)
	f.expect(t, "POST", "/cut", nil, http.StatusNoContent)
	if got := f.s.Scenes.State().ActiveID; got != "a" {
		t.Errorf("after cut active = %q, want a", got)
	}
	f.expect(t, "DELETE", "/preview", nil, http.StatusNoContent)
	if got := f.s.Scenes.State().PreviewID; got != "" {
		t.Errorf("preview = %q, want cleared", got)
	}
}

func TestTransitionSettings(t *testing.T) {
	f := newFixture(t)
	f.expect(t, "PUT", "/transition", transitionRequest{Kind: "slide", Duration: "750ms", Curve: "ease-out"}, http.StatusOK)
	got := f.s.Scenes.State().Settings
	want := scene.Transition{Kind: scene.Slide, Duration: 750 * time.Millisecond, Curve: scene.EaseOut}
	if got != want {
		t.Errorf("settings = %+v, want %+v", got, want)
	}
	f.expect(t, "PUT", "/transition", transitionRequest{Kind: "wipe"}, http.StatusBadRequest)
	f.expect(t, "PUT", "/transition", transitionRequest{Kind: "fade", Duration: "soon"}, http.StatusBadRequest)

	f.expect(t, "PUT", "/trigger-target", targetRequest{Target: "preview"}, http.StatusNoContent)
	if got := f.s.Scenes.State().Target; got != scene.TargetPreview {
		t.Errorf("target = %q", got)
	}
	f.expect(t, "PUT", "/trigger-target", targetRequest{Target: "air"}, http.StatusBadRequest)
}

func TestCompositionCRUD(t *testing.T) {
	f := newFixture(t)

	var created idResponse
	json.Unmarshal(f.expect(t, "POST", "/compositions", scene.Composition{ID: "c", Name: "Slides"}, http.StatusCreated), &created)
	if created.ID != "c" {
		t.Errorf("id = %q", created.ID)
	}
	f.expect(t, "POST", "/compositions", scene.Composition{ID: "c"}, http.StatusConflict)

	f.expect(t, "PATCH", "/compositions/c", map[string]any{"name": "Deck"}, http.StatusNoContent)
	c, _ := f.s.Scenes.State().Find("c")
	if c.Name != "Deck" || c.ID != "c" {
		t.Errorf("patched = %+v", c)
	}
	f.expect(t, "PATCH", "/compositions/c", map[string]any{"name": 7}, http.StatusBadRequest)
	if c, _ := f.s.Scenes.State().Find("c"); c.Name != "Deck" {
		t.Errorf("bad patch changed name to %q", c.Name)
	}
	f.expect(t, "PATCH", "/compositions/zz", map[string]any{"name": "x"}, http.StatusNotFound)

	var dup idResponse
	json.Unmarshal(f.expect(t, "POST", "/compositions/c/duplicate", nil, http.StatusCreated), &dup)
	if d, ok := f.s.Scenes.State().Find(dup.ID); !ok || d.Name != "Deck (copy)" {
		t.Errorf("duplicate = %+v", d)
	}

	f.expect(t, "DELETE", "/compositions/c", nil, http.StatusNoContent)
	f.expect(t, "DELETE", "/compositions/"+dup.ID, nil, http.StatusNoContent)
	f.expect(t, "DELETE", "/compositions/b", nil, http.StatusNoContent)
	f.expect(t, "DELETE", "/compositions/a", nil, http.StatusConflict)

	var list []scene.Composition
	json.Unmarshal(f.expect(t, "GET", "/compositions", nil, http.StatusOK), &list)
	if len(list) != 1 || list[0].ID != "a" {
		t.Errorf("list = %+v", list)
	}
}

func TestOverlays(t *testing.T) {
	f := newFixture(t)
	body := `{"z_index": 3, "enabled": true, "kind": "logo", "payload": {"source": "logo.png", "anchor": "top-right", "scale": 0.2, "opacity": 1}}`
	f.expect(t, "PUT", "/overlays/logo", body, http.StatusNoContent)

	layers := f.s.Overlays.AllLayers()
	if len(layers) != 1 || layers[0].ID != "logo" || layers[0].Kind() != overlay.KindLogo {
		t.Fatalf("layers = %+v", layers)
	}
	f.expect(t, "POST", "/overlays/logo/toggle", toggleRequest{Enabled: false}, http.StatusNoContent)
	if len(f.s.Overlays.Layers()) != 0 {
		t.Error("toggled layer still enabled")
	}

	bad := `{"enabled": true, "kind": "logo", "payload": {"source": "", "anchor": "top-right", "scale": 0.2, "opacity": 1}}`
	f.expect(t, "PUT", "/overlays/bad", bad, http.StatusBadRequest)
	f.expect(t, "DELETE", "/overlays/nope", nil, http.StatusNotFound)
	f.expect(t, "DELETE", "/overlays/logo", nil, http.StatusNoContent)
}

func TestLowerThird(t *testing.T) {
	f := newFixture(t)
	var st lowerthird.State
	json.Unmarshal(f.expect(t, "POST", "/lower-third", lowerThirdRequest{Name: "Ada Lovelace", Title: "Guest", Duration: "4s"}, http.StatusOK), &st)
	if st.Phase != lowerthird.Entering || st.Payload == nil || st.Payload.AnimationDuration != 500*time.Millisecond {
		t.Errorf("state = %+v", st)
	}
	f.expect(t, "POST", "/lower-third", lowerThirdRequest{}, http.StatusBadRequest)

	f.expect(t, "DELETE", "/lower-third?instant=true", nil, http.StatusNoContent)
	if f.s.LowerThird.State().Showing() {
		t.Error("instant hide should clear the lower third")
	}
}

func TestAudioAndPublishErrors(t *testing.T) {
	f := newFixture(t)
	f.expect(t, "PUT", "/audio/master", gainRequest{Gain: 0.5}, http.StatusNoContent)
	f.expect(t, "PUT", "/audio/master", gainRequest{Gain: 9}, http.StatusBadRequest)
	f.expect(t, "PUT", "/audio/sources/mic/gain", gainRequest{Gain: 1}, http.StatusNotFound)
	f.expect(t, "DELETE", "/audio/sources/mic", nil, http.StatusNotFound)
	f.expect(t, "POST", "/publish/nowhere/enable", nil, http.StatusNotFound)
}

func TestProjectExportImport(t *testing.T) {
	f := newFixture(t)
	data := f.expect(t, "GET", "/project?format=yaml", nil, http.StatusOK)
	if !strings.Contains(string(data), "version: 1") {
		t.Fatalf("yaml export:\n%s", data)
	}

	d, err := project.Unmarshal(data, project.YAML)
	if err != nil {
		t.Fatal(err)
	}
	d.Compositions = append(d.Compositions, scene.Composition{ID: "c", Name: "Added"})
	d.ActiveID = "c"
	js, _ := project.Marshal(d, project.JSON)
	f.expect(t, "PUT", "/project", string(js), http.StatusOK)
	if st := f.s.Scenes.State(); st.ActiveID != "c" || len(st.Compositions) != 3 {
		t.Errorf("imported state = %+v", st)
	}

	f.expect(t, "PUT", "/project", `{"version": 2, "compositions": [{"id": "x"}]}`, http.StatusBadRequest)
	if len(f.s.Scenes.State().Compositions) != 3 {
		t.Error("rejected import changed state")
	}
}

func TestFrame(t *testing.T) {
	f := newFixture(t)
	f.expect(t, "GET", "/frame.png", nil, http.StatusNoContent)
	f.s.Render.Tick(f.clk.Now())
	resp, data := f.do(t, "GET", "/frame.png", nil)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("status %d type %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Error("body is not a PNG")
	}
}

func TestMetricsCountsRequests(t *testing.T) {
	f := newFixture(t)
	f.expect(t, "GET", "/state", nil, http.StatusOK)
	f.expect(t, "POST", "/program/nope", nil, http.StatusNotFound)
	data := string(f.expect(t, "GET", "/metrics", nil, http.StatusOK))
	if !strings.Contains(data, "onair_http_requests_total 2") || !strings.Contains(data, "onair_http_errors_total 1") {
		t.Errorf("metrics:\n%s", data)
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{scene.ErrNotFound, http.StatusNotFound},
		{scene.ErrLastComposition, http.StatusConflict},
		{overlay.ErrBadPayload, http.StatusBadRequest},
		{project.ErrVersion, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusOf(tt.err); got != tt.want {
			t.Errorf("statusOf(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestFeed(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var m Message
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatal(err)
	}
	if m.Type != "state" || m.State == nil || m.State.ActiveID != "a" {
		t.Fatalf("first message = %+v", m)
	}

	if err := conn.WriteJSON(Message{Type: "take"}); err != nil {
		t.Fatal(err)
	}
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatal(err)
	}
	if m.Type != "error" || !strings.Contains(m.Error, "no preview") {
		t.Errorf("take without preview = %+v", m)
	}

	if err := conn.WriteJSON(Message{Type: "dance"}); err != nil {
		t.Fatal(err)
	}
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatal(err)
	}
	if m.Type != "error" {
		t.Errorf("unknown type reply = %+v", m)
	}
}
