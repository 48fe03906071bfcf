package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"onair/lowerthird"
	"onair/overlay"
	"onair/project"
	"onair/scene"
	"onair/trigger"
)

var errBadRequest = errors.New("control: bad request")

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// parseDuration accepts "1.5s" style strings; an empty string is zero.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: duration %q", errBadRequest, s)
	}
	return d, nil
}

func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.s.State())
}

// GetFrame serves the latest program frame as PNG.
func (h *Handler) GetFrame(w http.ResponseWriter, r *http.Request) {
	f, ok := h.s.Surface.Latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Frame-Seq", strconv.FormatUint(f.Seq, 10))
	png.Encode(w, f.Image)
}

type keyRequest struct {
	Key string `json:"key"`
}

type midiRequest struct {
	Note    int `json:"note"`
	Channel int `json:"channel"`
}

type triggerResponse struct {
	Consumed bool `json:"consumed"`
}

func (h *Handler) TriggerKey(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Key == "" {
		writeError(w, fmt.Errorf("%w: key required", errBadRequest))
		return
	}
	ok := h.s.Triggers.Dispatch(trigger.Key(req.Key, "http"))
	writeJSON(w, http.StatusOK, triggerResponse{Consumed: ok})
}

func (h *Handler) TriggerMIDI(w http.ResponseWriter, r *http.Request) {
	var req midiRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Note < 0 || req.Note > 127 || req.Channel < 0 || req.Channel > 15 {
		writeError(w, fmt.Errorf("%w: note 0-127, channel 0-15", errBadRequest))
		return
	}
	ok := h.s.Triggers.Dispatch(trigger.Note(req.Note, req.Channel, "http"))
	writeJSON(w, http.StatusOK, triggerResponse{Consumed: ok})
}

// SwitchTo handles POST /program/{id}. ?instant=true skips the transition.
func (h *Handler) SwitchTo(w http.ResponseWriter, r *http.Request) {
	instant, _ := strconv.ParseBool(r.URL.Query().Get("instant"))
	if err := h.s.Scenes.SwitchTo(chi.URLParam(r, "id"), instant); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SetPreview(w http.ResponseWriter, r *http.Request) {
	if err := h.s.Scenes.SetPreview(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ClearPreview(w http.ResponseWriter, r *http.Request) {
	h.s.Scenes.SetPreview("")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Cut(w http.ResponseWriter, r *http.Request) {
	if err := h.s.Cut(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Take(w http.ResponseWriter, r *http.Request) {
	if err := h.s.Take(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transitionRequest struct {
	Kind     string `json:"kind"`
	Duration string `json:"duration"`
	Curve    string `json:"curve"`
}

func (h *Handler) SetTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	kind, err := scene.ParseTransitionKind(req.Kind)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	curve, err := scene.ParseCurve(req.Curve)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	d, err := parseDuration(req.Duration)
	if err != nil {
		writeError(w, err)
		return
	}
	if d < 0 {
		writeError(w, fmt.Errorf("%w: negative duration", errBadRequest))
		return
	}
	t := scene.Transition{Kind: kind, Duration: d, Curve: curve}
	h.s.Scenes.SetTransition(t)
	writeJSON(w, http.StatusOK, t)
}

type targetRequest struct {
	Target string `json:"target"`
}

func (h *Handler) SetTriggerTarget(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	t, err := scene.ParseTarget(req.Target)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	h.s.Scenes.SetTriggerTarget(t)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CancelAutoAdvance(w http.ResponseWriter, r *http.Request) {
	h.s.Scenes.CancelAutoAdvance()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListCompositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.s.Scenes.State().Compositions)
}

type idResponse struct {
	ID string `json:"id"`
}

func (h *Handler) AddComposition(w http.ResponseWriter, r *http.Request) {
	var c scene.Composition
	if err := decode(w, r, &c); err != nil {
		writeError(w, err)
		return
	}
	id, err := h.s.Scenes.Add(c)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

// UpdateComposition handles PATCH /compositions/{id}. Fields absent from the
// body keep their current value.
func (h *Handler) UpdateComposition(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	var probe scene.Composition
	if err := json.Unmarshal(body, &probe); err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	err = h.s.Scenes.Update(chi.URLParam(r, "id"), func(c *scene.Composition) {
		json.Unmarshal(body, c)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteComposition(w http.ResponseWriter, r *http.Request) {
	if err := h.s.Scenes.Delete(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DuplicateComposition(w http.ResponseWriter, r *http.Request) {
	id, err := h.s.Scenes.Duplicate(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (h *Handler) ListOverlays(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.s.Overlays.AllLayers())
}

// SetOverlay handles PUT /overlays/{id}; the path id wins over the body.
func (h *Handler) SetOverlay(w http.ResponseWriter, r *http.Request) {
	var l overlay.Layer
	if err := decode(w, r, &l); err != nil {
		writeError(w, err)
		return
	}
	l.ID = chi.URLParam(r, "id")
	if _, err := h.s.Overlays.Set(l); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RemoveOverlay(w http.ResponseWriter, r *http.Request) {
	if err := h.s.Overlays.Remove(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *Handler) ToggleOverlay(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.s.Overlays.Toggle(chi.URLParam(r, "id"), req.Enabled); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type lowerThirdRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Title     string `json:"title"`
	Position  string `json:"position"`
	Animation string `json:"animation"`
	Duration  string `json:"duration"`
}

func (h *Handler) ShowLowerThird(w http.ResponseWriter, r *http.Request) {
	var req lowerThirdRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	d, err := parseDuration(req.Duration)
	if err != nil {
		writeError(w, err)
		return
	}
	p := lowerthird.Payload{
		ID:        req.ID,
		Name:      req.Name,
		Title:     req.Title,
		Position:  lowerthird.Position(req.Position),
		Animation: lowerthird.Animation(req.Animation),
		Duration:  d,
	}
	if err := h.s.LowerThird.Show(p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.s.LowerThird.State())
}

// HideLowerThird plays the exit animation, or skips it with ?instant=true.
func (h *Handler) HideLowerThird(w http.ResponseWriter, r *http.Request) {
	if instant, _ := strconv.ParseBool(r.URL.Query().Get("instant")); instant {
		h.s.LowerThird.HideInstant()
	} else {
		h.s.LowerThird.Hide()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetAudio(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.s.Audio.State())
}

type gainRequest struct {
	Gain float64 `json:"gain"`
}

func (h *Handler) SetMaster(w http.ResponseWriter, r *http.Request) {
	var req gainRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.s.Audio.SetMasterVolume(req.Gain); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SetSourceGain(w http.ResponseWriter, r *http.Request) {
	var req gainRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.s.Audio.SetSourceGain(chi.URLParam(r, "id"), req.Gain); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RemoveSource(w http.ResponseWriter, r *http.Request) {
	if err := h.s.Audio.RemoveSource(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetPublish(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.s.Publisher.Statuses())
}

func (h *Handler) EnableDestination(w http.ResponseWriter, r *http.Request) {
	if err := h.s.Publisher.Enable(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.s.Publisher.Statuses())
}

func (h *Handler) DisableDestination(w http.ResponseWriter, r *http.Request) {
	if err := h.s.Publisher.Disable(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.s.Publisher.Statuses())
}

// requestFormat picks the document format from ?format= or the content
// type, JSON by default.
func requestFormat(r *http.Request, header string) project.Format {
	switch r.URL.Query().Get("format") {
	case "yaml", "yml":
		return project.YAML
	case "json":
		return project.JSON
	}
	mt, _, _ := mime.ParseMediaType(r.Header.Get(header))
	switch mt {
	case "application/yaml", "application/x-yaml", "text/yaml":
		return project.YAML
	}
	return project.JSON
}

func contentType(f project.Format) string {
	if f == project.YAML {
		return "application/yaml"
	}
	return "application/json"
}

func (h *Handler) ExportProject(w http.ResponseWriter, r *http.Request) {
	f := requestFormat(r, "Accept")
	data, err := project.Marshal(h.s.Export(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType(f))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ImportProject replaces compositions and overlays with the document in the
// body. A document that fails validation leaves the studio unchanged.
func (h *Handler) ImportProject(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	d, err := project.Unmarshal(data, requestFormat(r, "Content-Type"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.s.Import(d); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.s.State())
}
