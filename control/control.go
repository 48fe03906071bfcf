// Package control is the HTTP surface a host UI drives the studio through.
// Every mutation maps onto one engine operation; engine errors come back as
// JSON with a status code picked by error kind.
package control

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"onair/log"
	"onair/lowerthird"
	"onair/metrics"
	"onair/mixer"
	"onair/overlay"
	"onair/project"
	"onair/publish"
	"onair/scene"
	"onair/studio"
	"onair/video"
)

// maxBody bounds request bodies; project documents are the largest.
const maxBody = 4 << 20

type Handler struct {
	s *studio.Studio
}

func NewHandler(s *studio.Studio) *Handler {
	return &Handler{s: s}
}

// Router wires every route. It is served as is by the caller's http.Server.
func Router(s *studio.Studio) http.Handler {
	h := NewHandler(s)
	r := chi.NewRouter()
	r.Use(requestLogger)
	r.Use(metrics.RequestMiddleware(s.Metrics))

	r.Get("/metrics", s.MetricsHandler().ServeHTTP)
	r.Get("/state", h.GetState)
	r.Get("/ws", h.Feed)
	r.Get("/frame.png", h.GetFrame)

	r.Post("/triggers/key", h.TriggerKey)
	r.Post("/triggers/midi", h.TriggerMIDI)

	r.Post("/program/{id}", h.SwitchTo)
	r.Post("/preview/{id}", h.SetPreview)
	r.Delete("/preview", h.ClearPreview)
	r.Post("/cut", h.Cut)
	r.Post("/take", h.Take)
	r.Put("/transition", h.SetTransition)
	r.Put("/trigger-target", h.SetTriggerTarget)
	r.Delete("/auto-advance", h.CancelAutoAdvance)

	r.Route("/compositions", func(r chi.Router) {
		r.Get("/", h.ListCompositions)
		r.Post("/", h.AddComposition)
		r.Patch("/{id}", h.UpdateComposition)
		r.Delete("/{id}", h.DeleteComposition)
		r.Post("/{id}/duplicate", h.DuplicateComposition)
	})

	r.Route("/overlays", func(r chi.Router) {
		r.Get("/", h.ListOverlays)
		r.Put("/{id}", h.SetOverlay)
		r.Delete("/{id}", h.RemoveOverlay)
		r.Post("/{id}/toggle", h.ToggleOverlay)
	})

	r.Post("/lower-third", h.ShowLowerThird)
	r.Delete("/lower-third", h.HideLowerThird)

	r.Route("/audio", func(r chi.Router) {
		r.Get("/", h.GetAudio)
		r.Put("/master", h.SetMaster)
		r.Put("/sources/{id}/gain", h.SetSourceGain)
		r.Delete("/sources/{id}", h.RemoveSource)
	})

	r.Get("/publish", h.GetPublish)
	r.Post("/publish/{id}/enable", h.EnableDestination)
	r.Post("/publish/{id}/disable", h.DisableDestination)

	r.Get("/project", h.ExportProject)
	r.Put("/project", h.ImportProject)
	return r
}

type responseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

// Hijack passes the websocket upgrade through to the server's writer.
func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(w.ResponseWriter).Hijack()
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrap := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrap, r)
		log.Request(r.Method, r.URL.Path, wrap.status, time.Since(start), wrap.size)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), errorBody{Error: err.Error()})
}

// statusOf maps engine errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, scene.ErrNotFound),
		errors.Is(err, overlay.ErrNotFound),
		errors.Is(err, mixer.ErrNotFound),
		errors.Is(err, video.ErrNotFound),
		errors.Is(err, publish.ErrUnknownDestination):
		return http.StatusNotFound
	case errors.Is(err, scene.ErrLastComposition),
		errors.Is(err, scene.ErrNoPreview),
		errors.Is(err, scene.ErrDuplicateID),
		errors.Is(err, mixer.ErrDuplicateSource),
		errors.Is(err, overlay.ErrMultiChroma):
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, overlay.ErrBadPayload),
		errors.Is(err, lowerthird.ErrBadPayload),
		errors.Is(err, mixer.ErrBadGain),
		errors.Is(err, project.ErrInvalid),
		errors.Is(err, project.ErrVersion):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
