package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)

type TrackState string

const (
	Live  TrackState = "live"
	Ended TrackState = "ended"
)

// Sink receives captured samples. It is called on the capture goroutine and
// must not block.
type Sink func(samples []int16)

// Track is one media track of a Stream. Its state reflects the device: a
// track ends when stopped or when the device goes away, and never comes back.
type Track struct {
	id    string
	kind  TrackKind
	label string

	enabled atomic.Bool
	ended   atomic.Bool
	sink    atomic.Pointer[Sink]

	stopOnce sync.Once
	onStop   func()
}

func NewTrack(kind TrackKind, label string) *Track {
	t := &Track{id: uuid.NewString(), kind: kind, label: label}
	t.enabled.Store(true)
	return t
}

func (t *Track) ID() string      { return t.id }
func (t *Track) Kind() TrackKind { return t.kind }
func (t *Track) Label() string   { return t.label }
func (t *Track) Enabled() bool   { return t.enabled.Load() }

func (t *Track) SetEnabled(v bool) { t.enabled.Store(v) }

func (t *Track) State() TrackState {
	if t.ended.Load() {
		return Ended
	}
	return Live
}

// Attach routes samples to s, replacing any previous sink.
func (t *Track) Attach(s Sink) { t.sink.Store(&s) }

func (t *Track) Detach() { t.sink.Store(nil) }

// Write hands samples to the attached sink. Disabled or ended tracks drop
// them.
func (t *Track) Write(samples []int16) {
	if !t.enabled.Load() || t.ended.Load() {
		return
	}
	if s := t.sink.Load(); s != nil {
		(*s)(samples)
	}
}

// End marks the track ended without releasing the device. Backends call it
// when the device disappears.
func (t *Track) End() { t.ended.Store(true) }

// Stop ends the track and releases the underlying device.
func (t *Track) Stop() {
	t.End()
	t.Detach()
	t.stopOnce.Do(func() {
		if t.onStop != nil {
			t.onStop()
		}
	})
}

type Stream struct {
	ID     string
	tracks []*Track
}

func NewStream(tracks ...*Track) *Stream {
	return &Stream{ID: uuid.NewString(), tracks: tracks}
}

func (s *Stream) Tracks() []*Track { return s.tracks }

func (s *Stream) AudioTracks() []*Track {
	var out []*Track
	for _, t := range s.tracks {
		if t.kind == KindAudio {
			out = append(out, t)
		}
	}
	return out
}

// Stop stops every track.
func (s *Stream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

// Open starts capturing from device (nil means the system default) and
// returns a stream with one live audio track. Permission failures are
// reported as ErrPermissionDenied.
func Open(ctx context.Context, c Context, device *DeviceInfo, cfg CaptureConfig) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.SampleRate == 0 {
		cfg = DefaultConfig()
	}
	dev, err := c.NewCapture(device, cfg)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", classify(err))
	}

	label := "system default"
	if device != nil {
		label = device.Name
	}
	track := NewTrack(KindAudio, label)
	channels := int(max(cfg.Channels, 1))
	dev.SetCallback(func(data []byte, frameCount uint32) {
		track.Write(downmix(data, channels))
	})
	if n, ok := dev.(lossNotifier); ok {
		n.OnLost(track.End)
	}
	track.onStop = func() {
		dev.ClearCallback()
		dev.Stop()
		dev.Close()
	}

	if err := dev.Start(); err != nil {
		dev.Close()
		return nil, fmt.Errorf("start capture: %w", classify(err))
	}
	// the caller may have given up while the device was starting
	if err := ctx.Err(); err != nil {
		track.Stop()
		return nil, err
	}
	return NewStream(track), nil
}

// downmix decodes interleaved 16-bit PCM and averages channels to mono.
func downmix(data []byte, channels int) []int16 {
	frames := len(data) / (BytesPerSample * channels)
	out := make([]int16, frames)
	for i := range out {
		sum := 0
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * BytesPerSample
			sum += int(int16(binary.LittleEndian.Uint16(data[off:])))
		}
		out[i] = int16(sum / channels)
	}
	return out
}
