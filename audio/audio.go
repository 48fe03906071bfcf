// Package audio opens capture devices and exposes them as streams of tracks.
//
// A Context enumerates and opens platform devices (PulseAudio on Linux,
// miniaudio elsewhere). Open wraps one device in a Stream whose single audio
// Track delivers 16-bit mono samples at SampleRate to whatever sink the mixer
// attaches.
package audio

import (
	"errors"
	"strings"
)

const (
	SampleRate = 48000
	Channels   = 1
	// BytesPerSample is for 16-bit little-endian PCM.
	BytesPerSample = 2
	WAVHeaderSize  = 44
)

var (
	ErrPermissionDenied = errors.New("audio: capture permission denied")
	ErrNoDevices        = errors.New("audio: no capture devices found")
	ErrDeviceNotFound   = errors.New("audio: capture device not found")
)

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

// IsBluetooth guesses from the device name whether it is a Bluetooth headset.
// Those add latency that drifts against video.
func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

type DataCallback func(data []byte, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

// DefaultConfig is the bus format every source is captured in.
func DefaultConfig() CaptureConfig {
	return CaptureConfig{SampleRate: SampleRate, Channels: Channels}
}

type DeviceInfo struct {
	ID      string // opaque platform-specific identifier
	Name    string
	Default bool // the system's default capture device
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
}

// lossNotifier is implemented by backends that can tell when a running
// device disappears.
type lossNotifier interface {
	OnLost(fn func())
}

// FindDevice looks a device up by ID or, failing that, by exact name.
func FindDevice(c Context, key string) (*DeviceInfo, error) {
	devices, err := c.Devices()
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if devices[i].ID == key {
			return &devices[i], nil
		}
	}
	for i := range devices {
		if devices[i].Name == key {
			return &devices[i], nil
		}
	}
	return nil, ErrDeviceNotFound
}

var permissionHints = []string{"permission", "access denied", "not authorized", "not permitted", "eacces"}

// classify maps backend errors that mean "the user said no" onto
// ErrPermissionDenied so callers can report them distinctly.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrPermissionDenied) {
		return err
	}
	msg := strings.ToLower(err.Error())
	for _, h := range permissionHints {
		if strings.Contains(msg, h) {
			return errors.Join(ErrPermissionDenied, err)
		}
	}
	return err
}
