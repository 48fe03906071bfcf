package audio

import (
	"os"
	"sync"
	"time"
)

const fakeFrameSize = 480 // 10ms at SampleRate

// FakeContext is a capture context backed by in-memory PCM. Every capture it
// opens loops the same clip. Used by tests and the headless script mode.
type FakeContext struct {
	pcm      []byte
	realtime bool

	mu       sync.Mutex
	devices  []DeviceInfo
	deny     bool
	captures []*FakeCapture
}

func NewFakeContext(pcm []byte, realtime bool, devices ...DeviceInfo) *FakeContext {
	if len(devices) == 0 {
		devices = []DeviceInfo{{ID: "fake-0", Name: "Fake Microphone"}}
	}
	return &FakeContext{pcm: pcm, realtime: realtime, devices: devices}
}

// NewFakeContextFromWAV loads a 16-bit mono WAV at SampleRate.
func NewFakeContextFromWAV(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	if len(data) > WAVHeaderSize {
		data = data[WAVHeaderSize:]
	}
	return NewFakeContext(data, realtime), nil
}

// Deny makes subsequent captures fail as if the user refused access.
func (f *FakeContext) Deny(v bool) {
	f.mu.Lock()
	f.deny = v
	f.mu.Unlock()
}

// Unplug removes every device, as when the last microphone is disconnected.
func (f *FakeContext) Unplug() {
	f.mu.Lock()
	f.devices = nil
	f.mu.Unlock()
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]DeviceInfo(nil), f.devices...), nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deny {
		return nil, ErrPermissionDenied
	}
	c := &FakeCapture{pcm: f.pcm, realtime: f.realtime}
	f.captures = append(f.captures, c)
	return c, nil
}

// Captures returns every capture opened so far.
func (f *FakeContext) Captures() []*FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeCapture(nil), f.captures...)
}

type FakeCapture struct {
	pcm      []byte
	realtime bool

	mu       sync.Mutex
	cb       DataCallback
	lost     func()
	running  bool
	stopCh   chan struct{}
	feedDone chan struct{}
}

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) OnLost(fn func()) {
	f.mu.Lock()
	f.lost = fn
	f.mu.Unlock()
}

func (f *FakeCapture) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// Lose simulates the device being unplugged.
func (f *FakeCapture) Lose() {
	f.mu.Lock()
	fn := f.lost
	f.mu.Unlock()
	f.Stop()
	if fn != nil {
		fn()
	}
}

// Feed pushes one chunk of samples through the callback synchronously.
func (f *FakeCapture) Feed(samples []int16) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb == nil {
		return
	}
	data := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		data[i*2] = byte(uint16(s))
		data[i*2+1] = byte(uint16(s) >> 8)
	}
	cb(data, uint32(len(samples)))
}

func (f *FakeCapture) Start() error {
	f.mu.Lock()
	f.running = true
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	stop, done := f.stopCh, f.feedDone
	f.mu.Unlock()

	if !f.realtime {
		close(done)
		return nil
	}

	interval := time.Duration(fakeFrameSize) * time.Second / SampleRate
	chunkBytes := fakeFrameSize * BytesPerSample
	go func() {
		defer close(done)
		pos := 0
		silence := make([]byte, chunkBytes)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
			f.mu.Lock()
			cb := f.cb
			f.mu.Unlock()
			if cb == nil {
				continue
			}
			if len(f.pcm) == 0 {
				cb(silence, fakeFrameSize)
				continue
			}
			end := min(pos+chunkBytes, len(f.pcm))
			chunk := make([]byte, end-pos)
			copy(chunk, f.pcm[pos:end])
			cb(chunk, uint32(len(chunk)/BytesPerSample))
			pos = end
			if pos >= len(f.pcm) {
				pos = 0
			}
		}
	}()
	return nil
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	stop, done := f.stopCh, f.feedDone
	f.running = false
	f.mu.Unlock()
	if stop == nil {
		return
	}
	select {
	case <-stop:
	default:
		close(stop)
	}
	<-done
}

func (f *FakeCapture) Close() {}
