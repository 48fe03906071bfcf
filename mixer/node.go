package mixer

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"onair/audio"
)

// GainSmoothing is the time constant of every gain change. The gain moves
// exponentially toward its target, reaching ~95% after three constants.
const GainSmoothing = 15 * time.Millisecond

type atomicFloat struct{ bits atomic.Uint64 }

func newAtomicFloat(v float64) *atomicFloat {
	f := &atomicFloat{}
	f.Store(v)
	return f
}

func (f *atomicFloat) Load() float64   { return math.Float64frombits(f.bits.Load()) }
func (f *atomicFloat) Store(v float64) { f.bits.Store(math.Float64bits(v)) }

// gainNode scales samples, easing toward target. current belongs to the one
// goroutine that calls process.
type gainNode struct {
	target  *atomicFloat
	current float64
	alpha   float64
}

func newGainNode(v float64) *gainNode {
	return &gainNode{
		target:  newAtomicFloat(v),
		current: v,
		alpha:   1 - math.Exp(-1/(GainSmoothing.Seconds()*audio.SampleRate)),
	}
}

func (g *gainNode) process(buf []float32) {
	target := g.target.Load()
	for i := range buf {
		g.current += (target - g.current) * g.alpha
		buf[i] = float32(float64(buf[i]) * g.current)
	}
}

// tap keeps the most recent samples that passed through a source chain.
type tap struct {
	mu     sync.Mutex
	ring   []float32
	pos    int
	filled bool
}

func newTap(size int) *tap {
	return &tap{ring: make([]float32, size)}
}

func (t *tap) write(samples []float32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(samples) >= len(t.ring) {
		copy(t.ring, samples[len(samples)-len(t.ring):])
		t.pos = 0
		t.filled = true
		return
	}
	n := copy(t.ring[t.pos:], samples)
	if n < len(samples) {
		copy(t.ring, samples[n:])
		t.filled = true
	}
	t.pos = (t.pos + len(samples)) % len(t.ring)
	if t.pos == 0 {
		t.filled = true
	}
}

// window copies the tap contents, oldest first, into dst and returns the
// number of samples copied.
func (t *tap) window(dst []float32) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.filled {
		return copy(dst, t.ring[:t.pos])
	}
	n := copy(dst, t.ring[t.pos:])
	return n + copy(dst[n:], t.ring[:t.pos])
}

func (t *tap) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.ring)
	t.pos = 0
	t.filled = false
}

// fifo buffers processed samples between the capture goroutine and the
// output reader. When the reader falls behind the oldest samples are dropped.
type fifo struct {
	mu    sync.Mutex
	buf   []float32
	r, n  int
	drops uint64
}

func newFIFO(size int) *fifo {
	return &fifo{buf: make([]float32, size)}
}

func (f *fifo) push(samples []float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range samples {
		if f.n == len(f.buf) {
			f.r = (f.r + 1) % len(f.buf)
			f.n--
			f.drops++
		}
		f.buf[(f.r+f.n)%len(f.buf)] = s
		f.n++
	}
}

// popAdd sums up to len(dst) buffered samples into dst. Missing samples
// count as silence.
func (f *fifo) popAdd(dst []float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := min(len(dst), f.n)
	for i := 0; i < k; i++ {
		dst[i] += f.buf[(f.r+i)%len(f.buf)]
	}
	f.r = (f.r + k) % len(f.buf)
	f.n -= k
}

func (f *fifo) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}
