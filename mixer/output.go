package mixer

import (
	"encoding/binary"
	"io"
	"sync"
	"time"

	"onair/audio"
)

// readChunk caps one Read at 20ms of audio.
const readChunk = audio.SampleRate / 50

// Output is the master bus as 16-bit little-endian mono PCM at
// audio.SampleRate. It never ends: with no sources, or sources that fall
// behind, it produces silence. Reads are paced to real time unless the graph
// was built WithRealtimeOutput(false).
type Output struct {
	g *Graph

	mu       sync.Mutex
	master   *gainNode
	mix      []float32
	started  time.Time
	produced int64
	sleep    func(time.Duration)
}

func newOutput(g *Graph) *Output {
	o := &Output{g: g, master: newGainNode(g.master.Load()), sleep: time.Sleep}
	// the bus reads its target straight from the graph
	o.master.target = g.master
	return o
}

func (o *Output) Read(p []byte) (int, error) {
	n := min(len(p)/audio.BytesPerSample, readChunk)
	if n == 0 {
		return 0, io.ErrShortBuffer
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.g.realtime {
		o.pace(n)
	}
	if cap(o.mix) < n {
		o.mix = make([]float32, n)
	}
	mix := o.mix[:n]
	clear(mix)

	o.g.mu.Lock()
	for _, id := range o.g.order {
		o.g.sources[id].popAdd(mix)
	}
	o.g.mu.Unlock()

	o.master.process(mix)
	for i, s := range mix {
		binary.LittleEndian.PutUint16(p[i*audio.BytesPerSample:], uint16(toInt16(s)))
	}
	o.produced += int64(n)
	return n * audio.BytesPerSample, nil
}

// pace blocks until the wall clock has caught up with the samples produced.
func (o *Output) pace(n int) {
	now := time.Now()
	if o.started.IsZero() {
		o.started = now
	}
	due := o.started.Add(time.Duration(float64(o.produced+int64(n)) / audio.SampleRate * float64(time.Second)))
	if wait := due.Sub(now); wait > 0 {
		o.sleep(wait)
	} else if -wait > time.Second {
		// reader stalled; restart the clock instead of bursting to catch up
		o.started = now
		o.produced = 0
	}
}

func toInt16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s >= 0 {
		return int16(s * 32767)
	}
	return int16(s * 32768)
}
