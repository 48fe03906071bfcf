package mixer

import (
	"context"
	"fmt"
	"math"
	"time"

	"onair/log"
	"onair/notice"
)

// Level is one source's reading. Peak and RMS are on a 0..100 scale.
type Level struct {
	SourceID string  `json:"source_id"`
	Peak     float64 `json:"peak"`
	RMS      float64 `json:"rms"`
	Active   bool    `json:"active"`
}

type Levels struct {
	At       time.Time      `json:"at"`
	Readings []Level        `json:"readings"`
	Notice   *notice.Notice `json:"notice,omitempty"`
}

// Find returns the reading for id.
func (l Levels) Find(id string) (Level, bool) {
	for _, r := range l.Readings {
		if r.SourceID == id {
			return r, true
		}
	}
	return Level{}, false
}

const meterFloorDB = -60.0

// Scale maps a linear amplitude to 0..100: -60dB and below is 0, 0dB is 100.
func Scale(linear float64) float64 {
	if linear <= 0 {
		return 0
	}
	return scaleDB(20 * math.Log10(linear))
}

func scaleDB(db float64) float64 {
	v := (db - meterFloorDB) / -meterFloorDB * 100
	return math.Max(0, math.Min(100, v))
}

func peakRMS(w []float32) (peak, rms float64) {
	if len(w) == 0 {
		return 0, 0
	}
	var sum float64
	for _, s := range w {
		v := math.Abs(float64(s))
		if v > peak {
			peak = v
		}
		sum += v * v
	}
	return peak, math.Sqrt(sum / float64(len(w)))
}

func (g *Graph) startMeterLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	m := &meterLoop{cancel: cancel, done: make(chan struct{})}
	g.meter = m
	go g.runMeter(ctx, m)
}

func (g *Graph) runMeter(ctx context.Context, m *meterLoop) {
	defer close(m.done)
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.safeTick(m)
		}
	}
}

// safeTick keeps the loop alive through a failing tick.
func (g *Graph) safeTick(m *meterLoop) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("meter tick panic: %v", r)
			log.TickFault("meter", err)
			g.mu.Lock()
			g.publishLevelsLocked(g.clock.Now(), notice.New(notice.Fault, "audio.meter", "", err, g.clock.Now()), false)
			g.mu.Unlock()
		}
	}()
	g.meterTick(m)
}

// meterTick reads every tap and publishes one Levels. It holds the graph
// lock from reading to publishing, so a source removed concurrently either
// appears in this reading or in none after it.
func (g *Graph) meterTick(m *meterLoop) {
	start := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	// a stale loop still draining after the last source left
	if m != nil && g.meter != m {
		return
	}
	now := g.clock.Now()
	n := g.publishLevelsLocked(now, nil, true)
	if g.observer != nil {
		g.observer.ObserveMeterTick(time.Since(start), n)
	}
}

// publishLevelsLocked computes and publishes readings for every source and
// returns how many there were. advance is false for readings published
// outside the meter cadence.
func (g *Graph) publishLevelsLocked(now time.Time, n *notice.Notice, advance bool) int {
	out := Levels{At: now, Readings: make([]Level, 0, len(g.order)), Notice: n}
	var events []*notice.Notice
	for _, id := range g.order {
		s := g.sources[id]
		lv := Level{SourceID: id, Active: s.active()}
		if lv.Active {
			peak, rms := peakRMS(s.window(g.window, g.scratch))
			lv.Peak, lv.RMS = Scale(peak), Scale(rms)
			if advance {
				hasSignal := rms > 0 && 20*math.Log10(rms) > SilenceFloorDB
				switch s.silence.Tick(hasSignal) {
				case SilenceWarn:
					events = append(events, notice.New(notice.Device, "audio.silence", id, fmt.Errorf("no signal on %s for %s", s.label, silenceWarnAfter), now))
				case SilenceWarnClear:
					log.Infof("signal back on source %s", id)
				}
			}
		} else if !s.endReported {
			s.endReported = true
			s.resetTaps()
			log.DeviceError("track", id, ErrTrackEnded)
			events = append(events, notice.New(notice.Device, "audio.track", id, ErrTrackEnded, now))
		}
		out.Readings = append(out.Readings, lv)
	}
	if out.Notice == nil && len(events) > 0 {
		out.Notice = events[0]
	}
	g.levels.Publish(out)
	for _, ev := range events {
		log.Warn(ev.Error())
		g.publishLocked(ev)
	}
	return len(out.Readings)
}
