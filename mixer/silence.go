package mixer

import "time"

const (
	silenceWarnAfter = 8 * time.Second
	signalMinRatio   = 0.10
	signalClearRatio = 0.25 // higher threshold to clear the warning (hysteresis)
	// SilenceFloorDB is the RMS level under which a meter tick counts as
	// silent.
	SilenceFloorDB = -50.0
)

type SilenceEvent int

const (
	SilenceNone      SilenceEvent = iota
	SilenceWarn                   // no signal for silenceWarnAfter
	SilenceWarnClear              // signal came back after a warning
)

// silenceMonitor watches one source for a dead input: a muted mic, an
// unplugged XLR, a wrong device. It looks at the share of meter ticks with
// signal over a sliding window.
type silenceMonitor struct {
	window []bool
	ticks  int
	warned bool
}

func newSilenceMonitor(interval time.Duration) *silenceMonitor {
	n := int(silenceWarnAfter / interval)
	if n < 1 {
		n = 1
	}
	return &silenceMonitor{window: make([]bool, n)}
}

func (m *silenceMonitor) ratio() float64 {
	n := min(m.ticks, len(m.window))
	if n == 0 {
		return 1.0
	}
	count := 0
	for i := 0; i < n; i++ {
		if m.window[(m.ticks-1-i+len(m.window))%len(m.window)] {
			count++
		}
	}
	return float64(count) / float64(n)
}

func (m *silenceMonitor) Tick(hasSignal bool) SilenceEvent {
	m.window[m.ticks%len(m.window)] = hasSignal
	m.ticks++

	r := m.ratio()
	if m.ticks >= len(m.window) && r < signalMinRatio && !m.warned {
		m.warned = true
		return SilenceWarn
	}
	if m.warned && r >= signalClearRatio {
		m.warned = false
		return SilenceWarnClear
	}
	return SilenceNone
}

func (m *silenceMonitor) Warned() bool { return m.warned }
