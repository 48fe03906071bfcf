package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog   zerolog.Logger
	diagFile  *os.File
	asRunFile *os.File
	logMu     sync.Mutex
	logReady  bool
	pid       int
	dir       string
)

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absFromWd(flagPath)
	}

	// Priority 2: ONAIR_LOG_PATH environment variable
	if envPath := os.Getenv("ONAIR_LOG_PATH"); envPath != "" {
		return absFromWd(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absFromWd(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	// as-run log: one line per program change, what actually went to air
	asRunPath := filepath.Join(dir, "asrun_log.txt")
	asRunFile, err = os.OpenFile(asRunPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05.000",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if asRunFile != nil {
		asRunFile.Close()
		asRunFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func SessionStart(width, height, fps, sampleRate int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("width", width).
		Int("height", height).
		Int("fps", fps).
		Int("sample_rate", sampleRate).
		Msg("session_start")
}

func SessionEnd(frames uint64, programChanges int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Uint64("frames", frames).
		Int("program_changes", programChanges).
		Msg("session_end")
}

// AsRun appends a line to the as-run log and mirrors it to diagnostics.
func AsRun(compositionID, name, via string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("composition", compositionID).
		Str("name", name).
		Str("via", via).
		Msg("program")
	logMu.Lock()
	defer logMu.Unlock()
	if asRunFile == nil {
		return
	}
	line := fmt.Sprintf("%s\t[%d]\t%s\t%s\t%s\n", time.Now().Format("2006-01-02 15:04:05.000"), pid, via, compositionID, name)
	asRunFile.WriteString(line)
}

func TransitionStart(kind, from, to string, duration time.Duration) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("kind", kind).
		Str("from", from).
		Str("to", to).
		Dur("duration", duration).
		Msg("transition_start")
}

func SourceAdded(id, kind, label string, tracks int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("source", id).
		Str("kind", kind).
		Str("label", label).
		Int("tracks", tracks).
		Msg("source_added")
}

func SourceRemoved(id string) {
	if !logReady {
		return
	}
	diagLog.Info().Str("source", id).Msg("source_removed")
}

func DeviceError(op, id string, err error) {
	if !logReady {
		return
	}
	diagLog.Warn().
		Str("op", op).
		Str("source", id).
		Err(err).
		Msg("device_error")
}

func TickFault(loop string, err error) {
	if !logReady {
		return
	}
	diagLog.Error().
		Str("loop", loop).
		Err(err).
		Msg("tick_fault")
}

type LoopStats struct {
	Frames      uint64
	Skipped     uint64
	Faults      uint64
	AvgTickMs   float64
	MaxTickMs   float64
	MeterTicks  uint64
	Sources     int
	Subscribers int
}

func Stats(s LoopStats) {
	if !logReady {
		return
	}
	diagLog.Info().
		Uint64("frames", s.Frames).
		Uint64("skipped", s.Skipped).
		Uint64("faults", s.Faults).
		Float64("avg_tick_ms", s.AvgTickMs).
		Float64("max_tick_ms", s.MaxTickMs).
		Uint64("meter_ticks", s.MeterTicks).
		Int("sources", s.Sources).
		Int("subscribers", s.Subscribers).
		Msg("loop_stats")
}

func Request(method, path string, status int, d time.Duration, size int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("method", method).
		Str("path", path).
		Int("status", status).
		Int64("duration_ms", d.Milliseconds()).
		Int("size", size).
		Msg("request")
}
