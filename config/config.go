// Package config resolves the studio's startup settings from flags, the
// environment and an optional .env file. Flags win over the environment,
// which wins over the built-in defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads .env style files into the process environment. With no paths,
// ".env" is used. A missing file is an error callers may ignore.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the value of key, or fallback if unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of key, or fallback if unset, empty or
// not an integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvDuration parses key with time.ParseDuration.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return fallback
}

// GetEnvBool accepts anything strconv.ParseBool does.
func GetEnvBool(key string, fallback bool) bool {
	if s := os.Getenv(key); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return fallback
}

var ErrInvalid = errors.New("config: invalid value")

type Config struct {
	Width  int
	Height int
	FPS    int

	LogPath string
	Project string
	Listen  string
	Profile string

	Device string
	Setup  bool
	NoMic  bool
	MIDI   string

	Snapshot      string
	SnapshotEvery time.Duration
	Record        string

	MeterInterval time.Duration
	Transition    string
	TransitionFor time.Duration

	TUI     bool
	Test    bool
	Doctor  bool
	Version bool
}

// Defaults returns the configuration used when neither a flag nor an
// environment variable is set.
func Defaults() Config {
	return Config{
		Width:         1280,
		Height:        720,
		FPS:           30,
		Listen:        "127.0.0.1:8088",
		SnapshotEvery: time.Second,
		MeterInterval: 50 * time.Millisecond,
		Transition:    "fade",
		TransitionFor: 500 * time.Millisecond,
		TUI:           true,
	}
}

// Parse builds a Config from args. Environment variables prefixed ONAIR_
// provide the defaults for the matching flags.
func Parse(name string, args []string, stderr io.Writer) (Config, []string, error) {
	d := Defaults()
	c := Config{}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.IntVar(&c.Width, "width", GetEnvInt("ONAIR_WIDTH", d.Width), "Output frame width in pixels")
	fs.IntVar(&c.Height, "height", GetEnvInt("ONAIR_HEIGHT", d.Height), "Output frame height in pixels")
	fs.IntVar(&c.FPS, "fps", GetEnvInt("ONAIR_FPS", d.FPS), "Render loop frames per second")
	fs.StringVar(&c.LogPath, "logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	fs.StringVar(&c.Project, "project", GetEnv("ONAIR_PROJECT", ""), "Project document to load at start (.yaml or .json)")
	fs.StringVar(&c.Listen, "listen", GetEnv("ONAIR_LISTEN", d.Listen), "Control API listen address (empty disables it)")
	fs.StringVar(&c.Profile, "profile", GetEnv("ONAIR_PROFILE", ""), "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	fs.StringVar(&c.Device, "device", GetEnv("ONAIR_DEVICE", ""), "Use named capture device")
	fs.BoolVar(&c.Setup, "setup", false, "Select capture device interactively")
	fs.BoolVar(&c.NoMic, "nomic", GetEnvBool("ONAIR_NOMIC", false), "Start without opening a capture device")
	fs.StringVar(&c.MIDI, "midi", GetEnv("ONAIR_MIDI", ""), "Raw MIDI port to read note triggers from (e.g., /dev/snd/midiC1D0)")
	fs.StringVar(&c.Snapshot, "snapshot", GetEnv("ONAIR_SNAPSHOT", ""), "Write the program frame to this PNG file")
	fs.DurationVar(&c.SnapshotEvery, "snapshot-every", GetEnvDuration("ONAIR_SNAPSHOT_EVERY", d.SnapshotEvery), "Minimum time between snapshots")
	fs.StringVar(&c.Record, "record", GetEnv("ONAIR_RECORD", ""), "Record the program mix to this WAV file")
	fs.DurationVar(&c.MeterInterval, "meter", GetEnvDuration("ONAIR_METER_INTERVAL", d.MeterInterval), "Audio metering interval")
	fs.StringVar(&c.Transition, "transition", GetEnv("ONAIR_TRANSITION", d.Transition), "Default transition: cut, fade, slide or zoom")
	fs.DurationVar(&c.TransitionFor, "transition-duration", GetEnvDuration("ONAIR_TRANSITION_DURATION", d.TransitionFor), "Default transition duration")
	fs.BoolVar(&c.TUI, "tui", GetEnvBool("ONAIR_TUI", d.TUI), "Run with terminal UI")
	fs.BoolVar(&c.Test, "test", false, "Test mode (headless, stdin-driven)")
	fs.BoolVar(&c.Doctor, "doctor", false, "Run system diagnostics and exit")
	fs.BoolVar(&c.Version, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return Config{}, nil, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, nil, err
	}
	return c, fs.Args(), nil
}

func (c Config) Validate() error {
	switch {
	case c.Width <= 0 || c.Height <= 0:
		return fmt.Errorf("%w: frame size %dx%d", ErrInvalid, c.Width, c.Height)
	case c.FPS <= 0 || c.FPS > 240:
		return fmt.Errorf("%w: fps %d (use 1-240)", ErrInvalid, c.FPS)
	case c.MeterInterval <= 0:
		return fmt.Errorf("%w: meter interval %v", ErrInvalid, c.MeterInterval)
	case c.TransitionFor < 0:
		return fmt.Errorf("%w: transition duration %v", ErrInvalid, c.TransitionFor)
	case c.SnapshotEvery < 0:
		return fmt.Errorf("%w: snapshot interval %v", ErrInvalid, c.SnapshotEvery)
	}
	return nil
}
