package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"onair/audio"
	"onair/clock"
	"onair/config"
	"onair/control"
	"onair/doctor"
	"onair/hotkey"
	"onair/log"
	"onair/midi"
	"onair/publish"
	"onair/scene"
	"onair/shutdown"
	"onair/studio"
	"onair/video"
)

var version = "dev"

// Global actions bound on every start. Compositions add their own keys.
var defaultActions = map[string]scene.Action{
	"ctrl+shift+space": scene.ActionTake,
	"ctrl+shift+c":     scene.ActionCut,
}

var (
	shutdownOnce sync.Once
	activeStudio *studio.Studio
	apiServer    *http.Server
	stopRun      context.CancelFunc
	runDone      chan struct{}
)

func gracefulShutdown() {
	shutdownOnce.Do(func() {
		if stopRun != nil {
			stopRun()
			select {
			case <-runDone:
			case <-time.After(2 * time.Second):
				log.Warn("render loop did not stop in time")
			}
		}
		if apiServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			apiServer.Shutdown(ctx)
			cancel()
		}
		if activeStudio != nil {
			activeStudio.Close()
		}
		log.Close()
		if tuiProgram != nil {
			tuiProgram.Quit()
		}
		os.Exit(0)
	})
}

// initCrashLog points fatal runtime output at crash_log.txt before any cgo
// code runs. run repeats it when -logpath moves the log directory.
func initCrashLog() {
	dir, err := log.ResolveDir("")
	if err != nil {
		return
	}
	setCrashOutput(dir)
}

func setCrashOutput(dir string) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return
	}
	crashFile, err := os.OpenFile(filepath.Join(dir, "crash_log.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(crashFile, debug.CrashOptions{})
}

func transitionFrom(cfg config.Config) (scene.Transition, error) {
	kind, err := scene.ParseTransitionKind(cfg.Transition)
	if err != nil {
		return scene.Transition{}, err
	}
	t := scene.DefaultTransition
	t.Kind = kind
	t.Duration = cfg.TransitionFor
	return t, nil
}

func destinationsFrom(cfg config.Config) []publish.Destination {
	dests := []publish.Destination{publish.Discard("monitor")}
	if cfg.Snapshot != "" {
		dests = append(dests, publish.Snapshot("snapshot", cfg.Snapshot, cfg.SnapshotEvery))
	}
	if cfg.Record != "" {
		dests = append(dests, publish.WAVFile("record", cfg.Record))
	}
	return dests
}

// openMicrophones adds each device as its own mixer source: "mic", "mic-2"
// and so on. No devices means the system default.
func openMicrophones(ctx context.Context, s *studio.Studio, actx audio.Context, devices []audio.DeviceInfo) {
	if len(devices) == 0 {
		devices = []audio.DeviceInfo{{}}
	}
	for i := range devices {
		id := "mic"
		if i > 0 {
			id = fmt.Sprintf("mic-%d", i+1)
		}
		var device *audio.DeviceInfo
		if devices[i].ID != "" {
			device = &devices[i]
		}
		go func() {
			if err := <-s.OpenMicrophone(ctx, actx, device, id); err != nil {
				log.Errorf("microphone %s: %v", id, err)
				logToTUI("Microphone %s: %v", id, err)
			}
		}()
	}
}

func run() {
	if err := config.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not read .env: %v\n", err)
	}
	cfg, args, err := config.Parse("onair", os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if cfg.Version {
		fmt.Printf("onair %s\n", version)
		os.Exit(0)
	}

	// Resolve log directory early
	logPath, err := log.ResolveDir(cfg.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	if cfg.LogPath != "" {
		setCrashOutput(log.Dir())
	}

	if cfg.Profile != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", cfg.Profile)
			if err := http.ListenAndServe(cfg.Profile, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	if cfg.Doctor {
		os.Exit(doctor.Run(cfg.MIDI))
	}

	transition, err := transitionFrom(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}

	if cfg.Test {
		os.Exit(runTestMode(cfg, transition, args))
	}

	// Open audio and resolve -setup before the TUI takes the terminal
	var actx audio.Context
	var devices []audio.DeviceInfo
	if !cfg.NoMic {
		actx, err = audio.NewContext()
		if err != nil {
			log.Errorf("audio context init error: %v", err)
			fmt.Fprintf(os.Stderr, "Warning: audio unavailable, continuing without microphone: %v\n", err)
			actx = nil
		} else {
			defer actx.Close()
			switch {
			case cfg.Device != "":
				var d *audio.DeviceInfo
				if d, err = audio.FindDevice(actx, cfg.Device); err == nil {
					devices = []audio.DeviceInfo{*d}
				}
			case cfg.Setup:
				devices, err = audio.SelectDevices(actx)
			}
			if err != nil {
				log.Warnf("device selection failed: %v", err)
				fmt.Printf("Warning: device selection failed: %v\n", err)
				fmt.Println("Falling back to default device")
				devices = nil
			}
		}
	}

	dests := destinationsFrom(cfg)
	s := studio.New(studio.Options{
		Width:         cfg.Width,
		Height:        cfg.Height,
		FPS:           cfg.FPS,
		Transition:    transition,
		MeterInterval: cfg.MeterInterval,
		RealtimeAudio: true,
		Destinations:  dests,
	})
	activeStudio = s

	if err := s.AddInput("testpattern", video.NewTestPattern(clock.Real(), cfg.Width, cfg.Height)); err != nil {
		log.Errorf("test pattern: %v", err)
	}
	if cfg.Project != "" {
		if err := s.LoadProject(cfg.Project); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	} else {
		s.Scenes.Add(scene.Composition{ID: "main", Name: "Test pattern", Source: "testpattern"})
	}
	for key, action := range defaultActions {
		if err := s.BindAction(key, action); err != nil {
			log.Warnf("bind %s: %v", key, err)
		}
	}

	ctx, cancel := shutdown.Context(context.Background())
	stopRun = cancel
	runDone = make(chan struct{})
	go func() {
		defer close(runDone)
		if err := s.Run(ctx); err != nil {
			log.Errorf("studio: %v", err)
		}
	}()

	for _, d := range dests {
		if err := s.Publisher.Enable(d.ID); err != nil {
			log.Errorf("publish: %v", err)
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	if actx != nil {
		openMicrophones(ctx, s, actx, devices)
	}

	if cfg.MIDI != "" {
		port, err := midi.Open(cfg.MIDI)
		if err != nil {
			log.Warnf("midi: %v", err)
			fmt.Fprintf(os.Stderr, "Warning: MIDI port unavailable: %v\n", err)
		} else {
			go func() {
				defer port.Close()
				if err := s.Triggers.RunMIDI(ctx, port); err != nil && ctx.Err() == nil {
					log.Warnf("midi: %v", err)
					logToTUI("MIDI: %v", err)
				}
			}()
		}
	}

	go s.ListenHotkeys(ctx, hotkey.New())

	if cfg.Listen != "" {
		apiServer = &http.Server{
			Addr:              cfg.Listen,
			Handler:           control.Router(s),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("control api: %v", err)
				logToTUI("Control API: %v", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		gracefulShutdown()
	}()

	if !cfg.TUI {
		fmt.Printf("onair %s running (%dx%d@%d)", version, cfg.Width, cfg.Height, cfg.FPS)
		if cfg.Listen != "" {
			fmt.Printf(", control API on http://%s", cfg.Listen)
		}
		fmt.Println()
		<-runDone
		gracefulShutdown()
		return
	}

	tuiMu.Lock()
	tuiProgram = NewTUIProgram(s, cfg.Listen)
	tuiMu.Unlock()

	stop := make(chan struct{})
	go feedTUI(s, stop)
	if _, err := tuiProgram.Run(); err != nil {
		log.Errorf("TUI error: %v", err)
	}
	close(stop)
	gracefulShutdown()
}
