package doctor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"onair/audio"
	"onair/hotkey"
	"onair/log"
	"onair/midi"
	"onair/mixer"
	"onair/shutdown"
)

const testKey = "ctrl+shift+space"

// Run executes interactive diagnostic checks and returns an exit code (0=all pass, 1=any fail).
// midiPort names the raw MIDI device to test; empty picks the first one found.
func Run(midiPort string) int {
	resetTerminal()
	setupInterruptHandler()

	fmt.Println("onair doctor - interactive system diagnostics")
	fmt.Println("==============================================")

	allPass := true

	if !checkLogDir() {
		allPass = false
	}
	if !checkHotkey() {
		allPass = false
	}
	if !checkMicrophone() {
		allPass = false
	}
	if !checkMIDI(midiPort) {
		allPass = false
	}

	fmt.Println()
	if allPass {
		fmt.Println("All checks passed!")
	} else {
		fmt.Println("Some checks failed. See details above.")
	}

	if allPass {
		return 0
	}
	return 1
}

func setupInterruptHandler() {
	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	go func() {
		<-sigChan
		resetTerminal()
		println("\nInterrupted")
		os.Exit(1)
	}()
}

func checkLogDir() bool {
	fmt.Println()
	fmt.Println("[1/4] Log directory")

	if err := log.EnsureDir(); err != nil {
		fmt.Printf("  FAIL: cannot create %s: %v\n", log.Dir(), err)
		return false
	}
	f, err := os.CreateTemp(log.Dir(), "doctor-*")
	if err != nil {
		fmt.Printf("  FAIL: %s is not writable: %v\n", log.Dir(), err)
		return false
	}
	f.Close()
	os.Remove(f.Name())
	fmt.Printf("  PASS: %s\n", log.Dir())
	return true
}

func checkHotkey() bool {
	fmt.Println()
	fmt.Println("[2/4] Hotkey detection")

	info, err := hotkey.Diagnose()
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	fmt.Printf("  %s\n", info)
	fmt.Println("Press Ctrl+Shift+Space...")

	hk := hotkey.New()
	if err := hk.Register([]string{testKey}); err != nil {
		fmt.Printf("  FAIL: could not register hotkey: %v\n", err)
		return false
	}
	defer hk.Unregister()

	select {
	case <-hk.Presses():
		fmt.Println("  PASS: hotkey detected")
		// Reset terminal after hotkey - it may leave terminal in raw mode
		resetTerminal()
		return true
	case <-time.After(10 * time.Second):
		fmt.Println("  FAIL: timeout waiting for hotkey")
		return false
	}
}

func checkMicrophone() bool {
	fmt.Println()
	fmt.Println("[3/4] Microphone and metering")

	reader := bufio.NewReader(os.Stdin)

	actx, err := audio.NewContext()
	if err != nil {
		fmt.Printf("  FAIL: cannot connect to audio: %v\n", err)
		return false
	}
	defer actx.Close()

	devices, err := actx.Devices()
	if err != nil {
		fmt.Printf("  FAIL: cannot list devices: %v\n", err)
		return false
	}
	if len(devices) == 0 {
		fmt.Println("  FAIL: no capture devices found")
		return false
	}

	var device *audio.DeviceInfo
	if len(devices) == 1 {
		device = &devices[0]
		fmt.Printf("Using device: %s\n", device.Name)
	} else {
		fmt.Println()
		fmt.Println("Select input device:")
		for i, d := range devices {
			bt := ""
			if audio.IsBluetooth(d.Name) {
				bt = " (Bluetooth)"
			}
			fmt.Printf("  %d. %s%s\n", i+1, d.Name, bt)
		}
		fmt.Printf("Choice [1-%d]: ", len(devices))

		devChoice, _ := reader.ReadString('\n')
		devChoice = strings.TrimSpace(devChoice)
		idx := 0
		if devChoice != "" {
			fmt.Sscanf(devChoice, "%d", &idx)
			idx--
		}
		if idx < 0 || idx >= len(devices) {
			fmt.Printf("  FAIL: invalid choice\n")
			return false
		}
		device = &devices[idx]
		fmt.Printf("Selected: %s\n", device.Name)
	}

	fmt.Println()
	fmt.Print("Press Enter and speak for 3 seconds...")
	reader.ReadString('\n')

	g := mixer.NewGraph()
	defer g.Close()
	levels := g.SubscribeLevels()
	defer levels.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := <-g.OpenDevice(ctx, actx, device, "mic", device.Name); err != nil {
		fmt.Printf("  FAIL: capture error: %v\n", err)
		return false
	}

	peak := listen(levels.C(), 3*time.Second)
	fmt.Printf("  Peak level %.0f/100\n", peak)
	if peak < 5 {
		fmt.Println("  FAIL: no signal captured")
		return false
	}
	fmt.Println("  PASS: microphone is live")
	return true
}

// listen prints a running meter while collecting the loudest reading.
func listen(c <-chan mixer.Levels, d time.Duration) float64 {
	var peak float64
	deadline := time.After(d)
	fmt.Print("  ")
	for {
		select {
		case lv := <-c:
			if r, ok := lv.Find("mic"); ok && r.Peak > peak {
				peak = r.Peak
				fmt.Print("▮")
			}
		case <-deadline:
			fmt.Println()
			return peak
		}
	}
}

func checkMIDI(port string) bool {
	fmt.Println()
	fmt.Println("[4/4] MIDI triggers")

	if port == "" {
		ports, err := midi.Ports()
		if err != nil {
			fmt.Printf("  FAIL: cannot list MIDI ports: %v\n", err)
			return false
		}
		if len(ports) == 0 {
			fmt.Println("  SKIP: no MIDI ports found")
			return true
		}
		port = ports[0]
	}

	r, err := midi.Open(port)
	if err != nil {
		fmt.Printf("  FAIL: cannot open %s: %v\n", port, err)
		return false
	}
	defer r.Close()

	fmt.Printf("Press a key or pad on the controller at %s...\n", port)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	got := make(chan midi.Event, 1)
	go midi.Listen(ctx, r, func(ev midi.Event) {
		select {
		case got <- ev:
		default:
		}
	})

	select {
	case ev := <-got:
		fmt.Printf("  PASS: note %d on channel %d\n", ev.Note, ev.Channel)
		return true
	case <-ctx.Done():
		fmt.Println("  FAIL: timeout waiting for a note")
		return false
	}
}
