//go:build linux

package hotkey

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	evKey      = 1
	keyPress   = 1
	keyRelease = 0
	keyLCtrl   = 29
	keyRCtrl   = 97
	keyLShift  = 42
	keyRShift  = 54
	keyLAlt    = 56
	keyRAlt    = 100
	keySpace   = 57
)

const inputEventSize = 24

// evdev key codes for the keys a combo can name.
var keyNames = func() map[uint16]string {
	m := map[uint16]string{keySpace: "space"}
	for i, c := range "1234567890" {
		m[uint16(2+i)] = string(c)
	}
	rows := []struct {
		first uint16
		keys  string
	}{{16, "qwertyuiop"}, {30, "asdfghjkl"}, {44, "zxcvbnm"}}
	for _, r := range rows {
		for i, c := range r.keys {
			m[r.first+uint16(i)] = string(c)
		}
	}
	for i := 0; i < 10; i++ {
		m[uint16(59+i)] = fmt.Sprintf("f%d", i+1)
	}
	m[87], m[88] = "f11", "f12"
	return m
}()

type linuxListener struct {
	presses chan string

	mu    sync.Mutex
	ids   map[string]bool
	files []*os.File
	stop  chan struct{}
}

func New() Listener {
	return &linuxListener{presses: make(chan string, 8)}
}

func (h *linuxListener) Register(ids []string) error {
	combos, err := parseAll(ids)
	if err != nil {
		return err
	}
	set := make(map[string]bool, len(combos))
	for _, c := range combos {
		set[c.String()] = true
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.ids = set
	if h.stop != nil {
		return nil
	}

	keyboards, err := findKeyboards()
	if err != nil {
		return fmt.Errorf("finding keyboards: %w", err)
	}
	if len(keyboards) == 0 {
		return fmt.Errorf("no keyboard devices found (is user in 'input' group?)")
	}
	h.stop = make(chan struct{})
	for _, path := range keyboards {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		h.files = append(h.files, f)
		go h.readEvents(f, h.stop)
	}
	if len(h.files) == 0 {
		close(h.stop)
		h.stop = nil
		return fmt.Errorf("could not open any keyboard device (run: sudo usermod -aG input $USER, then re-login)")
	}
	return nil
}

func (h *linuxListener) registered(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ids[id]
}

func (h *linuxListener) readEvents(f *os.File, stop chan struct{}) {
	buf := make([]byte, inputEventSize*16)
	var mods Combo

	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := f.Read(buf)
		if err != nil {
			return
		}

		for i := 0; i+inputEventSize <= n; i += inputEventSize {
			evType := binary.LittleEndian.Uint16(buf[i+16:])
			evCode := binary.LittleEndian.Uint16(buf[i+18:])
			evValue := int32(binary.LittleEndian.Uint32(buf[i+20:]))

			if evType != evKey || evValue != keyPress && evValue != keyRelease {
				continue
			}
			pressed := evValue == keyPress

			switch evCode {
			case keyLCtrl, keyRCtrl:
				mods.Ctrl = pressed
			case keyLShift, keyRShift:
				mods.Shift = pressed
			case keyLAlt, keyRAlt:
				mods.Alt = pressed
			default:
				name, ok := keyNames[evCode]
				if !ok || !pressed {
					continue
				}
				c := mods
				c.Key = name
				if id := c.String(); h.registered(id) {
					send(h.presses, id)
				}
			}
		}
	}
}

func (h *linuxListener) Unregister() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ids = nil
	if h.stop == nil {
		return
	}
	close(h.stop)
	h.stop = nil
	for _, f := range h.files {
		f.Close()
	}
	h.files = nil
}

func (h *linuxListener) Presses() <-chan string {
	return h.presses
}

func findKeyboards() ([]string, error) {
	entries, err := os.ReadDir("/dev/input")
	if err != nil {
		return nil, err
	}

	var keyboards []string
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "event") {
			continue
		}
		path := filepath.Join("/dev/input", e.Name())
		if isKeyboard(e.Name()) {
			keyboards = append(keyboards, path)
		}
	}
	return keyboards, nil
}

func isKeyboard(eventName string) bool {
	capsPath := filepath.Join("/sys/class/input", eventName, "device", "capabilities", "key")
	data, err := os.ReadFile(capsPath)
	if err != nil {
		return false
	}
	caps := strings.TrimSpace(string(data))
	return len(caps) > 10
}

func Diagnose() (string, error) {
	keyboards, err := findKeyboards()
	if err != nil {
		return "", fmt.Errorf("cannot scan input devices: %w", err)
	}
	if len(keyboards) == 0 {
		return "", fmt.Errorf("no keyboard devices found (is user in 'input' group?)")
	}

	var opened string
	for _, path := range keyboards {
		f, err := os.Open(path)
		if err == nil {
			f.Close()
			opened = path
			break
		}
	}
	if opened == "" {
		return "", fmt.Errorf("found %d keyboard(s) but cannot open any (run: sudo usermod -aG input $USER)", len(keyboards))
	}

	return fmt.Sprintf("%d keyboard(s) found, opened %s", len(keyboards), opened), nil
}
