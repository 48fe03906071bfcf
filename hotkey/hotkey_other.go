//go:build !linux

package hotkey

import (
	"fmt"
	"sync"

	"golang.design/x/hotkey"
)

var fkeys = [...]hotkey.Key{
	hotkey.KeyF1, hotkey.KeyF2, hotkey.KeyF3, hotkey.KeyF4, hotkey.KeyF5, hotkey.KeyF6,
	hotkey.KeyF7, hotkey.KeyF8, hotkey.KeyF9, hotkey.KeyF10, hotkey.KeyF11, hotkey.KeyF12,
}

var letters = [...]hotkey.Key{
	hotkey.KeyA, hotkey.KeyB, hotkey.KeyC, hotkey.KeyD, hotkey.KeyE, hotkey.KeyF, hotkey.KeyG,
	hotkey.KeyH, hotkey.KeyI, hotkey.KeyJ, hotkey.KeyK, hotkey.KeyL, hotkey.KeyM, hotkey.KeyN,
	hotkey.KeyO, hotkey.KeyP, hotkey.KeyQ, hotkey.KeyR, hotkey.KeyS, hotkey.KeyT, hotkey.KeyU,
	hotkey.KeyV, hotkey.KeyW, hotkey.KeyX, hotkey.KeyY, hotkey.KeyZ,
}

var digits = [...]hotkey.Key{
	hotkey.Key0, hotkey.Key1, hotkey.Key2, hotkey.Key3, hotkey.Key4,
	hotkey.Key5, hotkey.Key6, hotkey.Key7, hotkey.Key8, hotkey.Key9,
}

func toX(c Combo) (*hotkey.Hotkey, error) {
	if c.Alt {
		return nil, fmt.Errorf("%w: alt is not supported on this platform", ErrBadCombo)
	}
	var mods []hotkey.Modifier
	if c.Ctrl {
		mods = append(mods, hotkey.ModCtrl)
	}
	if c.Shift {
		mods = append(mods, hotkey.ModShift)
	}
	var key hotkey.Key
	switch {
	case c.Key == "space":
		key = hotkey.KeySpace
	case len(c.Key) == 1 && c.Key[0] >= 'a':
		key = letters[c.Key[0]-'a']
	case len(c.Key) == 1:
		key = digits[c.Key[0]-'0']
	default:
		n, _ := fnumber(c.Key)
		key = fkeys[n-1]
	}
	return hotkey.New(mods, key), nil
}

type xListener struct {
	presses chan string

	mu   sync.Mutex
	keys []*hotkey.Hotkey
	stop chan struct{}
}

func New() Listener {
	return &xListener{presses: make(chan string, 8)}
}

func (h *xListener) Register(ids []string) error {
	combos, err := parseAll(ids)
	if err != nil {
		return err
	}
	h.Unregister()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.stop = make(chan struct{})
	for _, c := range combos {
		hk, err := toX(c)
		if err != nil {
			return err
		}
		if err := hk.Register(); err != nil {
			return fmt.Errorf("register %s: %w", c, err)
		}
		h.keys = append(h.keys, hk)
		go h.forward(hk, c.String(), h.stop)
	}
	return nil
}

func (h *xListener) forward(hk *hotkey.Hotkey, id string, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-hk.Keydown():
			send(h.presses, id)
		}
	}
}

func (h *xListener) Unregister() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stop != nil {
		close(h.stop)
		h.stop = nil
	}
	for _, hk := range h.keys {
		hk.Unregister()
	}
	h.keys = nil
}

func (h *xListener) Presses() <-chan string {
	return h.presses
}

func Diagnose() (string, error) {
	return "global hotkey support available", nil
}
