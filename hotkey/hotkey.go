// Package hotkey listens for global key combinations and reports them by key
// id, the normalised text form such as "ctrl+shift+1" or "f5".
package hotkey

import (
	"errors"
	"fmt"
	"strings"
)

var ErrBadCombo = errors.New("hotkey: invalid key combination")

type Listener interface {
	// Register starts watching the given key ids, replacing any earlier set.
	Register(ids []string) error
	Unregister()
	// Presses delivers the key id of each registered combination pressed.
	Presses() <-chan string
}

// Combo is a parsed key id.
type Combo struct {
	Ctrl, Shift, Alt bool
	Key              string // a-z, 0-9, f1-f12 or space
}

// Parse reads a key id. Modifiers may come in any order and case.
func Parse(id string) (Combo, error) {
	var c Combo
	parts := strings.Split(strings.ToLower(strings.TrimSpace(id)), "+")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if i < len(parts)-1 {
			switch p {
			case "ctrl", "control":
				c.Ctrl = true
			case "shift":
				c.Shift = true
			case "alt", "option":
				c.Alt = true
			default:
				return Combo{}, fmt.Errorf("%w: modifier %q in %q", ErrBadCombo, p, id)
			}
			continue
		}
		if !validKey(p) {
			return Combo{}, fmt.Errorf("%w: key %q in %q", ErrBadCombo, p, id)
		}
		c.Key = p
	}
	return c, nil
}

func validKey(k string) bool {
	if k == "space" {
		return true
	}
	if len(k) == 1 {
		return k[0] >= 'a' && k[0] <= 'z' || k[0] >= '0' && k[0] <= '9'
	}
	_, ok := fnumber(k)
	return ok
}

// fnumber returns n for "fn" with n in 1..12.
func fnumber(k string) (int, bool) {
	var n int
	if _, err := fmt.Sscanf(k, "f%d", &n); err != nil || n < 1 || n > 12 || fmt.Sprintf("f%d", n) != k {
		return 0, false
	}
	return n, true
}

// String is the canonical key id: modifiers in ctrl, shift, alt order.
func (c Combo) String() string {
	var b strings.Builder
	if c.Ctrl {
		b.WriteString("ctrl+")
	}
	if c.Shift {
		b.WriteString("shift+")
	}
	if c.Alt {
		b.WriteString("alt+")
	}
	b.WriteString(c.Key)
	return b.String()
}

// Normalize returns the canonical form of id, or id lowercased when it does
// not parse.
func Normalize(id string) string {
	c, err := Parse(id)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(id))
	}
	return c.String()
}

func parseAll(ids []string) ([]Combo, error) {
	out := make([]Combo, 0, len(ids))
	seen := map[string]bool{}
	for _, id := range ids {
		c, err := Parse(id)
		if err != nil {
			return nil, err
		}
		if seen[c.String()] {
			continue
		}
		seen[c.String()] = true
		out = append(out, c)
	}
	return out, nil
}

func send(ch chan string, id string) {
	select {
	case ch <- id:
	default:
	}
}
