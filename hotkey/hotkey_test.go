package hotkey

import (
	"errors"
	"testing"
)

func TestParseNormalizes(t *testing.T) {
	cases := map[string]string{
		"F1":               "f1",
		" Shift+Ctrl+1 ":   "ctrl+shift+1",
		"alt+ctrl+space":   "ctrl+alt+space",
		"control+option+k": "ctrl+alt+k",
		"f12":              "f12",
	}
	for in, want := range cases {
		c, err := Parse(in)
		if err != nil {
			t.Errorf("Parse(%q): %v", in, err)
			continue
		}
		if c.String() != want {
			t.Errorf("Parse(%q) = %q, want %q", in, c.String(), want)
		}
	}
}

func TestParseRejects(t *testing.T) {
	for _, in := range []string{"", "ctrl+", "meta+a", "f13", "f01", "ctrl+enter", "ab"} {
		if _, err := Parse(in); !errors.Is(err, ErrBadCombo) {
			t.Errorf("Parse(%q) err = %v", in, err)
		}
	}
}

func TestNormalizeFallsBack(t *testing.T) {
	if got := Normalize(" Ctrl+Shift+A"); got != "ctrl+shift+a" {
		t.Fatalf("got %q", got)
	}
	if got := Normalize(" PageUp "); got != "pageup" {
		t.Fatalf("got %q", got)
	}
}

func TestFakeDeliversRegisteredOnly(t *testing.T) {
	f := NewFake()
	if err := f.Register([]string{"F1", "ctrl+2", "f1"}); err != nil {
		t.Fatal(err)
	}
	if !f.Press("f1") {
		t.Fatal("f1 not delivered")
	}
	if got := <-f.Presses(); got != "f1" {
		t.Fatalf("got %q", got)
	}
	if f.Press("f3") {
		t.Fatal("unregistered key delivered")
	}
	f.Unregister()
	if f.Press("ctrl+2") {
		t.Fatal("delivered after Unregister")
	}
	if err := f.Register([]string{"hyper+x"}); err == nil {
		t.Fatal("want parse error")
	}
}
