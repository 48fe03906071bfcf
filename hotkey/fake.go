package hotkey

import "sync"

type FakeListener struct {
	mu      sync.Mutex
	ids     map[string]bool
	presses chan string
}

func NewFake() *FakeListener {
	return &FakeListener{ids: map[string]bool{}, presses: make(chan string, 16)}
}

func (f *FakeListener) Register(ids []string) error {
	combos, err := parseAll(ids)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = map[string]bool{}
	for _, c := range combos {
		f.ids[c.String()] = true
	}
	return nil
}

func (f *FakeListener) Unregister() {
	f.mu.Lock()
	f.ids = map[string]bool{}
	f.mu.Unlock()
}

func (f *FakeListener) Presses() <-chan string { return f.presses }

// Press simulates a key press. Unregistered combinations are ignored like a
// real listener would, and Press reports whether it was delivered.
func (f *FakeListener) Press(id string) bool {
	id = Normalize(id)
	f.mu.Lock()
	ok := f.ids[id]
	f.mu.Unlock()
	if ok {
		send(f.presses, id)
	}
	return ok
}
