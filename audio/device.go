package audio

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/term"
)

// picker holds the state of the interactive device list.
type picker struct {
	devices  []DeviceInfo
	cursor   int
	selected []bool
}

func newPicker(devices []DeviceInfo) *picker {
	p := &picker{devices: devices, selected: make([]bool, len(devices))}
	for i, d := range devices {
		if d.Default {
			p.cursor = i
			break
		}
	}
	return p
}

func (p *picker) up() {
	if p.cursor > 0 {
		p.cursor--
	}
}

func (p *picker) down() {
	if p.cursor < len(p.devices)-1 {
		p.cursor++
	}
}

func (p *picker) toggle() { p.selected[p.cursor] = !p.selected[p.cursor] }

// result is every toggled device in list order, or the one under the
// cursor when nothing was toggled.
func (p *picker) result() []DeviceInfo {
	var out []DeviceInfo
	for i, on := range p.selected {
		if on {
			out = append(out, p.devices[i])
		}
	}
	if len(out) == 0 {
		out = append(out, p.devices[p.cursor])
	}
	return out
}

func (p *picker) render() {
	fmt.Print("\r\x1b[J")
	fmt.Print("Select capture devices (↑/↓ move, Space toggles, Enter confirms):\r\n\r\n")
	for i, d := range p.devices {
		box := "[ ]"
		if p.selected[i] {
			box = "[x]"
		}
		tags := ""
		if d.Default {
			tags += " \x1b[2m(default)\x1b[0m"
		}
		if IsBluetooth(d.Name) {
			tags += " \x1b[33m[⚠ Bluetooth latency, may drift from video]\x1b[0m"
		}
		if i == p.cursor {
			fmt.Printf("  \x1b[1;36m▶ %s %s\x1b[0m%s\r\n", box, d.Name, tags)
		} else {
			fmt.Printf("    %s %s%s\r\n", box, d.Name, tags)
		}
	}
}

// SelectDevices presents an interactive picker and returns the chosen
// capture devices. A single available device is returned without prompting.
// Ctrl+C returns context.Canceled.
func SelectDevices(ctx Context) ([]DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	switch len(devices) {
	case 0:
		return nil, ErrNoDevices
	case 1:
		return devices, nil
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	p := newPicker(devices)
	p.render()

	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}

		if n == 1 {
			switch buf[0] {
			case 13: // Enter
				fmt.Print("\r\n")
				return p.result(), nil
			case 3: // Ctrl+C
				fmt.Print("\r\n")
				return nil, context.Canceled
			case ' ':
				p.toggle()
			case 'j':
				p.down()
			case 'k':
				p.up()
			}
		} else if n == 3 && buf[0] == 0x1b && buf[1] == '[' {
			switch buf[2] {
			case 'A':
				p.up()
			case 'B':
				p.down()
			}
		}

		fmt.Printf("\x1b[%dA", len(devices)+2)
		p.render()
	}
}
