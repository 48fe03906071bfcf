// Package midi reads note-on events from a raw MIDI byte stream, such as an
// ALSA rawmidi device (/dev/snd/midiC1D0) or a recorded capture.
package midi

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Event is a note-on with non-zero velocity. Channel is 0-15 as on the wire.
type Event struct {
	Note     int `json:"note"`
	Channel  int `json:"channel"`
	Velocity int `json:"velocity"`
}

type Reader struct {
	r      *bufio.Reader
	status byte // running status, 0 when none
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// dataLen is the number of data bytes following a channel status byte.
func dataLen(status byte) int {
	switch status & 0xf0 {
	case 0xc0, 0xd0:
		return 1
	}
	return 2
}

// Next returns the next note-on. Other messages, note-ons with velocity 0,
// system exclusive blocks and real-time bytes are skipped.
func (r *Reader) Next() (Event, error) {
	for {
		b, err := r.r.ReadByte()
		if err != nil {
			return Event{}, err
		}
		switch {
		case b >= 0xf8:
			// real-time bytes may appear anywhere and do not cancel running status
			continue
		case b == 0xf0:
			if err := r.skipSysex(); err != nil {
				return Event{}, err
			}
			r.status = 0
			continue
		case b >= 0xf0:
			// system common messages cancel running status
			r.status = 0
			continue
		case b >= 0x80:
			r.status = b
			b, err = r.data()
			if err != nil {
				return Event{}, err
			}
		}
		if r.status == 0 {
			continue
		}
		data := [2]byte{b, 0}
		if dataLen(r.status) == 2 {
			if data[1], err = r.data(); err != nil {
				return Event{}, err
			}
		}
		if r.status&0xf0 == 0x90 && data[1] > 0 {
			return Event{Note: int(data[0]), Channel: int(r.status & 0x0f), Velocity: int(data[1])}, nil
		}
	}
}

// data reads one data byte, skipping interleaved real-time bytes.
func (r *Reader) data() (byte, error) {
	for {
		b, err := r.r.ReadByte()
		if err != nil || b < 0xf8 {
			return b, err
		}
	}
}

func (r *Reader) skipSysex() error {
	for {
		b, err := r.r.ReadByte()
		if err != nil {
			return err
		}
		if b == 0xf7 {
			return nil
		}
	}
}

// Listen calls fn for every note-on until r ends or ctx is done. A closed
// device ends the stream with io.EOF, which is returned as nil.
func Listen(ctx context.Context, r io.Reader, fn func(Event)) error {
	mr := NewReader(r)
	for ctx.Err() == nil {
		ev, err := mr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
		fn(ev)
	}
	return ctx.Err()
}

// Ports lists raw MIDI devices.
func Ports() ([]string, error) {
	ports, err := filepath.Glob("/dev/snd/midiC*D*")
	if err != nil {
		return nil, err
	}
	sort.Strings(ports)
	return ports, nil
}

func Open(path string) (io.ReadCloser, error) {
	return os.Open(path)
}
