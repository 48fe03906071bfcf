package publish

import (
	"encoding/binary"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"time"

	"onair/audio"
	"onair/render"
)

type discard struct{}

func (discard) WriteAudio([]byte) error        { return nil }
func (discard) WriteFrame(*render.Frame) error { return nil }
func (discard) Close() error                   { return nil }

// Discard is a destination that accepts and drops everything. Its status
// counters still move, which is enough to check the pipeline end to end.
func Discard(id string) Destination {
	return Destination{ID: id, Name: "discard", Open: func() (Sink, error) { return discard{}, nil }}
}

// WAVFile records the program audio to path as 16-bit mono PCM.
func WAVFile(id, path string) Destination {
	return Destination{ID: id, Name: "wav " + filepath.Base(path), Open: func() (Sink, error) {
		return createWAV(path)
	}}
}

type wavSink struct {
	f    *os.File
	data uint32
}

func createWAV(path string) (*wavSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := &wavSink{f: f}
	// sizes are zero until Close; audio follows the header
	if _, err := f.Write(w.header()); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *wavSink) header() []byte {
	const bits = audio.BytesPerSample * 8
	h := make([]byte, audio.WAVHeaderSize)
	copy(h[0:], "RIFF")
	binary.LittleEndian.PutUint32(h[4:], 36+w.data)
	copy(h[8:], "WAVEfmt ")
	binary.LittleEndian.PutUint32(h[16:], 16)
	binary.LittleEndian.PutUint16(h[20:], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:], audio.Channels)
	binary.LittleEndian.PutUint32(h[24:], audio.SampleRate)
	binary.LittleEndian.PutUint32(h[28:], audio.SampleRate*audio.Channels*audio.BytesPerSample)
	binary.LittleEndian.PutUint16(h[32:], audio.Channels*audio.BytesPerSample)
	binary.LittleEndian.PutUint16(h[34:], bits)
	copy(h[36:], "data")
	binary.LittleEndian.PutUint32(h[40:], w.data)
	return h
}

func (w *wavSink) WriteAudio(pcm []byte) error {
	n, err := w.f.Write(pcm)
	w.data += uint32(n)
	return err
}

func (w *wavSink) WriteFrame(*render.Frame) error { return nil }

// Close rewrites the header in place with the final sizes.
func (w *wavSink) Close() error {
	if _, err := w.f.WriteAt(w.header(), 0); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// Snapshot writes the program frame to path as PNG at most once per every.
// The file is replaced atomically so a reader never sees a partial image.
func Snapshot(id, path string, every time.Duration) Destination {
	return Destination{ID: id, Name: "snapshot " + filepath.Base(path), Open: func() (Sink, error) {
		return &snapshotSink{path: path, every: every}, nil
	}}
}

type snapshotSink struct {
	path  string
	every time.Duration
	last  time.Time
}

func (s *snapshotSink) WriteAudio([]byte) error { return nil }

func (s *snapshotSink) WriteFrame(f *render.Frame) error {
	if !s.last.IsZero() && f.At.Sub(s.last) < s.every {
		return nil
	}
	s.last = f.At
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".snapshot-*.png")
	if err != nil {
		return err
	}
	if err := writePNG(tmp, f); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func writePNG(w io.Writer, f *render.Frame) error {
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	return enc.Encode(w, f.Image)
}

func (s *snapshotSink) Close() error { return nil }
