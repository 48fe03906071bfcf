package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
)

func TestOpenDeliversSamples(t *testing.T) {
	fc := NewFakeContext(nil, false)
	s, err := Open(context.Background(), fc, nil, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	tracks := s.AudioTracks()
	if len(tracks) != 1 || tracks[0].State() != Live || !tracks[0].Enabled() {
		t.Fatalf("tracks = %+v", tracks)
	}

	var got []int16
	tracks[0].Attach(func(samples []int16) { got = append(got, samples...) })
	fc.Captures()[0].Feed([]int16{1, -2, 300})
	if len(got) != 3 || got[1] != -2 || got[2] != 300 {
		t.Fatalf("got %v", got)
	}

	tracks[0].SetEnabled(false)
	fc.Captures()[0].Feed([]int16{9})
	if len(got) != 3 {
		t.Fatal("disabled track delivered samples")
	}
}

func TestStopReleasesDevice(t *testing.T) {
	fc := NewFakeContext(nil, true)
	s, err := Open(context.Background(), fc, nil, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	capture := fc.Captures()[0]
	if !capture.Running() {
		t.Fatal("capture not started")
	}
	s.Stop()
	s.Stop()
	if capture.Running() {
		t.Fatal("capture still running after Stop")
	}
	if s.AudioTracks()[0].State() != Ended {
		t.Fatal("track should be ended")
	}
}

func TestDeviceLossEndsTrack(t *testing.T) {
	fc := NewFakeContext(nil, false)
	s, _ := Open(context.Background(), fc, nil, DefaultConfig())
	fc.Captures()[0].Lose()
	if s.AudioTracks()[0].State() != Ended {
		t.Fatal("lost device should end the track")
	}
}

func TestOpenPermissionDenied(t *testing.T) {
	fc := NewFakeContext(nil, false)
	fc.Deny(true)
	_, err := Open(context.Background(), fc, nil, DefaultConfig())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v", err)
	}
}

func TestOpenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fc := NewFakeContext(nil, false)
	if _, err := Open(ctx, fc, nil, DefaultConfig()); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if len(fc.Captures()) != 0 {
		t.Fatal("canceled open touched the device")
	}
}

func TestClassify(t *testing.T) {
	if err := classify(errors.New("Access denied by user")); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v", err)
	}
	if err := classify(errors.New("device busy")); errors.Is(err, ErrPermissionDenied) {
		t.Fatal("busy is not a permission error")
	}
	if classify(nil) != nil {
		t.Fatal("nil should stay nil")
	}
}

func TestDownmix(t *testing.T) {
	data := make([]byte, 8)
	for i, v := range []int16{100, 300, -1000, -3000} {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
	}
	got := downmix(data, 2)
	if len(got) != 2 || got[0] != 200 || got[1] != -2000 {
		t.Fatalf("got %v", got)
	}
}

func TestFindDevice(t *testing.T) {
	fc := NewFakeContext(nil, false, DeviceInfo{ID: "a1", Name: "USB Mic"}, DeviceInfo{ID: "b2", Name: "Webcam"})
	d, err := FindDevice(fc, "Webcam")
	if err != nil || d.ID != "b2" {
		t.Fatalf("d=%+v err=%v", d, err)
	}
	if _, err := FindDevice(fc, "nope"); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestIsBluetooth(t *testing.T) {
	if !IsBluetooth("AirPods Pro") || IsBluetooth("Shure MV7") {
		t.Fatal("bluetooth detection")
	}
}

func TestPicker(t *testing.T) {
	p := newPicker([]DeviceInfo{{ID: "a"}, {ID: "b", Default: true}, {ID: "c"}})
	if p.cursor != 1 {
		t.Fatalf("cursor starts at %d, want the default device", p.cursor)
	}
	if got := p.result(); len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("untoggled result = %+v", got)
	}
	p.down()
	p.toggle()
	p.up()
	p.up()
	p.up()
	p.toggle()
	got := p.result()
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Fatalf("toggled result = %+v", got)
	}
}

func TestSelectDevicesSingle(t *testing.T) {
	fc := NewFakeContext(nil, false, DeviceInfo{ID: "a1", Name: "USB Mic"})
	got, err := SelectDevices(fc)
	if err != nil || len(got) != 1 || got[0].ID != "a1" {
		t.Fatalf("got %+v err=%v", got, err)
	}
	fc.Unplug()
	if _, err := SelectDevices(fc); !errors.Is(err, ErrNoDevices) {
		t.Fatalf("err = %v", err)
	}
}
