package doctor

import (
	"testing"
	"time"

	"onair/mixer"
)

func TestListenKeepsLoudestReading(t *testing.T) {
	c := make(chan mixer.Levels, 4)
	c <- mixer.Levels{Readings: []mixer.Level{{SourceID: "mic", Peak: 20}}}
	c <- mixer.Levels{Readings: []mixer.Level{{SourceID: "mic", Peak: 70}, {SourceID: "other", Peak: 99}}}
	c <- mixer.Levels{Readings: []mixer.Level{{SourceID: "mic", Peak: 40}}}

	if got := listen(c, 50*time.Millisecond); got != 70 {
		t.Errorf("peak = %v, want 70", got)
	}
}

func TestListenSilent(t *testing.T) {
	if got := listen(make(chan mixer.Levels), 10*time.Millisecond); got != 0 {
		t.Errorf("peak = %v, want 0", got)
	}
}
