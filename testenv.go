package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"onair/audio"
	"onair/clock"
	"onair/config"
	"onair/lowerthird"
	"onair/scene"
	"onair/studio"
	"onair/trigger"
	"onair/video"
)

// runTestMode drives a headless studio from stdin on a manual clock, so a
// script sees the same frames on every run. An optional WAV argument feeds
// the microphone source. Each line is one command:
//
//	ADD <id> [name]          composition showing the test pattern
//	KEY <combo>              key trigger
//	NOTE <note> [channel]    MIDI note trigger
//	PREVIEW <id>  SWITCH <id>  CUT <id>
//	TAKE  CUTPREVIEW
//	SHOW <name>[|title]  HIDE
//	ADVANCE <ms>             step the clock, rendering every frame on the way
//	SLEEP <ms>               wall clock pause
//	STATE                    print the program state as JSON
//	SAVE <path>  LOAD <path>
//	QUIT
func runTestMode(cfg config.Config, transition scene.Transition, args []string) int {
	clk := clock.NewManual(time.Now())
	s := studio.New(studio.Options{
		Width:         cfg.Width,
		Height:        cfg.Height,
		FPS:           cfg.FPS,
		Clock:         clk,
		Transition:    transition,
		MeterInterval: cfg.MeterInterval,
		RealtimeAudio: true,
	})
	defer s.Close()
	s.AddInput("testpattern", video.NewTestPattern(clk, cfg.Width, cfg.Height))
	for key, action := range defaultActions {
		s.BindAction(key, action)
	}

	if len(args) > 0 {
		actx, err := audio.NewFakeContextFromWAV(args[0], true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
			return 1
		}
		if err := <-s.OpenMicrophone(context.Background(), actx, nil, "mic"); err != nil {
			fmt.Fprintf(os.Stderr, "Error opening microphone: %v\n", err)
			return 1
		}
	}

	sc := &script{s: s, clk: clk, out: os.Stdout, program: s.State().ActiveID}
	if err := sc.run(os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

type script struct {
	s       *studio.Studio
	clk     *clock.Manual
	out     io.Writer
	program string
}

func (sc *script) run(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cmd, arg, _ := strings.Cut(line, " ")
		if strings.ToUpper(cmd) == "QUIT" {
			return nil
		}
		if err := sc.exec(strings.ToUpper(cmd), strings.TrimSpace(arg)); err != nil {
			fmt.Fprintf(sc.out, "ERR %s: %v\n", cmd, err)
		}
		sc.reportProgram()
	}
	return scanner.Err()
}

func (sc *script) exec(cmd, arg string) error {
	s := sc.s
	switch cmd {
	case "ADD":
		id, name, _ := strings.Cut(arg, " ")
		_, err := s.Scenes.Add(scene.Composition{ID: id, Name: name, Source: "testpattern"})
		return err
	case "KEY":
		fmt.Fprintf(sc.out, "KEY %s consumed=%t\n", arg, s.Triggers.Dispatch(trigger.Key(arg, "script")))
	case "NOTE":
		fields := strings.Fields(arg)
		if len(fields) == 0 {
			return fmt.Errorf("usage: NOTE <note> [channel]")
		}
		note, err := strconv.Atoi(fields[0])
		if err != nil {
			return err
		}
		ch := 0
		if len(fields) > 1 {
			if ch, err = strconv.Atoi(fields[1]); err != nil {
				return err
			}
		}
		fmt.Fprintf(sc.out, "NOTE %d/%d consumed=%t\n", note, ch, s.Triggers.Dispatch(trigger.Note(note, ch, "script")))
	case "PREVIEW":
		return s.Scenes.SetPreview(arg)
	case "SWITCH":
		return s.Scenes.SwitchTo(arg, false)
	case "CUT":
		return s.Scenes.SwitchTo(arg, true)
	case "TAKE":
		return s.Take()
	case "CUTPREVIEW":
		return s.Cut()
	case "SHOW":
		name, title, _ := strings.Cut(arg, "|")
		return s.LowerThird.Show(lowerthird.Payload{Name: name, Title: title})
	case "HIDE":
		s.LowerThird.Hide()
	case "ADVANCE":
		ms, err := strconv.Atoi(arg)
		if err != nil {
			return err
		}
		sc.advance(time.Duration(ms) * time.Millisecond)
	case "SLEEP":
		ms, err := strconv.Atoi(arg)
		if err != nil {
			return err
		}
		time.Sleep(time.Duration(ms) * time.Millisecond)
	case "STATE":
		return sc.printState()
	case "SAVE":
		return s.SaveProject(arg)
	case "LOAD":
		return s.LoadProject(arg)
	default:
		return fmt.Errorf("unknown command")
	}
	return nil
}

// advance steps the clock one frame interval at a time and renders each
// frame, so transitions and lower thirds progress as they would live.
func (sc *script) advance(d time.Duration) {
	step := sc.s.Render.Interval()
	for d > 0 {
		if d < step {
			step = d
		}
		sc.s.Render.Tick(sc.clk.Advance(step))
		d -= step
		sc.reportProgram()
	}
}

func (sc *script) reportProgram() {
	if id := sc.s.Scenes.State().ActiveID; id != sc.program {
		sc.program = id
		fmt.Fprintf(sc.out, "PROGRAM %s\n", id)
	}
}

type scriptState struct {
	Program    string  `json:"program"`
	Preview    string  `json:"preview"`
	Transition float64 `json:"transition"`
	LowerThird string  `json:"lower_third"`
	Frames     uint64  `json:"frames"`
	Sources    int     `json:"sources"`
}

func (sc *script) printState() error {
	st := sc.s.State()
	out := scriptState{
		Program:    st.ActiveID,
		Preview:    st.PreviewID,
		Transition: -1,
		LowerThird: string(st.LowerThird.Phase),
		Frames:     st.Render.Frames,
		Sources:    len(st.Audio.Sources),
	}
	if st.Transitioning {
		out.Transition = st.Transition.Progress
	}
	b, err := json.Marshal(out)
	if err != nil {
		return err
	}
	fmt.Fprintf(sc.out, "STATE %s\n", b)
	return nil
}
