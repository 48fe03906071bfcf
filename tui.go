package main

import (
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/lucasb-eyer/go-colorful"

	"onair/lowerthird"
	"onair/mixer"
	"onair/render"
	"onair/studio"
	"onair/trigger"
)

// TUI message types
type StateMsg struct{ State studio.State }
type LevelsMsg struct{ Levels mixer.Levels }
type FrameMsg struct{ Frame *render.Frame }
type LogMsg struct{ Text string }
type tickMsg time.Time

type tuiModel struct {
	s             *studio.Studio
	frame         int
	width, height int
	state         studio.State
	levels        mixer.Levels
	program       *render.Frame
	lastLog       string
	listen        string // control API address, empty when disabled
}

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
)

const (
	thumbWidth  = 48 // terminal cells
	thumbHeight = 14 // cells; each holds two pixel rows
	meterWidth  = 24
)

var (
	onAirStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("231")).Background(lipgloss.Color("160")).Bold(true)
	previewStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("16")).Background(lipgloss.Color("40")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	textStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	headStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("249")).Bold(true)

	meterColors = []string{"40", "40", "40", "40", "40", "40", "40", "40", "40", "40", "40", "40", "40", "40", "40", "40", "226", "226", "226", "226", "208", "208", "196", "196"}
	meterStyles [meterWidth]lipgloss.Style
	meterOff    = lipgloss.NewStyle().Foreground(lipgloss.Color("236"))
)

func init() {
	for i, c := range meterColors {
		meterStyles[i] = lipgloss.NewStyle().Foreground(lipgloss.Color(c))
	}
}

// pixelStyles caches half-block styles by quantized fg/bg color pair. It is
// only touched from View, which bubbletea calls on one goroutine.
var pixelStyles = map[uint32]lipgloss.Style{}

func NewTUIProgram(s *studio.Studio, listen string) *tea.Program {
	m := tuiModel{s: s, state: s.State(), listen: listen}
	return tea.NewProgram(m, tea.WithAltScreen())
}

func tuiTick() tea.Cmd {
	return tea.Tick(60*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		return m, m.handleKey(msg.String())

	case tickMsg:
		m.frame++
		if f, ok := m.s.Surface.Latest(); ok {
			m.program = f
		}
		return m, tuiTick()

	case StateMsg:
		m.state = msg.State

	case LevelsMsg:
		m.levels = msg.Levels

	case FrameMsg:
		m.program = msg.Frame

	case LogMsg:
		m.lastLog = msg.Text
	}
	return m, nil
}

// handleKey maps monitor keys onto studio operations. Keys the monitor does
// not use go through the trigger dispatcher, so compositions bound to them
// switch from the terminal too.
func (m tuiModel) handleKey(key string) tea.Cmd {
	var err error
	switch key {
	case "ctrl+c", "q":
		return tea.Quit
	case "enter", "t":
		err = m.s.Take()
	case "c":
		err = m.s.Cut()
	case "h":
		m.s.LowerThird.Hide()
	case "x":
		m.s.Scenes.CancelAutoAdvance()
	case "1", "2", "3", "4", "5", "6", "7", "8", "9":
		i := int(key[0] - '1')
		if i < len(m.state.Compositions) {
			err = m.s.Scenes.SetPreview(m.state.Compositions[i].ID)
		}
	default:
		m.s.Triggers.Dispatch(trigger.Key(key, "tui"))
	}
	if err != nil {
		text := err.Error()
		return func() tea.Msg { return LogMsg{Text: text} }
	}
	return nil
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	st := m.state

	var left []string
	left = append(left, renderThumb(m.program))
	left = append(left, "")
	left = append(left, m.programLine())
	left = append(left, m.previewLine())
	if line := m.transitionLine(); line != "" {
		left = append(left, line)
	}
	if line := m.autoLine(); line != "" {
		left = append(left, line)
	}
	if line := lowerThirdLine(st.LowerThird); line != "" {
		left = append(left, line)
	}

	var right []string
	right = append(right, headStyle.Render("COMPOSITIONS"))
	for i, c := range st.Compositions {
		mark := "  "
		switch c.ID {
		case st.ActiveID:
			mark = errStyle.Render("● ")
		case st.PreviewID:
			mark = previewStyle.Render("○") + " "
		}
		name := c.Name
		if name == "" {
			name = c.ID
		}
		var bind []string
		if c.Hotkey != "" {
			bind = append(bind, c.Hotkey)
		}
		if c.MIDI != nil {
			bind = append(bind, fmt.Sprintf("note %d/%d", c.MIDI.Note, c.MIDI.Channel))
		}
		line := fmt.Sprintf("%s%s %s%s", mark, dimStyle.Render(fmt.Sprintf("%d.", i+1)), swatch(c.Color), textStyle.Render(name))
		if len(bind) > 0 {
			line += " " + dimStyle.Render("["+strings.Join(bind, ", ")+"]")
		}
		right = append(right, line)
	}
	if len(st.Compositions) == 0 {
		right = append(right, dimStyle.Render("  none yet"))
	}

	right = append(right, "", headStyle.Render("AUDIO"))
	if len(st.Audio.Sources) == 0 {
		right = append(right, dimStyle.Render("  no sources"))
	}
	for _, src := range st.Audio.Sources {
		lv, _ := m.levels.Find(src.ID)
		label := src.Label
		if label == "" {
			label = src.ID
		}
		line := fmt.Sprintf("  %-12.12s %s", label, renderMeter(lv.Peak))
		switch {
		case !src.Active:
			line += " " + dimStyle.Render("ended")
		case src.Silent:
			line += " " + warnStyle.Render("⚠ silent")
		}
		right = append(right, line)
	}
	right = append(right, dimStyle.Render(fmt.Sprintf("  master %.2f", st.Audio.Master)))

	if len(st.Publish) > 0 {
		right = append(right, "", headStyle.Render("OUTPUTS"))
		for _, p := range st.Publish {
			line := fmt.Sprintf("  %-10s %s", p.Destination, p.State)
			if p.Error != "" {
				line += " " + errStyle.Render(p.Error)
			}
			right = append(right, line)
		}
	}

	right = append(right, "", dimStyle.Render(fmt.Sprintf("frames %d  skipped %d", st.Render.Frames, st.Render.Skipped)))
	if m.listen != "" {
		right = append(right, dimStyle.Render("api http://"+m.listen))
	}
	if st.Notice != nil {
		right = append(right, warnStyle.Render(wrapText(st.Notice.Error(), 52)))
	}
	if m.lastLog != "" {
		right = append(right, errStyle.Render(wrapText(m.lastLog, 52)))
	}

	panels := lipgloss.JoinHorizontal(lipgloss.Top,
		lipgloss.NewStyle().Width(thumbWidth+2).Render(strings.Join(left, "\n")),
		lipgloss.NewStyle().PaddingLeft(2).Render(strings.Join(right, "\n")),
	)
	help := dimStyle.Render("1-9 preview · enter take · c cut · h hide lower third · x stop auto · q quit")
	return panels + "\n\n" + help
}

func (m tuiModel) programLine() string {
	st := m.state
	c, ok := st.Find(st.ActiveID)
	if !ok {
		return dimStyle.Render("PGM  -")
	}
	name := c.Name
	if name == "" {
		name = c.ID
	}
	tag := dimStyle.Render(" ON AIR ")
	if m.frame%16 < 12 {
		tag = onAirStyle.Render(" ON AIR ")
	}
	return tag + " " + textStyle.Render(name)
}

func (m tuiModel) previewLine() string {
	st := m.state
	c, ok := st.Find(st.PreviewID)
	if !ok {
		return dimStyle.Render(" PVW    -")
	}
	name := c.Name
	if name == "" {
		name = c.ID
	}
	return previewStyle.Render("  PVW   ") + " " + textStyle.Render(name)
}

func (m tuiModel) transitionLine() string {
	st := m.state
	if !st.Transitioning {
		return dimStyle.Render(fmt.Sprintf("%s %v", st.Settings.Kind, st.Settings.Duration))
	}
	const width = 30
	n := int(st.Transition.Progress*width + 0.5)
	bar := strings.Repeat("█", n) + strings.Repeat("░", width-n)
	return fmt.Sprintf("%s %s %s", st.Transition.Kind, warnStyle.Render(bar), dimStyle.Render(st.Transition.To))
}

func (m tuiModel) autoLine() string {
	a := m.state.AutoAdvance
	if a == nil {
		return ""
	}
	return dimStyle.Render(fmt.Sprintf("auto → %s in %.1fs", a.Target, a.Remaining.Seconds()))
}

func lowerThirdLine(lt lowerthird.State) string {
	if !lt.Showing() || lt.Payload == nil {
		return ""
	}
	text := lt.Payload.Name
	if lt.Payload.Title != "" {
		text += " · " + lt.Payload.Title
	}
	return fmt.Sprintf("%s %s", previewStyle.Render(" L3 "), textStyle.Render(text)) + dimStyle.Render(" "+string(lt.Phase))
}

// swatch renders a composition's color tag, or nothing when it has none or
// it does not parse.
func swatch(hex string) string {
	if hex == "" {
		return ""
	}
	c, err := colorful.Hex(hex)
	if err != nil {
		return ""
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(c.Clamped().Hex())).Render("■") + " "
}

func renderMeter(peak float64) string {
	n := int(peak / 100 * meterWidth)
	var sb strings.Builder
	for i := 0; i < meterWidth; i++ {
		if i < n {
			sb.WriteString(meterStyles[i].Render("▮"))
		} else {
			sb.WriteString(meterOff.Render("▯"))
		}
	}
	return sb.String()
}

// renderThumb draws the program frame with half blocks: the foreground is
// the upper pixel, the background the lower one.
func renderThumb(f *render.Frame) string {
	if f == nil || f.Image == nil {
		blank := strings.Repeat(" ", thumbWidth)
		lines := make([]string, thumbHeight)
		for i := range lines {
			lines[i] = blank
		}
		lines[thumbHeight/2] = lipgloss.PlaceHorizontal(thumbWidth, lipgloss.Center, dimStyle.Render("no signal"))
		return strings.Join(lines, "\n")
	}
	b := f.Image.Bounds()
	fw, fh := b.Dx(), b.Dy()
	var sb strings.Builder
	for row := 0; row < thumbHeight; row++ {
		if row > 0 {
			sb.WriteByte('\n')
		}
		top := b.Min.Y + (row*2)*fh/(thumbHeight*2)
		bottom := b.Min.Y + (row*2+1)*fh/(thumbHeight*2)
		for col := 0; col < thumbWidth; col++ {
			x := b.Min.X + col*fw/thumbWidth
			sb.WriteString(pixelStyle(f.Image, x, top, bottom).Render("▀"))
		}
	}
	return sb.String()
}

func pixelStyle(img *image.RGBA, x, top, bottom int) lipgloss.Style {
	fg, fgHex := quantize(img, x, top)
	bg, bgHex := quantize(img, x, bottom)
	key := uint32(fg)<<12 | uint32(bg)
	if s, ok := pixelStyles[key]; ok {
		return s
	}
	s := lipgloss.NewStyle().Foreground(lipgloss.Color(fgHex)).Background(lipgloss.Color(bgHex))
	pixelStyles[key] = s
	return s
}

// quantize reduces a pixel to 4 bits per channel.
func quantize(img *image.RGBA, x, y int) (uint16, string) {
	c := img.RGBAAt(x, y)
	r, g, b := c.R>>4, c.G>>4, c.B>>4
	return uint16(r)<<8 | uint16(g)<<4 | uint16(b), fmt.Sprintf("#%02x%02x%02x", r*17, g*17, b*17)
}

// logToTUI shows a one-line message under the monitor.
func logToTUI(format string, args ...any) {
	tuiSend(LogMsg{Text: fmt.Sprintf(format, args...)})
}

func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// feedTUI forwards studio state and meter readings to the monitor until
// stop closes.
func feedTUI(s *studio.Studio, stop <-chan struct{}) {
	states := s.Subscribe()
	levels := s.Audio.SubscribeLevels()
	defer states.Close()
	defer levels.Close()
	for {
		select {
		case <-stop:
			return
		case st := <-states.C():
			tuiSend(StateMsg{State: st})
		case lv := <-levels.C():
			tuiSend(LevelsMsg{Levels: lv})
		}
	}
}

func wrapText(text string, width int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	var lines []string
	line := words[0]
	for _, w := range words[1:] {
		if len(line)+1+len(w) > width {
			lines = append(lines, line)
			line = w
		} else {
			line += " " + w
		}
	}
	lines = append(lines, line)
	return strings.Join(lines, "\n")
}
