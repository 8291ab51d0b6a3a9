package views

import (
	"context"
	"fmt"
	"image"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"stable-action/models"
	"stable-action/services/preview"
	"stable-action/services/transform"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	recStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	frameStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("8"))
)

const lumaRamp = " .:-=+*#%@"

type tickMsg time.Time

type actionDoneMsg struct{ err error }

// Viewfinder is the terminal display domain: on every tick it takes at most
// one frame from the slot of the active mode.
type Viewfinder struct {
	ctl     Controls
	display *preview.Display
	refresh time.Duration
	cols    int

	thumb  string
	status models.PipelineStatus
	err    error
}

func NewViewfinder(ctl Controls, sink *preview.Sink, refreshHz, cols int) Viewfinder {
	if refreshHz <= 0 {
		refreshHz = 30
	}
	if cols <= 0 {
		cols = 48
	}
	mode := func() transform.Mode {
		m, _ := transform.ParseMode(ctl.Status().Mode)
		return m
	}
	return Viewfinder{
		ctl:     ctl,
		display: preview.NewDisplay(sink, mode),
		refresh: time.Second / time.Duration(refreshHz),
		cols:    cols,
	}
}

func (v Viewfinder) tick() tea.Cmd {
	return tea.Tick(v.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init implements tea.Model.
func (v Viewfinder) Init() tea.Cmd { return v.tick() }

// do runs a control action off the update loop.
func (v Viewfinder) do(fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return actionDoneMsg{err: fn(ctx)}
	}
}

// Update implements tea.Model.
func (v Viewfinder) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		if f, _, ok := v.display.Tick(); ok {
			v.thumb = Thumbnail(f.Image, v.cols)
		}
		v.status = v.ctl.Status()
		return v, v.tick()

	case actionDoneMsg:
		v.err = msg.err
		return v, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return v, tea.Quit
		case "r":
			return v, v.do(v.ctl.ToggleRecording)
		case "m":
			return v, v.do(v.ctl.ToggleMode)
		case "c":
			return v, v.do(v.ctl.CycleCamera)
		case "h":
			return v, v.do(v.ctl.ToggleStabilizationHint)
		}
	}
	return v, nil
}

// View implements tea.Model.
func (v Viewfinder) View() string {
	st := v.status
	var b strings.Builder

	head := titleStyle.Render("stable-action")
	if st.Recording {
		head += "  " + recStyle.Render(fmt.Sprintf("● REC %d frames", st.VideoAppended))
	} else if st.Session == "finishing" {
		head += "  " + dimStyle.Render("saving…")
	}
	b.WriteString(head + "\n")

	thumb := v.thumb
	if thumb == "" {
		thumb = dimStyle.Render("waiting for frames")
	}
	b.WriteString(frameStyle.Render(thumb) + "\n")

	fmt.Fprintf(&b, "mode %-11s camera %-10s stabilization %s\n", st.Mode, st.Camera, st.Stabilization)
	fmt.Fprintf(&b, "format %dx%d@%.0f  roll %+6.2f°  offset (%+.2f, %+.2f)\n",
		st.Format.Width, st.Format.Height, st.FPS,
		st.Smoothed.Roll*180/math.Pi, st.Smoothed.OffsetX, st.Smoothed.OffsetY)
	b.WriteString(dimStyle.Render(fmt.Sprintf(
		"frames %d  appended %d/%d  dropped video %d audio %d display %d capture %d",
		st.FramesIn, st.VideoAppended, st.AudioAppended,
		st.VideoDropped, st.AudioDropped, st.DisplayDropped, st.CaptureDropped)) + "\n")
	if v.err != nil {
		b.WriteString(errStyle.Render(v.err.Error()) + "\n")
	}
	b.WriteString(dimStyle.Render("r record · m mode · c camera · h hint · q quit"))
	return b.String()
}

// Thumbnail renders img as cols characters wide luminance art. Terminal cells
// are about twice as tall as wide, so every row covers two pixel rows' worth.
func Thumbnail(img *image.RGBA, cols int) string {
	b := img.Bounds()
	if b.Empty() || cols <= 0 {
		return ""
	}
	if cols > b.Dx() {
		cols = b.Dx()
	}
	cell := float64(b.Dx()) / float64(cols)
	rows := int(float64(b.Dy()) / (cell * 2))
	if rows < 1 {
		rows = 1
	}
	cellH := float64(b.Dy()) / float64(rows)

	var sb strings.Builder
	for r := 0; r < rows; r++ {
		y := b.Min.Y + int((float64(r)+0.5)*cellH)
		for c := 0; c < cols; c++ {
			x := b.Min.X + int((float64(c)+0.5)*cell)
			i := img.PixOffset(x, y)
			p := img.Pix[i : i+3 : i+3]
			// Rec. 601 luma
			l := (299*int(p[0]) + 587*int(p[1]) + 114*int(p[2])) / 1000
			sb.WriteByte(lumaRamp[l*(len(lumaRamp)-1)/255])
		}
		if r < rows-1 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
