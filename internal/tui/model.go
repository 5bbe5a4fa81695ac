// Package tui draws a live waterfall in the terminal. Every character cell
// holds two history rows using the upper half block.
package tui

import (
	"context"
	"fmt"
	"image/color"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/radio-waterfall/internal/spectrum"
	"github.com/roman-kulish/radio-waterfall/internal/waterfall"
)

const (
	chromeLines = 3 // header, status and help lines
	minSpanMHz  = 0.05
	maxSpanMHz  = 20.0
	statusAfter = 5 * time.Second
)

var themes = []waterfall.ColorTheme{waterfall.ClassicTheme, waterfall.ThermalTheme, waterfall.GrayscaleTheme}

type updateMsg waterfall.Update
type updatesClosedMsg struct{}
type activatedMsg struct{ err error }

// Model is the bubbletea model of the terminal waterfall
type Model struct {
	ctx         context.Context
	viewer      *waterfall.Viewer
	updates     <-chan waterfall.Update
	unsubscribe func()

	theme   int
	palette waterfall.Palette

	width  int
	height int

	message     string
	messageTime time.Time
	err         error
	quitting    bool
}

// New creates a model for viewer. Acquisition starts with the program and
// lives as long as ctx.
func New(ctx context.Context, viewer *waterfall.Viewer, theme waterfall.ColorTheme) Model {
	updates, unsubscribe := viewer.Subscribe(4)

	m := Model{
		ctx:         ctx,
		viewer:      viewer,
		updates:     updates,
		unsubscribe: unsubscribe,
		palette:     waterfall.PaletteFor(theme),
		width:       80,
		height:      24,
	}
	for i, t := range themes {
		if t == theme {
			m.theme = i
		}
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.activate(), waitForUpdate(m.updates))
}

func (m Model) activate() tea.Cmd {
	return func() tea.Msg {
		return activatedMsg{err: m.viewer.Activate(m.ctx)}
	}
}

func waitForUpdate(updates <-chan waterfall.Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-updates
		if !ok {
			return updatesClosedMsg{}
		}
		return updateMsg(u)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case updateMsg:
		return m, waitForUpdate(m.updates)

	case updatesClosedMsg:
		return m, nil

	case activatedMsg:
		if msg.err != nil {
			m.err = msg.err
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	settings := m.viewer.Settings()

	var err error
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		m.quitting = true
		m.viewer.Deactivate()
		m.unsubscribe()
		return m, tea.Quit

	case " ":
		if m.viewer.Active() {
			m.viewer.Deactivate()
			m.notify("paused")
			return m, nil
		}
		m.notify("running")
		return m, m.activate()

	case "left", "h":
		err = m.viewer.SetCenterFrequency(settings.CenterFreqMHz - settings.SpanMHz/4)
	case "right", "l":
		err = m.viewer.SetCenterFrequency(settings.CenterFreqMHz + settings.SpanMHz/4)
	case "up", "k":
		err = m.viewer.SetSpan(min(settings.SpanMHz*2, maxSpanMHz))
	case "down", "j":
		err = m.viewer.SetSpan(max(settings.SpanMHz/2, minSpanMHz))
	case "+", "=":
		err = m.viewer.SetIntegrationTime(settings.IntegrationTime * 2)
	case "-":
		err = m.viewer.SetIntegrationTime(max(settings.IntegrationTime/2, time.Millisecond))
	case "r":
		m.viewer.Reset()
		m.notify("history cleared")
	case "t":
		m.theme = (m.theme + 1) % len(themes)
		m.palette = waterfall.PaletteFor(themes[m.theme])
		m.notify(fmt.Sprintf("theme %s", themes[m.theme]))
	}

	if err != nil {
		m.notify(err.Error())
	}
	return m, nil
}

func (m *Model) notify(message string) {
	m.message = message
	m.messageTime = time.Now()
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	frame := m.viewer.Session().Frame()
	lines := max(m.height-chromeLines, 1)

	var b strings.Builder
	b.WriteString(m.header(frame))
	b.WriteByte('\n')
	b.WriteString(RenderBody(frame, m.palette, max(m.width, 1), lines))
	b.WriteByte('\n')
	b.WriteString(m.status(frame))
	b.WriteByte('\n')
	b.WriteString(helpStyle.Render("←/→ tune  ↑/↓ span  +/- integration  space pause  r clear  t theme  q quit"))
	return b.String()
}

func (m Model) header(frame waterfall.Frame) string {
	status := waitingStyle.Render(string(frame.Status))
	if frame.Status == waterfall.StatusLive {
		status = liveStyle.Render(string(frame.Status))
	}

	return fmt.Sprintf("%s  %s  span %s  %s",
		headerStyle.Render("waterfall"),
		headerStyle.Render(humanize.SIWithDigits(frame.CenterFreqMHz*1e6, 4, "Hz")),
		humanize.SIWithDigits(frame.SpanMHz*1e6, 3, "Hz"),
		status)
}

func (m Model) status(frame waterfall.Frame) string {
	if m.err != nil {
		return errorStyle.Render(m.err.Error())
	}
	if m.message != "" && time.Since(m.messageTime) < statusAfter {
		return statusStyle.Render(m.message)
	}

	settings := m.viewer.Settings()
	return statusStyle.Render(fmt.Sprintf("range %.1f .. %.1f dB  rows %d/%d  integration %s  every %s",
		frame.Range.Min, frame.Range.Max, len(frame.Rows), frame.MaxRows,
		settings.IntegrationTime, settings.UpdateInterval))
}

// RenderBody draws the newest rows of the frame into lines of width cells,
// two rows per line with the newest at the bottom
func RenderBody(frame waterfall.Frame, palette waterfall.Palette, width, lines int) string {
	pixels := lines * 2
	rows := frame.Rows
	if len(rows) > pixels {
		rows = rows[len(rows)-pixels:]
	}
	offset := pixels - len(rows) // empty pixel rows on top

	colors := make([][]lipgloss.Color, len(rows))
	for i, row := range rows {
		colors[i] = rowColors(row, palette, frame.Range, width)
	}

	at := func(pixel, col int) lipgloss.Color {
		i := pixel - offset
		if i < 0 {
			return emptyColor
		}
		return colors[i][col]
	}

	var b strings.Builder
	for line := range lines {
		if line > 0 {
			b.WriteByte('\n')
		}
		for col := range width {
			b.WriteString(lipgloss.NewStyle().
				Foreground(at(line*2, col)).
				Background(at(line*2+1, col)).
				Render(halfBlock))
		}
	}
	return b.String()
}

// rowColors resamples a row to width cells, keeping the strongest bin of
// every cell so narrow carriers survive the reduction
func rowColors(row *spectrum.Row, palette waterfall.Palette, r waterfall.Range, width int) []lipgloss.Color {
	out := make([]lipgloss.Color, width)
	bins := len(row.Values)
	if bins == 0 {
		for i := range out {
			out[i] = emptyColor
		}
		return out
	}

	for col := range width {
		lo := col * bins / width
		hi := max((col+1)*bins/width, lo+1)

		v := row.Values[lo]
		for _, x := range row.Values[lo:min(hi, bins)] {
			v = max(v, x)
		}
		out[col] = hexColor(palette.ColorFor(v, r.Min, r.Max))
	}
	return out
}

func hexColor(c color.RGBA) lipgloss.Color {
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B))
}
