package ui

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ayusman/eyesoff/internal/app"
)

const recentEvents = 8

type tickMsg time.Time

// fetchMsg carries one poll of the daemon.
type fetchMsg struct {
	status app.Status
	stats  Stats
	events []Event
	err    error
}

// actionMsg is sent after a control action completes.
type actionMsg struct {
	action string
	status app.Status
	err    error
}

// Model is the bubbletea model.
type Model struct {
	client   *Client
	interval time.Duration
	width    int

	status  app.Status
	stats   Stats
	events  []Event
	err     error
	fetched bool

	flash     string
	flashTime time.Time
}

// NewModel creates a Model polling client every interval.
func NewModel(client *Client, interval time.Duration) Model {
	if interval <= 0 {
		interval = time.Second
	}
	return Model{client: client, interval: interval}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(m.interval), fetch(m.client))
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func fetch(c *Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		st, err := c.Status(ctx)
		if err != nil {
			return fetchMsg{err: err}
		}
		stats, err := c.Stats(ctx)
		if err != nil {
			return fetchMsg{err: err}
		}
		events, err := c.Events(ctx, recentEvents)
		return fetchMsg{status: st, stats: stats, events: events, err: err}
	}
}

func control(c *Client, action string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		st, err := c.Control(ctx, action)
		return actionMsg{action: action, status: st, err: err}
	}
}

// actionFor maps a key to the control action it triggers in the current
// state, or "".
func (m Model) actionFor(key string) string {
	switch key {
	case "s":
		if m.status.Monitoring {
			return "monitoring/stop"
		}
		return "monitoring/start"
	case "p":
		if m.status.Paused {
			return "monitoring/resume"
		}
		return "monitoring/pause"
	case "d":
		return "alert/dismiss"
	case "t":
		return "alert/test"
	}
	return ""
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch key := msg.String(); key {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, fetch(m.client)
		default:
			if action := m.actionFor(key); action != "" {
				return m, control(m.client, action)
			}
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		return m, tea.Batch(tick(m.interval), fetch(m.client))
	case fetchMsg:
		m.err = msg.err
		if msg.err == nil {
			m.status = msg.status
			m.stats = msg.stats
			m.events = msg.events
			m.fetched = true
		}
	case actionMsg:
		m.flashTime = time.Now()
		if msg.err != nil {
			m.flash = fmt.Sprintf("%s: %v", msg.action, msg.err)
			return m, nil
		}
		m.status = msg.status
		m.flash = msg.action + ": ok"
		return m, fetch(m.client)
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("EyesOff"))
	b.WriteString("  ")
	b.WriteString(stateLabel(m.status))
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(critStyle.Render("daemon unreachable: " + m.err.Error()))
		b.WriteString("\n\n")
	}
	if !m.fetched && m.err == nil {
		b.WriteString("Connecting...\n")
	}

	if m.fetched {
		style := panelStyle
		if m.status.Showing {
			style = alertPanelStyle
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
			style.Render(m.statusPanel()),
			" ",
			panelStyle.Render(m.histogramPanel()),
		))
		b.WriteString("\n")
		b.WriteString(panelStyle.Render(m.eventsPanel()))
		b.WriteString("\n")
	}

	if m.flash != "" && time.Since(m.flashTime) < 5*time.Second {
		b.WriteString(warnStyle.Render(m.flash))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("s start/stop  p pause/resume  d dismiss  t test alert  r refresh  q quit"))
	return b.String()
}

func stateLabel(st app.Status) string {
	switch {
	case st.Showing:
		return critStyle.Render("● ALERT")
	case st.Paused:
		return warnStyle.Render("● paused")
	case st.Monitoring:
		return okStyle.Render("● monitoring")
	default:
		return helpStyle.Render("○ stopped")
	}
}

func row(label, value string) string {
	return labelStyle.Render(label) + valueStyle.Render(value) + "\n"
}

func (m Model) statusPanel() string {
	st := m.status
	var b strings.Builder
	b.WriteString(titleStyle.Render("Status") + "\n")
	b.WriteString(row("Summary", st.Summary))
	b.WriteString(row("Faces", fmt.Sprintf("%d (%d looking)", st.CurrentFaces, st.CurrentLooking)))
	b.WriteString(row("Threshold", fmt.Sprintf("more than %d", st.Threshold)))
	b.WriteString(row("Mode", st.Mode))
	b.WriteString(row("Detector", st.Detector))
	capture := "idle"
	if st.ActiveCapture {
		capture = "active"
	}
	b.WriteString(row("Capture", capture))
	b.WriteString(row("Detections", fmt.Sprintf("%d", m.stats.TotalDetections)))
	b.WriteString(row("Alerts", fmt.Sprintf("%d", m.stats.AlertCount)))
	return strings.TrimRight(b.String(), "\n")
}

// histogramPanel draws how often each face count was seen.
func (m Model) histogramPanel() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Face counts") + "\n")
	if len(m.stats.FaceCounts) == 0 {
		b.WriteString(helpStyle.Render("no detections yet"))
		return b.String()
	}

	counts := make([]int, 0, len(m.stats.FaceCounts))
	var peak uint64
	for n, v := range m.stats.FaceCounts {
		counts = append(counts, n)
		peak = max(peak, v)
	}
	slices.Sort(counts)

	const width = 20
	for _, n := range counts {
		v := m.stats.FaceCounts[n]
		bar := int(float64(v) / float64(peak) * width)
		style := okStyle
		if n > m.status.Threshold {
			style = critStyle
		}
		fmt.Fprintf(&b, "%2d %s %d\n", n, style.Render(strings.Repeat("█", max(bar, 1))), v)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) eventsPanel() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Recent events") + "\n")
	if len(m.events) == 0 {
		b.WriteString(helpStyle.Render("none"))
		return b.String()
	}
	for _, ev := range m.events {
		b.WriteString(formatEvent(ev) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatEvent(ev Event) string {
	at := ev.OccurredAt.Local().Format("15:04:05")
	switch ev.Kind {
	case "raised":
		s := fmt.Sprintf("%s %s %d faces (threshold %d, %s)", at, critStyle.Render("raised   "), ev.FaceCount, ev.Threshold, ev.Mode)
		if ev.Manual {
			s += " [test]"
		}
		return s
	case "dismissed":
		return fmt.Sprintf("%s %s %s", at, okStyle.Render("dismissed"), ev.Trigger)
	default:
		return fmt.Sprintf("%s %s %s", at, warnStyle.Render("failed   "), ev.Error)
	}
}
