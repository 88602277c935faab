package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gwillem/fingercount/pkg/hand"
	"github.com/gwillem/fingercount/pkg/robot"
	"github.com/gwillem/fingercount/pkg/watch"
)

type WatchCommand struct {
	URL          string        `long:"url" default:"http://localhost:8000" description:"Server base URL"`
	Retry        time.Duration `long:"retry" default:"1s" description:"Delay before reconnecting"`
	Poll         bool          `long:"poll" description:"Poll /finger_count instead of streaming over WebSocket"`
	PollInterval time.Duration `long:"poll-interval" default:"100ms" description:"Polling interval (minimum 20ms)"`
	LogFile      string        `long:"log-file" description:"Write logs to this file"`
}

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + blank
	handsHeight  = 6 // hands table
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
	totalSeries  = "total"
)

// Series colors
var seriesColors = map[string]string{
	totalSeries:        "12",  // blue
	string(hand.Left):  "208", // orange
	string(hand.Right): "46",  // green
}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	connectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	staleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

// Key bindings for robot control
var moveKeys = map[string]robot.Direction{
	"up":    robot.Up,
	"down":  robot.Down,
	"left":  robot.Left,
	"right": robot.Right,
}

type watchModel struct {
	api      *watch.API
	updates  <-chan watch.Update
	mode     string
	chart    *streamlinechart.Model
	width    int // terminal width
	height   int // terminal height
	last     watch.Update
	antennas bool
	logs     []string // last N log messages
	quitting bool
}

// Messages
type updateMsg watch.Update

type resultMsg struct {
	text     string
	err      error
	antennas *bool
}

func waitForUpdate(ch <-chan watch.Update) tea.Cmd {
	return func() tea.Msg {
		return updateMsg(<-ch)
	}
}

func (m *watchModel) addLog(msg string) {
	m.logs = append(m.logs, time.Now().Format("15:04:05")+" "+msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// chartSize calculates the size of the chart based on terminal dimensions
func (m *watchModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 12 // default size before we know terminal size
	}
	width = m.width - borderSize - 2
	if width < 40 {
		width = 40
	}
	height = m.height - headerHeight - legendHeight - handsHeight - footerHeight - borderSize
	if height < 6 {
		height = 6
	}
	return width, height
}

func initialWatchModel(api *watch.API, updates <-chan watch.Update, mode string) watchModel {
	chart := streamlinechart.New(80, 12,
		streamlinechart.WithYRange(0, 10),
	)
	for name, color := range seriesColors {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(color))
		chart.SetDataSetStyles(name, runes.ThinLineStyle, style)
	}
	return watchModel{
		api:     api,
		updates: updates,
		mode:    mode,
		chart:   &chart,
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(
		waitForUpdate(m.updates),
		m.command("antennas", func(ctx context.Context) (*bool, error) {
			on, err := m.api.Antennas(ctx)
			return &on, err
		}),
	)
}

// command runs a robot request off the UI goroutine.
func (m watchModel) command(name string, fn func(ctx context.Context) (*bool, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		antennas, err := fn(ctx)
		return resultMsg{text: name, err: err, antennas: antennas}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		w, h := m.chartSize()
		m.chart.Resize(w, h)
		return m, nil

	case tea.KeyMsg:
		key := msg.String()
		if dir, ok := moveKeys[key]; ok {
			return m, m.command("move "+string(dir), func(ctx context.Context) (*bool, error) {
				return nil, m.api.Move(ctx, dir)
			})
		}
		switch key {
		case "a":
			want := !m.antennas
			return m, m.command(fmt.Sprintf("antennas %v", want), func(ctx context.Context) (*bool, error) {
				on, err := m.api.SetAntennas(ctx, want)
				return &on, err
			})
		case "s":
			return m, m.command("play sound", func(ctx context.Context) (*bool, error) {
				return nil, m.api.PlaySound(ctx)
			})
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case updateMsg:
		u := watch.Update(msg)
		if u.Conn != m.last.Conn {
			m.addLog("server " + u.Conn.String())
		}
		m.last = u
		// Freeze the chart while stale
		if u.Have && !u.Stale {
			m.chart.PushDataSet(totalSeries, float64(u.State.Total))
			perHand := map[hand.Handedness]int{}
			for _, h := range u.State.Hands {
				perHand[h.Handedness] = h.Fingers
			}
			for _, h := range []hand.Handedness{hand.Left, hand.Right} {
				m.chart.PushDataSet(string(h), float64(perHand[h]))
			}
			m.chart.DrawAll()
		}
		return m, waitForUpdate(m.updates)

	case resultMsg:
		if msg.err != nil {
			m.addLog(msg.text + ": " + msg.err.Error())
			return m, nil
		}
		if msg.antennas != nil {
			m.antennas = *msg.antennas
		}
		if msg.text != "antennas" {
			m.addLog(msg.text + ": ok")
		}
		return m, nil
	}

	return m, nil
}

func (m watchModel) View() string {
	if m.quitting {
		return "Stopped watching.\n"
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render("fingercount"))
	sb.WriteString(fmt.Sprintf(" - %s ", m.mode))
	if m.last.Stale || !m.last.Have {
		sb.WriteString(staleStyle.Render(m.last.Conn.String() + " (stale)"))
	} else {
		sb.WriteString(connectedStyle.Render(fmt.Sprintf("%d fingers", m.last.State.Total)))
	}
	sb.WriteString(statusStyle.Render(fmt.Sprintf("  antennas: %v", m.antennas)))
	sb.WriteString("\n\n")

	// Chart
	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")
	sb.WriteString(renderLegend())
	sb.WriteString("\n\n")

	// Hands
	sb.WriteString(m.renderHands())
	sb.WriteString("\n")

	// Log box
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20))

	logLines := statusStyle.Render("arrows: move  a: antennas  s: sound  q: quit")
	if len(m.logs) > 0 {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func (m watchModel) renderHands() string {
	rows := [][]string{}
	for _, h := range m.last.State.Hands {
		rows = append(rows, []string{string(h.Handedness), fmt.Sprintf("%d", h.Fingers)})
	}
	if len(rows) == 0 {
		rows = append(rows, []string{"-", "0"})
	}
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(statusStyle).
		Headers("Hand", "Fingers").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Render()
}

func renderLegend() string {
	var items []string
	for _, name := range []string{totalSeries, string(hand.Left), string(hand.Right)} {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(seriesColors[name])).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+name)
	}
	return strings.Join(items, "  ")
}

func (c *WatchCommand) Execute(args []string) error {
	var logOut io.Writer = io.Discard
	if c.LogFile != "" {
		f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		logOut = f
	}
	log := newLogger(logOut)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := watch.NewAPI(c.URL, 5*time.Second)
	var updates <-chan watch.Update
	mode := "websocket"
	if c.Poll {
		p := watch.NewPoller(api, c.PollInterval, log)
		updates = p.Updates()
		mode = fmt.Sprintf("polling every %v", p.Interval())
		go p.Run(ctx)
	} else {
		s := watch.NewSynchronizer(watch.Config{URL: c.URL, Retry: c.Retry, Logger: log})
		updates = s.Updates()
		go s.Run(ctx)
	}

	p := tea.NewProgram(initialWatchModel(api, updates, mode), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run watch ui: %w", err)
	}
	return nil
}
