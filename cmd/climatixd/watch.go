package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/climatix-tools/climatixd"
	"github.com/climatix-tools/climatixd/config"
	"github.com/climatix-tools/climatixd/internal/device"
	"github.com/spf13/cobra"
)

const (
	refreshInterval = 250 * time.Millisecond
	changeHighlight = 3 * time.Second
	commandTimeout  = 30 * time.Second
	footerHeight    = 3
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#575B7E")).
			Padding(0, 1)

	baseStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))

	statusKeyStyle = lipgloss.NewStyle().Bold(true)

	changedStyle = lipgloss.NewStyle().Background(lipgloss.Color("202")).Foreground(lipgloss.Color("0"))

	controllerColStyle = lipgloss.NewStyle().Width(16).Padding(0, 1)
	pointColStyle      = lipgloss.NewStyle().Width(28).Padding(0, 1)
	modeColStyle       = lipgloss.NewStyle().Width(11).Padding(0, 1)
	valueColStyle      = lipgloss.NewStyle().Width(20).Padding(0, 1)
	ageColStyle        = lipgloss.NewStyle().Width(9).Align(lipgloss.Right).Padding(0, 1)
)

// watchCmd renders the live store of one or more controllers in a TUI.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch live point values in a terminal UI",
	Long: `Watch live point values in a terminal UI.

Runs the polling loop against the configured controllers and renders the
value store as a table with a diagnostics header. Recently changed values
are highlighted. The input line accepts commands:

  write [controller] <point> <value>   write a point and refresh it
  refresh [controller]                 force a full refresh

The controller name may be omitted when the config defines exactly one.
Watching does not touch the journal, trace or HTTP API of a running
serve instance.

Example:
  climatixd watch -c climatixd.yaml
  climatixd watch -c climatixd.yaml --controller boiler`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = watchCmd.MarkFlagRequired("config")
	watchCmd.Flags().String("controller", "", "watch a single controller")
}

func runWatch(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// optional filter down to one controller
	if name, _ := cmd.Flags().GetString("controller"); name != "" {
		var filtered []config.ControllerConfig
		for _, cc := range cfg.Controllers {
			if cc.Name == name {
				filtered = append(filtered, cc)
			}
		}
		if len(filtered) == 0 {
			return fmt.Errorf("controller %q not found in config", name)
		}
		cfg.Controllers = filtered
	}

	controllers, err := config.BuildControllers(cfg)
	if err != nil {
		return fmt.Errorf("failed to build controllers: %w", err)
	}

	// the watch bridge is a pure observer: no HTTP API, no journal, no
	// trace, and no log output competing with the terminal
	changes := newChangeTracker()
	bridge, err := climatixd.New(
		climatixd.WithControllers(controllers...),
		climatixd.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		climatixd.WithChangeCallback(changes.note),
	)
	if err != nil {
		return fmt.Errorf("failed to create bridge: %w", err)
	}
	defer func() { _ = bridge.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- bridge.Start(ctx)
	}()

	p := tea.NewProgram(newWatchModel(bridge, changes), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		cancel()
		<-errChan
		return fmt.Errorf("watch failed: %w", err)
	}

	// stop polling and wait for the loops to drain
	cancel()
	if err := <-errChan; err != nil {
		return fmt.Errorf("bridge error: %w", err)
	}
	return nil
}

// changeTracker remembers when each point last changed. The store keeps no
// timestamps, so the age column and the change highlight are driven off the
// bridge's change callback instead.
type changeTracker struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func newChangeTracker() *changeTracker {
	return &changeTracker{seen: make(map[string]time.Time)}
}

func (c *changeTracker) note(ev climatixd.ChangeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[ev.Controller+"\x00"+ev.PointID] = time.Now()
}

func (c *changeTracker) lastChange(controller, pointID string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.seen[controller+"\x00"+pointID]
	return t, ok
}

type (
	tickMsg   time.Time
	statusMsg string
)

type watchModel struct {
	bridge      *climatixd.Bridge
	controllers []climatixd.Controller
	changes     *changeTracker

	viewport       viewport.Model
	textInput      textinput.Model
	ready          bool
	status         string
	lastDataRender string
}

func newWatchModel(bridge *climatixd.Bridge, changes *changeTracker) watchModel {
	ti := textinput.New()
	ti.Placeholder = `write boiler "1!005121A700!10" 21.5 | refresh boiler`

	return watchModel{
		bridge:      bridge,
		controllers: bridge.Controllers(),
		changes:     changes,
		textInput:   ti,
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.textInput.Focused() {
			switch msg.Type {
			case tea.KeyEnter:
				// handleCommand mutates m, so it must run before m is
				// copied into the return value
				cmd = m.handleCommand()
				return m, cmd
			case tea.KeyCtrlC, tea.KeyEsc:
				m.textInput.Blur()
				return m, nil
			}
		} else {
			switch msg.String() {
			case "q", "ctrl+c":
				return m, tea.Quit
			case "i", "c":
				m.textInput.Focus()
				return m, nil
			}
		}

	case tea.WindowSizeMsg:
		verticalMargin := m.headerHeight() + footerHeight
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-verticalMargin)
			m.viewport.Style = baseStyle
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - verticalMargin
		}
		m.lastDataRender = ""

	case tickMsg:
		newRender := m.renderTable()
		if m.lastDataRender != newRender {
			m.viewport.SetContent(newRender)
			m.lastDataRender = newRender
		}
		return m, tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })

	case statusMsg:
		m.status = string(msg)
		return m, nil
	}

	if m.textInput.Focused() {
		m.textInput, cmd = m.textInput.Update(msg)
		cmds = append(cmds, cmd)
	} else {
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *watchModel) handleCommand() tea.Cmd {
	input := strings.TrimSpace(m.textInput.Value())
	m.textInput.SetValue("")
	if input == "" {
		return nil
	}

	parts := splitCommand(input)
	if len(parts) == 0 {
		return nil
	}

	switch strings.ToLower(parts[0]) {
	case "write", "w":
		controller, pointID, raw, err := m.resolveWriteArgs(parts[1:])
		if err != nil {
			m.status = err.Error()
			return nil
		}
		value := parseProbeValue(raw)
		m.status = fmt.Sprintf("writing %v to %s/%s...", value, controller, pointID)
		return m.dispatchWrite(controller, pointID, value)

	case "refresh", "r":
		controller, err := m.resolveController(parts[1:])
		if err != nil {
			m.status = err.Error()
			return nil
		}
		m.status = fmt.Sprintf("refreshing %s...", controller)
		return m.dispatchRefresh(controller)

	default:
		m.status = fmt.Sprintf("unknown command %q (want write or refresh)", parts[0])
		return nil
	}
}

// dispatchWrite performs the device write off the update loop; the outcome
// comes back as a statusMsg.
func (m *watchModel) dispatchWrite(controller, pointID string, value any) tea.Cmd {
	bridge := m.bridge
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		if err := bridge.WritePoint(ctx, controller, pointID, value); err != nil {
			return statusMsg(fmt.Sprintf("write failed: %v", err))
		}
		return statusMsg(fmt.Sprintf("wrote %v to %s/%s", value, controller, pointID))
	}
}

func (m *watchModel) dispatchRefresh(controller string) tea.Cmd {
	bridge := m.bridge
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		if err := bridge.Refresh(ctx, controller); err != nil {
			return statusMsg(fmt.Sprintf("refresh failed: %v", err))
		}
		return statusMsg(fmt.Sprintf("refreshed %s", controller))
	}
}

func (m *watchModel) resolveWriteArgs(args []string) (string, string, string, error) {
	switch len(args) {
	case 2:
		name, err := m.soleController()
		if err != nil {
			return "", "", "", err
		}
		return name, args[0], args[1], nil
	case 3:
		if !m.hasController(args[0]) {
			return "", "", "", fmt.Errorf("unknown controller %q", args[0])
		}
		return args[0], args[1], args[2], nil
	default:
		return "", "", "", errors.New("usage: write [controller] <point> <value>")
	}
}

func (m *watchModel) resolveController(args []string) (string, error) {
	switch len(args) {
	case 0:
		return m.soleController()
	case 1:
		if !m.hasController(args[0]) {
			return "", fmt.Errorf("unknown controller %q", args[0])
		}
		return args[0], nil
	default:
		return "", errors.New("usage: refresh [controller]")
	}
}

func (m *watchModel) soleController() (string, error) {
	if len(m.controllers) == 1 {
		return m.controllers[0].Name(), nil
	}
	return "", errors.New("several controllers configured, name one")
}

func (m *watchModel) hasController(name string) bool {
	for _, c := range m.controllers {
		if c.Name() == name {
			return true
		}
	}
	return false
}

func (m watchModel) View() string {
	if !m.ready {
		return "Initializing..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		m.renderFooter(),
	)
}

// headerHeight is the rendered height of the diagnostics pane: title, one
// line per controller, and the border.
func (m watchModel) headerHeight() int {
	return len(m.controllers) + 3
}

func (m watchModel) renderHeader() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("climatixd watch"))
	for _, d := range m.bridge.Diagnostics() {
		b.WriteString(fmt.Sprintf("\n%s  reads %d (%.1f/min)  values %d (%.1f/min)  writes %d",
			statusKeyStyle.Render(d.Controller),
			d.ReadRequestsTotal, d.ReadRequestsPerMinute,
			d.ReadValuesTotal, d.ReadValuesPerMinute,
			d.WriteCount,
		))
	}
	return baseStyle.Width(m.viewport.Width - 2).Render(b.String())
}

func (m watchModel) renderTable() string {
	width := m.viewport.Width
	if width <= 0 {
		width = 80
	}

	var content strings.Builder
	header := lipgloss.JoinHorizontal(lipgloss.Left,
		controllerColStyle.Render("Controller"),
		pointColStyle.Render("Point"),
		modeColStyle.Render("Mode"),
		valueColStyle.Render("Value"),
		ageColStyle.Render("Age"),
	)
	content.WriteString(titleStyle.Width(width).Render(header) + "\n")

	for _, ctrl := range m.controllers {
		snap, err := m.bridge.Snapshot(ctrl.Name())
		if err != nil {
			continue
		}
		for _, pt := range ctrl.Points() {
			valueText := "-"
			if v, ok := device.FirstValue(snap[pt.ID()]); ok {
				valueText = fmt.Sprintf("%v", v)
			}

			ageText := "-"
			style := lipgloss.NewStyle()
			if t, ok := m.changes.lastChange(ctrl.Name(), pt.ID()); ok {
				since := time.Since(t)
				ageText = fmtAge(since)
				if since < changeHighlight {
					style = changedStyle
				}
			}

			line := lipgloss.JoinHorizontal(lipgloss.Left,
				controllerColStyle.Render(ctrl.Name()),
				pointColStyle.Render(pt.ID()),
				modeColStyle.Render(pt.Mode().String()),
				valueColStyle.Render(valueText),
				ageColStyle.Render(ageText),
			)
			content.WriteString(style.Render(line) + "\n")
		}
	}
	return content.String()
}

func (m watchModel) renderFooter() string {
	help := "arrow keys to scroll | (i) to input command | (q) to quit"
	if m.textInput.Focused() {
		help = "write [controller] <point> <value> | refresh [controller] | esc to cancel"
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.status,
		m.textInput.View(),
		help,
	)
}

// splitCommand splits the input on spaces, keeping double-quoted segments
// together.
func splitCommand(input string) []string {
	var parts []string
	var current []rune
	var inQuote bool
	for _, r := range input {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == ' ' && !inQuote:
			if len(current) > 0 {
				parts = append(parts, string(current))
				current = current[:0]
			}
		default:
			current = append(current, r)
		}
	}
	if len(current) > 0 {
		parts = append(parts, string(current))
	}
	return parts
}

func fmtAge(d time.Duration) string {
	switch {
	case d < time.Second:
		return "<1s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
