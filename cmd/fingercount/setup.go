package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.bug.st/serial"

	"github.com/gwillem/fingercount/pkg/config"
	"github.com/gwillem/fingercount/pkg/robot"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// errAborted is returned when the user leaves a form.
var errAborted = errors.New("setup aborted")

type SetupCommand struct {
	SkipCalibration bool `long:"skip-calibration" description:"Keep the default servo ranges"`
}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("fingercount setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━"))
	fmt.Println()

	cfg := config.Default()
	if existing, err := config.LoadConfigFrom(opts.Config); err == nil {
		cfg = existing
		fmt.Printf("Updating %s\n\n", opts.Config)
	}

	// Step 1: find the head
	port, err := scanForHead()
	if err != nil {
		return err
	}
	if port == "" {
		fmt.Println("No robot head selected; robot commands will run in simulation.")
		cfg.Robot.Port = ""
		cfg.Robot.Sim = true
	} else {
		cfg.Robot.Port = port
		cfg.Robot.Sim = false

		// Step 2: calibrate
		if !c.SkipCalibration {
			fmt.Println()
			fmt.Println(subHeaderStyle.Render("━━━ Calibrating Head ━━━"))
			fmt.Println()
			cal, err := calibrateHead(port)
			if err != nil {
				return err
			}
			cfg.Robot.Calibration = cal
		}
	}

	// Step 3: service settings
	if err := askSettings(cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.SaveTo(opts.Config); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", opts.Config)
	fmt.Println()
	fmt.Println("Start the service with: " + headerStyle.Render("fingercount serve"))
	return nil
}

type headInfo struct {
	port   string
	servos []feetech.FoundServo
	bus    *feetech.Bus
}

func scanForHead() (string, error) {
	fmt.Println("Scanning serial ports for a robot head...")
	fmt.Println()

	heads := findHeads()
	if len(heads) == 0 {
		fmt.Println("No robot head found.")
		fmt.Println("Make sure the head is connected and powered on.")
		return "", nil
	}

	port := ""
	for i, h := range heads {
		if port != "" {
			h.bus.Close()
			continue
		}
		ok, err := identifyHeadWithWiggle(h)
		if err != nil {
			for _, rest := range heads[i+1:] {
				rest.bus.Close()
			}
			return "", err
		}
		if ok {
			fmt.Println(successStyle.Render("Head identified on " + h.port))
			port = h.port
		}
	}
	return port, nil
}

func openBus(port string) (*feetech.Bus, error) {
	return feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: 1_000_000,
		Protocol: feetech.ProtocolSTS,
		Timeout:  100 * time.Millisecond,
	})
}

func findHeads() []headInfo {
	ports, err := serial.GetPortsList()
	if err != nil {
		fmt.Printf("Error listing ports: %v\n", err)
		return nil
	}

	var heads []headInfo
	ids := robot.DefaultCalibration().MotorIDs()
	for _, port := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(port, "Bluetooth") {
			continue
		}

		bus, err := openBus(port)
		if err != nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		servos, err := bus.Scan(ctx, ids[0], ids[len(ids)-1])
		cancel()
		if err != nil || !isHead(servos) {
			bus.Close()
			continue
		}

		fmt.Printf("  Found head servos on %s\n", port)
		heads = append(heads, headInfo{port: port, servos: servos, bus: bus})
	}
	return heads
}

// isHead reports whether exactly the head's servo ids answered.
func isHead(servos []feetech.FoundServo) bool {
	want := robot.DefaultCalibration().MotorIDs()
	if len(servos) != len(want) {
		return false
	}
	found := make(map[int]bool)
	for _, s := range servos {
		found[s.ID] = true
	}
	for _, id := range want {
		if !found[id] {
			return false
		}
	}
	return true
}

func identifyHeadWithWiggle(h headInfo) (bool, error) {
	defer h.bus.Close()
	ctx := context.Background()

	// Wiggle the pan servo
	panID := robot.DefaultCalibration()[robot.HeadPan].ID
	var servo *feetech.Servo
	for _, s := range h.servos {
		if s.ID == panID {
			servo = feetech.NewServo(h.bus, s.ID, s.Model)
			break
		}
	}
	if servo == nil {
		return false, nil
	}

	originalPos, err := servo.Position(ctx)
	if err != nil {
		fmt.Printf("  Error reading position: %v\n", err)
		return false, nil
	}
	if err := servo.Enable(ctx); err != nil {
		fmt.Printf("  Error enabling servo: %v\n", err)
		return false, nil
	}

	fmt.Printf("\n  Turning the head on %s...\n", h.port)

	wiggleAmount := 60
	moveTimeMs := 500
	for _, pos := range []int{originalPos + wiggleAmount, originalPos - wiggleAmount, originalPos} {
		servo.SetPositionWithTime(ctx, pos, moveTimeMs)
		time.Sleep(time.Duration(moveTimeMs+100) * time.Millisecond)
	}
	servo.Disable(ctx)

	var confirmed bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Did the robot head on %s just turn?", h.port)).
				Affirmative("Yes, use it").
				Negative("No").
				Value(&confirmed),
		),
	)
	if err := form.Run(); err != nil {
		return false, errAborted
	}
	return confirmed, nil
}

func calibrateHead(port string) (robot.Calibration, error) {
	bus, err := openBus(port)
	if err != nil {
		return nil, fmt.Errorf("connect to head: %w", err)
	}
	defer bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	servos, err := bus.Scan(ctx, 1, len(robot.AllMotors()))
	cancel()
	if err != nil {
		return nil, fmt.Errorf("scan head: %w", err)
	}
	if !isHead(servos) {
		return nil, fmt.Errorf("%s is not a robot head (expected servos 1-4)", port)
	}

	servoMap := make(map[int]*feetech.Servo)
	for _, s := range servos {
		servoMap[s.ID] = feetech.NewServo(bus, s.ID, s.Model)
	}

	// Disable all servos so the user can move the head freely
	ctx = context.Background()
	for _, servo := range servoMap {
		servo.Disable(ctx)
	}

	fmt.Println(subHeaderStyle.Render("Record range of motion"))
	fmt.Println("Turn and tilt the head to its limits and move both antennas")
	fmt.Println("through their full range.")
	fmt.Println()

	defaults := robot.DefaultCalibration()
	motors := robot.AllMotors()
	cur := make(map[robot.MotorName]int)
	lo := make(map[robot.MotorName]int)
	hi := make(map[robot.MotorName]int)
	for _, name := range motors {
		pos, _ := servoMap[defaults[name].ID].Position(ctx)
		cur[name], lo[name], hi[name] = pos, pos, pos
	}

	model := calibrationModel{
		motors:       motors,
		ids:          defaults,
		servoMap:     servoMap,
		curPositions: cur,
		minPositions: lo,
		maxPositions: hi,
	}
	finalModel, err := tea.NewProgram(model).Run()
	if err != nil {
		return nil, fmt.Errorf("run calibration: %w", err)
	}
	cm := finalModel.(calibrationModel)
	if cm.aborted {
		return nil, errAborted
	}

	cal := make(robot.Calibration, len(motors))
	for _, name := range motors {
		cal[name] = robot.MotorCalibration{
			ID:       defaults[name].ID,
			RangeMin: cm.minPositions[name],
			RangeMax: cm.maxPositions[name],
		}
	}
	if err := cal.Validate(); err != nil {
		return nil, fmt.Errorf("calibration incomplete: %w", err)
	}
	fmt.Println("Head calibrated.")
	return cal, nil
}

// askSettings edits the service settings in place.
func askSettings(cfg *config.Config) error {
	hz := fmt.Sprintf("%g", cfg.Tracking.Hz)
	sound := strings.Join(cfg.Robot.SoundCommand, " ")
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Camera device").
				Value(&cfg.Camera.Device),
			huh.NewConfirm().
				Title("Mirror the camera image?").
				Value(&cfg.Camera.Flip),
			huh.NewInput().
				Title("Tracking rate (Hz)").
				Value(&hz).
				Validate(func(s string) error {
					var v float64
					if _, err := fmt.Sscanf(s, "%g", &v); err != nil || v <= 0 || v > 100 {
						return errors.New("enter a rate between 0 and 100")
					}
					return nil
				}),
			huh.NewInput().
				Title("Listen address").
				Value(&cfg.Server.Addr),
			huh.NewInput().
				Title("Sound command").
				Description("Played by POST /play_sound, e.g. aplay sounds/wake_up.wav").
				Value(&sound),
		),
	)
	if err := form.Run(); err != nil {
		return errAborted
	}
	fmt.Sscanf(hz, "%g", &cfg.Tracking.Hz)
	cfg.Robot.SoundCommand = strings.Fields(sound)
	return nil
}

// Calibration TUI model
type calibrationModel struct {
	motors       []robot.MotorName
	ids          robot.Calibration
	servoMap     map[int]*feetech.Servo
	curPositions map[robot.MotorName]int
	minPositions map[robot.MotorName]int
	maxPositions map[robot.MotorName]int
	quitting     bool
	aborted      bool
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m calibrationModel) Init() tea.Cmd {
	return tick()
}

func (m calibrationModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			m.quitting = true
			return m, tea.Quit
		case "q", "ctrl+c":
			m.quitting = true
			m.aborted = true
			return m, tea.Quit
		}

	case tickMsg:
		ctx := context.Background()
		for _, name := range m.motors {
			servo := m.servoMap[m.ids[name].ID]
			pos, err := servo.Position(ctx)
			if err != nil {
				continue
			}
			m.curPositions[name] = pos
			m.minPositions[name] = min(m.minPositions[name], pos)
			m.maxPositions[name] = max(m.maxPositions[name], pos)
		}
		return m, tick()
	}

	return m, nil
}

func (m calibrationModel) View() string {
	if m.quitting {
		return ""
	}

	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableMotorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCellStyle := lipgloss.NewStyle().Padding(0, 1)
	tableCurrentStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Padding(0, 1)
	tableRangeGoodStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)
	tableRangeLowStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)

	rows := make([][]string, 0, len(m.motors))
	ranges := make([]int, 0, len(m.motors))
	for _, name := range m.motors {
		rangeSize := m.maxPositions[name] - m.minPositions[name]
		ranges = append(ranges, rangeSize)
		rows = append(rows, []string{
			string(name),
			fmt.Sprintf("%d", m.curPositions[name]),
			fmt.Sprintf("%d", m.minPositions[name]),
			fmt.Sprintf("%d", m.maxPositions[name]),
			fmt.Sprintf("%d", rangeSize),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Motor", "Current", "Min", "Max", "Range").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			switch col {
			case 0:
				return tableMotorStyle
			case 1:
				return tableCurrentStyle
			case 4:
				if row >= 0 && row < len(ranges) && ranges[row] > 300 {
					return tableRangeGoodStyle
				}
				return tableRangeLowStyle
			default:
				return tableCellStyle
			}
		})

	var sb strings.Builder
	sb.WriteString(t.Render())
	sb.WriteString("\n\n")
	sb.WriteString(dimStyle.Render("Press Enter when done, q to abort"))
	return sb.String()
}
