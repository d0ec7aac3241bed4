// Package settings loads simulation preferences from JSONC files.
package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"

	"github.com/calvinalkan/evo/internal/dataset"
	"github.com/calvinalkan/evo/pkg/flipbook"
)

// ConfigFileName is the project config file name.
const ConfigFileName = "evo.json"

const filePerms = 0o644

// Simulation modes.
const (
	ModeCPU = "cpu"
)

// Presentation modes, in the order a display should try them.
const (
	PresentMailbox = "mailbox"
	PresentFifo    = "fifo"
)

// Preferences holds all configuration options.
type Preferences struct {
	Window     Window     `json:"window"`
	Simulation Simulation `json:"simulation"`
	Channel    Channel    `json:"channel"`
	Log        Log        `json:"log"`

	// Resolved at load time, not serialized.
	EffectiveCwd string  `json:"-"`
	Sources      Sources `json:"-"`
}

// Window controls the render target.
type Window struct {
	Width        uint32   `json:"width"`
	Height       uint32   `json:"height"`
	PresentModes []string `json:"present_modes"`
}

// Simulation controls the world and its stepping.
type Simulation struct {
	// PlaneWidth and PlaneHeight are the plane size in board units.
	PlaneWidth  float64 `json:"plane_width"`
	PlaneHeight float64 `json:"plane_height"`

	// Number of field cells per row and per column.
	HorizontalGranularity uint32 `json:"horizontal_granularity"`
	VerticalGranularity   uint32 `json:"vertical_granularity"`

	Herbivores Group `json:"herbivores"`
	Predators  Group `json:"predators"`

	// TimeDilation scales wall-clock time before each step.
	TimeDilation float64 `json:"time_dilation"`
	// MaxDiscreteTime is the largest step in seconds; longer steps are clamped.
	MaxDiscreteTime float64 `json:"max_discrete_time"`

	Mode string `json:"mode"`
}

// Group controls one population.
type Group struct {
	Individuals uint32 `json:"individuals"`
	// Budget is the number of individuals allocated per frame. 0 means
	// the same as Individuals.
	Budget       uint32    `json:"budget,omitempty"`
	ViewRadius   float64   `json:"view_radius"`
	InitToRandom bool      `json:"init_to_random"`
	Signature    Pheromone `json:"signature"`
}

// Pheromone is a chemical composition. Channels are clamped to [0, 1].
type Pheromone struct {
	Red   float64 `json:"red"`
	Green float64 `json:"green"`
	Blue  float64 `json:"blue"`
}

// Channel controls the frame channel between simulation and renderer.
type Channel struct {
	LockFree   bool   `json:"lock_free"`
	Engine     string `json:"engine"`
	QueueDepth int    `json:"queue_depth"`
	Arena      string `json:"arena"`
}

// Log controls the logger.
type Log struct {
	Level       string `json:"level"`
	Environment string `json:"environment"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project or explicit config if loaded, empty otherwise
}

// Default returns the default preferences.
func Default() Preferences {
	return Preferences{
		Window: Window{
			Width:        1280,
			Height:       720,
			PresentModes: []string{PresentMailbox, PresentFifo},
		},
		Simulation: Simulation{
			PlaneWidth:            100,
			PlaneHeight:           100,
			HorizontalGranularity: 128,
			VerticalGranularity:   128,
			Herbivores: Group{
				Individuals:  512,
				ViewRadius:   4,
				InitToRandom: true,
				Signature:    Pheromone{Green: 1},
			},
			Predators: Group{
				Individuals:  64,
				ViewRadius:   6,
				InitToRandom: true,
				Signature:    Pheromone{Red: 1},
			},
			TimeDilation:    1,
			MaxDiscreteTime: 0.1,
			Mode:            ModeCPU,
		},
		Channel: Channel{
			Engine:     flipbook.EngineQueue.String(),
			QueueDepth: flipbook.DefaultQueueDepth,
			Arena:      flipbook.ArenaHeap.String(),
		},
		Log: Log{
			Level:       "info",
			Environment: "development",
		},
	}
}

// GlobalConfigPath returns the path to the global config file.
// Uses $XDG_CONFIG_HOME/evo/config.json if set, otherwise ~/.config/evo/config.json.
// Returns empty string if home directory cannot be determined.
func GlobalConfigPath(env map[string]string) string {
	if xdgConfig := env["XDG_CONFIG_HOME"]; xdgConfig != "" {
		return filepath.Join(xdgConfig, "evo", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "evo", "config.json")
	}

	return ""
}

// LoadInput holds the inputs for Load.
type LoadInput struct {
	WorkDirOverride string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath      string            // -c/--config flag value
	Env             map[string]string // environment variables

	// Override is applied last, after all files. nil means no CLI overrides.
	Override func(*Preferences)
}

// Load loads preferences with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config (~/.config/evo/config.json or $XDG_CONFIG_HOME/evo/config.json)
// 3. Project config file at default location (evo.json, if exists)
// 4. Explicit config file via ConfigPath (replaces 3)
// 5. CLI overrides.
//
// Every file is decoded on top of the result of the previous step, so a
// file only changes the keys it mentions.
func Load(input LoadInput) (Preferences, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Preferences{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	prefs := Default()

	globalPath, err := loadGlobal(&prefs, input.Env)
	if err != nil {
		return Preferences{}, err
	}

	projectPath, err := loadProject(&prefs, workDir, input.ConfigPath)
	if err != nil {
		return Preferences{}, err
	}

	if input.Override != nil {
		input.Override(&prefs)
	}

	prefs.normalize()

	validateErr := Validate(prefs)
	if validateErr != nil {
		return Preferences{}, fmt.Errorf("%w: %w", ErrConfigInvalid, validateErr)
	}

	prefs.EffectiveCwd = workDir
	prefs.Sources = Sources{Global: globalPath, Project: projectPath}

	return prefs, nil
}

func loadGlobal(prefs *Preferences, env map[string]string) (string, error) {
	path := GlobalConfigPath(env)
	if path == "" {
		return "", nil
	}

	loaded, err := loadFile(prefs, path, false)
	if err != nil || !loaded {
		return "", err
	}

	return path, nil
}

func loadProject(prefs *Preferences, workDir, configPath string) (string, error) {
	path := filepath.Join(workDir, ConfigFileName)
	mustExist := false

	if configPath != "" {
		path = configPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(workDir, path)
		}

		mustExist = true

		_, statErr := os.Stat(path)
		if statErr != nil {
			return "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
		}
	}

	loaded, err := loadFile(prefs, path, mustExist)
	if err != nil || !loaded {
		return "", err
	}

	return path, nil
}

// loadFile decodes path on top of prefs. If mustExist is false, a missing
// file leaves prefs unchanged and reports loaded=false.
func loadFile(prefs *Preferences, path string, mustExist bool) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !mustExist {
			return false, nil
		}

		if mustExist {
			return false, fmt.Errorf("%w: %s", ErrConfigFileRead, path)
		}

		return false, nil
	}

	parseErr := Parse(data, prefs)
	if parseErr != nil {
		return false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, parseErr)
	}

	return true, nil
}

// Parse decodes JSONC data on top of prefs. Keys absent from data keep
// their current value. Unknown keys are an error.
func Parse(data []byte, prefs *Preferences) error {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("invalid JSONC: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()

	decodeErr := dec.Decode(prefs)
	if decodeErr != nil {
		return fmt.Errorf("invalid JSON: %w", decodeErr)
	}

	return nil
}

// normalize fills derived defaults and clamps ranges.
func (p *Preferences) normalize() {
	for _, g := range []*Group{&p.Simulation.Herbivores, &p.Simulation.Predators} {
		if g.Budget == 0 {
			g.Budget = g.Individuals
		}

		g.Signature.Red = clamp01(g.Signature.Red)
		g.Signature.Green = clamp01(g.Signature.Green)
		g.Signature.Blue = clamp01(g.Signature.Blue)
	}

	p.Channel.Engine = strings.ToLower(p.Channel.Engine)
	p.Channel.Arena = strings.ToLower(p.Channel.Arena)
	p.Log.Level = strings.ToLower(p.Log.Level)
	p.Log.Environment = strings.ToLower(p.Log.Environment)
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

var logLevels = []string{"debug", "info", "warn", "error"}

// Validate checks prefs for values the rest of the program cannot run with.
func Validate(p Preferences) error {
	var errs []error

	if p.Window.Width == 0 || p.Window.Height == 0 {
		errs = append(errs, fmt.Errorf("window: size %dx%d must be positive", p.Window.Width, p.Window.Height))
	}

	for _, m := range p.Window.PresentModes {
		if m != PresentMailbox && m != PresentFifo {
			errs = append(errs, fmt.Errorf("window.present_modes: unknown mode %q", m))
		}
	}

	sim := p.Simulation

	if sim.PlaneWidth <= 0 || sim.PlaneHeight <= 0 {
		errs = append(errs, fmt.Errorf("simulation: plane %vx%v must be positive", sim.PlaneWidth, sim.PlaneHeight))
	}

	if sim.HorizontalGranularity == 0 || sim.VerticalGranularity == 0 {
		errs = append(errs, errors.New("simulation: granularity must be positive"))
	}

	if sim.TimeDilation <= 0 {
		errs = append(errs, fmt.Errorf("simulation.time_dilation: %v must be positive", sim.TimeDilation))
	}

	if sim.MaxDiscreteTime <= 0 {
		errs = append(errs, fmt.Errorf("simulation.max_discrete_time: %v must be positive", sim.MaxDiscreteTime))
	}

	if sim.Mode != ModeCPU {
		errs = append(errs, fmt.Errorf("simulation.mode: unsupported mode %q", sim.Mode))
	}

	errs = append(errs, validateGroup("simulation.herbivores", sim.Herbivores)...)
	errs = append(errs, validateGroup("simulation.predators", sim.Predators)...)

	engine, err := flipbook.ParseEngineKind(p.Channel.Engine)
	if err != nil {
		errs = append(errs, fmt.Errorf("channel.engine: %w", err))
	}

	if p.Channel.LockFree && engine != flipbook.EngineQueue {
		errs = append(errs, errors.New("channel.lock_free: requires the queue engine"))
	}

	if p.Channel.QueueDepth < 0 {
		errs = append(errs, fmt.Errorf("channel.queue_depth: %d must not be negative", p.Channel.QueueDepth))
	}

	if _, err := flipbook.ParseArenaKind(p.Channel.Arena); err != nil {
		errs = append(errs, fmt.Errorf("channel.arena: %w", err))
	}

	if !slices.Contains(logLevels, p.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", p.Log.Level))
	}

	if p.Log.Environment != "development" && p.Log.Environment != "production" {
		errs = append(errs, fmt.Errorf("log.environment: unknown environment %q", p.Log.Environment))
	}

	return errors.Join(errs...)
}

func validateGroup(name string, g Group) []error {
	var errs []error

	if g.Budget < g.Individuals {
		errs = append(errs, fmt.Errorf("%s: budget %d is less than individuals %d", name, g.Budget, g.Individuals))
	}

	if g.ViewRadius < 0 {
		errs = append(errs, fmt.Errorf("%s.view_radius: %v must not be negative", name, g.ViewRadius))
	}

	return errs
}

// Dataset returns the population parameters of g.
func (g Group) Dataset() dataset.Group {
	return dataset.Group{
		Individuals:  g.Individuals,
		Budget:       g.Budget,
		InitToRandom: g.InitToRandom,
		Signature: dataset.Pheromone{
			Red:   g.Signature.Red,
			Green: g.Signature.Green,
			Blue:  g.Signature.Blue,
		},
	}
}

// ChannelOptions returns the flipbook options described by c. Layout and
// callbacks are left for the caller.
func (c Channel) ChannelOptions() (flipbook.Options, error) {
	engine, err := flipbook.ParseEngineKind(c.Engine)
	if err != nil {
		return flipbook.Options{}, err
	}

	arena, err := flipbook.ParseArenaKind(c.Arena)
	if err != nil {
		return flipbook.Options{}, err
	}

	return flipbook.Options{
		LockFree:   c.LockFree,
		Engine:     engine,
		QueueDepth: c.QueueDepth,
		Arena:      arena,
	}, nil
}

// Format returns prefs as indented JSON.
func Format(p Preferences) (string, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", fmt.Errorf("cannot format config: %w", err)
	}

	return string(data), nil
}

// Save writes prefs to path atomically. Existing files are replaced only if
// overwrite is true.
func Save(path string, p Preferences, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		}
	}

	formatted, err := Format(p)
	if err != nil {
		return err
	}

	mkErr := os.MkdirAll(filepath.Dir(path), 0o755)
	if mkErr != nil {
		return fmt.Errorf("cannot create config directory: %w", mkErr)
	}

	writeErr := atomic.WriteFile(path, strings.NewReader(formatted+"\n"))
	if writeErr != nil {
		return fmt.Errorf("failed to write config file: %w", writeErr)
	}

	// atomic.WriteFile doesn't set permissions for new files
	chmodErr := os.Chmod(path, filePerms)
	if chmodErr != nil {
		return fmt.Errorf("failed to set file permissions: %w", chmodErr)
	}

	return nil
}
