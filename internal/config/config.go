package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ErrConflictingSources is returned when both includeVerilogLibraries and
// its alias extSrcs are set.
var ErrConflictingSources = errors.New(`cannot specify both "includeVerilogLibraries" and "extSrcs"`)

// Config is the top-level configuration for tbgen
type Config struct {
	// Simulator selects the backend: "ncsim", "vcs" or "iverilog"
	Simulator string `json:"simulator,omitempty"`

	// Directory holds generated collateral and is the simulator's working directory
	Directory string `json:"directory,omitempty"`

	// Timescale is passed to the simulator, e.g. "1ns/1ns"
	Timescale string `json:"timescale,omitempty"`

	// ClockStepDelay is the delay inserted after every poke
	ClockStepDelay int `json:"clockStepDelay,omitempty"`

	// NumCycles bounds the ncsim run command
	NumCycles int `json:"numCycles,omitempty"`

	// DumpVCD enables waveform dumping (default true)
	DumpVCD *bool `json:"dumpVcd,omitempty"`

	NoWarning bool `json:"noWarning,omitempty"`

	// ExtModelFile skips the generated device model; defaults to ExtTestBench
	ExtModelFile *bool `json:"extModelFile,omitempty"`

	// ExtTestBench runs an existing testbench instead of generating one
	ExtTestBench bool `json:"extTestBench,omitempty"`

	// ExtLibs are searched for module definitions but not compiled
	ExtLibs []string `json:"extLibs,omitempty"`

	// Defines maps preprocessor names to optional values
	Defines map[string]*string `json:"defines,omitempty"`

	// Flags are appended verbatim to the compile command
	Flags []string `json:"flags,omitempty"`

	IncDirs []string `json:"incDirs,omitempty"`

	// TopModule overrides the simulation top
	TopModule string `json:"topModule,omitempty"`

	// IncludeVerilogLibraries are extra sources compiled after the model
	IncludeVerilogLibraries []string `json:"includeVerilogLibraries,omitempty"`

	// ExtSrcs is a shorter alias for IncludeVerilogLibraries
	ExtSrcs []string `json:"extSrcs,omitempty"`

	// UseInputWires drives DUT inputs through shadow wires
	UseInputWires bool `json:"useInputWires,omitempty"`

	Power PowerConfig `json:"power,omitempty"`

	// Env is added to the simulator environment
	Env map[string]string `json:"env,omitempty"`

	// MaxParallel limits concurrent suite runs (0 = number of suites)
	MaxParallel int `json:"maxParallel,omitempty"`

	// PolicyDir holds additional .rego checks
	PolicyDir string `json:"policyDir,omitempty"`

	Timing TimingConfig `json:"timing,omitempty"`

	// File is the path the configuration was loaded from, if any
	File string `json:"-"`
}

// PowerConfig names ports that are declared as supply or tri nets
type PowerConfig struct {
	Supply0s []string `json:"supply0s,omitempty"`
	Supply1s []string `json:"supply1s,omitempty"`
	Tris     []string `json:"tris,omitempty"`
}

// TimingConfig controls the JSONL phase timing log
type TimingConfig struct {
	Enabled bool `json:"enabled,omitempty"`

	// Path is the output file (relative to Directory if not absolute)
	Path string `json:"path,omitempty"`
}

const (
	defaultDirectory      = "build"
	defaultTimescale      = "1ns/1ns"
	defaultClockStepDelay = 5
	defaultNumCycles      = 10000
)

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Simulator:      "iverilog",
		Directory:      defaultDirectory,
		Timescale:      defaultTimescale,
		ClockStepDelay: defaultClockStepDelay,
		NumCycles:      defaultNumCycles,
		DumpVCD:        boolPtr(true),
		Defines:        map[string]*string{},
	}
}

func boolPtr(v bool) *bool {
	return &v
}

// Load finds and loads the configuration file
// Search order:
//  1. ./tbgen.json (current working directory)
//  2. ./.tbgen.json (current working directory)
//  3. <rootPath>/tbgen.json (if different from cwd)
//  4. ~/.config/tbgen/config.json
//
// Returns DefaultConfig if no config file is found
func Load(rootPath string) (*Config, error) {
	cwd, _ := os.Getwd()

	searchPaths := []string{
		filepath.Join(cwd, "tbgen.json"),
		filepath.Join(cwd, ".tbgen.json"),
	}

	if info, err := os.Stat(rootPath); err == nil && info.IsDir() {
		absRoot, _ := filepath.Abs(rootPath)
		if absRoot != cwd {
			searchPaths = append(searchPaths,
				filepath.Join(rootPath, "tbgen.json"),
				filepath.Join(rootPath, ".tbgen.json"),
			)
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".config", "tbgen", "config.json"))
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}

	cfg := DefaultConfig()
	cfg.applyEnv()
	return cfg, nil
}

// LoadFile loads configuration from a specific file
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.File = path
	return cfg, nil
}

// Parse decodes a configuration document and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if len(cfg.IncludeVerilogLibraries) > 0 && len(cfg.ExtSrcs) > 0 {
		return nil, ErrConflictingSources
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	return &cfg, nil
}

// applyDefaults fills in missing configuration with defaults
func (c *Config) applyDefaults() {
	if c.Simulator == "" {
		c.Simulator = "iverilog"
	}
	if c.Directory == "" {
		c.Directory = defaultDirectory
	}
	if c.Timescale == "" {
		c.Timescale = defaultTimescale
	}
	if c.ClockStepDelay == 0 {
		c.ClockStepDelay = defaultClockStepDelay
	}
	if c.NumCycles == 0 {
		c.NumCycles = defaultNumCycles
	}
	if c.DumpVCD == nil {
		c.DumpVCD = boolPtr(true)
	}
	if c.ExtModelFile == nil {
		c.ExtModelFile = boolPtr(c.ExtTestBench)
	}
	if c.Defines == nil {
		c.Defines = make(map[string]*string)
	}
}

func (c *Config) applyEnv() {
	if sim := os.Getenv("TBGEN_SIMULATOR"); sim != "" {
		c.Simulator = sim
	}
	if path := os.Getenv("TBGEN_TIMING_JSONL"); path != "" {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		c.Timing.Enabled = true
		c.Timing.Path = path
	}
}

// Save writes the configuration to a file
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Sources returns the extra compiled sources under whichever name was used.
func (c *Config) Sources() []string {
	if len(c.IncludeVerilogLibraries) > 0 {
		return c.IncludeVerilogLibraries
	}
	return c.ExtSrcs
}

// VCD reports whether waveform dumping is on.
func (c *Config) VCD() bool {
	return c.DumpVCD == nil || *c.DumpVCD
}

// ModelExternal reports whether the device model is supplied by the user.
func (c *Config) ModelExternal() bool {
	if c.ExtModelFile == nil {
		return c.ExtTestBench
	}
	return *c.ExtModelFile
}

// Define is one preprocessor definition.
type Define struct {
	Name  string
	Value *string
}

// SortedDefines returns the defines ordered by name.
func (c *Config) SortedDefines() []Define {
	names := make([]string, 0, len(c.Defines))
	for name := range c.Defines {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Define, 0, len(names))
	for _, name := range names {
		out = append(out, Define{Name: name, Value: c.Defines[name]})
	}
	return out
}

// TimingPath returns where phase timings go, or "" when disabled.
func (c *Config) TimingPath() string {
	if !c.Timing.Enabled {
		return ""
	}
	path := c.Timing.Path
	if path == "" {
		path = "timing.jsonl"
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Directory, path)
}
