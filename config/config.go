// Package config handles bespoke.toml runtime options.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"
)

// FileName is the options file FindAndLoad looks for.
const FileName = "bespoke.toml"

// Mode controls whether bespoke arrays are used at all.
type Mode int

const (
	// ModeOff keeps every array vanilla.
	ModeOff Mode = iota
	// ModeTest makes every eligible array a logging array and compiles
	// bespoke paths even where no profile asks for them.
	ModeTest
	// ModeProfile profiles, selects layouts and specializes on them.
	ModeProfile
)

var modeNames = [...]string{"off", "test", "profile"}

func (m Mode) String() string {
	if int(m) >= 0 && int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// AllowBespoke reports whether arrays may leave the vanilla layout.
func (m Mode) AllowBespoke() bool { return m > ModeOff }

// ShouldTest reports whether the test-mode behaviors apply.
func (m Mode) ShouldTest() bool { return m == ModeTest }

// Config represents a bespoke.toml file.
type Config struct {
	Profiling Profiling `toml:"profiling"`
	Selection Selection `toml:"selection"`
	JIT       JIT       `toml:"jit"`
	Export    Export    `toml:"export"`
	Log       Log       `toml:"log"`

	// Dir is the directory containing the options file (set at load time).
	Dir string `toml:"-"`
}

// Profiling configures source and sink profiling.
type Profiling struct {
	Mode Mode `toml:"mode"`
	// SampleRate makes every n-th construction at a site a logging array.
	// Zero disables logging arrays.
	SampleRate      uint64 `toml:"sample-rate"`
	MaxProfiles     int64  `toml:"max-profiles"`
	MaxInitObjProps int    `toml:"max-init-obj-props"`
}

// Selection tunes the layout selection policy.
type Selection struct {
	// EscalationThreshold is the share of sampled operations that may
	// force escalation before a monotype layout is rejected.
	EscalationThreshold float64 `toml:"escalation-threshold"`
	// SinkVanillaThreshold is the share of vanilla arrays at which a sink
	// is compiled for vanilla only.
	SinkVanillaThreshold float64 `toml:"sink-vanilla-threshold"`
	// SinkBespokeThreshold is the share of bespoke arrays at which a sink
	// is compiled for the join of its sources' layouts.
	SinkBespokeThreshold float64 `toml:"sink-bespoke-threshold"`
}

// DefaultQueueSize is how many translation requests may wait for a worker.
const DefaultQueueSize = 100

// JIT bounds the compiler.
type JIT struct {
	MaxCodeBytes    int64         `toml:"max-code-bytes"`
	MaxTranslations int64         `toml:"max-translations"`
	LeaseWait       time.Duration `toml:"lease-wait"`
	Workers         int           `toml:"workers"`
	QueueSize       int           `toml:"queue-size"`
}

// Export configures where profiles and decisions are written.
type Export struct {
	Path        string `toml:"path"`
	LayoutsFile string `toml:"layouts-file"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the options used when no file is present.
func Default() *Config {
	c := &Config{Profiling: Profiling{SampleRate: 1}}
	c.applyDefaults()
	return c
}

// applyDefaults fills fields the file left unset.
func (c *Config) applyDefaults() {
	if c.Profiling.MaxProfiles == 0 {
		c.Profiling.MaxProfiles = 1 << 16
	}
	if c.Profiling.MaxInitObjProps == 0 {
		c.Profiling.MaxInitObjProps = 8
	}
	if c.Selection.EscalationThreshold == 0 {
		c.Selection.EscalationThreshold = 0.01
	}
	if c.Selection.SinkVanillaThreshold == 0 {
		c.Selection.SinkVanillaThreshold = 0.8
	}
	if c.Selection.SinkBespokeThreshold == 0 {
		c.Selection.SinkBespokeThreshold = 0.95
	}
	if c.JIT.LeaseWait == 0 {
		c.JIT.LeaseWait = 50 * time.Millisecond
	}
	if c.JIT.Workers == 0 {
		c.JIT.Workers = 1
	}
	if c.JIT.QueueSize == 0 {
		c.JIT.QueueSize = DefaultQueueSize
	}
}

// Load parses the options file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	// Sample rate defaults to 1, but an explicit 0 must survive.
	c := Config{Profiling: Profiling{SampleRate: 1}}
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &c, nil
}

// FindAndLoad walks up from startDir to find a bespoke.toml file and loads
// it. Without one it returns Default().
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// Validate rejects options no component can honor.
func (c *Config) Validate() error {
	if c.Profiling.Mode < ModeOff || c.Profiling.Mode > ModeProfile {
		return fmt.Errorf("profiling.mode: unknown mode %d", int(c.Profiling.Mode))
	}
	for name, v := range map[string]float64{
		"selection.escalation-threshold":   c.Selection.EscalationThreshold,
		"selection.sink-vanilla-threshold": c.Selection.SinkVanillaThreshold,
		"selection.sink-bespoke-threshold": c.Selection.SinkBespokeThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s: %v is not a fraction", name, v)
		}
	}
	if c.JIT.Workers < 0 {
		return fmt.Errorf("jit.workers: %d is negative", c.JIT.Workers)
	}
	if c.JIT.QueueSize < 0 {
		return fmt.Errorf("jit.queue-size: %d is negative", c.JIT.QueueSize)
	}
	return nil
}

// ExportPath resolves the profile export database path.
func (c *Config) ExportPath() string {
	return c.resolve(c.Export.Path)
}

// LayoutsPath resolves the layout decision file path.
func (c *Config) LayoutsPath() string {
	return c.resolve(c.Export.LayoutsFile)
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// ConfigureLogging applies the [log] section to commonlog.
func (c *Config) ConfigureLogging() {
	var path *string
	if c.Log.File != "" {
		p := c.resolve(c.Log.File)
		path = &p
	}
	commonlog.Configure(c.Log.Verbosity, path)
}
