// Package platform holds the board wiring data for the interrupt
// controller: vector ranges, levels, register addresses, affinity and the
// EISA level quirks. Boards are described in YAML.
package platform

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/tinyrange/sysint/internal/irql"
	"gopkg.in/yaml.v3"
)

const (
	// BuiltinMaskWidth is the width of the built-in enable register.
	BuiltinMaskWidth = 16
	// MaxEisaLines is the number of lines on a cascaded 8259 pair.
	MaxEisaLines = 16
)

var (
	ErrOverlap      = errors.New("platform: vector ranges overlap")
	ErrMaskWidth    = errors.New("platform: built-in range wider than the enable register")
	ErrEisaLines    = errors.New("platform: too many EISA lines")
	ErrLevel        = errors.New("platform: invalid level")
	ErrRemap        = errors.New("platform: bus level remap target out of range")
	ErrRegister     = errors.New("platform: missing register address")
	ErrProcessors   = errors.New("platform: invalid processor count")
	ErrUnknownBoard = errors.New("platform: unknown board")
)

// Config describes one board.
type Config struct {
	Name       string `yaml:"name"`
	Processors int    `yaml:"processors"`

	// Built-in vectors are (DeviceVectors, MaximumBuiltinVector].
	DeviceVectors        uint32 `yaml:"device_vectors"`
	MaximumBuiltinVector uint32 `yaml:"maximum_builtin_vector"`

	// EISA vectors are [EisaVectors, EisaVectors+MaximumEisaVector).
	EisaVectors       uint32 `yaml:"eisa_vectors"`
	MaximumEisaVector uint32 `yaml:"maximum_eisa_vector"`

	DeviceLevel     irql.Level `yaml:"device_level"`
	EisaDeviceLevel irql.Level `yaml:"eisa_device_level"`
	HighLevel       irql.Level `yaml:"high_level"`

	// EisaAffinity is the set of processors wired to the EISA bus.
	EisaAffinity uint64 `yaml:"eisa_affinity"`

	// BusLevelRemap renumbers EISA bus levels whose wiring differs from
	// their bus numbering.
	BusLevelRemap map[uint32]uint32 `yaml:"bus_level_remap"`

	Registers Registers `yaml:"registers"`

	Devices []DeviceSpec `yaml:"devices,omitempty"`
}

// Registers locates the controller registers on the board.
type Registers struct {
	// InterruptEnable is the 16-bit write-only built-in enable register.
	InterruptEnable uint64 `yaml:"interrupt_enable"`
	// InterruptSource is the 16-bit built-in pending register.
	InterruptSource uint64 `yaml:"interrupt_source"`
	// IPIRequest is the 32-bit IPI request register. Zero means the board
	// has no inter-processor interrupt facility.
	IPIRequest uint64 `yaml:"ipi_request"`
	// EisaControlBase is where EISA I/O port 0 appears in register space.
	EisaControlBase uint64 `yaml:"eisa_control_base"`
}

// DeviceSpec is a device the board connects at bring-up.
type DeviceSpec struct {
	Name      string `yaml:"name"`
	Interface string `yaml:"interface"`
	Bus       uint32 `yaml:"bus"`
	Level     uint32 `yaml:"level"`
	Vector    uint32 `yaml:"vector"`
	// Mode is "level" or "latched".
	Mode string `yaml:"mode"`
}

// HasIPI reports whether the board can post inter-processor interrupts.
func (c *Config) HasIPI() bool {
	return c.Registers.IPIRequest != 0
}

// IsBuiltinVector reports whether v is in the built-in device range.
func (c *Config) IsBuiltinVector(v uint32) bool {
	return v >= c.DeviceVectors+1 && v <= c.MaximumBuiltinVector
}

// IsEisaVector reports whether v is in the EISA range.
func (c *Config) IsEisaVector(v uint32) bool {
	return v >= c.EisaVectors && v < c.EisaVectors+c.MaximumEisaVector
}

// Validate checks the wiring for consistency.
func (c *Config) Validate() error {
	if c.Processors <= 0 || c.Processors > 32 {
		return fmt.Errorf("%w: %d", ErrProcessors, c.Processors)
	}
	if c.MaximumBuiltinVector <= c.DeviceVectors {
		return fmt.Errorf("platform: empty built-in range (%d, %d]", c.DeviceVectors, c.MaximumBuiltinVector)
	}
	if c.MaximumBuiltinVector-c.DeviceVectors > BuiltinMaskWidth {
		return fmt.Errorf("%w: %d vectors", ErrMaskWidth, c.MaximumBuiltinVector-c.DeviceVectors)
	}
	if c.MaximumEisaVector == 0 || c.MaximumEisaVector > MaxEisaLines {
		return fmt.Errorf("%w: %d", ErrEisaLines, c.MaximumEisaVector)
	}
	builtinLo, builtinHi := c.DeviceVectors+1, c.MaximumBuiltinVector
	eisaLo, eisaHi := c.EisaVectors, c.EisaVectors+c.MaximumEisaVector-1
	if builtinLo <= eisaHi && eisaLo <= builtinHi {
		return fmt.Errorf("%w: built-in [%d, %d], eisa [%d, %d]", ErrOverlap, builtinLo, builtinHi, eisaLo, eisaHi)
	}
	if c.HighLevel < irql.High {
		return fmt.Errorf("%w: high level %d is below %v", ErrLevel, c.HighLevel, irql.High)
	}
	if c.EisaDeviceLevel == 0 || c.EisaDeviceLevel >= c.HighLevel {
		return fmt.Errorf("%w: eisa device level %d, high level %d", ErrLevel, c.EisaDeviceLevel, c.HighLevel)
	}
	if c.DeviceLevel == 0 || c.DeviceLevel >= c.HighLevel {
		return fmt.Errorf("%w: device level %d, high level %d", ErrLevel, c.DeviceLevel, c.HighLevel)
	}
	for from, to := range c.BusLevelRemap {
		if to >= c.MaximumEisaVector {
			return fmt.Errorf("%w: %d -> %d", ErrRemap, from, to)
		}
	}
	if c.Registers.InterruptEnable == 0 {
		return fmt.Errorf("%w: interrupt_enable", ErrRegister)
	}
	if c.Registers.EisaControlBase == 0 {
		return fmt.Errorf("%w: eisa_control_base", ErrRegister)
	}
	if c.Processors > 1 && !c.HasIPI() {
		return fmt.Errorf("%w: ipi_request on a %d processor board", ErrRegister, c.Processors)
	}
	return nil
}

// RemapKeys returns the remapped bus levels in ascending order.
func (c *Config) RemapKeys() []uint32 {
	keys := make([]uint32, 0, len(c.BusLevelRemap))
	for k := range c.BusLevelRemap {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Parse decodes a YAML board description on top of the defaults of the board
// it names (or "jazz" when it names none) and validates it.
func Parse(data []byte) (*Config, error) {
	var head struct {
		Name string `yaml:"name"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("platform: parse: %w", err)
	}
	base := head.Name
	if _, ok := boards[base]; !ok {
		base = "jazz"
	}
	cfg, err := Default(base)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("platform: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads a board description from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("platform: read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Marshal encodes the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
