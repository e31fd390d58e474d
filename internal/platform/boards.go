package platform

import (
	"fmt"
	"sort"

	"github.com/tinyrange/sysint/internal/irql"
)

var boards = map[string]func() *Config{
	"jazz": jazz,
	"duo":  duo,
}

// Boards returns the names of the built-in board descriptions.
func Boards() []string {
	names := make([]string, 0, len(boards))
	for name := range boards {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default returns a fresh copy of the named built-in board.
func Default(name string) (*Config, error) {
	fn, ok := boards[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBoard, name)
	}
	return fn(), nil
}

// jazz is the uniprocessor board. It has no IPI register.
func jazz() *Config {
	return &Config{
		Name:       "jazz",
		Processors: 1,

		DeviceVectors:        16,
		MaximumBuiltinVector: 16 + 10,
		EisaVectors:          32,
		MaximumEisaVector:    16,

		DeviceLevel:     irql.Device,
		EisaDeviceLevel: irql.EisaDevice,
		HighLevel:       irql.High,

		EisaAffinity: 1,

		// Bus level 2 is the cascade input; devices jumpered to it are
		// wired to level 9.
		BusLevelRemap: map[uint32]uint32{2: 9},

		Registers: Registers{
			InterruptSource: 0xf0000000,
			InterruptEnable: 0xf0000002,
			EisaControlBase: 0x90000000,
		},

		Devices: []DeviceSpec{
			{Name: "floppy", Interface: "internal", Level: uint32(irql.Device), Vector: 18, Mode: "latched"},
			{Name: "scsi", Interface: "internal", Level: uint32(irql.Device), Vector: 21, Mode: "level"},
			{Name: "ethernet", Interface: "internal", Level: uint32(irql.Device), Vector: 22, Mode: "level"},
			{Name: "keyboard", Interface: "internal", Level: uint32(irql.Device), Vector: 23, Mode: "latched"},
		},
	}
}

// duo is the two processor board with the IPI request register in the DMA
// controller.
func duo() *Config {
	c := jazz()
	c.Name = "duo"
	c.Processors = 2
	c.Registers.IPIRequest = 0x800000a8
	c.Devices = append(c.Devices,
		DeviceSpec{Name: "eisa-net", Interface: "eisa", Level: 10, Mode: "level"},
	)
	return c
}
