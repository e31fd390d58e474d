package machine

import (
	"errors"
	"math/bits"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/tinyrange/sysint/internal/irql"
	"github.com/tinyrange/sysint/internal/platform"
	"github.com/tinyrange/sysint/internal/sysint"
)

func newMachine(t *testing.T, board string) *Machine {
	t.Helper()
	cfg, err := platform.Default(board)
	if err != nil {
		t.Fatal(err)
	}
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New(%s): %v", board, err)
	}
	return m
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg, _ := platform.Default("duo")
	cfg.Registers.IPIRequest = 0
	if _, err := New(cfg); !errors.Is(err, platform.ErrRegister) {
		t.Fatalf("New = %v, want ErrRegister", err)
	}
}

func TestBringUpClearsEnableRegister(t *testing.T) {
	m := newMachine(t, "jazz")
	if m.InterruptBlock().Writes() != 1 || m.InterruptBlock().Enabled() != 0 {
		t.Fatalf("enable writes=%d value=%#x", m.InterruptBlock().Writes(), m.InterruptBlock().Enabled())
	}
	if !m.PIC().State(0).Initialized || !m.PIC().State(1).Initialized {
		t.Fatal("EISA controller not initialized")
	}
}

func TestConnectAllBuiltinDevices(t *testing.T) {
	m := newMachine(t, "jazz")

	conns, err := m.ConnectAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(conns) != 4 {
		t.Fatalf("connected %d devices, want 4", len(conns))
	}

	// floppy 18, scsi 21, ethernet 22, keyboard 23
	const want = 1<<1 | 1<<4 | 1<<5 | 1<<6
	if got := m.InterruptBlock().Enabled(); got != want {
		t.Fatalf("Enable register = %#x, want %#x", got, want)
	}
	if m.Controller().Mask() != want {
		t.Fatalf("mask mirror = %#x, want %#x", m.Controller().Mask(), want)
	}
	for _, c := range conns {
		if c.Affinity != 1 || c.Level != irql.Device {
			t.Fatalf("%v: unexpected resolution", c)
		}
	}
	if l, _ := m.Level(0); l != irql.Passive {
		t.Fatalf("processor 0 left at %v", l)
	}
}

func TestConnectEisaDeviceProgramsBusController(t *testing.T) {
	m := newMachine(t, "duo")
	spec := platform.DeviceSpec{Name: "eisa-net", Interface: "eisa", Level: 10, Mode: "level"}

	conn, err := m.Connect(spec)
	if err != nil {
		t.Fatal(err)
	}
	if conn.Vector != 42 || conn.Level != irql.EisaDevice || conn.Affinity != 1 {
		t.Fatalf("resolution = %v", conn.Resolution)
	}

	secondary := m.PIC().State(1)
	if secondary.IMR&(1<<2) != 0 {
		t.Fatalf("secondary IMR = %#x, line 2 still masked", secondary.IMR)
	}
	if secondary.ELCR != 1<<2 {
		t.Fatalf("secondary ELCR = %#x", secondary.ELCR)
	}
	if m.Controller().Mask() != 0 {
		t.Fatalf("built-in mask changed: %#x", m.Controller().Mask())
	}
}

func TestConnectRemapsCascadeLevel(t *testing.T) {
	m := newMachine(t, "jazz")

	conn, err := m.Connect(platform.DeviceSpec{Name: "serial", Interface: "isa", Level: 2})
	if err != nil {
		t.Fatal(err)
	}
	if conn.Vector != 41 {
		t.Fatalf("vector = %d, want 41", conn.Vector)
	}
	if conn.Mode != sysint.Latched {
		t.Fatalf("default mode = %v, want latched", conn.Mode)
	}
	if m.PIC().State(1).IMR&(1<<1) != 0 {
		t.Fatal("line 9 still masked")
	}
	if m.PIC().State(0).IMR&(1<<2) != 0 {
		t.Fatal("cascade line masked")
	}
}

func TestConnectErrors(t *testing.T) {
	m := newMachine(t, "jazz")
	if _, err := m.Connect(platform.DeviceSpec{Name: "floppy", Interface: "internal", Level: 4, Vector: 18}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		spec platform.DeviceSpec
		want error
	}{
		{"absent bus", platform.DeviceSpec{Name: "vme", Interface: "vme", Level: 3}, ErrNotPresent},
		{"low vector", platform.DeviceSpec{Name: "low", Interface: "internal", Level: 4, Vector: 5}, ErrUnroutable},
		{"level past range", platform.DeviceSpec{Name: "high", Interface: "eisa", Level: 16}, ErrUnroutable},
		{"duplicate", platform.DeviceSpec{Name: "floppy", Interface: "internal", Level: 4, Vector: 18}, ErrConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Connect(tt.spec); !errors.Is(err, tt.want) {
				t.Fatalf("Connect = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := m.Connect(platform.DeviceSpec{Name: "x", Interface: "nosuchbus"}); err == nil {
		t.Fatal("unknown interface accepted")
	}
	if _, err := m.Connect(platform.DeviceSpec{Name: "y", Interface: "internal", Vector: 19, Mode: "sideways"}); err == nil {
		t.Fatal("unknown mode accepted")
	}
}

func TestDisconnect(t *testing.T) {
	m := newMachine(t, "jazz")
	if _, err := m.ConnectAll(); err != nil {
		t.Fatal(err)
	}

	if err := m.Disconnect("scsi"); err != nil {
		t.Fatal(err)
	}
	if got := m.InterruptBlock().Enabled(); got&(1<<4) != 0 {
		t.Fatalf("Enable register = %#x, scsi still enabled", got)
	}
	if len(m.Connections()) != 3 {
		t.Fatalf("%d connections left", len(m.Connections()))
	}
	if err := m.Disconnect("scsi"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("second Disconnect = %v", err)
	}
}

func TestPendingFollowsEnableMask(t *testing.T) {
	m := newMachine(t, "duo")
	if _, err := m.ConnectAll(); err != nil {
		t.Fatal(err)
	}

	m.Assert(19, true)
	if v, ok := m.Pending(); ok {
		t.Fatalf("disabled vector 19 pending as %d", v)
	}

	m.Assert(21, true)
	if v, ok := m.Pending(); !ok || v != 21 {
		t.Fatalf("Pending = %d, %v, want 21", v, ok)
	}
	m.Assert(21, false)

	m.Assert(42, true)
	v, ok := m.Pending()
	if !ok || v != 42 {
		t.Fatalf("Pending = %d, %v, want 42", v, ok)
	}
	m.Assert(42, false)
	m.Complete(v)
	if _, ok := m.Pending(); ok {
		t.Fatal("interrupt still pending after completion")
	}
}

func TestRequestIPIPostsBeforeReturn(t *testing.T) {
	m := newMachine(t, "duo")

	hit := m.RequestIPI(1 << 1)
	if len(hit) != 1 || hit[0].ID() != 1 {
		t.Fatalf("interrupted %v, want cpu1", hit)
	}
	if m.Processors().Get(0).IPIPending() {
		t.Fatal("cpu0 interrupted")
	}
	if m.IPIRegister().Requests() != 1 || m.IPIRegister().Last() != 1<<1 {
		t.Fatalf("requests=%d last=%#x", m.IPIRegister().Requests(), m.IPIRegister().Last())
	}

	hit = m.RequestIPI(0b11)
	if len(hit) != 2 {
		t.Fatalf("interrupted %v, want both", hit)
	}
}

func TestRequestIPIWithoutFacility(t *testing.T) {
	m := newMachine(t, "jazz")
	writes := m.Bus().Writes()

	if hit := m.RequestIPI(1); len(hit) != 0 {
		t.Fatalf("interrupted %v", hit)
	}
	if m.IPIRegister() != nil || m.IPI().Available() {
		t.Fatal("IPI facility on a board without one")
	}
	if m.Bus().Writes() != writes || m.Bus().Unhandled() != 0 {
		t.Fatal("IPI request touched the bus")
	}
}

func TestGatesOnDifferentProcessors(t *testing.T) {
	m := newMachine(t, "duo")
	m.InterruptBlock().KeepHistory(4096)

	g0, err := m.Gate(0)
	if err != nil {
		t.Fatal(err)
	}
	g1, err := m.Gate(1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Gate(2); !errors.Is(err, ErrNoProcessor) {
		t.Fatalf("Gate(2) = %v", err)
	}

	const rounds = 500
	var eg errgroup.Group
	eg.Go(func() error {
		for i := 0; i < rounds; i++ {
			g0.Enable(17, irql.Device, sysint.Latched)
			g0.Disable(17, irql.Device)
		}
		g0.Enable(17, irql.Device, sysint.Latched)
		return nil
	})
	eg.Go(func() error {
		for i := 0; i < rounds; i++ {
			g1.Enable(26, irql.Device, sysint.Latched)
			g1.Disable(26, irql.Device)
		}
		g1.Enable(26, irql.Device, sysint.Latched)
		return nil
	})
	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}

	const want = 1<<0 | 1<<9
	if got := m.InterruptBlock().Enabled(); got != want {
		t.Fatalf("Enable register = %#x, want %#x", got, want)
	}
	var prev uint16
	for i, v := range m.InterruptBlock().History() {
		if v&^want != 0 || bits.OnesCount16(v^prev) > 1 {
			t.Fatalf("write %d = %#x after %#x", i, v, prev)
		}
		prev = v
	}
	for _, p := range m.Processors().All() {
		if p.Level() != irql.Passive {
			t.Fatalf("%v not restored", p)
		}
	}
}
