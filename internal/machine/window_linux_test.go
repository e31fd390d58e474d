//go:build linux

package machine

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/tinyrange/sysint/internal/platform"
)

func TestRegisterWindowsMirrorCoreWrites(t *testing.T) {
	cfg, err := platform.Default("duo")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "regs")
	rw, err := OpenRegisterWindows(cfg, path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { rw.Close() })
	if n := len(rw.Regions()); n != 2 {
		t.Fatalf("mapped %d windows, want 2", n)
	}

	m, err := New(cfg, WithMirrors(rw.Mirrors()...))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.ConnectAll(); err != nil {
		t.Fatal(err)
	}
	if pending := m.RequestIPI(1 << 1); len(pending) != 1 || pending[0].ID() != 1 {
		t.Fatalf("RequestIPI pending = %v, want cpu1", pending)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	page := uint64(os.Getpagesize())
	enable := cfg.Registers.InterruptEnable & (page - 1)
	if got, want := binary.LittleEndian.Uint16(data[enable:]), m.InterruptBlock().Enabled(); got != want || want == 0 {
		t.Fatalf("mirrored enable = %#x, want %#x", got, want)
	}
	ipi := page + cfg.Registers.IPIRequest&(page-1)
	if got := binary.LittleEndian.Uint32(data[ipi:]); got != 1<<1 {
		t.Fatalf("mirrored IPI request = %#x, want 0x2", got)
	}
}

func TestRegisterWindowsSingleMapWithoutIPI(t *testing.T) {
	cfg, err := platform.Default("jazz")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "regs")
	rw, err := OpenRegisterWindows(cfg, path)
	if err != nil {
		t.Fatal(err)
	}
	defer rw.Close()

	if n := len(rw.Mirrors()); n != 1 {
		t.Fatalf("mapped %d windows, want 1", n)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() != int64(os.Getpagesize()) {
		t.Fatalf("register file size = %d, want one page", fi.Size())
	}
	if !rw.Regions()[0].Contains(cfg.Registers.InterruptEnable, 2) {
		t.Fatalf("window %v does not cover the enable register", rw.Regions()[0])
	}
}
