package mmio

import "testing"

type mirrorBus struct {
	*Bus
	region Region
	syncs  int
}

func (m *mirrorBus) Region() Region { return m.region }
func (m *mirrorBus) Sync()          { m.syncs++ }

func newMirrorBus(t *testing.T, dev *scratchDevice) *mirrorBus {
	t.Helper()
	b := NewBusBuilder()
	if err := b.RegisterDevice("mirror", dev); err != nil {
		t.Fatal(err)
	}
	return &mirrorBus{Bus: b.Build(), region: dev.region}
}

func TestTeeRepeatsWritesInsideMirror(t *testing.T) {
	regs := newScratchDevice(0x1000, 0x10)
	ipi := newScratchDevice(0x2000, 0x10)
	b := NewBusBuilder()
	for name, dev := range map[string]*scratchDevice{"regs": regs, "ipi": ipi} {
		if err := b.RegisterDevice(name, dev); err != nil {
			t.Fatal(err)
		}
	}

	shadow := newScratchDevice(0x1000, 0x10)
	mirror := newMirrorBus(t, shadow)
	tee := NewTee(b.Build(), mirror, nil)

	tee.Write16(0x1002, 0x1234)
	tee.Write32(0x2000, 0x5)
	tee.Write8(0x100f, 0x7)
	tee.Sync()

	if regs.writes != 2 || ipi.writes != 1 {
		t.Fatalf("primary writes = %d/%d, want 2/1", regs.writes, ipi.writes)
	}
	if shadow.writes != 2 {
		t.Fatalf("mirror writes = %d, want 2", shadow.writes)
	}
	if got := mirror.Read16(0x1002); got != 0x1234 {
		t.Fatalf("mirror register = %#x, want 0x1234", got)
	}
	if got := tee.Read8(0x100f); got != 0x7 {
		t.Fatalf("Read8 = %#x", got)
	}
	if mirror.syncs != 1 {
		t.Fatalf("mirror syncs = %d, want 1", mirror.syncs)
	}
}

func TestTeeSkipsStraddlingWrite(t *testing.T) {
	primary := newScratchDevice(0x1000, 0x20)
	b := NewBusBuilder()
	if err := b.RegisterDevice("regs", primary); err != nil {
		t.Fatal(err)
	}
	shadow := newScratchDevice(0x1000, 0x10)
	tee := NewTee(b.Build(), newMirrorBus(t, shadow))

	tee.Write32(0x100e, 1)
	if primary.writes != 1 || shadow.writes != 0 {
		t.Fatalf("writes = %d/%d, want 1/0", primary.writes, shadow.writes)
	}
}
