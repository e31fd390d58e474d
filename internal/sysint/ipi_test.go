package sysint

import (
	"testing"

	"github.com/tinyrange/sysint/internal/platform"
)

func duoConfig(t *testing.T) *platform.Config {
	t.Helper()
	cfg, err := platform.Default("duo")
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestRequestIPIWritesMaskBeforeReturning(t *testing.T) {
	cfg := duoConfig(t)
	regs := &recordingRegs{}
	d := NewIPIDispatcher(cfg, regs)

	d.Request(1<<1 | 1<<3)
	regs.note("returned")

	writes := regs.snapshot()
	if len(writes) != 1 {
		t.Fatalf("writes = %+v, want exactly one", writes)
	}
	w := writes[0]
	if w.addr != cfg.Registers.IPIRequest || w.size != 4 {
		t.Fatalf("write %+v is not a 32-bit IPI request write", w)
	}
	if w.value != 0b1010 {
		t.Fatalf("value = %#b, want bits 1 and 3", w.value)
	}

	want := []string{"write", "sync", "returned"}
	if len(regs.events) != len(want) {
		t.Fatalf("events = %v, want %v", regs.events, want)
	}
	for i := range want {
		if regs.events[i] != want[i] {
			t.Fatalf("events = %v, want %v", regs.events, want)
		}
	}
}

func TestRequestIPIEmptyMask(t *testing.T) {
	cfg := duoConfig(t)
	regs := &recordingRegs{}

	NewIPIDispatcher(cfg, regs).Request(0)

	writes := regs.snapshot()
	if len(writes) != 1 || writes[0].value != 0 {
		t.Fatalf("writes = %+v, want one write of 0", writes)
	}
}

func TestRequestIPIWithoutFacilityIsNoop(t *testing.T) {
	regs := &recordingRegs{}
	d := NewIPIDispatcher(jazzConfig(t), regs)

	if d.Available() {
		t.Fatal("jazz reports an IPI facility")
	}
	d.Request(0xff)
	if len(regs.events) != 0 {
		t.Fatalf("events = %v, want none", regs.events)
	}

	NewIPIDispatcher(duoConfig(t), nil).Request(1)
}
