package cpu

import (
	"testing"

	"github.com/tinyrange/sysint/internal/irql"
)

func TestProcessorRaiseLower(t *testing.T) {
	p := NewProcessor(0)

	prior := p.Raise(irql.Dispatch)
	if prior != irql.Passive {
		t.Fatalf("prior = %v, want passive", prior)
	}
	inner := p.Raise(irql.High)
	if inner != irql.Dispatch {
		t.Fatalf("nested prior = %v, want dispatch", inner)
	}
	p.Lower(inner)
	p.Lower(prior)
	if p.Level() != irql.Passive {
		t.Fatalf("level = %v, want passive", p.Level())
	}
}

func TestProcessorRaiseBelowCurrentPanics(t *testing.T) {
	p := NewProcessor(1)
	p.Raise(irql.High)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
		if p.Level() != irql.High {
			t.Fatalf("level after failed raise = %v, want high", p.Level())
		}
	}()
	p.Raise(irql.Dispatch)
}

func TestProcessorLowerAboveCurrentPanics(t *testing.T) {
	p := NewProcessor(1)
	p.Raise(irql.Dispatch)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
		if p.Level() != irql.Dispatch {
			t.Fatalf("level after failed lower = %v, want dispatch", p.Level())
		}
	}()
	p.Lower(irql.Device)
}

func TestProcessorIPILatch(t *testing.T) {
	p := NewProcessor(0)
	if p.TakeIPI() {
		t.Fatal("fresh processor reports a pending IPI")
	}

	p.PostIPI()
	p.PostIPI()
	if !p.IPIPending() {
		t.Fatal("IPI not pending after post")
	}
	if !p.TakeIPI() {
		t.Fatal("TakeIPI returned false with a pending IPI")
	}
	if p.IPIPending() {
		t.Fatal("IPI still pending after take")
	}
	if p.IPICount() != 2 {
		t.Fatalf("IPICount = %d, want 2", p.IPICount())
	}
}

func TestSetPost(t *testing.T) {
	s := NewSet(4)

	dropped := s.Post(1<<1 | 1<<3 | 1<<9)
	if dropped != 1<<9 {
		t.Fatalf("dropped = %#x, want %#x", dropped, uint64(1<<9))
	}
	for _, p := range s.All() {
		want := p.ID() == 1 || p.ID() == 3
		if p.IPIPending() != want {
			t.Fatalf("%v: pending = %v, want %v", p, p.IPIPending(), want)
		}
	}
	if s.Present() != 0xf {
		t.Fatalf("Present = %#x, want 0xf", s.Present())
	}
	if s.Get(4) != nil {
		t.Fatal("Get(4) returned a processor")
	}
}
