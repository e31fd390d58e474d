package irql

import "testing"

type recordingController struct {
	current Level
	lowers  []Level
}

func (c *recordingController) Raise(level Level) Level {
	prior := c.current
	c.current = level
	return prior
}

func (c *recordingController) Lower(prior Level) {
	c.lowers = append(c.lowers, prior)
	c.current = prior
}

func TestGuardRestoresPriorLevel(t *testing.T) {
	c := &recordingController{current: Dispatch}

	g := Raise(c, High)
	if c.current != High {
		t.Fatalf("level after raise = %v, want %v", c.current, High)
	}
	if g.Prior() != Dispatch {
		t.Fatalf("prior = %v, want %v", g.Prior(), Dispatch)
	}

	g.Restore()
	if c.current != Dispatch {
		t.Fatalf("level after restore = %v, want %v", c.current, Dispatch)
	}
}

func TestGuardRestoreIsIdempotent(t *testing.T) {
	c := &recordingController{current: Passive}

	g := Raise(c, High)
	g.Restore()
	g.Restore()

	if len(c.lowers) != 1 {
		t.Fatalf("Lower called %d times, want 1", len(c.lowers))
	}
}

func TestGuardRestoresOnEarlyReturn(t *testing.T) {
	c := &recordingController{current: APC}

	func() {
		g := Raise(c, High)
		defer g.Restore()
		if c.current != High {
			return
		}
	}()

	if c.current != APC {
		t.Fatalf("level = %v, want %v", c.current, APC)
	}
}

func TestLevelOrdering(t *testing.T) {
	if !(Passive < Dispatch && Dispatch < EisaDevice && EisaDevice < Device && Device < High) {
		t.Fatalf("levels are not ordered")
	}
	if got := Level(6).String(); got != "level(6)" {
		t.Fatalf("String() = %q", got)
	}
	if got := Level(42).String(); got != "level(42)" {
		t.Fatalf("String() = %q", got)
	}
}
