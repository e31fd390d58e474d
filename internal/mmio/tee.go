package mmio

// Mirror is an Accessor that serves one fixed register region, such as a
// Window.
type Mirror interface {
	Accessor
	Region() Region
}

// Tee performs every access on a primary Accessor and repeats each write
// that falls inside a mirror's region on that mirror. Reads come from the
// primary only.
type Tee struct {
	primary Accessor
	mirrors []Mirror
}

// NewTee returns a Tee over primary. Nil mirrors are skipped.
func NewTee(primary Accessor, mirrors ...Mirror) *Tee {
	t := &Tee{primary: primary}
	for _, m := range mirrors {
		if m != nil {
			t.mirrors = append(t.mirrors, m)
		}
	}
	return t
}

func (t *Tee) mirror(addr, size uint64) Mirror {
	for _, m := range t.mirrors {
		if m.Region().Contains(addr, size) {
			return m
		}
	}
	return nil
}

func (t *Tee) Read8(addr uint64) uint8   { return t.primary.Read8(addr) }
func (t *Tee) Read16(addr uint64) uint16 { return t.primary.Read16(addr) }
func (t *Tee) Read32(addr uint64) uint32 { return t.primary.Read32(addr) }

func (t *Tee) Write8(addr uint64, v uint8) {
	t.primary.Write8(addr, v)
	if m := t.mirror(addr, 1); m != nil {
		m.Write8(addr, v)
	}
}

func (t *Tee) Write16(addr uint64, v uint16) {
	t.primary.Write16(addr, v)
	if m := t.mirror(addr, 2); m != nil {
		m.Write16(addr, v)
	}
}

func (t *Tee) Write32(addr uint64, v uint32) {
	t.primary.Write32(addr, v)
	if m := t.mirror(addr, 4); m != nil {
		m.Write32(addr, v)
	}
}

// Sync implements Accessor. It returns once the primary and every mirror
// have flushed.
func (t *Tee) Sync() {
	t.primary.Sync()
	for _, m := range t.mirrors {
		m.Sync()
	}
}

var _ Accessor = (*Tee)(nil)
