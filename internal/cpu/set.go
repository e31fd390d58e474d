package cpu

// Set holds the processors of a board indexed by number.
type Set struct {
	procs []*Processor
}

// NewSet creates n processors numbered from zero.
func NewSet(n int) *Set {
	if n <= 0 {
		n = 1
	}
	s := &Set{procs: make([]*Processor, n)}
	for i := range s.procs {
		s.procs[i] = NewProcessor(i)
	}
	return s
}

// Len returns the number of processors.
func (s *Set) Len() int { return len(s.procs) }

// Get returns processor id, or nil if it does not exist.
func (s *Set) Get(id int) *Processor {
	if id < 0 || id >= len(s.procs) {
		return nil
	}
	return s.procs[id]
}

// All returns the processors in id order.
func (s *Set) All() []*Processor {
	return append([]*Processor(nil), s.procs...)
}

// Present returns the mask of processors that exist.
func (s *Set) Present() uint64 {
	if len(s.procs) >= 64 {
		return ^uint64(0)
	}
	return uint64(1)<<len(s.procs) - 1
}

// Post latches an IPI on every processor whose bit is set in mask. It returns
// the bits that named no processor.
func (s *Set) Post(mask uint64) (dropped uint64) {
	for id := 0; id < 64; id++ {
		bit := uint64(1) << id
		if mask&bit == 0 {
			continue
		}
		if p := s.Get(id); p != nil {
			p.PostIPI()
		} else {
			dropped |= bit
		}
	}
	return dropped
}
