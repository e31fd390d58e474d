//go:build linux

package mmio

import (
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Window is an Accessor over a shared memory mapping of a register file,
// such as a UIO device node or a file shared with a board emulator. Bus
// address base corresponds to byte 0 of the mapping.
type Window struct {
	base uint64
	mem  []byte
	f    *os.File

	lastWrite atomic.Uint64
}

// OpenWindow maps size bytes of path starting at offset. Addresses
// [base, base+size) are then served from the mapping. base must be word
// aligned so that Sync can read back the word of any write.
func OpenWindow(path string, offset int64, size int, base uint64) (*Window, error) {
	if size <= 0 || size%4 != 0 {
		return nil, fmt.Errorf("mmio: window size %d must be a positive multiple of 4", size)
	}
	if base%4 != 0 {
		return nil, fmt.Errorf("mmio: window base %#x must be 4-byte aligned", base)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("mmio: open %s: %w", path, err)
	}
	mem, err := unix.Mmap(int(f.Fd()), offset, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmio: map %s: %w", path, err)
	}
	w := &Window{base: base, mem: mem, f: f}
	w.lastWrite.Store(base)
	return w, nil
}

// Close unmaps the window.
func (w *Window) Close() error {
	if w.mem == nil {
		return nil
	}
	err := unix.Munmap(w.mem)
	w.mem = nil
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Region returns the bus addresses served by the window.
func (w *Window) Region() Region {
	return Region{Address: w.base, Size: uint64(len(w.mem))}
}

func (w *Window) ptr(addr uint64, size uint64) unsafe.Pointer {
	if !w.Region().Contains(addr, size) {
		slog.Warn("mmio: window access out of range", "addr", fmt.Sprintf("%#x", addr), "size", size)
		return nil
	}
	off := addr - w.base
	if off%size != 0 {
		slog.Warn("mmio: unaligned window access", "addr", fmt.Sprintf("%#x", addr), "size", size)
		return nil
	}
	return unsafe.Pointer(&w.mem[off])
}

func (w *Window) Read8(addr uint64) uint8 {
	if p := w.ptr(addr, 1); p != nil {
		return *(*uint8)(p)
	}
	return 0
}

func (w *Window) Write8(addr uint64, v uint8) {
	if p := w.ptr(addr, 1); p != nil {
		*(*uint8)(p) = v
		w.lastWrite.Store(addr &^ 3)
	}
}

func (w *Window) Read16(addr uint64) uint16 {
	if p := w.ptr(addr, 2); p != nil {
		return *(*uint16)(p)
	}
	return 0
}

func (w *Window) Write16(addr uint64, v uint16) {
	if p := w.ptr(addr, 2); p != nil {
		*(*uint16)(p) = v
		w.lastWrite.Store(addr &^ 3)
	}
}

func (w *Window) Read32(addr uint64) uint32 {
	if p := w.ptr(addr, 4); p != nil {
		return atomic.LoadUint32((*uint32)(p))
	}
	return 0
}

func (w *Window) Write32(addr uint64, v uint32) {
	if p := w.ptr(addr, 4); p != nil {
		atomic.StoreUint32((*uint32)(p), v)
		w.lastWrite.Store(addr)
	}
}

// Sync reads back the word holding the most recent write. The atomic load
// orders it after every earlier store to the mapping.
func (w *Window) Sync() {
	if p := w.ptr(w.lastWrite.Load(), 4); p != nil {
		atomic.LoadUint32((*uint32)(p))
	}
}

var _ Accessor = (*Window)(nil)
