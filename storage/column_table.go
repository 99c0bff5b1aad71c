// Package storage implements the on-disk column and element tables: one
// memory-mapped append-only file per type, with soft-delete tombstones, and
// the storage manager that owns them (spec §4.E, §4.F, §4.G).
package storage

import (
	"os"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"typedtables/errs"
)

// headerSize is the fixed 8-byte little-endian record-count header that
// precedes every column/element file (spec §4.E).
const headerSize = 8

// mappedFile is the shared mmap lifecycle used by both ColumnTable and
// ElementTable: open-or-create, grow-by-doubling, flush, close. It mirrors
// the original prototype's Table._open_file/_grow_file/_update_count
// exactly, translated from Python's mmap module to golang.org/x/sys/unix.
type mappedFile struct {
	path       string
	file       *os.File
	data       []byte
	recordSize int
	count      uint64
	capacity   uint64
	opts       Options
	log        Logger
}

func openOrCreateMapped(path string, recordSize int, opts Options, log Logger) (*mappedFile, error) {
	if log == nil {
		log = noopLogger
	}
	m := &mappedFile{path: path, recordSize: recordSize, opts: opts, log: log}
	if _, err := os.Stat(path); err == nil {
		if err := m.openExisting(); err != nil {
			return nil, err
		}
		return m, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	// Lazy creation: the caller only creates the file on first write
	// (spec §4.E); Insert calls ensureCreated, not table construction.
	return m, nil
}

// exists reports whether the backing file has been created yet.
func (m *mappedFile) exists() bool {
	return m.file != nil
}

func (m *mappedFile) openExisting() error {
	f, err := os.OpenFile(m.path, os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return err
	}
	m.file = f
	m.data = data
	m.count = getUint64(data[:headerSize])
	m.capacity = uint64(info.Size()-headerSize) / uint64(m.recordSize)
	return nil
}

func (m *mappedFile) createNew() error {
	f, err := os.OpenFile(m.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	size := m.opts.InitialFileSize
	if err := f.Truncate(size); err != nil {
		f.Close()
		return err
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return err
	}
	m.file = f
	m.data = data
	m.count = 0
	m.capacity = uint64(size-headerSize) / uint64(m.recordSize)
	return nil
}

func (m *mappedFile) grow() error {
	currentSize := len(m.data)
	newSize := currentSize * m.opts.GrowthFactor

	if err := unix.Munmap(m.data); err != nil {
		return err
	}
	if err := m.file.Truncate(int64(newSize)); err != nil {
		return err
	}
	data, err := unix.Mmap(int(m.file.Fd()), 0, newSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return err
	}
	m.data = data
	m.capacity = uint64(newSize-headerSize) / uint64(m.recordSize)
	m.log("storage: grew %s from %s to %s", m.path, humanize.Bytes(uint64(currentSize)), humanize.Bytes(uint64(newSize)))
	return nil
}

func (m *mappedFile) recordOffset(index uint64) int {
	return headerSize + int(index)*m.recordSize
}

func (m *mappedFile) writeRecord(index uint64, bytes []byte) {
	off := m.recordOffset(index)
	copy(m.data[off:off+m.recordSize], bytes)
}

func (m *mappedFile) readRecord(index uint64) []byte {
	off := m.recordOffset(index)
	out := make([]byte, m.recordSize)
	copy(out, m.data[off:off+m.recordSize])
	return out
}

func (m *mappedFile) setCount(n uint64) {
	m.count = n
	putUint64(m.data[:headerSize], n)
}

func (m *mappedFile) flush() error {
	flags := unix.MS_ASYNC
	if m.opts.FsyncEveryFlush {
		flags = unix.MS_SYNC
	}
	return unix.Msync(m.data, flags)
}

func (m *mappedFile) close() error {
	if m.data == nil {
		return nil
	}
	if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
		return err
	}
	if err := unix.Munmap(m.data); err != nil {
		return err
	}
	m.data = nil
	if m.file != nil {
		return m.file.Close()
	}
	return nil
}

// ensureCreated lazily creates the backing file on the first write, per
// spec §4.E/§4.G: "Files on disk are created on first successful write."
func (m *mappedFile) ensureCreated() error {
	if m.exists() {
		return nil
	}
	return m.createNew()
}

func (m *mappedFile) checkIndex(index uint64) error {
	if index >= m.count {
		return errs.NewIndexError(int(index), int(m.count))
	}
	return nil
}

func getUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
