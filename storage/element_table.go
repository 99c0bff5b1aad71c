package storage

import (
	"bytes"
	"os"
	"path/filepath"
)

// ElementTable is the array/set backing store (spec §4.F): physically
// identical to a ColumnTable, but its records are array elements rather
// than whole composite values, and Insert takes a contiguous run at once.
type ElementTable struct {
	mapped      *mappedFile
	elementSize int
}

func newElementTable(path string, elementSize int, opts Options, log Logger) (*ElementTable, error) {
	m, err := openOrCreateMapped(path, elementSize, opts, log)
	if err != nil {
		return nil, err
	}
	return &ElementTable{mapped: m, elementSize: elementSize}, nil
}

func (t *ElementTable) Count() uint64 { return t.mapped.count }

// Insert appends values contiguously and returns the (start, length) range.
// An empty slice returns (0, 0) without creating the backing file (spec
// §4.F). When isSet is true, values are deduplicated by structural byte
// equality before being stored, mirroring the original prototype's
// array_table set path.
func (t *ElementTable) Insert(values [][]byte, isSet bool) (uint32, uint32, error) {
	if isSet {
		values = dedupeBytes(values)
	}
	if len(values) == 0 {
		return 0, 0, nil
	}

	if err := os.MkdirAll(filepath.Dir(t.mapped.path), 0o755); err != nil {
		return 0, 0, err
	}
	if err := t.mapped.ensureCreated(); err != nil {
		return 0, 0, err
	}

	start := uint32(t.mapped.count)
	for _, v := range values {
		if t.mapped.count >= t.mapped.capacity {
			if err := t.mapped.grow(); err != nil {
				return 0, 0, err
			}
		}
		t.mapped.writeRecord(t.mapped.count, v)
		t.mapped.setCount(t.mapped.count + 1)
	}
	if err := t.mapped.flush(); err != nil {
		return 0, 0, err
	}
	return start, uint32(len(values)), nil
}

// GetRange reads back length elements starting at start.
func (t *ElementTable) GetRange(start, length uint32) ([][]byte, error) {
	out := make([][]byte, length)
	for i := uint32(0); i < length; i++ {
		if err := t.mapped.checkIndex(uint64(start + i)); err != nil {
			return nil, err
		}
		out[i] = t.mapped.readRecord(uint64(start + i))
	}
	return out, nil
}

func (t *ElementTable) Close() error { return t.mapped.close() }

func dedupeBytes(values [][]byte) [][]byte {
	out := make([][]byte, 0, len(values))
	for _, v := range values {
		dup := false
		for _, existing := range out {
			if bytes.Equal(v, existing) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return out
}
