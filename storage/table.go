package storage

import (
	"os"
	"path/filepath"
)

// ColumnTable is one append-only, memory-mapped file per non-array type
// (spec §4.E): an 8-byte record-count header followed by fixed-size
// records, soft-deleted by zeroing rather than shrinking the file.
type ColumnTable struct {
	mapped     *mappedFile
	recordSize int
}

// newColumnTable opens path if it already exists; otherwise it defers file
// creation until the first Insert (spec §4.E: "construction is lazy").
func newColumnTable(path string, recordSize int, opts Options, log Logger) (*ColumnTable, error) {
	m, err := openOrCreateMapped(path, recordSize, opts, log)
	if err != nil {
		return nil, err
	}
	return &ColumnTable{mapped: m, recordSize: recordSize}, nil
}

func (t *ColumnTable) Count() uint64 { return t.mapped.count }

// Insert appends bytes (exactly recordSize long) and returns the index it
// was stored at, growing or lazily creating the backing file as needed.
func (t *ColumnTable) Insert(bytes []byte) (uint32, error) {
	if err := os.MkdirAll(filepath.Dir(t.mapped.path), 0o755); err != nil {
		return 0, err
	}
	if err := t.mapped.ensureCreated(); err != nil {
		return 0, err
	}
	if t.mapped.count >= t.mapped.capacity {
		if err := t.mapped.grow(); err != nil {
			return 0, err
		}
	}
	index := t.mapped.count
	t.mapped.writeRecord(index, bytes)
	t.mapped.setCount(index + 1)
	if err := t.mapped.flush(); err != nil {
		return 0, err
	}
	return uint32(index), nil
}

func (t *ColumnTable) Get(index uint32) ([]byte, error) {
	if err := t.mapped.checkIndex(uint64(index)); err != nil {
		return nil, err
	}
	return t.mapped.readRecord(uint64(index)), nil
}

func (t *ColumnTable) Update(index uint32, bytes []byte) error {
	if err := t.mapped.checkIndex(uint64(index)); err != nil {
		return err
	}
	t.mapped.writeRecord(uint64(index), bytes)
	return t.mapped.flush()
}

func (t *ColumnTable) Delete(index uint32) error {
	if err := t.mapped.checkIndex(uint64(index)); err != nil {
		return err
	}
	t.mapped.writeRecord(uint64(index), make([]byte, t.recordSize))
	return t.mapped.flush()
}

func (t *ColumnTable) IsDeleted(index uint32) (bool, error) {
	b, err := t.Get(index)
	if err != nil {
		return false, err
	}
	for _, c := range b {
		if c != 0 {
			return false, nil
		}
	}
	return true, nil
}

func (t *ColumnTable) Close() error { return t.mapped.close() }
