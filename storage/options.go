package storage

// Options configures a Manager's on-disk behavior. The zero value is not
// valid; use DefaultOptions and override individual fields.
type Options struct {
	// InitialFileSize is the size in bytes a column/element file is
	// created at on first write (spec §4.E default: 4096).
	InitialFileSize int64
	// GrowthFactor is the multiplier applied to a file's length each time
	// it runs out of room (spec §4.E default: 2, i.e. doubling).
	GrowthFactor int
	// FsyncEveryFlush additionally calls Msync with MS_SYNC (rather than
	// relying on the kernel's async writeback) after every mutating call.
	// The base protocol (§4.E/§4.F) only requires "flush"; this is an
	// ambient durability knob layered on top, off by default to match the
	// original prototype's plain mmap.flush() behavior.
	FsyncEveryFlush bool
}

// DefaultOptions matches spec §4.E/§4.F exactly: 4096-byte initial files,
// doubling growth, no extra fsync beyond the mandated flush.
func DefaultOptions() Options {
	return Options{
		InitialFileSize: 4096,
		GrowthFactor:    2,
		FsyncEveryFlush: false,
	}
}
