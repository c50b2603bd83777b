package wal

import "time"

// SyncPolicy selects the durability strategy.
type SyncPolicy int

const (
	// SyncEveryWrite fsyncs after every write. Safest, slowest.
	SyncEveryWrite SyncPolicy = iota

	// SyncInterval fsyncs periodically from a background goroutine.
	SyncInterval

	// SyncBatch fsyncs once accumulated bytes cross SyncBatchBytes.
	SyncBatch
)

// Options configures a Writer.
type Options struct {
	// DirPath is not read by NewWALWriter, which takes the log file's
	// full path; pkg/table treats an empty DirPath as "use
	// DefaultOptions()".
	DirPath string

	// BufferSize is the bufio buffer size in front of the file.
	BufferSize int

	SyncPolicy SyncPolicy

	// SyncIntervalDuration is the tick period for SyncInterval.
	SyncIntervalDuration time.Duration

	// SyncBatchBytes triggers a sync once crossed, for SyncBatch.
	SyncBatchBytes int64

	// Compress enables zstd compression of PAGE_WRITE before/after
	// images. Off by default; short pages rarely compress well enough
	// to be worth the CPU.
	Compress bool
}

// DefaultOptions returns a balanced, safe-by-default configuration.
func DefaultOptions() Options {
	return Options{
		DirPath:              "./wal_data",
		BufferSize:           64 * 1024,
		SyncPolicy:           SyncInterval,
		SyncIntervalDuration: 200 * time.Millisecond,
		SyncBatchBytes:       1 * 1024 * 1024,
		Compress:             false,
	}
}
