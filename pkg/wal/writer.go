package wal

import (
	"bufio"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/flintdb/flint/pkg/ferrors"
)

// WALWriter appends framed records to a single append-only log file and
// assigns each one a monotonically increasing LSN. The buffering and
// sync-policy machinery (bufio + three sync strategies + background
// ticker) is unchanged from the teacher's WALWriter; what's new is LSN
// assignment and optional zstd compression of PAGE_WRITE payloads,
// needed so pkg/bufferpool can enforce write-ahead-logging by LSN.
type WALWriter struct {
	mu      sync.Mutex
	file    *os.File
	writer  *bufio.Writer
	options Options
	encoder *zstd.Encoder

	batchBytes int64
	lastLSN    uint64
	durableLSN uint64

	done   chan struct{}
	ticker *time.Ticker
	closed bool
}

// NewWALWriter opens or creates the log file at path. startLSN should
// be the highest LSN already durable on disk (0 for a brand-new log),
// so LSNs stay monotonic across restarts.
func NewWALWriter(path string, opts Options, startLSN uint64) (*WALWriter, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, &ferrors.IoError{Op: "open wal", Path: path, Err: err}
	}

	w := &WALWriter{
		file:       f,
		writer:     bufio.NewWriterSize(f, opts.BufferSize),
		options:    opts,
		done:       make(chan struct{}),
		lastLSN:    startLSN,
		durableLSN: startLSN,
	}

	if opts.Compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			f.Close()
			return nil, ferrors.Wrap(err, "creating zstd encoder")
		}
		w.encoder = enc
	}

	if opts.SyncPolicy == SyncInterval {
		w.ticker = time.NewTicker(opts.SyncIntervalDuration)
		go w.backgroundSync()
	}

	return w, nil
}

// Append frames entryType/payload as one WAL record, assigns it the
// next LSN, and writes it through the configured sync policy. Returns
// the assigned LSN.
func (w *WALWriter) Append(entryType uint8, payload []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.lastLSN++
	lsn := w.lastLSN

	reserved := uint16(0)
	if entryType == EntryPageWrite && w.encoder != nil {
		payload = w.encoder.EncodeAll(payload, nil)
		reserved |= flagCompressed
	}

	entry := AcquireEntry()
	defer ReleaseEntry(entry)
	entry.Header = WALHeader{
		Magic:      WALMagic,
		Version:    WALVersion,
		EntryType:  entryType,
		Reserved:   reserved,
		LSN:        lsn,
		PayloadLen: uint32(len(payload)),
		CRC32:      CalculateCRC32(payload),
	}
	entry.Payload = append(entry.Payload[:0], payload...)

	n, err := entry.WriteTo(w.writer)
	if err != nil {
		return 0, &ferrors.IoError{Op: "append wal entry", Path: w.file.Name(), Err: err}
	}
	w.batchBytes += n

	switch w.options.SyncPolicy {
	case SyncEveryWrite:
		if err := w.syncLocked(); err != nil {
			return 0, err
		}
	case SyncBatch:
		if w.batchBytes >= w.options.SyncBatchBytes {
			if err := w.syncLocked(); err != nil {
				return 0, err
			}
		}
	}

	return lsn, nil
}

// DurableLSN returns the highest LSN fsynced to disk so far.
func (w *WALWriter) DurableLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.durableLSN
}

// SyncUpTo blocks until the WAL has fsynced at least lsn. Because the
// writer serializes all appends and syncs behind one mutex, any sync
// call made after lsn was assigned necessarily covers it.
func (w *WALWriter) SyncUpTo(lsn uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.durableLSN >= lsn {
		return nil
	}
	return w.syncLocked()
}

// Sync forces the buffered writer and the underlying file to disk.
func (w *WALWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

func (w *WALWriter) syncLocked() error {
	if err := w.writer.Flush(); err != nil {
		return &ferrors.IoError{Op: "flush wal", Path: w.file.Name(), Err: err}
	}
	if err := w.file.Sync(); err != nil {
		return &ferrors.IoError{Op: "fsync wal", Path: w.file.Name(), Err: err}
	}
	w.batchBytes = 0
	w.durableLSN = w.lastLSN
	return nil
}

// Close flushes, syncs, stops the background ticker, and closes the
// file.
func (w *WALWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.ticker != nil {
		w.ticker.Stop()
		close(w.done)
	}
	if w.encoder != nil {
		w.encoder.Close()
	}

	if err := w.syncLocked(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

func (w *WALWriter) backgroundSync() {
	for {
		select {
		case <-w.ticker.C:
			w.Sync()
		case <-w.done:
			return
		}
	}
}
