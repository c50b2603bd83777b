package wal

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/flintdb/flint/pkg/ferrors"
)

func TestWALReader_ReadsEntriesInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "order.log")

	w, err := NewWALWriter(path, Options{SyncPolicy: SyncEveryWrite, BufferSize: 1024}, 0)
	if err != nil {
		t.Fatalf("NewWALWriter: %v", err)
	}
	payload1 := []byte("first entry")
	payload2 := []byte("second entry")
	lsn1, err := w.Append(EntryBegin, payload1)
	if err != nil {
		t.Fatalf("Append 1: %v", err)
	}
	lsn2, err := w.Append(EntryCommit, payload2)
	if err != nil {
		t.Fatalf("Append 2: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := NewWALReader(path)
	if err != nil {
		t.Fatalf("NewWALReader: %v", err)
	}
	defer r.Close()

	read1, err := r.ReadEntry()
	if err != nil {
		t.Fatalf("ReadEntry 1: %v", err)
	}
	if string(read1.Payload) != string(payload1) {
		t.Errorf("payload mismatch: got %s, want %s", read1.Payload, payload1)
	}
	if read1.Header.LSN != lsn1 {
		t.Errorf("LSN mismatch: got %d, want %d", read1.Header.LSN, lsn1)
	}
	ReleaseEntry(read1)

	read2, err := r.ReadEntry()
	if err != nil {
		t.Fatalf("ReadEntry 2: %v", err)
	}
	if read2.Header.LSN != lsn2 {
		t.Errorf("LSN mismatch: got %d, want %d", read2.Header.LSN, lsn2)
	}
	ReleaseEntry(read2)

	if _, err := r.ReadEntry(); err != io.EOF {
		t.Errorf("expected io.EOF at end of log, got %v", err)
	}
}

func TestWALReader_ChecksumMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.log")

	w, err := NewWALWriter(path, Options{SyncPolicy: SyncEveryWrite, BufferSize: 1024}, 0)
	if err != nil {
		t.Fatalf("NewWALWriter: %v", err)
	}
	if _, err := w.Append(EntryBegin, []byte("critical data")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.Seek(int64(HeaderSize+2), 0); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if _, err := f.Write([]byte{0xFF}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f.Close()

	r, err := NewWALReader(path)
	if err != nil {
		t.Fatalf("NewWALReader: %v", err)
	}
	defer r.Close()

	_, err = r.ReadEntry()
	var walCorrupt *ferrors.WalCorruptError
	if err == nil {
		t.Fatal("expected a WalCorruptError reading a corrupted entry")
	}
	if !asWalCorrupt(err, &walCorrupt) {
		t.Errorf("expected *ferrors.WalCorruptError, got %T: %v", err, err)
	}
}

func TestWALReader_TruncatedPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "truncated.log")

	w, err := NewWALWriter(path, Options{SyncPolicy: SyncEveryWrite, BufferSize: 1024}, 0)
	if err != nil {
		t.Fatalf("NewWALWriter: %v", err)
	}
	if _, err := w.Append(EntryBegin, []byte("loooooong data")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := os.Truncate(path, int64(HeaderSize+5)); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	r, err := NewWALReader(path)
	if err != nil {
		t.Fatalf("NewWALReader: %v", err)
	}
	defer r.Close()

	if _, err := r.ReadEntry(); err != io.ErrUnexpectedEOF {
		t.Errorf("expected io.ErrUnexpectedEOF reading a truncated payload, got %v", err)
	}
}

func TestWALReader_InvalidMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "magic.log")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	invalidHeader := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(invalidHeader[0:4], 0xCAFEBABE)
	f.Write(invalidHeader)
	f.Close()

	r, err := NewWALReader(path)
	if err != nil {
		t.Fatalf("NewWALReader: %v", err)
	}
	defer r.Close()

	_, err = r.ReadEntry()
	var walCorrupt *ferrors.WalCorruptError
	if err == nil {
		t.Fatal("expected a WalCorruptError reading a bad magic number")
	}
	if !asWalCorrupt(err, &walCorrupt) {
		t.Errorf("expected *ferrors.WalCorruptError, got %T: %v", err, err)
	}
}

func asWalCorrupt(err error, target **ferrors.WalCorruptError) bool {
	wc, ok := err.(*ferrors.WalCorruptError)
	if ok {
		*target = wc
	}
	return ok
}
