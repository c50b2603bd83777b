package wal

import (
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/flintdb/flint/pkg/ferrors"
)

// WALReader reads records back sequentially, used both for crash
// recovery (pkg/table's open path) and for cmd/flintcheck's diagnostic
// dump.
type WALReader struct {
	file    *os.File
	offset  int64
	decoder *zstd.Decoder
}

// NewWALReader opens path for sequential reading.
func NewWALReader(path string) (*WALReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ferrors.IoError{Op: "open wal", Path: path, Err: err}
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		f.Close()
		return nil, ferrors.Wrap(err, "creating zstd decoder")
	}
	return &WALReader{file: f, decoder: dec}, nil
}

// ReadEntry reads the next record, decompressing its payload if the
// compressed flag is set. Returns io.EOF at a clean end of file. A
// header whose magic doesn't match, or whose payload fails its CRC,
// surfaces as WalCorruptError — the caller decides whether that ends
// replay (if it happened after the last COMMIT, it's an incomplete
// tail write from a crash mid-append) or is fatal (inside a committed
// transaction's record range).
func (r *WALReader) ReadEntry() (*WALEntry, error) {
	headerBuf := make([]byte, HeaderSize)
	n, err := io.ReadFull(r.file, headerBuf)
	if err == io.EOF {
		return nil, io.EOF
	}
	if err == io.ErrUnexpectedEOF {
		return nil, io.ErrUnexpectedEOF
	}
	if err != nil {
		return nil, &ferrors.IoError{Op: "read wal header", Path: r.file.Name(), Err: err}
	}
	if n != HeaderSize {
		return nil, io.ErrUnexpectedEOF
	}

	var header WALHeader
	header.Decode(headerBuf)

	if header.Magic != WALMagic {
		return nil, &ferrors.WalCorruptError{Offset: r.offset, Reason: "bad magic"}
	}

	if header.PayloadLen == 0 {
		r.offset += int64(HeaderSize)
		return &WALEntry{Header: header}, nil
	}

	const maxPayload = 1 << 30 // sanity bound against reading garbage as a length
	if header.PayloadLen > maxPayload {
		return nil, &ferrors.WalCorruptError{Offset: r.offset, Reason: "payload length exceeds sanity bound"}
	}

	entry := AcquireEntry()
	entry.Header = header

	if uint32(cap(entry.Payload)) < header.PayloadLen {
		entry.Payload = make([]byte, header.PayloadLen)
	} else {
		entry.Payload = entry.Payload[:header.PayloadLen]
	}

	if _, err := io.ReadFull(r.file, entry.Payload); err != nil {
		ReleaseEntry(entry)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, &ferrors.IoError{Op: "read wal payload", Path: r.file.Name(), Err: err}
	}

	if !ValidateCRC32(entry.Payload, header.CRC32) {
		off := r.offset
		ReleaseEntry(entry)
		return nil, &ferrors.WalCorruptError{Offset: off, Reason: "checksum mismatch"}
	}

	if header.Compressed() {
		plain, err := r.decoder.DecodeAll(entry.Payload, nil)
		if err != nil {
			off := r.offset
			ReleaseEntry(entry)
			return nil, &ferrors.WalCorruptError{Offset: off, Reason: "zstd decompression failed"}
		}
		entry.Payload = append(entry.Payload[:0], plain...)
	}

	r.offset += int64(HeaderSize) + int64(header.PayloadLen)
	return entry, nil
}

func (r *WALReader) Close() error {
	r.decoder.Close()
	return r.file.Close()
}
