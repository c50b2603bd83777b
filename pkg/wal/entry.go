package wal

import (
	"encoding/binary"
	"io"
)

// Header and entry-framing constants, unchanged from the teacher's WAL
// format: a fixed 24-byte header in front of every payload.
const (
	HeaderSize = 24
	WALVersion = 1

	WALMagic = 0xDEADBEEF
)

// EntryType enumerates the record kinds this engine's WAL carries.
// Unlike the teacher's document-level Insert/Update/Delete records,
// every data-changing record here is a PAGE_WRITE: the engine logs
// physical before/after page images, not logical row operations, so
// redo and undo never need to re-run row-level logic during recovery.
const (
	EntryFormatHeader uint8 = iota + 1
	EntryBegin
	EntryPageWrite
	EntryAllocPage
	EntryFreePage
	EntryCommit
	EntryRollback
	EntryCheckpoint
)

// WalMode is the log mode a table records in its FORMAT_HEADER. The
// mode is stored and reported only: the writer appends every record
// the same way in every mode, and this package has no checkpoint
// routine, so the log is never truncated.
type WalMode uint8

const (
	ModeOff WalMode = iota
	// ModeLog is the append-forever mode.
	ModeLog
	ModeTruncate
)

// FormatHeaderPayload is the WAL's own first record: the mode, schema
// fingerprint, and page size it was created under, so a reopen can
// detect an incompatible log before trusting anything else in it.
type FormatHeaderPayload struct {
	Mode              WalMode
	SchemaFingerprint uint64
	PageSize          uint32
}

func EncodeFormatHeader(p FormatHeaderPayload) []byte {
	buf := make([]byte, 13)
	buf[0] = byte(p.Mode)
	binary.LittleEndian.PutUint64(buf[1:9], p.SchemaFingerprint)
	binary.LittleEndian.PutUint32(buf[9:13], p.PageSize)
	return buf
}

func DecodeFormatHeader(b []byte) (FormatHeaderPayload, error) {
	if len(b) < 13 {
		return FormatHeaderPayload{}, io.ErrUnexpectedEOF
	}
	return FormatHeaderPayload{
		Mode:              WalMode(b[0]),
		SchemaFingerprint: binary.LittleEndian.Uint64(b[1:9]),
		PageSize:          binary.LittleEndian.Uint32(b[9:13]),
	}, nil
}

// flagCompressed is set in WALHeader.Reserved's low bit when a
// PAGE_WRITE payload's before/after images were compressed with zstd
// before framing. The CRC is always computed over the bytes actually
// written (the compressed form), matching the teacher's
// compute-then-validate-over-wire-bytes discipline in checksum.go.
const flagCompressed uint16 = 0x0001

// WALHeader is the fixed 24-byte record header, unchanged layout from
// the teacher's wal.WALHeader.
type WALHeader struct {
	Magic      uint32
	Version    uint8
	EntryType  uint8
	Reserved   uint16
	LSN        uint64
	PayloadLen uint32
	CRC32      uint32
}

// WALEntry is one complete WAL record.
type WALEntry struct {
	Header  WALHeader
	Payload []byte
}

func (h *WALHeader) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.EntryType
	binary.LittleEndian.PutUint16(buf[6:8], h.Reserved)
	binary.LittleEndian.PutUint64(buf[8:16], h.LSN)
	binary.LittleEndian.PutUint32(buf[16:20], h.PayloadLen)
	binary.LittleEndian.PutUint32(buf[20:24], h.CRC32)
}

func (h *WALHeader) Decode(buf []byte) {
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.Version = buf[4]
	h.EntryType = buf[5]
	h.Reserved = binary.LittleEndian.Uint16(buf[6:8])
	h.LSN = binary.LittleEndian.Uint64(buf[8:16])
	h.PayloadLen = binary.LittleEndian.Uint32(buf[16:20])
	h.CRC32 = binary.LittleEndian.Uint32(buf[20:24])
}

func (h *WALHeader) Compressed() bool { return h.Reserved&flagCompressed != 0 }

func (e *WALEntry) WriteTo(w io.Writer) (int64, error) {
	var headerBuf [HeaderSize]byte
	e.Header.Encode(headerBuf[:])

	n, err := w.Write(headerBuf[:])
	if err != nil {
		return int64(n), err
	}

	m, err := w.Write(e.Payload)
	return int64(n + m), err
}

// PageWritePayload is the decoded form of an EntryPageWrite record:
// before and after full-page images bracketing one page's change
// within a transaction, enough for both redo (reapply After) and undo
// (reapply Before) during recovery (spec §4.6).
type PageWritePayload struct {
	TxnID  uint64
	PageID uint64
	Before []byte
	After  []byte
}

// EncodePageWrite renders a PageWritePayload as the wire format:
// TxnID(8) PageID(8) BeforeLen(4) Before AfterLen(4) After.
func EncodePageWrite(p PageWritePayload) []byte {
	buf := make([]byte, 8+8+4+len(p.Before)+4+len(p.After))
	binary.LittleEndian.PutUint64(buf[0:8], p.TxnID)
	binary.LittleEndian.PutUint64(buf[8:16], p.PageID)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(p.Before)))
	off := 20
	copy(buf[off:], p.Before)
	off += len(p.Before)
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(p.After)))
	off += 4
	copy(buf[off:], p.After)
	return buf
}

// DecodePageWrite is the inverse of EncodePageWrite.
func DecodePageWrite(b []byte) (PageWritePayload, error) {
	if len(b) < 20 {
		return PageWritePayload{}, io.ErrUnexpectedEOF
	}
	p := PageWritePayload{
		TxnID:  binary.LittleEndian.Uint64(b[0:8]),
		PageID: binary.LittleEndian.Uint64(b[8:16]),
	}
	beforeLen := binary.LittleEndian.Uint32(b[16:20])
	off := 20
	if uint32(len(b)-off) < beforeLen {
		return PageWritePayload{}, io.ErrUnexpectedEOF
	}
	p.Before = append([]byte(nil), b[off:off+int(beforeLen)]...)
	off += int(beforeLen)
	if len(b)-off < 4 {
		return PageWritePayload{}, io.ErrUnexpectedEOF
	}
	afterLen := binary.LittleEndian.Uint32(b[off : off+4])
	off += 4
	if uint32(len(b)-off) < afterLen {
		return PageWritePayload{}, io.ErrUnexpectedEOF
	}
	p.After = append([]byte(nil), b[off:off+int(afterLen)]...)
	return p, nil
}

// EncodeTxnID and EncodeTxnPage are the trivial fixed-width payloads
// used by BEGIN/COMMIT and ALLOC_PAGE/FREE_PAGE records respectively.
func EncodeTxnID(id uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, id)
	return buf
}

func DecodeTxnID(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }

func EncodeTxnPage(txnID, pageID uint64) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], txnID)
	binary.LittleEndian.PutUint64(buf[8:16], pageID)
	return buf
}

func DecodeTxnPage(b []byte) (txnID, pageID uint64) {
	return binary.LittleEndian.Uint64(b[0:8]), binary.LittleEndian.Uint64(b[8:16])
}

// EncodeCheckpoint/DecodeCheckpoint carry the safe LSN a CHECKPOINT
// record advances recovery's starting point to.
func EncodeCheckpoint(safeLSN uint64) []byte { return EncodeTxnID(safeLSN) }

func DecodeCheckpoint(b []byte) uint64 { return DecodeTxnID(b) }
