// Package page implements the fixed-size, page-addressed block store the
// rest of the engine is built on (spec §4.2). It replaces the teacher's
// append-only, variable-length document heap (pkg/heap) with a
// random-access, fixed-width page store: every page is PageSize bytes,
// addressed by a monotonically assigned PageID, and pages are recycled
// through a singly-linked free list embedded in the file itself rather
// than ever being compacted.
package page

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/flintdb/flint/pkg/ferrors"
)

const (
	fileMagic      = 0x464c4e54 // "FLNT"
	fileVersion    = 1
	headerPageSize = 64 // header always occupies one fixed-size slot, page 0

	// DefaultPageSize matches the teacher's DefaultMaxSegmentSize order of
	// magnitude scaled down to a realistic on-disk page size.
	DefaultPageSize = 8192

	// DefaultMaxSegmentPages bounds a single segment file's page count so
	// no single OS file grows unbounded, mirroring heap.go's
	// DefaultMaxSegmentSize rotation but in page units instead of bytes.
	DefaultMaxSegmentPages = 8192

	// NullPageID marks the end of the free list or an absent pointer.
	NullPageID uint64 = ^uint64(0)
)

// Header is the store's page-0 metadata, persisted at the front of the
// first segment. It never moves once a store is created.
type Header struct {
	PageSize          uint32
	FreeListHead      uint64
	NextPageID        uint64
	SchemaFingerprint uint64
}

type segment struct {
	id    int
	path  string
	file  *os.File
	pages int64 // number of page slots currently allocated in this segment's file
}

// Store owns the on-disk page files for one table and serializes all
// page I/O behind a single mutex, the same coarse-locking discipline
// heap.go uses for its segment writer. Concurrent readers go through
// the buffer pool's cache instead of hitting the store directly once a
// page is pinned.
type Store struct {
	basePath       string
	pageSize       uint32
	maxSegPages    int64
	segments       []*segment
	header         Header
	mutex          sync.Mutex
}

// Open opens an existing store or creates a new one with the given page
// size if no segment files exist yet. pageSize is ignored when opening
// an existing store; the on-disk value wins.
func Open(basePath string, pageSize uint32) (*Store, error) {
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	s := &Store{
		basePath:    basePath,
		pageSize:    pageSize,
		maxSegPages: DefaultMaxSegmentPages,
	}

	id := 1
	for {
		segPath := fmt.Sprintf("%s_%03d.pages", basePath, id)
		f, err := os.OpenFile(segPath, os.O_RDWR, 0666)
		if os.IsNotExist(err) {
			break
		}
		if err != nil {
			return nil, &ferrors.IoError{Op: "open", Path: segPath, Err: err}
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, &ferrors.IoError{Op: "stat", Path: segPath, Err: err}
		}
		seg := &segment{id: id, path: segPath, file: f, pages: info.Size() / int64(pageSize)}
		s.segments = append(s.segments, seg)
		id++
	}

	if len(s.segments) == 0 {
		return s.bootstrap()
	}

	if err := s.loadHeader(); err != nil {
		return nil, err
	}
	s.pageSize = s.header.PageSize
	return s, nil
}

func (s *Store) bootstrap() (*Store, error) {
	segPath := fmt.Sprintf("%s_%03d.pages", s.basePath, 1)
	f, err := os.OpenFile(segPath, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, &ferrors.IoError{Op: "create", Path: segPath, Err: err}
	}
	seg := &segment{id: 1, path: segPath, file: f}
	s.segments = []*segment{seg}

	s.header = Header{
		PageSize:     s.pageSize,
		FreeListHead: NullPageID,
		NextPageID:   1, // page 0 is reserved for the header
	}
	if err := s.writeHeaderLocked(); err != nil {
		return nil, err
	}
	seg.pages = 1
	return s, nil
}

func (s *Store) loadHeader() error {
	seg := s.segments[0]
	buf := make([]byte, headerPageSize)
	if _, err := seg.file.ReadAt(buf, 0); err != nil {
		return &ferrors.IoError{Op: "read header", Path: seg.path, Err: err}
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != fileMagic {
		return &ferrors.CorruptRecordError{PageID: 0, Reason: "bad store magic"}
	}
	version := binary.LittleEndian.Uint32(buf[4:8])
	if version != fileVersion {
		return &ferrors.CorruptRecordError{PageID: 0, Reason: fmt.Sprintf("unsupported store version %d", version)}
	}
	s.header = Header{
		PageSize:          binary.LittleEndian.Uint32(buf[8:12]),
		FreeListHead:      binary.LittleEndian.Uint64(buf[12:20]),
		NextPageID:        binary.LittleEndian.Uint64(buf[20:28]),
		SchemaFingerprint: binary.LittleEndian.Uint64(buf[28:36]),
	}
	return nil
}

func (s *Store) writeHeaderLocked() error {
	buf := make([]byte, headerPageSize)
	binary.LittleEndian.PutUint32(buf[0:4], fileMagic)
	binary.LittleEndian.PutUint32(buf[4:8], fileVersion)
	binary.LittleEndian.PutUint32(buf[8:12], s.header.PageSize)
	binary.LittleEndian.PutUint64(buf[12:20], s.header.FreeListHead)
	binary.LittleEndian.PutUint64(buf[20:28], s.header.NextPageID)
	binary.LittleEndian.PutUint64(buf[28:36], s.header.SchemaFingerprint)
	if _, err := s.segments[0].file.WriteAt(buf, 0); err != nil {
		return &ferrors.IoError{Op: "write header", Path: s.segments[0].path, Err: err}
	}
	return nil
}

// PageSize returns the store's fixed page size.
func (s *Store) PageSize() uint32 { return s.pageSize }

// SchemaFingerprint returns the fingerprint stamped when the store was
// created (or the last call to SetSchemaFingerprint).
func (s *Store) SchemaFingerprint() uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.header.SchemaFingerprint
}

// SetSchemaFingerprint stamps the store's schema fingerprint, used by
// pkg/table on first write to a freshly created store.
func (s *Store) SetSchemaFingerprint(fp uint64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.header.SchemaFingerprint = fp
	return s.writeHeaderLocked()
}

// NextPageID returns the id that the next never-reused AllocPage call
// would assign, used by pkg/table to bound a full-store page scan
// during index reconstruction on open.
func (s *Store) NextPageID() uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.header.NextPageID
}

// FreeListHead returns the current head of the free-page list.
func (s *Store) FreeListHead() uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.header.FreeListHead
}

func (s *Store) locate(id uint64) (segIdx int, localPage int64) {
	// Page 0 always lives in segment 1, occupying the header's slot.
	pagesInFirst := s.maxSegPages
	if id < uint64(pagesInFirst) {
		return 0, int64(id)
	}
	rem := id - uint64(pagesInFirst)
	segIdx = 1 + int(rem/uint64(s.maxSegPages))
	localPage = int64(rem % uint64(s.maxSegPages))
	return segIdx, localPage
}

func (s *Store) segmentAt(idx int) (*segment, error) {
	for len(s.segments) <= idx {
		newID := len(s.segments) + 1
		segPath := fmt.Sprintf("%s_%03d.pages", s.basePath, newID)
		f, err := os.OpenFile(segPath, os.O_RDWR|os.O_CREATE, 0666)
		if err != nil {
			return nil, &ferrors.IoError{Op: "create", Path: segPath, Err: err}
		}
		s.segments = append(s.segments, &segment{id: newID, path: segPath, file: f})
	}
	return s.segments[idx], nil
}

// AllocPage returns a fresh PageID: the head of the free list if one
// exists, otherwise the next never-used PageID. The caller is
// responsible for writing the page's initial contents.
func (s *Store) AllocPage() (uint64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.header.FreeListHead != NullPageID {
		id := s.header.FreeListHead
		buf, err := s.readPageLocked(id)
		if err != nil {
			return 0, err
		}
		s.header.FreeListHead = binary.LittleEndian.Uint64(buf[0:8])
		if err := s.writeHeaderLocked(); err != nil {
			return 0, err
		}
		return id, nil
	}

	id := s.header.NextPageID
	s.header.NextPageID++
	if err := s.writeHeaderLocked(); err != nil {
		return 0, err
	}
	return id, nil
}

// FreePage pushes id onto the free list's head, overwriting its first 8
// bytes with the previous head pointer. Freed pages are reused by a
// later AllocPage, never returned to the OS.
func (s *Store) FreePage(id uint64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	buf := make([]byte, s.pageSize)
	binary.LittleEndian.PutUint64(buf[0:8], s.header.FreeListHead)
	if err := s.writePageLocked(id, buf); err != nil {
		return err
	}
	s.header.FreeListHead = id
	return s.writeHeaderLocked()
}

// ReadPage reads the full contents of page id.
func (s *Store) ReadPage(id uint64) ([]byte, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.readPageLocked(id)
}

func (s *Store) readPageLocked(id uint64) ([]byte, error) {
	segIdx, local := s.locate(id)
	seg, err := s.segmentAt(segIdx)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, s.pageSize)
	off := s.byteOffset(segIdx, local)
	if _, err := seg.file.ReadAt(buf, off); err != nil && err != io.EOF {
		return nil, &ferrors.IoError{Op: "read page", Path: seg.path, Err: err}
	}
	return buf, nil
}

// WritePage overwrites the full contents of page id. len(data) must
// equal the store's page size.
func (s *Store) WritePage(id uint64, data []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.writePageLocked(id, data)
}

func (s *Store) writePageLocked(id uint64, data []byte) error {
	if uint32(len(data)) != s.pageSize {
		return &ferrors.CorruptRecordError{PageID: id, Reason: fmt.Sprintf("write size %d != page size %d", len(data), s.pageSize)}
	}
	segIdx, local := s.locate(id)
	seg, err := s.segmentAt(segIdx)
	if err != nil {
		return err
	}
	off := s.byteOffset(segIdx, local)
	if _, err := seg.file.WriteAt(data, off); err != nil {
		return &ferrors.IoError{Op: "write page", Path: seg.path, Err: err}
	}
	if local+1 > seg.pages {
		seg.pages = local + 1
	}
	return nil
}

func (s *Store) byteOffset(segIdx int, local int64) int64 {
	if segIdx == 0 {
		return local * int64(s.pageSize)
	}
	return local * int64(s.pageSize)
}

// Sync flushes every segment file to stable storage.
func (s *Store) Sync() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, seg := range s.segments {
		if err := seg.file.Sync(); err != nil {
			return &ferrors.IoError{Op: "sync", Path: seg.path, Err: err}
		}
	}
	return nil
}

// Close closes every segment file.
func (s *Store) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var firstErr error
	for _, seg := range s.segments {
		if err := seg.file.Close(); err != nil && firstErr == nil {
			firstErr = &ferrors.IoError{Op: "close", Path: seg.path, Err: err}
		}
	}
	return firstErr
}
