// Copyright (c) FlareMQ Contributors
// SPDX-License-Identifier: Apache-2.0

package paging

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
)

// Settings holds the paging parameters resolved for one address.
type Settings struct {
	// MaxSizeBytes is the resident-size threshold that activates paging.
	// <= 0 disables paging for the address.
	MaxSizeBytes int64

	// PageSizeBytes is the byte budget of a single page file. A new page is
	// opened when the current page has reached this size.
	PageSizeBytes int64

	// Compression enables s2 compression of page records.
	Compression bool
}

// Position addresses one record in the page sequence: an index into the
// ordered page slice plus a record index within that page. Pages are an
// arena of sealed append-only buffers referenced by index, never by pointer.
type Position struct {
	Page   int
	Record int
}

// Store is the paging store for a single address.
//
// State machine: NotPaging -> (resident size would exceed MaxSizeBytes) ->
// Paging -> (all pages consumed by every cursor AND memory-resident size
// below threshold) -> NotPaging. PageCount reports 0 while NotPaging.
type Store struct {
	mu sync.Mutex

	dir      string
	address  string
	settings Settings
	logger   *slog.Logger

	paging   bool
	failed   bool // page file could not be opened; cleared by Reset
	reloaded bool // pages recovered from disk; new cursors replay from the start

	pages   []*Page
	nextSeq int

	// Decoded record cache, one slice per open/sealed page, same index as
	// pages. Filled lazily on first cursor read of a page.
	records map[int][][]byte

	cursors map[string]*Cursor

	size       int64 // total resident bytes for the address (memory + paged)
	pagedBytes int64 // portion of size that lives in page files
}

// NewStore creates or reopens the paging store for an address. Existing page
// files are reloaded in sequence order and the store resumes in paging mode.
func NewStore(dir, address string, settings Settings, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.PageSizeBytes <= 0 {
		settings.PageSizeBytes = 10 * 1024 * 1024
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create paging directory: %w", err)
	}

	s := &Store{
		dir:      dir,
		address:  address,
		settings: settings,
		logger:   logger,
		records:  make(map[int][][]byte),
		cursors:  make(map[string]*Cursor),
	}

	if err := s.reload(); err != nil {
		return nil, err
	}

	return s, nil
}

// reload reconstructs the page sequence from disk after a restart.
func (s *Store) reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read paging directory: %w", err)
	}

	var seqs []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		seq, err := ParsePageName(e.Name())
		if err != nil {
			continue
		}
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)

	for _, seq := range seqs {
		page, err := OpenPage(s.dir, seq)
		if err != nil {
			return fmt.Errorf("failed to reload page %d: %w", seq, err)
		}
		s.pages = append(s.pages, page)
		s.pagedBytes += page.Size()
		s.nextSeq = seq + 1
	}

	if len(s.pages) > 0 {
		s.paging = true
		s.reloaded = true
		s.size = s.pagedBytes
		s.logger.Info("paging_store_reloaded",
			slog.String("address", s.address),
			slog.Int("pages", len(s.pages)))
	}

	return nil
}

// Address returns the address this store belongs to.
func (s *Store) Address() string { return s.address }

// PageSize returns the configured bytes-per-page budget.
func (s *Store) PageSize() int64 { return s.settings.PageSizeBytes }

// MaxSize returns the configured resident-size threshold.
func (s *Store) MaxSize() int64 { return s.settings.MaxSizeBytes }

// Size returns the address's resident byte size, paged bytes included.
func (s *Store) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Paging reports whether the store is in paging mode.
func (s *Store) Paging() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paging
}

// Failed reports whether paging has failed for the address (disk trouble).
func (s *Store) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Reset clears the failed flag after operator intervention.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = false
}

// PageCount returns the number of page files, 0 while not paging.
func (s *Store) PageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paging {
		return 0
	}
	return len(s.pages)
}

// AddSize adjusts the memory-resident byte accounting and re-evaluates the
// state machine in both directions.
func (s *Store) AddSize(delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.size += delta
	if s.size < 0 {
		s.size = 0
	}
	s.maybeUnpage()
}

// ShouldPage decides, for a message of the given resident size, whether it
// must be written to a page instead of delivered in memory. Crossing the
// threshold flips the store into paging mode. Callers hold the per-address
// lock; the physical write happens later, outside that lock, via Write.
func (s *Store) ShouldPage(incoming int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.paging {
		return true
	}
	if s.settings.MaxSizeBytes <= 0 {
		return false
	}
	if s.size+incoming > s.settings.MaxSizeBytes {
		s.startPaging()
		return true
	}
	return false
}

// StartPaging forces the store into paging mode. Returns false if it already
// was paging.
func (s *Store) StartPaging() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paging {
		return false
	}
	s.startPaging()
	return true
}

func (s *Store) startPaging() {
	s.paging = true
	s.logger.Info("paging_started",
		slog.String("address", s.address),
		slog.Int64("size", s.size),
		slog.Int64("max_size", s.settings.MaxSizeBytes))
}

// StopPaging exits paging mode if every page has been consumed by every
// cursor and the memory-resident size is below threshold. Returns whether
// the store left paging mode.
func (s *Store) StopPaging() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paging {
		return false
	}
	return s.maybeUnpage()
}

// Write appends one record to the current page, opening a new page when the
// current one has reached the page-size budget. resident is the message's
// resident-size contribution, accounted as paged bytes. Returns the sequence
// number of the page that received the record.
func (s *Store) Write(data []byte, resident int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failed {
		return 0, ErrCapacityExceeded
	}

	page, err := s.currentPage()
	if err != nil {
		s.failed = true
		s.logger.Error("paging_write_failed",
			slog.String("address", s.address),
			slog.String("error", err.Error()))
		return 0, fmt.Errorf("%w: %v", ErrCapacityExceeded, err)
	}

	if err := page.Append(data); err != nil {
		s.failed = true
		s.logger.Error("paging_write_failed",
			slog.String("address", s.address),
			slog.String("error", err.Error()))
		return 0, fmt.Errorf("%w: %v", ErrCapacityExceeded, err)
	}

	idx := len(s.pages) - 1
	s.records[idx] = append(s.records[idx], data)
	s.size += resident
	s.pagedBytes += resident
	return page.Seq(), nil
}

// currentPage returns the open page, rolling to a new one when the current
// page has reached the size budget. At most one page is open at a time.
func (s *Store) currentPage() (*Page, error) {
	if len(s.pages) > 0 {
		last := s.pages[len(s.pages)-1]
		if !last.Sealed() && last.Size() < s.settings.PageSizeBytes {
			return last, nil
		}
		if !last.Sealed() {
			if err := last.Seal(); err != nil {
				return nil, err
			}
		}
	}

	page, err := CreatePage(s.dir, s.nextSeq, s.settings.Compression)
	if err != nil {
		return nil, err
	}
	s.nextSeq++
	s.pages = append(s.pages, page)
	return page, nil
}

// Read returns the record at pos and the position after it. ok is false at
// the end of the page sequence.
func (s *Store) Read(pos Position) (data []byte, next Position, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(pos)
}

func (s *Store) read(pos Position) (data []byte, next Position, ok bool, err error) {
	for pos.Page < len(s.pages) {
		records, err := s.pageRecords(pos.Page)
		if err != nil {
			return nil, pos, false, err
		}
		if pos.Record < len(records) {
			next = Position{Page: pos.Page, Record: pos.Record + 1}
			return records[pos.Record], next, true, nil
		}
		pos = Position{Page: pos.Page + 1}
	}
	return nil, pos, false, nil
}

// pageRecords returns the decoded records of a page, loading them on first use.
func (s *Store) pageRecords(idx int) ([][]byte, error) {
	if records, cached := s.records[idx]; cached {
		return records, nil
	}
	records, err := s.pages[idx].Records()
	if err != nil {
		return nil, err
	}
	s.records[idx] = records
	return records, nil
}

// remaining counts records at or after pos.
func (s *Store) remaining(pos Position) int {
	count := 0
	for i := pos.Page; i < len(s.pages); i++ {
		records, err := s.pageRecords(i)
		if err != nil {
			return count
		}
		if i == pos.Page {
			if r := len(records) - pos.Record; r > 0 {
				count += r
			}
			continue
		}
		count += len(records)
	}
	return count
}

// Cursor returns the page cursor for a queue, creating one if the queue has
// none yet. Each queue bound to a paging address reads the shared sequence
// independently.
func (s *Store) Cursor(queue string) *Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.cursors[queue]; ok {
		return c
	}

	// A cursor created mid-paging starts at the current end of the
	// sequence: earlier paged messages were routed before this queue was a
	// target. After a restart reload the whole sequence is replayed.
	pos := Position{}
	if !s.reloaded && len(s.pages) > 0 {
		idx := len(s.pages) - 1
		if records, err := s.pageRecords(idx); err == nil {
			pos = Position{Page: idx, Record: len(records)}
		} else {
			pos = Position{Page: len(s.pages)}
		}
	}

	c := &Cursor{store: s, queue: queue, pos: pos}
	s.cursors[queue] = c
	return c
}

// RemoveCursor drops a queue's cursor, e.g. when its binding is removed.
func (s *Store) RemoveCursor(queue string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cursors, queue)
	s.maybeUnpage()
}

// maybeUnpage exits paging mode once every cursor has consumed every page
// and the memory-resident size is back below threshold. Page files are
// deleted and the page count returns to zero. Caller holds s.mu.
func (s *Store) maybeUnpage() bool {
	if !s.paging || len(s.pages) == 0 {
		return false
	}
	if len(s.cursors) == 0 {
		return false
	}
	for _, c := range s.cursors {
		if s.remaining(c.pos) > 0 {
			return false
		}
	}
	memResident := s.size - s.pagedBytes
	if s.settings.MaxSizeBytes > 0 && memResident >= s.settings.MaxSizeBytes {
		return false
	}

	s.dropPages()
	s.logger.Info("paging_stopped", slog.String("address", s.address))
	return true
}

// dropPages deletes all page files and resets paging state. Caller holds s.mu.
func (s *Store) dropPages() {
	for _, page := range s.pages {
		if err := page.Remove(); err != nil {
			s.logger.Error("page_remove_failed",
				slog.String("address", s.address),
				slog.String("error", err.Error()))
		}
	}
	s.pages = nil
	s.records = make(map[int][][]byte)
	s.size -= s.pagedBytes
	if s.size < 0 {
		s.size = 0
	}
	s.pagedBytes = 0
	s.paging = false
	for _, c := range s.cursors {
		c.pos = Position{}
	}
}

// Purge drops every page regardless of consumption and exits paging mode.
// Returns the number of page records removed.
func (s *Store) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for i := range s.pages {
		records, err := s.pageRecords(i)
		if err == nil {
			dropped += len(records)
		}
	}
	s.dropPages()
	return dropped
}

// Drop deletes the store's directory entirely. Used when the address itself
// is removed.
func (s *Store) Drop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, page := range s.pages {
		page.Remove()
	}
	s.pages = nil
	s.records = make(map[int][][]byte)
	s.cursors = make(map[string]*Cursor)
	s.paging = false
	s.size = 0
	s.pagedBytes = 0

	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("failed to remove paging directory: %w", err)
	}
	return nil
}
