// Copyright (c) FlareMQ Contributors
// SPDX-License-Identifier: Apache-2.0

// Package paging implements the per-address overflow store: once an address's
// resident size crosses its configured threshold, routed messages spill to
// append-only page files and are replayed later through per-queue cursors.
package paging

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/s2"
)

// PageExtension is the file extension for page files.
const PageExtension = ".page"

// Record framing: 4-byte length, 4-byte CRC32 of the stored payload, 1 flag
// byte, payload. Length covers flags + payload.
const recordHeaderSize = 8

const flagCompressed byte = 1 << 0

var (
	// ErrCapacityExceeded reports that the paging store cannot open or grow a
	// page file. Paging for the address stays failed until an operator reset.
	ErrCapacityExceeded = errors.New("paging capacity exceeded")

	errCorruptRecord = errors.New("corrupt page record")
)

// Page is a single page file. Append-only while open, read-only once sealed.
type Page struct {
	path   string
	seq    int
	file   *os.File
	size   int64
	count  int
	sealed bool

	compression bool
}

// CreatePage creates a new open page file with the given sequence number.
func CreatePage(dir string, seq int, compression bool) (*Page, error) {
	path := filepath.Join(dir, FormatPageName(seq))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create page file: %w", err)
	}

	return &Page{
		path:        path,
		seq:         seq,
		file:        file,
		compression: compression,
	}, nil
}

// OpenPage opens an existing page file read-only and scans it to count
// records. Used when reconstructing the page sequence on restart.
func OpenPage(dir string, seq int) (*Page, error) {
	path := filepath.Join(dir, FormatPageName(seq))

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat page file: %w", err)
	}

	p := &Page{
		path:   path,
		seq:    seq,
		size:   info.Size(),
		sealed: true,
	}

	records, err := p.Records()
	if err != nil {
		return nil, err
	}
	p.count = len(records)

	return p, nil
}

// Seq returns the page's sequence number.
func (p *Page) Seq() int { return p.seq }

// Size returns the page's current size in bytes.
func (p *Page) Size() int64 { return p.size }

// Count returns the number of records in the page.
func (p *Page) Count() int { return p.count }

// Sealed reports whether the page is closed for writes.
func (p *Page) Sealed() bool { return p.sealed }

// Append writes one record to the open page.
func (p *Page) Append(data []byte) error {
	if p.sealed {
		return fmt.Errorf("page %d is sealed", p.seq)
	}

	flags := byte(0)
	stored := data
	if p.compression {
		compressed := s2.Encode(nil, data)
		if len(compressed) < len(data) {
			stored = compressed
			flags = flagCompressed
		}
	}

	buf := make([]byte, recordHeaderSize+1+len(stored))
	binary.BigEndian.PutUint32(buf[0:4], uint32(1+len(stored)))
	binary.BigEndian.PutUint32(buf[4:8], crc32.ChecksumIEEE(stored))
	buf[8] = flags
	copy(buf[9:], stored)

	if _, err := p.file.Write(buf); err != nil {
		return fmt.Errorf("failed to append page record: %w", err)
	}

	p.size += int64(len(buf))
	p.count++
	return nil
}

// Seal syncs the page to disk and closes it for writes.
func (p *Page) Seal() error {
	if p.sealed {
		return nil
	}
	p.sealed = true

	if err := p.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync page file: %w", err)
	}
	if err := p.file.Close(); err != nil {
		return fmt.Errorf("failed to close page file: %w", err)
	}
	p.file = nil
	return nil
}

// Records reads back every record in the page in append order. Truncated
// trailing records (torn write on crash) are dropped; corrupt records fail.
func (p *Page) Records() ([][]byte, error) {
	file, err := os.Open(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open page file: %w", err)
	}
	defer file.Close()

	var records [][]byte
	header := make([]byte, recordHeaderSize)
	for {
		if _, err := io.ReadFull(file, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, fmt.Errorf("failed to read page record header: %w", err)
		}

		length := binary.BigEndian.Uint32(header[0:4])
		crc := binary.BigEndian.Uint32(header[4:8])
		if length == 0 {
			return nil, errCorruptRecord
		}

		body := make([]byte, length)
		if _, err := io.ReadFull(file, body); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, fmt.Errorf("failed to read page record: %w", err)
		}

		flags := body[0]
		stored := body[1:]
		if crc32.ChecksumIEEE(stored) != crc {
			return nil, errCorruptRecord
		}

		data := stored
		if flags&flagCompressed != 0 {
			data, err = s2.Decode(nil, stored)
			if err != nil {
				return nil, fmt.Errorf("failed to decompress page record: %w", err)
			}
		}
		records = append(records, data)
	}

	return records, nil
}

// Remove closes the page and deletes its file.
func (p *Page) Remove() error {
	if !p.sealed && p.file != nil {
		p.sealed = true
		p.file.Close()
		p.file = nil
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove page file: %w", err)
	}
	return nil
}

// FormatPageName formats a page file name from its sequence number. Names are
// zero padded so lexical order equals replay order.
func FormatPageName(seq int) string {
	return fmt.Sprintf("%010d%s", seq, PageExtension)
}

// ParsePageName extracts the sequence number from a page file name.
func ParsePageName(name string) (int, error) {
	var seq int
	_, err := fmt.Sscanf(name, "%010d"+PageExtension, &seq)
	return seq, err
}
