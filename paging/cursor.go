// Copyright (c) FlareMQ Contributors
// SPDX-License-Identifier: Apache-2.0

package paging

// Cursor is one queue's read position into an address's shared page
// sequence. Queues bound to the same address page-read independently; a
// cursor never consumes another cursor's data.
type Cursor struct {
	store *Store
	queue string
	pos   Position
}

// Queue returns the owning queue's name.
func (c *Cursor) Queue() string { return c.queue }

// Next returns the next paged record and advances the cursor. ok is false
// when the cursor has reached the end of the page sequence. Advancing past
// the final record may let the store exit paging mode.
func (c *Cursor) Next() (data []byte, ok bool, err error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	data, next, ok, err := c.store.read(c.pos)
	if err != nil || !ok {
		return nil, false, err
	}
	c.pos = next
	c.store.maybeUnpage()
	return data, true, nil
}

// Remaining returns the number of records the cursor has not read yet.
func (c *Cursor) Remaining() int {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.store.remaining(c.pos)
}

// SkipAll advances the cursor past every current record without returning
// them. Used by purge.
func (c *Cursor) SkipAll() int {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	skipped := c.store.remaining(c.pos)
	c.pos = Position{Page: len(c.store.pages)}
	c.store.maybeUnpage()
	return skipped
}
