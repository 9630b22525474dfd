// Copyright (c) FlareMQ Contributors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Message headers understood by the routing engine.
const (
	// HeaderDedupID carries the producer-supplied deduplication ID.
	HeaderDedupID = "x-dedup-id"

	// HeaderRoutingType carries an optional routing-type hint
	// ("ANYCAST" or "MULTICAST").
	HeaderRoutingType = "x-routing-type"
)

// messageOverheadBytes is the fixed per-message overhead counted toward an
// address's resident size on top of the payload.
const messageOverheadBytes = 512

// Message is one unit of routed data.
type Message struct {
	ID      string            `json:"id"`
	Address string            `json:"address"`
	Headers map[string]string `json:"headers,omitempty"`
	Payload []byte            `json:"payload,omitempty"`
	Durable bool              `json:"durable,omitempty"`

	// refs counts the queues still holding the message in memory; the
	// address size contribution is released when it reaches zero.
	refs atomic.Int32
}

// NewMessage creates a message addressed to address.
func NewMessage(address string, payload []byte, headers map[string]string) *Message {
	return &Message{
		ID:      uuid.NewString(),
		Address: address,
		Headers: headers,
		Payload: payload,
	}
}

// DedupID returns the producer-supplied deduplication ID, "" if absent.
func (m *Message) DedupID() string {
	return m.Headers[HeaderDedupID]
}

// RoutingHint returns the routing-type hint header, if present and valid.
func (m *Message) RoutingHint() (RoutingType, bool) {
	s, ok := m.Headers[HeaderRoutingType]
	if !ok {
		return 0, false
	}
	rt, err := ParseRoutingType(s)
	if err != nil {
		return 0, false
	}
	return rt, true
}

// Size returns the message's resident-size contribution in bytes.
func (m *Message) Size() int64 {
	return int64(len(m.Payload)) + messageOverheadBytes
}

// forAddress returns a copy of the message readdressed for divert forwarding.
func (m *Message) forAddress(address string) *Message {
	headers := make(map[string]string, len(m.Headers))
	for k, v := range m.Headers {
		headers[k] = v
	}
	return &Message{
		ID:      uuid.NewString(),
		Address: address,
		Headers: headers,
		Payload: m.Payload,
		Durable: m.Durable,
	}
}

func (m *Message) retain(n int32) {
	m.refs.Add(n)
}

// release drops one queue reference and reports whether it was the last.
func (m *Message) release() bool {
	return m.refs.Add(-1) <= 0
}

const flagDurable = 0x01

// encode serializes the message into the compact binary frame written to page
// files: length-prefixed id and address, a flags byte, the header pairs, then
// the raw payload.
func (m *Message) encode() ([]byte, error) {
	if len(m.ID) > 0xFFFF || len(m.Address) > 0xFFFF || len(m.Headers) > 0xFFFF {
		return nil, fmt.Errorf("failed to encode message: field too large")
	}

	size := 2 + len(m.ID) + 2 + len(m.Address) + 1 + 2 + 4 + len(m.Payload)
	for k, v := range m.Headers {
		size += 2 + len(k) + 2 + len(v)
	}

	buf := make([]byte, 0, size)
	buf = appendString16(buf, m.ID)
	buf = appendString16(buf, m.Address)

	var flags byte
	if m.Durable {
		flags |= flagDurable
	}
	buf = append(buf, flags)

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(m.Headers)))
	for k, v := range m.Headers {
		if len(k) > 0xFFFF || len(v) > 0xFFFF {
			return nil, fmt.Errorf("failed to encode message: header too large")
		}
		buf = appendString16(buf, k)
		buf = appendString16(buf, v)
	}

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(m.Payload)))
	buf = append(buf, m.Payload...)
	return buf, nil
}

func decodeMessage(data []byte) (*Message, error) {
	m := &Message{}
	var err error
	if m.ID, data, err = readString16(data); err != nil {
		return nil, fmt.Errorf("failed to decode message id: %w", err)
	}
	if m.Address, data, err = readString16(data); err != nil {
		return nil, fmt.Errorf("failed to decode message address: %w", err)
	}

	if len(data) < 3 {
		return nil, fmt.Errorf("failed to decode message: truncated frame")
	}
	m.Durable = data[0]&flagDurable != 0
	count := int(binary.BigEndian.Uint16(data[1:3]))
	data = data[3:]

	if count > 0 {
		m.Headers = make(map[string]string, count)
		for i := 0; i < count; i++ {
			var k, v string
			if k, data, err = readString16(data); err != nil {
				return nil, fmt.Errorf("failed to decode message header: %w", err)
			}
			if v, data, err = readString16(data); err != nil {
				return nil, fmt.Errorf("failed to decode message header: %w", err)
			}
			m.Headers[k] = v
		}
	}

	if len(data) < 4 {
		return nil, fmt.Errorf("failed to decode message: truncated frame")
	}
	n := int(binary.BigEndian.Uint32(data))
	data = data[4:]
	if len(data) < n {
		return nil, fmt.Errorf("failed to decode message: truncated payload")
	}
	if n > 0 {
		m.Payload = data[:n:n]
	}
	return m, nil
}

func appendString16(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func readString16(data []byte) (string, []byte, error) {
	if len(data) < 2 {
		return "", nil, fmt.Errorf("truncated frame")
	}
	n := int(binary.BigEndian.Uint16(data))
	data = data[2:]
	if len(data) < n {
		return "", nil, fmt.Errorf("truncated frame")
	}
	return string(data[:n]), data[n:], nil
}
