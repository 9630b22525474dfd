// Copyright (c) FlareMQ Contributors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"sync"

	"github.com/google/uuid"

	"github.com/flaremq/flaremq/filter"
)

// Binding associates an address with a delivery target. The routing engine
// treats all variants uniformly through Matches and Accept; what accepting
// means differs per variant (local enqueue, forward record, reroute).
type Binding interface {
	// ID is the binding's unique identifier.
	ID() string

	// Name is the binding's name, unique per address.
	Name() string

	// Address is the address the binding is registered under.
	Address() string

	// RoutingType is the routing semantics the binding participates in.
	RoutingType() RoutingType

	// Filter is the binding's message filter; nil matches everything.
	Filter() *filter.Filter

	// Remote reports whether the delivery target lives on another node.
	Remote() bool

	// Matches evaluates the binding's filter against a message.
	Matches(m *Message) (bool, error)

	// Accept takes delivery of a message.
	Accept(m *Message) error
}

// QueueBinding binds a locally owned queue to an address.
type QueueBinding struct {
	id          string
	name        string
	address     string
	routingType RoutingType
	filter      *filter.Filter
	queue       *Queue
}

var _ Binding = (*QueueBinding)(nil)

// NewQueueBinding creates a binding for a local queue. The binding name is
// the queue name.
func NewQueueBinding(address string, queue *Queue, f *filter.Filter) *QueueBinding {
	return &QueueBinding{
		id:          uuid.NewString(),
		name:        queue.Name(),
		address:     address,
		routingType: queue.RoutingType(),
		filter:      f,
		queue:       queue,
	}
}

func (b *QueueBinding) ID() string               { return b.id }
func (b *QueueBinding) Name() string             { return b.name }
func (b *QueueBinding) Address() string          { return b.address }
func (b *QueueBinding) RoutingType() RoutingType { return b.routingType }
func (b *QueueBinding) Filter() *filter.Filter   { return b.filter }
func (b *QueueBinding) Remote() bool             { return false }

// Queue returns the queue this binding delivers to.
func (b *QueueBinding) Queue() *Queue { return b.queue }

func (b *QueueBinding) Matches(m *Message) (bool, error) {
	return b.filter.Matches(m.Address, m.Headers, m.Payload)
}

func (b *QueueBinding) Accept(m *Message) error {
	return b.queue.Enqueue(m)
}

// ForwardRecord is a pending cross-node transfer produced by a remote queue
// binding. The cluster bridge drains these; the core never ships payloads
// off-node itself.
type ForwardRecord struct {
	NodeID  string
	Queue   string
	Message *Message
}

// RemoteQueueBinding represents a queue that physically lives on another
// cluster node. It participates in routing like a local queue binding but
// accepting a message enqueues a forward record instead of delivering the
// payload locally.
type RemoteQueueBinding struct {
	id            string
	name          string
	address       string
	nodeID        string
	routingType   RoutingType
	filter        *filter.Filter
	loadBalancing LoadBalancingType

	mu       sync.Mutex
	forwards []ForwardRecord
}

var _ Binding = (*RemoteQueueBinding)(nil)

// NewRemoteQueueBinding creates a binding for a queue on another node.
func NewRemoteQueueBinding(address, queueName, nodeID string, rt RoutingType, f *filter.Filter, lb LoadBalancingType) *RemoteQueueBinding {
	if lb == "" {
		lb = LoadBalancingRoundRobin
	}
	return &RemoteQueueBinding{
		id:            uuid.NewString(),
		name:          queueName,
		address:       address,
		nodeID:        nodeID,
		routingType:   rt,
		filter:        f,
		loadBalancing: lb,
	}
}

func (b *RemoteQueueBinding) ID() string               { return b.id }
func (b *RemoteQueueBinding) Name() string             { return b.name }
func (b *RemoteQueueBinding) Address() string          { return b.address }
func (b *RemoteQueueBinding) RoutingType() RoutingType { return b.routingType }
func (b *RemoteQueueBinding) Filter() *filter.Filter   { return b.filter }
func (b *RemoteQueueBinding) Remote() bool             { return true }

// NodeID returns the cluster node the bound queue lives on.
func (b *RemoteQueueBinding) NodeID() string { return b.nodeID }

// LoadBalancing returns the binding's cross-node distribution policy.
func (b *RemoteQueueBinding) LoadBalancing() LoadBalancingType { return b.loadBalancing }

func (b *RemoteQueueBinding) Matches(m *Message) (bool, error) {
	if b.loadBalancing == LoadBalancingOff {
		return false, nil
	}
	return b.filter.Matches(m.Address, m.Headers, m.Payload)
}

func (b *RemoteQueueBinding) Accept(m *Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forwards = append(b.forwards, ForwardRecord{
		NodeID:  b.nodeID,
		Queue:   b.name,
		Message: m,
	})
	return nil
}

// PendingForwards returns the number of forward records awaiting transfer.
func (b *RemoteQueueBinding) PendingForwards() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.forwards)
}

// TakeForwards removes and returns all pending forward records.
func (b *RemoteQueueBinding) TakeForwards() []ForwardRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.forwards
	b.forwards = nil
	return out
}

// DivertBinding reroutes matching messages to another address. An exclusive
// divert preempts queue delivery on the source address; a non-exclusive one
// forwards a copy alongside normal routing.
type DivertBinding struct {
	id             string
	name           string
	address        string
	forwardAddress string
	exclusive      bool
	filter         *filter.Filter

	mu       sync.Mutex
	reroutes []*Message
}

var _ Binding = (*DivertBinding)(nil)

// NewDivertBinding creates a divert from address to forwardAddress.
func NewDivertBinding(name, address, forwardAddress string, exclusive bool, f *filter.Filter) *DivertBinding {
	return &DivertBinding{
		id:             uuid.NewString(),
		name:           name,
		address:        address,
		forwardAddress: forwardAddress,
		exclusive:      exclusive,
		filter:         f,
	}
}

func (b *DivertBinding) ID() string             { return b.id }
func (b *DivertBinding) Name() string           { return b.name }
func (b *DivertBinding) Address() string        { return b.address }
func (b *DivertBinding) Filter() *filter.Filter { return b.filter }
func (b *DivertBinding) Remote() bool           { return false }

// Diverts apply regardless of the address's routing types.
func (b *DivertBinding) RoutingType() RoutingType { return Multicast }

// ForwardAddress returns the address diverted messages are rerouted to.
func (b *DivertBinding) ForwardAddress() string { return b.forwardAddress }

// Exclusive reports whether the divert replaces delivery on the source.
func (b *DivertBinding) Exclusive() bool { return b.exclusive }

func (b *DivertBinding) Matches(m *Message) (bool, error) {
	// A divert forwarding back to its own source would loop.
	if b.forwardAddress == b.address {
		return false, nil
	}
	return b.filter.Matches(m.Address, m.Headers, m.Payload)
}

// Accept queues a readdressed copy for rerouting. The routing engine drains
// the copies after it releases the source address's lock.
func (b *DivertBinding) Accept(m *Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reroutes = append(b.reroutes, m.forAddress(b.forwardAddress))
	return nil
}

func (b *DivertBinding) takeReroutes() []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.reroutes
	b.reroutes = nil
	return out
}
