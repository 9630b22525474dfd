// Copyright (c) FlareMQ Contributors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"fmt"
	"log/slog"

	"github.com/flaremq/flaremq/dedup"
	"github.com/flaremq/flaremq/filter"
)

// AddBinding registers a binding under its address, creating the address
// entry if absent. Fails with ErrDuplicateBinding if a binding with the same
// name already exists for that address. Binding changes take the same
// per-address lock as routing, so a route decision never observes a binding
// mid-registration.
func (b *Broker) AddBinding(bd Binding) error {
	address := bd.Address()
	if address == "" {
		return fmt.Errorf("binding %q has no address", bd.Name())
	}

	rec := b.ensureRecord(address, false)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if _, exists := rec.byName[bd.Name()]; exists {
		return fmt.Errorf("%w: %q on address %q", ErrDuplicateBinding, bd.Name(), address)
	}

	if qb, ok := bd.(*QueueBinding); ok {
		qb.queue.onRelease = b.releaseFunc(address)
	}
	if _, isDivert := bd.(*DivertBinding); !isDivert {
		rec.routingTypes[bd.RoutingType()] = struct{}{}
	}

	rec.bindings = append(rec.bindings, bd)
	rec.byName[bd.Name()] = bd

	b.stats.IncrementBindingsAdded()
	b.logger.Debug("binding_added",
		slog.String("address", address),
		slog.String("binding", bd.Name()),
		slog.Bool("remote", bd.Remote()))
	return nil
}

// releaseFunc returns the callback a queue runs when the last queue drops a
// message, returning the message's bytes to the address size accounting.
func (b *Broker) releaseFunc(address string) func(*Message) {
	return func(m *Message) {
		if !m.release() {
			return
		}
		if store, ok := b.paging.Lookup(address); ok {
			store.AddSize(-m.Size())
		}
	}
}

// RemoveBinding detaches a binding from its address. When the last binding
// under a non-pinned address is removed, the address entry itself is removed
// and its paging and duplicate-cache state is discarded.
func (b *Broker) RemoveBinding(address, name string) error {
	rec := b.lookup(address)
	if rec == nil {
		return fmt.Errorf("%w: address %q", ErrNotFound, address)
	}

	rec.mu.Lock()
	bd, exists := rec.byName[name]
	if !exists {
		rec.mu.Unlock()
		return fmt.Errorf("%w: binding %q on address %q", ErrNotFound, name, address)
	}

	delete(rec.byName, name)
	for i, other := range rec.bindings {
		if other.Name() == name {
			rec.bindings = append(rec.bindings[:i], rec.bindings[i+1:]...)
			break
		}
	}

	if qb, ok := bd.(*QueueBinding); ok {
		qb.queue.dropAll()
		if rec.store != nil {
			rec.store.RemoveCursor(qb.Name())
		}
	}

	empty := len(rec.bindings) == 0 && !rec.pinned
	rec.mu.Unlock()

	b.stats.IncrementBindingsRemoved()
	b.logger.Debug("binding_removed",
		slog.String("address", address),
		slog.String("binding", name))

	if empty {
		b.removeAddress(address, rec)
	}
	return nil
}

// removeAddress drops an address record once its last binding is gone,
// discarding paging and duplicate-cache state so a recreated address starts
// fresh.
func (b *Broker) removeAddress(address string, rec *addressRecord) {
	b.mu.Lock()
	current := b.addresses[address]
	removed := false
	if current == rec {
		rec.mu.Lock()
		if len(rec.bindings) == 0 && !rec.pinned {
			delete(b.addresses, address)
			removed = true
		}
		rec.mu.Unlock()
	}
	b.mu.Unlock()

	if !removed {
		return
	}

	if err := b.paging.Remove(address); err != nil {
		b.logger.Error("paging_remove_failed",
			slog.String("address", address),
			slog.String("error", err.Error()))
	}
	if rec.dedup != nil {
		if err := rec.dedup.Clear(); err != nil {
			b.logger.Error("dedup_clear_failed",
				slog.String("address", address),
				slog.String("error", err.Error()))
		}
	} else if b.dedupDB != nil {
		// The cache was never instantiated this run; drop any persisted IDs.
		if err := dedup.NewBadgerStore(b.dedupDB, address).Clear(); err != nil {
			b.logger.Error("dedup_clear_failed",
				slog.String("address", address),
				slog.String("error", err.Error()))
		}
	}

	b.logger.Debug("address_removed", slog.String("address", address))
}

// CreateQueue creates a local queue and binds it to an address, creating the
// address if needed. A malformed filter expression fails here, not at route
// time.
func (b *Broker) CreateQueue(address, name string, rt RoutingType, filterExpr string, opts ...QueueOption) (*Queue, error) {
	f, err := filter.Compile(filterExpr)
	if err != nil {
		return nil, err
	}

	q := NewQueue(name, rt, opts...)
	if err := b.AddBinding(NewQueueBinding(address, q, f)); err != nil {
		return nil, err
	}
	return q, nil
}

// CreateDivert creates a content-based divert from address to forwardAddress.
func (b *Broker) CreateDivert(name, address, forwardAddress string, exclusive bool, filterExpr string) error {
	f, err := filter.Compile(filterExpr)
	if err != nil {
		return err
	}
	return b.AddBinding(NewDivertBinding(name, address, forwardAddress, exclusive, f))
}

// AddRemoteBinding registers a binding for a queue living on another cluster
// node.
func (b *Broker) AddRemoteBinding(address, queueName, nodeID string, rt RoutingType, filterExpr string, lb LoadBalancingType) (*RemoteQueueBinding, error) {
	f, err := filter.Compile(filterExpr)
	if err != nil {
		return nil, err
	}

	rb := NewRemoteQueueBinding(address, queueName, nodeID, rt, f, lb)
	if err := b.AddBinding(rb); err != nil {
		return nil, err
	}
	return rb, nil
}

// BindingNames returns the names of the address's bindings in insertion
// order, filtered by scope.
func (b *Broker) BindingNames(address string, scope Scope) ([]string, error) {
	rec := b.lookup(address)
	if rec == nil {
		return nil, fmt.Errorf("%w: address %q", ErrNotFound, address)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	var names []string
	for _, bd := range rec.bindings {
		if scopeMatches(scope, bd.Remote()) {
			names = append(names, bd.Name())
		}
	}
	return names, nil
}

// QueueNames returns the names of queue bindings only (local, remote or
// both), in insertion order. Diverts are excluded.
func (b *Broker) QueueNames(address string, scope Scope) ([]string, error) {
	rec := b.lookup(address)
	if rec == nil {
		return nil, fmt.Errorf("%w: address %q", ErrNotFound, address)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	var names []string
	for _, bd := range rec.bindings {
		switch bd.(type) {
		case *QueueBinding, *RemoteQueueBinding:
			if scopeMatches(scope, bd.Remote()) {
				names = append(names, bd.Name())
			}
		}
	}
	return names, nil
}

func scopeMatches(scope Scope, remote bool) bool {
	switch scope {
	case ScopeLocal:
		return !remote
	case ScopeRemote:
		return remote
	default:
		return true
	}
}

// LocateQueue returns the queue bound under the given name.
func (b *Broker) LocateQueue(address, name string) (*Queue, error) {
	rec := b.lookup(address)
	if rec == nil {
		return nil, fmt.Errorf("%w: address %q", ErrNotFound, address)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if qb, ok := rec.byName[name].(*QueueBinding); ok {
		return qb.Queue(), nil
	}
	return nil, fmt.Errorf("%w: queue %q on address %q", ErrNotFound, name, address)
}
