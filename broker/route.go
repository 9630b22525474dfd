// Copyright (c) FlareMQ Contributors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"log/slog"

	"github.com/flaremq/flaremq/paging"
)

// Route dispatches one message:
//
//  1. duplicate check (insert-then-proceed, so concurrent identical sends
//     cannot both pass),
//  2. binding selection per routing type — anycast picks one queue binding
//     round-robin, multicast takes every match, diverts apply either way,
//  3. in-memory delivery, or a page-store write while the address pages,
//  4. counter updates.
//
// The per-address lock covers the dedup check, binding selection and the
// decision to page; the physical page write happens after the lock is
// released. An unrouted decision is final even if a matching queue is
// created immediately afterward.
func (b *Broker) Route(ctx context.Context, msg *Message) (RouteOutcome, error) {
	if err := ctx.Err(); err != nil {
		return RouteOutcome{}, err
	}

	rec := b.lookup(msg.Address)
	if rec == nil {
		b.stats.IncrementUnrouted()
		b.metrics.RecordUnrouted(ctx, msg.Address)
		return RouteOutcome{Kind: OutcomeUnrouted}, nil
	}

	rec.mu.Lock()

	if id := msg.DedupID(); id != "" {
		cache, err := b.dedupCache(rec)
		if err != nil {
			rec.mu.Unlock()
			return RouteOutcome{}, err
		}
		seen, err := cache.AddIfAbsent(id)
		if err != nil {
			rec.mu.Unlock()
			return RouteOutcome{}, err
		}
		if seen {
			rec.mu.Unlock()
			b.stats.IncrementDuplicates()
			b.metrics.RecordDuplicate(ctx, msg.Address)
			return RouteOutcome{Kind: OutcomeDuplicate}, nil
		}
	}

	accepted, localTargets, remoteTargets, diverts := b.selectBindings(rec, msg)

	if len(accepted) == 0 && len(localTargets) == 0 && len(remoteTargets) == 0 {
		rec.unrouted.Add(1)
		rec.mu.Unlock()
		b.stats.IncrementUnrouted()
		b.metrics.RecordUnrouted(ctx, msg.Address)
		return RouteOutcome{Kind: OutcomeUnrouted}, nil
	}

	// Remote targets enqueue a forward record; they are never paged and
	// never receive raw payload locally.
	for _, rb := range remoteTargets {
		if err := rb.Accept(msg); err != nil {
			rec.mu.Unlock()
			return RouteOutcome{}, err
		}
		accepted = append(accepted, rb.Name())
	}

	var store *paging.Store
	paged := false
	if len(localTargets) > 0 {
		var err error
		store, err = b.pagingStore(rec)
		if err != nil {
			rec.mu.Unlock()
			return RouteOutcome{}, err
		}
		if store.Failed() {
			rec.mu.Unlock()
			return RouteOutcome{}, ErrCapacityExceeded
		}

		// A momentarily full queue is recoverable: fall back to paging
		// rather than failing the route.
		for _, qb := range localTargets {
			if qb.Queue().Full() {
				store.StartPaging()
				break
			}
		}

		paged = store.ShouldPage(msg.Size())
		if paged {
			// Cursors must exist before the write so the message is
			// visible to each bound queue.
			for _, qb := range localTargets {
				qb.Queue().attachCursor(store.Cursor(qb.Name()))
				accepted = append(accepted, qb.Name())
			}
		} else {
			msg.retain(int32(len(localTargets)))
			for _, qb := range localTargets {
				if err := qb.Accept(msg); err != nil {
					rec.mu.Unlock()
					return RouteOutcome{}, err
				}
				accepted = append(accepted, qb.Name())
			}
			store.AddSize(msg.Size())
		}
	}

	rec.mu.Unlock()

	if paged {
		data, err := msg.encode()
		if err != nil {
			return RouteOutcome{}, err
		}
		if _, err := store.Write(data, msg.Size()); err != nil {
			b.logger.Error("route_page_write_failed",
				slog.String("address", msg.Address),
				slog.String("error", err.Error()))
			return RouteOutcome{}, err
		}
		b.stats.AddPagedWrite(len(data))
		b.metrics.RecordPagedWrite(ctx, msg.Address, len(data))
	}

	rec.routed.Add(1)
	b.stats.IncrementRouted()
	b.metrics.RecordRouted(ctx, msg.Address)
	b.metrics.RecordMessageSize(ctx, msg.Address, len(msg.Payload))

	// Divert reroutes run after the source address's lock is released to
	// keep the per-address lock hierarchy flat.
	for _, d := range diverts {
		for _, fwd := range d.takeReroutes() {
			if _, err := b.Route(ctx, fwd); err != nil {
				b.logger.Error("divert_route_failed",
					slog.String("divert", d.Name()),
					slog.String("forward_address", d.ForwardAddress()),
					slog.String("error", err.Error()))
			}
		}
	}

	return RouteOutcome{Kind: OutcomeRouted, Bindings: accepted}, nil
}

// selectBindings picks the candidate set for one message. Caller holds
// rec.mu. A binding whose filter fails to evaluate is skipped, not fatal.
func (b *Broker) selectBindings(rec *addressRecord, msg *Message) (accepted []string, localTargets []*QueueBinding, remoteTargets []*RemoteQueueBinding, diverts []*DivertBinding) {
	// Diverts intercept first; an exclusive divert preempts queue delivery.
	exclusive := false
	for _, bd := range rec.bindings {
		d, ok := bd.(*DivertBinding)
		if !ok {
			continue
		}
		match, err := d.Matches(msg)
		if err != nil {
			b.skipBinding(rec.name, d.Name(), err)
			continue
		}
		if !match {
			continue
		}
		if err := d.Accept(msg); err != nil {
			continue
		}
		diverts = append(diverts, d)
		accepted = append(accepted, d.Name())
		if d.Exclusive() {
			exclusive = true
		}
	}
	if exclusive {
		return accepted, nil, nil, diverts
	}

	hint, hasHint := msg.RoutingHint()
	allow := func(t RoutingType) bool {
		if !rec.routingTypeEnabled(t) {
			return false
		}
		return !hasHint || hint == t
	}

	if allow(Multicast) {
		for _, bd := range rec.bindings {
			if _, isDivert := bd.(*DivertBinding); isDivert {
				continue
			}
			if bd.RoutingType() != Multicast {
				continue
			}
			match, err := bd.Matches(msg)
			if err != nil {
				b.skipBinding(rec.name, bd.Name(), err)
				continue
			}
			if !match {
				continue
			}
			switch t := bd.(type) {
			case *QueueBinding:
				localTargets = append(localTargets, t)
			case *RemoteQueueBinding:
				remoteTargets = append(remoteTargets, t)
			}
		}
	}

	if allow(Anycast) {
		// Round-robin over the matching candidates in registration order,
		// remote queue bindings included. Deterministic and starvation-free.
		var candidates []Binding
		for _, bd := range rec.bindings {
			if _, isDivert := bd.(*DivertBinding); isDivert {
				continue
			}
			if bd.RoutingType() != Anycast {
				continue
			}
			match, err := bd.Matches(msg)
			if err != nil {
				b.skipBinding(rec.name, bd.Name(), err)
				continue
			}
			if match {
				candidates = append(candidates, bd)
			}
		}
		if len(candidates) > 0 {
			chosen := candidates[rec.rrPos%uint64(len(candidates))]
			rec.rrPos++
			switch t := chosen.(type) {
			case *QueueBinding:
				localTargets = append(localTargets, t)
			case *RemoteQueueBinding:
				remoteTargets = append(remoteTargets, t)
			}
		}
	}

	return accepted, localTargets, remoteTargets, diverts
}

func (b *Broker) skipBinding(address, binding string, err error) {
	b.logger.Warn("binding_filter_skipped",
		slog.String("address", address),
		slog.String("binding", binding),
		slog.String("error", err.Error()))
}
