// Copyright (c) FlareMQ Contributors
// SPDX-License-Identifier: Apache-2.0

// Package broker implements the address layer of the message broker: the
// binding registry, the routing engine that dispatches every inbound message,
// and the derived per-address counters read by the management surface.
package broker

import "fmt"

// RoutingType selects the delivery semantics of an address.
type RoutingType uint8

const (
	// Anycast delivers each message to exactly one matching queue binding.
	Anycast RoutingType = iota

	// Multicast delivers each message to every matching binding.
	Multicast
)

func (t RoutingType) String() string {
	switch t {
	case Anycast:
		return "ANYCAST"
	case Multicast:
		return "MULTICAST"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", t)
	}
}

// ParseRoutingType parses the string form of a routing type.
func ParseRoutingType(s string) (RoutingType, error) {
	switch s {
	case "ANYCAST":
		return Anycast, nil
	case "MULTICAST":
		return Multicast, nil
	default:
		return 0, fmt.Errorf("unknown routing type: %q", s)
	}
}

// Scope selects which bindings a query enumerates.
type Scope uint8

const (
	ScopeAll Scope = iota
	ScopeLocal
	ScopeRemote
)

// LoadBalancingType is the cross-node distribution policy carried by a
// remote queue binding.
type LoadBalancingType string

const (
	LoadBalancingOff        LoadBalancingType = "OFF"
	LoadBalancingRoundRobin LoadBalancingType = "ROUND_ROBIN"
)

// OutcomeKind classifies the result of routing one message.
type OutcomeKind uint8

const (
	// OutcomeRouted means at least one binding accepted the message.
	OutcomeRouted OutcomeKind = iota

	// OutcomeUnrouted means no binding matched at dispatch time. The
	// decision is final; a queue created afterward does not receive the
	// message retroactively.
	OutcomeUnrouted

	// OutcomeDuplicate means the message carried an already-seen dedup ID
	// and was suppressed before any routing effect.
	OutcomeDuplicate
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeRouted:
		return "routed"
	case OutcomeUnrouted:
		return "unrouted"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// RouteOutcome is the result of a route call. Bindings lists the names of
// the bindings that accepted the message when Kind is OutcomeRouted.
type RouteOutcome struct {
	Kind     OutcomeKind
	Bindings []string
}
