// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package qdrlink names the router-core link surface the adaptor consumes
// but does not implement (spec.md §4.4): attach/detach, delivery and flow
// callbacks. It plays the role the teacher's protocol/role package plays
// for matching request/response objects — a small, dependency-free
// vocabulary type other packages build on — generalized here to the
// router-core's link/delivery lifecycle instead of a request/response pair.
package qdrlink

import "github.com/packetd/h2amqp-router/message"

// Direction is the link's role relative to the router core.
type Direction int8

const (
	DirectionIncoming Direction = iota
	DirectionOutgoing
)

// Disposition is the delivery outcome a router-core settle reports.
type Disposition int8

const (
	DispositionUnsettled Disposition = iota
	DispositionAccepted
	DispositionReleased
	DispositionModified
	DispositionRejected
)

// Link is the attached handle the router core hands back from
// FirstAttach; the adaptor stores its own per-stream state behind
// SetContext/GetContext exactly as the router core's real link type does.
type Link interface {
	SetContext(ctx any)
	GetContext() any
	Detach(close bool)
}

// Delivery is the handle the router core hands back from Deliver; the
// adaptor calls Continue as more of the message streams in, and observes
// RemoteStateUpdated exactly once per terminal settle per spec.md §8.
type Delivery interface {
	SetContext(ctx any)
	GetContext() any
	Continue()
}

// FlowHandler is implemented by the adaptor side that wants link-credit
// callbacks; Core invokes it on the connection actor's own thread, never
// concurrently with other actor work (spec.md §4.4: "invoked on the
// actor's thread").
type FlowHandler interface {
	LinkFlow(link Link, credit int)
}

// SettleHandler is implemented by the adaptor side that wants to learn when
// a delivery it already handed to the router core reaches a terminal
// settle. Core invokes it on the connection actor's own thread, exactly
// like FlowHandler (spec.md §4.2 egress step 5, §7's disposition-mapping
// table: the adaptor must translate a settle it did not initiate itself
// into the matching HTTP/2 response).
type SettleHandler interface {
	DeliveryUpdated(d Delivery, disposition Disposition, settled bool)
}

// Outgoing is implemented by the adaptor side of a DirectionOutgoing link.
// The router core calls Deliver as it routes a message onto this link; the
// adaptor streams it out as HTTP/2 frames and returns its own handle so the
// core can observe settlement the same way it does for deliveries it
// originates itself (spec.md §4.2 egress translation).
type Outgoing interface {
	Deliver(msg *message.Content) (Delivery, error)
}

// Core is the router-core surface the adaptor depends on. A production
// router core implements this; adaptor/http2 only ever calls through the
// interface, never assumes a concrete type, so it can be exercised against
// a fake in tests.
type Core interface {
	// LinkFirstAttach creates (or looks up) a link for the given
	// direction/source/target/name, returning the router-core's handle.
	LinkFirstAttach(dir Direction, source, target, name string) (Link, error)

	// LinkDeliver starts a new delivery of msg on link, returning the
	// router-core's delivery handle. msg may still be receiving; further
	// bytes arrive through msg's own Content.Receive, and the adaptor
	// calls Delivery.Continue after each chunk.
	LinkDeliver(link Link, msg *message.Content) (Delivery, error)

	// DeliveryRemoteStateUpdated reports to the core that the adaptor
	// observed (or synthesized, per spec.md §7's disposition table) a
	// settle for d.
	DeliveryRemoteStateUpdated(d Delivery, disposition Disposition, settled bool)
}
