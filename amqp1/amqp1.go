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

// Package amqp1 implements the subset of the AMQP 1.0 type system and
// performative framing the adaptor touches: router annotations, header,
// properties, application-properties, body (Data sections) and footer.
// It is not a general AMQP 1.0 codec (spec Non-goals) — only the
// descriptors, primitive encodings and list/map shapes this router needs.
//
// Encoding style is grounded on the teacher's protocol/pamqp package, which
// frames AMQP 0-9-1 class-methods the same way this package frames AMQP 1.0
// performatives: a small constant table of wire codes plus thin per-section
// encode/decode helpers instead of a reflective/generic codec.
package amqp1

// Depth names how much of a message's sections have been parsed/validated,
// in on-wire order. original_source/include/qpid/dispatch/message.h fixes
// this order; it is preserved, with DepthFooter added between DepthRawBody
// and DepthAll.
type Depth int

const (
	DepthNone Depth = iota
	DepthRouterAnnotations
	DepthHeader
	DepthDeliveryAnnotations
	DepthMessageAnnotations
	DepthProperties
	DepthApplicationProperties
	DepthBody
	DepthRawBody
	DepthFooter
	DepthAll
)

func (d Depth) String() string {
	names := [...]string{
		"none", "router-annotations", "header", "delivery-annotations",
		"message-annotations", "properties", "application-properties",
		"body", "raw-body", "footer", "all",
	}
	if int(d) < 0 || int(d) >= len(names) {
		return "unknown"
	}
	return names[d]
}

// Descriptor codes for the AMQP 1.0 performatives/sections this package
// emits and recognizes. Values match the AMQP 1.0 spec §3.2.
const (
	DescriptorHeader               uint64 = 0x70
	DescriptorDeliveryAnnotations  uint64 = 0x71
	DescriptorMessageAnnotations   uint64 = 0x72
	DescriptorProperties           uint64 = 0x73
	DescriptorApplicationProps     uint64 = 0x74
	DescriptorData                uint64 = 0x75
	DescriptorFooter               uint64 = 0x78
)

// DescriptorRouterAnnotations is a private (non-standard) section code used
// only between peer routers, never placed on the wire to a foreign AMQP
// peer; it precedes the standard Header section. spec.md §3/§6 calls this
// "a private internal section".
const DescriptorRouterAnnotations uint64 = 0xF0000001

// Message-annotation keys the adaptor reads/writes (spec.md §6).
const (
	AnnotationToOverride    = "qd.to-override"
	AnnotationStreaming     = "qd.streaming"
	AnnotationResendRelease = "qd.resend-released"
	AnnotationIngressMesh   = "qd.ingress-mesh"
)

// Application-properties reserved key carrying the adaptor's internal
// stream flow-id reference (spec.md §6).
const AppPropFlowID = "x-opt-skupper-flow-id"

// Strip controls which router-annotation fields are emitted on egress
// (spec.md §6, "Observable flags").
type Strip int8

const (
	StripNone    Strip = 0
	StripIngress Strip = 1
	StripTrace   Strip = 2
	StripAll     Strip = -1 // 0xFF as int8
)

// HTTP/2 pseudo-header names carried verbatim into application-properties
// (spec.md §4.2).
const (
	PseudoMethod    = ":method"
	PseudoStatus    = ":status"
	PseudoPath      = ":path"
	PseudoScheme    = ":scheme"
	PseudoAuthority = ":authority"
)
