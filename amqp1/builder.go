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

package amqp1

import "github.com/packetd/h2amqp-router/internal/bufchain"

// Builder is a mutable, append-only field builder parameterized by the
// target AMQP section (design note §9: "map to a builder type parameterized
// by the target AMQP section"). Once Freeze is called it yields a buffer
// list that the message content takes by move via List.Concat.
type Builder struct {
	list *bufchain.List
	cur  *bufchain.Buffer
	size int
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{list: bufchain.NewList()}
}

// Write implements amqp1.Writer, chaining fresh buffers as each fills.
func (b *Builder) Write(p []byte) {
	b.size += len(p)
	for len(p) > 0 {
		if b.cur == nil || b.cur.Full() {
			b.cur = bufchain.New(bufchain.DefaultCapacity)
			b.list.Append(b.cur)
		}
		n := b.cur.Append(p)
		p = p[n:]
	}
}

// Size returns the number of bytes written so far.
func (b *Builder) Size() int { return b.size }

// Freeze finalizes the builder and returns its buffer list. The Builder
// must not be reused afterward.
func (b *Builder) Freeze() *bufchain.List {
	list := b.list
	b.list, b.cur, b.size = nil, nil, 0
	return list
}

// AppProp is one ordered application-properties (or footer) entry. An
// ordered slice, not a map, because spec.md §3 calls application-properties
// "an ordered map" and HTTP/2 header order matters for round-tripping
// duplicate keys (e.g. repeated Set-Cookie style headers).
type AppProp struct {
	Key   string
	Value string
}

// BuildApplicationProperties encodes an ordered application-properties (or
// footer) section body.
func BuildApplicationProperties(descriptor uint64, props []AppProp) *bufchain.List {
	inner := NewBuilder()
	for _, p := range props {
		PutString(inner, p.Key)
		PutString(inner, p.Value)
	}
	body := flatten(inner)

	mapBuf := NewBuilder()
	MapHeader(mapBuf, len(props), body)

	b := NewBuilder()
	Described(b, descriptor, flatten(mapBuf))
	return b.Freeze()
}

// flatten drains a Builder's buffer list into one contiguous slice. Used
// only for small, bounded encodings (header maps, not the body) where
// the cost of one copy is worth the simplicity of composing sub-encodings.
func flatten(b *Builder) []byte {
	list := b.Freeze()
	out := make([]byte, 0, list.Bytes())
	list.Range(func(buf *bufchain.Buffer) bool {
		out = append(out, buf.Bytes()...)
		return true
	})
	return out
}

// BuildHeader encodes the Header section. durable is always false per
// spec.md §6 ("Header (durable=false; others null"); priority, when
// parsed>=0, is included, else the field list stops after durable.
func BuildHeader(priority int) *bufchain.List {
	inner := NewBuilder()
	PutBool(inner, false) // durable
	count := 1
	if priority >= 0 {
		PutUint(inner, uint32(priority))
		count = 2
	}
	body := flatten(inner)

	b := NewBuilder()
	listBuf := NewBuilder()
	ListHeader(listBuf, count, body)
	Described(b, DescriptorHeader, flatten(listBuf))
	return b.Freeze()
}

// Properties carries the subset of the AMQP Properties section the adaptor
// populates (spec.md §6).
type Properties struct {
	To      string
	Subject string
	ReplyTo string
	GroupID string
}

// BuildProperties encodes the Properties section. Positional fields are
// padded with null so later fields land in their fixed AMQP-spec slot
// (message-id, user-id, to, subject, reply-to, ..., group-id is index 10).
func BuildProperties(p Properties) *bufchain.List {
	inner := NewBuilder()
	count := 0
	putField := func(present bool, s string) {
		if present {
			PutString(inner, s)
		} else {
			PutNull(inner)
		}
		count++
	}
	putField(false, "") // message-id
	putField(false, "") // user-id
	putField(p.To != "", p.To)
	putField(p.Subject != "", p.Subject)
	putField(p.ReplyTo != "", p.ReplyTo)
	putField(false, "") // correlation-id
	putField(false, "") // content-type
	putField(false, "") // content-encoding
	putField(false, "") // absolute-expiry-time
	putField(false, "") // creation-time
	putField(p.GroupID != "", p.GroupID)
	body := flatten(inner)

	b := NewBuilder()
	listBuf := NewBuilder()
	ListHeader(listBuf, count, body)
	Described(b, DescriptorProperties, flatten(listBuf))
	return b.Freeze()
}

// BuildData encodes one Data section carrying raw opaque body bytes.
func BuildData(payload []byte) *bufchain.List {
	b := NewBuilder()
	dataBuf := NewBuilder()
	PutBinary(dataBuf, payload)
	Described(b, DescriptorData, flatten(dataBuf))
	return b.Freeze()
}

// RouterAnnotations carries the private section fields spec.md §3/§6 name.
type RouterAnnotations struct {
	IngressRouter string
	ToOverride    string
	Trace         []string
	Flags         uint32
	IngressMesh   string
}

// BuildRouterAnnotations encodes the private router-annotations section,
// honoring strip to control which fields are emitted on egress.
func BuildRouterAnnotations(ra RouterAnnotations, strip Strip) *bufchain.List {
	inner := NewBuilder()
	count := 0

	putStr := func(omit bool, s string) {
		if omit {
			PutNull(inner)
		} else {
			PutString(inner, s)
		}
		count++
	}

	putStr(strip == StripAll || strip == StripIngress, ra.IngressRouter)
	putStr(strip == StripAll, ra.ToOverride)

	if strip == StripAll || strip == StripTrace {
		PutNull(inner)
	} else {
		traceBuf := NewBuilder()
		for _, t := range ra.Trace {
			PutString(traceBuf, t)
		}
		tb := flatten(traceBuf)
		listBuf := NewBuilder()
		ListHeader(listBuf, len(ra.Trace), tb)
		inner.Write(flatten(listBuf))
	}
	count++

	PutUint(inner, ra.Flags)
	count++

	putStr(strip == StripAll, ra.IngressMesh)

	body := flatten(inner)
	b := NewBuilder()
	listBuf := NewBuilder()
	ListHeader(listBuf, count, body)
	Described(b, DescriptorRouterAnnotations, flatten(listBuf))
	return b.Freeze()
}
