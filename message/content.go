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

package message

import (
	"sync"
	"sync/atomic"

	"github.com/packetd/h2amqp-router/amqp1"
	"github.com/packetd/h2amqp-router/internal/bufchain"
	"github.com/packetd/h2amqp-router/internal/safeptr"
)

// DepthResult is the outcome of a depth check (spec.md §4.1).
type DepthResult int

const (
	DepthOK DepthResult = iota
	DepthIncomplete
	DepthInvalid
)

// locators bundles the field positions parsed out of the buffer chain so
// far. Once Parsed is set on a given entry its (buffer, offset) are stable
// for the content's lifetime (spec.md §3 invariant).
type locators struct {
	routerAnnotations bufchain.Locator
	header            bufchain.Locator
	deliveryAnn       bufchain.Locator
	messageAnn        bufchain.Locator
	properties        bufchain.Locator
	appProperties     bufchain.Locator
	body              []bufchain.Locator // one per Data section
	footer            bufchain.Locator
}

// Content is the shared, reference-counted body of a message (spec.md §3).
// It is created on first receive or first compose and destroyed once the
// refcount hits zero and no stream-data Window still references it.
type Content struct {
	mut sync.Mutex // content lock: serializes buffer-chain growth + parse cursor advance

	chain   *bufchain.List
	pending *bufchain.Buffer

	parseDepth  amqp1.Depth
	parseCursor amqp1.Cursor
	invalid     bool

	loc locators

	flags flags

	refcount atomic.Int32

	q2 q2State
	ct cutThroughState

	// openWindows tracks outstanding stream-data window sequence floors:
	// a window's floor is the highest sequence number through which it has
	// released contiguously, and only buffers at or below the minimum floor
	// across every open window and every handle's send cursor are freed.
	windowMut   sync.Mutex
	openWindows map[uint64]uint64 // window id -> released-through seq
	nextWindow  uint64
	handleFloor map[uint64]uint64 // handle id -> current send-cursor seq
	nextHandle  uint64
}

// New returns an empty Content ready to receive or be composed into, with
// a refcount of 1.
func New() *Content {
	c := &Content{
		chain:       bufchain.NewList(),
		openWindows: make(map[uint64]uint64),
		handleFloor: make(map[uint64]uint64),
	}
	c.refcount.Store(1)
	return c
}

// Ref increments the refcount. Refcount never rises from zero (spec.md §3
// invariant); calling Ref on an already-freed Content is a caller bug.
func (c *Content) Ref() {
	for {
		n := c.refcount.Load()
		if n <= 0 {
			panic("message: Ref on freed content")
		}
		if c.refcount.CompareAndSwap(n, n+1) {
			return
		}
	}
}

// Unref decrements the refcount and reports whether the content's refcount
// reached zero. The caller must additionally check HasLiveWindows before
// actually destroying backing buffers (spec.md §3: "destroyed when refcount
// hits zero AND no outstanding stream-data windows reference it").
func (c *Content) Unref() bool {
	return c.refcount.Add(-1) == 0
}

// HasLiveWindows reports whether any stream-data window is still
// outstanding.
func (c *Content) HasLiveWindows() bool {
	c.windowMut.Lock()
	defer c.windowMut.Unlock()
	return len(c.openWindows) > 0
}

// Receive appends frame bytes into the pending tip, linking it into the
// chain once full, and opportunistically advances parsing. It returns the
// current Q2-blocking state after accounting for the new bytes (spec.md
// §4.1 Receive / Q2).
func (c *Content) Receive(frame []byte) (q2Blocked bool) {
	c.mut.Lock()
	defer c.mut.Unlock()

	for len(frame) > 0 {
		if c.pending == nil {
			c.pending = bufchain.New(bufchain.DefaultCapacity)
		}
		n := c.pending.Append(frame)
		frame = frame[n:]
		if c.pending.Full() {
			c.chain.Append(c.pending)
			c.pending = nil
		} else if n == 0 {
			// Defensive: Append made no progress on a non-full pending
			// buffer, which cannot happen given DefaultCapacity > 0; avoid
			// spinning.
			break
		}
	}

	c.parseLocked()
	return c.q2.evaluate(c.heldBuffers())
}

// ReceiveComplete marks the message fully received. Per spec.md §4.1 this
// is only ever set by explicit producer declaration, never inferred. A
// partly filled pending tip is linked into the chain and parsed first,
// since no further bytes will fill it.
func (c *Content) ReceiveComplete() {
	c.mut.Lock()
	if c.pending != nil && c.pending.Size() > 0 {
		c.chain.Append(c.pending)
		c.pending = nil
		c.parseLocked()
	}
	c.mut.Unlock()
	c.flags.setReceiveComplete()
}

func (c *Content) IsReceiveComplete() bool { return c.flags.ReceiveComplete() }
func (c *Content) IsDiscard() bool         { return c.flags.Discard() }
func (c *Content) IsAborted() bool         { return c.flags.Aborted() }
func (c *Content) IsOversize() bool        { return c.flags.Oversize() }

// SetDiscard latches discard (monotonic).
func (c *Content) SetDiscard() { c.flags.setDiscard() }

// Abort latches aborted (monotonic) and releases any Q2 holdoff so a
// blocked producer observes the abort instead of spinning forever.
func (c *Content) Abort() {
	c.flags.setAborted()
	c.q2.forceUnblock()
}

// SetOversize latches oversize; spec_full §4.2 ("oversize flag").
func (c *Content) SetOversize() { c.flags.setOversize() }

// SetQ2UnblockHandler registers the callback a Q2-blocked producer's owner
// (the adaptor connection actor) should run once this content drains back
// below Q2Lower. table is the connection's own weak-handle table, so a
// connection that tears down while a content it was feeding is still
// Q2-blocked can invalidate the handler without touching the content.
func (c *Content) SetQ2UnblockHandler(table *safeptr.Table[func()], fn func()) {
	c.q2.SetUnblockHandler(table, fn)
}

// ClearQ2UnblockHandler releases a previously registered unblock handler
// without invoking it.
func (c *Content) ClearQ2UnblockHandler() { c.q2.ClearUnblockHandler() }

// Q2Blocked reports the content's current Q2 backpressure state.
func (c *Content) Q2Blocked() bool { return c.q2.Blocked() }

// heldBuffers returns the number of fully-linked buffers not yet consumed
// by any outbound path — i.e. buffers from the chain head to tail, since
// consumed buffers are popped off the head by window release (see window.go).
// Must be called with c.mut held.
func (c *Content) heldBuffers() int {
	return c.chain.Len()
}

// CheckDepth reports whether all mandatory sections up to depth are present
// and well-formed (spec.md §4.1).
func (c *Content) CheckDepth(depth amqp1.Depth) DepthResult {
	c.mut.Lock()
	defer c.mut.Unlock()

	if c.invalid {
		return DepthInvalid
	}
	if c.parseDepth >= depth {
		return DepthOK
	}
	if c.flags.ReceiveComplete() {
		// No more bytes are coming; anything still missing is either
		// legitimately absent (optional section) or the message is simply
		// shorter than the requested depth (e.g. DepthBody on a no-body
		// message) — both resolve to OK, matching spec.md "optional
		// sections absent still return OK".
		return DepthOK
	}
	return DepthIncomplete
}

// parseLocked advances the parse cursor as far as the buffered bytes allow,
// populating field locators. Must be called with c.mut held.
func (c *Content) parseLocked() {
	if c.invalid || c.parseDepth >= amqp1.DepthAll {
		return
	}
	if c.parseCursor.Buffer() == nil {
		head := c.chain.Head()
		if head == nil {
			return
		}
		c.parseCursor = amqp1.NewCursor(head)
	}

	for {
		sec, err := amqp1.ParseSection(c.parseCursor)
		if err == amqp1.ErrIncomplete {
			return
		}
		if err != nil {
			c.invalid = true
			return
		}
		if sec.Start.Remaining() < sec.TotalLen {
			return
		}

		switch sec.Descriptor {
		case amqp1.DescriptorRouterAnnotations:
			c.loc.routerAnnotations = stamp(sec)
			c.parseDepth = amqp1.DepthRouterAnnotations
		case amqp1.DescriptorHeader:
			c.loc.header = stamp(sec)
			if p, parsed, err := amqp1.DecodeHeader(sec); err == nil && parsed {
				c.flags.setPriority(p)
			}
			c.parseDepth = amqp1.DepthHeader
		case amqp1.DescriptorDeliveryAnnotations:
			c.loc.deliveryAnn = stamp(sec)
			c.parseDepth = amqp1.DepthDeliveryAnnotations
		case amqp1.DescriptorMessageAnnotations:
			c.loc.messageAnn = stamp(sec)
			c.parseDepth = amqp1.DepthMessageAnnotations
		case amqp1.DescriptorProperties:
			c.loc.properties = stamp(sec)
			c.parseDepth = amqp1.DepthProperties
		case amqp1.DescriptorApplicationProps:
			c.loc.appProperties = stamp(sec)
			c.parseDepth = amqp1.DepthApplicationProperties
		case amqp1.DescriptorData:
			c.loc.body = append(c.loc.body, stamp(sec))
			c.parseDepth = amqp1.DepthBody
		case amqp1.DescriptorFooter:
			c.loc.footer = stamp(sec)
			c.parseDepth = amqp1.DepthFooter
		default:
			c.invalid = true
			return
		}

		c.parseCursor.Advance(sec.TotalLen)
		if c.parseCursor.AtEnd() {
			return
		}
	}
}

func stamp(s amqp1.Section) bufchain.Locator {
	return bufchain.Locator{
		Buf:     s.Start.Buffer(),
		Offset:  s.Start.Offset(),
		Length:  s.TotalLen,
		Parsed:  true,
	}
}

// BufferCount reports the number of buffers currently linked into the
// content's chain (excludes the not-yet-full pending tip). Used by metrics
// and by tests asserting buffer-freeing behavior.
func (c *Content) BufferCount() int {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.chain.Len()
}

// Priority returns the message's AMQP priority (defaulting to 4 until the
// Header section has been parsed). spec_full §4.2.
func (c *Content) Priority() int {
	if !c.flags.PriorityParsed() {
		return 4
	}
	return c.flags.Priority()
}

// Properties returns the decoded Properties section, if parsed.
func (c *Content) Properties() (amqp1.Properties, bool) {
	c.mut.Lock()
	defer c.mut.Unlock()
	if !c.loc.properties.Valid() {
		return amqp1.Properties{}, false
	}
	sec := c.sectionAtLocked(c.loc.properties)
	p, err := amqp1.DecodeProperties(sec)
	return p, err == nil
}

// ApplicationProperties returns the decoded application-properties map, in
// order, if parsed.
func (c *Content) ApplicationProperties() ([]amqp1.AppProp, bool) {
	c.mut.Lock()
	defer c.mut.Unlock()
	if !c.loc.appProperties.Valid() {
		return nil, false
	}
	sec := c.sectionAtLocked(c.loc.appProperties)
	props, err := amqp1.DecodeAppProps(sec)
	return props, err == nil
}

// Footer returns the decoded footer map, if the footer has arrived.
func (c *Content) Footer() ([]amqp1.AppProp, bool) {
	c.mut.Lock()
	defer c.mut.Unlock()
	if !c.loc.footer.Valid() {
		return nil, false
	}
	sec := c.sectionAtLocked(c.loc.footer)
	props, err := amqp1.DecodeAppProps(sec)
	return props, err == nil
}

// RouterAnnotations returns the decoded private router-annotations section.
func (c *Content) RouterAnnotations() (amqp1.RouterAnnotations, bool) {
	c.mut.Lock()
	defer c.mut.Unlock()
	if !c.loc.routerAnnotations.Valid() {
		return amqp1.RouterAnnotations{}, false
	}
	sec := c.sectionAtLocked(c.loc.routerAnnotations)
	ra, err := amqp1.DecodeRouterAnnotations(sec)
	return ra, err == nil
}

// Body returns a zero-copy locator for each Data section parsed so far, in
// wire order. spec.md §4.1 "length/copy" operations are built on top of
// these via amqp1.DataPayload + bufchain.Length/Copy.
func (c *Content) Body() []bufchain.Locator {
	c.mut.Lock()
	defer c.mut.Unlock()
	out := make([]bufchain.Locator, len(c.loc.body))
	copy(out, c.loc.body)
	return out
}

// BodyPayload returns the zero-copy binary locator for the idx'th Data
// section (as opposed to the section-including-descriptor locator Body
// returns), suitable for streaming the raw payload out.
func (c *Content) BodyPayload(idx int) (bufchain.Locator, bool) {
	c.mut.Lock()
	defer c.mut.Unlock()
	if idx < 0 || idx >= len(c.loc.body) {
		return bufchain.Locator{}, false
	}
	sec := c.sectionAtLocked(c.loc.body[idx])
	return amqp1.DataPayload(sec), true
}

// DeliveryAnnotations returns the decoded delivery-annotations map, if the
// section has arrived.
func (c *Content) DeliveryAnnotations() ([]amqp1.AppProp, bool) {
	c.mut.Lock()
	defer c.mut.Unlock()
	if !c.loc.deliveryAnn.Valid() {
		return nil, false
	}
	props, err := amqp1.DecodeAppProps(c.sectionAtLocked(c.loc.deliveryAnn))
	return props, err == nil
}

// MessageAnnotations returns the decoded message-annotations map, if the
// section has arrived.
func (c *Content) MessageAnnotations() ([]amqp1.AppProp, bool) {
	c.mut.Lock()
	defer c.mut.Unlock()
	if !c.loc.messageAnn.Valid() {
		return nil, false
	}
	props, err := amqp1.DecodeAppProps(c.sectionAtLocked(c.loc.messageAnn))
	return props, err == nil
}

func (c *Content) sectionAtLocked(l bufchain.Locator) amqp1.Section {
	cur := amqp1.NewCursorAt(l.Buf, l.Offset)
	sec, _ := amqp1.ParseSection(cur)
	return sec
}

// Compose builds a message from one-to-several pre-composed field builders,
// taking each builder's buffer list by move, concatenated in order
// (spec.md §4.1 Compose).
func Compose(lists ...*bufchain.List) *Content {
	c := New()
	for _, l := range lists {
		c.chain.Concat(l)
	}
	c.mut.Lock()
	c.parseLocked()
	c.mut.Unlock()
	return c
}

// Extend appends a composed field to a message still receiving — used for
// footers and side-constructed payloads (spec.md §4.1 Extend). It returns
// the content's current buffer count. Bytes still held in the pending tip
// are linked into the chain first, so the field lands after them.
func (c *Content) Extend(list *bufchain.List) int {
	c.mut.Lock()
	defer c.mut.Unlock()
	if c.pending != nil && c.pending.Size() > 0 {
		c.chain.Append(c.pending)
		c.pending = nil
	}
	c.chain.Concat(list)
	c.parseLocked()
	return c.chain.Len()
}
