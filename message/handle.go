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

import "github.com/packetd/h2amqp-router/internal/bufchain"

// Handle is one outgoing path's cursor into a shared Content: the position
// it has sent through so far, any per-path annotation overrides, and
// whether it has sent the delivery tag yet (spec.md §3 "Handle"). Multiple
// Handles can read the same Content concurrently — each link sending the
// same multicast delivery holds its own.
type Handle struct {
	id    uint64
	owner *Content

	cursor  bufchain.Locator
	seq     uint64
	tagSent bool

	sendComplete bool

	toOverride string
}

// OpenHandle creates a send cursor positioned at the start of the content,
// pinning it with an extra reference for the handle's lifetime.
func (c *Content) OpenHandle() *Handle {
	c.Ref()
	c.windowMut.Lock()
	c.nextHandle++
	id := c.nextHandle
	c.handleFloor[id] = 0
	c.windowMut.Unlock()
	return &Handle{id: id, owner: c}
}

// ToOverride returns the per-path to-address override, if the adaptor set
// one (spec.md §6 "qd.to-override").
func (h *Handle) ToOverride() string { return h.toOverride }

// SetToOverride sets the per-path to-address override.
func (h *Handle) SetToOverride(to string) { h.toOverride = to }

// TagSent reports whether the delivery tag has already gone out on this
// path.
func (h *Handle) TagSent() bool { return h.tagSent }

// MarkTagSent latches tag_sent.
func (h *Handle) MarkTagSent() { h.tagSent = true }

// AdvanceTo moves the handle's send cursor forward to seq, the sequence
// number of the last buffer fully sent down this path, and lets the
// content attempt to free any buffer now below every handle's and window's
// floor.
func (h *Handle) AdvanceTo(seq uint64) {
	h.seq = seq
	h.owner.windowMut.Lock()
	h.owner.handleFloor[h.id] = seq
	h.owner.windowMut.Unlock()
	h.owner.tryFreeBuffers()
}

// NextBuffer returns the buffer chained after the handle's current
// position, or nil if the cursor has caught up to the content's tail.
func (h *Handle) NextBuffer() *bufchain.Buffer {
	h.owner.mut.Lock()
	defer h.owner.mut.Unlock()

	head := h.owner.chain.Head()
	if head == nil {
		return nil
	}
	if h.seq == 0 {
		return head
	}
	for b := head; b != nil; b = bufchain.Next(b) {
		if b.Seq() == h.seq {
			return bufchain.Next(b)
		}
	}
	// Cursor's buffer was already freed by a window on this content —
	// only reachable if the handle's own floor lagged another window's,
	// which AdvanceTo's ordering prevents; surface nothing rather than
	// replaying stale data.
	return nil
}

// SetSendComplete latches send_complete. Per spec.md §3 invariant this must
// only ever be called once ReceiveComplete is observed true on the
// underlying content.
func (h *Handle) SetSendComplete() {
	h.sendComplete = true
	h.owner.flags.setSendComplete()
}

// SendComplete reports whether this handle has finished sending.
func (h *Handle) SendComplete() bool { return h.sendComplete }

// Close releases the handle's pinning reference and deregisters its floor,
// letting previously-unreachable buffers free.
func (h *Handle) Close() {
	h.owner.windowMut.Lock()
	delete(h.owner.handleFloor, h.id)
	h.owner.windowMut.Unlock()

	h.owner.tryFreeBuffers()
	if h.owner.Unref() && !h.owner.HasLiveWindows() {
		h.owner.destroy()
	}
}
