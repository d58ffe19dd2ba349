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

import "sort"

// seqRange is a closed interval [lo, hi] of buffer sequence numbers that has
// been released by a window's consumer.
type seqRange struct{ lo, hi uint64 }

// Window is a consumer's view onto a span of streamed body data: the span
// grows as Content.Receive links new buffers in, and the consumer releases
// sub-ranges of it as it finishes with them — not necessarily in order
// (spec.md §4.1 "explicit release and out-of-order release support").
//
// A Window holds the Content it was opened against alive (via refcount) for
// its own lifetime; Release must be called exactly once to give that
// reference back, mirroring Content.Ref/Unref pairing.
type Window struct {
	id      uint64
	owner   *Content
	startAt uint64 // first seq this window covers (buffers before it were already free)
	endAt   uint64 // last seq currently covered; advances as Extend is called
	ranges  []seqRange
	closed  bool
}

// OpenWindow begins tracking the stream data currently buffered (from the
// oldest unfreed buffer through the current tail) as a new Window, and
// pins the content with an extra reference for the window's lifetime.
func (c *Content) OpenWindow() *Window {
	c.mut.Lock()
	tailSeq := uint64(0)
	if t := c.chain.Tail(); t != nil {
		tailSeq = t.Seq()
	}
	startSeq := uint64(0)
	if h := c.chain.Head(); h != nil {
		startSeq = h.Seq()
	}
	c.mut.Unlock()

	c.Ref()
	c.windowMut.Lock()
	c.nextWindow++
	id := c.nextWindow
	c.windowMut.Unlock()

	w := &Window{id: id, owner: c, startAt: startSeq, endAt: tailSeq}
	c.registerWindow(w)
	return w
}

// Extend widens the window to cover newly-arrived buffers, up to the
// content's current tail sequence.
func (w *Window) Extend() {
	w.owner.mut.Lock()
	tailSeq := uint64(0)
	if t := w.owner.chain.Tail(); t != nil {
		tailSeq = t.Seq()
	}
	w.owner.mut.Unlock()

	w.owner.windowMut.Lock()
	if tailSeq > w.endAt {
		w.endAt = tailSeq
	}
	w.owner.updateFloorLocked(w)
	w.owner.windowMut.Unlock()
}

// ReleaseUpTo marks [window-start, seq] as released, merging with any
// previously released ranges; it may be called out of order with other
// sub-range releases of the same window. Buffers that become dominated by
// every outstanding window's and handle's floor are freed immediately.
func (w *Window) ReleaseUpTo(seq uint64) {
	if seq < w.startAt {
		return
	}
	if seq > w.endAt {
		seq = w.endAt
	}

	w.owner.windowMut.Lock()
	w.ranges = mergeRange(w.ranges, seqRange{lo: w.startAt, hi: seq})
	if w.floorLocked() >= w.endAt && w.endAt > 0 {
		w.owner.windowMut.Unlock()
		w.Release()
		return
	}
	w.owner.updateFloorLocked(w)
	w.owner.windowMut.Unlock()

	w.owner.tryFreeBuffers()
}

// Release closes the window unconditionally, whether or not every byte in
// it was individually released, and gives back the pinning reference taken
// by OpenWindow. Safe to call at most once.
func (w *Window) Release() {
	w.owner.windowMut.Lock()
	if w.closed {
		w.owner.windowMut.Unlock()
		return
	}
	w.closed = true
	// Treat the whole span as released before dropping this window's
	// entry, so its contribution to minFloor stops being the most
	// restrictive one in the same pass that frees what it was guarding.
	w.owner.openWindows[w.id] = w.endAt
	w.owner.windowMut.Unlock()

	w.owner.tryFreeBuffers()

	w.owner.windowMut.Lock()
	delete(w.owner.openWindows, w.id)
	w.owner.windowMut.Unlock()

	if w.owner.Unref() && !w.owner.HasLiveWindows() {
		w.owner.destroy()
	}
}

// floorLocked returns the highest seq such that [startAt, floor] is
// contiguously released. Must be called with owner.windowMut held.
func (w *Window) floorLocked() uint64 {
	if w.startAt == 0 {
		return 0
	}
	floor := w.startAt - 1
	for _, r := range w.ranges {
		if r.lo > floor+1 {
			break
		}
		if r.hi > floor {
			floor = r.hi
		}
	}
	return floor
}

func mergeRange(ranges []seqRange, add seqRange) []seqRange {
	ranges = append(ranges, add)
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].lo < ranges[j].lo })
	out := ranges[:1]
	for _, r := range ranges[1:] {
		last := &out[len(out)-1]
		if r.lo <= last.hi+1 {
			if r.hi > last.hi {
				last.hi = r.hi
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

// registerWindow records w in the content's open-window set with its
// initial floor: nothing in the window has been released yet, so the
// floor sits one below the window's first covered sequence number — it
// must not itself permit freeing any buffer the window covers. Must be
// called without windowMut held.
func (c *Content) registerWindow(w *Window) {
	c.windowMut.Lock()
	if w.startAt > 0 {
		c.openWindows[w.id] = w.startAt - 1
	} else {
		c.openWindows[w.id] = 0
	}
	c.windowMut.Unlock()
}

// updateFloorLocked refreshes the content's recorded floor for w. Must be
// called with windowMut held.
func (c *Content) updateFloorLocked(w *Window) {
	c.openWindows[w.id] = w.floorLocked()
}

// minFloor returns the lowest seq below which no open window or registered
// handle still needs a buffer. It reports false if none are registered, in
// which case tryFreeBuffers frees nothing. Must be called with windowMut held.
func (c *Content) minFloor() (uint64, bool) {
	has := false
	min := uint64(0)
	for _, floor := range c.openWindows {
		if !has || floor < min {
			min, has = floor, true
		}
	}
	for _, floor := range c.handleFloor {
		if !has || floor < min {
			min, has = floor, true
		}
	}
	return min, has
}

// tryFreeBuffers pops and releases buffers from the chain head while they
// lie at or below every outstanding window's and handle's floor.
func (c *Content) tryFreeBuffers() {
	c.windowMut.Lock()
	floor, bounded := c.minFloor()
	c.windowMut.Unlock()

	if !bounded {
		// No window or handle has ever registered a floor for this
		// content: classical field locators may still point anywhere in
		// the chain, so only Unref-driven destroy frees buffers.
		return
	}

	c.mut.Lock()
	freed := false
	for {
		head := c.chain.Head()
		if head == nil || head.Seq() > floor {
			break
		}
		c.chain.PopHead()
		head.Release()
		freed = true
	}
	held := c.chain.Len()
	c.mut.Unlock()

	if freed {
		c.q2.consumed(held)
	}
}

// destroy releases the pending tip buffer once refcount and live windows
// both permit it. Called only from Window.Release / Handle paths that drop
// the last reference.
func (c *Content) destroy() {
	c.mut.Lock()
	defer c.mut.Unlock()
	if c.pending != nil {
		c.pending.Release()
		c.pending = nil
	}
	for {
		b := c.chain.PopHead()
		if b == nil {
			return
		}
		b.Release()
	}
}
