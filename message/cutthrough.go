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

	"github.com/packetd/h2amqp-router/internal/bufchain"
)

// cutThroughState is the fixed-size ring of buffer-list slots backing the
// cut-through unicast fast path (spec.md §4.1). It is mutually exclusive
// with classical field-by-field body access: once enabled, Content.Body*
// accessors must not be used, and the switch cannot be undone.
type cutThroughState struct {
	mut sync.Mutex

	slots    [CutThroughSlots]*bufchain.List
	produce  int // next slot index to fill, mod CutThroughSlots
	consume  int // next slot index to drain, mod CutThroughSlots
	fill     int // number of occupied slots
	stalled  bool
}

// CanProduce reports whether the ring has a free slot.
func (ct *cutThroughState) CanProduce() bool {
	ct.mut.Lock()
	defer ct.mut.Unlock()
	return ct.fill < CutThroughSlots
}

// CanConsume reports whether the ring holds an unconsumed slot.
func (ct *cutThroughState) CanConsume() bool {
	ct.mut.Lock()
	defer ct.mut.Unlock()
	return ct.fill > 0
}

// Produce fills the next free slot with list, reporting false (and
// latching stalled) if the ring is already full — the producer side must
// treat that as backpressure and wait for a resume edge.
func (ct *cutThroughState) Produce(list *bufchain.List) bool {
	ct.mut.Lock()
	defer ct.mut.Unlock()
	if ct.fill >= CutThroughSlots {
		ct.stalled = true
		return false
	}
	ct.slots[ct.produce] = list
	ct.produce = (ct.produce + 1) % CutThroughSlots
	ct.fill++
	return true
}

// Consume drains the oldest filled slot, reporting ok=false if the ring is
// empty.
func (ct *cutThroughState) Consume() (list *bufchain.List, ok bool) {
	ct.mut.Lock()
	defer ct.mut.Unlock()
	if ct.fill == 0 {
		return nil, false
	}
	list = ct.slots[ct.consume]
	ct.slots[ct.consume] = nil
	ct.consume = (ct.consume + 1) % CutThroughSlots
	ct.fill--
	return list, true
}

// ResumeFromStalled reports whether the ring has drained to
// CutThroughResumeThreshold or fewer slots after having stalled full, clearing the stall
// latch exactly once per stall episode (spec.md §4.1 "resume edge
// detection").
func (ct *cutThroughState) ResumeFromStalled() bool {
	ct.mut.Lock()
	defer ct.mut.Unlock()
	if !ct.stalled || ct.fill > CutThroughResumeThreshold {
		return false
	}
	ct.stalled = false
	return true
}

// Fill reports the current occupied slot count, for metrics/tests.
func (ct *cutThroughState) Fill() int {
	ct.mut.Lock()
	defer ct.mut.Unlock()
	return ct.fill
}

// EnableCutThrough switches the content into cut-through mode. It is a
// one-way, idempotent-false-returning switch: once another goroutine has
// already flipped it, this call reports false and the caller must not also
// start feeding the ring.
func (c *Content) EnableCutThrough() bool {
	return c.flags.trySetCutThrough()
}

// CutThroughEnabled reports whether the fast path is active for this
// content.
func (c *Content) CutThroughEnabled() bool {
	return c.flags.CutThroughEnabled()
}

// CutThroughProduce feeds list into the ring. The caller must have
// confirmed EnableCutThrough succeeded before ever calling this.
func (c *Content) CutThroughProduce(list *bufchain.List) bool {
	return c.ct.Produce(list)
}

// CutThroughConsume drains the oldest ring entry, if any, then checks for a
// resume edge so callers can reactivate a stalled producer in one step.
func (c *Content) CutThroughConsume() (list *bufchain.List, ok bool, resumed bool) {
	list, ok = c.ct.Consume()
	if ok {
		resumed = c.ct.ResumeFromStalled()
	}
	return list, ok, resumed
}
