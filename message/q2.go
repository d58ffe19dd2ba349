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

	"github.com/packetd/h2amqp-router/internal/safeptr"
)

// q2State tracks per-message Q2 backpressure: a producer is blocked once the
// content holds Q2Upper buffers and stays blocked until consumption drains
// it to Q2Lower (hysteresis, spec.md §4.1). The unblock notification is
// delivered through a weak handle rather than a direct closure capture, so
// a link that detaches while its message is still Q2-blocked doesn't leak a
// reference to itself — Clear(ptr) on detach makes the eventual Load a
// harmless no-op.
type q2State struct {
	mut     sync.Mutex
	blocked bool

	table *safeptr.Table[func()]
	ptr   safeptr.Ptr
}

// SetUnblockHandler registers the callback to invoke the first time a
// blocked content drains back to Q2Lower. table is owned by the caller
// (typically the adaptor connection actor, one table per connection) so
// that Clear can outlive this q2State's lifetime.
func (q *q2State) SetUnblockHandler(table *safeptr.Table[func()], fn func()) {
	q.mut.Lock()
	defer q.mut.Unlock()
	q.table = table
	q.ptr = table.Store(fn)
}

// ClearUnblockHandler releases the weak handle without invoking it. Callers
// use this when a link detaches or a connection drops while Q2-blocked, so
// the eventual drain-triggered Load becomes a no-op.
func (q *q2State) ClearUnblockHandler() {
	q.mut.Lock()
	defer q.mut.Unlock()
	if q.table != nil {
		q.table.Clear(q.ptr)
	}
	q.table = nil
}

// evaluate reconsiders blocked state after bytes were appended. It only
// ever transitions false -> true here; the matching true -> false
// transition happens in consumed, once a buffer has actually left the
// chain. Returns the (possibly just-set) blocked state.
func (q *q2State) evaluate(held int) bool {
	q.mut.Lock()
	defer q.mut.Unlock()
	if !q.blocked && held >= Q2Upper {
		q.blocked = true
	}
	return q.blocked
}

// consumed reconsiders blocked state after a buffer left the chain
// (window release, cut-through consume, or handle advance). If this
// transitions true -> false it fires the registered unblock handler.
func (q *q2State) consumed(held int) {
	q.mut.Lock()
	if !q.blocked || held > Q2Lower {
		q.mut.Unlock()
		return
	}
	q.blocked = false
	table, ptr := q.table, q.ptr
	q.table = nil
	q.mut.Unlock()

	if table == nil {
		return
	}
	if fn, ok := table.Load(ptr); ok {
		fn()
	}
}

// forceUnblock clears blocked state unconditionally (message abort/discard,
// spec.md §4.1: "an aborted message must not leave a producer parked").
func (q *q2State) forceUnblock() {
	q.mut.Lock()
	if !q.blocked {
		q.mut.Unlock()
		return
	}
	q.blocked = false
	table, ptr := q.table, q.ptr
	q.table = nil
	q.mut.Unlock()

	if table == nil {
		return
	}
	if fn, ok := table.Load(ptr); ok {
		fn()
	}
}

// Blocked reports the current Q2 state.
func (q *q2State) Blocked() bool {
	q.mut.Lock()
	defer q.mut.Unlock()
	return q.blocked
}
