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

package activation

import "sync/atomic"

// Event names the work items a connection actor's event loop consumes
// (spec.md §4.3).
type Event int8

const (
	EventConnected Event = iota
	EventNeedReadBuffers
	EventRead
	EventWriteCompleted
	EventWake
	EventClosedRead
	EventClosedWrite
	EventDisconnected
)

// Queue is a single-consumer mailbox of actor events, pushed to from any
// goroutine and drained only by the owning actor's own thread. It mirrors
// internal/pubsub.Queue's Push/Close idiom, narrowed to one reader and
// widened to carry Event payloads instead of arbitrary pub/sub messages.
type Queue struct {
	ch     chan Event
	closed atomic.Bool
}

// NewQueue returns a Queue buffered to size, so a burst of wakeups from
// several producer connections never blocks them on the consumer actor's
// drain rate.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 16
	}
	return &Queue{ch: make(chan Event, size)}
}

// Push enqueues an event. It is a best-effort send: if the queue is full
// the actor is already guaranteed to wake for earlier events and will
// observe the condition this event would have signaled (e.g. WAKE is
// idempotent — draining the work list once covers any coalesced wakes).
func (q *Queue) Push(e Event) {
	if q.closed.Load() {
		return
	}
	select {
	case q.ch <- e:
	default:
	}
}

// C exposes the channel for the actor's own select loop.
func (q *Queue) C() <-chan Event { return q.ch }

// Close tears down the queue. Safe to call more than once.
func (q *Queue) Close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.ch)
	}
}
