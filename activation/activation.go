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

// Package activation implements the cross-thread wake discipline spec.md
// §5 requires: a global server-activation lock guarding a weak-handle table
// of actors, and a per-connection work queue an actor drains on its own
// thread. The queue is the teacher's internal/pubsub.Queue idiom
// specialized from a broadcast pub/sub fan-out to a single-consumer wake
// mailbox, since only one actor ever reads its own queue.
package activation

import (
	"sync"

	"github.com/packetd/h2amqp-router/internal/safeptr"
)

// Actor is anything activation can wake: a connection actor's event loop.
// Wake must be safe to call from any goroutine; the actor enqueues the
// notification and returns without running actor logic inline, since the
// caller may be holding locks the actor's own thread must not reenter
// (spec.md §5 lock order).
type Actor interface {
	Wake()
}

// Server is the router-core's global server-activation lock (spec.md §5:
// "must be held for the wake of any actor from outside that actor's
// thread"). It owns the weak-handle table connection actors register
// themselves into; the Q2 unblocker and any other cross-thread waker goes
// through here rather than holding a raw pointer to the actor.
type Server struct {
	mut   sync.Mutex
	table *safeptr.Table[Actor]
}

// NewServer returns an empty activation server.
func NewServer() *Server {
	return &Server{table: safeptr.NewTable[Actor]()}
}

// Register enrolls an actor and returns the weak handle other threads use
// to reach it. The actor deregisters with Unregister when it tears down.
func (s *Server) Register(a Actor) safeptr.Ptr {
	return s.table.Store(a)
}

// Unregister invalidates the handle; any Activate call racing against
// teardown silently becomes a no-op instead of touching a freed actor.
func (s *Server) Unregister(p safeptr.Ptr) {
	s.table.Clear(p)
}

// Activate wakes the actor behind p, if it is still live. It takes the
// server-activation lock for the duration of the dereference+wake, per
// spec.md §5's lock-order requirement ("adapter-mutex -> content-lock ->
// activation-lock -> server-activation-lock" — this is the innermost
// acquire, taken last, since Wake only enqueues and returns, it never
// recurses back into a lock this call already holds).
func (s *Server) Activate(p safeptr.Ptr) {
	s.mut.Lock()
	defer s.mut.Unlock()

	a, ok := s.table.Load(p)
	if !ok {
		return
	}
	a.Wake()
}
