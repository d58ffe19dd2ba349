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

import (
	"sync"
	"sync/atomic"
	"time"
)

// ReconnectDelay is the debounce interval egress reconnect attempts back
// off by (spec.md §5).
const ReconnectDelay = 2 * time.Second

// ReconnectTimer schedules a single debounced callback, idempotent under
// concurrent Schedule calls via CAS on an activate-scheduled flag
// (spec.md §5's "Atomic flags" list: "activate-scheduled").
type ReconnectTimer struct {
	scheduled atomic.Bool

	mut   sync.Mutex
	timer *time.Timer
}

// NewReconnectTimer returns an idle timer.
func NewReconnectTimer() *ReconnectTimer {
	return &ReconnectTimer{}
}

// Schedule arms the timer to call fn after ReconnectDelay, unless one is
// already pending — the CAS makes concurrent Schedule calls from multiple
// DISCONNECTED events collapse into a single pending timer.
func (t *ReconnectTimer) Schedule(fn func()) {
	if !t.scheduled.CompareAndSwap(false, true) {
		return
	}

	t.mut.Lock()
	t.timer = time.AfterFunc(ReconnectDelay, func() {
		t.scheduled.Store(false)
		fn()
	})
	t.mut.Unlock()
}

// Cancel clears any pending timer. Per spec.md §5 ("Cancellation clears the
// timer and then CAS-clears the flag — order matters"): stopping the timer
// first prevents a race where fn fires between the Stop call and the flag
// clear, which would otherwise let a concurrent Schedule believe a timer is
// still pending when none is.
func (t *ReconnectTimer) Cancel() {
	t.mut.Lock()
	timer := t.timer
	t.timer = nil
	t.mut.Unlock()

	if timer != nil {
		timer.Stop()
	}
	t.scheduled.Store(false)
}

// Pending reports whether a reconnect is currently scheduled.
func (t *ReconnectTimer) Pending() bool {
	return t.scheduled.Load()
}
