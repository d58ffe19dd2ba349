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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/packetd/h2amqp-router/internal/safeptr"
)

func TestQ2BlocksAtUpperAndUnblocksAtLower(t *testing.T) {
	c := New()
	fillBuffers(t, c, Q2Upper-1)
	assert.False(t, c.q2.Blocked(), "just below the upper threshold, still unblocked")

	fillBuffers(t, c, 1)
	assert.True(t, c.q2.Blocked(), "reaching the upper threshold blocks the producer")

	w := c.OpenWindow()
	w.ReleaseUpTo(24) // held drops from Q2Upper to Q2Upper-24, still above Q2Lower
	assert.True(t, c.q2.Blocked(), "still above the lower threshold, stays blocked")

	w.Release()
	assert.False(t, c.q2.Blocked(), "draining to the lower threshold unblocks")
}

func TestQ2UnblockHandlerFiresOnceOnTransition(t *testing.T) {
	c := New()
	calls := 0
	table := safeptr.NewTable[func()]()
	c.q2.SetUnblockHandler(table, func() { calls++ })

	fillBuffers(t, c, Q2Upper)
	assert.True(t, c.q2.Blocked())

	w := c.OpenWindow()
	w.Release()

	assert.False(t, c.q2.Blocked())
	assert.Equal(t, 1, calls)

	// A second, already-unblocked drain must not re-fire the handler.
	fillBuffers(t, c, 1)
	w2 := c.OpenWindow()
	w2.Release()
	assert.Equal(t, 1, calls)
}

func TestQ2ClearedHandlerIsNoopOnUnblock(t *testing.T) {
	c := New()
	calls := 0
	table := safeptr.NewTable[func()]()
	c.q2.SetUnblockHandler(table, func() { calls++ })
	c.q2.ClearUnblockHandler()

	fillBuffers(t, c, Q2Upper)
	w := c.OpenWindow()
	w.Release()

	assert.Equal(t, 0, calls)
}
