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
	"github.com/stretchr/testify/require"

	"github.com/packetd/h2amqp-router/internal/bufchain"
)

func TestCutThroughEnableIsOneWayAndIdempotent(t *testing.T) {
	c := New()
	assert.True(t, c.EnableCutThrough())
	assert.False(t, c.EnableCutThrough(), "second caller must not also win the switch")
	assert.True(t, c.CutThroughEnabled())
}

func TestCutThroughRingFillsAndStalls(t *testing.T) {
	c := New()
	require.True(t, c.EnableCutThrough())

	for i := 0; i < CutThroughSlots; i++ {
		ok := c.CutThroughProduce(bufchain.NewList())
		require.True(t, ok, "slot %d should still be free", i)
	}

	ok := c.CutThroughProduce(bufchain.NewList())
	assert.False(t, ok, "ring is full, producer must stall")
}

func TestCutThroughResumeFiresOnceBelowThreshold(t *testing.T) {
	c := New()
	require.True(t, c.EnableCutThrough())

	for i := 0; i < CutThroughSlots; i++ {
		require.True(t, c.CutThroughProduce(bufchain.NewList()))
	}
	require.False(t, c.CutThroughProduce(bufchain.NewList())) // latches stalled

	// Drain down to CutThroughResumeThreshold+1 occupied slots: still
	// stalled, no resume edge yet.
	for i := 0; i < CutThroughSlots-CutThroughResumeThreshold-1; i++ {
		_, ok, resumed := c.CutThroughConsume()
		require.True(t, ok)
		assert.False(t, resumed)
	}

	// The next drain crosses the resume threshold.
	_, ok, resumed := c.CutThroughConsume()
	require.True(t, ok)
	assert.True(t, resumed)

	// Further consumes must not re-fire the resume edge for the same
	// stall episode.
	_, ok, resumed = c.CutThroughConsume()
	require.True(t, ok)
	assert.False(t, resumed)
}
