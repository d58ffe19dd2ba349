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

package http2

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/packetd/h2amqp-router/amqp1"
	"github.com/packetd/h2amqp-router/internal/safeptr"
	"github.com/packetd/h2amqp-router/message"
)

func TestStreamRecordHalfCloseThenFullyCloses(t *testing.T) {
	s := NewStreamRecord(1, "conn-flow")
	assert.Equal(t, streamOpen, s.Status)

	s.HalfClose()
	assert.Equal(t, streamHalfClosed, s.Status)
	assert.False(t, s.Closed())

	s.HalfClose()
	assert.True(t, s.Closed())
	assert.False(t, s.ClosedAt.IsZero())
}

func TestStreamRecordForceCloseIsIdempotent(t *testing.T) {
	s := NewStreamRecord(3, "conn-flow")
	s.ForceClose()
	assert.True(t, s.Closed())
	assert.True(t, s.flags.streamForceClosed)

	closedAt := s.ClosedAt
	s.ForceClose()
	assert.Equal(t, closedAt, s.ClosedAt)
}

func TestStreamRecordCloseClearsWindowsAndHandle(t *testing.T) {
	s := NewStreamRecord(5, "conn-flow")

	content := message.Compose(amqp1.BuildHeader(-1))
	s.OutContent = content
	s.OutHandle = content.OpenHandle()
	s.Window = content.OpenWindow()

	table := safeptr.NewTable[func()]()
	fired := false
	content.SetQ2UnblockHandler(table, func() { fired = true })

	s.ForceClose()

	assert.Nil(t, s.Window)
	assert.Nil(t, s.OutHandle)
	assert.False(t, fired, "clearing the handler on close must not invoke it")
	assert.False(t, content.HasLiveWindows())
}
