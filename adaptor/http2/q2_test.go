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
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/h2amqp-router/activation"
	"github.com/packetd/h2amqp-router/internal/bufchain"
	"github.com/packetd/h2amqp-router/message"
)

func fillBuffers(c *message.Content, n int) {
	chunk := bytes.Repeat([]byte{0xAA}, bufchain.DefaultCapacity)
	for i := 0; i < n; i++ {
		c.Receive(chunk)
	}
}

// TestQ2UnblockHandlerWiresIntoScheduleRestart checks the gap this package
// closed between message.Content's Q2 callback and the connection actor:
// registering Connection.ScheduleRestart as a content's unblock handler
// (exactly as composeHeader and Deliver do) must actually debounce-wake the
// actor once that content drains.
func TestQ2UnblockHandlerWiresIntoScheduleRestart(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	conn := NewConnection(Config{}, RoleListener, serverConn, nil, newFakeCore(), activation.NewServer())

	content := message.New()
	content.SetQ2UnblockHandler(conn.q2Table, conn.ScheduleRestart)

	fillBuffers(content, message.Q2Upper)
	assert.True(t, content.Q2Blocked())
	assert.False(t, conn.q2Restart.Load())

	w := content.OpenWindow()
	w.Release() // drains the whole window at once, crossing back below Q2Lower

	assert.False(t, content.Q2Blocked())
	assert.True(t, conn.q2Restart.Load(), "draining below Q2Lower must schedule a restart pass")
	assert.True(t, conn.activateScheduled.Load())

	select {
	case ev := <-conn.queue.C():
		assert.Equal(t, activation.EventWake, ev)
	default:
		t.Fatal("ScheduleRestart must wake the actor queue")
	}
}

// TestQ2UnblockHandlerClearedOnStreamCloseDoesNotWake checks that a torn
// down stream's content never fires a stale restart into a dead connection
// (stream.go's close clears the handler before the content could drain).
func TestQ2UnblockHandlerClearedOnStreamCloseDoesNotWake(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	conn := NewConnection(Config{}, RoleListener, serverConn, nil, newFakeCore(), activation.NewServer())

	s := NewStreamRecord(1, conn.Flow.ID)
	s.InContent = message.New()
	s.InContent.SetQ2UnblockHandler(conn.q2Table, conn.ScheduleRestart)
	fillBuffers(s.InContent, message.Q2Upper)
	require.True(t, s.InContent.Q2Blocked())

	s.ForceClose()

	w := s.InContent.OpenWindow()
	w.Release()

	assert.False(t, conn.q2Restart.Load(), "a cleared handler must not schedule a restart")
	select {
	case ev := <-conn.queue.C():
		t.Fatalf("unexpected wake event %v after handler was cleared", ev)
	default:
	}
}
