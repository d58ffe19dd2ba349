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
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/packetd/h2amqp-router/amqp1"
	"github.com/packetd/h2amqp-router/message"
)

// TestComposeHeaderRecordsFlowRequest checks that header composition feeds
// the stream's vanflow record (SPEC_FULL.md §4.2 "populated at the same
// points the original vflow_* calls touch": stream open, header composed).
func TestComposeHeaderRecordsFlowRequest(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	core := newFakeCore()
	conn := newTestConnection(t, serverConn, core, RoleListener)

	client := NewSession(clientConn, 4096)
	readFrameOfType[*http2.SettingsFrame](t, client)

	fields := []hpack.HeaderField{
		{Name: amqp1.PseudoMethod, Value: "GET"},
		{Name: amqp1.PseudoPath, Value: "/widgets/1"},
	}
	require.NoError(t, client.WriteHeaders(1, fields, true))

	require.Eventually(t, func() bool {
		s, ok := conn.streamAt(1)
		return ok && s.Flow.Snapshot().Method == "GET"
	}, 2*time.Second, 5*time.Millisecond)

	s, ok := conn.streamAt(1)
	require.True(t, ok)
	snap := s.Flow.Snapshot()
	assert.Equal(t, "GET", snap.Method)
	assert.Equal(t, "/widgets/1", snap.Path)
}

// TestSendOutHeadersRecordsFlowStatus checks that egress header composition
// parses the :status pseudo-header into the stream's StatusCode, which
// close() later hands to the vanflow record.
func TestSendOutHeadersRecordsFlowStatus(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	core := newFakeCore()
	conn := newTestConnection(t, serverConn, core, RoleListener)

	client := NewSession(clientConn, 4096)
	readFrameOfType[*http2.SettingsFrame](t, client)

	appProps := amqp1.BuildApplicationProperties(amqp1.DescriptorApplicationProps, []amqp1.AppProp{
		{Key: amqp1.PseudoStatus, Value: "201"},
	})
	body := amqp1.BuildData([]byte("created"))
	resp := message.Compose(appProps, body)
	resp.ReceiveComplete()

	_, err := conn.Deliver(resp)
	require.NoError(t, err)

	readFrameOfType[*http2.HeadersFrame](t, client)

	conn.mut.Lock()
	var s *StreamRecord
	for _, rec := range conn.streams {
		s = rec
	}
	conn.mut.Unlock()
	require.NotNil(t, s)
	assert.Equal(t, 201, s.StatusCode)
}
