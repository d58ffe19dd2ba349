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

	"github.com/packetd/h2amqp-router/qdrlink"
)

func TestDispositionForErrCode(t *testing.T) {
	assert.Equal(t, qdrlink.DispositionAccepted, dispositionForErrCode(http2.ErrCodeNo))
	assert.Equal(t, qdrlink.DispositionReleased, dispositionForErrCode(http2.ErrCodeRefusedStream))
	assert.Equal(t, qdrlink.DispositionModified, dispositionForErrCode(http2.ErrCodeCancel))
	assert.Equal(t, qdrlink.DispositionRejected, dispositionForErrCode(http2.ErrCodeProtocol))
	assert.Equal(t, qdrlink.DispositionRejected, dispositionForErrCode(http2.ErrCodeFlowControl))
}

// TestMalformedHeaderBlockClosesWholeConnection checks that a HPACK decode
// failure is treated as connection-fatal rather than stream-fatal: the
// shared dynamic table is left in an unknown state for every stream on the
// connection, so the actor must send GOAWAY rather than RST_STREAM (RFC
// 7540 §4.3, spec.md §7 connection-scoped errors).
func TestMalformedHeaderBlockClosesWholeConnection(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	core := newFakeCore()
	conn := newTestConnection(t, serverConn, core, RoleListener)

	client := NewSession(clientConn, 4096)
	readFrameOfType[*http2.SettingsFrame](t, client)

	// An 0xFF lead byte selects HPACK's indexed header field representation
	// with an absurd index integer continuation that never terminates within
	// the frame, which hpack.Decoder rejects as malformed.
	garbage := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	require.NoError(t, client.framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      1,
		BlockFragment: garbage,
		EndHeaders:    true,
	}))

	ga := readFrameOfType[*http2.GoAwayFrame](t, client)
	assert.Equal(t, http2.ErrCodeCompression, ga.ErrCode)

	require.Eventually(t, func() bool {
		select {
		case <-conn.done:
			return true
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
}

func TestActivationServerActivateIsNoOpAfterTeardown(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	core := newFakeCore()
	conn := newTestConnection(t, serverConn, core, RoleListener)

	client := NewSession(clientConn, 4096)
	readFrameOfType[*http2.SettingsFrame](t, client)

	conn.actServer.Activate(conn.selfPtr) // live actor: must not panic

	garbage := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	require.NoError(t, client.framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      1,
		BlockFragment: garbage,
		EndHeaders:    true,
	}))
	readFrameOfType[*http2.GoAwayFrame](t, client)

	require.Eventually(t, func() bool {
		select {
		case <-conn.done:
			return true
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)

	// Activate after teardown must be a harmless no-op, not a panic.
	conn.actServer.Activate(conn.selfPtr)
}
