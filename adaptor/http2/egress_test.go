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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/packetd/h2amqp-router/activation"
	"github.com/packetd/h2amqp-router/amqp1"
	"github.com/packetd/h2amqp-router/message"
)

// TestDeliverFooterOnlyMessageSendsTrailerHeaders checks that a message with
// no body but a footer sends its trailing HEADERS frame instead of the
// final empty-DATA fallback (spec.md §4.2 egress step "send_complete").
func TestDeliverFooterOnlyMessageSendsTrailerHeaders(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	core := newFakeCore()
	conn := newTestConnection(t, serverConn, core, RoleListener)

	client := NewSession(clientConn, 4096)
	readFrameOfType[*http2.SettingsFrame](t, client)

	appProps := amqp1.BuildApplicationProperties(amqp1.DescriptorApplicationProps, []amqp1.AppProp{
		{Key: amqp1.PseudoStatus, Value: "204"},
	})
	footer := amqp1.BuildApplicationProperties(amqp1.DescriptorFooter, []amqp1.AppProp{
		{Key: "x-checksum", Value: "abc123"},
	})
	resp := message.Compose(appProps, footer)
	resp.ReceiveComplete()

	_, err := conn.Deliver(resp)
	require.NoError(t, err)

	hf := readFrameOfType[*http2.HeadersFrame](t, client)
	assert.False(t, hf.StreamEnded(), "headers must not carry END_STREAM when a footer still follows")

	trailer := readFrameOfType[*http2.HeadersFrame](t, client)
	assert.True(t, trailer.StreamEnded())
	fields, err := client.DecodeHeaderBlock(trailer.HeaderBlockFragment())
	require.NoError(t, err)
	assert.Contains(t, fields, hpack.HeaderField{Name: "x-checksum", Value: "abc123"})
}

// TestTeardownSchedulesReconnectForConnectorRole checks that a connector
// losing its transport arms the debounced reconnect timer, while a listener
// losing its transport does not (spec.md §8 "peer sends GOAWAY ... reconnect").
func TestTeardownSchedulesReconnectForConnectorRole(t *testing.T) {
	_, serverConn := net.Pipe()
	cfg := Config{ReconnectEnabled: true}
	conn := NewConnection(cfg, RoleConnector, serverConn, nil, newFakeCore(), activation.NewServer())

	conn.teardown()
	assert.True(t, conn.reconnectTimer.Pending())
}

func TestTeardownDoesNotReconnectForListenerRole(t *testing.T) {
	_, serverConn := net.Pipe()
	conn := NewConnection(Config{}, RoleListener, serverConn, nil, newFakeCore(), activation.NewServer())

	conn.teardown()
	assert.False(t, conn.reconnectTimer.Pending())
}

// TestTeardownSkipsReconnectWhenDraining checks that a connector the
// management surface is decommissioning does not reschedule itself even
// though reconnect is otherwise enabled (spec.md §6 drain-on-delete).
func TestTeardownSkipsReconnectWhenDraining(t *testing.T) {
	_, serverConn := net.Pipe()
	cfg := Config{ReconnectEnabled: true}
	conn := NewConnection(cfg, RoleConnector, serverConn, nil, newFakeCore(), activation.NewServer())

	conn.SetDraining()
	conn.teardown()
	assert.False(t, conn.reconnectTimer.Pending())
}

func TestTeardownIsIdempotent(t *testing.T) {
	_, serverConn := net.Pipe()
	conn := NewConnection(Config{}, RoleListener, serverConn, nil, newFakeCore(), activation.NewServer())

	conn.teardown()
	require.NotPanics(t, conn.teardown)

	select {
	case <-conn.done:
	default:
		t.Fatal("done channel must be closed after teardown")
	}
}
