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
	"github.com/packetd/h2amqp-router/qdrlink"
)

// TestDeliveryUpdatedSynthesizesIngressReleasedStatus checks that a
// RELEASED settle the router core reports for an in-progress ingress
// delivery answers the open request stream with a synthesized 503 instead
// of leaving it hanging (spec.md §7 disposition table, §4.2 egress step 5).
func TestDeliveryUpdatedSynthesizesIngressReleasedStatus(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	core := newFakeCore()
	conn := newTestConnection(t, serverConn, core, RoleListener)

	client := NewSession(clientConn, 4096)
	readFrameOfType[*http2.SettingsFrame](t, client)

	fields := []hpack.HeaderField{
		{Name: amqp1.PseudoMethod, Value: "POST"},
		{Name: amqp1.PseudoPath, Value: "/upload"},
	}
	require.NoError(t, client.WriteHeaders(1, fields, false))

	var link qdrlink.Link
	select {
	case link = <-core.attached:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ingress link attach")
	}
	conn.LinkFlow(link, 1)

	var ev deliverEvent
	select {
	case ev = <-core.delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ingress delivery")
	}

	conn.DeliveryUpdated(ev.delivery, qdrlink.DispositionReleased, true)

	hf := readFrameOfType[*http2.HeadersFrame](t, client)
	assert.True(t, hf.StreamEnded())
	decoded, err := client.DecodeHeaderBlock(hf.HeaderBlockFragment())
	require.NoError(t, err)
	assert.Contains(t, decoded, hpack.HeaderField{Name: amqp1.PseudoStatus, Value: "503"})
}

// TestDeliveryUpdatedSynthesizesIngressRejectedStatus checks the REJECTED
// branch of the same table maps to 400 rather than 503.
func TestDeliveryUpdatedSynthesizesIngressRejectedStatus(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	core := newFakeCore()
	conn := newTestConnection(t, serverConn, core, RoleListener)

	client := NewSession(clientConn, 4096)
	readFrameOfType[*http2.SettingsFrame](t, client)

	fields := []hpack.HeaderField{
		{Name: amqp1.PseudoMethod, Value: "POST"},
		{Name: amqp1.PseudoPath, Value: "/upload"},
	}
	require.NoError(t, client.WriteHeaders(1, fields, false))

	var link qdrlink.Link
	select {
	case link = <-core.attached:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ingress link attach")
	}
	conn.LinkFlow(link, 1)

	var ev deliverEvent
	select {
	case ev = <-core.delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ingress delivery")
	}

	conn.DeliveryUpdated(ev.delivery, qdrlink.DispositionRejected, true)

	hf := readFrameOfType[*http2.HeadersFrame](t, client)
	assert.True(t, hf.StreamEnded())
	decoded, err := client.DecodeHeaderBlock(hf.HeaderBlockFragment())
	require.NoError(t, err)
	assert.Contains(t, decoded, hpack.HeaderField{Name: amqp1.PseudoStatus, Value: "400"})
}

// TestDeliveryUpdatedAbortsEgressAfterHeadersSent checks that a
// non-accepted settle on an egress delivery whose HEADERS already went out
// ends the stream with an empty DATA frame rather than a second HEADERS
// (spec.md §7 disposition table "any of RELEASED/MODIFIED/REJECTED on
// egress -> empty DATA + END_STREAM").
func TestDeliveryUpdatedAbortsEgressAfterHeadersSent(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	core := newFakeCore()
	conn := newTestConnection(t, serverConn, core, RoleListener)

	client := NewSession(clientConn, 4096)
	readFrameOfType[*http2.SettingsFrame](t, client)

	appProps := amqp1.BuildApplicationProperties(amqp1.DescriptorApplicationProps, []amqp1.AppProp{
		{Key: amqp1.PseudoStatus, Value: "200"},
	})
	resp := message.Compose(appProps) // body still under composition: CheckDepth passes, NextStreamData stays INCOMPLETE

	delivery, err := conn.Deliver(resp)
	require.NoError(t, err)

	hf := readFrameOfType[*http2.HeadersFrame](t, client)
	assert.False(t, hf.StreamEnded())

	conn.DeliveryUpdated(delivery, qdrlink.DispositionModified, true)

	df := readFrameOfType[*http2.DataFrame](t, client)
	assert.Empty(t, df.Data())
	assert.True(t, df.StreamEnded())
}

// TestDeliveryUpdatedSynthesizesEgressHeadersWhenNoneSentYet checks the
// case where the settle arrives before the egress content ever became
// ready enough to send its own HEADERS: DATA cannot open a stream, so a
// status HEADERS frame must be synthesized first.
func TestDeliveryUpdatedSynthesizesEgressHeadersWhenNoneSentYet(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	core := newFakeCore()
	conn := newTestConnection(t, serverConn, core, RoleListener)

	client := NewSession(clientConn, 4096)
	readFrameOfType[*http2.SettingsFrame](t, client)

	resp := message.New() // nothing parsed yet: CheckDepth(ApplicationProperties) is DepthIncomplete

	delivery, err := conn.Deliver(resp)
	require.NoError(t, err)

	conn.DeliveryUpdated(delivery, qdrlink.DispositionRejected, true)

	hf := readFrameOfType[*http2.HeadersFrame](t, client)
	assert.False(t, hf.StreamEnded())
	decoded, err := client.DecodeHeaderBlock(hf.HeaderBlockFragment())
	require.NoError(t, err)
	assert.Contains(t, decoded, hpack.HeaderField{Name: amqp1.PseudoStatus, Value: "400"})

	df := readFrameOfType[*http2.DataFrame](t, client)
	assert.Empty(t, df.Data())
	assert.True(t, df.StreamEnded())
}
