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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/packetd/h2amqp-router/activation"
	"github.com/packetd/h2amqp-router/amqp1"
	"github.com/packetd/h2amqp-router/message"
	"github.com/packetd/h2amqp-router/qdrlink"
)

// fakeLink is the router-core's handle for an attached link.
type fakeLink struct {
	dir     qdrlink.Direction
	ctx     any
	detached int32
}

func (l *fakeLink) SetContext(ctx any) { l.ctx = ctx }
func (l *fakeLink) GetContext() any    { return l.ctx }
func (l *fakeLink) Detach(close bool)  { atomic.StoreInt32(&l.detached, 1) }

// fakeDelivery is the router-core's handle for one delivery in flight.
type fakeDelivery struct {
	ctx       any
	continues int32
}

func (d *fakeDelivery) SetContext(ctx any) { d.ctx = ctx }
func (d *fakeDelivery) GetContext() any    { return d.ctx }
func (d *fakeDelivery) Continue()          { atomic.AddInt32(&d.continues, 1) }

// deliverEvent records one LinkDeliver call so the test goroutine can
// observe ingress progress without touching the connection actor's own
// thread.
type deliverEvent struct {
	link     qdrlink.Link
	content  *message.Content
	delivery qdrlink.Delivery
}

// fakeCore is a minimal qdrlink.Core good enough to drive the ingress path
// end to end; every method only records what happened and returns
// immediately; none of them block the connection actor's own goroutine.
type fakeCore struct {
	attached  chan qdrlink.Link
	delivered chan deliverEvent
	settled   chan qdrlink.Disposition
}

func newFakeCore() *fakeCore {
	return &fakeCore{
		attached:  make(chan qdrlink.Link, 8),
		delivered: make(chan deliverEvent, 8),
		settled:   make(chan qdrlink.Disposition, 8),
	}
}

func (c *fakeCore) LinkFirstAttach(dir qdrlink.Direction, source, target, name string) (qdrlink.Link, error) {
	l := &fakeLink{dir: dir}
	if dir == qdrlink.DirectionIncoming {
		c.attached <- l
	}
	return l, nil
}

func (c *fakeCore) LinkDeliver(link qdrlink.Link, msg *message.Content) (qdrlink.Delivery, error) {
	d := &fakeDelivery{}
	c.delivered <- deliverEvent{link: link, content: msg, delivery: d}
	return d, nil
}

func (c *fakeCore) DeliveryRemoteStateUpdated(d qdrlink.Delivery, disposition qdrlink.Disposition, settled bool) {
	c.settled <- disposition
}

func newTestConnection(t *testing.T, serverConn net.Conn, core qdrlink.Core, role Role) *Connection {
	t.Helper()
	cfg := Config{Name: "test", MaxMessageSize: 1 << 20}
	conn := NewConnection(cfg, role, serverConn, nil, core, activation.NewServer())
	go conn.Run()
	return conn
}

func readFrameOfType[T http2.Frame](t *testing.T, sess *Session) T {
	t.Helper()
	for {
		f, err := sess.ReadFrame()
		require.NoError(t, err)
		if tf, ok := f.(T); ok {
			return tf
		}
	}
}

// TestConnectionRequestResponseRoundTrip drives a full small request/response
// exchange: a client-style Session sends HEADERS+DATA for a GET, the
// connection actor composes it into a Content and hands it to the fake
// router core, and the test then calls back through qdrlink.Outgoing.Deliver
// exactly as the core would when it routes a reply onto the same
// connection, asserting the reply arrives on the wire as a new HTTP/2
// stream with the expected status and body.
func TestConnectionRequestResponseRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	core := newFakeCore()
	conn := newTestConnection(t, serverConn, core, RoleListener)

	client := NewSession(clientConn, 4096)

	// Drain the connection's initial SETTINGS frame.
	readFrameOfType[*http2.SettingsFrame](t, client)

	reqFields := []hpack.HeaderField{
		{Name: amqp1.PseudoMethod, Value: "GET"},
		{Name: amqp1.PseudoPath, Value: "/widgets"},
	}
	require.NoError(t, client.WriteHeaders(1, reqFields, false))
	require.NoError(t, client.WriteData(1, []byte("hello"), true))

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

	require.Eventually(t, ev.content.IsReceiveComplete, time.Second, 5*time.Millisecond)

	appProps, ok := ev.content.ApplicationProperties()
	require.True(t, ok)
	assert.Contains(t, appProps, amqp1.AppProp{Key: amqp1.PseudoMethod, Value: "GET"})
	assert.Contains(t, appProps, amqp1.AppProp{Key: amqp1.PseudoPath, Value: "/widgets"})

	body := ev.content.Body()
	require.Len(t, body, 1)
	payload, ok := ev.content.BodyPayload(0)
	require.True(t, ok)
	assert.Equal(t, 5, payload.Length)

	// Build a synthetic response and route it back as the core would.
	respProps := amqp1.BuildApplicationProperties(amqp1.DescriptorApplicationProps, []amqp1.AppProp{
		{Key: amqp1.PseudoStatus, Value: "200"},
	})
	respBody := amqp1.BuildData([]byte("ok"))
	resp := message.Compose(respProps, respBody)
	resp.ReceiveComplete()

	_, err := conn.Deliver(resp)
	require.NoError(t, err)

	hf := readFrameOfType[*http2.HeadersFrame](t, client)
	assert.EqualValues(t, 2, hf.StreamID) // listener-originated streams use even ids
	fields, err := client.DecodeHeaderBlock(hf.HeaderBlockFragment())
	require.NoError(t, err)
	assert.Contains(t, fields, hpack.HeaderField{Name: amqp1.PseudoStatus, Value: "200"})

	df := readFrameOfType[*http2.DataFrame](t, client)
	assert.Equal(t, []byte("ok"), df.Data())
	assert.True(t, df.StreamEnded())

	select {
	case disp := <-core.settled:
		assert.Equal(t, qdrlink.DispositionAccepted, disp)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery settlement")
	}
}

// TestConnectionRSTStreamAbortsIngress checks that a peer-sent RST_STREAM
// aborts the in-progress content and settles the delivery as released
// (spec.md §7 disposition table, ErrCodeRefusedStream).
func TestConnectionRSTStreamAbortsIngress(t *testing.T) {
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

	select {
	case <-core.delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ingress delivery")
	}

	require.NoError(t, client.WriteRSTStream(1, http2.ErrCodeRefusedStream))

	select {
	case disp := <-core.settled:
		assert.Equal(t, qdrlink.DispositionReleased, disp)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for RST_STREAM settlement")
	}
}
