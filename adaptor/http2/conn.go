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
	"sync"
	"sync/atomic"

	"golang.org/x/net/http2"

	"github.com/packetd/h2amqp-router/activation"
	"github.com/packetd/h2amqp-router/internal/rescue"
	"github.com/packetd/h2amqp-router/internal/safeptr"
	"github.com/packetd/h2amqp-router/logger"
	"github.com/packetd/h2amqp-router/metrics"
	"github.com/packetd/h2amqp-router/qdrlink"
	"github.com/packetd/h2amqp-router/vanflow"
)

// cryptoConn layers a TLSHandle's Decrypt/Encrypt over a RawConn so Session
// can be built on a plain io.Reader/io.Writer regardless of whether the
// connection is cleartext (h2c) or TLS-terminated (spec.md §1: the TLS
// handle is a collaborator this adaptor drives but does not implement).
type cryptoConn struct {
	raw RawConn
	tls TLSHandle
}

func (c *cryptoConn) Read(p []byte) (int, error) {
	n, err := c.raw.Read(p)
	if n == 0 {
		return 0, err
	}
	pt, decErr := c.tls.Decrypt(p[:n])
	if decErr != nil {
		return 0, decErr
	}
	copy(p, pt)
	return len(pt), err
}

func (c *cryptoConn) Write(p []byte) (int, error) {
	ct, err := c.tls.Encrypt(p)
	if err != nil {
		return 0, err
	}
	if _, err := c.raw.Write(ct); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Connection is the per-socket actor translating HTTP/2 frames to and from
// router-core deliveries (spec.md §3 "Connection actor", §4.3 event loop).
// Every field below stream.go's own internal state, and every HTTP/2
// write, is touched only from the actor's own goroutine (Run), which is
// what lets the adapter mutex sit outermost in the lock order (spec.md §5)
// without ever being held across a blocking call: cross-thread callers only
// ever reach the connection through activation.Server.Activate, which just
// enqueues and returns.
type Connection struct {
	mut sync.Mutex // adapter-mutex: guards streams + staged-but-unsent writes

	cfg  Config
	role Role

	raw RawConn
	tls TLSHandle
	cw  *cryptoConn
	sess *Session

	core qdrlink.Core

	streams      map[uint32]*StreamRecord
	restartOrder []uint32 // insertion-ordered stream ids, for restartStreams' rotation
	restartAt    int

	pendingByStream map[uint32]*pendingHeaders // in-progress HEADERS+CONTINUATION reassembly

	nextStreamID uint32

	queue     *activation.Queue
	actServer *activation.Server
	selfPtr   safeptr.Ptr

	reconnectTimer *activation.ReconnectTimer

	q2Table *safeptr.Table[func()] // weak handles for content.SetQ2UnblockHandler registrations

	rawClosedRead     atomic.Bool
	rawClosedWrite    atomic.Bool
	q2Restart         atomic.Bool
	activateScheduled atomic.Bool
	draining          atomic.Bool

	Flow *vanflow.Record

	framesIn chan http2.Frame
	readErr  chan error
	done     chan struct{}
	closeOnce sync.Once
}

// NewConnection builds a Connection for an already-accepted or
// already-dialed raw transport, registers it with actServer so the Q2
// unblocker and router-core callbacks can reach it cross-thread, and
// arms the connector-initiated stream id sequence (odd ids, per HTTP/2
// §5.1.1, when this side is the one opening streams).
func NewConnection(cfg Config, role Role, raw RawConn, tls TLSHandle, core qdrlink.Core, actServer *activation.Server) *Connection {
	cfg.defaults()
	if tls == nil {
		tls = plainTLS{}
	}

	c := &Connection{
		cfg:      cfg,
		role:     role,
		raw:      raw,
		tls:      tls,
		core:     core,
		streams:  make(map[uint32]*StreamRecord),
		pendingByStream: make(map[uint32]*pendingHeaders),
		queue:    activation.NewQueue(64),
		actServer: actServer,
		reconnectTimer: activation.NewReconnectTimer(),
		q2Table:  safeptr.NewTable[func()](),
		Flow:     vanflow.Begin(""),
		framesIn: make(chan http2.Frame, 8),
		readErr:  make(chan error, 1),
		done:     make(chan struct{}),
	}
	if role == RoleConnector {
		c.nextStreamID = 1
	} else {
		c.nextStreamID = 2
	}
	c.cw = &cryptoConn{raw: raw, tls: tls}
	c.sess = NewSession(c.cw, 4096)
	c.selfPtr = actServer.Register(c)
	metrics.ConnectionOpened(role.String())
	return c
}

// Wake implements activation.Actor: it only enqueues, never runs actor
// logic inline, since the caller may be holding a lock this connection's
// own thread must not reenter (spec.md §5).
func (c *Connection) Wake() {
	c.queue.Push(activation.EventWake)
}

// SetDraining marks a connector-role connection as being decommissioned by
// the management surface: its next teardown must not arm a reconnect even
// though cfg.ReconnectEnabled is still set (spec.md §6 "deleting a
// connector with live connections marks it draining").
func (c *Connection) SetDraining() {
	c.draining.Store(true)
}

// ScheduleRestart marks that Q2-unblocked streams are waiting for a turn
// at the egress path and wakes the actor if it is idle. The
// activateScheduled CAS collapses a burst of concurrent unblock
// notifications into the single wake that actually matters, the same
// debounce idiom activation.ReconnectTimer.Schedule uses.
func (c *Connection) ScheduleRestart() {
	c.q2Restart.Store(true)
	if c.activateScheduled.CompareAndSwap(false, true) {
		c.Wake()
	}
}

// readLoop decodes frames off the wire on its own goroutine and hands them
// to the actor thread through framesIn — the one piece of work this
// connection does off the actor's own goroutine, since Framer.ReadFrame
// blocks on raw I/O and the actor must stay free to process wake events
// (e.g. an egress delivery arriving from the router core) while idle on a
// read.
func (c *Connection) readLoop() {
	defer rescue.HandleCrash()
	for {
		f, err := c.sess.ReadFrame()
		if err != nil {
			c.rawClosedRead.Store(true)
			select {
			case c.readErr <- err:
			case <-c.done:
			}
			return
		}
		select {
		case c.framesIn <- f:
			c.queue.Push(activation.EventRead)
		case <-c.done:
			return
		}
	}
}

// Run is the connection actor's event loop (spec.md §4.3): it serializes
// every inbound frame, every outbound delivery continuation, and every
// wake against this one goroutine. It returns once the connection is fully
// torn down.
func (c *Connection) Run() {
	defer rescue.HandleCrash()
	defer c.teardown()

	go c.readLoop()

	if err := c.sess.WriteSettings(
		http2.Setting{ID: http2.SettingInitialWindowSize, Val: c.cfg.InitialWindow},
		http2.Setting{ID: http2.SettingMaxFrameSize, Val: c.cfg.MaxFrameSize},
	); err != nil {
		logger.Errorf("http2: %s connection initial SETTINGS write failed: %v", c.role, err)
		return
	}

	for {
		select {
		case f := <-c.framesIn:
			c.handleFrame(f)
		case err := <-c.readErr:
			c.handleReadError(err)
			return
		case ev := <-c.queue.C():
			if !c.handleEvent(ev) {
				return
			}
		}
	}
}

// handleEvent processes one activation.Event; it reports whether the actor
// should keep running.
func (c *Connection) handleEvent(ev activation.Event) bool {
	switch ev {
	case activation.EventWake:
		c.activateScheduled.Store(false)
		if c.q2Restart.CompareAndSwap(true, false) {
			c.restartStreams()
		}
	case activation.EventDisconnected:
		return false
	case activation.EventClosedRead:
		c.rawClosedRead.Store(true)
		if c.rawClosedWrite.Load() {
			return false
		}
	case activation.EventClosedWrite:
		c.rawClosedWrite.Store(true)
		if c.rawClosedRead.Load() {
			return false
		}
	case activation.EventNeedReadBuffers, activation.EventRead, activation.EventConnected, activation.EventWriteCompleted:
		// Framer-level reads and the initial SETTINGS write already cover
		// these; they carry no further action of their own.
	}
	return true
}

func (c *Connection) handleReadError(err error) {
	logger.Infof("http2: %s connection read loop ended: %v", c.role, err)
}

// handleFrame dispatches one decoded HTTP/2 frame to the ingress path.
func (c *Connection) handleFrame(f http2.Frame) {
	switch fr := f.(type) {
	case *http2.HeadersFrame:
		c.onHeaders(fr)
	case *http2.ContinuationFrame:
		c.onContinuation(fr)
	case *http2.DataFrame:
		c.onData(fr)
	case *http2.RSTStreamFrame:
		c.onRSTStream(fr)
	case *http2.WindowUpdateFrame:
		c.onWindowUpdate(fr)
	case *http2.SettingsFrame:
		c.onSettings(fr)
	case *http2.GoAwayFrame:
		c.onGoAway(fr)
	case *http2.PingFrame:
		c.onPing(fr)
	default:
		// PRIORITY and PUSH_PROMISE carry no router-core-visible meaning
		// for this adaptor (spec Non-goals: server push, stream priority).
	}
}

// restartStreams resumes egress delivery continuation for every stream
// whose content unblocked from Q2 since the last pass, rotating the start
// point each call so a connection with many simultaneously-unblocked
// streams doesn't let the same low-numbered stream monopolize every wake
// (spec.md §4.3 "restart_streams").
func (c *Connection) restartStreams() {
	c.mut.Lock()
	ids := append([]uint32(nil), c.restartOrder...)
	start := c.restartAt
	c.mut.Unlock()

	if len(ids) == 0 {
		return
	}
	for i := 0; i < len(ids); i++ {
		id := ids[(start+i)%len(ids)]
		c.mut.Lock()
		s, ok := c.streams[id]
		c.mut.Unlock()
		if !ok || s.Closed() {
			continue
		}
		c.continueEgress(s)
	}
	c.mut.Lock()
	c.restartAt = (start + 1) % len(ids)
	c.mut.Unlock()
}

// teardown runs once Run's loop exits: it releases every live stream's
// in-flight deliveries back to the router core as released, deregisters
// from the activation server, and either schedules a debounced reconnect
// (egress role) or simply reports closed (spec.md §7 kind 1/2 "connection
// loss releases every in-flight delivery", §8 scenario "peer sends
// GOAWAY... reconnect").
func (c *Connection) teardown() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mut.Lock()
		streams := make([]*StreamRecord, 0, len(c.streams))
		for _, s := range c.streams {
			streams = append(streams, s)
		}
		c.mut.Unlock()
		for _, s := range streams {
			c.releaseStream(s)
		}

		_ = c.raw.Close()
		c.actServer.Unregister(c.selfPtr)
		c.Flow.End()
		metrics.ConnectionClosed(c.role.String())

		if c.role == RoleConnector && c.cfg.ReconnectEnabled && !c.draining.Load() {
			metrics.ReconnectScheduled()
			c.reconnectTimer.Schedule(func() {
				logger.Infof("http2: reconnect timer fired for %s", c.cfg.Address)
			})
		}
	})
}
