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
	"strconv"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/packetd/h2amqp-router/activation"
	"github.com/packetd/h2amqp-router/amqp1"
	"github.com/packetd/h2amqp-router/logger"
	"github.com/packetd/h2amqp-router/message"
	"github.com/packetd/h2amqp-router/metrics"
	"github.com/packetd/h2amqp-router/qdrlink"
)

func (c *Connection) getOrCreateStream(id uint32) *StreamRecord {
	c.mut.Lock()
	defer c.mut.Unlock()
	s, ok := c.streams[id]
	if ok {
		return s
	}
	s = NewStreamRecord(id, c.Flow.ID)
	c.streams[id] = s
	c.restartOrder = append(c.restartOrder, id)
	metrics.StreamOpened(c.role.String())
	return s
}

func (c *Connection) streamAt(id uint32) (*StreamRecord, bool) {
	c.mut.Lock()
	defer c.mut.Unlock()
	s, ok := c.streams[id]
	return s, ok
}

// dropStream removes a fully-closed stream from the table so it stops
// being considered by restartStreams.
func (c *Connection) dropStream(id uint32) {
	c.mut.Lock()
	delete(c.streams, id)
	for i, sid := range c.restartOrder {
		if sid == id {
			c.restartOrder = append(c.restartOrder[:i], c.restartOrder[i+1:]...)
			if c.restartAt > i {
				c.restartAt--
			}
			break
		}
	}
	c.mut.Unlock()
}

// pending holds, per stream, the header block bytes collected so far
// across HEADERS + CONTINUATION until END_HEADERS (spec.md §4.2 step 1).
// Kept on Connection rather than StreamRecord since it is discarded the
// instant the block completes and has no meaning once composition starts.
type pendingHeaders struct {
	frag    []byte
	endStrm bool
	trailer bool
}

func (c *Connection) onHeaders(f *http2.HeadersFrame) {
	s := c.getOrCreateStream(f.StreamID)
	trailer := s.flags.entireHeaderArrived

	p := &pendingHeaders{frag: append([]byte(nil), f.HeaderBlockFragment()...), endStrm: f.StreamEnded(), trailer: trailer}
	if f.HeadersEnded() {
		c.finishHeaderBlock(s, p)
	} else {
		c.pendingByStream[f.StreamID] = p
	}
}

func (c *Connection) onContinuation(f *http2.ContinuationFrame) {
	p, ok := c.pendingByStream[f.StreamID]
	if !ok {
		return
	}
	p.frag = append(p.frag, f.HeaderBlockFragment()...)
	if f.HeadersEnded() {
		delete(c.pendingByStream, f.StreamID)
		if s, ok := c.streamAt(f.StreamID); ok {
			c.finishHeaderBlock(s, p)
		}
	}
}

// finishHeaderBlock hpack-decodes the completed block and, depending on
// whether this is the request/response HEADERS or a trailing HEADERS,
// either starts a new message composition (step 2: pseudo-headers become
// application-properties, :path drives Properties.To and the content-type
// header drives Properties.Subject; :method is carried only in
// application-properties) or
// composes the footer section (spec.md §4.2 steps 1-2 and the trailers
// branch of step 4).
func (c *Connection) finishHeaderBlock(s *StreamRecord, p *pendingHeaders) {
	fields, err := c.sess.DecodeHeaderBlock(p.frag)
	if err != nil {
		// A malformed header block leaves the shared HPACK dynamic table in
		// an unknown state for every other stream on this connection too, so
		// this is connection-fatal rather than stream-fatal (RFC 7540 §4.3).
		logger.Errorf("http2: stream %d hpack decode failed: %v", s.ID, err)
		c.closeConnection("header compression error", http2.ErrCodeCompression)
		return
	}

	if p.trailer {
		c.composeFooter(s, fields)
	} else {
		c.composeHeader(s, fields)
	}

	if p.endStrm {
		c.onStreamEnd(s)
	}
}

// composeHeader builds the Header/Properties/application-properties
// sections from HTTP/2 pseudo- and regular headers, opens the router-core
// link+delivery, and marks the header composed (spec.md §4.2 step 2).
func (c *Connection) composeHeader(s *StreamRecord, fields []hpack.HeaderField) {
	props := amqp1.Properties{}
	var appProps []amqp1.AppProp

	for _, f := range fields {
		switch f.Name {
		case amqp1.PseudoMethod:
			s.Method = f.Value
			appProps = append(appProps, amqp1.AppProp{Key: amqp1.PseudoMethod, Value: f.Value})
		case amqp1.PseudoPath:
			s.Path = f.Value
			props.To = f.Value
			appProps = append(appProps, amqp1.AppProp{Key: amqp1.PseudoPath, Value: f.Value})
		case amqp1.PseudoStatus:
			appProps = append(appProps, amqp1.AppProp{Key: amqp1.PseudoStatus, Value: f.Value})
			if code, err := strconv.Atoi(f.Value); err == nil {
				s.StatusCode = code
			}
		case amqp1.PseudoScheme, amqp1.PseudoAuthority:
			appProps = append(appProps, amqp1.AppProp{Key: f.Name, Value: f.Value})
		case "content-type":
			props.Subject = f.Value
		default:
			appProps = append(appProps, amqp1.AppProp{Key: f.Name, Value: f.Value})
		}
	}
	s.comp.appProps = appProps
	s.ReplyTo = props.ReplyTo
	s.flags.entireHeaderArrived = true
	s.Flow.SetRequest(s.Method, s.Path)

	headerList := amqp1.BuildHeader(-1)
	propsList := amqp1.BuildProperties(props)
	appPropsList := amqp1.BuildApplicationProperties(amqp1.DescriptorApplicationProps, appProps)

	content := message.Compose(headerList, propsList, appPropsList)
	s.InContent = content
	s.flags.headerAndPropsComposed = true
	content.SetQ2UnblockHandler(c.q2Table, c.ScheduleRestart)

	dir := qdrlink.DirectionIncoming
	name := s.Path
	link, err := c.core.LinkFirstAttach(dir, "", name, name)
	if err != nil {
		logger.Errorf("http2: stream %d link attach failed: %v", s.ID, err)
		c.resetStream(s, http2.ErrCodeRefusedStream)
		return
	}
	link.SetContext(s)
	s.Incoming = link

	// Hold the delivery until link_flow grants this link its first credit
	// (spec.md §4.2 ingress step 3, §4.4); startDelivery fires right away if
	// credit already arrived (e.g. the core pre-credits every new link).
	s.pendingContent = content
	c.startDelivery(s)
}

// startDelivery hands a held composeHeader content to the router core once
// its incoming link has credit. It is a no-op if credit hasn't arrived yet,
// there's nothing pending, or delivery already started (spec.md §4.2
// ingress step 3 "if no link credit yet, hold the delivery until credit
// arrives").
func (c *Connection) startDelivery(s *StreamRecord) {
	if !s.flags.hasCredit || s.pendingContent == nil || s.InDelivery != nil {
		return
	}
	content := s.pendingContent
	delivery, err := c.core.LinkDeliver(s.Incoming, content)
	if err != nil {
		logger.Errorf("http2: stream %d deliver failed: %v", s.ID, err)
		c.resetStream(s, http2.ErrCodeInternal)
		return
	}
	delivery.SetContext(s)
	s.InDelivery = delivery
	s.pendingContent = nil
}

// LinkFlow implements qdrlink.FlowHandler: the router core calls this as it
// grants (or revokes) credit on a link this adaptor attached. For the
// incoming direction, the first positive credit releases any delivery held
// by composeHeader (spec.md §4.2 ingress step 3, §4.4).
func (c *Connection) LinkFlow(link qdrlink.Link, credit int) {
	s, ok := link.GetContext().(*StreamRecord)
	if !ok || s == nil {
		return
	}
	if credit > 0 {
		s.flags.hasCredit = true
		c.startDelivery(s)
	} else {
		s.flags.hasCredit = false
	}
}

// composeFooter extends the content under composition with a Footer
// section built from trailing HEADERS (spec.md §4.2 step 4 trailers
// branch, "use_footer_properties").
func (c *Connection) composeFooter(s *StreamRecord, fields []hpack.HeaderField) {
	footer := make([]amqp1.AppProp, 0, len(fields))
	for _, f := range fields {
		footer = append(footer, amqp1.AppProp{Key: f.Name, Value: f.Value})
	}
	s.comp.footer = footer
	s.flags.useFooterProperties = true
	s.flags.entireFooterArrived = true

	if s.InContent != nil {
		footerList := amqp1.BuildApplicationProperties(amqp1.DescriptorFooter, footer)
		s.InContent.Extend(footerList)
	}
}

// onData appends a DATA frame's payload to the message content under
// composition (spec.md §4.2 step 3: "body_data_added_to_msg").
func (c *Connection) onData(f *http2.DataFrame) {
	s, ok := c.streamAt(f.StreamID)
	if !ok {
		return
	}
	data := f.Data()
	if len(data) > 0 {
		if s.InContent == nil {
			// Bare DATA with no preceding HEADERS is a protocol violation
			// this adaptor treats as stream-fatal rather than connection-fatal.
			c.resetStream(s, http2.ErrCodeProtocol)
			return
		}
		body := amqp1.BuildData(data)
		s.InContent.Extend(body)
		s.flags.bodyDataAddedToMsg = true
		s.BytesIn += int64(len(data))
		s.Flow.CounterIn(len(data))
		metrics.AddStreamBytes(c.role.String(), "in", len(data))

		if q2Blocked := s.InContent.Receive(nil); q2Blocked {
			metrics.Q2Blocked(c.role.String())
		}
		if s.InDelivery != nil {
			s.InDelivery.Continue()
		}
	}

	if c.cfg.MaxMessageSize > 0 && int(s.BytesIn) > c.cfg.MaxMessageSize {
		s.InContent.SetOversize()
		c.resetStream(s, http2.ErrCodeEnhanceYourCalm)
		return
	}

	if f.StreamEnded() {
		c.onStreamEnd(s)
	}
}

// onStreamEnd marks the composing content fully received once the ingress
// direction has seen END_STREAM (spec.md §4.2 step 4).
func (c *Connection) onStreamEnd(s *StreamRecord) {
	if s.InContent != nil && !s.InContent.IsReceiveComplete() {
		s.InContent.ReceiveComplete()
		if s.InDelivery != nil {
			s.InDelivery.Continue()
		}
	}
	s.HalfClose()
}

func (c *Connection) onRSTStream(f *http2.RSTStreamFrame) {
	s, ok := c.streamAt(f.StreamID)
	if !ok || s.flags.dispUpdated {
		return
	}
	s.flags.dispUpdated = true
	disp := dispositionForErrCode(f.ErrCode)
	if s.InContent != nil {
		s.InContent.Abort()
	}
	if s.InDelivery != nil {
		c.core.DeliveryRemoteStateUpdated(s.InDelivery, disp, true)
	}
	if s.OutDelivery != nil {
		c.core.DeliveryRemoteStateUpdated(s.OutDelivery, disp, true)
	}
	if s.Incoming != nil {
		s.Incoming.Detach(true)
	}
	if s.Outgoing != nil {
		s.Outgoing.Detach(true)
	}
	s.ForceClose()
	c.dropStream(f.StreamID)
	metrics.StreamClosed(c.role.String())
}

// onWindowUpdate replenishes a stream's egress send window and resumes any
// DATA writes that were deferred for lack of write capacity (spec.md §4.2
// egress step 3).
func (c *Connection) onWindowUpdate(f *http2.WindowUpdateFrame) {
	if f.StreamID == 0 {
		return // connection-level flow control window is left to golang.org/x/net/http2's own bookkeeping via Framer
	}
	if s, ok := c.streamAt(f.StreamID); ok {
		s.sendWindow += int(f.Increment)
		c.continueEgress(s)
	}
}

func (c *Connection) onSettings(f *http2.SettingsFrame) {
	if f.IsAck() {
		return
	}
	if err := c.sess.WriteSettingsAck(); err != nil {
		logger.Errorf("http2: SETTINGS ack write failed: %v", err)
	}
}

func (c *Connection) onPing(f *http2.PingFrame) {
	if f.IsAck() {
		return
	}
	if err := c.sess.WritePing(true, f.Data); err != nil {
		logger.Errorf("http2: PING ack write failed: %v", err)
	}
}

// onGoAway treats NGHTTP2_ERR_FLOW_CONTROL the same as any other peer
// GOAWAY (design decision, spec.md §9 open question): stop offering new
// streams and let the ones already open drain or force-close on teardown.
// Streams the peer's last-stream-id guarantees it never processed are freed
// and their in-flight deliveries released immediately rather than left to
// time out (spec.md §4.2, §7 kind 1/2, §8 scenario 4).
func (c *Connection) onGoAway(f *http2.GoAwayFrame) {
	logger.Infof("http2: %s connection received GOAWAY last-stream=%d code=%v", c.role, f.LastStreamID, f.ErrCode)
	c.freeStreamsAbove(f.LastStreamID)
	c.queue.Push(activation.EventDisconnected)
}

// releaseStream settles any in-flight deliveries for s as released and
// force-closes it. Unlike onRSTStream this never writes to the wire: it is
// used when the peer (GOAWAY) or this side itself (teardown) has already
// decided the stream is done (spec.md §7 kind 1/2 "connection loss releases
// every in-flight delivery").
func (c *Connection) releaseStream(s *StreamRecord) {
	if !s.flags.dispUpdated {
		s.flags.dispUpdated = true
		if s.InContent != nil {
			s.InContent.Abort()
		}
		if s.InDelivery != nil {
			c.core.DeliveryRemoteStateUpdated(s.InDelivery, qdrlink.DispositionReleased, true)
		}
		if s.OutDelivery != nil {
			c.core.DeliveryRemoteStateUpdated(s.OutDelivery, qdrlink.DispositionReleased, true)
		}
		if s.Incoming != nil {
			s.Incoming.Detach(true)
		}
		if s.Outgoing != nil {
			s.Outgoing.Detach(true)
		}
	}
	s.ForceClose()
	c.dropStream(s.ID)
	metrics.StreamClosed(c.role.String())
}

// freeStreamsAbove releases every stream whose id exceeds lastStreamID: a
// GOAWAY with that last-stream-id guarantees the peer never processed
// anything higher, so those deliveries must be reported back to the router
// core as released rather than left dangling (spec.md §8 scenario 4).
func (c *Connection) freeStreamsAbove(lastStreamID uint32) {
	c.mut.Lock()
	var excess []*StreamRecord
	for id, s := range c.streams {
		if id > lastStreamID {
			excess = append(excess, s)
		}
	}
	c.mut.Unlock()
	for _, s := range excess {
		c.releaseStream(s)
	}
}

// resetStream sends RST_STREAM and tears down the one stream's state
// without touching the rest of the connection (spec.md §7 "stream-scoped
// errors" vs "connection-scoped errors").
func (c *Connection) resetStream(s *StreamRecord, code http2.ErrCode) {
	if err := c.sess.WriteRSTStream(s.ID, code); err != nil {
		logger.Errorf("http2: stream %d RST_STREAM write failed: %v", s.ID, err)
	}
	if s.InContent != nil {
		s.InContent.Abort()
	}
	s.ForceClose()
	c.dropStream(s.ID)
	metrics.StreamClosed(c.role.String())
}
