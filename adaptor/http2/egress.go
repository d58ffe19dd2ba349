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
	"fmt"
	"strconv"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/packetd/h2amqp-router/amqp1"
	"github.com/packetd/h2amqp-router/internal/bufchain"
	"github.com/packetd/h2amqp-router/logger"
	"github.com/packetd/h2amqp-router/message"
	"github.com/packetd/h2amqp-router/metrics"
	"github.com/packetd/h2amqp-router/qdrlink"
)

// Deliver implements qdrlink.Outgoing: the router core calls this as it
// routes a message onto this connection's outgoing direction. It opens a
// fresh stream, pins msg with a send handle and a stream-data window, and
// starts streaming whatever is already available (spec.md §4.2 egress
// translation, steps 1-4).
func (c *Connection) Deliver(msg *message.Content) (qdrlink.Delivery, error) {
	c.mut.Lock()
	id := c.nextStreamID
	c.nextStreamID += 2
	c.mut.Unlock()

	s := NewStreamRecord(id, c.Flow.ID)
	s.OutContent = msg
	s.OutHandle = msg.OpenHandle()
	s.Window = msg.OpenWindow()
	s.sendWindow = int(c.cfg.InitialWindow)
	msg.SetQ2UnblockHandler(c.q2Table, c.ScheduleRestart)

	c.mut.Lock()
	c.streams[id] = s
	c.restartOrder = append(c.restartOrder, id)
	c.mut.Unlock()
	metrics.StreamOpened(c.role.String())

	link, err := c.core.LinkFirstAttach(qdrlink.DirectionOutgoing, "", s.Path, fmt.Sprintf("stream-%d", id))
	if err != nil {
		s.ForceClose()
		c.dropStream(id)
		return nil, err
	}
	link.SetContext(s)
	s.Outgoing = link

	d := &outgoingDelivery{stream: s}
	d.SetContext(s)
	s.OutDelivery = d

	c.continueEgress(s)
	return d, nil
}

// outgoingDelivery is the Delivery handle this adaptor hands back to the
// router core for a Deliver call. Its Continue does nothing: egress
// progress comes only from the continueEgress calls made by Deliver,
// onWindowUpdate and restartStreams, so a Continue from the router core
// does not by itself send more of the stream.
type outgoingDelivery struct {
	stream *StreamRecord
	ctx    any
}

func (d *outgoingDelivery) SetContext(ctx any) { d.ctx = ctx }
func (d *outgoingDelivery) GetContext() any    { return d.ctx }
func (d *outgoingDelivery) Continue()          {}

// continueEgress drains whatever of the outbound content is newly
// available onto the wire: headers once the header/properties sections
// are parsed, body Data sections in order, and the footer/END_STREAM once
// the content finishes receiving (spec.md §4.2 egress steps; §4.3
// "restart_streams" calls back in here for streams that were paused on
// HTTP/2 flow control or a stalled Q2 producer).
func (c *Connection) continueEgress(s *StreamRecord) {
	if s.OutContent == nil || s.flags.outMsgSendComplete {
		return
	}

	if !s.flags.outMsgHeaderSent {
		if !c.sendOutHeaders(s) {
			return
		}
	}
	if s.flags.outMsgDataFlagEOF {
		return
	}

	s.Window.Extend()

	for {
		if s.sendWindow <= 0 {
			return // deferred: the stream's HTTP/2 send window is exhausted until WINDOW_UPDATE (spec.md §4.2 egress step 3)
		}

		if s.bodyIter == nil {
			result, loc := s.OutContent.NextStreamData(s.bodySent, s.flags.outMsgHasFooter)
			switch result {
			case message.StreamIncomplete:
				return
			case message.StreamInvalid, message.StreamAborted:
				c.resetStream(s, http2.ErrCodeInternal)
				return
			case message.StreamNoMore, message.StreamFooterOK:
				c.finishEgress(s)
				return
			case message.StreamBodyOK:
				s.bodyIter = bufchain.NewIterator(loc.Buf, loc.Offset, loc.Length)
				s.flags.outMsgHasBody = true
			}
			continue
		}

		max := s.sendWindow
		if max > message.MaxStreamChunk {
			max = message.MaxStreamChunk
		}
		chunk, ok := s.bodyIter.NextUpTo(max)
		if !ok {
			s.bodyIter = nil
			s.bodySent++
			continue
		}

		// One-window lookahead (spec.md §4.2 egress step 3): once this
		// chunk drains the section, peek the next result to decide whether
		// this DATA frame may carry END_STREAM itself (NO_MORE) or must
		// leave it for a trailing HEADERS frame instead (FOOTER_OK).
		endStream := false
		if s.bodyIter.Len() == 0 {
			next, _ := s.OutContent.NextStreamData(s.bodySent+1, s.flags.outMsgHasFooter)
			endStream = next == message.StreamNoMore
		}

		if err := c.sess.WriteData(s.ID, chunk, endStream); err != nil {
			logger.Errorf("http2: stream %d DATA write failed: %v", s.ID, err)
			c.resetStream(s, http2.ErrCodeInternal)
			return
		}
		s.sendWindow -= len(chunk)
		s.BytesOut += int64(len(chunk))
		s.Flow.CounterOut(len(chunk))
		metrics.AddStreamBytes(c.role.String(), "out", len(chunk))

		if endStream {
			s.flags.outMsgDataFlagEOF = true
			s.bodyIter = nil
			s.bodySent++
			c.finishEgress(s)
			return
		}
	}
}

// sendOutHeaders replays the content's application-properties (which, for
// a message this adaptor itself ingressed, still carry the original
// HTTP/2 pseudo- and regular header names verbatim) as the outgoing
// HEADERS frame. It reports whether headers were sent.
func (c *Connection) sendOutHeaders(s *StreamRecord) bool {
	switch s.OutContent.CheckDepth(amqp1.DepthApplicationProperties) {
	case message.DepthIncomplete:
		return false
	case message.DepthInvalid:
		c.resetStream(s, http2.ErrCodeInternal)
		return false
	}

	appProps, _ := s.OutContent.ApplicationProperties()
	fields := make([]hpack.HeaderField, 0, len(appProps)+1)
	for _, p := range appProps {
		fields = append(fields, hpack.HeaderField{Name: p.Key, Value: p.Value})
		if p.Key == amqp1.PseudoStatus {
			if code, err := strconv.Atoi(p.Value); err == nil {
				s.StatusCode = code
			}
		}
	}
	if props, ok := s.OutContent.Properties(); ok && props.Subject != "" {
		fields = append(fields, hpack.HeaderField{Name: "content-type", Value: props.Subject})
	}

	_, hasFooter := s.OutContent.Footer()
	endStream := s.OutContent.IsReceiveComplete() && len(s.OutContent.Body()) == 0 && !hasFooter
	if err := c.sess.WriteHeaders(s.ID, fields, endStream); err != nil {
		logger.Errorf("http2: stream %d HEADERS write failed: %v", s.ID, err)
		c.resetStream(s, http2.ErrCodeInternal)
		return false
	}
	s.flags.outMsgHeaderSent = true
	if endStream {
		s.flags.outMsgDataFlagEOF = true
	}
	return true
}

// finishEgress sends the trailing footer HEADERS or a final empty DATA
// frame to carry END_STREAM, settles the router-core delivery, and
// half-closes the stream (spec.md §4.2 egress step "send_complete").
func (c *Connection) finishEgress(s *StreamRecord) {
	if s.flags.outMsgSendComplete {
		return
	}

	if !s.flags.outMsgDataFlagEOF {
		if footer, ok := s.OutContent.Footer(); ok && len(footer) > 0 {
			fields := make([]hpack.HeaderField, 0, len(footer))
			for _, p := range footer {
				fields = append(fields, hpack.HeaderField{Name: p.Key, Value: p.Value})
			}
			if err := c.sess.WriteHeaders(s.ID, fields, true); err != nil {
				logger.Errorf("http2: stream %d trailer HEADERS write failed: %v", s.ID, err)
				c.resetStream(s, http2.ErrCodeInternal)
				return
			}
			s.flags.outMsgHasFooter = true
		} else if err := c.sess.WriteData(s.ID, nil, true); err != nil {
			logger.Errorf("http2: stream %d final DATA write failed: %v", s.ID, err)
			c.resetStream(s, http2.ErrCodeInternal)
			return
		}
		s.flags.outMsgDataFlagEOF = true
	}

	s.flags.outMsgSendComplete = true
	s.OutHandle.SetSendComplete()
	metrics.StreamClosed(c.role.String())

	if s.OutDelivery != nil {
		c.core.DeliveryRemoteStateUpdated(s.OutDelivery, qdrlink.DispositionAccepted, true)
	}
	s.HalfClose()
	if s.Closed() {
		c.dropStream(s.ID)
	}
}
