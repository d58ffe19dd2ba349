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

	"github.com/packetd/h2amqp-router/amqp1"
	"github.com/packetd/h2amqp-router/logger"
	"github.com/packetd/h2amqp-router/qdrlink"
)

// DeliveryUpdated implements qdrlink.SettleHandler: the router core calls
// this when a delivery this adaptor handed it reaches a terminal settle the
// adaptor didn't itself request, translating the disposition into the
// matching synthesized HTTP/2 response (spec.md §4.2 egress step 5, §7's
// disposition-mapping table). Untimely settles (UNSETTLED, or ACCEPTED
// which is the path the adaptor's own send-complete already drives) carry
// nothing new to synthesize and are ignored.
func (c *Connection) DeliveryUpdated(d qdrlink.Delivery, disposition qdrlink.Disposition, settled bool) {
	if !settled {
		return
	}
	switch disposition {
	case qdrlink.DispositionReleased, qdrlink.DispositionModified, qdrlink.DispositionRejected:
	default:
		return
	}

	s, ok := d.GetContext().(*StreamRecord)
	if !ok || s == nil || s.flags.dispUpdated || s.Closed() {
		return
	}

	status := 503
	if disposition == qdrlink.DispositionRejected {
		status = 400
	}

	switch d {
	case s.InDelivery:
		c.synthesizeIngressStatus(s, status)
	case s.OutDelivery:
		c.synthesizeEgressAbort(s, status)
	}
}

// synthesizeIngressStatus answers a still-open request stream with a
// status the router core chose instead of whatever reply would have come
// from routing the delivery through (spec.md §7 "RELEASED/MODIFIED -> 503,
// REJECTED -> 400 on the ingress side").
func (c *Connection) synthesizeIngressStatus(s *StreamRecord, status int) {
	s.flags.dispUpdated = true
	s.StatusCode = status
	fields := []hpack.HeaderField{{Name: amqp1.PseudoStatus, Value: strconv.Itoa(status)}}
	if err := c.sess.WriteHeaders(s.ID, fields, true); err != nil {
		logger.Errorf("http2: stream %d settle-synthesized HEADERS write failed: %v", s.ID, err)
		c.resetStream(s, http2.ErrCodeInternal)
		return
	}
	s.HalfClose()
	if s.Closed() {
		c.dropStream(s.ID)
	}
}

// synthesizeEgressAbort terminates an in-progress outgoing stream with an
// empty DATA frame once the router core settles the egress delivery as
// anything other than accepted (spec.md §7 "any non-ACCEPTED settle on the
// egress side -> empty DATA + END_STREAM"). A stream that never got as far
// as its own HEADERS write still needs one synthesized first, since DATA
// cannot open a stream.
func (c *Connection) synthesizeEgressAbort(s *StreamRecord, status int) {
	s.flags.dispUpdated = true
	if !s.flags.outMsgHeaderSent {
		s.StatusCode = status
		fields := []hpack.HeaderField{{Name: amqp1.PseudoStatus, Value: strconv.Itoa(status)}}
		if err := c.sess.WriteHeaders(s.ID, fields, false); err != nil {
			logger.Errorf("http2: stream %d settle-synthesized HEADERS write failed: %v", s.ID, err)
			c.resetStream(s, http2.ErrCodeInternal)
			return
		}
		s.flags.outMsgHeaderSent = true
	}
	if err := c.sess.WriteData(s.ID, nil, true); err != nil {
		logger.Errorf("http2: stream %d settle-synthesized DATA write failed: %v", s.ID, err)
		c.resetStream(s, http2.ErrCodeInternal)
		return
	}
	s.flags.outMsgDataFlagEOF = true
	s.flags.outMsgSendComplete = true
	s.HalfClose()
	if s.Closed() {
		c.dropStream(s.ID)
	}
}
