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
	"time"

	"github.com/packetd/h2amqp-router/amqp1"
	"github.com/packetd/h2amqp-router/internal/bufchain"
	"github.com/packetd/h2amqp-router/message"
	"github.com/packetd/h2amqp-router/qdrlink"
	"github.com/packetd/h2amqp-router/vanflow"
)

// streamStatus is the coarse HTTP/2 stream lifecycle state this adaptor
// tracks (spec.md §3 "status"); it is a simplification of HTTP/2's full
// per-direction state machine down to the three states the translation
// logic actually branches on.
type streamStatus int8

const (
	streamOpen streamStatus = iota
	streamHalfClosed
	streamFullyClosed
)

// composition holds the in-progress builders for a message still being
// assembled from inbound HTTP/2 frames (spec.md §3 "composition state").
type composition struct {
	appProps []amqp1.AppProp
	footer   []amqp1.AppProp
}

// streamFlags bundles the thirteen sentinel booleans spec.md §3 lists for a
// stream record, plus hasCredit. They are plain bools rather than atomics: every access
// happens on the owning Connection actor's own goroutine (spec.md §5 lock
// order places per-stream state inside the adapter mutex's reach, never
// touched cross-thread).
type streamFlags struct {
	entireHeaderArrived    bool
	headerAndPropsComposed bool
	bodyDataAddedToMsg     bool
	useFooterProperties    bool
	entireFooterArrived    bool
	streamForceClosed      bool
	dispUpdated            bool
	outMsgHeaderSent       bool
	outMsgBodySent         bool
	outMsgHasBody          bool
	outMsgHasFooter        bool
	outMsgDataFlagEOF      bool
	outMsgSendComplete     bool
	hasCredit              bool
}

// StreamRecord is one HTTP/2 stream's full translation state, spanning both
// the inbound message under composition and the outbound message under
// disassembly (spec.md §3 "HTTP/2 stream record").
type StreamRecord struct {
	ID     uint32
	Status streamStatus

	Incoming qdrlink.Link
	Outgoing qdrlink.Link

	InDelivery  qdrlink.Delivery
	OutDelivery qdrlink.Delivery

	InContent  *message.Content
	OutContent *message.Content
	OutHandle  *message.Handle

	// pendingContent is InContent held back from LinkDeliver until
	// link_flow grants this stream's incoming link its first credit
	// (spec.md §4.2 ingress step 3: "if no link credit yet, hold the
	// delivery until credit arrives").
	pendingContent *message.Content

	comp composition
	flags streamFlags

	Method  string
	Path    string
	StatusCode int
	ReplyTo string

	BytesIn  int64
	BytesOut int64

	bodySent int                // index of the next not-yet-sent parsed Data section, egress path
	bodyIter *bufchain.Iterator // in-progress chunk walk over body section bodySent, nil between sections

	// sendWindow is this stream's remaining HTTP/2-level flow-control
	// credit for DATA frames, seeded from Config.InitialWindow and
	// replenished by WINDOW_UPDATE (spec.md §4.2 egress step 3: "if raw
	// connection write capacity is zero, return deferred").
	sendWindow int

	StartedAt time.Time
	ClosedAt  time.Time

	// Window tracks the span of outbound body data currently releasable
	// back to the sender as next_stream_data sections are forwarded
	// (spec.md §4.1 "a window references a range of buffers ... it must be
	// explicitly released").
	Window *message.Window

	Flow *vanflow.Record
}

// NewStreamRecord opens a stream record over a fresh vanflow accounting
// entry parented to the connection's own record.
func NewStreamRecord(id uint32, connFlowID string) *StreamRecord {
	return &StreamRecord{
		ID:        id,
		Status:    streamOpen,
		StartedAt: time.Now(),
		Flow:      vanflow.Begin(connFlowID),
	}
}

// HalfClose transitions OPEN -> HALF_CLOSED (one direction has seen
// END_STREAM) and FULLY_CLOSED once the other direction follows.
func (s *StreamRecord) HalfClose() {
	if s.Status == streamOpen {
		s.Status = streamHalfClosed
	} else if s.Status == streamHalfClosed {
		s.close()
	}
}

func (s *StreamRecord) ForceClose() {
	s.flags.streamForceClosed = true
	s.close()
}

func (s *StreamRecord) close() {
	if s.Status == streamFullyClosed {
		return
	}
	s.Status = streamFullyClosed
	s.ClosedAt = time.Now()
	s.Flow.SetStatus(s.StatusCode)
	s.Flow.End()
	if s.InContent != nil {
		s.InContent.ClearQ2UnblockHandler()
	}
	if s.OutContent != nil {
		s.OutContent.ClearQ2UnblockHandler()
	}
	if s.Window != nil {
		s.Window.Release()
		s.Window = nil
	}
	if s.OutHandle != nil {
		s.OutHandle.Close()
		s.OutHandle = nil
	}
}

func (s *StreamRecord) Closed() bool { return s.Status == streamFullyClosed }
