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
	"bytes"
	"io"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

// HTTP/2 frame type and flag values, named to match the teacher's
// protocol/phttp2 decoder's constant table and frame-layout comments
// (grounding for naming only; golang.org/x/net/http2.Framer is the codec
// that actually reads/writes these on the wire):
//
//	+-----------------------------------------------+
//	| Length (24) | Type (8) | Flags (8)             |
//	+-R+---------------------------------------------+
//	|                 Stream Identifier (31)         |
//	+-----------------------------------------------+
const (
	frameData         = 0x0
	frameHeaders      = 0x1
	framePriority     = 0x2
	frameRSTStream    = 0x3
	frameSettings     = 0x4
	framePushPromise  = 0x5
	framePing         = 0x6
	frameGoAway       = 0x7
	frameWindowUpdate = 0x8
	frameContinuation = 0x9

	flagEndStream  = 0x1
	flagEndHeaders = 0x4
	flagPadded     = 0x8
	flagPriority   = 0x20
)

// Session wraps a Framer and a pair of hpack codecs over one connection's
// raw byte stream. It is the active half of what protocol/phttp2 does
// passively: phttp2 only decodes frames it observes in flight, while
// Session also composes and writes them, since this adaptor terminates the
// HTTP/2 connection rather than sniffing it.
type Session struct {
	framer *http2.Framer

	encBuf  bytes.Buffer
	hpackEnc *hpack.Encoder

	hpackDec      *hpack.Decoder
	pendingFields []hpack.HeaderField

	maxFrameSize uint32
}

// NewSession builds a Session over rw, with hpack dynamic table sizes per
// the connection's negotiated settings (spec.md §6 wire defaults).
func NewSession(rw io.ReadWriter, maxHeaderTableSize uint32) *Session {
	s := &Session{maxFrameSize: DefaultMaxFrameSize}
	s.framer = http2.NewFramer(rw, rw)
	s.framer.MaxHeaderListSize = 0 // unlimited; the connection actor enforces MaxMessageSize itself
	s.hpackEnc = hpack.NewEncoder(&s.encBuf)
	s.hpackEnc.SetMaxDynamicTableSize(maxHeaderTableSize)
	s.hpackDec = hpack.NewDecoder(maxHeaderTableSize, s.onHeaderField)
	return s
}

func (s *Session) onHeaderField(f hpack.HeaderField) {
	s.pendingFields = append(s.pendingFields, f)
}

// ReadFrame blocks for the next frame off the wire.
func (s *Session) ReadFrame() (http2.Frame, error) {
	return s.framer.ReadFrame()
}

// DecodeHeaderBlock hpack-decodes one fully-reassembled HEADERS+CONTINUATION
// fragment (the connection actor concatenates fragments itself, since
// END_HEADERS may span several frames — spec.md §4.2 ingress step 1).
func (s *Session) DecodeHeaderBlock(fragment []byte) ([]hpack.HeaderField, error) {
	s.pendingFields = s.pendingFields[:0]
	if _, err := s.hpackDec.Write(fragment); err != nil {
		return nil, err
	}
	return s.pendingFields, nil
}

// encodeFields hpack-encodes fields into one contiguous block.
func (s *Session) encodeFields(fields []hpack.HeaderField) []byte {
	s.encBuf.Reset()
	for _, f := range fields {
		_ = s.hpackEnc.WriteField(f)
	}
	out := make([]byte, s.encBuf.Len())
	copy(out, s.encBuf.Bytes())
	return out
}

// WriteHeaders encodes fields and writes them as a HEADERS frame, splitting
// into CONTINUATION frames if the block exceeds one frame's worth of bytes.
func (s *Session) WriteHeaders(streamID uint32, fields []hpack.HeaderField, endStream bool) error {
	block := s.encodeFields(fields)

	max := int(s.maxFrameSize)
	first := block
	endHeaders := true
	if len(block) > max {
		first = block[:max]
		endHeaders = false
	}
	if err := s.framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      streamID,
		BlockFragment: first,
		EndStream:     endStream,
		EndHeaders:    endHeaders,
	}); err != nil {
		return err
	}

	rest := block[len(first):]
	for len(rest) > 0 {
		chunk := rest
		last := true
		if len(chunk) > max {
			chunk = rest[:max]
			last = false
		}
		if err := s.framer.WriteContinuation(streamID, last, chunk); err != nil {
			return err
		}
		rest = rest[len(chunk):]
	}
	return nil
}

// WriteData writes data as one or more DATA frames, chunked to
// maxFrameSize; only the last frame carries endStream.
func (s *Session) WriteData(streamID uint32, data []byte, endStream bool) error {
	max := int(s.maxFrameSize)
	if len(data) <= max {
		return s.framer.WriteData(streamID, endStream, data)
	}
	for len(data) > max {
		if err := s.framer.WriteData(streamID, false, data[:max]); err != nil {
			return err
		}
		data = data[max:]
	}
	return s.framer.WriteData(streamID, endStream, data)
}

func (s *Session) WriteSettings(settings ...http2.Setting) error {
	return s.framer.WriteSettings(settings...)
}

func (s *Session) WriteSettingsAck() error { return s.framer.WriteSettingsAck() }

func (s *Session) WriteGoAway(lastStreamID uint32, code http2.ErrCode, debug []byte) error {
	return s.framer.WriteGoAway(lastStreamID, code, debug)
}

func (s *Session) WriteRSTStream(streamID uint32, code http2.ErrCode) error {
	return s.framer.WriteRSTStream(streamID, code)
}

func (s *Session) WriteWindowUpdate(streamID uint32, incr uint32) error {
	return s.framer.WriteWindowUpdate(streamID, incr)
}

func (s *Session) WritePing(ack bool, data [8]byte) error {
	return s.framer.WritePing(ack, data)
}
