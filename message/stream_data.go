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

package message

import (
	"github.com/packetd/h2amqp-router/amqp1"
	"github.com/packetd/h2amqp-router/internal/bufchain"
)

// StreamResult is the outcome of one NextStreamData call (spec.md §4.1
// "next_stream_data(content) -> (result, window)").
type StreamResult int

const (
	StreamIncomplete StreamResult = iota
	StreamBodyOK
	StreamFooterOK
	StreamNoMore
	StreamInvalid
	StreamAborted
)

func (r StreamResult) String() string {
	switch r {
	case StreamIncomplete:
		return "INCOMPLETE"
	case StreamBodyOK:
		return "BODY_OK"
	case StreamFooterOK:
		return "FOOTER_OK"
	case StreamNoMore:
		return "NO_MORE"
	case StreamInvalid:
		return "INVALID"
	case StreamAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// MaxStreamChunk bounds how many bytes a single DATA-read callback hands
// back regardless of how large the underlying chained buffers are (spec.md
// §4.2 egress step 3: "copy up to min(requested, remaining-in-window,
// 16 KiB) bytes").
const MaxStreamChunk = 16 * 1024

// NextStreamData reports what the next unconsumed piece of streamed body
// is: the already-parsed Data section at bodyIdx, the footer once the body
// is exhausted and nothing more is coming, or a reason the caller must wait
// or stop (spec.md §4.1). The caller tracks its own bodyIdx (advanced one
// per consumed BODY_OK) and footerDone (set once the FOOTER_OK section has
// been forwarded as a trailing HEADERS frame), since a single Content is
// streamed out by exactly one sender and this call is always made from
// that sender's own thread.
//
// The returned Locator plays the role of spec's per-call "window": for
// BODY_OK it is the payload-only span (mirroring BodyPayload) the caller
// copies from and then advances its egress stream.Window past; for
// FOOTER_OK it locates the footer section itself, used only for buffer
// accounting since the footer's fields are sent via Properties-style
// decoding rather than raw streaming.
func (c *Content) NextStreamData(bodyIdx int, footerDone bool) (StreamResult, bufchain.Locator) {
	c.mut.Lock()
	defer c.mut.Unlock()

	if c.flags.Aborted() {
		return StreamAborted, bufchain.Locator{}
	}
	if c.invalid {
		return StreamInvalid, bufchain.Locator{}
	}
	if bodyIdx < len(c.loc.body) {
		sec := c.sectionAtLocked(c.loc.body[bodyIdx])
		return StreamBodyOK, amqp1.DataPayload(sec)
	}
	if !c.flags.ReceiveComplete() {
		return StreamIncomplete, bufchain.Locator{}
	}
	if !footerDone && c.loc.footer.Valid() {
		return StreamFooterOK, c.loc.footer
	}
	return StreamNoMore, bufchain.Locator{}
}
