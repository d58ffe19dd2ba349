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

package amqp1

import (
	"encoding/binary"
	"errors"

	"github.com/packetd/h2amqp-router/internal/bufchain"
)

// ErrIncomplete is returned when a Cursor needs more bytes than the chain
// currently holds to finish decoding a constructor.
var ErrIncomplete = errors.New("amqp1: incomplete")

// ErrInvalid is returned when a constructor byte or length is malformed.
var ErrInvalid = errors.New("amqp1: invalid encoding")

// Cursor walks a buffer chain byte-by-byte without copying, except for the
// handful of header bytes a constructor needs examined contiguously (at
// most 9, for a list32/map32 size+count word). It is the parse-cursor the
// message content advances as bytes arrive.
type Cursor struct {
	buf    *bufchain.Buffer
	offset int
}

// NewCursor returns a Cursor positioned at the start of buf.
func NewCursor(buf *bufchain.Buffer) Cursor {
	return Cursor{buf: buf}
}

// NewCursorAt returns a Cursor positioned at offset within buf, used to
// re-seek to a previously stamped Locator.
func NewCursorAt(buf *bufchain.Buffer, offset int) Cursor {
	return Cursor{buf: buf, offset: offset}
}

// Advance moves the cursor forward n bytes across buffer boundaries. It is
// the exported form of advance, for callers outside this package that hold
// a parse cursor (the message content).
func (c *Cursor) Advance(n int) { c.advance(n) }

// AtEnd reports whether the cursor has no more buffers to read from.
func (c Cursor) AtEnd() bool {
	return c.buf == nil || (c.offset >= c.buf.Size() && bufchain.Next(c.buf) == nil)
}

// Buffer and Offset expose the cursor's current position; used to stamp a
// Locator once a field has been fully parsed.
func (c Cursor) Buffer() *bufchain.Buffer { return c.buf }
func (c Cursor) Offset() int              { return c.offset }

// peek returns up to n contiguous bytes starting at the cursor without
// advancing it. It returns fewer than n bytes (possibly zero) if the chain
// doesn't yet hold that many, signaling the caller to return ErrIncomplete.
func (c Cursor) peek(n int) []byte {
	buf, off := c.buf, c.offset
	out := make([]byte, 0, n)
	for buf != nil && len(out) < n {
		avail := buf.Size() - off
		if avail <= 0 {
			buf = bufchain.Next(buf)
			off = 0
			continue
		}
		take := n - len(out)
		if take > avail {
			take = avail
		}
		out = append(out, buf.ReadAt(off, take)...)
		off += take
	}
	return out
}

// advance moves the cursor forward n bytes across buffer boundaries.
func (c *Cursor) advance(n int) {
	for n > 0 && c.buf != nil {
		avail := c.buf.Size() - c.offset
		if avail <= 0 {
			c.buf = bufchain.Next(c.buf)
			c.offset = 0
			continue
		}
		step := n
		if step > avail {
			step = avail
		}
		c.offset += step
		n -= step
	}
}

// Remaining reports how many bytes are available to read from the cursor's
// current position across the rest of the chain. It is used to decide
// whether a section is fully present yet (depth check returning INCOMPLETE).
func (c Cursor) Remaining() int {
	buf, off := c.buf, c.offset
	total := 0
	for buf != nil {
		total += buf.Size() - off
		off = 0
		buf = bufchain.Next(buf)
	}
	return total
}

// constructor describes one decoded type constructor.
type constructor struct {
	code      byte
	descr     uint64
	described bool
	// bodyLen is the number of bytes in the value following the
	// constructor header (for list/map/binary/string/symbol); for fixed
	// scalar types it is the encoded value itself, already consumed.
	bodyLen  int
	headerSz int
	u32      uint32
	boolean  bool
}

// readConstructor decodes the constructor at the cursor's position without
// advancing past it; the caller must advance the cursor by
// headerSz+bodyLen once it has consumed what it needs. It returns
// ErrIncomplete if not enough bytes are buffered yet to know the full
// length.
func readConstructor(c Cursor) (constructor, error) {
	head := c.peek(1)
	if len(head) < 1 {
		return constructor{}, ErrIncomplete
	}

	code := head[0]
	if code == described {
		// descriptor is itself a constructor (almost always a small/zero
		// ulong in this package's own encodings).
		descrCur := c
		descrCur.advance(1)
		dc, err := readConstructor(descrCur)
		if err != nil {
			return constructor{}, err
		}
		descr, err := decodeULongValue(descrCur, dc)
		if err != nil {
			return constructor{}, err
		}
		inner := descrCur
		inner.advance(dc.headerSz + dc.bodyLen)
		valCur := inner
		vc, err := readConstructor(valCur)
		if err != nil {
			return constructor{}, err
		}
		vc.described = true
		vc.descr = descr
		vc.headerSz += 1 + dc.headerSz + dc.bodyLen
		return vc, nil
	}

	switch code {
	case codeNull, codeBoolTrue, codeBoolFals, codeUInt0, codeULong0, codeList0:
		return constructor{code: code, headerSz: 1}, nil
	case codeSmallU, codeSmallUL, codeUByte:
		b := c.peek(2)
		if len(b) < 2 {
			return constructor{}, ErrIncomplete
		}
		return constructor{code: code, headerSz: 2, u32: uint32(b[1])}, nil
	case codeUInt:
		b := c.peek(5)
		if len(b) < 5 {
			return constructor{}, ErrIncomplete
		}
		return constructor{code: code, headerSz: 5, u32: binary.BigEndian.Uint32(b[1:5])}, nil
	case codeULong:
		b := c.peek(9)
		if len(b) < 9 {
			return constructor{}, ErrIncomplete
		}
		return constructor{code: code, headerSz: 9}, nil
	case codeVBin8, codeStr8, codeSym8, codeList8, codeMap8:
		b := c.peek(2)
		if len(b) < 2 {
			return constructor{}, ErrIncomplete
		}
		return constructor{code: code, headerSz: 2, bodyLen: int(b[1])}, nil
	case codeVBin32, codeStr32, codeSym32, codeList32, codeMap32:
		b := c.peek(5)
		if len(b) < 5 {
			return constructor{}, ErrIncomplete
		}
		return constructor{code: code, headerSz: 5, bodyLen: int(binary.BigEndian.Uint32(b[1:5]))}, nil
	}
	return constructor{}, ErrInvalid
}

func decodeULongValue(c Cursor, ct constructor) (uint64, error) {
	switch ct.code {
	case codeULong0:
		return 0, nil
	case codeSmallUL:
		return uint64(ct.u32), nil
	case codeULong:
		b := c.peek(9)
		if len(b) < 9 {
			return 0, ErrIncomplete
		}
		return binary.BigEndian.Uint64(b[1:9]), nil
	}
	return 0, ErrInvalid
}

// listCount returns the element count encoded in a list8/list32/list0
// constructor's body (the count word immediately follows the size word).
// map8/map32 share the identical size+count wire layout, so this also
// serves mapCount below.
func listCount(c Cursor, ct constructor) (int, error) {
	switch ct.code {
	case codeList0:
		return 0, nil
	case codeList8, codeMap8:
		b := c.peek(3)
		if len(b) < 3 {
			return 0, ErrIncomplete
		}
		return int(b[2]), nil
	case codeList32, codeMap32:
		b := c.peek(9)
		if len(b) < 9 {
			return 0, ErrIncomplete
		}
		return int(binary.BigEndian.Uint32(b[5:9])), nil
	}
	return 0, ErrInvalid
}

// mapCount returns the number of key+value entries (half the element
// count) in a map8/map32 constructor.
func mapCount(c Cursor, ct constructor) (int, error) {
	n, err := listCount(c, ct)
	return n / 2, err
}
