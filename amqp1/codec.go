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

import "encoding/binary"

// Primitive type-constructor codes used by this package (AMQP 1.0 §1.6).
const (
	codeNull     byte = 0x40
	codeBoolTrue byte = 0x41
	codeBoolFals byte = 0x42
	codeUByte    byte = 0x50
	codeUInt0    byte = 0x43
	codeSmallU   byte = 0x52
	codeUInt     byte = 0x70
	codeULong0   byte = 0x44
	codeSmallUL  byte = 0x53
	codeULong    byte = 0x80
	codeVBin8    byte = 0xa0
	codeVBin32   byte = 0xb0
	codeStr8     byte = 0xa1
	codeStr32    byte = 0xb1
	codeSym8     byte = 0xa3
	codeSym32    byte = 0xb3
	codeList0    byte = 0x45
	codeList8    byte = 0xc0
	codeList32   byte = 0xd0
	codeMap8     byte = 0xc1
	codeMap32    byte = 0xd1
	described    byte = 0x00
)

// Writer appends AMQP 1.0 primitive encodings to a byte sink. It is the
// encode half of this package: Builder implements it, growing its buffer
// list one field at a time as the Put* encoders write into it, generalizing
// the teacher's classmethod.go style of small, explicit per-field encoders
// (rather than a single reflective marshaller).
type Writer interface {
	Write(p []byte)
}

// PutNull writes the null constructor.
func PutNull(w Writer) { w.Write([]byte{codeNull}) }

// PutBool writes a boolean.
func PutBool(w Writer, v bool) {
	if v {
		w.Write([]byte{codeBoolTrue})
	} else {
		w.Write([]byte{codeBoolFals})
	}
}

// PutUint writes an unsigned 32-bit integer, using the zero/small-uint
// shortcuts where possible.
func PutUint(w Writer, v uint32) {
	switch {
	case v == 0:
		w.Write([]byte{codeUInt0})
	case v <= 0xff:
		w.Write([]byte{codeSmallU, byte(v)})
	default:
		var buf [5]byte
		buf[0] = codeUInt
		binary.BigEndian.PutUint32(buf[1:], v)
		w.Write(buf[:])
	}
}

// PutULong writes an unsigned 64-bit integer, used for descriptor codes.
func PutULong(w Writer, v uint64) {
	switch {
	case v == 0:
		w.Write([]byte{codeULong0})
	case v <= 0xff:
		w.Write([]byte{codeSmallUL, byte(v)})
	default:
		var buf [9]byte
		buf[0] = codeULong
		binary.BigEndian.PutUint64(buf[1:], v)
		w.Write(buf[:])
	}
}

// PutString writes a UTF-8 string, choosing the 8- or 32-bit length form.
func PutString(w Writer, s string) {
	putVar(w, codeStr8, codeStr32, []byte(s))
}

// PutSymbol writes an AMQP symbol (ASCII, used for map keys in annotations
// and properties maps where the spec calls for a symbol).
func PutSymbol(w Writer, s string) {
	putVar(w, codeSym8, codeSym32, []byte(s))
}

// PutBinary writes an opaque binary value — used for the message body's
// Data sections, which carry raw HTTP/2 DATA payload bytes (spec.md §6).
func PutBinary(w Writer, b []byte) {
	putVar(w, codeVBin8, codeVBin32, b)
}

func putVar(w Writer, small, large byte, b []byte) {
	if len(b) <= 0xff {
		w.Write([]byte{small, byte(len(b))})
		w.Write(b)
		return
	}
	var hdr [5]byte
	hdr[0] = large
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(b)))
	w.Write(hdr[:])
	w.Write(b)
}

// ListHeader writes a list constructor for count elements whose encoded
// body is body (already-encoded element bytes); count must match the
// number of elements encoded in body.
func ListHeader(w Writer, count int, body []byte) {
	if count == 0 {
		w.Write([]byte{codeList0})
		return
	}
	size := len(body) + 1 // +1 for the count byte/word itself, below
	if size <= 0xff && count <= 0xff {
		w.Write([]byte{codeList8, byte(len(body) + 1), byte(count)})
		w.Write(body)
		return
	}
	var hdr [9]byte
	hdr[0] = codeList32
	binary.BigEndian.PutUint32(hdr[1:5], uint32(len(body)+4))
	binary.BigEndian.PutUint32(hdr[5:9], uint32(count))
	w.Write(hdr[:])
	w.Write(body)
}

// MapHeader writes a map constructor for count key+value entries whose
// encoded body is body.
func MapHeader(w Writer, count int, body []byte) {
	if len(body) <= 0xff-1 && count*2 <= 0xff {
		w.Write([]byte{codeMap8, byte(len(body) + 1), byte(count * 2)})
		w.Write(body)
		return
	}
	var hdr [9]byte
	hdr[0] = codeMap32
	binary.BigEndian.PutUint32(hdr[1:5], uint32(len(body)+4))
	binary.BigEndian.PutUint32(hdr[5:9], uint32(count*2))
	w.Write(hdr[:])
	w.Write(body)
}

// Described wraps body (an already-encoded value) with the 0x00 descriptor
// constructor naming descriptor, as every section/performative in this
// package requires (AMQP 1.0 §1.5).
func Described(w Writer, descriptor uint64, body []byte) {
	w.Write([]byte{described})
	PutULong(w, descriptor)
	w.Write(body)
}
