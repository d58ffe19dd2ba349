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

// Package bufchain implements fixed-capacity octet buffers chained into an
// ordered byte stream. It plays the role the teacher's internal/bufbytes and
// internal/zerocopy packages play for a single growable slice, generalized
// to a chain of fixed-size buffers that a message content can grow one
// allocation at a time instead of repeatedly reallocating one big slice.
package bufchain

import "github.com/valyala/bytebufferpool"

// DefaultCapacity is the size of a freshly allocated Buffer. It mirrors the
// teacher's common.ReadWriteBlockSize "compromise" size: large enough to
// amortize allocation, small enough that a single in-flight message doesn't
// pin an outsized amount of memory per buffer.
const DefaultCapacity = 4096

var pool bytebufferpool.Pool

// Buffer is a fixed-capacity octet buffer with append-at-tail and
// random-offset read. Once Size() == Capacity() the buffer is full and the
// caller must link it into a List and allocate a fresh one.
type Buffer struct {
	bb   *bytebufferpool.ByteBuffer
	cap  int
	next *Buffer
	seq  uint64
}

// Seq returns the buffer's position in append order within the List it was
// appended to (1-based; 0 means never appended). Message content uses this
// to decide when a buffer lies strictly before every live window/handle
// cursor and can be freed, without needing an O(n) chain walk.
func (b *Buffer) Seq() uint64 { return b.seq }

// New allocates a Buffer backed by a pooled byte slice of the given
// capacity. Use Release when the buffer is permanently done being
// referenced (no stream-data window or handle send-cursor still points into
// it).
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	bb := pool.Get()
	if cap(bb.B) < capacity {
		bb.B = make([]byte, 0, capacity)
	}
	return &Buffer{bb: bb, cap: capacity}
}

// Release returns the backing slice to the pool. Callers must not touch the
// Buffer afterward.
func (b *Buffer) Release() {
	pool.Put(b.bb)
	b.bb = nil
	b.next = nil
}

// Capacity returns the buffer's fixed capacity.
func (b *Buffer) Capacity() int { return b.cap }

// Size returns the number of bytes currently written.
func (b *Buffer) Size() int { return len(b.bb.B) }

// Free returns the remaining capacity available for Append.
func (b *Buffer) Free() int { return b.cap - b.Size() }

// Full reports whether the buffer has no remaining capacity.
func (b *Buffer) Full() bool { return b.Free() == 0 }

// Bytes returns the written region. The caller must not mutate it; it is
// shared with every reader of the buffer.
func (b *Buffer) Bytes() []byte { return b.bb.B }

// Append appends p to the tail, truncating to the buffer's remaining
// capacity. It returns the number of bytes actually written so the caller
// can carry the remainder into a fresh Buffer.
func (b *Buffer) Append(p []byte) int {
	n := b.Free()
	if n > len(p) {
		n = len(p)
	}
	if n > 0 {
		b.bb.B = append(b.bb.B, p[:n]...)
	}
	return n
}

// ReadAt returns a zero-copy slice of length bytes starting at offset. The
// caller must not retain it past the buffer's lifetime.
func (b *Buffer) ReadAt(offset, length int) []byte {
	if offset < 0 || length < 0 || offset+length > b.Size() {
		return nil
	}
	return b.bb.B[offset : offset+length]
}
