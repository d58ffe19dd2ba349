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

package bufchain

// List is an ordered chain of Buffers with O(1) head/tail access. Bytes
// appended to it are never reordered or rewritten once written, matching
// the chain-growth invariant in the message content spec.
type List struct {
	head    *Buffer
	tail    *Buffer
	count   int
	bytes   int
	nextSeq uint64
}

// NewList returns an empty List.
func NewList() *List {
	return &List{}
}

// Len returns the number of buffers currently chained.
func (l *List) Len() int { return l.count }

// Bytes returns the total number of bytes held across every buffer.
func (l *List) Bytes() int { return l.bytes }

// Head returns the first buffer in the chain, or nil if empty.
func (l *List) Head() *Buffer { return l.head }

// Tail returns the last buffer in the chain, or nil if empty.
func (l *List) Tail() *Buffer { return l.tail }

// Append links buf onto the tail of the list in O(1), stamping it with the
// next sequence number.
func (l *List) Append(buf *Buffer) {
	buf.next = nil
	l.nextSeq++
	buf.seq = l.nextSeq
	if l.tail == nil {
		l.head, l.tail = buf, buf
	} else {
		l.tail.next = buf
		l.tail = buf
	}
	l.count++
	l.bytes += buf.Size()
}

// Concat appends every buffer of other onto l in order, in time linear in
// other's buffer count (each one is restamped with l's sequence numbers),
// and leaves other empty. Used by Compose, which takes a builder's buffer list
// by move.
func (l *List) Concat(other *List) {
	if other == nil || other.head == nil {
		return
	}
	for b := other.head; b != nil; b = b.next {
		l.nextSeq++
		b.seq = l.nextSeq
	}
	if l.tail == nil {
		l.head = other.head
	} else {
		l.tail.next = other.head
	}
	l.tail = other.tail
	l.count += other.count
	l.bytes += other.bytes
	other.head, other.tail, other.count, other.bytes = nil, nil, 0, 0
}

// PopHead unlinks and returns the first buffer, or nil if empty.
func (l *List) PopHead() *Buffer {
	b := l.head
	if b == nil {
		return nil
	}
	l.head = b.next
	if l.head == nil {
		l.tail = nil
	}
	b.next = nil
	l.count--
	l.bytes -= b.Size()
	return b
}

// Next returns the buffer chained after b, or nil at the tail. It is the
// list's only traversal primitive; field locators and stream-data windows
// walk the chain with it instead of indexing, since the chain is
// singly-linked by design (buffers are never re-ordered).
func Next(b *Buffer) *Buffer {
	if b == nil {
		return nil
	}
	return b.next
}

// Range walks every buffer from head to tail, stopping early if f returns
// false.
func (l *List) Range(f func(*Buffer) bool) {
	for b := l.head; b != nil; b = b.next {
		if !f(b) {
			return
		}
	}
}
