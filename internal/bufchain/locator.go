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

// Locator names a position (buffer, offset, length) inside a chain without
// copying. It underlies the message content's field locators: once Parsed
// is set the tuple is stable for the content's lifetime (buffers are never
// rewritten or reordered).
type Locator struct {
	Buf        *Buffer
	Offset     int
	Length     int
	HeaderLen  int
	TypeTag    byte
	Parsed     bool
}

// Valid reports whether the locator currently names a parsed field.
func (l Locator) Valid() bool { return l.Parsed }

// Bytes returns a zero-copy view of the field's bytes. It only works when
// the field lies entirely within a single buffer; callers that need to
// stream across buffer boundaries should use Iterator instead.
func (l Locator) Bytes() []byte {
	if !l.Parsed || l.Buf == nil {
		return nil
	}
	return l.Buf.ReadAt(l.Offset, l.Length)
}

// Iterator walks a field's bytes across buffer boundaries without copying.
type Iterator struct {
	buf    *Buffer
	offset int
	remain int
}

// NewIterator returns an Iterator over length bytes starting at offset
// inside buf's chain.
func NewIterator(buf *Buffer, offset, length int) *Iterator {
	return &Iterator{buf: buf, offset: offset, remain: length}
}

// Len reports the number of bytes not yet consumed.
func (it *Iterator) Len() int { return it.remain }

// Next returns the next contiguous zero-copy chunk, advancing across buffer
// boundaries as needed. It returns nil, false once the iterator is
// exhausted.
func (it *Iterator) Next() ([]byte, bool) {
	for it.remain > 0 {
		if it.buf == nil {
			return nil, false
		}
		avail := it.buf.Size() - it.offset
		if avail <= 0 {
			it.buf = Next(it.buf)
			it.offset = 0
			continue
		}
		n := avail
		if n > it.remain {
			n = it.remain
		}
		chunk := it.buf.ReadAt(it.offset, n)
		it.offset += n
		it.remain -= n
		return chunk, true
	}
	return nil, false
}

// NextUpTo returns the next zero-copy chunk, like Next, but caps it at max
// bytes even when more of the current buffer is contiguously available. Used
// by the egress DATA path to enforce a fixed per-frame chunk size
// regardless of how large the underlying buffers happen to be (spec.md
// §4.2 egress step 3: "up to ... 16 KiB"). max <= 0 means uncapped.
func (it *Iterator) NextUpTo(max int) ([]byte, bool) {
	for it.remain > 0 {
		if it.buf == nil {
			return nil, false
		}
		avail := it.buf.Size() - it.offset
		if avail <= 0 {
			it.buf = Next(it.buf)
			it.offset = 0
			continue
		}
		n := avail
		if n > it.remain {
			n = it.remain
		}
		if max > 0 && n > max {
			n = max
		}
		chunk := it.buf.ReadAt(it.offset, n)
		it.offset += n
		it.remain -= n
		return chunk, true
	}
	return nil, false
}

// Length returns the total number of bytes an Iterator over a field of
// this many bytes would expose. It is O(bytes in field) like spec.md
// requires for length/copy, achieved by walking rather than precomputing.
func Length(buf *Buffer, offset, length int) int {
	it := NewIterator(buf, offset, length)
	total := 0
	for {
		chunk, ok := it.Next()
		if !ok {
			break
		}
		total += len(chunk)
	}
	return total
}

// Copy drains an Iterator over a field into out, growing out as needed, and
// returns the filled slice. It is O(bytes in field).
func Copy(buf *Buffer, offset, length int, out []byte) []byte {
	it := NewIterator(buf, offset, length)
	out = out[:0]
	for {
		chunk, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, chunk...)
	}
	return out
}
