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

import "github.com/packetd/h2amqp-router/internal/bufchain"

// Section describes one parsed top-level section: its descriptor, where it
// starts, and its total encoded length (descriptor + value, the whole
// section, ready to stamp into a bufchain.Locator).
type Section struct {
	Descriptor uint64
	Start      Cursor
	TotalLen   int
	value      constructor
}

// ParseSection reads the section constructor at c without requiring the
// whole value to be buffered yet for container types — it returns
// ErrIncomplete until the section's full length is known, which for a
// list/map constructor only needs the size+count word, not the elements.
// The message content's depth check still must confirm TotalLen bytes are
// actually present via c.Remaining() before treating the section as parsed.
func ParseSection(c Cursor) (Section, error) {
	ct, err := readConstructor(c)
	if err != nil {
		return Section{}, err
	}
	if !ct.described {
		return Section{}, ErrInvalid
	}
	return Section{
		Descriptor: ct.descr,
		Start:      c,
		TotalLen:   ct.headerSz + ct.bodyLen,
		value:      ct,
	}, nil
}

// elements returns a cursor positioned at the first list/map element
// of the section's value, plus the element count.
func (s Section) elements() (Cursor, int, error) {
	// c positioned at the value constructor: advance past descriptor bytes.
	descrBytes := s.value.headerSz - headerSzOfValueOnly(s.value)
	valueCur := s.Start
	valueCur.advance(descrBytes)

	var count int
	var err error
	switch s.value.code {
	case codeList0, codeList8, codeList32:
		count, err = listCount(valueCur, s.value)
	case codeMap8, codeMap32:
		count, err = mapCount(valueCur, s.value)
	default:
		return Cursor{}, 0, ErrInvalid
	}
	if err != nil {
		return Cursor{}, 0, err
	}

	elemCur := valueCur
	elemCur.advance(headerSzOfValueOnly(s.value))
	return elemCur, count, nil
}

// headerSzOfValueOnly returns how many header bytes the value constructor
// itself occupies (size+count word for list/map, excluding the descriptor
// prefix that readConstructor folded into ct.headerSz).
func headerSzOfValueOnly(ct constructor) int {
	switch ct.code {
	case codeList0:
		return 1
	case codeList8, codeMap8:
		return 3
	case codeList32, codeMap32:
		return 9
	}
	return 1
}

// decodedValue is one scalar value read out of a list/map's element
// stream: either a UTF-8 string/symbol, a null, a bool, or an unsigned int.
type decodedValue struct {
	isNull bool
	str    string
	b      bool
	u      uint32
	length int // total encoded bytes consumed, including this value's header
}

func decodeValue(c Cursor) (decodedValue, error) {
	ct, err := readConstructor(c)
	if err != nil {
		return decodedValue{}, err
	}
	switch ct.code {
	case codeNull:
		return decodedValue{isNull: true, length: ct.headerSz}, nil
	case codeBoolTrue:
		return decodedValue{b: true, length: ct.headerSz}, nil
	case codeBoolFals:
		return decodedValue{b: false, length: ct.headerSz}, nil
	case codeUInt0, codeSmallU, codeUInt:
		return decodedValue{u: ct.u32, length: ct.headerSz}, nil
	case codeStr8, codeStr32, codeSym8, codeSym32:
		if c.Remaining() < ct.headerSz+ct.bodyLen {
			return decodedValue{}, ErrIncomplete
		}
		raw := c.peek(ct.headerSz + ct.bodyLen)
		return decodedValue{str: string(raw[ct.headerSz:]), length: ct.headerSz + ct.bodyLen}, nil
	case codeList0, codeList8, codeList32, codeMap8, codeMap32:
		return decodedValue{length: ct.headerSz + ct.bodyLen}, nil
	}
	return decodedValue{}, ErrInvalid
}

// Fields returns the decoded elements of a section's list/map value, in
// order. It is used for small, bounded sections (Header, Properties,
// RouterAnnotations, ApplicationProperties, Footer) — never for Body, whose
// Data payload is kept as a zero-copy Locator instead.
func (s Section) Fields() ([]decodedValue, error) {
	cur, count, err := s.elements()
	if err != nil {
		return nil, err
	}
	out := make([]decodedValue, 0, count)
	for i := 0; i < count; i++ {
		v, err := decodeValue(cur)
		if err != nil {
			return nil, err
		}
		cur.advance(v.length)
		out = append(out, v)
	}
	return out, nil
}

// DecodeProperties extracts to/subject/reply-to/group-id from a Properties
// section's fixed field positions (AMQP 1.0 §3.2.4).
func DecodeProperties(s Section) (Properties, error) {
	fields, err := s.Fields()
	if err != nil {
		return Properties{}, err
	}
	var p Properties
	get := func(idx int) string {
		if idx >= len(fields) || fields[idx].isNull {
			return ""
		}
		return fields[idx].str
	}
	p.To = get(2)
	p.Subject = get(3)
	p.ReplyTo = get(4)
	p.GroupID = get(10)
	return p, nil
}

// DecodeHeader extracts durable (ignored, always false by construction) and
// priority (defaulting to 4 per AMQP 1.0 §3.2.1 when absent).
func DecodeHeader(s Section) (priority int, parsed bool, err error) {
	fields, err := s.Fields()
	if err != nil {
		return 0, false, err
	}
	if len(fields) < 2 || fields[1].isNull {
		return 4, false, nil
	}
	return int(fields[1].u), true, nil
}

// DecodeAppProps decodes an application-properties or footer map section
// into an ordered slice of key/value strings.
func DecodeAppProps(s Section) ([]AppProp, error) {
	fields, err := s.Fields()
	if err != nil {
		return nil, err
	}
	out := make([]AppProp, 0, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		out = append(out, AppProp{Key: fields[i].str, Value: fields[i+1].str})
	}
	return out, nil
}

// DecodeRouterAnnotations extracts the private router-annotations fields.
func DecodeRouterAnnotations(s Section) (RouterAnnotations, error) {
	fields, err := s.Fields()
	if err != nil {
		return RouterAnnotations{}, err
	}
	var ra RouterAnnotations
	get := func(idx int) string {
		if idx >= len(fields) || fields[idx].isNull {
			return ""
		}
		return fields[idx].str
	}
	ra.IngressRouter = get(0)
	ra.ToOverride = get(1)
	if len(fields) > 3 {
		ra.Flags = fields[3].u
	}
	ra.IngressMesh = get(4)
	return ra, nil
}

// DataPayload returns a zero-copy locator over a Data section's binary
// body, suitable for streaming out without a full decode.
func DataPayload(s Section) bufchain.Locator {
	// The value constructor (vbin8/vbin32) directly follows the descriptor
	// bytes; headerSzOfValueOnly only covers list/map, so compute directly.
	valueCur := s.Start
	ct := s.value
	var hsz int
	switch ct.code {
	case codeVBin8:
		hsz = 2
	case codeVBin32:
		hsz = 5
	}
	valueCur.advance(ct.headerSz - hsz)
	return bufchain.Locator{
		Buf:       valueCur.Buffer(),
		Offset:    valueCur.Offset() + hsz,
		Length:    ct.bodyLen,
		HeaderLen: hsz,
		TypeTag:   ct.code,
		Parsed:    true,
	}
}
