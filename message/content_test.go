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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/h2amqp-router/amqp1"
	"github.com/packetd/h2amqp-router/internal/bufchain"
	"github.com/packetd/h2amqp-router/internal/safeptr"
)

func flattenList(l *bufchain.List) []byte {
	out := make([]byte, 0, l.Bytes())
	l.Range(func(b *bufchain.Buffer) bool {
		out = append(out, b.Bytes()...)
		return true
	})
	return out
}

func buildMessage(priority int, props amqp1.Properties, appProps []amqp1.AppProp, body []byte) []byte {
	var out []byte
	out = append(out, flattenList(amqp1.BuildHeader(priority))...)
	out = append(out, flattenList(amqp1.BuildProperties(props))...)
	out = append(out, flattenList(amqp1.BuildApplicationProperties(amqp1.DescriptorApplicationProps, appProps))...)
	if body != nil {
		out = append(out, flattenList(amqp1.BuildData(body))...)
	}
	return out
}

func TestContentReceiveParsesSectionsIncrementally(t *testing.T) {
	raw := buildMessage(9, amqp1.Properties{To: "test-addr", Subject: "hi"},
		[]amqp1.AppProp{{Key: "x-opt-skupper-flow-id", Value: "abc123"}},
		[]byte("hello world"))

	c := New()

	assert.Equal(t, DepthIncomplete, c.CheckDepth(amqp1.DepthBody))

	// Feed one byte at a time to exercise the incremental parse path.
	for i := range raw {
		c.Receive(raw[i : i+1])
	}
	c.ReceiveComplete()

	assert.Equal(t, DepthOK, c.CheckDepth(amqp1.DepthBody))
	assert.Equal(t, 9, c.Priority())

	props, ok := c.Properties()
	require.True(t, ok)
	assert.Equal(t, "test-addr", props.To)
	assert.Equal(t, "hi", props.Subject)

	appProps, ok := c.ApplicationProperties()
	require.True(t, ok)
	require.Len(t, appProps, 1)
	assert.Equal(t, "x-opt-skupper-flow-id", appProps[0].Key)
	assert.Equal(t, "abc123", appProps[0].Value)

	body := c.Body()
	require.Len(t, body, 1)
	payload, ok := c.BodyPayload(0)
	require.True(t, ok)
	assert.Equal(t, "hello world", string(payload.Bytes()))
}

func TestContentDefaultPriorityBeforeHeaderParsed(t *testing.T) {
	c := New()
	assert.Equal(t, 4, c.Priority())
}

func TestContentCheckDepthIncompleteOnTruncatedMessage(t *testing.T) {
	raw := buildMessage(4, amqp1.Properties{To: "a"}, nil, []byte("x"))
	c := New()
	c.Receive(raw[:len(raw)-2]) // withhold the tail of the Data section
	assert.Equal(t, DepthIncomplete, c.CheckDepth(amqp1.DepthBody))
}

func TestContentCheckDepthOKOnShortCompleteMessage(t *testing.T) {
	raw := buildMessage(4, amqp1.Properties{}, nil, nil)
	c := New()
	c.Receive(raw)
	c.ReceiveComplete()
	// No Data section at all, but receive is complete: body depth still
	// resolves OK (optional sections absent still return OK).
	assert.Equal(t, DepthOK, c.CheckDepth(amqp1.DepthBody))
}

func TestContentAbortClearsQ2Holdoff(t *testing.T) {
	c := New()
	unblocked := false
	table := safeptr.NewTable[func()]()
	c.q2.SetUnblockHandler(table, func() { unblocked = true })
	c.q2.blocked = true

	c.Abort()

	assert.True(t, c.IsAborted())
	assert.True(t, unblocked)
	assert.False(t, c.q2.Blocked())
}

func TestComposeConcatenatesBuilderListsInOrder(t *testing.T) {
	c := Compose(
		amqp1.BuildHeader(7),
		amqp1.BuildProperties(amqp1.Properties{To: "composed"}),
		amqp1.BuildData([]byte("payload")),
	)
	c.ReceiveComplete()

	assert.Equal(t, 7, c.Priority())
	props, ok := c.Properties()
	require.True(t, ok)
	assert.Equal(t, "composed", props.To)

	payload, ok := c.BodyPayload(0)
	require.True(t, ok)
	assert.Equal(t, "payload", string(payload.Bytes()))
}

func TestExtendAppendsFooterAfterReceive(t *testing.T) {
	raw := buildMessage(4, amqp1.Properties{To: "a"}, nil, []byte("body"))
	c := New()
	c.Receive(raw)

	footer := amqp1.BuildApplicationProperties(amqp1.DescriptorFooter, []amqp1.AppProp{{Key: "k", Value: "v"}})
	c.Extend(footer)
	c.ReceiveComplete()

	assert.Equal(t, DepthOK, c.CheckDepth(amqp1.DepthFooter))
	f, ok := c.Footer()
	require.True(t, ok)
	require.Len(t, f, 1)
	assert.Equal(t, "k", f[0].Key)
}
