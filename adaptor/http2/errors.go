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
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/net/http2"

	"github.com/packetd/h2amqp-router/activation"
	"github.com/packetd/h2amqp-router/logger"
	"github.com/packetd/h2amqp-router/metrics"
	"github.com/packetd/h2amqp-router/qdrlink"
)

// dispositionForErrCode maps a peer-observed HTTP/2 error outcome to the
// delivery disposition reported up to the router core (spec.md §7's
// disposition-mapping table).
func dispositionForErrCode(code http2.ErrCode) qdrlink.Disposition {
	switch code {
	case http2.ErrCodeNo:
		return qdrlink.DispositionAccepted
	case http2.ErrCodeRefusedStream:
		return qdrlink.DispositionReleased
	case http2.ErrCodeCancel:
		return qdrlink.DispositionModified
	default:
		return qdrlink.DispositionRejected
	}
}

// closeConnection sends GOAWAY with reason/code and schedules the actor's
// own teardown; it is the connection-scoped counterpart to resetStream
// (spec.md §7: "connection-scoped errors" get GOAWAY, "stream-scoped
// errors" get RST_STREAM).
func (c *Connection) closeConnection(reason string, code http2.ErrCode) {
	var multi *multierror.Error

	lastID := uint32(0)
	c.mut.Lock()
	for id := range c.streams {
		if id > lastID {
			lastID = id
		}
	}
	c.mut.Unlock()

	if err := c.sess.WriteGoAway(lastID, code, []byte(reason)); err != nil {
		multi = multierror.Append(multi, errors.Wrap(err, "write GOAWAY"))
	}
	metrics.GoAwaySent(code.String())
	logger.Infof("http2: %s connection closing: %s (code=%v)", c.role, reason, code)

	if multi.ErrorOrNil() != nil {
		logger.Errorf("http2: connection close encountered errors: %v", multi)
	}

	c.queue.Push(activation.EventDisconnected)
}
