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

// Package http2 implements the HTTP/2<->AMQP 1.0 streaming message adaptor:
// one Connection actor per socket, translating HTTP/2 request/response
// streams into router-core deliveries and back (spec.md §1/§4.2). The codec
// itself is golang.org/x/net/http2's Framer and hpack.Encoder/Decoder; the
// teacher's protocol/phttp2 package only grounds frame-layout comments and
// constant naming (§5 design note), since phttp2 decodes passively-observed
// traffic rather than terminating a connection.
package http2

import "time"

// Role names which side of a connection this adaptor plays: Listener
// accepts inbound HTTP/2 client connections and attaches incoming links;
// Connector dials out and attaches outgoing links (spec.md §6
// httpListener/httpConnector).
type Role int8

const (
	RoleListener Role = iota
	RoleConnector
)

func (r Role) String() string {
	if r == RoleConnector {
		return "connector"
	}
	return "listener"
}

// Config is one listener's or connector's adaptor configuration, unpacked
// from the management entity's fields (spec.md §6: name, host, port,
// address, sslProfile, siteId).
type Config struct {
	Name       string        `config:"name"`
	Host       string        `config:"host"`
	Port       int           `config:"port"`
	Address    string        `config:"address"`
	SSLProfile string        `config:"sslProfile"`
	SiteID     string        `config:"siteId"`
	Role       Role          `config:"-"`

	MaxMessageSize   int           `config:"maxMessageSize"`
	InitialWindow    uint32        `config:"initialWindowSize"`
	MaxFrameSize     uint32        `config:"maxFrameSize"`
	IdleTimeout      time.Duration `config:"idleTimeout"`
	ReconnectEnabled bool          `config:"-"`
}

// Wire-level HTTP/2 constants (spec.md §6).
const (
	DefaultInitialWindowSize = 65536
	DefaultMaxFrameSize      = 16384
	ALPNProtoID              = "h2"
	FrameHeaderLength        = 9
)

// defaults fills zero-valued fields in place with the spec's wire defaults.
func (c *Config) defaults() {
	if c.InitialWindow == 0 {
		c.InitialWindow = DefaultInitialWindowSize
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
}
