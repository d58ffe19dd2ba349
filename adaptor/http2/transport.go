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

import "io"

// RawConn is the byte transport a Connection actor drives. It is satisfied
// by a plain net.Conn; kept as a narrow interface so tests can drive the
// actor over net.Pipe without a real socket.
type RawConn interface {
	io.Reader
	io.Writer
	Close() error
}

// TLSHandle is the adaptor's only view onto the connection's TLS state
// (spec.md §1: "a raw connection handle" and "a TLS handle" are named as
// out-of-scope collaborators with only this much of a contract). The
// adaptor never touches certificates, ALPN negotiation, or handshake
// timing directly — it only asks whether the channel is encrypted and
// pushes bytes through Encrypt/Decrypt.
type TLSHandle interface {
	// Decrypt transforms ciphertext read off the wire into plaintext HTTP/2
	// octets, or reports that more input is needed.
	Decrypt(ciphertext []byte) (plaintext []byte, err error)

	// Encrypt transforms plaintext HTTP/2 octets queued for send into
	// ciphertext ready for the raw connection.
	Encrypt(plaintext []byte) (ciphertext []byte, err error)

	// HasOutput reports whether Encrypt/Decrypt produced handshake bytes
	// that must reach the peer even with no adaptor-level data pending.
	HasOutput() bool

	IsSecure() bool
}

// plainTLS is the no-op TLSHandle for cleartext connections (h2c), passing
// bytes through unchanged.
type plainTLS struct{}

func (plainTLS) Decrypt(b []byte) ([]byte, error) { return b, nil }
func (plainTLS) Encrypt(b []byte) ([]byte, error) { return b, nil }
func (plainTLS) HasOutput() bool                  { return false }
func (plainTLS) IsSecure() bool                   { return false }
