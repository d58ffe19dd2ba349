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

// Package management implements the admin-HTTP CRUD surface for the
// httpListener/httpConnector rows spec.md §6 names (SPEC_FULL.md §6): a
// name, host, port, address, sslProfile and siteId per entity, decoded
// from the admin request body with mitchellh/mapstructure the same way
// the teacher's roundtripstometrics processor decodes its own config map.
package management

// Kind distinguishes the two management row kinds this surface serves.
type Kind string

const (
	KindListener  Kind = "httpListener"
	KindConnector Kind = "httpConnector"
)

// Entity is one httpListener or httpConnector row. Fields mirror spec.md
// §6 exactly; Draining and Kind are bookkeeping the admin surface itself
// needs and are never accepted from a request body.
type Entity struct {
	ID         string `json:"id" mapstructure:"-"`
	Name       string `json:"name" mapstructure:"name"`
	Host       string `json:"host" mapstructure:"host"`
	Port       int    `json:"port" mapstructure:"port"`
	Address    string `json:"address" mapstructure:"address"`
	SSLProfile string `json:"sslProfile" mapstructure:"sslProfile"`
	SiteID     string `json:"siteId" mapstructure:"siteId"`

	Kind     Kind `json:"kind" mapstructure:"-"`
	Draining bool `json:"draining" mapstructure:"-"`
}
