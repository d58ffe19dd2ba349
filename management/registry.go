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

package management

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrNotFound is returned by the Get/Update/Delete operations when no row
// with the given id exists.
var ErrNotFound = errors.New("management: entity not found")

// drainable is the one adaptor/http2.Connection method the registry needs:
// kept as a narrow interface rather than importing adaptor/http2 directly,
// since acceptance/dialing (what actually produces a live Connection) is a
// collaborator outside this package's scope (spec.md §2 "listener/connector
// acceptance").
type drainable interface {
	SetDraining()
}

// Registry holds every httpListener/httpConnector row this process knows
// about. It does not itself open sockets or dial out (that is the
// listener/connector acceptance collaborator spec.md §2 names as
// out-of-scope); it only tracks CRUD state and, for connectors, the live
// Connection actor attached to a row so deletion can drain it instead of
// ripping the connection out from under in-flight streams.
type Registry struct {
	mut        sync.Mutex
	listeners  map[string]*Entity
	connectors map[string]*Entity
	live       map[string]drainable // connector id -> attached Connection actor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		listeners:  make(map[string]*Entity),
		connectors: make(map[string]*Entity),
		live:       make(map[string]drainable),
	}
}

func cloneEntity(e *Entity) Entity { return *e }

// CreateListener/CreateConnector assign an id and store the row, returning
// the stored copy (with id and kind populated).
func (r *Registry) CreateListener(e Entity) Entity {
	return r.create(&r.listeners, KindListener, e)
}

func (r *Registry) CreateConnector(e Entity) Entity {
	return r.create(&r.connectors, KindConnector, e)
}

func (r *Registry) create(table *map[string]*Entity, kind Kind, e Entity) Entity {
	r.mut.Lock()
	defer r.mut.Unlock()

	e.ID = uuid.New().String()
	e.Kind = kind
	e.Draining = false
	(*table)[e.ID] = &e
	return cloneEntity(&e)
}

func (r *Registry) GetListener(id string) (Entity, error)  { return r.get(r.listeners, id) }
func (r *Registry) GetConnector(id string) (Entity, error) { return r.get(r.connectors, id) }

func (r *Registry) get(table map[string]*Entity, id string) (Entity, error) {
	r.mut.Lock()
	defer r.mut.Unlock()

	e, ok := table[id]
	if !ok {
		return Entity{}, ErrNotFound
	}
	return cloneEntity(e), nil
}

func (r *Registry) ListListeners() []Entity  { return r.list(r.listeners) }
func (r *Registry) ListConnectors() []Entity { return r.list(r.connectors) }

func (r *Registry) list(table map[string]*Entity) []Entity {
	r.mut.Lock()
	defer r.mut.Unlock()

	out := make([]Entity, 0, len(table))
	for _, e := range table {
		out = append(out, cloneEntity(e))
	}
	return out
}

// UpdateListener/UpdateConnector replace a row's editable fields in place,
// keeping its id, kind and draining state.
func (r *Registry) UpdateListener(id string, e Entity) (Entity, error) {
	return r.update(r.listeners, id, e)
}

func (r *Registry) UpdateConnector(id string, e Entity) (Entity, error) {
	return r.update(r.connectors, id, e)
}

func (r *Registry) update(table map[string]*Entity, id string, e Entity) (Entity, error) {
	r.mut.Lock()
	defer r.mut.Unlock()

	existing, ok := table[id]
	if !ok {
		return Entity{}, ErrNotFound
	}
	e.ID = existing.ID
	e.Kind = existing.Kind
	e.Draining = existing.Draining
	table[id] = &e
	return cloneEntity(&e), nil
}

// DeleteListener removes a listener row outright: a listener has no
// reconnect behavior to drain around, it just stops accepting.
func (r *Registry) DeleteListener(id string) error {
	r.mut.Lock()
	defer r.mut.Unlock()

	if _, ok := r.listeners[id]; !ok {
		return ErrNotFound
	}
	delete(r.listeners, id)
	return nil
}

// DeleteConnector removes a connector row. If a live Connection actor is
// still attached to it, the row is marked draining and the actor is told
// not to reconnect on its next teardown instead of being force-closed
// synchronously here (spec.md §6: "deleting a connector with live
// connections marks it draining"); the row itself is removed once the
// caller later observes the connection gone, via DetachConnection.
func (r *Registry) DeleteConnector(id string) error {
	r.mut.Lock()
	defer r.mut.Unlock()

	e, ok := r.connectors[id]
	if !ok {
		return ErrNotFound
	}

	if conn, attached := r.live[id]; attached {
		e.Draining = true
		conn.SetDraining()
		return nil
	}
	delete(r.connectors, id)
	return nil
}

// AttachConnection records the live Connection actor backing a connector
// row, so a later delete can drain it instead of deleting out from under
// open streams.
func (r *Registry) AttachConnection(id string, conn drainable) {
	r.mut.Lock()
	defer r.mut.Unlock()
	r.live[id] = conn
}

// DetachConnection removes the live-connection association once the actor
// has fully torn down, completing a delete that had been deferred to
// draining.
func (r *Registry) DetachConnection(id string) {
	r.mut.Lock()
	defer r.mut.Unlock()
	delete(r.live, id)

	if e, ok := r.connectors[id]; ok && e.Draining {
		delete(r.connectors, id)
	}
}
