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
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mitchellh/mapstructure"

	"github.com/packetd/h2amqp-router/logger"
)

// router is the subset of server.Server's route registration this package
// needs; kept narrow so management doesn't have to import server just to
// be wired onto it.
type router interface {
	RegisterGetRoute(path string, f http.HandlerFunc)
	RegisterPostRoute(path string, f http.HandlerFunc)
	RegisterPutRoute(path string, f http.HandlerFunc)
	RegisterDeleteRoute(path string, f http.HandlerFunc)
}

// RegisterRoutes wires the listener/connector CRUD surface onto an admin
// HTTP server (spec.md §6). Paths match the entity kind's management name.
func RegisterRoutes(s router, reg *Registry) {
	s.RegisterGetRoute("/management/httpListener", listRoute(reg.ListListeners))
	s.RegisterPostRoute("/management/httpListener", createRoute(reg.CreateListener))
	s.RegisterGetRoute("/management/httpListener/{id}", getRoute(reg.GetListener))
	s.RegisterPutRoute("/management/httpListener/{id}", updateRoute(reg.UpdateListener))
	s.RegisterDeleteRoute("/management/httpListener/{id}", deleteRoute(reg.DeleteListener))

	s.RegisterGetRoute("/management/httpConnector", listRoute(reg.ListConnectors))
	s.RegisterPostRoute("/management/httpConnector", createRoute(reg.CreateConnector))
	s.RegisterGetRoute("/management/httpConnector/{id}", getRoute(reg.GetConnector))
	s.RegisterPutRoute("/management/httpConnector/{id}", updateRoute(reg.UpdateConnector))
	s.RegisterDeleteRoute("/management/httpConnector/{id}", deleteRoute(reg.DeleteConnector))
}

func decodeEntity(r *http.Request) (Entity, error) {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return Entity{}, err
	}
	var e Entity
	if err := mapstructure.Decode(raw, &e); err != nil {
		return Entity{}, err
	}
	return e, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("management: response encode failed: %v", err)
	}
}

func listRoute(list func() []Entity) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, list())
	}
}

func createRoute(create func(Entity) Entity) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := decodeEntity(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusCreated, create(e))
	}
}

func getRoute(get func(string) (Entity, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := get(mux.Vars(r)["id"])
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, e)
	}
}

func updateRoute(update func(string, Entity) (Entity, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := decodeEntity(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		updated, err := update(mux.Vars(r)["id"], e)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func deleteRoute(del func(string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := del(mux.Vars(r)["id"]); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
