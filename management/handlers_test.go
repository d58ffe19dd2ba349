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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// muxRouter adapts *mux.Router to the router interface the same way
// server.Server's own RegisterXRoute methods do.
type muxRouter struct{ r *mux.Router }

func (m muxRouter) RegisterGetRoute(path string, f http.HandlerFunc) {
	m.r.Methods(http.MethodGet).Path(path).HandlerFunc(f)
}
func (m muxRouter) RegisterPostRoute(path string, f http.HandlerFunc) {
	m.r.Methods(http.MethodPost).Path(path).HandlerFunc(f)
}
func (m muxRouter) RegisterPutRoute(path string, f http.HandlerFunc) {
	m.r.Methods(http.MethodPut).Path(path).HandlerFunc(f)
}
func (m muxRouter) RegisterDeleteRoute(path string, f http.HandlerFunc) {
	m.r.Methods(http.MethodDelete).Path(path).HandlerFunc(f)
}

func newTestServer() (*httptest.Server, *Registry) {
	reg := NewRegistry()
	mr := mux.NewRouter()
	RegisterRoutes(muxRouter{mr}, reg)
	return httptest.NewServer(mr), reg
}

func TestHandlersCreateGetListDelete(t *testing.T) {
	srv, _ := newTestServer()
	defer srv.Close()

	body, _ := json.Marshal(map[string]any{"name": "l1", "host": "0.0.0.0", "port": 8443})
	resp, err := http.Post(srv.URL+"/management/httpListener", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created Entity
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "l1", created.Name)
	assert.NotEmpty(t, created.ID)

	getResp, err := http.Get(srv.URL + "/management/httpListener/" + created.ID)
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusOK, getResp.StatusCode)

	listResp, err := http.Get(srv.URL + "/management/httpListener")
	require.NoError(t, err)
	defer listResp.Body.Close()
	var rows []Entity
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&rows))
	assert.Len(t, rows, 1)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/management/httpListener/"+created.ID, nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer delResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)

	getResp2, err := http.Get(srv.URL + "/management/httpListener/" + created.ID)
	require.NoError(t, err)
	defer getResp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, getResp2.StatusCode)
}

func TestHandlersGetUnknownReturns404(t *testing.T) {
	srv, _ := newTestServer()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/management/httpConnector/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandlersCreateRejectsMalformedBody(t *testing.T) {
	srv, _ := newTestServer()
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/management/httpConnector", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
