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

// Package vanflow implements the traffic-flow accounting record attached to
// every connection and stream (SPEC_FULL.md §4.2, supplemented from
// original_source/'s http2_adaptor.c vflow_* call sites). It is an
// in-process struct the management surface reads; emitting it to an
// external flow-visualization collector is out of scope (no collaborator
// for that protocol is named).
package vanflow

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record tracks one connection's or stream's traffic-flow accounting.
type Record struct {
	mut sync.Mutex

	ID        string
	Parent    string // connection ID, for a stream record; empty for a connection record
	Method    string
	Path      string
	Status    int
	StartTime time.Time
	EndTime   time.Time
	BytesIn   int64
	BytesOut  int64
}

// Begin starts a new record, stamping its id and start time.
func Begin(parent string) *Record {
	return &Record{ID: uuid.New().String(), Parent: parent, StartTime: time.Now()}
}

// SetRequest records the method/path observed at header composition.
func (r *Record) SetRequest(method, path string) {
	r.mut.Lock()
	defer r.mut.Unlock()
	r.Method = method
	r.Path = path
}

// SetStatus records the HTTP/2 :status once known.
func (r *Record) SetStatus(status int) {
	r.mut.Lock()
	defer r.mut.Unlock()
	r.Status = status
}

// CounterIn/CounterOut accumulate body byte counts at each DATA frame.
func (r *Record) CounterIn(n int) {
	r.mut.Lock()
	r.BytesIn += int64(n)
	r.mut.Unlock()
}

func (r *Record) CounterOut(n int) {
	r.mut.Lock()
	r.BytesOut += int64(n)
	r.mut.Unlock()
}

// End stamps the record's close time. Safe to call at most once
// meaningfully; later calls just move EndTime forward.
func (r *Record) End() {
	r.mut.Lock()
	defer r.mut.Unlock()
	r.EndTime = time.Now()
}

// Snapshot is a read-only copy for the management surface.
type Snapshot struct {
	ID        string
	Parent    string
	Method    string
	Path      string
	Status    int
	StartTime time.Time
	EndTime   time.Time
	BytesIn   int64
	BytesOut  int64
}

// Snapshot copies the record's current fields under lock.
func (r *Record) Snapshot() Snapshot {
	r.mut.Lock()
	defer r.mut.Unlock()
	return Snapshot{
		ID: r.ID, Parent: r.Parent, Method: r.Method, Path: r.Path, Status: r.Status,
		StartTime: r.StartTime, EndTime: r.EndTime, BytesIn: r.BytesIn, BytesOut: r.BytesOut,
	}
}
