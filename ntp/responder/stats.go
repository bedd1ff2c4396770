/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package responder

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// Stats counts responder activity. All counters are atomic, the serve loop
// never takes a lock for them.
type Stats struct {
	// keep these aligned to 64-bit for sync/atomic
	requests      int64
	responses     int64
	droppedStale  int64
	droppedFormat int64
	readErrors    int64
}

// IncRequests atomically adds 1 to the counter
func (s *Stats) IncRequests() { atomic.AddInt64(&s.requests, 1) }

// IncResponses atomically adds 1 to the counter
func (s *Stats) IncResponses() { atomic.AddInt64(&s.responses, 1) }

// IncDroppedStale atomically adds 1 to the counter
func (s *Stats) IncDroppedStale() { atomic.AddInt64(&s.droppedStale, 1) }

// IncDroppedFormat atomically adds 1 to the counter
func (s *Stats) IncDroppedFormat() { atomic.AddInt64(&s.droppedFormat, 1) }

// IncReadErrors atomically adds 1 to the counter
func (s *Stats) IncReadErrors() { atomic.AddInt64(&s.readErrors, 1) }

// Counters exports all counters for the status surface
func (s *Stats) Counters() map[string]int64 {
	return map[string]int64{
		"requests":       atomic.LoadInt64(&s.requests),
		"responses":      atomic.LoadInt64(&s.responses),
		"dropped.stale":  atomic.LoadInt64(&s.droppedStale),
		"dropped.format": atomic.LoadInt64(&s.droppedFormat),
		"readerrors":     atomic.LoadInt64(&s.readErrors),
	}
}

// ServeHTTP reports the counters as JSON, same shape the rest of the status
// surface uses
func (s *Stats) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	js, err := json.Marshal(s.Counters())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err = w.Write(js); err != nil {
		log.Errorf("Failed to reply: %v", err)
	}
}
