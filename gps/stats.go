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

package gps

import "sync/atomic"

// Stats counts what the ingestion loop saw. All counters are atomic so the
// status exporter can read them without taking the source lock.
type Stats struct {
	// keep these aligned to 64-bit for sync/atomic
	sentences   int64
	rmcTotal    int64
	rmcValid    int64
	ggaTotal    int64
	ggaValid    int64
	parseErrors int64
	unsupported int64
	rollbacks   int64
	reconnects  int64
	linkErrors  int64
}

// IncSentences atomically adds 1 to the counter
func (s *Stats) IncSentences() { atomic.AddInt64(&s.sentences, 1) }

// IncRMCTotal atomically adds 1 to the counter
func (s *Stats) IncRMCTotal() { atomic.AddInt64(&s.rmcTotal, 1) }

// IncRMCValid atomically adds 1 to the counter
func (s *Stats) IncRMCValid() { atomic.AddInt64(&s.rmcValid, 1) }

// IncGGATotal atomically adds 1 to the counter
func (s *Stats) IncGGATotal() { atomic.AddInt64(&s.ggaTotal, 1) }

// IncGGAValid atomically adds 1 to the counter
func (s *Stats) IncGGAValid() { atomic.AddInt64(&s.ggaValid, 1) }

// IncParseErrors atomically adds 1 to the counter
func (s *Stats) IncParseErrors() { atomic.AddInt64(&s.parseErrors, 1) }

// IncUnsupported atomically adds 1 to the counter
func (s *Stats) IncUnsupported() { atomic.AddInt64(&s.unsupported, 1) }

// IncRollbacks atomically adds 1 to the counter
func (s *Stats) IncRollbacks() { atomic.AddInt64(&s.rollbacks, 1) }

// IncReconnects atomically adds 1 to the counter
func (s *Stats) IncReconnects() { atomic.AddInt64(&s.reconnects, 1) }

// IncLinkErrors atomically adds 1 to the counter
func (s *Stats) IncLinkErrors() { atomic.AddInt64(&s.linkErrors, 1) }

// Counters exports all counters for the status surface
func (s *Stats) Counters() map[string]int64 {
	return map[string]int64{
		"sentences":   atomic.LoadInt64(&s.sentences),
		"rmc.total":   atomic.LoadInt64(&s.rmcTotal),
		"rmc.valid":   atomic.LoadInt64(&s.rmcValid),
		"gga.total":   atomic.LoadInt64(&s.ggaTotal),
		"gga.valid":   atomic.LoadInt64(&s.ggaValid),
		"parseerrors": atomic.LoadInt64(&s.parseErrors),
		"unsupported": atomic.LoadInt64(&s.unsupported),
		"rollbacks":   atomic.LoadInt64(&s.rollbacks),
		"reconnects":  atomic.LoadInt64(&s.reconnects),
		"linkerrors":  atomic.LoadInt64(&s.linkErrors),
	}
}
