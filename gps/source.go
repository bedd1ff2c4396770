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

/*
Package gps holds the authoritative GPS-derived time of day and the serial
ingestion loop that feeds it. The time value has a hard freshness contract:
readers must treat anything older than the stale threshold as "no valid time".
*/
package gps

import (
	"sync"
	"time"

	"github.com/stratum-one/gpsntp/nmea"
)

// DefaultStaleThreshold is how old a GPS time may get before it must not be
// served to clients anymore
const DefaultStaleThreshold = 10 * time.Second

// Source is the single authoritative holder of GPS time and fix quality.
// One exclusive lock guards a handful of value fields; the critical sections
// never do I/O.
type Source struct {
	mu             sync.Mutex
	staleThreshold time.Duration

	timeOfFix  time.Time
	hasTime    bool
	lastUpdate time.Time
	quality    int
	satellites int
	hdop       float64

	now func() time.Time
}

// Snapshot is an immutable copy of the source state. Time is the time of the
// last fix extrapolated by the host-clock interval since it was accepted.
type Snapshot struct {
	Time       time.Time
	TimeOfFix  time.Time
	HasTime    bool
	Fresh      bool
	Age        time.Duration
	Quality    int
	Satellites int
	HDOP       float64
}

// NewSource creates a Source with the given staleness threshold;
// threshold <= 0 selects the default.
func NewSource(staleThreshold time.Duration) *Source {
	if staleThreshold <= 0 {
		staleThreshold = DefaultStaleThreshold
	}
	return &Source{
		staleThreshold: staleThreshold,
		now:            time.Now,
	}
}

// UpdateFromFix folds one decoded sentence into the source. RMC with a valid
// datetime replaces the current time; GGA updates fix quality without touching
// time. GPS time never moves backwards: a fix older than the accepted one is
// refused and reported via the false return.
func (s *Source) UpdateFromFix(fix *nmea.Fix) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch fix.Kind {
	case nmea.KindRMC:
		if !fix.Valid || !fix.HasTime {
			return false
		}
		if s.hasTime && !fix.Time.After(s.timeOfFix) {
			return false
		}
		s.timeOfFix = fix.Time
		s.hasTime = true
		s.lastUpdate = s.now()
		return true
	case nmea.KindGGA:
		s.quality = fix.Quality
		s.satellites = fix.Satellites
		s.hdop = fix.HDOP
		return true
	}
	return false
}

// IsFresh reports whether there is a GPS time younger than the threshold.
// Exactly threshold-old counts as stale.
func (s *Source) IsFresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freshLocked()
}

func (s *Source) freshLocked() bool {
	return s.hasTime && s.now().Sub(s.lastUpdate) < s.staleThreshold
}

// Current returns the extrapolated GPS time of day. ok is false when there is
// no valid fresh time, evaluated atomically with the value itself.
func (s *Source) Current() (t time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.freshLocked() {
		return time.Time{}, false
	}
	return s.timeOfFix.Add(s.now().Sub(s.lastUpdate)), true
}

// Snapshot returns a copy of the full source state
func (s *Source) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		HasTime:    s.hasTime,
		Quality:    s.quality,
		Satellites: s.satellites,
		HDOP:       s.hdop,
	}
	if s.hasTime {
		snap.Age = s.now().Sub(s.lastUpdate)
		snap.TimeOfFix = s.timeOfFix
		snap.Time = s.timeOfFix.Add(snap.Age)
		snap.Fresh = snap.Age < s.staleThreshold
	}
	return snap
}
