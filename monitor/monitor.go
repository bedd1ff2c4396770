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
Package monitor keeps rolling statistics about remote NTP servers and ranks
them with a 0-100 quality score. Probe results come in from the prober, the
aggregates go out to the status surface, the CSV export and the archive.
*/
package monitor

import (
	"fmt"
	"math"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/stratum-one/gpsntp/gps"
	"github.com/stratum-one/gpsntp/ntp/prober"
	"github.com/stratum-one/gpsntp/ntp/responder"
)

const (
	// rttWindowSize bounds the recent-RTT window used for jitter and avg RTT
	rttWindowSize = 10
	// offsetWindowSize bounds the recent-offset window used for stability
	offsetWindowSize = 60

	// DefaultProbeInterval is how often every enabled target is probed
	DefaultProbeInterval = 30 * time.Second
)

// ServerTarget is one monitored peer, identified by (address, port)
type ServerTarget struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// ServerMetrics is the lifetime aggregate for one target. This is the part
// which gets persisted, so a restart does not zero availability and the
// offset accumulators. RTT and offset values are milliseconds.
type ServerMetrics struct {
	TotalQueries      uint64    `json:"total_queries"`
	SuccessfulQueries uint64    `json:"successful_queries"`
	FailedQueries     uint64    `json:"failed_queries"`
	MinRTT            float64   `json:"min_rtt"`
	MaxRTT            float64   `json:"max_rtt"`
	OffsetSum         float64   `json:"offset_sum"`
	OffsetSumSq       float64   `json:"offset_sum_sq"`
	LastSuccess       time.Time `json:"last_success"`
	LastFailure       time.Time `json:"last_failure"`
	Availability      float64   `json:"availability"`
	QualityScore      float64   `json:"quality_score"`
}

// serverState is metrics plus the volatile part which is not worth persisting
type serverState struct {
	metrics      ServerMetrics
	rttWindow    *slidingWindow
	offsetWindow *slidingWindow

	// from the most recent probe
	reachable bool
	stratum   uint8
	rtt       float64
	offset    float64
	jitter    float64
	refID     string
	precision int8
	lastError string
}

func newServerState() *serverState {
	return &serverState{
		metrics:      ServerMetrics{MinRTT: math.Inf(1)},
		rttWindow:    newSlidingWindow(rttWindowSize),
		offsetWindow: newSlidingWindow(offsetWindowSize),
	}
}

// Archive persists targets, probes and aggregates. Implemented by
// monitor/history, nil disables persistence.
type Archive interface {
	UpsertTarget(target ServerTarget) error
	DeleteTarget(address string) error
	AppendProbe(result *prober.Result) error
	SaveMetrics(address string, metrics ServerMetrics) error
}

// Config is the monitor config structure
type Config struct {
	ProbeInterval time.Duration // default 30s
	ProbeTimeout  time.Duration // per-target bound, default prober.DefaultTimeout
}

// SetDefaults fills zero fields with defaults
func (c *Config) SetDefaults() {
	if c.ProbeInterval == 0 {
		c.ProbeInterval = DefaultProbeInterval
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = prober.DefaultTimeout
	}
}

// Monitor owns the targets and their metrics, everything behind one mutex
type Monitor struct {
	mu      sync.Mutex
	cfg     Config
	targets map[string]*ServerTarget
	states  map[string]*serverState
	archive Archive

	// optional extra inputs for the combined status snapshot
	Source         *gps.Source
	GPSStats       *gps.Stats
	ResponderStats *responder.Stats
}

// New creates a Monitor. archive may be nil.
func New(cfg Config, archive Archive) *Monitor {
	cfg.SetDefaults()
	return &Monitor{
		cfg:     cfg,
		targets: map[string]*ServerTarget{},
		states:  map[string]*serverState{},
		archive: archive,
	}
}

// AddTarget registers a peer for monitoring. Adding an existing
// (address, port) pair again is idempotent and only updates the display name.
func (m *Monitor) AddTarget(address string, port int, name string) error {
	if address == "" {
		return fmt.Errorf("server address must not be empty")
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port %d is outside of 1-65535", port)
	}
	if name == "" {
		name = address
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.targets[address]
	if ok {
		target.Name = name
		target.Port = port
	} else {
		target = &ServerTarget{Address: address, Port: port, Name: name, Enabled: true}
		m.targets[address] = target
		m.states[address] = newServerState()
	}
	if m.archive != nil {
		if err := m.archive.UpsertTarget(*target); err != nil {
			return fmt.Errorf("failed to persist target %s: %w", address, err)
		}
	}
	log.Infof("[monitor] watching %s (%s:%d)", target.Name, address, port)
	return nil
}

// RemoveTarget drops a peer together with its metrics and history
func (m *Monitor) RemoveTarget(address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.targets[address]; !ok {
		return fmt.Errorf("unknown server %q", address)
	}
	delete(m.targets, address)
	delete(m.states, address)
	if m.archive != nil {
		if err := m.archive.DeleteTarget(address); err != nil {
			return fmt.Errorf("failed to remove history of %s: %w", address, err)
		}
	}
	log.Infof("[monitor] stopped watching %s", address)
	return nil
}

// Targets returns a copy of the registered targets
func (m *Monitor) Targets() []ServerTarget {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ServerTarget, 0, len(m.targets))
	for _, t := range m.targets {
		out = append(out, *t)
	}
	return out
}

// RestoreMetrics seeds a target's lifetime aggregates, typically from the
// archive on startup. The sample windows start empty either way.
func (m *Monitor) RestoreMetrics(address string, metrics ServerMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[address]
	if !ok {
		return
	}
	if metrics.MinRTT == 0 && metrics.SuccessfulQueries == 0 {
		metrics.MinRTT = math.Inf(1)
	}
	state.metrics = metrics
}

// Update folds one probe result into the target's aggregates and recomputes
// availability and the quality score
func (m *Monitor) Update(address string, result *prober.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[address]
	if !ok {
		return
	}
	mm := &state.metrics

	mm.TotalQueries++
	if result.Success {
		mm.SuccessfulQueries++
		mm.LastSuccess = result.Time

		rtt := float64(result.RTT) / float64(time.Millisecond)
		offset := float64(result.Offset) / float64(time.Millisecond)
		mm.MinRTT = math.Min(mm.MinRTT, rtt)
		mm.MaxRTT = math.Max(mm.MaxRTT, rtt)
		mm.OffsetSum += offset
		mm.OffsetSumSq += offset * offset

		if !state.rttWindow.empty() {
			state.jitter = math.Abs(rtt - state.rttWindow.lastSample())
		}
		state.rttWindow.add(rtt)
		state.offsetWindow.add(offset)

		state.reachable = true
		state.stratum = result.Stratum
		state.rtt = rtt
		state.offset = offset
		state.refID = result.RefID
		state.precision = result.Precision
		state.lastError = ""
	} else {
		mm.FailedQueries++
		mm.LastFailure = result.Time
		state.reachable = false
		if result.Err != nil {
			state.lastError = result.Err.Error()
		}
	}

	mm.Availability = float64(mm.SuccessfulQueries) / float64(mm.TotalQueries) * 100
	mm.QualityScore = qualityScore(mm, state.rttWindow, state.offsetWindow)

	if m.archive != nil {
		if err := m.archive.AppendProbe(result); err != nil {
			log.Errorf("[monitor] failed to archive probe of %s: %v", address, err)
		}
		if err := m.archive.SaveMetrics(address, *mm); err != nil {
			log.Errorf("[monitor] failed to archive metrics of %s: %v", address, err)
		}
	}
}

// qualityScore ranks a server 0-100: up to 40 points for availability, up to
// 30 for average RTT over the recent window (full below 10ms, none from
// 100ms), up to 30 for offset stability (full below 1ms stddev, none from
// 10ms). No successful query ever means 0.
func qualityScore(m *ServerMetrics, rttWindow, offsetWindow *slidingWindow) float64 {
	if m.SuccessfulQueries == 0 {
		return 0
	}
	score := math.Min(40, m.Availability*0.4)

	avgRTT := 0.0
	if !rttWindow.empty() {
		avgRTT = rttWindow.mean()
	}
	switch {
	case avgRTT < 10:
		score += 30
	case avgRTT < 100:
		score += 30 * (100 - avgRTT) / 90
	}

	sd := 0.0
	if samples := offsetWindow.allSamples(); len(samples) > 1 {
		sd = stddev(samples)
	}
	switch {
	case sd < 1:
		score += 30
	case sd < 10:
		score += 30 * (10 - sd) / 9
	}
	return score
}
