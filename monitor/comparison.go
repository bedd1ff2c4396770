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

package monitor

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/stratum-one/gpsntp/gps"
)

// ComparisonRow is one server in the ranked comparison. RTT and offset
// values are milliseconds.
type ComparisonRow struct {
	Server            string    `json:"server"`
	Name              string    `json:"name"`
	Port              int       `json:"port"`
	Reachable         bool      `json:"reachable"`
	Stratum           uint8     `json:"stratum"`
	QualityScore      float64   `json:"quality_score"`
	CurrentRTT        float64   `json:"current_rtt"`
	AvgRTT            float64   `json:"avg_rtt"`
	MinRTT            float64   `json:"min_rtt"`
	MaxRTT            float64   `json:"max_rtt"`
	CurrentOffset     float64   `json:"current_offset"`
	AvgOffset         float64   `json:"avg_offset"`
	OffsetStdDev      float64   `json:"offset_std"`
	Jitter            float64   `json:"jitter"`
	Availability      float64   `json:"availability"`
	Precision         int8      `json:"precision"`
	ReferenceID       string    `json:"reference_id"`
	TotalQueries      uint64    `json:"total_queries"`
	SuccessfulQueries uint64    `json:"successful_queries"`
	LastSuccess       time.Time `json:"last_success"`
	LastFailure       time.Time `json:"last_failure"`
	LastError         string    `json:"last_error,omitempty"`
}

// Comparison returns one row per target, best quality first
func (m *Monitor) Comparison() []ComparisonRow {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := make([]ComparisonRow, 0, len(m.targets))
	for address, target := range m.targets {
		state := m.states[address]
		mm := &state.metrics

		avgRTT := 0.0
		if !state.rttWindow.empty() {
			avgRTT = state.rttWindow.mean()
		}
		avgOffset := 0.0
		offsetStd := 0.0
		if mm.SuccessfulQueries > 0 {
			avgOffset = mm.OffsetSum / float64(mm.SuccessfulQueries)
		}
		if mm.SuccessfulQueries > 1 {
			variance := mm.OffsetSumSq/float64(mm.SuccessfulQueries) - avgOffset*avgOffset
			if variance > 0 {
				offsetStd = math.Sqrt(variance)
			}
		}
		minRTT := mm.MinRTT
		if math.IsInf(minRTT, 1) {
			minRTT = 0
		}

		rows = append(rows, ComparisonRow{
			Server:            address,
			Name:              target.Name,
			Port:              target.Port,
			Reachable:         state.reachable,
			Stratum:           state.stratum,
			QualityScore:      mm.QualityScore,
			CurrentRTT:        state.rtt,
			AvgRTT:            avgRTT,
			MinRTT:            minRTT,
			MaxRTT:            mm.MaxRTT,
			CurrentOffset:     state.offset,
			AvgOffset:         avgOffset,
			OffsetStdDev:      offsetStd,
			Jitter:            state.jitter,
			Availability:      mm.Availability,
			Precision:         state.precision,
			ReferenceID:       state.refID,
			TotalQueries:      mm.TotalQueries,
			SuccessfulQueries: mm.SuccessfulQueries,
			LastSuccess:       mm.LastSuccess,
			LastFailure:       mm.LastFailure,
			LastError:         state.lastError,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].QualityScore != rows[j].QualityScore {
			return rows[i].QualityScore > rows[j].QualityScore
		}
		return rows[i].Server < rows[j].Server
	})
	return rows
}

// WriteCSV writes the comparison as CSV, one row per server
func (m *Monitor) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	header := []string{
		"Server", "Name", "Status", "Stratum", "Quality Score",
		"Current RTT (ms)", "Avg RTT (ms)", "Min RTT (ms)", "Max RTT (ms)",
		"Current Offset (ms)", "Avg Offset (ms)", "Offset StdDev (ms)",
		"Availability (%)", "Precision (ms)", "Reference ID",
	}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, row := range m.Comparison() {
		status := "Offline"
		if row.Reachable {
			status = "Online"
		}
		record := []string{
			row.Server,
			row.Name,
			status,
			fmt.Sprintf("%d", row.Stratum),
			fmt.Sprintf("%.1f", row.QualityScore),
			fmt.Sprintf("%.2f", row.CurrentRTT),
			fmt.Sprintf("%.2f", row.AvgRTT),
			fmt.Sprintf("%.2f", row.MinRTT),
			fmt.Sprintf("%.2f", row.MaxRTT),
			fmt.Sprintf("%.2f", row.CurrentOffset),
			fmt.Sprintf("%.2f", row.AvgOffset),
			fmt.Sprintf("%.2f", row.OffsetStdDev),
			fmt.Sprintf("%.1f", row.Availability),
			fmt.Sprintf("%.3f", precisionMillis(row.Precision)),
			row.ReferenceID,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// precisionMillis converts the log2 precision exponent into milliseconds
func precisionMillis(precision int8) float64 {
	return math.Pow(2, float64(precision)) * 1000
}

// Status is the combined snapshot served to the status surface
type Status struct {
	Time              time.Time        `json:"time"`
	GPS               gps.Snapshot     `json:"gps"`
	GPSCounters       map[string]int64 `json:"gps_counters,omitempty"`
	ResponderCounters map[string]int64 `json:"responder_counters,omitempty"`
	Servers           []ComparisonRow  `json:"servers"`
}

// Status combines the GPS snapshot, the responder counters and the server
// comparison into one structure
func (m *Monitor) Status() Status {
	status := Status{
		Time:    time.Now(),
		Servers: m.Comparison(),
	}
	if m.Source != nil {
		status.GPS = m.Source.Snapshot()
	}
	if m.GPSStats != nil {
		status.GPSCounters = m.GPSStats.Counters()
	}
	if m.ResponderStats != nil {
		status.ResponderCounters = m.ResponderStats.Counters()
	}
	return status
}
