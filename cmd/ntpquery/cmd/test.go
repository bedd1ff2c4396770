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

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/eclesh/welford"
	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stratum-one/gpsntp/ntp/prober"
)

var (
	testPort    int
	testCount   int
	testTimeout time.Duration
	testJSON    bool
)

func init() {
	RootCmd.AddCommand(testCmd)
	testCmd.Flags().IntVarP(&testPort, "port", "p", 123, "NTP port")
	testCmd.Flags().IntVarP(&testCount, "count", "c", 5, "number of queries")
	testCmd.Flags().DurationVarP(&testTimeout, "timeout", "t", time.Second, "per-query timeout")
	testCmd.Flags().BoolVarP(&testJSON, "json", "j", false, "JSON output")
}

var testCmd = &cobra.Command{
	Use:   "test <server>",
	Short: "Query one NTP server repeatedly and print summary statistics",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		ConfigureVerbosity()
		if err := runTest(args[0], testPort, testCount, testTimeout, testJSON); err != nil {
			log.Fatal(err)
		}
	},
}

// queryStats summarizes one series of queries against a single server
type queryStats struct {
	Server      string  `json:"server"`
	Port        int     `json:"port"`
	Queries     int     `json:"queries"`
	Successful  int     `json:"successful"`
	SuccessRate float64 `json:"success_rate"`

	MinRTT       float64 `json:"min_rtt"`
	AvgRTT       float64 `json:"avg_rtt"`
	MaxRTT       float64 `json:"max_rtt"`
	RTTStdDev    float64 `json:"rtt_std"`
	MinOffset    float64 `json:"min_offset"`
	AvgOffset    float64 `json:"avg_offset"`
	MaxOffset    float64 `json:"max_offset"`
	OffsetStdDev float64 `json:"offset_std"`

	Stratum     uint8   `json:"stratum"`
	ReferenceID string  `json:"reference_id"`
	PrecisionMs float64 `json:"precision_ms"`
}

func querySeries(server string, port, count int, timeout time.Duration) []*prober.Result {
	results := make([]*prober.Result, 0, count)
	for i := 0; i < count; i++ {
		results = append(results, prober.Probe(context.Background(), server, port, timeout))
		if i < count-1 {
			time.Sleep(500 * time.Millisecond)
		}
	}
	return results
}

func summarize(server string, port int, results []*prober.Result) *queryStats {
	stats := &queryStats{
		Server:    server,
		Port:      port,
		Queries:   len(results),
		MinRTT:    math.Inf(1),
		MaxRTT:    math.Inf(-1),
		MinOffset: math.Inf(1),
		MaxOffset: math.Inf(-1),
	}
	rtts := welford.New()
	offsets := welford.New()
	for _, r := range results {
		if !r.Success {
			continue
		}
		stats.Successful++
		rtt := float64(r.RTT) / float64(time.Millisecond)
		offset := float64(r.Offset) / float64(time.Millisecond)
		rtts.Add(rtt)
		offsets.Add(offset)
		stats.MinRTT = math.Min(stats.MinRTT, rtt)
		stats.MaxRTT = math.Max(stats.MaxRTT, rtt)
		stats.MinOffset = math.Min(stats.MinOffset, offset)
		stats.MaxOffset = math.Max(stats.MaxOffset, offset)
		stats.Stratum = r.Stratum
		stats.ReferenceID = r.RefID
		stats.PrecisionMs = math.Pow(2, float64(r.Precision)) * 1000
	}
	if stats.Queries > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.Queries) * 100
	}
	if stats.Successful == 0 {
		stats.MinRTT, stats.MaxRTT = 0, 0
		stats.MinOffset, stats.MaxOffset = 0, 0
		return stats
	}
	stats.AvgRTT = rtts.Mean()
	stats.AvgOffset = offsets.Mean()
	if stats.Successful > 1 {
		stats.RTTStdDev = rtts.Stddev()
		stats.OffsetStdDev = offsets.Stddev()
	}
	return stats
}

func runTest(server string, port, count int, timeout time.Duration, asJSON bool) error {
	if !asJSON {
		fmt.Printf("Testing %s:%d (%d queries)...\n\n", server, port, count)
	}

	results := querySeries(server, port, count, timeout)
	if !asJSON {
		for i, r := range results {
			if r.Success {
				fmt.Printf("  Query %d: %s RTT=%.2fms, offset=%.2fms, stratum=%d\n",
					i+1, color.GreenString("ok"),
					float64(r.RTT)/float64(time.Millisecond),
					float64(r.Offset)/float64(time.Millisecond),
					r.Stratum)
			} else {
				fmt.Printf("  Query %d: %s %v\n", i+1, color.RedString("failed"), r.Err)
			}
		}
	}

	stats := summarize(server, port, results)
	if asJSON {
		out, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Println()
	if stats.Successful == 0 {
		fmt.Println(color.RedString("All queries failed!"))
		os.Exit(1)
	}
	fmt.Println("Statistics:")
	fmt.Printf("  Success Rate: %d/%d (%.1f%%)\n", stats.Successful, stats.Queries, stats.SuccessRate)
	fmt.Printf("  RTT - Min: %.2fms, Avg: %.2fms, Max: %.2fms\n", stats.MinRTT, stats.AvgRTT, stats.MaxRTT)
	if stats.Successful > 1 {
		fmt.Printf("  RTT StdDev: %.2fms\n", stats.RTTStdDev)
	}
	fmt.Printf("  Offset - Min: %.2fms, Avg: %.2fms, Max: %.2fms\n", stats.MinOffset, stats.AvgOffset, stats.MaxOffset)
	if stats.Successful > 1 {
		fmt.Printf("  Offset StdDev: %.2fms\n", stats.OffsetStdDev)
	}
	fmt.Printf("  Stratum: %d\n", stats.Stratum)
	fmt.Printf("  Reference ID: %s\n", stats.ReferenceID)
	fmt.Printf("  Precision: %.3fms\n", stats.PrecisionMs)
	return nil
}
