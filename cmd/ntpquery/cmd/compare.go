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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// wellKnownServers is used when compare is invoked without arguments
var wellKnownServers = []string{
	"time.nist.gov",
	"time.google.com",
	"time.cloudflare.com",
	"time.windows.com",
	"time.apple.com",
	"pool.ntp.org",
	"time.facebook.com",
	"time.aws.com",
}

var (
	compareCount   int
	compareTimeout time.Duration
	compareJSON    bool
)

func init() {
	RootCmd.AddCommand(compareCmd)
	compareCmd.Flags().IntVarP(&compareCount, "count", "c", 5, "queries per server")
	compareCmd.Flags().DurationVarP(&compareTimeout, "timeout", "t", time.Second, "per-query timeout")
	compareCmd.Flags().BoolVarP(&compareJSON, "json", "j", false, "JSON output")
}

var compareCmd = &cobra.Command{
	Use:   "compare [server]...",
	Short: "Query several NTP servers and rank them by latency",
	Run: func(_ *cobra.Command, args []string) {
		ConfigureVerbosity()
		servers := args
		if len(servers) == 0 {
			servers = wellKnownServers
		}
		if err := runCompare(servers, compareCount, compareTimeout, compareJSON); err != nil {
			log.Fatal(err)
		}
	},
}

func runCompare(servers []string, count int, timeout time.Duration, asJSON bool) error {
	if !asJSON {
		fmt.Printf("Comparing %d NTP servers (%d queries each)\n\n", len(servers), count)
	}

	all := make([]*queryStats, 0, len(servers))
	for _, server := range servers {
		if !asJSON {
			fmt.Printf("Testing %s...\n", server)
		}
		results := querySeries(server, 123, count, timeout)
		all = append(all, summarize(server, 123, results))
	}

	// reachable servers first, fastest on top
	sort.Slice(all, func(i, j int) bool {
		if (all[i].Successful > 0) != (all[j].Successful > 0) {
			return all[i].Successful > 0
		}
		return all[i].AvgRTT < all[j].AvgRTT
	})

	if asJSON {
		out, err := json.MarshalIndent(all, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Println()
	renderCompareTable(os.Stdout, all)

	if len(all) > 0 && all[0].Successful > 0 {
		fmt.Println()
		fmt.Printf("Best server (lowest latency): %s\n", color.GreenString(all[0].Server))
		fmt.Printf("  Average RTT: %.2fms\n", all[0].AvgRTT)
	}
	return nil
}

func renderCompareTable(w io.Writer, all []*queryStats) {
	table := tablewriter.NewTable(w, tablewriter.WithColumnMax(20))
	table.Header("server", "success", "avg rtt(ms)", "min rtt(ms)", "max rtt(ms)", "avg offset(ms)", "stratum", "refid")
	for _, s := range all {
		success := fmt.Sprintf("%d/%d", s.Successful, s.Queries)
		if s.Successful == 0 {
			table.Append([]string{s.Server, color.RedString(success), "-", "-", "-", "-", "-", "-"})
			continue
		}
		table.Append([]string{
			s.Server,
			success,
			fmt.Sprintf("%.2f", s.AvgRTT),
			fmt.Sprintf("%.2f", s.MinRTT),
			fmt.Sprintf("%.2f", s.MaxRTT),
			fmt.Sprintf("%.2f", s.AvgOffset),
			fmt.Sprintf("%d", s.Stratum),
			s.ReferenceID,
		})
	}
	table.Render()
}
