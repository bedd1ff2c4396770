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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stratum-one/gpsntp/ntp/prober"
)

func TestSummarize(t *testing.T) {
	results := []*prober.Result{
		{Success: true, RTT: 10 * time.Millisecond, Offset: 2 * time.Millisecond, Stratum: 1, RefID: "GPS", Precision: -20},
		{Success: true, RTT: 20 * time.Millisecond, Offset: -2 * time.Millisecond, Stratum: 1, RefID: "GPS", Precision: -20},
		{Success: false, Err: errors.New("no response before timeout")},
	}

	stats := summarize("peer", 123, results)
	require.Equal(t, 3, stats.Queries)
	require.Equal(t, 2, stats.Successful)
	require.InDelta(t, 100.0*2/3, stats.SuccessRate, 0.0001)
	require.InDelta(t, 10.0, stats.MinRTT, 0.0001)
	require.InDelta(t, 15.0, stats.AvgRTT, 0.0001)
	require.InDelta(t, 20.0, stats.MaxRTT, 0.0001)
	require.InDelta(t, 0.0, stats.AvgOffset, 0.0001)
	require.InDelta(t, -2.0, stats.MinOffset, 0.0001)
	require.Equal(t, uint8(1), stats.Stratum)
	require.Equal(t, "GPS", stats.ReferenceID)
	require.InDelta(t, 1000*1.0/(1<<20), stats.PrecisionMs, 0.0001)
}

func TestSummarizeAllFailed(t *testing.T) {
	results := []*prober.Result{
		{Success: false, Err: errors.New("unreachable")},
		{Success: false, Err: errors.New("unreachable")},
	}

	stats := summarize("peer", 123, results)
	require.Equal(t, 0, stats.Successful)
	require.InDelta(t, 0.0, stats.SuccessRate, 0.0001)
	require.InDelta(t, 0.0, stats.MinRTT, 0.0001)
	require.InDelta(t, 0.0, stats.MaxRTT, 0.0001)
}
