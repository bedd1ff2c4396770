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
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderCompareTable(t *testing.T) {
	var buf bytes.Buffer
	renderCompareTable(&buf, []*queryStats{
		{
			Server:      "good.example",
			Queries:     3,
			Successful:  3,
			MinRTT:      10.0,
			AvgRTT:      12.34,
			MaxRTT:      15.5,
			AvgOffset:   -0.5,
			Stratum:     1,
			ReferenceID: "GPS",
		},
		{Server: "dead.example", Queries: 3},
	})

	out := buf.String()
	require.Contains(t, out, "SERVER")
	require.Contains(t, out, "AVG RTT(MS)")
	require.Contains(t, out, "good.example")
	require.Contains(t, out, "3/3")
	require.Contains(t, out, "12.34")
	require.Contains(t, out, "GPS")
	// unreachable servers render with dashes instead of numbers
	require.Contains(t, out, "dead.example")
	require.Contains(t, out, "0/3")
}
