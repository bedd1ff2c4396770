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

package nmea

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseRMC(t *testing.T) {
	fix, err := Parse("$GPRMC,235959.000,A,4807.038,N,01131.000,E,0.13,309.62,311299,,,A*60")
	require.NoError(t, err)
	require.Equal(t, KindRMC, fix.Kind)
	require.True(t, fix.Valid)
	require.True(t, fix.HasTime)
	require.Equal(t, time.Date(2099, time.December, 31, 23, 59, 59, 0, time.UTC), fix.Time)
}

func TestParseRMCNoChecksum(t *testing.T) {
	fix, err := Parse("$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")
	require.NoError(t, err)
	require.True(t, fix.Valid)
	require.Equal(t, time.Date(2094, time.March, 23, 12, 35, 19, 0, time.UTC), fix.Time)
}

func TestParseRMCSubsecond(t *testing.T) {
	fix, err := Parse("$GNRMC,101112.500,A,4807.038,N,01131.000,E,0.02,31.66,250826,,,A*4E")
	require.NoError(t, err)
	require.True(t, fix.HasTime)
	require.Equal(t, time.Date(2026, time.August, 25, 10, 11, 12, 500000000, time.UTC), fix.Time)
}

func TestParseRMCVoid(t *testing.T) {
	fix, err := Parse("$GPRMC,120000.000,V,,,,,,,150824,,,N*44")
	require.NoError(t, err)
	require.Equal(t, KindRMC, fix.Kind)
	require.False(t, fix.Valid)
	// time is still decoded, the caller must not apply it
	require.True(t, fix.HasTime)
}

func TestParseGGA(t *testing.T) {
	fix, err := Parse("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47")
	require.NoError(t, err)
	require.Equal(t, KindGGA, fix.Kind)
	require.True(t, fix.Valid)
	require.Equal(t, 1, fix.Quality)
	require.Equal(t, 8, fix.Satellites)
	require.InDelta(t, 0.9, fix.HDOP, 0.0001)
	require.False(t, fix.HasTime)
}

func TestParseGGANoFix(t *testing.T) {
	fix, err := Parse("$GPGGA,101112.000,4807.038,N,01131.000,E,0,03,2.5,545.4,M,46.9,M,,*52")
	require.NoError(t, err)
	require.False(t, fix.Valid)
	require.Equal(t, 0, fix.Quality)
	require.Equal(t, 3, fix.Satellites)
}

func TestParseGGAQualityOutOfRange(t *testing.T) {
	_, err := Parse("$GPGGA,101112.000,4807.038,N,01131.000,E,9,03,2.5,545.4,M,46.9,M,,*5B")
	require.ErrorIs(t, err, ErrMalformed)
}

func TestParseUnsupported(t *testing.T) {
	_, err := Parse("$GPGSV,2,1,08,01,40,083,46,02,17,308,41,12,07,344,39,14,22,228,45*75")
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestParseBadChecksum(t *testing.T) {
	_, err := Parse("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*48")
	require.ErrorIs(t, err, ErrMalformed)
}

func TestParseGarbage(t *testing.T) {
	for _, line := range []string{
		"",
		"$",
		"not nmea at all",
		"$GPRMC",
		"$GPRMC,only,three",
		"$GPRMC,badtime,A,,,,,,,991399,,,A",
	} {
		_, err := Parse(line)
		require.ErrorIs(t, err, ErrMalformed, "line %q", line)
	}
}
