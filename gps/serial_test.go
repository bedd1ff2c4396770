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

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func newTestFeeder() (*Feeder, *Source, *Stats) {
	source, _ := newTestSource(0)
	stats := &Stats{}
	f := NewFeeder(FeederConfig{Device: "/dev/null"}, source, stats)
	return f, source, stats
}

func TestFeederProcessValidSentences(t *testing.T) {
	f, source, stats := newTestFeeder()

	f.process("$GNRMC,101112.500,A,4807.038,N,01131.000,E,0.02,31.66,250826,,,A*4E")
	f.process("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47")

	require.True(t, source.IsFresh())
	snap := source.Snapshot()
	require.Equal(t, 1, snap.Quality)
	require.Equal(t, 8, snap.Satellites)

	c := stats.Counters()
	require.Equal(t, int64(2), c["sentences"])
	require.Equal(t, int64(1), c["rmc.total"])
	require.Equal(t, int64(1), c["rmc.valid"])
	require.Equal(t, int64(1), c["gga.total"])
	require.Equal(t, int64(1), c["gga.valid"])
	require.Equal(t, int64(0), c["parseerrors"])
}

func TestFeederProcessVoidRMC(t *testing.T) {
	f, source, stats := newTestFeeder()

	f.process("$GPRMC,120000.000,V,,,,,,,150824,,,N*44")

	require.False(t, source.IsFresh())
	c := stats.Counters()
	require.Equal(t, int64(1), c["rmc.total"])
	require.Equal(t, int64(0), c["rmc.valid"])
}

func TestFeederProcessMalformed(t *testing.T) {
	f, source, stats := newTestFeeder()

	f.process("$GPRMC,garbage")
	f.process("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*00")

	require.False(t, source.IsFresh())
	require.Equal(t, int64(2), stats.Counters()["parseerrors"])
}

func TestFeederProcessUnsupported(t *testing.T) {
	f, _, stats := newTestFeeder()

	f.process("$GPGSV,2,1,08,01,40,083,46,02,17,308,41,12,07,344,39,14,22,228,45*75")

	c := stats.Counters()
	require.Equal(t, int64(1), c["unsupported"])
	require.Equal(t, int64(0), c["parseerrors"])
}

func TestFeederProcessIgnoresNoise(t *testing.T) {
	f, _, stats := newTestFeeder()

	f.process("")
	f.process("binary noise before first $ sentence")
	f.process("$PMTK001,314,3*36")

	require.Equal(t, int64(0), stats.Counters()["sentences"])
}

func TestFeederProcessRollback(t *testing.T) {
	f, source, stats := newTestFeeder()

	f.process("$GNRMC,101112.500,A,4807.038,N,01131.000,E,0.02,31.66,250826,,,A*4E")
	// same timestamp again: must be refused, not applied twice
	f.process("$GNRMC,101112.500,A,4807.038,N,01131.000,E,0.02,31.66,250826,,,A*4E")

	require.True(t, source.IsFresh())
	c := stats.Counters()
	require.Equal(t, int64(2), c["rmc.valid"])
	require.Equal(t, int64(1), c["rollbacks"])
}

// silentPort behaves like a connected receiver that never sends anything:
// every read times out and returns 0 bytes.
type silentPort struct{}

func (silentPort) SetMode(*serial.Mode) error         { return nil }
func (silentPort) Write(p []byte) (int, error)        { return len(p), nil }
func (silentPort) ResetInputBuffer() error            { return nil }
func (silentPort) ResetOutputBuffer() error           { return nil }
func (silentPort) SetDTR(bool) error                  { return nil }
func (silentPort) SetRTS(bool) error                  { return nil }
func (silentPort) SetReadTimeout(time.Duration) error { return nil }
func (silentPort) Close() error                       { return nil }
func (silentPort) Break(time.Duration) error          { return nil }
func (silentPort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}
func (silentPort) Read(p []byte) (int, error) {
	time.Sleep(5 * time.Millisecond)
	return 0, nil
}

func TestReadLineDeadlineOnSilentPort(t *testing.T) {
	f, _, _ := newTestFeeder()
	f.port = silentPort{}

	start := time.Now()
	_, err := f.readLine(context.Background(), start.Add(50*time.Millisecond))
	require.ErrorIs(t, err, os.ErrDeadlineExceeded)
	require.Less(t, time.Since(start), time.Second)
}

func TestConfigureReturnsOnSilentPort(t *testing.T) {
	f, _, _ := newTestFeeder()
	f.port = silentPort{}

	start := time.Now()
	f.configure(context.Background())
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestPMTKCommandChecksums(t *testing.T) {
	require.Equal(t, "$PMTK220,1000*1F\r\n", pmtkSetNMEAUpdate1Hz)
	require.Equal(t, "$PMTK314,0,1,0,1,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0*28\r\n", pmtkSetNMEAOutputRMCGGA)
	require.Equal(t, "$PMTK605*31\r\n", pmtkQueryRelease)

	for _, cmd := range []string{pmtkSetNMEAUpdate1Hz, pmtkSetNMEAOutputRMCGGA, pmtkQueryRelease} {
		payload := strings.TrimSuffix(strings.TrimPrefix(cmd, "$"), "\r\n")
		body, sum, found := strings.Cut(payload, "*")
		require.True(t, found, cmd)
		var x byte
		for i := 0; i < len(body); i++ {
			x ^= body[i]
		}
		require.Equal(t, sum, fmt.Sprintf("%02X", x), cmd)
	}
}
