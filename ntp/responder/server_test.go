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

package responder

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stratum-one/gpsntp/gps"
	"github.com/stratum-one/gpsntp/nmea"
	"github.com/stratum-one/gpsntp/ntp/prober"
	ntp "github.com/stratum-one/gpsntp/ntp/protocol"
)

func startTestServer(t *testing.T, source *gps.Source) *Server {
	t.Helper()
	s := &Server{
		Config: Config{
			IP:          net.ParseIP("127.0.0.1"),
			RefID:       "GPS",
			Stratum:     1,
			Precision:   -20,
			ReadTimeout: 100 * time.Millisecond,
		},
		Source: source,
		Stats:  &Stats{},
	}
	require.NoError(t, s.Bind())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

func freshSource(t *testing.T) *gps.Source {
	t.Helper()
	source := gps.NewSource(0)
	fix := &nmea.Fix{Kind: nmea.KindRMC, Time: time.Now().UTC(), HasTime: true, Valid: true}
	require.True(t, source.UpdateFromFix(fix))
	return source
}

func testClient(t *testing.T, s *Server) *net.UDPConn {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, s.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendRequest(t *testing.T, conn *net.UDPConn, request *ntp.Packet) {
	t.Helper()
	raw, err := request.Bytes()
	require.NoError(t, err)
	_, err = conn.Write(raw)
	require.NoError(t, err)
}

func TestServerRespondsWhileFresh(t *testing.T) {
	s := startTestServer(t, freshSource(t))
	conn := testClient(t, s)

	sec, frac := ntp.Time(time.Now())
	request := &ntp.Packet{Settings: ntp.ClientRequestSettings, Poll: 6, TxTimeSec: sec, TxTimeFrac: frac}
	sendRequest(t, conn, request)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	response, _, err := ntp.ReadPacket(conn)
	require.NoError(t, err)

	require.Equal(t, uint8(ntp.ModeServer), response.Mode())
	require.Equal(t, uint8(4), response.Version(), "version must mirror the client")
	require.Equal(t, uint8(1), response.Stratum)
	require.Equal(t, int8(-20), response.Precision)
	require.Equal(t, request.Poll, response.Poll)
	require.Equal(t, uint32(0), response.RootDelay)
	require.Equal(t, uint32(0), response.RootDispersion)
	require.Equal(t, "GPS", ntp.RefIDToString(response.ReferenceID, response.Stratum))

	// originate must be a byte-identical echo of the client transmit time
	require.Equal(t, request.TxTimeSec, response.OrigTimeSec)
	require.Equal(t, request.TxTimeFrac, response.OrigTimeFrac)

	// receive happens before (or with) transmit
	rx := ntp.Unix(response.RxTimeSec, response.RxTimeFrac)
	tx := ntp.Unix(response.TxTimeSec, response.TxTimeFrac)
	require.False(t, tx.Before(rx))

	require.Eventually(t, func() bool {
		return s.Stats.Counters()["responses"] == 1
	}, time.Second, 10*time.Millisecond)
}

func TestServerSilentWhenStale(t *testing.T) {
	// a source which never saw a fix is indistinguishable from a stale one
	s := startTestServer(t, gps.NewSource(0))
	conn := testClient(t, s)

	sec, frac := ntp.Time(time.Now())
	sendRequest(t, conn, &ntp.Packet{Settings: ntp.ClientRequestSettings, TxTimeSec: sec, TxTimeFrac: frac})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := ntp.ReadPacket(conn)
	require.ErrorIs(t, err, os.ErrDeadlineExceeded, "stale source must produce no reply at all")

	require.Eventually(t, func() bool {
		c := s.Stats.Counters()
		return c["dropped.stale"] == 1 && c["responses"] == 0
	}, time.Second, 10*time.Millisecond)
}

func TestServerDropsMalformed(t *testing.T) {
	s := startTestServer(t, freshSource(t))
	conn := testClient(t, s)

	// too short to be an NTP packet
	_, err := conn.Write([]byte("definitely not ntp"))
	require.NoError(t, err)

	// right length, wrong mode (server-to-server is not a client request)
	sendRequest(t, conn, &ntp.Packet{Settings: 0x24})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err = ntp.ReadPacket(conn)
	require.ErrorIs(t, err, os.ErrDeadlineExceeded)

	require.Eventually(t, func() bool {
		c := s.Stats.Counters()
		return c["dropped.format"] == 2 && c["responses"] == 0
	}, time.Second, 10*time.Millisecond)
}

func TestProberEndToEnd(t *testing.T) {
	s := startTestServer(t, freshSource(t))
	addr := s.LocalAddr().(*net.UDPAddr)

	result := prober.Probe(context.Background(), "127.0.0.1", addr.Port, time.Second)
	require.NoError(t, result.Err)
	require.True(t, result.Success)
	require.Equal(t, uint8(1), result.Stratum)
	require.Equal(t, "GPS", result.RefID)
	require.GreaterOrEqual(t, result.RTT, time.Duration(0))
	// both clocks are the host clock, the offset stays tiny
	require.Less(t, result.Offset.Abs(), time.Second)
}

func TestConfigSetDefaults(t *testing.T) {
	c := &Config{}
	c.SetDefaults()
	require.Equal(t, DefaultNTPPort, c.Port)
	require.Equal(t, "GPS", c.RefID)
	require.Equal(t, 1, c.Stratum)
	require.Equal(t, -20, c.Precision)
	require.Equal(t, time.Second, c.ReadTimeout)
	require.NoError(t, c.Validate())
}

func TestConfigValidate(t *testing.T) {
	base := Config{}
	base.SetDefaults()

	bad := base
	bad.Port = 65536
	require.Error(t, bad.Validate())

	bad = base
	bad.RefID = "TOOLONG"
	require.Error(t, bad.Validate())

	bad = base
	bad.Stratum = 16
	require.Error(t, bad.Validate())

	bad = base
	bad.Precision = 1
	require.Error(t, bad.Validate())
}
