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
Package prober implements the NTP client role: send one mode-3 request to a
remote server and measure round trip time and clock offset from the reply.
It never touches the local clock, the measurements feed the monitoring side.
*/
package prober

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	ntp "github.com/stratum-one/gpsntp/ntp/protocol"
)

// DefaultTimeout bounds a single probe end to end
const DefaultTimeout = 5 * time.Second

// Probe failures are wrapped around one of these so callers can classify
// without string matching.
var (
	// ErrNameResolution means the server hostname did not resolve
	ErrNameResolution = errors.New("name resolution failed")
	// ErrTimeout means the server did not answer within the timeout
	ErrTimeout = errors.New("no response before timeout")
	// ErrUnreachable means the network refused delivery (ICMP unreachable)
	ErrUnreachable = errors.New("server unreachable")
	// ErrBadResponse means the reply was not a usable NTP packet
	ErrBadResponse = errors.New("bad response")
)

// Result is one probe measurement. Target and Time are always filled,
// the measurement fields only when Success is true.
type Result struct {
	Target  string    // host:port as probed
	Time    time.Time // when the probe ran
	Success bool
	Err     error // wraps one of the sentinel errors above, nil on success

	RTT       time.Duration
	Offset    time.Duration // positive when the remote clock is ahead
	Stratum   uint8
	Precision int8
	RefID     string
	Version   uint8
}

// Probe sends a single NTP request to address:port and waits for the reply.
// All failures are reported inside the Result, never panicked or escalated.
func Probe(ctx context.Context, address string, port int, timeout time.Duration) *Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	target := net.JoinHostPort(address, strconv.Itoa(port))
	result := &Result{Target: target, Time: time.Now()}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "udp", target)
	if err != nil {
		result.Err = classifyDialError(target, err)
		return result
	}
	defer conn.Close()

	clientTransmitTime := time.Now()
	sec, frac := ntp.Time(clientTransmitTime)
	request := &ntp.Packet{
		Settings:   ntp.ClientRequestSettings,
		TxTimeSec:  sec,
		TxTimeFrac: frac,
	}
	raw, err := request.Bytes()
	if err != nil {
		result.Err = fmt.Errorf("%w: %v", ErrBadResponse, err)
		return result
	}
	if _, err := conn.Write(raw); err != nil {
		result.Err = classifyNetError(target, err)
		return result
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(timeout)
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		result.Err = fmt.Errorf("failed to set deadline on %s: %w", target, err)
		return result
	}

	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	clientReceiveTime := time.Now()
	if err != nil {
		result.Err = classifyNetError(target, err)
		return result
	}

	response, err := ntp.BytesToPacket(buf[:n])
	if err != nil {
		result.Err = fmt.Errorf("%w from %s: %v", ErrBadResponse, target, err)
		return result
	}
	if response.OrigTimeSec != sec || response.OrigTimeFrac != frac {
		log.Debugf("[prober] %s echoed a different originate timestamp", target)
		result.Err = fmt.Errorf("%w from %s: originate timestamp mismatch", ErrBadResponse, target)
		return result
	}

	serverReceiveTime := ntp.Unix(response.RxTimeSec, response.RxTimeFrac)
	serverTransmitTime := ntp.Unix(response.TxTimeSec, response.TxTimeFrac)

	result.Success = true
	result.RTT = time.Duration(ntp.RoundTripDelay(clientTransmitTime, serverReceiveTime, serverTransmitTime, clientReceiveTime))
	result.Offset = time.Duration(ntp.Offset(clientTransmitTime, serverReceiveTime, serverTransmitTime, clientReceiveTime))
	result.Stratum = response.Stratum
	result.Precision = response.Precision
	result.RefID = ntp.RefIDToString(response.ReferenceID, response.Stratum)
	result.Version = response.Version()
	return result
}

func classifyDialError(target string, err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("%w for %s: %v", ErrNameResolution, target, err)
	}
	return classifyNetError(target, err)
}

func classifyNetError(target string, err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w from %s", ErrTimeout, target)
	}
	// a connected UDP socket surfaces ICMP port unreachable as ECONNREFUSED
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, target, err)
	}
	return fmt.Errorf("probe of %s failed: %w", target, err)
}
