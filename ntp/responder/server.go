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
Package responder implements the UDP server answering NTP client requests
with GPS-derived time. A request is only answered while the time source is
fresh; an unready or stale source produces no reply at all, which is what
real NTP servers do when they lose their reference.
*/
package responder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/stratum-one/gpsntp/gps"
	ntp "github.com/stratum-one/gpsntp/ntp/protocol"
)

// Server is the UDP responder. Construct it, then call Start; Start returns
// only when ctx is cancelled or the socket can't be bound.
type Server struct {
	Config Config
	Source *gps.Source
	Stats  *Stats

	conn *net.UDPConn
}

// Start binds the socket and runs the serve loop. Bind failures are fatal to
// the responder (permission on the low port, address in use) and returned
// immediately, they are never retried.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Bind(); err != nil {
		return err
	}
	s.Serve(ctx)
	return nil
}

// Bind acquires the UDP socket
func (s *Server) Bind() error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: s.Config.IP, Port: s.Config.Port})
	if err != nil {
		return bindError(s.Config.Port, err)
	}
	s.conn = conn
	log.Infof("[responder] listening on %s", conn.LocalAddr())
	return nil
}

// Serve runs the receive loop until ctx is cancelled, then closes the socket
func (s *Server) Serve(ctx context.Context) {
	conn := s.conn
	defer conn.Close()
	s.serve(ctx, conn)
}

// LocalAddr returns the bound address, nil before Start
func (s *Server) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

func (s *Server) serve(ctx context.Context, conn *net.UDPConn) {
	buf := make([]byte, 1024)
	request := &ntp.Packet{}
	response := &ntp.Packet{}
	s.fillStaticHeaders(response)

	for ctx.Err() == nil {
		if err := conn.SetReadDeadline(time.Now().Add(s.Config.ReadTimeout)); err != nil {
			log.Errorf("[responder] failed to set read deadline: %v", err)
			return
		}
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Errorf("[responder] read error: %v", err)
			s.Stats.IncReadErrors()
			continue
		}
		s.Stats.IncRequests()

		// freshness is checked atomically with the time value itself
		received, ok := s.Source.Current()
		if !ok {
			log.Debugf("[responder] no valid GPS time for %s, dropping request", addr)
			s.Stats.IncDroppedStale()
			continue
		}

		if err := decodeRequest(buf[:n], request); err != nil {
			log.Debugf("[responder] invalid request from %s: %v", addr, err)
			s.Stats.IncDroppedFormat()
			continue
		}

		transmit, ok := s.Source.Current()
		if !ok {
			s.Stats.IncDroppedStale()
			continue
		}
		refTime := s.Source.Snapshot().TimeOfFix
		generateResponse(refTime, received, transmit, request, response)

		responseBytes, err := response.Bytes()
		if err != nil {
			log.Errorf("[responder] failed to serialize response %v: %v", response, err)
			continue
		}
		if _, err := conn.WriteToUDP(responseBytes, addr); err != nil {
			log.Debugf("[responder] failed to respond to %s: %v", addr, err)
			continue
		}
		s.Stats.IncResponses()
	}
}

// decodeRequest parses and sanity checks an inbound client request
func decodeRequest(raw []byte, request *ntp.Packet) error {
	packet, err := ntp.BytesToPacket(raw)
	if err != nil {
		return err
	}
	if !packet.ValidSettingsFormat() {
		return fmt.Errorf("unexpected LI/VN/mode 0x%02x", packet.Settings)
	}
	*request = *packet
	return nil
}

// fillStaticHeaders pre-sets all the header fields which never change between
// responses: we are a stratum-1 server with a GPS reference and nothing
// upstream to report delay or dispersion for.
func (s *Server) fillStaticHeaders(response *ntp.Packet) {
	response.Stratum = uint8(s.Config.Stratum)
	response.Precision = int8(s.Config.Precision)
	response.RootDelay = 0
	response.RootDispersion = 0
	response.ReferenceID = ntp.MakeRefID(s.Config.RefID)
}

// generateResponse fills the per-request fields of the response packet
func generateResponse(refTime, received, transmit time.Time, request, response *ntp.Packet) {
	// mirror the client's version, mode becomes server
	var vn = request.Settings & 0x38
	response.Settings = vn + ntp.ModeServer

	response.Poll = request.Poll

	// Reference Timestamp: when the clock was last set, i.e. the last fix
	response.RefTimeSec, response.RefTimeFrac = ntp.Time(refTime)

	// Originate Timestamp: byte-identical copy of the client transmit time
	response.OrigTimeSec = request.TxTimeSec
	response.OrigTimeFrac = request.TxTimeFrac

	// Receive Timestamp: when the request arrived, on the GPS clock
	response.RxTimeSec, response.RxTimeFrac = ntp.Time(received)

	// Transmit Timestamp: when the reply leaves, on the GPS clock
	response.TxTimeSec, response.TxTimeFrac = ntp.Time(transmit)
}

// bindError decorates socket bind failures with the likely operator mistake
func bindError(port int, err error) error {
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("binding port %d requires elevated privilege (try the unprivileged fallback port 1123): %w", port, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("failed to bind port %d (already in use by another NTP daemon?): %w", port, err)
	}
	return fmt.Errorf("failed to bind port %d: %w", port, err)
}
