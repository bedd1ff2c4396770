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
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/stratum-one/gpsntp/nmea"
)

// Vendor (MTK) configuration commands for the receiver. Opaque pre-computed
// byte strings, sent once per connection.
const (
	pmtkSetNMEAUpdate1Hz    = "$PMTK220,1000*1F\r\n"
	pmtkSetNMEAOutputRMCGGA = "$PMTK314,0,1,0,1,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0*28\r\n"
	pmtkQueryRelease        = "$PMTK605*31\r\n"
)

// FeederConfig controls the serial ingestion loop
type FeederConfig struct {
	Device        string
	Baud          int
	ReadTimeout   time.Duration // poll interval for shutdown, default 1s
	MaxRetries    int           // connection attempts before backing off, default 3
	RetryCooldown time.Duration // sleep between attempts, default 5s
	RetryBackoff  time.Duration // longer sleep after attempts are exhausted, default 30s
}

func (c *FeederConfig) setDefaults() {
	if c.Baud == 0 {
		c.Baud = 9600
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryCooldown == 0 {
		c.RetryCooldown = 5 * time.Second
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 30 * time.Second
	}
}

// Feeder owns the serial link: it opens and configures the receiver, parses
// every incoming line and folds the result into the Source. Link failures are
// retried with a cool-down; the loop never terminates the process on its own,
// a dead link just means the source goes stale.
type Feeder struct {
	cfg    FeederConfig
	source *Source
	stats  *Stats

	port  serial.Port
	buf   []byte
	chunk []byte

	firmware string
}

// NewFeeder creates a Feeder filling in config defaults
func NewFeeder(cfg FeederConfig, source *Source, stats *Stats) *Feeder {
	cfg.setDefaults()
	return &Feeder{
		cfg:    cfg,
		source: source,
		stats:  stats,
		chunk:  make([]byte, 256),
	}
}

// Run is the ingestion loop. It returns only when ctx is cancelled.
func (f *Feeder) Run(ctx context.Context) {
	defer f.closePort()

	retries := 0
	for ctx.Err() == nil {
		if f.port == nil {
			if err := f.connect(ctx); err != nil {
				f.stats.IncLinkErrors()
				retries++
				if retries >= f.cfg.MaxRetries {
					log.Errorf("[gps] opening %s failed %d times (%v), backing off for %s", f.cfg.Device, retries, err, f.cfg.RetryBackoff)
					retries = 0
					sleep(ctx, f.cfg.RetryBackoff)
				} else {
					log.Warningf("[gps] failed to open %s: %v, retrying in %s", f.cfg.Device, err, f.cfg.RetryCooldown)
					sleep(ctx, f.cfg.RetryCooldown)
				}
				continue
			}
			retries = 0
		}

		line, err := f.readLine(ctx, time.Time{})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Errorf("[gps] read error on %s: %v", f.cfg.Device, err)
			f.stats.IncLinkErrors()
			f.closePort()
			sleep(ctx, f.cfg.RetryCooldown)
			continue
		}
		f.process(line)
	}
}

// Firmware returns the receiver firmware version if the receiver reported one
func (f *Feeder) Firmware() string {
	return f.firmware
}

func (f *Feeder) connect(ctx context.Context) error {
	mode := &serial.Mode{
		BaudRate: f.cfg.Baud,
	}
	port, err := serial.Open(f.cfg.Device, mode)
	if err != nil {
		return err
	}
	if err := port.SetReadTimeout(f.cfg.ReadTimeout); err != nil {
		port.Close()
		return err
	}
	f.port = port
	f.buf = f.buf[:0]
	f.stats.IncReconnects()
	log.Infof("[gps] opened %s at %d baud", f.cfg.Device, f.cfg.Baud)
	f.configure(ctx)
	return nil
}

// configure pushes the receiver setup commands: 1Hz updates and RMC+GGA only.
// Failures are logged and ignored, most receivers stream usable sentences
// with factory settings anyway.
func (f *Feeder) configure(ctx context.Context) {
	f.port.ResetInputBuffer()
	f.port.ResetOutputBuffer()

	for _, cmd := range []string{pmtkQueryRelease, pmtkSetNMEAUpdate1Hz, pmtkSetNMEAOutputRMCGGA} {
		if _, err := f.port.Write([]byte(cmd)); err != nil {
			log.Warningf("[gps] failed to write receiver config: %v", err)
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	// collect acknowledgements for a couple of seconds
	deadline := time.Now().Add(2 * time.Second)
	for ctx.Err() == nil {
		line, err := f.readLine(ctx, deadline)
		if err != nil {
			return
		}
		if !strings.HasPrefix(line, "$PMTK") {
			continue
		}
		log.Infof("[gps] receiver response: %s", line)
		if strings.HasPrefix(line, "$PMTK705") {
			parts := strings.Split(line, ",")
			if len(parts) > 1 {
				f.firmware = strings.SplitN(parts[1], "*", 2)[0]
				log.Infof("[gps] receiver firmware: %s", f.firmware)
			}
		}
	}
}

// readLine returns the next complete line from the port. The serial read
// timeout bounds every blocking call so ctx cancellation, and the optional
// deadline, are observed within one interval; a timed-out read returns
// 0 bytes and we go around again.
func (f *Feeder) readLine(ctx context.Context, deadline time.Time) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return "", os.ErrDeadlineExceeded
		}
		if i := bytes.IndexByte(f.buf, '\n'); i >= 0 {
			line := strings.TrimRight(string(f.buf[:i]), "\r")
			f.buf = f.buf[i+1:]
			return line, nil
		}
		n, err := f.port.Read(f.chunk)
		if err != nil {
			return "", err
		}
		if n == 0 {
			continue
		}
		f.buf = append(f.buf, f.chunk[:n]...)
	}
}

func (f *Feeder) process(line string) {
	if line == "" {
		return
	}
	if strings.HasPrefix(line, "$PMTK") {
		log.Debugf("[gps] receiver response: %s", line)
		return
	}
	if !strings.HasPrefix(line, "$") {
		return
	}
	f.stats.IncSentences()

	fix, err := nmea.Parse(line)
	if err != nil {
		if strings.HasPrefix(line, "$G") {
			log.Debugf("[gps] %v", err)
		}
		if errors.Is(err, nmea.ErrUnsupported) {
			f.stats.IncUnsupported()
		} else {
			f.stats.IncParseErrors()
		}
		return
	}

	switch fix.Kind {
	case nmea.KindRMC:
		f.stats.IncRMCTotal()
		if !fix.Valid {
			log.Debugf("[gps] waiting for fix (RMC status void)")
			break
		}
		f.stats.IncRMCValid()
		if fix.HasTime && !f.source.UpdateFromFix(fix) {
			f.stats.IncRollbacks()
			log.Warningf("[gps] dropped RMC time %s: older than accepted time", fix.Time)
		}
	case nmea.KindGGA:
		f.stats.IncGGATotal()
		if fix.Valid {
			f.stats.IncGGAValid()
		}
		f.source.UpdateFromFix(fix)
	}
}

func (f *Feeder) closePort() {
	if f.port != nil {
		f.port.Close()
		f.port = nil
	}
}

// sleep waits for d or until ctx is cancelled, whichever comes first
func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
