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

package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/stratum-one/gpsntp/gps"
	"github.com/stratum-one/gpsntp/monitor"
	"github.com/stratum-one/gpsntp/monitor/history"
	"github.com/stratum-one/gpsntp/ntp/responder"
)

const shutdownTimeout = 5 * time.Second

func main() {
	c := DefaultConfig()

	var configFlag string
	flag.StringVar(&configFlag, "config", "", "path to the YAML config")
	flag.StringVar(&c.Device, "device", c.Device, "GPS serial device")
	flag.IntVar(&c.Baud, "baud", c.Baud, "GPS serial baud rate")
	flag.IntVar(&c.Port, "port", c.Port, "NTP port to serve on (123 needs privileges, 1123 does not)")
	flag.IntVar(&c.MonitoringPort, "monitoringport", c.MonitoringPort, "port for the status/metrics HTTP server")
	flag.StringVar(&c.DBPath, "db", c.DBPath, "path to the history database")
	flag.DurationVar(&c.ProbeInterval, "probeinterval", c.ProbeInterval, "how often to probe the monitored NTP servers")
	flag.StringVar(&c.LogLevel, "loglevel", c.LogLevel, "Set a log level. Can be: debug, info, warning, error")
	flag.Parse()

	if configFlag != "" {
		fromFile, err := ReadConfig(configFlag)
		if err != nil {
			log.Fatalf("Failed to read config %q: %v", configFlag, err)
		}
		// flags already parsed into c win over the file only when set again
		merged := *fromFile
		flag.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "device":
				merged.Device = c.Device
			case "baud":
				merged.Baud = c.Baud
			case "port":
				merged.Port = c.Port
			case "monitoringport":
				merged.MonitoringPort = c.MonitoringPort
			case "db":
				merged.DBPath = c.DBPath
			case "probeinterval":
				merged.ProbeInterval = c.ProbeInterval
			case "loglevel":
				merged.LogLevel = c.LogLevel
			}
		})
		c = &merged
	}

	switch c.LogLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.Fatalf("Unrecognized log level: %v", c.LogLevel)
	}

	if err := c.Validate(); err != nil {
		log.Fatalf("Bad config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// phase one: storage and shared state
	store, err := history.Open(c.DBPath)
	if err != nil {
		log.Fatalf("Failed to open history store: %v", err)
	}
	defer store.Close()

	source := gps.NewSource(c.StaleThreshold)
	gpsStats := &gps.Stats{}

	mon := monitor.New(monitor.Config{
		ProbeInterval: c.ProbeInterval,
		ProbeTimeout:  c.ProbeTimeout,
	}, store)
	mon.Source = source
	mon.GPSStats = gpsStats

	seedTargets(c, mon, store)

	responderStats := &responder.Stats{}
	server := &responder.Server{
		Config: responder.Config{
			IP:        net.ParseIP(c.IP),
			Port:      c.Port,
			RefID:     c.RefID,
			Stratum:   c.Stratum,
			Precision: c.Precision,
		},
		Source: source,
		Stats:  responderStats,
	}
	server.Config.SetDefaults()
	if err := server.Config.Validate(); err != nil {
		log.Fatalf("Bad responder config: %v", err)
	}
	mon.ResponderStats = responderStats

	// bind before starting anything else so a taken port fails fast
	if err := server.Bind(); err != nil {
		log.Fatalf("%v", err)
	}

	feeder := gps.NewFeeder(gps.FeederConfig{Device: c.Device, Baud: c.Baud}, source, gpsStats)

	go serveMonitoring(ctx, c.MonitoringPort, mon, store)

	// phase two: the four long-running loops
	var wg sync.WaitGroup
	run := func(name string, f func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f(ctx)
			log.Debugf("%s loop finished", name)
		}()
	}
	run("serial", feeder.Run)
	run("responder", server.Serve)
	run("prober", mon.Run)
	run("cleanup", func(ctx context.Context) { store.Run(ctx, c.Retention) })

	<-ctx.Done()
	log.Info("Shutting down")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		log.Error("Shutdown timed out, exiting anyway")
		os.Exit(1)
	}
}

// seedTargets registers monitored servers: whatever the archive knows, plus
// the config, or the default list when both are empty. Lifetime aggregates
// are restored from the archive so availability survives restarts.
func seedTargets(c *Config, mon *monitor.Monitor, store *history.Store) {
	persisted, err := store.LoadTargets()
	if err != nil {
		log.Errorf("Failed to load persisted targets: %v", err)
	}
	for _, t := range persisted {
		if err := mon.AddTarget(t.Address, t.Port, t.Name); err != nil {
			log.Errorf("Failed to restore target %s: %v", t.Address, err)
		}
	}

	peers := c.Servers
	if len(peers) == 0 && len(persisted) == 0 {
		peers = DefaultServers
	}
	for _, peer := range peers {
		if err := mon.AddTarget(peer.Address, peer.Port, peer.Name); err != nil {
			log.Errorf("Failed to add target %s: %v", peer.Address, err)
		}
	}

	metrics, err := store.LoadMetrics()
	if err != nil {
		log.Errorf("Failed to load persisted metrics: %v", err)
		return
	}
	for address, m := range metrics {
		mon.RestoreMetrics(address, m)
	}
}
