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
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/stratum-one/gpsntp/gps"
	"github.com/stratum-one/gpsntp/monitor"
	"github.com/stratum-one/gpsntp/monitor/history"
	"github.com/stratum-one/gpsntp/ntp/responder"
)

// Peer is one remote NTP server to monitor
type Peer struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	Name    string `yaml:"name"`
}

// Config is the daemon config, read from YAML with CLI overrides
type Config struct {
	Device         string        `yaml:"device"`
	Baud           int           `yaml:"baud"`
	StaleThreshold time.Duration `yaml:"stalethreshold"`

	IP        string `yaml:"ip"`
	Port      int    `yaml:"port"`
	RefID     string `yaml:"refid"`
	Stratum   int    `yaml:"stratum"`
	Precision int    `yaml:"precision"`

	Servers       []Peer        `yaml:"servers"`
	ProbeInterval time.Duration `yaml:"probeinterval"`
	ProbeTimeout  time.Duration `yaml:"probetimeout"`

	DBPath    string        `yaml:"dbpath"`
	Retention time.Duration `yaml:"retention"`

	MonitoringPort int    `yaml:"monitoringport"`
	LogLevel       string `yaml:"loglevel"`
}

// DefaultServers is the peer list used when neither config nor archive
// name any
var DefaultServers = []Peer{
	{Address: "time.nist.gov", Port: 123, Name: "NIST (US Gov)"},
	{Address: "time.google.com", Port: 123, Name: "Google"},
	{Address: "time.cloudflare.com", Port: 123, Name: "Cloudflare"},
	{Address: "time.windows.com", Port: 123, Name: "Microsoft"},
	{Address: "time.apple.com", Port: 123, Name: "Apple"},
	{Address: "pool.ntp.org", Port: 123, Name: "NTP Pool"},
	{Address: "time.facebook.com", Port: 123, Name: "Facebook"},
	{Address: "time.aws.com", Port: 123, Name: "AWS"},
}

// DefaultConfig returns the config with all defaults applied
func DefaultConfig() *Config {
	return &Config{
		Device:         "/dev/ttyUSB0",
		Baud:           9600,
		StaleThreshold: gps.DefaultStaleThreshold,
		Port:           responder.DefaultNTPPort,
		RefID:          "GPS",
		Stratum:        1,
		Precision:      -20,
		ProbeInterval:  monitor.DefaultProbeInterval,
		ProbeTimeout:   0, // prober default
		DBPath:         "/var/lib/gpsntp/history.db",
		Retention:      history.DefaultRetention,
		MonitoringPort: 8887,
		LogLevel:       "info",
	}
}

// ReadConfig loads the YAML config on top of the defaults
func ReadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	cData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	err = yaml.Unmarshal(cData, c)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// Validate rejects configs the daemon can't run with
func (c *Config) Validate() error {
	if c.Device == "" {
		return fmt.Errorf("serial device must be set")
	}
	if c.Baud <= 0 {
		return fmt.Errorf("baud rate must be positive")
	}
	if c.StaleThreshold <= 0 {
		return fmt.Errorf("stale threshold must be positive")
	}
	if c.Retention <= 0 {
		return fmt.Errorf("retention must be positive")
	}
	for _, peer := range c.Servers {
		if peer.Address == "" {
			return fmt.Errorf("server address must not be empty")
		}
		if peer.Port < 1 || peer.Port > 65535 {
			return fmt.Errorf("server %s port %d is outside of 1-65535", peer.Address, peer.Port)
		}
	}
	return nil
}
