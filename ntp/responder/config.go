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
	"fmt"
	"net"
	"time"
)

// DefaultNTPPort is the well-known NTP port. Binding it needs elevated
// privilege; 1123 is the conventional unprivileged fallback.
const DefaultNTPPort = 123

// Config is the responder config structure
type Config struct {
	IP          net.IP        // nil binds all interfaces
	Port        int           // default 123
	RefID       string        // reference identifier, default "GPS"
	Stratum     int           // default 1
	Precision   int           // log2 of clock resolution, default -20
	ReadTimeout time.Duration // socket receive timeout, bounds shutdown latency
}

// SetDefaults fills zero fields with defaults
func (c *Config) SetDefaults() {
	if c.Port == 0 {
		c.Port = DefaultNTPPort
	}
	if c.RefID == "" {
		c.RefID = "GPS"
	}
	if c.Stratum == 0 {
		c.Stratum = 1
	}
	if c.Precision == 0 {
		c.Precision = -20
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = time.Second
	}
}

// Validate checks if config is valid
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d is outside of 1-65535", c.Port)
	}
	if len(c.RefID) > 4 {
		return fmt.Errorf("refid %q is longer than 4 characters", c.RefID)
	}
	if c.Stratum < 1 || c.Stratum > 15 {
		return fmt.Errorf("stratum %d is outside of 1-15", c.Stratum)
	}
	if c.Precision > 0 || c.Precision < -32 {
		return fmt.Errorf("precision %d is outside of -32-0", c.Precision)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	return nil
}
