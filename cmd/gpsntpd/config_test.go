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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Validate())
	require.Equal(t, "/dev/ttyUSB0", c.Device)
	require.Equal(t, 9600, c.Baud)
	require.Equal(t, 123, c.Port)
	require.Equal(t, 10*time.Second, c.StaleThreshold)
	require.Equal(t, 30*time.Second, c.ProbeInterval)
	require.Equal(t, 7*24*time.Hour, c.Retention)
}

func TestReadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpsntpd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
device: /dev/ttyACM0
port: 1123
probeinterval: 10s
servers:
  - address: time.example.com
    port: 123
    name: Example
`), 0o644))

	c, err := ReadConfig(path)
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	require.Equal(t, "/dev/ttyACM0", c.Device)
	require.Equal(t, 1123, c.Port)
	require.Equal(t, 10*time.Second, c.ProbeInterval)
	require.Equal(t, 9600, c.Baud, "unset fields keep defaults")
	require.Len(t, c.Servers, 1)
	require.Equal(t, "Example", c.Servers[0].Name)
}

func TestReadConfigMissing(t *testing.T) {
	_, err := ReadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	c := DefaultConfig()
	c.Device = ""
	require.Error(t, c.Validate())

	c = DefaultConfig()
	c.Baud = -1
	require.Error(t, c.Validate())

	c = DefaultConfig()
	c.Servers = []Peer{{Address: "peer", Port: 70000}}
	require.Error(t, c.Validate())

	c = DefaultConfig()
	c.Retention = 0
	require.Error(t, c.Validate())
}
