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

package monitor

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/stratum-one/gpsntp/ntp/prober"
)

// Run probes all enabled targets every ProbeInterval until ctx is cancelled.
// The first round starts immediately.
func (m *Monitor) Run(ctx context.Context) {
	log.Infof("[monitor] probing every %v", m.cfg.ProbeInterval)
	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	m.ProbeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ProbeAll(ctx)
		}
	}
}

// ProbeAll probes every enabled target once, one goroutine per target, and
// waits for the whole round. A slow or dead server never delays the others,
// and joining the round means a target is never probed concurrently with
// itself.
func (m *Monitor) ProbeAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, target := range m.Targets() {
		if !target.Enabled {
			continue
		}
		wg.Add(1)
		go func(target ServerTarget) {
			defer wg.Done()
			result := prober.Probe(ctx, target.Address, target.Port, m.cfg.ProbeTimeout)
			if !result.Success && ctx.Err() == nil {
				log.Debugf("[monitor] probe of %s failed: %v", result.Target, result.Err)
			}
			m.Update(target.Address, result)
		}(target)
	}
	wg.Wait()
}
