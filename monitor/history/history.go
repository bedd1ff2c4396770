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
Package history persists probe results and per-server aggregates in sqlite,
so availability and quality accumulators survive a restart and old probes age
out on a schedule.
*/
package history

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/stratum-one/gpsntp/monitor"
	"github.com/stratum-one/gpsntp/ntp/prober"
)

const (
	// DefaultRetention is how long raw probe records are kept
	DefaultRetention = 7 * 24 * time.Hour
	// CleanupInterval is how often expired probe records are deleted
	CleanupInterval = time.Hour

	queryTimeout = 3 * time.Second
)

const schema = `
CREATE TABLE IF NOT EXISTS targets(
	address TEXT PRIMARY KEY,
	port INTEGER NOT NULL,
	name TEXT NOT NULL,
	enabled INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS probes(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	address TEXT NOT NULL,
	ts INTEGER NOT NULL,
	success INTEGER NOT NULL,
	rtt_ns INTEGER NOT NULL,
	offset_ns INTEGER NOT NULL,
	stratum INTEGER NOT NULL,
	refid TEXT NOT NULL,
	error TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_probes_address_ts ON probes(address, ts);
CREATE TABLE IF NOT EXISTS metrics(
	address TEXT PRIMARY KEY,
	total INTEGER NOT NULL,
	successful INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	min_rtt REAL NOT NULL,
	max_rtt REAL NOT NULL,
	offset_sum REAL NOT NULL,
	offset_sum_sq REAL NOT NULL,
	last_success INTEGER NOT NULL,
	last_failure INTEGER NOT NULL,
	availability REAL NOT NULL,
	quality REAL NOT NULL
);
`

// Record is one archived probe
type Record struct {
	Address string        `json:"address"`
	Time    time.Time     `json:"time"`
	Success bool          `json:"success"`
	RTT     time.Duration `json:"rtt"`
	Offset  time.Duration `json:"offset"`
	Stratum uint8         `json:"stratum"`
	RefID   string        `json:"refid"`
	Error   string        `json:"error,omitempty"`
}

// Store is the sqlite-backed archive. A single connection keeps writers
// serialized, readers go through the same one.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history dir: %w", err)
	}
	dsn := "file:" + path + "?_pragma=busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history db unreachable: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertTarget inserts or renames a target
func (s *Store) UpsertTarget(target monitor.ServerTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `INSERT INTO targets(address, port, name, enabled) VALUES(?,?,?,?)
		ON CONFLICT(address) DO UPDATE SET port=excluded.port, name=excluded.name, enabled=excluded.enabled`,
		target.Address, target.Port, target.Name, boolToInt(target.Enabled))
	return err
}

// DeleteTarget removes a target together with its probes and aggregates
func (s *Store) DeleteTarget(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	for _, q := range []string{
		`DELETE FROM targets WHERE address=?`,
		`DELETE FROM probes WHERE address=?`,
		`DELETE FROM metrics WHERE address=?`,
	} {
		if _, err := s.db.ExecContext(ctx, q, address); err != nil {
			return err
		}
	}
	return nil
}

// LoadTargets returns all persisted targets
func (s *Store) LoadTargets() ([]monitor.ServerTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `SELECT address, port, name, enabled FROM targets ORDER BY address`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []monitor.ServerTarget
	for rows.Next() {
		var t monitor.ServerTarget
		var enabled int
		if err := rows.Scan(&t.Address, &t.Port, &t.Name, &enabled); err != nil {
			return nil, err
		}
		t.Enabled = enabled != 0
		out = append(out, t)
	}
	return out, rows.Err()
}

// AppendProbe archives one probe result
func (s *Store) AppendProbe(result *prober.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	errText := ""
	if result.Err != nil {
		errText = result.Err.Error()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO probes(address, ts, success, rtt_ns, offset_ns, stratum, refid, error)
		VALUES(?,?,?,?,?,?,?,?)`,
		targetAddress(result.Target), result.Time.UnixNano(), boolToInt(result.Success),
		int64(result.RTT), int64(result.Offset), result.Stratum, result.RefID, errText)
	return err
}

// History returns the archived probes of one target since the cutoff,
// oldest first
func (s *Store) History(address string, since time.Time) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `SELECT address, ts, success, rtt_ns, offset_ns, stratum, refid, error
		FROM probes WHERE address=? AND ts>=? ORDER BY ts`,
		address, since.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var ts, rtt, offset int64
		var success int
		if err := rows.Scan(&r.Address, &ts, &success, &rtt, &offset, &r.Stratum, &r.RefID, &r.Error); err != nil {
			return nil, err
		}
		r.Time = time.Unix(0, ts)
		r.Success = success != 0
		r.RTT = time.Duration(rtt)
		r.Offset = time.Duration(offset)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveMetrics persists the lifetime aggregates of one target
func (s *Store) SaveMetrics(address string, m monitor.ServerMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	minRTT := m.MinRTT
	if math.IsInf(minRTT, 1) {
		minRTT = 0
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO metrics(address, total, successful, failed, min_rtt, max_rtt,
		offset_sum, offset_sum_sq, last_success, last_failure, availability, quality)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(address) DO UPDATE SET total=excluded.total, successful=excluded.successful,
		failed=excluded.failed, min_rtt=excluded.min_rtt, max_rtt=excluded.max_rtt,
		offset_sum=excluded.offset_sum, offset_sum_sq=excluded.offset_sum_sq,
		last_success=excluded.last_success, last_failure=excluded.last_failure,
		availability=excluded.availability, quality=excluded.quality`,
		address, m.TotalQueries, m.SuccessfulQueries, m.FailedQueries, minRTT, m.MaxRTT,
		m.OffsetSum, m.OffsetSumSq, timeToNano(m.LastSuccess), timeToNano(m.LastFailure),
		m.Availability, m.QualityScore)
	return err
}

// LoadMetrics returns the persisted aggregates for all targets
func (s *Store) LoadMetrics() (map[string]monitor.ServerMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `SELECT address, total, successful, failed, min_rtt, max_rtt,
		offset_sum, offset_sum_sq, last_success, last_failure, availability, quality FROM metrics`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]monitor.ServerMetrics{}
	for rows.Next() {
		var address string
		var m monitor.ServerMetrics
		var lastSuccess, lastFailure int64
		if err := rows.Scan(&address, &m.TotalQueries, &m.SuccessfulQueries, &m.FailedQueries,
			&m.MinRTT, &m.MaxRTT, &m.OffsetSum, &m.OffsetSumSq,
			&lastSuccess, &lastFailure, &m.Availability, &m.QualityScore); err != nil {
			return nil, err
		}
		m.LastSuccess = nanoToTime(lastSuccess)
		m.LastFailure = nanoToTime(lastFailure)
		if m.SuccessfulQueries == 0 {
			m.MinRTT = math.Inf(1)
		}
		out[address] = m
	}
	return out, rows.Err()
}

// Cleanup deletes probe records older than the retention window and returns
// how many were removed
func (s *Store) Cleanup(retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	cutoff := time.Now().Add(-retention).UnixNano()
	res, err := s.db.ExecContext(ctx, `DELETE FROM probes WHERE ts<?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Run deletes expired probes every CleanupInterval until ctx is cancelled
func (s *Store) Run(ctx context.Context, retention time.Duration) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	log.Infof("[history] keeping probes for %v, cleaning hourly", retention)
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.Cleanup(retention)
			if err != nil {
				log.Errorf("[history] cleanup failed: %v", err)
				continue
			}
			if deleted > 0 {
				log.Infof("[history] deleted %d expired probes", deleted)
			}
		}
	}
}

// targetAddress strips the port from a host:port probe target
func targetAddress(target string) string {
	host, _, err := net.SplitHostPort(target)
	if err != nil {
		return target
	}
	return host
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeToNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func nanoToTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
