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
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/stratum-one/gpsntp/monitor"
	"github.com/stratum-one/gpsntp/monitor/history"
)

// serveMonitoring runs the status HTTP server until ctx is cancelled
func serveMonitoring(ctx context.Context, port int, mon *monitor.Monitor, store *history.Store) {
	mux := http.NewServeMux()

	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, mon.Status())
	})

	mux.Handle("/metrics", monitor.NewPrometheusExporter(mon).Handler())

	mux.HandleFunc("/export.csv", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=ntp_stats_%s.csv", time.Now().Format("2006-01-02")))
		if err := mon.WriteCSV(w); err != nil {
			log.Errorf("Failed to export CSV: %v", err)
		}
	})

	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		address := r.URL.Query().Get("server")
		if address == "" {
			http.Error(w, "server parameter is required", http.StatusBadRequest)
			return
		}
		since := time.Now().Add(-time.Hour)
		if raw := r.URL.Query().Get("since"); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				http.Error(w, fmt.Sprintf("bad since %q: %v", raw, err), http.StatusBadRequest)
				return
			}
			since = parsed
		}
		records, err := store.History(address, since)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, records)
	})

	mux.HandleFunc("/servers", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			address := r.URL.Query().Get("address")
			peerPort := 123
			if raw := r.URL.Query().Get("port"); raw != "" {
				parsed, err := strconv.Atoi(raw)
				if err != nil {
					http.Error(w, fmt.Sprintf("bad port %q", raw), http.StatusBadRequest)
					return
				}
				peerPort = parsed
			}
			if err := mon.AddTarget(address, peerPort, r.URL.Query().Get("name")); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		case http.MethodDelete:
			if err := mon.RemoveTarget(r.URL.Query().Get("address")); err != nil {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "use POST or DELETE", http.StatusMethodNotAllowed)
		}
	})

	server := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Infof("Monitoring server on port %d", port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Errorf("Monitoring server failed: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("Failed to reply: %v", err)
	}
}
