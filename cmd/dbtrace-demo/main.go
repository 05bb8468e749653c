// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main provides the entry point for the dbtrace demo server.
//
// This is a runnable, end-to-end demonstration of the dbtrace engine: a
// synthetic request generator drives the Recorder/Dispatch/HostStats
// pipeline at a steady rate, an HTTP admin endpoint lets an operator send
// the same tokenized verb commands a real host process's admin console
// would send, and a periodic host-table rotation keeps the per-host rate
// window current.
//
// Grounded on cmd/ratelimiter-api/main.go: flag-based configuration, a
// background goroutine doing periodic work, an HTTP server started in its
// own goroutine, and signal-driven graceful shutdown with a final flush.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dbtrace"
	"dbtrace/internal/config"
	"dbtrace/internal/rules"
	"dbtrace/internal/telemetry"
)

func main() {
	cfg := config.Parse()

	engine := dbtrace.NewEngine(dbtrace.Options{
		RemoteAddr: cfg.RedisAddr,
		RemoteKey:  cfg.RedisKey,
	})
	if cfg.Verbose {
		_ = engine.Apply([]string{"vbon"})
	}
	if cfg.LongRequestMS > 0 {
		_ = engine.Apply([]string{"longrequest", fmt.Sprintf("%d", cfg.LongRequestMS)})
	}
	if cfg.LongSQLRequestMS > 0 {
		_ = engine.Apply([]string{"longsqlrequest", fmt.Sprintf("%d", cfg.LongSQLRequestMS)})
	}
	if cfg.DiffstatSec > 0 {
		_ = engine.Apply([]string{"diffstat", fmt.Sprintf("%d", cfg.DiffstatSec)})
	}

	if cfg.MetricsAddr != "" {
		telemetry.ServeMetrics(cfg.MetricsAddr)
		fmt.Printf("Prometheus metrics listening on %s\n", cfg.MetricsAddr)
	}

	rotateStop := make(chan struct{})
	go runHostRotation(engine, cfg.HostRotateInterval, rotateStop)

	genStop := make(chan struct{})
	go runSyntheticLoad(engine, genStop)

	diffstatStop := make(chan struct{})
	go runDiffstat(engine, time.Duration(cfg.DiffstatSec)*time.Second, diffstatStop)

	mux := http.NewServeMux()
	registerAdminRoutes(mux, engine)
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	go func() {
		fmt.Printf("dbtrace admin server listening on %s\n", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("could not listen on %s: %v", cfg.HTTPAddr, err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	fmt.Println("\nShutting down...")
	close(genStop)
	close(rotateStop)
	close(diffstatStop)

	_ = engine.Apply([]string{"stat"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("server shutdown failed: %v", err)
	}
	fmt.Println("dbtrace demo server gracefully stopped.")
}

// runHostRotation periodically rotates the per-host counter table so its
// rate-derivation window stays current.
func runHostRotation(e *dbtrace.Engine, interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.RotateHosts(interval.Milliseconds())
		case <-stop:
			return
		}
	}
}

// runDiffstat periodically captures and dispatches a stat-dump pseudo-
// request at the configured diffstat cadence (§4.E begin_diffstat).
func runDiffstat(e *dbtrace.Engine, interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		return
	}
	rec := e.NewRecorder()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.RunDiffstat(rec)
		case <-stop:
			return
		}
	}
}

var demoHosts = []string{"alice-host", "bob-host", "carol-host"}

// syntheticHandle is a minimal extiface.RequestHandle for the generator's
// fabricated requests.
type syntheticHandle struct {
	opcode  int32
	retries int32
}

func (h syntheticHandle) Debug() bool        { return false }
func (h syntheticHandle) Opcode() int32      { return h.opcode }
func (h syntheticHandle) Retries() int32     { return h.retries }
func (h syntheticHandle) ReplyTimeMS() int64 { return 0 }
func (h syntheticHandle) TxnSize() int64     { return 128 }
func (h syntheticHandle) ReplyLength() int64 { return 64 }
func (h syntheticHandle) Origin() string     { return "" }
func (h syntheticHandle) TxnSummary() string { return "" }

// runSyntheticLoad drives the capture/dispatch pipeline with fabricated
// requests at a steady rate, so the demo has something to show on its admin
// endpoint and Prometheus metrics without a real host process attached.
func runSyntheticLoad(e *dbtrace.Engine, stop <-chan struct{}) {
	rec := e.NewRecorder()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			host := demoHosts[rand.Intn(len(demoHosts))]
			rec.BeginRegular(syntheticHandle{opcode: int32(rand.Intn(8))}, e.Mask())
			rec.SetOrigin(host)
			rec.LogLiteral(rules.ClassINFO, "synthetic request")
			rec.RC = 0
			e.EndRequest(rec)
			e.RecordHostOpcode(host, rec.Opcode)
		case <-stop:
			return
		}
	}
}

// registerAdminRoutes wires the tokenized admin verb language onto a single
// HTTP endpoint: POST /admin with a whitespace-tokenized command body, and
// GET /stat as a convenience alias for the `stat` verb.
func registerAdminRoutes(mux *http.ServeMux, e *dbtrace.Engine) {
	mux.HandleFunc("/admin", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
		if err != nil {
			http.Error(w, "failed to read command body", http.StatusBadRequest)
			return
		}
		tokens := strings.Fields(string(body))
		if len(tokens) == 0 {
			http.Error(w, "empty command", http.StatusBadRequest)
			return
		}
		if err := e.Apply(tokens); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	})
	mux.HandleFunc("/stat", func(w http.ResponseWriter, r *http.Request) {
		_ = e.Apply([]string{"stat"})
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "stat dumped to log")
	})
}
