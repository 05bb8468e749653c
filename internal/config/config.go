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

// Package config parses the demo process's startup flags. Grounded on
// cmd/ratelimiter-api/main.go's flag.* block: one flag per runtime knob,
// parsed once in main and passed down as plain values rather than read back
// out of the flag package elsewhere.
package config

import (
	"flag"
	"time"
)

// Config holds every flag cmd/dbtrace-demo accepts.
type Config struct {
	HTTPAddr    string
	MetricsAddr string
	RedisAddr   string
	RedisKey    string

	LongRequestMS      int64
	LongSQLRequestMS   int64
	DiffstatSec        int64
	HostRotateInterval time.Duration

	Verbose bool
}

// Parse parses os.Args[1:] (via the standard flag.CommandLine) into a
// Config. Call once from main.
func Parse() *Config {
	c := &Config{}
	flag.StringVar(&c.HTTPAddr, "http_addr", ":8080", "HTTP admin listen address (e.g., :8080)")
	flag.StringVar(&c.MetricsAddr, "metrics_addr", "", "If non-empty, expose Prometheus /metrics on this address (e.g., :9090)")
	flag.StringVar(&c.RedisAddr, "redis_addr", "", "If non-empty, mirror rule snapshots to this Redis address on every stat verb")
	flag.StringVar(&c.RedisKey, "redis_key", "dbtrace:rules", "Redis key the rule-snapshot mirror publishes to")
	flag.Int64Var(&c.LongRequestMS, "long_request_ms", 1000, "Initial long-request threshold in milliseconds (0 disables)")
	flag.Int64Var(&c.LongSQLRequestMS, "long_sql_request_ms", 1000, "Initial long-SQL-request threshold in milliseconds (0 disables)")
	flag.Int64Var(&c.DiffstatSec, "diffstat_sec", 30, "Initial diffstat period in seconds (0 disables the periodic stat-dump pseudo-request)")
	flag.DurationVar(&c.HostRotateInterval, "host_rotate_interval", 10*time.Second, "How often the per-host counter table rotates its rate-derivation buckets")
	flag.BoolVar(&c.Verbose, "verbose", false, "Start with the admin vbon flag set")
	flag.Parse()
	return c
}
