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

// Package remote publishes a best-effort, read-only mirror of the current
// rule snapshot to Redis, so an external dashboard can poll current
// thresholds without talking to the process directly. This is never the
// engine's authoritative state: if Redis is unreachable the in-process rule
// set is completely unaffected, and nothing is ever restored from Redis on
// startup.
//
// Grounded on persistence.GoRedisEvaler/NewGoRedisEvaler
// (internal/ratelimiter/persistence/clients.go): a thin wrapper around
// *redis.Client constructed from a bare address, used the same
// best-effort, logged-on-failure way here as the teacher's Redis adapter is
// used behind its idempotent persistence shim.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"dbtrace/internal/extiface"
	"dbtrace/internal/rules"
)

// Mirror publishes rule snapshots to a single Redis key on a best-effort
// basis.
type Mirror struct {
	client *redis.Client
	key    string
	logger extiface.HostLogger
}

// New returns a Mirror that writes snapshots to key on the Redis instance at
// addr. Connection errors surface only at Publish time (there is no
// connection-time error to fail fast on, matching go-redis's lazy-dial
// client).
func New(addr, key string, logger extiface.HostLogger) *Mirror {
	return &Mirror{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		key:    key,
		logger: logger,
	}
}

// Publish JSON-encodes the given rule snapshot and SETs it at the mirror's
// key with a short TTL (so a crashed engine's mirror entry eventually
// expires rather than lying about liveness forever). Errors are logged, not
// returned: callers treat this as fire-and-forget, same as the teacher's
// LoggingRedisEvaler/LoggingKafkaProducer adapters.
func (m *Mirror) Publish(ctx context.Context, snapshot []rules.RuleSnapshot) {
	b, err := json.Marshal(snapshot)
	if err != nil {
		m.logf("remote mirror: marshal failed: %v", err)
		return
	}
	if err := m.client.Set(ctx, m.key, b, 30*time.Second).Err(); err != nil {
		m.logf("remote mirror: publish failed: %v", err)
	}
}

func (m *Mirror) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
		return
	}
	fmt.Printf(format+"\n", args...)
}

// Close releases the underlying Redis connection pool.
func (m *Mirror) Close() error {
	return m.client.Close()
}
