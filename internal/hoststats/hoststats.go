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

// Package hoststats implements the process-wide, per-remote-host counter
// table: a lock-free hot path (RawCounters, see rawcounters.go), a periodic
// bucket-rotation task that turns raw totals into a ten-slot sliding window,
// and snapshot/rate derivation plus a grouped per-host report.
//
// This is the direct generalization of the teacher's vsa package: where the
// teacher's Store.GetOrCreate installs one managedVSA per key behind a
// sync.Map fast-path Load, Table.GetOrCreate installs one HostStats per
// interned host behind a dense slab with the same "plain Load first, only
// allocate on a miss" shape — adapted to a slab + intrusive list
// because the spec requires O(hosts) iteration for rotation, which a
// sync.Map can do too (Store.ForEach/sync.Map.Range) but the spec's dense
// MAX_NODES slab with publish-then-barrier install is the documented
// reference shape (§4.H, §9 "Lock-free counter installation").
package hoststats

import (
	"sort"
	"sync"
	"sync/atomic"

	"dbtrace/internal/telemetry"
)

// NumBuckets is the size of the sliding window used to derive rates.
const NumBuckets = 10

// MaxNodes bounds the dense slab. A production embedder sized this to the
// expected distinct-peer cardinality; the spec treats it as a constant.
const MaxNodes = 1 << 16

// HostStats is one per interned host. bucket arithmetic is guarded by its
// shard's calc mutex; RawCounters fields are updated by any goroutine at any
// time via atomics.
type HostStats struct {
	hostIndex int
	host      string
	shardIdx  int

	raw  RawCounters
	prev [numFields]uint32

	curBucket   int
	rawBuckets  [NumBuckets][numFields]uint32
	bucketSpans [NumBuckets]int64 // milliseconds

	next *HostStats // intrusive per-shard list link, used for O(1) shard iteration
}

// Host returns the original (un-interned) host string.
func (h *HostStats) Host() string { return h.host }

// Raw returns the hot-path counter block for direct atomic increments.
func (h *HostStats) Raw() *RawCounters { return &h.raw }

// Table is the process-wide host→HostStats mapping. Calculation work
// (Rotate/Snapshot/Report) is split across ShardCount independent mutex
// domains (shard.go) chosen by rendezvous hashing on the host string, so a
// slow pass over one shard's hosts never blocks readers of another.
type Table struct {
	installMu sync.Mutex

	slab    [MaxNodes]atomic.Pointer[HostStats]
	intern  map[string]int
	internN int

	shards [ShardCount]*shardState
	router interface{ Lookup(string) string }

	lastRotate int64 // ms, set by the rotation caller
}

// NewTable returns an empty, ready-to-use Table.
func NewTable() *Table {
	t := &Table{intern: make(map[string]int)}
	for i := range t.shards {
		t.shards[i] = &shardState{}
	}
	t.router = newShardRouter()
	return t
}

// internHost returns a stable dense index for host, installing a new one
// under installMu on first sight. Mirrors the teacher's "Load, then
// LoadOrStore on miss" two-phase pattern, just for a plain map instead of a
// sync.Map because index assignment itself must be serialized.
func (t *Table) internHost(host string) int {
	t.installMu.Lock()
	defer t.installMu.Unlock()
	if idx, ok := t.intern[host]; ok {
		return idx
	}
	idx := t.internN
	t.internN++
	t.intern[host] = idx
	return idx
}

// GetOrCreate returns the RawCounters for host, installing a new HostStats
// if this is the first time the host has been observed.
//
// Every call first resolves host's dense index via internHost, which takes
// installMu briefly. Fast path: the slab slot is already published — one
// atomic load, no allocation and no second lock.
// Slow path (first observer): take installMu again, re-check
// (another goroutine may have won the race), allocate and fully initialize
// the HostStats, link it at the head of the iteration list, then publish
// the slab pointer. The Pointer store is a release; GetOrCreate's Load is an
// acquire — together they guarantee any goroutine observing a non-nil slot
// also observes a fully initialized HostStats.
func (t *Table) GetOrCreate(host string) *RawCounters {
	idx := t.internHost(host)
	if idx >= MaxNodes {
		// Slab exhausted; degrade gracefully by aliasing to slot 0 rather
		// than indexing out of bounds. A production embedder sizes MaxNodes
		// for its expected peer cardinality.
		idx = 0
	}
	if hs := t.slab[idx].Load(); hs != nil {
		return &hs.raw
	}

	t.installMu.Lock()
	defer t.installMu.Unlock()
	if hs := t.slab[idx].Load(); hs != nil {
		return &hs.raw
	}
	shardIdx := t.shardIndexFor(host)
	sh := t.shards[shardIdx]
	hs := &HostStats{hostIndex: idx, host: host, shardIdx: shardIdx}
	hs.next = sh.head.Load()
	sh.head.Store(hs)
	t.slab[idx].Store(hs)
	telemetry.SetHostTableSize(t.internN)
	return &hs.raw
}

// ForEach iterates every installed HostStats across every shard. Safe to
// call concurrently with GetOrCreate (new entries are always linked at the
// head of their shard's list, so a concurrent iteration may or may not
// observe a brand new entry, but never observes a partially initialized
// one).
func (t *Table) ForEach(f func(*HostStats)) {
	for _, sh := range t.shards {
		for hs := sh.head.Load(); hs != nil; hs = hs.next {
			f(hs)
		}
	}
}

// Rotate performs one periodic bucket-rotation pass: for every host, it
// computes diff = current_total - prev_total per counter (wrapping mod
// 2^32, which Go's unsigned subtraction already does), stores the diff into
// the current bucket, records elapsedMS as that bucket's span, updates
// prev_total, and advances cur_bucket modulo NumBuckets.
//
// Grounded on Worker.commitLoop/runCommitCycle's ticker-driven, single-pass-
// under-one-mutex shape in the teacher (internal/ratelimiter/core/worker.go),
// sharded across ShardCount independent calc mutexes (shard.go) so one
// busy shard's rotation never stalls a Snapshot() read against another.
func (t *Table) Rotate(elapsedMS int64) {
	for _, sh := range t.shards {
		t.rotateShard(sh, elapsedMS)
	}
}

func (t *Table) rotateShard(sh *shardState, elapsedMS int64) {
	sh.calcMu.Lock()
	defer sh.calcMu.Unlock()
	for hs := sh.head.Load(); hs != nil; hs = hs.next {
		cur := hs.raw.totals()
		b := hs.curBucket
		for i := 0; i < numFields; i++ {
			hs.rawBuckets[b][i] = cur[i] - hs.prev[i]
			hs.prev[i] = cur[i]
		}
		hs.bucketSpans[b] = elapsedMS
		hs.curBucket = (b + 1) % NumBuckets
	}
}

// Snapshot is a point-in-time view of one host's counters, either as raw
// current totals or as derived per-second rates over the ten-bucket window.
type Snapshot struct {
	Values [numFields]int64
}

// snapshotLocked must be called with calcMu held.
func (hs *HostStats) snapshotLocked(asRates bool) Snapshot {
	var out Snapshot
	if !asRates {
		for i := 0; i < numFields; i++ {
			out.Values[i] = int64(hs.prev[i])
		}
		return out
	}
	var totalSpan int64
	for _, s := range hs.bucketSpans {
		totalSpan += s
	}
	if totalSpan < 1 {
		totalSpan = 1
	}
	for i := 0; i < numFields; i++ {
		var sum int64
		for b := 0; b < NumBuckets; b++ {
			sum += int64(hs.rawBuckets[b][i])
		}
		// rate = round(10 * 1000 * sum / totalSpanMS)
		out.Values[i] = roundDiv(sum*10*1000, totalSpan)
	}
	return out
}

// Snapshot returns the current-totals or rate view for host. ok is false if
// the host has never been observed.
func (t *Table) Snapshot(host string, asRates bool) (Snapshot, bool) {
	t.installMu.Lock()
	idx, ok := t.intern[host]
	t.installMu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	hs := t.slab[idx].Load()
	if hs == nil {
		return Snapshot{}, false
	}
	sh := t.shards[hs.shardIdx]
	sh.calcMu.Lock()
	defer sh.calcMu.Unlock()
	return hs.snapshotLocked(asRates), true
}

func roundDiv(num, den int64) int64 {
	if den == 0 {
		den = 1
	}
	if (num < 0) != (den < 0) {
		return -roundDivPositive(-num, den)
	}
	return roundDivPositive(num, den)
}

func roundDivPositive(num, den int64) int64 {
	if den < 0 {
		num, den = -num, -den
	}
	return (num + den/2) / den
}

// HostReport is one fixed-width row of the grouped per-host report (§4.H
// "Report").
type HostReport struct {
	Host         string
	Finds        int64
	RangeExts    int64
	Writes       int64
	OtherFstSnds int64
	Adds         int64
	Updates      int64
	Deletes      int64
	BatchSQL     int64
	Recom        int64
	SnapIsol     int64
	Serial       int64
	SQLQueries   int64
	SQLSteps     int64
	SQLRows      int64
}

// Report returns one HostReport per currently tracked host, sorted by host
// name for deterministic output, built from the raw current totals (not
// rates) classified into families via the family indices already baked into
// RawCounters' layout.
func (t *Table) Report() []HostReport {
	var rows []HostReport
	for _, sh := range t.shards {
		sh.calcMu.Lock()
		for hs := sh.head.Load(); hs != nil; hs = hs.next {
			cur := hs.raw.totals()
			rows = append(rows, HostReport{
				Host:         hs.host,
				Finds:        int64(cur[opFamilyFind]),
				RangeExts:    int64(cur[opFamilyRangeExt]),
				Writes:       int64(cur[opFamilyWrite]),
				OtherFstSnds: int64(cur[opFamilyOther]),
				Adds:         int64(cur[numOpFamilies+blockFamilyAdd]),
				Updates:      int64(cur[numOpFamilies+blockFamilyUpdate]),
				Deletes:      int64(cur[numOpFamilies+blockFamilyDelete]),
				BatchSQL:     int64(cur[numOpFamilies+blockFamilyBatchSQL]),
				Recom:        int64(cur[numOpFamilies+blockFamilyRecom]),
				SnapIsol:     int64(cur[numOpFamilies+blockFamilySnapIsol]),
				Serial:       int64(cur[numOpFamilies+blockFamilySerial]),
				SQLQueries:   int64(cur[numOpFamilies+numBlockFamilies+0]),
				SQLSteps:     int64(cur[numOpFamilies+numBlockFamilies+1]),
				SQLRows:      int64(cur[numOpFamilies+numBlockFamilies+2]),
			})
		}
		sh.calcMu.Unlock()
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Host < rows[j].Host })
	return rows
}
