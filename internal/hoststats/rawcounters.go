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

package hoststats

import "sync/atomic"

// padSize over-pads each counter family to a cache line so concurrent
// increments to adjacent families never false-share. Mirrors the teacher's
// own stripe{ val atomic.Int64; _ [padSize]byte } padding in the VSA hot
// path (vsa.go), just keyed by counter family instead of shard index.
const padSize = 64 - 4 // atomic.Uint32 is 4 bytes; remainder to reach 64.

type padded32 struct {
	v atomic.Uint32
	_ [padSize]byte
}

// Opcode family indices, matching extiface.OpcodeFamily order.
const (
	opFamilyOther = iota
	opFamilyFind
	opFamilyRangeExt
	opFamilyWrite
	numOpFamilies
)

// Block-op family indices, matching extiface.BlockOpFamily order.
const (
	blockFamilyAdd = iota
	blockFamilyUpdate
	blockFamilyDelete
	blockFamilyBatchSQL
	blockFamilyRecom
	blockFamilySnapIsol
	blockFamilySerial
	numBlockFamilies
)

// RawCounters is the fixed-layout, per-host counter block. Every field is
// updated with relaxed atomic Add on the hot path — no lock, no ordering
// guarantee between distinct fields.
type RawCounters struct {
	opFamilies    [numOpFamilies]padded32
	blockFamilies [numBlockFamilies]padded32

	sqlQueries padded32
	sqlSteps   padded32
	sqlRows    padded32
}

// IncrOpcodeFamily bumps the counter for the given opcode family by delta.
func (r *RawCounters) IncrOpcodeFamily(family int, delta uint32) {
	if family < 0 || family >= numOpFamilies {
		return
	}
	r.opFamilies[family].v.Add(delta)
}

// IncrBlockOpFamily bumps the counter for the given block-op family by delta.
func (r *RawCounters) IncrBlockOpFamily(family int, delta uint32) {
	if family < 0 || family >= numBlockFamilies {
		return
	}
	r.blockFamilies[family].v.Add(delta)
}

// IncrSQL bumps the three SQL totals.
func (r *RawCounters) IncrSQL(queries, steps, rows uint32) {
	if queries != 0 {
		r.sqlQueries.v.Add(queries)
	}
	if steps != 0 {
		r.sqlSteps.v.Add(steps)
	}
	if rows != 0 {
		r.sqlRows.v.Add(rows)
	}
}

// totals returns a point-in-time snapshot of every field, by field index in
// a stable, field-order-defined layout: opFamilies..., blockFamilies...,
// sqlQueries, sqlSteps, sqlRows.
func (r *RawCounters) totals() []uint32 {
	out := make([]uint32, 0, numOpFamilies+numBlockFamilies+3)
	for i := range r.opFamilies {
		out = append(out, r.opFamilies[i].v.Load())
	}
	for i := range r.blockFamilies {
		out = append(out, r.blockFamilies[i].v.Load())
	}
	out = append(out, r.sqlQueries.v.Load(), r.sqlSteps.v.Load(), r.sqlRows.v.Load())
	return out
}

const numFields = numOpFamilies + numBlockFamilies + 3
