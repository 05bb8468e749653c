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

import "dbtrace/internal/extiface"

// RecordOpcode classifies a raw opcode via taxonomy and bumps the matching
// family counter on rc. Grounded on plugin/tfd/classifier.Classify's
// single-pass, flag-driven classification shape.
func RecordOpcode(rc *RawCounters, taxonomy extiface.OpcodeTaxonomy, opcode int32) {
	if taxonomy == nil {
		rc.IncrOpcodeFamily(opFamilyOther, 1)
		return
	}
	switch taxonomy.OpcodeFamily(opcode) {
	case extiface.OpcodeFamilyFind:
		rc.IncrOpcodeFamily(opFamilyFind, 1)
	case extiface.OpcodeFamilyRangeExt:
		rc.IncrOpcodeFamily(opFamilyRangeExt, 1)
	case extiface.OpcodeFamilyWrite:
		rc.IncrOpcodeFamily(opFamilyWrite, 1)
	default:
		rc.IncrOpcodeFamily(opFamilyOther, 1)
	}
}

// RecordBlockOp classifies a raw block-op via taxonomy and bumps the
// matching family counter(s) on rc.
//
// This reproduces, deliberately, the source's documented fallthrough: a
// BLOCK2_RECOM observation increments recom, snapisol, AND serial; a
// BLOCK2_SNAPISOL observation increments snapisol and serial. See
// DESIGN.md's Open Questions entry — the spec flags this as a bug candidate
// and asks implementers to document whichever choice they make. We keep the
// fallthrough rather than "fixing" it so the per-host report stays
// bit-comparable with the source this was distilled from.
func RecordBlockOp(rc *RawCounters, taxonomy extiface.OpcodeTaxonomy, blockOp int32) {
	if taxonomy == nil {
		return
	}
	switch taxonomy.BlockOpFamily(blockOp) {
	case extiface.BlockOpFamilyAdd:
		rc.IncrBlockOpFamily(blockFamilyAdd, 1)
	case extiface.BlockOpFamilyUpdate:
		rc.IncrBlockOpFamily(blockFamilyUpdate, 1)
	case extiface.BlockOpFamilyDelete:
		rc.IncrBlockOpFamily(blockFamilyDelete, 1)
	case extiface.BlockOpFamilyBatchSQL:
		rc.IncrBlockOpFamily(blockFamilyBatchSQL, 1)
	case extiface.BlockOpFamilyRecom:
		rc.IncrBlockOpFamily(blockFamilyRecom, 1)
		fallthrough
	case extiface.BlockOpFamilySnapIsol:
		rc.IncrBlockOpFamily(blockFamilySnapIsol, 1)
		fallthrough
	case extiface.BlockOpFamilySerial:
		rc.IncrBlockOpFamily(blockFamilySerial, 1)
	}
}
