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

// Package extiface declares the narrow interfaces this engine consumes from
// its host process. Callers supply implementations; this package never
// constructs one itself beyond the small stdlib-backed defaults in
// stdlogger.go.
package extiface

// RequestHandle is the opaque external collaborator that carries the fields
// the dispatcher's header (§4.G.3) needs from the in-flight request.
type RequestHandle interface {
	Debug() bool
	Opcode() int32
	Retries() int32
	ReplyTimeMS() int64
	TxnSize() int64
	ReplyLength() int64
	Origin() string
	// TxnSummary returns an optional free-form transaction summary line, or
	// "" if the host process has none for this request.
	TxnSummary() string
}

// Clock abstracts monotonic/wall time so tests can fake it instead of
// sleeping.
type Clock interface {
	NowMS() int64
	NowSec() int64
}

// HostLogger is the line-oriented sink the default Sink and engine-internal
// diagnostics write through.
type HostLogger interface {
	Printf(format string, args ...any)
}

// StoreTelemetry yields formatted lines describing storage-engine stats for
// a given request; called once per header write. A nil StoreTelemetry means
// no such lines are available.
type StoreTelemetry func() []string

// OpcodeTaxonomy maps opcodes to names and classifies raw opcodes and
// block-ops into the families used by the per-host report (§4.H).
type OpcodeTaxonomy interface {
	Name(opcode int32) string
	Opcode(name string) (int32, bool)
	OpcodeFamily(opcode int32) OpcodeFamily
	BlockOpFamily(blockOp int32) BlockOpFamily
}

// OpcodeFamily classifies a raw opcode counter into a reporting bucket.
type OpcodeFamily int

const (
	OpcodeFamilyOther OpcodeFamily = iota
	OpcodeFamilyFind
	OpcodeFamilyRangeExt
	OpcodeFamilyWrite
)

// BlockOpFamily classifies a block-op counter into a reporting bucket.
type BlockOpFamily int

const (
	BlockOpFamilyAdd BlockOpFamily = iota
	BlockOpFamilyUpdate
	BlockOpFamilyDelete
	BlockOpFamilyBatchSQL
	BlockOpFamilyRecom
	BlockOpFamilySnapIsol
	BlockOpFamilySerial
)

// Interner returns a process-stable dense index for a host string. The same
// string always maps to the same index for the lifetime of the process.
type Interner interface {
	Intern(s string) int
}

// SchemaDecoder optionally renders SQL request tag dumps. Callers that have
// no dynamic schema decoder leave this nil.
type SchemaDecoder interface {
	DecodeTags(raw []byte) (string, error)
}
