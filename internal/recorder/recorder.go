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

// Package recorder implements the per-request Recorder: one worker-thread
// object reused across many requests, combining an arena, a prefix stack, an
// event log, and a block of transient scalars that is zeroed (not
// reallocated) between requests.
//
// Grounded on root vsa.go's VSA: a single allocate-once-reuse-forever object
// mutated in place across many logical operations, with one inlined hot-path
// branch test (VSA.Update's mask check is Recorder's "(mask & class) == 0"
// early-out).
package recorder

import (
	"fmt"
	"strings"

	"dbtrace/internal/arena"
	"dbtrace/internal/eventlog"
	"dbtrace/internal/extiface"
	"dbtrace/internal/prefix"
	"dbtrace/internal/rules"
	"dbtrace/internal/telemetry"
)

// RequestType tags what kind of request a Recorder is currently capturing.
type RequestType int8

const (
	RequestRegular RequestType = iota
	RequestSocket
	RequestSQL
	RequestStatDump
)

// Sticky request flag bits (reqflags).
const (
	FlagBadCstr uint32 = 1 << iota
)

// MaxOrigin bounds the caller-set origin identifier.
const MaxOrigin = 127

// TableEntry is one node in the per-request "tables touched" list.
type TableEntry struct {
	Name  string
	Count int32
	next  *TableEntry
}

// Recorder is the per-request capture object (component E). Not safe for
// concurrent use: exactly one worker thread owns a Recorder, and it is
// reused — reset, not freed — across that thread's requests.
type Recorder struct {
	arenaPtr *arena.Arena
	Clock    extiface.Clock

	Origin string

	ReqFlags    uint32
	InRequest   bool
	RequestType RequestType
	EventMask   uint32
	DumpMask    uint32
	Mask        uint32
	StartMS     int64

	Prefix prefix.Stack

	dumpLine    [1024]byte
	dumpLinePos int

	Tables *TableEntry

	Opcode      int32
	IQ          extiface.RequestHandle
	Stmt        string
	SQLRows     int32
	SQLCost     float64
	RC          int32
	DurationMS  int64
	VReplays    int64
	QueueTimeMS int64

	Fingerprint    [16]byte
	FingerprintSet bool

	Events eventlog.Log

	errLog func(string)
}

// New returns a fresh Recorder with its own arena, ready for Begin*.
func New(clock extiface.Clock, errLog func(string)) *Recorder {
	r := &Recorder{arenaPtr: arena.New(), Clock: clock, errLog: errLog}
	r.Prefix.ErrLog = errLog
	return r
}

// Arena exposes the recorder's bump allocator to callers that need to stash
// request-lifetime text (e.g. the dispatcher composing a header line).
func (r *Recorder) Arena() *arena.Arena { return r.arenaPtr }

// SetOrigin records the caller-supplied origin identifier, bounded to
// MaxOrigin bytes.
func (r *Recorder) SetOrigin(origin string) {
	if len(origin) > MaxOrigin {
		origin = origin[:MaxOrigin]
	}
	r.Origin = origin
}

// Reset reclaims the arena and zeroes the transient block, preserving the
// arena, clock, error logger, and origin (§4.E "reset").
func (r *Recorder) Reset() {
	r.arenaPtr.FreeAll()
	origin := r.Origin
	errLog := r.errLog
	clock := r.Clock
	arenaPtr := r.arenaPtr
	*r = Recorder{arenaPtr: arenaPtr, Clock: clock, errLog: errLog, Origin: origin}
	r.Prefix.ErrLog = errLog
}

func (r *Recorder) beginCommon(rt RequestType) {
	r.Reset()
	r.RequestType = rt
	if r.Clock != nil {
		r.StartMS = r.Clock.NowMS()
	}
	r.InRequest = true
}

// BeginRegular starts capture for a regular (non-SQL) request, applying the
// rule set's master mask per §4.F.
func (r *Recorder) BeginRegular(iq extiface.RequestHandle, mm rules.MasterMask) {
	r.beginCommon(RequestRegular)
	r.IQ = iq
	debug := false
	if iq != nil {
		r.Opcode = iq.Opcode()
		debug = iq.Debug()
	}
	r.applyMasterMask(mm, debug)
}

// BeginSQL starts capture for a SQL request. sqlDebugGlobal mirrors the
// host's global SQL-debug toggle (§4.F: "for SQL requests when a global
// debug flag is set, dump_mask |= TRACE").
func (r *Recorder) BeginSQL(stmt string, opcode int32, mm rules.MasterMask, sqlDebugGlobal bool) {
	r.beginCommon(RequestSQL)
	r.Stmt = stmt
	r.Opcode = opcode
	r.applyMasterMask(mm, false)
	if sqlDebugGlobal {
		r.DumpMask |= rules.ClassTRACE
		r.Mask = r.EventMask | r.DumpMask
	}
}

// BeginDiffstat starts capture for a periodic stat-dump pseudo-request,
// which always captures (no opcode/statement to match against).
func (r *Recorder) BeginDiffstat(mm rules.MasterMask) {
	r.beginCommon(RequestStatDump)
	always := mm
	always.AllRequests = true
	r.applyMasterMask(always, false)
}

// applyMasterMask implements §4.F's request-begin capture-enable rule: the
// Recorder's event_mask is OR-ed with the master event_mask when the request
// matches, INFO is always OR-ed in, and dump_mask picks up TRACE when the
// backing request says it is in debug mode.
func (r *Recorder) applyMasterMask(mm rules.MasterMask, debug bool) {
	if mm.AllRequests || mm.Matches(r.Opcode, r.Stmt) {
		r.EventMask |= mm.EventMask
	}
	r.EventMask |= rules.ClassINFO
	if debug {
		r.DumpMask |= rules.ClassTRACE
	}
	r.Mask = r.EventMask | r.DumpMask
}

// CurrentMS returns elapsed milliseconds since the request began.
func (r *Recorder) CurrentMS() int64 {
	if r.Clock == nil {
		return 0
	}
	return r.Clock.NowMS() - r.StartMS
}

// PushPrefixf formats and pushes a new indent frame. truncate selects the
// §4.E oversize-text disposition: true truncates the text captured into the
// event log to prefix.MaxLength; false stores the full formatted text in the
// arena regardless of the live stack's own (always-bounded) truncation.
func (r *Recorder) PushPrefixf(truncate bool, format string, args ...any) {
	r.PushPrefix(fmt.Sprintf(format, args...), truncate)
}

// PushPrefix pushes text as a new indent frame.
func (r *Recorder) PushPrefix(text string, truncate bool) {
	if r.DumpMask != 0 {
		r.flushDumpLine()
	}
	r.Prefix.Push(text)
	if r.EventMask == 0 {
		return
	}
	stored := text
	if truncate && len(stored) > prefix.MaxLength {
		stored = stored[:prefix.MaxLength]
	}
	stored = r.arenaPtr.Strdup(stored)
	r.Events.Append(&eventlog.Node{Kind: eventlog.KindPushPrefix, Text: stored})
}

// PopPrefix pops one indent frame, symmetric with PushPrefix.
func (r *Recorder) PopPrefix() {
	r.Prefix.Pop()
	if r.EventMask != 0 {
		r.Events.Append(&eventlog.Node{Kind: eventlog.KindPopPrefix})
	}
}

// PopAllPrefixes clears the indent stack back to empty.
func (r *Recorder) PopAllPrefixes() {
	r.Prefix.PopAll()
	if r.EventMask != 0 {
		r.Events.Append(&eventlog.Node{Kind: eventlog.KindPopPrefixAll})
	}
}

// Logf is the formatted, owned-text logging entry point. The hot path first
// tests (mask & class); callers on the literal-string path should prefer
// LogLiteral to avoid formatting and copying altogether.
func (r *Recorder) Logf(class uint32, format string, args ...any) {
	if r.Mask&class == 0 {
		telemetry.EventDropped()
		return
	}
	r.logText(class, fmt.Sprintf(format, args...), false)
}

// LogLiteral is the borrowed-literal logging entry point (§9 "two entry
// flavors"): text is a compile-time literal known to outlive the request, so
// it is never copied into the arena — the string header is captured as-is.
func (r *Recorder) LogLiteral(class uint32, text string) {
	if r.Mask&class == 0 {
		telemetry.EventDropped()
		return
	}
	r.logText(class, text, true)
}

// LogHex logs a hex dump of data under class.
func (r *Recorder) LogHex(class uint32, label string, data []byte) {
	if r.Mask&class == 0 {
		telemetry.EventDropped()
		return
	}
	var b strings.Builder
	b.WriteString(label)
	for _, c := range data {
		fmt.Fprintf(&b, " %02x", c)
	}
	r.logText(class, b.String(), false)
}

func (r *Recorder) logText(class uint32, text string, literal bool) {
	if r.DumpMask&class != 0 {
		r.appendDumpLine(text)
	}
	if r.EventMask&class != 0 {
		stored := text
		if !literal {
			stored = r.arenaPtr.Strdup(text)
		}
		r.Events.Append(&eventlog.Node{Kind: eventlog.KindPrint, Class: class, Text: stored})
		telemetry.EventCaptured()
	}
}

func (r *Recorder) appendDumpLine(text string) {
	for _, c := range []byte(text) {
		if c == '\n' || r.dumpLinePos >= len(r.dumpLine) {
			r.flushDumpLine()
			if c == '\n' {
				continue
			}
		}
		r.dumpLine[r.dumpLinePos] = c
		r.dumpLinePos++
	}
}

func (r *Recorder) flushDumpLine() {
	if r.dumpLinePos == 0 {
		return
	}
	if r.errLog != nil {
		r.errLog(string(r.dumpLine[:r.dumpLinePos]))
	}
	r.dumpLinePos = 0
}

// UseTable records that table name was touched during this request, only
// meaningful when the caller's rule set requires table tracking (§4.F
// track_tables). Matching is case-insensitive.
func (r *Recorder) UseTable(name string) {
	for t := r.Tables; t != nil; t = t.next {
		if strings.EqualFold(t.Name, name) {
			t.Count++
			return
		}
	}
	t := &TableEntry{Name: r.arenaPtr.Strdup(name), Count: 1, next: r.Tables}
	r.Tables = t
}

// EachTable walks the per-request "tables touched" list, stopping early if f
// returns false. Exposed so the dispatcher (a different package) can test
// table membership without reaching into TableEntry's unexported link.
func (r *Recorder) EachTable(f func(name string, count int32) bool) {
	for t := r.Tables; t != nil; t = t.next {
		if !f(t.Name, t.Count) {
			return
		}
	}
}

// SetFlag sets a sticky reqflags bit.
func (r *Recorder) SetFlag(bit uint32) { r.ReqFlags |= bit }

// HasFlag reports whether a sticky reqflags bit is set.
func (r *Recorder) HasFlag(bit uint32) bool { return r.ReqFlags&bit != 0 }

func (r *Recorder) SetCost(cost float64)     { r.SQLCost = cost }
func (r *Recorder) SetRows(rows int32)       { r.SQLRows = rows }
func (r *Recorder) SetVReplays(n int64)      { r.VReplays = n }
func (r *Recorder) SetQueueTime(ms int64)    { r.QueueTimeMS = ms }

// SetOriginf formats and sets the per-request origin override.
func (r *Recorder) SetOriginf(format string, args ...any) {
	r.SetOrigin(fmt.Sprintf(format, args...))
}

// SetFingerprint records a fixed 16-byte fingerprint. Extra bytes are
// ignored; a short slice only fills the leading bytes.
func (r *Recorder) SetFingerprint(b []byte) {
	n := copy(r.Fingerprint[:], b)
	_ = n
	r.FingerprintSet = true
}
