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

// Package rules implements the global, reconfigurable rule set that decides
// which completed requests get fanned out to which sinks, plus the derived
// "master mask" the hot path consults lock-free.
//
// Grounded on the teacher's single-mutex-guarded mutation surface (Store /
// Worker each own exactly one critical section for their state) and on
// persistence.BuildPersister's switch-on-verb dispatch table, generalized
// here from "select a persister" to "mutate rule/threshold state by verb"
// (see internal/admin).
package rules

import (
	"strings"
	"sync"

	"dbtrace/internal/sinks"
)

// Range is an inclusive [From,To] bound; -1 on either side means unbounded
// on that side.
type Range struct {
	From, To int64
}

// Contains reports whether v satisfies the range (always true for an
// all-unbounded Range).
func (r Range) Contains(v int64) bool {
	if r.From == -1 && r.To == -1 {
		return true
	}
	if r.From != -1 && v < r.From {
		return false
	}
	if r.To != -1 && v > r.To {
		return false
	}
	return true
}

// IntList is a bounded list of up to 32 integers plus a polarity flag:
// InSet=true means membership is required; InSet=false means the listed
// values are excluded (and every other value is accepted).
type IntList struct {
	Values []int32
	InSet  bool
}

// MaxIntListLen bounds a Rule's opcode/rc list.
const MaxIntListLen = 32

// Contains reports whether v satisfies the list (empty list accepts all
// values, per §4.G.2).
func (l IntList) Contains(v int32) bool {
	if len(l.Values) == 0 {
		return true
	}
	found := false
	for _, x := range l.Values {
		if x == v {
			found = true
			break
		}
	}
	if l.InSet {
		return found
	}
	return !found
}

// Event class bits (§3 "mask ... over event classes").
const (
	ClassTRACE uint32 = 1 << iota
	ClassINFO
	ClassRESULTS
	ClassQUERY
)

// Rule is one entry in the global ordered rule list (§3 "Rule").
type Rule struct {
	Name           string
	Active         bool
	CountRemaining int64 // <=0 means unlimited
	Duration       Range
	Retries        Range
	VReplays       Range
	SQLCost        Range
	SQLRows        Range
	RCList         IntList
	OpcodeList     IntList
	TableName      string // "" means no table filter
	StmtSubstr     string // "" means no statement filter
	EventMask      uint32
	Sink           *sinks.Sink

	// SQLOnly restricts the rule to SQL requests (admin `sql` attribute).
	// Consulted by the dispatcher, which knows the Recorder's request type;
	// this package only stores the bit.
	SQLOnly bool
}

// DefaultRuleName is the name the spec reserves for the default rule.
const DefaultRuleName = "0"

// MaxStmtSubstrs bounds the master mask's distinct substring set.
const MaxStmtSubstrs = 16

// MasterMask is the derived, lock-freely-read digest of what the active
// rule set currently cares about (§4.F).
type MasterMask struct {
	EventMask    uint32
	TrackTables  bool
	AllRequests  bool
	OpcodeAllow  IntList
	OpcodeBlock  IntList
	StmtSubstrs  []string
}

// Matches reports whether a request with the given opcode/statement text
// should have capture enabled under this master mask.
func (m MasterMask) Matches(opcode int32, stmt string) bool {
	if m.AllRequests {
		return true
	}
	if len(m.OpcodeAllow.Values) > 0 && m.OpcodeAllow.Contains(opcode) {
		return true
	}
	if len(m.OpcodeBlock.Values) > 0 && m.OpcodeBlock.Contains(opcode) {
		return true
	}
	for _, sub := range m.StmtSubstrs {
		if sub != "" && strings.Contains(stmt, sub) {
			return true
		}
	}
	return false
}

// Set is the global ordered rule list, guarded by one mutex (rules_mutex in
// the spec). A Set owns the current MasterMask, recomputed on every
// mutation and read lock-free by callers via Mask().
type Set struct {
	mu    sync.Mutex
	order []string // preserves rule insertion/evaluation order
	byName map[string]*Rule

	mask atomic4 // see mask.go: lock-free published MasterMask
}

// New returns an empty Set with a freshly recomputed mask: with no active
// rule, AllRequests is true and every other field is zero.
func New() *Set {
	s := &Set{byName: make(map[string]*Rule)}
	s.scan()
	return s
}

// CreateOrLookup returns the named rule, creating it (inactive, unbounded)
// if it does not already exist. Per §4.F, names starting with a digit or
// '.' are reserved for the admin surface's bare-name rule shorthand, but
// this package does not enforce that naming convention itself — it is the
// admin layer's concern.
func (s *Set) CreateOrLookup(name string) *Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.byName[name]; ok {
		return r
	}
	r := &Rule{
		Name:       name,
		Duration:   Range{-1, -1},
		Retries:    Range{-1, -1},
		VReplays:   Range{-1, -1},
		SQLCost:    Range{-1, -1},
		SQLRows:    Range{-1, -1},
	}
	s.byName[name] = r
	s.order = append(s.order, name)
	return r
}

// Delete removes the named rule. Always recomputes the master mask.
func (s *Set) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(name)
	s.scanLocked()
}

func (s *Set) deleteLocked(name string) {
	if _, ok := s.byName[name]; !ok {
		return
	}
	delete(s.byName, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Mutate runs f, then recomputes the master mask. Every admin verb that
// changes rule state goes through this single choke point so scan() always
// runs after a mutation (§4.F: "After any mutation, scan_rules recomputes
// the master mask"). f is expected to call the Set's own locking mutators
// (CreateOrLookup, Delete) and otherwise mutate *Rule fields directly — the
// admin surface is the single serial caller of Mutate, so those field
// writes need no lock of their own; scan()'s own lock/unlock pair at the end
// is what publishes them to lock-free Mask() readers.
func (s *Set) Mutate(f func(*Set)) {
	f(s)
	s.scan()
}

// Each walks active rules in evaluation order, stopping early if f returns
// false. Must be called with the lock held by the caller (used internally
// by dispatch via WithLock).
func (s *Set) eachLocked(f func(*Rule) bool) {
	for _, name := range s.order {
		r := s.byName[name]
		if r == nil {
			continue
		}
		if !f(r) {
			return
		}
	}
}

// WithLock runs f with rules_mutex held, exposing the ordered rule walk to
// the dispatcher for end-of-request evaluation (§4.G.2). remove deletes the
// named rule and returns the sink it held (nil if the rule didn't exist or
// held none), so the caller can release that reference.
func (s *Set) WithLock(f func(each func(func(*Rule) bool), remove func(string) *sinks.Sink)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	remove := func(name string) *sinks.Sink {
		r, ok := s.byName[name]
		if !ok {
			return nil
		}
		s.deleteLocked(name)
		return r.Sink
	}
	f(s.eachLocked, remove)
	// A count_remaining auto-delete during evaluation is a mutation like any
	// other admin verb, so the master mask is recomputed unconditionally.
	s.scanLocked()
}

// scan recomputes and publishes the master mask; callers must not hold the
// lock (it takes it itself). scanLocked is the lock-already-held variant
// Mutate/Delete use internally.
func (s *Set) scan() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanLocked()
}

func (s *Set) scanLocked() {
	var m MasterMask
	var allowOp, blockOp []int32
	substrSeen := map[string]bool{}

	anyOverflow := false
	anyActive := false
	for _, name := range s.order {
		r := s.byName[name]
		if r == nil || !r.Active {
			continue
		}
		anyActive = true
		m.EventMask |= r.EventMask
		if r.TableName != "" {
			m.TrackTables = true
		}
		hasOpcodeCriteria := len(r.OpcodeList.Values) > 0
		if !hasOpcodeCriteria && r.StmtSubstr == "" {
			m.AllRequests = true
		}
		if hasOpcodeCriteria {
			if len(r.OpcodeList.Values) > MaxIntListLen {
				// Overflow: per §4.F, exceeding the opcode list limit forces
				// all_requests=true rather than narrowing capture.
				anyOverflow = true
			} else if r.OpcodeList.InSet {
				allowOp = append(allowOp, r.OpcodeList.Values...)
			} else {
				blockOp = append(blockOp, r.OpcodeList.Values...)
			}
		}
		if r.StmtSubstr != "" {
			if !substrSeen[r.StmtSubstr] {
				substrSeen[r.StmtSubstr] = true
				m.StmtSubstrs = append(m.StmtSubstrs, r.StmtSubstr)
			}
		}
	}
	// all_requests is set above per-rule: true as soon as any single active
	// rule supplies neither opcode nor statement criteria, per reqlog.c's
	// scanrules_ll (log_all_reqs goes true on the first such rule, never
	// cleared by a later, more selective one).
	if len(m.StmtSubstrs) > MaxStmtSubstrs {
		m.AllRequests = true
		m.StmtSubstrs = m.StmtSubstrs[:MaxStmtSubstrs]
	}
	if anyOverflow {
		m.AllRequests = true
	}
	// With no active rule, all_requests keeps its starting value of true.
	if !anyActive {
		m.AllRequests = true
	}
	m.OpcodeAllow = IntList{Values: allowOp, InSet: true}
	m.OpcodeBlock = IntList{Values: blockOp, InSet: false}

	s.mask.store(m)
}

// RuleSnapshot is a read-only copy of a Rule's admin-visible fields, used by
// the `stat` admin verb to dump rule state without holding the rules lock
// for the duration of a log write.
type RuleSnapshot struct {
	Name           string
	Active         bool
	CountRemaining int64
	EventMask      uint32
	Sink           string // filename, or "" for the default sink
}

// Snapshot returns a point-in-time copy of every rule, in evaluation order.
func (s *Set) Snapshot() []RuleSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RuleSnapshot, 0, len(s.order))
	for _, name := range s.order {
		r := s.byName[name]
		if r == nil {
			continue
		}
		filename := ""
		if r.Sink != nil {
			filename = r.Sink.Filename()
		}
		out = append(out, RuleSnapshot{
			Name:           r.Name,
			Active:         r.Active,
			CountRemaining: r.CountRemaining,
			EventMask:      r.EventMask,
			Sink:           filename,
		})
	}
	return out
}

// Mask returns the currently published master mask without taking the
// rules lock — readers may observe a momentarily stale snapshot, which the
// spec accepts (§5 "Lock-free reads").
func (s *Set) Mask() MasterMask {
	return s.mask.load()
}
