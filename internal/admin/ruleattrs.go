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

package admin

import (
	"fmt"
	"strconv"
	"strings"

	"dbtrace/internal/rules"
	"dbtrace/internal/sinks"
)

// applyRuleCommand handles `[rulename] <attr...>`: tokens[0] is the rule
// name (created on first reference), tokens[1:] are space-separated
// attribute verbs, some of which consume a following value token.
func (a *Admin) applyRuleCommand(tokens []string) error {
	name := tokens[0]
	rule := a.Rules.CreateOrLookup(name)

	i := 1
	for i < len(tokens) {
		attr := tokens[i]
		consumed, err := a.applyOneAttr(rule, attr, tokens[i+1:])
		if err != nil {
			a.Rules.Mutate(func(*rules.Set) {}) // attributes applied so far take effect
			return fmt.Errorf("rule %s: %w", name, err)
		}
		i += 1 + consumed
		if attr == "delete" {
			return nil // Delete already recomputed the master mask.
		}
	}
	a.Rules.Mutate(func(*rules.Set) {}) // no-op body; triggers the rescan.
	return nil
}

// applyOneAttr applies a single attribute verb, returning how many of the
// trailing args it consumed (0 for bare flags, 1 for "<verb> value").
func (a *Admin) applyOneAttr(rule *rules.Rule, attr string, args []string) (int, error) {
	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%q requires a value", attr)
		}
		return nil
	}
	switch attr {
	case "go":
		rule.Active = true
		return 0, nil
	case "stop":
		rule.Active = false
		return 0, nil
	case "delete":
		a.Rules.Delete(rule.Name)
		return 0, nil
	case "stdout":
		a.rebindSink(rule, a.Sinks.Default())
		return 0, nil
	case "sql":
		rule.SQLOnly = true
		return 0, nil
	case "trace":
		rule.EventMask |= rules.ClassTRACE
		return 0, nil
	case "results":
		rule.EventMask |= rules.ClassRESULTS
		return 0, nil
	case "cnt":
		if err := need(1); err != nil {
			return 0, err
		}
		n, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return 1, fmt.Errorf("cnt: %w", err)
		}
		rule.CountRemaining = n
		return 1, nil
	case "file":
		if err := need(1); err != nil {
			return 0, err
		}
		a.rebindSink(rule, a.Sinks.Get(args[0]))
		return 1, nil
	case "ms":
		return applyRange(args, attr, &rule.Duration)
	case "retries":
		return applyRange(args, attr, &rule.Retries)
	case "vreplays":
		return applyRange(args, attr, &rule.VReplays)
	case "cost":
		return applyRange(args, attr, &rule.SQLCost)
	case "rows":
		return applyRange(args, attr, &rule.SQLRows)
	case "stmt":
		if err := need(1); err != nil {
			return 0, err
		}
		text, err := unquoteStmt(args[0])
		if err != nil {
			return 1, err
		}
		rule.StmtSubstr = text
		return 1, nil
	case "table":
		if err := need(1); err != nil {
			return 0, err
		}
		rule.TableName = args[0]
		return 1, nil
	case "opcode":
		if err := need(1); err != nil {
			return 0, err
		}
		code, inSet, err := a.resolveOpcode(args[0])
		if err != nil {
			return 1, err
		}
		rule.OpcodeList.Values = append(rule.OpcodeList.Values, code)
		rule.OpcodeList.InSet = inSet
		return 1, nil
	case "rc":
		if err := need(1); err != nil {
			return 0, err
		}
		code, inSet, err := parsePolarizedInt(args[0])
		if err != nil {
			return 1, fmt.Errorf("rc: %w", err)
		}
		rule.RCList.Values = append(rule.RCList.Values, code)
		rule.RCList.InSet = inSet
		return 1, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownVerb, attr)
	}
}

// rebindSink swaps rule's sink for next, dereferencing whatever it held
// before. next must already carry its own reference (from Sinks.Get or
// Sinks.Default), which rebindSink takes ownership of on the rule's behalf.
func (a *Admin) rebindSink(rule *rules.Rule, next *sinks.Sink) {
	old := rule.Sink
	rule.Sink = next
	a.Sinks.Deref(old)
}

// applyRange parses args[0] as a range and stores it into dst, returning
// (1, nil) on success.
func applyRange(args []string, attr string, dst *rules.Range) (int, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("%q requires a value", attr)
	}
	rng, err := parseRange(args[0])
	if err != nil {
		return 1, fmt.Errorf("%s: %w", attr, err)
	}
	*dst = rng
	return 1, nil
}

// parseRange parses the §4.I range syntax: "N+" (>=N), "N-" (<=N), "N..M"
// (inclusive), or a bare "N" (exactly N).
func parseRange(s string) (rules.Range, error) {
	if idx := strings.Index(s, ".."); idx >= 0 {
		from, err1 := strconv.ParseInt(s[:idx], 10, 64)
		to, err2 := strconv.ParseInt(s[idx+2:], 10, 64)
		if err1 != nil || err2 != nil {
			return rules.Range{}, fmt.Errorf("%w: %q", ErrBadRange, s)
		}
		return rules.Range{From: from, To: to}, nil
	}
	if strings.HasSuffix(s, "+") {
		n, err := strconv.ParseInt(strings.TrimSuffix(s, "+"), 10, 64)
		if err != nil {
			return rules.Range{}, fmt.Errorf("%w: %q", ErrBadRange, s)
		}
		return rules.Range{From: n, To: -1}, nil
	}
	if strings.HasSuffix(s, "-") {
		n, err := strconv.ParseInt(strings.TrimSuffix(s, "-"), 10, 64)
		if err != nil {
			return rules.Range{}, fmt.Errorf("%w: %q", ErrBadRange, s)
		}
		return rules.Range{From: -1, To: n}, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return rules.Range{}, fmt.Errorf("%w: %q", ErrBadRange, s)
	}
	return rules.Range{From: n, To: n}, nil
}

// unquoteStmt parses the §4.I `stmt 'T'` syntax: single or double quotes,
// with the quote character doubled to escape a literal occurrence inside
// the text.
func unquoteStmt(tok string) (string, error) {
	if len(tok) < 2 {
		return "", fmt.Errorf("statement must be quoted: %q", tok)
	}
	q := tok[0]
	if q != '\'' && q != '"' {
		return "", fmt.Errorf("statement must be quoted: %q", tok)
	}
	if tok[len(tok)-1] != q {
		return "", fmt.Errorf("unterminated quote: %q", tok)
	}
	body := tok[1 : len(tok)-1]
	doubled := string(q) + string(q)
	return strings.ReplaceAll(body, doubled, string(q)), nil
}

// resolveOpcode resolves a `[!]NAME` opcode token via the configured
// taxonomy (falling back to parsing NAME as a bare integer when no
// taxonomy is wired), returning (code, inSet, error).
func (a *Admin) resolveOpcode(tok string) (int32, bool, error) {
	code, inSet, err := parsePolarizedName(tok, a.Taxonomy)
	if err != nil {
		return 0, false, fmt.Errorf("opcode: %w", err)
	}
	return code, inSet, nil
}

func parsePolarizedName(tok string, taxonomy interface {
	Opcode(string) (int32, bool)
}) (int32, bool, error) {
	inSet := true
	name := tok
	if strings.HasPrefix(tok, "!") {
		inSet = false
		name = tok[1:]
	}
	if taxonomy != nil {
		if code, ok := taxonomy.Opcode(name); ok {
			return code, inSet, nil
		}
	}
	n, err := strconv.ParseInt(name, 10, 32)
	if err != nil {
		return 0, false, fmt.Errorf("unknown opcode %q", name)
	}
	return int32(n), inSet, nil
}

func parsePolarizedInt(tok string) (int32, bool, error) {
	inSet := true
	text := tok
	if strings.HasPrefix(tok, "!") {
		inSet = false
		text = tok[1:]
	}
	n, err := strconv.ParseInt(text, 10, 32)
	if err != nil {
		return 0, false, err
	}
	return int32(n), inSet, nil
}
