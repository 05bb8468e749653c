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

// Package eventlog implements the Recorder's ordered, append-only sequence
// of captured trace events. Nodes are arena-allocated by the caller; this
// package only links them.
package eventlog

// Kind tags which variant a Node carries.
type Kind uint8

const (
	KindPushPrefix Kind = iota
	KindPopPrefix
	KindPopPrefixAll
	KindPrint
)

// Node is one entry in the event log. Class is only meaningful for
// KindPrint; it carries the event-class bit the line was logged under so
// replay can filter per-sink.
type Node struct {
	Kind  Kind
	Class uint32
	Text  string
	next  *Node
}

// Log is an intrusive singly linked list with head/tail pointers for O(1)
// append. Not safe for concurrent use — exclusive to one Recorder for one
// request's lifetime.
type Log struct {
	head, tail *Node
	count      int
}

// Append links n onto the tail in O(1).
func (l *Log) Append(n *Node) {
	if l.tail == nil {
		l.head, l.tail = n, n
	} else {
		l.tail.next = n
		l.tail = n
	}
	l.count++
}

// Reset clears the list. Arena-backed nodes are reclaimed by the arena's
// own FreeAll, not by this call.
func (l *Log) Reset() {
	l.head, l.tail = nil, nil
	l.count = 0
}

// Len reports the number of linked nodes.
func (l *Log) Len() int { return l.count }

// Each walks the list in insertion order, stopping early if f returns false.
func (l *Log) Each(f func(*Node) bool) {
	for n := l.head; n != nil; n = n.next {
		if !f(n) {
			return
		}
	}
}
