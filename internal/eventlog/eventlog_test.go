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

package eventlog

import "testing"

func Test_AppendPreservesOrder(t *testing.T) {
	var l Log
	l.Append(&Node{Kind: KindPushPrefix, Text: "a"})
	l.Append(&Node{Kind: KindPrint, Text: "b"})
	l.Append(&Node{Kind: KindPopPrefix})

	var got []string
	l.Each(func(n *Node) bool {
		got = append(got, n.Text)
		return true
	})
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "" {
		t.Fatalf("unexpected order: %v", got)
	}
	if l.Len() != 3 {
		t.Fatalf("expected count 3, got %d", l.Len())
	}
}

func Test_ResetClearsList(t *testing.T) {
	var l Log
	l.Append(&Node{})
	l.Reset()
	if l.Len() != 0 {
		t.Fatalf("expected empty after reset")
	}
	count := 0
	l.Each(func(*Node) bool { count++; return true })
	if count != 0 {
		t.Fatalf("expected no nodes after reset, got %d", count)
	}
}

func Test_EachStopsEarly(t *testing.T) {
	var l Log
	l.Append(&Node{Text: "1"})
	l.Append(&Node{Text: "2"})
	l.Append(&Node{Text: "3"})
	var seen []string
	l.Each(func(n *Node) bool {
		seen = append(seen, n.Text)
		return n.Text != "2"
	})
	if len(seen) != 2 {
		t.Fatalf("expected early stop after 2 nodes, got %v", seen)
	}
}
