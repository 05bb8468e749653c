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

package rules

import "sync/atomic"

// atomic4 publishes a MasterMask value for lock-free reads. Grounded on the
// teacher's VSA.cachedNet/runAggregator split: writers recompute under a
// lock and publish via a single atomic store; readers load without ever
// taking that lock.
type atomic4 struct {
	p atomic.Pointer[MasterMask]
}

func (a *atomic4) store(m MasterMask) {
	a.p.Store(&m)
}

func (a *atomic4) load() MasterMask {
	p := a.p.Load()
	if p == nil {
		return MasterMask{AllRequests: true}
	}
	return *p
}
