// Copyright 2025 The AVROS Authors.
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

// Package hal models the hardware the kernel consumes: the global
// interrupt mask and the periodic match timer.
package hal

import "sync"

// IntrMask is the global interrupt-enable flag. Disable corresponds to
// cli, Enable to sei: while the mask is held, the tick interrupt cannot
// run, which is the only exclusion the kernel's mutators rely on.
//
// The mask is handed across control domains by the context switch — the
// side that disables is not always the side that re-enables — so it is a
// plain mutex, not an owner-checked lock. Disable does not nest.
type IntrMask struct {
	mu sync.Mutex
}

// Disable masks interrupts.
func (m *IntrMask) Disable() { m.mu.Lock() }

// Enable unmasks interrupts.
func (m *IntrMask) Enable() { m.mu.Unlock() }
