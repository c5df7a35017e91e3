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

package kernel

import "fmt"

// TaskStat is a point-in-time snapshot of one task slot, the read surface
// an embedder polls the way a Linux tool reads a /proc stat line.
type TaskStat struct {
	// PID is the task identifier.
	PID PID

	// State is the task state at the time of the snapshot.
	State TaskState

	// Priority is the recorded priority.
	Priority Priority

	// SleepTicks is the remaining tick count for a SLEEPING task, zero
	// otherwise.
	SleepTicks int

	// StackFree is the number of unused workspace bytes below the saved
	// stack pointer.
	StackFree int
}

// String renders the snapshot as a single stat line.
func (s TaskStat) String() string {
	return fmt.Sprintf("%d %s pri=%d sleep=%d stackfree=%d",
		s.PID, s.State, s.Priority, s.SleepTicks, s.StackFree)
}

// Stat returns the snapshot for pid. The second result is false if no
// non-DEAD slot holds pid.
func (k *Kernel) Stat(pid PID) (TaskStat, bool) {
	k.intr.Disable()
	defer k.intr.Enable()
	for i := range k.process {
		p := &k.process[i]
		if p.pid == pid && p.state != Dead {
			return k.statLocked(p), true
		}
	}
	return TaskStat{}, false
}

// Stats returns snapshots of every non-DEAD slot in table order.
func (k *Kernel) Stats() []TaskStat {
	k.intr.Disable()
	defer k.intr.Enable()
	var out []TaskStat
	for i := range k.process {
		p := &k.process[i]
		if p.state == Dead {
			continue
		}
		out = append(out, k.statLocked(p))
	}
	return out
}

func (k *Kernel) statLocked(p *taskDesc) TaskStat {
	s := TaskStat{
		PID:      p.pid,
		State:    p.state,
		Priority: p.pri,
	}
	if p.state == Sleeping {
		s.SleepTicks = p.requestArg
	}
	if p.stack != nil {
		s.StackFree = p.stack.SP() + 1
	}
	return s
}
