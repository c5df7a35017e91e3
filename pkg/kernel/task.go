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

import (
	"avros.dev/avros/pkg/cswitch"
)

const (
	// MaxThread is the number of task slots. The table is static; a
	// creation beyond this count fails with ErrMaxProcess.
	MaxThread = 16

	// Workspace is the size in bytes of each slot's private memory. The
	// workspace doubles as the task's stack.
	Workspace = 256

	// MinPriority is the lowest (numerically largest) valid priority.
	// Priority 0 is the highest. The value is recorded per task; the
	// dispatcher does not consult it.
	MinPriority = 10
)

// PID identifies a task. PIDs are assigned monotonically starting at 1 and
// never reused within a boot; zero means "no task".
type PID uint32

// Priority is a task's recorded priority, 0 (highest) to MinPriority.
type Priority uint8

// Code is a task body. A body that returns falls into the terminate stub
// laid down at the bottom of its stack.
type Code func()

// TaskState enumerates the five task states.
//
// Beyond describing where a task is in its lifecycle, the state acts as
// the ownership marker for the slot: only a DEAD slot may be handed to a
// creator, and only the RUNNING slot's stack is live on the machine.
type TaskState uint8

const (
	// Dead means the slot is free. A dead slot's workspace is considered
	// uninitialized and is cleared on the next creation.
	Dead TaskState = iota

	// Ready means the task is eligible for dispatch.
	Ready

	// Running means the task owns the processor. Exactly one slot is
	// RUNNING whenever the kernel is between a dispatch and the next
	// request.
	Running

	// Suspended means the task was taken out of the rotation by an
	// explicit suspend and stays out until resumed.
	Suspended

	// Sleeping means the task is waiting out a tick count. The remaining
	// ticks live in the slot's request argument; the timer ISR moves the
	// task back to Ready when the count runs out.
	Sleeping
)

// String implements fmt.Stringer.
func (s TaskState) String() string {
	switch s {
	case Dead:
		return "DEAD"
	case Ready:
		return "READY"
	case Running:
		return "RUNNING"
	case Suspended:
		return "SUSPENDED"
	case Sleeping:
		return "SLEEPING"
	default:
		return "UNKNOWN"
	}
}

// request is what a task wants the kernel to do on its behalf. The kernel
// clears the field before every resumption, so NONE doubles as "entered
// the kernel without asking", which happens when an interrupt routes
// through the kernel entry; it is treated as a yield.
type request uint8

const (
	reqNone request = iota
	reqCreate
	reqYield
	reqTerminate
	reqSuspend
	reqResume
	reqSleep
	reqHalt
)

func (r request) String() string {
	switch r {
	case reqNone:
		return "none"
	case reqCreate:
		return "create"
	case reqYield:
		return "yield"
	case reqTerminate:
		return "terminate"
	case reqSuspend:
		return "suspend"
	case reqResume:
		return "resume"
	case reqSleep:
		return "sleep"
	case reqHalt:
		return "halt"
	default:
		return "invalid"
	}
}

// taskDesc is the process descriptor for one slot.
type taskDesc struct {
	// pid is this task's identifier, or the stale identifier of the last
	// occupant while the slot is DEAD.
	pid PID

	// pri is the recorded priority. Not consulted by the dispatcher.
	pri Priority

	state   TaskState
	request request

	// requestArg is request-dependent: the target PID for suspend and
	// resume, the remaining tick count for sleep, and the created PID on
	// the way back from create. It is deliberately not cleared between
	// resumptions; a sleeper's remaining ticks live here across its whole
	// sleep.
	requestArg int

	// arg is the creation-time argument.
	arg int

	// code is the task body, also used for PID lookup by function.
	code Code

	// entry is code's vector in the synthetic text segment.
	entry cswitch.Vector

	// workspace is the slot's private memory; stack holds the live stack
	// pointer into it.
	workspace [Workspace]byte
	stack     *cswitch.Stack

	// gate is this task's half of the context-switch rendezvous.
	gate *cswitch.Gate
}
