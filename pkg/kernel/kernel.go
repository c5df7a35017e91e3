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

// Package kernel implements a fixed-capacity cooperative real-time kernel:
// a static table of task slots with per-slot stacks, a round-robin
// dispatcher over five task states, a request loop that services one
// system call per task resumption, and a tick interrupt that wakes
// sleepers.
//
// One CPU, one kernel: all state lives in a single Kernel value
// constructed by New. Mutual exclusion against the tick interrupt comes
// from the interrupt mask, not from per-field locks — every mutator runs
// with interrupts disabled, and the only code that touches task state from
// interrupt context is the tick ISR.
package kernel

import (
	"time"

	"github.com/zoobzio/clockz"
	"gvisor.dev/gvisor/pkg/atomicbitops"

	"avros.dev/avros/pkg/cswitch"
	"avros.dev/avros/pkg/hal"
)

// Options configures a Kernel.
type Options struct {
	// Clock drives the tick timer. Defaults to the real clock.
	Clock clockz.Clock

	// TickPeriod overrides the board's timer match period. Zero keeps
	// the hardware-derived default of about 10 ms.
	TickPeriod time.Duration
}

// Kernel is the process-wide kernel object.
type Kernel struct {
	machine *cswitch.Machine
	vectors *cswitch.VectorTable
	intr    hal.IntrMask
	timer   *hal.Timer

	// termVec is the terminate stub's vector; it sits at the bottom of
	// every synthesized stack to catch bodies that return.
	termVec cswitch.Vector

	// process is the task table. Everything below is guarded by the
	// interrupt mask.
	process [MaxThread]taskDesc

	// cp is the slot index of the current task, valid from the first
	// dispatch onward.
	cp int

	// nextP is the dispatcher's rotation cursor.
	nextP int

	// tasks counts non-DEAD slots.
	tasks int

	// lastPID is the highest PID assigned so far.
	lastPID PID

	// kernelActive is false between New and Start, true thereafter.
	kernelActive bool

	// halted is set once a halt request has torn the kernel down.
	halted bool

	// errCode is the sticky result of the last kernel operation.
	errCode ErrorCode

	// tickCount counts timer matches. It is an atomic so stat readers in
	// any control domain can sample it without opening the interrupt
	// window.
	tickCount atomicbitops.Uint64

	metrics *Metrics
}

// New constructs the kernel with every slot DEAD. It must be called before
// any other operation; the returned handle is the only way at the kernel.
func New(opts Options) *Kernel {
	k := &Kernel{
		machine: cswitch.NewMachine(),
		vectors: cswitch.NewVectorTable(),
		cp:      -1,
		metrics: newMetrics(),
	}
	k.termVec = k.vectors.Register(k.Terminate)
	k.timer = hal.NewTimer(opts.Clock, opts.TickPeriod, &k.intr, k.tick)
	for i := range k.process {
		k.process[i] = taskDesc{state: Dead}
	}
	return k
}

// Start turns the kernel on: it arms the tick timer and enters the request
// loop, dispatching the first READY task. Start does not return while the
// kernel runs; it comes back only after a task requests Halt. Calling
// Start twice, or with no tasks created, silently returns.
func (k *Kernel) Start() {
	k.intr.Disable()
	if k.kernelActive || k.tasks == 0 {
		k.intr.Enable()
		return
	}
	k.timer.Start()
	k.kernelActive = true
	k.nextKernelRequest()
	// Only a halt request breaks the loop. Release the mask so a match
	// already waiting on it can drain, then reap the peripheral.
	k.intr.Enable()
	k.timer.Wait()
}

// Err returns the sticky error code of the last kernel operation.
func (k *Kernel) Err() ErrorCode {
	k.intr.Disable()
	defer k.intr.Enable()
	return k.errCode
}

// ClearErr resets the sticky error code. Callers that treat Err as sticky
// clear it before the operation they care about.
func (k *Kernel) ClearErr() {
	k.intr.Disable()
	defer k.intr.Enable()
	k.errCode = NoErr
}

// Active reports whether Start has been called.
func (k *Kernel) Active() bool {
	k.intr.Disable()
	defer k.intr.Enable()
	return k.kernelActive
}

// Tasks returns the number of non-DEAD slots.
func (k *Kernel) Tasks() int {
	k.intr.Disable()
	defer k.intr.Enable()
	return k.tasks
}

// TickCount returns the number of timer matches delivered so far.
func (k *Kernel) TickCount() uint64 {
	return k.tickCount.Load()
}

// Metrics returns the kernel's metric set for registration.
func (k *Kernel) Metrics() *Metrics {
	return k.metrics
}

// TickPeriod returns the armed timer period.
func (k *Kernel) TickPeriod() time.Duration {
	return k.timer.Period()
}
