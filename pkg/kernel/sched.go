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
	"runtime"

	"gvisor.dev/gvisor/pkg/log"

	"avros.dev/avros/pkg/cswitch"
)

// findSlotByPID returns the slot index holding pid, or -1. The scan covers
// DEAD slots too: a stale PID left on a DEAD slot is found here and then
// rejected by the per-operation state check.
func (k *Kernel) findSlotByPID(pid PID) int {
	for i := range k.process {
		if k.process[i].pid == pid {
			return i
		}
	}
	return -1
}

// createTask allocates the first DEAD slot and synthesizes its initial
// stack: the terminate stub's return address at the very bottom, the entry
// vector above it, and a full register frame on top, so the first
// switch-in pops registers and "returns" into the body. Returns the new
// PID, or zero with ErrMaxProcess when the table is full.
//
// Preconditions: interrupts disabled.
func (k *Kernel) createTask(f Code, pri Priority, arg int) PID {
	if k.tasks == MaxThread {
		k.errCode = ErrMaxProcess
		return 0
	}

	var x int
	for x = 0; x < MaxThread; x++ {
		if k.process[x].state == Dead {
			break
		}
	}

	k.tasks++
	p := &k.process[x]

	for i := range p.workspace {
		p.workspace[i] = 0
	}
	st := cswitch.NewStack(p.workspace[:])

	// The stub at the bottom of the stack catches a body that runs off
	// its end: the return past the body lands in Terminate.
	st.PushReturnAddress(k.termVec)

	entry := k.vectors.Register(f)
	st.PushReturnAddress(entry)

	frame := cswitch.InitFrame()
	st.PushFrame(&frame)

	k.lastPID++
	p.pid = k.lastPID
	p.pri = pri
	p.arg = arg
	p.request = reqNone
	p.state = Ready
	p.code = f
	p.entry = entry
	p.stack = st
	p.gate = cswitch.NewGate()

	go k.run(x)

	k.metrics.liveTasks.Inc()
	k.errCode = NoErr
	return p.pid
}

// run hosts one task slot. It parks until the first switch-in, then plays
// the return half of the context switch against the synthesized stack:
// pop the register frame, restore the interrupt flag from the saved status
// register, and land at the entry vector. A body that returns falls
// through to the stub laid down beneath it.
func (k *Kernel) run(slot int) {
	p := &k.process[slot]
	if !p.gate.Park() {
		// Torn down before ever running.
		return
	}

	st := p.stack
	st.SetSP(k.machine.CurrentSp())
	st.PopFrame(&k.machine.Regs)
	if k.machine.Regs.Sreg()&cswitch.SregI != 0 {
		k.intr.Enable()
	}
	entry := st.PopReturnAddress()
	k.vectors.Handler(entry)()

	// The body returned. Consume the stub's return address under the
	// mask — the stack pointer is shared with stat readers.
	k.intr.Disable()
	stub := st.PopReturnAddress()
	k.intr.Enable()
	k.vectors.Handler(stub)()
}

// dispatch selects the next task to run. Starting from the rotation
// cursor it advances until it finds a READY slot; after a full sweep with
// nothing ready it opens the interrupt window so the tick ISR can wake a
// sleeper, then keeps searching. Priority is not consulted.
//
// Preconditions: interrupts disabled. On return the chosen slot is
// RUNNING, cp points at it, and the CurrentSp latch holds its saved stack
// pointer.
func (k *Kernel) dispatch() {
	i := 0
	for k.process[k.nextP].state != Ready {
		k.nextP = (k.nextP + 1) % MaxThread
		i++
		if i > MaxThread {
			// Nothing is ready: idle with the window open until an
			// interrupt makes a task runnable. A wait-for-interrupt
			// instruction would go here on hardware.
			k.intr.Enable()
			runtime.Gosched()
			k.intr.Disable()
			i = 0
		}
	}

	k.cp = k.nextP
	p := &k.process[k.cp]
	k.machine.SetCurrentSp(p.stack.SP())
	p.state = Running

	// Step the cursor past the chosen slot so successive dispatches
	// rotate.
	k.nextP = (k.nextP + 1) % MaxThread

	k.metrics.dispatches.Inc()
}

// nextKernelRequest is the kernel's main loop: resume the current task,
// wait for it to re-enter the kernel, service its one request, repeat.
// Only a halt request breaks out.
//
// Preconditions: interrupts disabled, at least one READY task.
func (k *Kernel) nextKernelRequest() {
	k.dispatch()

	for {
		cp := &k.process[k.cp]

		cp.request = reqNone
		// requestArg is left alone: a sleeper's remaining ticks are
		// parked there across its whole sleep.

		k.machine.SetCurrentSp(cp.stack.SP())
		k.machine.ExitKernel(cp.gate)

		// The task re-entered the kernel. Bank its stack pointer and
		// service the request it recorded.
		cp.stack.SetSP(k.machine.CurrentSp())

		k.metrics.syscalls.WithLabelValues(cp.request.String()).Inc()

		switch cp.request {
		case reqCreate:
			// The caller parked the new task's parameters in its own
			// descriptor. It stays current; the created PID rides back
			// in its request argument, zero on failure.
			cp.requestArg = int(k.createTask(cp.code, cp.pri, cp.arg))

		case reqTerminate:
			cp.state = Dead
			k.tasks--
			cp.gate.Close()
			k.metrics.liveTasks.Dec()
			k.dispatch()

		case reqSuspend:
			k.suspendTask()

		case reqResume:
			k.resumeTask()

		case reqSleep:
			// requestArg already holds the tick count.
			cp.state = Sleeping
			k.dispatch()

		case reqYield, reqNone:
			// NONE means the kernel was entered by an interrupt rather
			// than a deliberate call; treat it as a yield.
			cp.state = Ready
			k.dispatch()

		case reqHalt:
			k.halt()
			return

		default:
			k.errCode = ErrInvalidKernelRequest
		}
	}
}

// suspendTask takes the current task's target out of the READY rotation.
// Only a READY task can be suspended: the caller itself is RUNNING at this
// point, so a task cannot suspend itself through this path.
func (k *Kernel) suspendTask() {
	x := k.findSlotByPID(PID(k.process[k.cp].requestArg))
	if x < 0 {
		log.Debugf("suspend: no task with pid %d", k.process[k.cp].requestArg)
		k.errCode = ErrPIDNotFound
		return
	}
	p := &k.process[x]
	if p.state != Ready {
		log.Debugf("suspend: task %d is %v, not READY", p.pid, p.state)
		k.errCode = ErrSuspendNonReadyTask
		return
	}
	p.state = Suspended
	k.errCode = NoErr
}

// resumeTask puts a SUSPENDED target back into the rotation.
func (k *Kernel) resumeTask() {
	x := k.findSlotByPID(PID(k.process[k.cp].requestArg))
	if x < 0 {
		log.Debugf("resume: no task with pid %d", k.process[k.cp].requestArg)
		k.errCode = ErrPIDNotFound
		return
	}
	p := &k.process[x]
	if p.state != Suspended {
		log.Debugf("resume: task %d is %v, not SUSPENDED", p.pid, p.state)
		k.errCode = ErrResumeNonSuspendedTask
		return
	}
	p.state = Ready
	k.errCode = NoErr
}

// tick is the timer match ISR. It walks every slot, counts sleepers down,
// and returns expired ones to READY. It never dispatches: control goes
// back to whatever the interrupt cut into, and the dispatcher picks up the
// newly READY slot on its next pass.
//
// Runs with the interrupt mask held.
func (k *Kernel) tick() {
	k.tickCount.Add(1)
	k.metrics.ticks.Inc()
	for i := range k.process {
		if k.process[i].state != Sleeping {
			continue
		}
		if k.process[i].requestArg--; k.process[i].requestArg <= 0 {
			k.process[i].state = Ready
			k.metrics.wakeups.Inc()
		}
	}
}

// halt tears the kernel down: disarm the timer and close every live gate
// so parked tasks unwind. Slots keep their final states for post-mortem
// inspection; kernelActive stays set, so the kernel cannot be restarted.
func (k *Kernel) halt() {
	k.timer.Stop()
	for i := range k.process {
		p := &k.process[i]
		if p.state != Dead && p.gate != nil {
			p.gate.Close()
		}
	}
	k.halted = true
}
