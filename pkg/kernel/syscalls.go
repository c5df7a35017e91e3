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
	"reflect"
	"runtime"

	"gvisor.dev/gvisor/pkg/log"
)

// enterKernel records nothing itself: the caller has already filled in the
// current descriptor's request fields under the disabled mask. It performs
// the switch and, on resumption, restores the task's interrupt flag. A
// task whose slot died while it was parked unwinds here and never returns.
func (k *Kernel) enterKernel(cp *taskDesc) {
	if !k.machine.EnterKernel(cp.stack, cp.gate) {
		// The slot is DEAD or the kernel halted. The mask stays with
		// the kernel side; just unwind the goroutine.
		runtime.Goexit()
	}
	k.intr.Enable()
}

// CreateTask creates a new task running f with the given recorded priority
// and creation argument.
//
// Before Start it creates synchronously. Afterwards it must be called from
// a running task: the caller's descriptor carries the parameters into the
// kernel, clobbering the caller's own code, priority and argument fields,
// and the new PID rides back in the caller's request argument.
//
// Returns the new PID, or zero when the table is full (ErrMaxProcess).
func (k *Kernel) CreateTask(f Code, pri Priority, arg int) PID {
	k.intr.Disable()

	if !k.kernelActive {
		pid := k.createTask(f, pri, arg)
		k.intr.Enable()
		return pid
	}

	cp := &k.process[k.cp]
	cp.pri = pri
	cp.arg = arg
	cp.code = f
	cp.request = reqCreate
	k.enterKernel(cp)

	if k.Err() == ErrMaxProcess {
		log.Debugf("create: process table is at its threshold of %d", MaxThread)
		return 0
	}
	return PID(cp.requestArg)
}

// Yield gives up the processor voluntarily. The caller goes back to READY
// and re-enters the rotation at its slot position.
func (k *Kernel) Yield() {
	k.intr.Disable()
	if !k.kernelActive {
		k.errCode = ErrKernelInactive
		k.intr.Enable()
		return
	}
	cp := &k.process[k.cp]
	cp.request = reqYield
	k.enterKernel(cp)
}

// Terminate ends the calling task. Once the kernel is running it does not
// return: the slot goes DEAD and its goroutine unwinds. Before Start it
// sets ErrKernelInactive and returns.
func (k *Kernel) Terminate() {
	k.intr.Disable()
	if !k.kernelActive {
		k.errCode = ErrKernelInactive
		k.intr.Enable()
		return
	}
	cp := &k.process[k.cp]
	cp.request = reqTerminate
	k.enterKernel(cp)
	panic("terminated task resumed")
}

// Suspend takes the READY task identified by pid out of the rotation.
// Failures land in Err: ErrPIDNotFound for an unknown pid,
// ErrSuspendNonReadyTask for a target in any other state.
func (k *Kernel) Suspend(pid PID) {
	k.intr.Disable()
	if !k.kernelActive {
		k.errCode = ErrKernelInactive
		k.intr.Enable()
		return
	}
	cp := &k.process[k.cp]
	cp.request = reqSuspend
	cp.requestArg = int(pid)
	k.enterKernel(cp)
}

// Resume puts the SUSPENDED task identified by pid back into the rotation.
// Failures land in Err: ErrPIDNotFound for an unknown pid,
// ErrResumeNonSuspendedTask for a target in any other state.
func (k *Kernel) Resume(pid PID) {
	k.intr.Disable()
	if !k.kernelActive {
		k.errCode = ErrKernelInactive
		k.intr.Enable()
		return
	}
	cp := &k.process[k.cp]
	cp.request = reqResume
	cp.requestArg = int(pid)
	k.enterKernel(cp)
}

// Sleep blocks the calling task for ticks timer periods. The count cannot
// be aborted early; the task wakes on the tick that counts it to zero.
func (k *Kernel) Sleep(ticks int) {
	k.intr.Disable()
	if !k.kernelActive {
		k.errCode = ErrKernelInactive
		k.intr.Enable()
		return
	}
	cp := &k.process[k.cp]
	cp.requestArg = ticks
	cp.request = reqSleep
	k.enterKernel(cp)
}

// Halt shuts the kernel down from task context: the tick timer is
// disarmed, every live task unwinds, and Start returns in whatever
// goroutine called it. Once the kernel is running Halt does not return;
// before Start it sets ErrKernelInactive and returns.
func (k *Kernel) Halt() {
	k.intr.Disable()
	if !k.kernelActive {
		k.errCode = ErrKernelInactive
		k.intr.Enable()
		return
	}
	cp := &k.process[k.cp]
	cp.request = reqHalt
	k.enterKernel(cp)
	panic("halted task resumed")
}

// GetArg always returns 0; it does not report the calling task's creation
// argument.
func (k *Kernel) GetArg() int {
	// TODO: return the arg recorded by CreateTask for the current slot.
	return 0
}

// FindPIDByFunc returns the PID of the first slot whose body is f, or -1.
func (k *Kernel) FindPIDByFunc(f Code) int {
	k.intr.Disable()
	defer k.intr.Enable()
	fp := reflect.ValueOf(f).Pointer()
	for i := range k.process {
		if k.process[i].code != nil && reflect.ValueOf(k.process[i].code).Pointer() == fp {
			return int(k.process[i].pid)
		}
	}
	return -1
}
