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

// Package cswitch implements the context-switch primitive between task and
// kernel control domains.
//
// On the hardware target the two entry points are a handful of assembly
// instructions that push the register file, swap the stack pointer through
// a pair of latches, and pop the other side's saved state. Here each task
// is a goroutine and control transfer is a rendezvous on the task's gate,
// but the stack bookkeeping is kept byte for byte: every switch pushes and
// pops a real 33-byte frame on the task's workspace stack, and the
// CurrentSp latch carries the saved stack pointer across the boundary
// exactly as the hardware latch does.
package cswitch

import (
	"fmt"
	"sync"
)

// Vector identifies a location in the synthetic text segment. Vector zero
// is the reset slot and is never handed out, so a zeroed workspace decodes
// as a jump to nowhere rather than to a live routine.
type Vector uint16

// VectorTable maps vectors to routines. Task entry points and the
// terminate stub are registered here; the addresses written into a
// synthesized stack are vectors into this table.
type VectorTable struct {
	mu   sync.Mutex
	next Vector
	text map[Vector]func()
}

// NewVectorTable returns an empty table.
func NewVectorTable() *VectorTable {
	return &VectorTable{
		next: 2,
		text: make(map[Vector]func()),
	}
}

// Register installs h and returns its vector. Vectors are word-aligned and
// assigned monotonically.
func (vt *VectorTable) Register(h func()) Vector {
	vt.mu.Lock()
	defer vt.mu.Unlock()
	v := vt.next
	if v == 0 {
		panic("vector table exhausted")
	}
	vt.next += 2
	vt.text[v] = h
	return v
}

// Handler returns the routine at v. A return into an unmapped vector is a
// wild jump; there is nothing sensible to do but stop.
func (vt *VectorTable) Handler(v Vector) func() {
	vt.mu.Lock()
	defer vt.mu.Unlock()
	h, ok := vt.text[v]
	if !ok {
		panic(fmt.Sprintf("jump to unmapped vector %#04x", v))
	}
	return h
}

// Gate is the task-side half of the rendezvous: the task parks on its gate
// and the kernel signals it to hand the processor over. Closing the gate
// tells a parked task it will never run again.
type Gate struct {
	ch chan struct{}
}

// NewGate returns an open gate.
func NewGate() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Park blocks until the gate is signaled. It reports false if the gate was
// closed instead, meaning the parked context has been torn down.
func (g *Gate) Park() bool {
	_, ok := <-g.ch
	return ok
}

// Resume signals the parked side. It must only be called on a gate with a
// parked or about-to-park waiter.
func (g *Gate) Resume() {
	g.ch <- struct{}{}
}

// Close marks the gate dead. Any parked waiter observes the close and
// unwinds.
func (g *Gate) Close() {
	close(g.ch)
}

// Machine is the single hart: one live register file, the CurrentSp latch
// shared with the switch primitives, and the kernel-side rendezvous.
type Machine struct {
	// Regs is the live register file. Only the currently running control
	// domain touches it; exclusion comes from the switch discipline, not
	// from a lock.
	Regs Frame

	currentSp  int
	kernelGate chan struct{}
}

// NewMachine returns a machine with an empty register file.
func NewMachine() *Machine {
	return &Machine{kernelGate: make(chan struct{})}
}

// CurrentSp returns the latch shared with the switch primitives.
func (m *Machine) CurrentSp() int { return m.currentSp }

// SetCurrentSp loads the latch before a switch out of the kernel.
func (m *Machine) SetCurrentSp(sp int) { m.currentSp = sp }

// EnterKernel transfers control from the calling task to the kernel. It
// pushes the task's register file onto st, stores the resulting stack
// pointer into the CurrentSp latch, and parks the task on g until the
// kernel switches back in; the return path reloads the stack pointer from
// the latch and pops the saved frame.
//
// EnterKernel returns false if the gate was closed while the task was
// parked: the slot is dead and the caller must unwind instead of resuming.
//
// Must be called with interrupts disabled; the mask stays held across the
// transfer and is released by whichever side next restores it.
func (m *Machine) EnterKernel(st *Stack, g *Gate) bool {
	st.PushFrame(&m.Regs)
	m.currentSp = st.SP()
	m.kernelGate <- struct{}{}
	if !g.Park() {
		return false
	}
	st.SetSP(m.currentSp)
	st.PopFrame(&m.Regs)
	return true
}

// ExitKernel transfers control from the kernel to the task whose saved
// context the CurrentSp latch points at, identified by its gate. The
// kernel parks until the next EnterKernel.
//
// Must be called with interrupts disabled.
func (m *Machine) ExitKernel(g *Gate) {
	g.Resume()
	<-m.kernelGate
}
