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
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startKernel runs Start on its own goroutine and fails the test if the
// kernel does not halt within the deadline. Task sets used with it must
// end with a Halt call.
func startKernel(t *testing.T, k *Kernel) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		k.Start()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("kernel did not halt")
	}
}

func TestInactiveAPIsSetError(t *testing.T) {
	k := New(Options{})
	k.CreateTask(noop, 0, 0)

	k.Yield()
	assert.Equal(t, ErrKernelInactive, k.Err())
	k.ClearErr()
	k.Sleep(1)
	assert.Equal(t, ErrKernelInactive, k.Err())
	k.ClearErr()
	k.Suspend(1)
	assert.Equal(t, ErrKernelInactive, k.Err())
	k.ClearErr()
	k.Resume(1)
	assert.Equal(t, ErrKernelInactive, k.Err())
	k.ClearErr()
	k.Terminate()
	assert.Equal(t, ErrKernelInactive, k.Err())
	k.ClearErr()
	k.Halt()
	assert.Equal(t, ErrKernelInactive, k.Err())
}

func TestYieldRoundRobin(t *testing.T) {
	k := New(Options{})

	// Appends are serialized by the kernel: only one task runs at a
	// time, and every switch is a rendezvous.
	var seq []string
	a := func() {
		for i := 0; i < 5; i++ {
			seq = append(seq, "A")
			k.Yield()
		}
		k.Halt()
	}
	b := func() {
		for {
			seq = append(seq, "B")
			k.Yield()
		}
	}
	require.Equal(t, PID(1), k.CreateTask(a, 1, 0))
	require.Equal(t, PID(2), k.CreateTask(b, 1, 0))

	startKernel(t, k)

	require.GreaterOrEqual(t, len(seq), 9)
	for i, tag := range seq[:9] {
		if i%2 == 0 {
			assert.Equal(t, "A", tag, "position %d", i)
		} else {
			assert.Equal(t, "B", tag, "position %d", i)
		}
	}
	assert.True(t, k.Active())
}

func TestSleepWakesAfterTicks(t *testing.T) {
	k := New(Options{TickPeriod: time.Millisecond})

	var elapsed time.Duration
	var ticksSeen uint64
	task := func() {
		start := time.Now()
		k.Sleep(5)
		elapsed = time.Since(start)
		ticksSeen = k.TickCount()
		k.Halt()
	}
	k.CreateTask(task, 0, 0)

	startKernel(t, k)

	assert.GreaterOrEqual(t, ticksSeen, uint64(5))
	assert.GreaterOrEqual(t, elapsed, 2*time.Millisecond)
	assert.Less(t, elapsed, 10*time.Second)
}

func TestSleepingPingPong(t *testing.T) {
	k := New(Options{TickPeriod: time.Millisecond})

	var pings, pongs int
	ping := func() {
		for {
			pings++
			k.Sleep(3)
			k.Yield()
		}
	}
	pong := func() {
		for {
			pongs++
			k.Sleep(3)
			k.Yield()
		}
	}
	watchdog := func() {
		k.Sleep(60)
		k.Halt()
	}
	k.CreateTask(ping, 10, 210)
	k.CreateTask(pong, 10, 205)
	k.CreateTask(watchdog, 0, 0)

	startKernel(t, k)

	assert.GreaterOrEqual(t, pings, 3)
	assert.GreaterOrEqual(t, pongs, 3)
	// Both sides sleep the same count, so neither can lap the other.
	assert.InDelta(t, pings, pongs, 2)
}

func TestSuspendResumeFromTask(t *testing.T) {
	k := New(Options{})

	var pidB PID
	type obs struct {
		err   ErrorCode
		state TaskState
	}
	var results []obs
	observe := func() {
		s, _ := k.Stat(pidB)
		results = append(results, obs{k.Err(), s.State})
	}

	a := func() {
		k.ClearErr()
		k.Suspend(pidB)
		observe()
		k.Suspend(pidB)
		observe()
		k.Resume(pidB)
		observe()
		k.Resume(pidB)
		observe()
		k.Halt()
	}
	b := func() {
		for {
			k.Yield()
		}
	}
	k.CreateTask(a, 1, 0)
	pidB = k.CreateTask(b, 1, 0)

	startKernel(t, k)

	require.Len(t, results, 4)
	assert.Equal(t, obs{NoErr, Suspended}, results[0])
	assert.Equal(t, obs{ErrSuspendNonReadyTask, Suspended}, results[1])
	assert.Equal(t, obs{NoErr, Ready}, results[2])
	assert.Equal(t, obs{ErrResumeNonSuspendedTask, Ready}, results[3])
}

func TestCreateViaSyscallAndSlotRecycling(t *testing.T) {
	k := New(Options{})

	var pidC, pidD PID
	var cRan, dRan bool
	c := func() {
		cRan = true
		// Returning past the body lands in the terminate stub.
	}
	d := func() {
		dRan = true
		for {
			k.Yield()
		}
	}
	a := func() {
		pidC = k.CreateTask(c, 1, 7)
		k.Yield() // let C run to termination
		pidD = k.CreateTask(d, 1, 8)
		k.Yield() // let D run once
		k.Halt()
	}
	require.Equal(t, PID(1), k.CreateTask(a, 1, 0))

	startKernel(t, k)

	assert.Equal(t, PID(2), pidC)
	assert.True(t, cRan)
	// C's slot is free again; D reuses it with a strictly larger PID.
	assert.Equal(t, PID(3), pidD)
	assert.True(t, dRan)
	_, ok := k.Stat(pidC)
	assert.False(t, ok, "terminated task still live")
	assert.Equal(t, 2, k.Tasks())
}

func TestTerminateSyscall(t *testing.T) {
	k := New(Options{})

	a := func() {
		k.Terminate()
	}
	b := func() {
		k.Yield() // a's slot should be dead by now
		k.Halt()
	}
	k.CreateTask(a, 1, 0)
	k.CreateTask(b, 1, 0)

	startKernel(t, k)

	assert.Equal(t, 1, k.Tasks())
	_, ok := k.Stat(PID(1))
	assert.False(t, ok)
}

func TestCreateOverflowViaSyscall(t *testing.T) {
	k := New(Options{})

	var lastPid PID
	var overflowErr ErrorCode
	a := func() {
		for i := 0; i < MaxThread-1; i++ {
			lastPid = k.CreateTask(noop, 1, 0)
		}
		k.ClearErr()
		pid := k.CreateTask(noop, 1, 0)
		if pid == 0 {
			overflowErr = k.Err()
		}
		k.Halt()
	}
	k.CreateTask(a, 1, 0)

	startKernel(t, k)

	assert.Equal(t, PID(MaxThread), lastPid)
	assert.Equal(t, ErrMaxProcess, overflowErr)
}

func TestHaltFreezesKernel(t *testing.T) {
	k := New(Options{TickPeriod: time.Millisecond})

	a := func() {
		k.Sleep(2)
		k.Halt()
	}
	k.CreateTask(a, 0, 0)

	startKernel(t, k)

	assert.True(t, k.Active())
	ticks := k.TickCount()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, ticks, k.TickCount(), "timer still running after halt")
}

func TestMetricsObserveActivity(t *testing.T) {
	k := New(Options{TickPeriod: time.Millisecond})
	reg := prometheus.NewRegistry()
	k.Metrics().Register(reg)

	a := func() {
		k.Yield()
		k.Sleep(2)
		k.Halt()
	}
	b := func() {
		for {
			k.Yield()
		}
	}
	k.CreateTask(a, 1, 0)
	k.CreateTask(b, 1, 0)

	startKernel(t, k)

	families, err := reg.Gather()
	require.NoError(t, err)
	byName := map[string]float64{}
	for _, mf := range families {
		var total float64
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				total += c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				total += g.GetValue()
			}
		}
		byName[mf.GetName()] = total
	}
	assert.Greater(t, byName["avros_kernel_dispatches_total"], 0.0)
	assert.Greater(t, byName["avros_kernel_syscalls_total"], 0.0)
	assert.Greater(t, byName["avros_kernel_ticks_total"], 0.0)
	assert.Equal(t, 2.0, byName["avros_kernel_tasks"])
}
