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

package hal

import (
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// Timer peripheral constants for the reference board: 16 MHz core clock,
// /1024 prescaler, clear-timer-on-compare at 157 counts. One match is the
// kernel tick, a hair over 10 ms.
const (
	ClockHz      = 16_000_000
	Prescaler    = 1024
	CompareMatch = 157
)

// TickPeriod returns the wall-clock length of one timer match on the
// reference board.
func TickPeriod() time.Duration {
	return time.Duration(CompareMatch+1) * Prescaler * time.Second / ClockHz
}

// Timer is the periodic match peripheral. Each match raises the
// registered ISR with the interrupt mask held, the way the hardware
// masks nested interrupts for the duration of a vector.
type Timer struct {
	clock  clockz.Clock
	period time.Duration
	mask   *IntrMask
	isr    func()

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewTimer returns a timer that fires isr every period. The clock is
// substitutable so tests can drive matches themselves.
func NewTimer(clock clockz.Clock, period time.Duration, mask *IntrMask, isr func()) *Timer {
	if clock == nil {
		clock = clockz.RealClock
	}
	if period <= 0 {
		period = TickPeriod()
	}
	return &Timer{
		clock:  clock,
		period: period,
		mask:   mask,
		isr:    isr,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Period returns the configured match period.
func (t *Timer) Period() time.Duration { return t.period }

// Start arms the timer. Matches are delivered until Stop.
func (t *Timer) Start() {
	t.startOnce.Do(func() {
		go t.run()
	})
}

// Stop disarms the timer. It only signals: a match already waiting on the
// interrupt mask still drains. Callers that hold the mask must release it
// before Wait, or the draining match deadlocks against them.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() {
		close(t.stop)
	})
}

// Wait blocks until the peripheral goroutine has exited. Only meaningful
// after Stop on a started timer.
func (t *Timer) Wait() {
	<-t.done
}

func (t *Timer) run() {
	defer close(t.done)
	for {
		select {
		case <-t.stop:
			return
		case <-t.clock.After(t.period):
		}
		t.mask.Disable()
		select {
		case <-t.stop:
			t.mask.Enable()
			return
		default:
		}
		t.isr()
		t.mask.Enable()
	}
}
