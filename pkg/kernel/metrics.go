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

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the kernel's instrumentation. Counters are touched only from
// the request loop and the tick ISR, both under the interrupt mask, so a
// scrape observes a consistent cut. Nothing is registered by default;
// embedders call Register on the registry they own.
type Metrics struct {
	dispatches prometheus.Counter
	ticks      prometheus.Counter
	wakeups    prometheus.Counter
	syscalls   *prometheus.CounterVec
	liveTasks  prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		dispatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "avros",
			Subsystem: "kernel",
			Name:      "dispatches_total",
			Help:      "Tasks dispatched by the scheduler.",
		}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "avros",
			Subsystem: "kernel",
			Name:      "ticks_total",
			Help:      "Timer match interrupts delivered.",
		}),
		wakeups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "avros",
			Subsystem: "kernel",
			Name:      "sleeper_wakeups_total",
			Help:      "Sleeping tasks returned to READY by the tick ISR.",
		}),
		syscalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avros",
			Subsystem: "kernel",
			Name:      "syscalls_total",
			Help:      "Requests serviced by the kernel loop.",
		}, []string{"request"}),
		liveTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "avros",
			Subsystem: "kernel",
			Name:      "tasks",
			Help:      "Slots currently holding a non-DEAD task.",
		}),
	}
}

// Register installs the kernel metrics on r.
func (m *Metrics) Register(r prometheus.Registerer) {
	r.MustRegister(m.dispatches, m.ticks, m.wakeups, m.syscalls, m.liveTasks)
}
