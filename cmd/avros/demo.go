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

package main

import (
	"context"
	"flag"
	"net/http"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/subcommands"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gvisor.dev/gvisor/pkg/log"

	"avros.dev/avros/pkg/kernel"
)

// demoConfig is the TOML-configurable half of the demo. Flags override
// the file.
type demoConfig struct {
	// TickMillis overrides the board-derived tick period.
	TickMillis int `toml:"tick_ms"`

	// DurationTicks is how long the demo runs before halting.
	DurationTicks int `toml:"duration_ticks"`

	// MetricsAddr, if set, serves kernel metrics over HTTP for the
	// demo's lifetime.
	MetricsAddr string `toml:"metrics_addr"`
}

type demoCmd struct {
	configPath string
	cfg        demoConfig
}

func (*demoCmd) Name() string     { return "demo" }
func (*demoCmd) Synopsis() string { return "run the ping/pong demo task set" }
func (*demoCmd) Usage() string {
	return `demo [-config file.toml] [-ticks n] [-metrics addr]:
  Create the ping, pong and suspender tasks, start the kernel, and halt
  after the configured number of ticks.
`
}

func (c *demoCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "", "TOML config file")
	f.IntVar(&c.cfg.DurationTicks, "ticks", 300, "demo duration in timer ticks")
	f.StringVar(&c.cfg.MetricsAddr, "metrics", "", "listen address for kernel metrics")
}

func (c *demoCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if c.configPath != "" {
		flagged := c.cfg
		if _, err := toml.DecodeFile(c.configPath, &c.cfg); err != nil {
			log.Warningf("demo: cannot read %s: %v", c.configPath, err)
			return subcommands.ExitUsageError
		}
		f.Visit(func(fl *flag.Flag) {
			switch fl.Name {
			case "ticks":
				c.cfg.DurationTicks = flagged.DurationTicks
			case "metrics":
				c.cfg.MetricsAddr = flagged.MetricsAddr
			}
		})
	}

	var opts kernel.Options
	if c.cfg.TickMillis > 0 {
		opts.TickPeriod = time.Duration(c.cfg.TickMillis) * time.Millisecond
	}
	k := kernel.New(opts)

	if c.cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		k.Metrics().Register(reg)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(c.cfg.MetricsAddr, mux); err != nil {
				log.Warningf("demo: metrics server: %v", err)
			}
		}()
	}

	ping := func() {
		for {
			log.Infof("PING!")
			k.Sleep(10)
			k.Yield()
		}
	}
	pong := func() {
		for {
			log.Infof("PONG!")
			k.Sleep(10)
			k.Yield()
		}
	}
	// Periodically takes pong out of the rotation and puts it back, the
	// way the board demo blinks its half of the conversation on and off.
	suspender := func() {
		for {
			k.Sleep(10)
			log.Infof("SUSPENDING PONG!")
			k.Suspend(kernel.PID(k.FindPIDByFunc(pong)))
			k.Yield()

			k.Sleep(10)
			log.Infof("RESUMING PONG!")
			k.Resume(kernel.PID(k.FindPIDByFunc(pong)))
			k.Yield()
		}
	}
	watchdog := func() {
		k.Sleep(c.cfg.DurationTicks)
		for _, s := range k.Stats() {
			log.Infof("task %v", s)
		}
		k.Halt()
	}

	k.CreateTask(ping, 10, 210)
	k.CreateTask(pong, 10, 205)
	k.CreateTask(suspender, 0, 0)
	k.CreateTask(watchdog, 0, 0)

	log.Infof("starting kernel: tick=%v, %d tasks", k.TickPeriod(), k.Tasks())
	k.Start()
	log.Infof("kernel halted after %d ticks", k.TickCount())
	return subcommands.ExitSuccess
}
