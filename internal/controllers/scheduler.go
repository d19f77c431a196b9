// Copyright Contributors to the Mellea project

// Package controllers holds the shared cron-driven runner the three
// background controllers (spec.md §4.8-§4.10) use to schedule their
// cycles. The teacher's crontask_controller.go parses user-supplied cron
// expressions with robfig/cron/v3 to drive a CRD's next-fire-time
// requeue; here the same library instead drives a fixed-interval daemon
// loop by synthesizing an "@every Ns" expression from the configured
// interval, matching spec.md §5's "execute one cycle, then sleep
// interval_seconds, awakening on timeout or stop signal" contract.
package controllers

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Runner drives a single controller's periodic cycle function on a
// fixed interval until Stop is called.
type Runner struct {
	cron *cron.Cron
}

// NewRunner constructs a Runner that calls cycle every interval. The
// schedule does not run until Start, which also makes the immediate first
// call when given one.
func NewRunner(interval time.Duration, cycle func()) *Runner {
	c := cron.New()
	_, _ = c.AddFunc(fmt.Sprintf("@every %ds", int(interval.Seconds())), cycle)
	return &Runner{cron: c}
}

// Start begins the schedule, running cycle once immediately and then on
// every subsequent tick.
func (r *Runner) Start(firstCycle func()) {
	if firstCycle != nil {
		go firstCycle()
	}
	r.cron.Start()
}

// Stop halts the schedule; the in-flight cycle (if any) is allowed to
// finish before the returned context is done.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}
