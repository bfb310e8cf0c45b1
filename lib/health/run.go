// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Defaults for Run.
const (
	DefaultLimit   = 4
	DefaultTimeout = 5 * time.Second
)

// Check is one named, independently runnable probe.
type Check struct {
	Name string

	// Timeout overrides Options.Timeout for this check.
	Timeout time.Duration

	Run func(ctx context.Context) Result
}

// Options bounds a Run.
type Options struct {
	// Limit caps concurrently running checks.
	Limit int

	// Timeout bounds each check that does not set its own.
	Timeout time.Duration
}

// Report aggregates results in check order.
type Report struct {
	Results []Result `json:"results"`

	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Warned  int `json:"warnings"`
	Skipped int `json:"skipped"`
	Fixed   int `json:"fixed"`
}

// OK reports whether no check failed.
func (r Report) OK() bool { return r.Failed == 0 }

// Add appends result and updates the counts.
func (r *Report) Add(result Result) {
	r.Results = append(r.Results, result)
	r.count(result.Status, 1)
}

func (r *Report) count(status Status, delta int) {
	switch status {
	case StatusPass:
		r.Passed += delta
	case StatusFail:
		r.Failed += delta
	case StatusWarn:
		r.Warned += delta
	case StatusSkip:
		r.Skipped += delta
	case StatusFixed:
		r.Fixed += delta
	}
}

// recount rebuilds the counts after results changed in place.
func (r *Report) recount() {
	r.Passed, r.Failed, r.Warned, r.Skipped, r.Fixed = 0, 0, 0, 0, 0
	for _, result := range r.Results {
		r.count(result.Status, 1)
	}
}

// Run executes checks concurrently. A check that panics or overruns
// its timeout yields a failed result; the others are unaffected.
// Run returns early only when ctx itself ends, marking unfinished
// checks as failed.
func Run(ctx context.Context, checks []Check, options Options) Report {
	if options.Limit <= 0 {
		options.Limit = DefaultLimit
	}
	if options.Timeout <= 0 {
		options.Timeout = DefaultTimeout
	}

	results := make([]Result, len(checks))
	var group errgroup.Group
	group.SetLimit(options.Limit)
	for index, check := range checks {
		group.Go(func() error {
			timeout := check.Timeout
			if timeout <= 0 {
				timeout = options.Timeout
			}
			results[index] = runOne(ctx, check, timeout)
			return nil
		})
	}
	group.Wait()

	var report Report
	for _, result := range results {
		report.Add(result)
	}
	return report
}

// runOne waits for check or its deadline, whichever comes first. A
// check that ignores its context is abandoned, not waited for.
func runOne(ctx context.Context, check Check, timeout time.Duration) Result {
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				done <- Fail(check.Name, fmt.Sprintf("check panicked: %v", recovered))
			}
		}()
		result := check.Run(checkCtx)
		if result.Name == "" {
			result.Name = check.Name
		}
		done <- result
	}()

	select {
	case result := <-done:
		return result
	case <-checkCtx.Done():
		if ctx.Err() != nil {
			return Fail(check.Name, "interrupted")
		}
		return Fail(check.Name, fmt.Sprintf("timed out after %s", timeout))
	}
}
