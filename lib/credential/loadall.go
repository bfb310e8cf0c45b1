// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/credboot/lib/fault"
	"github.com/bureau-foundation/credboot/lib/lifecycle"
	"github.com/bureau-foundation/credboot/lib/sshagent"
	"github.com/bureau-foundation/credboot/lib/vault"
)

// Failure is a key that could not be loaded.
type Failure struct {
	Item string
	Err  error
}

// Report summarizes LoadAll.
type Report struct {
	Outcomes []Outcome
	Failures []Failure

	// Skipped counts items beyond the per-run cap.
	Skipped int
}

// Count returns how many outcomes had result.
func (r Report) Count(result sshagent.AddResult) int {
	count := 0
	for _, outcome := range r.Outcomes {
		if outcome.Result == result {
			count++
		}
	}
	return count
}

// LoadAll fetches and loads each item, at most MaxKeys of them, pausing
// for BatchPause after every BatchSize items. Per-item validation and
// command failures are collected in the report; fatal faults and rate
// limiting stop the loop and are returned along with the partial
// report.
func (h *Handler) LoadAll(ctx context.Context, source ItemSource, items []vault.ItemSummary) (Report, error) {
	var report Report
	if len(items) > h.options.MaxKeys {
		report.Skipped = len(items) - h.options.MaxKeys
		h.options.Logger.Warn("too many SSH key items, loading only the first ones",
			"items", len(items), "limit", h.options.MaxKeys)
		items = items[:h.options.MaxKeys]
	}

	for index, summary := range items {
		if index > 0 && index%h.options.BatchSize == 0 {
			h.options.Logger.Debug("pausing between key batches", "pause", h.options.BatchPause)
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-h.options.Clock.After(h.options.BatchPause):
			}
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if h.options.Interrupts.Interrupted() {
			return report, fmt.Errorf("key loading stopped after %d items: %w", index, lifecycle.ErrInterrupted)
		}

		outcome, err := h.loadOne(ctx, source, summary)
		if err == nil {
			report.Outcomes = append(report.Outcomes, outcome)
			continue
		}
		if fault.Fatal(err) || fault.Is(err, fault.KindRateLimited) {
			report.Failures = append(report.Failures, Failure{Item: summary.Title, Err: err})
			return report, err
		}
		h.options.Logger.Warn("skipping SSH key", "item", summary.Title, "error", err)
		report.Failures = append(report.Failures, Failure{Item: summary.Title, Err: err})
	}
	return report, nil
}

func (h *Handler) loadOne(ctx context.Context, source ItemSource, summary vault.ItemSummary) (Outcome, error) {
	reference := summary.ID
	if reference == "" {
		reference = summary.Title
	}
	item, err := source.GetItem(ctx, reference)
	if err != nil {
		return Outcome{Item: summary.Title}, err
	}
	defer item.Wipe()
	if item.Title == "" {
		item.Title = summary.Title
	}
	return h.Load(ctx, item)
}
