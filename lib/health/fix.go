// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"fmt"
)

// ExecuteFixes runs the fix action of each fixable failure in report,
// updating results and counts in place, and returns how many fixes
// succeeded.
func ExecuteFixes(ctx context.Context, report *Report) int {
	fixed := 0
	for i := range report.Results {
		result := &report.Results[i]
		if result.Status != StatusFail || result.fix == nil {
			continue
		}
		if err := result.fix(ctx); err != nil {
			result.Message = fmt.Sprintf("%s (fix failed: %v)", result.Message, err)
			continue
		}
		result.Status = StatusFixed
		fixed++
	}
	report.recount()
	return fixed
}
