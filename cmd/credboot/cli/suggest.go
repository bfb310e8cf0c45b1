// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "github.com/spf13/pflag"

// maxSuggestDistance is the largest edit distance still offered as a
// "did you mean". Three catches transpositions and a dropped or extra
// character without suggesting unrelated names.
const maxSuggestDistance = 3

// closest returns the candidate nearest to input, or "" when none is
// within maxSuggestDistance. Ties go to the earlier candidate.
func closest(input string, candidates []string) string {
	best, bestDistance := "", maxSuggestDistance+1
	for _, candidate := range candidates {
		if distance := levenshtein(input, candidate); distance < bestDistance {
			best, bestDistance = candidate, distance
		}
	}
	return best
}

// suggestFlag proposes a defined flag for an unknown one, formatted
// as it would be typed ("--name", or "-n" for a lone shorthand).
func suggestFlag(unknown *pflag.NotExistError, flagSet *pflag.FlagSet) string {
	var long, short []string
	flagSet.VisitAll(func(flag *pflag.Flag) {
		long = append(long, flag.Name)
		if flag.Shorthand != "" {
			short = append(short, flag.Shorthand)
		}
	})

	cluster := unknown.GetSpecifiedShortnames()
	if cluster == "" {
		if match := closest(unknown.GetSpecifiedName(), long); match != "" {
			return "--" + match
		}
		return ""
	}
	// A longer cluster ("-verbos") is more likely a long flag missing
	// a dash than a run of shorthands.
	if len(cluster) > 1 {
		if match := closest(cluster, long); match != "" {
			return "--" + match
		}
	}
	if match := closest(unknown.GetSpecifiedName(), short); match != "" {
		return "-" + match
	}
	return ""
}

// levenshtein is the edit distance between a and b, counted in runes.
func levenshtein(a, b string) int {
	source, target := []rune(a), []rune(b)
	if len(source) < len(target) {
		source, target = target, source
	}
	// Two rows of the distance matrix, indexed by target position.
	previous := make([]int, len(target)+1)
	current := make([]int, len(target)+1)
	for j := range previous {
		previous[j] = j
	}
	for i, sourceRune := range source {
		current[0] = i + 1
		for j, targetRune := range target {
			substitution := previous[j]
			if sourceRune != targetRune {
				substitution++
			}
			current[j+1] = min(previous[j+1]+1, current[j]+1, substitution)
		}
		previous, current = current, previous
	}
	return previous[len(target)]
}
