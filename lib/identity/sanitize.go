// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Length limits.
const (
	MaxNameRunes   = 100
	MaxEmailLength = 254
)

// ErrUnusable is wrapped by the sanitizers when nothing acceptable is
// left of the input.
var ErrUnusable = errors.New("unusable identity value")

// SanitizeName keeps letters, marks, digits, spaces and the
// punctuation ' - . , found in real names, collapses whitespace, and
// truncates to MaxNameRunes. The result must contain a letter.
func SanitizeName(raw string) (string, error) {
	var builder strings.Builder
	for _, r := range raw {
		switch {
		case unicode.IsSpace(r):
			builder.WriteRune(' ')
		case unicode.IsLetter(r), unicode.IsMark(r), unicode.IsDigit(r):
			builder.WriteRune(r)
		case r == '\'' || r == '-' || r == '.' || r == ',':
			builder.WriteRune(r)
		}
	}
	name := strings.Join(strings.Fields(builder.String()), " ")
	if runes := []rune(name); len(runes) > MaxNameRunes {
		name = strings.TrimSpace(string(runes[:MaxNameRunes]))
	}
	if !strings.ContainsFunc(name, unicode.IsLetter) {
		return "", fmt.Errorf("%w: name has no letters", ErrUnusable)
	}
	return name, nil
}

// SanitizeEmail lowercases, strips a mailto: prefix, and drops
// characters outside [a-z0-9._%+-@]. The result must have exactly one
// @ with a non-empty local part and a dotted domain.
func SanitizeEmail(raw string) (string, error) {
	text := strings.ToLower(strings.TrimSpace(raw))
	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
	text = strings.TrimPrefix(strings.TrimSpace(text), "mailto:")

	email := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case strings.ContainsRune("._%+-@", r):
			return r
		}
		return -1
	}, text)

	if len(email) > MaxEmailLength {
		return "", fmt.Errorf("%w: email longer than %d characters", ErrUnusable, MaxEmailLength)
	}
	if strings.Count(email, "@") != 1 {
		return "", fmt.Errorf("%w: email must contain exactly one @", ErrUnusable)
	}
	local, domain, _ := strings.Cut(email, "@")
	if local == "" || domain == "" {
		return "", fmt.Errorf("%w: email has an empty local part or domain", ErrUnusable)
	}
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") || strings.Contains(domain, "..") {
		return "", fmt.Errorf("%w: email domain %q is not a dotted name", ErrUnusable, domain)
	}
	return email, nil
}
