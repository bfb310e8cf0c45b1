// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode"
)

// minOpaqueLength is the shortest unbroken base64-like run treated as
// a possible secret.
const minOpaqueLength = 40

// CheckValue reports whether value could be secret material.
func CheckValue(value string) error {
	switch {
	case strings.Contains(value, "PRIVATE KEY"):
		return fmt.Errorf("%w: private key armor", ErrSecretDetail)
	case strings.HasPrefix(value, "ops_"), strings.Contains(value, "OP_SERVICE_ACCOUNT_TOKEN="):
		return fmt.Errorf("%w: vault token", ErrSecretDetail)
	}
	for _, token := range strings.Fields(value) {
		if looksOpaque(token) {
			return fmt.Errorf("%w: %d-character opaque string", ErrSecretDetail, len(token))
		}
	}
	return nil
}

// looksOpaque matches long base64 runs mixing upper case, lower case,
// and digits. Fingerprints, hex digests, and absolute paths are
// excluded.
func looksOpaque(token string) bool {
	if len(token) < minOpaqueLength || strings.HasPrefix(token, "SHA256:") || strings.HasPrefix(token, "/") {
		return false
	}
	var upper, lower, digit bool
	for _, r := range token {
		switch {
		case unicode.IsUpper(r) && r < unicode.MaxASCII:
			upper = true
		case unicode.IsLower(r) && r < unicode.MaxASCII:
			lower = true
		case unicode.IsDigit(r) && r < unicode.MaxASCII:
			digit = true
		case strings.ContainsRune("+/=_-", r):
		default:
			return false
		}
	}
	return upper && lower && digit
}

func checkDetails(details []slog.Attr) error {
	for _, attr := range details {
		if err := checkValue(attr.Value); err != nil {
			return fmt.Errorf("detail %q: %w", attr.Key, err)
		}
	}
	return nil
}

func checkValue(value slog.Value) error {
	value = value.Resolve()
	switch value.Kind() {
	case slog.KindGroup:
		return checkDetails(value.Group())
	case slog.KindString:
		return CheckValue(value.String())
	case slog.KindAny:
		return CheckValue(fmt.Sprint(value.Any()))
	default:
		return nil
	}
}
