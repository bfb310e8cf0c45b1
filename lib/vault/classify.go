// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bureau-foundation/credboot/lib/command"
	"github.com/bureau-foundation/credboot/lib/fault"
)

var authenticationMarkers = []string{
	"not currently signed in",
	"not signed in",
	"you are not signed in",
	"authentication required",
	"authentication failed",
	"unauthorized",
	"invalid service account token",
	"invalid token",
	"token is invalid",
	"session expired",
	"401",
}

var networkMarkers = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"network is unreachable",
	"i/o timeout",
	"tls handshake",
	"dial tcp",
	"could not connect",
	"temporary failure in name resolution",
	"503 service unavailable",
}

var injectionMarkers = [][]byte{
	[]byte("$("),
	[]byte("`"),
	[]byte("${"),
	{0},
}

// classify maps a failed run to a fault kind.
func classify(operation string, timeout time.Duration, result command.Result, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Network("vault %s timed out after %s", operation, timeout)
	}
	if errors.Is(err, command.ErrOutputLimit) {
		return fault.Validation("vault %s output exceeds %d bytes", operation, MaxOutput)
	}

	var exitErr *command.ExitError
	if !errors.As(err, &exitErr) {
		return fault.Failure("starting vault %s: %w", operation, err)
	}
	stderr := strings.ToLower(result.StderrText())
	switch {
	case containsAny(stderr, authenticationMarkers):
		return fault.Authentication("vault rejected the credentials for %s (exit %d)", operation, exitErr.ExitCode)
	case containsAny(stderr, networkMarkers):
		return fault.Network("vault %s could not reach the service: %s", operation, Sanitize(firstLine(result.StderrText())))
	default:
		message := Sanitize(firstLine(result.StderrText()))
		if message == "" {
			message = "no error output"
		}
		return fault.Failure("vault %s failed (exit %d): %s", operation, exitErr.ExitCode, message)
	}
}

func containsAny(text string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

const maxMessageLength = 200

func firstLine(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	line = strings.TrimSpace(line)
	if len(line) > maxMessageLength {
		line = line[:maxMessageLength] + "..."
	}
	return line
}

var (
	urlPattern      = regexp.MustCompile(`[A-Za-z][A-Za-z0-9+.-]*://[^\s"']+`)
	ipv4Pattern     = regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,3}){3}(?::\d+)?\b`)
	ipv6Pattern     = regexp.MustCompile(`\[?\b[0-9A-Fa-f]{0,4}(?::[0-9A-Fa-f]{0,4}){2,7}\]?(?::\d+)?`)
	hostnamePattern = regexp.MustCompile(`\b(?:[A-Za-z0-9](?:[A-Za-z0-9-]{0,61}[A-Za-z0-9])?\.)+[A-Za-z]{2,63}(?::\d+)?\b`)
)

// Sanitize replaces URLs, IP addresses, and hostnames with
// "<redacted>".
func Sanitize(message string) string {
	for _, pattern := range []*regexp.Regexp{urlPattern, ipv4Pattern, ipv6Pattern, hostnamePattern} {
		message = pattern.ReplaceAllString(message, "<redacted>")
	}
	return message
}

// validateOutput checks command output before it is decoded.
func validateOutput(out []byte) error {
	if len(out) > MaxOutput {
		return fmt.Errorf("%d bytes exceeds the %d byte limit", len(out), MaxOutput)
	}
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') && !json.Valid(trimmed) {
		return errors.New("malformed JSON")
	}
	for _, marker := range injectionMarkers {
		if bytes.Contains(out, marker) {
			return fmt.Errorf("contains the disallowed sequence %q", marker)
		}
	}
	return nil
}
