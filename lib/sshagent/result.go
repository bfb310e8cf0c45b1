// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sshagent

// AddResult is the outcome of adding one key.
type AddResult int

const (
	AddFailed AddResult = iota
	Added
	AlreadyPresent
)

func (r AddResult) String() string {
	switch r {
	case Added:
		return "added"
	case AlreadyPresent:
		return "already_present"
	default:
		return "failed"
	}
}
