// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import "runtime"

// Zero overwrites data with zeros. The KeepAlive keeps the compiler
// from treating the stores as dead when data is not read afterwards.
func Zero(data []byte) {
	for index := range data {
		data[index] = 0
	}
	runtime.KeepAlive(data)
}
