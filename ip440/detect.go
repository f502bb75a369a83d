// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ip440

// detect compares the current sample with the previously published one.
// The first sample is always published, with all lines flagged as changed.
func detect(cur, prev uint32, first bool) (changed uint32, publish bool) {
	if first {
		return AllBits, true
	}
	changed = cur ^ prev
	return changed, changed != 0
}
