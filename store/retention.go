// Copyright (C) 2025 ats-kms-enclave contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package store

import "time"

// prunePlan computes how many of the n oldest entries (index 0 is
// oldest) to drop given a count ceiling and an age ceiling, and never
// lets the collection fall below floor. ts(i) returns entry i's
// timestamp; truncate(cut) is invoked with the final cut count to
// perform the actual removal under the caller's lock.
func prunePlan(n, floor, maxEntries int, window time.Duration, ts func(int) time.Time, truncate func(cut int)) (int, error) {
	if n <= floor {
		return 0, nil
	}

	cut := 0
	if n > maxEntries {
		cut = n - maxEntries
	}

	if window > 0 {
		now := time.Now()
		ageCut := 0
		for i := 0; i < n; i++ {
			if now.Sub(ts(i)) > window {
				ageCut = i + 1
				continue
			}
			break
		}
		if ageCut > cut {
			cut = ageCut
		}
	}

	if maxCut := n - floor; cut > maxCut {
		cut = maxCut
	}
	if cut <= 0 {
		return 0, nil
	}

	truncate(cut)
	return cut, nil
}
