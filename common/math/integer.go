// Copyright 2025 The EdgeHub Authors
// This file is part of EdgeHub.
//
// EdgeHub is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// EdgeHub is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with EdgeHub. If not, see <http://www.gnu.org/licenses/>.

package math

// Integer limit values. Twin versions are wire-limited to int32 range while
// being carried as int64 in memory.
const (
	MaxInt32 = 1<<31 - 1
	MaxInt64 = 1<<63 - 1
)

// SafeAdd returns x+y and reports whether the signed sum overflowed.
func SafeAdd(x, y int64) (int64, bool) {
	sum := x + y
	overflow := (y > 0 && sum < x) || (y < 0 && sum > x)
	return sum, overflow
}
