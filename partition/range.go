// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

// Package partition describes the physical layout of a
// container (key ranges), the contract a partition
// backend fulfils, and the cursors that page through
// the results of one partition.
package partition

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// Range is a half-open interval [Min, Max) of the
// effective partition key space. Bounds are
// upper-case hexadecimal strings compared ordinally;
// the full key space is ["", "FF").
type Range struct {
	Min string `json:"min"`
	Max string `json:"max"`
}

// Full is the range covering every key.
var Full = Range{Min: "", Max: "FF"}

func (r Range) String() string { return "[" + r.Min + "," + r.Max + ")" }

// Contains returns whether o lies entirely inside r.
func (r Range) Contains(o Range) bool {
	return r.Min <= o.Min && o.Max <= r.Max
}

// Overlaps returns whether r and o share any key.
func (r Range) Overlaps(o Range) bool {
	return r.Min < o.Max && o.Min < r.Max
}

// Sorted returns a copy of ranges ordered by Min.
func Sorted(ranges []Range) []Range {
	out := slices.Clone(ranges)
	slices.SortFunc(out, func(a, b Range) int {
		return strings.Compare(a.Min, b.Min)
	})
	return out
}

// Validate checks that ranges is sorted, that
// every range is non-empty, and that consecutive
// ranges neither overlap nor leave a gap.
func Validate(ranges []Range) error {
	if len(ranges) == 0 {
		return fmt.Errorf("partition: no ranges")
	}
	for i := range ranges {
		if ranges[i].Min >= ranges[i].Max {
			return fmt.Errorf("partition: empty range %s", ranges[i])
		}
		if i == 0 {
			continue
		}
		prev := ranges[i-1]
		if prev.Max != ranges[i].Min {
			if prev.Max > ranges[i].Min {
				return fmt.Errorf("partition: range %s overlaps %s", prev, ranges[i])
			}
			return fmt.Errorf("partition: gap between %s and %s", prev, ranges[i])
		}
	}
	return nil
}

// CompareRID orders two document resource ids.
// Resource ids encode an increasing sequence
// number, so shorter ids sort first and ids of the
// same length compare byte-wise.
func CompareRID(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}
