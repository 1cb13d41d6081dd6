// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package sorting

import (
	"github.com/SnellerInc/xquery/value"
)

// CompareTuples compares two sort keys column by
// column and returns an int indicating relation:
// < 0 -- t1 is emitted before t2
// = 0 -- equal
// > 0 -- t1 is emitted after t2
// Each column is compared with value.Compare and
// negated when its direction is Descending.
// Returns relation and the index of element if not equal (when the tuples
// are equal, index is -1)
func CompareTuples(t1, t2 []value.Value, directions []Direction) (relation int, index int) {
	if len(t1) != len(t2) {
		panic("trying to compare tuples of different sizes")
	}
	if len(t1) != len(directions) {
		panic("trying to compare tuples with directions having different size")
	}
	return compareEquallySizedTuplesUnsafe(t1, t2, directions)
}

func compareEquallySizedTuplesUnsafe(t1, t2 []value.Value, directions []Direction) (relation int, index int) {
	for i := range t1 {
		rel := Ordering{Direction: directions[i]}.Compare(t1[i], t2[i])
		if rel != 0 {
			return rel, i
		}
	}
	return 0, -1
}

// Ordering defines an ordering for a single column.
type Ordering struct {
	// Direction determines whether values
	// are sorted in ascending or descending order
	// according to value.Compare.
	Direction
}

// Compare compares two values according
// using the Ordering o.
// Similarly to bytes.Compare, Compare returns
// -1 if a < b, 0 if a == b, or 1 if a > b
func (o Ordering) Compare(a, b value.Value) int {
	rel := value.Compare(a, b)
	switch {
	case rel < 0:
		rel = -1
	case rel > 0:
		rel = 1
	}
	if o.Direction == Descending {
		return -rel
	}
	return rel
}
