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

package value

import (
	"strings"

	"golang.org/x/exp/slices"
)

// Compare imposes a total order on values.
// Values of different kinds are ordered by kind;
// values of the same kind are ordered naturally.
// Arrays compare element-wise and then by length.
// Objects compare as their fields sorted by name.
//
// The result is negative if a < b,
// zero if a == b and positive if a > b.
func Compare(a, b Value) int {
	ka, kb := KindOf(a), KindOf(b)
	if ka != kb {
		if ka < kb {
			return -1
		}
		return 1
	}
	switch ka {
	case BoolKind:
		x, y := a.(Bool), b.(Bool)
		if x == y {
			return 0
		}
		if !x {
			return -1
		}
		return 1
	case NumberKind:
		x, y := a.(Number), b.(Number)
		if x < y {
			return -1
		}
		if x > y {
			return 1
		}
		return 0
	case StringKind:
		return strings.Compare(string(a.(String)), string(b.(String)))
	case ArrayKind:
		return compareArrays(a.(Array), b.(Array))
	case ObjectKind:
		return compareObjects(a.(Object), b.(Object))
	}
	// undefined, null
	return 0
}

// Equal returns whether Compare(a, b) == 0.
func Equal(a, b Value) bool { return Compare(a, b) == 0 }

func compareArrays(a, b Array) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

func compareObjects(a, b Object) int {
	x, y := sortedFields(a), sortedFields(b)
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	for i := 0; i < n; i++ {
		if c := strings.Compare(x[i].Name, y[i].Name); c != 0 {
			return c
		}
		if c := Compare(x[i].Value, y[i].Value); c != 0 {
			return c
		}
	}
	return len(x) - len(y)
}

// sortedFields returns the defined fields
// of o ordered by name.
func sortedFields(o Object) []Field {
	out := make([]Field, 0, len(o))
	for i := range o {
		if !IsUndefined(o[i].Value) {
			out = append(out, o[i])
		}
	}
	slices.SortStableFunc(out, func(x, y Field) int {
		return strings.Compare(x.Name, y.Name)
	})
	return out
}
