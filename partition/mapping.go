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

package partition

import (
	"fmt"

	"github.com/SnellerInc/xquery"
)

// Entry pairs a range with a value.
type Entry[T any] struct {
	Range Range
	Value T
}

// Mapping splits the current ranges of a container
// around the range a continuation token refers to.
// Left holds the ranges before the target, Right
// those after it; both are in key order.
type Mapping[T any] struct {
	Left   []Entry[T]
	Target Entry[T]
	Right  []Entry[T]
}

// NewMapping builds a Mapping from the current
// ranges (which must be sorted; see Validate) and
// the range a token was issued for. The target
// receives v; every other range receives the zero T.
//
// If no current range overlaps target the token
// cannot have been produced for this container and
// the error wraps xquery.ErrMalformedContinuation.
// If target no longer corresponds to exactly one
// current range the error wraps xquery.ErrRangeGone.
func NewMapping[T any](ranges []Range, target Range, v T) (*Mapping[T], error) {
	if err := Validate(ranges); err != nil {
		return nil, err
	}
	m := &Mapping[T]{}
	found := -1
	overlapping := 0
	for i := range ranges {
		if ranges[i].Overlaps(target) {
			overlapping++
		}
		if ranges[i] == target {
			found = i
		}
	}
	if found < 0 {
		if overlapping == 0 {
			return nil, fmt.Errorf("partition: token range %s not found: %w", target, xquery.ErrMalformedContinuation)
		}
		return nil, fmt.Errorf("partition: token range %s now spans %d ranges: %w", target, overlapping, xquery.ErrRangeGone)
	}
	for i := range ranges {
		switch {
		case i < found:
			m.Left = append(m.Left, Entry[T]{Range: ranges[i]})
		case i > found:
			m.Right = append(m.Right, Entry[T]{Range: ranges[i]})
		default:
			m.Target = Entry[T]{Range: ranges[i], Value: v}
		}
	}
	return m, nil
}
