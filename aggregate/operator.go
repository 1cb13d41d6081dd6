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

// Package aggregate combines the partial aggregates
// that each partition computes into the final value
// of an aggregate query, and groups them by the
// GROUP BY key when there is one.
//
// Every combiner can be suspended into a continuation
// token and seeded from one later, so an aggregation
// can span any number of query pages.
package aggregate

import (
	"fmt"
	"strings"
)

// Operator is an aggregate function.
type Operator int

const (
	// None marks a projection that is not
	// aggregated; its first value is kept.
	None Operator = iota
	Count
	Sum
	Average
	Min
	Max
	MakeList
	MakeSet
)

func (o Operator) String() string {
	switch o {
	case None:
		return "None"
	case Count:
		return "Count"
	case Sum:
		return "Sum"
	case Average:
		return "Average"
	case Min:
		return "Min"
	case Max:
		return "Max"
	case MakeList:
		return "MakeList"
	case MakeSet:
		return "MakeSet"
	}
	return fmt.Sprintf("Operator(%d)", int(o))
}

// ParseOperator parses the name of an aggregate
// function. Names are case-insensitive; COUNTIF
// is combined like COUNT and AVG is accepted for
// AVERAGE.
func ParseOperator(s string) (Operator, error) {
	switch strings.ToLower(s) {
	case "count", "countif":
		return Count, nil
	case "sum":
		return Sum, nil
	case "average", "avg":
		return Average, nil
	case "min":
		return Min, nil
	case "max":
		return Max, nil
	case "makelist":
		return MakeList, nil
	case "makeset":
		return MakeSet, nil
	}
	return None, fmt.Errorf("aggregate: unknown operator %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (o Operator) MarshalText() ([]byte, error) {
	if o < Count || o > MakeSet {
		return nil, fmt.Errorf("aggregate: cannot encode %s", o)
	}
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Operator) UnmarshalText(text []byte) error {
	op, err := ParseOperator(string(text))
	if err != nil {
		return err
	}
	*o = op
	return nil
}
