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

package aggregate

import (
	"fmt"

	"github.com/SnellerInc/xquery"
	"github.com/SnellerInc/xquery/value"
)

// undefinedSum is the continuation of a
// sum that has seen an undefined partial
const undefinedSum = value.String("Undefined")

// extremum is the state of a Min or Max combiner
type extremum int

const (
	// lowest sorts before every value;
	// it is the initial state of Max
	lowest extremum = iota
	// highest sorts after every value;
	// it is the initial state of Min
	highest
	undefined
	found
)

var extremumNames = [...]string{
	lowest:    "MinValue",
	highest:   "MaxValue",
	undefined: "Undefined",
	found:     "Value",
}

// Aggregator folds partial results of one
// aggregate function into a global result.
//
// The continuation of each operator is:
//
//	Count     number
//	Sum       number, or "Undefined" once an undefined partial was seen
//	Average   {"sum": number, "count": number}; sum is absent when undefined
//	Min, Max  {"type": "MinValue"|"MaxValue"|"Undefined"|"Value", "value": v}
//	MakeList  array
//	MakeSet   array
//
// An Aggregator is not safe for concurrent use.
type Aggregator struct {
	op Operator

	// count and sum hold Count, Sum and
	// Average; undefined poisons Sum and Average
	count     int64
	sum       float64
	undefined bool

	state extremum
	ext   value.Value

	list value.Array
	// seen indexes list by value.Hash for MakeSet
	seen map[uint64][]int
}

func mismatch(op Operator, f string, args ...interface{}) error {
	return fmt.Errorf("aggregate: %s: %s: %w", op, fmt.Sprintf(f, args...), xquery.ErrAggregateTypeMismatch)
}

func malformed(op Operator, token value.Value) error {
	text, err := value.Marshal(token)
	if err != nil {
		text = []byte(err.Error())
	}
	return fmt.Errorf("aggregate: %s: invalid continuation %s: %w", op, text, xquery.ErrMalformedContinuation)
}

// New returns an Aggregator for op. If token is
// non-nil the aggregator resumes from it.
func New(op Operator, token value.Value) (*Aggregator, error) {
	a := &Aggregator{op: op}
	switch op {
	case Min:
		a.state = highest
	case Max:
		a.state = lowest
	case MakeSet:
		a.seen = make(map[uint64][]int)
	case Count, Sum, Average, MakeList:
	default:
		return nil, fmt.Errorf("aggregate: cannot aggregate with %s", op)
	}
	if token == nil {
		return a, nil
	}
	if err := a.seed(token); err != nil {
		return nil, err
	}
	return a, nil
}

// Operator returns the aggregate function of a.
func (a *Aggregator) Operator() Operator { return a.op }

func (a *Aggregator) seed(token value.Value) error {
	switch a.op {
	case Count:
		n, ok := token.(value.Number)
		if !ok {
			return malformed(a.op, token)
		}
		i, ok := n.Int()
		if !ok || i < 0 {
			return malformed(a.op, token)
		}
		a.count = i
	case Sum:
		switch t := token.(type) {
		case value.Number:
			a.sum = float64(t)
		case value.String:
			if t != undefinedSum {
				return malformed(a.op, token)
			}
			a.undefined = true
		default:
			return malformed(a.op, token)
		}
	case Average:
		obj, ok := token.(value.Object)
		if !ok {
			return malformed(a.op, token)
		}
		n, ok := obj.Get("count").(value.Number)
		if !ok {
			return malformed(a.op, token)
		}
		if a.count, ok = n.Int(); !ok || a.count < 0 {
			return malformed(a.op, token)
		}
		switch s := obj.Get("sum").(type) {
		case value.Number:
			a.sum = float64(s)
		case value.Undefined:
			a.undefined = true
		default:
			return malformed(a.op, token)
		}
	case Min, Max:
		obj, ok := token.(value.Object)
		if !ok {
			return malformed(a.op, token)
		}
		name, ok := obj.Get("type").(value.String)
		if !ok {
			return malformed(a.op, token)
		}
		a.state = -1
		for i := range extremumNames {
			if extremumNames[i] == string(name) {
				a.state = extremum(i)
			}
		}
		switch a.state {
		case -1:
			return malformed(a.op, token)
		case found:
			a.ext = obj.Get("value")
			if value.IsUndefined(a.ext) {
				return malformed(a.op, token)
			}
		}
	case MakeList, MakeSet:
		lst, ok := token.(value.Array)
		if !ok {
			return malformed(a.op, token)
		}
		for i := range lst {
			a.add(lst[i])
		}
	}
	return nil
}

// Fold combines one partial result into a. The
// partial must already be unwrapped (see value.Item).
func (a *Aggregator) Fold(partial value.Value) error {
	switch a.op {
	case Count:
		n, ok := partial.(value.Number)
		if !ok {
			return mismatch(a.op, "partial is a %s", value.KindOf(partial))
		}
		i, ok := n.Int()
		if !ok || i < 0 {
			return mismatch(a.op, "partial count %v", float64(n))
		}
		a.count += i
	case Sum:
		if a.undefined {
			return nil
		}
		switch p := partial.(type) {
		case value.Number:
			a.sum += float64(p)
		case value.Undefined:
			a.undefined = true
		default:
			return mismatch(a.op, "partial is a %s", value.KindOf(partial))
		}
	case Average:
		obj, ok := partial.(value.Object)
		if !ok {
			return mismatch(a.op, "partial is a %s", value.KindOf(partial))
		}
		n, ok := obj.Get("count").(value.Number)
		if !ok {
			return mismatch(a.op, "partial has no count")
		}
		count, ok := n.Int()
		if !ok || count < 0 {
			return mismatch(a.op, "partial count %v", float64(n))
		}
		a.count += count
		switch s := obj.Get("sum").(type) {
		case value.Number:
			a.sum += float64(s)
		case value.Undefined:
			a.undefined = true
		default:
			return mismatch(a.op, "partial sum is a %s", value.KindOf(s))
		}
	case Min, Max:
		a.foldExtremum(partial)
	case MakeList, MakeSet:
		if value.IsUndefined(partial) {
			// no rows behind this partial
			return nil
		}
		lst, ok := partial.(value.Array)
		if !ok {
			return mismatch(a.op, "partial is a %s", value.KindOf(partial))
		}
		for i := range lst {
			a.add(lst[i])
		}
	}
	return nil
}

func (a *Aggregator) foldExtremum(partial value.Value) {
	if a.state == undefined {
		return
	}
	// partials may carry the number of rows
	// they were computed over:
	//   {"min": v, "count": n} or {"max": v, "count": n}
	if obj, ok := partial.(value.Object); ok {
		if n, ok := obj.Get("count").(value.Number); ok {
			if n == 0 {
				return
			}
			if a.op == Min {
				partial = obj.Get("min")
			} else {
				partial = obj.Get("max")
			}
		}
	}
	if value.IsUndefined(partial) {
		a.state, a.ext = undefined, nil
		return
	}
	if a.state == found && (!value.IsPrimitive(partial) || !value.IsPrimitive(a.ext)) {
		// only primitives have an order that
		// is meaningful across partitions
		a.state, a.ext = undefined, nil
		return
	}
	if a.state != found {
		a.state, a.ext = found, partial
		return
	}
	rel := value.Compare(partial, a.ext)
	if (a.op == Min && rel < 0) || (a.op == Max && rel > 0) {
		a.ext = partial
	}
}

func (a *Aggregator) add(v value.Value) {
	if a.op == MakeSet {
		h := value.Hash(v)
		for _, i := range a.seen[h] {
			if value.Equal(a.list[i], v) {
				return
			}
		}
		a.seen[h] = append(a.seen[h], len(a.list))
	}
	a.list = append(a.list, v)
}

// Result returns the final value of the
// aggregate. It may be value.Undefined.
func (a *Aggregator) Result() value.Value {
	switch a.op {
	case Count:
		return value.Number(a.count)
	case Sum:
		if a.undefined {
			return value.Undefined{}
		}
		return value.Number(a.sum)
	case Average:
		if a.undefined || a.count <= 0 {
			return value.Undefined{}
		}
		return value.Number(a.sum / float64(a.count))
	case Min, Max:
		if a.state != found {
			return value.Undefined{}
		}
		return a.ext
	case MakeList, MakeSet:
		out := make(value.Array, len(a.list))
		copy(out, a.list)
		return out
	}
	return value.Undefined{}
}

// Continuation returns the state of a
// in a form accepted by New.
func (a *Aggregator) Continuation() value.Value {
	switch a.op {
	case Count:
		return value.Number(a.count)
	case Sum:
		if a.undefined {
			return undefinedSum
		}
		return value.Number(a.sum)
	case Average:
		obj := value.Object{}
		if !a.undefined {
			obj = append(obj, value.Field{Name: "sum", Value: value.Number(a.sum)})
		}
		return append(obj, value.Field{Name: "count", Value: value.Number(a.count)})
	case Min, Max:
		obj := value.Object{{Name: "type", Value: value.String(extremumNames[a.state])}}
		if a.state == found {
			obj = append(obj, value.Field{Name: "value", Value: a.ext})
		}
		return obj
	case MakeList, MakeSet:
		return a.Result()
	}
	return value.Null{}
}
