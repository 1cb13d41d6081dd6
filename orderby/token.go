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

package orderby

import (
	"fmt"

	"github.com/SnellerInc/xquery"
	"github.com/SnellerInc/xquery/partition"
	"github.com/SnellerInc/xquery/value"
)

// Initializing is the continuation reported while
// the stage is still priming partitions from the
// beginning. Resuming from it restarts the query.
var Initializing = value.String("ORDER BY NOT INITIALIZED YET!")

// Token is the resume record of an ORDER BY query.
// It names the item that was emitted last (its sort
// key and resource id), the range it came from and
// the backend position of that range.
//
// On the wire a continuation is a JSON array holding
// exactly one record:
//
//	[{"parallel": {"token": <string|null>, "range": {"min": .., "max": ..}},
//	  "orderByItems": [{"item": v}, ...],
//	  "rid": "...", "skipCount": n, "filter": "..."}]
//
// Undefined sort key values are encoded as {}.
type Token struct {
	// Backend is the backend state to resume the
	// range from; the empty string means the start
	// of the range.
	Backend string
	Range   partition.Range
	OrderBy []value.Value
	Rid     string
	// SkipCount is the number of items with the
	// same sort key and rid as the reference item
	// that were already emitted from the page
	// Backend points at.
	SkipCount int
	// Filter is the predicate the range was
	// queried with when the token was produced.
	Filter string
}

// Value returns the record form of t.
func (t *Token) Value() value.Value {
	var backend value.Value = value.Null{}
	if t.Backend != "" {
		backend = value.String(t.Backend)
	}
	items := make(value.Array, len(t.OrderBy))
	for i := range t.OrderBy {
		if value.IsUndefined(t.OrderBy[i]) {
			items[i] = value.Object{}
			continue
		}
		items[i] = value.Object{{Name: "item", Value: t.OrderBy[i]}}
	}
	return value.Object{
		{Name: "parallel", Value: value.Object{
			{Name: "token", Value: backend},
			{Name: "range", Value: value.Object{
				{Name: "min", Value: value.String(t.Range.Min)},
				{Name: "max", Value: value.String(t.Range.Max)},
			}},
		}},
		{Name: "orderByItems", Value: items},
		{Name: "rid", Value: value.String(t.Rid)},
		{Name: "skipCount", Value: value.Number(t.SkipCount)},
		{Name: "filter", Value: value.String(t.Filter)},
	}
}

// Continuation returns the wire form of t:
// an array holding the record.
func (t *Token) Continuation() value.Value {
	return value.Array{t.Value()}
}

func malformed(f string, args ...interface{}) error {
	return fmt.Errorf("orderby: %s: %w", fmt.Sprintf(f, args...), xquery.ErrMalformedContinuation)
}

// ParseContinuation parses the wire form of a
// continuation for a query with the given number
// of sort columns.
func ParseContinuation(v value.Value, columns int) (*Token, error) {
	lst, ok := v.(value.Array)
	if !ok {
		return nil, malformed("continuation is a %s, not an array", value.KindOf(v))
	}
	if len(lst) != 1 {
		return nil, malformed("continuation holds %d records, expected 1", len(lst))
	}
	t, err := ParseToken(lst[0])
	if err != nil {
		return nil, err
	}
	if len(t.OrderBy) != columns {
		return nil, malformed("token has %d sort values for %d ORDER BY columns", len(t.OrderBy), columns)
	}
	return t, nil
}

// ParseToken parses a single token record.
func ParseToken(v value.Value) (*Token, error) {
	obj, ok := v.(value.Object)
	if !ok {
		return nil, malformed("token record is a %s", value.KindOf(v))
	}
	t := &Token{}
	par, ok := obj.Get("parallel").(value.Object)
	if !ok {
		return nil, malformed("missing parallel token")
	}
	switch b := par.Get("token").(type) {
	case value.Null, value.Undefined:
	case value.String:
		t.Backend = string(b)
	default:
		return nil, malformed("backend token is a %s", b.Kind())
	}
	rng, ok := par.Get("range").(value.Object)
	if !ok {
		return nil, malformed("missing range")
	}
	lo, ok1 := rng.Get("min").(value.String)
	hi, ok2 := rng.Get("max").(value.String)
	if !ok1 || !ok2 {
		return nil, malformed("range bounds must be strings")
	}
	t.Range = partition.Range{Min: string(lo), Max: string(hi)}

	items, ok := obj.Get("orderByItems").(value.Array)
	if !ok {
		return nil, malformed("missing orderByItems")
	}
	t.OrderBy = make([]value.Value, len(items))
	for i := range items {
		if _, ok := items[i].(value.Object); !ok {
			return nil, malformed("orderByItems[%d] is a %s", i, value.KindOf(items[i]))
		}
		t.OrderBy[i] = value.Item(items[i])
	}

	rid, ok := obj.Get("rid").(value.String)
	if !ok || rid == "" {
		return nil, malformed("missing rid")
	}
	t.Rid = string(rid)

	skip, ok := obj.Get("skipCount").(value.Number)
	if !ok {
		return nil, malformed("missing skipCount")
	}
	n, ok := skip.Int()
	if !ok || n < 0 {
		return nil, malformed("invalid skipCount %v", float64(skip))
	}
	t.SkipCount = int(n)

	filter, ok := obj.Get("filter").(value.String)
	if !ok {
		return nil, malformed("missing filter")
	}
	t.Filter = string(filter)
	return t, nil
}
