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
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/SnellerInc/xquery"
	"github.com/SnellerInc/xquery/value"
)

type entry struct {
	key   string
	items value.Array
	group *Group
}

// Table is the grouping table of a GROUP BY
// query. Rows produced by the partitions have
// the form
//
//	{"groupByItems": [v, ...], "payload": p}
//
// and are folded into one Group per distinct
// list of groupByItems. Groups are reported in
// the order their first row was added.
type Table struct {
	p       *Projection
	entries []entry
	index   map[string]int
}

// groupKey returns the digest that identifies
// the group of a list of GROUP BY values
func groupKey(items value.Array) string {
	sum := blake2b.Sum256(value.AppendCanonical(nil, items))
	return hex.EncodeToString(sum[:])
}

// NewTable returns a grouping table for p.
// If token is non-nil the table resumes from it.
func NewTable(p *Projection, token value.Value) (*Table, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	t := &Table{p: p, index: make(map[string]int)}
	if token == nil {
		return t, nil
	}
	lst, ok := token.(value.Array)
	if !ok {
		return nil, fmt.Errorf("aggregate: grouping table continuation is a %s: %w", value.KindOf(token), xquery.ErrMalformedContinuation)
	}
	for i := range lst {
		obj, ok := lst[i].(value.Object)
		if !ok {
			return nil, fmt.Errorf("aggregate: group %d is a %s: %w", i, value.KindOf(lst[i]), xquery.ErrMalformedContinuation)
		}
		wrapped, ok := obj.Get("groupByItems").(value.Array)
		if !ok {
			return nil, fmt.Errorf("aggregate: group %d has no groupByItems: %w", i, xquery.ErrMalformedContinuation)
		}
		items := make(value.Array, len(wrapped))
		for j := range wrapped {
			items[j] = value.Item(wrapped[j])
		}
		key := groupKey(items)
		if k, ok := obj.Get("key").(value.String); !ok || string(k) != key {
			return nil, fmt.Errorf("aggregate: group %d has a bad key: %w", i, xquery.ErrMalformedContinuation)
		}
		if _, dup := t.index[key]; dup {
			return nil, fmt.Errorf("aggregate: group %d appears twice: %w", i, xquery.ErrMalformedContinuation)
		}
		g, err := NewGroup(p, obj.Get("state"))
		if err != nil {
			return nil, fmt.Errorf("aggregate: group %d: %w", i, err)
		}
		t.index[key] = len(t.entries)
		t.entries = append(t.entries, entry{key: key, items: items, group: g})
	}
	return t, nil
}

// Len returns the number of groups.
func (t *Table) Len() int { return len(t.entries) }

// Add folds one row into its group.
func (t *Table) Add(row value.Value) error {
	obj, ok := row.(value.Object)
	if !ok {
		return fmt.Errorf("aggregate: GROUP BY row is a %s: %w", value.KindOf(row), xquery.ErrAggregateTypeMismatch)
	}
	items, ok := obj.Get("groupByItems").(value.Array)
	if !ok {
		return fmt.Errorf("aggregate: GROUP BY row has no groupByItems: %w", xquery.ErrAggregateTypeMismatch)
	}
	key := groupKey(items)
	i, ok := t.index[key]
	if !ok {
		g, err := NewGroup(t.p, nil)
		if err != nil {
			return err
		}
		i = len(t.entries)
		t.index[key] = i
		t.entries = append(t.entries, entry{key: key, items: items, group: g})
	}
	return t.entries[i].group.Fold(obj.Get("payload"))
}

// Results returns the projected value of every
// group. Groups whose SELECT VALUE result is
// undefined are left out.
func (t *Table) Results() []value.Value {
	out := make([]value.Value, 0, len(t.entries))
	for i := range t.entries {
		v := t.entries[i].group.Result()
		if value.IsUndefined(v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Continuation returns the state of
// t in a form accepted by NewTable. The
// GROUP BY values of each group are wrapped
// as {"item": v} so that undefined values
// keep their position.
func (t *Table) Continuation() value.Value {
	out := make(value.Array, len(t.entries))
	for i := range t.entries {
		e := &t.entries[i]
		items := make(value.Array, len(e.items))
		for j := range e.items {
			if value.IsUndefined(e.items[j]) {
				items[j] = value.Object{}
			} else {
				items[j] = value.Object{{Name: "item", Value: e.items[j]}}
			}
		}
		out[i] = value.Object{
			{Name: "key", Value: value.String(e.key)},
			{Name: "groupByItems", Value: items},
			{Name: "state", Value: e.group.Continuation()},
		}
	}
	return out
}
