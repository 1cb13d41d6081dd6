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

// Alias is a named column of a SELECT list.
// Op is None for columns that are not aggregated.
type Alias struct {
	Name string   `json:"name"`
	Op   Operator `json:"op,omitempty"`
}

// Projection describes the SELECT clause of a
// GROUP BY query.
//
// For SELECT VALUE queries the value is
// aggregated with Aggregates[0], or kept as is
// when Aggregates is empty. Otherwise Aliases
// lists the columns of the SELECT list in the
// order they are projected.
type Projection struct {
	SelectValue bool       `json:"selectValue,omitempty"`
	Aggregates  []Operator `json:"aggregates,omitempty"`
	Aliases     []Alias    `json:"aliases,omitempty"`
}

// Validate checks that p describes a projection.
func (p *Projection) Validate() error {
	if p.SelectValue {
		if len(p.Aliases) > 0 {
			return fmt.Errorf("aggregate: SELECT VALUE with %d aliases", len(p.Aliases))
		}
		return nil
	}
	if len(p.Aliases) == 0 {
		return fmt.Errorf("aggregate: empty SELECT list")
	}
	seen := make(map[string]bool, len(p.Aliases))
	for _, a := range p.Aliases {
		if seen[a.Name] {
			return fmt.Errorf("aggregate: duplicate alias %q", a.Name)
		}
		seen[a.Name] = true
	}
	return nil
}

// slot is one projected value: either an
// aggregate or a scalar that keeps the first
// value it sees (GROUP BY makes non-aggregated
// projections constant within a group)
type slot struct {
	agg *Aggregator

	initialized bool
	scalar      value.Value
}

func newSlot(op Operator, token value.Value) (*slot, error) {
	if op != None {
		agg, err := New(op, token)
		if err != nil {
			return nil, err
		}
		return &slot{agg: agg}, nil
	}
	s := &slot{scalar: value.Undefined{}}
	if token == nil {
		return s, nil
	}
	obj, ok := token.(value.Object)
	if !ok {
		return nil, fmt.Errorf("aggregate: scalar continuation is a %s: %w", value.KindOf(token), xquery.ErrMalformedContinuation)
	}
	initialized, ok := obj.Get("initialized").(value.Bool)
	if !ok {
		return nil, fmt.Errorf("aggregate: scalar continuation without initialized: %w", xquery.ErrMalformedContinuation)
	}
	s.initialized = bool(initialized)
	s.scalar = obj.Get("value")
	return s, nil
}

func (s *slot) fold(v value.Value) error {
	if s.agg != nil {
		switch v.(type) {
		case value.Object, value.Undefined, nil:
		default:
			return mismatch(s.agg.op, "partial is a bare %s, not an item wrapper", value.KindOf(v))
		}
		return s.agg.Fold(value.Item(v))
	}
	if !s.initialized {
		s.scalar, s.initialized = v, true
	}
	return nil
}

func (s *slot) result() value.Value {
	if s.agg != nil {
		return s.agg.Result()
	}
	return s.scalar
}

func (s *slot) continuation() value.Value {
	if s.agg != nil {
		return s.agg.Continuation()
	}
	return value.Object{
		{Name: "initialized", Value: value.Bool(s.initialized)},
		{Name: "value", Value: s.scalar},
	}
}

// Group assembles the projection of one
// GROUP BY group from the partial rows of
// every partition.
type Group struct {
	p     *Projection
	slots []*slot
}

// NewGroup returns an empty group for p, or the
// group token was produced from.
func NewGroup(p *Projection, token value.Value) (*Group, error) {
	g := &Group{p: p}
	if p.SelectValue {
		op := None
		if len(p.Aggregates) > 0 {
			op = p.Aggregates[0]
		}
		s, err := newSlot(op, token)
		if err != nil {
			return nil, err
		}
		g.slots = []*slot{s}
		return g, nil
	}
	var tokens value.Object
	if token != nil {
		obj, ok := token.(value.Object)
		if !ok {
			return nil, fmt.Errorf("aggregate: group continuation is a %s: %w", value.KindOf(token), xquery.ErrMalformedContinuation)
		}
		tokens = obj
	}
	g.slots = make([]*slot, len(p.Aliases))
	for i, a := range p.Aliases {
		var t value.Value
		if tokens != nil {
			var ok bool
			if t, ok = tokens.Lookup(a.Name); !ok {
				return nil, fmt.Errorf("aggregate: no continuation for alias %q: %w", a.Name, xquery.ErrMalformedContinuation)
			}
		}
		s, err := newSlot(a.Op, t)
		if err != nil {
			return nil, fmt.Errorf("alias %q: %w", a.Name, err)
		}
		g.slots[i] = s
	}
	return g, nil
}

// Fold adds the payload of one partial row.
// For a SELECT list the payload is an object
// keyed by alias; missing aliases fold as
// undefined.
func (g *Group) Fold(payload value.Value) error {
	if g.p.SelectValue {
		return g.slots[0].fold(payload)
	}
	obj, ok := payload.(value.Object)
	if !ok {
		return fmt.Errorf("aggregate: SELECT list payload is a %s: %w", value.KindOf(payload), xquery.ErrAggregateTypeMismatch)
	}
	for i, a := range g.p.Aliases {
		if err := g.slots[i].fold(obj.Get(a.Name)); err != nil {
			return fmt.Errorf("alias %q: %w", a.Name, err)
		}
	}
	return nil
}

// Result returns the projected value of the
// group. Aliases whose value is undefined are
// left out of a SELECT list.
func (g *Group) Result() value.Value {
	if g.p.SelectValue {
		return g.slots[0].result()
	}
	out := make(value.Object, 0, len(g.slots))
	for i, a := range g.p.Aliases {
		v := g.slots[i].result()
		if value.IsUndefined(v) {
			continue
		}
		out = append(out, value.Field{Name: a.Name, Value: v})
	}
	return out
}

// Continuation returns the state of g in
// a form accepted by NewGroup.
func (g *Group) Continuation() value.Value {
	if g.p.SelectValue {
		return g.slots[0].continuation()
	}
	out := make(value.Object, len(g.slots))
	for i, a := range g.p.Aliases {
		out[i] = value.Field{Name: a.Name, Value: g.slots[i].continuation()}
	}
	return out
}
