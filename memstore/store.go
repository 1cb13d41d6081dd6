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

// Package memstore implements an in-memory
// partitioned container that serves ORDER BY
// queries through the partition.Backend contract.
//
// The query text sent to a Store is a predicate in
// the query language (for example
// `( c.v > 2 OR IS_STRING(c.v) )`), evaluated with
// CEL against every document bound as `c`. Rows are
// returned sorted by the configured columns in the
// shape the orderby package expects:
//
//	{"_rid": "...", "orderByItems": [{"item": v}, ...], "payload": doc}
//
// Backend states are positions in the sort order,
// so they remain valid when a range is queried again
// with a different predicate.
package memstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/SnellerInc/xquery"
	"github.com/SnellerInc/xquery/partition"
	"github.com/SnellerInc/xquery/sorting"
	"github.com/SnellerInc/xquery/value"
)

// Options configures a Store.
type Options struct {
	// Columns are the ORDER BY columns rows
	// are sorted and projected by.
	Columns []sorting.Column
	// MaxPageSize, if positive, caps the
	// number of rows in every page.
	MaxPageSize int
	// ReverseIndexScan makes the store order rows
	// with equal sort keys by descending rid and
	// report it as a reverse index scan. Otherwise
	// ties follow the direction of the first column
	// and pages report ReverseRidEnabled.
	ReverseIndexScan bool
	// RequestCharge is the charge reported
	// for every page; it defaults to 1.
	RequestCharge float64
}

type doc struct {
	rid  string
	body value.Value
}

// Store is a set of ranges holding documents.
// It is safe for concurrent use.
type Store struct {
	opts  Options
	dirs  []sorting.Direction
	preds *predicates

	mu     sync.Mutex
	ranges []partition.Range
	docs   map[partition.Range][]doc
	faults map[partition.Range][]error
	seq    int64
}

var _ partition.Backend = (*Store)(nil)

// New creates an empty store over ranges.
func New(ranges []partition.Range, opts *Options) (*Store, error) {
	ranges = partition.Sorted(ranges)
	if err := partition.Validate(ranges); err != nil {
		return nil, err
	}
	if opts == nil || len(opts.Columns) == 0 {
		return nil, fmt.Errorf("memstore: no ORDER BY columns")
	}
	preds, err := newPredicates()
	if err != nil {
		return nil, err
	}
	s := &Store{
		opts:   *opts,
		dirs:   sorting.Directions(opts.Columns),
		preds:  preds,
		ranges: ranges,
		docs:   make(map[partition.Range][]doc),
		faults: make(map[partition.Range][]error),
	}
	if s.opts.RequestCharge == 0 {
		s.opts.RequestCharge = 1
	}
	return s, nil
}

// Ranges returns the ranges of the store in key order.
func (s *Store) Ranges() []partition.Range {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.ranges)
}

func (s *Store) has(r partition.Range) bool {
	return slices.Contains(s.ranges, r)
}

// splitFrom returns whether some range of s lies
// inside r, which is what is left of r after Split
func (s *Store) splitFrom(r partition.Range) bool {
	for i := range s.ranges {
		if r.Contains(s.ranges[i]) {
			return true
		}
	}
	return false
}

// Insert adds documents to range r. A document
// that is an object with a string "_rid" field
// keeps that rid (several documents may share one,
// as rows produced by a JOIN do); every other
// document is assigned the next rid in sequence.
func (s *Store) Insert(r partition.Range, docs ...value.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.has(r) {
		return fmt.Errorf("memstore: no range %s", r)
	}
	for _, d := range docs {
		rid := ""
		if obj, ok := d.(value.Object); ok {
			if x, ok := obj.Get("_rid").(value.String); ok {
				rid = string(x)
			}
		}
		if rid == "" {
			s.seq++
			rid = strconv.FormatInt(s.seq, 10)
		}
		s.docs[r] = append(s.docs[r], doc{rid: rid, body: d})
	}
	return nil
}

// InsertJSON is like Insert, but parses each document from JSON.
func (s *Store) InsertJSON(r partition.Range, docs ...string) error {
	vs := make([]value.Value, len(docs))
	for i := range docs {
		v, err := value.Unmarshal([]byte(docs[i]))
		if err != nil {
			return err
		}
		vs[i] = v
	}
	return s.Insert(r, vs...)
}

// InjectFault makes the next query against
// range r fail with err. Faults queue up.
func (s *Store) InjectFault(r partition.Range, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[r] = append(s.faults[r], err)
}

// Split replaces range r with two ranges divided at
// key. Documents are distributed between the halves
// alternately. Backend states issued for r are not
// valid for the new ranges; queries against r fail
// with xquery.ErrRangeGone afterwards.
func (s *Store) Split(r partition.Range, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.Index(s.ranges, r)
	if i < 0 {
		return fmt.Errorf("memstore: no range %s", r)
	}
	if key <= r.Min || key >= r.Max {
		return fmt.Errorf("memstore: split key %q outside %s", key, r)
	}
	lo := partition.Range{Min: r.Min, Max: key}
	hi := partition.Range{Min: key, Max: r.Max}
	s.ranges = slices.Replace(s.ranges, i, i+1, lo, hi)
	for k, d := range s.docs[r] {
		if k%2 == 0 {
			s.docs[lo] = append(s.docs[lo], d)
		} else {
			s.docs[hi] = append(s.docs[hi], d)
		}
	}
	delete(s.docs, r)
	return nil
}

type row struct {
	key []value.Value
	rid string
	// ord numbers rows that share key and
	// rid, as the rows of a JOIN do
	ord int
	doc value.Value
}

// compare orders rows by sort key and then by rid
func (s *Store) compare(a, b *row) int {
	if rel, _ := sorting.CompareTuples(a.key, b.key, s.dirs); rel != 0 {
		return rel
	}
	rel := partition.CompareRID(a.rid, b.rid)
	if s.opts.ReverseIndexScan || s.dirs[0] == sorting.Descending {
		rel = -rel
	}
	return rel
}

func (s *Store) info() *partition.ExecutionInfo {
	if s.opts.ReverseIndexScan {
		return &partition.ExecutionInfo{ReverseIndexScan: true}
	}
	return &partition.ExecutionInfo{ReverseRidEnabled: true}
}

// Query implements partition.Backend.
func (s *Store) Query(ctx context.Context, q partition.Query, r partition.Range, state string, pageSize int) (*partition.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(q.Params) > 0 {
		return nil, fmt.Errorf("memstore: query parameters are not supported")
	}
	s.mu.Lock()
	var fault error
	if f := s.faults[r]; len(f) > 0 {
		fault = f[0]
		s.faults[r] = f[1:]
	}
	ok, split := s.has(r), s.splitFrom(r)
	docs := s.docs[r]
	s.mu.Unlock()
	if fault != nil {
		return nil, fault
	}
	if !ok {
		if split {
			return nil, fmt.Errorf("memstore: range %s: %w", r, xquery.ErrRangeGone)
		}
		return nil, fmt.Errorf("memstore: no range %s", r)
	}

	prg, err := s.preds.compile(q.Text)
	if err != nil {
		return nil, err
	}
	var rows []row
	for i := range docs {
		if !match(prg, docs[i].body) {
			continue
		}
		rows = append(rows, row{key: s.project(docs[i].body), rid: docs[i].rid, doc: docs[i].body})
	}
	slices.SortStableFunc(rows, func(a, b row) int { return s.compare(&a, &b) })
	for i := 1; i < len(rows); i++ {
		if s.compare(&rows[i-1], &rows[i]) == 0 {
			rows[i].ord = rows[i-1].ord + 1
		}
	}

	start := 0
	if state != "" {
		after, err := s.decodeState(state)
		if err != nil {
			return nil, err
		}
		start = len(rows)
		for i := range rows {
			rel := s.compare(&rows[i], after)
			if rel == 0 {
				rel = rows[i].ord - after.ord
			}
			if rel > 0 {
				start = i
				break
			}
		}
	}
	n := pageSize
	if s.opts.MaxPageSize > 0 && (n <= 0 || n > s.opts.MaxPageSize) {
		n = s.opts.MaxPageSize
	}
	end := len(rows)
	if n > 0 && start+n < end {
		end = start + n
	}

	p := &partition.Page{
		Items:         make([]value.Value, 0, end-start),
		RequestCharge: s.opts.RequestCharge,
		ActivityID:    uuid.NewString(),
		Info:          s.info(),
	}
	for i := start; i < end; i++ {
		p.Items = append(p.Items, rows[i].item())
	}
	if end < len(rows) {
		p.State = encodeState(&rows[end-1])
	}
	return p, nil
}

// project evaluates the ORDER BY columns on a document
func (s *Store) project(d value.Value) []value.Value {
	key := make([]value.Value, len(s.opts.Columns))
	for i := range s.opts.Columns {
		key[i] = lookup(d, s.opts.Columns[i].Expr)
	}
	return key
}

// lookup evaluates a path expression such as
// "c.a.b"; the first component names the document
func lookup(d value.Value, expr string) value.Value {
	parts := strings.Split(expr, ".")
	v := d
	for _, name := range parts[1:] {
		obj, ok := v.(value.Object)
		if !ok {
			return value.Undefined{}
		}
		v = obj.Get(name)
	}
	return v
}

func wrapItems(key []value.Value) value.Array {
	items := make(value.Array, len(key))
	for i := range key {
		if value.IsUndefined(key[i]) {
			items[i] = value.Object{}
		} else {
			items[i] = value.Object{{Name: "item", Value: key[i]}}
		}
	}
	return items
}

func (r *row) item() value.Value {
	return value.Object{
		{Name: "_rid", Value: value.String(r.rid)},
		{Name: "orderByItems", Value: wrapItems(r.key)},
		{Name: "payload", Value: r.doc},
	}
}

// states are the JSON array [items..., rid, ord]
// of the last row returned
func encodeState(r *row) string {
	lst := append(wrapItems(r.key), value.String(r.rid), value.Number(r.ord))
	return value.MustMarshal(lst)
}

func (s *Store) decodeState(state string) (*row, error) {
	v, err := value.Unmarshal([]byte(state))
	if err != nil {
		return nil, fmt.Errorf("memstore: bad state: %w", err)
	}
	lst, ok := v.(value.Array)
	n := len(s.opts.Columns)
	if !ok || len(lst) != n+2 {
		return nil, fmt.Errorf("memstore: bad state %q", state)
	}
	rid, ok1 := lst[n].(value.String)
	ord, ok2 := lst[n+1].(value.Number)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("memstore: bad state %q", state)
	}
	r := &row{rid: string(rid), ord: int(ord), key: make([]value.Value, n)}
	for i := range r.key {
		r.key[i] = value.Item(lst[i])
	}
	return r, nil
}
