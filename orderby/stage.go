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
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/SnellerInc/xquery"
	"github.com/SnellerInc/xquery/heap"
	"github.com/SnellerInc/xquery/metrics"
	"github.com/SnellerInc/xquery/partition"
	"github.com/SnellerInc/xquery/sorting"
	"github.com/SnellerInc/xquery/value"
)

// DefaultPageSize is the page size
// used when Options.PageSize is zero.
const DefaultPageSize = 100

// Options configures a Stage.
// The zero value is usable.
type Options struct {
	// PageSize is the maximum number
	// of items in an emitted page.
	PageSize int
	// FetchSize is the number of items requested
	// from the backend per page. It defaults to
	// PageSize.
	FetchSize int
	// MaxConcurrency bounds the number of ranges
	// that are fetched in parallel while priming.
	// Values below 2 prime one range at a time.
	MaxConcurrency int
	// Prefetch, if set, starts fetching the next
	// page of a range in the background as soon as
	// the range enters the merge.
	Prefetch bool
	// Logf, if non-nil, receives
	// diagnostic messages.
	Logf func(f string, args ...interface{})
	// Metrics, if non-nil, is updated
	// with every fetch and every page.
	Metrics *metrics.Stage
}

// Page is one page of output.
//
// Pages without items are normal: they are emitted
// while ranges are being primed and carry the
// request charge of the fetch that was made.
type Page struct {
	Items         []value.Value
	RequestCharge float64
	ActivityID    string
	// Continuation resumes the query after this
	// page. It is nil on the last page.
	Continuation value.Value
}

// Done returns whether p is the last page.
func (p *Page) Done() bool { return p.Continuation == nil }

type phase int

const (
	notStarted phase = iota
	priming
	merging
	drained
)

func (p phase) String() string {
	switch p {
	case notStarted:
		return "not started"
	case priming:
		return "priming"
	case merging:
		return "merging"
	case drained:
		return "drained"
	}
	return "unknown"
}

// pending is a cursor that has to be primed
// before it can take part in the merge; token
// is set when the cursor has to catch up with
// a continuation first
type pending struct {
	cursor int
	token  *Token
}

// Stage merges the results of an ORDER BY query
// from every range of a container into one stream
// of pages in global sort order.
//
// Every range is read through a cursor. Cursors are
// first primed (one per call to Next) and then merged
// through a heap ordered by the current item of each
// cursor; ties between ranges go to the range with
// the smaller key.
//
// A Stage is not safe for concurrent use.
type Stage struct {
	opts    Options
	columns []sorting.Column
	dirs    []sorting.Direction

	// cursors is the arena referenced by
	// frontier, heads and pending
	cursors  []*partition.Prefetcher
	heads    []result
	frontier heap.Indexed
	pending  []pending

	state value.Value
	phase phase
	err   error
}

// New creates a stage that runs q over ranges of
// backend b, sorted by columns.
//
// The query text must contain FilterPlaceholder,
// which is replaced with the predicate each range is
// queried with. If continuation is nil (or
// Initializing) the query starts from the beginning;
// otherwise it resumes after the item continuation
// refers to, and the error wraps
// xquery.ErrMalformedContinuation if continuation
// cannot be decoded.
func New(b partition.Backend, q partition.Query, ranges []partition.Range, columns []sorting.Column, continuation value.Value, opts *Options) (*Stage, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("orderby: no ORDER BY columns")
	}
	ranges = partition.Sorted(ranges)
	if err := partition.Validate(ranges); err != nil {
		return nil, err
	}
	s := &Stage{
		columns: columns,
		dirs:    sorting.Directions(columns),
	}
	if opts != nil {
		s.opts = *opts
	}
	if s.opts.PageSize <= 0 {
		s.opts.PageSize = DefaultPageSize
	}
	if s.opts.FetchSize <= 0 {
		s.opts.FetchSize = s.opts.PageSize
	}
	s.frontier.Less = s.less

	if continuation == nil || value.Equal(continuation, Initializing) {
		for _, r := range ranges {
			s.add(b, q, r, TrueFilter, nil)
		}
		s.state = Initializing
		s.logf("orderby: starting over %d ranges", len(ranges))
		return s, nil
	}

	tok, err := ParseContinuation(continuation, len(columns))
	if err != nil {
		return nil, err
	}
	m, err := partition.NewMapping(ranges, tok.Range, tok)
	if err != nil {
		return nil, fmt.Errorf("orderby: resuming: %w", err)
	}
	left, target, right, err := Filters(columns, tok.OrderBy)
	if err != nil {
		return nil, fmt.Errorf("orderby: building filters: %w", err)
	}
	for _, e := range m.Left {
		s.add(b, q, e.Range, left, nil)
	}
	s.add(b, q, m.Target.Range, target, m.Target.Value)
	for _, e := range m.Right {
		s.add(b, q, e.Range, right, nil)
	}
	s.state = continuation
	s.logf("orderby: resuming in %s with %d ranges before and %d after", tok.Range, len(m.Left), len(m.Right))
	return s, nil
}

func (s *Stage) add(b partition.Backend, q partition.Query, r partition.Range, filter string, tok *Token) {
	state := ""
	if tok != nil {
		state = tok.Backend
	}
	c := partition.NewCursor(b, q.WithFilter(FilterPlaceholder, filter), r, filter, state, s.opts.FetchSize)
	c.OnFetch = s.observeFetch
	s.cursors = append(s.cursors, partition.NewPrefetcher(c))
	s.heads = append(s.heads, result{})
	s.pending = append(s.pending, pending{cursor: len(s.cursors) - 1, token: tok})
}

func (s *Stage) observeFetch(_ partition.Range, elapsed time.Duration, err error) {
	s.opts.Metrics.ObserveFetch(elapsed, err)
}

func (s *Stage) logf(f string, args ...interface{}) {
	// let `go vet` know this is printf-like
	if false {
		_ = fmt.Sprintf(f, args...)
	}
	if s.opts.Logf != nil {
		s.opts.Logf(f, args...)
	}
}

// less orders the frontier: by the sort key of
// the current items, then by range
func (s *Stage) less(i, j int) bool {
	rel, _ := sorting.CompareTuples(s.heads[i].orderBy, s.heads[j].orderBy, s.dirs)
	if rel != 0 {
		return rel < 0
	}
	return s.cursors[i].Range().Min < s.cursors[j].Range().Min
}

// fail makes err permanent; it is used for
// results that cannot be interpreted, after
// which the position of the stage is unknown
func (s *Stage) fail(err error) error {
	s.err = err
	return err
}

// push parses the current item of cursor i
// and adds the cursor to the frontier
func (s *Stage) push(ctx context.Context, i int) error {
	c := s.cursors[i]
	r, err := parseResult(c.Current(), len(s.columns))
	if err != nil {
		return s.fail(err)
	}
	s.heads[i] = r
	s.frontier.Push(i)
	if s.opts.Prefetch {
		c.Start(ctx)
	}
	return nil
}

// Next returns the next page.
// After the page with a nil continuation
// has been returned, Next returns io.EOF.
//
// Errors from the backend are returned as they
// are (wrapped); the range that failed keeps its
// position, so Next may be called again to retry.
func (s *Stage) Next(ctx context.Context) (*Page, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.phase == drained {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.pending) > 0 {
		s.enter(priming)
		return s.prime(ctx)
	}
	if s.frontier.Len() == 0 {
		// nothing matched anywhere
		return s.finish(&Page{}), nil
	}
	s.enter(merging)
	return s.drainPage(ctx)
}

func (s *Stage) enter(p phase) {
	if s.phase != p {
		s.logf("orderby: %s -> %s", s.phase, p)
		s.phase = p
	}
}

func (s *Stage) emit(p *Page) *Page {
	s.opts.Metrics.ObservePage(len(p.Items), p.RequestCharge)
	return p
}

func (s *Stage) finish(p *Page) *Page {
	p.Continuation = nil
	if p.ActivityID == "" {
		p.ActivityID = uuid.NewString()
	}
	s.state = nil
	s.enter(drained)
	return s.emit(p)
}

// prefetchPending fetches the first page of every
// pending cursor in parallel
func (s *Stage) prefetchPending(ctx context.Context) {
	if s.opts.MaxConcurrency < 2 || len(s.pending) < 2 {
		return
	}
	var g errgroup.Group
	g.SetLimit(s.opts.MaxConcurrency)
	for _, p := range s.pending {
		c := s.cursors[p.cursor]
		if c.Buffered() || c.Exhausted() {
			continue
		}
		g.Go(func() error {
			c.Prefetch(ctx)
			return nil
		})
	}
	g.Wait()
}

// prime primes the first pending cursor and
// returns a page without items
func (s *Stage) prime(ctx context.Context) (*Page, error) {
	s.prefetchPending(ctx)
	next := s.pending[0]
	s.pending = s.pending[1:]
	c := s.cursors[next.cursor]

	var pg *partition.Page
	var err error
	if next.token == nil {
		pg, err = s.primeFromStart(ctx, next.cursor)
	} else {
		pg, err = s.primeWithToken(ctx, next.cursor, next.token)
	}
	if err != nil {
		if s.err != nil {
			return nil, s.err
		}
		s.pending = append([]pending{next}, s.pending...)
		if errors.Is(err, xquery.ErrRangeGone) {
			s.logf("orderby: range %s is gone; split and merge handling is not implemented", c.Range())
		}
		return nil, fmt.Errorf("orderby: priming %s: %w", c.Range(), err)
	}

	p := &Page{Continuation: s.state}
	if pg != nil {
		p.RequestCharge = pg.RequestCharge
		p.ActivityID = pg.ActivityID
	}
	if len(s.pending) == 0 && s.frontier.Len() == 0 {
		return s.finish(p), nil
	}
	return s.emit(p), nil
}

// primeFromStart loads the next page of cursor i
// and enters it into the merge
func (s *Stage) primeFromStart(ctx context.Context, i int) (*partition.Page, error) {
	c := s.cursors[i]
	ok, err := c.MoveNextPage(ctx)
	if err != nil || !ok {
		return nil, err
	}
	switch {
	case c.HasCurrent():
		if err := s.push(ctx, i); err != nil {
			return nil, err
		}
	case !c.Exhausted():
		// an empty page does not mean
		// the range is exhausted
		s.pending = append(s.pending, pending{cursor: i})
	}
	return c.Page(), nil
}

// primeWithToken runs the catch-up filter on
// cursor i and enters it into the merge once it
// is past the item tok refers to
func (s *Stage) primeWithToken(ctx context.Context, i int, tok *Token) (*partition.Page, error) {
	c := s.cursors[i]
	done, left, pg, err := s.catchUp(ctx, i, tok)
	if err != nil {
		return nil, err
	}
	if done {
		if c.HasCurrent() {
			if err := s.push(ctx, i); err != nil {
				return nil, err
			}
		}
		return pg, nil
	}
	if !c.Exhausted() {
		next := *tok
		next.Backend = c.State()
		next.SkipCount = left
		next.Filter = c.Filter()
		s.pending = append(s.pending, pending{cursor: i, token: &next})
		s.state = next.Continuation()
		s.logf("orderby: %s still catching up, %d duplicates left to skip", c.Range(), left)
	}
	return pg, nil
}

// catchUp fetches one page of cursor i and skips
// the items that were emitted before tok was issued:
// items before the reference item in sort order and
// the first SkipCount items equal to it. done is
// set when the cursor is positioned on the first
// item to emit (or the range has no more items);
// otherwise left is the number of duplicates that
// remain to be skipped on the following page.
func (s *Stage) catchUp(ctx context.Context, i int, tok *Token) (done bool, left int, pg *partition.Page, err error) {
	c := s.cursors[i]
	ok, err := c.MoveNextPage(ctx)
	if err != nil {
		return false, 0, nil, err
	}
	if !ok {
		return true, 0, nil, nil
	}
	pg = c.Page()
	left = tok.SkipCount
	for c.HasCurrent() {
		r, err := parseResult(c.Current(), len(s.columns))
		if err != nil {
			return false, 0, pg, s.fail(err)
		}
		rel, _ := sorting.CompareTuples(tok.OrderBy, r.orderBy, s.dirs)
		if rel == 0 {
			rel = partition.CompareRID(tok.Rid, r.rid)
			if reverseRIDs(pg.Info, s.dirs[0]) {
				rel = -rel
			}
			if rel == 0 {
				left--
				if left < 0 {
					return true, 0, pg, nil
				}
				c.Advance()
				continue
			}
		}
		if rel < 0 {
			return true, 0, pg, nil
		}
		c.Advance()
	}
	return false, left, pg, nil
}

// reverseRIDs returns whether items with equal
// sort keys come in descending rid order
func reverseRIDs(info *partition.ExecutionInfo, first sorting.Direction) bool {
	if info == nil || info.ReverseRidEnabled {
		return first == sorting.Descending
	}
	return info.ReverseIndexScan
}

// drainPage pops up to PageSize items off the frontier
func (s *Stage) drainPage(ctx context.Context) (*Page, error) {
	items := make([]value.Value, 0, s.opts.PageSize)
	var last result
	lastCursor, lastPos := -1, 0
	for len(items) < s.opts.PageSize && s.frontier.Len() > 0 {
		i := s.frontier.Pop()
		c := s.cursors[i]
		r := s.heads[i]
		items = append(items, r.payload)
		last, lastCursor, lastPos = r, i, c.Pos()
		if c.Advance() {
			if err := s.push(ctx, i); err != nil {
				return nil, err
			}
			continue
		}
		if !c.Exhausted() {
			// the page is used up but the range is not;
			// resuming from here starts on the next page
			s.pending = append(s.pending, pending{cursor: i})
			s.state = s.token(i, last, c.State(), 0).Continuation()
			return s.emit(&Page{Items: items, Continuation: s.state}), nil
		}
	}
	if s.frontier.Len() == 0 && len(s.pending) == 0 {
		return s.finish(&Page{Items: items}), nil
	}
	c := s.cursors[lastCursor]
	skip := s.duplicates(lastCursor, lastPos, last)
	s.state = s.token(lastCursor, last, c.StartOfPage(), skip).Continuation()
	return s.emit(&Page{Items: items, Continuation: s.state}), nil
}

func (s *Stage) token(i int, r result, backend string, skip int) *Token {
	c := s.cursors[i]
	return &Token{
		Backend:   backend,
		Range:     c.Range(),
		OrderBy:   r.orderBy,
		Rid:       r.rid,
		SkipCount: skip,
		Filter:    c.Filter(),
	}
}

// duplicates counts the items of the current page
// of cursor i up to and including pos that have
// the same sort key and rid as r
func (s *Stage) duplicates(i, pos int, r result) int {
	items := s.cursors[i].Page().Items
	n := 0
	for k := 0; k <= pos && k < len(items); k++ {
		x, err := parseResult(items[k], len(s.columns))
		if err != nil || x.rid != r.rid {
			continue
		}
		if rel, _ := sorting.CompareTuples(x.orderBy, r.orderBy, s.dirs); rel == 0 {
			n++
		}
	}
	return n
}
