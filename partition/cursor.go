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
	"context"
	"fmt"
	"time"

	"github.com/SnellerInc/xquery/value"
)

// Cursor pages through the results of one range.
//
// A Cursor is positioned on an item of its current
// page (see HasCurrent and Current). MoveNextPage
// replaces the current page with the next one. The
// backend state is only updated when a fetch
// succeeds, so a failed MoveNextPage can be retried.
//
// Cursors are not safe for concurrent use.
type Cursor struct {
	// OnFetch, if non-nil, is called
	// after every backend request.
	OnFetch func(r Range, elapsed time.Duration, err error)

	backend  Backend
	query    Query
	rng      Range
	filter   string
	pageSize int

	started     bool
	state       string
	startOfPage string
	page        *Page
	pos         int
}

// NewCursor returns a cursor over r that sends q to
// b. The cursor starts at the backend position state,
// where the empty string is the start of the range.
// The filter is the predicate already spliced into q;
// it is kept so that it can be recorded in tokens.
func NewCursor(b Backend, q Query, r Range, filter, state string, pageSize int) *Cursor {
	return &Cursor{
		backend:  b,
		query:    q,
		rng:      r,
		filter:   filter,
		pageSize: pageSize,
		state:    state,
	}
}

// Range returns the range the cursor reads.
func (c *Cursor) Range() Range { return c.rng }

// Filter returns the predicate the cursor was created with.
func (c *Cursor) Filter() string { return c.filter }

// State returns the backend state of the next page,
// or the empty string if the range is exhausted
// (or nothing has been fetched from the start of
// the range yet).
func (c *Cursor) State() string { return c.state }

// StartOfPage returns the backend state the current
// page was fetched with. Fetching from this state
// again yields the current page.
func (c *Cursor) StartOfPage() string { return c.startOfPage }

// Exhausted returns whether the backend reported
// that there are no pages after the current one.
func (c *Cursor) Exhausted() bool { return c.started && c.state == "" }

// Page returns the current page, or nil if
// nothing has been fetched yet.
func (c *Cursor) Page() *Page { return c.page }

// HasCurrent returns whether the cursor is
// positioned on an item of its current page.
func (c *Cursor) HasCurrent() bool { return c.page != nil && c.pos < len(c.page.Items) }

// Current returns the item the cursor is positioned on.
func (c *Cursor) Current() value.Value { return c.page.Items[c.pos] }

// Pos returns the index of the current item
// within the current page.
func (c *Cursor) Pos() int { return c.pos }

// Advance moves to the next item of the current
// page and returns HasCurrent.
func (c *Cursor) Advance() bool {
	if c.HasCurrent() {
		c.pos++
	}
	return c.HasCurrent()
}

// MoveNextPage fetches the next page. It returns
// false without error if the range is exhausted.
// On error the cursor is left unchanged.
func (c *Cursor) MoveNextPage(ctx context.Context) (bool, error) {
	if c.Exhausted() {
		return false, nil
	}
	p, err := c.fetch(ctx, c.state)
	if err != nil {
		return false, err
	}
	c.load(p)
	return true, nil
}

func (c *Cursor) fetch(ctx context.Context, state string) (*Page, error) {
	start := time.Now()
	p, err := c.backend.Query(ctx, c.query, c.rng, state, c.pageSize)
	if err == nil && p == nil {
		err = fmt.Errorf("backend returned no page")
	}
	if c.OnFetch != nil {
		c.OnFetch(c.rng, time.Since(start), err)
	}
	if err != nil {
		return nil, fmt.Errorf("range %s: %w", c.rng, err)
	}
	return p, nil
}

func (c *Cursor) load(p *Page) {
	c.startOfPage = c.state
	c.state = p.State
	c.page = p
	c.pos = 0
	c.started = true
}
