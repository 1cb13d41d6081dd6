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
	"errors"
)

type fetched struct {
	page *Page
	err  error
}

// Prefetcher wraps a Cursor so that its next page
// can be requested before it is needed. Start issues
// the request in the background; Prefetch issues it
// and waits for it. MoveNextPage then consumes the
// buffered result instead of calling the backend.
//
// Like Cursor, a Prefetcher must only be used by one
// goroutine at a time; the background fetch only
// reads state that MoveNextPage does not modify
// until the fetch has completed.
type Prefetcher struct {
	*Cursor

	inflight chan fetched
	ready    *fetched
}

// NewPrefetcher wraps c.
func NewPrefetcher(c *Cursor) *Prefetcher {
	return &Prefetcher{Cursor: c}
}

// Buffered returns whether a fetch has been
// started or completed and not yet consumed.
func (p *Prefetcher) Buffered() bool { return p.inflight != nil || p.ready != nil }

// Start begins fetching the next page in the
// background unless a fetch is already buffered
// or the range is exhausted.
func (p *Prefetcher) Start(ctx context.Context) {
	if p.Buffered() || p.Exhausted() {
		return
	}
	ch := make(chan fetched, 1)
	p.inflight = ch
	state := p.state
	go func() {
		pg, err := p.fetch(ctx, state)
		ch <- fetched{page: pg, err: err}
	}()
}

// Prefetch fetches the next page and buffers it.
// Errors are buffered too and returned by the
// following MoveNextPage.
func (p *Prefetcher) Prefetch(ctx context.Context) {
	p.Start(ctx)
	p.wait(ctx)
}

func (p *Prefetcher) wait(ctx context.Context) error {
	if p.inflight == nil {
		return nil
	}
	select {
	case r := <-p.inflight:
		p.inflight = nil
		p.ready = &r
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MoveNextPage is like Cursor.MoveNextPage but
// consumes a buffered fetch if there is one.
func (p *Prefetcher) MoveNextPage(ctx context.Context) (bool, error) {
	if p.Exhausted() {
		return false, nil
	}
	if err := p.wait(ctx); err != nil {
		return false, err
	}
	if p.ready == nil {
		return p.Cursor.MoveNextPage(ctx)
	}
	r := *p.ready
	p.ready = nil
	if r.err != nil {
		// a background fetch that was canceled with
		// the context of an earlier call is retried
		// with the current one
		if ctx.Err() == nil && (errors.Is(r.err, context.Canceled) || errors.Is(r.err, context.DeadlineExceeded)) {
			return p.Cursor.MoveNextPage(ctx)
		}
		return false, r.err
	}
	p.load(r.page)
	return true, nil
}
