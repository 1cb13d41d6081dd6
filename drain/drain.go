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

// Package drain contains helpers for the caller
// of a query stage: reading it to completion,
// retrying transient backend errors and feeding
// GROUP BY rows into a grouping table.
package drain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/SnellerInc/xquery"
	"github.com/SnellerInc/xquery/aggregate"
	"github.com/SnellerInc/xquery/orderby"
	"github.com/SnellerInc/xquery/value"
)

// Pager is a source of query pages.
// *orderby.Stage implements Pager.
type Pager interface {
	Next(ctx context.Context) (*orderby.Page, error)
}

var _ Pager = (*orderby.Stage)(nil)

// Pages calls fn on every page of p until p
// returns io.EOF. It stops at the first error,
// which is returned.
func Pages(ctx context.Context, p Pager, fn func(*orderby.Page) error) error {
	for {
		pg, err := p.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(pg); err != nil {
			return err
		}
	}
}

// All returns every item of p.
func All(ctx context.Context, p Pager) ([]value.Value, error) {
	var out []value.Value
	err := Pages(ctx, p, func(pg *orderby.Page) error {
		out = append(out, pg.Items...)
		return nil
	})
	return out, err
}

// Aggregate adds every item of p to t.
// The items must be GROUP BY rows.
func Aggregate(ctx context.Context, p Pager, t *aggregate.Table) error {
	return Pages(ctx, p, func(pg *orderby.Page) error {
		for i := range pg.Items {
			if err := t.Add(pg.Items[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// RetryOptions configures WithRetry.
type RetryOptions struct {
	// MaxRetries is the number of times a call
	// is retried after a transient error.
	MaxRetries uint64
	// Base is the first delay of the
	// exponential backoff.
	Base time.Duration
	// Logf, if non-nil, is called
	// before every retry.
	Logf func(f string, args ...interface{})
}

// Retrying wraps a Pager and retries calls that
// fail with an error wrapping xquery.ErrTransient.
// Other errors are returned immediately.
type Retrying struct {
	Pager
	opts RetryOptions
}

// WithRetry returns a Pager that retries transient
// errors of p with exponential backoff.
func WithRetry(p Pager, opts *RetryOptions) *Retrying {
	r := &Retrying{Pager: p}
	if opts != nil {
		r.opts = *opts
	}
	if r.opts.Base <= 0 {
		r.opts.Base = 50 * time.Millisecond
	}
	return r
}

func (r *Retrying) logf(f string, args ...interface{}) {
	// let `go vet` know this is printf-like
	if false {
		_ = fmt.Sprintf(f, args...)
	}
	if r.opts.Logf != nil {
		r.opts.Logf(f, args...)
	}
}

// Next implements Pager.
func (r *Retrying) Next(ctx context.Context) (*orderby.Page, error) {
	b := retry.WithMaxRetries(r.opts.MaxRetries, retry.NewExponential(r.opts.Base))
	var pg *orderby.Page
	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		var err error
		pg, err = r.Pager.Next(ctx)
		if err != nil && errors.Is(err, xquery.ErrTransient) {
			attempt++
			r.logf("drain: attempt %d: %s", attempt, err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return pg, nil
}
