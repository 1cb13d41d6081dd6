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

// Package xquery implements the client side of a
// cross-partition query: a streaming k-way merge of
// ORDER BY results coming from independently paged
// partitions, resumable through continuation tokens,
// and the combiners that finalize partial aggregates
// computed per partition.
//
// The subpackages are layered bottom-up:
//
//	value      JSON-shaped values and their total order
//	sorting    per-column directions and tuple comparison
//	heap       index heap used by the merge frontier
//	partition  key ranges, backend contract, partition cursors
//	orderby    the ORDER BY cross-partition stage
//	aggregate  aggregate combiners and GROUP BY tables
//	drain      caller-side helpers (retry, draining)
//
// memstore provides an in-memory backend and cmd/xquery
// drives the stage from the command line.
package xquery

import "errors"

var (
	// ErrMalformedContinuation is returned when a
	// continuation token does not have the expected
	// shape. Tokens are never guessed at.
	ErrMalformedContinuation = errors.New("xquery: malformed continuation token")

	// ErrTransient is wrapped by backends to indicate
	// that a request may succeed if it is retried.
	ErrTransient = errors.New("xquery: transient backend error")

	// ErrRangeGone is wrapped by backends when the
	// requested key range no longer maps to a single
	// physical partition (for example after a split).
	ErrRangeGone = errors.New("xquery: partition key range gone")

	// ErrAggregateTypeMismatch is returned when a
	// partial aggregate does not have the shape its
	// combiner requires.
	ErrAggregateTypeMismatch = errors.New("xquery: aggregate type mismatch")
)
