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
	"strings"

	"github.com/SnellerInc/xquery/value"
)

// Param is a named query parameter.
type Param struct {
	Name  string
	Value value.Value
}

// Query is the text sent to every partition,
// together with its parameters.
type Query struct {
	Text   string
	Params []Param
}

// WithFilter returns a copy of q with every
// occurrence of placeholder replaced by filter.
func (q Query) WithFilter(placeholder, filter string) Query {
	return Query{
		Text:   strings.ReplaceAll(q.Text, placeholder, filter),
		Params: q.Params,
	}
}

// ExecutionInfo describes how the backend scanned
// its index when producing a page. It decides the
// direction in which resource ids of items with
// equal sort keys are ordered.
type ExecutionInfo struct {
	// ReverseRidEnabled indicates that ties
	// are ordered by rid in the direction of
	// the first sort column.
	ReverseRidEnabled bool
	// ReverseIndexScan indicates that the index
	// was scanned backwards; it is only meaningful
	// when ReverseRidEnabled is not set.
	ReverseIndexScan bool
}

// Page is one page of results from one range.
type Page struct {
	Items         []value.Value
	RequestCharge float64
	ActivityID    string
	// State is the opaque backend continuation
	// for the page after this one, or the empty
	// string when the range is exhausted.
	State string
	// Info may be nil if the backend
	// did not report execution details.
	Info *ExecutionInfo
}

// Backend executes a query against a single
// partition key range.
//
// Query returns at most pageSize items starting
// at the position described by state (the empty
// string meaning the beginning of the range).
// Implementations signal retryable failures by
// wrapping xquery.ErrTransient and ranges that no
// longer exist by wrapping xquery.ErrRangeGone.
//
// A Backend must be safe to call concurrently.
type Backend interface {
	Query(ctx context.Context, q Query, r Range, state string, pageSize int) (*Page, error)
}
