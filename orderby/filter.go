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
	"strings"

	"github.com/SnellerInc/xquery/sorting"
	"github.com/SnellerInc/xquery/value"
)

const (
	// FilterPlaceholder is replaced in the query text
	// with the predicate each range must satisfy.
	FilterPlaceholder = "{documentdb-formattableorderbyquery-filter}"
	// TrueFilter is the predicate that admits everything.
	TrueFilter = "true"
)

// typeFunctions lists the type-test functions in
// the type order of value.Kind.
var typeFunctions = []string{
	"not IS_DEFINED",
	"IS_NULL",
	"IS_BOOLEAN",
	"IS_NUMBER",
	"IS_STRING",
	"IS_ARRAY",
	"IS_OBJECT",
}

// typesAfter returns the type tests matching every
// value whose type is emitted after values of the
// type of v in the given direction.
func typesAfter(v value.Value, dir sorting.Direction) []string {
	k := int(value.KindOf(v))
	if k == int(value.UndefinedKind) {
		if dir == sorting.Descending {
			return nil
		}
		return typeFunctions[1:]
	}
	if dir == sorting.Descending {
		return typeFunctions[:k]
	}
	return typeFunctions[k+1:]
}

// comparisons with an undefined reference value
// cannot use relational operators
type undefinedFilters struct {
	less, lessEq, eq, greater, greaterEq string
}

func undefinedComparisons(expr string) undefinedFilters {
	return undefinedFilters{
		less:      "false",
		lessEq:    "NOT IS_DEFINED(" + expr + ")",
		eq:        "NOT IS_DEFINED(" + expr + ")",
		greater:   "IS_DEFINED(" + expr + ")",
		greaterEq: "true",
	}
}

// filterBuilder accumulates the left and right
// filters side by side; the target filter is
// always TrueFilter
type filterBuilder struct {
	left, right strings.Builder
}

func (b *filterBuilder) both(s string) { b.add(s, s) }

func (b *filterBuilder) add(l, r string) {
	b.left.WriteString(l)
	b.right.WriteString(r)
}

// Filters returns the predicates that resume an
// ORDER BY query after the item whose sort key is
// items. Ranges before the range of that item have
// emitted everything up to and including it, so they
// get a strict comparison (left); ranges after it
// have emitted nothing equal to it yet, so they get
// an inclusive one (right). The range that produced
// the item resumes from its backend state, so its
// predicate (target) is TrueFilter.
//
// With several columns the predicate is the
// disjunction over every prefix of the sort key of
// "all earlier columns equal and this one after".
func Filters(columns []sorting.Column, items []value.Value) (left, target, right string, err error) {
	var b filterBuilder
	if len(columns) == 1 {
		err = single(&b, columns[0], items[0])
	} else {
		err = multi(&b, columns, items)
	}
	if err != nil {
		return "", "", "", err
	}
	return b.left.String(), TrueFilter, b.right.String(), nil
}

func single(b *filterBuilder, col sorting.Column, item value.Value) error {
	expr := col.Expr
	desc := col.Direction == sorting.Descending
	b.both("( ")
	if value.IsUndefined(item) {
		f := undefinedComparisons(expr)
		if desc {
			b.add(f.less, f.lessEq)
		} else {
			b.add(f.greater, f.greaterEq)
		}
	} else {
		lit, err := value.Literal(item)
		if err != nil {
			return err
		}
		if desc {
			b.add(expr+" < "+lit, expr+" <= "+lit)
		} else {
			b.add(expr+" > "+lit, expr+" >= "+lit)
		}
	}
	for _, fn := range typesAfter(item, col.Direction) {
		b.both(" OR " + fn + "(" + expr + ")")
	}
	b.both(" )")
	return nil
}

func multi(b *filterBuilder, columns []sorting.Column, items []value.Value) error {
	for n := 1; n <= len(columns); n++ {
		lastPrefix := n == len(columns)
		b.both("(")
		for i := 0; i < n; i++ {
			expr := columns[i].Expr
			desc := columns[i].Direction == sorting.Descending
			item := items[i]
			lastItem := i == n-1
			b.both("(")
			inequality := lastItem
			if value.IsUndefined(item) {
				f := undefinedComparisons(expr)
				switch {
				case !lastItem:
					b.both(f.eq)
				case desc && lastPrefix:
					b.add(f.less, f.lessEq)
				case desc:
					b.both(f.less)
				case lastPrefix:
					b.add(f.greater, f.greaterEq)
				default:
					b.both(f.greater)
				}
			} else {
				lit, err := value.Literal(item)
				if err != nil {
					return err
				}
				b.both(expr + " ")
				switch {
				case !lastItem:
					b.both("=")
				case desc:
					b.both("<")
				default:
					b.both(">")
				}
				if lastItem && lastPrefix {
					b.add("", "=")
				}
				b.both(" " + lit + " ")
			}
			if inequality {
				for _, fn := range typesAfter(item, columns[i].Direction) {
					b.both(" OR " + fn + "(" + expr + ") ")
				}
			}
			b.both(")")
			if !lastItem {
				b.both(" AND ")
			}
		}
		b.both(")")
		if !lastPrefix {
			b.both(" OR ")
		}
	}
	return nil
}
