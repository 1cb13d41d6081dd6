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
	"errors"
	"math/rand"
	"testing"

	"github.com/SnellerInc/xquery"
	"github.com/SnellerInc/xquery/value"
)

func parse(t *testing.T, text string) value.Value {
	t.Helper()
	v, err := value.Unmarshal([]byte(text))
	if err != nil {
		t.Fatalf("%s: %s", text, err)
	}
	return v
}

// roundTrip suspends a into its continuation,
// sends it through JSON and resumes from it
func roundTrip(t *testing.T, a *Aggregator) *Aggregator {
	t.Helper()
	buf, err := value.Marshal(a.Continuation())
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(a.Operator(), parse(t, string(buf)))
	if err != nil {
		t.Fatalf("resuming from %s: %s", buf, err)
	}
	return b
}

func fold(t *testing.T, a *Aggregator, partials ...string) {
	t.Helper()
	for _, p := range partials {
		if err := a.Fold(parse(t, p)); err != nil {
			t.Fatalf("fold %s: %s", p, err)
		}
	}
}

func result(a *Aggregator) string {
	v := a.Result()
	if value.IsUndefined(v) {
		return "undefined"
	}
	return value.MustMarshal(v)
}

func TestSumAndCountAssociative(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	nums := make([]value.Value, 50)
	total := 0.0
	for i := range nums {
		n := float64(r.Intn(100))
		nums[i] = value.Number(n)
		total += n
	}
	for trial := 0; trial < 20; trial++ {
		r.Shuffle(len(nums), func(i, j int) { nums[i], nums[j] = nums[j], nums[i] })
		sum, _ := New(Sum, nil)
		count, _ := New(Count, nil)
		for i := range nums {
			if r.Intn(5) == 0 {
				sum = roundTrip(t, sum)
				count = roundTrip(t, count)
			}
			if err := sum.Fold(nums[i]); err != nil {
				t.Fatal(err)
			}
			if err := count.Fold(value.Number(1)); err != nil {
				t.Fatal(err)
			}
		}
		if got := sum.Result(); !value.Equal(got, value.Number(total)) {
			t.Fatalf("sum = %v, want %v", got, total)
		}
		if got := count.Result(); !value.Equal(got, value.Number(len(nums))) {
			t.Fatalf("count = %v, want %d", got, len(nums))
		}
	}
}

func TestSumUndefined(t *testing.T) {
	for pos := 0; pos < 3; pos++ {
		a, _ := New(Sum, nil)
		for i := 0; i < 3; i++ {
			p := value.Value(value.Number(i))
			if i == pos {
				p = value.Undefined{}
			}
			if err := a.Fold(p); err != nil {
				t.Fatal(err)
			}
			a = roundTrip(t, a)
		}
		if got := result(a); got != "undefined" {
			t.Errorf("undefined at %d: sum = %s", pos, got)
		}
	}
	a, _ := New(Sum, nil)
	if err := a.Fold(value.String("1")); !errors.Is(err, xquery.ErrAggregateTypeMismatch) {
		t.Errorf("folding a string: %v", err)
	}
}

func TestAverage(t *testing.T) {
	a, _ := New(Average, nil)
	fold(t, a, `{"sum": 10, "count": 2}`)
	a = roundTrip(t, a)
	fold(t, a, `{"sum": 20, "count": 2}`, `{"sum": 30, "count": 4}`)
	if got := result(a); got != "7.5" {
		t.Fatalf("average = %s", got)
	}
	fold(t, a, `{"count": 1}`)
	if got := result(roundTrip(t, a)); got != "undefined" {
		t.Fatalf("average with an undefined sum = %s", got)
	}
	empty, _ := New(Average, nil)
	if got := result(empty); got != "undefined" {
		t.Fatalf("average over nothing = %s", got)
	}
	if err := empty.Fold(value.Number(3)); !errors.Is(err, xquery.ErrAggregateTypeMismatch) {
		t.Errorf("folding a number: %v", err)
	}
	if err := empty.Fold(parse(t, `{"sum": 4, "count": -1}`)); !errors.Is(err, xquery.ErrAggregateTypeMismatch) {
		t.Errorf("folding a negative count: %v", err)
	}
}

func TestMinMax(t *testing.T) {
	cases := []struct {
		op       Operator
		partials []string
		want     string
	}{
		{Min, nil, "undefined"},
		{Max, nil, "undefined"},
		{Min, []string{`3`, `1`, `2`}, "1"},
		{Max, []string{`3`, `1`, `2`}, "3"},
		// type order: null < bool < number < string
		{Max, []string{`"a"`, `5`, `true`, `null`}, `"a"`},
		{Min, []string{`"a"`, `5`, `true`, `null`}, "null"},
		{Min, []string{`2`, `[1]`}, "undefined"},
		{Min, []string{`2`, `{}`, `1`}, "undefined"},
		{Max, []string{`{"max": 4, "count": 2}`, `{"max": 9, "count": 0}`, `1`}, "4"},
		{Min, []string{`{"min": 4, "count": 3}`, `{"count": 1}`, `1`}, "undefined"},
		{Max, []string{`{"k": 1}`}, `{"k":1}`},
	}
	for i, tc := range cases {
		a, err := New(tc.op, nil)
		if err != nil {
			t.Fatal(err)
		}
		for _, p := range tc.partials {
			fold(t, a, p)
			a = roundTrip(t, a)
		}
		if got := result(a); got != tc.want {
			t.Errorf("#%d: %s = %s, want %s", i, tc.op, got, tc.want)
		}
	}
	a, _ := New(Min, nil)
	if err := a.Fold(value.Undefined{}); err != nil {
		t.Fatal(err)
	}
	fold(t, a, `1`)
	if got := result(a); got != "undefined" {
		t.Errorf("min after an undefined partial = %s", got)
	}
}

func TestMakeListAndSet(t *testing.T) {
	list, _ := New(MakeList, nil)
	set, _ := New(MakeSet, nil)
	partials := []string{`[1, 2]`, `[2, "x"]`, `[{"a": 1, "b": 2}]`, `[{"b": 2, "a": 1}, 1]`}
	for _, p := range partials {
		fold(t, list, p)
		fold(t, set, p)
		list, set = roundTrip(t, list), roundTrip(t, set)
	}
	if err := set.Fold(value.Undefined{}); err != nil {
		t.Fatal(err)
	}
	if got := result(list); got != `[1,2,2,"x",{"a":1,"b":2},{"b":2,"a":1},1]` {
		t.Errorf("list = %s", got)
	}
	if got := result(set); got != `[1,2,"x",{"a":1,"b":2}]` {
		t.Errorf("set = %s", got)
	}
	if err := list.Fold(value.Number(1)); !errors.Is(err, xquery.ErrAggregateTypeMismatch) {
		t.Errorf("folding a number into a list: %v", err)
	}
}

func TestMalformedTokens(t *testing.T) {
	cases := []struct {
		op    Operator
		token string
	}{
		{Count, `-1`},
		{Count, `1.5`},
		{Count, `"1"`},
		{Sum, `"NaN"`},
		{Sum, `[]`},
		{Average, `{"sum": 1}`},
		{Average, `{"sum": "1", "count": 1}`},
		{Average, `{"sum": 1, "count": -2}`},
		{Min, `{"type": "Smallest"}`},
		{Max, `{"type": "Value"}`},
		{Max, `3`},
		{MakeList, `{}`},
		{MakeSet, `"x"`},
	}
	for _, tc := range cases {
		if _, err := New(tc.op, parse(t, tc.token)); !errors.Is(err, xquery.ErrMalformedContinuation) {
			t.Errorf("%s from %s: %v", tc.op, tc.token, err)
		}
	}
	if _, err := New(None, nil); err == nil {
		t.Error("expected an error for None")
	}
}

func TestParseOperator(t *testing.T) {
	for op := Count; op <= MakeSet; op++ {
		got, err := ParseOperator(op.String())
		if err != nil || got != op {
			t.Errorf("ParseOperator(%s) = %s, %v", op, got, err)
		}
	}
	if got, _ := ParseOperator("COUNTIF"); got != Count {
		t.Errorf("COUNTIF parsed as %s", got)
	}
	if got, _ := ParseOperator("avg"); got != Average {
		t.Errorf("avg parsed as %s", got)
	}
	if _, err := ParseOperator("median"); err == nil {
		t.Error("expected an error")
	}
}
