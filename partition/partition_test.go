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
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/SnellerInc/xquery"
	"github.com/SnellerInc/xquery/value"
)

// sliceBackend serves the numbers 0..n-1
// of every range in pages
type sliceBackend struct {
	mu    sync.Mutex
	n     int
	calls int
	fail  error
	delay time.Duration
}

func (s *sliceBackend) Query(ctx context.Context, q Query, r Range, state string, pageSize int) (*Page, error) {
	s.mu.Lock()
	s.calls++
	fail := s.fail
	s.fail = nil
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		return nil, fail
	}
	off := 0
	if state != "" {
		var err error
		off, err = strconv.Atoi(state)
		if err != nil {
			return nil, err
		}
	}
	p := &Page{ActivityID: fmt.Sprintf("act-%d", off), RequestCharge: 1}
	for i := off; i < s.n && len(p.Items) < pageSize; i++ {
		p.Items = append(p.Items, value.Number(i))
	}
	if next := off + len(p.Items); next < s.n {
		p.State = strconv.Itoa(next)
	}
	return p, nil
}

func TestValidate(t *testing.T) {
	good := []Range{{"", "40"}, {"40", "80"}, {"80", "FF"}}
	if err := Validate(good); err != nil {
		t.Fatal(err)
	}
	bad := [][]Range{
		nil,
		{{"", "40"}, {"50", "FF"}},
		{{"", "50"}, {"40", "FF"}},
		{{"40", "40"}},
	}
	for i := range bad {
		if err := Validate(bad[i]); err == nil {
			t.Errorf("case %d: expected an error", i)
		}
	}
	s := Sorted([]Range{{"80", "FF"}, {"", "40"}, {"40", "80"}})
	if err := Validate(s); err != nil {
		t.Fatal(err)
	}
}

func TestCompareRID(t *testing.T) {
	if CompareRID("9", "10") >= 0 {
		t.Error("shorter rid should sort first")
	}
	if CompareRID("AB", "AC") >= 0 {
		t.Error("AB < AC")
	}
	if CompareRID("AB", "AB") != 0 {
		t.Error("AB == AB")
	}
}

func TestMapping(t *testing.T) {
	ranges := []Range{{"", "40"}, {"40", "80"}, {"80", "C0"}, {"C0", "FF"}}
	m, err := NewMapping(ranges, Range{"40", "80"}, "tok")
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Left) != 1 || m.Left[0].Range != ranges[0] || m.Left[0].Value != "" {
		t.Errorf("unexpected left %+v", m.Left)
	}
	if m.Target.Range != ranges[1] || m.Target.Value != "tok" {
		t.Errorf("unexpected target %+v", m.Target)
	}
	if len(m.Right) != 2 || m.Right[0].Range != ranges[2] || m.Right[1].Range != ranges[3] {
		t.Errorf("unexpected right %+v", m.Right)
	}

	// first and last ranges
	mi, err := NewMapping(ranges, Range{"", "40"}, 1)
	if err != nil || len(mi.Left) != 0 || len(mi.Right) != 3 {
		t.Fatalf("target at the start: %+v, %v", mi, err)
	}
	mi, err = NewMapping(ranges, Range{"C0", "FF"}, 1)
	if err != nil || len(mi.Left) != 3 || len(mi.Right) != 0 {
		t.Fatalf("target at the end: %+v, %v", mi, err)
	}
}

func TestMappingErrors(t *testing.T) {
	ranges := []Range{{"", "40"}, {"40", "60"}, {"60", "FF"}}
	// the token range was split in two
	_, err := NewMapping(ranges, Range{"40", "FF"}, 0)
	if !errors.Is(err, xquery.ErrRangeGone) {
		t.Errorf("split range: got %v", err)
	}
	// nothing like it
	_, err = NewMapping([]Range{{"", "40"}}, Range{"80", "FF"}, 0)
	if !errors.Is(err, xquery.ErrMalformedContinuation) {
		t.Errorf("unknown range: got %v", err)
	}
}

func TestCursorPages(t *testing.T) {
	b := &sliceBackend{n: 5}
	c := NewCursor(b, Query{Text: "q"}, Full, "true", "", 2)
	if c.Exhausted() || c.HasCurrent() {
		t.Fatal("fresh cursor should be neither exhausted nor positioned")
	}
	var got []float64
	var starts []string
	for {
		ok, err := c.MoveNextPage(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		starts = append(starts, c.StartOfPage())
		for ; c.HasCurrent(); c.Advance() {
			got = append(got, float64(c.Current().(value.Number)))
		}
	}
	if len(got) != 5 || got[4] != 4 {
		t.Fatalf("got %v", got)
	}
	if fmt.Sprint(starts) != "[ 2 4]" {
		t.Fatalf("start-of-page states %q", starts)
	}
	if !c.Exhausted() || b.calls != 3 {
		t.Fatalf("exhausted=%v calls=%d", c.Exhausted(), b.calls)
	}
}

func TestCursorErrorLeavesStateAlone(t *testing.T) {
	b := &sliceBackend{n: 4}
	c := NewCursor(b, Query{}, Full, "true", "", 2)
	var fetches []error
	c.OnFetch = func(r Range, _ time.Duration, err error) { fetches = append(fetches, err) }
	if _, err := c.MoveNextPage(context.Background()); err != nil {
		t.Fatal(err)
	}
	b.fail = fmt.Errorf("throttled: %w", xquery.ErrTransient)
	_, err := c.MoveNextPage(context.Background())
	if !errors.Is(err, xquery.ErrTransient) {
		t.Fatalf("got %v", err)
	}
	if c.State() != "2" || c.Pos() != 0 || c.Current().(value.Number) != 0 {
		t.Fatal("cursor moved on error")
	}
	ok, err := c.MoveNextPage(context.Background())
	if !ok || err != nil || c.Current().(value.Number) != 2 {
		t.Fatalf("retry: ok=%v err=%v", ok, err)
	}
	if len(fetches) != 3 || fetches[1] == nil {
		t.Fatalf("OnFetch saw %v", fetches)
	}
}

func TestPrefetcher(t *testing.T) {
	b := &sliceBackend{n: 3}
	p := NewPrefetcher(NewCursor(b, Query{}, Full, "true", "", 2))
	ctx := context.Background()
	p.Prefetch(ctx)
	if !p.Buffered() || b.calls != 1 {
		t.Fatalf("buffered=%v calls=%d", p.Buffered(), b.calls)
	}
	// a second prefetch is a no-op
	p.Prefetch(ctx)
	if b.calls != 1 {
		t.Fatalf("calls=%d", b.calls)
	}
	ok, err := p.MoveNextPage(ctx)
	if !ok || err != nil || b.calls != 1 || len(p.Page().Items) != 2 {
		t.Fatalf("ok=%v err=%v calls=%d", ok, err, b.calls)
	}
	p.Start(ctx)
	ok, err = p.MoveNextPage(ctx)
	if !ok || err != nil || b.calls != 2 || !p.Exhausted() {
		t.Fatalf("ok=%v err=%v calls=%d", ok, err, b.calls)
	}
	p.Start(ctx)
	if p.Buffered() {
		t.Fatal("exhausted cursor should not prefetch")
	}
}

func TestPrefetcherBufferedError(t *testing.T) {
	b := &sliceBackend{n: 3, fail: xquery.ErrRangeGone}
	p := NewPrefetcher(NewCursor(b, Query{}, Full, "true", "", 2))
	p.Prefetch(context.Background())
	if _, err := p.MoveNextPage(context.Background()); !errors.Is(err, xquery.ErrRangeGone) {
		t.Fatalf("got %v", err)
	}
	if ok, err := p.MoveNextPage(context.Background()); !ok || err != nil {
		t.Fatalf("retry: ok=%v err=%v", ok, err)
	}
}

func TestPrefetcherCanceledStart(t *testing.T) {
	b := &sliceBackend{n: 3, delay: 10 * time.Millisecond}
	p := NewPrefetcher(NewCursor(b, Query{}, Full, "true", "", 2))
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	cancel()
	ok, err := p.MoveNextPage(context.Background())
	if !ok || err != nil {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if p.Current().(value.Number) != 0 {
		t.Fatal("wrong first item")
	}
}
