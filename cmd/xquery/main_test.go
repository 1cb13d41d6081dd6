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

package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/SnellerInc/xquery"
	"github.com/SnellerInc/xquery/metrics"
)

func ids(t *testing.T, out string) []string {
	t.Helper()
	var got []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		i := strings.Index(line, `"id":"`)
		if i < 0 {
			t.Fatalf("no id in %s", line)
		}
		rest := line[i+len(`"id":"`):]
		got = append(got, rest[:strings.IndexByte(rest, '"')])
	}
	return got
}

func TestExample(t *testing.T) {
	c, err := loadConfig("example.yaml")
	if err != nil {
		t.Fatal(err)
	}
	want := "i h a e b f c g d"
	m := metrics.New(prometheus.NewRegistry())
	var out bytes.Buffer
	token, err := run(context.Background(), c, &runOptions{alg: "zstd", logf: t.Logf, metrics: m}, &out)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		t.Fatalf("unexpected continuation %s", token)
	}
	if got := strings.Join(ids(t, out.String()), " "); got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
	if n := testutil.ToFloat64(m.Items); n != 9 {
		t.Fatalf("items metric: %g", n)
	}

	// the same query, three pages at a time
	var all []string
	token = ""
	for i := 0; ; i++ {
		if i > 50 {
			t.Fatal("query does not finish")
		}
		out.Reset()
		token, err = run(context.Background(), c, &runOptions{token: token, pages: 3, alg: "s2"}, &out)
		if err != nil {
			t.Fatal(err)
		}
		all = append(all, ids(t, out.String())...)
		if token == "" {
			break
		}
	}
	if got := strings.Join(all, " "); got != want {
		t.Fatalf("paged: got %s, want %s", got, want)
	}
}

func TestGroupBy(t *testing.T) {
	c, err := parseConfig([]byte(`
orderBy:
  - expr: c.k
pageSize: 1
groupBy:
  aliases:
    - name: k
    - name: total
      op: Sum
partitions:
  - min: ""
    max: "80"
    documents:
      - {k: x, groupByItems: [{item: x}], payload: {k: x, total: {item: 5}}}
      - {k: y, groupByItems: [{item: y}], payload: {k: y, total: {item: 1}}}
  - min: "80"
    max: "FF"
    documents:
      - {k: x, groupByItems: [{item: x}], payload: {k: x, total: {item: 7}}}
`))
	if err != nil {
		t.Fatal(err)
	}
	want := "{\"k\":\"x\",\"total\":12}\n{\"k\":\"y\",\"total\":1}\n"
	var out bytes.Buffer
	if _, err := run(context.Background(), c, &runOptions{alg: "zstd"}, &out); err != nil {
		t.Fatal(err)
	}
	if out.String() != want {
		t.Fatalf("got %q", out.String())
	}
	// stopping and resuming carries the groups along
	token := ""
	for i := 0; ; i++ {
		if i > 20 {
			t.Fatal("query does not finish")
		}
		out.Reset()
		token, err = run(context.Background(), c, &runOptions{token: token, pages: 1, alg: "zstd"}, &out)
		if err != nil {
			t.Fatal(err)
		}
		if token == "" {
			break
		}
		if out.Len() != 0 {
			t.Fatalf("groups printed before the end: %q", out.String())
		}
	}
	if out.String() != want {
		t.Fatalf("resumed: got %q", out.String())
	}
}

func TestBadToken(t *testing.T) {
	c, err := loadConfig("example.yaml")
	if err != nil {
		t.Fatal(err)
	}
	for _, token := range []string{"nonsense", "zstd:AAAA"} {
		_, err := run(context.Background(), c, &runOptions{token: token, alg: "zstd"}, &bytes.Buffer{})
		if !errors.Is(err, xquery.ErrMalformedContinuation) {
			t.Errorf("token %q: %v", token, err)
		}
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriteErrors(t *testing.T) {
	long := strings.Repeat("x", 8192)
	c, err := parseConfig([]byte("orderBy: [{expr: c.v}]\npartitions:\n  - min: \"\"\n    max: FF\n    documents:\n      - {v: 1, s: " + long + "}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := run(context.Background(), c, &runOptions{alg: "zstd"}, failingWriter{}); err == nil {
		t.Fatal("expected the write error")
	}
}

func TestConfigErrors(t *testing.T) {
	cases := []string{
		`orderBy: [{expr: c.v, direction: sideways}]`,
		`orderBy: []`,
		"orderBy: [{expr: c.v}]\ngroupBy: {aliases: [{name: a, op: Median}]}",
	}
	for _, text := range cases {
		c, err := parseConfig([]byte(text))
		if err == nil {
			_, err = run(context.Background(), c, &runOptions{alg: "zstd"}, &bytes.Buffer{})
		}
		if err == nil {
			t.Errorf("expected an error for %q", text)
		}
	}
}
