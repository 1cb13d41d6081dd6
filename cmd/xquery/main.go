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

// Command xquery runs an ORDER BY query over an
// in-memory partitioned container described by a
// YAML file and prints the merged results as
// newline-delimited JSON.
//
// With -pages n the command stops after n pages and
// prints a continuation token on stderr; passing it
// back with -token resumes the query where it
// stopped. GROUP BY queries (a groupBy section in the
// configuration) print one row per group once the
// query is complete.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/SnellerInc/xquery"
	"github.com/SnellerInc/xquery/aggregate"
	"github.com/SnellerInc/xquery/compr"
	"github.com/SnellerInc/xquery/drain"
	"github.com/SnellerInc/xquery/metrics"
	"github.com/SnellerInc/xquery/orderby"
	"github.com/SnellerInc/xquery/partition"
	"github.com/SnellerInc/xquery/value"
)

var (
	dashc       string
	dashv       bool
	dashtoken   string
	dashpages   int
	dashretries uint64
	dashz       string
)

func init() {
	flag.StringVar(&dashc, "c", "", "configuration file (YAML or JSON)")
	flag.BoolVar(&dashv, "v", false, "verbose: log progress and print metrics on exit")
	flag.StringVar(&dashtoken, "token", "", "continuation token to resume from")
	flag.IntVar(&dashpages, "pages", 0, "stop after this many pages (0 means run to completion)")
	flag.Uint64Var(&dashretries, "retries", 3, "number of retries of transient backend errors")
	flag.StringVar(&dashz, "z", "zstd", "compression of printed continuation tokens (zstd or s2)")
}

func exitf(f string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, f, args...)
	os.Exit(1)
}

func logf(f string, args ...interface{}) {
	log.Printf(f, args...)
}

// errStop ends a run after the requested number of pages
var errStop = errors.New("stop")

type runOptions struct {
	token   string
	pages   int
	retries uint64
	alg     string
	logf    func(f string, args ...interface{})
	metrics *metrics.Stage
}

// state is the continuation of the command: the
// continuation of the stage and, for GROUP BY
// queries, the grouping table
func state(stage, groups value.Value) value.Value {
	obj := value.Object{{Name: "orderBy", Value: stage}}
	if groups != nil {
		obj = append(obj, value.Field{Name: "groups", Value: groups})
	}
	return obj
}

func parseState(token string) (stage, groups value.Value, err error) {
	raw, err := compr.Unpack(token)
	if err != nil {
		return nil, nil, err
	}
	v, err := value.Unmarshal(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", err, xquery.ErrMalformedContinuation)
	}
	obj, ok := v.(value.Object)
	if !ok {
		return nil, nil, fmt.Errorf("token is a %s: %w", value.KindOf(v), xquery.ErrMalformedContinuation)
	}
	stage, ok = obj.Lookup("orderBy")
	if !ok {
		return nil, nil, fmt.Errorf("token has no orderBy continuation: %w", xquery.ErrMalformedContinuation)
	}
	if g, ok := obj.Lookup("groups"); ok {
		groups = g
	}
	return stage, groups, nil
}

// run executes the query described by c and writes
// the results to out. If the run stops early it
// returns the packed continuation token.
func run(ctx context.Context, c *config, o *runOptions, out io.Writer) (string, error) {
	cols, err := c.columns()
	if err != nil {
		return "", err
	}
	store, err := c.store(cols)
	if err != nil {
		return "", err
	}
	var resume, groups value.Value
	if o.token != "" {
		resume, groups, err = parseState(o.token)
		if err != nil {
			return "", err
		}
	}
	opts := c.options()
	opts.Logf = o.logf
	opts.Metrics = o.metrics
	stage, err := orderby.New(store, partition.Query{Text: c.Query}, c.ranges(), cols, resume, opts)
	if err != nil {
		return "", err
	}
	var tbl *aggregate.Table
	if c.GroupBy != nil {
		if tbl, err = aggregate.NewTable(c.GroupBy, groups); err != nil {
			return "", err
		}
	}
	pager := drain.WithRetry(stage, &drain.RetryOptions{MaxRetries: o.retries, Logf: o.logf})

	w := bufio.NewWriter(out)
	defer w.Flush()
	write := func(v value.Value) error {
		buf, err := value.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
		return w.WriteByte('\n')
	}
	var last value.Value
	pages := 0
	err = drain.Pages(ctx, pager, func(pg *orderby.Page) error {
		for i := range pg.Items {
			var err error
			if tbl != nil {
				err = tbl.Add(pg.Items[i])
			} else {
				err = write(pg.Items[i])
			}
			if err != nil {
				return err
			}
		}
		last = pg.Continuation
		pages++
		if o.pages > 0 && pages >= o.pages && !pg.Done() {
			return errStop
		}
		return nil
	})
	if err == errStop {
		var g value.Value
		if tbl != nil {
			g = tbl.Continuation()
		}
		buf, err := value.Marshal(state(last, g))
		if err != nil {
			return "", err
		}
		return compr.Pack(o.alg, buf)
	}
	if err != nil {
		return "", err
	}
	if tbl != nil {
		for _, v := range tbl.Results() {
			if err := write(v); err != nil {
				return "", err
			}
		}
	}
	return "", nil
}

func printMetrics(w io.Writer, reg *prometheus.Registry) {
	mfs, err := reg.Gather()
	if err != nil {
		logf("gathering metrics: %s", err)
		return
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			logf("writing metrics: %s", err)
			return
		}
	}
}

func main() {
	flag.Parse()
	if dashc == "" {
		exitf("usage: xquery -c <config.yaml> [-token <token>] [-pages n]\n")
	}
	c, err := loadConfig(dashc)
	if err != nil {
		exitf("%s\n", err)
	}
	o := &runOptions{
		token:   dashtoken,
		pages:   dashpages,
		retries: dashretries,
		alg:     dashz,
	}
	var reg *prometheus.Registry
	if dashv {
		o.logf = logf
		reg = prometheus.NewRegistry()
		o.metrics = metrics.New(reg)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	token, err := run(ctx, c, o, os.Stdout)
	if reg != nil {
		printMetrics(os.Stderr, reg)
	}
	if err != nil {
		exitf("%s\n", err)
	}
	if token != "" {
		fmt.Fprintf(os.Stderr, "continuation: %s\n", token)
	}
}
