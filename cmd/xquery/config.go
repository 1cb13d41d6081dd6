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
	"encoding/json"
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/SnellerInc/xquery/aggregate"
	"github.com/SnellerInc/xquery/memstore"
	"github.com/SnellerInc/xquery/orderby"
	"github.com/SnellerInc/xquery/partition"
	"github.com/SnellerInc/xquery/sorting"
)

// column is an ORDER BY column as written
// in the configuration file
type column struct {
	Expr      string `json:"expr"`
	Direction string `json:"direction,omitempty"`
}

// partitionConfig is one key range of the
// container and the documents it holds
type partitionConfig struct {
	partition.Range
	Documents []json.RawMessage `json:"documents"`
}

// config describes a container and the
// query to run over it. The query is a predicate
// (see package memstore) that must contain the
// ORDER BY filter placeholder; it defaults to the
// placeholder alone.
//
//	query: "IS_NUMBER(c.v) AND {documentdb-formattableorderbyquery-filter}"
//	orderBy:
//	  - {expr: c.v, direction: DESC}
//	partitions:
//	  - min: ""
//	    max: "80"
//	    documents:
//	      - {v: 1}
//	groupBy:
//	  selectValue: true
//	  aggregates: [Sum]
type config struct {
	Query            string                `json:"query,omitempty"`
	OrderBy          []column              `json:"orderBy"`
	Partitions       []partitionConfig     `json:"partitions"`
	PageSize         int                   `json:"pageSize,omitempty"`
	FetchSize        int                   `json:"fetchSize,omitempty"`
	MaxConcurrency   int                   `json:"maxConcurrency,omitempty"`
	Prefetch         bool                  `json:"prefetch,omitempty"`
	MaxBackendPage   int                   `json:"maxBackendPage,omitempty"`
	ReverseIndexScan bool                  `json:"reverseIndexScan,omitempty"`
	GroupBy          *aggregate.Projection `json:"groupBy,omitempty"`
}

func loadConfig(path string) (*config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseConfig(buf)
}

func parseConfig(buf []byte) (*config, error) {
	c := &config{}
	if err := yaml.Unmarshal(buf, c); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if c.Query == "" {
		c.Query = orderby.FilterPlaceholder
	}
	if len(c.Partitions) == 0 {
		c.Partitions = []partitionConfig{{Range: partition.Full}}
	}
	if c.GroupBy != nil {
		if err := c.GroupBy.Validate(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *config) columns() ([]sorting.Column, error) {
	if len(c.OrderBy) == 0 {
		return nil, fmt.Errorf("config: orderBy is empty")
	}
	out := make([]sorting.Column, len(c.OrderBy))
	for i := range c.OrderBy {
		dir, err := sorting.ParseDirection(c.OrderBy[i].Direction)
		if err != nil {
			return nil, err
		}
		out[i] = sorting.Column{Expr: c.OrderBy[i].Expr, Direction: dir}
	}
	return out, nil
}

func (c *config) ranges() []partition.Range {
	out := make([]partition.Range, len(c.Partitions))
	for i := range c.Partitions {
		out[i] = c.Partitions[i].Range
	}
	return out
}

// store loads the documents into an in-memory container
func (c *config) store(cols []sorting.Column) (*memstore.Store, error) {
	s, err := memstore.New(c.ranges(), &memstore.Options{
		Columns:          cols,
		MaxPageSize:      c.MaxBackendPage,
		ReverseIndexScan: c.ReverseIndexScan,
	})
	if err != nil {
		return nil, err
	}
	for i := range c.Partitions {
		p := &c.Partitions[i]
		docs := make([]string, len(p.Documents))
		for j := range p.Documents {
			docs[j] = string(p.Documents[j])
		}
		if err := s.InsertJSON(p.Range, docs...); err != nil {
			return nil, fmt.Errorf("partition %s: %w", p.Range, err)
		}
	}
	return s, nil
}

func (c *config) options() *orderby.Options {
	return &orderby.Options{
		PageSize:       c.PageSize,
		FetchSize:      c.FetchSize,
		MaxConcurrency: c.MaxConcurrency,
		Prefetch:       c.Prefetch,
	}
}
