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
	"fmt"

	"github.com/SnellerInc/xquery/value"
)

// result is a backend row of an ORDER BY query:
//
//	{"_rid": "...", "orderByItems": [{"item": v}, ...], "payload": p}
type result struct {
	rid     string
	orderBy []value.Value
	payload value.Value
}

func parseResult(v value.Value, columns int) (result, error) {
	obj, ok := v.(value.Object)
	if !ok {
		return result{}, fmt.Errorf("orderby: result is a %s, not an object", value.KindOf(v))
	}
	rid, ok := obj.Get("_rid").(value.String)
	if !ok {
		return result{}, fmt.Errorf("orderby: result has no _rid")
	}
	items, ok := obj.Get("orderByItems").(value.Array)
	if !ok || len(items) != columns {
		return result{}, fmt.Errorf("orderby: result %s does not have %d orderByItems", rid, columns)
	}
	r := result{
		rid:     string(rid),
		orderBy: make([]value.Value, len(items)),
		payload: obj.Get("payload"),
	}
	for i := range items {
		r.orderBy[i] = value.Item(items[i])
	}
	return r, nil
}
