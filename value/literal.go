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

package value

import "fmt"

// Literal renders v as a query-language literal
// suitable for splicing into a filter predicate.
// Every JSON value is also a valid literal, so the
// rendering is the JSON encoding of v.
// Undefined has no literal form.
func Literal(v Value) (string, error) {
	if IsUndefined(v) {
		return "", fmt.Errorf("value: no literal for undefined")
	}
	buf, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}
