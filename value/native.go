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

// ToNative converts v into the plain Go
// representation produced by encoding/json:
// nil, bool, float64, string, []any and
// map[string]any. Undefined object fields
// and array elements are dropped.
//
// The second return value is false if v
// itself is Undefined.
func ToNative(v Value) (any, bool) {
	switch v := v.(type) {
	case Null:
		return nil, true
	case Bool:
		return bool(v), true
	case Number:
		return float64(v), true
	case String:
		return string(v), true
	case Array:
		out := make([]any, 0, len(v))
		for i := range v {
			if x, ok := ToNative(v[i]); ok {
				out = append(out, x)
			}
		}
		return out, true
	case Object:
		out := make(map[string]any, len(v))
		for i := range v {
			if x, ok := ToNative(v[i].Value); ok {
				out[v[i].Name] = x
			}
		}
		return out, true
	}
	return nil, false
}
