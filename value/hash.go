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

import (
	"encoding/binary"
	"math"

	"github.com/dchest/siphash"
)

const (
	hashKey0 = 0x736f6d6570736575
	hashKey1 = 0x646f72616e646f6d
)

// Hash returns a 64-bit hash of v that is
// consistent with Equal: values that compare
// equal hash to the same value.
func Hash(v Value) uint64 {
	return siphash.Hash(hashKey0, hashKey1, AppendCanonical(nil, v))
}

// AppendCanonical appends a canonical binary
// encoding of v to dst. Two values have the same
// encoding iff they compare equal. Object fields
// are encoded in name order and Undefined fields
// are skipped.
func AppendCanonical(dst []byte, v Value) []byte {
	k := KindOf(v)
	dst = append(dst, byte(k))
	switch k {
	case BoolKind:
		if v.(Bool) {
			return append(dst, 1)
		}
		return append(dst, 0)
	case NumberKind:
		f := float64(v.(Number))
		if f == 0 {
			f = 0 // -0 == 0
		}
		return binary.LittleEndian.AppendUint64(dst, math.Float64bits(f))
	case StringKind:
		s := string(v.(String))
		dst = binary.AppendUvarint(dst, uint64(len(s)))
		return append(dst, s...)
	case ArrayKind:
		a := v.(Array)
		dst = binary.AppendUvarint(dst, uint64(len(a)))
		for i := range a {
			dst = AppendCanonical(dst, a[i])
		}
		return dst
	case ObjectKind:
		fields := sortedFields(v.(Object))
		dst = binary.AppendUvarint(dst, uint64(len(fields)))
		for i := range fields {
			dst = binary.AppendUvarint(dst, uint64(len(fields[i].Name)))
			dst = append(dst, fields[i].Name...)
			dst = AppendCanonical(dst, fields[i].Value)
		}
		return dst
	}
	return dst
}
