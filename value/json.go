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
	"errors"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUndefined is returned when
// Undefined is serialized on its own.
var ErrUndefined = errors.New("value: cannot encode undefined")

// Marshal encodes v as JSON.
// Undefined object fields and array
// elements are omitted.
func Marshal(v Value) ([]byte, error) {
	if IsUndefined(v) {
		return nil, ErrUndefined
	}
	s := json.BorrowStream(nil)
	defer json.ReturnStream(s)
	writeValue(s, v)
	if s.Error != nil {
		return nil, fmt.Errorf("value: encoding JSON: %w", s.Error)
	}
	return append([]byte(nil), s.Buffer()...), nil
}

// MustMarshal is like Marshal but returns
// the text as a string and panics on error.
// It is intended for values that are known to
// be encodable, such as test fixtures.
func MustMarshal(v Value) string {
	buf, err := Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(buf)
}

func writeValue(s *jsoniter.Stream, v Value) {
	switch v := v.(type) {
	case Null:
		s.WriteNil()
	case Bool:
		s.WriteBool(bool(v))
	case Number:
		s.WriteFloat64(float64(v))
	case String:
		s.WriteString(string(v))
	case Array:
		s.WriteArrayStart()
		first := true
		for i := range v {
			if IsUndefined(v[i]) {
				continue
			}
			if !first {
				s.WriteMore()
			}
			first = false
			writeValue(s, v[i])
		}
		s.WriteArrayEnd()
	case Object:
		s.WriteObjectStart()
		first := true
		for i := range v {
			if IsUndefined(v[i].Value) {
				continue
			}
			if !first {
				s.WriteMore()
			}
			first = false
			s.WriteObjectField(v[i].Name)
			writeValue(s, v[i].Value)
		}
		s.WriteObjectEnd()
	}
}

// Unmarshal decodes a single JSON value from buf.
// Object field order is preserved.
func Unmarshal(buf []byte) (Value, error) {
	it := json.BorrowIterator(buf)
	defer json.ReturnIterator(it)
	v := readValue(it)
	if it.Error != nil && it.Error != io.EOF {
		return nil, fmt.Errorf("value: decoding JSON: %w", it.Error)
	}
	if it.Error == nil {
		// anything but whitespace after
		// the value leaves it.Error == nil
		it.WhatIsNext()
		if it.Error == nil {
			return nil, fmt.Errorf("value: decoding JSON: trailing data after value")
		}
	}
	return v, nil
}

func readValue(it *jsoniter.Iterator) Value {
	switch it.WhatIsNext() {
	case jsoniter.NilValue:
		it.ReadNil()
		return Null{}
	case jsoniter.BoolValue:
		return Bool(it.ReadBool())
	case jsoniter.NumberValue:
		return Number(it.ReadFloat64())
	case jsoniter.StringValue:
		return String(it.ReadString())
	case jsoniter.ArrayValue:
		lst := Array{}
		it.ReadArrayCB(func(it *jsoniter.Iterator) bool {
			lst = append(lst, readValue(it))
			return more(it)
		})
		return lst
	case jsoniter.ObjectValue:
		obj := Object{}
		it.ReadObjectCB(func(it *jsoniter.Iterator, name string) bool {
			obj = append(obj, Field{Name: name, Value: readValue(it)})
			return more(it)
		})
		return obj
	default:
		it.ReportError("readValue", "unexpected input")
		return Undefined{}
	}
}

// more reports whether decoding may continue;
// io.EOF is left for the enclosing array or
// object to report as unterminated input
func more(it *jsoniter.Iterator) bool {
	return it.Error == nil || it.Error == io.EOF
}
