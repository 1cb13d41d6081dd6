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

package memstore

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"golang.org/x/exp/slices"

	"github.com/SnellerInc/xquery/value"
)

// predicates compiles query predicates into
// CEL programs and caches them by text
type predicates struct {
	env *cel.Env

	mu       sync.Mutex
	programs map[string]cel.Program
}

func newPredicates() (*predicates, error) {
	env, err := cel.NewEnv(
		cel.Variable("c", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
		typeTest("is_null", value.NullKind),
		typeTest("is_boolean", value.BoolKind),
		typeTest("is_number", value.NumberKind),
		typeTest("is_string", value.StringKind),
		typeTest("is_array", value.ArrayKind),
		typeTest("is_object", value.ObjectKind),
		typeTest("is_primitive", value.NullKind, value.BoolKind, value.NumberKind, value.StringKind),
	)
	if err != nil {
		return nil, fmt.Errorf("memstore: creating CEL environment: %w", err)
	}
	return &predicates{env: env, programs: make(map[string]cel.Program)}, nil
}

func typeTest(name string, kinds ...value.Kind) cel.EnvOption {
	return cel.Function(name,
		cel.Overload(name+"_dyn", []*cel.Type{cel.DynType}, cel.BoolType,
			cel.UnaryBinding(func(v ref.Val) ref.Val {
				return types.Bool(slices.Contains(kinds, kindOf(v)))
			})))
}

func kindOf(v ref.Val) value.Kind {
	switch v.(type) {
	case types.Null:
		return value.NullKind
	case types.Bool:
		return value.BoolKind
	case types.Double, types.Int, types.Uint:
		return value.NumberKind
	case types.String:
		return value.StringKind
	case traits.Lister:
		return value.ArrayKind
	case traits.Mapper:
		return value.ObjectKind
	}
	return value.UndefinedKind
}

func (p *predicates) compile(text string) (cel.Program, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prg, ok := p.programs[text]; ok {
		return prg, nil
	}
	expr, err := translate(text)
	if err != nil {
		return nil, err
	}
	ast, iss := p.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("memstore: compiling %q: %w", text, iss.Err())
	}
	prg, err := p.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("memstore: %q: %w", text, err)
	}
	p.programs[text] = prg
	return prg, nil
}

// match evaluates prg against a document. Evaluation
// errors (a missing field, comparing values of
// different types) make the predicate false, as
// undefined does in the query language.
func match(prg cel.Program, doc value.Value) bool {
	native, ok := value.ToNative(doc)
	if !ok {
		return false
	}
	m, ok := native.(map[string]any)
	if !ok {
		return false
	}
	out, _, err := prg.Eval(map[string]any{"c": m})
	if err != nil {
		return false
	}
	b, ok := out.(types.Bool)
	return ok && bool(b)
}

// nullComparison rewrites an ordering comparison
// with null that has just been written to out; null
// only orders against itself, so <= and >= become ==
// and < and > never hold. It returns the text that
// replaces the null literal.
func nullComparison(out *strings.Builder) string {
	s := strings.TrimRight(out.String(), " ")
	var op string
	for _, o := range []string{"<=", ">=", "<", ">"} {
		if strings.HasSuffix(s, o) {
			op = o
			break
		}
	}
	if op == "" {
		return "null"
	}
	rest := strings.TrimRight(s[:len(s)-len(op)], " ")
	start := len(rest)
	for start > 0 && (isIdent(rest[start-1]) || rest[start-1] == '.') {
		start--
	}
	path := rest[start:]
	if path == "" {
		return "null"
	}
	out.Reset()
	out.WriteString(rest[:start])
	if op == "<" || op == ">" {
		return "false"
	}
	return path + " == null"
}

// translate rewrites a query-language predicate
// into CEL. String literals are copied verbatim;
// keywords, the type-test functions and '=' are
// rewritten.
func translate(sql string) (string, error) {
	var out strings.Builder
	for i := 0; i < len(sql); {
		ch := sql[i]
		switch {
		case ch == '"' || ch == '\'':
			j := i + 1
			for j < len(sql) && sql[j] != ch {
				if sql[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(sql) {
				return "", fmt.Errorf("memstore: unterminated string in %q", sql)
			}
			out.WriteString(sql[i : j+1])
			i = j + 1
		case isIdentStart(ch):
			j := i
			for j < len(sql) && isIdent(sql[j]) {
				j++
			}
			word := keyword(sql[i:j])
			if word == "null" {
				word = nullComparison(&out)
			}
			out.WriteString(word)
			i = j
		case ch == '=':
			if i > 0 && strings.IndexByte("<>!=", sql[i-1]) >= 0 {
				out.WriteByte('=')
			} else if i+1 < len(sql) && sql[i+1] == '=' {
				out.WriteString("==")
				i++
			} else {
				out.WriteString("==")
			}
			i++
		default:
			out.WriteByte(ch)
			i++
		}
	}
	return out.String(), nil
}

func keyword(word string) string {
	switch up := strings.ToUpper(word); up {
	case "AND":
		return "&&"
	case "OR":
		return "||"
	case "NOT":
		return "!"
	case "TRUE", "FALSE", "NULL":
		return strings.ToLower(up)
	case "IS_DEFINED":
		return "has"
	case "IS_NULL", "IS_BOOLEAN", "IS_NUMBER", "IS_STRING", "IS_ARRAY", "IS_OBJECT", "IS_PRIMITIVE":
		return strings.ToLower(up)
	}
	return word
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdent(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
