// Copyright 2015 Comcast Cable Communications Management, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// End Copyright

package core

// The operator catalogue is closed.  Every operator takes (actual,
// expected) and returns a bool.  A type mismatch means false, not an
// error; the only leaf-level error is an unknown operator tag.

import (
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// OperatorFunc is a binary predicate over dynamic JSON values.
type OperatorFunc func(actual, expected interface{}) bool

var operators = map[string]OperatorFunc{
	// Equality operators
	"equal":     opEqual,
	"eq":        opEqual,
	"=":         opEqual,
	"not_equal": opNotEqual,
	"neq":       opNotEqual,

	// Comparison operators
	"greater_than":       opGreaterThan,
	"gt":                 opGreaterThan,
	"less_than":          opLessThan,
	"lt":                 opLessThan,
	"greater_than_equal": opGreaterThanEqual,
	"gte":                opGreaterThanEqual,
	"less_than_equal":    opLessThanEqual,
	"lte":                opLessThanEqual,

	// Existence operators
	"exists":    opExists,
	"not_empty": opNotEmpty,

	// String operators
	"match":    opMatch,
	"matches":  opMatch,
	"contains": opContains,

	// List operators
	"in_list":     opInList,
	"not_in_list": func(actual, expected interface{}) bool { return !opInList(actual, expected) },

	// Device rules
	"role_device": opRoleDevice,

	// Length operators
	"max_length":   opMaxLength,
	"exact_length": opExactLength,
}

// GetOperator resolves an operator tag (or alias) to its function.
//
// An unknown tag is an error: the caller surfaces it as an evaluation
// error for the whole rule.
func GetOperator(tag string) (OperatorFunc, error) {
	f, have := operators[tag]
	if !have {
		return nil, NewSyntaxError("unsupported operator: %s", tag)
	}
	return f, nil
}

// KnownOperator reports whether the tag names an operator or alias.
func KnownOperator(tag string) bool {
	_, have := operators[tag]
	return have
}

// SupportedOperators returns the sorted list of operator tags,
// aliases included.
func SupportedOperators() []string {
	acc := make([]string, 0, len(operators))
	for tag := range operators {
		acc = append(acc, tag)
	}
	sort.Strings(acc)
	return acc
}

// asFloat coerces a dynamic value to a float for the comparison
// operators.  Numbers, numeric strings, and bools coerce; everything
// else does not.
func asFloat(x interface{}) (float64, bool) {
	switch v := x.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		n, err := strconv.ParseFloat(v, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// valueEqual is structural equality over dynamic JSON values.
//
// Numbers compare numerically regardless of concrete type, since JSON
// decoding yields float64 but YAML decoding (and Go literals in
// tests) yield ints.
func valueEqual(a, b interface{}) bool {
	if af, aok := asNumber(a); aok {
		if bf, bok := asNumber(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// asNumber is like asFloat but only accepts actual numbers.
func asNumber(x interface{}) (float64, bool) {
	switch v := x.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// truthy implements JSON-value truthiness: nil, false, 0, "", empty
// containers are false; everything else is true.
func truthy(x interface{}) bool {
	switch v := x.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return 0 < len(v)
	case []interface{}:
		return 0 < len(v)
	case map[string]interface{}:
		return 0 < len(v)
	default:
		if n, ok := asNumber(x); ok {
			return n != 0
		}
		return true
	}
}

// containerLen returns the length of a string, list, or map.
func containerLen(x interface{}) (int, bool) {
	switch v := x.(type) {
	case string:
		return len(v), true
	case []interface{}:
		return len(v), true
	case map[string]interface{}:
		return len(v), true
	default:
		return 0, false
	}
}

func opEqual(actual, expected interface{}) bool {
	return valueEqual(actual, expected)
}

func opNotEqual(actual, expected interface{}) bool {
	return !valueEqual(actual, expected)
}

func opGreaterThan(actual, expected interface{}) bool {
	a, aok := asFloat(actual)
	e, eok := asFloat(expected)
	return aok && eok && a > e
}

func opLessThan(actual, expected interface{}) bool {
	a, aok := asFloat(actual)
	e, eok := asFloat(expected)
	return aok && eok && a < e
}

func opGreaterThanEqual(actual, expected interface{}) bool {
	a, aok := asFloat(actual)
	e, eok := asFloat(expected)
	return aok && eok && a >= e
}

func opLessThanEqual(actual, expected interface{}) bool {
	a, aok := asFloat(actual)
	e, eok := asFloat(expected)
	return aok && eok && a <= e
}

func opExists(actual, expected interface{}) bool {
	return (actual != nil) == truthy(expected)
}

func opNotEmpty(actual, expected interface{}) bool {
	if actual == nil {
		return !truthy(expected)
	}
	if n, ok := containerLen(actual); ok {
		return (0 < n) == truthy(expected)
	}
	return truthy(expected)
}

// RegexCacheSize bounds the compiled-pattern cache for 'match'.
var RegexCacheSize = 512

var regexCache = NewCache(RegexCacheSize, 24*time.Hour)

// compileAnchored compiles the pattern anchored at the start, which
// gives the usual "match" (as opposed to "search") semantics.
func compileAnchored(pattern string) (*regexp.Regexp, error) {
	got, err := regexCache.GetWith(pattern, func() (interface{}, error) {
		return regexp.Compile("^(?:" + pattern + ")")
	})
	if err != nil {
		return nil, err
	}
	return got.(*regexp.Regexp), nil
}

func opMatch(actual, expected interface{}) bool {
	a, aok := actual.(string)
	e, eok := expected.(string)
	if !aok || !eok {
		return false
	}
	re, err := compileAnchored(e)
	if err != nil {
		// A bad pattern fails the leaf; it is not a rule error.
		return false
	}
	return re.MatchString(a)
}

func opContains(actual, expected interface{}) bool {
	switch v := actual.(type) {
	case nil:
		return false
	case string:
		s, ok := expected.(string)
		if !ok {
			return false
		}
		return strings.Contains(v, s)
	case []interface{}:
		for _, x := range v {
			if valueEqual(x, expected) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func opInList(actual, expected interface{}) bool {
	xs, ok := expected.([]interface{})
	if !ok {
		return false
	}
	for _, x := range xs {
		if valueEqual(x, actual) {
			return true
		}
	}
	return false
}

// deviceRoles maps a role name to the digit embedded in hostnames.
var deviceRoles = map[string]int{
	"standalone": 0,
	"primary":    1,
	"secondary":  2,
}

// opRoleDevice tests the role digit at position len-3 of a hostname.
// "HUJ-AA-101" is a primary: its third-from-last character is '1'.
func opRoleDevice(actual, expected interface{}) bool {
	hostname, ok := actual.(string)
	if !ok {
		return false
	}
	role, ok := expected.(string)
	if !ok {
		return false
	}
	code, have := deviceRoles[role]
	if !have {
		return false
	}
	runes := []rune(hostname)
	if len(runes) < 3 {
		return false
	}
	return string(runes[len(runes)-3]) == strconv.Itoa(code)
}

func opMaxLength(actual, expected interface{}) bool {
	n, ok := containerLen(actual)
	if !ok {
		return false
	}
	limit, ok := asNumber(expected)
	if !ok {
		return false
	}
	return float64(n) <= limit
}

func opExactLength(actual, expected interface{}) bool {
	n, ok := containerLen(actual)
	if !ok {
		return false
	}
	want, ok := asNumber(expected)
	if !ok {
		return false
	}
	return float64(n) == want
}
