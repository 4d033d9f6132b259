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

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Map is a generic entity, rule body, or request parameter.
//
// Kinda wants to be a transparent typedef.
type Map map[string]interface{}

// ParseMap tries to parse a Map from JSON.
func ParseMap(js string) (m Map, err error) {
	err = json.Unmarshal([]byte(js), &m)
	return m, err
}

func (m Map) JSON() (string, error) {
	bs, err := json.Marshal(&m)
	if err != nil {
		return "", err
	}
	return string(bs), nil
}

// ParseJSON parses a map from bytes.
func ParseJSON(ctx *Context, bs []byte) (map[string]interface{}, error) {
	var m map[string]interface{}
	err := json.Unmarshal(bs, &m)
	if err != nil {
		// convert golang error to rules specific one for proper error handling
		err = NewSyntaxError(err.Error())
		Log(UERR, ctx, "core.ParseJSON", "error", err, "bs", string(bs))
	}
	return m, err
}

// ParseJSONString parses a map from a string.
func ParseJSONString(ctx *Context, s string) (map[string]interface{}, error) {
	m, err := ParseJSON(ctx, []byte(s))
	return m, err
}

// StringSet represents a set of strings.
//
// A StringSet is not synchronized.
type StringSet map[string]struct{}

// NewStringSet does what you'd expect.
func NewStringSet(xs []string) StringSet {
	ss := make(StringSet)
	if xs != nil {
		for _, x := range xs {
			ss.Add(x)
		}
	}
	return ss
}

// EmptyStringSet makes one of those.
func EmptyStringSet() StringSet {
	ss := make(StringSet)
	return ss
}

// Nothing really is nothing.
var Nothing = struct{}{}

// Add adds the given string to the set.
func (s StringSet) Add(x string) StringSet {
	s[x] = Nothing
	return s
}

// AddAll adds all elements of the given set to the set.
func (s StringSet) AddAll(more StringSet) StringSet {
	for x := range more {
		s.Add(x)
	}
	return s
}

func (s StringSet) AddStrings(xs ...string) StringSet {
	for _, x := range xs {
		s.Add(x)
	}
	return s
}

// Rem does what you'd think.
func (s StringSet) Rem(x string) StringSet {
	delete(s, x)
	return s
}

// RemAll removes all elements of the given set from the set.
func (s StringSet) RemAll(less StringSet) StringSet {
	for x := range less {
		s.Rem(x)
	}
	return s
}

// Contains reports whether the given string is in the set.
func (s StringSet) Contains(x string) bool {
	_, have := s[x]
	return have
}

// Intersects reports whether the receiver and the given set have any
// element in common.
func (s StringSet) Intersects(t StringSet) bool {
	for x := range s {
		if t.Contains(x) {
			return true
		}
	}
	return false
}

// Copy makes an independent copy of the set.
func (s StringSet) Copy() StringSet {
	acc := make(StringSet, len(s))
	for x := range s {
		acc.Add(x)
	}
	return acc
}

// Array returns an array of the set's elements (in no particular
// order).
func (s StringSet) Array() []string {
	acc := make([]string, 0, len(s))
	for x := range s {
		acc = append(acc, x)
	}
	return acc
}

// SortedArray returns the set's elements sorted alphabetically.
//
// Listings want deterministic output.
func (s StringSet) SortedArray() []string {
	acc := s.Array()
	sort.Strings(acc)
	return acc
}

func (s StringSet) UnmarshalJSON(data []byte) error {
	// Just a JSON array
	var xs []string
	if err := json.Unmarshal(data, &xs); err != nil {
		return err
	}
	s.AddStrings(xs...)
	return nil
}

func (s StringSet) MarshalJSON() ([]byte, error) {
	// Just a JSON array, sorted for stable output
	return json.Marshal(s.SortedArray())
}

// Gorep returns a string that represents the given thing in Go --
// except for plain strings.
//
// This function is used in logging generic data.  All log records
// should have consistent types for a given property value.  If a
// property can actually have different values, use this function to
// homogenize the values.
func Gorep(x interface{}) string {
	if s, ok := x.(string); ok {
		return s
	}
	return fmt.Sprintf("%#v", x)
}

// Accumulator is a sliding buffer.
//
// As it fills, older entries slide off the back.
//
// Not synchronized.
type Accumulator struct {
	// Acc is the buffer.
	Acc []interface{}

	// Limit is the capacity.
	Limit int

	// Dumped is the number of entries that have been dumped to
	// make room for other entries.
	Dumped int
}

// NewAccumulator returns an Accumulator with the given size.
func NewAccumulator(limit int) *Accumulator {
	buf := make([]interface{}, 0, limit)
	return &Accumulator{buf, limit, 0}
}

// Add adds the thing to the Accumulator.
//
// If there isn't room, then room.
func (acc *Accumulator) Add(x interface{}) {
	if acc.Limit <= 0 {
		acc.Dumped++
		return
	}
	if dump := len(acc.Acc) - acc.Limit + 1; 0 < dump {
		acc.Acc = acc.Acc[dump:]
		acc.Dumped += dump
	}
	acc.Acc = append(acc.Acc, x)
}
