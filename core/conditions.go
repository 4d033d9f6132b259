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

// A condition tree is the recursive boolean expression that
// constitutes a rule's body.  Leaves address a value via a path and
// apply an operator; composites combine children with all/any/none/
// not semantics.
//
// Trees are immutable once built and safe to share across concurrent
// evaluations.

// Condition is one node of a rule's condition tree.
//
// EvaluateWithDetails returns whether the entity passes plus the
// failures to report.  The only possible error is an unknown operator
// tag, which aborts evaluation of the whole rule.
type Condition interface {
	EvaluateWithDetails(entity interface{}) (bool, []FailureInfo, error)

	// ToMap renders the external (wire) form.  The result is
	// "clean": no null values, no empty child lists.
	ToMap() Map
}

// LeafCondition compares the value at a path against an expected
// value.
type LeafCondition struct {
	Path     string
	Operator string
	Expected interface{}
}

func (c *LeafCondition) EvaluateWithDetails(entity interface{}) (bool, []FailureInfo, error) {
	f, err := GetOperator(c.Operator)
	if err != nil {
		return false, nil, err
	}

	actual := ValueAtPath(entity, SimplifyPath(c.Path))

	if f(actual, c.Expected) {
		return true, nil, nil
	}

	return false, []FailureInfo{{
		Operator:      c.Operator,
		Path:          c.Path,
		ExpectedValue: c.Expected,
		ActualValue:   actual,
	}}, nil
}

func (c *LeafCondition) ToMap() Map {
	m := Map{"path": c.Path, "operator": c.Operator}
	if c.Expected != nil {
		m["value"] = c.Expected
	}
	return m
}

// AllCondition passes when every child passes (logical AND).
type AllCondition struct {
	Children []Condition
}

func (c *AllCondition) EvaluateWithDetails(entity interface{}) (bool, []FailureInfo, error) {
	var acc []FailureInfo
	for _, child := range c.Children {
		ok, failures, err := child.EvaluateWithDetails(entity)
		if err != nil {
			return false, nil, err
		}
		if !ok {
			acc = append(acc, failures...)
		}
	}
	if 0 < len(acc) {
		return false, acc, nil
	}
	return true, nil, nil
}

func (c *AllCondition) ToMap() Map {
	return Map{"all": childMaps(c.Children)}
}

// AnyCondition passes when at least one child passes (logical OR).
//
// Scans children in order and short-circuits on the first pass, so a
// passing first child means no failures get reported at all.
type AnyCondition struct {
	Children []Condition
}

func (c *AnyCondition) EvaluateWithDetails(entity interface{}) (bool, []FailureInfo, error) {
	var acc []FailureInfo
	for _, child := range c.Children {
		ok, failures, err := child.EvaluateWithDetails(entity)
		if err != nil {
			return false, nil, err
		}
		if ok {
			return true, nil, nil
		}
		acc = append(acc, failures...)
	}
	return false, acc, nil
}

func (c *AnyCondition) ToMap() Map {
	return Map{"any": childMaps(c.Children)}
}

// NoneCondition passes when no child passes (logical NOR).
//
// It does not enumerate which child matched; the failure just points
// at the composite.
type NoneCondition struct {
	Children []Condition
}

func (c *NoneCondition) EvaluateWithDetails(entity interface{}) (bool, []FailureInfo, error) {
	for _, child := range c.Children {
		ok, _, err := child.EvaluateWithDetails(entity)
		if err != nil {
			return false, nil, err
		}
		if ok {
			return false, []FailureInfo{{Operator: "none", Path: "composite"}}, nil
		}
	}
	return true, nil, nil
}

func (c *NoneCondition) ToMap() Map {
	return Map{"none": childMaps(c.Children)}
}

// NotCondition negates its child.
type NotCondition struct {
	Child Condition
}

func (c *NotCondition) EvaluateWithDetails(entity interface{}) (bool, []FailureInfo, error) {
	ok, _, err := c.Child.EvaluateWithDetails(entity)
	if err != nil {
		return false, nil, err
	}
	if !ok {
		return true, nil, nil
	}
	return false, []FailureInfo{{Operator: "not", Path: "composite"}}, nil
}

func (c *NotCondition) ToMap() Map {
	return Map{"not": map[string]interface{}(c.Child.ToMap())}
}

func childMaps(children []Condition) []interface{} {
	acc := make([]interface{}, 0, len(children))
	for _, child := range children {
		acc = append(acc, map[string]interface{}(child.ToMap()))
	}
	return acc
}

// ParseCondition builds a condition tree from its external form.
//
// Keys are inspected in precedence order: all > any > none > not >
// path.  Unknown keys are ignored.  An object with none of the
// recognised keys is invalid, as is an empty composite.
func ParseCondition(data map[string]interface{}) (Condition, error) {
	if data == nil {
		return nil, NewSyntaxError("condition must be an object")
	}

	for _, key := range []string{"all", "any", "none"} {
		raw, have := data[key]
		if !have || raw == nil {
			continue
		}
		xs, ok := raw.([]interface{})
		if !ok {
			return nil, NewSyntaxError("'%s' must be a list of conditions", key)
		}
		if len(xs) == 0 {
			return nil, NewSyntaxError("'%s' must be a non-empty list of conditions", key)
		}
		children, err := parseChildren(xs)
		if err != nil {
			return nil, err
		}
		switch key {
		case "all":
			return &AllCondition{children}, nil
		case "any":
			return &AnyCondition{children}, nil
		case "none":
			return &NoneCondition{children}, nil
		}
	}

	if raw, have := data["not"]; have && raw != nil {
		m, ok := raw.(map[string]interface{})
		if !ok {
			return nil, NewSyntaxError("'not' must contain a condition object")
		}
		child, err := ParseCondition(m)
		if err != nil {
			return nil, err
		}
		return &NotCondition{child}, nil
	}

	if raw, have := data["path"]; have && raw != nil {
		path, ok := raw.(string)
		if !ok || path == "" {
			return nil, NewSyntaxError("condition 'path' must be a non-empty string")
		}
		opRaw, have := data["operator"]
		if !have {
			return nil, NewSyntaxError("simple condition must have an 'operator'")
		}
		op, ok := opRaw.(string)
		if !ok || op == "" {
			return nil, NewSyntaxError("simple condition must have an 'operator'")
		}
		return &LeafCondition{Path: path, Operator: op, Expected: data["value"]}, nil
	}

	return nil, NewSyntaxError("condition must be either a simple condition with 'path' or a composite condition")
}

func parseChildren(xs []interface{}) ([]Condition, error) {
	acc := make([]Condition, 0, len(xs))
	for i, x := range xs {
		m, ok := x.(map[string]interface{})
		if !ok {
			return nil, NewSyntaxError("condition %d must be an object (got %T)", i, x)
		}
		child, err := ParseCondition(m)
		if err != nil {
			return nil, err
		}
		acc = append(acc, child)
	}
	return acc, nil
}

// ConditionAnalysis is a structural summary of a condition tree.
type ConditionAnalysis struct {
	Paths     []string `json:"paths"`
	Operators []string `json:"operators"`
	Depth     int      `json:"depth"`
	LeafCount int      `json:"leaf_count"`
}

// AnalyzeCondition walks the tree and reports the paths and operators
// it uses, its depth, and its leaf count.
func AnalyzeCondition(cond Condition) ConditionAnalysis {
	paths := EmptyStringSet()
	ops := EmptyStringSet()
	var walk func(c Condition, depth int) int
	walk = func(c Condition, depth int) int {
		max := depth
		deeper := func(children ...Condition) {
			for _, child := range children {
				if d := walk(child, depth+1); max < d {
					max = d
				}
			}
		}
		switch v := c.(type) {
		case *LeafCondition:
			paths.Add(v.Path)
			ops.Add(v.Operator)
		case *AllCondition:
			deeper(v.Children...)
		case *AnyCondition:
			deeper(v.Children...)
		case *NoneCondition:
			deeper(v.Children...)
		case *NotCondition:
			deeper(v.Child)
		}
		return max
	}
	depth := walk(cond, 1)

	leafCount := 0
	var count func(c Condition)
	count = func(c Condition) {
		switch v := c.(type) {
		case *LeafCondition:
			leafCount++
		case *AllCondition:
			for _, child := range v.Children {
				count(child)
			}
		case *AnyCondition:
			for _, child := range v.Children {
				count(child)
			}
		case *NoneCondition:
			for _, child := range v.Children {
				count(child)
			}
		case *NotCondition:
			count(v.Child)
		}
	}
	count(cond)

	return ConditionAnalysis{
		Paths:     paths.SortedArray(),
		Operators: ops.SortedArray(),
		Depth:     depth,
		LeafCount: leafCount,
	}
}
