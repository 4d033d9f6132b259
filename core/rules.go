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
	"strings"
)

// Rule is an immutable, named predicate over the entities of one
// entity type.
type Rule struct {
	Name        string
	EntityType  string
	Description string
	Conditions  Condition
}

// Key returns the repository key for the rule.
//
// Identity is (entity_type, name); description and categories don't
// participate.
func (r *Rule) Key() string {
	return r.EntityType + "|" + r.Name
}

// ToMap renders the rule in its external form with clean conditions.
func (r *Rule) ToMap() Map {
	m := Map{
		"name":        r.Name,
		"entity_type": r.EntityType,
	}
	if r.Description != "" {
		m["description"] = r.Description
	}
	if r.Conditions != nil {
		m["conditions"] = map[string]interface{}(r.Conditions.ToMap())
	}
	return m
}

func (r *Rule) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ToMap())
}

// RuleFromMap builds a Rule from its external form.
//
// The map should already have passed ValidateRuleMap; this function
// still rejects what it can't build.
func RuleFromMap(m Map) (*Rule, error) {
	name, _ := m["name"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, NewInvalidInputError("rule must have a name")
	}

	entityType, _ := m["entity_type"].(string)
	entityType = strings.TrimSpace(entityType)
	if entityType == "" {
		return nil, NewInvalidInputError("rule '%s' must have an entity_type", name)
	}

	description, _ := m["description"].(string)

	rawConds, ok := m["conditions"].(map[string]interface{})
	if !ok {
		return nil, NewInvalidInputError("rule '%s' must have conditions", name)
	}
	conds, err := ParseCondition(rawConds)
	if err != nil {
		return nil, err
	}

	return &Rule{
		Name:        name,
		EntityType:  entityType,
		Description: description,
		Conditions:  conds,
	}, nil
}

// StoredRule is a rule as held in the repository, together with its
// mutable category set.
//
// The repository hands out copies; see RuleRepo.
type StoredRule struct {
	Rule       *Rule
	Categories StringSet
}

// copyOut makes the snapshot a reader gets to keep.  The Rule pointer
// is shared (rules are immutable); the category set is copied.
func (sr *StoredRule) copyOut() *StoredRule {
	return &StoredRule{
		Rule:       sr.Rule,
		Categories: sr.Categories.Copy(),
	}
}

// ValidateRuleMap structurally checks a rule in its external form.
//
// Errors are accumulated, not raised: ordinary invalid input never
// panics.  The bool result is just len(errors) == 0.
func ValidateRuleMap(rule Map) (bool, []string) {
	errs := make([]string, 0, 4)

	name, _ := rule["name"].(string)
	if strings.TrimSpace(name) == "" {
		errs = append(errs, "Rule must have a name")
	}

	conds, have := rule["conditions"]
	if !have || conds == nil {
		errs = append(errs, "Rule must have conditions")
	} else if m, ok := conds.(map[string]interface{}); ok {
		errs = append(errs, validateCondition(m)...)
	} else {
		errs = append(errs, "Condition must be a valid object")
	}

	return len(errs) == 0, errs
}

func validateCondition(condition map[string]interface{}) []string {
	errs := make([]string, 0, 2)

	if condition == nil {
		return append(errs, "Condition must be a valid object")
	}

	simple := condition["path"] != nil
	composite := false
	for _, op := range []string{"all", "any", "none", "not"} {
		if v, have := condition[op]; have && v != nil {
			composite = true
		}
	}

	if !simple && !composite {
		return append(errs, "Condition must be either a simple condition with 'path' or a composite condition")
	}

	for _, op := range []string{"all", "any", "none"} {
		v, have := condition[op]
		if !have || v == nil {
			continue
		}
		xs, ok := v.([]interface{})
		if !ok {
			errs = append(errs, "'"+op+"' must be a list of conditions")
			continue
		}
		if len(xs) == 0 {
			errs = append(errs, "'"+op+"' must be a non-empty list of conditions")
			continue
		}
		for _, x := range xs {
			sub, ok := x.(map[string]interface{})
			if !ok {
				errs = append(errs, "Condition must be a valid object")
				continue
			}
			errs = append(errs, validateCondition(sub)...)
		}
	}

	if v, have := condition["not"]; have && v != nil {
		sub, ok := v.(map[string]interface{})
		if !ok {
			errs = append(errs, "'not' must contain a valid condition object")
		} else {
			errs = append(errs, validateCondition(sub)...)
		}
	}

	if simple {
		op, _ := condition["operator"].(string)
		if op == "" {
			errs = append(errs, "Simple condition must have an 'operator'")
		} else if !KnownOperator(op) {
			errs = append(errs, "Unsupported operator: '"+op+"'")
		} else if op != "exists" {
			if _, have := condition["value"]; !have {
				errs = append(errs, "Simple condition must have a 'value' unless operator is 'exists'")
			}
		}
	}

	return errs
}
