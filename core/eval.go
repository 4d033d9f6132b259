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

// The evaluation pipeline: coerce the input document, extract the
// entity list, select rules from a repository, run every (rule x
// entity) pair through the condition tree, aggregate.
//
// One rule's trouble never aborts the batch.  A rule whose tree can't
// be built or whose evaluation errors gets a success=false result and
// the pipeline moves on.  Only unparseable input data is fatal to the
// whole evaluation.

import (
	"fmt"
	"reflect"
)

// Filter selects the stored rules to evaluate.
//
// RuleNames and Categories are mutually exclusive; supplying both is
// an input error.  Supplying neither selects every rule for the
// entity type.
type Filter struct {
	RuleNames  []string
	Categories []string
}

// CoerceData turns the data argument into a document map.
//
// A string parses as JSON; a parse failure is fatal to the whole
// evaluation.
func CoerceData(ctx *Context, data interface{}) (Map, error) {
	switch v := data.(type) {
	case string:
		m, err := ParseJSONString(ctx, v)
		if err != nil {
			return nil, err
		}
		return Map(m), nil
	case map[string]interface{}:
		return Map(v), nil
	case Map:
		return v, nil
	default:
		return nil, NewSyntaxError("can't evaluate data of type %T", data)
	}
}

// EvaluateStored evaluates the repository's rules, selected by the
// filter, against the given data.
func EvaluateStored(ctx *Context, repo *RuleRepo, data interface{}, entityType string, filter Filter) ([]RuleResult, error) {
	if 0 < len(filter.RuleNames) && 0 < len(filter.Categories) {
		return nil, NewInvalidInputError("give either 'categories' or 'rule_names', not both")
	}

	doc, err := CoerceData(ctx, data)
	if err != nil {
		return nil, err
	}

	selected := selectRules(ctx, repo, entityType, filter)
	selected = dedupRules(selected)

	results := make([]RuleResult, 0, len(selected))

	entities := ExtractEntities(doc, entityType)
	if len(entities) == 0 {
		// No entities, nothing to judge.
		Log(WARN|EVAL, ctx, "core.EvaluateStored", "entityType", entityType, "entities", 0)
		return results, nil
	}

	for _, sr := range selected {
		results = append(results, evaluateRule(ctx, sr.Rule, entities))
	}

	return results, nil
}

// EvaluateAdhoc evaluates the given rules against the data without
// touching any shared repository.
//
// Builds a throwaway repository so the rest of the pipeline is
// exactly the stored-rule pipeline.
func EvaluateAdhoc(ctx *Context, data interface{}, entityType string, rules []*Rule) ([]RuleResult, error) {
	scratch := NewRuleRepo(ctx)
	for _, rule := range rules {
		scratch.Add(ctx, rule, nil)
	}
	return EvaluateStored(ctx, scratch, data, entityType, Filter{})
}

// selectRules resolves a filter against the repository.
//
// Rule names that don't resolve are silently dropped (with a log
// record); evaluation proceeds for those that do.
func selectRules(ctx *Context, repo *RuleRepo, entityType string, filter Filter) []*StoredRule {
	if 0 < len(filter.RuleNames) {
		acc := make([]*StoredRule, 0, len(filter.RuleNames))
		for _, name := range filter.RuleNames {
			sr, err := repo.Get(ctx, entityType, name)
			if err != nil {
				Log(WARN|EVAL, ctx, "core.selectRules", "ruleName", name,
					"entityType", entityType, "dropped", true)
				continue
			}
			acc = append(acc, sr)
		}
		return acc
	}
	if 0 < len(filter.Categories) {
		return repo.GetMany(ctx, entityType, filter.Categories)
	}
	return repo.GetMany(ctx, entityType, nil)
}

// dedupRules drops duplicate (entity_type, name) keys, preserving
// insertion order.
func dedupRules(rules []*StoredRule) []*StoredRule {
	seen := EmptyStringSet()
	acc := make([]*StoredRule, 0, len(rules))
	for _, sr := range rules {
		key := sr.Rule.Key()
		if seen.Contains(key) {
			continue
		}
		seen.Add(key)
		acc = append(acc, sr)
	}
	return acc
}

// evaluateRule runs one rule over all entities and composes its
// RuleResult.
//
// A panic during evaluation is captured as an error result for this
// rule alone.
func evaluateRule(ctx *Context, rule *Rule, entities []interface{}) (result RuleResult) {
	defer func() {
		if r := recover(); r != nil {
			Log(ERROR|EVAL, ctx, "core.evaluateRule", "ruleName", rule.Name, "panic", fmt.Sprintf("%v", r))
			result = errorResult(rule.Name, fmt.Errorf("%v", r))
		}
	}()

	if rule.Conditions == nil {
		return RuleResult{
			RuleName:        rule.Name,
			Success:         false,
			Message:         "Rule has invalid conditions",
			FailingElements: append([]interface{}{}, entities...),
			FailureDetails:  []FailureInfo{{Operator: "invalid", Path: "conditions"}},
		}
	}

	failing := make([]interface{}, 0, len(entities))
	failures := make([]FailureInfo, 0, len(entities))

	for _, entity := range entities {
		ok, fails, err := rule.Conditions.EvaluateWithDetails(entity)
		if err != nil {
			Log(ERROR|EVAL, ctx, "core.evaluateRule", "ruleName", rule.Name, "error", err)
			return errorResult(rule.Name, err)
		}
		if !ok {
			failing = append(failing, entity)
			failures = append(failures, fails...)
		}
	}

	success := len(failing) == 0
	var message string
	if success {
		message = "All entities fulfill the rule"
	} else {
		message = fmt.Sprintf("%d of %d entities do not fulfill the rule", len(failing), len(entities))
	}

	Log(DEBUG|EVAL, ctx, "core.evaluateRule", "ruleName", rule.Name,
		"success", success, "failing", len(failing), "entities", len(entities))

	return RuleResult{
		RuleName:        rule.Name,
		Success:         success,
		Message:         message,
		FailingElements: failing,
		FailureDetails:  failures,
	}
}

func errorResult(ruleName string, err error) RuleResult {
	return RuleResult{
		RuleName:        ruleName,
		Success:         false,
		Message:         "Error evaluating rule: " + err.Error(),
		FailingElements: []interface{}{},
		FailureDetails:  []FailureInfo{{Operator: "error", Path: err.Error()}},
	}
}

// RuleFailure names a rule an entity failed, with that rule's failure
// details.
type RuleFailure struct {
	RuleName       string        `json:"rule_name"`
	FailureDetails []FailureInfo `json:"failure_details"`
}

// EntitySummary counts an entity's passed and failed rules.
type EntitySummary struct {
	RulesPassed int `json:"rules_passed"`
	RulesFailed int `json:"rules_failed"`
}

// EntityReport is the by-entity view of an evaluation: for one input
// entity, which rules passed and which failed.
type EntityReport struct {
	Data              interface{}   `json:"data"`
	EvaluationSummary EntitySummary `json:"evaluation_summary"`
	RulesPassed       []string      `json:"rules_passed"`
	RulesFailed       []RuleFailure `json:"rules_failed"`
}

// OrganizeByEntity recasts per-rule results as per-entity reports.
//
// An entity failed a rule iff the rule failed and its failing
// elements contain a structurally equal value.  Structural equality
// means duplicate entity records share fate; callers accept that.
func OrganizeByEntity(entities []interface{}, results []RuleResult) []EntityReport {
	reports := make([]EntityReport, 0, len(entities))

	for _, entity := range entities {
		passed := make([]string, 0, len(results))
		failed := make([]RuleFailure, 0, len(results))

		for _, result := range results {
			if result.Success {
				passed = append(passed, result.RuleName)
				continue
			}
			if entityAmong(entity, result.FailingElements) {
				failed = append(failed, RuleFailure{
					RuleName:       result.RuleName,
					FailureDetails: result.FailureDetails,
				})
			}
		}

		reports = append(reports, EntityReport{
			Data: entity,
			EvaluationSummary: EntitySummary{
				RulesPassed: len(passed),
				RulesFailed: len(failed),
			},
			RulesPassed: passed,
			RulesFailed: failed,
		})
	}

	return reports
}

func entityAmong(entity interface{}, xs []interface{}) bool {
	for _, x := range xs {
		if reflect.DeepEqual(entity, x) {
			return true
		}
	}
	return false
}
