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
	"fmt"
)

// FailureInfo describes one failing leaf: what was expected vs what
// was found and where.
//
// Composite conditions ('none', 'not') emit a FailureInfo with Path
// "composite" since they don't have a single leaf to point at.
type FailureInfo struct {
	Operator      string      `json:"operator"`
	Path          string      `json:"path"`
	ExpectedValue interface{} `json:"expected_value"`
	ActualValue   interface{} `json:"actual_value"`
}

func (f FailureInfo) String() string {
	if f.Operator == "" || f.Path == "" {
		return "unknown failure"
	}
	s := fmt.Sprintf("failed at '%s' with operator '%s'", f.Path, f.Operator)
	if f.ExpectedValue != nil || f.ActualValue != nil {
		s += fmt.Sprintf(" (expected: %v, actual: %v)", f.ExpectedValue, f.ActualValue)
	}
	return s
}

// RuleResult is the outcome of evaluating one rule against one input
// document.
//
// FailingElements holds the input entities that failed the rule, in
// input order.  FailureDetails is the flattened list of leaf failures
// across those entities.
type RuleResult struct {
	RuleName        string        `json:"rule_name"`
	Success         bool          `json:"success"`
	Message         string        `json:"message"`
	FailingElements []interface{} `json:"failing_elements"`
	FailureDetails  []FailureInfo `json:"failure_details"`
}
