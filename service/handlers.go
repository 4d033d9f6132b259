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

package service

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/rulecheck/rulecheck/core"
	"github.com/rulecheck/rulecheck/sys"
)

func (s *Service) handleHealth(ctx *core.Context, w http.ResponseWriter, r *http.Request) {
	respond(ctx, w, r, map[string]interface{}{
		"status":  "ok",
		"version": APIVersion,
	})
}

type validationResponse struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

func (s *Service) handleValidateRule(ctx *core.Context, w http.ResponseWriter, r *http.Request) {
	m, err := readBody(ctx, r)
	if err != nil {
		protest(ctx, err, w)
		return
	}

	valid, errs := core.ValidateRuleMap(core.Map(m))

	// Validation problems are the point of this endpoint, so the
	// status is 200 either way.
	resp := validationResponse{Valid: valid}
	if !valid {
		resp.Errors = errs
	}
	respond(ctx, w, r, resp)
}

type storeRulesResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	StoredRules int    `json:"stored_rules"`
}

func (s *Service) handleStoreRules(ctx *core.Context, w http.ResponseWriter, r *http.Request) {
	m, err := readBody(ctx, r)
	if err != nil {
		protest(ctx, err, w)
		return
	}

	var group sys.RuleGroup
	if err := decode(m, &group); err != nil {
		protest(ctx, err, w)
		return
	}

	stored, err := s.Sys.StoreRules(ctx, group)
	if err != nil {
		protest(ctx, err, w)
		return
	}

	observeRulesStored(stored)
	respond(ctx, w, r, storeRulesResponse{
		Success:     true,
		Message:     "Successfully stored " + strconv.Itoa(stored) + " rules",
		StoredRules: stored,
	})
}

type listRulesResponse struct {
	EntityTypes []string                        `json:"entity_types"`
	Rules       []sys.RuleView                  `json:"rules"`
	Stats       map[string]core.EntityTypeStats `json:"stats,omitempty"`
}

func (s *Service) handleListRules(ctx *core.Context, w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entityType := q.Get("entity_type")
	var categories []string
	if cs, have := q["categories"]; have {
		categories = cs
	}

	views, stats := s.Sys.ListRules(ctx, entityType, categories)

	entityTypes := core.EmptyStringSet()
	for _, v := range views {
		entityTypes.Add(v.EntityType)
	}

	respond(ctx, w, r, listRulesResponse{
		EntityTypes: entityTypes.SortedArray(),
		Rules:       views,
		Stats:       stats,
	})
}

func (s *Service) handleExportRules(ctx *core.Context, w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var categories []string
	if cs, have := q["categories"]; have {
		categories = cs
	}
	rules := s.Sys.ExportRules(ctx, q.Get("entity_type"), categories)
	respond(ctx, w, r, map[string]interface{}{"rules": rules})
}

type categoriesRequest struct {
	RuleName       string   `mapstructure:"rule_name"`
	EntityType     string   `mapstructure:"entity_type"`
	Categories     []string `mapstructure:"categories"`
	CategoryAction string   `mapstructure:"category_action"`
}

func (s *Service) handleRuleCategories(ctx *core.Context, w http.ResponseWriter, r *http.Request) {
	m, err := readBody(ctx, r)
	if err != nil {
		protest(ctx, err, w)
		return
	}

	var req categoriesRequest
	if err := decode(m, &req); err != nil {
		protest(ctx, err, w)
		return
	}
	if req.RuleName == "" || req.EntityType == "" {
		protest(ctx, core.NewInvalidInputError("rule_name and entity_type are required"), w)
		return
	}
	if len(req.Categories) == 0 {
		protest(ctx, core.NewInvalidInputError("categories must be a non-empty list"), w)
		return
	}

	if err := s.Sys.UpdateCategories(ctx, req.EntityType, req.RuleName, req.Categories, req.CategoryAction); err != nil {
		protest(ctx, err, w)
		return
	}

	respond(ctx, w, r, map[string]interface{}{
		"success": true,
		"message": "Categories updated successfully",
	})
}

type evaluationRequest struct {
	Data       interface{} `mapstructure:"data"`
	EntityType string      `mapstructure:"entity_type"`
	Categories []string    `mapstructure:"categories"`
	RuleNames  []string    `mapstructure:"rule_names"`
}

// checkFilter enforces that exactly one of categories and rule_names
// came with the request.
func checkFilter(req *evaluationRequest) error {
	if req.EntityType == "" {
		return core.NewInvalidInputError("entity_type is required")
	}
	if req.Data == nil {
		return core.NewInvalidInputError("data is required")
	}
	haveCategories := 0 < len(req.Categories)
	haveNames := 0 < len(req.RuleNames)
	if haveCategories == haveNames {
		return core.NewInvalidInputError("exactly one of 'categories' or 'rule_names' must be provided")
	}
	return nil
}

type evaluationResponse struct {
	EntityType  string            `json:"entity_type"`
	Categories  []string          `json:"categories,omitempty"`
	RuleNames   []string          `json:"rule_names,omitempty"`
	TotalRules  int               `json:"total_rules"`
	PassedRules int               `json:"passed_rules"`
	FailedRules int               `json:"failed_rules"`
	Results     []core.RuleResult `json:"results"`
}

func tally(results []core.RuleResult) (passed, failed int) {
	for _, result := range results {
		if result.Success {
			passed++
		} else {
			failed++
		}
	}
	return passed, failed
}

func (s *Service) handleEvaluate(ctx *core.Context, w http.ResponseWriter, r *http.Request) {
	m, err := readBody(ctx, r)
	if err != nil {
		protest(ctx, err, w)
		return
	}

	var req evaluationRequest
	if err := decode(m, &req); err != nil {
		protest(ctx, err, w)
		return
	}
	if err := checkFilter(&req); err != nil {
		protest(ctx, err, w)
		return
	}

	results, err := core.EvaluateStored(ctx, s.Sys.Repo, req.Data, req.EntityType,
		core.Filter{RuleNames: req.RuleNames, Categories: req.Categories})
	if err != nil {
		protest(ctx, err, w)
		return
	}

	passed, failed := tally(results)
	observeEvaluation(req.EntityType, len(results), failed)

	respond(ctx, w, r, evaluationResponse{
		EntityType:  req.EntityType,
		Categories:  req.Categories,
		RuleNames:   req.RuleNames,
		TotalRules:  len(results),
		PassedRules: passed,
		FailedRules: failed,
		Results:     results,
	})
}

type byDataResponse struct {
	EntityType       string              `json:"entity_type"`
	Categories       []string            `json:"categories,omitempty"`
	RuleNames        []string            `json:"rule_names,omitempty"`
	TotalRules       int                 `json:"total_rules"`
	TotalDataObjects int                 `json:"total_data_objects"`
	Results          []core.EntityReport `json:"results"`
}

func (s *Service) handleEvaluateByData(ctx *core.Context, w http.ResponseWriter, r *http.Request) {
	m, err := readBody(ctx, r)
	if err != nil {
		protest(ctx, err, w)
		return
	}

	var req evaluationRequest
	if err := decode(m, &req); err != nil {
		protest(ctx, err, w)
		return
	}
	if err := checkFilter(&req); err != nil {
		protest(ctx, err, w)
		return
	}

	doc, err := core.CoerceData(ctx, req.Data)
	if err != nil {
		protest(ctx, err, w)
		return
	}
	entities := core.ExtractEntities(doc, req.EntityType)

	results, err := core.EvaluateStored(ctx, s.Sys.Repo, doc, req.EntityType,
		core.Filter{RuleNames: req.RuleNames, Categories: req.Categories})
	if err != nil {
		protest(ctx, err, w)
		return
	}

	_, failed := tally(results)
	observeEvaluation(req.EntityType, len(results), failed)

	respond(ctx, w, r, byDataResponse{
		EntityType:       req.EntityType,
		Categories:       req.Categories,
		RuleNames:        req.RuleNames,
		TotalRules:       len(results),
		TotalDataObjects: len(entities),
		Results:          core.OrganizeByEntity(entities, results),
	})
}

type withRulesRequest struct {
	Data       interface{}              `mapstructure:"data"`
	EntityType string                   `mapstructure:"entity_type"`
	Rules      []map[string]interface{} `mapstructure:"rules"`
}

func (s *Service) handleEvaluateWithRules(ctx *core.Context, w http.ResponseWriter, r *http.Request) {
	m, err := readBody(ctx, r)
	if err != nil {
		protest(ctx, err, w)
		return
	}

	var req withRulesRequest
	if err := decode(m, &req); err != nil {
		protest(ctx, err, w)
		return
	}
	if req.EntityType == "" {
		protest(ctx, core.NewInvalidInputError("entity_type is required"), w)
		return
	}
	if req.Data == nil {
		protest(ctx, core.NewInvalidInputError("data is required"), w)
		return
	}
	if len(req.Rules) == 0 {
		protest(ctx, core.NewInvalidInputError("rules must be a non-empty list"), w)
		return
	}
	if s.Sys.Config.MaxRulesPerRequest < len(req.Rules) {
		protest(ctx, core.NewInvalidInputError("too many rules: %d (max %d)",
			len(req.Rules), s.Sys.Config.MaxRulesPerRequest), w)
		return
	}

	rules := make([]*core.Rule, 0, len(req.Rules))
	for i, rm := range req.Rules {
		name, _ := rm["name"].(string)
		name = strings.TrimSpace(name)
		if name == "" {
			protest(ctx, core.NewInvalidInputError("rule %d must have a name", i), w)
			return
		}

		withType := core.Map{}
		for k, v := range rm {
			withType[k] = v
		}
		withType["entity_type"] = req.EntityType

		rule, err := core.RuleFromMap(withType)
		if err != nil {
			// A rule whose tree won't build still evaluates: it
			// produces an invalid-conditions result instead of
			// failing the request.
			rule = &core.Rule{Name: name, EntityType: req.EntityType}
		}
		rules = append(rules, rule)
	}

	results, err := core.EvaluateAdhoc(ctx, req.Data, req.EntityType, rules)
	if err != nil {
		protest(ctx, err, w)
		return
	}

	passed, failed := tally(results)
	observeEvaluation(req.EntityType, len(results), failed)

	respond(ctx, w, r, evaluationResponse{
		EntityType:  req.EntityType,
		TotalRules:  len(results),
		PassedRules: passed,
		FailedRules: failed,
		Results:     results,
	})
}

func (s *Service) handleEvaluationStats(ctx *core.Context, w http.ResponseWriter, r *http.Request) {
	stats := core.GatherStats(ctx, s.Sys.Repo, s.Sys.Config.MaxRulesPerRequest)
	respond(ctx, w, r, stats)
}

type failureDetailsResponse struct {
	Found    bool              `json:"found"`
	RuleName string            `json:"rule_name"`
	Details  []sys.RuleDetails `json:"details"`
}

func (s *Service) handleFailureDetails(ctx *core.Context, w http.ResponseWriter, r *http.Request, ruleName string) {
	if ruleName == "" {
		protest(ctx, core.NewInvalidInputError("rule name is required"), w)
		return
	}

	details := s.Sys.FailureDetails(ctx, ruleName, r.URL.Query().Get("entity_type"))

	respond(ctx, w, r, failureDetailsResponse{
		Found:    0 < len(details),
		RuleName: ruleName,
		Details:  details,
	})
}
