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

package sys

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kelseyhightower/envconfig"

	"github.com/rulecheck/rulecheck/core"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Config is loaded once at start and is not reloadable.
type Config struct {
	// Port the service will listen on.
	Port string `envconfig:"PORT" default:"8080"`
	// APIPrefix fronts every endpoint.
	APIPrefix string `envconfig:"API_PREFIX" default:"/api/v1"`
	// AllowedOrigins is the CORS origin allowlist.  "*" allows anyone.
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"*"`
	// MaxRulesPerRequest caps rule batches on store and ad-hoc
	// evaluation requests.
	MaxRulesPerRequest int `envconfig:"MAX_RULES_PER_REQUEST" default:"100"`
	// DefaultEntityType labels rules that arrive without one.
	DefaultEntityType string `envconfig:"DEFAULT_ENTITY_TYPE" default:"generic"`
	// Verbosity is a log mask expression.  See core.ParseVerbosity.
	Verbosity string `envconfig:"VERBOSITY" default:"ANYINFO"`
	// RulesFile optionally seeds the repository at startup.  JSON
	// or YAML, same shape as the store-rules request body.
	RulesFile string `envconfig:"RULES_FILE" default:""`
	// MaxPending caps concurrently-served requests; 0 means no max.
	MaxPending int `envconfig:"MAX_PENDING" default:"0"`
}

// ConfigFromEnv reads configuration from the environment.
func ConfigFromEnv() (*Config, error) {
	conf := &Config{}
	if err := envconfig.Process("rules", conf); err != nil {
		return nil, fmt.Errorf("bad environment configuration: %v", err)
	}
	return conf, nil
}

// System is the rule engine plus its boot-time configuration: the
// outer-most API layer under the HTTP service.
//
// The repository is created here, once, and shared by every request.
// No hidden global state.
type System struct {
	Repo   *core.RuleRepo
	Config *Config
}

func NewSystem(ctx *core.Context, conf *Config) (*System, error) {
	core.Log(core.INFO, ctx, "sys.NewSystem", "port", conf.Port, "prefix", conf.APIPrefix)
	return &System{
		Repo:   core.NewRuleRepo(ctx),
		Config: conf,
	}, nil
}

// RuleGroup is the store-rules payload: a batch of rules, an optional
// shared entity type, and an optional category every rule joins.
//
// Each rule map may carry its own "entity_type" and
// "add_to_categories"; the group's values fill the gaps.
type RuleGroup struct {
	EntityType      string     `json:"entity_type" mapstructure:"entity_type"`
	DefaultCategory string     `json:"default_category" mapstructure:"default_category"`
	Rules           []core.Map `json:"rules" mapstructure:"rules"`
}

// StoreRules validates and upserts a batch of rules.
//
// The whole batch validates before anything is stored: one bad rule
// fails the request and nothing changes.  Valid batches apply in
// order, so an intra-request duplicate name upserts left-to-right
// with the later occurrence winning.
func (sys *System) StoreRules(ctx *core.Context, group RuleGroup) (int, error) {
	if len(group.Rules) == 0 {
		return 0, core.NewInvalidInputError("no rules given")
	}
	if sys.Config.MaxRulesPerRequest < len(group.Rules) {
		return 0, core.NewInvalidInputError("too many rules: %d (max %d)",
			len(group.Rules), sys.Config.MaxRulesPerRequest)
	}

	type prepared struct {
		rule       *core.Rule
		categories []string
	}

	errs := make([]string, 0, 4)
	batch := make([]prepared, 0, len(group.Rules))

	for i, rm := range group.Rules {
		entityType := stringAt(rm, "entity_type")
		if entityType == "" {
			entityType = group.EntityType
		}
		if entityType == "" {
			entityType = sys.Config.DefaultEntityType
		}

		if valid, ruleErrs := core.ValidateRuleMap(rm); !valid {
			for _, e := range ruleErrs {
				errs = append(errs, fmt.Sprintf("rule %d: %s", i, e))
			}
			continue
		}

		withType := core.Map{}
		for k, v := range rm {
			withType[k] = v
		}
		withType["entity_type"] = entityType

		rule, err := core.RuleFromMap(withType)
		if err != nil {
			errs = append(errs, fmt.Sprintf("rule %d: %s", i, err.Error()))
			continue
		}

		categories := stringsAt(rm, "add_to_categories")
		if group.DefaultCategory != "" {
			categories = append(categories, group.DefaultCategory)
		}

		batch = append(batch, prepared{rule, categories})
	}

	if 0 < len(errs) {
		return 0, core.NewInvalidInputError("%s", strings.Join(errs, "; "))
	}

	for _, p := range batch {
		sys.Repo.Add(ctx, p.rule, p.categories)
	}

	core.Log(core.INFO, ctx, "sys.StoreRules", "stored", len(batch))
	return len(batch), nil
}

// CategoryAction names what to do to a rule's category set.
type CategoryAction string

const (
	CategoryAdd    CategoryAction = "add"
	CategoryRemove CategoryAction = "remove"
)

// UpdateCategories adds or removes categories on a stored rule.
//
// The action is case-insensitive.  An unknown action or an absent
// rule is an error and nothing changes.
func (sys *System) UpdateCategories(ctx *core.Context, entityType, ruleName string, categories []string, action string) error {
	switch CategoryAction(strings.ToLower(action)) {
	case CategoryAdd:
		return sys.Repo.AddCategories(ctx, entityType, ruleName, categories)
	case CategoryRemove:
		return sys.Repo.RemoveCategories(ctx, entityType, ruleName, categories)
	default:
		return core.NewInvalidInputError("category_action must be 'add' or 'remove' (case-insensitive)")
	}
}

// RuleView is the listing shape for one stored rule.
type RuleView struct {
	RuleName                 string                 `json:"rule_name"`
	EntityType               string                 `json:"entity_type"`
	Description              string                 `json:"description,omitempty"`
	Conditions               map[string]interface{} `json:"conditions"`
	CategoriesAssociatedWith []string               `json:"categories_associated_with"`
}

// ListRules returns rule views filtered by entity type and/or
// categories, sorted by entity type and then rule name, plus a
// per-entity-type stats block.
func (sys *System) ListRules(ctx *core.Context, entityType string, categories []string) ([]RuleView, map[string]core.EntityTypeStats) {
	stored := sys.Repo.GetMany(ctx, entityType, categories)

	sort.Slice(stored, func(i, j int) bool {
		if stored[i].Rule.EntityType != stored[j].Rule.EntityType {
			return stored[i].Rule.EntityType < stored[j].Rule.EntityType
		}
		return stored[i].Rule.Name < stored[j].Rule.Name
	})

	views := make([]RuleView, 0, len(stored))
	stats := make(map[string]core.EntityTypeStats)
	for _, sr := range stored {
		views = append(views, RuleView{
			RuleName:                 sr.Rule.Name,
			EntityType:               sr.Rule.EntityType,
			Description:              sr.Rule.Description,
			Conditions:               sr.Rule.Conditions.ToMap(),
			CategoriesAssociatedWith: sr.Categories.SortedArray(),
		})

		es := stats[sr.Rule.EntityType]
		if es.RulesByCategory == nil {
			es.RulesByCategory = make(map[string]int)
		}
		es.TotalRules++
		for _, c := range sr.Categories.SortedArray() {
			es.RulesByCategory[c]++
		}
		stats[sr.Rule.EntityType] = es
	}

	return views, stats
}

// ExportRules renders stored rules in the wire form accepted by the
// store-rules endpoint, so an export can be POSTed straight back.
func (sys *System) ExportRules(ctx *core.Context, entityType string, categories []string) []core.Map {
	stored := sys.Repo.GetMany(ctx, entityType, categories)

	sort.Slice(stored, func(i, j int) bool {
		if stored[i].Rule.EntityType != stored[j].Rule.EntityType {
			return stored[i].Rule.EntityType < stored[j].Rule.EntityType
		}
		return stored[i].Rule.Name < stored[j].Rule.Name
	})

	acc := make([]core.Map, 0, len(stored))
	for _, sr := range stored {
		m := sr.Rule.ToMap()
		if cats := sr.Categories.SortedArray(); 0 < len(cats) {
			m["add_to_categories"] = cats
		}
		acc = append(acc, m)
	}
	return acc
}

// RuleDetails is the structural analysis of one stored rule.
type RuleDetails struct {
	EntityType  string                 `json:"entity_type"`
	Description string                 `json:"description,omitempty"`
	Analysis    core.ConditionAnalysis `json:"analysis"`
}

// FailureDetails analyses a stored rule's condition tree: the paths
// and operators it uses, its depth, and its leaf count.
//
// Without an entity type, every entity type holding a rule by that
// name contributes a match.
func (sys *System) FailureDetails(ctx *core.Context, ruleName, entityType string) []RuleDetails {
	acc := make([]RuleDetails, 0, 1)

	if entityType != "" {
		sr, err := sys.Repo.Get(ctx, entityType, ruleName)
		if err != nil {
			return acc
		}
		return append(acc, RuleDetails{
			EntityType:  sr.Rule.EntityType,
			Description: sr.Rule.Description,
			Analysis:    core.AnalyzeCondition(sr.Rule.Conditions),
		})
	}

	for _, et := range sys.Repo.EntityTypes(ctx) {
		sr, err := sys.Repo.Get(ctx, et, ruleName)
		if err != nil {
			continue
		}
		acc = append(acc, RuleDetails{
			EntityType:  sr.Rule.EntityType,
			Description: sr.Rule.Description,
			Analysis:    core.AnalyzeCondition(sr.Rule.Conditions),
		})
	}
	return acc
}

func stringAt(m core.Map, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

func stringsAt(m core.Map, key string) []string {
	raw, have := m[key]
	if !have {
		return nil
	}
	switch v := raw.(type) {
	case []interface{}:
		acc := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				acc = append(acc, s)
			}
		}
		return acc
	case []string:
		return v
	default:
		return nil
	}
}
