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

// EntityTypeStats counts one entity type's rules, overall and per
// category.
//
// A rule with several categories counts once in TotalRules and once
// under each of its categories.
type EntityTypeStats struct {
	TotalRules      int            `json:"total_rules"`
	RulesByCategory map[string]int `json:"rules_by_category"`
}

// Stats is the aggregate view served by the stats endpoint.
type Stats struct {
	TotalRules         int                        `json:"total_rules"`
	EntityTypes        []string                   `json:"entity_types"`
	RulesByEntityType  map[string]EntityTypeStats `json:"rules_by_entity_type"`
	SupportedOperators []string                   `json:"supported_operators"`
	MaxRulesPerRequest int                        `json:"max_rules_per_request"`
}

// GatherStats snapshots the repository.
func GatherStats(ctx *Context, repo *RuleRepo, maxRulesPerRequest int) Stats {
	entityTypes := repo.EntityTypes(ctx)

	byType := make(map[string]EntityTypeStats, len(entityTypes))
	for _, entityType := range entityTypes {
		rules := repo.GetMany(ctx, entityType, nil)
		byCategory := make(map[string]int)
		for _, sr := range rules {
			for _, c := range sr.Categories.SortedArray() {
				byCategory[c]++
			}
		}
		byType[entityType] = EntityTypeStats{
			TotalRules:      len(rules),
			RulesByCategory: byCategory,
		}
	}

	return Stats{
		TotalRules:         repo.Count(ctx),
		EntityTypes:        entityTypes,
		RulesByEntityType:  byType,
		SupportedOperators: SupportedOperators(),
		MaxRulesPerRequest: maxRulesPerRequest,
	}
}
