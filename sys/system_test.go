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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rulecheck/rulecheck/core"
)

func testConfig() *Config {
	return &Config{
		Port:               "8080",
		APIPrefix:          "/api/v1",
		AllowedOrigins:     []string{"*"},
		MaxRulesPerRequest: 100,
		DefaultEntityType:  "generic",
	}
}

func testSystem(t *testing.T) (*core.Context, *System) {
	t.Helper()
	ctx := core.TestContext("sys")
	system, err := NewSystem(ctx, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	return ctx, system
}

func ruleMap(t *testing.T, js string) core.Map {
	t.Helper()
	m, err := core.ParseMap(js)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestStoreRules(t *testing.T) {
	ctx, system := testSystem(t)

	stored, err := system.StoreRules(ctx, RuleGroup{
		EntityType:      "device",
		DefaultCategory: "version",
		Rules: []core.Map{
			ruleMap(t, `{"name":"R1","conditions":{"path":"$.x","operator":"exists","value":true}}`),
			ruleMap(t, `{"name":"R2","add_to_categories":["security"],
				"conditions":{"path":"$.y","operator":"equal","value":1}}`),
		},
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, stored)

	sr, err := system.Repo.Get(ctx, "device", "R1")
	assert.NoError(t, err)
	assert.Equal(t, []string{"version"}, sr.Categories.SortedArray())

	sr, err = system.Repo.Get(ctx, "device", "R2")
	assert.NoError(t, err)
	assert.Equal(t, []string{"security", "version"}, sr.Categories.SortedArray())
}

func TestStoreRulesPerRuleEntityType(t *testing.T) {
	ctx, system := testSystem(t)

	_, err := system.StoreRules(ctx, RuleGroup{
		Rules: []core.Map{
			ruleMap(t, `{"name":"R1","entity_type":"task",
				"conditions":{"path":"$.x","operator":"exists","value":true}}`),
			ruleMap(t, `{"name":"R2",
				"conditions":{"path":"$.x","operator":"exists","value":true}}`),
		},
	})
	assert.NoError(t, err)

	assert.True(t, system.Repo.Exists(ctx, "task", "R1"))
	// No entity type anywhere falls back to the configured default.
	assert.True(t, system.Repo.Exists(ctx, "generic", "R2"))
}

func TestStoreRulesAtomicity(t *testing.T) {
	ctx, system := testSystem(t)

	_, err := system.StoreRules(ctx, RuleGroup{
		EntityType: "device",
		Rules: []core.Map{
			ruleMap(t, `{"name":"Good","conditions":{"path":"$.x","operator":"exists","value":true}}`),
			ruleMap(t, `{"name":"Bad","conditions":{"all":[]}}`),
		},
	})
	assert.Error(t, err)

	// One bad rule fails the batch and nothing lands.
	assert.False(t, system.Repo.Exists(ctx, "device", "Good"))
	assert.Equal(t, 0, system.Repo.Count(ctx))
}

func TestStoreRulesLimits(t *testing.T) {
	ctx, system := testSystem(t)
	system.Config.MaxRulesPerRequest = 1

	_, err := system.StoreRules(ctx, RuleGroup{
		EntityType: "device",
		Rules: []core.Map{
			ruleMap(t, `{"name":"R1","conditions":{"path":"$.x","operator":"exists","value":true}}`),
			ruleMap(t, `{"name":"R2","conditions":{"path":"$.x","operator":"exists","value":true}}`),
		},
	})
	assert.Error(t, err)

	_, err = system.StoreRules(ctx, RuleGroup{EntityType: "device"})
	assert.Error(t, err)
}

func TestStoreRulesOrder(t *testing.T) {
	ctx, system := testSystem(t)

	// An intra-request duplicate name upserts left-to-right; the
	// later occurrence wins.
	_, err := system.StoreRules(ctx, RuleGroup{
		EntityType: "device",
		Rules: []core.Map{
			ruleMap(t, `{"name":"R","add_to_categories":["a"],
				"conditions":{"path":"$.x","operator":"equal","value":1}}`),
			ruleMap(t, `{"name":"R","add_to_categories":["b"],
				"conditions":{"path":"$.x","operator":"equal","value":2}}`),
		},
	})
	assert.NoError(t, err)

	sr, err := system.Repo.Get(ctx, "device", "R")
	assert.NoError(t, err)
	leaf, ok := sr.Rule.Conditions.(*core.LeafCondition)
	assert.True(t, ok)
	assert.Equal(t, float64(2), leaf.Expected)
	assert.Equal(t, []string{"a", "b"}, sr.Categories.SortedArray())
}

func TestUpdateCategories(t *testing.T) {
	ctx, system := testSystem(t)
	system.StoreRules(ctx, RuleGroup{
		EntityType: "device",
		Rules: []core.Map{
			ruleMap(t, `{"name":"R","add_to_categories":["a"],
				"conditions":{"path":"$.x","operator":"exists","value":true}}`),
		},
	})

	assert.NoError(t, system.UpdateCategories(ctx, "device", "R", []string{"b"}, "ADD"))
	assert.NoError(t, system.UpdateCategories(ctx, "device", "R", []string{"a"}, "Remove"))
	assert.Error(t, system.UpdateCategories(ctx, "device", "R", []string{"b"}, "frobnicate"))
	assert.Error(t, system.UpdateCategories(ctx, "device", "nope", []string{"b"}, "add"))

	sr, _ := system.Repo.Get(ctx, "device", "R")
	assert.Equal(t, []string{"b"}, sr.Categories.SortedArray())
}

func TestListRules(t *testing.T) {
	ctx, system := testSystem(t)
	system.StoreRules(ctx, RuleGroup{
		Rules: []core.Map{
			ruleMap(t, `{"name":"Zed","entity_type":"task","add_to_categories":["t"],
				"conditions":{"path":"$.x","operator":"exists","value":true}}`),
			ruleMap(t, `{"name":"Alpha","entity_type":"task","add_to_categories":["t"],
				"conditions":{"path":"$.x","operator":"exists","value":true}}`),
			ruleMap(t, `{"name":"Mid","entity_type":"device","add_to_categories":["d"],
				"conditions":{"path":"$.x","operator":"exists","value":true}}`),
		},
	})

	views, stats := system.ListRules(ctx, "", nil)
	assert.Len(t, views, 3)
	// Sorted by entity type, then name.
	assert.Equal(t, "Mid", views[0].RuleName)
	assert.Equal(t, "Alpha", views[1].RuleName)
	assert.Equal(t, "Zed", views[2].RuleName)

	assert.Equal(t, 2, stats["task"].TotalRules)
	assert.Equal(t, 2, stats["task"].RulesByCategory["t"])
	assert.Equal(t, 1, stats["device"].TotalRules)

	views, _ = system.ListRules(ctx, "task", []string{"t"})
	assert.Len(t, views, 2)
	views, _ = system.ListRules(ctx, "task", []string{"d"})
	assert.Len(t, views, 0)
}

func TestExportRules(t *testing.T) {
	ctx, system := testSystem(t)
	system.StoreRules(ctx, RuleGroup{
		EntityType:      "device",
		DefaultCategory: "v",
		Rules: []core.Map{
			ruleMap(t, `{"name":"R","conditions":{"path":"$.x","operator":"exists","value":true}}`),
		},
	})

	exported := system.ExportRules(ctx, "device", nil)
	assert.Len(t, exported, 1)
	assert.Equal(t, "R", exported[0]["name"])
	assert.Equal(t, "device", exported[0]["entity_type"])
	assert.Equal(t, []string{"v"}, exported[0]["add_to_categories"])

	// An export round-trips through StoreRules.
	_, system2 := testSystem(t)
	stored, err := system2.StoreRules(ctx, RuleGroup{Rules: exported})
	assert.NoError(t, err)
	assert.Equal(t, 1, stored)
	sr, err := system2.Repo.Get(ctx, "device", "R")
	assert.NoError(t, err)
	assert.Equal(t, []string{"v"}, sr.Categories.SortedArray())
}

func TestFailureDetails(t *testing.T) {
	ctx, system := testSystem(t)
	system.StoreRules(ctx, RuleGroup{
		Rules: []core.Map{
			ruleMap(t, `{"name":"R","entity_type":"device",
				"conditions":{"all":[
					{"path":"$.devices[*].vendor","operator":"equal","value":"Cisco"},
					{"path":"$.devices[*].osVersion","operator":"match","value":"^17\\."}]}}`),
			ruleMap(t, `{"name":"R","entity_type":"task",
				"conditions":{"path":"$.x","operator":"exists","value":true}}`),
		},
	})

	details := system.FailureDetails(ctx, "R", "device")
	assert.Len(t, details, 1)
	assert.Equal(t, 2, details[0].Analysis.LeafCount)
	assert.Equal(t, []string{"equal", "match"}, details[0].Analysis.Operators)

	// Without an entity type, every match reports.
	details = system.FailureDetails(ctx, "R", "")
	assert.Len(t, details, 2)

	details = system.FailureDetails(ctx, "nope", "")
	assert.Len(t, details, 0)
}
