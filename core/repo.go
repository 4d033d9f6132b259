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
	"sync"
)

// RuleRepo is the in-memory indexed store of rules.
//
// Rules are keyed by (entity_type, name).  The repo is the sole piece
// of shared mutable state in the process, so every operation takes
// the lock and works on or returns consistent snapshots.  Readers get
// copies (shared immutable Rule, copied category set); mutating a
// returned StoredRule does not touch the store.
type RuleRepo struct {
	sync.RWMutex
	rules map[string]*StoredRule
	order []string
}

// NewRuleRepo makes an empty repository.
//
// The repository begins empty on every start; there is no
// persistence.
func NewRuleRepo(ctx *Context) *RuleRepo {
	Log(INFO|REPO, ctx, "RuleRepo.New")
	return &RuleRepo{
		rules: make(map[string]*StoredRule),
		order: make([]string, 0, 32),
	}
}

// Add upserts a rule.
//
// If a rule already exists at (entity_type, name), its definition is
// replaced and its category set is unioned with the given categories;
// the overwrite is logged.  Otherwise a new StoredRule is created
// with exactly the given categories.  Returns whether an existing
// rule was replaced.
func (repo *RuleRepo) Add(ctx *Context, rule *Rule, categories []string) bool {
	key := rule.Key()
	repo.Lock()
	existing, have := repo.rules[key]
	if have {
		Log(INFO|REPO, ctx, "RuleRepo.Add", "ruleName", rule.Name,
			"entityType", rule.EntityType, "overwriting", true,
			"previousCategories", existing.Categories.SortedArray())
		existing.Rule = rule
		existing.Categories.AddStrings(categories...)
	} else {
		Log(INFO|REPO, ctx, "RuleRepo.Add", "ruleName", rule.Name,
			"entityType", rule.EntityType, "overwriting", false)
		repo.rules[key] = &StoredRule{
			Rule:       rule,
			Categories: NewStringSet(categories),
		}
		repo.order = append(repo.order, key)
	}
	repo.Unlock()
	return have
}

// Exists reports whether a rule is stored at (entity_type, name).
func (repo *RuleRepo) Exists(ctx *Context, entityType, name string) bool {
	repo.RLock()
	_, have := repo.rules[entityType+"|"+name]
	repo.RUnlock()
	return have
}

// Get returns the rule stored at (entity_type, name).
func (repo *RuleRepo) Get(ctx *Context, entityType, name string) (*StoredRule, error) {
	repo.RLock()
	sr, have := repo.rules[entityType+"|"+name]
	var out *StoredRule
	if have {
		out = sr.copyOut()
	}
	repo.RUnlock()
	if !have {
		Log(WARN|REPO, ctx, "RuleRepo.Get", "ruleName", name, "entityType", entityType, "found", false)
		return nil, NewNotFoundError("rule '%s' for entity type '%s'", name, entityType)
	}
	return out, nil
}

// GetMany returns stored rules filtered by entity type and/or
// categories.
//
// The four-way filter: both zero -> everything; entity type only ->
// that entity type's rules; categories only -> rules whose category
// set intersects; both -> the conjunction.  Results come back in
// insertion order.
func (repo *RuleRepo) GetMany(ctx *Context, entityType string, categories []string) []*StoredRule {
	var want StringSet
	if categories != nil {
		want = NewStringSet(categories)
	}

	repo.RLock()
	acc := make([]*StoredRule, 0, len(repo.order))
	for _, key := range repo.order {
		sr := repo.rules[key]
		if entityType != "" && sr.Rule.EntityType != entityType {
			continue
		}
		if want != nil && !sr.Categories.Intersects(want) {
			continue
		}
		acc = append(acc, sr.copyOut())
	}
	repo.RUnlock()

	Log(DEBUG|REPO, ctx, "RuleRepo.GetMany", "entityType", entityType,
		"categories", categories, "found", len(acc))
	return acc
}

// AddCategories unions the given categories into the rule's set.
//
// Idempotent.  An absent rule is an error and nothing changes.
func (repo *RuleRepo) AddCategories(ctx *Context, entityType, name string, categories []string) error {
	repo.Lock()
	sr, have := repo.rules[entityType+"|"+name]
	if have {
		sr.Categories.AddStrings(categories...)
	}
	repo.Unlock()
	if !have {
		return NewNotFoundError("rule '%s' for entity type '%s'", name, entityType)
	}
	Log(INFO|REPO, ctx, "RuleRepo.AddCategories", "ruleName", name,
		"entityType", entityType, "categories", categories)
	return nil
}

// RemoveCategories removes the given categories from the rule's set.
//
// Removing an absent category is a no-op, and removing every category
// is permitted: the rule stays stored with an empty set.  An absent
// rule is an error and nothing changes.
func (repo *RuleRepo) RemoveCategories(ctx *Context, entityType, name string, categories []string) error {
	repo.Lock()
	sr, have := repo.rules[entityType+"|"+name]
	if have {
		for _, c := range categories {
			sr.Categories.Rem(c)
		}
	}
	repo.Unlock()
	if !have {
		return NewNotFoundError("rule '%s' for entity type '%s'", name, entityType)
	}
	Log(INFO|REPO, ctx, "RuleRepo.RemoveCategories", "ruleName", name,
		"entityType", entityType, "categories", categories)
	return nil
}

// EntityTypes returns the sorted list of entity types that have
// stored rules.
func (repo *RuleRepo) EntityTypes(ctx *Context) []string {
	acc := EmptyStringSet()
	repo.RLock()
	for _, sr := range repo.rules {
		acc.Add(sr.Rule.EntityType)
	}
	repo.RUnlock()
	return acc.SortedArray()
}

// Categories returns the sorted list of categories in use by the
// given entity type's rules.
func (repo *RuleRepo) Categories(ctx *Context, entityType string) []string {
	acc := EmptyStringSet()
	repo.RLock()
	for _, sr := range repo.rules {
		if sr.Rule.EntityType != entityType {
			continue
		}
		acc.AddAll(sr.Categories)
	}
	repo.RUnlock()
	return acc.SortedArray()
}

// Count returns the number of stored rules.
func (repo *RuleRepo) Count(ctx *Context) int {
	repo.RLock()
	n := len(repo.rules)
	repo.RUnlock()
	return n
}
