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
	"io/ioutil"

	"github.com/rulecheck/rulecheck/core"
	"github.com/rulecheck/rulecheck/sys"
)

// LoadRulesFile seeds the repository from a JSON or YAML file holding
// the store-rules request shape: {entity_type?, default_category?,
// rules: [...]}.
//
// This is startup convenience, not persistence.  Nothing is written
// back, and without the file the repository starts empty.
func LoadRulesFile(ctx *core.Context, system *sys.System, path string) (int, error) {
	bs, err := ioutil.ReadFile(path)
	if err != nil {
		return 0, err
	}

	m := make(map[string]interface{})
	if err := Unmarshal(bs, &m); err != nil {
		return 0, core.NewSyntaxError("can't parse rules file %s: %v", path, err)
	}

	var group sys.RuleGroup
	if err := decode(m, &group); err != nil {
		return 0, err
	}

	stored, err := system.StoreRules(ctx, group)
	if err != nil {
		return 0, err
	}
	core.Log(core.INFO|core.SERVICE, ctx, "service.LoadRulesFile", "path", path, "stored", stored)
	return stored, nil
}
