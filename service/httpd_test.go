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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rulecheck/rulecheck/core"
	"github.com/rulecheck/rulecheck/sys"
)

func testService(t *testing.T) (*core.Context, *Service) {
	t.Helper()
	ctx := core.TestContext("httpd")
	conf := &sys.Config{
		Port:               "8080",
		APIPrefix:          "/api/v1",
		AllowedOrigins:     []string{"*"},
		MaxRulesPerRequest: 100,
		DefaultEntityType:  "generic",
	}
	system, err := sys.NewSystem(ctx, conf)
	if err != nil {
		t.Fatal(err)
	}
	return ctx, NewService(system)
}

func call(t *testing.T, ctx *core.Context, s *Service, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	s.Route(ctx, w, r)

	m := make(map[string]interface{})
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
			t.Fatalf("bad response body %q: %v", w.Body.String(), err)
		}
	}
	return w, m
}

func TestHealth(t *testing.T) {
	ctx, s := testService(t)
	w, m := call(t, ctx, s, "GET", "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", m["status"])
	assert.Equal(t, sys.Version, m["version"])
}

func TestRouteMisses(t *testing.T) {
	ctx, s := testService(t)

	w, _ := call(t, ctx, s, "GET", "/api/v1/nothing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = call(t, ctx, s, "GET", "/elsewhere/health", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = call(t, ctx, s, "POST", "/api/v1/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestValidateEndpoint(t *testing.T) {
	ctx, s := testService(t)

	w, m := call(t, ctx, s, "POST", "/api/v1/rules/validate",
		`{"name":"R1","conditions":{"path":"$.x","operator":"equal","value":1}}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, m["valid"])
	_, have := m["errors"]
	assert.False(t, have)

	// Invalid rules still get a 200; the errors are the payload.
	w, m = call(t, ctx, s, "POST", "/api/v1/rules/validate",
		`{"name":"","conditions":{"all":[]}}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, m["valid"])
	assert.NotEmpty(t, m["errors"])
}

const storeBody = `{"entity_type":"device","default_category":"version","rules":[
	{"name":"OSVersion","description":"Cisco must run 17.x",
	 "conditions":{"any":[
		{"path":"$.devices[*].vendor","operator":"not_equal","value":"Cisco"},
		{"all":[
			{"path":"$.devices[*].vendor","operator":"equal","value":"Cisco"},
			{"path":"$.devices[*].osVersion","operator":"match","value":"^17\\."}]}]}}]}`

func TestStoreAndListRules(t *testing.T) {
	ctx, s := testService(t)

	w, m := call(t, ctx, s, "POST", "/api/v1/rules", storeBody)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, m["success"])
	assert.Equal(t, float64(1), m["stored_rules"])

	w, m = call(t, ctx, s, "GET", "/api/v1/rules?entity_type=device", "")
	assert.Equal(t, http.StatusOK, w.Code)
	rules := m["rules"].([]interface{})
	assert.Len(t, rules, 1)
	rule := rules[0].(map[string]interface{})
	assert.Equal(t, "OSVersion", rule["rule_name"])
	assert.Equal(t, []interface{}{"version"}, rule["categories_associated_with"])

	stats := m["stats"].(map[string]interface{})
	device := stats["device"].(map[string]interface{})
	assert.Equal(t, float64(1), device["total_rules"])
}

func TestUpsertMergesCategories(t *testing.T) {
	ctx, s := testService(t)

	body := `{"entity_type":"E","rules":[{"name":"X","add_to_categories":["a","b"],
		"conditions":{"path":"$.x","operator":"exists","value":true}}]}`
	w, _ := call(t, ctx, s, "POST", "/api/v1/rules", body)
	assert.Equal(t, http.StatusOK, w.Code)

	body = `{"entity_type":"E","rules":[{"name":"X","add_to_categories":["b","c"],
		"conditions":{"path":"$.x","operator":"exists","value":true}}]}`
	w, _ = call(t, ctx, s, "POST", "/api/v1/rules", body)
	assert.Equal(t, http.StatusOK, w.Code)

	w, m := call(t, ctx, s, "GET", "/api/v1/rules?entity_type=E", "")
	assert.Equal(t, http.StatusOK, w.Code)
	rules := m["rules"].([]interface{})
	assert.Len(t, rules, 1)
	rule := rules[0].(map[string]interface{})
	assert.Equal(t, []interface{}{"a", "b", "c"}, rule["categories_associated_with"])
}

func TestStoreRulesRejectsBadBatch(t *testing.T) {
	ctx, s := testService(t)

	w, m := call(t, ctx, s, "POST", "/api/v1/rules",
		`{"entity_type":"E","rules":[{"name":"","conditions":{"all":[]}}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, m["success"])

	w, _ = call(t, ctx, s, "POST", "/api/v1/rules", `{"entity_type":"E","rules":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = call(t, ctx, s, "POST", "/api/v1/rules", `this is not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStoreRulesYAMLBody(t *testing.T) {
	ctx, s := testService(t)

	yaml := `entity_type: device
default_category: version
rules:
  - name: MgmtIP
    conditions:
      path: "$.devices[*].mgmtIP"
      operator: exists
      value: true
`
	w, m := call(t, ctx, s, "POST", "/api/v1/rules", yaml)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, m["success"])

	w, m = call(t, ctx, s, "GET", "/api/v1/rules?entity_type=device", "")
	rules := m["rules"].([]interface{})
	assert.Len(t, rules, 1)
	assert.Equal(t, "MgmtIP", rules[0].(map[string]interface{})["rule_name"])
}

func TestRuleCategoriesEndpoint(t *testing.T) {
	ctx, s := testService(t)
	call(t, ctx, s, "POST", "/api/v1/rules",
		`{"entity_type":"E","rules":[{"name":"X","add_to_categories":["a"],
			"conditions":{"path":"$.x","operator":"exists","value":true}}]}`)

	w, m := call(t, ctx, s, "POST", "/api/v1/rules/categories",
		`{"rule_name":"X","entity_type":"E","categories":["b"],"category_action":"Add"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, m["success"])

	w, _ = call(t, ctx, s, "POST", "/api/v1/rules/categories",
		`{"rule_name":"X","entity_type":"E","categories":["a","b"],"category_action":"remove"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	// Unknown action
	w, _ = call(t, ctx, s, "POST", "/api/v1/rules/categories",
		`{"rule_name":"X","entity_type":"E","categories":["a"],"category_action":"frobnicate"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Missing rule
	w, _ = call(t, ctx, s, "POST", "/api/v1/rules/categories",
		`{"rule_name":"nope","entity_type":"E","categories":["a"],"category_action":"add"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// A rule may end up with zero categories.
	w, m = call(t, ctx, s, "GET", "/api/v1/rules?entity_type=E", "")
	rules := m["rules"].([]interface{})
	assert.Len(t, rules, 1)
	assert.Equal(t, []interface{}{}, rules[0].(map[string]interface{})["categories_associated_with"])
}

func TestEvaluateEndpoint(t *testing.T) {
	ctx, s := testService(t)
	call(t, ctx, s, "POST", "/api/v1/rules", storeBody)

	w, m := call(t, ctx, s, "POST", "/api/v1/evaluate",
		`{"entity_type":"device","categories":["version"],
		  "data":{"devices":[{"vendor":"Cisco","osVersion":"17.3.6"}]}}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), m["total_rules"])
	assert.Equal(t, float64(1), m["passed_rules"])

	w, m = call(t, ctx, s, "POST", "/api/v1/evaluate",
		`{"entity_type":"device","categories":["version"],
		  "data":{"devices":[{"vendor":"Cisco","osVersion":"16.9.5"}]}}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), m["failed_rules"])
	results := m["results"].([]interface{})
	result := results[0].(map[string]interface{})
	assert.Equal(t, false, result["success"])
	assert.NotEmpty(t, result["failing_elements"])
}

func TestEvaluateFilterErrors(t *testing.T) {
	ctx, s := testService(t)

	// Both filters.
	w, _ := call(t, ctx, s, "POST", "/api/v1/evaluate",
		`{"entity_type":"E","categories":["x"],"rule_names":["R"],"data":{}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Neither filter.
	w, _ = call(t, ctx, s, "POST", "/api/v1/evaluate",
		`{"entity_type":"E","data":{}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Missing entity type.
	w, _ = call(t, ctx, s, "POST", "/api/v1/evaluate",
		`{"categories":["x"],"data":{}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvaluateByDataEndpoint(t *testing.T) {
	ctx, s := testService(t)
	call(t, ctx, s, "POST", "/api/v1/rules",
		`{"entity_type":"item","rules":[
			{"name":"R1","add_to_categories":["c"],
			 "conditions":{"path":"$.items[*].value","operator":"equal","value":10}}]}`)

	w, m := call(t, ctx, s, "POST", "/api/v1/evaluate/by-data",
		`{"entity_type":"item","categories":["c"],
		  "data":{"items":[{"id":"a","value":10},{"id":"b","value":15}]}}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), m["total_data_objects"])

	results := m["results"].([]interface{})
	assert.Len(t, results, 2)

	b := results[1].(map[string]interface{})
	failed := b["rules_failed"].([]interface{})
	assert.Len(t, failed, 1)
	assert.Equal(t, "R1", failed[0].(map[string]interface{})["rule_name"])
}

func TestEvaluateWithRulesEndpoint(t *testing.T) {
	ctx, s := testService(t)

	w, m := call(t, ctx, s, "POST", "/api/v1/evaluate/with-rules",
		`{"entity_type":"device",
		  "rules":[{"name":"MgmtIP","conditions":{"path":"$.devices[*].mgmtIP","operator":"exists","value":true}}],
		  "data":{"devices":[{"vendor":"Cisco","mgmtIP":"192.168.1.1"}]}}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), m["passed_rules"])

	// Nothing landed in the shared repository.
	w, m = call(t, ctx, s, "GET", "/api/v1/rules", "")
	assert.Len(t, m["rules"].([]interface{}), 0)

	// A rule whose conditions won't build evaluates to a failed
	// result; the response is still a 200.
	w, m = call(t, ctx, s, "POST", "/api/v1/evaluate/with-rules",
		`{"entity_type":"device",
		  "rules":[{"name":"Busted","conditions":{"bogus":1}}],
		  "data":{"devices":[{"vendor":"Cisco"}]}}`)
	assert.Equal(t, http.StatusOK, w.Code)
	results := m["results"].([]interface{})
	result := results[0].(map[string]interface{})
	assert.Equal(t, false, result["success"])

	// No name is a request error.
	w, _ = call(t, ctx, s, "POST", "/api/v1/evaluate/with-rules",
		`{"entity_type":"device","rules":[{"conditions":{"path":"$.x","operator":"exists"}}],"data":{}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvaluationStatsEndpoint(t *testing.T) {
	ctx, s := testService(t)
	call(t, ctx, s, "POST", "/api/v1/rules", storeBody)

	w, m := call(t, ctx, s, "GET", "/api/v1/evaluate/stats", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), m["total_rules"])
	assert.Equal(t, []interface{}{"device"}, m["entity_types"])
	assert.NotEmpty(t, m["supported_operators"])
	assert.Equal(t, float64(100), m["max_rules_per_request"])
}

func TestFailureDetailsEndpoint(t *testing.T) {
	ctx, s := testService(t)
	call(t, ctx, s, "POST", "/api/v1/rules", storeBody)

	w, m := call(t, ctx, s, "GET", "/api/v1/evaluate/failure-details/OSVersion?entity_type=device", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, m["found"])
	details := m["details"].([]interface{})
	assert.Len(t, details, 1)
	analysis := details[0].(map[string]interface{})["analysis"].(map[string]interface{})
	assert.Equal(t, float64(3), analysis["leaf_count"])

	w, m = call(t, ctx, s, "GET", "/api/v1/evaluate/failure-details/nope", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, m["found"])
}

func TestExportEndpoint(t *testing.T) {
	ctx, s := testService(t)
	call(t, ctx, s, "POST", "/api/v1/rules", storeBody)

	w, m := call(t, ctx, s, "GET", "/api/v1/rules/export?entity_type=device", "")
	assert.Equal(t, http.StatusOK, w.Code)
	rules := m["rules"].([]interface{})
	assert.Len(t, rules, 1)
	rule := rules[0].(map[string]interface{})
	assert.Equal(t, "OSVersion", rule["name"])
	assert.Equal(t, "device", rule["entity_type"])
}

func TestCORS(t *testing.T) {
	ctx, s := testService(t)
	hs, err := NewHTTPService(ctx, s)
	if err != nil {
		t.Fatal(err)
	}

	// Preflight gets answered without touching a handler.
	r := httptest.NewRequest("OPTIONS", "/api/v1/rules", nil)
	r.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	hs.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://example.com", w.Header().Get("Access-Control-Allow-Origin"))

	// A plain request still gets the allow header.
	r = httptest.NewRequest("GET", "/api/v1/health", nil)
	r.Header.Set("Origin", "http://example.com")
	w = httptest.NewRecorder()
	hs.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://example.com", w.Header().Get("Access-Control-Allow-Origin"))

	// A disallowed origin gets no header.
	s.Sys.Config.AllowedOrigins = []string{"http://only.example.com"}
	r = httptest.NewRequest("GET", "/api/v1/health", nil)
	r.Header.Set("Origin", "http://example.com")
	w = httptest.NewRecorder()
	hs.ServeHTTP(w, r)
	assert.Equal(t, "", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	ctx, s := testService(t)
	hs, err := NewHTTPService(ctx, s)
	if err != nil {
		t.Fatal(err)
	}

	// Drive a request so the counters have samples to expose.
	r := httptest.NewRequest("GET", "/api/v1/health", nil)
	hs.ServeHTTP(httptest.NewRecorder(), r)

	r = httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	hs.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rules_service_http_requests_total")
}

func TestPrettyResponses(t *testing.T) {
	ctx, s := testService(t)

	r := httptest.NewRequest("GET", "/api/v1/health?pretty=true", nil)
	w := httptest.NewRecorder()
	s.Route(ctx, w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "\n")

	r = httptest.NewRequest("GET", "/api/v1/health", nil)
	w = httptest.NewRecorder()
	s.Route(ctx, w, r)
	assert.NotContains(t, strings.TrimSpace(w.Body.String()), "\n")
}
