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

// A request over any transport gets bound into a typed request
// struct by way of a generic 'map[string]interface{}', so JSON and
// YAML bodies share one binding path.

package service

import (
	"net/http"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/rulecheck/rulecheck/core"
	"github.com/rulecheck/rulecheck/sys"
)

const APIVersion = sys.Version

// Service binds the HTTP surface to a System.
type Service struct {
	Sys *sys.System

	// Stopper is a function we call when we want to shut
	// ourselves down.
	//
	// Typically this function is defined by the HTTP server to
	// provide a hook to shut down that server.
	Stopper func(*core.Context, time.Duration) error
}

func NewService(system *sys.System) *Service {
	return &Service{Sys: system}
}

// Route dispatches one request.  Returns the normalized path label
// used for metrics.
func (s *Service) Route(ctx *core.Context, w http.ResponseWriter, r *http.Request) string {

	path, under := trimPrefix(s.Sys.Config.APIPrefix, r.URL.Path)
	if !under {
		respondStatus(ctx, w, r, http.StatusNotFound, errorBody{false, "not found: " + r.URL.Path})
		return "unknown"
	}

	core.Log(core.INFO|core.SERVICE, ctx, "service.Route", "method", r.Method, "path", path)

	type route struct {
		method  string
		handler func(*core.Context, http.ResponseWriter, *http.Request)
	}

	routes := map[string]route{
		"/health":              {"GET", s.handleHealth},
		"/rules/validate":      {"POST", s.handleValidateRule},
		"/rules/export":        {"GET", s.handleExportRules},
		"/rules/categories":    {"POST", s.handleRuleCategories},
		"/evaluate":            {"POST", s.handleEvaluate},
		"/evaluate/by-data":    {"POST", s.handleEvaluateByData},
		"/evaluate/with-rules": {"POST", s.handleEvaluateWithRules},
		"/evaluate/stats":      {"GET", s.handleEvaluationStats},
	}

	if rt, have := routes[path]; have {
		if r.Method != rt.method {
			respondStatus(ctx, w, r, http.StatusMethodNotAllowed,
				errorBody{false, "method " + r.Method + " not allowed for " + path})
			return path
		}
		rt.handler(ctx, w, r)
		return path
	}

	switch {
	case path == "/rules" && r.Method == "POST":
		s.handleStoreRules(ctx, w, r)
		return path
	case path == "/rules" && r.Method == "GET":
		s.handleListRules(ctx, w, r)
		return path
	case strings.HasPrefix(path, "/evaluate/failure-details/") && r.Method == "GET":
		ruleName := strings.TrimPrefix(path, "/evaluate/failure-details/")
		s.handleFailureDetails(ctx, w, r, ruleName)
		return "/evaluate/failure-details"
	}

	respondStatus(ctx, w, r, http.StatusNotFound, errorBody{false, "not found: " + path})
	return "unknown"
}

// decode binds a generic body map to a typed request struct.
func decode(m map[string]interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  out,
		TagName: "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(m); err != nil {
		return core.NewSyntaxError("bad request shape: %v", err)
	}
	return nil
}
