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

package main

import (
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/rulecheck/rulecheck/core"
	"github.com/rulecheck/rulecheck/service"
	"github.com/rulecheck/rulecheck/sys"
)

// Configuration comes from the environment (see sys.Config); flags
// override.  Flag defaults are sentinels so an unset flag leaves the
// environment's value alone.

var engineFlags = flag.NewFlagSet("engine", flag.ExitOnError)
var port = engineFlags.String("port", "", "port the service will listen on")
var apiPrefix = engineFlags.String("prefix", "", "API path prefix")
var verbosity = engineFlags.String("verbosity", "", "logging verbosity (e.g. ANYINFO, ANYWARN, EVERYTHING)")
var rulesFile = engineFlags.String("rules-file", "", "JSON or YAML file of rules to load at startup")
var maxRules = engineFlags.Int("max-rules", 0, "max rules per request; 0 means keep the environment's value")
var maxPending = engineFlags.Int("max-pending", -1, "max pending requests; 0 means no max")
var httpProfilePort = engineFlags.String("httpprofileport", "none", "Run an HTTP server that serves profile data; 'none' to turn off")

func main() {

	engineFlags.Parse(os.Args[1:])

	conf, err := sys.ConfigFromEnv()
	if err != nil {
		panic(err)
	}
	if *port != "" {
		conf.Port = *port
	}
	if *apiPrefix != "" {
		conf.APIPrefix = *apiPrefix
	}
	if *verbosity != "" {
		conf.Verbosity = *verbosity
	}
	if *rulesFile != "" {
		conf.RulesFile = *rulesFile
	}
	if 0 < *maxRules {
		conf.MaxRulesPerRequest = *maxRules
	}
	if 0 <= *maxPending {
		conf.MaxPending = *maxPending
	}

	verb, err := core.ParseVerbosity(conf.Verbosity)
	if err != nil {
		panic(err)
	}

	ctx := core.NewContext("main")
	ctx.Verbosity = verb
	ctx.SetLogValue("app.id", "rulesvc")

	if *httpProfilePort != "" && *httpProfilePort != "none" {
		go func() {
			if err := http.ListenAndServe(*httpProfilePort, nil); err != nil {
				panic(err)
			}
		}()
	}

	system, err := sys.NewSystem(ctx, conf)
	if err != nil {
		panic(err)
	}

	engine := service.NewService(system)

	if conf.RulesFile != "" {
		n, err := service.LoadRulesFile(ctx, system, conf.RulesFile)
		if err != nil {
			panic(err)
		}
		core.Log(core.INFO, ctx, "main", "seededRules", n, "rulesFile", conf.RulesFile)
	}

	serv, err := service.NewHTTPService(ctx, engine)
	if err != nil {
		panic(err)
	}
	serv.SetMaxPending(int32(conf.MaxPending))

	addr := conf.Port
	if addr != "" && addr[0] != ':' {
		addr = ":" + addr
	}

	if err := serv.Start(ctx, addr); err != nil {
		fmt.Fprintf(os.Stderr, "rulesvc: %v\n", err)
		os.Exit(1)
	}
}
