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

// Context carries per-request logging state through the core.
//
// A Context is not a Go context.Context.  It exists so that log
// records emitted deep in the engine can carry request-scoped
// properties (and land in a request-scoped accumulator) without the
// engine knowing anything about the transport.
type Context struct {
	sync.RWMutex

	// Name identifies the context (e.g. "main", a request id).
	Name string

	// Verbosity controls what's logged for work under this context.
	Verbosity LogLevel

	// LogAccumulator, if non-nil, receives log records.
	LogAccumulator *Accumulator

	// LogAccumulatorLevel controls what lands in the accumulator.
	LogAccumulatorLevel LogLevel

	logProps map[string]interface{}
}

// NewContext makes a Context with the given name and EVERYTHING
// verbosity.
func NewContext(name string) *Context {
	return &Context{
		Name:      name,
		Verbosity: EVERYTHING,
		logProps:  make(map[string]interface{}),
	}
}

// SubContext makes a child context that inherits verbosity and log
// properties.
//
// The child gets its own props map, so request handlers can add
// properties without racing each other.
func (ctx *Context) SubContext() *Context {
	if ctx == nil {
		return NewContext("sub")
	}
	ctx.RLock()
	sub := &Context{
		Name:                ctx.Name,
		Verbosity:           ctx.Verbosity,
		LogAccumulatorLevel: ctx.LogAccumulatorLevel,
		logProps:            make(map[string]interface{}, len(ctx.logProps)),
	}
	for p, v := range ctx.logProps {
		sub.logProps[p] = v
	}
	ctx.RUnlock()
	return sub
}

// SetLogValue adds a property that will be appended to every log
// record emitted under this context.
func (ctx *Context) SetLogValue(p string, v interface{}) {
	ctx.Lock()
	ctx.logProps[p] = v
	ctx.Unlock()
}

// TestContext makes a quiet context for tests.
func TestContext(name string) *Context {
	ctx := NewContext(name)
	ctx.Verbosity = NOTHING
	return ctx
}
