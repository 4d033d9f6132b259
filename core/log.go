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

// Common log record properties:
//
// "error": error in system (not due to user input).
//
// "uerr": error due to user input.
//
// "when": string indicating where in some operation we are.
//
// "entityType": string naming an entity type.
//
// "ruleName": string naming a rule.
//
// "rm": map representation of a rule.

import (
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/robertkrimen/otto"
)

const (
	// The log record property given to the first string arg to
	// Log().
	LogKeyOp = "op"
)

// Logger is a simple interface to a mostly generic logging functionality.
type Logger interface {
	Log(level LogLevel, args ...interface{})
	Metric(name string, args ...interface{})
}

var DefaultLogger Logger = NewSimpleLogger(os.Stdout)

var BenchLogger Logger = NewSimpleLogger(ioutil.Discard)

func init() {
	log.SetFlags(log.Lmicroseconds | log.Ldate | log.Lshortfile)
}

// LogLevel is really a bit field.
//
// A "level" encodes three dimensions: severity, origin, and
// component.  Severity bits live in SEVMASK, origin bits in ORIMASK,
// and component bits in COMPMASK.
type LogLevel uint64

const (
	// SEVMASK is the list of severity bits.
	SEVMASK LogLevel = 0xff

	// ORIMASK is the list of origin bits.  An "origin" could be
	// user data, an external system, core code itself, etc.
	ORIMASK LogLevel = 0xff00

	// COMPMASK is the list of component bits.
	COMPMASK LogLevel = 0xffff0000
)

const (
	// Be careful when modifying this stuff.  We assign each bit
	// in order.

	CRIT LogLevel = 1 << iota
	ERROR
	WARN
	POINT
	INFO
	DEBUG
	ABSURD

	_

	// The origin bits indicate the source of the log message.

	// SYS origin means the core itself.
	SYS
	// USR origin means the log message was caused by user data.
	USR
	// APP origin means the log message was caused by an
	// "application", which typically means an external service.
	APP
	// METRIC is a "metric"
	METRIC

	// Unused bits to round out the origin byte.
	_
	_
	_
	_

	// Components.  We mask 0xffff0000, which gives us 16 bits.

	// MISC is the catch-all component.
	MISC
	// RULES is for the rule data model and validation.
	RULES
	// REPO is for the in-memory rule repository.
	REPO
	// EVAL is for condition and rule evaluation.
	EVAL
	// SERVICE is for the outer HTTP layer.
	SERVICE
)

// getCoreLogLevel returns a string for the severity of the given "level".
func getCoreLogLevel(level LogLevel) string {
	switch level & SEVMASK {
	case CRIT:
		return "crit"
	case ERROR:
		return "error"
	case WARN:
		return "warn"
	case POINT:
		return "point"
	case INFO:
		return "info"
	case DEBUG:
		return "debug"
	case ABSURD:
		return "absurd"
	default:
		return "unknown"
	}
}

// getLogOrigin returns a string for the origin of the given "level".
func getLogOrigin(level LogLevel) string {
	switch level & ORIMASK {
	case APP:
		return "app"
	case SYS:
		return "sys"
	case USR:
		return "usr"
	default:
		return "unknown"
	}
}

// getLogComponent returns a string for the component of the given "level".
func getLogComponent(level LogLevel) string {
	switch level & COMPMASK {
	case MISC:
		return "misc"
	case RULES:
		return "rules"
	case REPO:
		return "repo"
	case EVAL:
		return "eval"
	case SERVICE:
		return "service"
	default:
		return "unknown"
	}
}

const (
	// ANYSEV means any severities.
	ANYSEV = SEVMASK

	// ANYORI means any "origin".
	ANYORI = ORIMASK

	// ANYCOMP means any component.
	ANYCOMP = COMPMASK

	// NOTHING is a mask that should result in no logs.
	NOTHING LogLevel = 0x0
	// EVERYTHING is a mask that should result in logging everything.
	EVERYTHING LogLevel = ^NOTHING

	// UERR is a user "error".
	UERR = ERROR | USR
	// APERR is an application "error".
	APERR = ERROR | APP

	// ANYINFO logs anything at or above the INFO level.
	ANYINFO = CRIT | ERROR | WARN | INFO | ANYORI | ANYCOMP

	// ANYWARN logs anything at or above the WARN level.
	ANYWARN = CRIT | ERROR | WARN | ANYORI | ANYCOMP
)

// ParseVerbosity parses and evals a log mask.
//
// This function is a little crazy.  It uses Javascript to parse and
// eval the given string.  The various log constants are in the
// Javascript environment.  For example, the string "ERROR|APP" would
// parse/eval 'ERROR|APP'.  Since we're using Javascript, you can use
// Javascript numerics, too.  Example: "0xffffffff".
//
// The empty string is interpreted as 'ANYINFO'.  Use 'NOTHING' to
// get that.
func ParseVerbosity(s string) (LogLevel, error) {

	if s == "" {
		s = "ANYINFO"
	}

	js := otto.New()

	js.Set("CRIT", CRIT)
	js.Set("ERROR", ERROR)
	js.Set("WARN", WARN)
	js.Set("POINT", POINT)
	js.Set("INFO", INFO)
	js.Set("DEBUG", DEBUG)
	js.Set("ABSURD", ABSURD)
	js.Set("SYS", SYS)
	js.Set("USR", USR)
	js.Set("APP", APP)
	js.Set("METRIC", METRIC)
	js.Set("MISC", MISC)
	js.Set("RULES", RULES)
	js.Set("REPO", REPO)
	js.Set("EVAL", EVAL)
	js.Set("SERVICE", SERVICE)
	js.Set("NOTHING", NOTHING)
	js.Set("EVERYTHING", EVERYTHING)
	js.Set("UERR", UERR)
	js.Set("APERR", APERR)
	js.Set("ANYSEV", ANYSEV)
	js.Set("ANYORI", ANYORI)
	js.Set("ANYCOMP", ANYCOMP)
	js.Set("ANYINFO", ANYINFO)
	js.Set("ANYWARN", ANYWARN)

	v, err := js.Run(s)
	if err != nil {
		return NOTHING, err
	}
	level, err := v.Export()
	if err != nil {
		return NOTHING, err
	}
	switch n := level.(type) {
	case float64:
		return LogLevel(n), nil
	case int32:
		return LogLevel(n), nil
	case int64:
		return LogLevel(n), nil
	case uint64:
		return LogLevel(n), nil
	default:
		return NOTHING, fmt.Errorf("can't handle %T (%v)", level, level)
	}
}

// defaultLogFields makes sure we have at least one bit set for each
// of SEVMASK, ORIMASK, and COMPMASK.
//
// Any 'Log()' call will at least show up as 'DEBUG' (severity), 'SYS'
// (origin), 'MISC' (component) if not otherwise specified.
func defaultLogFields(n LogLevel) LogLevel {
	if 0 == SEVMASK&n {
		n = n | DEBUG
	}
	if 0 == ORIMASK&n {
		n = n | SYS
	}
	if 0 == COMPMASK&n {
		n = n | MISC
	}
	return n
}

// getVerbosity attempts to find the current LogLevel.
//
// By default, it's 'EVERYTHING'.  'ctx.Verbosity' overrides that
// default.
func getVerbosity(ctx *Context) LogLevel {
	verbosity := EVERYTHING
	if ctx != nil {
		verbosity = ctx.Verbosity
	}
	return verbosity
}

// loggable determines if we should emit a log record at the given level.
//
// A message is loggable if each of SEVMASK, ORIMASK, and COMPMASK
// masks are non-zero.  In other words, a severity, origin, and
// component all have to match something.
func loggable(ctx *Context, level LogLevel) bool {
	return loggableFor(level, getVerbosity(ctx))
}

func loggableFor(level LogLevel, given LogLevel) bool {
	vl := given & level
	return 0 < SEVMASK&vl && 0 < ORIMASK&vl && 0 < COMPMASK&vl
}

// LogRecordKeyLimit is the maximum key length in a log record.
var LogRecordKeyLimit = 1024

// MakeLogRecord is used by Log() to turn key/value args into a map.
func MakeLogRecord(args []interface{}) map[string]interface{} {
	rec := make(map[string]interface{})
	n := len(args)
	for i := 0; i < n; i += 2 {
		var key string
		var val interface{}
		if i+1 < n {
			val = args[i+1]
		}
		switch s := args[i].(type) {
		case string:
			key = s
		default:
			key = fmt.Sprintf("%s", args[i])
		}
		if LogRecordKeyLimit < len(key) {
			key = key[0:LogRecordKeyLimit] + "..."
		}
		rec[key] = val
	}

	return rec
}

// LogCallerLine adds the line number of the callers to log records.
var LogCallerLine = false

// getCallerLine looks up the filename:linenum in the call stack.
func getCallerLine(n int) string {
	_, file, line, _ := runtime.Caller(n)
	if i := strings.LastIndex(file, "/"); 0 <= i {
		file = file[i+1:]
	}
	return file + ":" + strconv.Itoa(line)
}

// addCallerLine, if LogCallerLine is true, adds a filename:linenum
// property to the given args.
func addCallerLine(args []interface{}) []interface{} {
	if LogCallerLine {
		return append(args, "_at", getCallerLine(3))
	}
	return args
}

// Log is the top-level API for logging everything.
//
// 'Args' should have an odd number of args.  The first arg should be
// a string, which is typically the name of the calling function
// (usually qualified with the package name).  The rest of the args
// implement key/value pairs.  The even args, which are property
// names, should be strings.  The odd args, which are the respective
// values, can be anything.
//
// If the given context has a 'LogAccumulator', then 'MakeLogRecord()'
// is called to generate a log record that is appended to that
// accumulator.
func Log(level LogLevel, ctx *Context, args ...interface{}) {

	level = defaultLogFields(level)

	if !loggable(ctx, level) {
		return
	}

	more := make([]interface{}, 0, len(args)+10)
	more = append(more, LogKeyOp)
	more = append(more, args...)
	if ctx != nil {
		ctx.RLock()
		for p, v := range ctx.logProps {
			more = append(more, p)
			more = append(more, v)
		}
		ctx.RUnlock()
	}
	args = more

	args = append(args,
		"corelev", getCoreLogLevel(level),
		"origin", getLogOrigin(level),
		"comp", getLogComponent(level))
	args = addCallerLine(args)

	if ctx != nil {
		var acc *Accumulator
		ctx.RLock()
		if loggableFor(level, ctx.LogAccumulatorLevel) {
			acc = ctx.LogAccumulator
		}
		ctx.RUnlock()

		if acc != nil {
			acc.Add(MakeLogRecord(args))
		}
	}

	DefaultLogger.Log(level, args...)
}

// Metric emits a metric-ish log record.
func Metric(ctx *Context, args ...interface{}) {
	Log(METRIC|INFO, ctx, args...)
}
