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
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tidwall/pretty"
	"gopkg.in/yaml.v2"

	"github.com/rulecheck/rulecheck/core"
)

var BeGraceful = true // Parameter

// HTTPService serves the rule engine API.
type HTTPService struct {
	Ctx        *core.Context
	Service    *Service
	pending    int32
	maxPending int32
	listener   net.Listener
}

func NewHTTPService(ctx *core.Context, service *Service) (*HTTPService, error) {
	return &HTTPService{Ctx: ctx, Service: service}, nil
}

func (s *HTTPService) Pending() int32 {
	return atomic.LoadInt32(&s.pending)
}

func (s *HTTPService) incPending(add bool) {
	inc := int32(1)
	if !add {
		inc = -1
	}
	atomic.AddInt32(&s.pending, inc)
}

func (s *HTTPService) MaxPending() int32 {
	return atomic.LoadInt32(&s.maxPending)
}

func (s *HTTPService) SetMaxPending(max int32) {
	core.Log(core.INFO|core.SERVICE, nil, "service.HTTPService", "maxPending", max)
	atomic.StoreInt32(&s.maxPending, max)
}

func (s *HTTPService) Maxed() (bool, int32) {
	max := s.MaxPending()
	pending := s.Pending()
	if max == 0 {
		return false, pending
	}
	return max <= pending, pending
}

// Listener wraps a net.Listener to support draining and a pending
// cap.
type Listener struct {
	ctx     *core.Context
	l       net.Listener
	service *HTTPService
	ctl     chan string
	mode    string
}

func NewListener(ctx *core.Context, s *HTTPService, port string) (*Listener, error) {
	l, err := net.Listen("tcp", port)
	if err != nil {
		return nil, err
	}
	ctl := make(chan string, 5)
	return &Listener{ctx: ctx, l: l, service: s, ctl: ctl}, nil
}

func (l *Listener) Drain(d time.Duration) int {
	pause := 1 * time.Second

	waited := time.Duration(0)
	var n int32
	for i := 0; true; i++ {
		_, n = l.service.Maxed()
		core.Log(core.INFO|core.SERVICE, l.ctx, "service.Listener.Drain", "loop", i, "pending", n, "waited", waited.String())

		if n <= 0 {
			break
		}
		time.Sleep(pause)
		waited += pause
		if d <= waited {
			break
		}
	}
	return int(n)
}

func (l *Listener) Stop(d time.Duration) error {
	core.Log(core.INFO|core.SERVICE, l.ctx, "service.Listener.Stop")
	l.ctl <- "stop"

	n := l.Drain(d)
	core.Log(core.INFO|core.SERVICE, l.ctx, "service.Listener.Stop", "pending", n)
	l.mode = "stopped"

	return nil
}

func tooMany(c net.Conn) {
	w := bufio.NewWriter(c)
	w.WriteString("HTTP/1.1 429 Too Many Requests\n")
	w.WriteString("Content-Length: 0\n")
	w.WriteString("Connection: close\n")
	w.Flush()
	c.Close()
}

type TooManyConnectionsError struct {
}

func (e *TooManyConnectionsError) Error() string {
	return "too many connections"
}

func (e *TooManyConnectionsError) Temporary() bool {
	return true
}

func (e *TooManyConnectionsError) Timeout() bool {
	return false
}

var TooManyConnections = &TooManyConnectionsError{}

func (l *Listener) Accept() (c net.Conn, err error) {
	select {
	case op := <-l.ctl:
		core.Log(core.INFO|core.SERVICE, l.ctx, "service.Listener", "op", op)
		l.mode = op
	default:
	}

	maxed, n := l.service.Maxed()

	switch l.mode {
	case "stop":
		err := fmt.Errorf("service stopping (%d)", n)
		core.Log(core.INFO|core.SERVICE, l.ctx, "service.Listener", "stopping", n)
		return nil, err
	case "stopped":
		err := fmt.Errorf("service stopped")
		core.Log(core.INFO|core.SERVICE, l.ctx, "service.Listener", "stopped", n)
		return nil, err
	case "":
	default:
		core.Log(core.WARN|core.SERVICE, l.ctx, "service.Listener", "mode", l.mode)
	}

	if maxed {
		c, err := l.l.Accept()
		if err != nil {
			return nil, err
		}
		core.Log(core.WARN|core.SERVICE, l.ctx, "service.Listener", "tooMany", n)
		tooMany(c)
		return nil, TooManyConnections
	}

	return l.l.Accept()
}

func (l *Listener) Close() error {
	return l.l.Close()
}

func (l *Listener) Addr() net.Addr {
	return l.l.Addr()
}

var UnknownSyntax = errors.New("unknown syntax")

// MaybeYAML guesses whether a body that isn't JSON might be YAML.
func MaybeYAML(bs []byte) bool {
	newline := bytes.Index(bs, []byte("\n"))
	return 0 <= newline && newline < len(bs)
}

// StringMaps tries to make (recursively) a map[string]interface{}
// from a map[interface{}]interface{} (which yaml.Unmarshal tends to
// provide).  When something goes wrong, the original value is
// returned.
func StringMaps(x interface{}) interface{} {
	switch vv := x.(type) {
	case []interface{}:
		for i, x := range vv {
			vv[i] = StringMaps(x)
		}
		return vv
	case map[string]interface{}:
		for k, v := range vv {
			vv[k] = StringMaps(v)
		}
		return vv
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(vv))
		for k, v := range vv {
			s, is := k.(string)
			if !is {
				return x
			}
			m[s] = StringMaps(v)
		}
		return m
	default:
		return x
	}
}

// UnmarshalYAML parses YAML into a string-keyed map.
func UnmarshalYAML(bs []byte, m *map[string]interface{}) error {
	raw := make(map[interface{}]interface{})
	if err := yaml.Unmarshal(bs, &raw); err != nil {
		return err
	}
	fixed, ok := StringMaps(raw).(map[string]interface{})
	if !ok {
		return UnknownSyntax
	}
	*m = fixed
	return nil
}

// Unmarshal parses a request body as JSON or, failing the smell test,
// YAML.
func Unmarshal(bs []byte, m *map[string]interface{}) error {
	if len(bs) == 0 {
		return UnknownSyntax
	}
	if bs[0] == '{' {
		return json.Unmarshal(bs, m)
	}

	// Do we have at least one newline?

	if MaybeYAML(bs) {
		return UnmarshalYAML(bs, m)
	}

	return UnknownSyntax
}

// readBody slurps and parses a POST body into a generic map.
func readBody(ctx *core.Context, r *http.Request) (map[string]interface{}, error) {
	if r.Body == nil {
		return nil, core.NewSyntaxError("no request body")
	}
	bs, err := ioutil.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	io.Copy(ioutil.Discard, r.Body)

	m := make(map[string]interface{})
	if err := Unmarshal(bs, &m); err != nil {
		core.Log(core.UERR|core.SERVICE, ctx, "service.readBody", "error", err)
		return nil, core.NewSyntaxError("can't parse request body: %v", err)
	}
	return m, nil
}

// errorBody is what a failed request gets back.
type errorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// protest reports a bad request.
func protest(ctx *core.Context, err error, w http.ResponseWriter) {
	respondStatus(ctx, w, nil, http.StatusBadRequest, errorBody{false, err.Error()})
}

// respond writes a JSON response, pretty-printed when the request
// asks with ?pretty=true.
func respond(ctx *core.Context, w http.ResponseWriter, r *http.Request, v interface{}) {
	respondStatus(ctx, w, r, http.StatusOK, v)
}

func respondStatus(ctx *core.Context, w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	bs, err := json.Marshal(v)
	if err != nil {
		core.Log(core.ERROR|core.SERVICE, ctx, "service.respond", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, `{"success":false,"message":%q}`, err.Error())
		return
	}
	if r != nil && r.URL.Query().Get("pretty") == "true" {
		bs = pretty.Pretty(bs)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(bs)
}

// allowOrigin applies the CORS allowlist.  Returns true when the
// request was a preflight and has been answered.
func (s *HTTPService) allowOrigin(w http.ResponseWriter, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	allowed := false
	for _, o := range s.Service.Sys.Config.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	if r.Method == "OPTIONS" {
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	return false
}

// statusRecorder remembers the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

var metricsHandler = promhttp.Handler()

func (s *HTTPService) ServeHTTP(w http.ResponseWriter, r *http.Request) {

	s.incPending(true)
	ctx := s.Ctx.SubContext()
	then := time.Now()

	defer func() {
		if r.Body != nil {
			if err := r.Body.Close(); err != nil {
				core.Log(core.WARN|core.SERVICE, nil, "service.ServeHTTP", "error", err, "when", "Close")
			}
		}
		s.incPending(false)
	}()

	if r.URL.Path == "/metrics" {
		metricsHandler.ServeHTTP(w, r)
		return
	}

	if done := s.allowOrigin(w, r); done {
		return
	}

	rec := &statusRecorder{w, http.StatusOK}
	path := s.Service.Route(ctx, rec, r)

	observeRequest(path, rec.status, time.Since(then))
}

func (s *HTTPService) Start(ctx *core.Context, servicePort string) error {

	server := &http.Server{
		Handler:        s,
		MaxHeaderBytes: 1 << 20,
	}
	core.Log(core.INFO|core.SERVICE, ctx, "service.HTTPService", "port", servicePort)

	if !BeGraceful {
		server.Addr = servicePort
		return server.ListenAndServe()
	}

	l, err := NewListener(ctx, s, servicePort)
	if err != nil {
		return err
	}
	s.Service.Stopper = func(ctx *core.Context, d time.Duration) error {
		return l.Stop(d)
	}
	s.listener = l
	server.Serve(l)
	n := l.Drain(5 * time.Second)
	if n == 0 {
		return nil
	}
	return fmt.Errorf("killing %d pending requests", n)
}

// trimPrefix strips the API prefix, returning the sub-path and
// whether the path was under the prefix at all.
func trimPrefix(prefix, path string) (string, bool) {
	if prefix == "" || prefix == "/" {
		return path, true
	}
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(path, prefix)
	if rest == "" {
		rest = "/"
	}
	if !strings.HasPrefix(rest, "/") {
		return "", false
	}
	return rest, true
}
