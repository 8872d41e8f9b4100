// Package api serves the controller over HTTP: JSON commands and status,
// Prometheus metrics and a websocket feed of reports and cycle events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"churnrig/pkg/controller"
	rigerrors "churnrig/pkg/errors"
	"churnrig/pkg/journal"
	"churnrig/pkg/log"
	"churnrig/pkg/metrics"
	"churnrig/pkg/reactor"
)

// Dispatcher is the command surface the server drives.
type Dispatcher interface {
	Execute(command string) (interface{}, error)
	Status() controller.Status
	Config() controller.ConfigReport
}

// History is the journal view served under /api/history.
type History interface {
	Runs(limit int) ([]journal.Run, error)
	Reports(runID string, limit int) ([]journal.Entry, error)
}

// Options configure a Server. Dispatcher is required.
type Options struct {
	Addr       string
	Dispatcher Dispatcher
	Hub        *Hub
	History    History
	Metrics    *metrics.RigMetrics
	Logger     *log.Logger
	// AccessLog receives one Apache-style line per request; nil disables it.
	AccessLog io.Writer
}

// Server is the HTTP front end.
type Server struct {
	opts       Options
	log        *log.Logger
	httpServer *http.Server
}

// CommandRequest is the optional JSON body of POST /api/commands/{command}.
type CommandRequest struct {
	Args []string `json:"args"`
}

// Response wraps every JSON reply.
type Response struct {
	Result interface{} `json:"result,omitempty"`
	Error  *ErrorBody  `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// New creates a server; call ListenAndServe to start it.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.GetLogger("api")
	}
	if opts.Hub == nil {
		opts.Hub = NewHub(opts.Logger)
	}
	return &Server{opts: opts, log: opts.Logger}
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub { return s.opts.Hub }

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	m := s.opts.Metrics
	r := mux.NewRouter()
	r.Handle("/api/status", m.WrapHandler("/api/status", http.HandlerFunc(s.handleStatus))).Methods("GET")
	r.Handle("/api/config", m.WrapHandler("/api/config", http.HandlerFunc(s.handleConfig))).Methods("GET")
	r.Handle("/api/commands/{command}", m.WrapHandler("/api/commands", http.HandlerFunc(s.handleCommand))).Methods("POST")
	r.Handle("/api/history", m.WrapHandler("/api/history", http.HandlerFunc(s.handleHistory))).Methods("GET")
	r.Handle("/api/history/{run}", m.WrapHandler("/api/history", http.HandlerFunc(s.handleRunReports))).Methods("GET")
	r.Handle("/metrics", m.Handler()).Methods("GET")
	r.Handle("/ws", s.opts.Hub)
	return r
}

// Handler is the router behind recovery and access-log middleware.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.Router()
	if s.opts.AccessLog != nil {
		h = handlers.LoggingHandler(s.opts.AccessLog, h)
	}
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.log}),
		handlers.PrintRecoveryStack(false),
	)(h)
}

// ListenAndServe blocks until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.WithField("addr", s.opts.Addr).Info("API server listening")
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown closes the websocket feed and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.opts.Hub.Close()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Result: s.opts.Dispatcher.Status()})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Result: s.opts.Dispatcher.Config()})
}

// handleCommand runs {command} with arguments from the JSON body and from
// query parameters (?shaft_step=1 becomes "shaft_step=1").
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	parts := []string{mux.Vars(r)["command"]}

	if r.Body != nil && r.ContentLength != 0 {
		var req CommandRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 64*1024)).Decode(&req); err != nil && err != io.EOF {
			writeError(w, rigerrors.Wrap(err, rigerrors.ErrParse, "invalid request body"))
			return
		}
		parts = append(parts, req.Args...)
	}
	query := r.URL.Query()
	for key, values := range query {
		for _, v := range values {
			if v == "" {
				parts = append(parts, key)
			} else {
				parts = append(parts, key+"="+v)
			}
		}
	}
	for _, p := range parts[1:] {
		if strings.ContainsAny(p, " \t\n") {
			writeError(w, rigerrors.New(rigerrors.ErrParse, "argument contains whitespace: "+strconv.Quote(p)))
			return
		}
	}

	command := strings.Join(parts, " ")
	result, err := s.opts.Dispatcher.Execute(command)
	if err != nil {
		s.log.WithError(err).WithField("command", command).Debug("command failed")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Result: result})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		http.Error(w, "journal disabled", http.StatusNotFound)
		return
	}
	runs, err := s.opts.History.Runs(queryLimit(r, 20))
	if err != nil {
		writeError(w, rigerrors.Wrap(err, rigerrors.ErrRuntime, "journal query failed"))
		return
	}
	writeJSON(w, http.StatusOK, Response{Result: runs})
}

func (s *Server) handleRunReports(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		http.Error(w, "journal disabled", http.StatusNotFound)
		return
	}
	lines, err := s.opts.History.Reports(mux.Vars(r)["run"], queryLimit(r, 200))
	if err != nil {
		writeError(w, rigerrors.Wrap(err, rigerrors.ErrRuntime, "journal query failed"))
		return
	}
	writeJSON(w, http.StatusOK, Response{Result: lines})
}

func queryLimit(r *http.Request, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// StatusCode maps an error to its HTTP status.
func StatusCode(err error) int {
	if errors.Is(err, reactor.ErrReactorClosed) {
		return http.StatusServiceUnavailable
	}
	switch rigerrors.CodeOf(err) {
	case rigerrors.ErrBusy:
		return http.StatusConflict
	case rigerrors.ErrUnknownCommand:
		return http.StatusNotFound
	case rigerrors.ErrConfiguration, rigerrors.ErrParse:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := string(rigerrors.CodeOf(err))
	if code == "" {
		code = string(rigerrors.ErrRuntime)
	}
	writeJSON(w, StatusCode(err), Response{Error: &ErrorBody{Code: code, Message: err.Error()}})
}

type recoveryLogger struct{ log *log.Logger }

func (l recoveryLogger) Println(args ...interface{}) {
	l.log.WithError(rigerrors.FromPanic(fmt.Sprint(args...))).Error("handler panicked")
}

// OnReactor returns a Dispatcher that runs every call on r's goroutine,
// where the controller's tick also runs.
func OnReactor(r *reactor.Reactor, c *controller.Controller) Dispatcher {
	return &reactorDispatcher{r: r, c: c}
}

type reactorDispatcher struct {
	r *reactor.Reactor
	c *controller.Controller
}

func (d *reactorDispatcher) Execute(command string) (out interface{}, err error) {
	if derr := d.r.Do(func() { out, err = d.c.Execute(command) }); derr != nil {
		return nil, derr
	}
	return out, err
}

func (d *reactorDispatcher) Status() (st controller.Status) {
	if err := d.r.Do(func() { st = d.c.Status() }); err != nil {
		return controller.Status{Stage: "Idle", Error: err.Error()}
	}
	return st
}

func (d *reactorDispatcher) Config() (rep controller.ConfigReport) {
	if err := d.r.Do(func() { rep = d.c.Config() }); err != nil {
		return controller.ConfigReport{Error: err.Error()}
	}
	return rep
}
