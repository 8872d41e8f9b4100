package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"churnrig/pkg/controller"
	rigerrors "churnrig/pkg/errors"
	"churnrig/pkg/journal"
	"churnrig/pkg/log"
	"churnrig/pkg/metrics"
	"churnrig/pkg/reactor"
	"churnrig/pkg/sim"
	"churnrig/pkg/telemetry"
)

type fixture struct {
	world   *sim.Rig
	ctrl    *controller.Controller
	hub     *Hub
	journal *journal.Journal
	srv     *Server
	http    *httptest.Server
}

func quietLogger() *log.Logger {
	l := log.New("test")
	l.SetWriter(io.Discard)
	return l
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	j, err := journal.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { j.Close() })

	f := &fixture{
		world:   sim.NewMiningRig(sim.Layout{Rotors: 1, Drills: 1, ShaftPistons: 1, PistonMax: 2}),
		hub:     NewHub(quietLogger()),
		journal: j,
	}
	m := metrics.NewRigMetrics()
	f.ctrl = controller.New(controller.Options{
		Resolver: f.world,
		Sink:     telemetry.Multi{f.hub, j},
		Logger:   quietLogger(),
		Metrics:  m,
		Listener: f.hub.Event,
	})
	f.srv = New(Options{
		Dispatcher: f.ctrl,
		Hub:        f.hub,
		History:    j,
		Metrics:    m,
		Logger:     quietLogger(),
	})
	f.http = httptest.NewServer(f.srv.Handler())
	t.Cleanup(func() {
		f.hub.Close()
		f.http.Close()
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, Response) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.http.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out Response
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("bad JSON from %s: %v", path, err)
		}
	}
	return resp.StatusCode, out
}

func TestStatusWhenIdle(t *testing.T) {
	f := newFixture(t)
	code, resp := f.do(t, "GET", "/api/status", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	st := resp.Result.(map[string]interface{})
	if st["stage"] != "Idle" || st["active"] != false {
		t.Errorf("unexpected status %v", st)
	}
}

func TestConfigListsBlocks(t *testing.T) {
	f := newFixture(t)
	code, resp := f.do(t, "GET", "/api/config", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	rep := resp.Result.(map[string]interface{})
	blocks := rep["blocks"].(map[string]interface{})
	if shaft := blocks["shaft"].([]interface{}); len(shaft) != 1 || shaft[0] != "Shaft Piston 1" {
		t.Errorf("unexpected shaft blocks %v", blocks["shaft"])
	}
}

func TestCommandStatusCodes(t *testing.T) {
	f := newFixture(t)

	code, resp := f.do(t, "POST", "/api/commands/dance", "")
	if code != http.StatusNotFound || resp.Error == nil || resp.Error.Code != "UNKNOWN_COMMAND" {
		t.Errorf("expected 404 UNKNOWN_COMMAND, got %d %+v", code, resp.Error)
	}

	code, resp = f.do(t, "POST", "/api/commands/start?shaft_step=1", "")
	if code != http.StatusOK {
		t.Fatalf("start failed: %d %+v", code, resp.Error)
	}
	st := resp.Result.(map[string]interface{})
	if st["active"] != true || st["config"].(map[string]interface{})["shaft_step"] != "1" {
		t.Errorf("unexpected start result %v", st)
	}

	code, resp = f.do(t, "POST", "/api/commands/start", "")
	if code != http.StatusConflict || resp.Error.Code != "BUSY" {
		t.Errorf("expected 409 BUSY, got %d %+v", code, resp.Error)
	}

	if code, _ = f.do(t, "POST", "/api/commands/stop", ""); code != http.StatusOK {
		t.Errorf("stop failed with %d", code)
	}
	if f.ctrl.Active() {
		t.Fatal("controller still active after stop")
	}

	code, resp = f.do(t, "POST", "/api/commands/start", `{"args":["rotors_dps=fast"]}`)
	if code != http.StatusBadRequest || resp.Error.Code != "CONFIGURATION" {
		t.Errorf("expected 400 CONFIGURATION, got %d %+v", code, resp.Error)
	}

	code, resp = f.do(t, "POST", "/api/commands/start", `{"args":`)
	if code != http.StatusBadRequest || resp.Error.Code != "PARSE" {
		t.Errorf("expected 400 PARSE for a broken body, got %d %+v", code, resp.Error)
	}
	if f.ctrl.Active() {
		t.Error("a rejected start created a cycle")
	}
}

func TestWrongMethodRejected(t *testing.T) {
	f := newFixture(t)
	if code, _ := f.do(t, "GET", "/api/commands/start", ""); code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", code)
	}
	if f.ctrl.Active() {
		t.Error("GET must not start a cycle")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, "GET", "/api/status", "")

	resp, err := http.Get(f.http.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `churnrig_http_requests_total{route="/api/status",status="200"} 1`) {
		t.Errorf("status request not counted:\n%s", body)
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	f.do(t, "POST", "/api/commands/start", "")
	f.do(t, "POST", "/api/commands/stop", "")

	code, resp := f.do(t, "GET", "/api/history?limit=5", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	runs := resp.Result.([]interface{})
	if len(runs) != 1 {
		t.Fatalf("expected one run, got %v", runs)
	}
	run := runs[0].(map[string]interface{})
	if run["outcome"] != "aborted" {
		t.Errorf("unexpected run %v", run)
	}

	code, resp = f.do(t, "GET", "/api/history/"+run["id"].(string), "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var texts []string
	for _, l := range resp.Result.([]interface{}) {
		texts = append(texts, l.(map[string]interface{})["text"].(string))
	}
	if !strings.Contains(strings.Join(texts, "\n"), "ABORT") {
		t.Errorf("expected the abort report in %v", texts)
	}
}

func TestHistoryDisabled(t *testing.T) {
	srv := New(Options{Dispatcher: controller.New(controller.Options{Logger: quietLogger()}), Logger: quietLogger()})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/history", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 without a journal, got %d", rec.Code)
	}
}

type panicking struct{ Dispatcher }

func (panicking) Status() controller.Status { panic("boom") }

func TestHandlerPanicIsRecovered(t *testing.T) {
	srv := New(Options{Dispatcher: panicking{}, Logger: quietLogger()})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/status", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestWebSocketFeed(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for f.hub.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	f.do(t, "POST", "/api/commands/start", "")
	f.ctrl.Tick()

	var sawRun, sawReport, sawStage bool
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for !(sawRun && sawReport && sawStage) {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read failed (run=%v report=%v stage=%v): %v", sawRun, sawReport, sawStage, err)
		}
		switch msg.Type {
		case "run":
			sawRun = sawRun || msg.Outcome == "started"
		case "report":
			sawReport = sawReport || strings.HasPrefix(msg.Text, "Starting run")
		case "event":
			sawStage = sawStage || (msg.Event.Kind == "stage" && msg.Event.Stage == "Homing")
		}
	}
}

func TestHubCloseDisconnects(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	for i := 0; i < 200 && f.hub.Clients() == 0; i++ {
		time.Sleep(5 * time.Millisecond)
	}

	f.hub.Close()
	if f.hub.Clients() != 0 {
		t.Error("clients left after close")
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the connection to close")
	}
}

func TestOnReactor(t *testing.T) {
	world := sim.NewMiningRig(sim.Layout{Rotors: 1, Drills: 1, ShaftPistons: 1, PistonMax: 2})
	c := controller.New(controller.Options{Resolver: world, Logger: quietLogger()})
	r := reactor.New()
	r.Run()
	d := OnReactor(r, c)

	if _, err := d.Execute("start"); err != nil {
		t.Fatalf("start through reactor failed: %v", err)
	}
	if st := d.Status(); !st.Active || st.Stage != "Begin" {
		t.Errorf("unexpected status %+v", st)
	}
	if rep := d.Config(); len(rep.Blocks["drills"]) != 1 {
		t.Errorf("unexpected config %+v", rep)
	}

	r.End()
	r.Wait()
	_, err := d.Execute("stop")
	if !errors.Is(err, reactor.ErrReactorClosed) || StatusCode(err) != http.StatusServiceUnavailable {
		t.Errorf("expected reactor closed, got %v", err)
	}
	if st := d.Status(); st.Error == "" {
		t.Error("expected the closed reactor in Status.Error")
	}
}

func TestStatusCode(t *testing.T) {
	cases := map[error]int{
		rigerrors.BusyError():                              http.StatusConflict,
		rigerrors.UnknownCommandError("x"):                 http.StatusNotFound,
		rigerrors.ConfigurationError("bad"):                http.StatusBadRequest,
		rigerrors.ParseError("k", "v", "float", nil):       http.StatusBadRequest,
		rigerrors.RuntimeError("oops"):                     http.StatusInternalServerError,
		errors.New("plain"):                                http.StatusInternalServerError,
		reactor.ErrReactorClosed:                           http.StatusServiceUnavailable,
		rigerrors.Wrap(reactor.ErrReactorClosed, "X", "y"): http.StatusServiceUnavailable,
	}
	for err, want := range cases {
		if got := StatusCode(err); got != want {
			t.Errorf("StatusCode(%v) = %d, want %d", err, got, want)
		}
	}
}
