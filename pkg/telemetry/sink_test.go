package telemetry

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"churnrig/pkg/log"
)

type observerSink struct {
	lines   []string
	started []string
	ended   []string
}

func (o *observerSink) Report(text string) { o.lines = append(o.lines, text) }
func (o *observerSink) RunStarted(id string, _ time.Time) {
	o.started = append(o.started, id)
}
func (o *observerSink) RunEnded(id, outcome string, _ time.Time) {
	o.ended = append(o.ended, id+":"+outcome)
}

func TestMultiFansOutAndContainsPanics(t *testing.T) {
	obs := &observerSink{}
	panicky := SinkFunc(func(string) { panic("display gone") })
	m := Multi{panicky, obs, Discard}

	m.Report("Homing")
	m.Report("Drilling")
	m.RunStarted("run-1", time.Now())
	m.RunEnded("run-1", "finished", time.Now())

	if strings.Join(obs.lines, ",") != "Homing,Drilling" {
		t.Errorf("unexpected lines %v", obs.lines)
	}
	if len(obs.started) != 1 || obs.ended[0] != "run-1:finished" {
		t.Errorf("unexpected run events %v %v", obs.started, obs.ended)
	}
}

func TestSafeNil(t *testing.T) {
	Safe(nil).Report("ignored")
}

func TestBufferKeepsNewest(t *testing.T) {
	b := NewBuffer(3)
	if b.Last() != "" || len(b.Lines()) != 0 {
		t.Fatal("expected empty buffer")
	}
	for _, s := range []string{"a", "b"} {
		b.Report(s)
	}
	if got := strings.Join(b.Lines(), ""); got != "ab" {
		t.Errorf("expected ab, got %s", got)
	}
	for _, s := range []string{"c", "d", "e"} {
		b.Report(s)
	}
	if got := strings.Join(b.Lines(), ""); got != "cde" {
		t.Errorf("expected cde, got %s", got)
	}
	if b.Last() != "e" {
		t.Errorf("expected last e, got %s", b.Last())
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New("rig")
	logger.SetWriter(&buf)
	logger.SetColorize(false)

	LogSink{Logger: logger}.Report("Finished: 4 steps")
	if !strings.Contains(buf.String(), "rig: Finished: 4 steps") {
		t.Errorf("unexpected log output %q", buf.String())
	}
}

type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type fakePublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload.([]byte))
	return doneToken{}
}

func TestMQTTSinkPublishes(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewMQTTSink(pub, "rig7", 0)

	sink.RunStarted("run-9", time.Now())
	sink.Report("Drilling 90/360")
	sink.RunEnded("run-9", "finished", time.Now())
	sink.Close()
	sink.Close()

	want := []string{"rig7/run", "rig7/report", "rig7/run"}
	if strings.Join(pub.topics, ",") != strings.Join(want, ",") {
		t.Fatalf("expected topics %v, got %v", want, pub.topics)
	}
	var msg MQTTMessage
	if err := json.Unmarshal(pub.payloads[1], &msg); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if msg.RunID != "run-9" || msg.Text != "Drilling 90/360" || msg.Kind != "report" {
		t.Errorf("unexpected message %+v", msg)
	}

	sink.Report("after close")
	if len(pub.topics) != 3 {
		t.Error("reports after Close must be ignored")
	}
}
