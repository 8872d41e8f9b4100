package telemetry

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"churnrig/pkg/log"
)

// Publisher is the part of mqtt.Client the sink needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTMessage is the JSON payload published per report.
type MQTTMessage struct {
	Time  time.Time `json:"time"`
	RunID string    `json:"run_id,omitempty"`
	Kind  string    `json:"kind"`
	Text  string    `json:"text"`
}

// MQTTSink publishes reports to <prefix>/report and run changes to
// <prefix>/run. Publishing happens on a background goroutine; when the
// queue is full new messages are dropped and counted.
type MQTTSink struct {
	pub     Publisher
	prefix  string
	qos     byte
	timeout time.Duration
	runID   string
	log     *log.Logger

	queue   chan outgoing
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
	dropped atomic.Int64
}

type outgoing struct {
	topic string
	msg   MQTTMessage
}

// MQTTOptions configures DialMQTT.
type MQTTOptions struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
	Timeout     time.Duration
}

// DialMQTT connects to a broker and returns a sink publishing through it.
func DialMQTT(opts MQTTOptions) (*MQTTSink, mqtt.Client, error) {
	if opts.ClientID == "" {
		opts.ClientID = "churnrig"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	co := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(opts.Timeout)
	client := mqtt.NewClient(co)
	token := client.Connect()
	if !token.WaitTimeout(opts.Timeout) {
		return nil, nil, fmt.Errorf("mqtt connect to %s: timed out", opts.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, nil, fmt.Errorf("mqtt connect to %s: %w", opts.Broker, err)
	}
	sink := NewMQTTSink(client, opts.TopicPrefix, opts.QoS)
	sink.timeout = opts.Timeout
	return sink, client, nil
}

// NewMQTTSink wraps an already connected publisher.
func NewMQTTSink(pub Publisher, prefix string, qos byte) *MQTTSink {
	if prefix == "" {
		prefix = "churnrig"
	}
	s := &MQTTSink{
		pub:     pub,
		prefix:  prefix,
		qos:     qos,
		timeout: 2 * time.Second,
		log:     log.GetLogger("mqtt"),
		queue:   make(chan outgoing, 256),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Dropped returns how many messages were discarded on a full queue.
func (s *MQTTSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close flushes queued messages and stops the publisher goroutine.
func (s *MQTTSink) Close() {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.closeMu.Unlock()
	<-s.done
}

func (s *MQTTSink) run() {
	defer close(s.done)
	for out := range s.queue {
		s.send(out)
	}
}

func (s *MQTTSink) Report(text string) {
	s.publish("report", MQTTMessage{Time: time.Now(), RunID: s.runID, Kind: "report", Text: text})
}

func (s *MQTTSink) RunStarted(runID string, at time.Time) {
	s.runID = runID
	s.publish("run", MQTTMessage{Time: at, RunID: runID, Kind: "started"})
}

func (s *MQTTSink) RunEnded(runID, outcome string, at time.Time) {
	s.publish("run", MQTTMessage{Time: at, RunID: runID, Kind: "ended", Text: outcome})
	s.runID = ""
}

func (s *MQTTSink) publish(suffix string, msg MQTTMessage) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- outgoing{topic: s.prefix + "/" + suffix, msg: msg}:
	default:
		s.dropped.Add(1)
	}
}

func (s *MQTTSink) send(out outgoing) {
	payload, err := json.Marshal(out.msg)
	if err != nil {
		s.log.WithError(err).Warn("encode mqtt message")
		return
	}
	topic := out.topic
	token := s.pub.Publish(topic, s.qos, false, payload)
	if !token.WaitTimeout(s.timeout) {
		s.log.WithField("topic", topic).Warn("mqtt publish timed out")
		return
	}
	if err := token.Error(); err != nil {
		s.log.WithField("topic", topic).WithError(err).Warn("mqtt publish failed")
	}
}
