package broker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nerrad567/beamline-core/internal/infrastructure/config"
	"github.com/nerrad567/beamline-core/internal/processing"
)

func testEnvelope() processing.Envelope {
	return processing.NewEnvelope(
		processing.Message{Event: processing.EventStart, CollectionID: 100},
		processing.Identity{User: "gda2", Host: "ws001"},
	)
}

// fakeMQTT records publishes.
type fakeMQTT struct {
	topic      string
	payload    []byte
	qos        byte
	publishErr error
	closed     int
}

func (f *fakeMQTT) Publish(topic string, payload []byte, qos byte, _ bool) error {
	f.topic, f.payload, f.qos = topic, payload, qos
	return f.publishErr
}

func (f *fakeMQTT) Close() error {
	f.closed++
	return nil
}

// fakeNATS records published messages.
type fakeNATS struct {
	msg      *nats.Msg
	flushErr error
	closed   int
}

func (f *fakeNATS) PublishMsg(m *nats.Msg) error {
	f.msg = m
	return nil
}

func (f *fakeNATS) FlushTimeout(time.Duration) error { return f.flushErr }

func (f *fakeNATS) Close() { f.closed++ }

func TestOpenUnknownTransport(t *testing.T) {
	_, err := NewOpener().Open(context.Background(), &config.BrokerEnvironment{Name: "x", Transport: "amqp"})
	if !errors.Is(err, processing.ErrConfiguration) {
		t.Errorf("Open() error = %v, want ErrConfiguration", err)
	}
}

func TestOpenNilEnvironment(t *testing.T) {
	if _, err := NewOpener().Open(context.Background(), nil); !errors.Is(err, processing.ErrConfiguration) {
		t.Errorf("Open(nil) error = %v", err)
	}
}

func TestOpenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewOpener().Open(ctx, &config.BrokerEnvironment{Transport: config.TransportMQTT})
	if !errors.Is(err, processing.ErrTransport) {
		t.Errorf("Open() error = %v, want ErrTransport", err)
	}
}

func TestMQTTSession(t *testing.T) {
	fake := &fakeMQTT{}
	var dialled config.MQTTConfig
	o := NewOpener()
	o.dialMQTT = func(cfg config.MQTTConfig) (mqttPublisher, error) {
		dialled = cfg
		return fake, nil
	}

	env := &config.BrokerEnvironment{
		Name:      "dev_artemis",
		Transport: config.TransportMQTT,
		MQTT:      config.MQTTConfig{QoS: 1, Broker: config.MQTTBrokerConfig{ClientID: "ignored"}},
	}
	session, err := o.Open(context.Background(), env)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if !strings.HasPrefix(dialled.Broker.ClientID, defaultClientPrefix+"-") {
		t.Errorf("client id = %q", dialled.Broker.ClientID)
	}

	if err := session.Send(context.Background(), processing.Destination, testEnvelope()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if fake.topic != "beamline/processing/processing_recipe" {
		t.Errorf("topic = %q", fake.topic)
	}
	if fake.qos != 1 {
		t.Errorf("qos = %d", fake.qos)
	}

	want := `{"recipes":["mimas"],"parameters":{"event":"start","ispyb_dcid":100},"headers":{"zocalo.go.host":"ws001","zocalo.go.user":"gda2"}}`
	if string(fake.payload) != want {
		t.Errorf("payload = %s\nwant      %s", fake.payload, want)
	}

	if err := session.Close(); err != nil || fake.closed != 1 {
		t.Errorf("Close() = %v, closed = %d", err, fake.closed)
	}
}

func TestMQTTClientIDsUnique(t *testing.T) {
	o := NewOpener()
	o.SetClientPrefix("i03-trigger")
	a, b := o.clientID(), o.clientID()
	if a == b {
		t.Error("client IDs repeat")
	}
	if !strings.HasPrefix(a, "i03-trigger-") {
		t.Errorf("clientID() = %q", a)
	}
}

func TestMQTTSessionErrors(t *testing.T) {
	o := NewOpener()
	o.dialMQTT = func(config.MQTTConfig) (mqttPublisher, error) { return nil, errors.New("refused") }

	_, err := o.Open(context.Background(), &config.BrokerEnvironment{Transport: config.TransportMQTT})
	if !errors.Is(err, processing.ErrTransport) {
		t.Errorf("Open() error = %v, want ErrTransport", err)
	}

	pubErr := errors.New("not connected")
	fake := &fakeMQTT{publishErr: pubErr}
	session := &mqttSession{client: fake}
	err = session.Send(context.Background(), processing.Destination, testEnvelope())
	if !errors.Is(err, processing.ErrTransport) || !errors.Is(err, pubErr) {
		t.Errorf("Send() error = %v", err)
	}
}

func TestNATSSession(t *testing.T) {
	fake := &fakeNATS{}
	var gotURL, gotToken string
	o := NewOpener()
	o.dialNATS = func(url, _, token string) (natsPublisher, error) {
		gotURL, gotToken = url, token
		return fake, nil
	}

	env := &config.BrokerEnvironment{
		Name:              "live",
		Transport:         config.TransportNATS,
		NATS:              config.NATSConfig{URL: "nats://broker:4222", Token: "s3cret"},
		DestinationPrefix: "zocalo.",
	}
	session, err := o.Open(context.Background(), env)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if gotURL != "nats://broker:4222" || gotToken != "s3cret" {
		t.Errorf("dial url/token = %q/%q", gotURL, gotToken)
	}

	if err := session.Send(context.Background(), processing.Destination, testEnvelope()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if fake.msg.Subject != "zocalo.processing_recipe" {
		t.Errorf("subject = %q", fake.msg.Subject)
	}
	if fake.msg.Header.Get(processing.HeaderUser) != "gda2" || fake.msg.Header.Get(processing.HeaderHost) != "ws001" {
		t.Errorf("headers = %v", fake.msg.Header)
	}

	var body map[string]any
	if err := json.Unmarshal(fake.msg.Data, &body); err != nil {
		t.Fatal(err)
	}
	if _, ok := body["headers"]; ok {
		t.Error("NATS body should not carry headers")
	}

	session.Close()
	if fake.closed != 1 {
		t.Errorf("closed = %d", fake.closed)
	}
}

func TestNATSMissingURL(t *testing.T) {
	_, err := NewOpener().Open(context.Background(), &config.BrokerEnvironment{Transport: config.TransportNATS})
	if !errors.Is(err, processing.ErrConfiguration) {
		t.Errorf("Open() error = %v, want ErrConfiguration", err)
	}
}

func TestNATSFlushError(t *testing.T) {
	flushErr := errors.New("flush timeout")
	session := &natsSession{conn: &fakeNATS{flushErr: flushErr}}

	err := session.Send(context.Background(), processing.Destination, testEnvelope())
	if !errors.Is(err, processing.ErrTransport) || !errors.Is(err, flushErr) {
		t.Errorf("Send() error = %v", err)
	}
}

func TestTriggerOverOpener(t *testing.T) {
	fake := &fakeMQTT{publishErr: errors.New("broker gone")}
	o := NewOpener()
	o.dialMQTT = func(config.MQTTConfig) (mqttPublisher, error) { return fake, nil }

	envs := envSource{"dev_artemis": {Name: "dev_artemis", Transport: config.TransportMQTT}}
	trig := processing.NewTrigger("dev_artemis", envs, o)

	err := trig.RunEnd(context.Background(), 100)
	if !errors.Is(err, processing.ErrTransport) {
		t.Errorf("RunEnd() error = %v, want ErrTransport", err)
	}
	if fake.closed != 1 {
		t.Errorf("session closed %d times, want 1", fake.closed)
	}
}

type envSource map[string]*config.BrokerEnvironment

func (e envSource) Lookup(name string) (*config.BrokerEnvironment, error) {
	env, ok := e[name]
	if !ok {
		return nil, config.ErrUnknownEnvironment
	}
	return env, nil
}

func TestLiveNATS(t *testing.T) {
	url := os.Getenv("BEAMLINE_TEST_NATS")
	if url == "" {
		t.Skip("BEAMLINE_TEST_NATS not set, skipping live NATS test")
	}

	sub, err := nats.Connect(url)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	got := make(chan *nats.Msg, 1)
	if _, err := sub.ChanSubscribe("test.processing_recipe", got); err != nil {
		t.Fatal(err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatal(err)
	}

	envs := envSource{"live": {
		Name:              "live",
		Transport:         config.TransportNATS,
		NATS:              config.NATSConfig{URL: url},
		DestinationPrefix: "test.",
	}}
	trig := processing.NewTrigger("live", envs, NewOpener())
	if err := trig.RunStart(context.Background(), 100); err != nil {
		t.Fatalf("RunStart() error = %v", err)
	}

	select {
	case msg := <-got:
		if msg.Header.Get(processing.HeaderHost) == "" {
			t.Error("missing host header")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}
