package processing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/beamline-core/internal/infrastructure/config"
)

const testEnvironment = "dev_artemis"

// fakeEnvironments resolves only testEnvironment.
type fakeEnvironments struct{}

func (fakeEnvironments) Lookup(name string) (*config.BrokerEnvironment, error) {
	if name != testEnvironment {
		return nil, config.ErrUnknownEnvironment
	}
	return &config.BrokerEnvironment{Name: name, Transport: config.TransportMQTT}, nil
}

type sent struct {
	destination string
	envelope    Envelope
}

// fakeSession records sends and closes.
type fakeSession struct {
	opener *fakeOpener
}

func (s *fakeSession) Send(_ context.Context, destination string, env Envelope) error {
	s.opener.mu.Lock()
	defer s.opener.mu.Unlock()
	s.opener.sends = append(s.opener.sends, sent{destination, env})
	return s.opener.sendErr
}

func (s *fakeSession) Close() error {
	s.opener.mu.Lock()
	defer s.opener.mu.Unlock()
	s.opener.closes++
	return s.opener.closeErr
}

// fakeOpener hands out fakeSessions and tracks everything they do.
type fakeOpener struct {
	mu       sync.Mutex
	opens    int
	closes   int
	sends    []sent
	openErr  error
	sendErr  error
	closeErr error
	envs     []string
}

func (o *fakeOpener) Open(_ context.Context, env *config.BrokerEnvironment) (Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.envs = append(o.envs, env.Name)
	if o.openErr != nil {
		return nil, o.openErr
	}
	o.opens++
	return &fakeSession{opener: o}, nil
}

// recordingObserver keeps every notification.
type recordingObserver struct {
	got []Notification
}

func (r *recordingObserver) ObserveNotification(_ context.Context, n Notification) {
	r.got = append(r.got, n)
}

func newTestTrigger(opener *fakeOpener) *Trigger {
	trig := NewTrigger(testEnvironment, fakeEnvironments{}, opener)
	trig.SetIdentity(Identity{User: "gda2", Host: "ws001"})
	return trig
}

func TestRunStartAndEnd(t *testing.T) {
	tests := []struct {
		name    string
		run     func(*Trigger) error
		want    Message
		sendErr error
	}{
		{"start", func(tr *Trigger) error { return tr.RunStart(context.Background(), 100) }, Message{EventStart, 100}, nil},
		{"start with send error", func(tr *Trigger) error { return tr.RunStart(context.Background(), 100) }, Message{EventStart, 100}, errors.New("broker gone")},
		{"end", func(tr *Trigger) error { return tr.RunEnd(context.Background(), 100) }, Message{EventEnd, 100}, nil},
		{"end with send error", func(tr *Trigger) error { return tr.RunEnd(context.Background(), 100) }, Message{EventEnd, 100}, errors.New("broker gone")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opener := &fakeOpener{sendErr: tt.sendErr}
			err := tt.run(newTestTrigger(opener))

			if err != tt.sendErr {
				t.Errorf("error = %v, want exactly %v", err, tt.sendErr)
			}
			if opener.opens != 1 || opener.closes != 1 {
				t.Errorf("opens = %d, closes = %d; want 1, 1", opener.opens, opener.closes)
			}
			if len(opener.sends) != 1 {
				t.Fatalf("sends = %d, want 1 (no retry)", len(opener.sends))
			}
			if opener.envs[0] != testEnvironment {
				t.Errorf("environment = %q", opener.envs[0])
			}

			got := opener.sends[0]
			if got.destination != Destination {
				t.Errorf("destination = %q, want %q", got.destination, Destination)
			}
			if len(got.envelope.Recipes) != 1 || got.envelope.Recipes[0] != "mimas" {
				t.Errorf("recipes = %v", got.envelope.Recipes)
			}
			if got.envelope.Parameters != tt.want {
				t.Errorf("parameters = %+v, want %+v", got.envelope.Parameters, tt.want)
			}
			if got.envelope.Headers[HeaderUser] != "gda2" || got.envelope.Headers[HeaderHost] != "ws001" {
				t.Errorf("headers = %v", got.envelope.Headers)
			}
		})
	}
}

func TestStartThenEndSendsTwoMessages(t *testing.T) {
	opener := &fakeOpener{}
	trig := newTestTrigger(opener)
	ctx := context.Background()

	if err := trig.Notify(ctx, EventStart, 100); err != nil {
		t.Fatal(err)
	}
	if err := trig.Notify(ctx, EventEnd, 100); err != nil {
		t.Fatal(err)
	}

	if len(opener.sends) != 2 || opener.opens != 2 || opener.closes != 2 {
		t.Fatalf("sends/opens/closes = %d/%d/%d, want 2/2/2", len(opener.sends), opener.opens, opener.closes)
	}

	first := jsonString(t, opener.sends[0].envelope)
	second := jsonString(t, opener.sends[1].envelope)
	if first != `{"recipes":["mimas"],"parameters":{"event":"start","ispyb_dcid":100}}` {
		t.Errorf("first envelope = %s", first)
	}
	if second != `{"recipes":["mimas"],"parameters":{"event":"end","ispyb_dcid":100}}` {
		t.Errorf("second envelope = %s", second)
	}
}

func TestUnknownEnvironment(t *testing.T) {
	opener := &fakeOpener{}
	trig := NewTrigger("nope", fakeEnvironments{}, opener)

	err := trig.RunStart(context.Background(), 1)
	if !errors.Is(err, ErrConfiguration) || !errors.Is(err, config.ErrUnknownEnvironment) {
		t.Errorf("error = %v, want ErrConfiguration", err)
	}
	if opener.opens != 0 || len(opener.envs) != 0 {
		t.Error("no session should be opened for an unknown environment")
	}
}

func TestOpenError(t *testing.T) {
	openErr := errors.New("dial failed")
	opener := &fakeOpener{openErr: openErr}

	err := newTestTrigger(opener).RunEnd(context.Background(), 7)
	if err != openErr {
		t.Errorf("error = %v, want opener error", err)
	}
	if opener.closes != 0 {
		t.Errorf("closes = %d, want 0", opener.closes)
	}
}

func TestCloseErrorAfterSuccessfulSend(t *testing.T) {
	opener := &fakeOpener{closeErr: errors.New("disconnect failed")}

	err := newTestTrigger(opener).RunStart(context.Background(), 7)
	if !errors.Is(err, ErrTransport) {
		t.Errorf("error = %v, want ErrTransport", err)
	}
}

func TestCloseErrorDoesNotMaskSendError(t *testing.T) {
	sendErr := errors.New("send failed")
	opener := &fakeOpener{sendErr: sendErr, closeErr: errors.New("disconnect failed")}

	err := newTestTrigger(opener).RunStart(context.Background(), 7)
	if err != sendErr {
		t.Errorf("error = %v, want send error", err)
	}
}

func TestInvalidEvent(t *testing.T) {
	opener := &fakeOpener{}
	err := newTestTrigger(opener).Notify(context.Background(), Event("pause"), 1)
	if !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("error = %v, want ErrInvalidEvent", err)
	}
	if opener.opens != 0 {
		t.Error("session opened for invalid event")
	}
}

func TestObserversSeeOutcome(t *testing.T) {
	sendErr := errors.New("send failed")
	opener := &fakeOpener{sendErr: sendErr}
	obs := &recordingObserver{}
	trig := newTestTrigger(opener)
	trig.AddObserver(obs)

	_ = trig.RunStart(context.Background(), 42)

	if len(obs.got) != 1 {
		t.Fatalf("observations = %d, want 1", len(obs.got))
	}
	n := obs.got[0]
	if n.Message != (Message{EventStart, 42}) || n.Err != sendErr || n.Environment != testEnvironment {
		t.Errorf("notification = %+v", n)
	}
}

func TestCollectorFollowsNotifications(t *testing.T) {
	trig := newTestTrigger(&fakeOpener{})
	c := NewCollector("zocalo", 0)
	trig.AddObserver(c)
	ctx := context.Background()

	c.Deliver(ResultSet{CollectionID: 41, Results: []Result{testResultLarge}})
	if err := trig.RunStart(ctx, 42); err != nil {
		t.Fatal(err)
	}
	if err := trig.RunEnd(ctx, 42); err != nil {
		t.Fatal(err)
	}
	c.Deliver(ResultSet{CollectionID: 42, Results: []Result{testResultLarge}})
	c.Trigger()

	if _, err := c.Await(ctx, time.Second); err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if c.Value().CollectionID != 42 {
		t.Errorf("CollectionID = %d, want 42", c.Value().CollectionID)
	}
}

func TestAddObserverWhileNotifying(t *testing.T) {
	trig := newTestTrigger(&fakeOpener{})
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range 50 {
			_ = trig.RunStart(ctx, int64(i))
		}
	}()
	for range 10 {
		trig.AddObserver(NewCollector("zocalo", 0))
	}
	wg.Wait()
}

func TestParseEvent(t *testing.T) {
	if e, err := ParseEvent("end"); err != nil || e != EventEnd {
		t.Errorf("ParseEvent(end) = %q, %v", e, err)
	}
	if _, err := ParseEvent("resume"); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("ParseEvent(resume) error = %v", err)
	}
}

func TestCurrentIdentity(t *testing.T) {
	t.Setenv("LOGNAME", "")
	t.Setenv("USER", "beamline-user")

	id := CurrentIdentity()
	if id.User != "beamline-user" {
		t.Errorf("User = %q", id.User)
	}
	if id.Host == "" {
		t.Error("Host is empty")
	}
}
