package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/beamline-core/internal/catalogue"
	"github.com/nerrad567/beamline-core/internal/control"
	"github.com/nerrad567/beamline-core/internal/infrastructure/config"
	"github.com/nerrad567/beamline-core/internal/infrastructure/database"
	"github.com/nerrad567/beamline-core/internal/infrastructure/logging"
	"github.com/nerrad567/beamline-core/internal/infrastructure/metrics"
	"github.com/nerrad567/beamline-core/internal/journal"
	"github.com/nerrad567/beamline-core/internal/processing"
	"github.com/nerrad567/beamline-core/internal/registry"
	"github.com/nerrad567/beamline-core/migrations"
)

type notifyCall struct {
	event processing.Event
	dcid  int64
}

type fakeNotifier struct {
	mu    sync.Mutex
	err   error
	calls []notifyCall
}

func (f *fakeNotifier) Notify(_ context.Context, event processing.Event, dcid int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, notifyCall{event, dcid})
	return f.err
}

func (f *fakeNotifier) Environment() string { return "dev_artemis" }

type fixture struct {
	srv       *Server
	router    http.Handler
	notifier  *fakeNotifier
	collector *processing.Collector
	journal   *journal.SQLiteRepository
	metrics   *metrics.Processing
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if err := m.Register(); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	resources := registry.New(registry.WithPrefix("BL03S-"))
	beamline := config.BeamlineConfig{Name: "i03", Resources: config.DefaultResources()}

	f := &fixture{
		notifier:  &fakeNotifier{},
		collector: processing.NewCollector("zocalo", time.Second),
		journal:   journal.NewSQLiteRepository(db.DB),
		metrics:   m,
	}

	srv, err := New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:    logging.Discard(),
		Registry:  resources,
		Catalogue: catalogue.New(resources, nil, beamline),
		Trigger:   f.notifier,
		Collector: f.collector,
		Journal:   f.journal,
		Metrics:   m,
		Gatherer:  reg,
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f.srv = srv
	f.router = srv.buildRouter()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

func TestNewRequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() with no logger should fail")
	}
	if _, err := New(Deps{Logger: logging.Discard(), Registry: registry.New()}); err == nil {
		t.Error("New() with no trigger should fail")
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/v1/health", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[map[string]any](t, w)
	if resp["status"] != "ok" || resp["version"] != "test" {
		t.Errorf("resp = %v", resp)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/results", nil)
	req.Header.Set("Origin", "http://console.local")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://console.local" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestResources(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/resources",
		`{"name":"aperture","address":"AL-SLITS-01:","simulated":true,"wait_for_connection":true,"settings":{"large":[0,12.5]}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	created := decode[registry.Summary](t, w)
	if created.Address != "BL03S-AL-SLITS-01:" || created.State != registry.StateReady || !created.Simulated {
		t.Errorf("created = %+v", created)
	}

	// Second request reuses the handle and reapplies settings.
	w = f.do(t, http.MethodPost, "/api/v1/resources", `{"name":"aperture","settings":{"small":[1,2]}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("reuse status = %d", w.Code)
	}
	rec, err := f.srv.registry.State("aperture")
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	sim, ok := rec.Handle.(*control.SimHandle)
	if !ok {
		t.Fatalf("handle = %T", rec.Handle)
	}
	if sim.ConfigureCount() != 2 {
		t.Errorf("ConfigureCount = %d, want 2", sim.ConfigureCount())
	}
	if _, hasLarge := sim.Settings()["large"]; hasLarge {
		t.Error("settings should be replaced, not merged")
	}

	w = f.do(t, http.MethodGet, "/api/v1/resources", "")
	list := decode[struct {
		Prefix string `json:"prefix"`
		Count  int    `json:"count"`
	}](t, w)
	if list.Prefix != "BL03S-" || list.Count != 1 {
		t.Errorf("list = %+v", list)
	}

	if w := f.do(t, http.MethodGet, "/api/v1/resources/aperture", ""); w.Code != http.StatusOK {
		t.Errorf("get status = %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/v1/resources/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing status = %d", w.Code)
	}
}

func TestCreateResourceErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"no name", `{"address":"X"}`, http.StatusBadRequest},
		{"bad timeout", `{"name":"a","connect_timeout":"soon"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if w := f.do(t, http.MethodPost, "/api/v1/resources", tt.body); w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
		})
	}
}

func TestCreateResourceConnectionFailure(t *testing.T) {
	f := newFixture(t)
	f.srv.factory = control.Simulated(control.WithConnectError(errors.New("ioc down")))

	w := f.do(t, http.MethodPost, "/api/v1/resources", `{"name":"detector","address":"EA-DET-01:","wait_for_connection":true}`)
	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", w.Code)
	}
	if got := decode[Error](t, w); got.Code != ErrCodeConnection {
		t.Errorf("code = %q", got.Code)
	}
	if _, err := f.srv.registry.GetOrCreate(context.Background(), "detector", registry.Options{}); err == nil {
		t.Error("failed resource should not be usable")
	}
}

func TestCatalogue(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/catalogue", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /catalogue status = %d", w.Code)
	}
	list := decode[struct {
		Resources []CatalogueEntry `json:"resources"`
		Count     int              `json:"count"`
	}](t, w)
	if list.Count != len(config.DefaultResources()) {
		t.Errorf("count = %d", list.Count)
	}
	for _, e := range list.Resources {
		if e.State != registry.StateUncreated {
			t.Errorf("%s state = %v before any request", e.Name, e.State)
		}
	}

	w = f.do(t, http.MethodPost, "/api/v1/catalogue/undulator", "")
	if w.Code != http.StatusOK {
		t.Fatalf("POST /catalogue/undulator status = %d body = %s", w.Code, w.Body)
	}
	got := decode[registry.Summary](t, w)
	if got.Address != "SR03I-MO-SERVC-01:" || got.State != registry.StateReady || !got.Simulated {
		t.Errorf("undulator = %+v", got)
	}

	w = f.do(t, http.MethodPost, "/api/v1/catalogue/aperture_scatterguard",
		`{"settings":{"small":[3.0,44.0,15.8,5.3,4.43]}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("POST aperture status = %d body = %s", w.Code, w.Body)
	}
	rec, err := f.srv.registry.State("aperture_scatterguard")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Handle.(*control.SimHandle).Settings()["small"] == nil {
		t.Error("aperture positions not applied")
	}

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown", "/api/v1/catalogue/robot", "", http.StatusNotFound},
		{"bad json", "/api/v1/catalogue/zebra", "{", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := f.do(t, http.MethodPost, tt.path, tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestNotify(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		err      error
		status   int
		wantCall bool
	}{
		{"start", "/api/v1/collections/100/start", nil, http.StatusAccepted, true},
		{"end", "/api/v1/collections/100/end", nil, http.StatusAccepted, true},
		{"bad dcid", "/api/v1/collections/abc/start", nil, http.StatusBadRequest, false},
		{"negative dcid", "/api/v1/collections/-1/start", nil, http.StatusBadRequest, false},
		{"bad event", "/api/v1/collections/100/pause", nil, http.StatusBadRequest, false},
		{"configuration", "/api/v1/collections/100/start", fmt.Errorf("%w: unknown", processing.ErrConfiguration), http.StatusInternalServerError, true},
		{"transport", "/api/v1/collections/100/end", errors.New("connection refused"), http.StatusBadGateway, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.notifier.err = tt.err

			w := f.do(t, http.MethodPost, tt.path, "")
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
			if got := len(f.notifier.calls) == 1; got != tt.wantCall {
				t.Errorf("calls = %v", f.notifier.calls)
			}
			if tt.wantCall && f.notifier.calls[0].dcid != 100 {
				t.Errorf("dcid = %d", f.notifier.calls[0].dcid)
			}
		})
	}
}

func TestResultsTriggerAndRead(t *testing.T) {
	f := newFixture(t)

	if w := f.do(t, http.MethodPost, "/api/v1/results/trigger", ""); w.Code != http.StatusAccepted {
		t.Fatalf("trigger status = %d", w.Code)
	}

	f.collector.Deliver(processing.ResultSet{
		CollectionID: 100,
		Results:      []processing.Result{{MaxCount: 105062}, {MaxCount: 9}},
	})

	w := f.do(t, http.MethodGet, "/api/v1/results?timeout=2s", "")
	if w.Code != http.StatusOK {
		t.Fatalf("read status = %d: %s", w.Code, w.Body.String())
	}
	resp := decode[ResultsResponse](t, w)
	if resp.State != processing.StateResultReady || resp.CollectionID != 100 || len(resp.Results) != 2 {
		t.Errorf("resp = %+v", resp)
	}
	if resp.First == nil || resp.First.MaxCount != 105062 {
		t.Errorf("first = %+v", resp.First)
	}

	latest := decode[ResultsResponse](t, f.do(t, http.MethodGet, "/api/v1/results/latest", ""))
	if latest.CollectionID != 100 {
		t.Errorf("latest = %+v", latest)
	}
}

func TestResultsErrors(t *testing.T) {
	tests := []struct {
		name    string
		trigger bool
		query   string
		status  int
	}{
		{"not triggered", false, "", http.StatusConflict},
		{"timeout", true, "?timeout=10ms", http.StatusGatewayTimeout},
		{"bad timeout", true, "?timeout=later", http.StatusBadRequest},
		{"timeout too long", true, "?timeout=1h", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.trigger {
				f.collector.Trigger()
			}
			if w := f.do(t, http.MethodGet, "/api/v1/results"+tt.query, ""); w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
		})
	}
}

func TestLatestResultsEmpty(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/v1/results/latest", "")
	if !strings.Contains(w.Body.String(), `"results":[]`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestJournal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, e := range []*journal.Entry{
		{Kind: journal.KindNotification, CollectionID: 100, Event: "start", Outcome: journal.OutcomeSent},
		{Kind: journal.KindNotification, CollectionID: 101, Event: "start", Outcome: journal.OutcomeFailed, Error: "refused"},
		{Kind: journal.KindResultSet, CollectionID: 100, Outcome: journal.OutcomeReceived},
	} {
		if err := f.journal.Create(ctx, e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	tests := []struct {
		query  string
		status int
		total  int
	}{
		{"", http.StatusOK, 3},
		{"?kind=notification", http.StatusOK, 2},
		{"?ispyb_dcid=100", http.StatusOK, 2},
		{"?outcome=failed", http.StatusOK, 1},
		{"?limit=1", http.StatusOK, 3},
		{"?kind=bogus", http.StatusBadRequest, 0},
		{"?limit=-1", http.StatusBadRequest, 0},
		{"?ispyb_dcid=x", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := f.do(t, http.MethodGet, "/api/v1/journal"+tt.query, "")
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if tt.status != http.StatusOK {
				return
			}
			if got := decode[journal.ListResult](t, w); got.Total != tt.total {
				t.Errorf("total = %d, want %d", got.Total, tt.total)
			}
		})
	}
}

func TestJournalNotConfigured(t *testing.T) {
	f := newFixture(t)
	f.srv.journal = nil
	if w := f.do(t, http.MethodGet, "/api/v1/journal", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", w.Code)
	}
}

func TestMetricsEndpoints(t *testing.T) {
	f := newFixture(t)
	f.metrics.ObserveNotification(context.Background(), processing.Notification{
		Message:     processing.Message{Event: processing.EventStart, CollectionID: 1},
		Environment: "dev_artemis",
	})
	f.collector.Trigger()

	sys := decode[SystemMetrics](t, f.do(t, http.MethodGet, "/api/v1/metrics", ""))
	if sys.Collector.State != "triggered" || sys.Processing == nil || sys.Processing.NotificationsSent != 1 {
		t.Errorf("metrics = %+v", sys)
	}

	w := f.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `beamline_processing_notifications_total{event="start",outcome="sent"} 1`) {
		t.Errorf("exposition missing counter:\n%s", w.Body.String())
	}
}

func TestWebSocketResultBroadcast(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	sub := WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{ChannelResultSet}}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack.Type != WSTypeResponse || ack.ID != "1" {
		t.Fatalf("ack = %+v", ack)
	}

	f.srv.Hub().HandleResultSet(processing.ResultSet{CollectionID: 42, Results: []processing.Result{{MaxCount: 7}}})

	var event struct {
		Type      string               `json:"type"`
		EventType string               `json:"event_type"`
		Payload   processing.ResultSet `json:"payload"`
	}
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.EventType != ChannelResultSet || event.Payload.CollectionID != 42 {
		t.Errorf("event = %+v", event)
	}
}

func TestHubSkipsUnsubscribed(t *testing.T) {
	hub := NewHub(logging.Discard())
	client := &WSClient{hub: hub, send: make(chan []byte, 1), subscriptions: map[string]struct{}{ChannelNotification: {}}}
	hub.Register(client)

	hub.HandleResultSet(processing.ResultSet{CollectionID: 1})
	if len(client.send) != 0 {
		t.Error("client not subscribed to result sets received one")
	}

	hub.ObserveNotification(context.Background(), processing.Notification{Err: errors.New("refused")})
	if len(client.send) != 1 {
		t.Fatal("notification not delivered")
	}
	var msg struct {
		Payload notificationEvent `json:"payload"`
	}
	if err := json.Unmarshal(<-client.send, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Payload.Outcome != "failed" || msg.Payload.Error != "refused" {
		t.Errorf("payload = %+v", msg.Payload)
	}

	hub.Unregister(client)
	hub.Unregister(client) // second call must not double-close
}
