package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/beamline-core/internal/processing"
)

const namespace = "beamline"

// Outcome label values.
const (
	OutcomeSent   = "sent"
	OutcomeFailed = "failed"
)

// Processing tracks trigger and result activity.
//
// It implements processing.NotificationObserver and processing.ResultSink so
// it can be attached to a Trigger and a Collector directly.
type Processing struct {
	mu sync.RWMutex

	snapshot Snapshot

	notificationsTotal   *prometheus.CounterVec
	notificationDuration *prometheus.HistogramVec
	resultSetsTotal      prometheus.Counter
	resultsTotal         prometheus.Counter
	lastResultTimestamp  prometheus.Gauge

	registerer prometheus.Registerer
	registered bool
}

// Snapshot is a point-in-time JSON view of the counters.
type Snapshot struct {
	NotificationsSent   uint64    `json:"notifications_sent"`
	NotificationsFailed uint64    `json:"notifications_failed"`
	ResultSets          uint64    `json:"result_sets"`
	Results             uint64    `json:"results"`
	LastCollectionID    int64     `json:"last_ispyb_dcid,omitempty"`
	LastResultAt        time.Time `json:"last_result_at,omitzero"`
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processing",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "processing",
		Name:      name,
		Help:      help,
	})
}

// New creates the processing collectors. A nil registerer means
// prometheus.DefaultRegisterer.
func New(registerer prometheus.Registerer) *Processing {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Processing{
		registerer:         registerer,
		notificationsTotal: newCounterVec("notifications_total", "Processing notifications by event and outcome", []string{"event", "outcome"}),
		notificationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "processing",
				Name:      "notification_duration_seconds",
				Help:      "Time to open a broker session, send and close",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"environment"},
		),
		resultSetsTotal: newCounter("result_sets_total", "Result sets received from the processing pipeline"),
		resultsTotal:    newCounter("results_total", "Individual results received across all result sets"),
		lastResultTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "processing",
			Name:      "last_result_timestamp_seconds",
			Help:      "Unix time the latest result set was received",
		}),
	}
}

// Register registers the collectors. Safe to call more than once.
func (m *Processing) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.notificationsTotal,
		m.notificationDuration,
		m.resultSetsTotal,
		m.resultsTotal,
		m.lastResultTimestamp,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// ObserveNotification implements processing.NotificationObserver.
func (m *Processing) ObserveNotification(_ context.Context, n processing.Notification) {
	outcome := OutcomeSent
	if n.Err != nil {
		outcome = OutcomeFailed
	}

	m.mu.Lock()
	if n.Err != nil {
		m.snapshot.NotificationsFailed++
	} else {
		m.snapshot.NotificationsSent++
	}
	m.mu.Unlock()

	m.notificationsTotal.WithLabelValues(string(n.Message.Event), outcome).Inc()
	m.notificationDuration.WithLabelValues(n.Environment).Observe(n.Duration.Seconds())
}

// HandleResultSet implements processing.ResultSink.
func (m *Processing) HandleResultSet(set processing.ResultSet) {
	at := set.ReceivedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	m.mu.Lock()
	m.snapshot.ResultSets++
	m.snapshot.Results += uint64(len(set.Results))
	m.snapshot.LastCollectionID = set.CollectionID
	m.snapshot.LastResultAt = at
	m.mu.Unlock()

	m.resultSetsTotal.Inc()
	m.resultsTotal.Add(float64(len(set.Results)))
	m.lastResultTimestamp.Set(float64(at.Unix()))
}

// Snapshot returns the current counters.
func (m *Processing) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}
