package journal

import (
	"context"
	"time"

	"github.com/nerrad567/beamline-core/internal/processing"
)

// writeTimeout bounds one journal insert.
const writeTimeout = 2 * time.Second

// Logger defines the logging interface used by the Recorder.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Recorder writes trigger outcomes and received result sets to a Repository.
//
// It implements processing.NotificationObserver and processing.ResultSink.
// Write failures are logged and never reach the trigger or collector.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a Recorder on repo.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo, logger: noopLogger{}}
}

// SetLogger sets the logger for write failures.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// ObserveNotification implements processing.NotificationObserver.
func (r *Recorder) ObserveNotification(ctx context.Context, n processing.Notification) {
	e := &Entry{
		Kind:         KindNotification,
		CollectionID: n.Message.CollectionID,
		Event:        string(n.Message.Event),
		Environment:  n.Environment,
		Outcome:      OutcomeSent,
		Details:      map[string]any{"duration_ms": n.Duration.Milliseconds()},
	}
	if n.Err != nil {
		e.Outcome = OutcomeFailed
		e.Error = n.Err.Error()
	}
	r.write(context.WithoutCancel(ctx), e)
}

// HandleResultSet implements processing.ResultSink.
func (r *Recorder) HandleResultSet(set processing.ResultSet) {
	count := len(set.Results)
	e := &Entry{
		Kind:         KindResultSet,
		CollectionID: set.CollectionID,
		Outcome:      OutcomeReceived,
		ResultCount:  &count,
		CreatedAt:    set.ReceivedAt,
	}
	if first, ok := set.First(); ok {
		e.Details = map[string]any{
			"max_count":    first.MaxCount,
			"total_count":  first.TotalCount,
			"max_voxel":    first.MaxVoxel,
			"bounding_box": first.BoundingBox,
		}
	}
	r.write(context.Background(), e)
}

func (r *Recorder) write(ctx context.Context, e *Entry) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := r.repo.Create(ctx, e); err != nil {
		r.logger.Warn("journal write failed",
			"kind", string(e.Kind),
			"dcid", e.CollectionID,
			"error", err,
		)
	}
}
