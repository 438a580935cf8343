package influxdb

import (
	"context"
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/beamline-core/internal/processing"
)

// Measurement names.
const (
	MeasurementResult       = "processing_result"
	MeasurementResultSet    = "processing_result_set"
	MeasurementNotification = "processing_notification"
)

// ResultSetPoints renders a result set as points: one summary point and one
// point per result, tagged with the collection and the result's rank.
func ResultSetPoints(beamline string, set processing.ResultSet) []*write.Point {
	ts := set.ReceivedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	dcid := strconv.FormatInt(set.CollectionID, 10)

	points := make([]*write.Point, 0, len(set.Results)+1)
	points = append(points, write.NewPoint(MeasurementResultSet,
		map[string]string{"beamline": beamline, "dcid": dcid},
		map[string]any{"count": len(set.Results)},
		ts,
	))

	for rank, r := range set.Results {
		points = append(points, write.NewPoint(MeasurementResult,
			map[string]string{
				"beamline": beamline,
				"dcid":     dcid,
				"rank":     strconv.Itoa(rank),
			},
			map[string]any{
				"max_count":   r.MaxCount,
				"total_count": r.TotalCount,
				"n_voxels":    r.NVoxels,
				"com_x":       r.CentreOfMass[0],
				"com_y":       r.CentreOfMass[1],
				"com_z":       r.CentreOfMass[2],
			},
			ts,
		))
	}
	return points
}

// NotificationPoint renders a trigger outcome as a point.
func NotificationPoint(beamline string, n processing.Notification, ts time.Time) *write.Point {
	outcome := "sent"
	if n.Err != nil {
		outcome = "failed"
	}
	return write.NewPoint(MeasurementNotification,
		map[string]string{
			"beamline":    beamline,
			"event":       string(n.Message.Event),
			"environment": n.Environment,
			"outcome":     outcome,
		},
		map[string]any{
			"dcid":        n.Message.CollectionID,
			"duration_ms": n.Duration.Milliseconds(),
		},
		ts,
	)
}

// Sink adapts a Client to the processing observers.
type Sink struct {
	client   *Client
	beamline string
}

// NewSink creates a Sink tagging every point with beamline.
func NewSink(client *Client, beamline string) *Sink {
	return &Sink{client: client, beamline: beamline}
}

// HandleResultSet implements processing.ResultSink.
func (s *Sink) HandleResultSet(set processing.ResultSet) {
	for _, p := range ResultSetPoints(s.beamline, set) {
		s.client.WritePoint(p)
	}
}

// ObserveNotification implements processing.NotificationObserver.
func (s *Sink) ObserveNotification(_ context.Context, n processing.Notification) {
	s.client.WritePoint(NotificationPoint(s.beamline, n, time.Now().UTC()))
}

// WritePoint queues p. Dropped silently when disconnected.
func (c *Client) WritePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}
