// Package processing talks to the remote analysis service.
//
// A Trigger announces collection start and end as "mimas" recipe
// envelopes, one broker session per announcement. A Collector receives the
// result sets the service computes after a collection ends.
//
// # Trigger protocol
//
// Each Notify call resolves the broker environment by name, opens a session,
// sends
//
//	{"recipes": ["mimas"], "parameters": {"event": "start", "ispyb_dcid": 100}}
//
// to "processing_recipe" with zocalo.go.user and zocalo.go.host headers,
// then closes the session whatever happened. Send failures are returned to
// the caller unmodified and are never retried.
//
// # Collector
//
// The collector is a single-slot mailbox:
//
//	collector.Trigger()
//	results, err := collector.Await(ctx, 5*time.Second)
//	if errors.Is(err, processing.ErrTimeout) {
//	    // state is TimedOut; Trigger again to retry
//	}
//
// # Usage
//
//	trigger := processing.NewTrigger("dev_artemis", envFile, broker.NewOpener())
//	if err := trigger.RunStart(ctx, dcid); err != nil {
//	    return err
//	}
package processing
