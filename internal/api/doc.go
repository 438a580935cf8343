// Package api implements the HTTP REST API and WebSocket server for the
// beamline core.
//
// # Routes
//
//	GET  /metrics                           Prometheus exposition
//	GET  /api/v1/health
//	GET  /api/v1/metrics                    JSON system metrics
//	GET  /api/v1/resources                  registry snapshot
//	POST /api/v1/resources                  get or create a resource
//	GET  /api/v1/resources/{name}
//	GET  /api/v1/catalogue                  named resources with their state
//	POST /api/v1/catalogue/{name}           get or create a named resource
//	POST /api/v1/collections/{dcid}/{event} send a start or end notification
//	POST /api/v1/results/trigger            arm the result collector
//	GET  /api/v1/results?timeout=30s        wait for the next result set
//	GET  /api/v1/results/latest             current result set, no wait
//	GET  /api/v1/journal                    notification and result history
//	GET  /api/v1/ws                         live events
//
// # WebSocket
//
// Clients subscribe to channels with
//
//	{"type":"subscribe","payload":{"channels":["processing.result_set"]}}
//
// and then receive processing.result_set and processing.notification events
// as the Hub observes them.
//
// # Error responses
//
// Errors are JSON objects with status, code and message. A trigger whose
// broker environment is unknown returns configuration_error; a failed send
// returns transport_error with 502; a result wait that runs out returns
// timeout with 504.
package api
