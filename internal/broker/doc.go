// Package broker opens the per-call sessions processing triggers are sent
// over.
//
// An environment's transport picks the client:
//
//   - mqtt: a fresh paho connection with a unique client ID, publishing to
//     {destination_prefix}{destination} (default beamline/processing/...).
//     Headers are embedded in the JSON body under "headers".
//   - nats: a fresh nats.go connection publishing to
//     {destination_prefix}{destination} with native message headers,
//     flushed before Send returns.
//
// Sessions are never pooled. Closing a session always releases its
// connection.
package broker
