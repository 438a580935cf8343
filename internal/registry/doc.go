// Package registry caches one control-system handle per resource name.
//
// # Architecture
//
// The Registry is owned by one long-lived context (the server, or a CLI
// command) and injected where needed. Records move through
// Uncreated -> Connecting -> Ready | Failed. Only Ready records are handed
// out; a Failed record keeps its error for diagnostics and is replaced by
// the next request.
//
// Concurrent requests for one name are collapsed with singleflight, so
// exactly one factory call happens and every caller receives the same
// handle. Callers that joined an in-flight creation still run their own
// PostCreate hook on the resulting handle. The creation runs detached from
// the caller that started it, so one caller going away does not fail the
// others.
//
// # Usage
//
//	reg := registry.New(registry.WithPrefix("BL03I"))
//	defer reg.Close()
//
//	aperture, err := reg.GetOrCreate(ctx, "aperture", registry.Options{
//	    Factory:           control.BusFactory(bus),
//	    Address:           "-AL-APTR-01",
//	    WaitForConnection: true,
//	    PostCreate:        control.Configure(positions),
//	})
//	if errors.Is(err, control.ErrConnection) {
//	    // retry later; nothing was cached
//	}
package registry
