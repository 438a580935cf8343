// Package catalogue gives the beamline's named resources fixed addresses.
//
// Each entry comes from the beamline.resources section of the config: a
// name, an address relative to the beamline prefix (or with its own
// prefix, like the undulator on the storage ring) and whether creation
// waits for the resource to connect. Lookups go through the registry, so
// every caller asking for "zebra" gets the same handle.
//
//	cat := catalogue.New(reg, control.BusFactory(bus), cfg.Beamline)
//	aperture, err := cat.Get(ctx, "aperture_scatterguard",
//	    catalogue.WithSettings(positions))
package catalogue
