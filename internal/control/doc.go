// Package control defines handles to named control-system endpoints.
//
// A Handle is a connectable proxy (a motor axis, a detector, a shutter)
// created by a Factory from a name and a full address. Handles are created
// once and shared through the registry package.
//
// # Implementations
//
//   - SimHandle: in-process stand-in that connects immediately, used when a
//     resource is created in simulated mode and in tests.
//   - BusHandle: bridged over the MQTT bus; connected once the device's
//     retained state has been observed.
//
// # Usage
//
//	factory := control.BusFactory(mqttClient)
//	h, err := factory("sample_x", "BL03I-MO-SAMP-01:X")
//	if err := h.WaitConnected(ctx, 10*time.Second); err != nil {
//	    // errors.Is(err, control.ErrConnection)
//	}
package control
