// Package mqtt provides MQTT client connectivity for the beamline core.
//
// This package manages:
//   - Long-lived connections with auto-reconnect and Last Will status
//   - Short-lived session connections for one-shot sends
//   - Publishing with QoS validation and payload limits
//   - Topic subscriptions restored after reconnect
//
// # Architecture
//
// The broker carries two kinds of traffic. Device state and command topics
// back the control-system handles, and the processing topics carry recipe
// triggers out and result sets back.
//
//	beamline core ↔ MQTT broker ↔ device bridges / processing services
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceStates(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("%s = %s", topic, payload)
//	        return nil
//	    })
package mqtt
