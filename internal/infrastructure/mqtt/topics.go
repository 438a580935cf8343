package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the beamline bus.
//
// Device topics use a flat scheme: beamline/{category}/{address}. Addresses
// contain ':' which is legal in MQTT topic names.
const (
	// TopicPrefix is the base for all beamline topics.
	TopicPrefix = "beamline"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "beamline/system"

	// TopicPrefixProcessing is the base for processing topics.
	TopicPrefixProcessing = "beamline/processing"
)

// Topics provides builders for beamline MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.DeviceState("BL03I-MO-SAMP-01:X")
//	// Returns: "beamline/state/BL03I-MO-SAMP-01:X"
type Topics struct{}

// DeviceState returns the topic carrying the current value of a device.
func (Topics) DeviceState(address string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, address)
}

// DeviceCommand returns the topic a device listens on for writes.
func (Topics) DeviceCommand(address string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, address)
}

// DeviceConfig returns the retained topic carrying a device's settings block.
func (Topics) DeviceConfig(address string) string {
	return fmt.Sprintf("%s/config/%s", TopicPrefix, address)
}

// AllDeviceStates matches every device state topic.
func (Topics) AllDeviceStates() string {
	return TopicPrefix + "/state/+"
}

// SystemStatus returns the retained online/offline status topic.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// ProcessingDestination returns the topic a processing destination maps to,
// for example "processing_recipe" -> "beamline/processing/processing_recipe".
// prefix replaces TopicPrefixProcessing when non-empty.
func (Topics) ProcessingDestination(prefix, destination string) string {
	if prefix == "" {
		prefix = TopicPrefixProcessing
	}
	return strings.TrimSuffix(prefix, "/") + "/" + destination
}

// ProcessingResults returns the topic processing results are published on.
func (Topics) ProcessingResults() string {
	return TopicPrefixProcessing + "/results"
}

// AddressFromStateTopic extracts the device address from a state topic.
// It returns "" if topic is not a device state topic.
func (Topics) AddressFromStateTopic(topic string) string {
	address, ok := strings.CutPrefix(topic, TopicPrefix+"/state/")
	if !ok {
		return ""
	}
	return address
}
