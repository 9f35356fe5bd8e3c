package mqtt

import (
	"strings"

	"github.com/nugget/system-monitor/internal/buildinfo"
)

// DeviceInfo holds the Home Assistant device registry fields shared
// across all MQTT discovery config payloads. Every sensor entity
// published by this host references the same device block so HA
// groups them under a single device page.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// SensorConfig is the JSON payload for an HA MQTT sensor discovery
// message. It is published retained to the discovery topic.
type SensorConfig struct {
	Name              string     `json:"name"`
	UniqueID          string     `json:"unique_id"`
	StateTopic        string     `json:"state_topic"`
	AvailabilityTopic string     `json:"availability_topic,omitempty"`
	Device            DeviceInfo `json:"device"`
	Icon              string     `json:"icon,omitempty"`
	DeviceClass       string     `json:"device_class,omitempty"`
	UnitOfMeasurement string     `json:"unit_of_measurement,omitempty"`
	StateClass        string     `json:"state_class,omitempty"`
	ValueTemplate     string     `json:"value_template,omitempty"`
}

// NewDeviceInfo describes the monitored host. The identifier combines
// the program and client ID so two monitors on one broker stay
// distinct devices in HA.
func NewDeviceInfo(programName, clientID string) DeviceInfo {
	id := programName + "_" + clientID
	return DeviceInfo{
		Identifiers:  []string{id},
		Name:         strings.ReplaceAll(programName+" "+clientID, "_", " "),
		Manufacturer: programName,
		Model:        id,
		SWVersion:    buildinfo.Version,
	}
}
