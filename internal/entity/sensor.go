package entity

import (
	"github.com/narvanalabs/pve-monitor/internal/models"
)

// SensorDescription describes one sensor variant.
type SensorDescription struct {
	Suffix string
	Label  string
	Unit   string
	Icon   string
	value  valueFunc
}

// GuestSensorDescriptions are created for every VM and container.
var GuestSensorDescriptions = []SensorDescription{
	{Suffix: "status", Label: "Status", Icon: "mdi:power", value: text("status")},
	{Suffix: "cpu", Label: "CPU", Unit: "%", Icon: "mdi:cpu-64-bit", value: percent("cpu")},
	{Suffix: "ram_used_mb", Label: "RAM Used", Unit: "MB", Icon: "mdi:memory", value: megabytes("mem")},
	{Suffix: "uptime_pretty", Label: "Uptime", Icon: "mdi:timer-outline", value: uptime("uptime")},
	{Suffix: "netin_mb", Label: "Network In", Unit: "MB", Icon: "mdi:download-network", value: megabytes("netin")},
	{Suffix: "netout_mb", Label: "Network Out", Unit: "MB", Icon: "mdi:upload-network", value: megabytes("netout")},
	{Suffix: "ip_preferred", Label: "IP", Icon: "mdi:ip-network", value: text(models.FieldPreferredIP)},
}

// NodeSensorDescriptions are created for every compute node.
var NodeSensorDescriptions = []SensorDescription{
	{Suffix: "cpu", Label: "CPU", Unit: "%", Icon: "mdi:cpu-64-bit", value: percent("cpu")},
	{Suffix: "load1", Label: "Load (1m)", Icon: "mdi:gauge", value: load1},
	{Suffix: "ram_used_mb", Label: "RAM Used", Unit: "MB", Icon: "mdi:memory", value: nestedMegabytes("memory", "used")},
	{Suffix: "ram_total_mb", Label: "RAM Total", Unit: "MB", Icon: "mdi:memory", value: nestedMegabytes("memory", "total")},
	{Suffix: "ram_free_mb", Label: "RAM Free", Unit: "MB", Icon: "mdi:memory", value: nestedMegabytes("memory", "free")},
	{Suffix: "swap_used_mb", Label: "Swap Used", Unit: "MB", Icon: "mdi:swap-horizontal", value: nestedMegabytes("swap", "used")},
	{Suffix: "swap_total_mb", Label: "Swap Total", Unit: "MB", Icon: "mdi:swap-horizontal", value: nestedMegabytes("swap", "total")},
	{Suffix: "swap_free_mb", Label: "Swap Free", Unit: "MB", Icon: "mdi:swap-horizontal", value: nestedMegabytes("swap", "free")},
	{Suffix: "storage_used_gb", Label: "Storage Used", Unit: "GB", Icon: "mdi:harddisk", value: nestedGigabytes("rootfs", "used")},
	{Suffix: "storage_total_gb", Label: "Storage Total", Unit: "GB", Icon: "mdi:harddisk", value: nestedGigabytes("rootfs", "total")},
	{Suffix: "storage_free_gb", Label: "Storage Free", Unit: "GB", Icon: "mdi:harddisk", value: nestedGigabytes("rootfs", "free")},
	{Suffix: "uptime", Label: "Uptime", Icon: "mdi:timer-outline", value: uptime("uptime")},
}

// Sensor reports one value from a node or guest status.
type Sensor struct {
	base
	desc SensorDescription
}

var _ ResourceEntity = (*Sensor)(nil)

// NewGuestSensors creates the sensors of one guest.
func NewGuestSensors(connectionID string, key models.ResourceKey, record models.Record, source Source) []ResourceEntity {
	out := make([]ResourceEntity, 0, len(GuestSensorDescriptions))
	for _, desc := range GuestSensorDescriptions {
		out = append(out, &Sensor{
			base: newBase(connectionID, key, record, source, PlatformSensor, desc.Suffix, desc.Label),
			desc: desc,
		})
	}
	return out
}

// NewNodeSensors creates the sensors of one compute node.
func NewNodeSensors(connectionID, node string, source Source) []ResourceEntity {
	key := models.NodeKey(node)
	record := models.Record{"node": node}
	out := make([]ResourceEntity, 0, len(NodeSensorDescriptions))
	for _, desc := range NodeSensorDescriptions {
		out = append(out, &Sensor{
			base: newBase(connectionID, key, record, source, PlatformSensor, desc.Suffix, desc.Label),
			desc: desc,
		})
	}
	return out
}

// Description returns the sensor's description.
func (s *Sensor) Description() SensorDescription {
	return s.desc
}

// State returns the sensor value, or nil when unknown.
func (s *Sensor) State() any {
	return s.desc.value(s.data())
}

// Attributes adds the guest's address list to the preferred IP sensor.
func (s *Sensor) Attributes() map[string]any {
	attrs := s.base.Attributes()
	if s.desc.Suffix == "ip_preferred" {
		addrs := s.data().Strings(models.FieldIPAddresses)
		if addrs == nil {
			addrs = []string{}
		}
		attrs[models.FieldIPAddresses] = addrs
	}
	if s.desc.Unit != "" {
		attrs["unit_of_measurement"] = s.desc.Unit
	}
	return attrs
}
