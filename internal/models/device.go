package models

import "time"

// Manufacturer is recorded on every device.
const Manufacturer = "Proxmox VE"

// Device is a registry record for one node or guest. A device may be
// reachable through several cluster connections.
type Device struct {
	ID            string    `json:"id"`
	Identifier    string    `json:"identifier"`
	ConnectionIDs []string  `json:"connection_ids"`
	Name          string    `json:"name"`
	Manufacturer  string    `json:"manufacturer"`
	Model         string    `json:"model"`
	// ViaIdentifier links a guest to the device of its node.
	ViaIdentifier string    `json:"via_identifier,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasConnection reports whether the device is linked to the connection.
func (d *Device) HasConnection(connectionID string) bool {
	for _, id := range d.ConnectionIDs {
		if id == connectionID {
			return true
		}
	}
	return false
}

// EntityEntry is the persisted registration of one entity.
type EntityEntry struct {
	UniqueID         string    `json:"unique_id"`
	ConnectionID     string    `json:"connection_id"`
	DeviceIdentifier string    `json:"device_identifier"`
	Platform         string    `json:"platform"`
	Name             string    `json:"name"`
	CreatedAt        time.Time `json:"created_at"`
}
