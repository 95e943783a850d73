package models

import (
	"time"

	"github.com/google/uuid"
)

type Device struct {
	ID               uuid.UUID `json:"id" db:"id"`
	SerialNumber     string    `json:"serial_number" db:"serial_number"`
	Name             *string   `json:"name,omitempty" db:"name"`
	FirmwareVersion  *string   `json:"firmware_version,omitempty" db:"firmware_version"`
	SupportsFace     bool      `json:"supports_face" db:"supports_face"`
	SupportsFinger   bool      `json:"supports_finger" db:"supports_finger"`
	SupportsRFID     bool      `json:"supports_rfid" db:"supports_rfid"`
	LastSeen         time.Time `json:"last_seen" db:"last_seen"`
	TransactionStamp string    `json:"transaction_stamp" db:"transaction_stamp"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// DeviceInfo is a partial device update decoded from an INFO record.
// Nil fields leave the stored value untouched.
type DeviceInfo struct {
	Name            *string
	FirmwareVersion *string
	SupportsFace    *bool
	SupportsFinger  *bool
	SupportsRFID    *bool
}

// Empty reports whether the update carries no fields.
func (d DeviceInfo) Empty() bool {
	return d.Name == nil && d.FirmwareVersion == nil &&
		d.SupportsFace == nil && d.SupportsFinger == nil && d.SupportsRFID == nil
}
