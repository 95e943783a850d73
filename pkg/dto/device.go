package dto

import "github.com/google/uuid"

type DeviceResponse struct {
	ID               uuid.UUID `json:"id"`
	SerialNumber     string    `json:"serial_number"`
	Name             *string   `json:"name"`
	FirmwareVersion  *string   `json:"firmware_version"`
	SupportsFace     bool      `json:"supports_face"`
	SupportsFinger   bool      `json:"supports_finger"`
	SupportsRFID     bool      `json:"supports_rfid"`
	LastSeen         string    `json:"last_seen"`
	Online           bool      `json:"online"`
	TransactionStamp string    `json:"transaction_stamp"`
	CreatedAt        string    `json:"created_at"`
}

type RegisterDeviceRequest struct {
	SerialNumber string  `json:"serial_number" binding:"required"`
	Name         *string `json:"name"`
}
