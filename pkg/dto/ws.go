package dto

import "encoding/json"

// WSEvent is a WebSocket message for real-time delivery.
type WSEvent struct {
	Type     string          `json:"type"` // attendance, command
	DeviceSN string          `json:"device_sn"`
	Data     json.RawMessage `json:"data"`
}
