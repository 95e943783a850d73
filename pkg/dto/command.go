package dto

import "github.com/google/uuid"

type CommandResponse struct {
	ID            uuid.UUID `json:"id"`
	CommandID     int64     `json:"command_id"`
	DeviceSN      string    `json:"device_sn"`
	CommandString string    `json:"command_string"`
	Status        string    `json:"status"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	CreatedAt     string    `json:"created_at"`
	UpdatedAt     string    `json:"updated_at"`
}

type EnqueueCommandRequest struct {
	Command string `json:"command" binding:"required"`
}
