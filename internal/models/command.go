package models

import (
	"time"

	"github.com/google/uuid"
)

type CommandStatus string

const (
	CommandPending CommandStatus = "pending"
	CommandSent    CommandStatus = "sent"
	CommandAcked   CommandStatus = "acked"
	CommandFailed  CommandStatus = "failed"
)

// PendingCommand is a command queued for one terminal. CommandID is the
// integer the terminal sees in "C:<id>:<cmd>" and echoes back in its result.
type PendingCommand struct {
	ID            uuid.UUID     `json:"id" db:"id"`
	CommandID     int64         `json:"command_id" db:"command_id"`
	DeviceSN      string        `json:"device_sn" db:"device_sn"`
	CommandString string        `json:"command_string" db:"command_string"`
	Status        CommandStatus `json:"status" db:"status"`
	ErrorMessage  string        `json:"error_message,omitempty" db:"error_message"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}

// CommandEvent is published on the event stream after a command changes state.
type CommandEvent struct {
	DeviceSN     string        `json:"device_sn"`
	CommandID    int64         `json:"command_id"`
	Status       CommandStatus `json:"status"`
	ErrorMessage string        `json:"error_message,omitempty"`
}
