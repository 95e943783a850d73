package models

import (
	"time"

	"github.com/google/uuid"
)

// AttendanceLog is one punch. PunchTimestamp is terminal-local wall time
// stored without a zone.
type AttendanceLog struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	DeviceID       *uuid.UUID `json:"device_id,omitempty" db:"device_id"`
	EmployeeID     uuid.UUID  `json:"employee_id" db:"employee_id"`
	PunchTimestamp time.Time  `json:"punch_timestamp" db:"punch_timestamp"`
	StatusCode     *int       `json:"status_code,omitempty" db:"status_code"`
	VerifyMode     *int       `json:"verify_mode,omitempty" db:"verify_mode"`
	PhotoPath      *string    `json:"att_photo_path,omitempty" db:"att_photo_path"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// AttendanceRow is an attendance log joined with its employee and device,
// as returned by the reporting query.
type AttendanceRow struct {
	AttendanceLog
	EmployeeCode string
	EmployeeName *string
	DeviceSN     *string
}

// AttendanceFilter narrows the reporting query. Zero values mean no filter.
type AttendanceFilter struct {
	From         *time.Time
	To           *time.Time
	EmployeeCode string
	DeviceSN     string
	Limit        int
}

// AttendanceEvent is published on the event stream after a new punch is stored.
type AttendanceEvent struct {
	LogID          uuid.UUID `json:"log_id"`
	DeviceSN       string    `json:"device_sn"`
	EmployeeCode   string    `json:"employee_code"`
	PunchTimestamp time.Time `json:"punch_timestamp"`
	StatusCode     *int      `json:"status_code,omitempty"`
	VerifyMode     *int      `json:"verify_mode,omitempty"`
	PhotoPath      string    `json:"photo_path,omitempty"`
}
