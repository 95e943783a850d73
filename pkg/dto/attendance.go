package dto

import "github.com/google/uuid"

type AttendanceResponse struct {
	ID             uuid.UUID `json:"id"`
	EmployeeCode   string    `json:"employee_code"`
	EmployeeName   *string   `json:"employee_name"`
	DeviceSN       *string   `json:"device_sn"`
	PunchTimestamp string    `json:"punch_timestamp"`
	StatusCode     *int      `json:"status_code"`
	VerifyMode     *int      `json:"verify_mode"`
	PhotoURL       *string   `json:"photo_url"`
}

// AttendanceQuery filters GET /v1/attendance. Dates are terminal wall time,
// either "2006-01-02" or "2006-01-02 15:04:05" (or RFC 3339).
type AttendanceQuery struct {
	StartDate    string `form:"start_date"`
	EndDate      string `form:"end_date"`
	EmployeeCode string `form:"employee_code"`
	DeviceSN     string `form:"device_sn"`
	Limit        int    `form:"limit"`
}
