package dto

import "github.com/google/uuid"

type EmployeeResponse struct {
	ID           uuid.UUID `json:"id"`
	EmployeeCode string    `json:"employee_code"`
	Name         *string   `json:"name"`
	RFIDCard     *string   `json:"rfid_card"`
	Privilege    int       `json:"privilege"`
	CreatedAt    string    `json:"created_at"`
	UpdatedAt    string    `json:"updated_at"`
}
