package models

import (
	"time"

	"github.com/google/uuid"
)

type Employee struct {
	ID           uuid.UUID `json:"id" db:"id"`
	EmployeeCode string    `json:"employee_code" db:"employee_code"`
	Name         *string   `json:"name,omitempty" db:"name"`
	RFIDCard     *string   `json:"rfid_card,omitempty" db:"rfid_card"`
	Privilege    int       `json:"privilege" db:"privilege"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

type TemplateKind string

const (
	TemplateFinger TemplateKind = "finger"
	TemplateFace   TemplateKind = "face"
)

// BiometricTemplate is an enrolled template. Data is stored exactly as the
// terminal sent it and never decoded.
type BiometricTemplate struct {
	ID         uuid.UUID    `json:"id" db:"id"`
	EmployeeID uuid.UUID    `json:"employee_id" db:"employee_id"`
	Kind       TemplateKind `json:"template_type" db:"template_type"`
	FingerID   *int         `json:"finger_id,omitempty" db:"finger_id"`
	Data       string       `json:"-" db:"template_data"`
	UpdatedAt  time.Time    `json:"updated_at" db:"updated_at"`
}
