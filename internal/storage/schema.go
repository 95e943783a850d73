package storage

import (
	"context"
	"fmt"
)

// schema is applied by Migrate. Every statement is idempotent.
const schema = `
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE IF NOT EXISTS devices (
    id                UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    serial_number     TEXT NOT NULL UNIQUE,
    name              TEXT,
    firmware_version  TEXT,
    supports_face     BOOLEAN NOT NULL DEFAULT FALSE,
    supports_finger   BOOLEAN NOT NULL DEFAULT FALSE,
    supports_rfid     BOOLEAN NOT NULL DEFAULT FALSE,
    last_seen         TIMESTAMPTZ NOT NULL DEFAULT now(),
    transaction_stamp TEXT NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS employees (
    id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    employee_code TEXT NOT NULL UNIQUE,
    name          TEXT,
    rfid_card     TEXT,
    privilege     INTEGER NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS biometric_templates (
    id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    employee_id   UUID NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
    template_type TEXT NOT NULL CHECK (template_type IN ('finger', 'face')),
    finger_id     INTEGER,
    template_data TEXT NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS biometric_templates_slot_idx
    ON biometric_templates (employee_id, template_type, COALESCE(finger_id, -1));

-- punch_timestamp is terminal wall time without a zone.
CREATE TABLE IF NOT EXISTS attendance_logs (
    id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    device_id       UUID REFERENCES devices(id) ON DELETE SET NULL,
    employee_id     UUID NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
    punch_timestamp TIMESTAMP NOT NULL,
    status_code     INTEGER,
    verify_mode     INTEGER,
    att_photo_path  TEXT,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (device_id, employee_id, punch_timestamp)
);
CREATE INDEX IF NOT EXISTS attendance_logs_punch_idx ON attendance_logs (punch_timestamp DESC);

CREATE SEQUENCE IF NOT EXISTS pending_commands_command_id_seq;

CREATE TABLE IF NOT EXISTS pending_commands (
    id             UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    seq            BIGSERIAL,
    command_id     BIGINT NOT NULL UNIQUE DEFAULT nextval('pending_commands_command_id_seq'),
    device_sn      TEXT NOT NULL,
    command_string TEXT NOT NULL,
    status         TEXT NOT NULL DEFAULT 'pending'
                   CHECK (status IN ('pending', 'sent', 'acked', 'failed')),
    error_message  TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS pending_commands_queue_idx
    ON pending_commands (device_sn, status, created_at, seq);
`

// Migrate creates the tables the gateway needs if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
