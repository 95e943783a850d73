package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/admsgw/internal/config"
	"github.com/your-org/admsgw/internal/models"
)

// MaxAttendanceRows caps a single reporting query.
const MaxAttendanceRows = 1000

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Devices ---

const deviceColumns = `id, serial_number, name, firmware_version, supports_face, supports_finger,
	supports_rfid, last_seen, transaction_stamp, created_at`

func scanDevice(row pgx.Row) (*models.Device, error) {
	d := &models.Device{}
	err := row.Scan(&d.ID, &d.SerialNumber, &d.Name, &d.FirmwareVersion, &d.SupportsFace,
		&d.SupportsFinger, &d.SupportsRFID, &d.LastSeen, &d.TransactionStamp, &d.CreatedAt)
	return d, err
}

// TouchDevice creates the device on first contact and records when it was seen.
func (s *PostgresStore) TouchDevice(ctx context.Context, serialNumber string, seenAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO devices (serial_number, last_seen) VALUES ($1, $2)
		 ON CONFLICT (serial_number) DO UPDATE SET last_seen = EXCLUDED.last_seen`,
		serialNumber, seenAt)
	if err != nil {
		return fmt.Errorf("touch device: %w", err)
	}
	return nil
}

// UpsertDeviceInfo applies a partial update; nil fields keep their stored value.
func (s *PostgresStore) UpsertDeviceInfo(ctx context.Context, serialNumber string, info models.DeviceInfo, seenAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO devices (serial_number, name, firmware_version, supports_face, supports_finger, supports_rfid, last_seen)
		 VALUES ($1, $2, $3, COALESCE($4, FALSE), COALESCE($5, FALSE), COALESCE($6, FALSE), $7)
		 ON CONFLICT (serial_number) DO UPDATE SET
			name             = COALESCE($2, devices.name),
			firmware_version = COALESCE($3, devices.firmware_version),
			supports_face    = COALESCE($4, devices.supports_face),
			supports_finger  = COALESCE($5, devices.supports_finger),
			supports_rfid    = COALESCE($6, devices.supports_rfid),
			last_seen        = EXCLUDED.last_seen`,
		serialNumber, info.Name, info.FirmwareVersion, info.SupportsFace, info.SupportsFinger, info.SupportsRFID, seenAt)
	if err != nil {
		return fmt.Errorf("upsert device info: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetTransactionStamp(ctx context.Context, serialNumber, stamp string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE devices SET transaction_stamp = $2 WHERE serial_number = $1`, serialNumber, stamp)
	if err != nil {
		return fmt.Errorf("set transaction stamp: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDeviceBySerial(ctx context.Context, serialNumber string) (*models.Device, error) {
	d, err := scanDevice(s.pool.QueryRow(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE serial_number = $1`, serialNumber))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get device: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) ListDevices(ctx context.Context) ([]models.Device, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY serial_number`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, *d)
	}
	return devices, rows.Err()
}

// RegisterDevice creates a device ahead of its first contact. It returns
// ErrDuplicate when the serial number is already known.
func (s *PostgresStore) RegisterDevice(ctx context.Context, serialNumber string, name *string) (*models.Device, error) {
	d, err := scanDevice(s.pool.QueryRow(ctx,
		`INSERT INTO devices (serial_number, name) VALUES ($1, $2)
		 RETURNING `+deviceColumns, serialNumber, name))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("register device %s: %w", serialNumber, ErrDuplicate)
		}
		return nil, fmt.Errorf("register device: %w", err)
	}
	return d, nil
}

// CountOnlineDevices counts devices seen after since.
func (s *PostgresStore) CountOnlineDevices(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM devices WHERE last_seen > $1`, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count online devices: %w", err)
	}
	return n, nil
}

// --- Employees ---

const employeeColumns = `id, employee_code, name, rfid_card, privilege, created_at, updated_at`

func scanEmployee(row pgx.Row) (*models.Employee, error) {
	e := &models.Employee{}
	err := row.Scan(&e.ID, &e.EmployeeCode, &e.Name, &e.RFIDCard, &e.Privilege, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func (s *PostgresStore) GetEmployeeByCode(ctx context.Context, code string) (*models.Employee, error) {
	e, err := scanEmployee(s.pool.QueryRow(ctx,
		`SELECT `+employeeColumns+` FROM employees WHERE employee_code = $1`, code))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get employee: %w", err)
	}
	return e, nil
}

// EnsureEmployee returns the employee with code, creating a bare row if needed.
func (s *PostgresStore) EnsureEmployee(ctx context.Context, code string) (*models.Employee, error) {
	e, err := scanEmployee(s.pool.QueryRow(ctx,
		`INSERT INTO employees (employee_code) VALUES ($1)
		 ON CONFLICT (employee_code) DO UPDATE SET employee_code = EXCLUDED.employee_code
		 RETURNING `+employeeColumns, code))
	if err != nil {
		return nil, fmt.Errorf("ensure employee: %w", err)
	}
	return e, nil
}

// UpsertEmployee replaces name, card and privilege of the employee keyed by
// emp.EmployeeCode and fills in emp.ID.
func (s *PostgresStore) UpsertEmployee(ctx context.Context, emp *models.Employee) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO employees (employee_code, name, rfid_card, privilege) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (employee_code) DO UPDATE SET
			name = EXCLUDED.name, rfid_card = EXCLUDED.rfid_card,
			privilege = EXCLUDED.privilege, updated_at = now()
		 RETURNING id, created_at, updated_at`,
		emp.EmployeeCode, emp.Name, emp.RFIDCard, emp.Privilege,
	).Scan(&emp.ID, &emp.CreatedAt, &emp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert employee: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListEmployees(ctx context.Context, limit int) ([]models.Employee, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+employeeColumns+` FROM employees ORDER BY employee_code LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	defer rows.Close()

	var employees []models.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("scan employee: %w", err)
		}
		employees = append(employees, *e)
	}
	return employees, rows.Err()
}

// --- Templates ---

// UpsertTemplate replaces the template in the (employee, kind, finger slot)
// position.
func (s *PostgresStore) UpsertTemplate(ctx context.Context, tpl *models.BiometricTemplate) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO biometric_templates (employee_id, template_type, finger_id, template_data)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (employee_id, template_type, (COALESCE(finger_id, -1))) DO UPDATE SET
			template_data = EXCLUDED.template_data, updated_at = now()
		 RETURNING id, updated_at`,
		tpl.EmployeeID, string(tpl.Kind), tpl.FingerID, tpl.Data,
	).Scan(&tpl.ID, &tpl.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert template: %w", err)
	}
	return nil
}

// --- Attendance ---

// InsertAttendanceLog appends a punch. A replay of a stored punch returns an
// error wrapping ErrDuplicate.
func (s *PostgresStore) InsertAttendanceLog(ctx context.Context, log *models.AttendanceLog) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO attendance_logs (device_id, employee_id, punch_timestamp, status_code, verify_mode, att_photo_path)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		log.DeviceID, log.EmployeeID, log.PunchTimestamp, log.StatusCode, log.VerifyMode, log.PhotoPath,
	).Scan(&log.ID, &log.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert attendance log: %w", ErrDuplicate)
		}
		return fmt.Errorf("insert attendance log: %w", err)
	}
	return nil
}

// QueryAttendance returns logs matching f, newest first.
func (s *PostgresStore) QueryAttendance(ctx context.Context, f models.AttendanceFilter) ([]models.AttendanceRow, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.From != nil {
		add("a.punch_timestamp >= $%d", *f.From)
	}
	if f.To != nil {
		add("a.punch_timestamp <= $%d", *f.To)
	}
	if f.EmployeeCode != "" {
		add("e.employee_code = $%d", f.EmployeeCode)
	}
	if f.DeviceSN != "" {
		add("d.serial_number = $%d", f.DeviceSN)
	}

	limit := f.Limit
	if limit <= 0 || limit > MaxAttendanceRows {
		limit = MaxAttendanceRows
	}

	query := `SELECT a.id, a.device_id, a.employee_id, a.punch_timestamp, a.status_code, a.verify_mode,
			a.att_photo_path, a.created_at, e.employee_code, e.name, d.serial_number
		FROM attendance_logs a
		JOIN employees e ON e.id = a.employee_id
		LEFT JOIN devices d ON d.id = a.device_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY a.punch_timestamp DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attendance: %w", err)
	}
	defer rows.Close()

	var out []models.AttendanceRow
	for rows.Next() {
		var r models.AttendanceRow
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.EmployeeID, &r.PunchTimestamp, &r.StatusCode, &r.VerifyMode,
			&r.PhotoPath, &r.CreatedAt, &r.EmployeeCode, &r.EmployeeName, &r.DeviceSN); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Commands ---

const commandColumns = `id, command_id, device_sn, command_string, status, error_message, created_at, updated_at`

func scanCommand(row pgx.Row) (*models.PendingCommand, error) {
	c := &models.PendingCommand{}
	err := row.Scan(&c.ID, &c.CommandID, &c.DeviceSN, &c.CommandString, &c.Status, &c.ErrorMessage,
		&c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *PostgresStore) CreateCommand(ctx context.Context, cmd *models.PendingCommand) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO pending_commands (device_sn, command_string) VALUES ($1, $2)
		 RETURNING id, command_id, status, created_at, updated_at`,
		cmd.DeviceSN, cmd.CommandString,
	).Scan(&cmd.ID, &cmd.CommandID, &cmd.Status, &cmd.CreatedAt, &cmd.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create command: %w", err)
	}
	return nil
}

// ClaimNextCommand marks the oldest pending command of the device sent in one
// statement. Concurrent polls skip the locked row, so each command is handed
// out at most once.
func (s *PostgresStore) ClaimNextCommand(ctx context.Context, deviceSN string) (*models.PendingCommand, error) {
	c, err := scanCommand(s.pool.QueryRow(ctx,
		`UPDATE pending_commands SET status = 'sent', updated_at = now()
		 WHERE id = (
			SELECT id FROM pending_commands
			WHERE device_sn = $1 AND status = 'pending'
			ORDER BY created_at, seq
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+commandColumns, deviceSN))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("claim command: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ResolveCommand(ctx context.Context, deviceSN string, commandID int64, status models.CommandStatus, errMsg string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pending_commands SET status = $3, error_message = $4, updated_at = now()
		 WHERE device_sn = $1 AND command_id = $2 AND status IN ('pending', 'sent')`,
		deviceSN, commandID, string(status), errMsg)
	if err != nil {
		return false, fmt.Errorf("resolve command: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListCommands returns the device's most recent commands, newest first.
func (s *PostgresStore) ListCommands(ctx context.Context, deviceSN string, limit int) ([]models.PendingCommand, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+commandColumns+` FROM pending_commands WHERE device_sn = $1
		 ORDER BY created_at DESC, seq DESC LIMIT $2`, deviceSN, limit)
	if err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	defer rows.Close()

	var cmds []models.PendingCommand
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		cmds = append(cmds, *c)
	}
	return cmds, rows.Err()
}
