// Package storagetest provides in-memory stand-ins for the Postgres and
// MinIO stores, with the same keying and conflict rules, for use in tests.
package storagetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/admsgw/internal/models"
	"github.com/your-org/admsgw/internal/storage"
)

type templateKey struct {
	employeeID uuid.UUID
	kind       models.TemplateKind
	fingerID   int
}

type logKey struct {
	deviceID   uuid.UUID
	employeeID uuid.UUID
	punch      time.Time
}

// Store is a concurrency-safe in-memory entity store.
type Store struct {
	mu        sync.Mutex
	devices   map[string]*models.Device
	employees map[string]*models.Employee
	templates map[templateKey]*models.BiometricTemplate
	logs      []*models.AttendanceLog
	logKeys   map[logKey]bool
	commands  []*models.PendingCommand
	nextCmdID int64
	failures  map[string]error
}

func New() *Store {
	return &Store{
		devices:   make(map[string]*models.Device),
		employees: make(map[string]*models.Employee),
		templates: make(map[templateKey]*models.BiometricTemplate),
		logKeys:   make(map[logKey]bool),
		failures:  make(map[string]error),
	}
}

// FailOn makes every later call of the named method return err.
// Pass a nil err to clear it.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

func (s *Store) failure(method string) error {
	return s.failures[method]
}

// --- Devices ---

func (s *Store) TouchDevice(_ context.Context, serialNumber string, seenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("TouchDevice"); err != nil {
		return err
	}
	s.deviceLocked(serialNumber).LastSeen = seenAt
	return nil
}

func (s *Store) UpsertDeviceInfo(_ context.Context, serialNumber string, info models.DeviceInfo, seenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("UpsertDeviceInfo"); err != nil {
		return err
	}
	d := s.deviceLocked(serialNumber)
	if info.Name != nil {
		d.Name = info.Name
	}
	if info.FirmwareVersion != nil {
		d.FirmwareVersion = info.FirmwareVersion
	}
	if info.SupportsFace != nil {
		d.SupportsFace = *info.SupportsFace
	}
	if info.SupportsFinger != nil {
		d.SupportsFinger = *info.SupportsFinger
	}
	if info.SupportsRFID != nil {
		d.SupportsRFID = *info.SupportsRFID
	}
	d.LastSeen = seenAt
	return nil
}

func (s *Store) SetTransactionStamp(_ context.Context, serialNumber, stamp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("SetTransactionStamp"); err != nil {
		return err
	}
	if d, ok := s.devices[serialNumber]; ok {
		d.TransactionStamp = stamp
	}
	return nil
}

func (s *Store) GetDeviceBySerial(_ context.Context, serialNumber string) (*models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("GetDeviceBySerial"); err != nil {
		return nil, err
	}
	d, ok := s.devices[serialNumber]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

// DeleteDevice removes a device row, leaving its attendance logs behind.
func (s *Store) DeleteDevice(serialNumber string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.devices, serialNumber)
}

func (s *Store) deviceLocked(serialNumber string) *models.Device {
	d, ok := s.devices[serialNumber]
	if !ok {
		d = &models.Device{ID: uuid.New(), SerialNumber: serialNumber, CreatedAt: time.Now()}
		s.devices[serialNumber] = d
	}
	return d
}

// --- Employees ---

func (s *Store) GetEmployeeByCode(_ context.Context, code string) (*models.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("GetEmployeeByCode"); err != nil {
		return nil, err
	}
	e, ok := s.employees[code]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (s *Store) EnsureEmployee(_ context.Context, code string) (*models.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("EnsureEmployee"); err != nil {
		return nil, err
	}
	e, ok := s.employees[code]
	if !ok {
		e = &models.Employee{ID: uuid.New(), EmployeeCode: code, CreatedAt: time.Now(), UpdatedAt: time.Now()}
		s.employees[code] = e
	}
	cp := *e
	return &cp, nil
}

func (s *Store) UpsertEmployee(_ context.Context, emp *models.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("UpsertEmployee"); err != nil {
		return err
	}
	e, ok := s.employees[emp.EmployeeCode]
	if !ok {
		e = &models.Employee{ID: uuid.New(), EmployeeCode: emp.EmployeeCode, CreatedAt: time.Now()}
		s.employees[emp.EmployeeCode] = e
	}
	e.Name = emp.Name
	e.RFIDCard = emp.RFIDCard
	e.Privilege = emp.Privilege
	e.UpdatedAt = time.Now()
	emp.ID = e.ID
	return nil
}

// --- Templates ---

func (s *Store) UpsertTemplate(_ context.Context, tpl *models.BiometricTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("UpsertTemplate"); err != nil {
		return err
	}
	key := templateKey{employeeID: tpl.EmployeeID, kind: tpl.Kind, fingerID: -1}
	if tpl.FingerID != nil {
		key.fingerID = *tpl.FingerID
	}
	existing, ok := s.templates[key]
	if !ok {
		existing = &models.BiometricTemplate{ID: uuid.New()}
		s.templates[key] = existing
	}
	id := existing.ID
	*existing = *tpl
	existing.ID = id
	existing.UpdatedAt = time.Now()
	tpl.ID = id
	return nil
}

// --- Attendance ---

func (s *Store) InsertAttendanceLog(_ context.Context, log *models.AttendanceLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("InsertAttendanceLog"); err != nil {
		return err
	}
	if log.DeviceID != nil {
		key := logKey{deviceID: *log.DeviceID, employeeID: log.EmployeeID, punch: log.PunchTimestamp}
		if s.logKeys[key] {
			return fmt.Errorf("insert attendance log: %w", storage.ErrDuplicate)
		}
		s.logKeys[key] = true
	}
	log.ID = uuid.New()
	log.CreatedAt = time.Now()
	cp := *log
	s.logs = append(s.logs, &cp)
	return nil
}

// --- Commands ---

func (s *Store) CreateCommand(_ context.Context, cmd *models.PendingCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("CreateCommand"); err != nil {
		return err
	}
	s.nextCmdID++
	cmd.ID = uuid.New()
	cmd.CommandID = s.nextCmdID
	cmd.Status = models.CommandPending
	cmd.CreatedAt = time.Now()
	cmd.UpdatedAt = cmd.CreatedAt
	cp := *cmd
	s.commands = append(s.commands, &cp)
	return nil
}

// ClaimNextCommand scans in insertion order, so ties on CreatedAt resolve
// the same way the Postgres query does.
func (s *Store) ClaimNextCommand(_ context.Context, deviceSN string) (*models.PendingCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("ClaimNextCommand"); err != nil {
		return nil, err
	}
	for _, c := range s.commands {
		if c.DeviceSN == deviceSN && c.Status == models.CommandPending {
			c.Status = models.CommandSent
			c.UpdatedAt = time.Now()
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) ResolveCommand(_ context.Context, deviceSN string, commandID int64, status models.CommandStatus, errMsg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("ResolveCommand"); err != nil {
		return false, err
	}
	for _, c := range s.commands {
		if c.DeviceSN != deviceSN || c.CommandID != commandID {
			continue
		}
		if c.Status != models.CommandPending && c.Status != models.CommandSent {
			return false, nil
		}
		c.Status = status
		c.ErrorMessage = errMsg
		c.UpdatedAt = time.Now()
		return true, nil
	}
	return false, nil
}

// --- Reporting ---

func (s *Store) ListDevices(_ context.Context) ([]models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("ListDevices"); err != nil {
		return nil, err
	}
	out := make([]models.Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SerialNumber < out[j].SerialNumber })
	return out, nil
}

func (s *Store) RegisterDevice(_ context.Context, serialNumber string, name *string) (*models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("RegisterDevice"); err != nil {
		return nil, err
	}
	if _, ok := s.devices[serialNumber]; ok {
		return nil, fmt.Errorf("register device %s: %w", serialNumber, storage.ErrDuplicate)
	}
	d := s.deviceLocked(serialNumber)
	d.Name = name
	d.LastSeen = time.Now()
	cp := *d
	return &cp, nil
}

func (s *Store) CountOnlineDevices(_ context.Context, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("CountOnlineDevices"); err != nil {
		return 0, err
	}
	n := 0
	for _, d := range s.devices {
		if d.LastSeen.After(since) {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListEmployees(_ context.Context, limit int) ([]models.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("ListEmployees"); err != nil {
		return nil, err
	}
	out := make([]models.Employee, 0, len(s.employees))
	for _, e := range s.employees {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeCode < out[j].EmployeeCode })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// QueryAttendance applies the filter the way the Postgres query does:
// inclusive bounds, newest first, limit capped at storage.MaxAttendanceRows.
func (s *Store) QueryAttendance(_ context.Context, f models.AttendanceFilter) ([]models.AttendanceRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("QueryAttendance"); err != nil {
		return nil, err
	}

	employees := make(map[uuid.UUID]*models.Employee, len(s.employees))
	for _, e := range s.employees {
		employees[e.ID] = e
	}
	devices := make(map[uuid.UUID]*models.Device, len(s.devices))
	for _, d := range s.devices {
		devices[d.ID] = d
	}

	var out []models.AttendanceRow
	for _, l := range s.logs {
		emp := employees[l.EmployeeID]
		if emp == nil {
			continue
		}
		row := models.AttendanceRow{AttendanceLog: *l, EmployeeCode: emp.EmployeeCode, EmployeeName: emp.Name}
		if l.DeviceID != nil {
			if d := devices[*l.DeviceID]; d != nil {
				sn := d.SerialNumber
				row.DeviceSN = &sn
			}
		}

		switch {
		case f.From != nil && l.PunchTimestamp.Before(*f.From),
			f.To != nil && l.PunchTimestamp.After(*f.To),
			f.EmployeeCode != "" && emp.EmployeeCode != f.EmployeeCode,
			f.DeviceSN != "" && (row.DeviceSN == nil || *row.DeviceSN != f.DeviceSN):
			continue
		}
		out = append(out, row)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].PunchTimestamp.After(out[j].PunchTimestamp) })
	limit := f.Limit
	if limit <= 0 || limit > storage.MaxAttendanceRows {
		limit = storage.MaxAttendanceRows
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListCommands(_ context.Context, deviceSN string, limit int) ([]models.PendingCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("ListCommands"); err != nil {
		return nil, err
	}
	var out []models.PendingCommand
	for i := len(s.commands) - 1; i >= 0; i-- {
		if c := s.commands[i]; c.DeviceSN == deviceSN {
			out = append(out, *c)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// --- Inspection helpers ---

func (s *Store) AttendanceLogs() []models.AttendanceLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AttendanceLog, 0, len(s.logs))
	for _, l := range s.logs {
		out = append(out, *l)
	}
	return out
}

func (s *Store) Templates() []models.BiometricTemplate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.BiometricTemplate, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, *t)
	}
	return out
}

func (s *Store) Command(deviceSN string, commandID int64) *models.PendingCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.commands {
		if c.DeviceSN == deviceSN && c.CommandID == commandID {
			cp := *c
			return &cp
		}
	}
	return nil
}
