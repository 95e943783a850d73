package ingest

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/your-org/admsgw/internal/models"
	"github.com/your-org/admsgw/internal/observability"
	"github.com/your-org/admsgw/internal/protocol"
)

const (
	punchLayout      = "2006-01-02 15:04:05"
	photoContentType = "image/jpeg"
)

type handlerFunc func(e *Engine, ctx context.Context, sn string, rec protocol.Record) (outcome, error)

var handlers = map[protocol.Kind]handlerFunc{
	protocol.KindAck:    (*Engine).handleAck,
	protocol.KindError:  (*Engine).handleError,
	protocol.KindInfo:   (*Engine).handleInfo,
	protocol.KindAttLog: (*Engine).handleAttLog,
	protocol.KindUser:   (*Engine).handleUser,
	protocol.KindFP:     (*Engine).handleFingerprint,
	protocol.KindFace:   (*Engine).handleFace,
}

// field returns the value at position pos, or the value of key when the
// record uses the keyed "KEY=value" layout.
func field(rec protocol.Record, pos int, key string) string {
	prefix := key + "="
	for _, f := range rec.Fields[1:] {
		if v, ok := strings.CutPrefix(f, prefix); ok {
			return strings.TrimSpace(v)
		}
	}
	v := rec.Field(pos)
	if strings.Contains(v, "=") && isKeyed(rec) {
		return ""
	}
	return strings.TrimSpace(v)
}

// isKeyed reports whether the record's first data field is a KEY=value pair.
func isKeyed(rec protocol.Record) bool {
	k, _, ok := strings.Cut(rec.Field(1), "=")
	return ok && k != "" && strings.ToUpper(k) == k
}

func optionalInt(s string) *int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &n
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (e *Engine) handleAck(ctx context.Context, sn string, rec protocol.Record) (outcome, error) {
	if e.commands == nil {
		return outcomeSkipped, nil
	}
	if err := e.commands.Acknowledge(ctx, sn, rec.CommandID); err != nil {
		return outcomeSkipped, err
	}
	return outcomeApplied, nil
}

func (e *Engine) handleError(ctx context.Context, sn string, rec protocol.Record) (outcome, error) {
	if e.commands == nil {
		return outcomeSkipped, nil
	}
	if err := e.commands.Fail(ctx, sn, rec.CommandID, rec.Message); err != nil {
		return outcomeSkipped, err
	}
	return outcomeApplied, nil
}

func (e *Engine) handleInfo(ctx context.Context, sn string, rec protocol.Record) (outcome, error) {
	var info models.DeviceInfo
	flag := func(keys ...string) *bool {
		for _, k := range keys {
			if v, ok := rec.Options[k]; ok {
				b := v == "1"
				return &b
			}
		}
		return nil
	}
	text := func(keys ...string) *string {
		for _, k := range keys {
			if v, ok := rec.Options[k]; ok {
				return &v
			}
		}
		return nil
	}

	info.SupportsFace = flag("FaceFun")
	info.SupportsFinger = flag("FingFun")
	info.SupportsRFID = flag("RFIDFun", "RFID")
	info.FirmwareVersion = text("FirmwareVersion", "FWVersion")
	info.Name = text("DeviceName")

	if err := e.store.UpsertDeviceInfo(ctx, sn, info, e.clock.Now()); err != nil {
		return outcomeSkipped, fmt.Errorf("upsert device info: %w", err)
	}
	return outcomeApplied, nil
}

func (e *Engine) handleAttLog(ctx context.Context, sn string, rec protocol.Record) (outcome, error) {
	code := field(rec, 1, "PIN")
	if code == "" {
		return outcomeSkipped, nil
	}

	// A log cannot be attributed to an unknown device, so look it up before
	// creating the employee.
	device, err := e.store.GetDeviceBySerial(ctx, sn)
	if err != nil {
		return outcomeSkipped, fmt.Errorf("get device: %w", err)
	}
	if device == nil {
		slog.Debug("attendance for unknown device skipped", "device_sn", sn, "employee_code", code)
		return outcomeSkipped, nil
	}

	emp, err := e.resolveEmployee(ctx, rec.Kind, code)
	if err != nil {
		return outcomeSkipped, fmt.Errorf("resolve employee %s: %w", code, err)
	}
	if emp == nil {
		return outcomeSkipped, nil
	}

	punch, instant := e.parsePunch(field(rec, 2, "TIME"))
	log := &models.AttendanceLog{
		DeviceID:       &device.ID,
		EmployeeID:     emp.ID,
		PunchTimestamp: punch,
		StatusCode:     optionalInt(field(rec, 3, "STATUS")),
		VerifyMode:     optionalInt(field(rec, 4, "VERIFY")),
	}
	// Untagged table uploads carry the work code and reserved columns from
	// position 5 on, never a photo.
	if !rec.Untagged {
		if photo := field(rec, 5, "PHOTO"); photo != "" {
			log.PhotoPath = e.storePhoto(ctx, sn, code, instant, photo)
		}
	}

	if err := e.store.InsertAttendanceLog(ctx, log); err != nil {
		if isDuplicate(err) {
			return outcomeDuplicate, nil
		}
		return outcomeSkipped, fmt.Errorf("insert attendance log: %w", err)
	}

	if e.events != nil {
		ev := models.AttendanceEvent{
			LogID:          log.ID,
			DeviceSN:       sn,
			EmployeeCode:   code,
			PunchTimestamp: log.PunchTimestamp,
			StatusCode:     log.StatusCode,
			VerifyMode:     log.VerifyMode,
		}
		if log.PhotoPath != nil {
			ev.PhotoPath = *log.PhotoPath
		}
		e.publish(ctx, ev)
	}
	return outcomeApplied, nil
}

// parsePunch reads a terminal wall-clock time in the configured zone. It
// returns the wall clock as a naive (UTC-labelled) timestamp for storage and
// the real instant. Unparsable values fall back to now.
func (e *Engine) parsePunch(s string) (naive, instant time.Time) {
	t, err := time.ParseInLocation(punchLayout, s, e.loc)
	if err != nil {
		slog.Debug("unparsable punch time, using now", "value", s)
		t = e.clock.Now().In(e.loc)
	}
	naive = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
	return naive, t
}

// storePhoto uploads a base64 photo and returns its path, or nil when the
// payload cannot be decoded or stored.
func (e *Engine) storePhoto(ctx context.Context, sn, code string, instant time.Time, encoded string) *string {
	if e.blobs == nil {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(encoded)
	}
	if err != nil {
		observability.PhotoUploadFailures.Inc()
		slog.Warn("attendance photo not base64", "device_sn", sn, "employee_code", code, "error", err)
		return nil
	}

	path := fmt.Sprintf("%s/%d_%s.jpg", sn, instant.UnixMilli(), code)
	stored, err := e.blobs.Put(ctx, path, data, photoContentType)
	if err != nil {
		observability.PhotoUploadFailures.Inc()
		slog.Warn("store attendance photo", "device_sn", sn, "path", path, "error", err)
		return nil
	}
	return &stored
}

func (e *Engine) handleUser(ctx context.Context, _ string, rec protocol.Record) (outcome, error) {
	code := field(rec, 1, "PIN")
	if code == "" {
		return outcomeSkipped, nil
	}

	emp := &models.Employee{
		EmployeeCode: code,
		Name:         optionalString(field(rec, 2, "Name")),
		RFIDCard:     optionalString(field(rec, 3, "Card")),
	}
	if p := optionalInt(field(rec, 4, "Pri")); p != nil {
		emp.Privilege = *p
	}

	if err := e.store.UpsertEmployee(ctx, emp); err != nil {
		return outcomeSkipped, fmt.Errorf("upsert employee %s: %w", code, err)
	}
	return outcomeApplied, nil
}

func (e *Engine) handleFingerprint(ctx context.Context, _ string, rec protocol.Record) (outcome, error) {
	code := field(rec, 1, "PIN")
	data := field(rec, 3, "TMP")
	if code == "" || data == "" {
		return outcomeSkipped, nil
	}
	// A missing or unreadable slot is stored as NULL rather than dropping
	// the template.
	slot := optionalInt(field(rec, 2, "FID"))
	if slot == nil {
		slog.Debug("fingerprint without slot number", "employee_code", code, "value", field(rec, 2, "FID"))
	}
	return e.storeTemplate(ctx, rec.Kind, code, &models.BiometricTemplate{
		Kind:     models.TemplateFinger,
		FingerID: slot,
		Data:     data,
	})
}

func (e *Engine) handleFace(ctx context.Context, _ string, rec protocol.Record) (outcome, error) {
	code := field(rec, 1, "PIN")
	data := field(rec, 2, "TMP")
	if code == "" || data == "" {
		return outcomeSkipped, nil
	}
	return e.storeTemplate(ctx, rec.Kind, code, &models.BiometricTemplate{
		Kind: models.TemplateFace,
		Data: data,
	})
}

func (e *Engine) storeTemplate(ctx context.Context, kind protocol.Kind, code string, tpl *models.BiometricTemplate) (outcome, error) {
	emp, err := e.resolveEmployee(ctx, kind, code)
	if err != nil {
		return outcomeSkipped, fmt.Errorf("resolve employee %s: %w", code, err)
	}
	if emp == nil {
		slog.Debug("template for unknown employee skipped", "kind", kind, "employee_code", code)
		return outcomeSkipped, nil
	}

	tpl.EmployeeID = emp.ID
	if err := e.store.UpsertTemplate(ctx, tpl); err != nil {
		return outcomeSkipped, fmt.Errorf("upsert %s template: %w", tpl.Kind, err)
	}
	return outcomeApplied, nil
}
