// Package ingest applies decoded terminal records to the entity store.
//
// Every record is handled in isolation: a record that is short, refers to
// something that does not exist, or fails to persist is counted and logged,
// and the batch moves on to the next line.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/your-org/admsgw/internal/clock"
	"github.com/your-org/admsgw/internal/models"
	"github.com/your-org/admsgw/internal/observability"
	"github.com/your-org/admsgw/internal/protocol"
	"github.com/your-org/admsgw/internal/storage"
)

// Store is the persistence surface the engine writes through.
type Store interface {
	UpsertDeviceInfo(ctx context.Context, serialNumber string, info models.DeviceInfo, seenAt time.Time) error
	SetTransactionStamp(ctx context.Context, serialNumber, stamp string) error
	GetDeviceBySerial(ctx context.Context, serialNumber string) (*models.Device, error)
	GetEmployeeByCode(ctx context.Context, code string) (*models.Employee, error)
	EnsureEmployee(ctx context.Context, code string) (*models.Employee, error)
	UpsertEmployee(ctx context.Context, emp *models.Employee) error
	UpsertTemplate(ctx context.Context, tpl *models.BiometricTemplate) error
	// InsertAttendanceLog returns an error wrapping storage.ErrDuplicate when
	// the punch is already stored.
	InsertAttendanceLog(ctx context.Context, log *models.AttendanceLog) error
}

// BlobStore keeps binary payloads such as attendance photos.
type BlobStore interface {
	Put(ctx context.Context, path string, data []byte, contentType string) (string, error)
	PublicURL(path string) string
}

// CommandResults receives command acknowledgments.
type CommandResults interface {
	Acknowledge(ctx context.Context, deviceSN string, commandID int64) error
	Fail(ctx context.Context, deviceSN string, commandID int64, message string) error
}

// Publisher announces new attendance logs.
type Publisher interface {
	PublishAttendance(ctx context.Context, ev models.AttendanceEvent) error
}

type Config struct {
	Store    Store
	Blobs    BlobStore      // optional; photos are dropped without it
	Commands CommandResults // optional; acknowledgments are skipped without it
	Events   Publisher      // optional
	Clock    clock.Clock
	// Location is the zone terminals report punch times in.
	Location *time.Location
	// PublishTimeout bounds each event publish so a slow broker cannot
	// hold up the batch. Defaults to DefaultPublishTimeout.
	PublishTimeout time.Duration
}

const DefaultPublishTimeout = 2 * time.Second

type Engine struct {
	store    Store
	blobs    BlobStore
	commands CommandResults
	events   Publisher
	clock    clock.Clock
	loc      *time.Location

	publishTimeout time.Duration
}

func NewEngine(cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	return &Engine{
		store:          cfg.Store,
		blobs:          cfg.Blobs,
		commands:       cfg.Commands,
		events:         cfg.Events,
		clock:          cfg.Clock,
		loc:            cfg.Location,
		publishTimeout: cfg.PublishTimeout,
	}
}

// Batch is one push body from one terminal.
type Batch struct {
	SerialNumber string
	Body         string
	Scope        Scope
	// Table is the implied kind of untagged lines (from ?table=).
	Table protocol.Kind
	// TransactionStamp is the terminal's sync cursor, stored after the batch.
	TransactionStamp string
}

// RecordError describes one record that failed to persist.
type RecordError struct {
	Kind protocol.Kind
	Line string
	Err  error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("%s record %q: %v", e.Kind, e.Line, e.Err)
}

func (e RecordError) Unwrap() error { return e.Err }

type Result struct {
	Records    int
	Applied    int
	Duplicates int
	Skipped    int
	Errors     []RecordError
}

type outcome int

const (
	outcomeApplied outcome = iota
	outcomeDuplicate
	outcomeSkipped
)

// errorLineLimit bounds the raw line kept in a RecordError.
const errorLineLimit = 80

// Ingest decodes and applies a push body. It never fails as a whole; per-record
// failures are returned in Result.Errors and logged.
func (e *Engine) Ingest(ctx context.Context, b Batch) Result {
	var res Result
	observability.BatchesReceived.WithLabelValues(string(b.Scope)).Inc()

	var opts []protocol.DecodeOption
	if b.Table != "" {
		opts = append(opts, protocol.WithTable(b.Table))
	}

	for rec := range protocol.Decode(b.Body, opts...) {
		res.Records++

		out, err := e.apply(ctx, b, rec)
		switch {
		case err != nil:
			res.Errors = append(res.Errors, RecordError{Kind: rec.Kind, Line: rec.Truncated(errorLineLimit), Err: err})
			observability.RecordsIngested.WithLabelValues(string(rec.Kind), observability.OutcomeFailed).Inc()
		case out == outcomeApplied:
			res.Applied++
			observability.RecordsIngested.WithLabelValues(string(rec.Kind), observability.OutcomeApplied).Inc()
		case out == outcomeDuplicate:
			res.Duplicates++
			observability.RecordsIngested.WithLabelValues(string(rec.Kind), observability.OutcomeDuplicate).Inc()
		default:
			res.Skipped++
			observability.RecordsIngested.WithLabelValues(string(rec.Kind), observability.OutcomeSkipped).Inc()
		}
	}

	if b.TransactionStamp != "" {
		if err := e.store.SetTransactionStamp(ctx, b.SerialNumber, b.TransactionStamp); err != nil {
			slog.Warn("store transaction stamp", "device_sn", b.SerialNumber, "error", err)
		}
	}

	for _, recErr := range res.Errors {
		slog.Warn("record failed",
			"device_sn", b.SerialNumber,
			"scope", b.Scope,
			"kind", recErr.Kind,
			"line", recErr.Line,
			"error", recErr.Err,
		)
	}
	slog.Debug("batch ingested",
		"device_sn", b.SerialNumber,
		"scope", b.Scope,
		"records", res.Records,
		"applied", res.Applied,
		"duplicates", res.Duplicates,
		"skipped", res.Skipped,
		"failed", len(res.Errors),
	)

	return res
}

func (e *Engine) apply(ctx context.Context, b Batch, rec protocol.Record) (out outcome, err error) {
	if rec.Kind == protocol.KindUnknown || rec.Insufficient || !b.Scope.Allows(rec.Kind) {
		return outcomeSkipped, nil
	}
	handle, ok := handlers[rec.Kind]
	if !ok {
		return outcomeSkipped, nil
	}

	defer func() {
		if r := recover(); r != nil {
			out, err = outcomeSkipped, fmt.Errorf("panic: %v", r)
		}
	}()
	return handle(e, ctx, b.SerialNumber, rec)
}

func isDuplicate(err error) bool {
	return errors.Is(err, storage.ErrDuplicate)
}

// publish announces a stored punch. Failures and timeouts are logged only;
// the punch is already committed.
func (e *Engine) publish(ctx context.Context, ev models.AttendanceEvent) {
	ctx, cancel := context.WithTimeout(ctx, e.publishTimeout)
	defer cancel()

	if err := e.events.PublishAttendance(ctx, ev); err != nil {
		slog.Warn("publish attendance event", "device_sn", ev.DeviceSN, "log_id", ev.LogID, "error", err)
	}
}
