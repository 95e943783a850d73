// Package commands implements the outbound command queue terminals drain
// through GET /iclock/getrequest.
//
// A command moves pending -> sent when a poll claims it, and sent (or a
// still-pending command) -> acked or failed when the terminal reports its
// result. Nothing expires a pending command.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/your-org/admsgw/internal/models"
	"github.com/your-org/admsgw/internal/observability"
)

var ErrInvalidCommand = errors.New("invalid command")

// Store persists commands.
type Store interface {
	// CreateCommand inserts cmd as pending and fills in its ids and timestamps.
	CreateCommand(ctx context.Context, cmd *models.PendingCommand) error
	// ClaimNextCommand atomically moves the oldest pending command of the
	// device to sent and returns it, or returns nil when there is none.
	ClaimNextCommand(ctx context.Context, deviceSN string) (*models.PendingCommand, error)
	// ResolveCommand moves a pending or sent command to status and reports
	// whether a row changed.
	ResolveCommand(ctx context.Context, deviceSN string, commandID int64, status models.CommandStatus, errMsg string) (bool, error)
}

// Publisher announces state changes. It may be nil.
type Publisher interface {
	PublishCommand(ctx context.Context, ev models.CommandEvent) error
}

// DefaultPublishTimeout bounds each event publish so a slow broker cannot
// stall a terminal poll.
const DefaultPublishTimeout = 2 * time.Second

type Queue struct {
	store  Store
	events Publisher

	// PublishTimeout overrides DefaultPublishTimeout when positive.
	PublishTimeout time.Duration
}

func NewQueue(store Store, events Publisher) *Queue {
	return &Queue{store: store, events: events, PublishTimeout: DefaultPublishTimeout}
}

// Enqueue queues command for the device. The command must be a single
// non-empty line since it is framed as "C:<id>:<command>\n" on the wire.
func (q *Queue) Enqueue(ctx context.Context, deviceSN, command string) (*models.PendingCommand, error) {
	deviceSN = strings.TrimSpace(deviceSN)
	command = strings.TrimSpace(command)
	if deviceSN == "" {
		return nil, fmt.Errorf("%w: device serial number is required", ErrInvalidCommand)
	}
	if command == "" {
		return nil, fmt.Errorf("%w: command string is required", ErrInvalidCommand)
	}
	if strings.ContainsAny(command, "\r\n") {
		return nil, fmt.Errorf("%w: command must be a single line", ErrInvalidCommand)
	}

	cmd := &models.PendingCommand{
		DeviceSN:      deviceSN,
		CommandString: command,
		Status:        models.CommandPending,
	}
	if err := q.store.CreateCommand(ctx, cmd); err != nil {
		return nil, fmt.Errorf("enqueue command: %w", err)
	}

	observability.CommandTransitions.WithLabelValues(string(models.CommandPending)).Inc()
	slog.Info("command enqueued", "device_sn", deviceSN, "command_id", cmd.CommandID)
	q.publish(ctx, models.CommandEvent{DeviceSN: deviceSN, CommandID: cmd.CommandID, Status: models.CommandPending})
	return cmd, nil
}

// DequeueNext hands the oldest pending command of the device to the caller
// and marks it sent. It returns nil, nil when nothing is queued.
func (q *Queue) DequeueNext(ctx context.Context, deviceSN string) (*models.PendingCommand, error) {
	cmd, err := q.store.ClaimNextCommand(ctx, deviceSN)
	if err != nil {
		return nil, fmt.Errorf("dequeue command: %w", err)
	}
	if cmd == nil {
		return nil, nil
	}

	observability.CommandTransitions.WithLabelValues(string(models.CommandSent)).Inc()
	slog.Info("command sent", "device_sn", deviceSN, "command_id", cmd.CommandID)
	q.publish(ctx, models.CommandEvent{DeviceSN: deviceSN, CommandID: cmd.CommandID, Status: models.CommandSent})
	return cmd, nil
}

// Acknowledge marks the command acked. Unknown or already resolved commands
// are ignored.
func (q *Queue) Acknowledge(ctx context.Context, deviceSN string, commandID int64) error {
	return q.resolve(ctx, deviceSN, commandID, models.CommandAcked, "")
}

// Fail marks the command failed and keeps the terminal's message.
func (q *Queue) Fail(ctx context.Context, deviceSN string, commandID int64, message string) error {
	return q.resolve(ctx, deviceSN, commandID, models.CommandFailed, message)
}

func (q *Queue) resolve(ctx context.Context, deviceSN string, commandID int64, status models.CommandStatus, message string) error {
	changed, err := q.store.ResolveCommand(ctx, deviceSN, commandID, status, message)
	if err != nil {
		return fmt.Errorf("mark command %d %s: %w", commandID, status, err)
	}
	if !changed {
		slog.Debug("command result ignored", "device_sn", deviceSN, "command_id", commandID, "status", status)
		return nil
	}

	observability.CommandTransitions.WithLabelValues(string(status)).Inc()
	if status == models.CommandFailed {
		slog.Warn("command failed on device", "device_sn", deviceSN, "command_id", commandID, "message", message)
	} else {
		slog.Info("command acknowledged", "device_sn", deviceSN, "command_id", commandID)
	}
	q.publish(ctx, models.CommandEvent{DeviceSN: deviceSN, CommandID: commandID, Status: status, ErrorMessage: message})
	return nil
}

func (q *Queue) publish(ctx context.Context, ev models.CommandEvent) {
	if q.events == nil {
		return
	}
	timeout := q.PublishTimeout
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := q.events.PublishCommand(ctx, ev); err != nil {
		slog.Warn("publish command event", "device_sn", ev.DeviceSN, "command_id", ev.CommandID, "error", err)
	}
}
