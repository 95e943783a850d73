package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/admsgw/internal/models"
)

const (
	EventsStreamName  = "EVENTS"
	EventsSubjectBase = "events"

	EventAttendance = "attendance"
	EventCommand    = "command"

	// maxPendingPublishes caps unacknowledged async publishes. Once reached,
	// a publish waits at most until its context deadline for room.
	maxPendingPublishes = 256
	publishStallWait    = 200 * time.Millisecond
	closeFlushTimeout   = 5 * time.Second
)

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc,
		jetstream.WithPublishAsyncMaxPending(maxPendingPublishes),
		jetstream.WithPublishAsyncErrHandler(func(_ jetstream.JetStream, msg *nats.Msg, err error) {
			slog.Warn("event not acknowledged by jetstream", "subject", msg.Subject, "error", err)
		}),
	)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Producer{nc: nc, js: js}, nil
}

// EnsureStreams creates the EVENTS stream if it doesn't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	cfg := jetstream.StreamConfig{
		Name:        EventsStreamName,
		Subjects:    []string{EventsSubjectBase + ".>"},
		Retention:   jetstream.InterestPolicy,
		MaxAge:      24 * time.Hour,
		MaxMsgs:     1000000,
		Storage:     jetstream.FileStorage,
		Description: "Attendance punches and command state changes",
	}

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
		cancel()
		if err == nil {
			slog.Info("ensured NATS stream", "name", cfg.Name)
			return nil
		}
		if attempt == maxAttempts {
			return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
		}
		slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// SubjectToken makes s usable as one subject token or consumer name by
// replacing characters NATS treats as separators or wildcards.
func SubjectToken(s string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, s)
	if token == "" {
		token = "_"
	}
	return token
}

// EventSubject builds "events.<kind>.<serial>".
func EventSubject(kind, deviceSN string) string {
	return fmt.Sprintf("%s.%s.%s", EventsSubjectBase, kind, SubjectToken(deviceSN))
}

// ParseEventSubject splits an event subject into its kind and serial token.
func ParseEventSubject(subject string) (kind, deviceSN string, ok bool) {
	parts := strings.SplitN(subject, ".", 3)
	if len(parts) != 3 || parts[0] != EventsSubjectBase {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// publish hands the event to the async publisher and returns without waiting
// for the stream ack; late failures reach the async error handler. It only
// blocks while the pending window is full, and never past ctx's deadline.
func (p *Producer) publish(ctx context.Context, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	stall := stallWait(ctx)
	if stall <= 0 {
		return fmt.Errorf("publish %s: %w", subject, context.DeadlineExceeded)
	}
	if _, err := p.js.PublishAsync(subject, payload, jetstream.WithStallWait(stall)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// stallWait is how long a publish may wait for room in the pending window.
func stallWait(ctx context.Context) time.Duration {
	if ctx.Err() != nil {
		return 0
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return publishStallWait
	}
	return min(time.Until(deadline), publishStallWait)
}

// PublishAttendance announces a newly stored punch.
func (p *Producer) PublishAttendance(ctx context.Context, ev models.AttendanceEvent) error {
	return p.publish(ctx, EventSubject(EventAttendance, ev.DeviceSN), ev)
}

// PublishCommand announces a command state change.
func (p *Producer) PublishCommand(ctx context.Context, ev models.CommandEvent) error {
	return p.publish(ctx, EventSubject(EventCommand, ev.DeviceSN), ev)
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

// Close waits briefly for outstanding publishes to be acknowledged, then
// closes the connection.
func (p *Producer) Close() {
	select {
	case <-p.js.PublishAsyncComplete():
	case <-time.After(closeFlushTimeout):
		slog.Warn("closing nats with unacknowledged events", "pending", p.js.PublishAsyncPending())
	}
	p.nc.Close()
}
