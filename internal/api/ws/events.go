package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/your-org/admsgw/internal/models"
	"github.com/your-org/admsgw/internal/queue"
	"github.com/your-org/admsgw/pkg/dto"
)

// PublishAttendance broadcasts a punch to local clients. It lets the hub
// stand in for the NATS producer on a single instance.
func (h *Hub) PublishAttendance(_ context.Context, ev models.AttendanceEvent) error {
	return h.publish(queue.EventAttendance, ev.DeviceSN, ev)
}

// PublishCommand broadcasts a command state change to local clients.
func (h *Hub) PublishCommand(_ context.Context, ev models.CommandEvent) error {
	return h.publish(queue.EventCommand, ev.DeviceSN, ev)
}

func (h *Hub) publish(kind, deviceSN string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", kind, err)
	}
	h.BroadcastEvent(&dto.WSEvent{Type: kind, DeviceSN: deviceSN, Data: data})
	return nil
}

// Relay broadcasts an event received from the NATS event stream. The
// device filter uses the serial number from the payload, since the subject
// only carries a sanitized token.
func (h *Hub) Relay(subject string, payload []byte) error {
	kind, token, ok := queue.ParseEventSubject(subject)
	if !ok {
		return fmt.Errorf("unexpected event subject %q", subject)
	}

	var head struct {
		DeviceSN string `json:"device_sn"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return fmt.Errorf("decode %s event: %w", kind, err)
	}
	if head.DeviceSN == "" {
		head.DeviceSN = token
	}

	h.BroadcastEvent(&dto.WSEvent{Type: kind, DeviceSN: head.DeviceSN, Data: json.RawMessage(payload)})
	return nil
}
