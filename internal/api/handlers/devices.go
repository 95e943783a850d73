package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/admsgw/internal/commands"
	"github.com/your-org/admsgw/internal/models"
	"github.com/your-org/admsgw/internal/storage"
	"github.com/your-org/admsgw/pkg/dto"
)

type DeviceStore interface {
	ListDevices(ctx context.Context) ([]models.Device, error)
	GetDeviceBySerial(ctx context.Context, serialNumber string) (*models.Device, error)
	RegisterDevice(ctx context.Context, serialNumber string, name *string) (*models.Device, error)
	ListCommands(ctx context.Context, deviceSN string, limit int) ([]models.PendingCommand, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, deviceSN, command string) (*models.PendingCommand, error)
}

// Presence derives online state from a last-seen time.
type Presence interface {
	Online(lastSeen time.Time) bool
}

const defaultCommandLimit = 50

type DeviceHandler struct {
	store    DeviceStore
	queue    Enqueuer
	presence Presence
}

func NewDeviceHandler(store DeviceStore, queue Enqueuer, presence Presence) *DeviceHandler {
	return &DeviceHandler{store: store, queue: queue, presence: presence}
}

func (h *DeviceHandler) toResponse(d *models.Device) dto.DeviceResponse {
	return dto.DeviceResponse{
		ID:               d.ID,
		SerialNumber:     d.SerialNumber,
		Name:             d.Name,
		FirmwareVersion:  d.FirmwareVersion,
		SupportsFace:     d.SupportsFace,
		SupportsFinger:   d.SupportsFinger,
		SupportsRFID:     d.SupportsRFID,
		LastSeen:         d.LastSeen.Format(time.RFC3339),
		Online:           h.presence.Online(d.LastSeen),
		TransactionStamp: d.TransactionStamp,
		CreatedAt:        d.CreatedAt.Format(time.RFC3339),
	}
}

func (h *DeviceHandler) List(c *gin.Context) {
	devices, err := h.store.ListDevices(c.Request.Context())
	if err != nil {
		slog.Error("list devices", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list devices"})
		return
	}

	resp := make([]dto.DeviceResponse, 0, len(devices))
	for i := range devices {
		resp = append(resp, h.toResponse(&devices[i]))
	}
	c.JSON(http.StatusOK, gin.H{"data": resp, "total": len(resp)})
}

func (h *DeviceHandler) Get(c *gin.Context) {
	d, err := h.store.GetDeviceBySerial(c.Request.Context(), c.Param("sn"))
	if err != nil {
		slog.Error("get device", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get device"})
		return
	}
	if d == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": h.toResponse(d)})
}

// Register adds a device before it first contacts the gateway.
func (h *DeviceHandler) Register(c *gin.Context) {
	var req dto.RegisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sn := strings.TrimSpace(req.SerialNumber)
	if sn == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "serial number is required"})
		return
	}
	var name *string
	if req.Name != nil {
		if n := strings.TrimSpace(*req.Name); n != "" {
			name = &n
		}
	}

	d, err := h.store.RegisterDevice(c.Request.Context(), sn, name)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "a device with this serial number already exists"})
			return
		}
		slog.Error("register device", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register device"})
		return
	}
	slog.Info("device registered", "device_sn", sn)
	c.JSON(http.StatusCreated, gin.H{"data": h.toResponse(d)})
}

func commandResponse(cmd *models.PendingCommand) dto.CommandResponse {
	return dto.CommandResponse{
		ID:            cmd.ID,
		CommandID:     cmd.CommandID,
		DeviceSN:      cmd.DeviceSN,
		CommandString: cmd.CommandString,
		Status:        string(cmd.Status),
		ErrorMessage:  cmd.ErrorMessage,
		CreatedAt:     cmd.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     cmd.UpdatedAt.Format(time.RFC3339),
	}
}

func (h *DeviceHandler) ListCommands(c *gin.Context) {
	limit := defaultCommandLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	cmds, err := h.store.ListCommands(c.Request.Context(), c.Param("sn"), limit)
	if err != nil {
		slog.Error("list commands", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list commands"})
		return
	}

	resp := make([]dto.CommandResponse, 0, len(cmds))
	for i := range cmds {
		resp = append(resp, commandResponse(&cmds[i]))
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// EnqueueCommand queues a command for the device's next poll.
func (h *DeviceHandler) EnqueueCommand(c *gin.Context) {
	var req dto.EnqueueCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd, err := h.queue.Enqueue(c.Request.Context(), c.Param("sn"), req.Command)
	if err != nil {
		if errors.Is(err, commands.ErrInvalidCommand) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.Error("enqueue command", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue command"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": commandResponse(cmd)})
}
