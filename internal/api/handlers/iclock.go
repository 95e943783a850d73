package handlers

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/your-org/admsgw/internal/config"
	"github.com/your-org/admsgw/internal/ingest"
	"github.com/your-org/admsgw/internal/models"
	"github.com/your-org/admsgw/internal/protocol"
)

// Ingester applies push bodies.
type Ingester interface {
	Ingest(ctx context.Context, b ingest.Batch) ingest.Result
}

// Dispatcher hands queued commands to polling terminals.
type Dispatcher interface {
	DequeueNext(ctx context.Context, deviceSN string) (*models.PendingCommand, error)
}

type DeviceLookup interface {
	GetDeviceBySerial(ctx context.Context, serialNumber string) (*models.Device, error)
}

type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) (string, error)
}

const (
	textPlain = "text/plain"

	// minUploadLen is the shortest body treated as a base64 file upload.
	minUploadLen = 100
	// logPreviewLen bounds the diagnostic body written to the log.
	logPreviewLen = 1000
)

// IClockHandler serves the terminal push protocol under /iclock. Every
// route is wrapped by api.DeviceResponse, so handlers only write when they
// have something other than "OK" to say.
type IClockHandler struct {
	engine   Ingester
	commands Dispatcher
	devices  DeviceLookup
	blobs    BlobWriter
	options  config.ADMSConfig
}

func NewIClockHandler(engine Ingester, commands Dispatcher, devices DeviceLookup, blobs BlobWriter, options config.ADMSConfig) *IClockHandler {
	return &IClockHandler{engine: engine, commands: commands, devices: devices, blobs: blobs, options: options}
}

func reply(c *gin.Context, body string) {
	c.Data(http.StatusOK, textPlain, []byte(body))
}

func readBody(c *gin.Context) string {
	data, err := c.GetRawData()
	if err != nil {
		_ = c.Error(fmt.Errorf("read body: %w", err))
		return ""
	}
	return string(data)
}

// Handshake answers GET /iclock/cdata with the push options the terminal
// should use.
func (h *IClockHandler) Handshake(c *gin.Context) {
	sn := c.Query("SN")
	if sn == "" {
		return
	}

	stamp := "None"
	if d, err := h.devices.GetDeviceBySerial(c.Request.Context(), sn); err != nil {
		_ = c.Error(err)
	} else if d != nil && d.TransactionStamp != "" {
		stamp = d.TransactionStamp
	}

	realtime := 0
	if h.options.Realtime {
		realtime = 1
	}

	var b strings.Builder
	fmt.Fprintf(&b, "GET OPTION FROM: %s\n", sn)
	fmt.Fprintf(&b, "ATTLOGStamp=%s\n", stamp)
	b.WriteString("OPERLOGStamp=9999\n")
	b.WriteString("ATTPHOTOStamp=None\n")
	fmt.Fprintf(&b, "ErrorDelay=%d\n", h.options.ErrorDelay)
	fmt.Fprintf(&b, "Delay=%d\n", h.options.Delay)
	fmt.Fprintf(&b, "TransTimes=%s\n", h.options.TransTimes)
	fmt.Fprintf(&b, "TransInterval=%d\n", h.options.TransInterval)
	fmt.Fprintf(&b, "TransFlag=%s\n", h.options.TransFlag)
	fmt.Fprintf(&b, "TimeZone=%d\n", h.options.TimeZoneHours)
	fmt.Fprintf(&b, "Realtime=%d\n", realtime)
	b.WriteString("Encrypt=0\n")
	reply(c, b.String())
}

// Push handles POST /iclock/cdata, the main data upload.
func (h *IClockHandler) Push(c *gin.Context) {
	sn := c.Query("SN")
	if sn == "" {
		c.Data(http.StatusBadRequest, textPlain, []byte("SN parameter required"))
		return
	}

	stamp := c.Query("TransactionStamp")
	if stamp == "" {
		stamp = c.Query("Stamp")
	}
	h.engine.Ingest(c.Request.Context(), ingest.Batch{
		SerialNumber:     sn,
		Body:             readBody(c),
		Scope:            ingest.ScopeAll,
		Table:            protocol.KindFromTable(c.Query("table")),
		TransactionStamp: stamp,
	})
	reply(c, "OK")
}

// Poll handles GET /iclock/getrequest, handing out at most one command.
func (h *IClockHandler) Poll(c *gin.Context) {
	sn := c.Query("SN")
	if sn == "" {
		c.Data(http.StatusBadRequest, textPlain, []byte("SN parameter required"))
		return
	}

	cmd, err := h.commands.DequeueNext(c.Request.Context(), sn)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if cmd == nil {
		return
	}
	reply(c, fmt.Sprintf("C:%d:%s\n", cmd.CommandID, cmd.CommandString))
}

func (h *IClockHandler) ingestScoped(c *gin.Context, scope ingest.Scope) {
	sn := c.Query("SN")
	if sn == "" {
		slog.Warn("iclock request without SN", "path", c.Request.URL.Path)
		return
	}
	h.engine.Ingest(c.Request.Context(), ingest.Batch{
		SerialNumber: sn,
		Body:         readBody(c),
		Scope:        scope,
	})
}

// CommandResult handles POST /iclock/devicecmd.
func (h *IClockHandler) CommandResult(c *gin.Context) {
	h.ingestScoped(c, ingest.ScopeCommandResult)
}

// Biometrics handles POST /iclock/fdata.
func (h *IClockHandler) Biometrics(c *gin.Context) {
	h.ingestScoped(c, ingest.ScopeBiometric)
}

// PostDeviceInfo handles POST /iclock/deviceinfo.
func (h *IClockHandler) PostDeviceInfo(c *gin.Context) {
	h.ingestScoped(c, ingest.ScopeDeviceInfo)
}

// GetDeviceInfo answers GET /iclock/deviceinfo with what is stored about
// the device, or "OK" when nothing is.
func (h *IClockHandler) GetDeviceInfo(c *gin.Context) {
	sn := c.Query("SN")
	if sn == "" {
		return
	}
	d, err := h.devices.GetDeviceBySerial(c.Request.Context(), sn)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if d == nil {
		return
	}

	var name, firmware string
	if d.Name != nil {
		name = *d.Name
	}
	if d.FirmwareVersion != nil {
		firmware = *d.FirmwareVersion
	}
	reply(c, fmt.Sprintf("INFO\tSN=%s\tName=%s\tFirmware=%s\n", d.SerialNumber, name, firmware))
}

// Upload handles POST /iclock/upload. Bodies that look like base64 are
// decoded and stored under <SN>/<FileName>; anything else is ignored.
func (h *IClockHandler) Upload(c *gin.Context) {
	sn := c.Query("SN")
	fileName := c.Query("FileName")
	if fileName == "" {
		fileName = c.Query("file")
	}
	body := readBody(c)
	if sn == "" || fileName == "" || strings.TrimSpace(body) == "" {
		return
	}

	compact := strings.Join(strings.Fields(body), "")
	if len(compact) <= minUploadLen || !isBase64Alphabet(compact) {
		slog.Debug("upload body is not base64, ignored", "device_sn", sn, "file", fileName)
		return
	}
	data, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		_ = c.Error(fmt.Errorf("decode upload %s: %w", fileName, err))
		return
	}

	key := sn + "/" + path.Base(fileName)
	if _, err := h.blobs.Put(c.Request.Context(), key, data, uploadContentType(fileName)); err != nil {
		_ = c.Error(err)
		return
	}
	slog.Info("device file stored", "device_sn", sn, "path", key, "bytes", len(data))
}

func isBase64Alphabet(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '+', r == '/', r == '=':
		default:
			return false
		}
	}
	return true
}

func uploadContentType(fileName string) string {
	switch strings.ToLower(path.Ext(fileName)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	}
	return "application/octet-stream"
}

// Log handles GET and POST /iclock/log. The body is only logged.
func (h *IClockHandler) Log(c *gin.Context) {
	body := strings.TrimSpace(readBody(c))
	if body == "" {
		return
	}
	slog.Info("device diagnostic log", "device_sn", c.Query("SN"), "body", preview(body, logPreviewLen))
}

// preview cuts s to at most n bytes without splitting a UTF-8 sequence.
func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
