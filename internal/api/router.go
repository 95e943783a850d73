package api

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/admsgw/internal/api/handlers"
	"github.com/your-org/admsgw/internal/api/ws"
	"github.com/your-org/admsgw/internal/auth"
	"github.com/your-org/admsgw/internal/config"
	"github.com/your-org/admsgw/internal/models"
)

// Store is the read side the HTTP layer needs.
type Store interface {
	handlers.DeviceStore
	handlers.EmployeeStore
	handlers.AttendanceStore
}

type Blobs interface {
	handlers.BlobWriter
	handlers.URLResolver
}

type CommandQueue interface {
	Enqueue(ctx context.Context, deviceSN, command string) (*models.PendingCommand, error)
	DequeueNext(ctx context.Context, deviceSN string) (*models.PendingCommand, error)
}

type Presence interface {
	Toucher
	Online(lastSeen time.Time) bool
}

type RouterConfig struct {
	Store    Store
	Blobs    Blobs
	Engine   handlers.Ingester
	Commands CommandQueue
	Presence Presence
	// Hub is optional; without it /v1/ws is not served.
	Hub    *ws.Hub
	Keys   auth.Keys
	ADMS   config.ADMSConfig
	Checks map[string]handlers.Check
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Terminal push protocol. Terminals cannot authenticate and always get
	// a 200 unless the request is unusable.
	iclockH := handlers.NewIClockHandler(cfg.Engine, cfg.Commands, cfg.Store, cfg.Blobs, cfg.ADMS)
	iclock := r.Group("/iclock")
	iclock.Use(DeviceResponse(), Heartbeat(cfg.Presence))
	iclock.GET("/cdata", iclockH.Handshake)
	iclock.POST("/cdata", iclockH.Push)
	iclock.GET("/getrequest", iclockH.Poll)
	iclock.POST("/devicecmd", iclockH.CommandResult)
	iclock.POST("/fdata", iclockH.Biometrics)
	iclock.GET("/deviceinfo", iclockH.GetDeviceInfo)
	iclock.POST("/deviceinfo", iclockH.PostDeviceInfo)
	iclock.POST("/upload", iclockH.Upload)
	iclock.GET("/log", iclockH.Log)
	iclock.POST("/log", iclockH.Log)

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.Keys))

	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	deviceH := handlers.NewDeviceHandler(cfg.Store, cfg.Commands, cfg.Presence)
	v1.GET("/devices", deviceH.List)
	v1.POST("/devices", deviceH.Register)
	v1.GET("/devices/:sn", deviceH.Get)
	v1.GET("/devices/:sn/commands", deviceH.ListCommands)
	v1.POST("/devices/:sn/commands", deviceH.EnqueueCommand)

	employeeH := handlers.NewEmployeeHandler(cfg.Store)
	v1.GET("/employees", employeeH.List)
	v1.GET("/employees/:code", employeeH.Get)

	attendanceH := handlers.NewAttendanceHandler(cfg.Store, cfg.Blobs, cfg.ADMS.Location())
	v1.GET("/attendance", attendanceH.List)

	return r
}
