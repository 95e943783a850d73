package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/admsgw/internal/models"
	"github.com/your-org/admsgw/internal/storage"
	"github.com/your-org/admsgw/pkg/dto"
)

type AttendanceStore interface {
	QueryAttendance(ctx context.Context, f models.AttendanceFilter) ([]models.AttendanceRow, error)
}

type URLResolver interface {
	PublicURL(path string) string
}

// naiveLayout renders punch times, which carry no zone.
const naiveLayout = "2006-01-02T15:04:05"

type AttendanceHandler struct {
	store AttendanceStore
	urls  URLResolver
	loc   *time.Location
}

// NewAttendanceHandler serves attendance reports. loc is the terminals'
// zone, used to bring RFC 3339 filter bounds to terminal wall time.
func NewAttendanceHandler(store AttendanceStore, urls URLResolver, loc *time.Location) *AttendanceHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &AttendanceHandler{store: store, urls: urls, loc: loc}
}

// parseBound reads a filter date. Date-only values cover the whole day: the
// start of it for a lower bound, the last second of it for an upper bound.
func (h *AttendanceHandler) parseBound(s string, upper bool) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.In(h.loc)
		naive := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
		return &naive, nil
	}
	for _, layout := range []string{"2006-01-02 15:04:05", naiveLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q", s)
	}
	if upper {
		t = t.Add(24*time.Hour - time.Second)
	}
	return &t, nil
}

func (h *AttendanceHandler) List(c *gin.Context) {
	var q dto.AttendanceQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	from, err := h.parseBound(q.StartDate, false)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	to, err := h.parseBound(q.EndDate, true)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.Limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must not be negative"})
		return
	}

	rows, err := h.store.QueryAttendance(c.Request.Context(), models.AttendanceFilter{
		From:         from,
		To:           to,
		EmployeeCode: q.EmployeeCode,
		DeviceSN:     q.DeviceSN,
		Limit:        min(q.Limit, storage.MaxAttendanceRows),
	})
	if err != nil {
		slog.Error("query attendance", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch attendance logs"})
		return
	}

	resp := make([]dto.AttendanceResponse, 0, len(rows))
	for _, r := range rows {
		item := dto.AttendanceResponse{
			ID:             r.ID,
			EmployeeCode:   r.EmployeeCode,
			EmployeeName:   r.EmployeeName,
			DeviceSN:       r.DeviceSN,
			PunchTimestamp: r.PunchTimestamp.Format(naiveLayout),
			StatusCode:     r.StatusCode,
			VerifyMode:     r.VerifyMode,
		}
		if r.PhotoPath != nil && h.urls != nil {
			u := h.urls.PublicURL(*r.PhotoPath)
			item.PhotoURL = &u
		}
		resp = append(resp, item)
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
