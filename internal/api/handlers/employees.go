package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/admsgw/internal/models"
	"github.com/your-org/admsgw/pkg/dto"
)

type EmployeeStore interface {
	ListEmployees(ctx context.Context, limit int) ([]models.Employee, error)
	GetEmployeeByCode(ctx context.Context, code string) (*models.Employee, error)
}

const (
	defaultEmployeeLimit = 1000
	maxEmployeeLimit     = 10000
)

type EmployeeHandler struct {
	store EmployeeStore
}

func NewEmployeeHandler(store EmployeeStore) *EmployeeHandler {
	return &EmployeeHandler{store: store}
}

func employeeResponse(e *models.Employee) dto.EmployeeResponse {
	return dto.EmployeeResponse{
		ID:           e.ID,
		EmployeeCode: e.EmployeeCode,
		Name:         e.Name,
		RFIDCard:     e.RFIDCard,
		Privilege:    e.Privilege,
		CreatedAt:    e.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    e.UpdatedAt.Format(time.RFC3339),
	}
}

func (h *EmployeeHandler) List(c *gin.Context) {
	limit := defaultEmployeeLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxEmployeeLimit)
	}

	employees, err := h.store.ListEmployees(c.Request.Context(), limit)
	if err != nil {
		slog.Error("list employees", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list employees"})
		return
	}

	resp := make([]dto.EmployeeResponse, 0, len(employees))
	for i := range employees {
		resp = append(resp, employeeResponse(&employees[i]))
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (h *EmployeeHandler) Get(c *gin.Context) {
	e, err := h.store.GetEmployeeByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		slog.Error("get employee", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get employee"})
		return
	}
	if e == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "employee not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": employeeResponse(e)})
}
