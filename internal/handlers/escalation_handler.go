package handlers

import (
	"net/http"
	"time"

	"github.com/afformationceo-debug/csflow-sub002/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// EscalationHandler 에스컬레이션 API 처리기
type EscalationHandler struct {
	escalations *services.EscalationService
	logger      *logrus.Logger
}

func NewEscalationHandler(escalations *services.EscalationService, logger *logrus.Logger) *EscalationHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &EscalationHandler{escalations: escalations, logger: logger}
}

// List 에스컬레이션 목록
// @Router /api/escalations [get]
func (h *EscalationHandler) List(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "tenant_id is required"})
		return
	}

	var req services.EscalationListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid query parameters", Message: err.Error()})
		return
	}

	items, total, err := h.escalations.List(c.Request.Context(), tenantID, &req)
	if err != nil {
		h.logger.Errorf("Failed to list escalations: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list escalations", Message: err.Error()})
		return
	}

	pages := 0
	if req.PageSize > 0 {
		pages = int((total + int64(req.PageSize) - 1) / int64(req.PageSize))
	}
	c.JSON(http.StatusOK, PaginatedResponse{
		Data:     items,
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Pages:    pages,
	})
}

// AutoAssign 최소 부하 상담원 자동 배정
// @Router /api/escalations/{id}/assign [post]
func (h *EscalationHandler) AutoAssign(c *gin.Context) {
	agentID, err := h.escalations.AutoAssign(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Errorf("Failed to auto-assign escalation %s: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to assign escalation", Message: err.Error()})
		return
	}
	if agentID == nil {
		c.JSON(http.StatusOK, SuccessResponse{Message: "No active agents available, escalation stays pending"})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "Escalation assigned", Data: gin.H{"agent_id": *agentID}})
}

// ResolveRequest 해결 요청 바디
type ResolveRequest struct {
	ResolverID string `json:"resolver_id" binding:"required"`
	Note       string `json:"note"`
}

// Resolve 에스컬레이션 해결
// @Router /api/escalations/{id}/resolve [post]
func (h *EscalationHandler) Resolve(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}

	if err := h.escalations.Resolve(c.Request.Context(), c.Param("id"), req.ResolverID, req.Note); err != nil {
		h.logger.Errorf("Failed to resolve escalation %s: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to resolve escalation", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "Escalation resolved"})
}

// Metrics 기간 집계
// @Router /api/escalations/metrics [get]
func (h *EscalationHandler) Metrics(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "tenant_id is required"})
		return
	}

	from, to, err := parseRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid time range", Message: err.Error()})
		return
	}

	m, err := h.escalations.Metrics(c.Request.Context(), tenantID, from, to)
	if err != nil {
		h.logger.Errorf("Failed to compute escalation metrics: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to compute metrics", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, m)
}

// parseRange from/to 쿼리 파싱, 기본 최근 7일
func parseRange(c *gin.Context) (time.Time, time.Time, error) {
	to := time.Now()
	from := to.AddDate(0, 0, -7)
	if v := c.Query("from"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, err
		}
		from = parsed
	}
	if v := c.Query("to"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, err
		}
		to = parsed
	}
	return from, to, nil
}
