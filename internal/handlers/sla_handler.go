package handlers

import (
	"net/http"

	"github.com/afformationceo-debug/csflow-sub002/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SLAHandler SLA 조회/점검 API 처리기
type SLAHandler struct {
	sla     *services.SLAService
	sweeper *services.SweeperService
	logger  *logrus.Logger
}

func NewSLAHandler(sla *services.SLAService, sweeper *services.SweeperService, logger *logrus.Logger) *SLAHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &SLAHandler{sla: sla, sweeper: sweeper, logger: logger}
}

// ConversationStatus 대화 1건의 SLA 상태
// @Router /api/sla/conversations/{id} [get]
func (h *SLAHandler) ConversationStatus(c *gin.Context) {
	status, err := h.sla.CheckConversationSLA(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Errorf("Failed to check conversation SLA: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to check SLA", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

// Metrics 테넌트 SLA 지표
// @Router /api/sla/metrics [get]
func (h *SLAHandler) Metrics(c *gin.Context) {
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

	m, err := h.sla.CalculateMetrics(c.Request.Context(), tenantID, from, to)
	if err != nil {
		h.logger.Errorf("Failed to calculate SLA metrics: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to calculate metrics", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, m)
}

// RunCheck SLA 점검 수동 실행
// @Router /api/sla/check [post]
func (h *SLAHandler) RunCheck(c *gin.Context) {
	result, err := h.sla.RunSLACheck(c.Request.Context())
	if err != nil {
		h.logger.Errorf("SLA check failed: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "SLA check failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// SweepRequest 수동 스윕 요청
type SweepRequest struct {
	ThresholdMinutes int `json:"threshold_minutes"`
}

// RunSweep 무응답 스윕 수동 실행
// @Router /api/sla/sweep [post]
func (h *SLAHandler) RunSweep(c *gin.Context) {
	var req SweepRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}

	result, err := h.sweeper.Sweep(c.Request.Context(), req.ThresholdMinutes)
	if err != nil {
		h.logger.Errorf("Sweep failed: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Sweep failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}
