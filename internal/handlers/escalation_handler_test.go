package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/afformationceo-debug/csflow-sub002/internal/models"
	"github.com/afformationceo-debug/csflow-sub002/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newEscalationHandlerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Tenant{}, &models.Customer{}, &models.Conversation{}, &models.Escalation{}, &models.Agent{}))
	return db
}

func newEscalationRouter(db *gorm.DB) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := NewEscalationHandler(services.NewEscalationService(db, nil, nil), nil)

	router := gin.New()
	router.GET("/api/escalations", handler.List)
	router.GET("/api/escalations/metrics", handler.Metrics)
	router.POST("/api/escalations/:id/assign", handler.AutoAssign)
	router.POST("/api/escalations/:id/resolve", handler.Resolve)
	return router
}

func seedHandlerEscalation(t *testing.T, db *gorm.DB, tenantID, priority, status string) *models.Escalation {
	t.Helper()
	conv := &models.Conversation{
		ID: uuid.New().String(), CustomerID: uuid.New().String(), TenantID: tenantID,
		Status: models.ConversationEscalated, AIEnabled: true,
	}
	require.NoError(t, db.Create(conv).Error)
	esc := &models.Escalation{
		ID: uuid.New().String(), ConversationID: conv.ID, TenantID: tenantID,
		Reason: "AI 신뢰도 미달", Priority: priority, Status: status,
	}
	require.NoError(t, db.Create(esc).Error)
	return esc
}

func TestEscalationHandler_List_RequiresTenant(t *testing.T) {
	router := newEscalationRouter(newEscalationHandlerTestDB(t))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/escalations", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEscalationHandler_List_Paginates(t *testing.T) {
	db := newEscalationHandlerTestDB(t)
	router := newEscalationRouter(db)

	for i := 0; i < 3; i++ {
		seedHandlerEscalation(t, db, "tenant-1", models.PriorityMedium, models.EscalationPending)
	}
	seedHandlerEscalation(t, db, "tenant-2", models.PriorityMedium, models.EscalationPending)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/escalations?tenant_id=tenant-1&page=1&page_size=2", nil))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Data     []models.Escalation `json:"data"`
		Total    int64               `json:"total"`
		Page     int                 `json:"page"`
		PageSize int                 `json:"page_size"`
		Pages    int                 `json:"pages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 2)
	assert.EqualValues(t, 3, resp.Total)
	assert.Equal(t, 2, resp.Pages)
}

func TestEscalationHandler_List_FiltersByStatus(t *testing.T) {
	db := newEscalationHandlerTestDB(t)
	router := newEscalationRouter(db)

	seedHandlerEscalation(t, db, "tenant-1", models.PriorityHigh, models.EscalationPending)
	resolved := seedHandlerEscalation(t, db, "tenant-1", models.PriorityHigh, models.EscalationResolved)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/escalations?tenant_id=tenant-1&status=resolved", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []models.Escalation `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, resolved.ID, resp.Data[0].ID)
}

func TestEscalationHandler_AutoAssign_NoAgents(t *testing.T) {
	db := newEscalationHandlerTestDB(t)
	router := newEscalationRouter(db)
	esc := seedHandlerEscalation(t, db, "tenant-1", models.PriorityMedium, models.EscalationPending)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/api/escalations/"+esc.ID+"/assign", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "No active agents")

	var got models.Escalation
	require.NoError(t, db.First(&got, "id = ?", esc.ID).Error)
	assert.Equal(t, models.EscalationPending, got.Status)
}

func TestEscalationHandler_AutoAssign_PicksAgent(t *testing.T) {
	db := newEscalationHandlerTestDB(t)
	router := newEscalationRouter(db)
	esc := seedHandlerEscalation(t, db, "tenant-1", models.PriorityMedium, models.EscalationPending)

	agent := &models.Agent{ID: uuid.New().String(), TenantID: "tenant-1", Name: "김상담", Role: "agent", Active: true}
	require.NoError(t, db.Create(agent).Error)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/api/escalations/"+esc.ID+"/assign", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), agent.ID)

	var got models.Escalation
	require.NoError(t, db.First(&got, "id = ?", esc.ID).Error)
	assert.Equal(t, models.EscalationAssigned, got.Status)
	require.NotNil(t, got.AssignedTo)
	assert.Equal(t, agent.ID, *got.AssignedTo)
}

func TestEscalationHandler_Resolve(t *testing.T) {
	db := newEscalationHandlerTestDB(t)
	router := newEscalationRouter(db)
	esc := seedHandlerEscalation(t, db, "tenant-1", models.PriorityMedium, models.EscalationPending)

	body, _ := json.Marshal(map[string]string{"resolver_id": "agent-1", "note": "전화로 안내 완료"})
	req := httptest.NewRequest("POST", "/api/escalations/"+esc.ID+"/resolve", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got models.Escalation
	require.NoError(t, db.First(&got, "id = ?", esc.ID).Error)
	assert.Equal(t, models.EscalationResolved, got.Status)
	assert.NotNil(t, got.ResolvedAt)
	assert.Equal(t, "전화로 안내 완료", got.ResolutionNote)
}

func TestEscalationHandler_Resolve_MissingResolver(t *testing.T) {
	db := newEscalationHandlerTestDB(t)
	router := newEscalationRouter(db)
	esc := seedHandlerEscalation(t, db, "tenant-1", models.PriorityMedium, models.EscalationPending)

	req := httptest.NewRequest("POST", "/api/escalations/"+esc.ID+"/resolve", bytes.NewReader([]byte(`{"note":"x"}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEscalationHandler_Metrics_InvalidRange(t *testing.T) {
	router := newEscalationRouter(newEscalationHandlerTestDB(t))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/escalations/metrics?tenant_id=tenant-1&from=not-a-time", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEscalationHandler_Metrics(t *testing.T) {
	db := newEscalationHandlerTestDB(t)
	router := newEscalationRouter(db)

	esc := seedHandlerEscalation(t, db, "tenant-1", models.PriorityHigh, models.EscalationResolved)
	resolvedAt := time.Now()
	require.NoError(t, db.Model(esc).Updates(map[string]interface{}{"resolved_at": resolvedAt}).Error)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/escalations/metrics?tenant_id=tenant-1", nil))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var m services.EscalationMetrics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	assert.EqualValues(t, 1, m.Total)
	assert.EqualValues(t, 1, m.ByPriority[models.PriorityHigh])
}
