package v1

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smartshieldai-idps/flowguard/backend/internal/detection/ml"
	"github.com/smartshieldai-idps/flowguard/backend/internal/health"
	"github.com/smartshieldai-idps/flowguard/backend/internal/metrics"
	"github.com/smartshieldai-idps/flowguard/backend/internal/middleware"
	"github.com/smartshieldai-idps/flowguard/backend/internal/models"
	"github.com/smartshieldai-idps/flowguard/backend/internal/store"
)

// Handler handles API requests
type Handler struct {
	store     *store.Store
	detection *ml.Service
	health    *health.HealthChecker
	metrics   *metrics.MetricsCollector
	logger    *zap.Logger
}

// NewHandler creates a new API handler. checker may be nil.
func NewHandler(store *store.Store, detection *ml.Service, checker *health.HealthChecker, collector *metrics.MetricsCollector, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:     store,
		detection: detection,
		health:    checker,
		metrics:   collector,
		logger:    logger,
	}
}

// RegisterRoutes registers API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.handleHealth)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	v1 := r.Group("/api/v1")
	{
		logs := v1.Group("/logs")
		logs.POST("", h.handleCreateLog)
		logs.POST("/batch", h.handleCreateLogBatch)
		logs.GET("", h.handleListLogs)
		logs.GET("/:id", h.handleGetLog)

		detection := v1.Group("/ml")
		detection.POST("/train", h.handleTrain)
		detection.POST("/analyze", h.handleAnalyze)
		detection.GET("/statistics", h.handleStatistics)
		detection.GET("/models", h.handleListModels)
		detection.GET("/models/:id", h.handleGetModel)
		detection.POST("/models/merge", h.handleMergeModels)

		alerts := v1.Group("/alerts")
		alerts.POST("", h.handleCreateAlert)
		alerts.GET("", h.handleListAlerts)
		alerts.GET("/:id", h.handleGetAlert)
	}
}

// fail maps err onto a status code and writes the error response
func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ml.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, ml.ErrNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}

	_ = c.Error(err)
	c.JSON(status, middleware.APIResponse{
		Status:  "error",
		Message: err.Error(),
	})
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusBadRequest, middleware.APIResponse{
		Status:  "error",
		Message: err.Error(),
	})
}

func pathID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("id must be a positive integer")
	}
	return id, nil
}

// handleHealth reports dependency health
func (h *Handler) handleHealth(c *gin.Context) {
	if h.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		return
	}

	components := h.health.CheckAll(c.Request.Context())
	status, code := "healthy", http.StatusOK
	if !h.health.IsHealthy() {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC(),
	})
}

// handleCreateLog stores one flow record
func (h *Handler) handleCreateLog(c *gin.Context) {
	var record models.FlowRecord
	if err := c.ShouldBindJSON(&record); err != nil {
		h.badRequest(c, err)
		return
	}

	if err := h.store.SaveFlows(c.Request.Context(), []*models.FlowRecord{&record}); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

// BatchRequest carries flow records shipped by an agent
type BatchRequest struct {
	Logs []models.FlowRecord `json:"logs" binding:"required,min=1,max=5000,dive"`
}

// handleCreateLogBatch stores a batch of flow records
func (h *Handler) handleCreateLogBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	records := make([]*models.FlowRecord, len(req.Logs))
	for i := range req.Logs {
		records[i] = &req.Logs[i]
	}
	if err := h.store.SaveFlows(c.Request.Context(), records); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"status": "success",
		"stored": len(records),
		"first":  records[0].ID,
		"last":   records[len(records)-1].ID,
	})
}

// handleListLogs lists flow records, newest first
func (h *Handler) handleListLogs(c *gin.Context) {
	var filter models.FlowFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.badRequest(c, err)
		return
	}

	records, err := h.store.ListFlows(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// handleGetLog returns one flow record
func (h *Handler) handleGetLog(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		h.badRequest(c, err)
		return
	}

	record, err := h.store.GetFlow(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// handleTrain trains a model on a stored time window
func (h *Handler) handleTrain(c *gin.Context) {
	var req ml.TrainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	resp, err := h.detection.TrainModel(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// AnalyzeRequest asks for a set of flow records to be scored
type AnalyzeRequest struct {
	ModelID int64               `json:"model_id" binding:"required"`
	Logs    []models.FlowRecord `json:"logs" binding:"dive"`
	// PersistAlerts raises alerts for anomalous records that carry the id
	// of a stored flow record
	PersistAlerts bool `json:"persist_alerts"`
}

// handleAnalyze scores flow records with a cataloged model
func (h *Handler) handleAnalyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	resp, err := h.detection.AnalyzeLogs(c.Request.Context(), req.ModelID, req.Logs, req.PersistAlerts)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// StatisticsQuery is the reporting window of the statistics endpoint
type StatisticsQuery struct {
	StartDate time.Time `form:"start_date" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
	EndDate   time.Time `form:"end_date" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
}

// handleStatistics reports traffic statistics for a window
func (h *Handler) handleStatistics(c *gin.Context) {
	var q StatisticsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, err)
		return
	}

	resp, err := h.detection.Statistics(c.Request.Context(), q.StartDate, q.EndDate)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleListModels lists the model catalog
func (h *Handler) handleListModels(c *gin.Context) {
	var filter models.ModelFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.badRequest(c, err)
		return
	}

	list, err := h.detection.ListModels(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// handleGetModel returns a catalog entry with its artifact metadata
func (h *Handler) handleGetModel(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		h.badRequest(c, err)
		return
	}

	details, err := h.detection.GetModel(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

// handleMergeModels catalogs a merged model
func (h *Handler) handleMergeModels(c *gin.Context) {
	var req ml.MergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	merged, err := h.detection.MergeModels(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, merged)
}

// AlertDetail is an alert with the flow record and model it refers to.
// Either may be missing if it was deleted after the alert was raised.
type AlertDetail struct {
	*models.Alert
	TrafficLog *models.FlowRecord  `json:"traffic_log,omitempty"`
	MLModel    *models.ModelRecord `json:"ml_model,omitempty"`
}

// handleCreateAlert stores an alert for an existing record and model
func (h *Handler) handleCreateAlert(c *gin.Context) {
	var alert models.Alert
	if err := c.ShouldBindJSON(&alert); err != nil {
		h.badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	if _, err := h.store.GetFlow(ctx, alert.TrafficLogID); err != nil {
		h.fail(c, err)
		return
	}
	if _, err := h.store.GetModel(ctx, alert.MLModelID); err != nil {
		h.fail(c, err)
		return
	}

	alert.ID = 0
	if err := h.store.CreateAlert(ctx, &alert); err != nil {
		h.fail(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordAlert()
	}
	c.JSON(http.StatusCreated, alert)
}

// handleListAlerts lists alerts, most recent first
func (h *Handler) handleListAlerts(c *gin.Context) {
	var filter models.AlertFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.badRequest(c, err)
		return
	}

	alerts, err := h.store.ListAlerts(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}

	details := make([]AlertDetail, len(alerts))
	for i, alert := range alerts {
		details[i] = h.alertDetail(c, alert)
	}
	c.JSON(http.StatusOK, details)
}

// handleGetAlert returns one alert with its record and model
func (h *Handler) handleGetAlert(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		h.badRequest(c, err)
		return
	}

	alert, err := h.store.GetAlert(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.alertDetail(c, alert))
}

func (h *Handler) alertDetail(c *gin.Context, alert *models.Alert) AlertDetail {
	detail := AlertDetail{Alert: alert}
	if record, err := h.store.GetFlow(c.Request.Context(), alert.TrafficLogID); err == nil {
		detail.TrafficLog = record
	}
	if model, err := h.store.GetModel(c.Request.Context(), alert.MLModelID); err == nil {
		detail.MLModel = model
	}
	return detail
}
