package audit

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/coach-realtime/internal/handler"
	"github.com/jwalitptl/coach-realtime/internal/middleware"
	"github.com/jwalitptl/coach-realtime/internal/model"
	"github.com/jwalitptl/coach-realtime/internal/service/audit"
	apperrors "github.com/jwalitptl/coach-realtime/pkg/errors"
)

// Handler serves the read-only audit API. Every read is itself audited.
type Handler struct {
	service *audit.Service
	auditor audit.Recorder
}

func NewHandler(service *audit.Service, auditor audit.Recorder) *Handler {
	return &Handler{
		service: service,
		auditor: auditor,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	audit := r.Group("/audit")
	{
		audit.GET("/events", h.ListEvents)
		audit.GET("/report", h.Report)
	}
}

type filterQuery struct {
	From       *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To         *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	UserID     string     `form:"userId" binding:"omitempty,uuid"`
	Types      []string   `form:"type"`
	MinRisk    string     `form:"minRisk" binding:"omitempty,oneof=LOW MEDIUM HIGH CRITICAL"`
	Outcome    string     `form:"outcome" binding:"omitempty,oneof=SUCCESS FAILURE PENDING"`
	Resource   string     `form:"resource"`
	ResourceID string     `form:"resourceId"`
	Page       int        `form:"page" binding:"omitempty,min=1"`
	PageSize   int        `form:"pageSize" binding:"omitempty,min=1,max=500"`
}

func (q filterQuery) toFilter() model.AuditFilter {
	f := model.AuditFilter{
		TimeRange:  model.TimeRange{From: q.From, To: q.To},
		Pagination: model.Pagination{Page: q.Page, PageSize: q.PageSize},
		MinRisk:    model.RiskLevel(q.MinRisk),
		Outcome:    model.AuditOutcome(q.Outcome),
		Resource:   q.Resource,
		ResourceID: q.ResourceID,
	}
	if q.UserID != "" {
		id := uuid.MustParse(q.UserID)
		f.UserID = &id
	}
	for _, t := range q.Types {
		f.Types = append(f.Types, model.AuditEventType(t))
	}
	return f
}

func (h *Handler) bind(c *gin.Context) (model.AuditFilter, bool) {
	var q filterQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(apperrors.BadRequest("invalid query", err))
		return model.AuditFilter{}, false
	}
	return q.toFilter(), true
}

type listResponse struct {
	Events   []model.AuditEvent `json:"events"`
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"pageSize"`
}

func (h *Handler) ListEvents(c *gin.Context) {
	filter, ok := h.bind(c)
	if !ok {
		return
	}

	events, total, err := h.service.Query(c.Request.Context(), filter)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if events == nil {
		events = []model.AuditEvent{}
	}

	h.recordRead(c, "audit_events", filter, len(events))

	size, offset := filter.LimitOffset()
	c.JSON(http.StatusOK, handler.NewSuccessResponse(listResponse{
		Events:   events,
		Total:    total,
		Page:     offset/size + 1,
		PageSize: size,
	}))
}

func (h *Handler) Report(c *gin.Context) {
	filter, ok := h.bind(c)
	if !ok {
		return
	}

	summary, err := h.service.Report(c.Request.Context(), filter)
	if err != nil {
		_ = c.Error(err)
		return
	}

	h.recordRead(c, "audit_report", filter, int(summary.Total))
	c.JSON(http.StatusOK, handler.NewSuccessResponse(summary))
}

func (h *Handler) recordRead(c *gin.Context, resource string, filter model.AuditFilter, count int) {
	details := map[string]interface{}{"results": count}
	if filter.MinRisk != "" {
		details["min_risk"] = string(filter.MinRisk)
	}
	if filter.UserID != nil {
		details["user_id"] = filter.UserID.String()
	}
	h.auditor.Log(c.Request.Context(), model.AuditDataRead, middleware.RequestActor(c), details,
		audit.WithResource(resource, ""),
		audit.WithAction("read"),
	)
}
