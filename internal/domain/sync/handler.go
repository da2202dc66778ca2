package sync

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/healthflow/healthflow/internal/domain/prescription"
	"github.com/healthflow/healthflow/pkg/rxerr"
)

type Handler struct {
	sched *Scheduler
	repo  prescription.Repository
}

func NewHandler(sched *Scheduler, repo prescription.Repository) *Handler {
	return &Handler{sched: sched, repo: repo}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/sync/jobs", h.ScheduleJob)
	api.POST("/sync/run", h.ProcessJobs)
	api.GET("/sync/jobs/:id", h.GetJob)
}

type scheduleRequest struct {
	PrescriptionTxID string `json:"prescription_tx_id"`
	EHRSystem        string `json:"ehr_system"`
	MaxAttempts      int    `json:"max_attempts"`
}

func (h *Handler) ScheduleJob(c echo.Context) error {
	var req scheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PrescriptionTxID == "" || req.EHRSystem == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "prescription_tx_id and ehr_system are required")
	}

	stored, err := h.repo.GetByTxID(c.Request().Context(), req.PrescriptionTxID)
	if err != nil {
		if rxerr.IsNotFound(err) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	jobID := h.sched.ScheduleSync(req.PrescriptionTxID, req.EHRSystem, stored.ToCanonical(), req.MaxAttempts)
	return c.JSON(http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (h *Handler) ProcessJobs(c echo.Context) error {
	results := h.sched.ProcessPendingJobs(c.Request().Context(), 4)
	return c.JSON(http.StatusOK, results)
}

func (h *Handler) GetJob(c echo.Context) error {
	job, err := h.sched.GetJobStatus(c.Param("id"))
	if err != nil {
		if rxerr.IsNotFound(err) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, job)
}
