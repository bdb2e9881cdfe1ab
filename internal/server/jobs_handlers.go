package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"marketsync/internal/database"
	"marketsync/internal/model"
)

// JobRequest represents the request for creating a job
type JobRequest struct {
	Type        string            `json:"type" binding:"required"`
	Marketplace string            `json:"marketplace" binding:"required"`
	Params      map[string]string `json:"params"`
}

// JobResponse represents the response for job operations
type JobResponse struct {
	ID          string              `json:"id"`
	Type        string              `json:"type"`
	Marketplace string              `json:"marketplace"`
	Status      string              `json:"status"`
	Progress    model.JobProgress   `json:"progress"`
	Params      map[string]string   `json:"params,omitempty"`
	Result      interface{}         `json:"result,omitempty"`
	Logs        []model.JobLogEntry `json:"logs,omitempty"`
	CreatedAt   string              `json:"createdAt"`
	StartedAt   string              `json:"startedAt,omitempty"`
	CompletedAt string              `json:"completedAt,omitempty"`
}

func convertJobToResponse(job *model.Job) JobResponse {
	resp := JobResponse{
		ID:          job.ID.Hex(),
		Type:        job.Type,
		Marketplace: job.Marketplace,
		Status:      string(job.Status),
		Progress:    job.Progress,
		Params:      job.Params,
		Result:      job.Result,
		Logs:        job.Logs,
		CreatedAt:   job.CreatedAt.Format(time.RFC3339),
	}
	if job.StartedAt != nil {
		resp.StartedAt = job.StartedAt.Format(time.RFC3339)
	}
	if job.CompletedAt != nil {
		resp.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	return resp
}

// CreateJobHandler creates a new job and enqueues it
func (s *Server) CreateJobHandler(c *gin.Context) {
	var req JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, ok := s.config.Marketplaces[req.Marketplace]; !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown marketplace: " + req.Marketplace})
		return
	}

	job, err := s.jc.CreateJob(c.Request.Context(), ownerID(c), req.Marketplace, req.Type, req.Params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create job: " + err.Error()})
		return
	}

	c.JSON(http.StatusCreated, convertJobToResponse(job))
}

// GetJobHandler returns a specific job by ID
func (s *Server) GetJobHandler(c *gin.Context) {
	job, err := s.jc.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, convertJobToResponse(job))
}

// ListJobsHandler returns the owner's jobs, newest first
func (s *Server) ListJobsHandler(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	jobs, err := s.jc.ListJobs(c.Request.Context(), ownerID(c), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list jobs: " + err.Error()})
		return
	}

	responses := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, convertJobToResponse(job))
	}

	c.JSON(http.StatusOK, gin.H{"jobs": responses, "count": len(responses)})
}

func (s *Server) CancelJobHandler(c *gin.Context) {
	s.controlJob(c, s.jc.CancelJob, "cancel requested")
}

func (s *Server) PauseJobHandler(c *gin.Context) {
	s.controlJob(c, s.jc.PauseJob, "pause requested")
}

func (s *Server) ResumeJobHandler(c *gin.Context) {
	s.controlJob(c, s.jc.ResumeJob, "resumed")
}

func (s *Server) controlJob(c *gin.Context, control func(ctx context.Context, jobID string) error, message string) {
	if err := control(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, database.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": message})
}

// JobTypesHandler lists the registered job types
func (s *Server) JobTypesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"types": s.jc.AvailableJobTypes()})
}
