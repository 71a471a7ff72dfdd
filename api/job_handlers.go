package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"frigate-commander/database"

	"github.com/gin-gonic/gin"
)

type createJobRequest struct {
	Type      database.JobKind `json:"type" binding:"required"`
	Camera    string           `json:"camera"`
	Arguments json.RawMessage  `json:"arguments"`
}

// POST /api/jobs
func (s *Server) createJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	job, err := s.engine.Create(req.Type, req.Camera, req.Arguments)
	if err != nil {
		respondError(c, err)
		return
	}
	if _, err := s.engine.Start(job.ID); err != nil {
		respondError(c, err)
		return
	}
	if current, err := s.engine.Get(job.ID); err == nil {
		job = current
	}
	c.JSON(http.StatusCreated, job)
}

// GET /api/jobs?status&type&camera&limit&offset
func (s *Server) listJobs(c *gin.Context) {
	filter := database.JobFilter{
		Status: database.JobStatus(c.Query("status")),
		Kind:   database.JobKind(c.Query("type")),
		Camera: c.Query("camera"),
	}
	switch filter.Status {
	case "", database.StatusPending, database.StatusRunning, database.StatusCompleted,
		database.StatusFailed, database.StatusCancelled:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status: " + string(filter.Status)})
		return
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid type: " + string(filter.Kind)})
		return
	}

	var ok bool
	if filter.Limit, ok = queryInt(c, "limit", 100, 1, 1000); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
		return
	}
	if filter.Offset, ok = queryInt(c, "offset", 0, 0, 1<<31-1); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must not be negative"})
		return
	}

	list, err := s.engine.List(filter)
	if err != nil {
		respondError(c, err)
		return
	}
	if list == nil {
		list = []database.Job{}
	}
	c.JSON(http.StatusOK, list)
}

// GET /api/jobs/:id
func (s *Server) getJob(c *gin.Context) {
	job, err := s.engine.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// DELETE /api/jobs/:id?cancel=true
func (s *Server) deleteJob(c *gin.Context) {
	id := c.Param("id")
	job, err := s.engine.Get(id)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := s.engine.Delete(id, queryBool(c, "cancel", true)); err != nil {
		respondError(c, err)
		return
	}
	if s.archive != nil {
		s.archive.Forget(*job)
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// POST /api/jobs/:id/cancel
func (s *Server) cancelJob(c *gin.Context) {
	id := c.Param("id")
	job, err := s.engine.Get(id)
	if err != nil {
		respondError(c, err)
		return
	}
	if job.Status != database.StatusPending && job.Status != database.StatusRunning {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot cancel job with status: " + string(job.Status)})
		return
	}
	if err := s.engine.Cancel(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// POST /api/jobs/:id/retry
func (s *Server) retryJob(c *gin.Context) {
	job, err := s.engine.Retry(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

// GET /api/jobs/:id/logs?tail=200
func (s *Server) getJobLogs(c *gin.Context) {
	tail, ok := queryInt(c, "tail", 200, 1, 10000)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tail must be between 1 and 10000"})
		return
	}
	id := c.Param("id")
	lines, err := s.engine.Logs(id, tail)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": id, "logs": strings.Join(lines, "\n")})
}

// GET /api/jobs/:id/clone
func (s *Server) cloneJob(c *gin.Context) {
	job, err := s.engine.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"type":      job.Kind,
		"camera":    job.Camera,
		"arguments": job.Arguments,
	})
}

// POST /api/jobs/:id/stream-token
func (s *Server) createStreamToken(c *gin.Context) {
	job, err := s.engine.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !s.auth.Enabled() {
		c.JSON(http.StatusOK, gin.H{"token": "", "auth": false})
		return
	}
	token, expires, err := s.auth.GenerateStreamToken(job.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expiresAt": expires, "auth": true})
}

// GET /api/jobs/:id/metrics
func (s *Server) getJobMetrics(c *gin.Context) {
	if s.metrics == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Metrics are disabled"})
		return
	}
	m, ok := s.metrics.GetMetrics(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No metrics for job"})
		return
	}
	c.JSON(http.StatusOK, m)
}
