package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"frigate-commander/cron"
	"frigate-commander/database"
	"frigate-commander/jobs"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type presetRequest struct {
	Name      *string           `json:"name"`
	Type      *database.JobKind `json:"type"`
	Camera    *string           `json:"camera"`
	Arguments json.RawMessage   `json:"arguments"`
	Schedule  *string           `json:"schedule"`
}

// apply copies the provided fields onto preset
func (r presetRequest) apply(preset *database.Preset) {
	if r.Name != nil {
		preset.Name = strings.TrimSpace(*r.Name)
	}
	if r.Type != nil {
		preset.Kind = *r.Type
	}
	if r.Camera != nil {
		preset.Camera = strings.TrimSpace(*r.Camera)
	}
	if len(r.Arguments) > 0 {
		preset.Arguments = r.Arguments
	}
	if r.Schedule != nil {
		preset.Schedule = strings.TrimSpace(*r.Schedule)
	}
}

// validatePreset rejects presets that could never start a job
func (s *Server) validatePreset(preset database.Preset) string {
	if preset.Name == "" {
		return "name is required"
	}
	if !preset.Kind.Valid() {
		return "unknown job type: " + string(preset.Kind)
	}
	if _, err := jobs.ParseArgs(preset.Kind, preset.Arguments, s.cfg.GetConfig().Location().TZ); err != nil {
		return err.Error()
	}
	if err := cron.ValidateSchedule(preset.Schedule); err != nil {
		return err.Error()
	}
	return ""
}

func (s *Server) loadPreset(c *gin.Context) (*database.Preset, bool) {
	preset, err := s.db.GetPreset(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if preset == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Preset not found"})
		return nil, false
	}
	return preset, true
}

// syncSchedule keeps the scheduler in step with a stored preset
func (s *Server) syncSchedule(preset database.Preset) {
	if s.presets == nil {
		return
	}
	if err := s.presets.Sync(preset); err != nil {
		log.Printf("[API] Failed to schedule preset %s: %v", preset.ID, err)
	}
}

// GET /api/presets
func (s *Server) listPresets(c *gin.Context) {
	presets, err := s.db.ListPresets()
	if err != nil {
		respondError(c, err)
		return
	}
	if presets == nil {
		presets = []database.Preset{}
	}
	c.JSON(http.StatusOK, presets)
}

// POST /api/presets
func (s *Server) createPreset(c *gin.Context) {
	var req presetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	preset := database.Preset{
		ID:        strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		Arguments: json.RawMessage("{}"),
		CreatedAt: time.Now().UTC(),
	}
	req.apply(&preset)
	if msg := s.validatePreset(preset); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	if err := s.db.CreatePreset(preset); err != nil {
		respondError(c, err)
		return
	}
	s.syncSchedule(preset)
	c.JSON(http.StatusCreated, preset)
}

// PUT /api/presets/:id
func (s *Server) updatePreset(c *gin.Context) {
	preset, ok := s.loadPreset(c)
	if !ok {
		return
	}
	var req presetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	req.apply(preset)
	if msg := s.validatePreset(*preset); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}
	if err := s.db.UpdatePreset(*preset); err != nil {
		respondError(c, err)
		return
	}
	s.syncSchedule(*preset)
	c.JSON(http.StatusOK, preset)
}

// DELETE /api/presets/:id
func (s *Server) deletePreset(c *gin.Context) {
	id := c.Param("id")
	if err := s.db.DeletePreset(id); err != nil {
		respondError(c, err)
		return
	}
	if s.presets != nil {
		s.presets.Remove(id)
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// POST /api/presets/:id/run
func (s *Server) runPreset(c *gin.Context) {
	preset, ok := s.loadPreset(c)
	if !ok {
		return
	}
	job, err := cron.RunPreset(s.engine, *preset)
	if err != nil {
		respondError(c, err)
		return
	}
	if current, err := s.engine.Get(job.ID); err == nil {
		job = current
	}
	c.JSON(http.StatusCreated, job)
}
