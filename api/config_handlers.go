package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"frigate-commander/database"
	"frigate-commander/monitoring"
	"frigate-commander/recording"

	"github.com/gin-gonic/gin"
)

const version = "1.0.0"

// GET /api/config
func (s *Server) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.settings.Get())
}

// PUT /api/config
func (s *Server) updateConfig(c *gin.Context) {
	var body map[string]interface{}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format"})
		return
	}

	updates := make(map[string]string, len(body))
	for key, value := range body {
		switch v := value.(type) {
		case string:
			updates[key] = v
		case float64:
			updates[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case nil:
			updates[key] = ""
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid value for %s", key)})
			return
		}
	}

	settings, err := s.settings.Update(updates)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, settings)
}

// GET /api/cameras merges the NVR's cameras with cameras of past jobs and
// cameras found on disk
func (s *Server) listCameras(c *gin.Context) {
	cfg := s.cfg.GetConfig()

	fromFrigate := []string{}
	var frigateError interface{}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if cams, err := s.cameras(ctx, cfg.FrigateBaseURL); err != nil {
		frigateError = err.Error()
	} else if cams != nil {
		fromFrigate = cams
	}

	fromJobs := []string{}
	if past, err := s.engine.List(database.JobFilter{Limit: 1000}); err == nil {
		fromJobs = uniqueSorted(func(add func(string)) {
			for _, job := range past {
				add(job.Camera)
			}
		})
	}

	fromDisk := []string{}
	if cfg.RecordingsPath != "" {
		if cams, err := recording.ListCameras(cfg.RecordingsPath); err == nil {
			fromDisk = cams
		}
	}

	all := uniqueSorted(func(add func(string)) {
		for _, list := range [][]string{fromFrigate, fromJobs, fromDisk} {
			for _, cam := range list {
				add(cam)
			}
		}
	})

	c.JSON(http.StatusOK, gin.H{
		"cameras":       all,
		"from_frigate":  fromFrigate,
		"from_jobs":     fromJobs,
		"from_disk":     fromDisk,
		"frigate_error": frigateError,
	})
}

func uniqueSorted(fill func(add func(string))) []string {
	seen := map[string]bool{}
	out := []string{}
	fill(func(v string) {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	})
	sort.Strings(out)
	return out
}

// GET /api/health
func (s *Server) getHealth(c *gin.Context) {
	resp := gin.H{
		"status":       "ok",
		"version":      version,
		"uptime":       time.Since(s.startedAt).Round(time.Second).String(),
		"running_jobs": len(s.engine.Running()),
	}
	if usage, err := monitoring.CurrentUsage(s.cfg.GetConfig().OutputDir); err == nil {
		resp["resources"] = usage
	}
	if s.nvr != nil {
		online, checkedAt := s.nvr.Status()
		nvr := gin.H{"online": online}
		if !checkedAt.IsZero() {
			nvr["checked_at"] = checkedAt
		}
		resp["frigate"] = nvr
	}
	c.JSON(http.StatusOK, resp)
}
