package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"frigate-commander/jobs"

	"github.com/gin-gonic/gin"
)

// respondError maps engine errors onto status codes
func respondError(c *gin.Context, err error) {
	var verr *jobs.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Msg})
	case errors.Is(err, jobs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
	case errors.Is(err, jobs.ErrInvalidState):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Printf("[API] %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// queryInt parses an optional integer query parameter within [lo, hi]
func queryInt(c *gin.Context, key string, fallback, lo, hi int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		return 0, false
	}
	return v, true
}

// queryBool parses an optional boolean query parameter
func queryBool(c *gin.Context, key string, fallback bool) bool {
	v, err := strconv.ParseBool(c.Query(key))
	if err != nil {
		return fallback
	}
	return v
}
