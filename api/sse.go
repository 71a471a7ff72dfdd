package api

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

const sseKeepAlive = 15 * time.Second

// GET /api/jobs/:id/events streams job snapshots as server-sent events and
// ends after the terminal snapshot
func (s *Server) streamJobEvents(c *gin.Context) {
	id := c.Param("id")

	// Subscribe before reading so no transition falls between the two
	sub := s.engine.Subscribe(id)
	defer sub.Close()

	job, err := s.engine.Get(id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("job", job)
	c.Writer.Flush()
	if job.Status.IsTerminal() {
		return
	}

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-keepAlive.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		case snapshot, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent("job", snapshot)
			return !snapshot.Status.IsTerminal()
		}
	})
}
