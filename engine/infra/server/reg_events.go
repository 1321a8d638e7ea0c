package server

import (
	"io"
	"net/http"
	"time"

	"github.com/compozy/agentrix/engine/infra/server/router"
	"github.com/compozy/agentrix/engine/streaming"
	"github.com/compozy/agentrix/pkg/logger"
	"github.com/gin-gonic/gin"
)

const heartbeatEvent = "heartbeat"

func (s *Server) registerEvents(api *gin.RouterGroup) {
	api.GET("/events", s.streamEvents)
}

// streamEvents sends the current task list, then every hub event, as
// Server-Sent Events until the client leaves or the server shuts down.
func (s *Server) streamEvents(c *gin.Context) {
	if s.deps.Events == nil {
		router.RespondProblemWithCode(c, http.StatusServiceUnavailable, router.ErrServiceUnavailableCode,
			"event stream is not configured")
		return
	}
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)
	events, unsubscribe := s.deps.Events.Subscribe()
	defer unsubscribe()

	initial, err := streaming.NewEvent(0, streaming.EventTasksUpdated, s.deps.Tasks.ListTasks(), time.Now())
	if err != nil {
		router.RespondProblemWithCode(c, http.StatusInternalServerError, router.ErrInternalCode, err.Error())
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(string(initial.Type), initial)
	c.Writer.Flush()

	log.Info("Event stream connected")
	started := time.Now()
	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		case now := <-heartbeat.C:
			c.SSEvent(heartbeatEvent, gin.H{"ts": now.UTC()})
			return true
		}
	})
	log.Info("Event stream disconnected", "duration", time.Since(started))
}
