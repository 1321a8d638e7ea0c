package server

import (
	"github.com/compozy/agentrix/engine/infra/server/router"
	"github.com/compozy/agentrix/engine/task"
	"github.com/compozy/agentrix/pkg/version"
	"github.com/gin-gonic/gin"
)

type healthResponse struct {
	Status  string         `json:"status"`
	Version version.Info   `json:"version"`
	Tasks   map[string]int `json:"tasks"`
	GitHub  bool           `json:"github"`
}

func (s *Server) registerHealth(api *gin.RouterGroup) {
	api.GET("/health", s.health)
}

func (s *Server) health(c *gin.Context) {
	counts := map[string]int{
		string(task.StatusPending):   0,
		string(task.StatusRunning):   0,
		string(task.StatusSucceeded): 0,
		string(task.StatusFailed):    0,
	}
	for _, t := range s.deps.Tasks.ListTasks() {
		counts[string(t.Status)]++
	}
	router.RespondOK(c, healthResponse{
		Status:  "ok",
		Version: version.Get(),
		Tasks:   counts,
		GitHub:  s.deps.GitHub != nil,
	})
}
