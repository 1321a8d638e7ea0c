package server

import (
	"errors"
	"net/http"

	"github.com/compozy/agentrix/engine/core"
	"github.com/compozy/agentrix/engine/infra/server/router"
	"github.com/compozy/agentrix/engine/task"
	"github.com/gin-gonic/gin"
)

func (s *Server) registerTasks(api *gin.RouterGroup) {
	tasks := api.Group("/tasks")
	tasks.GET("", s.listTasks)
	tasks.GET("/:id", s.getTask)
}

func (s *Server) listTasks(c *gin.Context) {
	router.RespondOK(c, gin.H{"tasks": s.deps.Tasks.ListTasks()})
}

func (s *Server) getTask(c *gin.Context) {
	id, err := core.ParseID(c.Param("id"))
	if err != nil {
		router.RespondProblemWithCode(c, http.StatusBadRequest, router.ErrBadRequestCode, err.Error())
		return
	}
	t, err := s.deps.Tasks.GetTask(id)
	if errors.Is(err, task.ErrTaskNotFound) {
		router.RespondProblemWithCode(c, http.StatusNotFound, router.ErrNotFoundCode, err.Error())
		return
	}
	if err != nil {
		router.RespondProblemWithCode(c, http.StatusInternalServerError, router.ErrInternalCode, err.Error())
		return
	}
	router.RespondOK(c, t)
}
