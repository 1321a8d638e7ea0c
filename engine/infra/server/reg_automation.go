package server

import (
	"errors"
	"net/http"

	"github.com/compozy/agentrix/engine/automation"
	"github.com/compozy/agentrix/engine/core"
	"github.com/compozy/agentrix/engine/infra/server/router"
	"github.com/compozy/agentrix/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type automationResponse struct {
	TaskID       core.ID                 `json:"taskId"`
	Branch       string                  `json:"branch"`
	BranchSource automation.BranchSource `json:"branchSource"`
	BaseBranch   string                  `json:"baseBranch,omitempty"`
	Identifier   string                  `json:"identifier"`
}

func (s *Server) registerAutomation(api *gin.RouterGroup) {
	api.POST("/automation", s.startAutomation)
}

func (s *Server) startAutomation(c *gin.Context) {
	var req automation.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		router.RespondProblemWithCode(c, http.StatusBadRequest, router.ErrBadRequestCode, "invalid request body: "+err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			router.RespondProblemWithCode(c, http.StatusBadRequest, router.ErrBadRequestCode,
				"field "+verrs[0].Field()+" failed on "+verrs[0].Tag())
			return
		}
		router.RespondProblemWithCode(c, http.StatusBadRequest, router.ErrBadRequestCode, err.Error())
		return
	}
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)
	launch, err := s.deps.Automation.Start(ctx, req, automation.Callbacks{
		FinishSuccess: func(identifier string) {
			log.Info("Automation finished", "identifier", identifier)
		},
		FinishFailure: func(err error) {
			log.Warn("Automation failed", "org", req.Org, "repo", req.Repo, "error", err)
		},
	})
	var branchErr *automation.BranchResolutionError
	switch {
	case errors.As(err, &branchErr):
		router.RespondProblemWithCode(c, http.StatusBadRequest, router.ErrBranchResolutionCode, branchErr.Error())
		return
	case errors.Is(err, automation.ErrInvalidRequest):
		router.RespondProblemWithCode(c, http.StatusBadRequest, router.ErrBadRequestCode, err.Error())
		return
	case err != nil:
		router.RespondProblemWithCode(c, http.StatusInternalServerError, router.ErrInternalCode, err.Error())
		return
	}
	router.RespondAccepted(c, automationResponse{
		TaskID:       launch.TaskID,
		Branch:       launch.Branch.Branch,
		BranchSource: launch.Branch.Source,
		BaseBranch:   launch.Branch.DefaultBranchOverride,
		Identifier:   launch.Identifier,
	})
}
