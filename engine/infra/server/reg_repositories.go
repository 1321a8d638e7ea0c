package server

import (
	"net/http"
	"strconv"

	"github.com/compozy/agentrix/engine/github"
	"github.com/compozy/agentrix/engine/infra/server/router"
	"github.com/gin-gonic/gin"
)

func (s *Server) registerRepositories(api *gin.RouterGroup) {
	api.GET("/repositories", s.listRepositories)
}

// listRepositories rescans the workspace root; the scan is also broadcast to
// event subscribers.
func (s *Server) listRepositories(c *gin.Context) {
	if s.deps.Views == nil {
		router.RespondProblemWithCode(c, http.StatusServiceUnavailable, router.ErrServiceUnavailableCode,
			"workspace is not configured")
		return
	}
	inv, err := s.deps.Views.RefreshRepositoryViews(c.Request.Context(), s.deps.WorkspaceRoot)
	if err != nil {
		router.RespondProblemWithCode(c, http.StatusInternalServerError, router.ErrInternalCode, err.Error())
		return
	}
	router.RespondOK(c, inv)
}

func (s *Server) registerGitHub(api *gin.RouterGroup) {
	repos := api.Group("/repos/:org/:repo")
	repos.GET("/summary", s.repoSummary)
	repos.GET("/issues/:number", s.issueDetail)
	repos.GET("/pulls/:number", s.pullDetail)
}

func (s *Server) requireGitHub(c *gin.Context) bool {
	if s.deps.GitHub == nil {
		router.RespondProblemWithCode(c, http.StatusServiceUnavailable, router.ErrServiceUnavailableCode,
			router.ErrMsgGitHubNotConfigured)
		return false
	}
	return true
}

func (s *Server) repoSummary(c *gin.Context) {
	if !s.requireGitHub(c) {
		return
	}
	summary, err := s.deps.GitHub.RepoSummary(c.Request.Context(), c.Param("org"), c.Param("repo"))
	if err != nil {
		respondGitHubError(c, err)
		return
	}
	router.RespondOK(c, summary)
}

func (s *Server) issueDetail(c *gin.Context) {
	if !s.requireGitHub(c) {
		return
	}
	number, ok := pathNumber(c)
	if !ok {
		return
	}
	issue, err := s.deps.GitHub.IssueDetail(c.Request.Context(), c.Param("org"), c.Param("repo"), number)
	if err != nil {
		respondGitHubError(c, err)
		return
	}
	router.RespondOK(c, issue)
}

func (s *Server) pullDetail(c *gin.Context) {
	if !s.requireGitHub(c) {
		return
	}
	number, ok := pathNumber(c)
	if !ok {
		return
	}
	pr, err := s.deps.GitHub.PullDetail(c.Request.Context(), c.Param("org"), c.Param("repo"), number)
	if err != nil {
		respondGitHubError(c, err)
		return
	}
	router.RespondOK(c, pr)
}

func pathNumber(c *gin.Context) (int, bool) {
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil || number <= 0 {
		router.RespondProblemWithCode(c, http.StatusBadRequest, router.ErrBadRequestCode,
			"number must be a positive integer")
		return 0, false
	}
	return number, true
}

func respondGitHubError(c *gin.Context, err error) {
	if github.IsNotFound(err) {
		router.RespondProblemWithCode(c, http.StatusNotFound, router.ErrNotFoundCode, err.Error())
		return
	}
	router.RespondProblemWithCode(c, http.StatusBadGateway, router.ErrUpstreamCode, err.Error())
}
