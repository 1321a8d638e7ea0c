package router

import (
	"encoding/json"
	"net/http"

	"github.com/compozy/agentrix/engine/core"
	"github.com/compozy/agentrix/pkg/logger"
	"github.com/gin-gonic/gin"
)

const successMessage = "Success"

// RespondOK wraps data in the standard success envelope.
func RespondOK(c *gin.Context, data any) {
	respond(c, http.StatusOK, data)
}

// RespondAccepted is used when work continues after the response.
func RespondAccepted(c *gin.Context, data any) {
	respond(c, http.StatusAccepted, data)
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{
		"data":    data,
		"message": successMessage,
	})
}

// RespondProblem writes an error response in problem-document shape.
func RespondProblem(c *gin.Context, problem *core.Problem) {
	prepared := problem.Normalized()
	writeProblemResponse(c, prepared, prepared.Body())
}

// RespondProblemWithCode writes a problem response embedding a code and detail.
func RespondProblemWithCode(c *gin.Context, status int, code string, detail string) {
	RespondProblem(c, &core.Problem{
		Status: status,
		Title:  http.StatusText(status),
		Detail: detail,
		Code:   code,
	})
}

func writeProblemResponse(c *gin.Context, problem *core.Problem, body map[string]any) {
	logProblem(c, problem)
	payload, err := json.Marshal(body)
	if err != nil {
		logger.FromContext(c.Request.Context()).Error("Failed to marshal problem", "error", err)
		fallback := []byte(`{"status":500,"error":"Internal Server Error","code":"INTERNAL_ERROR"}`)
		c.Data(http.StatusInternalServerError, "application/problem+json", fallback)
		c.Abort()
		return
	}
	c.Data(problem.Status, "application/problem+json", payload)
	c.Abort()
}

func logProblem(c *gin.Context, problem *core.Problem) {
	log := logger.FromContext(c.Request.Context())
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	fields := []any{
		"status", problem.Status,
		"title", problem.Title,
		"code", problem.Code,
		"detail", problem.Detail,
		"route", route,
	}
	if !problem.TaskID.IsZero() {
		fields = append(fields, "task_id", problem.TaskID)
	}
	if requestID := c.Writer.Header().Get(RequestIDHeader); requestID != "" {
		fields = append(fields, "request_id", requestID)
	}
	if problem.Status >= http.StatusInternalServerError {
		log.Error("Request failed", fields...)
		return
	}
	log.Warn("Request failed", fields...)
}
