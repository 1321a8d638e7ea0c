package monitoring

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/compozy/agentrix/engine/task"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, s *Service) (int, string) {
	t.Helper()
	w := httptest.NewRecorder()
	s.ExporterHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	body, err := io.ReadAll(w.Result().Body)
	require.NoError(t, err)
	return w.Code, string(body)
}

func TestNewService(t *testing.T) {
	t.Run("Should use a no-op service when disabled", func(t *testing.T) {
		s, err := NewService(t.Context(), nil)
		require.NoError(t, err)
		assert.False(t, s.IsInitialized())
		code, _ := scrape(t, s)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		s.RecordSave(task.SaveReport{})
		s.TaskObserver().TaskChanged(t.Context(), task.Change{})
		assert.NoError(t, s.ObserveSubscribers(func() int { return 1 }))
		assert.NoError(t, s.Shutdown(t.Context()))
	})

	t.Run("Should fail with an invalid config", func(t *testing.T) {
		s, err := NewService(t.Context(), &Config{Enabled: true, Path: ""})
		require.Error(t, err)
		assert.Nil(t, s)
	})

	t.Run("Should fall back to a no-op service on invalid config", func(t *testing.T) {
		s := NewServiceWithFallback(t.Context(), &Config{Enabled: true, Path: "/api/metrics"})
		assert.False(t, s.IsInitialized())
		assert.Error(t, s.InitializationError())
	})
}

func TestService_Exporter(t *testing.T) {
	t.Run("Should expose task, snapshot and system metrics", func(t *testing.T) {
		s, err := NewService(t.Context(), &Config{Enabled: true, Path: "/metrics"})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Shutdown(context.WithoutCancel(t.Context())) })
		require.NoError(t, s.ObserveSubscribers(func() int { return 2 }))

		reg := task.NewRegistry(task.WithObserver(s.TaskObserver()))
		h, err := reg.RunTask(t.Context(), task.Config{Type: "demo", Title: "Demo"}, func(context.Context, *task.Runtime) error {
			return nil
		})
		require.NoError(t, err)
		require.NoError(t, h.Wait(t.Context()))
		s.RecordSave(task.SaveReport{Tasks: 1, Duration: time.Millisecond})
		s.RecordSave(task.SaveReport{Tasks: 1, Err: errors.New("disk full")})

		code, body := scrape(t, s)
		require.Equal(t, http.StatusOK, code)
		assert.Contains(t, body, "agentrix_tasks_created_total")
		assert.Contains(t, body, `type="demo"`)
		assert.Contains(t, body, "agentrix_tasks_finished_total")
		assert.Contains(t, body, `status="succeeded"`)
		assert.Contains(t, body, "agentrix_task_duration_seconds")
		assert.Contains(t, body, "agentrix_task_snapshot_saves_total")
		assert.Contains(t, body, `outcome="error"`)
		assert.Contains(t, body, "agentrix_event_subscribers")
		assert.Contains(t, body, "agentrix_build_info")
		assert.Contains(t, body, "agentrix_uptime_seconds")
	})

	t.Run("Should record HTTP requests through the middleware", func(t *testing.T) {
		s, err := NewService(t.Context(), &Config{Enabled: true, Path: "/metrics"})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Shutdown(context.WithoutCancel(t.Context())) })

		gin.SetMode(gin.TestMode)
		router := gin.New()
		router.Use(s.GinMiddleware())
		router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", http.NoBody))

		_, body := scrape(t, s)
		assert.Contains(t, body, "agentrix_http_requests_total")
		assert.Contains(t, body, `path="/ping"`)
	})
}
