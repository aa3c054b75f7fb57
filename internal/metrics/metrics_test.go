package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahlallah/ahl-allah-server/internal/queue"
)

func TestMiddlewareCountsByRoute(t *testing.T) {
	m := New()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/users/:id", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	for _, p := range []string{"/users/1", "/users/2"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, p, nil))
		require.Equal(t, http.StatusNoContent, rec.Code)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "/users/:id", "204")))
}

func TestEmitAndHandler(t *testing.T) {
	m := New()
	m.Emit(context.Background(), queue.AuthEvent{Type: queue.EventLoginFailed})
	m.Emit(context.Background(), queue.AuthEvent{Type: queue.EventLoginFailed})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.authEvents.WithLabelValues(queue.EventLoginFailed)))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `auth_events_total{type="login.failed"} 2`))
}
