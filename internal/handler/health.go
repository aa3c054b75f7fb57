package handler // declare the package name; contains HTTP handlers

import (
	"context"  // bounds each dependency check
	"net/http" // net/http provides status codes and response helpers
	"time"

	"github.com/labstack/echo/v4" // echo is the web framework used for this project
)

// Check pings one dependency.
type Check func(ctx context.Context) error

// Health is the health‑check endpoint used by load balancers and monitoring
// systems.  It runs every registered check and answers 200 when all pass,
// 503 otherwise, naming the failing dependencies.
type Health struct {
	Checks map[string]Check
}

func (h Health) Handle(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	report := make(map[string]string, len(h.Checks))
	status := http.StatusOK
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			report[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		report[name] = "up"
	}
	msg := "ok"
	if status != http.StatusOK {
		msg = "degraded"
	}
	return respond(c, status, msg, report)
}
