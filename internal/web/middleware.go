// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

package web

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// logRequests logs and counts every request once it completes.
func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		s.metrics.RecordRequest(route, status)

		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		}
		s.logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration", time.Since(start),
		)
	}
}
