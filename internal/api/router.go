// Package api serves the daemon's admin HTTP surface: a health probe and
// the audit trail query, the latter behind the admin token.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/ird0/sftpcert/internal/api/handlers"
	"github.com/ird0/sftpcert/internal/api/middleware"
)

// Server represents the HTTP server
type Server struct {
	router *gin.Engine
	addr   string
}

// NewServer creates a new API server
func NewServer(addr, adminToken string, store handlers.AuditQuerier, debug bool) *Server {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())

	auditHandler := handlers.NewAuditHandler(store)

	v1 := router.Group("/v1")
	{
		admin := v1.Group("/audit")
		admin.Use(middleware.AdminAuth(adminToken))
		{
			admin.GET("", auditHandler.ListEvents)
		}
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	return &Server{
		router: router,
		addr:   addr,
	}
}

// Run starts the HTTP server
func (s *Server) Run() error {
	return s.router.Run(s.addr)
}

// Router returns the underlying Gin router
func (s *Server) Router() *gin.Engine {
	return s.router
}
