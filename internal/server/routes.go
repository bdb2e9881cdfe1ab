package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func (s *Server) RegisterRoutes() http.Handler {
	r := gin.Default()

	// cors.New panics on a config with no origins at all, so only install
	// the middleware when origins are configured.
	if len(s.config.CORS.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     s.config.CORS.AllowedOrigins,
			AllowMethods:     s.config.CORS.AllowedMethods,
			AllowHeaders:     s.config.CORS.AllowedHeaders,
			AllowCredentials: s.config.CORS.AllowCredentials,
			MaxAge:           time.Duration(s.config.CORS.MaxAge) * time.Second,
		}))
	}

	r.GET("/health", s.healthHandler)
	r.GET("/online", s.onlineHandler)

	r.POST("/jobs", s.CreateJobHandler)
	r.GET("/jobs", s.ListJobsHandler)
	r.GET("/jobs/:id", s.GetJobHandler)
	r.POST("/jobs/:id/cancel", s.CancelJobHandler)
	r.POST("/jobs/:id/pause", s.PauseJobHandler)
	r.POST("/jobs/:id/resume", s.ResumeJobHandler)
	r.GET("/job-types", s.JobTypesHandler)

	r.GET("/marketplaces/:tag/products", s.ListMirrorHandler)
	r.GET("/marketplaces/:tag/snapshot", s.RemoteSnapshotHandler)

	r.GET("/exclusions", s.ListExclusionsHandler)
	r.POST("/exclusions", s.AddExclusionHandler)
	r.DELETE("/exclusions", s.RemoveExclusionHandler)

	return r
}
