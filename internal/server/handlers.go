package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) healthHandler(c *gin.Context) {
	health := gin.H{"status": "ok"}
	status := http.StatusOK

	if err := s.sc.DBHealth(); err != nil {
		health["database"] = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		health["database"] = "ok"
	}

	if err := s.sc.CacheHealth(); err != nil {
		health["cache"] = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		health["cache"] = "ok"
	}

	if err := s.sc.RabbitHealth(); err != nil {
		health["rabbitmq"] = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		health["rabbitmq"] = "ok"
	}

	if status != http.StatusOK {
		health["status"] = "degraded"
	}

	c.JSON(status, health)
}

func (s *Server) onlineHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": s.sc.Online()})
}

// ownerID reads the account scope from the request. Authn happens upstream
// at the gateway; here the header is trusted as-is.
func ownerID(c *gin.Context) string {
	if owner := c.GetHeader("X-Owner-ID"); owner != "" {
		return owner
	}
	return "default"
}
