package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"marketsync/internal/cache"
)

// ListMirrorHandler returns the mirrored listings for one marketplace
func (s *Server) ListMirrorHandler(c *gin.Context) {
	tag := c.Param("tag")
	if _, ok := s.config.Marketplaces[tag]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown marketplace: " + tag})
		return
	}

	products, err := s.cc.ListMirror(c.Request.Context(), ownerID(c), tag)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list products: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"products": products, "count": len(products)})
}

// RemoteSnapshotHandler serves the remote inventory captured on the last
// sync run without spending marketplace quota on a fresh fetch
func (s *Server) RemoteSnapshotHandler(c *gin.Context) {
	tag := c.Param("tag")
	if _, ok := s.config.Marketplaces[tag]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown marketplace: " + tag})
		return
	}

	items, err := s.cc.RemoteSnapshot(c.Request.Context(), ownerID(c), tag)
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no recent snapshot for " + tag})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load snapshot: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// ExclusionRequest adds or removes one exclusion rule
type ExclusionRequest struct {
	Value     string `json:"value" binding:"required"`
	MatchType string `json:"matchType" binding:"required"`
}

func (s *Server) ListExclusionsHandler(c *gin.Context) {
	rules, err := s.cc.ListExclusions(c.Request.Context(), ownerID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list exclusions: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"exclusions": rules, "count": len(rules)})
}

func (s *Server) AddExclusionHandler(c *gin.Context) {
	var req ExclusionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule, err := s.cc.AddExclusion(c.Request.Context(), ownerID(c), req.Value, req.MatchType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, rule)
}

func (s *Server) RemoveExclusionHandler(c *gin.Context) {
	var req ExclusionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.cc.RemoveExclusion(c.Request.Context(), ownerID(c), req.Value, req.MatchType); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "exclusion removed"})
}
