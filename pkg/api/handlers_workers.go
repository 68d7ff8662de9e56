package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// listWorkers handles GET /v1/workers, listing worker nodes with a live
// heartbeat. Worker identity is deployment-wide, not tenant data, so any
// authenticated caller may read it.
func (s *Server) listWorkers(c *gin.Context) {
	if s.coordinator == nil {
		c.JSON(http.StatusOK, gin.H{"workers": []interface{}{}, "count": 0})
		return
	}

	nodes, err := s.coordinator.GetActiveNodes(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get workers: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"workers": nodes,
		"count":   len(nodes),
	})
}
