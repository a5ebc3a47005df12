package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// adaptationStateHandler handles GET /api/v1/adaptation/state.
func (s *Server) adaptationStateHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": string(s.adaptation.State())})
}

// adaptationApproveHandler handles POST /api/v1/adaptation/approve (spec.md
// §4.9 step 3: a WA with the config-approval scope releases a REVIEWING
// controller's pending proposals into ADAPTING).
func (s *Server) adaptationApproveHandler(c *gin.Context) {
	if err := s.adaptation.Approve(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": string(s.adaptation.State())})
}

// adaptationClearHandler handles POST /api/v1/adaptation/clear (spec.md
// §4.9: "Emergency stop ... rejects further proposals until manually
// cleared").
func (s *Server) adaptationClearHandler(c *gin.Context) {
	if err := s.adaptation.Clear(); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": string(s.adaptation.State())})
}
