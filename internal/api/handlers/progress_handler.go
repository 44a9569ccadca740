package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/highlight-run/passwordreplacer/internal/dispatch"
)

type ProgressHandler struct {
	progress *dispatch.Progress
}

func NewProgressHandler(progress *dispatch.Progress) *ProgressHandler {
	return &ProgressHandler{progress: progress}
}

// GetProgress returns the counters of the current run. The last_token field
// is the newest safe resume point.
func (h *ProgressHandler) GetProgress(c *gin.Context) {
	if h.progress == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no run in progress"})
		return
	}
	c.JSON(http.StatusOK, h.progress.Snapshot())
}
