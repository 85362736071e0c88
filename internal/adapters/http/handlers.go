package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/camrelay/internal/app/orch"
	"github.com/dkeye/camrelay/internal/upload"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type handlers struct {
	orch *orch.Orchestrator
}

func healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GET /api/sources
func (h *handlers) listSources(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sources": h.orch.Registry.ListSources()})
}

// GET /api/recordings
func (h *handlers) listRecordings(c *gin.Context) {
	recs, err := h.orch.Uploads.List()
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("list recordings")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot list recordings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recordings": recs})
}

// GET /api/uploads
func (h *handlers) activeUploads(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"uploads": h.orch.Uploads.Active()})
}

// POST /api/upload?filename=clip.webm streams the body into a new recording.
func (h *handlers) receiveUpload(c *gin.Context) {
	res, err := h.orch.Uploads.Receive(c.Query("filename"), c.Request.Body)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, upload.ErrInvalidFilename):
			status = http.StatusBadRequest
		case errors.Is(err, upload.ErrClosed):
			status = http.StatusServiceUnavailable
		}
		log.Error().Err(err).Str("module", "adapters.http").Str("filename", res.Filename).Msg("body upload")
		c.JSON(status, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "filename": res.Filename, "bytes": res.Bytes})
}
