package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/camwatch/camwatch/internal/camera"
	"github.com/camwatch/camwatch/internal/config"
	"github.com/camwatch/camwatch/internal/health"
	"github.com/camwatch/camwatch/internal/recording"
	"github.com/camwatch/camwatch/internal/storage"
	"github.com/camwatch/camwatch/internal/web/streaming"
)

// handleDashboard serves the embedded single-page dashboard
func (s *Server) handleDashboard(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", dashboardHTML)
}

// handleScan runs a subnet scan and reports how many cameras were found
func (s *Server) handleScan(c *gin.Context) {
	if s.scanner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Discovery not available",
		})
		return
	}

	cameras := s.scanner.Scan()

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("%d Kamera(s) gefunden", len(cameras)),
		"cameras": len(cameras),
	})
}

// handleCameras lists the current registry contents
func (s *Server) handleCameras(c *gin.Context) {
	if s.registry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Camera registry not available",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cameras": s.registry.List(),
	})
}

// handleRecordStart starts a recording session for one camera
func (s *Server) handleRecordStart(c *gin.Context) {
	if s.supervisor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Recording supervisor not available",
		})
		return
	}

	index, ok := s.cameraIndex(c)
	if !ok {
		return
	}

	if err := s.supervisor.StartRecording(index); err != nil {
		switch {
		case errors.Is(err, camera.ErrCameraNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, recording.ErrStreamOpenFailed):
			// The wrapped dial detail is already logged by the
			// supervisor; the response carries the bare message.
			c.JSON(http.StatusOK, gin.H{
				"success": false,
				"message": recording.ErrStreamOpenFailed.Error(),
			})
		default:
			c.JSON(http.StatusOK, gin.H{
				"success": false,
				"message": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Aufnahme gestartet",
	})
}

// handleRecordStop stops the recording session for one camera
func (s *Server) handleRecordStop(c *gin.Context) {
	if s.supervisor == nil || s.registry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Recording supervisor not available",
		})
		return
	}

	index, ok := s.cameraIndex(c)
	if !ok {
		return
	}

	if _, err := s.registry.Get(index); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	if err := s.supervisor.StopRecording(index); err != nil {
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Aufnahme gestoppt",
	})
}

// handleRecordStatus reports the session state for every camera index.
// Indices without a session appear with recording=false so the
// dashboard can render a complete list.
func (s *Server) handleRecordStatus(c *gin.Context) {
	if s.supervisor == nil || s.registry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Recording supervisor not available",
		})
		return
	}

	sessions := s.supervisor.Status()

	out := make(map[int]recording.SessionStatus, s.registry.Count())
	for i := 0; i < s.registry.Count(); i++ {
		out[i] = sessions[i]
	}
	// Sessions surviving a rescan that shrank the registry still show up.
	for i, st := range sessions {
		out[i] = st
	}

	c.JSON(http.StatusOK, out)
}

// handleGetCredentials returns the stored camera credentials. The
// password is always masked.
func (s *Server) handleGetCredentials(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Credentials store not available",
		})
		return
	}

	creds := s.store.Get()
	c.JSON(http.StatusOK, gin.H{
		"username":        creds.Username,
		"password":        "***",
		"half_resolution": creds.HalfResolution,
	})
}

// handleSetCredentials replaces the stored camera credentials, stops
// all recordings and triggers a rescan with the new settings. A masked
// password in the request keeps the stored one.
func (s *Server) handleSetCredentials(c *gin.Context) {
	if s.store == nil || s.supervisor == nil || s.scanner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Credentials store not available",
		})
		return
	}

	var req struct {
		Username       string `json:"username" binding:"required"`
		Password       string `json:"password" binding:"required"`
		HalfResolution bool   `json:"half_resolution"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	creds := config.Credentials{
		Username:       req.Username,
		Password:       req.Password,
		HalfResolution: req.HalfResolution,
	}
	if req.Password == "***" {
		creds.Password = s.store.Get().Password
	}

	s.supervisor.StopAll()

	if err := s.store.Set(creds); err != nil {
		s.LogError("Failed to persist credentials", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Konnte Einstellungen nicht speichern",
		})
		return
	}

	go s.scanner.Scan()

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleRecordings lists the segment files grouped by date and hour range
func (s *Server) handleRecordings(c *gin.Context) {
	if s.recordingsDir == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Recordings not available",
		})
		return
	}

	listing, err := storage.ListRecordings(s.recordingsDir)
	if err != nil {
		s.LogError("Failed to list recordings", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Konnte Aufnahmen nicht lesen",
		})
		return
	}

	c.JSON(http.StatusOK, listing)
}

// handlePlayRecording streams one segment file for inline playback
func (s *Server) handlePlayRecording(c *gin.Context) {
	path, ok := s.resolveRecording(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "video/mp4")
	c.File(path)
}

// handleDownloadRecording serves one segment file as an attachment
func (s *Server) handleDownloadRecording(c *gin.Context) {
	path, ok := s.resolveRecording(c)
	if !ok {
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filepath.Base(path)))
	c.Header("Content-Type", "video/mp4")
	c.File(path)
}

// handleStream serves the MJPEG preview for one camera. The multipart
// stream runs until the client disconnects or the source dies.
func (s *Server) handleStream(c *gin.Context) {
	if s.previews == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Preview broker not available",
		})
		return
	}

	index, ok := s.cameraIndex(c)
	if !ok {
		return
	}

	src, err := s.previews.Acquire(index)
	if err != nil {
		s.previewError(c, err)
		return
	}
	defer s.previews.Release(index)

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Pragma", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	interval := s.previewCfg.FrameInterval
	if interval <= 0 {
		interval = 33 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	var lastSeq uint64

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-src.Done():
			return false
		case <-ticker.C:
		}

		frame, seq := src.Frame()
		if frame == nil || seq == lastSeq {
			return true
		}
		lastSeq = seq

		if _, err := io.WriteString(w, "--frame\r\nContent-Type: image/jpeg\r\n\r\n"); err != nil {
			return false
		}
		if _, err := w.Write(frame); err != nil {
			return false
		}
		if _, err := io.WriteString(w, "\r\n"); err != nil {
			return false
		}
		return true
	})
}

// handleSnapshot returns the latest preview frame as a plain JPEG
func (s *Server) handleSnapshot(c *gin.Context) {
	if s.previews == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Preview broker not available",
		})
		return
	}

	index, ok := s.cameraIndex(c)
	if !ok {
		return
	}

	src, err := s.previews.Acquire(index)
	if err != nil {
		s.previewError(c, err)
		return
	}
	defer s.previews.Release(index)

	frame, _ := src.Frame()
	if frame == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Kein Bild verfügbar"})
		return
	}

	c.Data(http.StatusOK, "image/jpeg", frame)
}

// handleHealth runs the registered health checks. An unhealthy report
// answers 503, degraded stays 200.
func (s *Server) handleHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Health manager not available",
		})
		return
	}

	report := s.health.Check(c.Request.Context())

	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

// handleStats reports per-camera segment aggregates from the catalog
func (s *Server) handleStats(c *gin.Context) {
	if s.catalog == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Catalog not available",
		})
		return
	}

	stats, err := s.catalog.Stats(c.Request.Context())
	if err != nil {
		s.LogError("Failed to read catalog stats", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Konnte Statistik nicht lesen",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"cameras": stats})
}

// cameraIndex parses the :index route parameter. On failure it writes
// the 400 response and returns ok=false.
func (s *Server) cameraIndex(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Ungültiger Index"})
		return 0, false
	}
	return index, true
}

// previewError maps broker acquire failures onto HTTP responses
func (s *Server) previewError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, camera.ErrCameraNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, camera.ErrNoStreamURI), errors.Is(err, streaming.ErrPreviewUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": streaming.ErrPreviewUnavailable.Error()})
	}
}

// resolveRecording maps the wildcard path parameter onto a file below
// the recordings directory. A normalized path escaping that directory
// is rejected with 403.
func (s *Server) resolveRecording(c *gin.Context) (string, bool) {
	if s.recordingsDir == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Recordings not available",
		})
		return "", false
	}

	rel := strings.TrimPrefix(c.Param("path"), "/")
	if rel == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Ungültiger Pfad"})
		return "", false
	}

	root, err := filepath.Abs(s.recordingsDir)
	if err != nil {
		s.LogError("Failed to resolve recordings directory", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Konnte Aufnahmen nicht lesen",
		})
		return "", false
	}

	full := filepath.Join(root, filepath.FromSlash(rel))
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Zugriff verweigert"})
		return "", false
	}

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "Aufnahme nicht gefunden"})
		return "", false
	}

	return full, true
}
