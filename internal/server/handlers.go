package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dbmigration/keeper/internal/logbuf"
)

const defaultStatusTail = 20

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	tail := defaultStatusTail
	if raw := c.Query("tail"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tail must be a non-negative integer"})
			return
		}
		tail = n
	}
	RespondOK(c, s.ctrl.Status(tail))
}

func (s *Server) handleStart(c *gin.Context) {
	if err := s.ctrl.Start(c.Request.Context()); err != nil {
		RespondWithError(c, err)
		return
	}
	RespondOK(c, s.ctrl.Status(0))
}

func (s *Server) handleStop(c *gin.Context) {
	if err := s.ctrl.Stop(c.Request.Context()); err != nil {
		RespondWithError(c, err)
		return
	}
	RespondOK(c, s.ctrl.Status(0))
}

func (s *Server) handleRestart(c *gin.Context) {
	if err := s.ctrl.Restart(c.Request.Context()); err != nil {
		RespondWithError(c, err)
		return
	}
	RespondOK(c, s.ctrl.Status(0))
}

// handleConfig reports the effective configuration with sensitive values
// masked. While the service is stopped it resolves a fresh snapshot so
// operators can inspect what a start would use.
func (s *Server) handleConfig(c *gin.Context) {
	resolved := s.ctrl.Config()
	if resolved == nil {
		fresh, err := s.loader()
		if err != nil {
			RespondWithError(c, err)
			return
		}
		resolved = fresh
	}
	RespondOK(c, gin.H{
		"env_file": resolved.EnvFile(),
		"values":   resolved.RedactedValues(),
	})
}

// handleLogs serves captured child output. Without parameters it returns
// a tail; from/to (RFC 3339) select a time range; follow=true switches
// to a server-sent event stream of new lines.
func (s *Server) handleLogs(c *gin.Context) {
	if c.Query("follow") == "true" {
		s.followLogs(c)
		return
	}

	if from := c.Query("from"); from != "" {
		fromTime, err := time.Parse(time.RFC3339, from)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return
		}
		toTime := time.Now()
		if to := c.Query("to"); to != "" {
			toTime, err = time.Parse(time.RFC3339, to)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
				return
			}
		}
		RespondOK(c, s.logs.Range(fromTime, toTime))
		return
	}

	tail := 100
	if raw := c.Query("tail"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tail must be a non-negative integer"})
			return
		}
		tail = n
	}
	RespondOK(c, s.logs.Tail(tail))
}

// followLogs streams the recent tail followed by live lines as SSE.
// Slow clients miss lines rather than stall the capture pipeline.
func (s *Server) followLogs(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	sub := s.logs.Subscribe(uuid.New().String())
	defer s.logs.Unsubscribe(sub)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	for _, line := range s.logs.Tail(50) {
		writeEvent(c, line)
	}
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": heartbeat\n\n")
			flusher.Flush()
		case line, open := <-sub.Lines():
			if !open {
				return
			}
			writeEvent(c, line)
			flusher.Flush()
		}
	}
}

func writeEvent(c *gin.Context, line logbuf.Line) {
	payload, err := json.Marshal(line)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "event: log\ndata: %s\n\n", payload)
}
