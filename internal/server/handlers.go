package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/orgoj/amqpgelf/internal/logevent"
	"github.com/orgoj/amqpgelf/internal/validation"
	"github.com/orgoj/amqpgelf/internal/version"
)

// Fields added to every ingested event unless the client supplies them.
const (
	clientIPField  = "_client_ip"
	requestIDField = "_request_id"
)

// LogRequest is the body accepted by POST /log.
type LogRequest struct {
	Level     string                 `json:"level" binding:"required"`
	Category  string                 `json:"category"`
	Message   string                 `json:"message" binding:"required"`
	Data      []interface{}          `json:"data"`
	Timestamp *time.Time             `json:"timestamp"`
	Fields    map[string]interface{} `json:"fields"`
}

func (s *Server) logHandler(c *gin.Context) {
	if limit := s.config.Server.RequestLimits.MaxBodySize; limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, int64(limit))
	}

	var req LogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		s.appLogger.Warn("Log Handler: JSON binding error for IP %s: %v", s.clientIP(c), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	level, err := logevent.ParseLevel(req.Level)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reqFields, err := validation.SanitizeFields(req.Fields, validation.DefaultLimits())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reqData, err := validation.SanitizeValues(req.Data, validation.DefaultLimits())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ev := &logevent.Event{
		Level:    level,
		Category: req.Category,
	}
	if req.Timestamp != nil {
		ev.Time = *req.Timestamp
	}

	fields := make(map[string]interface{}, len(reqFields)+1)
	for k, v := range reqFields {
		fields[k] = v
	}
	if _, ok := fields[clientIPField]; !ok {
		fields[clientIPField] = s.clientIP(c)
	}
	requestID, ok := fields[requestIDField]
	if !ok {
		requestID = uuid.New().String()
		fields[requestIDField] = requestID
	}

	ev.Data = make([]interface{}, 0, len(reqData)+2)
	ev.Data = append(ev.Data, logevent.Fields(fields), req.Message)
	ev.Data = append(ev.Data, reqData...)

	s.events.Log(ev)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "request_id": requestID})
}

func (s *Server) healthHandler(c *gin.Context) {
	s.appLogger.Health("Health check from %s", s.clientIP(c))
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"appenders": s.events.Names(),
		"stats":     s.events.Stats(),
	})
}

// versionHandler returns the current version information
func versionHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":     version.Version,
		"build_date":  version.BuildDate,
		"commit_hash": version.CommitHash,
	})
}
