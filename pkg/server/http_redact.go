package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vulpeslabs/redaction-plane/pkg/service"
	"github.com/vulpeslabs/redaction-plane/pkg/stream"
)

// redactRequest is the body of POST /v1/redact
type redactRequest struct {
	Text string `json:"text" binding:"required"`
}

// chunkRequest is the body of POST /v1/streams/:id/chunks
type chunkRequest struct {
	Text string `json:"text"`
}

// redactHandler handles batch redaction requests
func (s *HTTP) redactHandler(c *gin.Context) {
	var req redactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.countRequest(http.StatusBadRequest)
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	if s.config.MaxTextBytes > 0 && len(req.Text) > s.config.MaxTextBytes {
		s.countRequest(http.StatusRequestEntityTooLarge)
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "text exceeds the size limit"})
		return
	}

	result, err := s.svc.Redact(c.Request.Context(), req.Text)
	if err != nil {
		s.log.Error().Err(err).Msg("batch redaction failed")
		s.countRequest(http.StatusInternalServerError)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "redaction failed"})
		return
	}

	s.countRequest(http.StatusOK)
	c.JSON(http.StatusOK, result)
}

// streamCreateHandler opens a stream session. The body is optional; absent
// fields keep the configured defaults.
func (s *HTTP) streamCreateHandler(c *gin.Context) {
	var opts service.StreamOptions
	if err := c.ShouldBindJSON(&opts); err != nil && !errors.Is(err, io.EOF) {
		s.countRequest(http.StatusBadRequest)
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed stream options"})
		return
	}

	session, err := s.svc.CreateStream(opts)
	if err != nil {
		s.log.Error().Err(err).Msg("stream creation failed")
		s.countRequest(http.StatusInternalServerError)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stream creation failed"})
		return
	}

	s.countRequest(http.StatusCreated)
	c.JSON(http.StatusCreated, gin.H{
		"stream_id":  session.ID,
		"created_at": session.CreatedAt,
	})
}

// streamChunkHandler pushes one chunk into a stream session and returns the
// output chunks ready afterwards
func (s *HTTP) streamChunkHandler(c *gin.Context) {
	var req chunkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.countRequest(http.StatusBadRequest)
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed chunk"})
		return
	}
	if s.config.MaxTextBytes > 0 && len(req.Text) > s.config.MaxTextBytes {
		s.countRequest(http.StatusRequestEntityTooLarge)
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "chunk exceeds the size limit"})
		return
	}

	chunks, err := s.svc.PushChunk(c.Request.Context(), c.Param("id"), req.Text)
	if err != nil {
		s.streamError(c, err, "chunk processing failed")
		return
	}
	if chunks == nil {
		chunks = []stream.Chunk{}
	}

	s.countRequest(http.StatusOK)
	c.JSON(http.StatusOK, gin.H{"chunks": chunks})
}

// streamDeleteHandler closes a stream session, returning the terminal flush
// output and the session's drop count
func (s *HTTP) streamDeleteHandler(c *gin.Context) {
	chunks, dropped, err := s.svc.CloseStream(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.streamError(c, err, "stream close failed")
		return
	}
	if chunks == nil {
		chunks = []stream.Chunk{}
	}

	s.countRequest(http.StatusOK)
	c.JSON(http.StatusOK, gin.H{
		"chunks":  chunks,
		"dropped": dropped,
	})
}

func (s *HTTP) streamError(c *gin.Context, err error, msg string) {
	if errors.Is(err, service.ErrStreamNotFound) {
		s.countRequest(http.StatusNotFound)
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return
	}
	s.log.Error().Err(err).Msg(msg)
	s.countRequest(http.StatusInternalServerError)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
