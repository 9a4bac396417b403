package http

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// heartbeatComment is written as an SSE comment to keep idle connections
// alive through proxies. Comments are not events; clients ignore them.
const heartbeatComment = ": heartbeat\n\n"

// sseStream frames events for one client connection as a sequence of
// `data: <json>` records with a blank-line terminator.
type sseStream struct {
	writer  gin.ResponseWriter
	flusher http.Flusher
}

// newSSEStream prepares the response for event streaming. It fails when the
// underlying writer cannot flush incrementally.
func newSSEStream(c *gin.Context) (*sseStream, error) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming unsupported by connection")
	}

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseStream{writer: c.Writer, flusher: flusher}, nil
}

// send writes one framed event and flushes it to the client.
func (s *sseStream) send(data []byte) error {
	if _, err := fmt.Fprintf(s.writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// heartbeat writes a keepalive comment.
func (s *sseStream) heartbeat() error {
	if _, err := fmt.Fprint(s.writer, heartbeatComment); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	s.flusher.Flush()
	return nil
}
