package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"muse/internal/chat"
	"muse/internal/dispatcher"
	"muse/internal/task"
)

type messageRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

func (r *messageRequest) normalize() error {
	if strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("message is required")
	}
	if r.SessionID == "" {
		r.SessionID = fmt.Sprintf("sess-%s", uuid.New().String())
	}
	return nil
}

// handleChat streams one chat turn over SSE.
func (s *Server) handleChat(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.normalize(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stream, err := newSSEStream(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.metrics.StreamOpened("chat")
	defer s.metrics.StreamClosed("chat")

	ctx := c.Request.Context()
	history := []chat.Message{{Role: "user", Content: req.Message}}
	err = s.chatLoop.Run(ctx, req.SessionID, history, s.chatSink(ctx, stream))
	if err != nil {
		// Client disconnects are cancellation, not reportable errors.
		s.logger.Debug("Chat stream ended early (session=%s): %v", req.SessionID, err)
	}
}

// handleGenerate classifies the message and streams the dispatch outcome.
// When the message turns out to be plain conversation, chat events flow on
// the same connection.
func (s *Server) handleGenerate(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.normalize(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stream, err := newSSEStream(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.metrics.StreamOpened("generation")
	defer s.metrics.StreamClosed("generation")

	ctx := c.Request.Context()
	start := time.Now()
	genSink := func(ev dispatcher.Event) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if intentEv, ok := ev.(dispatcher.IntentEvent); ok {
			s.metrics.IncRequest(string(intentEv.Intent))
		}
		data, err := dispatcher.EncodeEvent(ev)
		if err != nil {
			return err
		}
		s.metrics.IncEvent("generation", ev.EventType())
		return stream.send(data)
	}

	err = s.dispatcher.Dispatch(ctx, dispatcher.Request{Message: req.Message, SessionID: req.SessionID},
		genSink, s.chatSink(ctx, stream))
	s.metrics.ObserveDispatch("generate", time.Since(start))
	if err != nil {
		s.logger.Debug("Generation stream ended early (session=%s): %v", req.SessionID, err)
	}
}

// chatSink frames chat-turn events onto an SSE stream.
func (s *Server) chatSink(ctx context.Context, stream *sseStream) chat.Sink {
	return func(ev chat.Event) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := chat.EncodeEvent(ev)
		if err != nil {
			return err
		}
		s.metrics.IncEvent("chat", ev.EventType())
		return stream.send(data)
	}
}

// handleTaskStream streams a task's lifecycle events. Unknown ids get an
// immediate not-found response instead of an open stream.
func (s *Server) handleTaskStream(c *gin.Context) {
	id := c.Param("id")
	ch, unsubscribe, err := s.registry.Subscribe(id)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer unsubscribe()

	stream, err := newSSEStream(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.metrics.StreamOpened("task")
	defer s.metrics.StreamClosed("task")
	s.logger.Debug("Task stream opened: %s", id)

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				// Terminal event delivered; the stream closes with it.
				return
			}
			data, err := task.EncodeEvent(ev)
			if err != nil {
				s.logger.Error("Encode task event failed: %v", err)
				continue
			}
			s.metrics.IncEvent("task", ev.EventType())
			if err := stream.send(data); err != nil {
				s.logger.Debug("Task stream write failed for %s: %v", id, err)
				return
			}
		case <-ticker.C:
			if err := stream.heartbeat(); err != nil {
				return
			}
		case <-c.Request.Context().Done():
			s.logger.Debug("Task stream client disconnected: %s", id)
			return
		}
	}
}

// handleGetTask returns a point-in-time snapshot of one record.
func (s *Server) handleGetTask(c *gin.Context) {
	rec, err := s.registry.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// handleListTasks returns all retained records, newest first.
func (s *Server) handleListTasks(c *gin.Context) {
	records := s.registry.List()
	c.JSON(http.StatusOK, gin.H{"tasks": records, "total": len(records)})
}

// handleStats returns aggregate registry counts.
func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.Stats())
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}
