package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	cerr "github.com/cohort-dev/cohort/internal/common/errors"
	"github.com/cohort-dev/cohort/internal/types/streams"
	"github.com/cohort-dev/cohort/pkg/acp/jsonrpc"
)

// sseChannelDepth bounds the handler-side frame queue. A consumer that falls
// this far behind is treated as gone; the store then detaches and resumes
// buffering.
const sseChannelDepth = 64

// handleSSE streams canonical session updates as server-sent events, one
// JSON-RPC session/update notification envelope per frame.
func (s *Server) handleSSE(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId query parameter is required"})
		return
	}

	frames := make(chan []byte, sseChannelDepth)
	listener := func(u *streams.Update) error {
		notif, err := jsonrpc.NewNotification(jsonrpc.NotificationSessionUpdate, jsonrpc.SessionUpdateParams{
			SessionID: u.SessionID,
			Update:    mustMarshal(u),
		})
		if err != nil {
			return err
		}
		data, err := json.Marshal(notif)
		if err != nil {
			return err
		}
		select {
		case frames <- data:
			return nil
		default:
			return fmt.Errorf("sse consumer too slow")
		}
	}

	if err := s.store.AttachSSE(sessionID, listener); err != nil {
		c.JSON(cerr.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	defer s.store.DetachSSE(sessionID)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.Flush()

	s.log.WithSessionID(sessionID).Debug("sse attached")
	for {
		select {
		case data := <-frames:
			if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
				return
			}
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

// handleWS streams semantic blocks over a WebSocket, one JSON object per
// text message.
func (s *Server) handleWS(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId query parameter is required"})
		return
	}
	if _, err := s.store.Get(sessionID); err != nil {
		c.JSON(cerr.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	blocks := make(chan *streams.Block, sseChannelDepth)
	unsub, err := s.store.Subscribe(sessionID, func(blk *streams.Block) {
		select {
		case blocks <- blk:
		default:
			// Slow consumers lose blocks rather than stalling the stream.
		}
	})
	if err != nil {
		return
	}
	defer unsub()

	// Reads only detect disconnection; clients send nothing meaningful.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.log.WithSessionID(sessionID).Debug("websocket attached")
	for {
		select {
		case blk := <-blocks:
			data, err := json.Marshal(blk)
			if err != nil {
				s.log.WithError(err).Error("block marshal failed")
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log.WithSessionID(sessionID).Debug("websocket write error", zap.Error(err))
				return
			}
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}
