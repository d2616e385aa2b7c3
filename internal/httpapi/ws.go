package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chenpeel/chat-relay/internal/chat"
	"github.com/chenpeel/chat-relay/internal/protocol"
)

const (
	wsReadLimit    = 1 << 20
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsQueueSize    = 64
)

// handleChatWS runs chat turns over one websocket. Frames are handled in
// arrival order by a single worker; writes go through one writer goroutine.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	s.logger.InfoContext(r.Context(), "websocket connected", "remote_addr", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, wsQueueSize)
	outbound := make(chan any, wsQueueSize)

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		defer close(outbound)
		for msg := range inbound {
			out := s.handleFrame(ctx, msg)
			select {
			case <-ctx.Done():
				return
			case outbound <- out:
			}
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range outbound {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.WarnContext(ctx, "websocket write failed", "error", err)
				cancel()
				_ = conn.Close()
				return
			}
			if t, ok := protocol.MessageTypeOf(msg); ok {
				s.metrics.ObserveWSMessage("outbound", string(t))
			}
		}
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		var frame any
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.metrics.ObserveWSMessage("inbound", "invalid")
			frame = protocol.ErrorEvent{
				Type:    protocol.TypeErrorEvent,
				Code:    "invalid_client_message",
				Error:   msgInvalidBody,
				Details: err.Error(),
			}
		} else {
			if t, ok := protocol.MessageTypeOf(parsed); ok {
				s.metrics.ObserveWSMessage("inbound", string(t))
			}
			frame = parsed
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- frame:
		}
	}

	close(inbound)
	<-workerDone
	<-writerDone
	s.logger.InfoContext(r.Context(), "websocket disconnected", "remote_addr", r.RemoteAddr)
}

// handleFrame turns one parsed client frame into the frame sent back.
// Error events produced by the read loop pass through unchanged.
func (s *Server) handleFrame(ctx context.Context, msg any) any {
	switch m := msg.(type) {
	case protocol.ClientChat:
		reply, err := s.chat.Handle(ctx, s.toChatRequest(ctx, m.ChatRequest))
		if err != nil {
			_, resp := chatErrorResponse(err)
			code := "upstream_error"
			if resp.Error == msgEmptyMessage {
				code = "invalid_message"
			}
			return protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				RequestID: m.RequestID,
				Code:      code,
				Error:     resp.Error,
				Details:   resp.Details,
			}
		}
		return protocol.ChatReply{
			Type:       protocol.TypeChatReply,
			RequestID:  m.RequestID,
			Reply:      reply.Text,
			Character:  reply.Character,
			ServerTime: protocol.FormatServerTime(reply.ServerTime),
		}
	case protocol.ClientClear:
		res := s.chat.Reset(ctx, m.UserID, m.SessionID)
		return protocol.ChatCleared{
			Type:         protocol.TypeChatCleared,
			RequestID:    m.RequestID,
			Message:      msgChatReset,
			NewSessionID: res.SessionID,
		}
	default:
		return msg
	}
}

var _ ChatService = (*chat.Pipeline)(nil)
