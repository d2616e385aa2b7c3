package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/chenpeel/chat-relay/internal/chat"
	"github.com/chenpeel/chat-relay/internal/config"
	"github.com/chenpeel/chat-relay/internal/observability"
	"github.com/chenpeel/chat-relay/internal/protocol"
)

const (
	msgEmptyMessage  = "消息不能为空"
	msgProcessFailed = "处理请求时发生错误"
	msgChatReset     = "聊天已重置"
	msgInvalidBody   = "请求格式无效"
)

// ChatService is the conversation pipeline as seen by the transport.
type ChatService interface {
	Handle(ctx context.Context, req chat.Request) (chat.Reply, error)
	Reset(ctx context.Context, userID, previousSessionID string) chat.ResetResult
}

type Server struct {
	cfg      config.Config
	chat     ChatService
	metrics  *observability.Metrics
	logger   *slog.Logger
	location *time.Location
	upgrader websocket.Upgrader
}

func New(cfg config.Config, svc ChatService, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		chat:     svc,
		metrics:  metrics,
		logger:   logger,
		location: cfg.Location(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg),
		},
	}
}

// originChecker allows browser websocket connections from the same origin or
// from ALLOWED_ORIGINS. Clients without an Origin header are allowed.
func originChecker(cfg config.Config) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		if cfg.AllowAnyOrigin {
			return true
		}
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		if _, ok := allowed[strings.ToLower(strings.TrimRight(origin, "/"))]; ok {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.NotFound(handleNotFound)
	r.MethodNotAllowed(handleNotFound)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/", s.handleChat)
		r.Options("/", handlePreflight)
		r.Post("/clear", s.handleClear)
		r.Options("/clear", handlePreflight)
		r.Get("/ws", s.handleChatWS)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func handleNotFound(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusNotFound, protocol.ChatResponse{Success: false, Error: "Not found"})
}

func handlePreflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req protocol.ChatRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		s.logger.WarnContext(r.Context(), "invalid chat request body", "error", err)
		respondJSON(w, http.StatusBadRequest, protocol.ChatResponse{Success: false, Error: msgInvalidBody, Details: err.Error()})
		return
	}

	reply, err := s.chat.Handle(r.Context(), s.toChatRequest(r.Context(), req))
	if err != nil {
		status, resp := chatErrorResponse(err)
		respondJSON(w, status, resp)
		return
	}
	respondJSON(w, http.StatusOK, protocol.ChatResponse{
		Success:    true,
		Reply:      reply.Text,
		Character:  reply.Character,
		ServerTime: protocol.FormatServerTime(reply.ServerTime),
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req protocol.ResetRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		s.logger.WarnContext(r.Context(), "invalid clear request body", "error", err)
		respondJSON(w, http.StatusBadRequest, protocol.ChatResponse{Success: false, Error: msgInvalidBody, Details: err.Error()})
		return
	}
	res := s.chat.Reset(r.Context(), req.UserID, req.SessionID)
	respondJSON(w, http.StatusOK, protocol.ResetResponse{
		Success:      true,
		Message:      msgChatReset,
		NewSessionID: res.SessionID,
	})
}

// toChatRequest maps the wire body onto a pipeline request. Zone-less
// timestamps are wall time in the server's zone; an unparseable one falls
// back to server time.
func (s *Server) toChatRequest(ctx context.Context, req protocol.ChatRequest) chat.Request {
	out := chat.Request{
		Message:   req.Message,
		UserID:    req.UserID,
		Character: req.Character,
	}
	ts := req.Timestamp.In(s.location)
	switch {
	case ts.Valid:
		out.At = ts.Time
	case ts.IsSet():
		s.logger.WarnContext(ctx, "ignoring unparseable timestamp", "timestamp", ts.Raw)
	}
	return out
}

func chatErrorResponse(err error) (int, protocol.ChatResponse) {
	var verr *chat.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest, protocol.ChatResponse{Success: false, Error: msgEmptyMessage}
	}
	details := err.Error()
	var uerr *chat.UpstreamError
	if errors.As(err, &uerr) {
		details = uerr.Detail()
	}
	return http.StatusInternalServerError, protocol.ChatResponse{Success: false, Error: msgProcessFailed, Details: details}
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
