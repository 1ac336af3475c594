package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"healthintel.local/gateway/internal/analysis"
	"healthintel.local/gateway/internal/model"
	"healthintel.local/gateway/internal/search"
	"healthintel.local/gateway/internal/session"
)

const (
	maxRequestBytes     int64 = 2 << 20
	maxWSMessageBytes   int64 = 1 << 20
	wsWriteTimeout            = 10 * time.Second
	headerRequestID           = "X-Request-ID"
	maxRequestIDLength        = 128
	errInvalidJSON            = "Invalid JSON body"
	errSessionRequired        = "Session ID is required"
	errInvalidAction          = "Invalid action"
	errQueueFull              = "Too many concurrent requests for session"
	errAnalysisFailed         = "Analysis failed. Please try again."
	errShuttingDown           = "Service is shutting down"
)

type Options struct {
	Addr string
	// Production hides error details from 500 responses.
	Production bool
}

type server struct {
	logger     *zap.Logger
	analysis   *analysis.Service
	search     *search.Service
	scheduler  *session.Scheduler
	production bool
}

func NewServer(logger *zap.Logger, opts Options, analysisService *analysis.Service, searchService *search.Service, scheduler *session.Scheduler) *http.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &server{
		logger:     logger.Named("http"),
		analysis:   analysisService,
		search:     searchService,
		scheduler:  scheduler,
		production: opts.Production,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/analysis", h.handleAnalysis)
	mux.HandleFunc("/api/analysis/ws", h.handleAnalysisWS)
	mux.HandleFunc("/api/smart-search", h.handleSmartSearch)

	return &http.Server{
		Addr:              opts.Addr,
		Handler:           h.withRequestID(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

type requestIDKey struct{}

func (s *server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(headerRequestID))
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = uuid.NewString()
		}
		w.Header().Set(headerRequestID, requestID)

		started := time.Now()
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, requestID)))
		s.logger.Debug("request served",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(started)),
		)
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleAnalysisInfo(w, r)
	case http.MethodPost:
		defer r.Body.Close()
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, failure(errInvalidJSON))
			return
		}
		var req analysisRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, failure(errInvalidJSON))
			return
		}
		status, resp := s.serveAnalysis(r.Context(), req)
		writeJSON(w, status, resp)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *server) handleAnalysisInfo(w http.ResponseWriter, r *http.Request) {
	active, err := s.analysis.ActiveSessions(r.Context())
	if err != nil {
		s.logger.Warn("count sessions failed", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Analysis API is running",
		"endpoints": map[string]any{
			"POST": "/api/analysis",
			"WS":   "/api/analysis/ws",
			"body": map[string]string{
				"sessionId":           "Unique session ID (required)",
				"action":              "start | chat | profile | analyze | reset",
				"userMessage":         "User message (for chat, profile and analyze actions)",
				"userProfile":         "Profile used by the analyze action",
				"uploadedFiles":       "Files attached to the analyze action",
				"selectedArticles":    "Articles attached to the analyze action",
				"conversationHistory": "Recent messages for the profile action",
			},
		},
		"activeSessions": active,
	})
}

// serveAnalysis runs one analysis action under the session scheduler and
// returns the HTTP status and body. Shared by the POST and websocket routes.
func (s *server) serveAnalysis(ctx context.Context, req analysisRequest) (int, analysisResponse) {
	sessionID := strings.TrimSpace(string(req.SessionID))
	if sessionID == "" {
		return http.StatusBadRequest, failure(errSessionRequired)
	}
	action := strings.TrimSpace(req.Action)
	if action == "" {
		action = analysis.ActionChat
	}
	if !analysis.ValidAction(action) {
		return http.StatusBadRequest, failure(errInvalidAction)
	}

	var reply analysis.Reply
	err := s.scheduler.Do(ctx, sessionID, func(ctx context.Context) error {
		var err error
		reply, err = s.dispatchAction(ctx, sessionID, action, req)
		return err
	})
	if err != nil {
		return s.failureFor(ctx, sessionID, action, err)
	}
	return http.StatusOK, analysisResponse{Success: true, Reply: reply}
}

func (s *server) dispatchAction(ctx context.Context, sessionID, action string, req analysisRequest) (analysis.Reply, error) {
	switch action {
	case analysis.ActionStart:
		return s.analysis.Start(ctx, sessionID)
	case analysis.ActionProfile:
		return s.analysis.Profile(ctx, sessionID, req.UserMessage, req.ConversationHistory)
	case analysis.ActionAnalyze:
		return s.analysis.Analyze(ctx, sessionID, analysis.AnalyzeRequest{
			Profile:          req.UserProfile,
			UploadedFiles:    len(req.UploadedFiles),
			SelectedArticles: len(req.SelectedArticles),
			Message:          req.UserMessage,
		})
	case analysis.ActionReset:
		reply, err := s.analysis.Reset(ctx, sessionID)
		if err == nil {
			s.scheduler.Forget(sessionID)
		}
		return reply, err
	default:
		return s.analysis.Chat(ctx, sessionID, req.UserMessage)
	}
}

func (s *server) failureFor(ctx context.Context, sessionID, action string, err error) (int, analysisResponse) {
	switch {
	case errors.Is(err, analysis.ErrSessionIDRequired):
		return http.StatusBadRequest, failure(errSessionRequired)
	case errors.Is(err, session.ErrSessionQueueFull):
		return http.StatusTooManyRequests, failure(errQueueFull)
	case errors.Is(err, session.ErrSchedulerClosed), errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable, failure(errShuttingDown)
	}

	s.logger.Error("analysis request failed",
		zap.String("request_id", requestIDFrom(ctx)),
		zap.String("session_id", sessionID),
		zap.String("action", action),
		zap.Bool("upstream", model.IsProviderError(err)),
		zap.Error(err),
	)
	resp := failure(errAnalysisFailed)
	if !s.production {
		resp.Details = err.Error()
	}
	return http.StatusInternalServerError, resp
}

func (s *server) handleAnalysisWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: isWebSocketOriginAllowed}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("analysis ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxWSMessageBytes)

	defaultSessionID := strings.TrimSpace(r.URL.Query().Get("sessionId"))
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("analysis ws closed", zap.Error(err))
			}
			return
		}

		var req analysisRequest
		status, resp := http.StatusBadRequest, failure(errInvalidJSON)
		if err := json.Unmarshal(payload, &req); err == nil {
			if strings.TrimSpace(string(req.SessionID)) == "" {
				req.SessionID = requestSessionID(defaultSessionID)
			}
			status, resp = s.serveAnalysis(r.Context(), req)
		}
		resp.Status = status

		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
			return
		}
		if err := conn.WriteJSON(resp); err != nil {
			s.logger.Debug("analysis ws write failed", zap.Error(err))
			return
		}
	}
}

func (s *server) handleSmartSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		http.Error(w, "smart search not configured", http.StatusNotImplemented)
		return
	}

	defer r.Body.Close()
	var req search.Request
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, failure(errInvalidJSON))
		return
	}

	out, err := s.search.Search(r.Context(), req)
	switch {
	case errors.Is(err, search.ErrQueryRequired):
		writeJSON(w, http.StatusBadRequest, failure("Query is required"))
	case errors.Is(err, search.ErrInvalidMode):
		writeJSON(w, http.StatusBadRequest, failure("Invalid mode"))
	case err != nil:
		s.logger.Error("smart search failed", zap.String("request_id", requestIDFrom(r.Context())), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, failure("Search failed"))
	default:
		writeJSON(w, http.StatusOK, out)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func isWebSocketOriginAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	parsedOrigin, err := url.Parse(origin)
	if err != nil || strings.TrimSpace(parsedOrigin.Host) == "" {
		return false
	}
	return strings.EqualFold(parsedOrigin.Host, r.Host)
}

type analysisRequest struct {
	SessionID           requestSessionID  `json:"sessionId"`
	Action              string            `json:"action"`
	UserMessage         string            `json:"userMessage"`
	UserProfile         *session.Profile  `json:"userProfile"`
	UploadedFiles       []json.RawMessage `json:"uploadedFiles"`
	SelectedArticles    []json.RawMessage `json:"selectedArticles"`
	ConversationHistory []session.Message `json:"conversationHistory"`
}

// requestSessionID accepts a JSON string or number. Any other JSON value
// decodes as empty and is rejected as a missing session id.
type requestSessionID string

func (id *requestSessionID) UnmarshalJSON(data []byte) error {
	*id = ""
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*id = requestSessionID(text)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		*id = requestSessionID(num.String())
	}
	return nil
}

type analysisResponse struct {
	Success bool `json:"success"`
	analysis.Reply
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
	// Status mirrors the HTTP status on websocket replies.
	Status int `json:"status,omitempty"`
}

func failure(message string) analysisResponse {
	return analysisResponse{Success: false, Error: message}
}
