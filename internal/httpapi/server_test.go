package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"healthintel.local/gateway/internal/analysis"
	"healthintel.local/gateway/internal/model"
	"healthintel.local/gateway/internal/search"
	"healthintel.local/gateway/internal/session"
)

const completeExtraction = `{"analysisType":"market","targetEntities":["hospitals"],"timeframe":"1year","specificQuestions":["growth"],"dataPoints":["beds"],"comparisonNeeded":false,"isComplete":true}`

// scriptedProvider answers by system prompt prefix. Analysis prompts block
// until the caller's context ends so sessions stay in the analyzing stage.
type scriptedProvider struct {
	mu          sync.Mutex
	calls       int
	analysisErr error
}

func (p *scriptedProvider) Complete(ctx context.Context, req model.CompletionRequest) (model.CompletionResponse, error) {
	p.mu.Lock()
	p.calls++
	analysisErr := p.analysisErr
	p.mu.Unlock()

	switch {
	case strings.HasPrefix(req.SystemPrompt, "Extract analysis requirements"):
		return model.CompletionResponse{Content: completeExtraction}, nil
	case strings.HasPrefix(req.SystemPrompt, "You are a healthcare data analyst generating"):
		if analysisErr != nil {
			return model.CompletionResponse{}, analysisErr
		}
		<-ctx.Done()
		return model.CompletionResponse{}, ctx.Err()
	default:
		return model.CompletionResponse{Content: "Which region should we focus on?"}, nil
	}
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type staticSearchProvider struct {
	content string
}

func (p staticSearchProvider) Complete(_ context.Context, _ model.CompletionRequest) (model.CompletionResponse, error) {
	return model.CompletionResponse{Content: p.content}, nil
}

type testEnv struct {
	handler   http.Handler
	provider  *scriptedProvider
	scheduler *session.Scheduler
	service   *analysis.Service
}

func newTestEnv(t *testing.T, production bool) *testEnv {
	t.Helper()
	store := session.NewMemoryStore()
	provider := &scriptedProvider{}
	svc, err := analysis.NewService(analysis.Deps{Store: store, Extractor: provider}, analysis.Config{})
	if err != nil {
		t.Fatalf("new analysis service: %v", err)
	}
	sched := session.NewScheduler(nil, 4)
	t.Cleanup(func() {
		sched.Close()
		svc.Close()
		_ = store.Close()
	})

	searchSvc := search.NewService(staticSearchProvider{content: `{"answer":"Found 3 hospitals","suggestions":["a","b","c"]}`}, "", nil)
	srv := NewServer(nil, Options{Addr: ":0", Production: production}, svc, searchSvc, sched)
	return &testEnv{handler: srv.Handler, provider: provider, scheduler: sched, service: svc}
}

func (e *testEnv) post(t *testing.T, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var raw []byte
	switch v := body.(type) {
	case string:
		raw = []byte(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		raw = encoded
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr, decodeBody(t, rr)
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, false)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if _, err := uuid.Parse(rr.Header().Get(headerRequestID)); err != nil {
		t.Fatalf("expected generated uuid request id, got %q", rr.Header().Get(headerRequestID))
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	env := newTestEnv(t, false)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(headerRequestID, "req-123")
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)

	if got := rr.Header().Get(headerRequestID); got != "req-123" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
}

func TestAnalysisRejectsMissingSessionID(t *testing.T) {
	env := newTestEnv(t, false)

	rr, body := env.post(t, "/api/analysis", map[string]any{"action": "chat", "userMessage": "hi"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if body["success"] != false || body["error"] != errSessionRequired {
		t.Fatalf("unexpected body %v", body)
	}
	if env.provider.callCount() != 0 {
		t.Fatalf("expected no provider calls, got %d", env.provider.callCount())
	}
}

func TestAnalysisRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, false)

	rr, body := env.post(t, "/api/analysis", `{"sessionId":`)
	if rr.Code != http.StatusBadRequest || body["error"] != errInvalidJSON {
		t.Fatalf("expected invalid json 400, got %d %v", rr.Code, body)
	}

	rr, body = env.post(t, "/api/analysis", map[string]any{"sessionId": "s1", "action": "summarize"})
	if rr.Code != http.StatusBadRequest || body["error"] != errInvalidAction {
		t.Fatalf("expected invalid action 400, got %d %v", rr.Code, body)
	}
}

func TestAnalysisSessionIDTypes(t *testing.T) {
	env := newTestEnv(t, false)

	rr, body := env.post(t, "/api/analysis", `{"sessionId":5,"action":"start"}`)
	if rr.Code != http.StatusOK || body["success"] != true {
		t.Fatalf("expected numeric session id to be accepted, got %d %v", rr.Code, body)
	}
	if active, err := env.service.ActiveSessions(context.Background()); err != nil || active != 1 {
		t.Fatalf("expected one active session, got %d (%v)", active, err)
	}

	for _, raw := range []string{`{"sessionId":{"id":"s1"},"action":"start"}`, `{"sessionId":true}`, `{"sessionId":null}`} {
		rr, body = env.post(t, "/api/analysis", raw)
		if rr.Code != http.StatusBadRequest || body["error"] != errSessionRequired {
			t.Fatalf("%s: expected session id required, got %d %v", raw, rr.Code, body)
		}
	}
}

func TestAnalysisMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, false)

	req := httptest.NewRequest(http.MethodDelete, "/api/analysis", nil)
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestAnalysisStartReturnsFormFields(t *testing.T) {
	env := newTestEnv(t, false)

	rr, body := env.post(t, "/api/analysis", map[string]any{"sessionId": "s1", "action": "start"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body["success"] != true || body["stage"] != string(session.StageCollecting) {
		t.Fatalf("unexpected body %v", body)
	}
	fields, ok := body["formFields"].([]any)
	if !ok || len(fields) != 1 {
		t.Fatalf("expected one form field, got %v", body["formFields"])
	}
	options := fields[0].(map[string]any)["options"].([]any)
	if len(options) != 6 || options[0] != "Market Analysis" {
		t.Fatalf("unexpected options %v", options)
	}
	if !strings.Contains(body["response"].(string), "comprehensive analysis") {
		t.Fatalf("unexpected start message %q", body["response"])
	}
}

func TestAnalysisChatMovesToAnalyzingAndStaysNonBlocking(t *testing.T) {
	env := newTestEnv(t, false)

	rr, body := env.post(t, "/api/analysis", map[string]any{"sessionId": "s1", "userMessage": "market analysis of hospitals"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", rr.Code, body)
	}
	if body["stage"] != string(session.StageAnalyzing) || body["analyzing"] != true {
		t.Fatalf("expected analyzing reply, got %v", body)
	}
	if !strings.Contains(body["response"].(string), "market") {
		t.Fatalf("expected confirmation naming the analysis type, got %q", body["response"])
	}

	before := env.provider.callCount()
	for i := 0; i < 2; i++ {
		rr, body = env.post(t, "/api/analysis", map[string]any{"sessionId": "s1", "action": "chat", "userMessage": "done yet?"})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if body["response"] != "Analysis is still in progress... Please wait a moment." || body["analyzing"] != true {
			t.Fatalf("unexpected in-progress reply %v", body)
		}
	}
	if got := env.provider.callCount(); got != before {
		t.Fatalf("expected no extra provider calls while analyzing, got %d more", got-before)
	}
}

func TestAnalysisResetReleasesSession(t *testing.T) {
	env := newTestEnv(t, false)

	if rr, _ := env.post(t, "/api/analysis", map[string]any{"sessionId": "s1", "action": "start"}); rr.Code != http.StatusOK {
		t.Fatalf("start failed: %d", rr.Code)
	}
	if env.scheduler.Workers() != 1 {
		t.Fatalf("expected one session worker, got %d", env.scheduler.Workers())
	}

	rr, body := env.post(t, "/api/analysis", map[string]any{"sessionId": "s1", "action": "reset"})
	if rr.Code != http.StatusOK || body["success"] != true || body["message"] != "Session reset" {
		t.Fatalf("unexpected reset reply %d %v", rr.Code, body)
	}
	if env.scheduler.Workers() != 0 {
		t.Fatalf("expected worker to be released, got %d", env.scheduler.Workers())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/analysis", nil)
	info := httptest.NewRecorder()
	env.handler.ServeHTTP(info, req)
	infoBody := decodeBody(t, info)
	if infoBody["message"] != "Analysis API is running" {
		t.Fatalf("unexpected info body %v", infoBody)
	}
	if infoBody["activeSessions"] != float64(0) {
		t.Fatalf("expected zero active sessions, got %v", infoBody["activeSessions"])
	}
}

func TestAnalysisFailureDetailsHiddenInProduction(t *testing.T) {
	for _, production := range []bool{false, true} {
		env := newTestEnv(t, production)
		env.provider.analysisErr = errors.New("upstream exploded")

		rr, body := env.post(t, "/api/analysis", map[string]any{
			"sessionId":     "s1",
			"action":        "analyze",
			"userMessage":   "analyze",
			"uploadedFiles": []any{map[string]any{"name": "a.csv"}},
		})
		if rr.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rr.Code)
		}
		if body["error"] != errAnalysisFailed {
			t.Fatalf("unexpected error %v", body["error"])
		}
		_, hasDetails := body["details"]
		if hasDetails == production {
			t.Fatalf("production=%v but details present=%v", production, hasDetails)
		}
	}
}

func TestFailureForErrorMapping(t *testing.T) {
	s := &server{logger: zap.NewNop()}
	cases := []struct {
		err    error
		status int
		msg    string
	}{
		{session.ErrSessionQueueFull, http.StatusTooManyRequests, errQueueFull},
		{session.ErrSchedulerClosed, http.StatusServiceUnavailable, errShuttingDown},
		{analysis.ErrSessionIDRequired, http.StatusBadRequest, errSessionRequired},
		{errors.New("boom"), http.StatusInternalServerError, errAnalysisFailed},
	}
	for _, tc := range cases {
		status, resp := s.failureFor(context.Background(), "s1", "chat", tc.err)
		if status != tc.status || resp.Error != tc.msg || resp.Success {
			t.Fatalf("%v: got %d %+v", tc.err, status, resp)
		}
	}
}

func TestFailureForFlagsUpstreamErrors(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	s := &server{logger: zap.New(core)}

	s.failureFor(context.Background(), "s1", "chat", fmt.Errorf("analyze: %w", model.ErrProvider))
	s.failureFor(context.Background(), "s1", "chat", errors.New("boom"))

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected two error logs, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["upstream"]; got != true {
		t.Fatalf("expected upstream=true for provider error, got %v", got)
	}
	if got := entries[1].ContextMap()["upstream"]; got != false {
		t.Fatalf("expected upstream=false for local error, got %v", got)
	}
}

func TestSmartSearch(t *testing.T) {
	env := newTestEnv(t, false)

	rr, body := env.post(t, "/api/smart-search", map[string]any{"query": "hospitals in ohio", "mode": "search"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body["success"] != true || body["mode"] != "search" || body["answer"] != "Found 3 hospitals" {
		t.Fatalf("unexpected search body %v", body)
	}

	rr, body = env.post(t, "/api/smart-search", map[string]any{"query": "x", "mode": "telepathy"})
	if rr.Code != http.StatusBadRequest || body["error"] != "Invalid mode" {
		t.Fatalf("expected invalid mode 400, got %d %v", rr.Code, body)
	}

	rr, body = env.post(t, "/api/smart-search", map[string]any{"query": " "})
	if rr.Code != http.StatusBadRequest || body["error"] != "Query is required" {
		t.Fatalf("expected missing query 400, got %d %v", rr.Code, body)
	}
}

func TestAnalysisWS(t *testing.T) {
	env := newTestEnv(t, false)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	conn := dialAnalysisWS(t, ts, "ws-session", nil)
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"action": "start"}); err != nil {
		t.Fatalf("write ws request: %v", err)
	}
	var reply map[string]any
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read ws response: %v", err)
	}
	if reply["success"] != true || reply["status"] != float64(http.StatusOK) {
		t.Fatalf("unexpected ws reply %v", reply)
	}
	if reply["stage"] != string(session.StageCollecting) {
		t.Fatalf("expected collecting stage, got %v", reply["stage"])
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write invalid frame: %v", err)
	}
	reply = nil
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read ws response: %v", err)
	}
	if reply["success"] != false || reply["status"] != float64(http.StatusBadRequest) || reply["error"] != errInvalidJSON {
		t.Fatalf("unexpected ws error reply %v", reply)
	}
}

func TestAnalysisWSRejectsCrossOrigin(t *testing.T) {
	env := newTestEnv(t, false)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	u := wsURL(t, ts, "s1")
	headers := http.Header{}
	headers.Set("Origin", "http://evil.example")
	conn, resp, err := websocket.DefaultDialer.Dial(u, headers)
	if err == nil {
		_ = conn.Close()
		t.Fatalf("expected cross-origin websocket upgrade failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for cross-origin upgrade, got %v", resp)
	}
}

func TestAnalysisWSAcceptsMatchingOrigin(t *testing.T) {
	env := newTestEnv(t, false)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	headers := http.Header{}
	headers.Set("Origin", ts.URL)
	conn := dialAnalysisWS(t, ts, "s1", headers)
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"action": "start"}); err != nil {
		t.Fatalf("write ws request: %v", err)
	}
	var reply map[string]any
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read ws response: %v", err)
	}
	if reply["success"] != true {
		t.Fatalf("expected success with matching origin, got %v", reply)
	}
}

func TestAnalysisWSRejectsOversizedFrame(t *testing.T) {
	env := newTestEnv(t, false)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	conn := dialAnalysisWS(t, ts, "s1", nil)
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{
		"action":      "chat",
		"userMessage": strings.Repeat("a", int(maxWSMessageBytes)+1024),
	}); err != nil {
		t.Fatalf("write oversized ws request: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply map[string]any
	err := conn.ReadJSON(&reply)
	if err == nil && reply["success"] == true {
		t.Fatalf("expected oversized request to fail")
	}
	if env.provider.callCount() != 0 {
		t.Fatalf("expected no provider calls for oversized request")
	}
}

func dialAnalysisWS(t *testing.T, ts *httptest.Server, sessionID string, headers http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(t, ts, sessionID), headers)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	return conn
}

func wsURL(t *testing.T, ts *httptest.Server, sessionID string) string {
	t.Helper()
	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/api/analysis/ws"
	u.RawQuery = url.Values{"sessionId": {sessionID}}.Encode()
	return u.String()
}
