package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	TransportHTTP = "http"
	TransportWS   = "ws"

	ioTimeout       = 10 * time.Second
	maxResponseSize = 4 << 20
)

// ErrServer wraps non-2xx replies from the analysis API.
var ErrServer = errors.New("analysis server error")

type Config struct {
	ServerURL  string
	Transport  string
	Timeout    time.Duration
	HTTPClient *http.Client
}

func (c Config) Validate() error {
	parsed, err := url.Parse(strings.TrimSpace(c.ServerURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("server url must be an http(s) url")
	}
	switch c.Transport {
	case "", TransportHTTP, TransportWS:
	default:
		return fmt.Errorf("unsupported transport %q", c.Transport)
	}
	return nil
}

type Request struct {
	SessionID   string `json:"sessionId"`
	Action      string `json:"action,omitempty"`
	UserMessage string `json:"userMessage,omitempty"`
}

type Response struct {
	Success         bool            `json:"success"`
	Response        string          `json:"response,omitempty"`
	Message         string          `json:"message,omitempty"`
	Stage           string          `json:"stage,omitempty"`
	Analyzing       bool            `json:"analyzing,omitempty"`
	AnalysisResults json.RawMessage `json:"analysisResults,omitempty"`
	Error           string          `json:"error,omitempty"`
	Details         string          `json:"details,omitempty"`
	Status          int             `json:"status,omitempty"`
}

// Text is the human-readable part of the reply.
func (r Response) Text() string {
	if r.Response != "" {
		return r.Response
	}
	return r.Message
}

type Client struct {
	cfg     Config
	baseURL *url.URL
	http    *http.Client

	mu      sync.Mutex
	conn    *websocket.Conn
	connFor string
	closed  bool
}

func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Transport == "" {
		cfg.Transport = TransportHTTP
	}
	baseURL, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.ServerURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 3 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{cfg: cfg, baseURL: baseURL, http: httpClient}, nil
}

// Send runs one analysis action and returns the decoded reply. Replies with
// success=false are returned alongside an ErrServer-wrapped error.
func (c *Client) Send(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return Response{}, fmt.Errorf("session id is required")
	}

	var (
		resp Response
		err  error
	)
	if c.cfg.Transport == TransportWS {
		resp, err = c.sendWS(ctx, req)
	} else {
		resp, err = c.sendHTTP(ctx, req)
	}
	if err != nil {
		return Response{}, err
	}
	if !resp.Success {
		return resp, fmt.Errorf("%w (%d): %s", ErrServer, resp.Status, resp.Error)
	}
	return resp, nil
}

func (c *Client) sendHTTP(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}
	endpoint := c.baseURL.JoinPath("/api/analysis").String()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("post analysis request: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return Response{}, fmt.Errorf("read analysis response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, fmt.Errorf("%w (%d): %s", ErrServer, httpResp.StatusCode, strings.TrimSpace(string(raw)))
	}
	resp.Status = httpResp.StatusCode
	return resp, nil
}

func (c *Client) sendWS(ctx context.Context, req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connectLocked(ctx, req.SessionID)
	if err != nil {
		return Response{}, err
	}

	deadline := time.Now().Add(ioTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return Response{}, fmt.Errorf("set write deadline: %w", err)
	}
	if err := conn.WriteJSON(req); err != nil {
		c.dropLocked()
		return Response{}, fmt.Errorf("write analysis request: %w", err)
	}

	readDeadline := time.Now().Add(c.readTimeout())
	if dl, ok := ctx.Deadline(); ok && dl.Before(readDeadline) {
		readDeadline = dl
	}
	if err := conn.SetReadDeadline(readDeadline); err != nil {
		return Response{}, fmt.Errorf("set read deadline: %w", err)
	}
	var resp Response
	if err := conn.ReadJSON(&resp); err != nil {
		c.dropLocked()
		return Response{}, fmt.Errorf("read analysis response: %w", err)
	}
	return resp, nil
}

func (c *Client) readTimeout() time.Duration {
	if c.cfg.Timeout > 0 {
		return c.cfg.Timeout
	}
	return 3 * time.Minute
}

func (c *Client) connectLocked(ctx context.Context, sessionID string) (*websocket.Conn, error) {
	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}
	if c.conn != nil && c.connFor == sessionID {
		return c.conn, nil
	}
	c.dropLocked()

	dialer := websocket.Dialer{HandshakeTimeout: ioTimeout}
	conn, _, err := dialer.DialContext(ctx, c.wsURL(sessionID), nil)
	if err != nil {
		return nil, fmt.Errorf("dial analysis websocket: %w", err)
	}
	c.conn = conn
	c.connFor = sessionID
	return conn, nil
}

func (c *Client) wsURL(sessionID string) string {
	u := *c.baseURL.JoinPath("/api/analysis/ws")
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"sessionId": {sessionID}}.Encode()
	return u.String()
}

func (c *Client) dropLocked() {
	if c.conn == nil {
		return
	}
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(500*time.Millisecond))
	_ = c.conn.Close()
	c.conn = nil
	c.connFor = ""
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.dropLocked()
	return nil
}

// WaitForResult re-sends message every interval while the server reports
// the analysis as still running.
func (c *Client) WaitForResult(ctx context.Context, sessionID, message string, interval time.Duration) (Response, error) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-ticker.C:
		}
		resp, err := c.Send(ctx, Request{SessionID: sessionID, Action: "chat", UserMessage: message})
		if err != nil {
			return resp, err
		}
		if !resp.Analyzing {
			return resp, nil
		}
	}
}
