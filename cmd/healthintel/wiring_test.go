package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"healthintel.local/gateway/internal/config"
	"healthintel.local/gateway/internal/events"
	"healthintel.local/gateway/internal/session"
)

func TestWebhookSubscriberName(t *testing.T) {
	if got := webhookSubscriberName(0, "https://hooks.example:8443/x"); got != "hooks.example:8443" {
		t.Fatalf("unexpected name %q", got)
	}
	if got := webhookSubscriberName(2, "not a url"); got != "webhook-3" {
		t.Fatalf("unexpected fallback name %q", got)
	}
}

func TestBuildSubscribers(t *testing.T) {
	cfg := config.GatewayConfig{WebhookURLs: []string{"https://a.example/hook", "https://b.example/hook"}, WebhookSecret: "s"}
	subs := buildSubscribers(cfg, zap.NewNop())
	if len(subs) != 3 {
		t.Fatalf("expected logging plus two webhooks, got %d", len(subs))
	}
	if subs[1].Name() != "a.example" || subs[2].Name() != "b.example" {
		t.Fatalf("unexpected subscriber names %q %q", subs[1].Name(), subs[2].Name())
	}
}

func TestBuildSubscribersFiltersWebhookEvents(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("X-Healthintel-Event"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	cfg := config.GatewayConfig{WebhookURLs: []string{ts.URL}, WebhookEvents: []string{"analysis.completed"}}
	subs := buildSubscribers(cfg, zap.NewNop())
	if len(subs) != 2 {
		t.Fatalf("expected logging plus one webhook, got %d", len(subs))
	}
	ctx := context.Background()
	if err := subs[1].Handle(ctx, events.New(events.TypeSessionCreated, "s1", nil)); err != nil {
		t.Fatalf("filtered event: %v", err)
	}
	if err := subs[1].Handle(ctx, events.New(events.TypeAnalysisCompleted, "s1", nil)); err != nil {
		t.Fatalf("forwarded event: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != string(events.TypeAnalysisCompleted) {
		t.Fatalf("expected only analysis.completed to be delivered, got %v", seen)
	}
}

func TestResolveProviders(t *testing.T) {
	cfg := config.GatewayConfig{
		OpenAIAPIKey:       "sk-test",
		ExtractionProvider: config.ProviderOpenAI,
		GroundingProvider:  config.ProviderPerplexity,
	}
	registry, err := buildRegistry(context.Background(), cfg)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	extractor, grounder, err := resolveProviders(registry, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("resolve providers: %v", err)
	}
	if extractor == nil {
		t.Fatalf("expected extraction provider")
	}
	if grounder != nil {
		t.Fatalf("expected grounding to be disabled without a perplexity key")
	}

	cfg.PerplexityAPIKey = "pplx-test"
	registry, err = buildRegistry(context.Background(), cfg)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	if _, grounder, _ = resolveProviders(registry, cfg, zap.NewNop()); grounder == nil {
		t.Fatalf("expected grounding provider with a perplexity key")
	}

	cfg.GroundingProvider = config.ProviderNone
	if _, grounder, _ = resolveProviders(registry, cfg, zap.NewNop()); grounder != nil {
		t.Fatalf("expected grounding none to disable grounding")
	}

	cfg.ExtractionProvider = config.ProviderGemini
	if _, _, err := resolveProviders(registry, cfg, zap.NewNop()); err == nil {
		t.Fatalf("expected missing extraction provider error")
	}
}

func TestOpenStore(t *testing.T) {
	store, err := openStore(config.GatewayConfig{DBDriver: "memory"})
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	if _, ok := store.(*session.MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
	_ = store.Close()

	store, err = openStore(config.GatewayConfig{DBDriver: "sqlite", DBDSN: t.TempDir() + "/sessions.db"})
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	if _, ok := store.(*session.GormStore); !ok {
		t.Fatalf("expected gorm store, got %T", store)
	}
	_ = store.Close()
}

func TestRunAskPrintsReply(t *testing.T) {
	var seen map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&seen)
		_, _ = w.Write([]byte(`{"success":true,"response":"## Hello\nPick an analysis type."}`))
	}))
	defer ts.Close()

	var out bytes.Buffer
	cfg := config.CLIConfig{ServerURL: ts.URL, Transport: config.TransportHTTP, Timeout: config.DefaultCLITimeout, Style: "notty"}
	if err := runAsk(context.Background(), &out, cfg, askOptions{action: "start"}, ""); err != nil {
		t.Fatalf("run ask: %v", err)
	}
	if !strings.HasPrefix(out.String(), "session: ") {
		t.Fatalf("expected generated session id line, got %q", out.String())
	}
	if !strings.Contains(out.String(), "Pick an analysis type.") {
		t.Fatalf("expected rendered reply, got %q", out.String())
	}
	if seen["action"] != "start" || seen["sessionId"] == "" {
		t.Fatalf("unexpected request %v", seen)
	}
}

func TestRenderRaw(t *testing.T) {
	var out bytes.Buffer
	if err := render(&out, "**bold**", "auto", true); err != nil {
		t.Fatalf("render: %v", err)
	}
	if out.String() != "**bold**\n" {
		t.Fatalf("unexpected raw output %q", out.String())
	}
}
