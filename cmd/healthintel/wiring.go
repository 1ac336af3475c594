package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"healthintel.local/gateway/internal/config"
	"healthintel.local/gateway/internal/db"
	"healthintel.local/gateway/internal/events"
	"healthintel.local/gateway/internal/model"
	"healthintel.local/gateway/internal/session"
	"healthintel.local/gateway/internal/subscribers"
	logging "healthintel.local/gateway/internal/subscribers/logging"
	"healthintel.local/gateway/internal/subscribers/webhook"
)

// buildRegistry registers every provider that has an API key.
func buildRegistry(ctx context.Context, cfg config.GatewayConfig) (*model.Registry, error) {
	registry := model.NewRegistry()
	if cfg.OpenAIAPIKey != "" {
		registry.Register(config.ProviderOpenAI, model.NewOpenAIProvider(cfg.OpenAIAPIKey))
	}
	if cfg.PerplexityAPIKey != "" {
		registry.Register(config.ProviderPerplexity, model.NewPerplexityProvider(cfg.PerplexityAPIKey))
	}
	if cfg.GeminiAPIKey != "" {
		gemini, err := model.NewGeminiProvider(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("init gemini provider: %w", err)
		}
		registry.Register(config.ProviderGemini, gemini)
	}
	return registry, nil
}

// resolveProviders picks the extraction and grounding providers. A missing
// extraction provider is an error; a missing grounder disables grounding.
func resolveProviders(registry *model.Registry, cfg config.GatewayConfig, logger *zap.Logger) (model.Provider, model.Provider, error) {
	registry.Bind(model.RoleExtraction, cfg.ExtractionProvider)
	extractor, _, err := registry.For(model.RoleExtraction)
	if err != nil {
		return nil, nil, fmt.Errorf("no api key for extraction provider: %w", err)
	}
	if cfg.GroundingProvider == config.ProviderNone {
		return extractor, nil, nil
	}
	registry.Bind(model.RoleGrounding, cfg.GroundingProvider)
	grounder, name, err := registry.For(model.RoleGrounding)
	if err != nil {
		logger.Warn("grounding provider unavailable, analyses use general knowledge",
			zap.String("provider", name),
			zap.Error(err),
		)
		return extractor, nil, nil
	}
	return extractor, grounder, nil
}

func openStore(cfg config.GatewayConfig) (session.Store, error) {
	if cfg.DBDriver == db.DriverMemory {
		return session.NewMemoryStore(), nil
	}
	store, err := session.NewGormStore(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}
	return store, nil
}

func buildSubscribers(cfg config.GatewayConfig, logger *zap.Logger) []subscribers.Subscriber {
	subs := []subscribers.Subscriber{logging.New(logger)}
	for idx, webhookURL := range cfg.WebhookURLs {
		var opts []webhook.Option
		if cfg.WebhookSecret != "" {
			opts = append(opts, webhook.WithSigningSecret(cfg.WebhookSecret))
		}
		if len(cfg.WebhookEvents) > 0 {
			types := make([]events.Type, 0, len(cfg.WebhookEvents))
			for _, name := range cfg.WebhookEvents {
				types = append(types, events.Type(name))
			}
			opts = append(opts, webhook.WithEventTypes(types...))
		}
		subs = append(subs, webhook.New(webhookSubscriberName(idx, webhookURL), webhookURL, logger, opts...))
	}
	return subs
}

func webhookSubscriberName(index int, webhookURL string) string {
	parsed, err := url.Parse(webhookURL)
	if err == nil {
		host := strings.TrimSpace(parsed.Host)
		if host != "" {
			return host
		}
	}
	return fmt.Sprintf("webhook-%d", index+1)
}
