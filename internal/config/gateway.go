package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"healthintel.local/gateway/internal/events"
)

const (
	EnvGatewayHTTPAddr           = "HEALTHINTEL_HTTP_ADDR"
	EnvGatewayEnvironment        = "HEALTHINTEL_ENVIRONMENT"
	EnvGatewayLogLevel           = "HEALTHINTEL_LOG_LEVEL"
	EnvGatewayDBDriver           = "HEALTHINTEL_DB_DRIVER"
	EnvGatewayDBDSN              = "HEALTHINTEL_DB_DSN"
	EnvGatewaySessionTTL         = "HEALTHINTEL_SESSION_TTL"
	EnvGatewaySweepInterval      = "HEALTHINTEL_SWEEP_INTERVAL"
	EnvGatewayHistoryLimit       = "HEALTHINTEL_HISTORY_LIMIT"
	EnvGatewaySessionQueueSize   = "HEALTHINTEL_SESSION_QUEUE_SIZE"
	EnvGatewayAnalysisTimeout    = "HEALTHINTEL_ANALYSIS_TIMEOUT"
	EnvGatewayExtractionProvider = "HEALTHINTEL_EXTRACTION_PROVIDER"
	EnvGatewayGroundingProvider  = "HEALTHINTEL_GROUNDING_PROVIDER"
	EnvGatewayExtractionModel    = "HEALTHINTEL_EXTRACTION_MODEL"
	EnvGatewayAnalysisModel      = "HEALTHINTEL_ANALYSIS_MODEL"
	EnvGatewayGroundingModel     = "HEALTHINTEL_GROUNDING_MODEL"
	EnvGatewayWebhookURLs        = "HEALTHINTEL_WEBHOOK_URLS"
	EnvGatewayWebhookSecret      = "HEALTHINTEL_WEBHOOK_SECRET"
	EnvGatewayWebhookEvents      = "HEALTHINTEL_WEBHOOK_EVENTS"
	EnvOpenAIAPIKey              = "OPENAI_API_KEY"
	EnvPerplexityAPIKey          = "PERPLEXITY_API_KEY"
	EnvGeminiAPIKey              = "GEMINI_API_KEY"
)

const (
	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"

	ProviderOpenAI     = "openai"
	ProviderPerplexity = "perplexity"
	ProviderGemini     = "gemini"
	// ProviderNone disables grounding.
	ProviderNone = "none"
)

const (
	DefaultGatewayHTTPAddr           = ":8080"
	DefaultGatewayEnvironment        = EnvironmentDevelopment
	DefaultGatewayLogLevel           = "info"
	DefaultGatewayDBDriver           = "memory"
	DefaultGatewayDBDSN              = ".healthintel/healthintel.db"
	DefaultGatewaySessionTTL         = time.Hour
	DefaultGatewaySweepInterval      = 5 * time.Minute
	DefaultGatewayHistoryLimit       = 50
	DefaultGatewaySessionQueueSize   = 16
	DefaultGatewayAnalysisTimeout    = 2 * time.Minute
	DefaultGatewayExtractionProvider = ProviderOpenAI
	DefaultGatewayGroundingProvider  = ProviderPerplexity
	DefaultGatewayExtractionModel    = "gpt-4o-mini"
	DefaultGatewayAnalysisModel      = "gpt-4o"
	DefaultGatewayGroundingModel     = "sonar"
)

type GatewayConfig struct {
	HTTPAddr           string
	Environment        string
	LogLevel           string
	DBDriver           string
	DBDSN              string
	SessionTTL         time.Duration
	SweepInterval      time.Duration
	HistoryLimit       int
	SessionQueueSize   int
	AnalysisTimeout    time.Duration
	ExtractionProvider string
	GroundingProvider  string
	ExtractionModel    string
	AnalysisModel      string
	GroundingModel     string
	OpenAIAPIKey       string
	PerplexityAPIKey   string
	GeminiAPIKey       string
	WebhookURLs        []string
	WebhookSecret      string
	// WebhookEvents limits webhook delivery to these event types. Empty
	// forwards everything.
	WebhookEvents      []string
}

func GatewayFromEnv() GatewayConfig {
	cfg := defaultGatewayConfig()
	applyGatewayEnv(&cfg)
	return cfg
}

func GatewayFromYAMLAndEnv() (GatewayConfig, error) {
	cfg := defaultGatewayConfig()

	fileCfg, err := loadFileConfig()
	if err != nil {
		return GatewayConfig{}, err
	}
	if err := applyGatewayYAML(&cfg, fileCfg.Gateway); err != nil {
		return GatewayConfig{}, err
	}
	applyGatewayEnv(&cfg)

	return cfg, nil
}

func (c GatewayConfig) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), EnvironmentProduction)
}

func defaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		HTTPAddr:           DefaultGatewayHTTPAddr,
		Environment:        DefaultGatewayEnvironment,
		LogLevel:           DefaultGatewayLogLevel,
		DBDriver:           DefaultGatewayDBDriver,
		DBDSN:              ResolveStatePath(DefaultGatewayDBDSN),
		SessionTTL:         DefaultGatewaySessionTTL,
		SweepInterval:      DefaultGatewaySweepInterval,
		HistoryLimit:       DefaultGatewayHistoryLimit,
		SessionQueueSize:   DefaultGatewaySessionQueueSize,
		AnalysisTimeout:    DefaultGatewayAnalysisTimeout,
		ExtractionProvider: DefaultGatewayExtractionProvider,
		GroundingProvider:  DefaultGatewayGroundingProvider,
		ExtractionModel:    DefaultGatewayExtractionModel,
		AnalysisModel:      DefaultGatewayAnalysisModel,
		GroundingModel:     DefaultGatewayGroundingModel,
	}
}

func applyGatewayYAML(cfg *GatewayConfig, source fileGatewayConfig) error {
	if value := strings.TrimSpace(source.HTTPAddr); value != "" {
		cfg.HTTPAddr = value
	}
	if value := strings.TrimSpace(source.Environment); value != "" {
		cfg.Environment = strings.ToLower(value)
	}
	if value := strings.TrimSpace(source.LogLevel); value != "" {
		cfg.LogLevel = strings.ToLower(value)
	}
	if value := strings.TrimSpace(source.DBDriver); value != "" {
		cfg.DBDriver = strings.ToLower(value)
	}
	if value := strings.TrimSpace(source.DBDSN); value != "" {
		cfg.DBDSN = resolveDSN(value)
	}

	ttl, err := parseOptionalDuration(source.SessionTTL, cfg.SessionTTL, "gateway.session_ttl")
	if err != nil {
		return err
	}
	cfg.SessionTTL = ttl

	interval, err := parseOptionalDuration(source.SweepInterval, cfg.SweepInterval, "gateway.sweep_interval")
	if err != nil {
		return err
	}
	cfg.SweepInterval = interval

	timeout, err := parseOptionalDuration(source.AnalysisTimeout, cfg.AnalysisTimeout, "gateway.analysis_timeout")
	if err != nil {
		return err
	}
	cfg.AnalysisTimeout = timeout

	if source.HistoryLimit != nil {
		if *source.HistoryLimit <= 0 {
			return fmt.Errorf("gateway.history_limit must be > 0")
		}
		cfg.HistoryLimit = *source.HistoryLimit
	}
	if source.SessionQueueSize != nil {
		if *source.SessionQueueSize <= 0 {
			return fmt.Errorf("gateway.session_queue_size must be > 0")
		}
		cfg.SessionQueueSize = *source.SessionQueueSize
	}

	if value := strings.TrimSpace(source.ExtractionProvider); value != "" {
		cfg.ExtractionProvider = strings.ToLower(value)
	}
	if value := strings.TrimSpace(source.GroundingProvider); value != "" {
		cfg.GroundingProvider = strings.ToLower(value)
	}
	if value := strings.TrimSpace(source.ExtractionModel); value != "" {
		cfg.ExtractionModel = value
	}
	if value := strings.TrimSpace(source.AnalysisModel); value != "" {
		cfg.AnalysisModel = value
	}
	if value := strings.TrimSpace(source.GroundingModel); value != "" {
		cfg.GroundingModel = value
	}
	if value := strings.TrimSpace(source.OpenAIAPIKey); value != "" {
		cfg.OpenAIAPIKey = value
	}
	if value := strings.TrimSpace(source.PerplexityAPIKey); value != "" {
		cfg.PerplexityAPIKey = value
	}
	if value := strings.TrimSpace(source.GeminiAPIKey); value != "" {
		cfg.GeminiAPIKey = value
	}
	if urls := trimList(source.WebhookURLs); len(urls) > 0 {
		cfg.WebhookURLs = urls
	}
	if value := strings.TrimSpace(source.WebhookSecret); value != "" {
		cfg.WebhookSecret = value
	}
	if types := trimList(source.WebhookEvents); len(types) > 0 {
		cfg.WebhookEvents = types
	}

	return nil
}

func applyGatewayEnv(cfg *GatewayConfig) {
	cfg.HTTPAddr = EnvOrDefault(EnvGatewayHTTPAddr, cfg.HTTPAddr)
	cfg.Environment = strings.ToLower(EnvOrDefault(EnvGatewayEnvironment, cfg.Environment))
	cfg.LogLevel = strings.ToLower(EnvOrDefault(EnvGatewayLogLevel, cfg.LogLevel))
	cfg.DBDriver = strings.ToLower(EnvOrDefault(EnvGatewayDBDriver, cfg.DBDriver))
	if raw := EnvString(EnvGatewayDBDSN); raw != "" {
		cfg.DBDSN = resolveDSN(raw)
	}
	cfg.SessionTTL = parseDurationEnv(EnvGatewaySessionTTL, cfg.SessionTTL)
	cfg.SweepInterval = parseDurationEnv(EnvGatewaySweepInterval, cfg.SweepInterval)
	cfg.AnalysisTimeout = parseDurationEnv(EnvGatewayAnalysisTimeout, cfg.AnalysisTimeout)
	cfg.HistoryLimit = parseIntEnv(EnvGatewayHistoryLimit, cfg.HistoryLimit)
	cfg.SessionQueueSize = parseIntEnv(EnvGatewaySessionQueueSize, cfg.SessionQueueSize)
	cfg.ExtractionProvider = strings.ToLower(EnvOrDefault(EnvGatewayExtractionProvider, cfg.ExtractionProvider))
	cfg.GroundingProvider = strings.ToLower(EnvOrDefault(EnvGatewayGroundingProvider, cfg.GroundingProvider))
	cfg.ExtractionModel = EnvOrDefault(EnvGatewayExtractionModel, cfg.ExtractionModel)
	cfg.AnalysisModel = EnvOrDefault(EnvGatewayAnalysisModel, cfg.AnalysisModel)
	cfg.GroundingModel = EnvOrDefault(EnvGatewayGroundingModel, cfg.GroundingModel)
	cfg.OpenAIAPIKey = EnvOrDefault(EnvOpenAIAPIKey, cfg.OpenAIAPIKey)
	cfg.PerplexityAPIKey = EnvOrDefault(EnvPerplexityAPIKey, cfg.PerplexityAPIKey)
	cfg.GeminiAPIKey = EnvOrDefault(EnvGeminiAPIKey, cfg.GeminiAPIKey)
	if urls := splitList(EnvString(EnvGatewayWebhookURLs)); len(urls) > 0 {
		cfg.WebhookURLs = urls
	}
	cfg.WebhookSecret = EnvOrDefault(EnvGatewayWebhookSecret, cfg.WebhookSecret)
	if types := splitList(EnvString(EnvGatewayWebhookEvents)); len(types) > 0 {
		cfg.WebhookEvents = types
	}
}

// resolveDSN rebases file paths; URL-style DSNs pass through untouched.
func resolveDSN(dsn string) string {
	if strings.Contains(dsn, "://") || strings.HasPrefix(dsn, "file:") || strings.Contains(dsn, "=") {
		return dsn
	}
	return ResolveStatePath(dsn)
}

func (c GatewayConfig) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("%s must not be empty", EnvGatewayHTTPAddr)
	}
	switch c.Environment {
	case EnvironmentDevelopment, EnvironmentProduction, "test":
	default:
		return fmt.Errorf("%s must be development, production or test", EnvGatewayEnvironment)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s must be debug, info, warn or error", EnvGatewayLogLevel)
	}
	switch c.DBDriver {
	case "memory":
	case "sqlite", "postgres":
		if strings.TrimSpace(c.DBDSN) == "" {
			return fmt.Errorf("%s must not be empty", EnvGatewayDBDSN)
		}
	default:
		return fmt.Errorf("%s must be memory, sqlite or postgres", EnvGatewayDBDriver)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("%s must be > 0", EnvGatewaySessionTTL)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("%s must be > 0", EnvGatewaySweepInterval)
	}
	if c.AnalysisTimeout <= 0 {
		return fmt.Errorf("%s must be > 0", EnvGatewayAnalysisTimeout)
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("%s must be > 0", EnvGatewayHistoryLimit)
	}
	if c.SessionQueueSize <= 0 {
		return fmt.Errorf("%s must be > 0", EnvGatewaySessionQueueSize)
	}
	switch c.ExtractionProvider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("%s must be openai or gemini", EnvGatewayExtractionProvider)
	}
	switch c.GroundingProvider {
	case ProviderPerplexity, ProviderOpenAI, ProviderGemini, ProviderNone:
	default:
		return fmt.Errorf("%s must be perplexity, openai, gemini or none", EnvGatewayGroundingProvider)
	}
	for _, raw := range c.WebhookURLs {
		parsed, err := url.Parse(raw)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return fmt.Errorf("%s entry %q must be an http(s) url", EnvGatewayWebhookURLs, raw)
		}
	}
	for _, raw := range c.WebhookEvents {
		if !events.Known(events.Type(raw)) {
			return fmt.Errorf("%s entry %q is not a known event type", EnvGatewayWebhookEvents, raw)
		}
	}
	return nil
}

// APIKey returns the configured key for a provider name.
func (c GatewayConfig) APIKey(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return c.OpenAIAPIKey
	case ProviderPerplexity:
		return c.PerplexityAPIKey
	case ProviderGemini:
		return c.GeminiAPIKey
	default:
		return ""
	}
}
