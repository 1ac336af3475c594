package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	EnvCLIServerURL = "HEALTHINTEL_CLI_SERVER_URL"
	EnvCLITransport = "HEALTHINTEL_CLI_TRANSPORT"
	EnvCLITimeout   = "HEALTHINTEL_CLI_TIMEOUT"
	EnvCLIStyle     = "HEALTHINTEL_CLI_STYLE"

	TransportHTTP = "http"
	TransportWS   = "ws"

	DefaultCLIServerURL = "http://127.0.0.1:8080"
	DefaultCLITransport = TransportHTTP
	DefaultCLITimeout   = 3 * time.Minute
	DefaultCLIStyle     = "auto"
)

type CLIConfig struct {
	ServerURL string
	Transport string
	Timeout   time.Duration
	// Style is a glamour style name, or "auto".
	Style string
}

func CLIFromYAMLAndEnv() (CLIConfig, error) {
	cfg := defaultCLIConfig()

	fileCfg, err := loadFileConfig()
	if err != nil {
		return CLIConfig{}, err
	}
	if err := applyCLIYAML(&cfg, fileCfg.CLI); err != nil {
		return CLIConfig{}, err
	}
	applyCLIEnv(&cfg)

	return cfg, nil
}

func defaultCLIConfig() CLIConfig {
	return CLIConfig{
		ServerURL: DefaultCLIServerURL,
		Transport: DefaultCLITransport,
		Timeout:   DefaultCLITimeout,
		Style:     DefaultCLIStyle,
	}
}

func applyCLIYAML(cfg *CLIConfig, source fileCLIConfig) error {
	if value := strings.TrimSpace(source.ServerURL); value != "" {
		cfg.ServerURL = value
	}
	if value := strings.TrimSpace(source.Transport); value != "" {
		cfg.Transport = strings.ToLower(value)
	}
	if value := strings.TrimSpace(source.Style); value != "" {
		cfg.Style = value
	}

	timeout, err := parseOptionalDuration(source.Timeout, cfg.Timeout, "cli.timeout")
	if err != nil {
		return err
	}
	cfg.Timeout = timeout
	return nil
}

func applyCLIEnv(cfg *CLIConfig) {
	cfg.ServerURL = EnvOrDefault(EnvCLIServerURL, cfg.ServerURL)
	cfg.Transport = strings.ToLower(EnvOrDefault(EnvCLITransport, cfg.Transport))
	cfg.Timeout = parseDurationEnv(EnvCLITimeout, cfg.Timeout)
	cfg.Style = EnvOrDefault(EnvCLIStyle, cfg.Style)
}

func (c CLIConfig) Validate() error {
	parsed, err := url.Parse(strings.TrimSpace(c.ServerURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("%s must be an http(s) url", EnvCLIServerURL)
	}
	switch c.Transport {
	case TransportHTTP, TransportWS:
	default:
		return fmt.Errorf("%s must be http or ws", EnvCLITransport)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%s must be > 0", EnvCLITimeout)
	}
	return nil
}
