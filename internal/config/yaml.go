package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigFile           = "HEALTHINTEL_CONFIG_FILE"
	defaultConfigFileName   = "config.yaml"
	alternateConfigFileName = "config.yml"
)

type fileConfig struct {
	Version int               `yaml:"version"`
	Gateway fileGatewayConfig `yaml:"gateway"`
	CLI     fileCLIConfig     `yaml:"cli"`
}

type fileGatewayConfig struct {
	HTTPAddr           string   `yaml:"http_addr"`
	Environment        string   `yaml:"environment"`
	LogLevel           string   `yaml:"log_level"`
	DBDriver           string   `yaml:"db_driver"`
	DBDSN              string   `yaml:"db_dsn"`
	SessionTTL         string   `yaml:"session_ttl"`
	SweepInterval      string   `yaml:"sweep_interval"`
	HistoryLimit       *int     `yaml:"history_limit"`
	SessionQueueSize   *int     `yaml:"session_queue_size"`
	AnalysisTimeout    string   `yaml:"analysis_timeout"`
	ExtractionProvider string   `yaml:"extraction_provider"`
	GroundingProvider  string   `yaml:"grounding_provider"`
	ExtractionModel    string   `yaml:"extraction_model"`
	AnalysisModel      string   `yaml:"analysis_model"`
	GroundingModel     string   `yaml:"grounding_model"`
	OpenAIAPIKey       string   `yaml:"openai_api_key"`
	PerplexityAPIKey   string   `yaml:"perplexity_api_key"`
	GeminiAPIKey       string   `yaml:"gemini_api_key"`
	WebhookURLs        []string `yaml:"webhook_urls"`
	WebhookSecret      string   `yaml:"webhook_secret"`
	WebhookEvents      []string `yaml:"webhook_events"`
}

type fileCLIConfig struct {
	ServerURL string `yaml:"server_url"`
	Transport string `yaml:"transport"`
	Timeout   string `yaml:"timeout"`
	Style     string `yaml:"style"`
}

func loadFileConfig() (fileConfig, error) {
	path, ok, err := resolveConfigFilePath()
	if err != nil {
		return fileConfig{}, err
	}
	if !ok {
		return fileConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("decode config file %s: %w", path, err)
	}

	return cfg, nil
}

func resolveConfigFilePath() (string, bool, error) {
	if explicit := EnvString(EnvConfigFile); explicit != "" {
		resolvedPath, err := expandPath(explicit)
		if err != nil {
			return "", false, fmt.Errorf("resolve %s: %w", EnvConfigFile, err)
		}
		info, err := os.Stat(resolvedPath)
		if err != nil {
			return "", false, fmt.Errorf("config file %s: %w", resolvedPath, err)
		}
		if info.IsDir() {
			return "", false, fmt.Errorf("config file %s is a directory", resolvedPath)
		}
		return resolvedPath, true, nil
	}

	candidates := []string{
		filepath.Join(stateDirName, defaultConfigFileName),
		filepath.Join(stateDirName, alternateConfigFileName),
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve home directory for config lookup: %w", err)
	}
	candidates = append(candidates,
		filepath.Join(homeDir, stateDirName, defaultConfigFileName),
		filepath.Join(homeDir, stateDirName, alternateConfigFileName),
	)

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", false, fmt.Errorf("config path %s is a directory", candidate)
			}
			return candidate, true, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}

	return "", false, nil
}
