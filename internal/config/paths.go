package config

import (
	"os"
	"path/filepath"
	"strings"
)

const stateDirName = ".healthintel"

func LocalStateDirExists() bool {
	info, err := os.Stat(stateDirName)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// DefaultStateRoot prefers ./.healthintel when it exists, then ~/.healthintel.
func DefaultStateRoot() string {
	if LocalStateDirExists() {
		return stateDirName
	}
	home, err := os.UserHomeDir()
	if err == nil && strings.TrimSpace(home) != "" {
		return filepath.Join(home, stateDirName)
	}
	return stateDirName
}

// ResolveStatePath expands ~ and rebases paths under .healthintel/ onto
// DefaultStateRoot. Other relative paths are returned cleaned.
func ResolveStatePath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return ""
	}

	expanded := trimmed
	if resolved, err := expandPath(trimmed); err == nil && strings.TrimSpace(resolved) != "" {
		expanded = resolved
	}

	cleaned := filepath.Clean(expanded)
	if filepath.IsAbs(cleaned) {
		return cleaned
	}
	if cleaned == stateDirName {
		return DefaultStateRoot()
	}

	prefix := stateDirName + string(filepath.Separator)
	if strings.HasPrefix(cleaned, prefix) {
		return filepath.Join(DefaultStateRoot(), strings.TrimPrefix(cleaned, prefix))
	}
	return cleaned
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" {
		return os.UserHomeDir()
	}
	if strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(trimmed, "~/")), nil
	}
	return trimmed, nil
}
