package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Env file names checked beside the binary, first match wins.
var envFileNames = []string{"dockmon.env", "env"}

// loadEnvFileFromDir loads environment variables from an env file under dir.
// The variables feed the Docker SDK's environment lookup (DOCKER_HOST,
// DOCKER_CERT_PATH, DOCKER_TLS_VERIFY) for daemons configured without a URL.
//
// Missing files are not an error. Variables that already have a non-empty
// value in the environment are never overridden.
func loadEnvFileFromDir(dir string) error {
	if dir == "" {
		return errors.New("env dir is empty")
	}

	for _, name := range envFileNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read env file %q: %w", path, err)
		}

		vars, err := parseEnvFile(path, data)
		if err != nil {
			return err
		}
		return applyEnv(vars)
	}
	return nil
}

// parseEnvFile parses KEY=VALUE lines. Blank lines and # comments are
// skipped, an "export " prefix is tolerated, and double or single quoted
// values are unquoted.
func parseEnvFile(path string, data []byte) (map[string]string, error) {
	vars := make(map[string]string)
	for i, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "export "))

		key, val, ok := strings.Cut(trimmed, "=")
		if !ok {
			return nil, fmt.Errorf("%s:%d: invalid line (missing '='): %q", path, i+1, line)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("%s:%d: invalid line (empty key): %q", path, i+1, line)
		}

		val = strings.TrimSpace(val)
		switch {
		case len(val) >= 2 && val[0] == '"' && val[len(val)-1] == '"':
			unquoted, err := strconv.Unquote(val)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: invalid quoted value for %s: %w", path, i+1, key, err)
			}
			val = unquoted
		case len(val) >= 2 && val[0] == '\'' && val[len(val)-1] == '\'':
			val = val[1 : len(val)-1]
		}
		vars[key] = val
	}
	return vars, nil
}

// applyEnv sets the parsed variables, treating empty existing values as
// unset so an empty DOCKER_HOST does not shadow the file.
func applyEnv(vars map[string]string) error {
	for key, val := range vars {
		if os.Getenv(key) != "" {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return fmt.Errorf("failed to set env %s: %w", key, err)
		}
	}
	return nil
}
