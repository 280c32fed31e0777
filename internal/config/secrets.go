package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Secrets sensitive configuration loaded from the .secrets file
type Secrets struct {
	values map[string]string
}

// NewSecrets creates a new Secrets instance
func NewSecrets() *Secrets {
	return &Secrets{
		values: make(map[string]string),
	}
}

// SecretsPath returns the secrets file path
func SecretsPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ".secrets"), nil
}

// LoadSecrets loads secrets from the .secrets file. A missing file yields
// empty secrets.
func LoadSecrets() (*Secrets, error) {
	secretsPath, err := SecretsPath()
	if err != nil {
		return NewSecrets(), nil
	}
	return LoadSecretsFile(secretsPath)
}

// LoadSecretsFile parses a KEY=VALUE file in dotenv syntax.
func LoadSecretsFile(path string) (*Secrets, error) {
	secrets := NewSecrets()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return secrets, nil
	}

	values, err := godotenv.Read(path)
	if err != nil {
		return secrets, errors.Wrapf(err, "failed to parse secrets file %s", path)
	}
	for k, v := range values {
		secrets.values[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return secrets, nil
}

// Get returns the value for a key
func (s *Secrets) Get(key string) string {
	if s == nil || s.values == nil {
		return ""
	}
	return s.values[key]
}

// APIKeyFor returns the key stored as <ENDPOINT>_API_KEY, e.g.
// ANTHROPIC_API_KEY for endpoint id "anthropic".
func (s *Secrets) APIKeyFor(endpointID string) string {
	key := strings.ToUpper(strings.ReplaceAll(endpointID, "-", "_")) + "_API_KEY"
	return s.Get(key)
}
