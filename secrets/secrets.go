package secrets

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/buger/jsonparser"
	"github.com/sirupsen/logrus"

	"github.com/chatbridge/wabridge"
	"github.com/chatbridge/wabridge/utils"
)

// Source resolves the provider connection string for outbound sends.
type Source interface {
	ConnectionString(ctx context.Context) (string, error)
}

// VaultSource reads a named secret from a managed secret store over HTTP,
// falling back to a process environment variable when the store is
// unreachable or the secret is absent. Resolution order is fixed: store
// first, environment second.
type VaultSource struct {
	vaultURL   string
	secretName string
	envVar     string
}

func NewVaultSource(vaultURL string, secretName string, envVar string) *VaultSource {
	return &VaultSource{vaultURL: vaultURL, secretName: secretName, envVar: envVar}
}

// ConnectionString resolves the connection string, returning a
// ConfigurationError when neither source yields a value.
func (s *VaultSource) ConnectionString(ctx context.Context) (string, error) {
	if s.vaultURL != "" {
		value, err := s.fetchSecret(ctx)
		if err != nil {
			logrus.WithError(err).WithField("secret", s.secretName).Warn("error fetching secret from vault, falling back to environment")
		} else if value != "" {
			return value, nil
		}
	}

	if value := os.Getenv(s.envVar); value != "" {
		return value, nil
	}

	return "", wabridge.NewConfigurationError("connection string not resolvable from vault secret '%s' or environment variable '%s'", s.secretName, s.envVar)
}

func (s *VaultSource) fetchSecret(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/secrets/%s", s.vaultURL, s.secretName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	rr, err := utils.MakeHTTPRequest(req)
	if err != nil {
		return "", err
	}

	value, err := jsonparser.GetString(rr.Body, "value")
	if err != nil {
		return "", err
	}
	return value, nil
}

// StaticSource returns a fixed connection string, used in tests and for
// deployments that inject the credential directly.
type StaticSource string

func (s StaticSource) ConnectionString(ctx context.Context) (string, error) {
	if s == "" {
		return "", wabridge.NewConfigurationError("connection string not configured")
	}
	return string(s), nil
}
