package provider

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProvidersYAML = `
github:
  auth_mode: OAUTH2
  authorization_url: https://github.com/login/oauth/authorize
  token_url: https://github.com/login/oauth/access_token
  scope_separator: ","

github-enterprise:
  alias: github

slack:
  auth_mode: OAUTH2
  authorization_url: https://slack.com/oauth/v2/authorize
  token_url: https://slack.com/api/oauth.v2.access
  disable_pkce: true

twitter:
  auth_mode: OAUTH1
  authorization_url: https://api.twitter.com/oauth/authorize
  token_url: https://api.twitter.com/oauth/request_token
`

func writeTestProviders(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testProvidersYAML), 0o600))
	return path
}

func TestYAMLRegistryResolvesDescriptor(t *testing.T) {
	reg, err := NewYAMLRegistry(writeTestProviders(t))
	require.NoError(t, err)

	d, err := reg.GetDescriptor("github")
	require.NoError(t, err)
	assert.Equal(t, OAuth2, d.AuthMode)
	url, ok := d.AuthorizationURL.Resolve(OAuth2)
	require.True(t, ok)
	assert.Equal(t, "https://github.com/login/oauth/authorize", url)
}

func TestYAMLRegistryResolvesAlias(t *testing.T) {
	reg, err := NewYAMLRegistry(writeTestProviders(t))
	require.NoError(t, err)

	d, err := reg.GetDescriptor("github-enterprise")
	require.NoError(t, err)
	assert.Equal(t, OAuth2, d.AuthMode)
	assert.Empty(t, d.Alias, "alias chain should be resolved to the concrete descriptor")
}

func TestYAMLRegistryUnknownProvider(t *testing.T) {
	reg, err := NewYAMLRegistry(writeTestProviders(t))
	require.NoError(t, err)

	_, err = reg.GetDescriptor("does-not-exist")
	require.Error(t, err)
	var unknown *ErrUnknownProvider
	require.ErrorAs(t, err, &unknown)
}

func TestYAMLRegistryIntegrationConfig(t *testing.T) {
	reg, err := NewYAMLRegistry(writeTestProviders(t))
	require.NoError(t, err)

	_, err = reg.GetIntegrationConfig("env-1", "github-prod")
	require.Error(t, err)

	reg.PutIntegrationConfig("env-1", &IntegrationConfig{
		ProviderConfigKey: "github-prod",
		Provider:          "github",
		OAuthClientID:     "abc",
		OAuthClientSecret: "shh",
		OAuthScopes:       "repo,user",
	})

	cfg, err := reg.GetIntegrationConfig("env-1", "github-prod")
	require.NoError(t, err)
	assert.Equal(t, "abc", cfg.OAuthClientID)

	_, err = reg.GetIntegrationConfig("env-2", "github-prod")
	require.Error(t, err, "integration config is isolated per environment")
}
