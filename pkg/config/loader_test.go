package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBootstrapFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "connectors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadBootstrap(t *testing.T) {
	t.Setenv("WA_TOKEN", "EAAG-secret-token")

	path := writeBootstrapFile(t, `
connectors:
  - platform: whatsapp
    name: support-line
    credentials:
      access_token: ${WA_TOKEN}
      phone_number_id: "1055512345"
`)

	cfg, err := LoadBootstrap(path)
	require.NoError(t, err)
	require.Len(t, cfg.Connectors, 1)

	spec := cfg.Connectors[0]
	assert.Equal(t, "whatsapp", spec.Platform)
	assert.Equal(t, "support-line", spec.Name)
	assert.Equal(t, "EAAG-secret-token", spec.Credentials["access_token"],
		"env placeholder must be substituted")

	base := spec.BaseConfig()
	assert.Equal(t, "support-line", base.Name)
	assert.Equal(t, "whatsapp", base.Platform)
	token, ok := base.Security.Credential("access_token")
	assert.True(t, ok)
	assert.Equal(t, "EAAG-secret-token", token)
}

func TestLoadBootstrapValidation(t *testing.T) {
	path := writeBootstrapFile(t, `
connectors:
  - name: missing-platform
    credentials:
      token: x
`)
	_, err := LoadBootstrap(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "platform is required")

	path = writeBootstrapFile(t, `
connectors:
  - platform: whatsapp
`)
	_, err = LoadBootstrap(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials are required")

	_, err = LoadBootstrap(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestSubstituteEnvVarsUnsetVariable(t *testing.T) {
	os.Unsetenv("MERIDIAN_TEST_UNSET")
	assert.Equal(t, "token: ", substituteEnvVars("token: ${MERIDIAN_TEST_UNSET}"))
	assert.Equal(t, "no placeholders", substituteEnvVars("no placeholders"))
}
