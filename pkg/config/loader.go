package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// BootstrapConfig declares connector instances to provision at startup.
// Credential values support ${VAR_NAME} environment substitution so bundles
// never have to be written into the file itself.
type BootstrapConfig struct {
	Connectors []ConnectorSpec `yaml:"connectors"`
}

// ConnectorSpec is one pre-provisioned connector instance
type ConnectorSpec struct {
	Platform    string            `yaml:"platform"`
	Name        string            `yaml:"name"`
	Credentials map[string]string `yaml:"credentials"`
}

// LoadBootstrap reads a bootstrap file and validates that every entry names
// a platform and carries credentials.
func LoadBootstrap(filePath string) (*BootstrapConfig, error) {
	var cfg BootstrapConfig
	if err := loadYAML(filePath, &cfg); err != nil {
		return nil, err
	}
	for i, spec := range cfg.Connectors {
		if spec.Platform == "" {
			return nil, fmt.Errorf("bootstrap connector %d: platform is required", i)
		}
		if len(spec.Credentials) == 0 {
			return nil, fmt.Errorf("bootstrap connector %d (%s): credentials are required", i, spec.Platform)
		}
	}
	return &cfg, nil
}

// BaseConfig builds the instance configuration for a bootstrap entry
func (s ConnectorSpec) BaseConfig() *BaseConfig {
	cfg := NewBaseConfig(s.Name, s.Platform)
	cfg.Security.Credentials = s.Credentials
	return cfg
}

func loadYAML(filePath string, out interface{}) error {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path is operator-supplied
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	content := substituteEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
