// Package config loads and validates the argus.yaml configuration file.
package config

// Config is the umbrella configuration object returned by Initialize and
// passed to every component at startup.
type Config struct {
	configDir string

	Search    *SearchConfig
	Deep      *DeepConfig
	Retention *RetentionConfig
	Providers *ProviderRegistry
	Server    *ServerConfig
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the listen address.
	Host string `yaml:"host"`

	// Port is the listen port.
	Port int `yaml:"port"`

	// PublicBaseURL is the externally reachable base URL of this process.
	// Used to build stream URLs and provider callback URLs.
	PublicBaseURL string `yaml:"public_base_url"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:          "0.0.0.0",
		Port:          8080,
		PublicBaseURL: "http://localhost:8080",
	}
}
