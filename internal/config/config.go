package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

const (
	DefaultPort            = 3000
	DefaultOpenAIModel     = "gpt-3.5-turbo"
	DefaultClassifyTimeout = 10000
	DefaultReadLimit       = 64 * 1024
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Gateway: GatewayConfig{
			Port:         DefaultPort,
			Bind:         "loopback",
			ReadLimit:    DefaultReadLimit,
			MessageRate:  5,
			MessageBurst: 10,
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
		Classifier: ClassifierConfig{
			Provider:        "openai",
			APIKey:          "${OPENAI_API_KEY}",
			Model:           DefaultOpenAIModel,
			TimeoutMs:       DefaultClassifyTimeout,
			Temperature:     0.3,
			MaxTokens:       50,
			KeywordFailover: true,
		},
	}
}
