package config

// Config is the root configuration for the flowbot server and CLI.
type Config struct {
	Gateway    GatewayConfig    `yaml:"gateway,omitempty"`
	Logging    LoggingConfig    `yaml:"logging,omitempty"`
	Store      StoreConfig      `yaml:"store,omitempty"`
	Classifier ClassifierConfig `yaml:"classifier,omitempty"`
	Hooks      HooksConfig      `yaml:"hooks,omitempty"`
}

// GatewayConfig controls the HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int        `yaml:"port,omitempty"`
	Bind           string     `yaml:"bind,omitempty"` // "auto" | "lan" | "loopback" | "custom"
	CustomBindHost string     `yaml:"customBindHost,omitempty"`
	TLS            GatewayTLS `yaml:"tls,omitempty"`
	AllowedOrigins []string   `yaml:"allowedOrigins,omitempty"`
	ReadLimit      int64      `yaml:"readLimit,omitempty"`    // max inbound frame size in bytes
	MessageRate    float64    `yaml:"messageRate,omitempty"`  // inbound frames per second per connection
	MessageBurst   int        `yaml:"messageBurst,omitempty"` // burst allowance for MessageRate
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"`        // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "compact" | "json"
}

// StoreConfig selects where flows and sessions are persisted.
type StoreConfig struct {
	Driver string `yaml:"driver,omitempty"` // "sqlite" | "postgres" | "memory"
	Path   string `yaml:"path,omitempty"`   // sqlite file, defaults under the data dir
	DSN    string `yaml:"dsn,omitempty"`    // postgres connection string
}

// ClassifierConfig configures intent detection.
type ClassifierConfig struct {
	Provider        string  `yaml:"provider,omitempty"` // "openai" | "keyword"
	APIKey          string  `yaml:"apiKey,omitempty"`
	Model           string  `yaml:"model,omitempty"`
	BaseURL         string  `yaml:"baseUrl,omitempty"`
	TimeoutMs       int     `yaml:"timeoutMs,omitempty"`
	Temperature     float64 `yaml:"temperature,omitempty"`
	MaxTokens       int64   `yaml:"maxTokens,omitempty"`
	KeywordFailover bool    `yaml:"keywordFailover,omitempty"` // fall back to keyword matching when the provider fails
}

// HooksConfig defines shell command hooks per lifecycle event.
type HooksConfig struct {
	GatewayStart    []HookEntry `yaml:"gatewayStart,omitempty"`
	GatewayStop     []HookEntry `yaml:"gatewayStop,omitempty"`
	SessionStart    []HookEntry `yaml:"sessionStart,omitempty"`
	SessionEnd      []HookEntry `yaml:"sessionEnd,omitempty"`
	MessageReceived []HookEntry `yaml:"messageReceived,omitempty"`
	MessageSending  []HookEntry `yaml:"messageSending,omitempty"`
	ConfigUpdated   []HookEntry `yaml:"configUpdated,omitempty"`
}

// HookEntry defines a single hook action.
type HookEntry struct {
	Command string `yaml:"command"`
	Timeout int    `yaml:"timeout,omitempty"` // milliseconds
}
