package config

import (
	"fmt"
	"maps"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		add("gateway.port", "port must be 0-65535, got %d", cfg.Gateway.Port)
	}

	validBinds := []string{"auto", "lan", "loopback", "custom"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		add("gateway.bind", "must be one of %v, got %q", validBinds, cfg.Gateway.Bind)
	}
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		add("gateway.customBindHost", "required when bind is custom")
	}
	if cfg.Gateway.TLS.Enabled && (cfg.Gateway.TLS.CertPath == "" || cfg.Gateway.TLS.KeyPath == "") {
		add("gateway.tls", "certPath and keyPath are required when tls is enabled")
	}
	if cfg.Gateway.MessageRate < 0 {
		add("gateway.messageRate", "must not be negative, got %v", cfg.Gateway.MessageRate)
	}
	if cfg.Gateway.ReadLimit < 0 {
		add("gateway.readLimit", "must not be negative, got %d", cfg.Gateway.ReadLimit)
	}

	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		add("logging.level", "must be one of %v, got %q", validLogLevels, cfg.Logging.Level)
	}
	validConsoleStyles := []string{"pretty", "compact", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		add("logging.consoleStyle", "must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle)
	}

	validDrivers := []string{"sqlite", "postgres", "memory"}
	if cfg.Store.Driver != "" && !slices.Contains(validDrivers, cfg.Store.Driver) {
		add("store.driver", "must be one of %v, got %q", validDrivers, cfg.Store.Driver)
	}
	if cfg.Store.Driver == "postgres" && cfg.Store.DSN == "" {
		add("store.dsn", "required when driver is postgres")
	}

	validProviders := []string{"openai", "keyword"}
	if cfg.Classifier.Provider != "" && !slices.Contains(validProviders, cfg.Classifier.Provider) {
		add("classifier.provider", "must be one of %v, got %q", validProviders, cfg.Classifier.Provider)
	}
	if cfg.Classifier.TimeoutMs < 0 {
		add("classifier.timeoutMs", "must not be negative, got %d", cfg.Classifier.TimeoutMs)
	}
	if cfg.Classifier.Temperature < 0 || cfg.Classifier.Temperature > 2 {
		add("classifier.temperature", "must be 0-2, got %v", cfg.Classifier.Temperature)
	}

	byEvent := cfg.Hooks.byEvent()
	for _, event := range slices.Sorted(maps.Keys(byEvent)) {
		for i, h := range byEvent[event] {
			if h.Command == "" {
				add(fmt.Sprintf("hooks.%s[%d].command", event, i), "command is required")
			}
		}
	}

	return issues
}

// byEvent maps yaml key names to configured hook entries.
func (h HooksConfig) byEvent() map[string][]HookEntry {
	return map[string][]HookEntry{
		"gatewayStart":    h.GatewayStart,
		"gatewayStop":     h.GatewayStop,
		"sessionStart":    h.SessionStart,
		"sessionEnd":      h.SessionEnd,
		"messageReceived": h.MessageReceived,
		"messageSending":  h.MessageSending,
		"configUpdated":   h.ConfigUpdated,
	}
}
