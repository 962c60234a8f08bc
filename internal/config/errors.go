// ABOUTME: Typed configuration error shared by config loading and agent initialization
// ABOUTME: Lets callers detect missing credentials and invalid settings with errors.As

package config

import "fmt"

// ConfigurationError reports a missing or invalid configuration value.
// It is fatal: callers should surface it and not retry.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func required(field string) error {
	return &ConfigurationError{Field: field, Reason: "is required"}
}

// RequireAPIKey returns the model API key, or a *ConfigurationError when it is empty.
func (m ModelConfig) RequireAPIKey() (string, error) {
	if m.APIKey == "" {
		return "", &ConfigurationError{
			Field:  "model.api_key",
			Reason: fmt.Sprintf("an API key is required for the %s provider", m.Provider),
		}
	}
	return m.APIKey, nil
}

// TemperatureOrDefault returns the configured sampling temperature.
func (m ModelConfig) TemperatureOrDefault() float64 {
	if m.Temperature == nil {
		return DefaultTemperature
	}
	return *m.Temperature
}
