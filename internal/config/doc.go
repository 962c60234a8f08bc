// Package config loads and validates coven-writer configuration.
//
// # Configuration Sources
//
// Configuration is read from a YAML file (or TOML when the path ends in
// .toml). Environment variables in the format ${VAR_NAME} are expanded
// before parsing, which is how secrets such as the model API key are
// usually supplied:
//
//	model:
//	  provider: gemini
//	  api_key: ${GOOGLE_API_KEY}
//
// # Configuration Structure
//
//   - Matrix: homeserver, bot user, access token, rooms and encryption
//   - Model: provider (openai, gemini, anthropic), model name, temperature
//   - Streaming: throttle_interval between partial message edits (default 1s)
//   - Agents: idle_timeout and reap_interval for per-room agents
//   - Database: SQLite path for the generation ledger
//   - Logging: level (debug, info, warn, error) and format (text, json)
//
// # Duration Fields
//
// Duration fields use Go duration syntax: "500ms", "30s", "1h".
//
// # Errors
//
// Validation failures and missing credentials are reported as
// *ConfigurationError so callers can tell them apart with errors.As.
package config
