// Package config handles configuration loading for tubeagent.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// Missing tuning values receive defaults before validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from TUBEAGENT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/tubeagent/config.yaml
//  3. ~/.config/tubeagent/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${TUBEAGENT_JWT_SECRET}"
//	capability:
//	  api_key: "${OPENROUTER_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	jobs:
//	  poll_interval: "15s"
//	  max_age: "1h"
//
// # Example
//
//	server:
//	  http_addr: "localhost:8080"
//	database:
//	  path: "~/.local/share/tubeagent/tubeagent.db"
//	capability:
//	  provider: "http"
//	  base_url: "https://openrouter.ai/api/v1"
//	  video_url: "https://video.example.com/v1"
//	  api_key: "${OPENROUTER_API_KEY}"
//	conversation:
//	  history_turns: 10
//	  reply_timeout: "45s"
//	jobs:
//	  max_polls: 120
//	frontends:
//	  slack:
//	    enabled: true
//	    bot_token: "${SLACK_BOT_TOKEN}"
//	logging:
//	  level: "info"
//	  format: "text"
package config
