// Package config handles configuration loading for the coven session client.
//
// # Overview
//
// Configuration is loaded from a YAML file (or TOML, when the file name ends
// in .toml) with environment variable expansion. Every value has a default,
// so running without a file is valid.
//
// # Configuration File
//
// Locations (in order):
//
//  1. The path passed on the command line (--config)
//  2. Path from COVEN_AUTH_CONFIG environment variable
//  3. ~/.config/coven/auth.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	api:
//	  client_secret: "${COVEN_CLIENT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// After the file is parsed these variables override it directly:
//
//	COVEN_API_URL                 api.base_url
//	COVEN_CLIENT_ID               api.client_id
//	COVEN_CLIENT_SECRET           api.client_secret
//	COVEN_AUTH_CHECK_INTERVAL     session.check_interval, in seconds (0 disables)
//	COVEN_CREDENTIALS_PASSPHRASE  storage.passphrase
//
// # Configuration Sections
//
// Identity service:
//
//	api:
//	  base_url: "http://localhost:3000/api"
//	  client_id: "coven-cli"
//	  client_secret: "${COVEN_CLIENT_SECRET}"
//	  timeout: "10s"
//	  variant: "full"       # full, simple
//
// Session timing (durations use time.ParseDuration syntax):
//
//	session:
//	  check_interval: "5m"  # capped at 300s
//	  access_ttl: "24h"     # used when the access token carries no exp claim
//	  refresh_buffer: "5m"
//	  max_retries: 3
//	  retry_delay: "1s"     # doubles on each retry
//	  logout_timeout: "5s"
//
// Credential storage:
//
//	storage:
//	  backend: "file"       # file, sqlite, memory
//	  path: ""              # default ~/.config/coven/credentials.json
//	  passphrase: "${COVEN_CREDENTIALS_PASSPHRASE}"
//
// Feature gating:
//
//	permissions:
//	  extended_roles: false # enables super_admin
//	  roles:
//	    user: [chat, code_completion, settings, documentation]
//
// Logging and metrics:
//
//	logging:
//	  level: "info"         # debug, info, warn, error
//	  format: "text"        # text, json
//	metrics:
//	  enabled: false
//	  addr: "127.0.0.1:9464"
//	  path: "/metrics"
package config
