// Package config provides centralized configuration management for the
// license daemon: loading, layered precedence, validation, and runtime
// path resolution.
//
// # Configuration Sources
//
// Configuration resolves from three layers, later layers winning:
//
//	1. Built-in defaults (Default)
//	2. YAML config file (brvlicense.yaml, config/brvlicense.yaml,
//	   /etc/brvlicense/config.yaml, or BRV_CONFIG_FILE)
//	3. Environment variables (BRV_* via envconfig; a .env file is
//	   honored when present)
//
// # Environment Variables
//
// Variables follow the BRV_<SECTION>_<FIELD> pattern:
//
//	BRV_LICENSE_BASE_URL=https://helpdeskai.com
//	BRV_LICENSE_API_KEY=ck_...
//	BRV_LICENSE_API_SECRET=cs_...
//	BRV_SERVER_PORT=8480
//	BRV_LOGGING_LEVEL=debug
//
// # Validation
//
// Load validates structure (ports, durations, enum fields) but not
// remote-credential completeness: a daemon may run unconfigured until
// an operator supplies a license. Plain http base URLs additionally
// require allow_insecure_http.
//
// # Paths
//
// ResolvePaths turns the configured layout into absolute locations
// under one data directory (user config dir by default) holding the
// state file, the scheduler lock, sealed credentials, and logs.
package config
