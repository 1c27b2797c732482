package config

// Application identity.
const (
	AppName    = "brvlicense"
	AppVersion = "1.0.0"

	// EnvPrefix namespaces environment overrides, e.g.
	// BRV_LICENSE_BASE_URL, BRV_SERVER_PORT.
	EnvPrefix = "BRV"
)

// Default file layout.
const (
	DefaultStateFileName = "license-state.json"
	DefaultLockFileName  = "autovalidate.lock"
	DefaultLogsDir       = "logs"
)

// Logging defaults.
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// DefaultConfigLocations are checked in order when BRV_CONFIG_FILE is
// not set.
var DefaultConfigLocations = []string{
	"brvlicense.yaml",
	"config/brvlicense.yaml",
	"/etc/brvlicense/config.yaml",
}
