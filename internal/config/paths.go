package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths is the resolved runtime file layout. It is the single source
// of truth for every file the daemon touches.
type Paths struct {
	DataDir         string
	LogsDir         string
	StateFile       string
	LockFile        string
	CredentialsFile string
	LogFile         string
}

// ResolvePaths turns the configured layout into absolute paths. An
// empty data_dir falls back to <user config dir>/brvlicense, then to
// the executable's directory. Relative entries resolve against the
// data directory.
func ResolvePaths(cfg *Config) (*Paths, error) {
	dataDir := cfg.Paths.DataDir
	if dataDir == "" {
		dataDir = defaultDataDir()
	}
	abs, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data directory %s: %w", dataDir, err)
	}
	dataDir = abs

	p := &Paths{
		DataDir:         dataDir,
		LogsDir:         joinIfRelative(dataDir, cfg.Paths.LogsDir),
		StateFile:       joinIfRelative(dataDir, cfg.Paths.StateFile),
		LockFile:        joinIfRelative(dataDir, cfg.Paths.LockFile),
		CredentialsFile: joinIfRelative(dataDir, cfg.License.CredentialsFile),
	}
	if cfg.Logging.FilePath != "" {
		p.LogFile = joinIfRelative(dataDir, cfg.Logging.FilePath)
	}
	return p, nil
}

// EnsureDirectories creates the directories the daemon writes to. The
// data directory is private: it holds the state file and credentials.
func (p *Paths) EnsureDirectories() error {
	if err := os.MkdirAll(p.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data directory %s: %w", p.DataDir, err)
	}
	if p.LogsDir != "" {
		if err := os.MkdirAll(p.LogsDir, 0o755); err != nil {
			return fmt.Errorf("create logs directory %s: %w", p.LogsDir, err)
		}
	}
	if p.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(p.LogFile), 0o755); err != nil {
			return fmt.Errorf("create log file directory: %w", err)
		}
	}
	return nil
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, AppName)
	}
	if exe, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		return filepath.Join(filepath.Dir(exe), "data")
	}
	return "data"
}

func joinIfRelative(base, path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
