package tenant

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.toi-monitor.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".toi-monitor")
}

// Dir returns the tenant-specific state directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "tenants", name)
}

// LockPath returns the lock file path for a tenant.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// CacheDBPath returns the tenant's local sqlite row source path.
func CacheDBPath(name string) string {
	return filepath.Join(Dir(name), "monitor.db")
}

// LogDir returns the log directory for a tenant.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "monitord.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the tenant directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
