package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ZebulonRouseFrantzich/tow/internal/logger"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "TOW"
	// AppDir is the directory name used under the data and config homes.
	AppDir = "tow"

	DefaultDownloadTimeout = 30 * time.Minute
	DefaultHeaderTimeout   = 30 * time.Second
	DefaultUserAgent       = "tow/1.0"
)

// Config holds all tow configuration.
type Config struct {
	BinariesDir string         `mapstructure:"binaries_dir"`
	StoreDir    string         `mapstructure:"store_dir"`
	Log         logger.Config  `mapstructure:"log"`
	Download    DownloadConfig `mapstructure:"download"`
}

// DownloadConfig tunes the HTTP side of an install.
type DownloadConfig struct {
	// Timeout bounds a whole install. Zero disables the limit.
	Timeout       time.Duration `mapstructure:"timeout"`
	HeaderTimeout time.Duration `mapstructure:"header_timeout"`
	UserAgent     string        `mapstructure:"user_agent"`
}

// flagKeys maps persistent CLI flags to config keys.
var flagKeys = map[string]string{
	"binaries-dir": "binaries_dir",
	"store-dir":    "store_dir",
	"log-level":    "log.level",
	"log-format":   "log.format",
}

// Loader builds a Config from defaults, env, an optional file and flags.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a Loader with tow's defaults for the current host.
func NewLoader() *Loader {
	v := viper.New()

	home, _ := os.UserHomeDir()
	binDir, storeDir := DefaultDirs(runtime.GOOS, home, os.Getenv)
	v.SetDefault("binaries_dir", binDir)
	v.SetDefault("store_dir", storeDir)

	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", false)

	v.SetDefault("download.timeout", DefaultDownloadTimeout)
	v.SetDefault("download.header_timeout", DefaultHeaderTimeout)
	v.SetDefault("download.user_agent", DefaultUserAgent)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v}
}

// BindFlags binds the known persistent flags present in fs. Flags the user
// did not set do not override lower layers.
func (l *Loader) BindFlags(fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := l.v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load reads the config file and returns the validated Config. An explicit
// path must exist; the default location is optional.
func (l *Loader) Load(path string) (Config, error) {
	if path != "" {
		l.v.SetConfigFile(path)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		if dir, err := os.UserConfigDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(dir, AppDir))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ConfigFileUsed returns the config file that was read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Load is NewLoader().Load(path) for callers without flags.
func Load(path string) (Config, error) {
	return NewLoader().Load(path)
}

// DefaultDirs returns the default binaries and store directories for goos.
// Both are empty where tow has no default (windows).
func DefaultDirs(goos, home string, getenv func(string) string) (binariesDir, storeDir string) {
	switch goos {
	case "linux", "darwin", "freebsd", "openbsd", "netbsd":
	default:
		return "", ""
	}

	binariesDir = getenv("XDG_BIN_HOME")
	if binariesDir == "" && home != "" {
		binariesDir = filepath.Join(home, ".local", "bin")
	}

	dataHome := getenv("XDG_DATA_HOME")
	if dataHome == "" && home != "" {
		dataHome = filepath.Join(home, ".local", "share")
	}
	if dataHome != "" {
		storeDir = filepath.Join(dataHome, AppDir)
	}
	return binariesDir, storeDir
}

// normalize expands a leading ~ and makes both directories absolute.
func (c *Config) normalize() error {
	for _, dir := range []*string{&c.BinariesDir, &c.StoreDir} {
		if *dir == "" {
			continue
		}
		expanded, err := expandHome(*dir)
		if err != nil {
			return err
		}
		abs, err := filepath.Abs(expanded)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", *dir, err)
		}
		*dir = abs
	}
	return nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// Validate checks that the config is usable.
func (c *Config) Validate() error {
	if c.BinariesDir == "" {
		return &ValidationError{
			Field:   "binaries_dir",
			Message: fmt.Sprintf("no default on %s, set TOW_BINARIES_DIR or --binaries-dir", runtime.GOOS),
		}
	}
	if c.StoreDir == "" {
		return &ValidationError{
			Field:   "store_dir",
			Message: fmt.Sprintf("no default on %s, set TOW_STORE_DIR or --store-dir", runtime.GOOS),
		}
	}
	if c.Download.Timeout < 0 {
		return &ValidationError{Field: "download.timeout", Message: "must not be negative"}
	}
	if c.Download.HeaderTimeout < 0 {
		return &ValidationError{Field: "download.header_timeout", Message: "must not be negative"}
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return &ValidationError{Field: "log.format", Message: fmt.Sprintf("unknown format %q, want text or json", c.Log.Format)}
	}
	return nil
}

// ValidationError represents a config validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return "config validation failed for " + e.Field + ": " + e.Message
	}
	return "config validation failed: " + e.Message
}
