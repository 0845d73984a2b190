package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/librarian/internal/scanner"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Index backends.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Config represents the application configuration.
type Config struct {
	App   ApplicationConfig `yaml:"app" toml:"app"`
	Scan  ScanConfig        `yaml:"scan" toml:"scan"`
	Index IndexConfig       `yaml:"index" toml:"index"`
	Tags  TagsConfig        `yaml:"tags" toml:"tags"`
	Watch WatchConfig       `yaml:"watch" toml:"watch"`
	Cache CacheConfig       `yaml:"cache" toml:"cache"`
	Auth  AuthConfig        `yaml:"auth" toml:"auth"`
}

// Validate validates the configuration and expands ~ in paths.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Scan.Validate(); err != nil {
		return err
	}
	if err := c.Index.Validate(); err != nil {
		return err
	}
	if err := c.Tags.Validate(); err != nil {
		return err
	}
	if err := c.Watch.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level" toml:"log_level"`
	HTTP     HTTPConfig `yaml:"http" toml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port" toml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// ScanConfig describes which files under which directory are indexed.
type ScanConfig struct {
	Directory        string   `yaml:"directory" toml:"directory"`
	Extensions       []string `yaml:"extensions" toml:"extensions"`
	Exclude          []string `yaml:"exclude" toml:"exclude"`
	RespectGitignore bool     `yaml:"respect_gitignore" toml:"respect_gitignore"`
}

// Validate validates the scan configuration.
func (c *ScanConfig) Validate() error {
	c.Directory = expandHome(c.Directory)
	return validation.ValidateStruct(c,
		validation.Field(&c.Directory, validation.Required),
		validation.Field(&c.Extensions, validation.Each(validation.Required)),
	)
}

// IndexConfig holds the durable snapshot location and backend.
type IndexConfig struct {
	Path          string `yaml:"path" toml:"path"`
	Backend       string `yaml:"backend" toml:"backend"`
	LockTimeoutMS int    `yaml:"lock_timeout_ms" toml:"lock_timeout_ms"`
}

// Validate validates the index configuration.
func (c *IndexConfig) Validate() error {
	c.Path = expandHome(c.Path)
	if c.Backend == "" {
		c.Backend = BackendJSON
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.Backend, validation.In(BackendJSON, BackendSQLite)),
		validation.Field(&c.LockTimeoutMS, validation.Min(0)),
	)
}

// LockTimeout returns the snapshot lock timeout.
func (c *IndexConfig) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMS) * time.Millisecond
}

// TagsConfig selects which tags are kept.
type TagsConfig struct {
	Mode      string   `yaml:"mode" toml:"mode"`
	Whitelist []string `yaml:"whitelist" toml:"whitelist"`
}

// Validate validates the tags configuration.
func (c *TagsConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = scanner.ModeAll
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.In(scanner.ModeAll, scanner.ModeWhitelist)),
	); err != nil {
		return err
	}
	if c.Mode == scanner.ModeWhitelist && len(c.Whitelist) == 0 {
		return fmt.Errorf("tags: mode is %q but whitelist is empty", scanner.ModeWhitelist)
	}
	return nil
}

// WatchConfig controls live file watching.
type WatchConfig struct {
	Enabled    bool `yaml:"enabled" toml:"enabled"`
	DebounceMS int  `yaml:"debounce_ms" toml:"debounce_ms"`
}

// Validate validates the watch configuration.
func (c *WatchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DebounceMS, validation.Min(0)),
	)
}

// Debounce returns the reconcile debounce interval.
func (c *WatchConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// CacheConfig sizes the content cache.
type CacheConfig struct {
	Size int `yaml:"size" toml:"size"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Size, validation.Min(1)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode" toml:"mode"`
	Token string `yaml:"token" toml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Scan: ScanConfig{
			Directory:  "~/Notes",
			Extensions: []string{".md", ".taskpaper"},
		},
		Index: IndexConfig{
			Path:          "~/.librarian/index.json",
			Backend:       BackendJSON,
			LockTimeoutMS: 5000,
		},
		Tags: TagsConfig{
			Mode: scanner.ModeAll,
		},
		Watch: WatchConfig{
			Enabled:    true,
			DebounceMS: 500,
		},
		Cache: CacheConfig{
			Size: 10,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
