// Package config handles configuration loading from CLI flags, environment variables, and TOML files.
package config

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
)

// Config holds all configuration settings for the hot swap service and its demo surfaces.
type Config struct {
	HotSwap HotSwapConfig `toml:"hotswap"`
	Watch   WatchConfig   `toml:"watch"`
	Server  ServerConfig  `toml:"server"`
	MCP     MCPConfig     `toml:"mcp"`
	Logging LoggingConfig `toml:"logging"`

	logMu  sync.Mutex
	logger *log.Logger
}

// HotSwapConfig holds reload orchestration settings.
type HotSwapConfig struct {
	Enabled           bool     `toml:"enabled"`
	Roots             []string `toml:"roots"`              // Directories holding compiled units
	Suffix            string   `toml:"suffix"`             // Compiled unit file suffix
	ReloadDelay       Duration `toml:"reload_delay"`       // Stabilization delay before swapping
	Stabilize         string   `toml:"stabilize"`          // "delay" or "checksum"
	StabilizeAttempts int      `toml:"stabilize_attempts"` // Redefinitions allowed in checksum mode
	CheckDebugger     bool     `toml:"check_debugger"`     // Warn on start when no debugger is attached
}

// WatchConfig holds filesystem watcher settings.
type WatchConfig struct {
	Debounce Duration `toml:"debounce"` // 0 disables debouncing
}

// ServerConfig holds the live view server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// MCPConfig holds MCP tool server settings.
type MCPConfig struct {
	Enabled bool `toml:"enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Verbosity int `toml:"verbosity"` // 0=errors, 1=lifecycle, 2=reloads, 3=trace
}

// Stabilization modes.
const (
	StabilizeDelay    = "delay"
	StabilizeChecksum = "checksum"
)

// Duration is a time.Duration that can be unmarshaled from TOML strings.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// DefaultConfig returns a Config with all default values.
func DefaultConfig() *Config {
	return &Config{
		HotSwap: HotSwapConfig{
			Enabled:           false,
			Roots:             []string{"out"},
			Suffix:            ".lua",
			ReloadDelay:       Duration(200 * time.Millisecond),
			Stabilize:         StabilizeDelay,
			StabilizeAttempts: 3,
		},
		Watch: WatchConfig{
			Debounce: Duration(50 * time.Millisecond),
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Logging: LoggingConfig{
			Verbosity: 0,
		},
	}
}

// Bind registers the configuration flags on fs.
// Only flags the user actually sets override the TOML and environment layers.
func Bind(fs *pflag.FlagSet) {
	fs.String("config", "hotswap.toml", "TOML configuration file")
	fs.Bool("enabled", false, "Enable hot swapping")
	fs.StringArray("root", nil, "Compiled unit directory to watch (repeatable)")
	fs.String("suffix", "", "Compiled unit file suffix")
	fs.Duration("reload-delay", 0, "Stabilization delay before swapping")
	fs.String("stabilize", "", "Stabilization mode: delay, checksum")
	fs.Duration("debounce", 0, "Watcher debounce window (0 disables)")
	fs.String("host", "", "Live view listen address")
	fs.Int("port", 0, "Live view listen port")
	fs.Bool("mcp", false, "Serve MCP tools on stdio")
	fs.CountP("verbose", "v", "Verbosity level (use -v, -vv, or -vvv)")
}

// Load loads configuration from flags, environment variables, and the TOML file.
// Priority: flags > env vars > TOML file > defaults
func Load(fs *pflag.FlagSet) (*Config, error) {
	cfg := DefaultConfig()

	configPath := "hotswap.toml"
	if fs != nil {
		if v, err := fs.GetString("config"); err == nil && v != "" {
			configPath = v
		}
	}
	if err := cfg.loadTOML(configPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load %s: %w", configPath, err)
	}

	cfg.applyEnv()

	if fs != nil {
		if err := cfg.applyFlags(fs); err != nil {
			return nil, err
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadTOML loads configuration from a TOML file.
func (c *Config) loadTOML(path string) error {
	_, err := toml.DecodeFile(path, c)
	return err
}

// applyEnv applies environment variable overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("HOTSWAP"); v != "" {
		c.HotSwap.Enabled = parseBool(v)
	}
	if v := os.Getenv("HOTSWAP_ROOTS"); v != "" {
		c.HotSwap.Roots = filepath.SplitList(v)
	}
	if v := os.Getenv("HOTSWAP_SUFFIX"); v != "" {
		c.HotSwap.Suffix = v
	}
	if v := os.Getenv("HOTSWAP_RELOAD_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.HotSwap.ReloadDelay = Duration(d)
		}
	}
	if v := os.Getenv("HOTSWAP_STABILIZE"); v != "" {
		c.HotSwap.Stabilize = v
	}
	if v := os.Getenv("HOTSWAP_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Watch.Debounce = Duration(d)
		}
	}
	if v := os.Getenv("HOTSWAP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("HOTSWAP_MCP"); v != "" {
		c.MCP.Enabled = parseBool(v)
	}
	if v := os.Getenv("HOTSWAP_VERBOSITY"); v != "" {
		if verbosity, err := strconv.Atoi(v); err == nil {
			c.Logging.Verbosity = verbosity
		}
	}
}

func (c *Config) applyFlags(fs *pflag.FlagSet) error {
	var err error
	changed := func(name string) bool {
		f := fs.Lookup(name)
		return err == nil && f != nil && f.Changed
	}
	if changed("enabled") {
		c.HotSwap.Enabled, err = fs.GetBool("enabled")
	}
	if changed("root") {
		c.HotSwap.Roots, err = fs.GetStringArray("root")
	}
	if changed("suffix") {
		c.HotSwap.Suffix, err = fs.GetString("suffix")
	}
	if changed("reload-delay") {
		var d time.Duration
		d, err = fs.GetDuration("reload-delay")
		c.HotSwap.ReloadDelay = Duration(d)
	}
	if changed("stabilize") {
		c.HotSwap.Stabilize, err = fs.GetString("stabilize")
	}
	if changed("debounce") {
		var d time.Duration
		d, err = fs.GetDuration("debounce")
		c.Watch.Debounce = Duration(d)
	}
	if changed("host") {
		c.Server.Host, err = fs.GetString("host")
	}
	if changed("port") {
		c.Server.Port, err = fs.GetInt("port")
	}
	if changed("mcp") {
		c.MCP.Enabled, err = fs.GetBool("mcp")
	}
	if changed("verbose") {
		c.Logging.Verbosity, err = fs.GetCount("verbose")
	}
	if err != nil {
		return fmt.Errorf("read flags: %w", err)
	}
	return nil
}

func (c *Config) validate() error {
	switch c.HotSwap.Stabilize {
	case StabilizeDelay, StabilizeChecksum:
	default:
		return fmt.Errorf("unknown stabilize mode %q", c.HotSwap.Stabilize)
	}
	if !strings.HasPrefix(c.HotSwap.Suffix, ".") {
		return fmt.Errorf("unit suffix %q must start with a dot", c.HotSwap.Suffix)
	}
	return nil
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// Verbosity returns the configured verbosity level (0-3).
func (c *Config) Verbosity() int {
	return c.Logging.Verbosity
}

// SetLogOutput redirects log output. The MCP stdio mode uses it to keep stdout clean.
func (c *Config) SetLogOutput(w io.Writer) {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	c.logger = log.New(w, "", log.LstdFlags)
}

// Log prints a message when level is at or below the configured verbosity.
// Level 0 messages (errors and warnings) are always printed.
func (c *Config) Log(level int, format string, args ...interface{}) {
	if level > c.Logging.Verbosity {
		return
	}
	c.logMu.Lock()
	if c.logger == nil {
		c.logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	logger := c.logger
	c.logMu.Unlock()
	logger.Printf(format, args...)
}
