// Package config provides configuration management for sugar using Viper for
// loading from files, environment variables and command-line flags.
//
// Settings come from .sugar.yml (or the file named by --config or
// SUGAR_CONFIG_FILE), SUGAR_ prefixed environment variables and bound flags.
// Load applies defaults and validates the result.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Template TemplateConfig `mapstructure:"template"`
	Log      LogConfig      `mapstructure:"log"`
	Watch    WatchConfig    `mapstructure:"watch"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	Host           string   `mapstructure:"host"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	LiveReload     bool     `mapstructure:"live_reload"`
}

// TemplateConfig drives request to template resolution.
type TemplateConfig struct {
	Root           string                 `mapstructure:"root"`
	ProjectGroup   bool                   `mapstructure:"project_group"`
	ConfigFilename string                 `mapstructure:"config_filename"`
	Ext            string                 `mapstructure:"ext"`
	Locals         map[string]interface{} `mapstructure:"locals"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Patterns []string      `mapstructure:"patterns"`
	Ignore   []string      `mapstructure:"ignore"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// SetDefaults registers default values on the global viper instance.
func SetDefaults() {
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 3000)
	viper.SetDefault("server.live_reload", false)

	viper.SetDefault("template.root", "src")
	viper.SetDefault("template.project_group", false)
	viper.SetDefault("template.config_filename", "config")
	viper.SetDefault("template.ext", ".html")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	viper.SetDefault("watch.enabled", false)
	viper.SetDefault("watch.patterns", []string{"**/*.html", "**/*.yml", "**/*.yaml", "**/*.json", "**/*.js"})
	viper.SetDefault("watch.ignore", []string{"**/node_modules/**", "**/.git/**"})
	viper.SetDefault("watch.debounce", 100*time.Millisecond)
}

func Load() (*Config, error) {
	SetDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.Template.Locals == nil {
		config.Template.Locals = make(map[string]interface{})
	}
	if config.Template.Ext != "" && !strings.HasPrefix(config.Template.Ext, ".") {
		config.Template.Ext = "." + config.Template.Ext
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validateTemplateConfig(&config.Template); err != nil {
		return fmt.Errorf("template config: %w", err)
	}

	if err := validateLogConfig(&config.Log); err != nil {
		return fmt.Errorf("log config: %w", err)
	}

	if err := validateWatchConfig(&config.Watch); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}

	return nil
}

func validateServerConfig(config *ServerConfig) error {
	// 0 lets the system pick a port in tests
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return fmt.Errorf("host contains dangerous character: %s", char)
			}
		}
	}

	return nil
}

func validateTemplateConfig(config *TemplateConfig) error {
	if strings.TrimSpace(config.Root) == "" {
		return fmt.Errorf("root cannot be empty")
	}

	if config.ConfigFilename == "" {
		return fmt.Errorf("config_filename cannot be empty")
	}
	if strings.ContainsAny(config.ConfigFilename, `/\`) || filepath.Ext(config.ConfigFilename) != "" {
		return fmt.Errorf("config_filename must be a base name without extension: %s", config.ConfigFilename)
	}

	if len(config.Ext) < 2 || strings.ContainsAny(config.Ext[1:], `./\`) {
		return fmt.Errorf("ext must look like .html: %q", config.Ext)
	}

	return nil
}

func validateLogConfig(config *LogConfig) error {
	switch strings.ToLower(config.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown level %q", config.Level)
	}

	switch config.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown format %q (supported: text, json)", config.Format)
	}

	return nil
}

func validateWatchConfig(config *WatchConfig) error {
	for _, pattern := range append(append([]string{}, config.Patterns...), config.Ignore...) {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid glob pattern: %s", pattern)
		}
	}

	if config.Debounce < 0 {
		return fmt.Errorf("debounce cannot be negative")
	}

	return nil
}
