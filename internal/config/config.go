package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. PIXEON_API_BASE_URL
const EnvPrefix = "PIXEON"

// Config holds the application configuration
type Config struct {
	API     APIConfig     `json:"api" mapstructure:"api"`
	Session SessionConfig `json:"session" mapstructure:"session"`
	Render  RenderConfig  `json:"render" mapstructure:"render"`
	Upload  UploadConfig  `json:"upload" mapstructure:"upload"`
	Log     LogConfig     `json:"log" mapstructure:"log"`
}

// APIConfig locates the backend
type APIConfig struct {
	BaseURL string        `json:"base_url" mapstructure:"base_url"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// SessionConfig holds credential storage and screen settings
type SessionConfig struct {
	// TokenFile is where the bearer token is kept; empty means the default path
	TokenFile string `json:"token_file" mapstructure:"token_file"`
	// PublicScreens are screens on which a 401 does not end the session
	PublicScreens []string `json:"public_screens" mapstructure:"public_screens"`
}

// RenderConfig holds overlay output settings
type RenderConfig struct {
	MaxWidth  int    `json:"max_width" mapstructure:"max_width"`
	Format    string `json:"format" mapstructure:"format"`
	Quality   int    `json:"quality" mapstructure:"quality"`
	Lossless  bool   `json:"lossless" mapstructure:"lossless"`
	OutputDir string `json:"output_dir" mapstructure:"output_dir"`
	Suffix    string `json:"suffix" mapstructure:"suffix"`
}

// UploadConfig holds the checks run before an image is uploaded
type UploadConfig struct {
	MaxSizeMB    int      `json:"max_size_mb" mapstructure:"max_size_mb"`
	AllowedTypes []string `json:"allowed_types" mapstructure:"allowed_types"`
}

// LogConfig selects the zap configuration
type LogConfig struct {
	Mode  string `json:"mode" mapstructure:"mode"`
	Level string `json:"level" mapstructure:"level"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:8000",
		},
		Session: SessionConfig{
			PublicScreens: []string{"/login", "/register"},
		},
		Render: RenderConfig{
			MaxWidth:  800,
			Format:    "jpg",
			Quality:   90,
			Lossless:  false,
			OutputDir: "./output",
			Suffix:    "_detections",
		},
		Upload: UploadConfig{
			MaxSizeMB:    10,
			AllowedTypes: []string{"image/jpeg", "image/png"},
		},
		Log: LogConfig{
			Mode:  "release",
			Level: "warn",
		},
	}
}

// Load reads configuration from defaults, an optional .env file, the JSON
// file at path and PIXEON_* environment variables, in increasing priority.
// An empty path means GetConfigPath, which may be missing.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	required := path != ""
	if !required {
		path = GetConfigPath()
	}

	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		if required || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromFile loads configuration from a JSON file that must exist
func LoadFromFile(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("failed to read config file: empty path")
	}
	return Load(filename)
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.timeout", d.API.Timeout)

	v.SetDefault("session.token_file", d.Session.TokenFile)
	v.SetDefault("session.public_screens", d.Session.PublicScreens)

	v.SetDefault("render.max_width", d.Render.MaxWidth)
	v.SetDefault("render.format", d.Render.Format)
	v.SetDefault("render.quality", d.Render.Quality)
	v.SetDefault("render.lossless", d.Render.Lossless)
	v.SetDefault("render.output_dir", d.Render.OutputDir)
	v.SetDefault("render.suffix", d.Render.Suffix)

	v.SetDefault("upload.max_size_mb", d.Upload.MaxSizeMB)
	v.SetDefault("upload.allowed_types", d.Upload.AllowedTypes)

	v.SetDefault("log.mode", d.Log.Mode)
	v.SetDefault("log.level", d.Log.Level)
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute http(s) URL, got %q", c.API.BaseURL)
	}

	if c.API.Timeout < 0 {
		return fmt.Errorf("api.timeout cannot be negative")
	}

	if c.Render.MaxWidth < 1 {
		return fmt.Errorf("render.max_width must be positive")
	}

	if c.Render.Quality < 1 || c.Render.Quality > 100 {
		return fmt.Errorf("render.quality must be between 1 and 100")
	}

	switch strings.ToLower(c.Render.Format) {
	case "jpg", "jpeg", "png", "webp":
	default:
		return fmt.Errorf("render.format must be one of jpg, png, webp")
	}

	if c.Upload.MaxSizeMB < 1 {
		return fmt.Errorf("upload.max_size_mb must be positive")
	}

	if len(c.Upload.AllowedTypes) == 0 {
		return fmt.Errorf("upload.allowed_types cannot be empty")
	}

	if c.Log.Mode != "debug" && c.Log.Mode != "release" {
		return fmt.Errorf("log.mode must be debug or release")
	}

	return nil
}

// MaxUploadBytes returns the upload limit in bytes
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Upload.MaxSizeMB) << 20
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "pixeon", "config.json")
}
