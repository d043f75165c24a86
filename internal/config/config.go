// Package config provides configuration management for the InstaSplit agent.
// Settings come from environment variables with sensible defaults; split,
// scoring, render and export tuning can additionally be loaded from a YAML
// presets file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// Default values
	DefaultPort     = 8797
	DefaultLogLevel = "info"
	DefaultDataDir  = ".instasplit"

	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	DefaultOracleModel   = "gemini-2.5-flash"
	DefaultImageModel    = "gemini-2.5-flash-image"
	DefaultVideoModel    = "veo-3.1-fast-generate-preview"

	// Environment variable names
	EnvPort          = "INSTASPLIT_PORT"
	EnvLogLevel      = "INSTASPLIT_LOG_LEVEL"
	EnvDataDir       = "INSTASPLIT_DATA_DIR"
	EnvHeadless      = "INSTASPLIT_HEADLESS"
	EnvPrivileged    = "INSTASPLIT_PRIVILEGED"
	EnvConfigFile    = "INSTASPLIT_CONFIG"
	EnvGeminiAPIKey  = "INSTASPLIT_GEMINI_API_KEY"
	EnvGeminiBaseURL = "INSTASPLIT_GEMINI_BASE_URL"
	EnvOracleModel   = "INSTASPLIT_ORACLE_MODEL"
	EnvImageModel    = "INSTASPLIT_IMAGE_MODEL"
	EnvVideoModel    = "INSTASPLIT_VIDEO_MODEL"

	// FallbackAPIKeyEnv is read when EnvGeminiAPIKey is unset.
	FallbackAPIKeyEnv = "GEMINI_API_KEY"

	// PresetsFilename is looked up in the data dir and the working dir.
	PresetsFilename = "instasplit.yaml"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	CacheDir() string
	Headless() bool
	Privileged() bool
	GeminiAPIKey() string
	GeminiBaseURL() string
	OracleModel() string
	ImageModel() string
	VideoModel() string
	Presets() Presets
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port       int
	logLevel   string
	dataDir    string
	headless   bool
	privileged bool

	geminiAPIKey  string
	geminiBaseURL string
	oracleModel   string
	imageModel    string
	videoModel    string

	presets     Presets
	presetsPath string
}

// New creates a new EnvConfig with defaults, environment overrides and, if
// one is found, the presets file.
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:          DefaultPort,
		logLevel:      DefaultLogLevel,
		dataDir:       defaultDataDir(),
		geminiBaseURL: DefaultGeminiBaseURL,
		oracleModel:   DefaultOracleModel,
		imageModel:    DefaultImageModel,
		videoModel:    DefaultVideoModel,
		presets:       DefaultPresets(),
	}

	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	var err error
	if cfg.headless, err = envBool(EnvHeadless); err != nil {
		return nil, err
	}
	if cfg.privileged, err = envBool(EnvPrivileged); err != nil {
		return nil, err
	}

	cfg.geminiAPIKey = os.Getenv(EnvGeminiAPIKey)
	if cfg.geminiAPIKey == "" {
		cfg.geminiAPIKey = os.Getenv(FallbackAPIKeyEnv)
	}
	if u := os.Getenv(EnvGeminiBaseURL); u != "" {
		cfg.geminiBaseURL = strings.TrimRight(u, "/")
	}
	if m := os.Getenv(EnvOracleModel); m != "" {
		cfg.oracleModel = m
	}
	if m := os.Getenv(EnvImageModel); m != "" {
		cfg.imageModel = m
	}
	if m := os.Getenv(EnvVideoModel); m != "" {
		cfg.videoModel = m
	}

	path := os.Getenv(EnvConfigFile)
	if path == "" {
		path = findPresetsFile(cfg.dataDir)
	}
	if path != "" {
		presets, err := LoadPresets(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load presets %s: %w", path, err)
		}
		cfg.presets = presets
		cfg.presetsPath = path
	}

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// CacheDir returns the directory rendered clips are written to
func (c *EnvConfig) CacheDir() string {
	return filepath.Join(c.dataDir, "clips")
}

// Headless disables the system tray
func (c *EnvConfig) Headless() bool {
	return c.headless
}

// Privileged raises the per-analysis segment cap
func (c *EnvConfig) Privileged() bool {
	return c.privileged
}

func (c *EnvConfig) GeminiAPIKey() string {
	return c.geminiAPIKey
}

func (c *EnvConfig) GeminiBaseURL() string {
	return c.geminiBaseURL
}

func (c *EnvConfig) OracleModel() string {
	return c.oracleModel
}

func (c *EnvConfig) ImageModel() string {
	return c.imageModel
}

func (c *EnvConfig) VideoModel() string {
	return c.videoModel
}

func (c *EnvConfig) Presets() Presets {
	return c.presets
}

// PresetsPath returns the presets file that was loaded, if any.
func (c *EnvConfig) PresetsPath() string {
	return c.presetsPath
}

func envBool(name string) (bool, error) {
	v := os.Getenv(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", name, err)
	}
	return b, nil
}

func findPresetsFile(dataDir string) string {
	for _, p := range []string{filepath.Join(dataDir, PresetsFilename), PresetsFilename} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

