// Package config handles application configuration from environment variables
// and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendJSON   = "json"
)

// Defaults applied when neither the environment nor the config file sets a value.
const (
	DefaultDatabasePath    = "./data/bot.db"
	DefaultWorkDir         = "./data/tmp"
	DefaultCheckInterval   = 30 * time.Minute
	DefaultFetchTimeout    = 15 * time.Second
	DefaultDownloadTimeout = 2 * time.Minute
	DefaultConcurrency     = 4
	DefaultMaxPageSize     = 10 << 20
	DefaultMaxFileSize     = 45 << 20
	DefaultUserAgent       = "SiteTrackerBot/1.0"
)

// Default extension sets for resource classification.
var (
	DefaultDocumentExts = []string{".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".txt"}
	DefaultImageExts    = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp"}
)

// IDList is a comma separated list of chat or user IDs.
type IDList []int64

// Decode implements envconfig.Decoder. Blank entries and surrounding spaces are ignored.
func (l *IDList) Decode(value string) error {
	var ids IDList
	for _, s := range strings.Split(value, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user ID %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	*l = ids
	return nil
}

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN" yaml:"telegram_bot_token" validate:"required"`
	OwnerID          int64  `envconfig:"OWNER_ID" yaml:"owner_id" validate:"gt=0"`
	AllowedUsers     IDList `envconfig:"ALLOWED_USERS" yaml:"allowed_users"`

	StorageBackend string `envconfig:"STORAGE_BACKEND" yaml:"storage_backend" validate:"oneof=sqlite json"`
	DatabasePath   string `envconfig:"DATABASE_PATH" yaml:"database_path" validate:"required"`
	WorkDir        string `envconfig:"WORK_DIR" yaml:"work_dir" validate:"required"`

	CheckInterval   time.Duration `envconfig:"CHECK_INTERVAL" yaml:"check_interval" validate:"gt=0"`
	FetchTimeout    time.Duration `envconfig:"FETCH_TIMEOUT" yaml:"fetch_timeout" validate:"gt=0"`
	DownloadTimeout time.Duration `envconfig:"DOWNLOAD_TIMEOUT" yaml:"download_timeout" validate:"gt=0"`
	Concurrency     int           `envconfig:"CONCURRENCY" yaml:"concurrency" validate:"min=1,max=64"`
	MaxPageSize     int64         `envconfig:"MAX_PAGE_SIZE" yaml:"max_page_size" validate:"gt=0"`
	MaxFileSize     int64         `envconfig:"MAX_FILE_SIZE" yaml:"max_file_size" validate:"gt=0"`
	UserAgent       string        `envconfig:"USER_AGENT" yaml:"user_agent"`

	DocumentExts []string `envconfig:"DOCUMENT_EXTS" yaml:"document_exts" validate:"dive,startswith=."`
	ImageExts    []string `envconfig:"IMAGE_EXTS" yaml:"image_exts" validate:"dive,startswith=."`

	MetricsAddr string `envconfig:"METRICS_ADDR" yaml:"metrics_addr" validate:"omitempty,hostname_port"`

	LogLevel  string `envconfig:"LOG_LEVEL" yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `envconfig:"LOG_FORMAT" yaml:"log_format" validate:"oneof=text json"`
	LogFile   string `envconfig:"LOG_FILE" yaml:"log_file"`
}

// Load reads configuration from the YAML file named by CONFIG_FILE (if any),
// then overrides it with environment variables and applies defaults.
func Load() (*Config, error) {
	var cfg Config

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.StorageBackend == "" {
		c.StorageBackend = BackendSQLite
	}
	if c.DatabasePath == "" {
		c.DatabasePath = DefaultDatabasePath
	}
	if c.WorkDir == "" {
		c.WorkDir = DefaultWorkDir
	}
	if c.CheckInterval == 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.DownloadTimeout == 0 {
		c.DownloadTimeout = DefaultDownloadTimeout
	}
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.MaxPageSize == 0 {
		c.MaxPageSize = DefaultMaxPageSize
	}
	if c.MaxFileSize == 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if len(c.DocumentExts) == 0 {
		c.DocumentExts = slices.Clone(DefaultDocumentExts)
	}
	if len(c.ImageExts) == 0 {
		c.ImageExts = slices.Clone(DefaultImageExts)
	}
	for i, e := range c.DocumentExts {
		c.DocumentExts[i] = strings.ToLower(strings.TrimSpace(e))
	}
	for i, e := range c.ImageExts {
		c.ImageExts[i] = strings.ToLower(strings.TrimSpace(e))
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.LogLevel = strings.ToLower(c.LogLevel)
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// Validate checks the configuration against its struct constraints.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("invalid config: %s fails %q", fe.Namespace(), fe.Tag())
	}
	return fmt.Errorf("invalid config: %w", err)
}

// IsUserAllowed reports whether a user is statically authorized: the owner or a
// member of AllowedUsers. Sudo users added at runtime live in storage.
func (c *Config) IsUserAllowed(userID int64) bool {
	if userID == c.OwnerID {
		return true
	}
	return slices.Contains(c.AllowedUsers, userID)
}
