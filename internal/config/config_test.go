package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var envKeys = []string{
	"CONFIG_FILE", "TELEGRAM_BOT_TOKEN", "OWNER_ID", "ALLOWED_USERS",
	"STORAGE_BACKEND", "DATABASE_PATH", "WORK_DIR",
	"CHECK_INTERVAL", "FETCH_TIMEOUT", "DOWNLOAD_TIMEOUT", "CONCURRENCY",
	"MAX_PAGE_SIZE", "MAX_FILE_SIZE", "USER_AGENT",
	"DOCUMENT_EXTS", "IMAGE_EXTS", "METRICS_ADDR",
	"LOG_LEVEL", "LOG_FORMAT", "LOG_FILE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unset %s: %v", key, err)
		}
	}
}

func defaults() *Config {
	return &Config{
		StorageBackend:  BackendSQLite,
		DatabasePath:    DefaultDatabasePath,
		WorkDir:         DefaultWorkDir,
		CheckInterval:   DefaultCheckInterval,
		FetchTimeout:    DefaultFetchTimeout,
		DownloadTimeout: DefaultDownloadTimeout,
		Concurrency:     DefaultConcurrency,
		MaxPageSize:     DefaultMaxPageSize,
		MaxFileSize:     DefaultMaxFileSize,
		UserAgent:       DefaultUserAgent,
		DocumentExts:    DefaultDocumentExts,
		ImageExts:       DefaultImageExts,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		want    func() *Config
		wantErr bool
	}{
		{
			name:    "missing token",
			env:     map[string]string{"OWNER_ID": "1"},
			wantErr: true,
		},
		{
			name:    "missing owner",
			env:     map[string]string{"TELEGRAM_BOT_TOKEN": "tok"},
			wantErr: true,
		},
		{
			name: "token and owner only, defaults applied",
			env:  map[string]string{"TELEGRAM_BOT_TOKEN": "test-token", "OWNER_ID": "42"},
			want: func() *Config {
				c := defaults()
				c.TelegramBotToken = "test-token"
				c.OwnerID = 42
				return c
			},
		},
		{
			name: "all values set",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"OWNER_ID":           "7",
				"ALLOWED_USERS":      "111,222,333",
				"STORAGE_BACKEND":    "json",
				"DATABASE_PATH":      "/tmp/bot.json",
				"WORK_DIR":           "/tmp/work",
				"CHECK_INTERVAL":     "5m",
				"FETCH_TIMEOUT":      "3s",
				"DOWNLOAD_TIMEOUT":   "1m",
				"CONCURRENCY":        "8",
				"MAX_PAGE_SIZE":      "1024",
				"MAX_FILE_SIZE":      "2048",
				"USER_AGENT":         "test/1.0",
				"DOCUMENT_EXTS":      ".PDF,.txt",
				"IMAGE_EXTS":         ".png",
				"METRICS_ADDR":       "127.0.0.1:9090",
				"LOG_LEVEL":          "DEBUG",
				"LOG_FORMAT":         "json",
				"LOG_FILE":           "/tmp/bot.log",
			},
			want: func() *Config {
				return &Config{
					TelegramBotToken: "tok",
					OwnerID:          7,
					AllowedUsers:     IDList{111, 222, 333},
					StorageBackend:   BackendJSON,
					DatabasePath:     "/tmp/bot.json",
					WorkDir:          "/tmp/work",
					CheckInterval:    5 * time.Minute,
					FetchTimeout:     3 * time.Second,
					DownloadTimeout:  time.Minute,
					Concurrency:      8,
					MaxPageSize:      1024,
					MaxFileSize:      2048,
					UserAgent:        "test/1.0",
					DocumentExts:     []string{".pdf", ".txt"},
					ImageExts:        []string{".png"},
					MetricsAddr:      "127.0.0.1:9090",
					LogLevel:         "debug",
					LogFormat:        "json",
					LogFile:          "/tmp/bot.log",
				}
			},
		},
		{
			name: "allowed users with spaces",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"OWNER_ID":           "1",
				"ALLOWED_USERS":      " 10 , 20 , ",
			},
			want: func() *Config {
				c := defaults()
				c.TelegramBotToken = "tok"
				c.OwnerID = 1
				c.AllowedUsers = IDList{10, 20}
				return c
			},
		},
		{
			name: "invalid user id",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"OWNER_ID":           "1",
				"ALLOWED_USERS":      "123,abc",
			},
			wantErr: true,
		},
		{
			name: "unknown backend",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"OWNER_ID":           "1",
				"STORAGE_BACKEND":    "redis",
			},
			wantErr: true,
		},
		{
			name: "extension without dot",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"OWNER_ID":           "1",
				"IMAGE_EXTS":         "png",
			},
			wantErr: true,
		},
		{
			name: "bad interval",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"OWNER_ID":           "1",
				"CHECK_INTERVAL":     "soon",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got, err := Load()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want(), got); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `telegram_bot_token: from-file
owner_id: 5
allowed_users: [1, 2]
check_interval: 10m
concurrency: 2
log_level: warn
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("CONCURRENCY", "6")

	got, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := defaults()
	want.TelegramBotToken = "from-file"
	want.OwnerID = 5
	want.AllowedUsers = IDList{1, 2}
	want.CheckInterval = 10 * time.Minute
	want.Concurrency = 6
	want.LogLevel = "warn"

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestIsUserAllowed(t *testing.T) {
	tests := []struct {
		name         string
		allowedUsers IDList
		userID       int64
		want         bool
	}{
		{
			name:   "owner always allowed",
			userID: 1,
			want:   true,
		},
		{
			name:   "empty list denies strangers",
			userID: 42,
			want:   false,
		},
		{
			name:         "user in list",
			allowedUsers: IDList{10, 20, 30},
			userID:       20,
			want:         true,
		},
		{
			name:         "user not in list",
			allowedUsers: IDList{10, 20, 30},
			userID:       99,
			want:         false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{OwnerID: 1, AllowedUsers: tt.allowedUsers}
			got := cfg.IsUserAllowed(tt.userID)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("IsUserAllowed() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
