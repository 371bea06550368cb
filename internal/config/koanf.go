// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/drivebackup/config.yaml",
	"/etc/drivebackup/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Enabled:         true,
			Port:            8686,
			Host:            "0.0.0.0",
			Timeout:         30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Backup: BackupConfig{
			BaseDir:     "/var/www",
			LocalFolder: "backups",
			Title:       "Backup",
			Frequency:   "never",
			SourceList:  []string{"database", "content", "uploads", "plugins"},
			SourcePaths: map[string]string{
				"content": "wp-content",
				"uploads": "wp-content/uploads",
				"plugins": "wp-content/plugins",
				"site":    ".",
			},
			IncludeList: []string{},
			ExcludeList: []string{".svn", ".git", ".DS_Store"},
			LocalNumber: 10,
			DriveNumber: 10,
			MaxAttempts: 3,
			LockTTL:     30 * time.Minute,
			RetryDelay:  1 * time.Minute,
		},
		Dump: DumpConfig{
			Command: "",
			Args:    []string{},
			File:    "dump.sql",
		},
		Drive: DriveConfig{
			FolderID:          "",
			UploadURL:         "https://www.googleapis.com/upload/drive/v3/files",
			APIURL:            "https://www.googleapis.com/drive/v3",
			ChunkSizeMiB:      0.5,
			TimeLimit:         120 * time.Second,
			RequestTimeout:    60 * time.Second,
			MaxResumeAttempts: 5,
			MaxBytesPerSecond: 0, // unlimited
		},
		OAuth: OAuthConfig{
			AuthURL:   "https://accounts.google.com/o/oauth2/auth",
			TokenURL:  "https://oauth2.googleapis.com/token",
			RevokeURL: "https://oauth2.googleapis.com/revoke",
			Scopes:    []string{"https://www.googleapis.com/auth/drive.file"},
		},
		Security: SecurityConfig{
			TriggerTokenTTL:   8760 * time.Hour,
			CORSOrigins:       []string{},
			RateLimitReqs:     60,
			RateLimitWindow:   1 * time.Minute,
			RateLimitDisabled: false,
		},
		Notify: NotifyConfig{
			SMTPPort: 587,
			UseTLS:   true,
		},
		Store: StoreConfig{
			Path:       "",
			InMemory:   false,
			GCInterval: 10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Built-in defaults
//  2. Config file (CONFIG_PATH, or the first of DefaultConfigPaths that exists)
//  3. Environment variables
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file, or "" if none.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths are parsed as comma-separated slices.
var sliceConfigPaths = []string{
	"backup.source_list",
	"backup.include_list",
	"backup.exclude_list",
	"dump.args",
	"oauth.scopes",
	"security.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// Env vars arrive as strings while the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
// Unmapped variables are ignored so unrelated environment cannot pollute config.
var envMappings = map[string]string{
	// Server
	"api_enabled":           "server.enabled",
	"http_port":             "server.port",
	"http_host":             "server.host",
	"http_timeout":          "server.timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",

	// Backup
	"backup_base_dir":     "backup.base_dir",
	"backup_local_folder": "backup.local_folder",
	"backup_title":        "backup.title",
	"backup_frequency":    "backup.frequency",
	"backup_sources":      "backup.source_list",
	"backup_include":      "backup.include_list",
	"backup_exclude":      "backup.exclude_list",
	"backup_local_number": "backup.local_number",
	"backup_drive_number": "backup.drive_number",
	"backup_max_attempts": "backup.max_attempts",
	"backup_lock_ttl":     "backup.lock_ttl",
	"backup_retry_delay":  "backup.retry_delay",

	// Dump
	"dump_command": "dump.command",
	"dump_args":    "dump.args",
	"dump_file":    "dump.file",

	// Drive
	"drive_folder_id":            "drive.folder_id",
	"drive_upload_url":           "drive.upload_url",
	"drive_api_url":              "drive.api_url",
	"drive_chunk_size_mib":       "drive.chunk_size_mib",
	"drive_time_limit":           "drive.time_limit",
	"drive_request_timeout":      "drive.request_timeout",
	"drive_max_resume_attempts":  "drive.max_resume_attempts",
	"drive_max_bytes_per_second": "drive.max_bytes_per_second",

	// OAuth
	"oauth_client_id":     "oauth.client_id",
	"oauth_client_secret": "oauth.client_secret",
	"oauth_redirect_url":  "oauth.redirect_url",
	"oauth_auth_url":      "oauth.auth_url",
	"oauth_token_url":     "oauth.token_url",
	"oauth_revoke_url":    "oauth.revoke_url",
	"oauth_scopes":        "oauth.scopes",

	// Security
	"jwt_secret":          "security.jwt_secret",
	"trigger_token_ttl":   "security.trigger_token_ttl",
	"cors_origins":        "security.cors_origins",
	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",
	"authz_policy_path":   "security.policy_path",

	// Notifications
	"notify_email_enabled": "notify.email_enabled",
	"smtp_host":            "notify.smtp_host",
	"smtp_port":            "notify.smtp_port",
	"smtp_user":            "notify.smtp_user",
	"smtp_password":        "notify.smtp_password",
	"smtp_from":            "notify.smtp_from",
	"smtp_use_tls":         "notify.use_tls",
	"notify_email_to":      "notify.email_to",
	"notify_webhook_url":   "notify.webhook_url",

	// Store
	"store_path":        "store.path",
	"store_in_memory":   "store.in_memory",
	"store_gc_interval": "store.gc_interval",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - HTTP_PORT -> server.port
//   - BACKUP_SOURCES -> backup.source_list
//   - DRIVE_CHUNK_SIZE_MIB -> drive.chunk_size_mib
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
