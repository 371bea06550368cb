// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

package config

import (
	"path/filepath"
	"time"
)

// Config holds all application configuration loaded from defaults, an optional
// YAML file and environment variables (in that order of precedence, lowest first).
//
// Config is immutable after Load() and safe for concurrent read access.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Backup   BackupConfig   `koanf:"backup"`
	Dump     DumpConfig     `koanf:"dump"`
	Drive    DriveConfig    `koanf:"drive"`
	OAuth    OAuthConfig    `koanf:"oauth"`
	Security SecurityConfig `koanf:"security"`
	Notify   NotifyConfig   `koanf:"notify"`
	Store    StoreConfig    `koanf:"store"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	Host            string        `koanf:"host"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// BackupConfig describes what gets archived, where archives are kept and how
// job retries behave.
//
// Environment Variables:
//   - BACKUP_BASE_DIR: root that relative source, include and exclude paths resolve against
//   - BACKUP_SOURCES: comma-separated named sources (database, content, uploads, plugins, site)
//   - BACKUP_FREQUENCY: never, hourly, daily, weekly, monthly
//   - BACKUP_LOCAL_NUMBER / BACKUP_DRIVE_NUMBER: retention counts
type BackupConfig struct {
	BaseDir     string            `koanf:"base_dir" validate:"required"`
	LocalFolder string            `koanf:"local_folder" validate:"required"`
	Title       string            `koanf:"title" validate:"required,max=100"`
	Frequency   string            `koanf:"frequency" validate:"oneof=never hourly daily weekly monthly"`
	SourceList  []string          `koanf:"source_list"`
	SourcePaths map[string]string `koanf:"source_paths"`
	IncludeList []string          `koanf:"include_list"`
	ExcludeList []string          `koanf:"exclude_list"`
	LocalNumber int               `koanf:"local_number" validate:"min=0"`
	DriveNumber int               `koanf:"drive_number" validate:"min=0"`
	MaxAttempts int               `koanf:"max_attempts" validate:"min=1"`
	LockTTL     time.Duration     `koanf:"lock_ttl"`
	RetryDelay  time.Duration     `koanf:"retry_delay"`
}

// DumpConfig configures the external database dump command.
// An empty Command disables the dump even when "database" is a selected source.
type DumpConfig struct {
	Command string   `koanf:"command"`
	Args    []string `koanf:"args"`
	File    string   `koanf:"file"`
}

// DriveConfig configures the resumable upload client.
type DriveConfig struct {
	FolderID          string        `koanf:"folder_id"`
	UploadURL         string        `koanf:"upload_url" validate:"required,url"`
	APIURL            string        `koanf:"api_url" validate:"required,url"`
	ChunkSizeMiB      float64       `koanf:"chunk_size_mib" validate:"halfmib"`
	TimeLimit         time.Duration `koanf:"time_limit"`
	RequestTimeout    time.Duration `koanf:"request_timeout"`
	MaxResumeAttempts int           `koanf:"max_resume_attempts" validate:"min=1"`
	MaxBytesPerSecond int64         `koanf:"max_bytes_per_second" validate:"min=0"`
}

// ChunkSizeBytes returns the upload chunk size in bytes.
func (d DriveConfig) ChunkSizeBytes() int64 {
	return int64(d.ChunkSizeMiB * 1024 * 1024)
}

// OAuthConfig holds the authorization-code client registration.
type OAuthConfig struct {
	ClientID     string   `koanf:"client_id"`
	ClientSecret string   `koanf:"client_secret"`
	RedirectURL  string   `koanf:"redirect_url"`
	AuthURL      string   `koanf:"auth_url"`
	TokenURL     string   `koanf:"token_url"`
	RevokeURL    string   `koanf:"revoke_url"`
	Scopes       []string `koanf:"scopes"`
}

// SecurityConfig holds trigger authentication and HTTP hardening settings.
type SecurityConfig struct {
	JWTSecret         string        `koanf:"jwt_secret"`
	TriggerTokenTTL   time.Duration `koanf:"trigger_token_ttl"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	PolicyPath        string        `koanf:"policy_path"`
}

// NotifyConfig configures terminal failure notifications.
type NotifyConfig struct {
	EmailEnabled bool   `koanf:"email_enabled"`
	SMTPHost     string `koanf:"smtp_host"`
	SMTPPort     int    `koanf:"smtp_port"`
	SMTPUser     string `koanf:"smtp_user"`
	SMTPPassword string `koanf:"smtp_password"`
	SMTPFrom     string `koanf:"smtp_from"`
	EmailTo      string `koanf:"email_to" validate:"omitempty,email"`
	UseTLS       bool   `koanf:"use_tls"`
	WebhookURL   string `koanf:"webhook_url" validate:"omitempty,url"`
}

// StoreConfig configures the settings store.
type StoreConfig struct {
	Path       string        `koanf:"path"`
	InMemory   bool          `koanf:"in_memory"`
	GCInterval time.Duration `koanf:"gc_interval"`
}

// LoggingConfig holds logging configuration.
//
// Environment Variables:
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: json, console (default: json)
//   - LOG_CALLER: true/false - include caller file:line (default: false)
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// LocalDir is the absolute directory holding local archives.
// It doubles as the private directory that is never archived.
func (c *Config) LocalDir() string {
	return resolveAgainst(c.Backup.BaseDir, c.Backup.LocalFolder)
}

// StorePath is the badger directory for the settings store.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return resolveAgainst(c.Backup.BaseDir, c.Store.Path)
	}
	return filepath.Join(c.LocalDir(), ".state")
}

// DumpPath is where the database dump is written before archiving.
func (c *Config) DumpPath() string {
	return resolveAgainst(c.LocalDir(), c.Dump.File)
}

// LogDir is where per-job log files are written.
func (c *Config) LogDir() string {
	return filepath.Join(c.LocalDir(), "logs")
}

func resolveAgainst(base, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, p)
}

// Load reads configuration from defaults, an optional config file and the
// environment, then validates it.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
