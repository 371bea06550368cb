// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/drivebackup/internal/validation"
)

// MinTimeLimit is the smallest accepted upload time budget.
const MinTimeLimit = 5 * time.Second

// MinJWTSecretLength is the minimum trigger secret length when the API is enabled.
const MinJWTSecretLength = 32

// Validate checks that the configuration is complete and consistent.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}

	if err := c.validateBackup(); err != nil {
		return err
	}

	if err := c.validateDrive(); err != nil {
		return err
	}

	if err := c.validateSecurity(); err != nil {
		return err
	}

	if err := c.validateNotify(); err != nil {
		return err
	}

	return c.validateLogging()
}

func (c *Config) validateBackup() error {
	if c.Backup.LocalNumber == 0 && c.Backup.DriveNumber == 0 {
		return fmt.Errorf("BACKUP_LOCAL_NUMBER and BACKUP_DRIVE_NUMBER cannot both be 0")
	}

	for _, name := range c.Backup.SourceList {
		if name == "database" {
			continue
		}
		if _, ok := c.Backup.SourcePaths[name]; !ok {
			return fmt.Errorf("backup source %q has no entry in backup.source_paths", name)
		}
	}

	if c.Backup.LockTTL <= 0 {
		return fmt.Errorf("BACKUP_LOCK_TTL must be positive, got %s", c.Backup.LockTTL)
	}
	if c.Backup.RetryDelay < 0 {
		return fmt.Errorf("BACKUP_RETRY_DELAY cannot be negative, got %s", c.Backup.RetryDelay)
	}
	return nil
}

func (c *Config) validateDrive() error {
	if c.Drive.TimeLimit < MinTimeLimit {
		return fmt.Errorf("DRIVE_TIME_LIMIT must be at least %s, got %s", MinTimeLimit, c.Drive.TimeLimit)
	}
	if c.Drive.RequestTimeout <= 0 {
		return fmt.Errorf("DRIVE_REQUEST_TIMEOUT must be positive, got %s", c.Drive.RequestTimeout)
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if !c.Server.Enabled {
		return nil
	}

	if len(c.Security.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters when the API is enabled", MinJWTSecretLength)
	}

	if !c.Security.RateLimitDisabled {
		if c.Security.RateLimitReqs <= 0 {
			return fmt.Errorf("RATE_LIMIT_REQUESTS must be positive, got %d", c.Security.RateLimitReqs)
		}
		if c.Security.RateLimitWindow <= 0 {
			return fmt.Errorf("RATE_LIMIT_WINDOW must be positive, got %s", c.Security.RateLimitWindow)
		}
	}
	return nil
}

func (c *Config) validateNotify() error {
	if !c.Notify.EmailEnabled {
		return nil
	}
	if c.Notify.SMTPHost == "" {
		return fmt.Errorf("SMTP_HOST is required when NOTIFY_EMAIL_ENABLED=true")
	}
	if c.Notify.EmailTo == "" {
		return fmt.Errorf("NOTIFY_EMAIL_TO is required when NOTIFY_EMAIL_ENABLED=true")
	}
	if c.Notify.SMTPFrom == "" {
		return fmt.Errorf("SMTP_FROM is required when NOTIFY_EMAIL_ENABLED=true")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error; got %q", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

// ScheduleInterval maps the backup frequency to a run interval. Zero means
// scheduled runs are disabled.
func (c *Config) ScheduleInterval() time.Duration {
	switch c.Backup.Frequency {
	case "hourly":
		return time.Hour
	case "daily":
		return 24 * time.Hour
	case "weekly":
		return 604800 * time.Second
	case "monthly":
		return 2592000 * time.Second
	default:
		return 0
	}
}

// RemoteConfigured reports whether uploads have a client registration to work with.
func (c *Config) RemoteConfigured() bool {
	return c.OAuth.ClientID != "" && c.OAuth.ClientSecret != ""
}
