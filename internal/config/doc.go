// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

/*
Package config provides configuration management for Drivebackup.

# Configuration Sources

Configuration is layered with Koanf v2, lowest precedence first:
  - Built-in defaults (defaultConfig)
  - An optional YAML file: CONFIG_PATH, or config.yaml / /etc/drivebackup/config.yaml
  - Environment variables, through an explicit name mapping (envMappings)

List settings accept comma-separated environment values:

	BACKUP_SOURCES=database,content,uploads
	BACKUP_EXCLUDE=.git,node_modules,cache

# Sections

  - server: HTTP trigger surface (HTTP_PORT, API_ENABLED)
  - backup: sources, excludes, retention counts, attempts, lock TTL
  - dump: external database dump command
  - drive: resumable upload endpoints, chunk size, time budget
  - oauth: client registration for the authorization-code flow
  - security: trigger token secret, CORS, rate limits
  - notify: email and webhook notification on terminal job failure
  - store: settings store location
  - logging: level, format, caller

# Credential Encryption

CredentialEncryptor seals secrets obtained at runtime (the OAuth refresh
token) before they reach the settings store. The key is derived from
security.jwt_secret, so rotating that secret invalidates stored credentials
and the site has to be authorized again.
*/
package config
