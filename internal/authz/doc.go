// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

/*
Package authz decides which API routes a token scope may call, using Casbin.

The model is path based RBAC: the subject is the token's scope, the object is
the request path matched with keyMatch2, and the action is the HTTP method.
Roles inherit through grouping rules, so the built-in policy lets admin tokens
do everything trigger tokens can:

	p, trigger, /api/v1/backup, POST
	p, trigger, /api/v1/backup/jobs/:id/log, GET
	p, admin, /api/v1/oauth/authorize, GET
	g, admin, trigger

Operators can replace the built-in policy with a CSV file in the same format
(AUTHZ_POLICY_PATH). The model itself is fixed.

Usage:

	enforcer, err := authz.NewEnforcer(&authz.EnforcerConfig{PolicyPath: cfg.Security.PolicyPath})
	allowed, err := enforcer.Enforce(claims.Scope, r.URL.Path, r.Method)
*/
package authz
