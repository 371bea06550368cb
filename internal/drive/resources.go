// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

package drive

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/tomtom215/drivebackup/internal/logging"
)

// Quota is the remote account's storage usage in bytes. Limit is zero for
// accounts without a limit.
type Quota struct {
	Limit int64 `json:"limit"`
	Usage int64 `json:"usage"`
}

type aboutResponse struct {
	StorageQuota struct {
		Limit string `json:"limit"`
		Usage string `json:"usage"`
	} `json:"storageQuota"`
}

// DeleteResource removes a remote file. A resource that is already gone is
// not an error.
func (c *Client) DeleteResource(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}

	header := http.Header{}
	header.Set("If-Match", "*")

	target := c.cfg.APIURL + "/files/" + url.PathEscape(id)
	resp, body, err := c.send(ctx, http.MethodDelete, target, nil, header)
	if err != nil {
		return fmt.Errorf("delete resource %s: %w", id, err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		logging.Ctx(ctx).Debug().Str("resource_id", id).Msg("Remote resource deleted")
		return nil
	case http.StatusNotFound, http.StatusGone:
		logging.Ctx(ctx).Debug().Str("resource_id", id).Msg("Remote resource already gone")
		return nil
	default:
		return fmt.Errorf("%v; the resource might not have been deleted",
			badResponse(resp, body, "delete resource '"+id+"'"))
	}
}

// Quota fetches the account's storage quota.
func (c *Client) Quota(ctx context.Context) (Quota, error) {
	target := c.cfg.APIURL + "/about?fields=storageQuota"
	resp, body, err := c.send(ctx, http.MethodGet, target, nil, nil)
	if err != nil {
		return Quota{}, fmt.Errorf("fetch quota: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Quota{}, badResponse(resp, body, "get the storage quota")
	}

	var about aboutResponse
	if err := json.Unmarshal(body, &about); err != nil {
		return Quota{}, fmt.Errorf("decode quota response: %w", err)
	}

	var q Quota
	if about.StorageQuota.Limit != "" {
		if q.Limit, err = strconv.ParseInt(about.StorageQuota.Limit, 10, 64); err != nil {
			return Quota{}, fmt.Errorf("invalid quota limit %q: %w", about.StorageQuota.Limit, err)
		}
	}
	if about.StorageQuota.Usage != "" {
		if q.Usage, err = strconv.ParseInt(about.StorageQuota.Usage, 10, 64); err != nil {
			return Quota{}, fmt.Errorf("invalid quota usage %q: %w", about.StorageQuota.Usage, err)
		}
	}
	return q, nil
}
