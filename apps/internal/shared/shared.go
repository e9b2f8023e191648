// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package shared

import (
	"net/http"
	"time"
)

const (
	// CacheKeySeparator is used in creating the keys of the cache.
	CacheKeySeparator = "-"

	// ClientRequestIDHeader carries the per-request correlation id sent to the authority.
	ClientRequestIDHeader = "client-request-id"
)

// DefaultClient is our default shared HTTP client.
var DefaultClient = &http.Client{Timeout: 30 * time.Second}
