// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package grant holds types of grants issued by authorization services.
package grant

const (
	RefreshToken = "refresh_token"
	DeviceCode   = "device_code"
)
