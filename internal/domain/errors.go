// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrPayloadTooLarge indicates an inbound payload exceeded the configured size limit.
var ErrPayloadTooLarge = errors.New("payload too large")
