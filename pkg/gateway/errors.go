// Copyright 2024-2026 Aiku AI

package gateway

import "errors"

// Tagged error kinds for gateway calls. Implementations wrap platform errors
// onto these so handlers can branch with errors.Is instead of catching broad
// exceptions.
var (
	// ErrForbidden means the bot lacks permission for the operation.
	ErrForbidden = errors.New("gateway: forbidden")
	// ErrNotFound means the target message, channel, or user is gone.
	ErrNotFound = errors.New("gateway: not found")
	// ErrPayloadTooLarge means the request body or attachments exceeded the
	// destination's size limits.
	ErrPayloadTooLarge = errors.New("gateway: payload too large")
	// ErrTransient covers network and timeout failures worth retrying later.
	ErrTransient = errors.New("gateway: transient failure")
)
