package domain

import "errors"

var (
	ErrTenantNotFound   = errors.New("tenant not found")
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrRulesNotFound    = errors.New("rules not found")
	ErrInvalidRules     = errors.New("invalid rules")
	ErrInvalidSeconds   = errors.New("seconds must not be negative")
	ErrInvalidWindow    = errors.New("invalid bonus window")
	ErrInvalidRelay     = errors.New("invalid relay message")
	ErrQueueFull        = errors.New("ingest queue full")
	ErrTooManyClients   = errors.New("too many subscribers for tenant")
)
