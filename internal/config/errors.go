package config

import "errors"

// Sentinel errors — the ConfigError kind of spec §7. Surfaced at startup;
// the process does not run with an invalid configuration.
var (
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrMissingRPCAuth = errors.New("bitcoin RPC credentials not configured")
)
