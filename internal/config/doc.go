// Package config loads and validates streamjam.json, the project
// configuration file for a StreamJam server: listen address, session
// identity strategy, logging, and session/service tuning.
//
// All duration fields are strings in Go duration syntax ("30s", "10m").
// Missing fields fall back to the same defaults the server applies when
// run without a config file.
package config
