// Package agent implements the probing agent runtime: registration with
// the coordinator, the heartbeat loop, the target-update poller, and the
// per-target check schedulers.
package agent

import (
	"errors"
	"os"
)

// Config holds everything the agent needs to run. Values come from
// environment variables (optionally a .env file), mirrored by CLI flags.
type Config struct {
	// ServerURL is the coordinator base URL, e.g. "http://coordinator:3000".
	ServerURL string
	// APIKey is the shared secret sent as x-api-key.
	APIKey string
	// Name uniquely identifies this agent to the coordinator; a reconnect
	// with the same name reclaims the same agent id.
	Name string
	// Location is a human-readable placement label.
	Location string
}

// FromEnv builds a Config from environment variables, applying the
// documented defaults (hostname for the name, "Unknown" location).
func FromEnv() Config {
	name := os.Getenv("AGENT_NAME")
	if name == "" {
		if hn, err := os.Hostname(); err == nil {
			name = hn
		} else {
			name = "unknown"
		}
	}
	location := os.Getenv("AGENT_LOCATION")
	if location == "" {
		location = "Unknown"
	}
	return Config{
		ServerURL: os.Getenv("SERVER_URL"),
		APIKey:    os.Getenv("API_KEY"),
		Name:      name,
		Location:  location,
	}
}

// Validate checks the required settings.
func (c Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("agent: SERVER_URL is required")
	}
	if c.APIKey == "" {
		return errors.New("agent: API_KEY is required")
	}
	return nil
}
