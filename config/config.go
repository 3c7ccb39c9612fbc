// Package config reads the gtfs-upcoming INI configuration file: API
// credentials and the set of stops the service cares about.
package config

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"
)

// Config holds the values read from the configuration file.
type Config struct {
	APIKeyPrimary   string
	APIKeySecondary string
	InterestingStops []string
}

// Load reads and validates filename. The [NTA] section name is the
// original one and is preferred; [ApiKeys] is used only when [NTA] is
// absent, whichever provider is configured.
func Load(filename string) (*Config, error) {
	f, err := ini.Load(filename)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", filename, err)
	}

	var keys *ini.Section
	switch {
	case f.HasSection("NTA"):
		keys = f.Section("NTA")
	case f.HasSection("ApiKeys"):
		keys = f.Section("ApiKeys")
	default:
		return nil, fmt.Errorf("%q has neither an [NTA] nor an [ApiKeys] section", filename)
	}

	primary := keys.Key("PrimaryApiKey").String()
	if primary == "" {
		return nil, fmt.Errorf("%q is missing PrimaryApiKey", filename)
	}
	secondary := keys.Key("SecondaryApiKey").String()

	var stops []string
	if f.HasSection("Upcoming") {
		raw := f.Section("Upcoming").Key("InterestingStopIds").String()
		if raw != "" {
			for _, s := range strings.Split(raw, ",") {
				stops = append(stops, strings.TrimSpace(s))
			}
		}
	}

	return &Config{
		APIKeyPrimary:    primary,
		APIKeySecondary:  secondary,
		InterestingStops: stops,
	}, nil
}
