// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads and validates the route engine's YAML settings file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	rerrors "mrvpn.dev/routeengine/internal/errors"
)

// DefaultConfigPath is used when the CONFIG environment variable is unset.
const DefaultConfigPath = "settings.yaml"

// DefaultDomainRouteTTL is the default for domain_route_ttl: the TTL, in
// seconds, applied to a domain rule that does not declare its own ttl.
const DefaultDomainRouteTTL = 300

// RouteEntry is one heterogeneous entry under the `routes` key. Exactly one
// of Country, Domain, or Net must be set; the rest are inherited policy
// fields shared across the three rule kinds.
//
// Country is the raw country code string. Domain may be a single pattern or
// a list of patterns (the scalar-or-sequence union is resolved in
// UnmarshalYAML since yaml.v3 has no native sum-type support).
type RouteEntry struct {
	Country string `yaml:"country,omitempty"`

	// Domain holds either a scalar or a sequence, decoded manually in
	// UnmarshalYAML since yaml.v3 has no native scalar-or-sequence tag.
	Domain []string `yaml:"-"`

	Net string `yaml:"net,omitempty"`

	Interface string `yaml:"interface,omitempty"`
	Metric    *int   `yaml:"metric,omitempty"`
	Weight    int    `yaml:"weight,omitempty"`
	TTL       *int   `yaml:"ttl,omitempty"`

	// ExtraNets augments a country rule with additional static CIDRs,
	// unioned with the Prefix Source's result before Route materialization.
	ExtraNets []string `yaml:"extra_nets,omitempty"`
}

// UnmarshalYAML implements custom decoding so `domain` may be a scalar or a
// sequence, mirroring the original config's list-expansion for domain tags.
func (r *RouteEntry) UnmarshalYAML(node *yaml.Node) error {
	type plain struct {
		Country   string   `yaml:"country,omitempty"`
		Net       string   `yaml:"net,omitempty"`
		Interface string   `yaml:"interface,omitempty"`
		Metric    *int     `yaml:"metric,omitempty"`
		Weight    int      `yaml:"weight,omitempty"`
		TTL       *int     `yaml:"ttl,omitempty"`
		ExtraNets []string `yaml:"extra_nets,omitempty"`
	}
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	r.Country = p.Country
	r.Net = p.Net
	r.Interface = p.Interface
	r.Metric = p.Metric
	r.Weight = p.Weight
	r.TTL = p.TTL
	r.ExtraNets = p.ExtraNets

	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value != "domain" {
			continue
		}
		val := node.Content[i+1]
		switch val.Kind {
		case yaml.ScalarNode:
			r.Domain = []string{val.Value}
		case yaml.SequenceNode:
			for _, item := range val.Content {
				r.Domain = append(r.Domain, item.Value)
			}
		}
	}
	return nil
}

// Settings is the top-level configuration document.
type Settings struct {
	Table          int          `yaml:"table"`
	WSPort         int          `yaml:"ws_port"`
	PBRMark        int          `yaml:"pbr_mark"`
	Interfaces     []string     `yaml:"interfaces"`
	CleanConntrack bool         `yaml:"clean_conntrack"`
	DomainRouteTTL int          `yaml:"domain_route_ttl"`
	Routes         []RouteEntry `yaml:"routes"`
	MetricsAddr    string       `yaml:"metrics_addr,omitempty"`
}

func defaults() Settings {
	return Settings{
		Table:          200,
		WSPort:         8765,
		PBRMark:        512,
		Interfaces:     []string{"wg-firezone"},
		CleanConntrack: false,
		DomainRouteTTL: DefaultDomainRouteTTL,
	}
}

// Load reads and parses a YAML settings file at path, applying defaults and
// running validation. A malformed document or a failed validation both
// return a *errors.Error of KindValidation (ConfigError in spec terms).
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rerrors.Wrapf(err, rerrors.KindValidation, "config: read %s", path)
	}
	return Parse(data)
}

// Parse parses raw YAML bytes into a validated Settings.
func Parse(data []byte) (*Settings, error) {
	s := defaults()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, rerrors.Wrapf(err, rerrors.KindValidation, "config: parse yaml")
	}
	if err := Validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s Settings) String() string {
	return fmt.Sprintf("Settings{table=%d ws_port=%d pbr_mark=%d routes=%d}", s.Table, s.WSPort, s.PBRMark, len(s.Routes))
}
