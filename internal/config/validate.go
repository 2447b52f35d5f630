// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"fmt"
	"net"
	"strings"

	rerrors "mrvpn.dev/routeengine/internal/errors"
)

// ValidationError represents a single configuration problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every problem found in one pass so the operator
// sees all of them at once instead of fixing the config one error at a time.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks a decoded Settings document for rule-discriminant
// violations, explicit metric collisions, and malformed CIDRs, returning a
// single *errors.Error of KindValidation wrapping a ValidationErrors.
func Validate(s *Settings) error {
	var errs ValidationErrors

	if s.Table <= 0 {
		errs = append(errs, ValidationError{"table", "must be a positive routing table id"})
	}
	if s.WSPort <= 0 || s.WSPort > 65535 {
		errs = append(errs, ValidationError{"ws_port", "must be a valid TCP port"})
	}
	if s.DomainRouteTTL <= 0 {
		errs = append(errs, ValidationError{"domain_route_ttl", "must be a positive number of seconds"})
	}

	seenMetrics := make(map[int]int) // metric -> route index declaring it
	for i, r := range s.Routes {
		field := fmt.Sprintf("routes[%d]", i)

		discriminants := 0
		if r.Country != "" {
			discriminants++
		}
		if len(r.Domain) > 0 {
			discriminants++
		}
		if r.Net != "" {
			discriminants++
		}
		switch discriminants {
		case 0:
			errs = append(errs, ValidationError{field, "must set exactly one of country, domain, or net"})
		case 1:
			// ok
		default:
			errs = append(errs, ValidationError{field, "must set exactly one of country, domain, or net, not several"})
		}

		if r.Net != "" {
			if _, _, err := net.ParseCIDR(r.Net); err != nil {
				errs = append(errs, ValidationError{field + ".net", fmt.Sprintf("invalid CIDR: %v", err)})
			}
		}
		for _, extra := range r.ExtraNets {
			if _, _, err := net.ParseCIDR(extra); err != nil {
				errs = append(errs, ValidationError{field + ".extra_nets", fmt.Sprintf("invalid CIDR %q: %v", extra, err)})
			}
		}
		for _, pattern := range r.Domain {
			if pattern == "" {
				errs = append(errs, ValidationError{field + ".domain", "pattern must not be empty"})
			}
		}

		if r.Metric != nil {
			if prior, ok := seenMetrics[*r.Metric]; ok {
				errs = append(errs, ValidationError{field + ".metric", fmt.Sprintf("explicit metric %d collides with routes[%d]", *r.Metric, prior)})
			} else {
				seenMetrics[*r.Metric] = i
			}
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return rerrors.Attr(rerrors.Wrap(errs, rerrors.KindValidation, "config: invalid settings"), "stage", "config")
}
