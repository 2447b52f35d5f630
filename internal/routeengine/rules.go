// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package routeengine

import (
	"net"
	"regexp"

	"mrvpn.dev/routeengine/internal/config"
	rerrors "mrvpn.dev/routeengine/internal/errors"
)

// NetRule is a literal CIDR plus policy. Its TTL caps the effective TTL of
// any domain-derived route whose resolved IP falls inside net, regardless
// of whether the NetRule itself installs a route.
type NetRule struct {
	Net   *net.IPNet
	Start uint32
	End   uint32
	TTL   *int

	// Route is nil when Interface was omitted (a pure TTL donor that
	// installs nothing).
	Route *Route
}

// Contains reports whether ip falls within the rule's CIDR.
func (r NetRule) Contains(ip uint32) bool {
	return r.Start <= ip && ip <= r.End
}

// CountryRule expands, at compile time, into the concrete Routes returned
// by the Prefix Source (plus any ExtraNets), one per collapsed CIDR.
type CountryRule struct {
	Country string
	Routes  []*Route
}

// DomainRule is a template matched against the DNS query and answer name;
// it carries policy but no network of its own — BuildRoute materialises a
// /32 from the matched A record's address.
type DomainRule struct {
	Pattern     *regexp.Regexp
	Interface   string
	OifIndex    int
	Metric      int
	Weight      int
	TTL         *int
	ConfigOrder int
}

// Matches reports whether name (the query or answer name) matches the rule.
func (d DomainRule) Matches(name string) bool {
	return d.Pattern.MatchString(name)
}

// BuildRoute materialises a /32 Route for ip using the rule's policy. The
// caller assigns the effective TTL afterward (it depends on rules the
// DomainRule itself doesn't know about).
func (d DomainRule) BuildRoute(ip net.IP) *Route {
	cidr := &net.IPNet{IP: ip.To4(), Mask: net.CIDRMask(32, 32)}
	route := NewRoute(cidr, d.Interface, d.OifIndex, d.Metric, d.Weight, nil)
	route.Kind = "domain"
	return route
}

// RuleSet is the compiled, immutable-at-runtime rule collection.
type RuleSet struct {
	NetRules     []NetRule
	CountryRules []CountryRule
	DomainRules  []DomainRule
}

// Compiler resolves a config.Settings document into a RuleSet, querying the
// Prefix Source for country rules and the Kernel Route Backend for
// interface/default-route resolution.
type Compiler struct {
	Backend  KernelBackend
	Prefixes PrefixSource

	defaultRoute *DefaultRoute
}

// NewCompiler builds a Compiler over backend and prefixes.
func NewCompiler(backend KernelBackend, prefixes PrefixSource) *Compiler {
	return &Compiler{Backend: backend, Prefixes: prefixes}
}

// Compile expands settings.Routes into a RuleSet. Interface names are
// resolved here, at rule-compilation time, each time a rule is compiled;
// only the _DEFAULT route is captured once and memoized on the Compiler.
// Route.Spec never resolves an interface itself.
func (c *Compiler) Compile(settings *config.Settings) (*RuleSet, error) {
	metrics, err := assignMetrics(settings.Routes)
	if err != nil {
		return nil, err
	}

	rs := &RuleSet{}
	for i, entry := range settings.Routes {
		metric := metrics[i]

		switch {
		case entry.Country != "":
			rule, err := c.compileCountryRule(entry, metric)
			if err != nil {
				return nil, err
			}
			rs.CountryRules = append(rs.CountryRules, rule)

		case entry.Net != "":
			rule, err := c.compileNetRule(entry, metric)
			if err != nil {
				return nil, err
			}
			rs.NetRules = append(rs.NetRules, rule)

		case len(entry.Domain) > 0:
			for _, pattern := range entry.Domain {
				rule, err := c.compileDomainRule(entry, pattern, metric, i)
				if err != nil {
					return nil, err
				}
				rs.DomainRules = append(rs.DomainRules, rule)
			}

		default:
			return nil, rerrors.Errorf(rerrors.KindValidation, "rules[%d]: no discriminant set", i)
		}
	}
	return rs, nil
}

func (c *Compiler) resolveInterface(name string) (int, error) {
	if name == "" {
		return 0, nil
	}
	if name == DefaultInterface {
		dr, err := c.defaultRouteOnce()
		if err != nil {
			return 0, err
		}
		return dr.OifIndex, nil
	}
	idx, err := c.Backend.ResolveInterface(name)
	if err != nil {
		return 0, rerrors.Wrapf(err, rerrors.KindValidation, "rules: resolve interface %q", name)
	}
	return idx, nil
}

func (c *Compiler) defaultRouteOnce() (DefaultRoute, error) {
	if c.defaultRoute != nil {
		return *c.defaultRoute, nil
	}
	dr, err := c.Backend.GetDefaultRoute()
	if err != nil {
		return DefaultRoute{}, rerrors.Wrap(err, rerrors.KindUnavailable, "rules: capture default route")
	}
	c.defaultRoute = &dr
	return dr, nil
}

func (c *Compiler) compileCountryRule(entry config.RouteEntry, metric int) (CountryRule, error) {
	nets, err := c.Prefixes.Lookup(entry.Country)
	if err != nil {
		return CountryRule{}, rerrors.Wrapf(err, rerrors.KindValidation, "rules: country %s", entry.Country)
	}
	for _, extra := range entry.ExtraNets {
		_, n, err := net.ParseCIDR(extra)
		if err != nil {
			return CountryRule{}, rerrors.Wrapf(err, rerrors.KindValidation, "rules: country %s extra_nets", entry.Country)
		}
		nets = append(nets, n)
	}
	nets = CollapseNetworks(nets)

	oifIndex, err := c.resolveInterface(entry.Interface)
	if err != nil {
		return CountryRule{}, err
	}

	rule := CountryRule{Country: entry.Country}
	for _, n := range nets {
		// Per the original's _load_routes: a route with no interface is a
		// pure TTL contributor and is never materialised for country/net
		// rules (unlike a DomainRule template, it has nowhere to install).
		if entry.Interface == "" {
			continue
		}
		route := NewRoute(n, entry.Interface, oifIndex, metric, entry.Weight, entry.TTL)
		route.Kind = "country"
		rule.Routes = append(rule.Routes, route)
	}
	return rule, nil
}

func (c *Compiler) compileNetRule(entry config.RouteEntry, metric int) (NetRule, error) {
	_, n, err := net.ParseCIDR(entry.Net)
	if err != nil {
		return NetRule{}, rerrors.Wrapf(err, rerrors.KindValidation, "rules: net %q", entry.Net)
	}
	start, end := networkRange(n)

	rule := NetRule{Net: n, Start: start, End: end, TTL: entry.TTL}
	if entry.Interface != "" {
		oifIndex, err := c.resolveInterface(entry.Interface)
		if err != nil {
			return NetRule{}, err
		}
		rule.Route = NewRoute(n, entry.Interface, oifIndex, metric, entry.Weight, entry.TTL)
		rule.Route.Kind = "net"
	}
	return rule, nil
}

func (c *Compiler) compileDomainRule(entry config.RouteEntry, pattern string, metric, configOrder int) (DomainRule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return DomainRule{}, rerrors.Wrapf(err, rerrors.KindValidation, "rules: domain pattern %q", pattern)
	}
	oifIndex, err := c.resolveInterface(entry.Interface)
	if err != nil {
		return DomainRule{}, err
	}
	ttl := entry.TTL
	return DomainRule{
		Pattern:     re,
		Interface:   entry.Interface,
		OifIndex:    oifIndex,
		Metric:      metric,
		Weight:      entry.Weight,
		TTL:         ttl,
		ConfigOrder: configOrder,
	}, nil
}

// assignMetrics returns the effective metric for each route entry in
// order. Explicit metrics pass through unchanged (their uniqueness is
// already enforced by config.Validate); entries that left metric unset are
// assigned deterministically from max(explicit metrics)+1, replacing the
// original's global mutable "next metric" counter with a single compile
// pass (spec §9).
func assignMetrics(entries []config.RouteEntry) ([]int, error) {
	maxExplicit := 0
	for _, e := range entries {
		if e.Metric != nil && *e.Metric > maxExplicit {
			maxExplicit = *e.Metric
		}
	}

	out := make([]int, len(entries))
	next := maxExplicit + 1
	for i, e := range entries {
		if e.Metric != nil {
			out[i] = *e.Metric
			continue
		}
		out[i] = next
		next++
	}
	return out, nil
}
