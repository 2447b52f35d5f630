// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package routeengine

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	rerrors "mrvpn.dev/routeengine/internal/errors"
)

// PrefixSource supplies, for a country code, a collapsed set of IPv4
// networks. It is queried once at rule-compilation time per country rule;
// downloading and ingesting the underlying country database is out of
// scope for the engine itself.
type PrefixSource interface {
	Lookup(countryCode string) ([]*net.IPNet, error)
}

// StaticPrefixSource is a small in-memory PrefixSource keyed by
// upper-cased ISO country code, suitable for tests and for embedding a
// pre-baked prefix list at build time.
type StaticPrefixSource struct {
	mu   sync.RWMutex
	data map[string][]*net.IPNet
}

// NewStaticPrefixSource builds a StaticPrefixSource from a country -> CIDR
// strings map, parsing and collapsing each country's entries.
func NewStaticPrefixSource(countries map[string][]string) (*StaticPrefixSource, error) {
	s := &StaticPrefixSource{data: make(map[string][]*net.IPNet, len(countries))}
	for code, cidrs := range countries {
		nets := make([]*net.IPNet, 0, len(cidrs))
		for _, c := range cidrs {
			_, n, err := net.ParseCIDR(c)
			if err != nil {
				return nil, rerrors.Wrapf(err, rerrors.KindValidation, "prefixsource: country %s: bad cidr %q", code, c)
			}
			nets = append(nets, n)
		}
		s.data[strings.ToUpper(code)] = CollapseNetworks(nets)
	}
	return s, nil
}

// Lookup implements PrefixSource.
func (s *StaticPrefixSource) Lookup(countryCode string) ([]*net.IPNet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nets, ok := s.data[strings.ToUpper(countryCode)]
	if !ok {
		return nil, rerrors.Errorf(rerrors.KindNotFound, "prefixsource: unknown country %q", countryCode)
	}
	out := make([]*net.IPNet, len(nets))
	copy(out, nets)
	return out, nil
}

// HTTPPrefixSource fetches a dbip-style gzip CSV of "start_ip,end_ip,country"
// rows over HTTP and answers Lookup from the in-memory result, mirroring
// the original's duckdb-backed ip_database.py without requiring a database
// driver. It is not wired into the default binary (country-database
// ingestion is out of scope); it is provided as a second PrefixSource
// implementation for deployments that want to fetch a real database.
type HTTPPrefixSource struct {
	URL    string
	Client *http.Client

	mu    sync.Mutex
	cache map[string][]*net.IPNet
}

// NewHTTPPrefixSource returns a source that lazily downloads and parses url
// on first Lookup.
func NewHTTPPrefixSource(url string) *HTTPPrefixSource {
	return &HTTPPrefixSource{URL: url, Client: http.DefaultClient}
}

// Lookup implements PrefixSource, downloading and parsing the CSV on first
// use and caching the per-country result thereafter.
func (h *HTTPPrefixSource) Lookup(countryCode string) ([]*net.IPNet, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cache == nil {
		if err := h.load(); err != nil {
			return nil, err
		}
	}
	nets, ok := h.cache[strings.ToUpper(countryCode)]
	if !ok {
		return nil, rerrors.Errorf(rerrors.KindNotFound, "prefixsource: unknown country %q", countryCode)
	}
	out := make([]*net.IPNet, len(nets))
	copy(out, nets)
	return out, nil
}

func (h *HTTPPrefixSource) load() error {
	resp, err := h.Client.Get(h.URL)
	if err != nil {
		return rerrors.Wrapf(err, rerrors.KindUnavailable, "prefixsource: fetch %s", h.URL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return rerrors.Errorf(rerrors.KindUnavailable, "prefixsource: fetch %s: status %d", h.URL, resp.StatusCode)
	}

	reader, err := gzip.NewReader(resp.Body)
	if err != nil {
		return rerrors.Wrapf(err, rerrors.KindValidation, "prefixsource: ungzip %s", h.URL)
	}
	defer reader.Close()

	byCountry := make(map[string][]*net.IPNet)
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), ",")
		if len(fields) < 3 {
			continue
		}
		startIP := net.ParseIP(strings.TrimSpace(fields[0]))
		endIP := net.ParseIP(strings.TrimSpace(fields[1]))
		country := strings.ToUpper(strings.TrimSpace(fields[2]))
		if startIP == nil || endIP == nil || country == "" {
			continue
		}
		nets, err := summarizeRange(startIP, endIP)
		if err != nil {
			continue
		}
		byCountry[country] = append(byCountry[country], nets...)
	}
	if err := scanner.Err(); err != nil {
		return rerrors.Wrapf(err, rerrors.KindValidation, "prefixsource: scan %s", h.URL)
	}

	for code, nets := range byCountry {
		byCountry[code] = CollapseNetworks(nets)
	}
	h.cache = byCountry
	return nil
}

// summarizeRange splits an inclusive IPv4 address range into the minimal
// set of CIDR blocks covering it exactly, mirroring
// ipaddress.summarize_address_range from the original.
func summarizeRange(start, end net.IP) ([]*net.IPNet, error) {
	s4, e4 := start.To4(), end.To4()
	if s4 == nil || e4 == nil {
		return nil, fmt.Errorf("prefixsource: non-IPv4 range %s-%s", start, end)
	}
	lo := ipToUint32(s4)
	hi := ipToUint32(e4)
	if lo > hi {
		return nil, fmt.Errorf("prefixsource: inverted range %s-%s", start, end)
	}

	return summarizeUint32Range(lo, hi), nil
}
