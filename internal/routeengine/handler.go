// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package routeengine

import (
	"net"
	"strings"

	rerrors "mrvpn.dev/routeengine/internal/errors"
	"mrvpn.dev/routeengine/internal/metrics"
)

// ARecord is a DNS A-record observation delivered over the WebSocket
// listener. Type must be 1 (A); the caller rejects anything else before
// constructing an ARecord.
type ARecord struct {
	Query   string
	Name    string
	Content string
	TTL     *int
}

// ParseARecord validates and trims a raw WebSocket message's fields, as
// dns_records.ARecord does.
func ParseARecord(query, name, content string, recordType int, ttl *int) (*ARecord, error) {
	if recordType != 1 {
		return nil, rerrors.Errorf(rerrors.KindValidation, "handler: unsupported record type %d", recordType)
	}
	if net.ParseIP(content).To4() == nil {
		return nil, rerrors.Errorf(rerrors.KindValidation, "handler: content %q is not an IPv4 address", content)
	}
	return &ARecord{
		Query:   strings.TrimSuffix(query, "."),
		Name:    strings.TrimSuffix(name, "."),
		Content: content,
		TTL:     ttl,
	}, nil
}

// EventResponse is returned to the DNS resolver.
type EventResponse struct {
	TTL *int
}

// EventHandler selects the best-matching domain rule for an A-record,
// computes the effective TTL, installs or refreshes the route inline, and
// returns the TTL the resolver should advertise.
type EventHandler struct {
	Index          *IntervalIndex
	Rules          *RuleSet
	DomainRouteTTL int
	Backend        KernelBackend
	Table          int
	DefaultRoute   DefaultRoute

	// OnImmediateInstallError is invoked (if non-nil) when the inline
	// kernel install fails. The response TTL is returned regardless —
	// the resolver must never stall waiting on kernel state.
	OnImmediateInstallError func(route *Route, err error)
}

// Handle implements the Event Handler algorithm from spec §4.4.
func (h *EventHandler) Handle(record *ARecord) EventResponse {
	ttls := []int{}
	if record.TTL != nil {
		ttls = append(ttls, *record.TTL)
	}

	ip := net.ParseIP(record.Content).To4()
	ipInt := ipToUint32(ip)

	var networkTTL *int
	for _, nr := range h.Rules.NetRules {
		if nr.Contains(ipInt) && nr.TTL != nil {
			networkTTL = nr.TTL
			break
		}
	}

	var selected *DomainRule
	for i := range h.Rules.DomainRules {
		d := &h.Rules.DomainRules[i]
		if !d.Matches(record.Name) && !d.Matches(record.Query) {
			continue
		}
		if selected == nil || d.Weight > selected.Weight ||
			(d.Weight == selected.Weight && d.ConfigOrder < selected.ConfigOrder) {
			selected = d
		}
	}

	if selected == nil {
		metrics.Get().ARecordsTotal.WithLabelValues("unmatched").Inc()
		ttls = append(ttls, h.DomainRouteTTL)
		return EventResponse{TTL: minPositive(ttls)}
	}
	metrics.Get().ARecordsTotal.WithLabelValues("matched").Inc()

	if selected.TTL != nil {
		ttls = append(ttls, *selected.TTL)
	} else {
		ttls = append(ttls, h.DomainRouteTTL)
	}
	if networkTTL != nil {
		ttls = append(ttls, *networkTTL)
	}
	effective := minPositive(ttls)

	route := selected.BuildRoute(ip)
	route.TTL = effective

	installed, outcome := h.Index.Add(route)
	switch outcome {
	case OutcomeInserted:
		metrics.Get().RoutesInstalled.WithLabelValues(installed.Kind).Inc()
		spec := installed.Spec(h.Table, h.DefaultRoute)
		if err := h.installImmediate(spec); err != nil {
			metrics.Get().ImmediateInstallErr.WithLabelValues(installed.Kind).Inc()
			metrics.Get().KernelErrorsTotal.WithLabelValues("immediate-install").Inc()
			if h.OnImmediateInstallError != nil {
				h.OnImmediateInstallError(installed, err)
			}
		}
	case OutcomeRefreshed:
		metrics.Get().RoutesRenewed.WithLabelValues(installed.Kind).Inc()
	}
	metrics.Get().RoutesActive.WithLabelValues("domain").Set(float64(countByKind(h.Index, "domain")))

	return EventResponse{TTL: effective}
}

func (h *EventHandler) installImmediate(spec RouteSpec) error {
	perOp, err := h.Backend.ApplyBatch([]Op{{Kind: OpAdd, Spec: spec}})
	if err != nil {
		return rerrors.Attr(rerrors.Wrap(err, rerrors.KindUnavailable, "handler: immediate install"), "stage", "immediate-install")
	}
	if len(perOp) > 0 && perOp[0] != nil {
		return rerrors.Attr(rerrors.Wrap(perOp[0], rerrors.KindUnavailable, "handler: immediate install"), "stage", "immediate-install")
	}
	return nil
}

// countByKind reports how many routes currently held in idx were produced
// by the given rule kind, for the RoutesActive gauge.
func countByKind(idx *IntervalIndex, kind string) int {
	count := 0
	for _, r := range idx.All() {
		if r.Kind == kind {
			count++
		}
	}
	return count
}

// minPositive returns the smallest strictly-positive value in candidates,
// or nil if none is positive.
func minPositive(candidates []int) *int {
	var min *int
	for _, c := range candidates {
		if c <= 0 {
			continue
		}
		v := c
		if min == nil || v < *min {
			min = &v
		}
	}
	return min
}
