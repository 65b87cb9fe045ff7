package analyzer

import (
	"context"
	"strings"
	"sync"

	"github.com/firefart/dmarcanalyzer/internal/dmarc"
	"github.com/firefart/dmarcanalyzer/internal/geoip"

	"golang.org/x/sync/errgroup"
)

// SourceInfo holds what is known about a source IP beyond the report.
type SourceInfo struct {
	Hostnames []string
	geoip.Info
}

// Hosts returns the hostnames joined for display.
func (s SourceInfo) Hosts() string {
	return strings.Join(s.Hostnames, ", ")
}

type HostResolver interface {
	CachedDNSLookup(ctx context.Context, ip string) ([]string, error)
}

type Locator interface {
	Lookup(ip string) geoip.Info
}

const enrichWorkers = 8

// Enrich looks up every distinct source IP of the displayed records.
// Either resolver or locator may be nil. IPs nothing is known about get no
// entry in Sources.
func (r *Result) Enrich(ctx context.Context, resolver HostResolver, locator Locator) error {
	if resolver == nil && locator == nil {
		return nil
	}
	ips := distinctIPs(r.Displayed)

	var mu sync.Mutex
	sources := make(map[string]SourceInfo, len(ips))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichWorkers)
	for _, ip := range ips {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var info SourceInfo
			if resolver != nil {
				// errors are cached as empty results by the resolver
				info.Hostnames, _ = resolver.CachedDNSLookup(gctx, ip)
			}
			if locator != nil {
				info.Info = locator.Lookup(ip)
			}
			if len(info.Hostnames) == 0 && info.Empty() {
				return nil
			}
			mu.Lock()
			sources[ip] = info
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	r.Sources = sources
	return nil
}

func distinctIPs(records []dmarc.EvaluatedRecord) []string {
	seen := make(map[string]struct{})
	var ips []string
	for _, rec := range records {
		if rec.SourceIP == "" {
			continue
		}
		if _, ok := seen[rec.SourceIP]; ok {
			continue
		}
		seen[rec.SourceIP] = struct{}{}
		ips = append(ips, rec.SourceIP)
	}
	return ips
}
