package dns

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	mdns "github.com/miekg/dns"
	"golang.org/x/sync/singleflight"
)

var ErrNotFound = errors.New("no PTR record found")

var fallbackServers = []string{"8.8.8.8:53", "1.1.1.1:53"}

const defaultTimeout = 5 * time.Second

type cacheEntry struct {
	domains   []string
	timestamp time.Time
}

type lookupFunc func(ctx context.Context, ip string) ([]string, error)

// CachedDNSResolver resolves source IPs to hostnames and caches the answers
// so every IP of a report batch is queried at most once.
type CachedDNSResolver struct {
	servers      []string
	timeout      time.Duration
	cacheTimeout time.Duration
	client       *mdns.Client
	mutex        sync.RWMutex
	dnsCache     map[string]cacheEntry
	group        singleflight.Group
	lookup       lookupFunc
	logger       *log.Logger
}

// NewCachedDNSResolver creates a resolver querying server (host:port). An
// empty server uses the nameservers from /etc/resolv.conf.
func NewCachedDNSResolver(server string, timeout, cacheTimeout time.Duration, logger *log.Logger) *CachedDNSResolver {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	servers := []string{server}
	if server == "" {
		servers = systemNameservers()
	}
	r := &CachedDNSResolver{
		servers:      servers,
		timeout:      timeout,
		cacheTimeout: cacheTimeout,
		client: &mdns.Client{
			Timeout: timeout,
		},
		dnsCache: make(map[string]cacheEntry),
		logger:   logger,
	}
	r.lookup = r.lookupPTR
	return r
}

func systemNameservers() []string {
	config, err := mdns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(config.Servers) == 0 {
		return fallbackServers
	}
	servers := make([]string, 0, len(config.Servers))
	for _, s := range config.Servers {
		servers = append(servers, joinPort(s, config.Port))
	}
	return servers
}

func joinPort(server, port string) string {
	if port == "" {
		port = "53"
	}
	// IPv6 nameservers are listed without brackets
	if strings.Contains(server, ":") {
		return "[" + server + "]:" + port
	}
	return server + ":" + port
}

// CachedDNSLookup performs a reverse lookup of ip and caches the result to
// not hammer your DNS server. Failed lookups are cached as empty results.
func (r *CachedDNSResolver) CachedDNSLookup(ctx context.Context, ip string) ([]string, error) {
	r.logger.Debug("resolving", "ip", ip)
	if val, ok := r.getCacheEntry(ip); ok {
		return val, nil
	}

	v, err, _ := r.group.Do(ip, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		domains, err := r.lookup(ctx, ip)
		if err != nil {
			// store dummy entry so we do not reresolve the ip
			r.updateCache(ip, []string{})
			return nil, err
		}
		r.updateCache(ip, domains)
		return domains, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func (r *CachedDNSResolver) lookupPTR(ctx context.Context, ip string) ([]string, error) {
	arpa, err := mdns.ReverseAddr(ip)
	if err != nil {
		return nil, fmt.Errorf("invalid ip %q: %w", ip, err)
	}

	m := new(mdns.Msg)
	m.SetQuestion(arpa, mdns.TypePTR)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range r.servers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, _, err := r.client.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = fmt.Errorf("dns query to %s failed: %w", server, err)
			continue
		}
		switch resp.Rcode {
		case mdns.RcodeSuccess:
		case mdns.RcodeNameError:
			return nil, ErrNotFound
		default:
			lastErr = fmt.Errorf("dns query to %s returned %s", server, mdns.RcodeToString[resp.Rcode])
			continue
		}

		var domains []string
		for _, rr := range resp.Answer {
			if ptr, ok := rr.(*mdns.PTR); ok {
				// remove trailing dot from domains
				domains = append(domains, strings.TrimSuffix(ptr.Ptr, "."))
			}
		}
		if len(domains) == 0 {
			return nil, ErrNotFound
		}
		return domains, nil
	}
	return nil, lastErr
}

func (r *CachedDNSResolver) updateCache(ip string, domains []string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.dnsCache[ip] = cacheEntry{
		domains:   domains,
		timestamp: time.Now(),
	}
}

func (r *CachedDNSResolver) getCacheEntry(ip string) ([]string, bool) {
	r.mutex.RLock()
	val, ok := r.dnsCache[ip]
	r.mutex.RUnlock()
	if !ok {
		return nil, false
	}
	// check if the cache expired
	if time.Now().Add(-1 * r.cacheTimeout).After(val.timestamp) {
		r.logger.Debug("deleting stale DNS entry", "ip", ip, "stored", val.timestamp)
		r.mutex.Lock()
		delete(r.dnsCache, ip)
		r.mutex.Unlock()
		return nil, false
	}
	return val.domains, true
}
