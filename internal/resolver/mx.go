package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// ErrNoMX marks a domain that resolved fine but has no mail exchangers at
// all; the address can never receive mail.
var ErrNoMX = errors.New("no MX records")

// MXResolver looks up the mail exchangers for a recipient domain. Results
// are cached because bulk requests typically repeat a handful of domains.
type MXResolver struct {
	server   string
	timeout  time.Duration
	cacheTTL time.Duration

	// exchange is swappable in tests.
	exchange func(ctx context.Context, m *dns.Msg) (*dns.Msg, error)

	mu    sync.RWMutex
	cache map[string]cachedRecords
}

type cachedRecords struct {
	hosts   []string
	expires time.Time
}

func NewMXResolver(server string, timeout time.Duration) *MXResolver {
	if server == "" {
		server = "8.8.8.8:53"
	}
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	r := &MXResolver{
		server:   server,
		timeout:  timeout,
		cacheTTL: 10 * time.Minute,
		cache:    make(map[string]cachedRecords),
	}
	r.exchange = func(ctx context.Context, m *dns.Msg) (*dns.Msg, error) {
		c := &dns.Client{Timeout: r.timeout}
		resp, _, err := c.ExchangeContext(ctx, m, r.server)
		return resp, err
	}
	return r
}

// SetCacheTTL overrides the default cache lifetime. Call before first use.
func (r *MXResolver) SetCacheTTL(ttl time.Duration) {
	if ttl > 0 {
		r.cacheTTL = ttl
	}
}

// Resolve returns the domain's MX hosts ordered by preference, lowest first.
func (r *MXResolver) Resolve(ctx context.Context, domain string) ([]string, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return nil, fmt.Errorf("empty domain")
	}

	r.mu.RLock()
	if c, ok := r.cache[domain]; ok && time.Now().Before(c.expires) {
		r.mu.RUnlock()
		return c.hosts, nil
	}
	r.mu.RUnlock()

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeMX)

	resp, err := r.exchange(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("mx lookup for %s: %w", domain, err)
	}
	if resp.Rcode == dns.RcodeNameError {
		return nil, fmt.Errorf("%s: %w", domain, ErrNoMX)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("mx lookup for %s: %s", domain, dns.RcodeToString[resp.Rcode])
	}

	type mxRecord struct {
		host string
		pref uint16
	}
	var records []mxRecord
	for _, ans := range resp.Answer {
		if mx, ok := ans.(*dns.MX); ok {
			records = append(records, mxRecord{
				host: strings.TrimSuffix(mx.Mx, "."),
				pref: mx.Preference,
			})
		}
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: %w", domain, ErrNoMX)
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].pref < records[j].pref })

	hosts := make([]string, len(records))
	for i, rec := range records {
		hosts[i] = rec.host
	}

	r.mu.Lock()
	r.cache[domain] = cachedRecords{hosts: hosts, expires: time.Now().Add(r.cacheTTL)}
	r.mu.Unlock()

	return hosts, nil
}
