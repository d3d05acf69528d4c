// Package security guards outbound fetches of search-result pages against
// server-side request forgery.
package security

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
)

// blockedRanges are never dialled when fetching third-party pages.
var blockedRanges = mustParseCIDRs(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"224.0.0.0/4",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %q: %v", c, err))
		}
		out = append(out, n)
	}
	return out
}

// IsPrivateIP reports whether ip falls in a private, loopback, link-local or
// multicast range. IPv4-mapped IPv6 addresses are checked as IPv4.
func IsPrivateIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, n := range blockedRanges {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func blocked(detail string) error {
	return domain.NewSubSystemError("fetch", "security.ValidateURL", domain.ErrSSRFBlocked, detail)
}

// ValidateURL checks that rawURL is http(s) and that its host does not resolve
// to a blocked address.
func ValidateURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return blocked(fmt.Sprintf("invalid URL: %v", err))
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	case "":
		return blocked("missing URL scheme")
	default:
		return blocked(fmt.Sprintf("scheme %q not allowed", u.Scheme))
	}

	host := u.Hostname()
	if host == "" {
		return blocked("empty hostname")
	}
	if ip := net.ParseIP(host); ip != nil {
		if IsPrivateIP(ip) {
			return blocked(fmt.Sprintf("IP %s is private", ip))
		}
		return nil
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return blocked(fmt.Sprintf("DNS lookup failed: %v", err))
	}
	for _, a := range addrs {
		if IsPrivateIP(a.IP) {
			return blocked(fmt.Sprintf("host %s resolves to private IP %s", host, a.IP))
		}
	}
	return nil
}

// NewSafeTransport returns a transport that resolves each host once at dial
// time, rejects blocked addresses, and connects to the vetted IP directly so a
// second lookup cannot rebind the host.
func NewSafeTransport(dialTimeout time.Duration) *http.Transport {
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	dialer := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}

	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, fmt.Errorf("invalid address: %w", err)
			}
			addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, fmt.Errorf("resolve %s: %w", host, err)
			}
			if len(addrs) == 0 {
				return nil, fmt.Errorf("resolve %s: no addresses", host)
			}
			for _, a := range addrs {
				if IsPrivateIP(a.IP) {
					return nil, domain.NewSubSystemError("fetch", "security.Dial", domain.ErrSSRFBlocked,
						fmt.Sprintf("%s resolves to private IP %s", host, a.IP))
				}
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(addrs[0].IP.String(), port))
		},
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
}

// CheckRedirect revalidates every redirect hop and caps the chain at five.
func CheckRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 5 {
		return fmt.Errorf("too many redirects")
	}
	return ValidateURL(req.Context(), req.URL.String())
}
