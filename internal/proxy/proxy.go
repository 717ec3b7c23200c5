// Package proxy detects pixel fetches made by mail privacy proxies rather than
// by a person opening the message.
//
// Apple Mail Privacy Protection and Gmail's image proxy fetch every remote
// image as soon as a message is delivered. Those fetches are still recorded,
// but they never count as real opens and never trigger notifications.
package proxy

import (
	"net/netip"
	"strings"

	"github.com/ignite/mailtrack/internal/domain"
)

// Range is one CIDR block attributed to a proxy operator.
type Range struct {
	Prefix netip.Prefix
	Kind   domain.ProxyKind
}

// Ranges is checked top to bottom; the first match wins.
var Ranges = []Range{
	{netip.MustParsePrefix("17.0.0.0/8"), domain.ProxyApple},      // Apple
	{netip.MustParsePrefix("104.28.0.0/16"), domain.ProxyApple},   // Cloudflare egress used by iCloud Private Relay
	{netip.MustParsePrefix("66.102.0.0/20"), domain.ProxyGoogle},  // Google
	{netip.MustParsePrefix("66.249.64.0/19"), domain.ProxyGoogle}, // Googlebot
	{netip.MustParsePrefix("72.14.192.0/18"), domain.ProxyGoogle},
	{netip.MustParsePrefix("74.125.0.0/16"), domain.ProxyGoogle}, // includes googleusercontent image proxy
	{netip.MustParsePrefix("209.85.128.0/17"), domain.ProxyGoogle},
}

// Classify returns the proxy operator responsible for a fetch, or
// domain.ProxyNone for a genuine open. A malformed or empty ip skips the
// range table and is judged by the user agent alone.
func Classify(ip, userAgent string) domain.ProxyKind {
	if addr, err := netip.ParseAddr(strings.TrimSpace(ip)); err == nil {
		addr = addr.Unmap()
		for _, r := range Ranges {
			if r.Prefix.Contains(addr) {
				return r.Kind
			}
		}
	}

	ua := strings.ToLower(userAgent)
	if strings.Contains(ua, "googleimageproxy") || strings.Contains(ua, "ggpht.com") {
		return domain.ProxyGoogle
	}
	if strings.Contains(ua, "apple") && strings.Contains(ua, "mail") {
		return domain.ProxyApple
	}
	return domain.ProxyNone
}

// IsRealOpen is shorthand for Classify(ip, userAgent).IsReal().
func IsRealOpen(ip, userAgent string) bool {
	return Classify(ip, userAgent).IsReal()
}
