// Package geoip resolves client IPs to a country and city using a local
// MaxMind GeoLite2-City database.
package geoip

import (
	"fmt"
	"net"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

type cityReader interface {
	City(ip net.IP) (*geoip2.City, error)
	Close() error
}

// Resolver looks up IP locations. A nil or closed Resolver, a private or
// loopback address, and a database miss all resolve to unknown (empty
// strings); Lookup never fails.
type Resolver struct {
	mu     sync.RWMutex
	reader cityReader
	lang   string
}

// Open memory-maps the mmdb file at path.
func Open(path string) (*Resolver, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database %s: %w", path, err)
	}
	return &Resolver{reader: db, lang: "en"}, nil
}

func newResolver(r cityReader) *Resolver {
	return &Resolver{reader: r, lang: "en"}
}

// Lookup returns the English country and city names for ip.
func (r *Resolver) Lookup(ip string) (country, city string) {
	if r == nil {
		return "", ""
	}
	addr := net.ParseIP(ip)
	if addr == nil || addr.IsPrivate() || addr.IsLoopback() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() {
		return "", ""
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.reader == nil {
		return "", ""
	}
	rec, err := r.reader.City(addr)
	if err != nil || rec == nil {
		return "", ""
	}
	return rec.Country.Names[r.lang], rec.City.Names[r.lang]
}

// Close releases the database. Lookups after Close resolve to unknown.
func (r *Resolver) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reader == nil {
		return nil
	}
	err := r.reader.Close()
	r.reader = nil
	return err
}
