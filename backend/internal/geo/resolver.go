// Package geo resolves addresses to countries from a MaxMind database
package geo

import (
	"fmt"
	"net"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"
)

// Resolver looks up ISO country codes. A Resolver without a database
// resolves every address to "".
type Resolver struct {
	reader *geoip2.Reader
	logger *zap.Logger
	cache  *lru.Cache[string, string]
}

const lookupCacheSize = 4096

// Open loads the GeoIP2/GeoLite2 country database at path. An empty path
// yields a disabled resolver.
func Open(path string, logger *zap.Logger) (*Resolver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.New[string, string](lookupCacheSize)
	if err != nil {
		return nil, err
	}
	r := &Resolver{logger: logger, cache: cache}
	if path == "" {
		return r, nil
	}

	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %v", err)
	}
	r.reader = reader
	return r, nil
}

// Enabled reports whether a database is loaded
func (r *Resolver) Enabled() bool {
	return r.reader != nil
}

// Country returns the ISO country code of address, or "" when the address
// is invalid, private or unknown
func (r *Resolver) Country(address string) string {
	if r.reader == nil {
		return ""
	}
	ip := net.ParseIP(address)
	if ip == nil || ip.IsPrivate() || ip.IsLoopback() || ip.IsUnspecified() {
		return ""
	}

	if code, ok := r.cache.Get(address); ok {
		return code
	}

	record, err := r.reader.Country(ip)
	if err != nil {
		r.logger.Debug("GeoIP lookup failed", zap.String("address", address), zap.Error(err))
		return ""
	}
	code := record.Country.IsoCode
	r.cache.Add(address, code)
	return code
}

// Close releases the database
func (r *Resolver) Close() error {
	if r.reader == nil {
		return nil
	}
	return r.reader.Close()
}
