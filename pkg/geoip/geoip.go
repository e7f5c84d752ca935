// Package geoip wraps an IP geolocation source behind the narrow interface
// the crawl engine depends on, with an LRU cache in front of it so the
// scheduler's per-probe lookups don't hammer the underlying sink.
package geoip

import (
	lru "github.com/hashicorp/golang-lru"
)

// Record is a geolocation result. Every field is optional; an unknown IP
// yields a Record with every field at its zero value, never an error.
type Record struct {
	CountryCode string
	CountryName string
	Region      string
	City        string
	Lat         float64
	Lon         float64
	TZ          string
	ASN         uint32
	ASNOrg      string
}

// Lookuper is the narrow external interface the crawl engine depends on.
// Implementations must never return an error for an unknown IP; they
// return an all-zero Record instead.
type Lookuper interface {
	Lookup(ip string) Record
}

// softCap is the LRU's target size; on overflow it is halved rather than
// evicting one entry at a time, trading a burst of lookups for fewer
// resize operations under sustained cache pressure.
const softCap = 10_000

// CachingLookuper decorates a Lookuper with a bounded LRU cache. It is
// read-only after construction and safe for concurrent use by many
// probing goroutines.
type CachingLookuper struct {
	inner Lookuper
	cache *lru.Cache
}

// NewCachingLookuper wraps inner with an LRU cache of the configured soft
// cap.
func NewCachingLookuper(inner Lookuper) (*CachingLookuper, error) {
	cache, err := lru.New(softCap)
	if err != nil {
		return nil, err
	}
	return &CachingLookuper{inner: inner, cache: cache}, nil
}

// Lookup returns the cached Record for ip, populating the cache on a miss.
// Once the cache holds softCap entries, a miss halves it by dropping the
// least-recently-used half before inserting the new Record.
func (c *CachingLookuper) Lookup(ip string) Record {
	if v, ok := c.cache.Get(ip); ok {
		return v.(Record)
	}
	rec := c.inner.Lookup(ip)
	if c.cache.Len() >= softCap {
		c.halve()
	}
	c.cache.Add(ip, rec)
	return rec
}

func (c *CachingLookuper) halve() {
	n := c.cache.Len() / 2
	for i := 0; i < n; i++ {
		c.cache.RemoveOldest()
	}
}

// NullLookuper always returns an all-zero Record; useful when no GeoIP
// source is configured.
type NullLookuper struct{}

func (NullLookuper) Lookup(string) Record { return Record{} }
