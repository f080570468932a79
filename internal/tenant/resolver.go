// Package tenant maps an inbound request to a tenant slug.
package tenant

import (
	"errors"
	"net"
	"net/http"
	"regexp"
	"strings"
)

// DefaultOverrideHeader carries an explicit slug outside production.
const DefaultOverrideHeader = "X-Tenant-Slug"

var ErrUnresolved = errors.New("tenant could not be resolved")

var slugPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// reserved labels never name a tenant.
var reserved = map[string]bool{"www": true}

// ValidSlug reports whether s can be a tenant slug.
func ValidSlug(s string) bool {
	return slugPattern.MatchString(s) && !reserved[s]
}

// Resolver extracts the tenant slug from the host, or from an override header
// when AllowOverride is set. It does no lookups.
type Resolver struct {
	// BaseDomain is the shared parent domain, e.g. "tansu.example". When empty,
	// the first label of any host with at least three labels is used.
	BaseDomain string
	// AllowOverride enables the override header. Never set in production.
	AllowOverride  bool
	OverrideHeader string
}

// Resolve returns the tenant slug for r or ErrUnresolved.
func (res Resolver) Resolve(r *http.Request) (string, error) {
	if res.AllowOverride {
		header := res.OverrideHeader
		if header == "" {
			header = DefaultOverrideHeader
		}
		if v := r.Header.Get(header); v != "" {
			return v, nil
		}
	}
	return res.FromHost(r.Host)
}

// FromHost extracts the subdomain label of host.
func (res Resolver) FromHost(host string) (string, error) {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" || net.ParseIP(host) != nil {
		return "", ErrUnresolved
	}

	var label string
	if base := strings.ToLower(strings.Trim(res.BaseDomain, ".")); base != "" {
		sub, ok := strings.CutSuffix(host, "."+base)
		if !ok || strings.Contains(sub, ".") {
			return "", ErrUnresolved
		}
		label = sub
	} else {
		labels := strings.Split(host, ".")
		if len(labels) < 3 {
			return "", ErrUnresolved
		}
		label = labels[0]
	}

	if !ValidSlug(label) {
		return "", ErrUnresolved
	}
	return label, nil
}
