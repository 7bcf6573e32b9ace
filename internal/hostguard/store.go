// Package hostguard keeps the host and origin allow-lists used for host
// validation, CORS and CSRF, and grows them when tunnel hostnames show up.
package hostguard

import (
	"net"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// Config seeds a Store.
type Config struct {
	AllowedHosts       []string
	CORSAllowedOrigins []string
	CSRFTrustedOrigins []string
	Debug              bool
}

// Snapshot is a sorted copy of the store contents.
type Snapshot struct {
	AllowedHosts       []string `json:"allowed_hosts"`
	CORSAllowedOrigins []string `json:"cors_allowed_origins"`
	CSRFTrustedOrigins []string `json:"csrf_trusted_origins"`
}

// Store is a synchronized set of allow-lists scoped to one process. Entries
// are only ever added.
type Store struct {
	mu    sync.RWMutex
	hosts map[string]struct{}
	cors  map[string]struct{}
	csrf  map[string]struct{}
}

// NewStore builds a store from configuration. With Debug on and no hosts
// configured, the loopback names are allowed.
func NewStore(cfg Config) *Store {
	s := &Store{
		hosts: make(map[string]struct{}),
		cors:  make(map[string]struct{}),
		csrf:  make(map[string]struct{}),
	}
	hosts := cfg.AllowedHosts
	if len(hosts) == 0 && cfg.Debug {
		hosts = []string{"localhost", "127.0.0.1", "::1"}
	}
	for _, h := range hosts {
		if h = normalizeHostEntry(h); h != "" {
			s.hosts[h] = struct{}{}
		}
	}
	for _, o := range cfg.CORSAllowedOrigins {
		if o = normalizeOrigin(o); o != "" {
			s.cors[o] = struct{}{}
		}
	}
	for _, o := range cfg.CSRFTrustedOrigins {
		if o = normalizeOrigin(o); o != "" {
			s.csrf[o] = struct{}{}
		}
	}
	return s
}

// AddTunnelHost registers host in all three lists, as a host and as an https
// origin. It reports whether anything was added.
func (s *Store) AddTunnelHost(host string) bool {
	host = normalizeHostEntry(host)
	if host == "" {
		return false
	}
	origin := "https://" + host
	s.mu.RLock()
	_, h := s.hosts[host]
	_, c := s.cors[origin]
	_, t := s.csrf[origin]
	s.mu.RUnlock()
	if h && c && t {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	added := false
	for _, set := range []struct {
		m   map[string]struct{}
		key string
	}{{s.hosts, host}, {s.cors, origin}, {s.csrf, origin}} {
		if _, ok := set.m[set.key]; !ok {
			set.m[set.key] = struct{}{}
			added = true
		}
	}
	return added
}

// HostAllowed reports whether host (without port) passes the host allow-list.
func (s *Store) HostAllowed(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for pattern := range s.hosts {
		if matchHost(host, pattern) {
			return true
		}
	}
	return false
}

// CORSOriginAllowed reports whether origin may make cross-origin requests.
func (s *Store) CORSOriginAllowed(origin string) bool {
	origin = normalizeOrigin(origin)
	if origin == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.cors["*"]; ok {
		return true
	}
	_, ok := s.cors[origin]
	return ok
}

// CSRFOriginTrusted reports whether origin is trusted for unsafe requests.
// Entries of the form https://*.example.com match any subdomain.
func (s *Store) CSRFOriginTrusted(origin string) bool {
	origin = normalizeOrigin(origin)
	if origin == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.csrf[origin]; ok {
		return true
	}
	for entry := range s.csrf {
		if matchOriginWildcard(origin, entry) {
			return true
		}
	}
	return false
}

// Snapshot returns sorted copies of every list.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		AllowedHosts:       sortedKeys(s.hosts),
		CORSAllowedOrigins: sortedKeys(s.cors),
		CSRFTrustedOrigins: sortedKeys(s.csrf),
	}
}

// SplitHost strips the port from a Host header value and lower-cases it.
func SplitHost(hostport string) string {
	hostport = strings.TrimSpace(strings.ToLower(hostport))
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.TrimSuffix(host, ".")
	}
	return strings.TrimSuffix(strings.Trim(hostport, "[]"), ".")
}

func matchHost(host, pattern string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasPrefix(pattern, "."):
		return host == pattern[1:] || strings.HasSuffix(host, pattern)
	default:
		return host == pattern
	}
}

func matchOriginWildcard(origin, entry string) bool {
	scheme, rest, ok := strings.Cut(entry, "://*.")
	if !ok {
		return false
	}
	prefix := scheme + "://"
	if !strings.HasPrefix(origin, prefix) {
		return false
	}
	host := strings.TrimPrefix(origin, prefix)
	return host == rest || strings.HasSuffix(host, "."+rest)
}

func normalizeHostEntry(h string) string {
	h = strings.TrimSpace(strings.ToLower(h))
	if h == "*" || strings.HasPrefix(h, ".") {
		return h
	}
	return SplitHost(h)
}

func normalizeOrigin(o string) string {
	o = strings.TrimRight(strings.TrimSpace(strings.ToLower(o)), "/")
	if o == "" || o == "*" {
		return o
	}
	if strings.Contains(o, "://*.") {
		return o
	}
	u, err := url.Parse(o)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
