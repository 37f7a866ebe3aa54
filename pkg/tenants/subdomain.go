package tenants

import (
	"net"
	"strings"
)

// DefaultReservedSubdomains are labels that never resolve to a tenant
var DefaultReservedSubdomains = []string{
	"www", "api", "app", "admin", "auth", "static",
	"cdn", "mail", "status", "docs", "dashboard", "localhost",
}

// SubdomainFrom extracts the tenant label from a Host header value.
//
// With a base domain the host must be exactly one label followed by the base
// domain ("acme.example.com" for "example.com"). Without one, the first label
// of a host with at least three labels is used. The port is ignored and the
// result is lower-cased. It returns false when the host carries no label.
func SubdomainFrom(host, baseDomain string) (string, bool) {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" || net.ParseIP(host) != nil {
		return "", false
	}

	baseDomain = strings.Trim(strings.ToLower(strings.TrimSpace(baseDomain)), ".")
	if baseDomain != "" {
		label, ok := strings.CutSuffix(host, "."+baseDomain)
		if !ok || label == "" || strings.Contains(label, ".") {
			return "", false
		}
		return label, true
	}

	labels := strings.Split(host, ".")
	if len(labels) < 3 || labels[0] == "" {
		return "", false
	}
	return labels[0], true
}

func reservedSet(labels []string) map[string]struct{} {
	if labels == nil {
		labels = DefaultReservedSubdomains
	}
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		l = strings.ToLower(strings.TrimSpace(l))
		if l != "" {
			set[l] = struct{}{}
		}
	}
	return set
}
