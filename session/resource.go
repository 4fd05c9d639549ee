package session

import (
	"os"
	"strings"
)

// Hostname returns the host part of a resource written as
// \\host\namespace, or "" for a bare namespace.
func Hostname(resource string) string {
	if !strings.HasPrefix(resource, `\\`) {
		return ""
	}
	parts := strings.Split(resource, `\`)
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

// IsLocal reports whether resource designates the local machine: a bare
// namespace or a loopback host name.
func IsLocal(resource string) bool {
	host := Hostname(resource)
	if host == "" {
		return true
	}
	switch strings.ToLower(host) {
	case ".", "localhost", "127.0.0.1", "::1", "[::1]":
		return true
	}
	name, err := os.Hostname()
	return err == nil && strings.EqualFold(name, host)
}
