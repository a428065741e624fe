package invitation

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// tokenBytes is the entropy of an invitation token.
const tokenBytes = 32

// GenerateToken returns a URL-safe token with 256 bits of entropy.
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate invitation token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// SignupURL builds the link sent to invitees. The scheme always follows
// the host: http for local hosts and https for the rest. A scheme given in
// frontendBase is dropped.
func SignupURL(frontendBase, token string) string {
	base := strings.TrimRight(strings.TrimSpace(frontendBase), "/")
	if i := strings.Index(base, "://"); i >= 0 {
		base = base[i+len("://"):]
	}
	scheme := "https"
	if isLocalHost(base) {
		scheme = "http"
	}
	return scheme + "://" + base + "/signup?token=" + url.QueryEscape(token)
}

func isLocalHost(hostport string) bool {
	host := hostport
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(host, "[]"))

	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
