// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tenant

import (
	"net"
	"strings"
)

// NormalizeSlug lowercases s and reduces it to [a-z0-9-] with single dashes.
func NormalizeSlug(s string) (string, error) {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case r == '-' || r == '_' || r == ' ' || r == '.':
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := strings.TrimRight(b.String(), "-")
	if slug == "" || len(slug) > 63 {
		return "", ErrInvalidSlug
	}
	return slug, nil
}

// NormalizeHost lowercases a Host header value and strips any port and
// trailing dot. IPv6 literals lose their brackets.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
	return strings.TrimSuffix(strings.ToLower(host), ".")
}

// NormalizeDomain validates and normalizes a domain registered to a tenant.
func NormalizeDomain(domain string) (string, error) {
	d := NormalizeHost(domain)
	if d == "" || len(d) > 253 || strings.ContainsAny(d, " /\\@") {
		return "", ErrInvalidDomain
	}
	for _, label := range strings.Split(d, ".") {
		if label == "" || len(label) > 63 {
			return "", ErrInvalidDomain
		}
	}
	return d, nil
}
