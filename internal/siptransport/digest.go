// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package siptransport

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// digestChallenge is the parsed content of a WWW-Authenticate/
// Proxy-Authenticate header (RFC 2617 §3.2.1).
type digestChallenge struct {
	Realm  string
	Nonce  string
	Opaque string
	QOP    string
	Algo   string
}

// parseDigestChallenge parses a "Digest realm=\"...\", nonce=\"...\", ..."
// header value into its component directives.
func parseDigestChallenge(header string) (*digestChallenge, error) {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(strings.ToLower(header), "digest") {
		return nil, fmt.Errorf("siptransport: not a Digest challenge: %q", header)
	}
	header = strings.TrimSpace(header[len("digest"):])

	c := &digestChallenge{Algo: "MD5"}
	for _, part := range splitDirectives(header) {
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			continue
		}
		key := strings.TrimSpace(part[:eq])
		val := strings.Trim(strings.TrimSpace(part[eq+1:]), `"`)
		switch strings.ToLower(key) {
		case "realm":
			c.Realm = val
		case "nonce":
			c.Nonce = val
		case "opaque":
			c.Opaque = val
		case "qop":
			// Servers may offer a comma-separated list inside quotes
			// ("auth,auth-int"); this UA only ever claims "auth".
			c.QOP = firstQOP(val)
		case "algorithm":
			c.Algo = val
		}
	}
	if c.Realm == "" || c.Nonce == "" {
		return nil, fmt.Errorf("siptransport: digest challenge missing realm/nonce")
	}
	return c, nil
}

// splitDirectives splits a comma-separated directive list while ignoring
// commas embedded inside quoted values.
func splitDirectives(s string) []string {
	var parts []string
	var cur strings.Builder
	inQuotes := false
	for _, r := range s {
		switch r {
		case '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case ',':
			if inQuotes {
				cur.WriteRune(r)
			} else {
				parts = append(parts, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

func firstQOP(val string) string {
	for _, q := range strings.Split(val, ",") {
		q = strings.TrimSpace(q)
		if q == "auth" {
			return "auth"
		}
	}
	return ""
}

// digestCredentials is a computed Authorization/Proxy-Authorization value.
type digestCredentials struct {
	Username string
	Realm    string
	Nonce    string
	URI      string
	Response string
	Opaque   string
	QOP      string
	NC       string
	CNonce   string
	Algo     string
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// computeDigest implements the RFC 2617 §3.2.2 response formula directly
// against raw header material — HA1 = MD5(user:realm:pass), HA2 =
// MD5(method:uri), response = MD5(HA1:nonce[:nc:cnonce:qop]:HA2).
func computeDigest(chal *digestChallenge, method, uri, username, password string) digestCredentials {
	ha1 := md5hex(fmt.Sprintf("%s:%s:%s", username, chal.Realm, password))
	ha2 := md5hex(fmt.Sprintf("%s:%s", method, uri))

	cred := digestCredentials{
		Username: username,
		Realm:    chal.Realm,
		Nonce:    chal.Nonce,
		URI:      uri,
		Opaque:   chal.Opaque,
		Algo:     chal.Algo,
	}

	if chal.QOP == "auth" {
		cnonce := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
		nc := "00000001"
		cred.QOP = "auth"
		cred.NC = nc
		cred.CNonce = cnonce
		cred.Response = md5hex(strings.Join([]string{ha1, chal.Nonce, nc, cnonce, "auth", ha2}, ":"))
	} else {
		cred.Response = md5hex(fmt.Sprintf("%s:%s:%s", ha1, chal.Nonce, ha2))
	}
	return cred
}

// String renders the credentials as an Authorization header value.
func (c digestCredentials) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
		c.Username, c.Realm, c.Nonce, c.URI, c.Response)
	if c.Algo != "" {
		fmt.Fprintf(&sb, `, algorithm=%s`, c.Algo)
	}
	if c.Opaque != "" {
		fmt.Fprintf(&sb, `, opaque="%s"`, c.Opaque)
	}
	if c.QOP != "" {
		fmt.Fprintf(&sb, `, qop=%s, nc=%s, cnonce="%s"`, c.QOP, c.NC, c.CNonce)
	}
	return sb.String()
}
