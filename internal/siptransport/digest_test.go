// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package siptransport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDigestChallenge(t *testing.T) {
	header := `Digest realm="voicecore.test", nonce="abc123", qop="auth,auth-int", algorithm=MD5`
	chal, err := parseDigestChallenge(header)
	require.NoError(t, err)
	assert.Equal(t, "voicecore.test", chal.Realm)
	assert.Equal(t, "abc123", chal.Nonce)
	assert.Equal(t, "auth", chal.QOP)
}

func TestParseDigestChallengeRejectsNonDigest(t *testing.T) {
	_, err := parseDigestChallenge(`Basic realm="x"`)
	assert.Error(t, err)
}

func TestParseDigestChallengeRequiresRealmAndNonce(t *testing.T) {
	_, err := parseDigestChallenge(`Digest opaque="x"`)
	assert.Error(t, err)
}

func TestComputeDigestMatchesRFC2617Formula(t *testing.T) {
	chal := &digestChallenge{Realm: "asterisk", Nonce: "deadbeef"}
	cred := computeDigest(chal, "REGISTER", "sip:10.0.0.1:5060", "alice", "secret")

	ha1 := md5hex("alice:asterisk:secret")
	ha2 := md5hex("REGISTER:sip:10.0.0.1:5060")
	want := md5hex(ha1 + ":deadbeef:" + ha2)

	assert.Equal(t, want, cred.Response)
	assert.Equal(t, "alice", cred.Username)
	assert.Equal(t, "asterisk", cred.Realm)
	assert.Empty(t, cred.QOP)
}

func TestComputeDigestWithQOPIncludesNonceCount(t *testing.T) {
	chal := &digestChallenge{Realm: "trunk", Nonce: "n0nce", QOP: "auth"}
	cred := computeDigest(chal, "INVITE", "sip:trunk.example.com", "bob", "hunter2")

	assert.NotEmpty(t, cred.CNonce)
	assert.Equal(t, "auth", cred.QOP)
	assert.Contains(t, cred.String(), `qop=auth`)
	assert.Contains(t, cred.String(), `nc=00000001`)
}

func TestSplitDirectivesIsQuoteAware(t *testing.T) {
	got := splitDirectives(`realm="a, b", nonce="c"`)
	assert.Equal(t, []string{`realm="a, b"`, ` nonce="c"`}, got)
}

func TestFirstQOPPrefersAuth(t *testing.T) {
	assert.Equal(t, "auth", firstQOP("auth-int,auth"))
	assert.Equal(t, "", firstQOP("auth-int"))
}
