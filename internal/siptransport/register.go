// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package siptransport

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
)

const defaultRegisterExpirySeconds = 3600

// RegisterOptions parameterizes one REGISTER attempt against an upstream
// trunk (spec.md §4.6 "REGISTER flow").
type RegisterOptions struct {
	Host          string
	Port          int
	Username      string
	AuthUsername  string // falls back to Username when empty
	Password      string
	ExpirySeconds int // 0 uses defaultRegisterExpirySeconds
}

// Register sends a REGISTER request, retrying once with digest credentials
// on a 401/407 challenge, and returns the server-granted expiry (which may
// be shorter than requested per RFC 3261 §10.2.4). The transaction runs on
// this Transport's shared client, so the REGISTER and any subsequent INVITE
// share the same local ephemeral port — the stable dialog source the
// upstream trunk expects.
func (t *Transport) Register(ctx context.Context, opts RegisterOptions) (int, error) {
	expiry := opts.ExpirySeconds
	if expiry <= 0 {
		expiry = defaultRegisterExpirySeconds
	}

	recipientStr := fmt.Sprintf("sip:%s:%d", opts.Host, opts.Port)
	var recipient sip.Uri
	if err := sip.ParseUri(recipientStr, &recipient); err != nil {
		return 0, fmt.Errorf("siptransport: parsing register recipient: %w", err)
	}

	req := sip.NewRequest(sip.REGISTER, recipient)
	req.SetDestination(fmt.Sprintf("%s:%d", opts.Host, opts.Port))

	aor := fmt.Sprintf("<sip:%s@%s>", opts.Username, opts.Host)
	req.AppendHeader(sip.NewHeader("From", aor))
	req.AppendHeader(sip.NewHeader("To", aor))

	contact := fmt.Sprintf("<sip:%s@%s:%d>", opts.Username, t.publicIP, t.cfg.ListenPort)
	req.AppendHeader(sip.NewHeader("Contact", contact))
	req.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(expiry)))

	tx, err := t.client.TransactionRequest(ctx, req, sipgo.ClientRequestRegisterBuild)
	if err != nil {
		return 0, fmt.Errorf("siptransport: sending register: %w", err)
	}
	resp, err := getResponse(ctx, tx)
	tx.Terminate()
	if err != nil {
		return 0, fmt.Errorf("siptransport: waiting for register response: %w", err)
	}

	if resp.StatusCode == 401 || resp.StatusCode == 407 {
		resp, err = t.retryRegisterWithAuth(ctx, req, resp, opts)
		if err != nil {
			return 0, err
		}
	}

	if resp.StatusCode != 200 {
		return 0, fmt.Errorf("siptransport: register rejected: %d %s", resp.StatusCode, resp.Reason)
	}
	return grantedExpiry(resp, expiry), nil
}

func (t *Transport) retryRegisterWithAuth(ctx context.Context, req *sip.Request, challenge *sip.Response, opts RegisterOptions) (*sip.Response, error) {
	authHeaderName := "WWW-Authenticate"
	authzHeaderName := "Authorization"
	if challenge.StatusCode == 407 {
		authHeaderName = "Proxy-Authenticate"
		authzHeaderName = "Proxy-Authorization"
	}
	wwwAuth := challenge.GetHeader(authHeaderName)
	if wwwAuth == nil {
		return nil, fmt.Errorf("siptransport: %d register response missing %s", challenge.StatusCode, authHeaderName)
	}
	chal, err := parseDigestChallenge(wwwAuth.Value())
	if err != nil {
		return nil, err
	}

	authUser := opts.AuthUsername
	if authUser == "" {
		authUser = opts.Username
	}
	cred := computeDigest(chal, string(req.Method), req.Recipient.String(), authUser, opts.Password)

	authReq := req.Clone()
	authReq.RemoveHeader("Via")
	authReq.AppendHeader(sip.NewHeader(authzHeaderName, cred.String()))

	tx, err := t.client.TransactionRequest(ctx, authReq,
		sipgo.ClientRequestIncreaseCSEQ,
		sipgo.ClientRequestAddVia,
	)
	if err != nil {
		return nil, fmt.Errorf("siptransport: sending authenticated register: %w", err)
	}
	defer tx.Terminate()
	resp, err := getResponse(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("siptransport: waiting for authenticated register response: %w", err)
	}
	return resp, nil
}

// grantedExpiry reads the registrar's granted lifetime off the 200 OK,
// preferring the Contact header's expires parameter over a bare Expires
// header, and falling back to what was requested if neither is present.
func grantedExpiry(resp *sip.Response, requested int) int {
	if contactHdr := resp.GetHeader("Contact"); contactHdr != nil {
		if parsed := parseContactExpires(contactHdr.Value()); parsed > 0 {
			return parsed
		}
	}
	if expiresHdr := resp.GetHeader("Expires"); expiresHdr != nil {
		if parsed, err := strconv.Atoi(strings.TrimSpace(expiresHdr.Value())); err == nil && parsed > 0 {
			return parsed
		}
	}
	return requested
}

// parseContactExpires extracts the "expires" parameter from a Contact
// header value, e.g. `<sip:user@host>;expires=300`.
func parseContactExpires(contactValue string) int {
	for _, part := range strings.Split(contactValue, ";") {
		part = strings.TrimSpace(part)
		if !strings.HasPrefix(strings.ToLower(part), "expires=") {
			continue
		}
		val := part[len("expires="):]
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return n
		}
	}
	return 0
}
