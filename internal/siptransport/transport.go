// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package siptransport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/rapidaai/voicecore/internal/logging"
)

// watchdogTimeout bounds how long a dialog may sit in "initiating"/"trying"
// before the call is abandoned (spec.md §4.6).
const watchdogTimeout = 30 * time.Second

// Config holds the operational (non-credential) settings for one UA
// instance (spec.md §6.4).
type Config struct {
	ListenIP            string
	ListenPort          int
	Transport           string // "udp"
	UserAgent           string
	PublicIPDiscoverURL string
}

// Transport is the outbound SIP user agent for this process: one UA, one
// client, one server, fanning out to per-call Dialogs.
type Transport struct {
	logger logging.Logger
	cfg    Config

	ua     *sipgo.UserAgent
	client *sipgo.Client
	server *sipgo.Server

	publicIP string

	mu      sync.Mutex
	dialogs map[string]*Dialog
}

// NewTransport builds the UA/client/server trio and wires the BYE handler
// that routes in-dialog hangups to the matching Dialog.
func NewTransport(logger logging.Logger, cfg Config) (*Transport, error) {
	ua, err := sipgo.NewUA(sipgo.WithUserAgent(cfg.UserAgent))
	if err != nil {
		return nil, fmt.Errorf("siptransport: create UA: %w", err)
	}
	client, err := sipgo.NewClient(ua,
		sipgo.WithClientHostname(cfg.ListenIP),
		sipgo.WithClientPort(cfg.ListenPort),
	)
	if err != nil {
		return nil, fmt.Errorf("siptransport: create client: %w", err)
	}
	server, err := sipgo.NewServer(ua)
	if err != nil {
		return nil, fmt.Errorf("siptransport: create server: %w", err)
	}

	t := &Transport{
		logger:  logger,
		cfg:     cfg,
		ua:      ua,
		client:  client,
		server:  server,
		dialogs: make(map[string]*Dialog),
	}
	server.OnBye(t.handleBye)
	server.OnInvite(t.handleReinvite)
	return t, nil
}

// ListenAndServe blocks serving inbound SIP (responses to our own requests,
// and in-dialog BYEs from the remote party) until ctx is cancelled.
func (t *Transport) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", t.cfg.ListenIP, t.cfg.ListenPort)
	return t.server.ListenAndServe(ctx, t.cfg.Transport, addr)
}

// DiscoverPublicIP resolves the address this UA advertises in SDP/Contact.
// It first tries the configured HTTPS discovery endpoint (an api.ipify.org
// -style service returning the caller's IP as a plain-text body), falling
// back to inspecting the local address of a throwaway outbound UDP route
// to a public resolver when the HTTP call fails (e.g. no egress to the
// discovery endpoint from this network).
func (t *Transport) DiscoverPublicIP(ctx context.Context) (string, error) {
	if ip, err := t.discoverViaHTTP(ctx); err == nil {
		t.publicIP = ip
		return ip, nil
	}

	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", fmt.Errorf("siptransport: public IP discovery failed: %w", err)
	}
	defer conn.Close()
	localAddr := conn.LocalAddr().(*net.UDPAddr)
	t.publicIP = localAddr.IP.String()
	return t.publicIP, nil
}

func (t *Transport) discoverViaHTTP(ctx context.Context) (string, error) {
	if t.cfg.PublicIPDiscoverURL == "" {
		return "", fmt.Errorf("siptransport: no discovery URL configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.PublicIPDiscoverURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", err
	}
	ip := strings.TrimSpace(string(body))
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("siptransport: discovery endpoint returned non-IP body %q", ip)
	}
	return ip, nil
}

// PublicIP returns the last address resolved by DiscoverPublicIP.
func (t *Transport) PublicIP() string {
	return t.publicIP
}

func (t *Transport) registerDialog(d *Dialog) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dialogs[d.CallID] = d
}

func (t *Transport) unregisterDialog(callID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.dialogs, callID)
}

func (t *Transport) lookupDialog(callID string) (*Dialog, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.dialogs[callID]
	return d, ok
}

// handleBye answers an in-dialog BYE from the remote party and notifies the
// matching Dialog exactly once (spec.md §8 invariant 3: a single ended
// event per call).
func (t *Transport) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	resp := sip.NewResponseFromRequest(req, 200, "OK", nil)
	tx.Respond(resp)

	callIDHdr := req.CallID()
	if callIDHdr == nil {
		return
	}
	dialog, ok := t.lookupDialog(callIDHdr.Value())
	if !ok {
		return
	}

	dialog.mu.Lock()
	alreadyReceived := dialog.byeReceived
	dialog.byeReceived = true
	dialog.hungUp = true
	dialog.mu.Unlock()

	if alreadyReceived {
		return
	}
	t.unregisterDialog(dialog.CallID)
	if dialog.OnHangup != nil {
		dialog.OnHangup("remote_hangup")
	}
}

// handleReinvite answers an in-dialog re-INVITE (a changed 200 OK never
// reaches this UA as a request, so this is the only re-route trigger this
// transport sees) with this UA's unchanged local SDP, then notifies the
// matching Dialog with the new remote media so the caller can re-arm
// symmetric-RTP's lockout (spec.md §4.6 item 3, §9).
func (t *Transport) handleReinvite(req *sip.Request, tx sip.ServerTransaction) {
	callIDHdr := req.CallID()
	if callIDHdr == nil {
		tx.Respond(sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil))
		return
	}
	dialog, ok := t.lookupDialog(callIDHdr.Value())
	if !ok {
		tx.Respond(sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil))
		return
	}

	media, err := ParseSDP(req.Body())
	if err != nil {
		tx.Respond(sip.NewResponseFromRequest(req, 488, "Not Acceptable Here", nil))
		return
	}

	dialog.mu.Lock()
	dialog.RemoteMedia = media
	localPort := dialog.localRTPPort
	dialog.mu.Unlock()

	sdpBody := GenerateSDP(OfferConfig{LocalIP: t.publicIP, RTPPort: localPort})
	resp := sip.NewResponseFromRequest(req, 200, "OK", []byte(sdpBody))
	contentType := sip.ContentTypeHeader("application/sdp")
	resp.AppendHeader(&contentType)
	contentLength := sip.ContentLengthHeader(len(sdpBody))
	resp.AppendHeader(&contentLength)
	tx.Respond(resp)

	if dialog.OnReinvite != nil {
		dialog.OnReinvite(media)
	}
}

// getResponse waits for the first response on a client transaction,
// respecting ctx cancellation and transaction termination.
func getResponse(ctx context.Context, tx sip.ClientTransaction) (*sip.Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-tx.Done():
		return nil, fmt.Errorf("siptransport: transaction terminated: %w", tx.Err())
	case res := <-tx.Responses():
		return res, nil
	}
}
