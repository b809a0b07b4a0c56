// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package siptransport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/rapidaai/voicecore/internal/logging"
)

// DialOptions parameterizes one outbound call leg.
type DialOptions struct {
	FromUser     string
	ToUser       string
	ToHost       string
	ToPort       int
	LocalRTPPort int
	AuthUsername string // falls back to FromUser when empty
	Password     string
}

// Dialog is one outbound call leg: the INVITE transaction, its negotiated
// media, and the hooks the media bridge uses to react to lifecycle events.
type Dialog struct {
	CallID string

	logger    logging.Logger
	transport *Transport
	client    *sipgo.Client

	inviteReq    *sip.Request
	fromTag      string
	toTag        string
	cseq         uint32
	localRTPPort int

	remoteAddr string

	mu              sync.Mutex
	authSent        map[string]bool // keyed by method family: "INVITE", "REGISTER"
	byeReceived     bool
	hungUp          bool
	RemoteMedia     *RemoteMedia
	NegotiatedCodec Codec

	// OnRinging fires on a 180/183 provisional response.
	OnRinging func()
	// OnAnswered fires once, on the 200 OK that completes the INVITE.
	OnAnswered func(media *RemoteMedia, codec Codec)
	// OnReinvite fires each time the remote party sends an in-dialog
	// re-INVITE carrying new SDP (spec.md §4.6 item 3), after this UA has
	// already answered it with its own unchanged local media description.
	OnReinvite func(media *RemoteMedia)
	// OnHangup fires once, when the remote party ends the call with a BYE;
	// a local Hangup does not invoke it.
	OnHangup func(reason string)
}

// Dial places an outbound INVITE, handling one round of digest challenge
// (spec.md §4.6), and blocks until the call is answered or definitively
// fails. A 30-second watchdog bounds the whole attempt.
func (t *Transport) Dial(ctx context.Context, opts DialOptions) (*Dialog, error) {
	ctx, cancel := context.WithTimeout(ctx, watchdogTimeout)
	defer cancel()

	callID := uuid.NewString()
	remoteAddr := fmt.Sprintf("%s:%d", opts.ToHost, opts.ToPort)

	toURI := sip.Uri{User: opts.ToUser, Host: opts.ToHost, Port: opts.ToPort}
	fromURI := sip.Uri{User: opts.FromUser, Host: t.publicIP, Port: t.cfg.ListenPort}

	req := sip.NewRequest(sip.INVITE, toURI)
	req.SetDestination(remoteAddr)

	fromTag := sip.GenerateTagN(8)
	from := sip.FromHeader{Address: sip.Address{Uri: fromURI}, Params: sip.NewParams()}
	from.Params.Add("tag", fromTag)
	req.AppendHeader(&from)

	to := sip.ToHeader{Address: sip.Address{Uri: toURI}}
	req.AppendHeader(&to)

	contact := sip.ContactHeader{Address: sip.Address{Uri: fromURI}}
	req.AppendHeader(&contact)

	callIDHeader := sip.CallIDHeader(callID)
	req.AppendHeader(&callIDHeader)

	req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE})
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	sdpBody := GenerateSDP(OfferConfig{LocalIP: t.publicIP, RTPPort: opts.LocalRTPPort})
	req.SetBody([]byte(sdpBody))
	contentType := sip.ContentTypeHeader("application/sdp")
	req.AppendHeader(&contentType)
	contentLength := sip.ContentLengthHeader(len(sdpBody))
	req.AppendHeader(&contentLength)

	dialog := &Dialog{
		CallID:       callID,
		logger:       t.logger.With("callId", callID),
		transport:    t,
		client:       t.client,
		inviteReq:    req,
		fromTag:      fromTag,
		cseq:         1,
		localRTPPort: opts.LocalRTPPort,
		remoteAddr:   remoteAddr,
		authSent:     make(map[string]bool),
	}

	resp, err := dialog.sendAndWaitFinal(ctx, req, opts.AuthUsername, opts.Password)
	if err != nil {
		return nil, fmt.Errorf("siptransport: dial failed: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("siptransport: call setup rejected: %d %s", resp.StatusCode, resp.Reason)
	}

	media, err := ParseSDP(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("siptransport: parsing answer SDP: %w", err)
	}
	codec := NegotiateCodec(media.PayloadTypes)

	if toHdr := resp.To(); toHdr != nil {
		if tag, ok := toHdr.Params.Get("tag"); ok {
			dialog.toTag = tag
		}
	}

	ack := sip.NewAckRequest(req, resp, nil)
	if err := t.client.WriteRequest(ack); err != nil {
		dialog.logger.Warn("siptransport: failed to send ACK", "error", err)
	}

	dialog.mu.Lock()
	dialog.RemoteMedia = media
	dialog.NegotiatedCodec = codec
	dialog.mu.Unlock()

	t.registerDialog(dialog)

	if dialog.OnAnswered != nil {
		dialog.OnAnswered(media, codec)
	}
	return dialog, nil
}

// sendAndWaitFinal sends req and, for each provisional/challenge response,
// handles it (ringing callback, one digest retry) until a final response
// (>=200) arrives or the watchdog context expires.
func (d *Dialog) sendAndWaitFinal(ctx context.Context, req *sip.Request, authUser, password string) (*sip.Response, error) {
	tx, err := d.client.TransactionRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("sending %s: %w", req.Method, err)
	}
	defer tx.Terminate()

	for {
		resp, err := getResponse(ctx, tx)
		if err != nil {
			return nil, err
		}

		switch {
		case resp.StatusCode == 100:
			continue
		case resp.StatusCode == 180 || resp.StatusCode == 183:
			if d.OnRinging != nil {
				d.OnRinging()
			}
			continue
		case resp.StatusCode == 401 || resp.StatusCode == 407:
			family := string(req.Method)
			if d.authSent[family] {
				return resp, nil // already retried once for this method family; treat as final
			}
			d.authSent[family] = true

			retryTx, retryErr := d.retryWithAuth(ctx, req, resp, authUser, password)
			if retryErr != nil {
				return nil, retryErr
			}
			tx.Terminate()
			tx = retryTx
			continue
		default:
			return resp, nil
		}
	}
}

func (d *Dialog) retryWithAuth(ctx context.Context, req *sip.Request, challengeResp *sip.Response, authUser, password string) (sip.ClientTransaction, error) {
	authHeaderName := "WWW-Authenticate"
	authzHeaderName := "Authorization"
	if challengeResp.StatusCode == 407 {
		authHeaderName = "Proxy-Authenticate"
		authzHeaderName = "Proxy-Authorization"
	}

	wwwAuth := challengeResp.GetHeader(authHeaderName)
	if wwwAuth == nil {
		return nil, fmt.Errorf("siptransport: %d response missing %s", challengeResp.StatusCode, authHeaderName)
	}
	chal, err := parseDigestChallenge(wwwAuth.Value())
	if err != nil {
		return nil, err
	}

	if authUser == "" {
		authUser = req.From().Address.User
	}
	cred := computeDigest(chal, string(req.Method), req.Recipient.String(), authUser, password)

	authReq := req.Clone()
	authReq.RemoveHeader("Via")
	authReq.AppendHeader(sip.NewHeader(authzHeaderName, cred.String()))

	tx, err := d.client.TransactionRequest(ctx, authReq,
		sipgo.ClientRequestIncreaseCSEQ,
		sipgo.ClientRequestAddVia,
	)
	if err != nil {
		return nil, fmt.Errorf("siptransport: sending authenticated %s: %w", req.Method, err)
	}
	return tx, nil
}

// Hangup sends a BYE for this dialog. Per spec.md §9's supplemented
// decision, a challenge on BYE is logged and treated as final — this UA
// never retries a non-INVITE auth challenge mid-teardown.
func (d *Dialog) Hangup(ctx context.Context) error {
	d.mu.Lock()
	if d.hungUp {
		d.mu.Unlock()
		return nil
	}
	d.hungUp = true
	d.mu.Unlock()
	d.transport.unregisterDialog(d.CallID)

	toURI := d.inviteReq.Recipient
	bye := sip.NewRequest(sip.BYE, toURI)
	bye.SetDestination(d.remoteAddr)

	from := sip.FromHeader{Address: d.inviteReq.From().Address, Params: sip.NewParams()}
	from.Params.Add("tag", d.fromTag)
	bye.AppendHeader(&from)

	to := sip.ToHeader{Address: sip.Address{Uri: toURI}, Params: sip.NewParams()}
	if d.toTag != "" {
		to.Params.Add("tag", d.toTag)
	}
	bye.AppendHeader(&to)

	callIDHeader := sip.CallIDHeader(d.CallID)
	bye.AppendHeader(&callIDHeader)

	d.cseq++
	bye.AppendHeader(&sip.CSeqHeader{SeqNo: d.cseq, MethodName: sip.BYE})
	maxFwd := sip.MaxForwardsHeader(70)
	bye.AppendHeader(&maxFwd)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := d.client.TransactionRequest(ctx, bye)
	if err != nil {
		return fmt.Errorf("siptransport: sending BYE: %w", err)
	}
	defer tx.Terminate()

	resp, err := getResponse(ctx, tx)
	if err != nil {
		return fmt.Errorf("siptransport: waiting for BYE response: %w", err)
	}
	if resp.StatusCode == 401 || resp.StatusCode == 407 {
		d.logger.Warn("siptransport: BYE challenged, not retrying", "status", resp.StatusCode)
	}
	return nil
}
