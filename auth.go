// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"
	"encoding/base64"
	"encoding/xml"

	"go.uber.org/zap"

	"loqui.im/xmpp/internal/ns"
	"loqui.im/xmpp/sasl"
	"loqui.im/xmpp/stanza"
)

// saslFeature negotiates authentication. Mechanisms are attempted strongest
// first; a mechanism rejected by the server is never retried, and the next
// eligible one is tried instead until the server's offer is exhausted.
func saslFeature() StreamFeature {
	return StreamFeature{
		Name:       xml.Name{Space: ns.SASL, Local: "mechanisms"},
		Necessary:  Secure,
		Prohibited: Authn,
		Parse: func(el *stanza.Element) (bool, interface{}, error) {
			var offered []string
			for _, child := range el.Children() {
				if child.Name() == "mechanism" {
					offered = append(offered, child.Text())
				}
			}
			// Authentication is always mandatory-to-negotiate.
			return true, offered, nil
		},
		Negotiate: negotiateSASL,
	}
}

func negotiateSASL(ctx context.Context, s *Session, data interface{}) (SessionState, bool, error) {
	offered := s.allowedMechanisms(data.([]string))
	creds := sasl.Credentials{
		Username: s.origin.Localpart(),
		Password: s.config.Password,
		Domain:   s.origin.Domainpart(),
	}

	s.setPhase(Authenticating)

	tried := make(map[string]bool)
	var lastFailure *AuthenticationError
	for {
		var cb *sasl.ChannelBinding
		if typ, bindData := s.tr.ChannelBinding(); typ != "" {
			cb = &sasl.ChannelBinding{Type: typ, Data: bindData}
		}
		mech, err := sasl.Select(offered, tried, creds, cb)
		if err != nil {
			if lastFailure != nil {
				return 0, false, lastFailure
			}
			return 0, false, ErrNoCompatibleMechanism
		}
		tried[mech.Name()] = true
		s.log.Info("attempting auth mechanism", zap.String("mechanism", mech.Name()))

		failure, err := s.runMechanism(ctx, mech)
		if err != nil {
			return 0, false, err
		}
		if failure == nil {
			return Authn, true, nil
		}
		lastFailure = failure
		s.log.Warn("auth mechanism rejected",
			zap.String("mechanism", mech.Name()),
			zap.String("condition", failure.Condition))
	}
}

// runMechanism drives one full exchange. It returns a non-nil
// AuthenticationError when the server rejected the attempt (the caller may
// try another mechanism) and a hard error when the stream itself can no
// longer be trusted.
func (s *Session) runMechanism(ctx context.Context, mech sasl.Mechanism) (*AuthenticationError, error) {
	auth := stanza.New("auth", ns.SASL).SetAttr("mechanism", mech.Name())
	ir, err := mech.InitialResponse()
	if err != nil {
		return nil, err
	}
	if ir != nil {
		auth.SetText(encodeSASL(ir))
	}
	if err := s.writeElement(auth); err != nil {
		return nil, err
	}

	for {
		resp, err := s.readElement(ctx)
		if err != nil {
			return nil, err
		}
		if resp.Namespace() != ns.SASL {
			return nil, &ProtocolError{msg: "unexpected element during auth: " + resp.Name()}
		}
		switch resp.Name() {
		case "challenge":
			challenge, err := decodeSASL(resp.Text())
			if err != nil {
				return nil, s.abortMechanism(ctx, err)
			}
			out, err := mech.ProcessChallenge(challenge)
			if err != nil {
				return nil, s.abortMechanism(ctx, err)
			}
			response := stanza.New("response", ns.SASL)
			if out != nil {
				response.SetText(encodeSASL(out))
			}
			if err := s.writeElement(response); err != nil {
				return nil, err
			}

		case "success":
			data, err := decodeSASL(resp.Text())
			if err != nil {
				return nil, err
			}
			// A forged success must not be accepted even though the
			// server already let us in.
			if err := mech.ValidateSuccess(data); err != nil {
				return nil, err
			}
			return nil, nil

		case "failure":
			return failureError(resp), nil

		default:
			return nil, &ProtocolError{msg: "unexpected sasl element " + resp.Name()}
		}
	}
}

// abortMechanism tells the server the client is giving up mid-exchange and
// consumes the resulting failure before surfacing cause.
func (s *Session) abortMechanism(ctx context.Context, cause error) error {
	if err := s.writeElement(stanza.New("abort", ns.SASL)); err != nil {
		return err
	}
	resp, err := s.readElement(ctx)
	if err != nil {
		return err
	}
	if resp.Name() != "failure" || resp.Namespace() != ns.SASL {
		return &ProtocolError{msg: "unexpected reply to abort: " + resp.Name()}
	}
	return cause
}

// failureError extracts the condition and optional text from a SASL
// <failure/> element.
func failureError(el *stanza.Element) *AuthenticationError {
	cond := "not-authorized"
	for _, child := range el.Children() {
		if child.Name() != "text" {
			cond = child.Name()
			break
		}
	}
	return &AuthenticationError{Condition: cond, Text: el.ChildText("text")}
}

// allowedMechanisms filters the server's offer down to implemented
// mechanisms, further restricted by the configured allowlist if one is set.
func (s *Session) allowedMechanisms(offered []string) []string {
	allowed := make(map[string]bool, len(s.config.Mechanisms))
	for _, m := range s.config.Mechanisms {
		allowed[m] = true
	}
	var out []string
	for _, m := range offered {
		if !sasl.Supported(m) {
			continue
		}
		if len(allowed) > 0 && !allowed[m] {
			continue
		}
		out = append(out, m)
	}
	return out
}

// encodeSASL encodes mechanism output for transmission; empty but present
// data is sent as "=" per RFC 6120 §6.4.2.
func encodeSASL(data []byte) string {
	if len(data) == 0 {
		return "="
	}
	return base64.StdEncoding.EncodeToString(data)
}

// decodeSASL reverses encodeSASL.
func decodeSASL(text string) ([]byte, error) {
	if text == "" || text == "=" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(text)
}
